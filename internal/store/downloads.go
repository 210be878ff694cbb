package store

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLStore) InsertDownload(ctx context.Context, download Download) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO downloads (source, version, platform, ip, user_agent, referrer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, download.Source, download.Version, download.Platform, download.IP, download.UserAgent, download.Referrer, formatTime(now())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	return id, nil
}

// DownloadStats aggregates downloads created in the last days days, plus the
// all-time total and the most recent events.
func (s *SQLStore) DownloadStats(ctx context.Context, days int) (DownloadStats, error) {
	if days <= 0 {
		days = 30
	}
	since := formatTime(now().Add(-time.Duration(days) * 24 * time.Hour))
	stats := DownloadStats{Days: days}

	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&stats.Total); err != nil {
		return DownloadStats{}, fmt.Errorf("count downloads: %w", err)
	}
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM downloads WHERE created_at >= ?`, since).Scan(&stats.Window); err != nil {
		return DownloadStats{}, fmt.Errorf("count window downloads: %w", err)
	}

	var err error
	if stats.BySource, err = s.countBy(ctx, `
		SELECT source, COUNT(*) AS total FROM downloads
		WHERE created_at >= ? GROUP BY source ORDER BY total DESC, source
	`, since); err != nil {
		return DownloadStats{}, err
	}
	if stats.ByVersion, err = s.countBy(ctx, `
		SELECT version, COUNT(*) AS total FROM downloads
		WHERE created_at >= ? GROUP BY version ORDER BY total DESC, version
	`, since); err != nil {
		return DownloadStats{}, err
	}
	if stats.ByDay, err = s.countBy(ctx, `
		SELECT SUBSTR(created_at, 1, 10) AS day, COUNT(*) FROM downloads
		WHERE created_at >= ? GROUP BY SUBSTR(created_at, 1, 10) ORDER BY day
	`, since); err != nil {
		return DownloadStats{}, err
	}

	rows, err := s.query(ctx, `
		SELECT id, source, version, platform, user_agent, referrer, created_at
		FROM downloads ORDER BY created_at DESC, id DESC LIMIT 20
	`)
	if err != nil {
		return DownloadStats{}, fmt.Errorf("recent downloads: %w", err)
	}
	defer rows.Close()
	stats.Recent = make([]Download, 0)
	for rows.Next() {
		var item Download
		var createdAt string
		if err := rows.Scan(&item.ID, &item.Source, &item.Version, &item.Platform, &item.UserAgent, &item.Referrer, &createdAt); err != nil {
			return DownloadStats{}, fmt.Errorf("scan download: %w", err)
		}
		item.CreatedAt = parseTime(createdAt)
		stats.Recent = append(stats.Recent, item)
	}
	if err := rows.Err(); err != nil {
		return DownloadStats{}, fmt.Errorf("iterate downloads: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) CountDownloads(ctx context.Context) (int, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count downloads: %w", err)
	}
	return count, nil
}
