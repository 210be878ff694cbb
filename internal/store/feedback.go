package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// likeEscaper makes a search term match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// now is swapped in tests that care about timestamps.
var now = time.Now

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

const feedbackColumns = `
	id, type, email, description, status, priority, tags, is_read,
	external_source, external_id, external_url, external_updated_at,
	app_version, os_version, display_count,
	screenshot_key, CASE WHEN screenshot_key IS NOT NULL OR screenshot_data IS NOT NULL THEN 1 ELSE 0 END,
	performance_json, process_json, accessibility_json, displays_json, settings_json,
	crash_reports_json, recent_logs_json, recent_errors_json, database_stats_json,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (Feedback, error) {
	var (
		item                                       Feedback
		email, externalID, externalURL, externalAt sql.NullString
		appVersion, osVersion, screenshotKey       sql.NullString
		perf, proc, access, displays, settings     sql.NullString
		crashes, logs, errs, dbStats               sql.NullString
		tags, createdAt, updatedAt                 string
		isRead, hasScreenshot                      int
	)
	err := row.Scan(
		&item.ID, &item.Type, &email, &item.Description, &item.Status, &item.Priority, &tags, &isRead,
		&item.ExternalSource, &externalID, &externalURL, &externalAt,
		&appVersion, &osVersion, &item.DisplayCount,
		&screenshotKey, &hasScreenshot,
		&perf, &proc, &access, &displays, &settings,
		&crashes, &logs, &errs, &dbStats,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Feedback{}, err
	}
	item.Email = email.String
	item.Tags = decodeTags(tags)
	item.IsRead = isRead != 0
	item.ExternalID = externalID.String
	item.ExternalURL = externalURL.String
	item.ExternalUpdatedAt = externalAt.String
	item.AppVersion = appVersion.String
	item.OSVersion = osVersion.String
	item.ScreenshotKey = screenshotKey.String
	item.HasScreenshot = hasScreenshot != 0
	item.Legacy = LegacyDiagnostics{
		Performance:   perf.String,
		Process:       proc.String,
		Accessibility: access.String,
		Displays:      displays.String,
		Settings:      settings.String,
		CrashReports:  crashes.String,
		RecentLogs:    logs.String,
		RecentErrors:  errs.String,
		DatabaseStats: dbStats.String,
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return item, nil
}

func (s *SQLStore) InsertFeedback(ctx context.Context, item Feedback) (int64, error) {
	stamp := formatTime(now())
	if item.Status == "" {
		item.Status = "open"
	}
	if item.Priority == "" {
		item.Priority = "medium"
	}
	if item.ExternalSource == "" {
		item.ExternalSource = "app"
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO feedback (
			type, email, description, status, priority, tags, is_read,
			external_source, external_id, external_url, external_updated_at,
			app_version, os_version, display_count, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		item.Type, nilIfEmpty(item.Email), item.Description, item.Status, item.Priority, encodeTags(item.Tags), boolInt(item.IsRead),
		item.ExternalSource, nilIfEmpty(item.ExternalID), nilIfEmpty(item.ExternalURL), nilIfEmpty(item.ExternalUpdatedAt),
		nilIfEmpty(item.AppVersion), nilIfEmpty(item.OSVersion), item.DisplayCount, stamp, stamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return id, nil
}

func (s *SQLStore) GetFeedback(ctx context.Context, id int64) (Feedback, error) {
	row := s.queryRow(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE id=?`, id)
	item, err := scanFeedback(row)
	if err != nil {
		return Feedback{}, err
	}
	return item, nil
}

func (s *SQLStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []Feedback{}, 0, nil
		}
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	} else if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
		where = append(where, `(LOWER(description) LIKE ? ESCAPE '\' OR LOWER(COALESCE(email, '')) LIKE ? ESCAPE '\' OR LOWER(tags) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM feedback`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	pageArgs := append(append([]any{}, args...), limit, max(filter.Offset, 0))
	rows, err := s.query(ctx, `SELECT `+feedbackColumns+` FROM feedback`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]Feedback, 0)
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, total, nil
}

// UpdateFeedbackAdmin applies dashboard edits. An update that only touches
// is_read keeps updated_at so the board ordering does not shift.
func (s *SQLStore) UpdateFeedbackAdmin(ctx context.Context, id int64, update AdminUpdate) (bool, error) {
	var (
		sets []string
		args []any
	)
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, encodeTags(*update.Tags))
	}
	bumps := len(sets) > 0
	if update.IsRead != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, boolInt(*update.IsRead))
	}
	if len(sets) == 0 {
		return s.feedbackExists(ctx, id)
	}
	if bumps {
		sets = append(sets, "updated_at = ?")
		args = append(args, formatTime(now()))
	}
	args = append(args, id)

	result, err := s.exec(ctx, `UPDATE feedback SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update feedback rows: %w", err)
	}
	return affected > 0, nil
}

// TouchFeedback bumps updated_at, used when a note is added.
func (s *SQLStore) TouchFeedback(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `UPDATE feedback SET updated_at = ? WHERE id = ?`, formatTime(now()), id); err != nil {
		return fmt.Errorf("touch feedback: %w", err)
	}
	return nil
}

func (s *SQLStore) feedbackExists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM feedback WHERE id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("check feedback: %w", err)
	}
	return count > 0, nil
}

var feedbackChildTables = []string{
	"feedback_notes",
	"feedback_performance",
	"feedback_process",
	"feedback_accessibility",
	"feedback_displays",
	"feedback_settings",
	"feedback_crash_reports",
	"feedback_log_entries",
}

// DeleteFeedback removes the row and everything hanging off it. Children are
// deleted explicitly because remote libsql does not enforce foreign keys.
func (s *SQLStore) DeleteFeedback(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete feedback: %w", err)
	}
	for _, table := range feedbackChildTables {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM `+table+` WHERE feedback_id = ?`), id); err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("delete %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM feedback WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete feedback rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete feedback: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) FeedbackStats(ctx context.Context) (FeedbackStats, error) {
	stats := FeedbackStats{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		ByPriority: map[string]int{},
	}
	if err := s.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0) FROM feedback`).Scan(&stats.Total, &stats.Unread); err != nil {
		return FeedbackStats{}, fmt.Errorf("feedback totals: %w", err)
	}
	groups := []struct {
		column string
		target map[string]int
	}{
		{"status", stats.ByStatus},
		{"type", stats.ByType},
		{"priority", stats.ByPriority},
	}
	for _, group := range groups {
		buckets, err := s.countBy(ctx, `SELECT `+group.column+`, COUNT(*) FROM feedback GROUP BY `+group.column)
		if err != nil {
			return FeedbackStats{}, err
		}
		for _, bucket := range buckets {
			group.target[bucket.Key] = bucket.Count
		}
	}
	return stats, nil
}

func (s *SQLStore) countBy(ctx context.Context, query string, args ...any) ([]CountBucket, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()
	buckets := make([]CountBucket, 0)
	for rows.Next() {
		var bucket CountBucket
		var key sql.NullString
		if err := rows.Scan(&key, &bucket.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		bucket.Key = key.String
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return buckets, nil
}

// ListExternalFeedback returns every row imported from source that carries an
// external id, the reconciliation key set.
func (s *SQLStore) ListExternalFeedback(ctx context.Context, source string) ([]Feedback, error) {
	rows, err := s.query(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE external_source = ? AND external_id IS NOT NULL ORDER BY id`, source)
	if err != nil {
		return nil, fmt.Errorf("list external feedback: %w", err)
	}
	defer rows.Close()
	items := make([]Feedback, 0)
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external feedback: %w", err)
	}
	return items, nil
}

func (s *SQLStore) ApplySyncUpdate(ctx context.Context, id int64, update SyncUpdate) error {
	_, err := s.exec(ctx, `
		UPDATE feedback
		SET type = ?, description = ?, priority = ?, tags = ?, status = ?,
			external_url = ?, external_updated_at = ?, updated_at = ?
		WHERE id = ?
	`, update.Type, update.Description, update.Priority, encodeTags(update.Tags), update.Status,
		nilIfEmpty(update.ExternalURL), nilIfEmpty(update.ExternalUpdatedAt), formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("apply sync update: %w", err)
	}
	return nil
}

func (s *SQLStore) SetFeedbackStatus(ctx context.Context, id int64, status string) error {
	if _, err := s.exec(ctx, `UPDATE feedback SET status = ?, updated_at = ? WHERE id = ?`, status, formatTime(now()), id); err != nil {
		return fmt.Errorf("set feedback status: %w", err)
	}
	return nil
}

// ListLegacyDiagnosticsFeedback returns rows that still carry any legacy
// diagnostics blob.
func (s *SQLStore) ListLegacyDiagnosticsFeedback(ctx context.Context) ([]Feedback, error) {
	rows, err := s.query(ctx, `
		SELECT `+feedbackColumns+`
		FROM feedback
		WHERE performance_json IS NOT NULL OR process_json IS NOT NULL OR accessibility_json IS NOT NULL
			OR displays_json IS NOT NULL OR settings_json IS NOT NULL OR crash_reports_json IS NOT NULL
			OR recent_logs_json IS NOT NULL OR recent_errors_json IS NOT NULL OR database_stats_json IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list legacy feedback: %w", err)
	}
	defer rows.Close()
	items := make([]Feedback, 0)
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan legacy feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy feedback: %w", err)
	}
	return items, nil
}

// SetLegacyDiagnostics writes the old blob columns. Only imports of
// pre-migration exports and tests use it.
func (s *SQLStore) SetLegacyDiagnostics(ctx context.Context, id int64, legacy LegacyDiagnostics) error {
	_, err := s.exec(ctx, `
		UPDATE feedback
		SET performance_json = ?, process_json = ?, accessibility_json = ?, displays_json = ?,
			settings_json = ?, crash_reports_json = ?, recent_logs_json = ?, recent_errors_json = ?,
			database_stats_json = ?
		WHERE id = ?
	`, nilIfEmpty(legacy.Performance), nilIfEmpty(legacy.Process), nilIfEmpty(legacy.Accessibility), nilIfEmpty(legacy.Displays),
		nilIfEmpty(legacy.Settings), nilIfEmpty(legacy.CrashReports), nilIfEmpty(legacy.RecentLogs), nilIfEmpty(legacy.RecentErrors),
		nilIfEmpty(legacy.DatabaseStats), id)
	if err != nil {
		return fmt.Errorf("set legacy diagnostics: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateDisplayCount(ctx context.Context, id int64, count int) error {
	if _, err := s.exec(ctx, `UPDATE feedback SET display_count = ? WHERE id = ?`, count, id); err != nil {
		return fmt.Errorf("update display count: %w", err)
	}
	return nil
}

func (s *SQLStore) GetDisplayCount(ctx context.Context, id int64) (int, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT display_count FROM feedback WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateVersionSummary copies the process versions onto the feedback row so
// list views do not need the diagnostics tables.
func (s *SQLStore) UpdateVersionSummary(ctx context.Context, id int64, appVersion, osVersion string) error {
	if _, err := s.exec(ctx, `UPDATE feedback SET app_version = ?, os_version = ? WHERE id = ?`, nilIfEmpty(appVersion), nilIfEmpty(osVersion), id); err != nil {
		return fmt.Errorf("update version summary: %w", err)
	}
	return nil
}

func (s *SQLStore) SetScreenshot(ctx context.Context, id int64, shot Screenshot) error {
	if _, err := s.exec(ctx, `UPDATE feedback SET screenshot_key = ?, screenshot_data = ? WHERE id = ?`, nilIfEmpty(shot.Key), nilIfEmpty(shot.Data), id); err != nil {
		return fmt.Errorf("set screenshot: %w", err)
	}
	return nil
}

func (s *SQLStore) GetScreenshot(ctx context.Context, id int64) (Screenshot, error) {
	var key, data sql.NullString
	if err := s.queryRow(ctx, `SELECT screenshot_key, screenshot_data FROM feedback WHERE id = ?`, id).Scan(&key, &data); err != nil {
		return Screenshot{}, err
	}
	if !key.Valid && !data.Valid {
		return Screenshot{}, sql.ErrNoRows
	}
	return Screenshot{Key: key.String, Data: data.String}, nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeTags(raw string) []string {
	tags := []string{}
	if strings.TrimSpace(raw) == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err came from a unique constraint. The
// three drivers share no error type, so this matches on their messages.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
