package store

import (
	"context"
	"fmt"
	"sort"
)

// diagnosticsBatchSize bounds the IN list for remote libsql, which rejects
// statements with too many bound parameters.
const diagnosticsBatchSize = 200

func (s *SQLStore) UpsertPerformance(ctx context.Context, feedbackID int64, perf Performance, stats DatabaseStats) error {
	_, err := s.exec(ctx, `
		INSERT INTO feedback_performance (
			feedback_id, cpu_usage_percent, memory_used_mb, memory_total_mb, disk_free_gb,
			thermal_state, battery_level, is_on_battery, is_low_power_mode,
			session_count, recording_count, database_size_mb, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feedback_id) DO UPDATE SET
			cpu_usage_percent = excluded.cpu_usage_percent,
			memory_used_mb = excluded.memory_used_mb,
			memory_total_mb = excluded.memory_total_mb,
			disk_free_gb = excluded.disk_free_gb,
			thermal_state = excluded.thermal_state,
			battery_level = excluded.battery_level,
			is_on_battery = excluded.is_on_battery,
			is_low_power_mode = excluded.is_low_power_mode,
			session_count = excluded.session_count,
			recording_count = excluded.recording_count,
			database_size_mb = excluded.database_size_mb,
			updated_at = excluded.updated_at
	`,
		feedbackID, perf.CPUUsagePercent, perf.MemoryUsedMB, perf.MemoryTotalMB, perf.DiskFreeGB,
		perf.ThermalState, perf.BatteryLevel, boolInt(perf.IsOnBattery), boolInt(perf.IsLowPowerMode),
		stats.SessionCount, stats.RecordingCount, stats.DatabaseSizeMB, formatTime(now()),
	)
	if err != nil {
		return fmt.Errorf("upsert performance: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertProcess(ctx context.Context, feedbackID int64, proc Process) error {
	_, err := s.exec(ctx, `
		INSERT INTO feedback_process (
			feedback_id, app_version, build_number, os_version, architecture, pid,
			uptime_seconds, thread_count, memory_footprint_mb, is_sandboxed, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feedback_id) DO UPDATE SET
			app_version = excluded.app_version,
			build_number = excluded.build_number,
			os_version = excluded.os_version,
			architecture = excluded.architecture,
			pid = excluded.pid,
			uptime_seconds = excluded.uptime_seconds,
			thread_count = excluded.thread_count,
			memory_footprint_mb = excluded.memory_footprint_mb,
			is_sandboxed = excluded.is_sandboxed,
			updated_at = excluded.updated_at
	`,
		feedbackID, proc.AppVersion, proc.BuildNumber, proc.OSVersion, proc.Architecture, proc.PID,
		proc.UptimeSeconds, proc.ThreadCount, proc.MemoryFootprintMB, boolInt(proc.IsSandboxed), formatTime(now()),
	)
	if err != nil {
		return fmt.Errorf("upsert process: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertAccessibility(ctx context.Context, feedbackID int64, access Accessibility) error {
	_, err := s.exec(ctx, `
		INSERT INTO feedback_accessibility (
			feedback_id, screen_recording_granted, accessibility_granted, microphone_granted,
			camera_granted, voice_over_enabled, reduce_motion_enabled, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feedback_id) DO UPDATE SET
			screen_recording_granted = excluded.screen_recording_granted,
			accessibility_granted = excluded.accessibility_granted,
			microphone_granted = excluded.microphone_granted,
			camera_granted = excluded.camera_granted,
			voice_over_enabled = excluded.voice_over_enabled,
			reduce_motion_enabled = excluded.reduce_motion_enabled,
			updated_at = excluded.updated_at
	`,
		feedbackID, boolInt(access.ScreenRecordingGranted), boolInt(access.AccessibilityGranted), boolInt(access.MicrophoneGranted),
		boolInt(access.CameraGranted), boolInt(access.VoiceOverEnabled), boolInt(access.ReduceMotionEnabled), formatTime(now()),
	)
	if err != nil {
		return fmt.Errorf("upsert accessibility: %w", err)
	}
	return nil
}

// ReplaceDisplays makes the stored displays exactly match displays.
func (s *SQLStore) ReplaceDisplays(ctx context.Context, feedbackID int64, displays []Display) error {
	if _, err := s.exec(ctx, `DELETE FROM feedback_displays WHERE feedback_id = ?`, feedbackID); err != nil {
		return fmt.Errorf("clear displays: %w", err)
	}
	for i, display := range displays {
		_, err := s.exec(ctx, `
			INSERT INTO feedback_displays (feedback_id, position, name, width, height, scale_factor, refresh_rate, is_main, is_builtin)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, feedbackID, i, display.Name, display.Width, display.Height, display.ScaleFactor, display.RefreshRate,
			boolInt(display.IsMain), boolInt(display.IsBuiltIn))
		if err != nil {
			return fmt.Errorf("insert display %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLStore) ReplaceSettings(ctx context.Context, feedbackID int64, settings map[string]string) error {
	if _, err := s.exec(ctx, `DELETE FROM feedback_settings WHERE feedback_id = ?`, feedbackID); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := s.exec(ctx, `INSERT INTO feedback_settings (feedback_id, key, value) VALUES (?, ?, ?)`, feedbackID, key, settings[key]); err != nil {
			return fmt.Errorf("insert setting %s: %w", key, err)
		}
	}
	return nil
}

func (s *SQLStore) ReplaceCrashReports(ctx context.Context, feedbackID int64, reports []CrashReport) error {
	if _, err := s.exec(ctx, `DELETE FROM feedback_crash_reports WHERE feedback_id = ?`, feedbackID); err != nil {
		return fmt.Errorf("clear crash reports: %w", err)
	}
	for i, report := range reports {
		_, err := s.exec(ctx, `
			INSERT INTO feedback_crash_reports (feedback_id, position, file_name, occurred_at, exception_type, excerpt)
			VALUES (?, ?, ?, ?, ?, ?)
		`, feedbackID, i, report.FileName, report.OccurredAt, report.ExceptionType, report.Excerpt)
		if err != nil {
			return fmt.Errorf("insert crash report %d: %w", i, err)
		}
	}
	return nil
}

// ReplaceLogEntries replaces both recent logs and recent errors; the two
// lists share one table keyed by kind.
func (s *SQLStore) ReplaceLogEntries(ctx context.Context, feedbackID int64, logs, errs []LogEntry) error {
	if _, err := s.exec(ctx, `DELETE FROM feedback_log_entries WHERE feedback_id = ?`, feedbackID); err != nil {
		return fmt.Errorf("clear log entries: %w", err)
	}
	insert := func(kind string, entries []LogEntry) error {
		for i, entry := range entries {
			_, err := s.exec(ctx, `
				INSERT INTO feedback_log_entries (feedback_id, kind, position, occurred_at, level, category, message)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, feedbackID, kind, i, entry.OccurredAt, entry.Level, entry.Category, entry.Message)
			if err != nil {
				return fmt.Errorf("insert %s entry %d: %w", kind, i, err)
			}
		}
		return nil
	}
	if err := insert(LogKindLog, logs); err != nil {
		return err
	}
	return insert(LogKindError, errs)
}

// LoadDiagnostics batch-loads every normalized table for ids. Ids with no
// rows anywhere are still present in the result with empty DiagnosticsRows.
func (s *SQLStore) LoadDiagnostics(ctx context.Context, ids []int64) (map[int64]*DiagnosticsRows, error) {
	out := make(map[int64]*DiagnosticsRows, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		out[id] = &DiagnosticsRows{}
		unique = append(unique, id)
	}

	for start := 0; start < len(unique); start += diagnosticsBatchSize {
		end := min(start+diagnosticsBatchSize, len(unique))
		batch := unique[start:end]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		in := "(" + placeholders(len(batch)) + ")"

		loaders := []func(context.Context, string, []any, map[int64]*DiagnosticsRows) error{
			s.loadPerformance,
			s.loadProcess,
			s.loadAccessibility,
			s.loadDisplays,
			s.loadSettings,
			s.loadCrashReports,
			s.loadLogEntries,
		}
		for _, load := range loaders {
			if err := load(ctx, in, args, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *SQLStore) loadPerformance(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, cpu_usage_percent, memory_used_mb, memory_total_mb, disk_free_gb,
			thermal_state, battery_level, is_on_battery, is_low_power_mode,
			session_count, recording_count, database_size_mb
		FROM feedback_performance WHERE feedback_id IN `+in, args...)
	if err != nil {
		return fmt.Errorf("load performance: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id                  int64
			perf                Performance
			stats               DatabaseStats
			onBattery, lowPower int
		)
		if err := rows.Scan(&id, &perf.CPUUsagePercent, &perf.MemoryUsedMB, &perf.MemoryTotalMB, &perf.DiskFreeGB,
			&perf.ThermalState, &perf.BatteryLevel, &onBattery, &lowPower,
			&stats.SessionCount, &stats.RecordingCount, &stats.DatabaseSizeMB); err != nil {
			return fmt.Errorf("scan performance: %w", err)
		}
		perf.IsOnBattery = onBattery != 0
		perf.IsLowPowerMode = lowPower != 0
		if entry := out[id]; entry != nil {
			entry.Performance = &perf
			entry.DatabaseStats = &stats
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadProcess(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, app_version, build_number, os_version, architecture, pid,
			uptime_seconds, thread_count, memory_footprint_mb, is_sandboxed
		FROM feedback_process WHERE feedback_id IN `+in, args...)
	if err != nil {
		return fmt.Errorf("load process: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        int64
			proc      Process
			sandboxed int
		)
		if err := rows.Scan(&id, &proc.AppVersion, &proc.BuildNumber, &proc.OSVersion, &proc.Architecture, &proc.PID,
			&proc.UptimeSeconds, &proc.ThreadCount, &proc.MemoryFootprintMB, &sandboxed); err != nil {
			return fmt.Errorf("scan process: %w", err)
		}
		proc.IsSandboxed = sandboxed != 0
		if entry := out[id]; entry != nil {
			entry.Process = &proc
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadAccessibility(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, screen_recording_granted, accessibility_granted, microphone_granted,
			camera_granted, voice_over_enabled, reduce_motion_enabled
		FROM feedback_accessibility WHERE feedback_id IN `+in, args...)
	if err != nil {
		return fmt.Errorf("load accessibility: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var flags [6]int
		if err := rows.Scan(&id, &flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5]); err != nil {
			return fmt.Errorf("scan accessibility: %w", err)
		}
		access := Accessibility{
			ScreenRecordingGranted: flags[0] != 0,
			AccessibilityGranted:   flags[1] != 0,
			MicrophoneGranted:      flags[2] != 0,
			CameraGranted:          flags[3] != 0,
			VoiceOverEnabled:       flags[4] != 0,
			ReduceMotionEnabled:    flags[5] != 0,
		}
		if entry := out[id]; entry != nil {
			entry.Accessibility = &access
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadDisplays(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, name, width, height, scale_factor, refresh_rate, is_main, is_builtin
		FROM feedback_displays WHERE feedback_id IN `+in+` ORDER BY feedback_id, position`, args...)
	if err != nil {
		return fmt.Errorf("load displays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id              int64
			display         Display
			isMain, builtIn int
		)
		if err := rows.Scan(&id, &display.Name, &display.Width, &display.Height, &display.ScaleFactor, &display.RefreshRate, &isMain, &builtIn); err != nil {
			return fmt.Errorf("scan display: %w", err)
		}
		display.IsMain = isMain != 0
		display.IsBuiltIn = builtIn != 0
		if entry := out[id]; entry != nil {
			entry.Displays = append(entry.Displays, display)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadSettings(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `SELECT feedback_id, key, value FROM feedback_settings WHERE feedback_id IN `+in, args...)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var key, value string
		if err := rows.Scan(&id, &key, &value); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		entry := out[id]
		if entry == nil {
			continue
		}
		if entry.Settings == nil {
			entry.Settings = map[string]string{}
		}
		entry.Settings[key] = value
	}
	return rows.Err()
}

func (s *SQLStore) loadCrashReports(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, file_name, occurred_at, exception_type, excerpt
		FROM feedback_crash_reports WHERE feedback_id IN `+in+` ORDER BY feedback_id, position`, args...)
	if err != nil {
		return fmt.Errorf("load crash reports: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var report CrashReport
		if err := rows.Scan(&id, &report.FileName, &report.OccurredAt, &report.ExceptionType, &report.Excerpt); err != nil {
			return fmt.Errorf("scan crash report: %w", err)
		}
		if entry := out[id]; entry != nil {
			entry.CrashReports = append(entry.CrashReports, report)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadLogEntries(ctx context.Context, in string, args []any, out map[int64]*DiagnosticsRows) error {
	rows, err := s.query(ctx, `
		SELECT feedback_id, kind, occurred_at, level, category, message
		FROM feedback_log_entries WHERE feedback_id IN `+in+` ORDER BY feedback_id, kind, position`, args...)
	if err != nil {
		return fmt.Errorf("load log entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var kind string
		var entry LogEntry
		if err := rows.Scan(&id, &kind, &entry.OccurredAt, &entry.Level, &entry.Category, &entry.Message); err != nil {
			return fmt.Errorf("scan log entry: %w", err)
		}
		target := out[id]
		if target == nil {
			continue
		}
		if kind == LogKindError {
			target.Errors = append(target.Errors, entry)
		} else {
			target.Logs = append(target.Logs, entry)
		}
	}
	return rows.Err()
}

// CountDiagnosticsRows reports how many rows table holds for feedbackID.
func (s *SQLStore) CountDiagnosticsRows(ctx context.Context, table string, feedbackID int64) (int, error) {
	switch table {
	case "feedback_performance", "feedback_process", "feedback_accessibility", "feedback_displays",
		"feedback_settings", "feedback_crash_reports", "feedback_log_entries":
	default:
		return 0, fmt.Errorf("unknown diagnostics table %q", table)
	}
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE feedback_id = ?`, feedbackID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}
