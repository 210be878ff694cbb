package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"

	"lumen/api/internal/store"
)

// BackfillKey marks the one-shot legacy migration in migration_state.
const BackfillKey = "diagnostics_backfill_v1"

// Store is the subset of the SQL store the normalizer writes through.
type Store interface {
	UpsertPerformance(ctx context.Context, feedbackID int64, perf store.Performance, stats store.DatabaseStats) error
	UpsertProcess(ctx context.Context, feedbackID int64, proc store.Process) error
	UpsertAccessibility(ctx context.Context, feedbackID int64, access store.Accessibility) error
	ReplaceDisplays(ctx context.Context, feedbackID int64, displays []store.Display) error
	ReplaceSettings(ctx context.Context, feedbackID int64, settings map[string]string) error
	ReplaceCrashReports(ctx context.Context, feedbackID int64, reports []store.CrashReport) error
	ReplaceLogEntries(ctx context.Context, feedbackID int64, logs, errs []store.LogEntry) error
	CountDiagnosticsRows(ctx context.Context, table string, feedbackID int64) (int, error)
	UpdateDisplayCount(ctx context.Context, feedbackID int64, count int) error
	UpdateVersionSummary(ctx context.Context, feedbackID int64, appVersion, osVersion string) error
	LoadDiagnostics(ctx context.Context, ids []int64) (map[int64]*store.DiagnosticsRows, error)
	ListLegacyDiagnosticsFeedback(ctx context.Context) ([]store.Feedback, error)
	GetMigrationState(ctx context.Context, key string) (string, bool, error)
	SetMigrationState(ctx context.Context, key, value string) error
}

// Options selects which categories an upsert writes. A zero Options writes
// nothing.
type Options struct {
	Performance   bool
	Process       bool
	Accessibility bool
	Displays      bool
	Settings      bool
	CrashReports  bool
	Logs          bool
	DisplayCount  bool
}

func AllOptions() Options {
	return Options{
		Performance:   true,
		Process:       true,
		Accessibility: true,
		Displays:      true,
		Settings:      true,
		CrashReports:  true,
		Logs:          true,
		DisplayCount:  true,
	}
}

func (o Options) any() bool {
	return o.Performance || o.Process || o.Accessibility || o.Displays || o.Settings || o.CrashReports || o.Logs || o.DisplayCount
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// Upsert normalizes payload and writes the selected categories for
// feedbackID. Categories are written one after another without a
// transaction; each write is idempotent so a retry converges.
func (s *Service) Upsert(ctx context.Context, feedbackID int64, payload map[string]any, opts Options) error {
	return s.upsertSnapshot(ctx, feedbackID, Normalize(payload), opts)
}

func (s *Service) upsertSnapshot(ctx context.Context, feedbackID int64, snap Snapshot, opts Options) error {
	if opts.Performance {
		if err := s.store.UpsertPerformance(ctx, feedbackID, snap.Performance, snap.DatabaseStats); err != nil {
			return err
		}
	}
	if opts.Process {
		if err := s.store.UpsertProcess(ctx, feedbackID, snap.Process); err != nil {
			return err
		}
		if err := s.store.UpdateVersionSummary(ctx, feedbackID, snap.Process.AppVersion, snap.Process.OSVersion); err != nil {
			return err
		}
	}
	if opts.Accessibility {
		if err := s.store.UpsertAccessibility(ctx, feedbackID, snap.Accessibility); err != nil {
			return err
		}
	}
	if opts.Displays {
		if err := s.store.ReplaceDisplays(ctx, feedbackID, snap.Displays); err != nil {
			return err
		}
	}
	if opts.Settings {
		if err := s.store.ReplaceSettings(ctx, feedbackID, snap.Settings); err != nil {
			return err
		}
	}
	if opts.CrashReports {
		if err := s.store.ReplaceCrashReports(ctx, feedbackID, snap.CrashReports); err != nil {
			return err
		}
	}
	if opts.Logs {
		if err := s.store.ReplaceLogEntries(ctx, feedbackID, snap.RecentLogs, snap.RecentErrors); err != nil {
			return err
		}
	}
	if opts.Displays || opts.DisplayCount {
		stored, err := s.store.CountDiagnosticsRows(ctx, "feedback_displays", feedbackID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateDisplayCount(ctx, feedbackID, max(snap.DisplayCount(), stored)); err != nil {
			return err
		}
	}
	return nil
}

// State is what the normalized tables hold for one feedback id. A false Has
// flag means the category was never migrated for that row.
type State struct {
	FeedbackID    int64
	Performance   *store.Performance
	DatabaseStats *store.DatabaseStats
	Process       *store.Process
	Accessibility *store.Accessibility
	Displays      []store.Display
	Settings      map[string]string
	CrashReports  []store.CrashReport
	RecentLogs    []store.LogEntry
	RecentErrors  []store.LogEntry

	HasPerformance   bool
	HasProcess       bool
	HasAccessibility bool
	HasDisplays      bool
	HasSettings      bool
	HasCrashReports  bool
	HasLogs          bool
	HasErrors        bool
}

// LoadByFeedbackIDs returns one State per requested id, including ids with
// no normalized rows at all.
func (s *Service) LoadByFeedbackIDs(ctx context.Context, ids []int64) (map[int64]State, error) {
	states := make(map[int64]State, len(ids))
	if len(ids) == 0 {
		return states, nil
	}
	rows, err := s.store.LoadDiagnostics(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		states[id] = stateFromRows(id, rows[id])
	}
	return states, nil
}

func stateFromRows(id int64, rows *store.DiagnosticsRows) State {
	state := State{FeedbackID: id}
	if rows == nil {
		return state
	}
	state.Performance = rows.Performance
	state.DatabaseStats = rows.DatabaseStats
	state.Process = rows.Process
	state.Accessibility = rows.Accessibility
	state.Displays = rows.Displays
	state.Settings = rows.Settings
	state.CrashReports = rows.CrashReports
	state.RecentLogs = rows.Logs
	state.RecentErrors = rows.Errors

	state.HasPerformance = rows.Performance != nil
	state.HasProcess = rows.Process != nil
	state.HasAccessibility = rows.Accessibility != nil
	state.HasDisplays = len(rows.Displays) > 0
	state.HasSettings = len(rows.Settings) > 0
	state.HasCrashReports = len(rows.CrashReports) > 0
	state.HasLogs = len(rows.Logs) > 0
	state.HasErrors = len(rows.Errors) > 0
	return state
}

type BackfillResult struct {
	AlreadyDone bool `json:"alreadyDone"`
	Scanned     int  `json:"scanned"`
	Migrated    int  `json:"migrated"`
	Failed      int  `json:"failed"`
}

// BackfillLegacy copies legacy JSON diagnostics into the normalized tables
// once. Only categories that carry data and have no normalized rows yet are
// written. The marker is set only when every row succeeded so a partial run
// resumes on the next start.
func (s *Service) BackfillLegacy(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult
	if _, done, err := s.store.GetMigrationState(ctx, BackfillKey); err != nil {
		return result, err
	} else if done {
		result.AlreadyDone = true
		return result, nil
	}

	rows, err := s.store.ListLegacyDiagnosticsFeedback(ctx)
	if err != nil {
		return result, err
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	states, err := s.LoadByFeedbackIDs(ctx, ids)
	if err != nil {
		return result, err
	}

	for _, row := range rows {
		result.Scanned++
		snap, opts := legacyPlan(row, states[row.ID])
		if !opts.any() {
			continue
		}
		if err := s.upsertSnapshot(ctx, row.ID, snap, opts); err != nil {
			log.Printf("diagnostics: backfill feedback %d: %v", row.ID, err)
			result.Failed++
			continue
		}
		result.Migrated++
	}

	if result.Failed > 0 {
		return result, fmt.Errorf("diagnostics backfill: %d rows failed", result.Failed)
	}
	marker := fmt.Sprintf(`{"scanned":%d,"migrated":%d}`, result.Scanned, result.Migrated)
	if err := s.store.SetMigrationState(ctx, BackfillKey, marker); err != nil {
		return result, err
	}
	log.Printf("diagnostics: legacy backfill done, scanned=%d migrated=%d", result.Scanned, result.Migrated)
	return result, nil
}

// legacyPlan parses the legacy columns of row and selects the categories
// that have data and are not normalized yet.
func legacyPlan(row store.Feedback, state State) (Snapshot, Options) {
	legacy := parseLegacy(row.Legacy)
	snap := Snapshot{
		Performance:          legacy.performance,
		DatabaseStats:        legacy.databaseStats,
		Process:              legacy.process,
		Accessibility:        legacy.accessibility,
		Displays:             legacy.displays,
		DeclaredDisplayCount: row.DisplayCount,
		Settings:             legacy.settings,
		CrashReports:         legacy.crashReports,
		RecentLogs:           legacy.recentLogs,
		RecentErrors:         legacy.recentErrors,
	}

	var opts Options
	opts.Performance = !state.HasPerformance &&
		((legacy.hasPerformance && hasPerformanceData(legacy.performance)) ||
			(legacy.hasDatabaseStats && hasDatabaseStatsData(legacy.databaseStats)))
	opts.Process = !state.HasProcess && legacy.hasProcess && hasProcessData(legacy.process)
	opts.Accessibility = !state.HasAccessibility && legacy.hasAccessibility &&
		hasAccessibilityData(legacy.accessibility, legacy.accessibilityReported)
	opts.Displays = !state.HasDisplays && len(legacy.displays) > 0
	opts.Settings = !state.HasSettings && len(legacy.settings) > 0
	opts.CrashReports = !state.HasCrashReports && len(legacy.crashReports) > 0
	opts.Logs = !state.HasLogs && !state.HasErrors && (len(legacy.recentLogs) > 0 || len(legacy.recentErrors) > 0)
	return snap, opts
}

func hasPerformanceData(p store.Performance) bool {
	return p.CPUUsagePercent != 0 || p.MemoryUsedMB != 0 || p.MemoryTotalMB != 0 || p.DiskFreeGB != 0 ||
		p.BatteryLevel != 0 || p.IsOnBattery || p.IsLowPowerMode || p.ThermalState != thermalUnknown
}

func hasDatabaseStatsData(d store.DatabaseStats) bool {
	return d.SessionCount != 0 || d.RecordingCount != 0 || d.DatabaseSizeMB != 0
}

// hasAccessibilityData is true when a permission is granted or the client
// reported any of the flags at all, since all-false is a real answer.
func hasAccessibilityData(a store.Accessibility, reported bool) bool {
	return reported || a.ScreenRecordingGranted || a.AccessibilityGranted || a.MicrophoneGranted ||
		a.CameraGranted || a.VoiceOverEnabled || a.ReduceMotionEnabled
}

func hasProcessData(p store.Process) bool {
	return p.AppVersion != "" || p.BuildNumber != "" || p.OSVersion != "" || p.Architecture != architectureUnknown ||
		p.PID != 0 || p.UptimeSeconds != 0 || p.ThreadCount != 0 || p.MemoryFootprintMB != 0 || p.IsSandboxed
}

// legacyValues holds the parsed legacy columns. The has flags record whether
// a column held a parseable value at all.
type legacyValues struct {
	performance   store.Performance
	databaseStats store.DatabaseStats
	process       store.Process
	accessibility store.Accessibility
	displays      []store.Display
	settings      map[string]string
	crashReports  []store.CrashReport
	recentLogs    []store.LogEntry
	recentErrors  []store.LogEntry

	hasPerformance   bool
	hasDatabaseStats bool
	hasProcess       bool
	hasAccessibility bool
	hasDisplays      bool
	hasSettings      bool
	hasCrashReports  bool
	hasRecentLogs    bool
	hasRecentErrors  bool

	accessibilityReported bool
}

func parseLegacy(legacy store.LegacyDiagnostics) legacyValues {
	var out legacyValues
	if raw, ok := parseLegacyObject(legacy.Performance); ok {
		out.performance, out.hasPerformance = normalizePerformance(raw), true
	}
	if raw, ok := parseLegacyObject(legacy.DatabaseStats); ok {
		out.databaseStats, out.hasDatabaseStats = normalizeDatabaseStats(raw), true
	}
	if raw, ok := parseLegacyObject(legacy.Process); ok {
		out.process, out.hasProcess = normalizeProcess(raw), true
	}
	if raw, ok := parseLegacyObject(legacy.Accessibility); ok {
		out.accessibility, out.hasAccessibility = normalizeAccessibility(raw), true
		out.accessibilityReported = slices.ContainsFunc(accessibilityKeys, func(key string) bool {
			_, ok := raw[key]
			return ok
		})
	}
	if raw, ok := parseLegacyArray(legacy.Displays); ok {
		out.displays, out.hasDisplays = normalizeDisplays(raw), true
	}
	if raw, ok := parseLegacyObject(legacy.Settings); ok {
		out.settings, out.hasSettings = normalizeSettings(raw), true
	}
	if raw, ok := parseLegacyArray(legacy.CrashReports); ok {
		out.crashReports, out.hasCrashReports = normalizeCrashReports(raw), true
	}
	if raw, ok := parseLegacyArray(legacy.RecentLogs); ok {
		out.recentLogs, out.hasRecentLogs = normalizeLogEntries(raw), true
	}
	if raw, ok := parseLegacyArray(legacy.RecentErrors); ok {
		out.recentErrors, out.hasRecentErrors = normalizeLogEntries(raw), true
	}
	return out
}

func parseLegacyObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func parseLegacyArray(raw string) ([]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, false
	}
	var value []any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false
	}
	return value, true
}
