package diagnostics

import "lumen/api/internal/store"

// Origin says where an effective category came from.
type Origin string

const (
	OriginNormalized Origin = "normalized"
	OriginLegacy     Origin = "legacy"
	OriginNone       Origin = "none"
)

// Origins is reported next to the diagnostics in the detail response.
type Origins struct {
	Performance   Origin `json:"performance"`
	DatabaseStats Origin `json:"databaseStats"`
	Process       Origin `json:"process"`
	Accessibility Origin `json:"accessibility"`
	Displays      Origin `json:"displays"`
	Settings      Origin `json:"settings"`
	CrashReports  Origin `json:"crashReports"`
	RecentLogs    Origin `json:"recentLogs"`
	RecentErrors  Origin `json:"recentErrors"`
}

// Effective is the legacy-shaped diagnostics object served by the API.
type Effective struct {
	Performance   store.Performance   `json:"performance"`
	DatabaseStats store.DatabaseStats `json:"databaseStats"`
	Process       store.Process       `json:"process"`
	Accessibility store.Accessibility `json:"accessibility"`
	Displays      []store.Display     `json:"displays"`
	DisplayCount  int                 `json:"displayCount"`
	Settings      map[string]string   `json:"settings"`
	CrashReports  []store.CrashReport `json:"crashReports"`
	RecentLogs    []store.LogEntry    `json:"recentLogs"`
	RecentErrors  []store.LogEntry    `json:"recentErrors"`
	Origins       Origins             `json:"origins"`
}

// Resolve picks, per category, the normalized rows when present, else the
// parsed legacy column, else defaults. Values from the two sources are never
// combined within a category.
func Resolve(state State, legacy store.LegacyDiagnostics, declaredDisplayCount int) Effective {
	parsed := parseLegacy(legacy)
	out := Effective{
		Performance:  store.Performance{ThermalState: thermalUnknown},
		Process:      store.Process{Architecture: architectureUnknown},
		Displays:     []store.Display{},
		Settings:     map[string]string{},
		CrashReports: []store.CrashReport{},
		RecentLogs:   []store.LogEntry{},
		RecentErrors: []store.LogEntry{},
	}

	switch {
	case state.HasPerformance && state.Performance != nil:
		out.Performance, out.Origins.Performance = *state.Performance, OriginNormalized
	case parsed.hasPerformance:
		out.Performance, out.Origins.Performance = parsed.performance, OriginLegacy
	default:
		out.Origins.Performance = OriginNone
	}

	// database stats share the performance row
	switch {
	case state.HasPerformance && state.DatabaseStats != nil:
		out.DatabaseStats, out.Origins.DatabaseStats = *state.DatabaseStats, OriginNormalized
	case parsed.hasDatabaseStats:
		out.DatabaseStats, out.Origins.DatabaseStats = parsed.databaseStats, OriginLegacy
	default:
		out.Origins.DatabaseStats = OriginNone
	}

	switch {
	case state.HasProcess && state.Process != nil:
		out.Process, out.Origins.Process = *state.Process, OriginNormalized
	case parsed.hasProcess:
		out.Process, out.Origins.Process = parsed.process, OriginLegacy
	default:
		out.Origins.Process = OriginNone
	}

	switch {
	case state.HasAccessibility && state.Accessibility != nil:
		out.Accessibility, out.Origins.Accessibility = *state.Accessibility, OriginNormalized
	case parsed.hasAccessibility:
		out.Accessibility, out.Origins.Accessibility = parsed.accessibility, OriginLegacy
	default:
		out.Origins.Accessibility = OriginNone
	}

	out.Displays, out.Origins.Displays = pickSlice(state.HasDisplays, state.Displays, parsed.hasDisplays, parsed.displays)
	out.CrashReports, out.Origins.CrashReports = pickSlice(state.HasCrashReports, state.CrashReports, parsed.hasCrashReports, parsed.crashReports)
	// logs and errors share one table, so either kind marks both as normalized
	normalizedLogs := state.HasLogs || state.HasErrors
	out.RecentLogs, out.Origins.RecentLogs = pickSlice(normalizedLogs, state.RecentLogs, parsed.hasRecentLogs, parsed.recentLogs)
	out.RecentErrors, out.Origins.RecentErrors = pickSlice(normalizedLogs, state.RecentErrors, parsed.hasRecentErrors, parsed.recentErrors)

	switch {
	case state.HasSettings:
		out.Settings, out.Origins.Settings = state.Settings, OriginNormalized
	case parsed.hasSettings:
		out.Settings, out.Origins.Settings = parsed.settings, OriginLegacy
	default:
		out.Origins.Settings = OriginNone
	}

	out.DisplayCount = max(declaredDisplayCount, len(out.Displays))
	return out
}

func pickSlice[T any](hasNormalized bool, normalized []T, hasLegacy bool, legacy []T) ([]T, Origin) {
	switch {
	case hasNormalized:
		if normalized == nil {
			normalized = []T{}
		}
		return normalized, OriginNormalized
	case hasLegacy && legacy != nil:
		return legacy, OriginLegacy
	default:
		return []T{}, OriginNone
	}
}
