package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lumen/api/internal/store"
)

func TestResolvePicksSourcePerCategory(t *testing.T) {
	state := State{
		HasPerformance: true,
		Performance:    &store.Performance{CPUUsagePercent: 10, ThermalState: "nominal"},
		DatabaseStats:  &store.DatabaseStats{SessionCount: 4},
	}
	legacy := store.LegacyDiagnostics{
		Performance: `{"cpuUsagePercent": 90, "memoryUsedMB": 512}`,
		Displays:    `[{"name":"Built-in"},{"name":"Dell"}]`,
		RecentLogs:  `["a", {"message": "b"}]`,
	}

	effective := Resolve(state, legacy, 1)

	assert.Equal(t, OriginNormalized, effective.Origins.Performance)
	assert.Equal(t, 10.0, effective.Performance.CPUUsagePercent)
	assert.Zero(t, effective.Performance.MemoryUsedMB, "legacy fields must not leak into normalized category")
	assert.Equal(t, OriginNormalized, effective.Origins.DatabaseStats)
	assert.Equal(t, 4, effective.DatabaseStats.SessionCount)

	assert.Equal(t, OriginLegacy, effective.Origins.Displays)
	assert.Len(t, effective.Displays, 2)
	assert.Equal(t, 2, effective.DisplayCount)

	assert.Equal(t, OriginLegacy, effective.Origins.RecentLogs)
	assert.Equal(t, []store.LogEntry{{Message: "a"}, {Message: "b"}}, effective.RecentLogs)

	assert.Equal(t, OriginNone, effective.Origins.Process)
	assert.Equal(t, "unknown", effective.Process.Architecture)
	assert.Equal(t, OriginNone, effective.Origins.Settings)
	assert.NotNil(t, effective.Settings)
}

func TestResolveIgnoresMalformedLegacy(t *testing.T) {
	effective := Resolve(State{}, store.LegacyDiagnostics{
		Performance: `not json`,
		Displays:    `{"not":"an array"}`,
		Settings:    `null`,
	}, 3)

	assert.Equal(t, OriginNone, effective.Origins.Performance)
	assert.Equal(t, "unknown", effective.Performance.ThermalState)
	assert.Equal(t, OriginNone, effective.Origins.Displays)
	assert.Empty(t, effective.Displays)
	assert.Equal(t, OriginNone, effective.Origins.Settings)
	assert.Equal(t, 3, effective.DisplayCount)
}

func TestResolveTreatsLogsAndErrorsAsOneCategory(t *testing.T) {
	state := State{
		HasLogs:    true,
		RecentLogs: []store.LogEntry{{Level: "info", Message: "ready"}},
	}
	legacy := store.LegacyDiagnostics{
		RecentLogs:   `["stale"]`,
		RecentErrors: `["disk full"]`,
	}

	effective := Resolve(state, legacy, 0)

	assert.Equal(t, OriginNormalized, effective.Origins.RecentLogs)
	assert.Equal(t, []store.LogEntry{{Level: "info", Message: "ready"}}, effective.RecentLogs)
	assert.Equal(t, OriginNormalized, effective.Origins.RecentErrors)
	assert.NotNil(t, effective.RecentErrors)
	assert.Empty(t, effective.RecentErrors, "legacy errors must not mix with normalized logs")
}
