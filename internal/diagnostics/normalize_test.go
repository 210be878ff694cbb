package diagnostics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/api/internal/store"
)

func TestNormalizeEmptyPayloadAppliesDefaults(t *testing.T) {
	snap := Normalize(nil)

	assert.Equal(t, store.Performance{ThermalState: "unknown"}, snap.Performance)
	assert.Equal(t, store.DatabaseStats{}, snap.DatabaseStats)
	assert.Equal(t, store.Process{Architecture: "unknown"}, snap.Process)
	assert.Equal(t, store.Accessibility{}, snap.Accessibility)
	assert.Empty(t, snap.Displays)
	assert.Empty(t, snap.Settings)
	assert.Empty(t, snap.CrashReports)
	assert.Empty(t, snap.RecentLogs)
	assert.Empty(t, snap.RecentErrors)
	assert.Equal(t, 0, snap.DisplayCount())
}

func TestNormalizeCoercesLooseTypes(t *testing.T) {
	snap := Normalize(map[string]any{
		"performance": map[string]any{
			"cpuUsagePercent": "12.5",
			"memoryUsedMB":    float64(2048),
			"thermalState":    "Serious",
			"isOnBattery":     "true",
			"isLowPowerMode":  float64(1),
			"batteryLevel":    "not a number",
		},
		"databaseStats": map[string]any{"sessionCount": "7", "recordingCount": 3.0},
		"process": map[string]any{
			"appVersion":   "2.4.0",
			"buildNumber":  float64(812),
			"architecture": "aarch64",
			"pid":          "4242",
			"isSandboxed":  "1",
		},
		"accessibility": map[string]any{"screenRecordingGranted": true, "cameraGranted": "false"},
		"displayCount":  "2",
		"displays": []any{
			map[string]any{"name": "Built-in Retina", "width": "3024", "height": 1964.0, "isMain": true, "isBuiltIn": 1.0},
			"garbage",
		},
		"settings": map[string]any{
			"autoRecord": true,
			"fps":        float64(60),
			"codec":      "hevc",
			"nested":     map[string]any{"b": 1.0, "a": "x"},
		},
		"crashReports": []any{map[string]any{"fileName": "a.ips", "timestamp": "2026-01-01T00:00:00Z", "exceptionType": "EXC_BAD_ACCESS"}},
		"recentLogs":   []any{"plain line", map[string]any{"level": "info", "message": "started"}, ""},
		"recentErrors": []any{map[string]any{"level": "error", "category": "capture", "message": "boom"}},
	})

	assert.Equal(t, 12.5, snap.Performance.CPUUsagePercent)
	assert.Equal(t, "serious", snap.Performance.ThermalState)
	assert.True(t, snap.Performance.IsOnBattery)
	assert.True(t, snap.Performance.IsLowPowerMode)
	assert.Zero(t, snap.Performance.BatteryLevel)

	assert.Equal(t, 7, snap.DatabaseStats.SessionCount)
	assert.Equal(t, 3, snap.DatabaseStats.RecordingCount)

	assert.Equal(t, "812", snap.Process.BuildNumber)
	assert.Equal(t, "arm64", snap.Process.Architecture)
	assert.Equal(t, 4242, snap.Process.PID)
	assert.True(t, snap.Process.IsSandboxed)

	assert.True(t, snap.Accessibility.ScreenRecordingGranted)
	assert.False(t, snap.Accessibility.CameraGranted)

	require.Len(t, snap.Displays, 1)
	assert.Equal(t, 3024, snap.Displays[0].Width)
	assert.True(t, snap.Displays[0].IsBuiltIn)
	assert.Equal(t, 2, snap.DisplayCount())

	assert.Equal(t, map[string]string{
		"autoRecord": "true",
		"fps":        "60",
		"codec":      "hevc",
		"nested":     `{"a":"x","b":1}`,
	}, snap.Settings)

	require.Len(t, snap.CrashReports, 1)
	assert.Equal(t, "EXC_BAD_ACCESS", snap.CrashReports[0].ExceptionType)

	require.Len(t, snap.RecentLogs, 2)
	assert.Equal(t, store.LogEntry{Message: "plain line"}, snap.RecentLogs[0])
	assert.Equal(t, "started", snap.RecentLogs[1].Message)
	require.Len(t, snap.RecentErrors, 1)
	assert.Equal(t, "capture", snap.RecentErrors[0].Category)
}

func TestNormalizeUnknownEnums(t *testing.T) {
	snap := Normalize(map[string]any{
		"performance": map[string]any{"thermalState": "melting"},
		"process":     map[string]any{"architecture": "ppc"},
	})
	assert.Equal(t, "unknown", snap.Performance.ThermalState)
	assert.Equal(t, "unknown", snap.Process.Architecture)
}

func TestNormalizeSaturatesHugeIntegers(t *testing.T) {
	snap := Normalize(map[string]any{
		"process":       map[string]any{"pid": 1e300, "threadCount": -1e300},
		"databaseStats": map[string]any{"sessionCount": "9e99"},
	})
	assert.Equal(t, math.MaxInt, snap.Process.PID)
	assert.Equal(t, math.MinInt, snap.Process.ThreadCount)
	assert.Equal(t, math.MaxInt, snap.DatabaseStats.SessionCount)
}

func TestDisplayCountIsMaxOfDeclaredAndActual(t *testing.T) {
	cases := []struct {
		declared any
		displays int
		want     int
	}{
		{nil, 0, 0},
		{float64(3), 1, 3},
		{float64(1), 3, 3},
		{float64(-4), 2, 2},
	}
	for _, tc := range cases {
		displays := make([]any, tc.displays)
		for i := range displays {
			displays[i] = map[string]any{"name": "d"}
		}
		snap := Normalize(map[string]any{"displayCount": tc.declared, "displays": displays})
		assert.Equal(t, tc.want, snap.DisplayCount(), "declared=%v displays=%d", tc.declared, tc.displays)
		assert.GreaterOrEqual(t, snap.DisplayCount(), len(snap.Displays))
	}
}
