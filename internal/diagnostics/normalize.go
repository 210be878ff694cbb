// Package diagnostics turns the nested diagnostics payload sent by the app
// into rows for the normalized tables and reads them back, falling back to
// the legacy JSON columns per category.
package diagnostics

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"lumen/api/internal/store"
)

const (
	thermalUnknown      = "unknown"
	architectureUnknown = "unknown"
)

var thermalStates = map[string]bool{
	"nominal":  true,
	"fair":     true,
	"serious":  true,
	"critical": true,
}

// Snapshot is a fully defaulted diagnostics payload.
type Snapshot struct {
	Performance          store.Performance
	DatabaseStats        store.DatabaseStats
	Process              store.Process
	Accessibility        store.Accessibility
	Displays             []store.Display
	DeclaredDisplayCount int
	Settings             map[string]string
	CrashReports         []store.CrashReport
	RecentLogs           []store.LogEntry
	RecentErrors         []store.LogEntry
}

// DisplayCount is max(declared, len(displays)).
func (s Snapshot) DisplayCount() int {
	return max(s.DeclaredDisplayCount, len(s.Displays))
}

// Normalize coerces a raw payload. Missing or malformed fields fall back to
// zero values, never errors.
func Normalize(payload map[string]any) Snapshot {
	return Snapshot{
		Performance:          normalizePerformance(payload["performance"]),
		DatabaseStats:        normalizeDatabaseStats(payload["databaseStats"]),
		Process:              normalizeProcess(payload["process"]),
		Accessibility:        normalizeAccessibility(payload["accessibility"]),
		Displays:             normalizeDisplays(payload["displays"]),
		DeclaredDisplayCount: max(asInt(payload["displayCount"]), 0),
		Settings:             normalizeSettings(payload["settings"]),
		CrashReports:         normalizeCrashReports(payload["crashReports"]),
		RecentLogs:           normalizeLogEntries(payload["recentLogs"]),
		RecentErrors:         normalizeLogEntries(payload["recentErrors"]),
	}
}

func normalizePerformance(raw any) store.Performance {
	m := asMap(raw)
	return store.Performance{
		CPUUsagePercent: asFloat(m["cpuUsagePercent"]),
		MemoryUsedMB:    asFloat(m["memoryUsedMB"]),
		MemoryTotalMB:   asFloat(m["memoryTotalMB"]),
		DiskFreeGB:      asFloat(m["diskFreeGB"]),
		ThermalState:    normalizeThermalState(m["thermalState"]),
		BatteryLevel:    asFloat(m["batteryLevel"]),
		IsOnBattery:     asBool(m["isOnBattery"]),
		IsLowPowerMode:  asBool(m["isLowPowerMode"]),
	}
}

func normalizeDatabaseStats(raw any) store.DatabaseStats {
	m := asMap(raw)
	return store.DatabaseStats{
		SessionCount:   asInt(m["sessionCount"]),
		RecordingCount: asInt(m["recordingCount"]),
		DatabaseSizeMB: asFloat(m["databaseSizeMB"]),
	}
}

func normalizeProcess(raw any) store.Process {
	m := asMap(raw)
	return store.Process{
		AppVersion:        asString(m["appVersion"]),
		BuildNumber:       asString(m["buildNumber"]),
		OSVersion:         asString(m["osVersion"]),
		Architecture:      normalizeArchitecture(m["architecture"]),
		PID:               asInt(m["pid"]),
		UptimeSeconds:     asFloat(m["uptimeSeconds"]),
		ThreadCount:       asInt(m["threadCount"]),
		MemoryFootprintMB: asFloat(m["memoryFootprintMB"]),
		IsSandboxed:       asBool(m["isSandboxed"]),
	}
}

var accessibilityKeys = []string{
	"screenRecordingGranted",
	"accessibilityGranted",
	"microphoneGranted",
	"cameraGranted",
	"voiceOverEnabled",
	"reduceMotionEnabled",
}

func normalizeAccessibility(raw any) store.Accessibility {
	m := asMap(raw)
	return store.Accessibility{
		ScreenRecordingGranted: asBool(m["screenRecordingGranted"]),
		AccessibilityGranted:   asBool(m["accessibilityGranted"]),
		MicrophoneGranted:      asBool(m["microphoneGranted"]),
		CameraGranted:          asBool(m["cameraGranted"]),
		VoiceOverEnabled:       asBool(m["voiceOverEnabled"]),
		ReduceMotionEnabled:    asBool(m["reduceMotionEnabled"]),
	}
}

func normalizeDisplays(raw any) []store.Display {
	items := asSlice(raw)
	displays := make([]store.Display, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		displays = append(displays, store.Display{
			Name:        asString(m["name"]),
			Width:       asInt(m["width"]),
			Height:      asInt(m["height"]),
			ScaleFactor: asFloat(m["scaleFactor"]),
			RefreshRate: asFloat(m["refreshRate"]),
			IsMain:      asBool(m["isMain"]),
			IsBuiltIn:   asBool(m["isBuiltIn"]),
		})
	}
	return displays
}

func normalizeSettings(raw any) map[string]string {
	m := asMap(raw)
	settings := make(map[string]string, len(m))
	for key, value := range m {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		settings[key] = stringify(value)
	}
	return settings
}

func normalizeCrashReports(raw any) []store.CrashReport {
	items := asSlice(raw)
	reports := make([]store.CrashReport, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		reports = append(reports, store.CrashReport{
			FileName:      asString(m["fileName"]),
			OccurredAt:    asString(m["timestamp"]),
			ExceptionType: asString(m["exceptionType"]),
			Excerpt:       asString(m["excerpt"]),
		})
	}
	return reports
}

// normalizeLogEntries accepts objects or bare strings; a string becomes the
// message of an otherwise empty entry.
func normalizeLogEntries(raw any) []store.LogEntry {
	items := asSlice(raw)
	entries := make([]store.LogEntry, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			entries = append(entries, store.LogEntry{Message: v})
		case map[string]any:
			entries = append(entries, store.LogEntry{
				OccurredAt: asString(v["timestamp"]),
				Level:      asString(v["level"]),
				Category:   asString(v["category"]),
				Message:    asString(v["message"]),
			})
		}
	}
	return entries
}

func normalizeThermalState(raw any) string {
	value := strings.ToLower(strings.TrimSpace(asString(raw)))
	if thermalStates[value] {
		return value
	}
	return thermalUnknown
}

func normalizeArchitecture(raw any) string {
	switch strings.ToLower(strings.TrimSpace(asString(raw))) {
	case "arm64", "aarch64", "apple silicon":
		return "arm64"
	case "x86_64", "x86-64", "amd64", "intel":
		return "x86_64"
	default:
		return architectureUnknown
	}
}

func asMap(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asSlice(raw any) []any {
	if s, ok := raw.([]any); ok {
		return s
	}
	return nil
}

func asFloat(raw any) float64 {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		f, _ = v.Float64()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// asInt saturates at the int range; converting an out-of-range float is
// implementation defined.
func asInt(raw any) int {
	f := math.Round(asFloat(raw))
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

func asBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case nil:
		return false
	default:
		return asFloat(v) != 0
	}
}

func asString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return stringify(v)
	}
}

// stringify renders any JSON value as settings text. Objects and arrays are
// re-encoded; encoding/json sorts map keys so equal payloads store equal text.
func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string, float64, json.Number, bool:
		return asString(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
