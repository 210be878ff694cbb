package store

import "time"

type Feedback struct {
	ID                int64
	Type              string
	Email             string
	Description       string
	Status            string
	Priority          string
	Tags              []string
	IsRead            bool
	ExternalSource    string
	ExternalID        string
	ExternalURL       string
	ExternalUpdatedAt string
	AppVersion        string
	OSVersion         string
	DisplayCount      int
	HasScreenshot     bool
	ScreenshotKey     string
	Legacy            LegacyDiagnostics
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LegacyDiagnostics holds the JSON blob columns written before the
// diagnostics tables existed. Empty strings mean NULL.
type LegacyDiagnostics struct {
	Performance   string
	Process       string
	Accessibility string
	Displays      string
	Settings      string
	CrashReports  string
	RecentLogs    string
	RecentErrors  string
	DatabaseStats string
}

type FeedbackFilter struct {
	Type     string
	Status   string
	Priority string
	Search   string
	// IDs restricts the result to these ids when non-nil (search hits).
	IDs    []int64
	Limit  int
	Offset int
}

// AdminUpdate carries the PATCH fields; nil means unchanged.
type AdminUpdate struct {
	Status   *string
	Priority *string
	Tags     *[]string
	IsRead   *bool
}

// SyncUpdate is the set of columns the external reconciler owns.
type SyncUpdate struct {
	Type              string
	Description       string
	Priority          string
	Tags              []string
	Status            string
	ExternalURL       string
	ExternalUpdatedAt string
}

type FeedbackStats struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	ByStatus   map[string]int `json:"byStatus"`
	ByType     map[string]int `json:"byType"`
	ByPriority map[string]int `json:"byPriority"`
}

type Note struct {
	ID         int64
	FeedbackID int64
	Author     string
	Body       string
	CreatedAt  time.Time
}

type Screenshot struct {
	Key  string
	Data string
}

type Performance struct {
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	MemoryUsedMB    float64 `json:"memoryUsedMB"`
	MemoryTotalMB   float64 `json:"memoryTotalMB"`
	DiskFreeGB      float64 `json:"diskFreeGB"`
	ThermalState    string  `json:"thermalState"`
	BatteryLevel    float64 `json:"batteryLevel"`
	IsOnBattery     bool    `json:"isOnBattery"`
	IsLowPowerMode  bool    `json:"isLowPowerMode"`
}

type DatabaseStats struct {
	SessionCount   int     `json:"sessionCount"`
	RecordingCount int     `json:"recordingCount"`
	DatabaseSizeMB float64 `json:"databaseSizeMB"`
}

type Process struct {
	AppVersion        string  `json:"appVersion"`
	BuildNumber       string  `json:"buildNumber"`
	OSVersion         string  `json:"osVersion"`
	Architecture      string  `json:"architecture"`
	PID               int     `json:"pid"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	ThreadCount       int     `json:"threadCount"`
	MemoryFootprintMB float64 `json:"memoryFootprintMB"`
	IsSandboxed       bool    `json:"isSandboxed"`
}

type Accessibility struct {
	ScreenRecordingGranted bool `json:"screenRecordingGranted"`
	AccessibilityGranted   bool `json:"accessibilityGranted"`
	MicrophoneGranted      bool `json:"microphoneGranted"`
	CameraGranted          bool `json:"cameraGranted"`
	VoiceOverEnabled       bool `json:"voiceOverEnabled"`
	ReduceMotionEnabled    bool `json:"reduceMotionEnabled"`
}

type Display struct {
	Name        string  `json:"name"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
	RefreshRate float64 `json:"refreshRate"`
	IsMain      bool    `json:"isMain"`
	IsBuiltIn   bool    `json:"isBuiltIn"`
}

type CrashReport struct {
	FileName      string `json:"fileName"`
	OccurredAt    string `json:"timestamp"`
	ExceptionType string `json:"exceptionType"`
	Excerpt       string `json:"excerpt"`
}

type LogEntry struct {
	OccurredAt string `json:"timestamp"`
	Level      string `json:"level"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

const (
	LogKindLog   = "log"
	LogKindError = "error"
)

// DiagnosticsRows is everything the normalized tables hold for one feedback
// id. Nil pointers and nil collections mean no rows were found.
type DiagnosticsRows struct {
	Performance   *Performance
	DatabaseStats *DatabaseStats
	Process       *Process
	Accessibility *Accessibility
	Displays      []Display
	Settings      map[string]string
	CrashReports  []CrashReport
	Logs          []LogEntry
	Errors        []LogEntry
}

type Download struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	IP        string    `json:"-"`
	UserAgent string    `json:"userAgent"`
	Referrer  string    `json:"referrer"`
	CreatedAt time.Time `json:"createdAt"`
}

type CountBucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type DownloadStats struct {
	Total     int           `json:"total"`
	Window    int           `json:"windowTotal"`
	Days      int           `json:"days"`
	BySource  []CountBucket `json:"bySource"`
	ByVersion []CountBucket `json:"byVersion"`
	ByDay     []CountBucket `json:"byDay"`
	Recent    []Download    `json:"recent"`
}
