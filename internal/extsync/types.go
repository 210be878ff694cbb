// Package extsync imports open GitHub issues and in-review Featurebase posts
// into the local feedback table and keeps them reconciled.
package extsync

import "time"

const (
	SourceGitHub      = "github"
	SourceFeaturebase = "featurebase"

	StatusOK       = "ok"
	StatusSkipped  = "skipped"
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// Item is one upstream record mapped onto feedback fields.
type Item struct {
	ExternalID  string   `json:"externalId"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Priority    string   `json:"priority"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	// UpstreamStatus is the status text reported by the source.
	UpstreamStatus string `json:"upstreamStatus,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// SourceResult counts what one reconciliation pass did.
type SourceResult struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Reopened int    `json:"reopened"`
	Resolved int    `json:"resolved"`
	Skipped  int    `json:"skipped"`

	changed []int64
}

type RunResult struct {
	StartedAt   time.Time    `json:"startedAt"`
	DurationMs  int64        `json:"durationMs"`
	GitHub      SourceResult `json:"github"`
	Featurebase SourceResult `json:"featurebase"`
}
