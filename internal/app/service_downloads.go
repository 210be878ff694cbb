package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lumen/api/internal/analytics"
	"lumen/api/internal/extsync"
	"lumen/api/internal/metrics"
	"lumen/api/internal/store"
	"lumen/api/internal/throttle"
)

type TrackDownloadInput struct {
	Source   string `json:"source" validate:"required,max=64"`
	Version  string `json:"version" validate:"required,max=64"`
	Platform string `json:"platform" validate:"max=64"`
	Referrer string `json:"referrer" validate:"max=2048"`
}

// Client identifies the caller of a public endpoint.
type Client struct {
	IP        string
	UserAgent string
	Referrer  string
}

// TrackDownload records one download unless the caller is over the per-IP
// limit or repeats an identical request inside the dedup window. The
// returned bool is true for a deduplicated request.
func (s *Service) TrackDownload(ctx context.Context, client Client, input TrackDownloadInput) (bool, error) {
	input.Source = strings.TrimSpace(input.Source)
	input.Version = strings.TrimSpace(input.Version)
	if err := s.check(input); err != nil {
		return false, err
	}

	decision, err := s.downloadLimiter.Allow(ctx, client.IP)
	if err != nil {
		return false, fmt.Errorf("download limiter: %w", err)
	}
	if !decision.Allowed {
		s.metrics.Download(metrics.DownloadLimited)
		return false, &RateLimitError{Decision: decision}
	}

	seen, err := s.deduper.Seen(ctx, throttle.Fingerprint(client.IP, input.Source, input.Version, client.UserAgent))
	if err != nil {
		return false, fmt.Errorf("download dedup: %w", err)
	}
	if seen {
		s.metrics.Download(metrics.DownloadDeduplicated)
		return true, nil
	}

	referrer := strings.TrimSpace(input.Referrer)
	if referrer == "" {
		referrer = client.Referrer
	}
	if _, err := s.store.InsertDownload(ctx, store.Download{
		Source:    input.Source,
		Version:   input.Version,
		Platform:  strings.TrimSpace(input.Platform),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Referrer:  referrer,
	}); err != nil {
		return false, err
	}
	s.metrics.Download(metrics.DownloadTracked)
	return false, nil
}

// AllowFeedback applies the per-IP limit on public feedback submissions.
func (s *Service) AllowFeedback(ctx context.Context, client Client) error {
	decision, err := s.feedbackLimiter.Allow(ctx, client.IP)
	if err != nil {
		return fmt.Errorf("feedback limiter: %w", err)
	}
	if !decision.Allowed {
		return &RateLimitError{Decision: decision}
	}
	return nil
}

func (s *Service) DownloadStats(ctx context.Context, days int) (store.DownloadStats, error) {
	if days < 0 || days > 365 {
		return store.DownloadStats{}, validationError("days must be between 1 and 365", nil)
	}
	return s.store.DownloadStats(ctx, days)
}

func (s *Service) RunSync(ctx context.Context) (extsync.RunResult, error) {
	if s.sync == nil {
		return extsync.RunResult{}, domainError(http.StatusServiceUnavailable, "SYNC_NOT_CONFIGURED", "External sync is not configured", nil)
	}
	return s.sync.Run(ctx)
}

func (s *Service) GitHubIssues(ctx context.Context) ([]extsync.Item, error) {
	if s.sync == nil {
		return nil, integrationNotConfigured("GitHub")
	}
	items, err := s.sync.FetchGitHub(ctx)
	if errors.Is(err, extsync.ErrNotConfigured) {
		return nil, integrationNotConfigured("GitHub")
	}
	if err != nil {
		return nil, upstreamError("GitHub", err)
	}
	return items, nil
}

func (s *Service) FeaturebasePosts(ctx context.Context) (extsync.FeaturebaseFetch, error) {
	if s.sync == nil {
		return extsync.FeaturebaseFetch{}, integrationNotConfigured("Featurebase")
	}
	fetch, err := s.sync.FetchFeaturebase(ctx)
	if errors.Is(err, extsync.ErrNotConfigured) {
		return extsync.FeaturebaseFetch{}, integrationNotConfigured("Featurebase")
	}
	if err != nil {
		return extsync.FeaturebaseFetch{}, upstreamError("Featurebase", err)
	}
	return fetch, nil
}

func (s *Service) R2Analytics(ctx context.Context, days int) (analytics.R2Summary, error) {
	if s.analytics == nil {
		return analytics.R2Summary{}, integrationNotConfigured("Cloudflare analytics")
	}
	summary, err := s.analytics.R2(ctx, days)
	if errors.Is(err, analytics.ErrNotConfigured) {
		return analytics.R2Summary{}, integrationNotConfigured("Cloudflare analytics")
	}
	if err != nil {
		return analytics.R2Summary{}, upstreamError("Cloudflare analytics", err)
	}
	return summary, nil
}

func integrationNotConfigured(name string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "NOT_CONFIGURED", name+" is not configured", nil)
}

func upstreamError(name string, err error) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_ERROR", name+" request failed", map[string]any{"message": err.Error()})
}
