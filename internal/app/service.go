package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"lumen/api/internal/analytics"
	"lumen/api/internal/config"
	"lumen/api/internal/diagnostics"
	"lumen/api/internal/extsync"
	"lumen/api/internal/metrics"
	"lumen/api/internal/store"
	"lumen/api/internal/throttle"
)

const (
	downloadLimit  = 40
	feedbackLimit  = 10
	limitWindow    = 5 * time.Minute
	downloadDedup  = 30 * time.Second
	defaultPerPage = 50
	maxPerPage     = 200
)

type dataStore interface {
	Ping(context.Context) error
	InsertFeedback(context.Context, store.Feedback) (int64, error)
	GetFeedback(context.Context, int64) (store.Feedback, error)
	ListFeedback(context.Context, store.FeedbackFilter) ([]store.Feedback, int, error)
	UpdateFeedbackAdmin(context.Context, int64, store.AdminUpdate) (bool, error)
	TouchFeedback(context.Context, int64) error
	DeleteFeedback(context.Context, int64) (bool, error)
	FeedbackStats(context.Context) (store.FeedbackStats, error)
	AddNote(context.Context, int64, string, string) (store.Note, error)
	ListNotes(context.Context, int64) ([]store.Note, error)
	DeleteNote(context.Context, int64, int64) (bool, error)
	SetScreenshot(context.Context, int64, store.Screenshot) error
	GetScreenshot(context.Context, int64) (store.Screenshot, error)
	InsertDownload(context.Context, store.Download) (int64, error)
	DownloadStats(context.Context, int) (store.DownloadStats, error)
}

type diagnosticsService interface {
	Upsert(ctx context.Context, feedbackID int64, payload map[string]any, opts diagnostics.Options) error
	LoadByFeedbackIDs(ctx context.Context, ids []int64) (map[int64]diagnostics.State, error)
}

type syncService interface {
	Run(context.Context) (extsync.RunResult, error)
	FetchGitHub(context.Context) ([]extsync.Item, error)
	FetchFeaturebase(context.Context) (extsync.FeaturebaseFetch, error)
}

type searchService interface {
	Apply(store.FeedbackFilter) store.FeedbackFilter
	IndexFeedback(store.Feedback)
	DeleteFeedback(int64)
}

type screenshotStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

type r2Analytics interface {
	R2(ctx context.Context, days int) (analytics.R2Summary, error)
}

// Deps are the optional collaborators. Leave a field nil when the backing
// integration is not configured; limiters default to in-memory ones.
type Deps struct {
	Sync            syncService
	Search          searchService
	Screenshots     screenshotStore
	Analytics       r2Analytics
	DownloadLimiter throttle.Limiter
	FeedbackLimiter throttle.Limiter
	Deduper         throttle.Deduper
	Metrics         *metrics.Metrics
}

type Service struct {
	cfg             config.Config
	store           dataStore
	diagnostics     diagnosticsService
	sync            syncService
	search          searchService
	screenshots     screenshotStore
	analytics       r2Analytics
	downloadLimiter throttle.Limiter
	feedbackLimiter throttle.Limiter
	deduper         throttle.Deduper
	metrics         *metrics.Metrics
	validate        *validator.Validate
}

func New(cfg config.Config, dataStore *store.SQLStore, deps Deps) *Service {
	return newService(cfg, dataStore, diagnostics.NewService(dataStore), deps)
}

func newService(cfg config.Config, st dataStore, diag diagnosticsService, deps Deps) *Service {
	if deps.DownloadLimiter == nil {
		deps.DownloadLimiter = throttle.NewMemoryLimiter(downloadLimit, limitWindow)
	}
	if deps.FeedbackLimiter == nil {
		deps.FeedbackLimiter = throttle.NewMemoryLimiter(feedbackLimit, limitWindow)
	}
	if deps.Deduper == nil {
		deps.Deduper = throttle.NewMemoryDeduper(downloadDedup)
	}
	return &Service{
		cfg:             cfg,
		store:           st,
		diagnostics:     diag,
		sync:            deps.Sync,
		search:          deps.Search,
		screenshots:     deps.Screenshots,
		analytics:       deps.Analytics,
		downloadLimiter: deps.DownloadLimiter,
		feedbackLimiter: deps.FeedbackLimiter,
		deduper:         deps.Deduper,
		metrics:         deps.Metrics,
		validate:        newValidator(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AdminToken() string {
	return s.cfg.AdminToken
}

func (s *Service) indexFeedback(item store.Feedback) {
	if s.search != nil {
		s.search.IndexFeedback(item)
	}
}

// UseRedis points the limiters and the deduper at a shared Redis so limits
// hold across instances.
func (d *Deps) UseRedis(backend *throttle.RedisBackend) {
	d.DownloadLimiter = backend.Limiter("downloads", downloadLimit, limitWindow)
	d.FeedbackLimiter = backend.Limiter("feedback", feedbackLimit, limitWindow)
	d.Deduper = backend.Deduper("download-dedup", downloadDedup)
}
