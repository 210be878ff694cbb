package extsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"lumen/api/internal/store"
)

const runTimeout = 2 * time.Minute

var ErrNotConfigured = errors.New("integration not configured")

type IssueSource interface {
	FetchOpenIssues(ctx context.Context) ([]Item, int, error)
}

type BoardSource interface {
	FetchInReview(ctx context.Context) (FeaturebaseFetch, error)
}

type ServiceStore interface {
	Store
	GetFeedback(ctx context.Context, id int64) (store.Feedback, error)
}

// Indexer receives every row a run inserted or changed.
type Indexer interface {
	IndexFeedback(item store.Feedback)
}

// Observer is notified once per source after each run.
type Observer interface {
	ObserveSync(source, status string, changes int)
}

// Deps wires the optional collaborators of a Service. A nil source is
// reported as disabled.
type Deps struct {
	GitHub      IssueSource
	Featurebase BoardSource
	Indexer     Indexer
	Observer    Observer
}

type Service struct {
	store ServiceStore
	deps  Deps
	group singleflight.Group
	now   func() time.Time
}

func NewService(st ServiceStore, deps Deps) *Service {
	return &Service{store: st, deps: deps, now: time.Now}
}

// Run performs one full sync. Callers arriving while a run is in flight
// share its result instead of starting another.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	v, err, shared := s.group.Do("sync", func() (any, error) {
		// the run outlives a disconnecting caller so joined callers still get a result
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
		defer cancel()
		return s.run(runCtx)
	})
	if shared {
		log.Printf("sync: joined in-flight run")
	}
	result, _ := v.(RunResult)
	return result, err
}

func (s *Service) run(ctx context.Context) (RunResult, error) {
	started := s.now().UTC()
	result := RunResult{StartedAt: started}

	gh, err := s.syncGitHub(ctx)
	result.GitHub = gh
	s.observe(SourceGitHub, gh)
	if err != nil {
		result.DurationMs = s.now().Sub(started).Milliseconds()
		return result, err
	}

	result.Featurebase = s.syncFeaturebase(ctx)
	s.observe(SourceFeaturebase, result.Featurebase)

	s.index(ctx, gh.changed, result.Featurebase.changed)
	result.DurationMs = s.now().Sub(started).Milliseconds()
	log.Printf("sync: done in %dms github=%s featurebase=%s", result.DurationMs, result.GitHub.Status, result.Featurebase.Status)
	return result, nil
}

func (s *Service) syncGitHub(ctx context.Context) (SourceResult, error) {
	if s.deps.GitHub == nil {
		return SourceResult{Status: StatusDisabled, Reason: "github repository not configured"}, nil
	}
	items, pulls, err := s.deps.GitHub.FetchOpenIssues(ctx)
	if err != nil {
		return SourceResult{Status: StatusError, Reason: err.Error()}, fmt.Errorf("github sync: %w", err)
	}
	if pulls > 0 {
		log.Printf("sync: github ignored %d pull requests", pulls)
	}
	res, err := Reconcile(ctx, s.store, SourceGitHub, items, ReconcileOptions{
		ResolveMissing: true,
		DefaultTags:    []string{"source:github"},
	})
	if err != nil {
		res.Status, res.Reason = StatusError, err.Error()
		return res, fmt.Errorf("github sync: %w", err)
	}
	return res, nil
}

// syncFeaturebase never fails the run. Posts missing from the board are
// left alone because the scrape only sees part of it.
func (s *Service) syncFeaturebase(ctx context.Context) SourceResult {
	if s.deps.Featurebase == nil {
		return SourceResult{Status: StatusDisabled, Reason: "featurebase organization not configured"}
	}
	fetch, err := s.deps.Featurebase.FetchInReview(ctx)
	if err != nil {
		log.Printf("sync: featurebase skipped: %v", err)
		return SourceResult{Status: StatusSkipped, Reason: err.Error()}
	}
	if len(fetch.Items) == 0 {
		return SourceResult{Status: StatusSkipped, Reason: "no in-review posts found", Fetched: fetch.Skipped, Skipped: fetch.Skipped}
	}
	res, err := Reconcile(ctx, s.store, SourceFeaturebase, fetch.Items, ReconcileOptions{
		DefaultTags: []string{"source:featurebase"},
	})
	res.Skipped += fetch.Skipped
	res.Fetched += fetch.Skipped
	if err != nil {
		log.Printf("sync: featurebase skipped: %v", err)
		res.Status, res.Reason = StatusSkipped, err.Error()
	}
	return res
}

func (s *Service) observe(source string, res SourceResult) {
	if s.deps.Observer == nil {
		return
	}
	s.deps.Observer.ObserveSync(source, res.Status, res.Inserted+res.Updated+res.Reopened+res.Resolved)
}

func (s *Service) index(ctx context.Context, batches ...[]int64) {
	if s.deps.Indexer == nil {
		return
	}
	for _, ids := range batches {
		for _, id := range ids {
			item, err := s.store.GetFeedback(ctx, id)
			if err != nil {
				log.Printf("sync: reload feedback %d for index: %v", id, err)
				continue
			}
			s.deps.Indexer.IndexFeedback(item)
		}
	}
}

// FetchGitHub returns the mapped open issues without touching the store.
func (s *Service) FetchGitHub(ctx context.Context) ([]Item, error) {
	if s.deps.GitHub == nil {
		return nil, ErrNotConfigured
	}
	items, _, err := s.deps.GitHub.FetchOpenIssues(ctx)
	return items, err
}

// FetchFeaturebase returns the in-review posts without touching the store.
func (s *Service) FetchFeaturebase(ctx context.Context) (FeaturebaseFetch, error) {
	if s.deps.Featurebase == nil {
		return FeaturebaseFetch{}, ErrNotConfigured
	}
	return s.deps.Featurebase.FetchInReview(ctx)
}

// Schedule starts a cron that runs the sync on spec. The caller stops it.
func (s *Service) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Run(context.Background()); err != nil {
			log.Printf("sync: scheduled run failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("sync schedule %q: %w", spec, err)
	}
	c.Start()
	log.Printf("sync: scheduled with %q", spec)
	return c, nil
}
