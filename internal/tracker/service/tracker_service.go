package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subwatch/internal/tracker/metrics"
	"subwatch/internal/tracker/model"
	"subwatch/internal/tracker/repository"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultEnrichTimeout   = 5 * time.Second
	defaultJanitorInterval = time.Minute
)

// Request sources, used as a metrics label.
const (
	SourceAPI   = "api"
	SourceProxy = "proxy"
)

// Config holds service dependencies and settings.
type Config struct {
	Registry      *repository.Registry
	Observer      *Observer
	Provider      ProblemProvider
	Poller        *Poller
	Metrics       *metrics.Metrics
	EnrichTimeout time.Duration
	// Retention evicts final records older than this. Zero keeps them all.
	Retention       time.Duration
	JanitorInterval time.Duration
}

// TrackerService observes requests and drives one tracking task per new submission.
type TrackerService struct {
	registry        *repository.Registry
	observer        *Observer
	provider        ProblemProvider
	poller          *Poller
	metrics         *metrics.Metrics
	enrichTimeout   time.Duration
	retention       time.Duration
	janitorInterval time.Duration

	base    context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	janitor sync.WaitGroup
}

// NewTrackerService creates the service. Tracking tasks live until Shutdown.
func NewTrackerService(cfg Config) (*TrackerService, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Observer == nil {
		return nil, fmt.Errorf("observer is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("problem provider is required")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	enrichTimeout := cfg.EnrichTimeout
	if enrichTimeout <= 0 {
		enrichTimeout = DefaultEnrichTimeout
	}
	janitorInterval := cfg.JanitorInterval
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &TrackerService{
		registry:        cfg.Registry,
		observer:        cfg.Observer,
		provider:        cfg.Provider,
		poller:          cfg.Poller,
		metrics:         m,
		enrichTimeout:   enrichTimeout,
		retention:       cfg.Retention,
		janitorInterval: janitorInterval,
		base:            base,
		cancel:          cancel,
	}, nil
}

// Start runs background housekeeping until ctx is done.
func (s *TrackerService) Start(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	s.janitor.Add(1)
	go func() {
		defer s.janitor.Done()
		ticker := time.NewTicker(s.janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.base.Done():
				return
			case now := <-ticker.C:
				if n := s.registry.EvictFinishedBefore(now.Add(-s.retention)); n > 0 {
					logger.Debug(ctx, "evicted finished submissions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Observe inspects one outgoing browser request. Unrelated requests and
// already-known submissions are ignored. A new submission is registered and
// its tracking task started in the background; Observe never waits for it.
func (s *TrackerService) Observe(ctx context.Context, source string, req model.ObservedRequest) (model.ObserveResult, error) {
	s.metrics.ObservedTotal.WithLabelValues(source).Inc()

	candidate, err := s.observer.Classify(req)
	if err != nil {
		if appErr.Is(err, appErr.PatternNotMatched) {
			return model.ObserveResult{}, nil
		}
		s.metrics.DiscardedTotal.WithLabelValues("token_missing").Inc()
		logger.Warn(ctx, "submission request discarded", zap.String("url", req.URL), zap.Error(err))
		return model.ObserveResult{Matched: true}, err
	}

	// Hijacked proxy connections outlive the HTTP server and may still report
	// requests while the service shuts down.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		logger.Debug(ctx, "service stopped, submission ignored", zap.String("submission_id", candidate.ID))
		return model.ObserveResult{Matched: true, ID: candidate.ID, Method: candidate.Method}, nil
	}

	rec, created := s.registry.RegisterIfAbsent(candidate)
	result := model.ObserveResult{Matched: true, Created: created, ID: rec.ID, Method: rec.Method}
	if !created {
		return result, nil
	}

	s.metrics.TrackedTotal.WithLabelValues(string(rec.Method)).Inc()
	logger.Info(ctx, "tracking submission",
		zap.String("submission_id", rec.ID),
		zap.String("method", string(rec.Method)),
		zap.String("source", source))
	s.track(ctx, rec.ID)
	return result, nil
}

// track runs enrich-then-poll for id. The task keeps the caller's log fields
// but is cancelled only by Shutdown.
func (s *TrackerService) track(reqCtx context.Context, id string) {
	s.metrics.PendingSubmissions.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.metrics.PendingSubmissions.Dec()

		ctx, cancel := context.WithCancel(context.WithoutCancel(reqCtx))
		defer cancel()
		stop := context.AfterFunc(s.base, cancel)
		defer stop()
		ctx = logger.WithSubmission(ctx, id)

		info := s.enrich(ctx, id)
		s.registry.AttachProblemInfo(id, info)

		if err := s.poller.Run(ctx, id); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "tracking stopped without verdict", zap.Error(err))
		}
	}()
}

func (s *TrackerService) enrich(ctx context.Context, id string) model.ProblemInfo {
	ectx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
	defer cancel()

	info, err := s.provider.ProblemInfo(ectx, id)
	if err != nil || info.Name == "" || info.Code == "" {
		s.metrics.EnrichmentTotal.WithLabelValues("fallback").Inc()
		logger.Warn(ctx, "problem info unavailable, using placeholder", zap.Error(err))
		return model.FallbackProblemInfo(id)
	}
	s.metrics.EnrichmentTotal.WithLabelValues("ok").Inc()
	return info
}

// Get returns one tracked submission.
func (s *TrackerService) Get(id string) (model.SubmissionRecord, error) {
	return s.registry.Get(id)
}

// List returns all tracked submissions, newest first.
func (s *TrackerService) List() []model.SubmissionRecord {
	return s.registry.List()
}

// Wait blocks until every tracking task has returned.
func (s *TrackerService) Wait() {
	s.wg.Wait()
}

// Shutdown abandons in-flight tracking and waits for tasks to exit or ctx to expire.
// Observe is a no-op once Shutdown has begun.
func (s *TrackerService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.janitor.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.poller.Stop()
	return err
}
