package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"subwatch/internal/tracker/metrics"
	"subwatch/internal/tracker/model"
	"subwatch/internal/tracker/repository"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"github.com/gammazero/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultAttemptTimeout     = 15 * time.Second
	DefaultMaxConcurrentPolls = 4
)

// PollOutcome is the result of one successful status fetch.
type PollOutcome struct {
	Final   bool
	Verdict string
	// Raw is the status text as read, kept for logs.
	Raw string
}

// StatusStrategy fetches the current status of one submission.
// An error means the attempt failed and will be retried.
type StatusStrategy interface {
	Method() model.Method
	Poll(ctx context.Context, rec model.SubmissionRecord) (PollOutcome, error)
}

// PollerConfig holds poller dependencies and settings.
type PollerConfig struct {
	Registry           *repository.Registry
	Notifier           Notifier
	Strategies         []StatusStrategy
	Metrics            *metrics.Metrics
	Interval           time.Duration
	AttemptTimeout     time.Duration
	MaxAttempts        int
	MaxConcurrentPolls int
}

// Poller runs the per-submission verdict loop.
type Poller struct {
	registry       *repository.Registry
	notifier       Notifier
	strategies     map[model.Method]StatusStrategy
	metrics        *metrics.Metrics
	interval       time.Duration
	attemptTimeout time.Duration
	maxAttempts    int
	pool           *workerpool.WorkerPool

	mu      sync.RWMutex
	stopped bool
}

var errPollerStopped = errors.New("poller stopped")

type attemptResult struct {
	outcome PollOutcome
	err     error
}

// NewPoller creates a poller. Attempts from all submissions share a pool of
// MaxConcurrentPolls workers.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("at least one status strategy is required")
	}
	strategies := make(map[model.Method]StatusStrategy, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		strategies[s.Method()] = s
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	workers := cfg.MaxConcurrentPolls
	if workers <= 0 {
		workers = DefaultMaxConcurrentPolls
	}
	return &Poller{
		registry:       cfg.Registry,
		notifier:       cfg.Notifier,
		strategies:     strategies,
		metrics:        m,
		interval:       interval,
		attemptTimeout: attemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		pool:           workerpool.New(workers),
	}, nil
}

// Run polls the submission until a final verdict, ctx cancellation or the
// attempt cap. Transient failures are retried after the fixed interval.
// The notifier fires only for the call that moved the record to final.
func (p *Poller) Run(ctx context.Context, id string) error {
	ctx = logger.WithSubmission(ctx, id)
	for {
		rec, err := p.registry.Get(id)
		if err != nil {
			return err
		}
		if rec.Final() {
			return nil
		}
		strategy, ok := p.strategies[rec.Method]
		if !ok {
			return appErr.Newf(appErr.InvalidValue, "no status strategy for method %q", rec.Method)
		}

		attempts := p.registry.IncrAttempts(id)
		outcome, err := p.attempt(ctx, strategy, rec)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errPollerStopped):
			return appErr.Wrap(err, appErr.ServiceUnavailable)
		case err != nil:
			p.metrics.PollAttemptsTotal.WithLabelValues(string(rec.Method), "error").Inc()
			logger.Warn(ctx, "status poll failed, will retry",
				zap.Int("attempt", attempts), zap.Duration("retry_in", p.interval), zap.Error(err))
		case outcome.Final:
			p.metrics.PollAttemptsTotal.WithLabelValues(string(rec.Method), "final").Inc()
			p.finish(ctx, id, outcome.Verdict)
			return nil
		default:
			p.metrics.PollAttemptsTotal.WithLabelValues(string(rec.Method), "pending").Inc()
			logger.Debug(ctx, "verdict pending", zap.Int("attempt", attempts), zap.String("status", outcome.Raw))
		}

		if p.maxAttempts > 0 && attempts >= p.maxAttempts {
			logger.Warn(ctx, "giving up on submission", zap.Int("attempts", attempts))
			return appErr.Newf(appErr.PollExhausted, "no verdict after %d attempts", attempts)
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt runs one poll on the shared pool and waits for it. The loop never
// issues the next attempt for an id before this one returns.
func (p *Poller) attempt(ctx context.Context, strategy StatusStrategy, rec model.SubmissionRecord) (PollOutcome, error) {
	done := make(chan attemptResult, 1)
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return PollOutcome{}, errPollerStopped
	}
	p.pool.Submit(func() {
		actx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
		start := time.Now()
		outcome, err := strategy.Poll(actx, rec)
		p.metrics.PollDuration.WithLabelValues(string(rec.Method)).Observe(time.Since(start).Seconds())
		done <- attemptResult{outcome: outcome, err: err}
	})
	p.mu.RUnlock()
	select {
	case res := <-done:
		return res.outcome, res.err
	case <-ctx.Done():
		return PollOutcome{}, ctx.Err()
	}
}

func (p *Poller) finish(ctx context.Context, id, verdict string) {
	rec, transitioned := p.registry.MarkFinal(id, verdict)
	if !transitioned {
		return
	}
	p.metrics.VerdictsTotal.WithLabelValues(string(rec.Method), verdict).Inc()
	logger.Info(ctx, "verdict received",
		zap.String("verdict", verdict),
		zap.String("problem", rec.Label()),
		zap.Int("attempts", rec.Attempts))

	name, code := rec.ProblemName, rec.ProblemCode
	if name == "" || code == "" {
		fallback := model.FallbackProblemInfo(id)
		name, code = fallback.Name, fallback.Code
	}
	if err := safeNotify(ctx, p.notifier, name, code, verdict); err != nil {
		p.metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logger.Warn(ctx, "notify failed", zap.Error(err))
		return
	}
	p.metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}

// Stop waits for queued attempts and releases the pool workers. Attempts
// started afterwards fail with ServiceUnavailable instead of being queued.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.pool.StopWait()
}
