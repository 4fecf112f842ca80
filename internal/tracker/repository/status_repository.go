package repository

import (
	"context"
	"strings"
	"time"

	"subwatch/internal/common/cache"
	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
)

const (
	statusKey = "subwatch:status"

	fieldLastStatus  = "last_status"
	fieldLastProblem = "last_problem"
	fieldUpdatedAt   = "updated_at"
)

// StatusRepository persists the last finalized verdict and problem label.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
	now   func() time.Time
}

// NewStatusRepository creates a new repository. A zero ttl keeps the status forever.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl, now: time.Now}
}

// Save records the most recent outcome.
func (r *StatusRepository) Save(ctx context.Context, lastStatus, lastProblem string) error {
	if strings.TrimSpace(lastStatus) == "" {
		return appErr.ValidationError("last_status", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	fields := map[string]interface{}{
		fieldLastStatus:  lastStatus,
		fieldLastProblem: lastProblem,
		fieldUpdatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	if err := r.cache.HMSet(ctx, statusKey, fields); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store status failed")
	}
	if r.TTL > 0 {
		if err := r.cache.Expire(ctx, statusKey, r.TTL); err != nil {
			return appErr.Wrapf(err, appErr.CacheSetFailed, "set status ttl failed")
		}
	}
	return nil
}

// Get returns the stored status, or the idle defaults when nothing was saved yet.
func (r *StatusRepository) Get(ctx context.Context) (model.Status, error) {
	status := model.Status{LastStatus: model.DefaultLastStatus, LastProblem: model.DefaultLastProblem}
	if r.cache == nil {
		return status, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	vals, err := r.cache.HGetAll(ctx, statusKey)
	if err != nil {
		return status, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if v := vals[fieldLastStatus]; v != "" {
		status.LastStatus = v
	}
	if v := vals[fieldLastProblem]; v != "" {
		status.LastProblem = v
	}
	if v := vals[fieldUpdatedAt]; v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			status.UpdatedAt = &ts
		}
	}
	return status, nil
}

// Reset clears the stored status.
func (r *StatusRepository) Reset(ctx context.Context) error {
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := r.cache.Del(ctx, statusKey); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "reset status failed")
	}
	return nil
}

// Ping checks the backing store.
func (r *StatusRepository) Ping(ctx context.Context) error {
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	return r.cache.Ping(ctx)
}
