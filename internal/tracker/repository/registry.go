package repository

import (
	"sort"
	"strings"
	"sync"
	"time"

	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
)

// Registry holds every submission seen since the daemon started.
// All methods are safe for concurrent use and return copies.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*model.SubmissionRecord
	evicted map[string]struct{}
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*model.SubmissionRecord),
		evicted: make(map[string]struct{}),
		now:     time.Now,
	}
}

// RegisterIfAbsent stores rec as a new pending record unless its id is known.
// The first observation of an id wins; later ones get the existing record
// back with created=false.
func (r *Registry) RegisterIfAbsent(rec model.SubmissionRecord) (model.SubmissionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[rec.ID]; ok {
		return *existing, false
	}
	if _, ok := r.evicted[rec.ID]; ok {
		return model.SubmissionRecord{ID: rec.ID, Method: rec.Method, State: model.StateFinal}, false
	}
	rec.State = model.StatePending
	rec.Verdict = ""
	rec.Attempts = 0
	rec.FinishedAt = nil
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	stored := rec
	r.records[rec.ID] = &stored
	return stored, true
}

// AttachProblemInfo sets the enrichment fields. Unknown ids are ignored.
func (r *Registry) AttachProblemInfo(id string, info model.ProblemInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.ProblemName = info.Name
	rec.ProblemCode = info.Code
	return true
}

// IncrAttempts counts one poll attempt and returns the new total.
func (r *Registry) IncrAttempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return 0
	}
	rec.Attempts++
	return rec.Attempts
}

// MarkFinal moves a pending record to final. Only the call that performs
// the transition gets transitioned=true; the notifier keys off that.
func (r *Registry) MarkFinal(id, verdict string) (model.SubmissionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return model.SubmissionRecord{}, false
	}
	if rec.State == model.StateFinal {
		return *rec, false
	}
	now := r.now()
	rec.State = model.StateFinal
	rec.Verdict = verdict
	rec.FinishedAt = &now
	return *rec, true
}

// Get returns the record for id.
func (r *Registry) Get(id string) (model.SubmissionRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.SubmissionRecord{}, appErr.ValidationError("id", "required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return model.SubmissionRecord{}, appErr.Newf(appErr.SubmissionNotFound, "submission %s is not tracked", id)
	}
	return *rec, nil
}

// List returns all records, newest first.
func (r *Registry) List() []model.SubmissionRecord {
	r.mu.RLock()
	out := make([]model.SubmissionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Pending returns the number of records still awaiting a verdict.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.State == model.StatePending {
			n++
		}
	}
	return n
}

// EvictFinishedBefore drops final records that finished before cutoff.
// Pending records are never evicted. Evicted ids are remembered so they are
// never tracked a second time.
func (r *Registry) EvictFinishedBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.records {
		if rec.State == model.StateFinal && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(r.records, id)
			r.evicted[id] = struct{}{}
			n++
		}
	}
	return n
}
