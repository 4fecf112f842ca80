package repository

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classicRecord(id string) model.SubmissionRecord {
	return model.SubmissionRecord{
		ID:     id,
		Method: model.MethodClassic,
		Target: model.PollTarget{URL: "https://www.codechef.com/api/v4/submissions/" + id, Token: "tok"},
	}
}

func TestRegisterIfAbsentFirstSeenWins(t *testing.T) {
	reg := NewRegistry()

	rec, created := reg.RegisterIfAbsent(classicRecord("100"))
	require.True(t, created)
	assert.Equal(t, model.StatePending, rec.State)
	assert.False(t, rec.CreatedAt.IsZero())

	second := model.SubmissionRecord{ID: "100", Method: model.MethodIDE}
	got, created := reg.RegisterIfAbsent(second)
	assert.False(t, created)
	assert.Equal(t, model.MethodClassic, got.Method, "method is immutable after creation")
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterIfAbsentConcurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := reg.RegisterIfAbsent(classicRecord("7")); created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
}

func TestAttachProblemInfo(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.AttachProblemInfo("missing", model.ProblemInfo{Name: "x", Code: "y"}))

	reg.RegisterIfAbsent(classicRecord("1"))
	require.True(t, reg.AttachProblemInfo("1", model.ProblemInfo{Name: "Chef and Strings", Code: "CHEFSTR"}))

	rec, err := reg.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "Chef and Strings (CHEFSTR)", rec.Label())
}

func TestMarkFinalTransitionsOnce(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterIfAbsent(classicRecord("5"))

	rec, transitioned := reg.MarkFinal("5", "AC")
	require.True(t, transitioned)
	assert.True(t, rec.Final())
	assert.Equal(t, "AC", rec.Verdict)
	require.NotNil(t, rec.FinishedAt)

	rec, transitioned = reg.MarkFinal("5", "WA")
	assert.False(t, transitioned)
	assert.Equal(t, "AC", rec.Verdict)

	_, transitioned = reg.MarkFinal("unknown", "AC")
	assert.False(t, transitioned)
}

func TestIncrAttempts(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.IncrAttempts("none"))

	reg.RegisterIfAbsent(classicRecord("9"))
	reg.IncrAttempts("9")
	assert.Equal(t, 2, reg.IncrAttempts("9"))
}

func TestGetErrors(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get(" ")
	assert.True(t, appErr.Is(err, appErr.ValidationFailed))

	_, err = reg.Get("404")
	assert.True(t, appErr.Is(err, appErr.SubmissionNotFound))
}

func TestListNewestFirst(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := classicRecord(strconv.Itoa(i))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		reg.RegisterIfAbsent(rec)
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "2", list[0].ID)
	assert.Equal(t, "0", list[2].ID)
	assert.Equal(t, 3, reg.Pending())
}

func TestEvictFinishedBefore(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now.Add(-time.Hour) }

	reg.RegisterIfAbsent(classicRecord("old"))
	reg.MarkFinal("old", "AC")
	reg.RegisterIfAbsent(classicRecord("pending"))

	assert.Equal(t, 1, reg.EvictFinishedBefore(now))
	assert.Equal(t, 1, reg.Len())

	rec, created := reg.RegisterIfAbsent(classicRecord("old"))
	assert.False(t, created, "evicted ids are not tracked again")
	assert.True(t, rec.Final())
	assert.Equal(t, 1, reg.Pending())
}
