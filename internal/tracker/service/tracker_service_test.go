package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"subwatch/internal/tracker/model"
	"subwatch/internal/tracker/repository"
	appErr "subwatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackerFixture struct {
	svc      *TrackerService
	registry *repository.Registry
	notifier *fakeNotifier
}

func newTrackerFixture(t *testing.T, judgeHost string, provider ProblemProvider, retention time.Duration) *trackerFixture {
	t.Helper()
	reg := repository.NewRegistry()
	n := &fakeNotifier{}
	poller := newTestPoller(t, reg, n, 0)
	svc, err := NewTrackerService(Config{
		Registry: reg,
		Observer: NewObserver(ObserverConfig{
			JudgeHost:           judgeHost,
			StatusTableTemplate: "http://%s/error_status_table/%s/",
		}),
		Provider:        provider,
		Poller:          poller,
		EnrichTimeout:   50 * time.Millisecond,
		Retention:       retention,
		JanitorInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &trackerFixture{svc: svc, registry: reg, notifier: n}
}

func classicRequest(judge *scriptedJudge, id, token string) model.ObservedRequest {
	h := http.Header{}
	if token != "" {
		h.Set("x-csrf-token", token)
	}
	return model.ObservedRequest{Method: http.MethodGet, URL: judge.srv.URL + "/api/v4/submissions/" + id, Header: h}
}

func TestTrackerClassicEndToEnd(t *testing.T) {
	judge := newScriptedJudge(t,
		judgeResponse{200, classicBody("waiting")},
		judgeResponse{200, classicBody("AC")},
	)
	provider := &fakeProvider{info: model.ProblemInfo{Name: "Chef and Strings", Code: "CHEFSTR"}}
	f := newTrackerFixture(t, "127.0.0.1", provider, 0)

	res, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "41025313", "tok"))
	require.NoError(t, err)
	assert.Equal(t, model.ObserveResult{Matched: true, Created: true, ID: "41025313", Method: model.MethodClassic}, res)

	f.svc.Wait()
	assert.Equal(t, []notification{{"Chef and Strings", "CHEFSTR", "AC"}}, f.notifier.Calls())
	assert.Equal(t, 2, judge.Hits())
}

func TestTrackerDuplicateObservationIsNoop(t *testing.T) {
	judge := newScriptedJudge(t,
		judgeResponse{200, classicBody("waiting")},
		judgeResponse{200, classicBody("AC")},
	)
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 0)

	first, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "77", "tok"))
	require.NoError(t, err)
	second, err := f.svc.Observe(context.Background(), SourceProxy, classicRequest(judge, "77", "other"))
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	f.svc.Wait()
	assert.Len(t, f.notifier.Calls(), 1)
	assert.Equal(t, 2, judge.Hits(), "only one polling loop runs")

	rec, err := f.svc.Get("77")
	require.NoError(t, err)
	assert.Equal(t, "tok", rec.Target.Token)
}

func TestTrackerMissingTokenCreatesNothing(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("AC")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{}, 0)

	res, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "88", ""))
	assert.True(t, appErr.Is(err, appErr.TokenMissing))
	assert.True(t, res.Matched)
	assert.False(t, res.Created)

	f.svc.Wait()
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 0, judge.Hits())
	assert.Empty(t, f.notifier.Calls())
}

func TestTrackerIgnoresUnrelatedRequests(t *testing.T) {
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{}, 0)

	res, err := f.svc.Observe(context.Background(), SourceAPI, model.ObservedRequest{URL: "http://127.0.0.1/problems/ABC"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 0, f.registry.Len())
}

func TestTrackerEnrichmentFailureStillNotifies(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("WA")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{err: errProviderDown}, 0)

	_, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "99", "tok"))
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, []notification{{model.UnknownProblemName, "99", "WA"}}, f.notifier.Calls())
}

func TestTrackerEnrichmentTimeoutFallsBack(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("AC")})
	slow := &fakeProvider{info: model.ProblemInfo{Name: "Late", Code: "LATE"}, delay: time.Second}
	f := newTrackerFixture(t, "127.0.0.1", slow, 0)

	_, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "100", "tok"))
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, []notification{{model.UnknownProblemName, "100", "AC"}}, f.notifier.Calls())
}

func TestTrackerIDEEndToEnd(t *testing.T) {
	judge := newScriptedJudge(t,
		judgeResponse{200, ideBody("Waiting...")},
		judgeResponse{200, ideBody("Wrong Answer")},
	)
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "IDE Problem", Code: "IDEP"}}, 0)

	res, err := f.svc.Observe(context.Background(), SourceProxy, model.ObservedRequest{
		Method: http.MethodPost,
		URL:    judge.srv.URL + "/api/ide/submit?solution_id=555",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MethodIDE, res.Method)

	rec, err := f.svc.Get("555")
	require.NoError(t, err)
	assert.Equal(t, "http://"+judge.Host()+"/error_status_table/555/", rec.Target.URL)

	f.svc.Wait()
	assert.Equal(t, []notification{{"IDE Problem", "IDEP", "Wrong Answer"}}, f.notifier.Calls())
}

func TestTrackerRequestContextCancelDoesNotStopTracking(t *testing.T) {
	judge := newScriptedJudge(t,
		judgeResponse{200, classicBody("waiting")},
		judgeResponse{200, classicBody("AC")},
	)
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 0)

	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.Observe(reqCtx, SourceAPI, classicRequest(judge, "5", "tok"))
	require.NoError(t, err)
	cancel()

	f.svc.Wait()
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestTrackerShutdownAbandonsLoops(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("waiting")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 0)

	_, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "6", "tok"))
	require.NoError(t, err)
	require.True(t, waitFor(t, time.Second, func() bool { return judge.Hits() >= 1 }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Empty(t, f.notifier.Calls())

	hits := judge.Hits()
	time.Sleep(3 * testInterval)
	assert.Equal(t, hits, judge.Hits(), "no polls after shutdown")
}

func TestTrackerObserveAfterShutdownIsIgnored(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("AC")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	res, err := f.svc.Observe(context.Background(), SourceProxy, classicRequest(judge, "123", "tok"))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.False(t, res.Created)

	f.svc.Wait()
	_, err = f.svc.Get("123")
	assert.True(t, appErr.Is(err, appErr.SubmissionNotFound))
	assert.Zero(t, judge.Hits())
	assert.Empty(t, f.notifier.Calls())
}

func TestTrackerShutdownTimeoutStopsPoller(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("waiting")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 0)

	_, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "9", "tok"))
	require.NoError(t, err)
	require.True(t, waitFor(t, time.Second, func() bool { return judge.Hits() >= 1 }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.svc.Shutdown(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.True(t, f.svc.poller.pool.Stopped())
	f.svc.Wait()
}

func TestTrackerJanitorEvictsFinished(t *testing.T) {
	judge := newScriptedJudge(t, judgeResponse{200, classicBody("AC")})
	f := newTrackerFixture(t, "127.0.0.1", &fakeProvider{info: model.ProblemInfo{Name: "A", Code: "B"}}, 30*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)

	_, err := f.svc.Observe(context.Background(), SourceAPI, classicRequest(judge, "11", "tok"))
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, waitFor(t, time.Second, func() bool { return f.registry.Len() == 0 }))
	assert.Empty(t, f.svc.List())
}
