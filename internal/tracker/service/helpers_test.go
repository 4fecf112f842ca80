package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/model"
)

const testInterval = 20 * time.Millisecond

type notification struct {
	name, code, verdict string
}

type fakeNotifier struct {
	mu     sync.Mutex
	calls  []notification
	err    error
	panics bool
}

func (f *fakeNotifier) Notify(ctx context.Context, problemName, problemCode, verdict string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{problemName, problemCode, verdict})
	if f.panics {
		panic("notifier exploded")
	}
	return f.err
}

func (f *fakeNotifier) Calls() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.calls...)
}

type fakeProvider struct {
	info  model.ProblemInfo
	err   error
	delay time.Duration
}

func (f *fakeProvider) ProblemInfo(ctx context.Context, submissionID string) (model.ProblemInfo, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.ProblemInfo{}, ctx.Err()
		}
	}
	return f.info, f.err
}

var errProviderDown = errors.New("content script unreachable")

// scriptedJudge serves a fixed sequence of responses and then repeats the last one.
type scriptedJudge struct {
	t         *testing.T
	responses []judgeResponse
	hits      atomic.Int32
	inFlight  atomic.Int32
	overlap   atomic.Bool
	srv       *httptest.Server
}

type judgeResponse struct {
	status int
	body   string
}

func newScriptedJudge(t *testing.T, responses ...judgeResponse) *scriptedJudge {
	t.Helper()
	j := &scriptedJudge{t: t, responses: responses}
	j.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if j.inFlight.Add(1) > 1 {
			j.overlap.Store(true)
		}
		defer j.inFlight.Add(-1)
		n := int(j.hits.Add(1)) - 1
		if n >= len(j.responses) {
			n = len(j.responses) - 1
		}
		resp := j.responses[n]
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(j.srv.Close)
	return j
}

func (j *scriptedJudge) Hits() int {
	return int(j.hits.Load())
}

// Host returns the server address as host:port.
func (j *scriptedJudge) Host() string {
	return strings.TrimPrefix(j.srv.URL, "http://")
}

func classicBody(code string) string {
	return `{"result":{"data":{"content":{"result_code":"` + code + `"}}}}`
}

func ideBody(cell string) string {
	return `<table><tr><td>1</td><td>C++</td><td>` + cell + `</td></tr></table>`
}

func testClient() *httpclient.Client {
	return httpclient.New(time.Second, "subwatch-test", nil)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
