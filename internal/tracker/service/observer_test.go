package service

import (
	"net/http"
	"testing"

	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverClassify(t *testing.T) {
	obs := NewObserver(ObserverConfig{})

	cases := []struct {
		name       string
		req        model.ObservedRequest
		wantCode   appErr.ErrorCode
		wantID     string
		wantMethod model.Method
		wantURL    string
		wantToken  string
	}{
		{
			name: "classic with token",
			req: model.ObservedRequest{
				URL:    "https://www.codechef.com/api/v4/submissions/41025313",
				Header: http.Header{"X-Csrf-Token": {"abc"}},
			},
			wantID:     "41025313",
			wantMethod: model.MethodClassic,
			wantURL:    "https://www.codechef.com/api/v4/submissions/41025313",
			wantToken:  "abc",
		},
		{
			name: "classic token header in lower case",
			req: model.ObservedRequest{
				URL:    "https://www.codechef.com/api/v4/submissions/7?x=1",
				Header: http.Header{"x-csrf-token": {"lower"}},
			},
			wantID:     "7",
			wantMethod: model.MethodClassic,
			wantURL:    "https://www.codechef.com/api/v4/submissions/7?x=1",
			wantToken:  "lower",
		},
		{
			name:     "classic without token",
			req:      model.ObservedRequest{URL: "https://www.codechef.com/api/v4/submissions/8"},
			wantCode: appErr.TokenMissing,
		},
		{
			name:       "ide submission",
			req:        model.ObservedRequest{URL: "https://www.codechef.com/api/ide/submit?solution_id=555&lang=cpp"},
			wantID:     "555",
			wantMethod: model.MethodIDE,
			wantURL:    "https://www.codechef.com/error_status_table/555/",
		},
		{
			name:     "ide without solution id",
			req:      model.ObservedRequest{URL: "https://www.codechef.com/api/ide/submit"},
			wantCode: appErr.PatternNotMatched,
		},
		{
			name:     "ide with non numeric id",
			req:      model.ObservedRequest{URL: "https://www.codechef.com/api/ide/submit?solution_id=abc"},
			wantCode: appErr.PatternNotMatched,
		},
		{
			name: "other host",
			req: model.ObservedRequest{
				URL:    "https://evil.example.com/api/v4/submissions/1",
				Header: http.Header{"X-Csrf-Token": {"abc"}},
			},
			wantCode: appErr.PatternNotMatched,
		},
		{
			name:     "unrelated path",
			req:      model.ObservedRequest{URL: "https://www.codechef.com/problems/CHEFSTR"},
			wantCode: appErr.PatternNotMatched,
		},
		{
			name:     "garbage url",
			req:      model.ObservedRequest{URL: "::not a url"},
			wantCode: appErr.PatternNotMatched,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := obs.Classify(tc.req)
			if tc.wantCode != 0 {
				require.Error(t, err)
				assert.True(t, appErr.Is(err, tc.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, rec.ID)
			assert.Equal(t, tc.wantMethod, rec.Method)
			assert.Equal(t, tc.wantURL, rec.Target.URL)
			assert.Equal(t, tc.wantToken, rec.Target.Token)
		})
	}
}

func TestObserverCustomTokenHeader(t *testing.T) {
	obs := NewObserver(ObserverConfig{JudgeHost: "Judge.Test", TokenHeader: "X-Anti-Forgery"})

	rec, err := obs.Classify(model.ObservedRequest{
		URL:    "https://judge.test:8443/api/v4/submissions/12",
		Header: http.Header{"X-Anti-Forgery": {"t"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "t", rec.Target.Token)
	assert.True(t, obs.Interesting("judge.test:443"))
	assert.False(t, obs.Interesting("other.test:443"))
}

func TestObserverJudgeHostWithPort(t *testing.T) {
	obs := NewObserver(ObserverConfig{JudgeHost: "LocalHost:8080"})
	assert.Equal(t, "localhost", obs.JudgeHost())
	assert.True(t, obs.Interesting("localhost:8080"))
	assert.True(t, obs.Interesting("localhost"))
	assert.False(t, obs.Interesting("example.com:8080"))

	rec, err := obs.Classify(model.ObservedRequest{
		URL:    "http://localhost:8080/api/v4/submissions/12",
		Header: http.Header{"X-Csrf-Token": {"t"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "12", rec.ID)

	rec, err = obs.Classify(model.ObservedRequest{URL: "http://localhost:8080/api/ide/submit?solution_id=34"})
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:8080/error_status_table/34/", rec.Target.URL)
}
