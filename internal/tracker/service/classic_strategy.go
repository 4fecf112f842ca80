package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
)

// classicStatusResponse mirrors the part of the submissions API we read:
// result.data.content.result_code.
type classicStatusResponse struct {
	Result *struct {
		Data *struct {
			Content *struct {
				ResultCode *string `json:"result_code"`
			} `json:"content"`
		} `json:"data"`
	} `json:"result"`
}

func (r classicStatusResponse) resultCode() string {
	if r.Result == nil || r.Result.Data == nil || r.Result.Data.Content == nil || r.Result.Data.Content.ResultCode == nil {
		return ""
	}
	return strings.TrimSpace(*r.Result.Data.Content.ResultCode)
}

// ClassicStrategy polls the JSON submissions API with the captured token.
type ClassicStrategy struct {
	client      *httpclient.Client
	tokenHeader string
}

// NewClassicStrategy creates the strategy. An empty header name uses the judge default.
func NewClassicStrategy(client *httpclient.Client, tokenHeader string) *ClassicStrategy {
	if tokenHeader == "" {
		tokenHeader = DefaultTokenHeader
	}
	return &ClassicStrategy{client: client, tokenHeader: tokenHeader}
}

func (s *ClassicStrategy) Method() model.Method {
	return model.MethodClassic
}

// Poll fetches the submission and reports a final verdict once result_code
// is present and no longer "waiting".
func (s *ClassicStrategy) Poll(ctx context.Context, rec model.SubmissionRecord) (PollOutcome, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, rec.Target.URL, map[string]string{
		s.tokenHeader: rec.Target.Token,
		"Accept":      "application/json",
	}, nil)
	if err != nil {
		return PollOutcome{}, appErr.Wrapf(err, appErr.PollFailed, "fetch submission status")
	}
	if !resp.OK() {
		return PollOutcome{}, appErr.Newf(appErr.PollFailed, "submission status returned %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	var body classicStatusResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return PollOutcome{}, appErr.Wrapf(err, appErr.VerdictMalformed, "decode submission status")
	}
	return classifyClassicVerdict(body.resultCode()), nil
}

func classifyClassicVerdict(code string) PollOutcome {
	if code == "" || strings.EqualFold(code, "waiting") {
		return PollOutcome{Raw: code}
	}
	return PollOutcome{Final: true, Verdict: code, Raw: code}
}
