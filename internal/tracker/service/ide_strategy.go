package service

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strings"

	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// ideVerdictCell is the zero-based index of the verdict cell in the status table.
const ideVerdictCell = 2

var idePendingPattern = regexp.MustCompile(`(?i)waiting|queue|undefined`)

// IDEStrategy polls the public HTML status table of an IDE submission.
type IDEStrategy struct {
	client *httpclient.Client
}

// NewIDEStrategy creates the strategy.
func NewIDEStrategy(client *httpclient.Client) *IDEStrategy {
	return &IDEStrategy{client: client}
}

func (s *IDEStrategy) Method() model.Method {
	return model.MethodIDE
}

// Poll reads the third table cell of the status page.
func (s *IDEStrategy) Poll(ctx context.Context, rec model.SubmissionRecord) (PollOutcome, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, rec.Target.URL, map[string]string{"Accept": "text/html"}, nil)
	if err != nil {
		return PollOutcome{}, appErr.Wrapf(err, appErr.PollFailed, "fetch status table")
	}
	if !resp.OK() {
		return PollOutcome{}, appErr.Newf(appErr.PollFailed, "status table returned %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return PollOutcome{}, appErr.Wrapf(err, appErr.VerdictMalformed, "parse status table")
	}
	cells := doc.Find("td")
	if cells.Length() <= ideVerdictCell {
		return PollOutcome{}, nil
	}
	return classifyIDEVerdict(cells.Eq(ideVerdictCell).Text()), nil
}

func classifyIDEVerdict(text string) PollOutcome {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" || idePendingPattern.MatchString(text) {
		return PollOutcome{Raw: text}
	}
	return PollOutcome{Final: true, Verdict: text, Raw: text}
}
