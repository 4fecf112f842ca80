package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
)

const (
	DefaultJudgeHost           = "www.codechef.com"
	DefaultTokenHeader         = "x-csrf-token"
	DefaultStatusTableTemplate = "https://%s/error_status_table/%s/"

	ideSubmitPath    = "/api/ide/submit"
	ideSolutionParam = "solution_id"
)

var (
	classicSubmissionPattern = regexp.MustCompile(`/api/v4/submissions/(\d+)`)
	digitsPattern            = regexp.MustCompile(`^\d+$`)
)

// ObserverConfig holds the judge-specific request patterns.
type ObserverConfig struct {
	JudgeHost           string
	TokenHeader         string
	StatusTableTemplate string
}

// Observer turns observed browser requests into candidate submission records.
// It holds no state; deduplication is the registry's job.
type Observer struct {
	judgeHost   string
	tokenHeader string
	tableTmpl   string
}

// NewObserver creates an observer, filling unset fields with the judge defaults.
func NewObserver(cfg ObserverConfig) *Observer {
	o := &Observer{
		judgeHost:   stripPort(strings.ToLower(strings.TrimSpace(cfg.JudgeHost))),
		tokenHeader: strings.TrimSpace(cfg.TokenHeader),
		tableTmpl:   cfg.StatusTableTemplate,
	}
	if o.judgeHost == "" {
		o.judgeHost = DefaultJudgeHost
	}
	if o.tokenHeader == "" {
		o.tokenHeader = DefaultTokenHeader
	}
	if o.tableTmpl == "" {
		o.tableTmpl = DefaultStatusTableTemplate
	}
	return o
}

// JudgeHost returns the host whose requests are observed, without any port.
func (o *Observer) JudgeHost() string {
	return o.judgeHost
}

// Interesting reports whether a request to host could carry a submission.
// The proxy uses it to decide which CONNECT tunnels to intercept.
func (o *Observer) Interesting(host string) bool {
	return strings.EqualFold(stripPort(host), o.judgeHost)
}

// Classify extracts a submission record from req.
// It returns PatternNotMatched for unrelated requests and TokenMissing for a
// classic submission request without the anti-forgery header.
func (o *Observer) Classify(req model.ObservedRequest) (model.SubmissionRecord, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || u.Host == "" {
		return model.SubmissionRecord{}, appErr.New(appErr.PatternNotMatched).WithDetail("url", req.URL)
	}
	if !o.Interesting(u.Host) {
		return model.SubmissionRecord{}, appErr.New(appErr.PatternNotMatched).WithDetail("host", u.Host)
	}

	if m := classicSubmissionPattern.FindStringSubmatch(u.Path); m != nil {
		token := headerValue(req.Header, o.tokenHeader)
		if token == "" {
			return model.SubmissionRecord{}, appErr.New(appErr.TokenMissing).WithDetail("submission_id", m[1])
		}
		return model.SubmissionRecord{
			ID:     m[1],
			Method: model.MethodClassic,
			Target: model.PollTarget{URL: u.String(), Token: token},
		}, nil
	}

	if strings.Contains(u.Path, ideSubmitPath) {
		id := strings.TrimSpace(u.Query().Get(ideSolutionParam))
		if digitsPattern.MatchString(id) {
			return model.SubmissionRecord{
				ID:     id,
				Method: model.MethodIDE,
				Target: model.PollTarget{URL: fmt.Sprintf(o.tableTmpl, u.Host, id)},
			}, nil
		}
	}

	return model.SubmissionRecord{}, appErr.New(appErr.PatternNotMatched).WithDetail("path", u.Path)
}

// headerValue looks a header up by name, case-insensitively, including
// non-canonical keys that arrive through JSON reports.
func headerValue(h map[string][]string, name string) string {
	for key, values := range h {
		if !strings.EqualFold(key, name) {
			continue
		}
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
