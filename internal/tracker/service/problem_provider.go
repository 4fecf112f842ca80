package service

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// ProblemProvider resolves the problem a submission belongs to.
type ProblemProvider interface {
	ProblemInfo(ctx context.Context, submissionID string) (model.ProblemInfo, error)
}

// problemNameSelectors are tried in order against a problem page.
var problemNameSelectors = []string{".header h1", "h1"}

// PageProblemProvider answers from the judge page the user is looking at,
// as last reported by the browser shim.
type PageProblemProvider struct {
	judgeHost  string
	client     *httpclient.Client
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	page   model.PageReport
	seenAt time.Time
}

// PageProviderConfig configures a PageProblemProvider.
type PageProviderConfig struct {
	JudgeHost string
	// Client fetches the page when the shim reported neither title nor HTML.
	// Nil disables fetching.
	Client *httpclient.Client
	// StaleAfter makes a page report expire. Zero keeps it until replaced.
	StaleAfter time.Duration
}

// NewPageProblemProvider creates a provider with no active page.
func NewPageProblemProvider(cfg PageProviderConfig) *PageProblemProvider {
	host := strings.ToLower(strings.TrimSpace(cfg.JudgeHost))
	if host == "" {
		host = DefaultJudgeHost
	}
	return &PageProblemProvider{
		judgeHost:  host,
		client:     cfg.Client,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// ReportPage replaces the active page.
func (p *PageProblemProvider) ReportPage(ctx context.Context, report model.PageReport) error {
	u, err := url.Parse(strings.TrimSpace(report.URL))
	if err != nil || u.Host == "" {
		return appErr.ValidationError("url", "must be an absolute URL")
	}
	if !strings.EqualFold(stripPort(u.Host), p.judgeHost) {
		return appErr.ValidationError("url", "must point at "+p.judgeHost)
	}
	report.URL = u.String()
	report.Title = strings.TrimSpace(report.Title)

	p.mu.Lock()
	p.page = report
	p.seenAt = p.now()
	p.mu.Unlock()

	logger.Debug(ctx, "active page reported", zap.String("url", report.URL), zap.String("title", report.Title))
	return nil
}

// ActivePage returns the current page report, if any.
func (p *PageProblemProvider) ActivePage() (model.PageReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.page.URL == "" {
		return model.PageReport{}, false
	}
	if p.staleAfter > 0 && p.now().Sub(p.seenAt) > p.staleAfter {
		return model.PageReport{}, false
	}
	return p.page, true
}

// ProblemInfo resolves the name and code from the active page.
// The code is the last path segment of the page URL. The name comes from
// the reported title, the reported HTML or a fetch of the page, in that
// order; a page whose name cannot be found keeps its code and gets the
// placeholder name.
func (p *PageProblemProvider) ProblemInfo(ctx context.Context, submissionID string) (model.ProblemInfo, error) {
	page, ok := p.ActivePage()
	if !ok {
		return model.ProblemInfo{}, appErr.New(appErr.PageUnavailable).WithDetail("submission_id", submissionID)
	}

	code := lastPathSegment(page.URL)
	if code == "" {
		return model.ProblemInfo{}, appErr.Newf(appErr.ProblemInfoFailed, "page %s has no problem code", page.URL)
	}

	name := page.Title
	if name == "" && page.HTML != "" {
		name, _ = ExtractProblemName(strings.NewReader(page.HTML))
	}
	if name == "" && p.client != nil {
		fetched, err := p.fetchName(ctx, page.URL)
		if err != nil {
			logger.Warn(ctx, "fetch problem page failed", zap.String("url", page.URL), zap.Error(err))
		}
		name = fetched
	}
	if name == "" {
		name = model.UnknownProblemName
	}
	return model.ProblemInfo{Name: name, Code: code}, nil
}

func (p *PageProblemProvider) fetchName(ctx context.Context, pageURL string) (string, error) {
	resp, err := p.client.Do(ctx, http.MethodGet, pageURL, map[string]string{"Accept": "text/html"}, nil)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", appErr.Newf(appErr.ProblemInfoFailed, "problem page returned status %d", resp.StatusCode)
	}
	return ExtractProblemName(strings.NewReader(string(resp.Body)))
}

// ExtractProblemName returns the problem heading of a judge problem page.
func ExtractProblemName(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ProblemInfoFailed, "parse problem page")
	}
	for _, sel := range problemNameSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text, nil
		}
	}
	return "", nil
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(parts[i]); seg != "" {
			return seg
		}
	}
	return ""
}
