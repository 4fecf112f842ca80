package controller

import (
	"net/http"
	"strings"
	"time"

	"subwatch/internal/tracker/model"
	"subwatch/internal/tracker/repository"
	"subwatch/internal/tracker/service"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// TrackerController handles the local control API used by the browser shim.
type TrackerController struct {
	tracker *service.TrackerService
	pages   *service.PageProblemProvider
	status  *repository.StatusRepository
}

// NewTrackerController creates a new TrackerController.
// pages may be nil when page reports are not accepted.
func NewTrackerController(tracker *service.TrackerService, pages *service.PageProblemProvider, status *repository.StatusRepository) *TrackerController {
	return &TrackerController{tracker: tracker, pages: pages, status: status}
}

// Register mounts the API routes on r.
func (h *TrackerController) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	v1.POST("/observe", h.Observe)
	v1.POST("/page", h.ReportPage)
	v1.GET("/status", h.GetStatus)
	v1.DELETE("/status", h.ResetStatus)
	v1.GET("/submissions", h.ListSubmissions)
	v1.GET("/submissions/:id", h.GetSubmission)
}

// Observe handles one observed browser request.
func (h *TrackerController) Observe(c *gin.Context) {
	var req ObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	res, err := h.tracker.Observe(c.Request.Context(), service.SourceAPI, model.ObservedRequest{
		Method: method,
		URL:    req.URL,
		Header: header,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	out := ObserveResponse{Matched: res.Matched, Created: res.Created, SubmissionID: res.ID, Method: string(res.Method)}
	if res.Created {
		response.Accepted(c, out)
		return
	}
	response.Success(c, out)
}

// ReportPage records the page the user is currently viewing.
func (h *TrackerController) ReportPage(c *gin.Context) {
	if h.pages == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "Page reports are disabled")
		return
	}
	var req model.PageReport
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.pages.ReportPage(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetStatus returns the last verdict shown to the user.
func (h *TrackerController) GetStatus(c *gin.Context) {
	st, err := h.status.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{
		LastStatus:  st.LastStatus,
		LastProblem: st.LastProblem,
		UpdatedAt:   formatTime(st.UpdatedAt),
		Pending:     pendingCount(h.tracker.List()),
	})
}

// ResetStatus restores the default status values.
func (h *TrackerController) ResetStatus(c *gin.Context) {
	if err := h.status.Reset(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListSubmissions returns tracked submissions, newest first.
func (h *TrackerController) ListSubmissions(c *gin.Context) {
	records := h.tracker.List()
	out := make([]SubmissionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toSubmissionResponse(rec))
	}
	response.Success(c, out)
}

// GetSubmission returns one tracked submission.
func (h *TrackerController) GetSubmission(c *gin.Context) {
	rec, err := h.tracker.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(rec))
}

// Health reports whether the status store is reachable.
func (h *TrackerController) Health(c *gin.Context) {
	if err := h.status.Ping(c.Request.Context()); err != nil {
		response.Error(c, appErr.Wrap(err, appErr.ServiceUnavailable))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func toSubmissionResponse(rec model.SubmissionRecord) SubmissionResponse {
	return SubmissionResponse{
		ID:          rec.ID,
		Method:      string(rec.Method),
		ProblemName: rec.ProblemName,
		ProblemCode: rec.ProblemCode,
		State:       string(rec.State),
		Verdict:     rec.Verdict,
		Attempts:    rec.Attempts,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		FinishedAt:  formatTime(rec.FinishedAt),
	}
}

func pendingCount(records []model.SubmissionRecord) int {
	n := 0
	for _, rec := range records {
		if !rec.Final() {
			n++
		}
	}
	return n
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ObserveRequest describes a browser request seen by the shim.
type ObserveRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
}

// ObserveResponse defines the observe response payload.
type ObserveResponse struct {
	Matched      bool   `json:"matched"`
	Created      bool   `json:"created"`
	SubmissionID string `json:"submission_id,omitempty"`
	Method       string `json:"method,omitempty"`
}

// StatusResponse defines the status response payload.
type StatusResponse struct {
	LastStatus  string `json:"last_status"`
	LastProblem string `json:"last_problem"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	Pending     int    `json:"pending"`
}

// SubmissionResponse defines one tracked submission. The poll token is never exposed.
type SubmissionResponse struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	ProblemName string `json:"problem_name"`
	ProblemCode string `json:"problem_code"`
	State       string `json:"state"`
	Verdict     string `json:"verdict,omitempty"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"created_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}
