package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wesleyorama2/volley/internal/catalog"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/runner"
	"github.com/wesleyorama2/volley/internal/template"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ParseRequest carries a raw curl capture.
type ParseRequest struct {
	Curl string `json:"curl" binding:"required"`
}

// CatalogRequest catalogs either an inline record or the first record of a
// source.
type CatalogRequest struct {
	Record *record.Value        `json:"record,omitempty"`
	Source *config.SourceConfig `json:"source,omitempty"`
}

// CatalogResponse lists bindable fields.
type CatalogResponse struct {
	Fields catalog.Catalog `json:"fields"`
}

// RunSummary describes a submitted run.
type RunSummary struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     string         `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
	Finished  bool           `json:"finished"`
	Report    metrics.Report `json:"report"`
	// Result is set once the run has finished.
	Result *output.Document `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// OutcomePage is one page of recorded outcomes.
type OutcomePage struct {
	Outcomes []metrics.Outcome `json:"outcomes"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

// parseHandler parses a curl capture into a template
func (s *Server) parseHandler(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	tmpl, err := template.Parse(req.Curl)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Failed to parse capture",
			Code:    "PARSE_ERROR",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// catalogHandler builds a field catalog
func (s *Server) catalogHandler(c *gin.Context) {
	var req CatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	switch {
	case req.Record != nil:
		c.JSON(http.StatusOK, CatalogResponse{Fields: catalog.Build(*req.Record)})
	case req.Source != nil:
		plan := &config.Plan{Source: *req.Source}
		config.ApplyDefaults(plan)
		if err := plan.Confine(s.cfg.DataDir); err != nil {
			forbidden(c, err)
			return
		}
		fields, err := runner.Probe(c.Request.Context(), plan)
		if err != nil {
			status := http.StatusBadGateway
			var ce *datasource.ConnectionError
			if !errors.As(err, &ce) {
				status = http.StatusBadRequest
			}
			c.JSON(status, ErrorResponse{Error: "Failed to probe source", Code: "SOURCE_ERROR", Details: err.Error()})
			return
		}
		c.JSON(http.StatusOK, CatalogResponse{Fields: fields})
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "record or source is required", Code: "BAD_REQUEST"})
	}
}

// createRunHandler validates a plan and starts it in the background
func (s *Server) createRunHandler(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Failed to read request body", err)
		return
	}

	name := "plan.json"
	if strings.Contains(c.ContentType(), "yaml") {
		name = "plan.yaml"
	}
	plan, err := config.ParsePlan(data, name)
	if err == nil {
		err = plan.PrepareSubmitted(s.cfg.DataDir)
	}
	if errors.Is(err, config.ErrLocalPath) {
		forbidden(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid plan", Code: "INVALID_PLAN", Details: err.Error()})
		return
	}

	prepared, err := runner.Prepare(c.Request.Context(), plan, s.cfg.RunnerOptions)
	if err != nil {
		status := http.StatusBadRequest
		var ce *datasource.ConnectionError
		if errors.As(err, &ce) {
			status = http.StatusBadGateway
		}
		c.JSON(status, ErrorResponse{Error: "Failed to prepare run", Code: "PREPARE_ERROR", Details: err.Error()})
		return
	}

	name = plan.Name
	if name == "" {
		name = "run"
	}
	entry, err := s.runs.add(name, prepared)
	if err != nil {
		_ = prepared.Close(c.Request.Context())
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: "TOO_MANY_RUNS"})
		return
	}
	s.runs.start(s.runCtx, entry)
	s.logger.Info("Run submitted", "id", entry.id, "name", name)

	c.Header("Location", "/api/v1/runs/"+entry.id)
	c.JSON(http.StatusAccepted, summarize(entry))
}

// listRunsHandler returns every tracked run, newest first
func (s *Server) listRunsHandler(c *gin.Context) {
	entries := s.runs.list()
	out := make([]RunSummary, 0, len(entries))
	for _, e := range entries {
		sum := summarize(e)
		sum.Result = nil
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "total": len(out)})
}

// getRunHandler returns the state and live report of one run
func (s *Server) getRunHandler(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(e))
}

// stopRunHandler requests a graceful stop
func (s *Server) stopRunHandler(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}
	if !e.finished() {
		e.prepared.Run.Stop()
		s.logger.Info("Run stop requested", "id", e.id)
	}
	c.JSON(http.StatusAccepted, summarize(e))
}

// listOutcomesHandler pages through recorded outcomes
func (s *Server) listOutcomesHandler(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	all := e.prepared.Run.Outcomes()
	page := []metrics.Outcome{}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		page = all[offset:end]
	}
	c.JSON(http.StatusOK, OutcomePage{Outcomes: page, Total: len(all), Offset: offset, Limit: limit})
}

func (s *Server) lookup(c *gin.Context) (*runEntry, bool) {
	e, ok := s.runs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Run not found", Code: "NOT_FOUND"})
	}
	return e, ok
}

func summarize(e *runEntry) RunSummary {
	sum := RunSummary{
		ID:        e.id,
		Name:      e.name,
		State:     stateOf(e).String(),
		CreatedAt: e.createdAt,
		Finished:  e.finished(),
	}
	if sum.Finished {
		doc, err := e.result()
		if doc != nil {
			sum.Result = doc
			sum.Report = doc.Report
			sum.State = doc.State
		}
		if err != nil {
			sum.Error = err.Error()
		}
		return sum
	}
	sum.Report = e.prepared.Run.Snapshot()
	return sum
}

func forbidden(c *gin.Context, err error) {
	c.JSON(http.StatusForbidden, ErrorResponse{Error: "Local file access denied", Code: "PATH_NOT_ALLOWED", Details: err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "BAD_REQUEST", Details: err.Error()})
}
