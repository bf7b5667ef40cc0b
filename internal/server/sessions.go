package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
	"github.com/mohammad-safakhou/deepsearch/internal/runtime"
	"github.com/mohammad-safakhou/deepsearch/internal/session"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// apiKeyHeader lets clients pass the model credential without a request body field.
const apiKeyHeader = "X-Goog-Api-Key"

var sessionsTracer = otel.Tracer("deepsearch/internal/server/sessions")

// SessionsHandler serves conversation sessions, research runs and progress.
type SessionsHandler struct {
	server *Server
}

func (h *SessionsHandler) Register(g *echo.Group) {
	research := runtime.RequireScopes(runtime.ScopeResearch)
	g.POST("", h.create)
	g.DELETE("/:id", h.delete, research)
	g.GET("/:id/history", h.history)
	g.DELETE("/:id/history", h.reset, research)
	g.POST("/:id/search", h.search, research)
	g.GET("/:id/status", h.status)
	g.GET("/:id/status/stream", h.stream)
}

type searchRequest struct {
	Query  string `json:"query"`
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

type outcomeView struct {
	Query  string `json:"query"`
	Result string `json:"result"`
	Failed bool   `json:"failed"`
}

type searchResponse struct {
	RunID     string             `json:"run_id"`
	State     core.PipelineState `json:"state"`
	Model     string             `json:"model"`
	Answer    string             `json:"answer,omitempty"`
	Queries   []string           `json:"queries"`
	Outcomes  []outcomeView      `json:"outcomes"`
	Error     string             `json:"error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Duration  float64            `json:"duration_seconds"`
}

func (h *SessionsHandler) lookup(c echo.Context) (*session.Session, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "session id required")
	}
	s, ok := h.server.sessions.Get(id)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return s, nil
}

func (h *SessionsHandler) create(c echo.Context) error {
	s := h.server.sessions.Create()
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"session_id": s.ID,
		"created_at": s.CreatedAt,
	})
}

func (h *SessionsHandler) delete(c echo.Context) error {
	if !h.server.sessions.Delete(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) history(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	turns := s.Orchestrator.Store().Turns()
	if turns == nil {
		turns = []core.Turn{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": s.ID,
		"turns":      turns,
		"state":      s.Orchestrator.State(),
	})
}

// reset clears the conversation and the tracker together. A run still in
// flight is discarded.
func (h *SessionsHandler) reset(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	s.Orchestrator.Reset()
	return c.NoContent(http.StatusNoContent)
}

// search runs the full pipeline and answers once it is Done or Failed. The
// run is detached from the request so a client disconnect does not abort it.
func (h *SessionsHandler) search(c echo.Context) error {
	ctx, span := sessionsTracer.Start(c.Request().Context(), "SessionsHandler.search")
	defer span.End()

	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("session_id", s.ID))

	var body searchRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	model := strings.TrimSpace(body.Model)
	if model != "" && !h.knownModel(model) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown model: "+model)
	}
	req := core.RunRequest{
		Query:      body.Query,
		Credential: h.credential(c, body.APIKey),
		Model:      model,
	}

	run, err := s.Orchestrator.Start(context.WithoutCancel(ctx), req)
	switch {
	case errors.Is(err, core.ErrEmptyQuery), errors.Is(err, core.ErrMissingCredential):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrRunInProgress), errors.Is(err, core.ErrRunDiscarded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("run_id", run.ID), attribute.String("model", run.Model))

	result, runErr := run.Wait()
	resp := searchResponse{
		RunID:    run.ID,
		State:    result.State,
		Model:    run.Model,
		Answer:   result.Answer,
		Queries:  result.Queries,
		Outcomes: make([]outcomeView, 0, len(result.Outcomes)),
		Duration: result.FinishedAt.Sub(result.StartedAt).Seconds(),
	}
	if resp.Queries == nil {
		resp.Queries = []string{}
	}
	for _, oc := range result.Outcomes {
		resp.Outcomes = append(resp.Outcomes, outcomeView{Query: oc.Query, Result: oc.Result, Failed: oc.Failed()})
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		resp.Error = runErr.Error()
		resp.ErrorKind = provider.Classify(runErr)
		h.server.logger.Info("run failed",
			zap.String("session_id", s.ID),
			zap.String("run_id", run.ID),
			zap.Error(runErr))
	}
	return c.JSON(http.StatusOK, resp)
}

// credential prefers the request body, then the header, then the configured key.
func (h *SessionsHandler) credential(c echo.Context, fromBody string) string {
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	if k := strings.TrimSpace(c.Request().Header.Get(apiKeyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(h.server.llm.APIKey)
}

func (h *SessionsHandler) knownModel(model string) bool {
	if len(h.server.llm.Models) == 0 {
		return true
	}
	for _, m := range h.server.llm.Models {
		if m == model {
			return true
		}
	}
	return false
}

func (h *SessionsHandler) status(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	entries := s.Orchestrator.Tracker().Entries()
	if entries == nil {
		entries = []status.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":   s.ID,
		"state":        s.Orchestrator.State(),
		"busy":         s.Orchestrator.Busy(),
		"entries":      entries,
		"generated_at": time.Now().UTC(),
	})
}
