package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// CreateRunRequest is the request body for POST /api/v1/testruns.
type CreateRunRequest struct {
	SuiteID    string `json:"suite_id"`
	ProjectID  string `json:"project_id"`
	References bool   `json:"references"`
	Model      string `json:"model"`
}

// RunResponse is a run with the results recorded so far.
type RunResponse struct {
	Run     *repository.TestRun     `json:"run"`
	Results []repository.TestResult `json:"results"`
}

// ResultFeedbackRequest is the request body for POST
// /api/v1/testresults/:result/feedback.
type ResultFeedbackRequest struct {
	Rating int    `json:"rating"`
	Notes  string `json:"notes"`
}

// handleCreateRun starts a test run of a suite against a project.
func (s *Server) handleCreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SuiteID == "" || req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "suite_id and project_id are required")
	}
	if req.Model != "" {
		if _, err := llm.ParseModel(req.Model); err != nil {
			return err
		}
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetSuite(ctx, req.SuiteID); err != nil {
		return err
	}
	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		return err
	}

	run := &repository.TestRun{
		SuiteID:    req.SuiteID,
		ProjectID:  req.ProjectID,
		Status:     repository.RunRunning,
		References: req.References,
		Model:      req.Model,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return err
	}
	ctx = logging.WithTestRunID(ctx, run.ID)
	if err := s.dispatcher.RunEvaluation(ctx, run.ID); err != nil {
		s.logger.Error(ctx, "dispatching test run", zap.Error(err))
		if terr := s.store.TransitionRun(context.WithoutCancel(ctx), run.ID, repository.RunFailed, err.Error()); terr != nil {
			s.logger.Warn(ctx, "marking undispatched run failed", zap.Error(terr))
		}
		return err
	}
	return c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleGetRun(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.GetRun(ctx, c.Param("run"))
	if err != nil {
		return err
	}
	results, err := s.store.ListResults(ctx, run.ID)
	if err != nil {
		return err
	}
	if results == nil {
		results = []repository.TestResult{}
	}
	return c.JSON(http.StatusOK, RunResponse{Run: run, Results: results})
}

// handleCancelRun marks a running run canceled. The harness stops at its
// next question checkpoint.
func (s *Server) handleCancelRun(c echo.Context) error {
	ctx := logging.WithTestRunID(c.Request().Context(), c.Param("run"))
	if err := s.store.TransitionRun(ctx, c.Param("run"), repository.RunCanceled, "canceled by request"); err != nil {
		return err
	}
	run, err := s.store.GetRun(ctx, c.Param("run"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// handleRunEvents relays a run's progress events as server-sent events
// until the run ends or the client disconnects.
func (s *Server) handleRunEvents(c echo.Context) error {
	ctx := logging.WithTestRunID(c.Request().Context(), c.Param("run"))

	// Subscribe before reading the run so no terminal event is missed.
	ch, cancel, err := s.events.Subscribe(ctx, events.EntityRun, c.Param("run"))
	if errors.Is(err, events.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run events are not available")
	}
	if err != nil {
		return err
	}
	defer cancel()

	run, err := s.store.GetRun(ctx, c.Param("run"))
	if err != nil {
		return err
	}

	startSSE(c)
	if run.Status.Terminal() {
		return writeSSE(c, string(terminalEvent(run.Status)), runEvent(run))
	}

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeSSE(c, string(ev.Type), ev); err != nil {
				return nil
			}
			if ev.Type.Terminal() {
				return nil
			}
		case <-ticker.C:
			if err := heartbeat(c); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func terminalEvent(status repository.RunStatus) events.Type {
	switch status {
	case repository.RunCompleted:
		return events.Completed
	case repository.RunCanceled:
		return events.Canceled
	default:
		return events.Failed
	}
}

// runEvent describes a run that already ended.
func runEvent(run *repository.TestRun) events.Event {
	ev := events.New(events.EntityRun, run.ID, terminalEvent(run.Status))
	ev.Message = run.Error
	ev.Timestamp = run.UpdatedAt
	return ev
}

func (s *Server) handleResultFeedback(c echo.Context) error {
	var req ResultFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return echo.NewHTTPError(http.StatusBadRequest, "rating must be between 1 and 5")
	}
	fb := &repository.Feedback{
		ResultID: c.Param("result"),
		UserID:   callerOf(c).userID,
		Rating:   req.Rating,
		Notes:    req.Notes,
	}
	if err := s.store.CreateFeedback(c.Request().Context(), fb); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, fb)
}
