// Package evaluation replays test suites through the conversation
// orchestrator and scores the answers against gold answers.
//
// A run owns a disposable chat. Questions are replayed one at a time in
// batch mode; each produces exactly one TestResult, scored by the cosine
// similarity of answer and gold embeddings and by smoothed BLEU-4. A
// question that fails scores zero and the run carries on. The run ends
// COMPLETED, CANCELED when a cancellation is seen between questions, or
// FAILED on an error the harness cannot attribute to one question.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/conversation"
	"github.com/fyrsmithlabs/groundd/internal/embeddings"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/reference"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// DefaultStaleAfter is how long a run may stay RUNNING before the
// watchdog fails it.
const DefaultStaleAfter = 6 * time.Hour

// titleLayout formats the run's creation time in the chat title.
const titleLayout = "2006-01-02 15:04:05"

var tracer = otel.Tracer("groundd.evaluation")

var (
	// ErrNotRunning is returned when Run is given a finished run.
	ErrNotRunning = errors.New("test run is not running")

	// ErrStale is recorded on runs failed by the watchdog.
	ErrStale = errors.New("test run did not finish in time")
)

// Converser answers one turn in batch mode.
type Converser interface {
	Converse(ctx context.Context, turn conversation.Turn) (*conversation.Result, error)
}

// Store is the persistence a harness needs.
type Store interface {
	repository.ChatStore
	repository.EvaluationStore
}

// Config tunes the harness.
type Config struct {
	// QuestionDelay spaces out questions to stay under provider rate limits.
	QuestionDelay time.Duration
	StaleAfter    time.Duration
}

// ConfigFrom maps the evaluation section of the service configuration.
func ConfigFrom(cfg config.EvaluationConfig) Config {
	return Config{
		QuestionDelay: cfg.QuestionDelay.Duration(),
		StaleAfter:    cfg.StaleAfter.OrDefault(DefaultStaleAfter),
	}
}

// Deps are the collaborators of a Harness.
type Deps struct {
	Store     Store
	Converser Converser
	Embedder  embeddings.Embedder
	Events    events.Publisher
	Logger    *logging.Logger
	Now       func() time.Time
}

// Harness executes test runs.
type Harness struct {
	cfg       Config
	store     Store
	converser Converser
	embedder  embeddings.Embedder
	events    events.Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// New returns a Harness. Store, Converser and Embedder are required.
func New(cfg Config, deps Deps) (*Harness, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("evaluation: store is required")
	case deps.Converser == nil:
		return nil, errors.New("evaluation: converser is required")
	case deps.Embedder == nil:
		return nil, errors.New("evaluation: embedder is required")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Harness{
		cfg:       cfg,
		store:     deps.Store,
		converser: deps.Converser,
		embedder:  deps.Embedder,
		events:    deps.Events,
		logger:    deps.Logger.Named("evaluation"),
		now:       deps.Now,
	}, nil
}

// Run executes the RUNNING test run runID to a terminal status and
// returns that status. The error is non-nil only when the run ends FAILED
// or could not be started.
func (h *Harness) Run(ctx context.Context, runID string) (repository.RunStatus, error) {
	ctx = logging.WithTestRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "evaluation.Run")
	defer span.End()

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Status != repository.RunRunning {
		return run.Status, errkind.E(errkind.Validation, "evaluation.Run", fmt.Errorf("run %s is %s: %w", run.ID, run.Status, ErrNotRunning))
	}
	ctx = logging.WithProjectID(ctx, run.ProjectID)
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("suite.id", run.SuiteID))

	status, err := h.run(ctx, run)
	RunsTotal.WithLabelValues(string(status)).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return status, err
}

func (h *Harness) run(ctx context.Context, run *repository.TestRun) (repository.RunStatus, error) {
	suite, err := h.store.GetSuite(ctx, run.SuiteID)
	if err != nil {
		return h.finish(ctx, run, repository.RunFailed, err)
	}
	questions, err := h.store.ListQuestions(ctx, suite.ID)
	if err != nil {
		return h.finish(ctx, run, repository.RunFailed, err)
	}

	chat := &repository.Chat{
		ProjectID: run.ProjectID,
		UserID:    "evaluation",
		Title:     "Test Run: " + run.CreatedAt.Format(titleLayout),
	}
	if err := h.store.CreateChat(ctx, chat); err != nil {
		return h.finish(ctx, run, repository.RunFailed, err)
	}

	ev := events.New(events.EntityRun, run.ID, events.Started)
	ev.Total = len(questions)
	h.publish(ctx, ev)
	h.logger.Info(ctx, "test run started", zap.Int("questions", len(questions)), zap.String("chat_id", chat.ID))

	for i, q := range questions {
		if i > 0 && h.cfg.QuestionDelay > 0 {
			if !h.wait(ctx, h.cfg.QuestionDelay) {
				return h.interrupted(ctx, run)
			}
		}
		if stop, status, err := h.checkpoint(ctx, run); stop {
			return status, err
		}

		result := h.evaluate(ctx, run, suite, chat, &q)
		if err := h.store.CreateResult(ctx, result); err != nil {
			return h.finish(ctx, run, repository.RunFailed, err)
		}

		ev := events.New(events.EntityRun, run.ID, events.Result)
		ev.Done, ev.Total = i+1, len(questions)
		ev.Data = result
		h.publish(ctx, ev)
	}
	return h.finish(ctx, run, repository.RunCompleted, nil)
}

// checkpoint stops the loop when the run was canceled in the store or
// the context is done.
func (h *Harness) checkpoint(ctx context.Context, run *repository.TestRun) (bool, repository.RunStatus, error) {
	if ctx.Err() != nil {
		status, err := h.interrupted(ctx, run)
		return true, status, err
	}
	current, err := h.store.GetRun(ctx, run.ID)
	if err != nil {
		status, err := h.finish(ctx, run, repository.RunFailed, err)
		return true, status, err
	}
	if current.Status != repository.RunRunning {
		h.logger.Info(ctx, "test run stopped", zap.String("status", string(current.Status)))
		typ := events.Canceled
		if current.Status == repository.RunFailed {
			typ = events.Failed
		}
		h.publish(ctx, events.New(events.EntityRun, run.ID, typ))
		return true, current.Status, nil
	}
	return false, "", nil
}

// interrupted ends a run whose context is done. A deadline is the
// execution ceiling and fails the run; plain cancellation cancels it.
func (h *Harness) interrupted(ctx context.Context, run *repository.TestRun) (repository.RunStatus, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return h.finish(ctx, run, repository.RunFailed, ctx.Err())
	}
	return h.finish(ctx, run, repository.RunCanceled, nil)
}

// evaluate replays one question. Failures are recorded on the result with
// zero scores.
func (h *Harness) evaluate(ctx context.Context, run *repository.TestRun, suite *repository.TestSuite, chat *repository.Chat, q *repository.TestQuestion) *repository.TestResult {
	start := h.now()
	temperature := suite.Temperature
	result := &repository.TestResult{
		RunID:       run.ID,
		QuestionID:  q.ID,
		Question:    q.Question,
		HumanAnswer: q.HumanAnswer,
		Model:       run.Model,
	}

	res, err := h.converser.Converse(ctx, conversation.Turn{
		ChatID:           chat.ID,
		UserID:           chat.UserID,
		Text:             q.Question,
		Language:         q.Language,
		TopK:             suite.TopK,
		Temperature:      &temperature,
		AllowPlatformKey: true,
		DocumentIDs:      q.DocumentIDs,
		SkipReferences:   !run.References,
		Model:            run.Model,
	})
	if err != nil {
		h.failQuestion(ctx, result, err)
		return result
	}
	result.Answer = reference.StripCitations(res.Answer())
	result.References = res.Response.References
	result.Model = string(res.Model)

	vecs, err := h.embedder.EmbedDocuments(ctx, []string{result.Answer, q.HumanAnswer})
	if err != nil {
		h.failQuestion(ctx, result, errkind.E(errkind.Retrieval, "evaluation.score", err))
		return result
	}
	if len(vecs) == 2 {
		result.CosineSim = Round4(Cosine(vecs[0], vecs[1]))
	}
	result.BLEUScore = Round4(BLEU(q.HumanAnswer, result.Answer))

	QuestionDuration.Observe(h.now().Sub(start).Seconds())
	return result
}

func (h *Harness) failQuestion(ctx context.Context, result *repository.TestResult, err error) {
	result.CosineSim, result.BLEUScore = 0, 0
	result.Error = err.Error()
	QuestionFailures.WithLabelValues(string(errkind.KindOf(err))).Inc()
	h.logger.Warn(ctx, "test question failed", zap.String("question_id", result.QuestionID), zap.Error(err))
}

// finish moves the run to status. A run already moved out of RUNNING by
// someone else keeps its status.
func (h *Harness) finish(ctx context.Context, run *repository.TestRun, status repository.RunStatus, cause error) (repository.RunStatus, error) {
	ctx = context.WithoutCancel(ctx)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := h.store.TransitionRun(ctx, run.ID, status, msg); err != nil {
		if !errors.Is(err, repository.ErrInvalidTransition) {
			h.logger.Error(ctx, "recording run status", zap.String("status", string(status)), zap.Error(err))
			return status, err
		}
		if current, gerr := h.store.GetRun(ctx, run.ID); gerr == nil {
			status = current.Status
		}
	}

	typ := events.Completed
	switch status {
	case repository.RunCanceled:
		typ = events.Canceled
	case repository.RunFailed:
		typ = events.Failed
	}
	ev := events.New(events.EntityRun, run.ID, typ)
	ev.Message = msg
	h.publish(ctx, ev)
	h.logger.Info(ctx, "test run finished", zap.String("status", string(status)))

	if status == repository.RunFailed && cause != nil {
		return status, cause
	}
	return status, nil
}

func (h *Harness) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *Harness) publish(ctx context.Context, ev events.Event) {
	if err := h.events.Publish(ctx, ev); err != nil {
		h.logger.Debug(ctx, "publishing event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
