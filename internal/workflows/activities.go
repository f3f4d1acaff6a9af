package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/ingestion"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// ErrTypeNonRetryable marks activity errors that retrying cannot fix.
const ErrTypeNonRetryable = "NonRetryable"

// Ingester indexes documents.
type Ingester interface {
	Ingest(ctx context.Context, doc *repository.Document) (int, error)
}

// Evaluator executes test runs.
type Evaluator interface {
	Run(ctx context.Context, runID string) (repository.RunStatus, error)
}

// Activities hold the collaborators activity methods run against.
// Register a value with worker.RegisterActivity.
type Activities struct {
	Documents repository.DocumentStore
	Ingester  Ingester
	Evaluator Evaluator
}

// IngestDocument loads and ingests one document.
func (acts *Activities) IngestDocument(ctx context.Context, in IngestDocumentInput) (*IngestDocumentResult, error) {
	start := time.Now()
	doc, err := acts.Documents.GetDocument(ctx, in.DocumentID)
	if err != nil {
		recordActivity(ctx, "ingest_document", start, err)
		return nil, activityError(err)
	}
	n, err := acts.Ingester.Ingest(ctx, doc)
	recordActivity(ctx, "ingest_document", start, err)
	if err != nil {
		return nil, activityError(err)
	}
	return &IngestDocumentResult{DocumentID: doc.ID, Chunks: n}, nil
}

// RunEvaluation executes one test run, heartbeating until it ends.
func (acts *Activities) RunEvaluation(ctx context.Context, in EvaluationRunInput) (*EvaluationRunResult, error) {
	start := time.Now()
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	if activity.IsActivity(ctx) {
		go heartbeat(hbCtx, in.RunID)
	}

	status, err := acts.Evaluator.Run(ctx, in.RunID)
	recordActivity(ctx, "run_evaluation", start, err)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNonRetryable, err)
	}
	return &EvaluationRunResult{RunID: in.RunID, Status: status}, nil
}

func heartbeat(ctx context.Context, details any) {
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			activity.RecordHeartbeat(ctx, details)
		}
	}
}

// activityError marks errors that retrying cannot fix as non-retryable.
func activityError(err error) error {
	switch {
	case errors.Is(err, ingestion.ErrEmptyDocument),
		errkind.Is(err, errkind.Validation),
		errkind.Is(err, errkind.NotFound),
		errkind.Is(err, errkind.Configuration):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNonRetryable, err)
	}
	return err
}
