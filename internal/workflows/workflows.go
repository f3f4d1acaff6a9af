// Package workflows runs document ingestion and test runs as Temporal
// workflows.
//
// Both workflows are bounded by ExecutionCeiling. Ingestion retries at the
// activity level, which is the only retry policy applied to any pipeline
// stage; a test run executes once and heartbeats while it works. Anything
// killed by the ceiling is reconciled later by the scheduler's sweeps.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/groundd/internal/repository"
)

const (
	// DefaultTaskQueue is used when the configuration names none.
	DefaultTaskQueue = "groundd"

	// ExecutionCeiling bounds every workflow execution.
	ExecutionCeiling = 6 * time.Hour

	// HeartbeatInterval is how often a running evaluation reports progress.
	HeartbeatInterval = 30 * time.Second
)

// IngestDocumentInput names the document to ingest.
type IngestDocumentInput struct {
	DocumentID string
}

// IngestDocumentResult reports a finished ingestion.
type IngestDocumentResult struct {
	DocumentID string
	Chunks     int
}

// EvaluationRunInput names the test run to execute.
type EvaluationRunInput struct {
	RunID string
}

// EvaluationRunResult reports the terminal status of a run.
type EvaluationRunResult struct {
	RunID  string
	Status repository.RunStatus
}

// a is only used to name activity methods in ExecuteActivity.
var a *Activities

// IngestDocumentWorkflow indexes one document. Transient failures are
// retried with backoff; empty and unreadable documents are not.
func IngestDocumentWorkflow(ctx workflow.Context, in IngestDocumentInput) (*IngestDocumentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting document ingestion", "document_id", in.DocumentID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ExecutionCeiling,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeNonRetryable},
		},
	})

	var result IngestDocumentResult
	if err := workflow.ExecuteActivity(ctx, a.IngestDocument, in).Get(ctx, &result); err != nil {
		logger.Error("Document ingestion failed", "document_id", in.DocumentID, "error", err)
		return nil, err
	}

	logger.Info("Document ingestion complete", "document_id", in.DocumentID, "chunks", result.Chunks)
	return &result, nil
}

// EvaluationRunWorkflow executes one test run exactly once.
func EvaluationRunWorkflow(ctx workflow.Context, in EvaluationRunInput) (*EvaluationRunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting test run", "run_id", in.RunID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ExecutionCeiling,
		HeartbeatTimeout:    4 * HeartbeatInterval,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result EvaluationRunResult
	if err := workflow.ExecuteActivity(ctx, a.RunEvaluation, in).Get(ctx, &result); err != nil {
		logger.Error("Test run failed", "run_id", in.RunID, "error", err)
		return nil, err
	}

	logger.Info("Test run finished", "run_id", in.RunID, "status", result.Status)
	return &result, nil
}
