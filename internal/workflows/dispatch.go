package workflows

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/logging"
)

// Dispatcher starts background ingestions and test runs.
type Dispatcher interface {
	IngestDocument(ctx context.Context, documentID string) error
	RunEvaluation(ctx context.Context, runID string) error
	Close() error
}

// TemporalDispatcher starts workflows on a Temporal cluster. Workflow ids
// are derived from the document or run id, so dispatching the same work
// twice while it is running starts it once.
type TemporalDispatcher struct {
	client    client.Client
	taskQueue string
}

// Dial connects to the Temporal cluster in cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewTemporalDispatcher returns a dispatcher on c. An empty taskQueue
// selects DefaultTaskQueue.
func NewTemporalDispatcher(c client.Client, taskQueue string) *TemporalDispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue}
}

func (d *TemporalDispatcher) options(id string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                d.taskQueue,
		WorkflowExecutionTimeout: ExecutionCeiling,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
}

// IngestDocument starts IngestDocumentWorkflow for documentID.
func (d *TemporalDispatcher) IngestDocument(ctx context.Context, documentID string) error {
	_, err := d.client.ExecuteWorkflow(ctx, d.options("ingest-"+documentID), IngestDocumentWorkflow, IngestDocumentInput{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("starting ingestion of %s: %w", documentID, err)
	}
	recordDispatch(ctx, "ingestion", "temporal")
	return nil
}

// RunEvaluation starts EvaluationRunWorkflow for runID.
func (d *TemporalDispatcher) RunEvaluation(ctx context.Context, runID string) error {
	_, err := d.client.ExecuteWorkflow(ctx, d.options("testrun-"+runID), EvaluationRunWorkflow, EvaluationRunInput{RunID: runID})
	if err != nil {
		return fmt.Errorf("starting test run %s: %w", runID, err)
	}
	recordDispatch(ctx, "evaluation", "temporal")
	return nil
}

// Close closes the Temporal client.
func (d *TemporalDispatcher) Close() error {
	d.client.Close()
	return nil
}

// LocalDispatcher runs the activities in goroutines of this process. Each
// execution gets the same ceiling as a workflow, and Close cancels and
// waits for everything still running.
type LocalDispatcher struct {
	acts   *Activities
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalDispatcher returns a dispatcher running acts in-process.
func NewLocalDispatcher(acts *Activities, logger *logging.Logger) *LocalDispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{acts: acts, logger: logger.Named("dispatch"), ctx: ctx, cancel: cancel}
}

func (d *LocalDispatcher) spawn(ctx context.Context, kind string, fn func(context.Context) error) error {
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("dispatcher closed: %w", err)
	}
	// Keep correlation ids from the request but not its cancellation.
	fields := logging.ContextFields(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(d.ctx, ExecutionCeiling)
		defer cancel()
		if err := fn(runCtx); err != nil {
			d.logger.Warn(runCtx, kind+" failed", append(fields, zap.Error(err))...)
		}
	}()
	recordDispatch(ctx, kind, "local")
	return nil
}

// IngestDocument ingests documentID in the background.
func (d *LocalDispatcher) IngestDocument(ctx context.Context, documentID string) error {
	return d.spawn(ctx, "ingestion", func(ctx context.Context) error {
		_, err := d.acts.IngestDocument(ctx, IngestDocumentInput{DocumentID: documentID})
		return err
	})
}

// RunEvaluation executes runID in the background.
func (d *LocalDispatcher) RunEvaluation(ctx context.Context, runID string) error {
	return d.spawn(ctx, "evaluation", func(ctx context.Context) error {
		_, err := d.acts.RunEvaluation(ctx, EvaluationRunInput{RunID: runID})
		return err
	})
}

// Wait blocks until every dispatched execution has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels running executions and waits for them.
func (d *LocalDispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
