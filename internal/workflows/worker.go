package workflows

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker returns a worker on taskQueue with both workflows and the
// activity methods of acts registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(IngestDocumentWorkflow)
	w.RegisterWorkflow(EvaluationRunWorkflow)
	w.RegisterActivity(acts)
	return w
}
