package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeDispatch is the task type consumed by the worker.
const TaskTypeDispatch = "notify:dispatch"

// AsynqEmitter enqueues events as background tasks.
type AsynqEmitter struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqEmitter constructs an emitter backed by an Asynq client.
func NewAsynqEmitter(client *asynq.Client, logger *slog.Logger) *AsynqEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqEmitter{client: client, logger: logger}
}

// Notify enqueues the event for dispatch by the worker.
func (e *AsynqEmitter) Notify(ctx context.Context, evt Event) error {
	if e == nil || e.client == nil {
		return nil
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeDispatch, payload)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return err
	}
	return nil
}

// LogEmitter writes events to the logger. Used in development and tests.
type LogEmitter struct {
	Logger *slog.Logger
}

// Notify logs the event.
func (e *LogEmitter) Notify(ctx context.Context, evt Event) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("type", string(evt.Type)),
		slog.String("title", evt.Title),
		slog.String("description", evt.Description))
	return nil
}
