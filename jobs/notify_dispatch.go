package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/acopio-erp/acopio-erp/internal/jobs"
	"github.com/acopio-erp/acopio-erp/internal/notify"
)

// NotifyDispatchJob delivers queued notifications. Events are persisted to
// the notifications table so the UI tier can surface them per recipient.
type NotifyDispatchJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyDispatchJob initialises the dispatch handler.
func NewNotifyDispatchJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyDispatchJob {
	return &NotifyDispatchJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes notify dispatch tasks.
func (j *NotifyDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("notify dispatch: handler not configured")
	}
	var evt notify.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(notify.TaskTypeDispatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("event_id", evt.ID.String()),
		slog.String("type", string(evt.Type)),
	)

	if err := j.persist(ctx, evt); err != nil {
		resultErr = err
		logger.Error("persist notification", slog.Any("error", err))
		return resultErr
	}

	logger.Info("notification dispatched",
		slog.String("title", evt.Title),
		slog.Int("recipients", len(evt.Recipients)),
	)
	return resultErr
}

func (j *NotifyDispatchJob) persist(ctx context.Context, evt notify.Event) error {
	if j.Pool == nil {
		return errors.New("notify dispatch: pool not configured")
	}
	meta, err := json.Marshal(evt.Meta)
	if err != nil {
		return err
	}
	if len(evt.Recipients) == 0 {
		_, err := j.Pool.Exec(ctx, `
			INSERT INTO notifications (event_id, event_type, title, description, recipient_id, meta, created_at)
			VALUES ($1, $2, $3, $4, NULL, $5, NOW())
			ON CONFLICT (event_id, recipient_id) DO NOTHING`,
			evt.ID, string(evt.Type), evt.Title, evt.Description, meta)
		return err
	}
	for _, recipient := range evt.Recipients {
		if _, err := j.Pool.Exec(ctx, `
			INSERT INTO notifications (event_id, event_type, title, description, recipient_id, meta, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (event_id, recipient_id) DO NOTHING`,
			evt.ID, string(evt.Type), evt.Title, evt.Description, recipient, meta); err != nil {
			return err
		}
	}
	return nil
}

func (j *NotifyDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
