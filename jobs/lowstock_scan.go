package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/acopio-erp/acopio-erp/internal/inventory"
	jobmetrics "github.com/acopio-erp/acopio-erp/internal/jobs"
	"github.com/acopio-erp/acopio-erp/internal/notify"
)

// LowStockScanJob sweeps stock records and raises an alert for every product
// sitting below its configured minimum. Fulfillment already alerts on the
// products it touches; the sweep catches records that drifted below minimum
// through other means, such as a raised minimum level.
type LowStockScanJob struct {
	Inventory *inventory.Service
	Emitter   notify.Emitter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low stock sweep handler.
func NewLowStockScanJob(inv *inventory.Service, emitter notify.Emitter, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Inventory: inv, Emitter: emitter, Logger: logger, Metrics: metrics}
}

// Handle executes the low stock sweep.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting low stock scan")

	records, err := j.Inventory.ListBelowMinimum(ctx)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	alerted := 0
	for _, record := range records {
		if payload.Limit > 0 && alerted >= payload.Limit {
			break
		}
		evt := notify.Event{
			Type:        notify.EventLowStock,
			Title:       "Low stock",
			Description: fmt.Sprintf("product %d is at %d, below minimum %d", record.ProductID, record.Qty, record.MinLevel),
			Meta: map[string]any{
				"product_id": record.ProductID,
				"qty":        record.Qty,
				"min_level":  record.MinLevel,
				"location":   record.Location,
			},
		}
		if j.Emitter != nil {
			if err := j.Emitter.Notify(ctx, evt); err != nil {
				logger.Warn("emit low stock alert",
					slog.Int64("product_id", record.ProductID),
					slog.Any("error", err))
				continue
			}
		}
		alerted++
	}

	logger.Info("completed low stock scan",
		slog.Int("below_minimum", len(records)),
		slog.Int("alerted", alerted),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
