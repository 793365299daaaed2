package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan walks stock records and raises alerts for products
	// below their configured minimum.
	TaskLowStockScan = "stock:lowscan"
)

// LowStockScanPayload parameterises a low stock sweep.
type LowStockScanPayload struct {
	// Limit caps how many alerts a single sweep may emit. Zero means no cap.
	Limit int `json:"limit"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}
