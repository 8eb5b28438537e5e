package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCompile folds the ledger into the summary and archive stores.
	TaskCompile = "ledger:compile"
	// TaskRollover carries closing balances into opening for a new day.
	TaskRollover = "ledger:rollover"
	// TaskUpload sends the ledger to the remote system of record.
	TaskUpload = "ledger:upload"
)

// DatePayload names the calendar date a task works on. An empty date means
// the worker's current local date.
type DatePayload struct {
	Date string `json:"date,omitempty"`
}

// UploadPayload selects the day, and optionally the shift, to upload.
type UploadPayload struct {
	Date  string `json:"date,omitempty"`
	Shift string `json:"shift,omitempty"`
}

// NewCompileTask constructs a compile task.
func NewCompileTask(date string) (*asynq.Task, error) {
	return newTask(TaskCompile, DatePayload{Date: date})
}

// NewRolloverTask constructs a rollover task.
func NewRolloverTask(date string) (*asynq.Task, error) {
	return newTask(TaskRollover, DatePayload{Date: date})
}

// NewUploadTask constructs an upload task.
func NewUploadTask(payload UploadPayload) (*asynq.Task, error) {
	return newTask(TaskUpload, payload)
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}
