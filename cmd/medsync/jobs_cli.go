package main

import (
	"errors"

	"github.com/hibiken/asynq"

	"github.com/fleetmed/medsync/internal/app"
	"github.com/fleetmed/medsync/jobs"
)

// jobsCLI wraps manual management helpers for the ledger queue.
type jobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

func newJobsCLI() (*jobsCLI, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr == "" {
		return nil, errNoBroker
	}
	return newJobsCLIFor(cfg.QueueRedis()), nil
}

func newJobsCLIFor(opts asynq.RedisClientOpt) *jobsCLI {
	return &jobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *jobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// queueStats summarises the current queue state.
type queueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the default queue. A queue that was never written to
// reports zeros.
func (c *jobsCLI) InspectQueue() (queueStats, error) {
	if c == nil || c.inspector == nil {
		return queueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := queueStats{Queue: jobs.QueueDefault}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return queueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Archived = info.Archived
	}
	return stats, nil
}
