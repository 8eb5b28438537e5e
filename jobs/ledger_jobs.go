package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetmed/medsync/internal/jobs"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/reconcile"
	"github.com/fleetmed/medsync/internal/syncer"
)

// Compiler folds the ledger for a date.
type Compiler interface {
	Compile(ctx context.Context, date string) (reconcile.Result, error)
}

// Roller performs the daily rollover.
type Roller interface {
	Rollover(ctx context.Context, today string) (bool, error)
}

// Uploader sends the ledger to the remote endpoint.
type Uploader interface {
	UploadLedger(ctx context.Context, in syncer.UploadInput) (syncer.UploadResult, error)
}

// LedgerJobs holds the task handlers operating on the ledger.
type LedgerJobs struct {
	compiler Compiler
	roller   Roller
	uploader Uploader
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// LedgerJobsConfig collects the dependencies of LedgerJobs.
type LedgerJobsConfig struct {
	Compiler Compiler
	Roller   Roller
	Uploader Uploader
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
	Location *time.Location
}

// NewLedgerJobs constructs the ledger task handlers.
func NewLedgerJobs(cfg LedgerJobsConfig) *LedgerJobs {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerJobs{
		compiler: cfg.Compiler,
		roller:   cfg.Roller,
		uploader: cfg.Uploader,
		metrics:  cfg.Metrics,
		logger:   logger.With(slog.String("component", "jobs")),
		clock:    func() time.Time { return time.Now().In(loc) },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerJobs) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// Handlers lists the task handlers to register on the worker.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskCompile, Handler: j.HandleCompile},
		{Type: TaskRollover, Handler: j.HandleRollover},
		{Type: TaskUpload, Handler: j.HandleUpload},
	}
}

// HandleCompile processes TaskCompile tasks.
func (j *LedgerJobs) HandleCompile(ctx context.Context, t *asynq.Task) error {
	var payload DatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode compile payload: %v: %w", err, asynq.SkipRetry)
	}
	date := j.date(payload.Date)
	tracker := j.metrics.Track(TaskCompile)
	res, err := j.compiler.Compile(ctx, date)
	if errors.Is(err, reconcile.ErrEmptyLedger) {
		j.logger.Info("compile skipped, ledger empty", slog.String("job", TaskCompile), slog.String("date", date))
		return tracker.End(nil)
	}
	if err != nil {
		j.logger.Error("compile failed", slog.String("job", TaskCompile), slog.String("date", date), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddRows(TaskCompile, len(res.Items))
	j.logger.Info("compile finished", slog.String("job", TaskCompile), slog.String("date", date), slog.Int("medicines", len(res.Items)))
	return tracker.End(nil)
}

// HandleRollover processes TaskRollover tasks.
func (j *LedgerJobs) HandleRollover(ctx context.Context, t *asynq.Task) error {
	var payload DatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode rollover payload: %v: %w", err, asynq.SkipRetry)
	}
	date := j.date(payload.Date)
	tracker := j.metrics.Track(TaskRollover)
	rolled, err := j.roller.Rollover(ctx, date)
	if err != nil {
		j.logger.Error("rollover failed", slog.String("job", TaskRollover), slog.String("date", date), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("rollover finished", slog.String("job", TaskRollover), slog.String("date", date), slog.Bool("rolled_over", rolled))
	return tracker.End(nil)
}

// HandleUpload processes TaskUpload tasks. A date already uploaded is not an
// error.
func (j *LedgerJobs) HandleUpload(ctx context.Context, t *asynq.Task) error {
	var payload UploadPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode upload payload: %v: %w", err, asynq.SkipRetry)
	}
	in := syncer.UploadInput{Date: j.date(payload.Date), Shift: prefs.Shift(payload.Shift)}
	tracker := j.metrics.Track(TaskUpload)
	res, err := j.uploader.UploadLedger(ctx, in)
	switch {
	case errors.Is(err, syncer.ErrAlreadyUploaded), errors.Is(err, syncer.ErrNothingToSend):
		j.logger.Info("upload skipped", slog.String("job", TaskUpload), slog.String("date", in.Date), slog.Any("reason", err))
		return tracker.End(nil)
	case err != nil:
		j.logger.Error("upload failed", slog.String("job", TaskUpload), slog.String("date", in.Date), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddRows(TaskUpload, res.Records)
	j.logger.Info("upload finished", slog.String("job", TaskUpload), slog.String("date", in.Date),
		slog.String("request_id", res.RequestID), slog.Bool("duplicate", res.Duplicate))
	return tracker.End(nil)
}

// Schedule holds the cron expressions of the recurring ledger tasks. Empty
// entries are not scheduled.
type Schedule struct {
	Compile  string
	Rollover string
	Upload   string
}

// DefaultSchedule compiles just before midnight and rolls over just after.
var DefaultSchedule = Schedule{Compile: "55 23 * * *", Rollover: "5 0 * * *"}

// Cron builds the worker cron registrations for s. Scheduled payloads carry no
// date so each run works on its own local day.
func (s Schedule) Cron() ([]CronRegistration, error) {
	var out []CronRegistration
	add := func(spec string, build func() (*asynq.Task, error)) error {
		if spec == "" {
			return nil
		}
		task, err := build()
		if err != nil {
			return err
		}
		out = append(out, CronRegistration{Spec: spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(0)}})
		return nil
	}
	if err := add(s.Compile, func() (*asynq.Task, error) { return NewCompileTask("") }); err != nil {
		return nil, err
	}
	if err := add(s.Rollover, func() (*asynq.Task, error) { return NewRolloverTask("") }); err != nil {
		return nil, err
	}
	if err := add(s.Upload, func() (*asynq.Task, error) { return NewUploadTask(UploadPayload{}) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *LedgerJobs) date(date string) string {
	if date != "" {
		return date
	}
	return j.clock().Format(time.DateOnly)
}
