// Package syncer carries ledger changes to the remote system of record and
// reconciles local state with the per-item outcomes it reports.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetmed/medsync/internal/idempotency"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/remote"
	"github.com/fleetmed/medsync/internal/stock"
)

// Remote is the subset of the remote client used here.
type Remote interface {
	BulkUpload(ctx context.Context, requestID, date string, records []remote.Record) (remote.Result, error)
	SubmitMode(ctx context.Context, requestID string, mode remote.Mode, vehicle string, items []remote.ModeItem) (remote.Result, error)
	Balances(ctx context.Context, vehicle string) ([]remote.Record, error)
	GetAllForDate(ctx context.Context, vehicle, date string) ([]remote.Record, error)
}

// Ledger is the subset of ledger.Service used here.
type Ledger interface {
	ListAll(ctx context.Context) ([]ledger.Row, error)
	SettleUploaded(ctx context.Context, sent []ledger.Row) error
	ResetFlowsFor(ctx context.Context, vehicleID string, medicines []string) error
	IssueBatch(ctx context.Context, vehicleID string, issues map[string]stock.Quantity) error
	RolloverFor(ctx context.Context, vehicleID string, medicines []string) error
	ApplyRemoteBalances(ctx context.Context, vehicleID string, rows []ledger.Row) error
}

// Prefs is the subset of prefs.Store used here.
type Prefs interface {
	DefaultVehicle(ctx context.Context) (string, error)
	UploadFlag(ctx context.Context, date string) (prefs.UploadFlag, bool, error)
	MarkUploaded(ctx context.Context, flag prefs.UploadFlag) error
	ShiftUploaded(ctx context.Context, date string, shift prefs.Shift) (bool, error)
	MarkShiftUploaded(ctx context.Context, date string, shift prefs.Shift) error
}

// Recorder receives one observation per finished sync call.
type Recorder interface {
	ObserveSync(action, outcome string)
}

// Outcomes reported to the Recorder.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	// ErrAlreadyUploaded refuses a second bulk upload for the same date or shift.
	ErrAlreadyUploaded = errors.New("syncer: ledger already uploaded")
	// ErrNothingToSend indicates an empty payload.
	ErrNothingToSend = errors.New("syncer: nothing to send")
	// ErrInvalidDate indicates a date not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("syncer: invalid date")
)

// Options tunes Service.
type Options struct {
	// MonthConcurrency bounds in-flight requests of FetchMonth.
	MonthConcurrency int
	Recorder         Recorder
	Logger           *slog.Logger
}

// Service orchestrates uploads and fetches.
type Service struct {
	remote   Remote
	ledger   Ledger
	prefs    Prefs
	cache    idempotency.Cache
	limit    int
	recorder Recorder
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService builds Service.
func NewService(r Remote, l Ledger, p Prefs, cache idempotency.Cache, opts Options) *Service {
	limit := opts.MonthConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Service{
		remote:   r,
		ledger:   l,
		prefs:    p,
		cache:    cache,
		limit:    limit,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}

// UploadInput selects the day, and optionally the shift, being uploaded.
type UploadInput struct {
	Date  string      `json:"date" validate:"required,datetime=2006-01-02"`
	Shift prefs.Shift `json:"shift,omitempty" validate:"omitempty,oneof=day night"`
}

// UploadResult describes a finished bulk upload.
type UploadResult struct {
	Date      string `json:"date"`
	Shift     string `json:"shift,omitempty"`
	RequestID string `json:"requestId"`
	Reused    bool   `json:"reusedRequestId"`
	Duplicate bool   `json:"duplicate"`
	Records   int    `json:"records"`
}

// UploadLedger sends the entire ledger for a date. A date (or shift) already
// uploaded is refused. A confirmed upload, including one the endpoint reports
// as a duplicate, sets the upload flag and settles the flows that were sent;
// any other failure keeps the issued requestId for a manual retry.
func (s *Service) UploadLedger(ctx context.Context, in UploadInput) (UploadResult, error) {
	const action = "bulkUpload"
	if err := checkDate(in.Date); err != nil {
		return UploadResult{}, err
	}
	done, err := s.uploaded(ctx, in)
	if err != nil {
		return UploadResult{}, err
	}
	if done {
		s.observe(action, OutcomeSkipped)
		return UploadResult{}, ErrAlreadyUploaded
	}

	rows, err := s.ledger.ListAll(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	if len(rows) == 0 {
		return UploadResult{}, ErrNothingToSend
	}
	vehicle := s.defaultVehicle(ctx)
	sigItems := make([]stock.Item, 0, len(rows))
	records := make([]remote.Record, 0, len(rows))
	for _, row := range rows {
		it := row.Item()
		records = append(records, remote.RecordFromItem(row.VehicleID, in.Date, it))
		it.Medicine = idempotency.ScopedMedicine(row.VehicleID, row.Medicine)
		sigItems = append(sigItems, it)
	}
	signature := idempotency.SignatureFor(vehicle, idempotency.OpBulk, sigItems) + "|" + in.Date + "|" + string(in.Shift)

	token, reused, err := idempotency.TokenFor(ctx, s.cache, signature)
	if err != nil {
		return UploadResult{}, err
	}
	res := UploadResult{Date: in.Date, Shift: string(in.Shift), RequestID: token, Reused: reused, Records: len(records)}

	out, err := s.remote.BulkUpload(ctx, token, in.Date, records)
	switch {
	case errors.Is(err, remote.ErrDuplicate):
		res.Duplicate = true
	case err != nil:
		s.observe(action, OutcomeFailed)
		s.log().Warn("bulk upload failed", slog.String("date", in.Date), slog.String("request_id", token), slog.Any("error", err))
		return res, err
	default:
		res.Duplicate = out.Duplicate
	}

	if err := s.cache.ClearIf(ctx, signature, token); err != nil {
		s.log().Warn("clear idempotency entry", slog.Any("error", err))
	}
	if err := s.markUploaded(ctx, in, token); err != nil {
		return res, err
	}
	if err := s.ledger.SettleUploaded(ctx, rows); err != nil {
		return res, fmt.Errorf("syncer: settle flows after upload: %w", err)
	}
	s.observe(action, outcome(res.Duplicate))
	s.log().Info("ledger uploaded",
		slog.String("date", in.Date),
		slog.String("shift", string(in.Shift)),
		slog.String("request_id", token),
		slog.Bool("duplicate", res.Duplicate),
		slog.Int("records", len(records)))
	return res, nil
}

func (s *Service) uploaded(ctx context.Context, in UploadInput) (bool, error) {
	if in.Shift != "" {
		if _, err := prefs.ParseShift(string(in.Shift)); err != nil {
			return false, err
		}
		return s.prefs.ShiftUploaded(ctx, in.Date, in.Shift)
	}
	_, ok, err := s.prefs.UploadFlag(ctx, in.Date)
	return ok, err
}

func (s *Service) markUploaded(ctx context.Context, in UploadInput, token string) error {
	if in.Shift != "" {
		return s.prefs.MarkShiftUploaded(ctx, in.Date, in.Shift)
	}
	return s.prefs.MarkUploaded(ctx, prefs.UploadFlag{Date: in.Date, RequestID: token, UploadedAt: s.clock()})
}

// ModeInput is a consumption, issue or rollover submission for one vehicle.
type ModeInput struct {
	VehicleID string       `json:"vehicleId"`
	Mode      remote.Mode  `json:"mode" validate:"required,oneof=consumption issue rollover"`
	Items     []stock.Item `json:"items" validate:"required,min=1"`
}

// ModeResult reports per-item outcomes of a submission.
type ModeResult struct {
	Mode      remote.Mode `json:"mode"`
	VehicleID string      `json:"vehicleId"`
	RequestID string      `json:"requestId"`
	Reused    bool        `json:"reusedRequestId"`
	Duplicate bool        `json:"duplicate"`
	Updated   []string    `json:"updated"`
	NotFound  []string    `json:"notFound"`
}

// SubmitMode sends the items and reconciles every item the endpoint updated:
// consumption resets their flows, issue applies the store issue, rollover
// rolls the rows over. Items the endpoint did not find are reported back
// untouched.
func (s *Service) SubmitMode(ctx context.Context, in ModeInput) (ModeResult, error) {
	mode, err := remote.ParseMode(string(in.Mode))
	if err != nil {
		return ModeResult{}, err
	}
	if len(in.Items) == 0 {
		return ModeResult{}, ErrNothingToSend
	}
	vehicle := strings.TrimSpace(in.VehicleID)
	if vehicle == "" {
		vehicle = s.defaultVehicle(ctx)
	}
	if vehicle == "" {
		return ModeResult{}, ledger.ErrVehicleRequired
	}
	op := idempotency.Operation(mode)
	items := make([]remote.ModeItem, 0, len(in.Items))
	byName := make(map[string]stock.Item, len(in.Items))
	for _, it := range in.Items {
		it.Medicine = strings.TrimSpace(it.Medicine)
		if err := it.Validate(); err != nil {
			return ModeResult{}, err
		}
		byName[it.Medicine] = it
		items = append(items, modeItem(mode, op, it))
	}
	signature := idempotency.SignatureFor(vehicle, op, in.Items)

	token, reused, err := idempotency.TokenFor(ctx, s.cache, signature)
	if err != nil {
		return ModeResult{}, err
	}
	res := ModeResult{Mode: mode, VehicleID: vehicle, RequestID: token, Reused: reused}

	out, err := s.remote.SubmitMode(ctx, token, mode, vehicle, items)
	switch {
	case errors.Is(err, remote.ErrDuplicate):
		res.Duplicate = true
	case err != nil:
		s.observe(string(mode), OutcomeFailed)
		s.log().Warn("mode submission failed", slog.String("mode", string(mode)), slog.String("request_id", token), slog.Any("error", err))
		return res, err
	}
	res.Updated, res.NotFound = out.Updated, out.NotFound
	if res.Duplicate && len(res.Updated) == 0 {
		// The endpoint applied an earlier attempt whose reply was lost.
		for _, it := range in.Items {
			res.Updated = append(res.Updated, strings.TrimSpace(it.Medicine))
		}
	}

	if err := s.cache.ClearIf(ctx, signature, token); err != nil {
		s.log().Warn("clear idempotency entry", slog.Any("error", err))
	}
	if err := s.reconcile(ctx, mode, vehicle, res.Updated, byName); err != nil {
		return res, err
	}
	s.observe(string(mode), outcome(res.Duplicate))
	return res, nil
}

func modeItem(mode remote.Mode, op idempotency.Operation, it stock.Item) remote.ModeItem {
	mi := remote.ModeItem{MedicineName: it.Medicine}
	switch mode {
	case remote.ModeConsumption:
		mi.Consumption = it.Consumption
		mi.Emergency = it.Emergency
		mi.StoreIssued = it.StoreIssued
		mi.StockAvailable = it.StockAvailable
	default:
		mi.Quantity = idempotency.Quantity(op, it)
	}
	return mi
}

func (s *Service) reconcile(ctx context.Context, mode remote.Mode, vehicle string, updated []string, byName map[string]stock.Item) error {
	if len(updated) == 0 {
		return nil
	}
	var err error
	switch mode {
	case remote.ModeConsumption:
		err = s.ledger.ResetFlowsFor(ctx, vehicle, updated)
	case remote.ModeIssue:
		issues := make(map[string]stock.Quantity, len(updated))
		for _, name := range updated {
			if it, ok := byName[name]; ok {
				issues[name] = it.StoreIssued
			}
		}
		err = s.ledger.IssueBatch(ctx, vehicle, issues)
	case remote.ModeRollover:
		err = s.ledger.RolloverFor(ctx, vehicle, updated)
	}
	if err != nil {
		return fmt.Errorf("syncer: reconcile %s: %w", mode, err)
	}
	return nil
}

// SyncBalances replaces the vehicle's local balances with the remote ones and
// reports how many rows were applied.
func (s *Service) SyncBalances(ctx context.Context, vehicle string) (int, error) {
	vehicle = strings.TrimSpace(vehicle)
	if vehicle == "" {
		vehicle = s.defaultVehicle(ctx)
	}
	if vehicle == "" {
		return 0, ledger.ErrVehicleRequired
	}
	recs, err := s.remote.Balances(ctx, vehicle)
	if err != nil {
		s.observe("balances", OutcomeFailed)
		return 0, err
	}
	rows := make([]ledger.Row, 0, len(recs))
	for _, rec := range recs {
		if strings.TrimSpace(rec.MedicineName) == "" {
			continue
		}
		rows = append(rows, ledger.Row{
			VehicleID:   vehicle,
			Medicine:    rec.MedicineName,
			Opening:     rec.OpeningBalance,
			Consumption: rec.Consumption,
			Emergency:   rec.TotalEmergency,
			Closing:     rec.ClosingBalance,
			StoreIssued: rec.StoreIssued,
		})
	}
	if err := s.ledger.ApplyRemoteBalances(ctx, vehicle, rows); err != nil {
		return 0, err
	}
	s.observe("balances", OutcomeOK)
	s.log().Info("balances synced", slog.String("vehicle", vehicle), slog.Int("rows", len(rows)))
	return len(rows), nil
}

// FetchMonth reads every day of a month from the endpoint, with at most the
// configured number of requests in flight, and folds the records: flows are
// summed and level fields come from each medicine's latest day. An empty
// vehicle reads every vehicle.
func (s *Service) FetchMonth(ctx context.Context, vehicle string, year, month int) ([]stock.Item, error) {
	if month < 1 || month > 12 || year < 1 {
		return nil, fmt.Errorf("%w: %04d-%02d", ErrInvalidDate, year, month)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	perDay := make([][]remote.Record, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i := 0; i < days; i++ {
		date := first.AddDate(0, 0, i).Format(time.DateOnly)
		g.Go(func() error {
			recs, err := s.remote.GetAllForDate(gctx, strings.TrimSpace(vehicle), date)
			if err != nil {
				return fmt.Errorf("syncer: fetch %s: %w", date, err)
			}
			for j := range recs {
				if recs[j].Date == "" {
					recs[j].Date = date
				}
			}
			perDay[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.observe("fetchMonth", OutcomeFailed)
		return nil, err
	}

	var dated []stock.DatedItem
	for _, recs := range perDay {
		for _, rec := range recs {
			if strings.TrimSpace(rec.MedicineName) == "" {
				continue
			}
			dated = append(dated, stock.DatedItem{Date: rec.Date, Item: rec.Item()})
		}
	}
	s.observe("fetchMonth", OutcomeOK)
	return stock.FoldLatest(dated), nil
}

func (s *Service) defaultVehicle(ctx context.Context) string {
	if s.prefs == nil {
		return ""
	}
	v, err := s.prefs.DefaultVehicle(ctx)
	if err != nil {
		return ""
	}
	return v
}

func (s *Service) observe(action, result string) {
	if s.recorder != nil {
		s.recorder.ObserveSync(action, result)
	}
}

func outcome(duplicate bool) string {
	if duplicate {
		return OutcomeDuplicate
	}
	return OutcomeOK
}

func checkDate(date string) error {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "syncer"))
	}
	return slog.Default().With(slog.String("component", "syncer"))
}
