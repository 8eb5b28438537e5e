// Package prefs keeps the device-local preference flags and the per-date upload
// flags.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetmed/medsync/internal/platform/db"
)

const (
	keyDefaultVehicle = "default_vehicle"
	keyLastRollover   = "last_rollover_date"
	shiftPrefix       = "shift_uploaded:"
)

// Shift names a working shift with its own upload flag.
type Shift string

const (
	ShiftDay   Shift = "day"
	ShiftNight Shift = "night"
)

// ParseShift validates a shift name.
func ParseShift(s string) (Shift, error) {
	switch sh := Shift(strings.ToLower(strings.TrimSpace(s))); sh {
	case ShiftDay, ShiftNight:
		return sh, nil
	}
	return "", ErrInvalidShift
}

var (
	// ErrInvalidShift indicates an unknown shift name.
	ErrInvalidShift = errors.New("prefs: shift must be day or night")
	// ErrNoDefaultVehicle indicates no vehicle has been selected yet.
	ErrNoDefaultVehicle = errors.New("prefs: no default vehicle selected")
)

// UploadFlag records a successful bulk upload for a date.
type UploadFlag struct {
	Date       string    `json:"date"`
	RequestID  string    `json:"requestId"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Store persists preferences in the device store.
type Store struct {
	db *db.DB
}

// NewStore constructs Store.
func NewStore(d *db.DB) *Store {
	return &Store{db: d}
}

// Get returns a raw preference value, "" when unset.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.Querier().QueryRowContext(ctx, `SELECT pref_value FROM device_prefs WHERE pref_key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Set stores a raw preference value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Querier().ExecContext(ctx, `INSERT INTO device_prefs (pref_key, pref_value) VALUES (?, ?)
		ON CONFLICT (pref_key) DO UPDATE SET pref_value = excluded.pref_value`, key, value)
	if err != nil {
		return fmt.Errorf("prefs: set %s: %w", key, err)
	}
	return nil
}

// DefaultVehicle returns the selected vehicle.
func (s *Store) DefaultVehicle(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, keyDefaultVehicle)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNoDefaultVehicle
	}
	return v, nil
}

// SetDefaultVehicle stores the selected vehicle.
func (s *Store) SetDefaultVehicle(ctx context.Context, vehicleID string) error {
	return s.Set(ctx, keyDefaultVehicle, vehicleID)
}

// LastRollover returns the date of the last applied rollover.
func (s *Store) LastRollover(ctx context.Context) (string, error) {
	return s.Get(ctx, keyLastRollover)
}

// SetLastRollover records the date of the last applied rollover.
func (s *Store) SetLastRollover(ctx context.Context, date string) error {
	return s.Set(ctx, keyLastRollover, date)
}

// ShiftUploaded reports whether the shift's upload for date succeeded.
func (s *Store) ShiftUploaded(ctx context.Context, date string, shift Shift) (bool, error) {
	v, err := s.Get(ctx, shiftKey(date, shift))
	return v == "1", err
}

// MarkShiftUploaded sets the shift's upload flag for date.
func (s *Store) MarkShiftUploaded(ctx context.Context, date string, shift Shift) error {
	return s.Set(ctx, shiftKey(date, shift), "1")
}

func shiftKey(date string, shift Shift) string {
	return shiftPrefix + date + ":" + string(shift)
}

// UploadFlag returns the flag for date. ok is false when no upload succeeded.
func (s *Store) UploadFlag(ctx context.Context, date string) (UploadFlag, bool, error) {
	var (
		flag UploadFlag
		at   string
	)
	err := s.db.Querier().QueryRowContext(ctx, `SELECT upload_date, request_id, uploaded_at FROM upload_flags WHERE upload_date = ?`, date).
		Scan(&flag.Date, &flag.RequestID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return UploadFlag{}, false, nil
	}
	if err != nil {
		return UploadFlag{}, false, err
	}
	if at != "" {
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			flag.UploadedAt = t
		}
	}
	return flag, true, nil
}

// MarkUploaded creates or overwrites the flag for date.
func (s *Store) MarkUploaded(ctx context.Context, flag UploadFlag) error {
	_, err := s.db.Querier().ExecContext(ctx, `INSERT INTO upload_flags (upload_date, request_id, uploaded_at) VALUES (?, ?, ?)
		ON CONFLICT (upload_date) DO UPDATE SET request_id = excluded.request_id, uploaded_at = excluded.uploaded_at`,
		flag.Date, flag.RequestID, flag.UploadedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("prefs: mark uploaded %s: %w", flag.Date, err)
	}
	return nil
}

// ClearUploaded drops the flag for date so the upload can be repeated.
func (s *Store) ClearUploaded(ctx context.Context, date string) error {
	_, err := s.db.Querier().ExecContext(ctx, `DELETE FROM upload_flags WHERE upload_date = ?`, date)
	return err
}
