package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	require.Equal(t, "SELECT ? FROM t", Rebind(DriverSQLite, "SELECT ? FROM t"))
	require.Equal(t,
		"UPDATE t SET a = $1 WHERE b = $2 AND c = '?'",
		Rebind(DriverPostgres, "UPDATE t SET a = ? WHERE b = ? AND c = '?'"),
	)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	d, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	boom := errors.New("boom")
	err = d.WithTx(ctx, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO device_prefs (pref_key, pref_value) VALUES (?, ?)`, "k", "v"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, d.Querier().QueryRowContext(ctx, `SELECT COUNT(*) FROM device_prefs`).Scan(&count))
	require.Zero(t, count)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Migrate(ctx))
}
