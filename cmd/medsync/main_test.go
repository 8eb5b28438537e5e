package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/stock"
	"github.com/fleetmed/medsync/jobs"
)

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REMOTE_URL", "http://127.0.0.1:1/exec")
	t.Setenv("REMOTE_API_KEY", "k")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_PATH", filepath.Join(t.TempDir(), "medsync.db"))
	t.Setenv("REDIS_ADDR", "")
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRolloverCommandRunsOncePerDate(t *testing.T) {
	setEnv(t)

	out, err := run(t, cmdRollover(), "--date", "2024-03-15")
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-03-15","rolledOver":true}`, out)

	out, err = run(t, cmdRollover(), "--date", "2024-03-15")
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-03-15","rolledOver":false}`, out)
}

func TestCompileCommandEmptyLedger(t *testing.T) {
	setEnv(t)
	_, err := run(t, cmdCompile(), "--date", "2024-03-15")
	require.Error(t, err)
}

func TestCompileCommandRefusesRepeatWithoutForce(t *testing.T) {
	setEnv(t)
	ctx := context.Background()
	s, err := bootstrap(ctx)
	require.NoError(t, err)
	_, err = s.ledger.Upsert(ctx, ledger.Row{VehicleID: "BNA 07", Medicine: "X", Opening: stock.Units(10), Consumption: stock.Units(2), Closing: stock.Units(8)})
	require.NoError(t, err)
	s.Close()

	_, err = run(t, cmdCompile(), "--date", "2024-03-15")
	require.NoError(t, err)
	_, err = run(t, cmdCompile(), "--date", "2024-03-15")
	require.ErrorIs(t, err, errAlreadyCompiled)

	s, err = bootstrap(ctx)
	require.NoError(t, err)
	day, err := s.archive.ListDay(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, day, 1)
	require.Equal(t, stock.Units(2), day[0].Consumption)
	s.Close()

	_, err = run(t, cmdCompile(), "--date", "2024-03-15", "--force")
	require.NoError(t, err)
	s, err = bootstrap(ctx)
	require.NoError(t, err)
	defer s.Close()
	day, err = s.archive.ListDay(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Equal(t, stock.Units(4), day[0].Consumption)
}

func TestUploadCommandRejectsShift(t *testing.T) {
	setEnv(t)
	_, err := run(t, cmdUpload(), "--shift", "evening")
	require.Error(t, err)
}

func TestJobsCommandsNeedBroker(t *testing.T) {
	setEnv(t)
	_, err := run(t, cmdJobsTrigger(), jobs.TaskCompile)
	require.ErrorIs(t, err, errNoBroker)
}

func TestPurgeArchive(t *testing.T) {
	ctx := context.Background()
	d, err := db.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	svc := archive.NewService(archive.NewRepository(d), nil)
	for _, date := range []string{"2024-03-03", "2024-03-10", "2024-03-18"} {
		require.NoError(t, svc.InsertOrAccumulateSnapshot(ctx, date, []stock.Item{
			{Medicine: "X", Consumption: 1, Opening: 10, Closing: 9},
			{Medicine: "Y", Consumption: 2, Opening: 10, Closing: 8},
		}))
	}

	_, err = purgeArchive(ctx, svc, purgeOptions{})
	require.ErrorIs(t, err, errPurgeScope)
	_, err = purgeArchive(ctx, svc, purgeOptions{From: "2024-03-01"})
	require.ErrorIs(t, err, errPurgeScope)
	_, err = purgeArchive(ctx, svc, purgeOptions{Year: 2024, Month: 3, Half: "third"})
	require.ErrorIs(t, err, archive.ErrInvalidHalf)

	n, err := purgeArchive(ctx, svc, purgeOptions{Year: 2024, Month: 3, Half: "first", Medicine: "X"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = purgeArchive(ctx, svc, purgeOptions{From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestJobsCLITriggerAndStats(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := newJobsCLIFor(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	stats, err := cli.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)

	info, err := cli.client.Trigger(context.Background(), jobs.TaskRollover, "2024-03-15")
	require.NoError(t, err)
	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Equal(t, []string{info.ID}, pending)

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, stats))
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"archived":0}`, buf.String())
}
