package perf

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/catalog"
	jobmetrics "github.com/fleetmed/medsync/internal/jobs"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/reconcile"
)

const vehicle = "AMB-01"

func newLedger(tb testing.TB) (*db.DB, *ledger.Service) {
	tb.Helper()
	d, err := db.OpenMemory(context.Background())
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = d.Close() })
	svc := ledger.NewService(ledger.NewRepository(d), prefs.NewStore(d), nil)
	ctx := context.Background()
	for _, medicine := range catalog.Default().Medicines() {
		_, err := svc.Upsert(ctx, ledger.Row{VehicleID: vehicle, Medicine: medicine, Opening: 1 << 40, Closing: 1 << 40})
		require.NoError(tb, err)
	}
	return d, svc
}

func TestCompileLatencyBudget(t *testing.T) {
	d, _ := newLedger(t)
	compiler := reconcile.NewCompiler(d, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var samples []time.Duration
	for i := 0; i < 10; i++ {
		began := time.Now()
		res, err := compiler.Compile(context.Background(), start.AddDate(0, 0, i).Format(time.DateOnly))
		require.NoError(t, err)
		require.Len(t, res.Items, len(catalog.Default().Medicines()))
		samples = append(samples, time.Since(began))
	}
	if p95 := percentile95(samples); p95 > 2*time.Second {
		t.Fatalf("compile latency regression: p95=%s", p95)
	}
}

func TestLedgerJobReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	for i := 0; i < 30; i++ {
		tracker := metrics.Track("ledger:compile")
		require.NoError(t, tracker.End(nil))
	}
	for i := 0; i < 2; i++ {
		tracker := metrics.Track("ledger:compile")
		require.Error(t, tracker.End(errors.New("store locked")))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	success := metricValue(t, families, "medsync_jobs_total", map[string]string{"job": "ledger:compile", "status": "success"})
	failure := metricValue(t, families, "medsync_jobs_total", map[string]string{"job": "ledger:compile", "status": "failure"})
	require.Equal(t, float64(30), success)
	require.Equal(t, float64(2), failure)
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("compile success ratio too low: %f", ratio)
	}
}

func BenchmarkSubmitConsumption(b *testing.B) {
	_, svc := newLedger(b)
	medicines := catalog.Default().Medicines()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := svc.SubmitConsumption(ctx, ledger.SubmitInput{VehicleID: vehicle, Medicine: medicines[i%len(medicines)], Consumption: 1})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompile(b *testing.B) {
	d, _ := newLedger(b)
	compiler := reconcile.NewCompiler(d, nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := compiler.Compile(ctx, "2024-03-15"); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*0.95)]
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}
