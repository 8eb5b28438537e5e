package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/stock"
)

func TestSignatureIgnoresInputOrder(t *testing.T) {
	a := []stock.Item{
		{Medicine: "tab. Paracetamol 500 mg", Consumption: 2, Emergency: 1},
		{Medicine: "Cotton Roll", Consumption: 1},
		{Medicine: "Oxygen", Consumption: 4, StockAvailable: 3},
	}
	b := []stock.Item{a[2], a[0], a[1]}

	for _, op := range []Operation{OpBulk, OpConsumption, OpIssue, OpRollover} {
		require.Equal(t, SignatureFor("BNA 07", op, a), SignatureFor("BNA 07", op, b), op)
	}
	require.Equal(t,
		`v2|"BNA 07"|consumption|"Cotton Roll":1:0:0:0;"Oxygen":4:0:0:3;"tab. Paracetamol 500 mg":2:1:0:0`,
		SignatureFor("BNA 07", OpConsumption, b))
}

func TestSignatureChangesWithAnyQuantity(t *testing.T) {
	base := []stock.Item{{Medicine: "X", Consumption: 2, Emergency: 1, StoreIssued: 4, StockAvailable: 9}}
	sig := SignatureFor("BNA 07", OpConsumption, base)

	for _, mutate := range []func(*stock.Item){
		func(it *stock.Item) { it.Consumption++ },
		func(it *stock.Item) { it.Emergency++ },
		func(it *stock.Item) { it.StoreIssued++ },
		func(it *stock.Item) { it.StockAvailable++ },
	} {
		changed := []stock.Item{base[0]}
		mutate(&changed[0])
		require.NotEqual(t, sig, SignatureFor("BNA 07", OpConsumption, changed))
	}

	require.NotEqual(t,
		SignatureFor("BNA 07", OpIssue, []stock.Item{{Medicine: "X", StoreIssued: 1}}),
		SignatureFor("BNA 07", OpIssue, []stock.Item{{Medicine: "X", StoreIssued: 2}}))
	require.NotEqual(t, sig, SignatureFor("BNA 09", OpConsumption, base))
	require.NotEqual(t, sig, SignatureFor("BNA 07", OpBulk, base))
}

func TestSignatureSeparatorsInNamesDoNotCollide(t *testing.T) {
	joined := []stock.Item{{Medicine: "A:1;B", StoreIssued: 2}}
	split := []stock.Item{{Medicine: "A", StoreIssued: 1}, {Medicine: "B", StoreIssued: 2}}
	require.NotEqual(t, SignatureFor("BNA 07", OpIssue, joined), SignatureFor("BNA 07", OpIssue, split))

	require.NotEqual(t,
		SignatureFor("BNA|issue", OpIssue, split[:1]),
		SignatureFor("BNA", OpIssue, []stock.Item{{Medicine: `issue|"A"`, StoreIssued: 1}}))
	require.NotEqual(t, ScopedMedicine("BNA/07", "X"), ScopedMedicine("BNA", "07/X"))
}

func TestMemoryCacheReuseWithinTTL(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(4, 5*time.Minute)
	c.WithClock(func() time.Time { return now })
	ctx := context.Background()

	id, reused, err := TokenFor(ctx, c, "sig-a")
	require.NoError(t, err)
	require.False(t, reused)
	require.NotEmpty(t, id)

	now = now.Add(4 * time.Minute)
	again, reused, err := TokenFor(ctx, c, "sig-a")
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, id, again)

	now = now.Add(time.Minute)
	fresh, reused, err := TokenFor(ctx, c, "sig-a")
	require.NoError(t, err)
	require.False(t, reused)
	require.NotEqual(t, id, fresh)
}

func TestMemoryCacheKeepsDistinctSignatures(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", "id-a"))
	require.NoError(t, c.Store(ctx, "b", "id-b"))
	id, ok, err := c.Reuse(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id-a", id)

	require.NoError(t, c.Store(ctx, "c", "id-c"))
	require.Equal(t, 2, c.Len())
	_, ok, _ = c.Reuse(ctx, "b")
	require.False(t, ok)
	_, ok, _ = c.Reuse(ctx, "a")
	require.True(t, ok)
}

func TestMemoryCacheClearIfMatchesToken(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", "id-1"))
	require.NoError(t, c.ClearIf(ctx, "a", "id-0"))
	_, ok, _ := c.Reuse(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.ClearIf(ctx, "a", "id-1"))
	_, ok, _ = c.Reuse(ctx, "a")
	require.False(t, ok)

	require.ErrorIs(t, c.Store(ctx, "", "x"), ErrSignatureRequired)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCache(client, 5*time.Minute)
	ctx := context.Background()

	id, reused, err := TokenFor(ctx, c, "sig")
	require.NoError(t, err)
	require.False(t, reused)

	again, reused, err := TokenFor(ctx, c, "sig")
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, id, again)

	require.NoError(t, c.ClearIf(ctx, "sig", "other"))
	_, ok, err := c.Reuse(ctx, "sig")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.ClearIf(ctx, "sig", id))
	_, ok, err = c.Reuse(ctx, "sig")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Store(ctx, "sig", "id-2"))
	mr.FastForward(6 * time.Minute)
	_, ok, err = c.Reuse(ctx, "sig")
	require.NoError(t, err)
	require.False(t, ok)
}
