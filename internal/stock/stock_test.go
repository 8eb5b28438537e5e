package stock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecomputeClosingFloorsAtZero(t *testing.T) {
	require.Equal(t, Quantity(85), RecomputeClosing(100, 10, 5))
	require.Equal(t, Quantity(0), RecomputeClosing(10, 8, 5))
	require.Equal(t, Quantity(0), RecomputeClosing(0, 0, 0))
}

func TestAccumulateSumsFlowsOverwritesLevels(t *testing.T) {
	first := Item{Medicine: "X", Consumption: 5, Opening: 50, Closing: 45, StockAvailable: 45}
	second := Item{Medicine: "X", Consumption: 3, Opening: 45, Closing: 42, StockAvailable: 42, StoreIssued: 2}

	merged := Accumulate(first, second)
	require.Equal(t, Quantity(8), merged.Consumption)
	require.Equal(t, Quantity(45), merged.Opening)
	require.Equal(t, Quantity(42), merged.Closing)
	require.Equal(t, Quantity(2), merged.StoreIssued)
	require.Equal(t, Quantity(42), merged.StockAvailable)
}

func TestWindowTotalsSumsLevelsAndMaxesStock(t *testing.T) {
	out := WindowTotals([]Item{
		{Medicine: "b", Opening: 10, Closing: 8, Consumption: 2, StockAvailable: 8},
		{Medicine: "A", Opening: 5, Closing: 5, StockAvailable: 5},
		{Medicine: "b", Opening: 8, Closing: 6, Consumption: 2, StockAvailable: 12},
	})
	require.Len(t, out, 2)
	require.Equal(t, "A", out[0].Medicine)
	require.Equal(t, Item{Medicine: "b", Opening: 18, Closing: 14, Consumption: 4, StockAvailable: 12}, out[1])
}

func TestFoldLatestTakesLevelsFromLastDate(t *testing.T) {
	out := FoldLatest([]DatedItem{
		{Date: "2024-03-10", Item: Item{Medicine: "X", Consumption: 4, Opening: 40, Closing: 36}},
		{Date: "2024-03-02", Item: Item{Medicine: "X", Consumption: 1, Opening: 60, Closing: 59}},
		{Date: "2024-03-05", Item: Item{Medicine: "X", Consumption: 2, Opening: 50, Closing: 48}},
	})
	require.Len(t, out, 1)
	require.Equal(t, Quantity(7), out[0].Consumption)
	require.Equal(t, Quantity(40), out[0].Opening)
	require.Equal(t, Quantity(36), out[0].Closing)
}

func TestSortItemsIsCaseInsensitive(t *testing.T) {
	items := []Item{{Medicine: "tab. b"}, {Medicine: "Tab. A"}, {Medicine: "inj. C"}}
	SortItems(items)
	require.Equal(t, []string{"inj. C", "Tab. A", "tab. b"}, []string{items[0].Medicine, items[1].Medicine, items[2].Medicine})
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Item{}.Validate(), ErrMedicineRequired)
	require.ErrorIs(t, Item{Medicine: "X", Consumption: -1}.Validate(), ErrNegativeQuantity)
	require.NoError(t, Item{Medicine: "X"}.Validate())
}
