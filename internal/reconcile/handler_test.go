package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/stock"
)

func TestHandlerCompile(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.compiler, func() string { return "2024-03-02" }, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/compile", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	_, err := f.ledger.Upsert(context.Background(), ledger.Row{VehicleID: "BNA 07", Medicine: "X", Opening: 50, Consumption: 5, Emergency: 3, Closing: 42})
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/compile", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, "2024-03-02", res.Date)
	require.Len(t, res.Items, 1)
	require.Equal(t, stock.Quantity(42), res.Items[0].StockAvailable)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(`{"date":"March 2"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
