package archive

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/stock"
)

func TestHandlerHalfAndMonthly(t *testing.T) {
	svc := newTestService(t)
	compile(t, svc, "2024-03-03", stock.Item{Medicine: "X", Consumption: 5, Opening: 50, Closing: 45})
	compile(t, svc, "2024-03-10", stock.Item{Medicine: "X", Consumption: 2, Emergency: 1, Opening: 45, Closing: 42})
	compile(t, svc, "2024-03-18", stock.Item{Medicine: "X", Consumption: 4, Opening: 42, Closing: 38})

	r := chi.NewRouter()
	NewHandler(svc, nil).MountRoutes(r)
	serve := func(method, target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
		return rr
	}

	rr := serve(http.MethodGet, "/archive/half?year=2024&month=3&half=first")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var agg struct {
		Items []stock.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agg))
	require.Len(t, agg.Items, 1)
	require.Equal(t, stock.Quantity(7), agg.Items[0].Consumption)
	require.Equal(t, stock.Quantity(1), agg.Items[0].Emergency)
	require.Equal(t, stock.Quantity(42), agg.Items[0].Closing)
	require.Equal(t, stock.Quantity(45), agg.Items[0].Opening)

	require.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/archive/half?year=2024&month=3&half=third").Code)
	require.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/archive/half?year=2024&month=13&half=1").Code)
	require.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/archive/range?from=2024-03-10&to=2024-03-01").Code)
	require.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/archive/day?date=yesterday").Code)

	rr = serve(http.MethodDelete, "/archive/half?year=2024&month=3&half=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"deleted":2}`, rr.Body.String())

	rr = serve(http.MethodGet, "/archive/monthly?year=2024&month=3")
	require.Equal(t, http.StatusOK, rr.Code)
	var monthly struct {
		Rows []MonthlyRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &monthly))
	require.Len(t, monthly.Rows, 1)
	require.Equal(t, stock.Quantity(11), monthly.Rows[0].Consumption)

	rr = serve(http.MethodGet, "/archive/range/rows?from=2024-03-01&to=2024-03-31")
	var daily struct {
		Rows []DailyRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &daily))
	require.Len(t, daily.Rows, 1)

	rr = serve(http.MethodDelete, "/archive/monthly?year=2024&month=3")
	require.JSONEq(t, `{"deleted":1}`, rr.Body.String())
	require.JSONEq(t, `{"rows":[]}`, serve(http.MethodGet, "/archive/monthly").Body.String())
	require.JSONEq(t, `{"rows":[]}`, serve(http.MethodGet, "/archive/day?date=2024-03-03").Body.String())
}
