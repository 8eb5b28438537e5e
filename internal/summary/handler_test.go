package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/stock"
)

func TestHandlerWindowAndDelete(t *testing.T) {
	svc, _ := newSQLiteService(t)
	ctx := context.Background()
	require.NoError(t, svc.InsertOrAccumulate(ctx, "2024-03-01", []stock.Item{
		{Medicine: "X", Opening: 50, Consumption: 5, Emergency: 3, Closing: 42, StockAvailable: 42},
	}))
	require.NoError(t, svc.InsertOrAccumulate(ctx, "2024-03-02", []stock.Item{
		{Medicine: "Y", Opening: 10, Consumption: 1, Closing: 9, StockAvailable: 9},
	}))

	h := NewHandler(svc, func() time.Time { return time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC) }, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)

	get := func(target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr
	}

	rr := get("/summary/window?days=1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Items []stock.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "Y", body.Items[0].Medicine)

	require.Equal(t, http.StatusBadRequest, get("/summary/window?days=0").Code)
	require.Equal(t, http.StatusBadRequest, get("/summary/window?days=x").Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/summary/?medicine=Z", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/summary/?medicine=X", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/summary/", nil))
	require.JSONEq(t, `{"deleted":1}`, rr.Body.String())

	require.JSONEq(t, `{"rows":[]}`, get("/summary/").Body.String())
}
