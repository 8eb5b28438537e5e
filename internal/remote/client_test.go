package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/stock"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, APIKey: "secret", HTTPClient: srv.Client()}, nil)
	require.NoError(t, err)
	return c
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestBulkUploadSendsKeyAndRequestID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "secret", r.Header.Get(APIKeyHeader))
		body := decodeRequest(t, r)
		require.Equal(t, ActionBulkUpload, body["action"])
		require.Equal(t, "req-1", body["requestId"])
		require.Equal(t, "2024-03-15", body["date"])
		require.Len(t, body["records"], 1)
		_, _ = w.Write([]byte(`{"ok":true,"updated":["Oxygen"]}`))
	})

	res, err := c.BulkUpload(context.Background(), "req-1", "2024-03-15", []Record{{VehicleName: "BNA 07", MedicineName: "Oxygen", ClosingBalance: 4}})
	require.NoError(t, err)
	require.Equal(t, []string{"Oxygen"}, res.Updated)
	require.False(t, res.Duplicate)
}

func TestDuplicateIsSemantic(t *testing.T) {
	for name, body := range map[string]string{
		"ok":       `{"ok":true,"duplicate":true}`,
		"rejected": `{"ok":false,"error":"already processed","code":"DUPLICATE"}`,
		"flagOnly": `{"ok":false,"duplicate":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := c.SubmitMode(context.Background(), "req-2", ModeConsumption, "BNA 07", []ModeItem{{MedicineName: "X", Consumption: 1}})
			require.ErrorIs(t, err, ErrDuplicate)
			require.True(t, IsSemantic(err))
		})
	}
}

func TestSubmitModeReportsOutcomes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		require.Equal(t, "issue", body["mode"])
		require.Nil(t, body["action"])
		_, _ = w.Write([]byte(`{"ok":true,"updated":["A"],"notFound":["B"]}`))
	})
	res, err := c.SubmitMode(context.Background(), "req-3", ModeIssue, "BNA 07", []ModeItem{{MedicineName: "A", Quantity: 2}, {MedicineName: "B", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, res.Updated)
	require.Equal(t, []string{"B"}, res.NotFound)
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"no such row","code":"NOT_FOUND"}`))
	})
	_, err := c.Get(context.Background(), "BNA 07", "X")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, errors.Is(err, ErrDuplicate))
}

func TestRecordsDecodeStringQuantities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		require.Equal(t, ActionBalances, body["action"])
		_, _ = w.Write([]byte(`{"ok":true,"data":[{"vehicleName":"BNA 07","medicineName":"Oxygen","openingBalance":"10.50","consumption":2,"totalEmergency":"","closingBalance":"8","storeIssued":null}]}`))
	})
	recs, err := c.Balances(context.Background(), "BNA 07")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, stock.Quantity(1050), recs[0].OpeningBalance)
	require.Equal(t, stock.Quantity(0), recs[0].TotalEmergency)
	require.Equal(t, stock.Units(2), recs[0].Consumption)
	it := recs[0].Item()
	require.Equal(t, stock.Units(8), it.Closing)
	require.Equal(t, stock.Units(8), it.StockAvailable)
}

func TestFailureKinds(t *testing.T) {
	status := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := status.GetAllForVehicle(context.Background(), "BNA 07")
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindStatus, rerr.Kind)
	require.Equal(t, http.StatusInternalServerError, rerr.Status)
	require.False(t, IsSemantic(err))

	decode := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err = decode.GetAllForDate(context.Background(), "", "2024-03-15")
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindDecode, rerr.Kind)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	transport, err := New(Config{URL: url}, nil)
	require.NoError(t, err)
	_, err = transport.Upsert(context.Background(), "req", Record{VehicleName: "BNA 07", MedicineName: "X"})
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindTransport, rerr.Kind)

	_, err = New(Config{}, nil)
	require.Error(t, err)
}
