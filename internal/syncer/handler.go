package syncer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/httpx"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/remote"
	"github.com/fleetmed/medsync/internal/stock"
)

// Handler exposes the sync operations over the local JSON API.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, validator: validator.New()}
}

// MountRoutes registers sync routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Post("/upload", h.upload)
		r.Post("/mode", h.mode)
		r.Post("/balances", h.balances)
		r.Get("/month", h.month)
	})
}

type balancesRequest struct {
	VehicleID string `json:"vehicleId"`
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	var req UploadInput
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.UploadLedger(r.Context(), req)
	if err != nil {
		h.fail(w, "upload ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) mode(w http.ResponseWriter, r *http.Request) {
	var req ModeInput
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.SubmitMode(r.Context(), req)
	if err != nil {
		h.fail(w, "submit mode", err)
		return
	}
	if res.Updated == nil {
		res.Updated = []string{}
	}
	if res.NotFound == nil {
		res.NotFound = []string{}
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	var req balancesRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.SyncBalances(r.Context(), req.VehicleID)
	if err != nil {
		h.fail(w, "sync balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": n})
}

func (h *Handler) month(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, yerr := strconv.Atoi(q.Get("year"))
	month, merr := strconv.Atoi(q.Get("month"))
	if yerr != nil || merr != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, ErrInvalidDate))
		return
	}
	items, err := h.service.FetchMonth(r.Context(), strings.TrimSpace(q.Get("vehicle")), year, month)
	if err != nil {
		h.fail(w, "fetch month", err)
		return
	}
	if items == nil {
		items = []stock.Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"year": year, "month": month, "items": items})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var rerr *remote.Error
	switch {
	case errors.Is(err, ErrAlreadyUploaded):
		err = httpx.Wrap(httpx.ErrDuplicate, err)
	case errors.Is(err, ErrNothingToSend):
		err = httpx.Wrap(httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrInvalidDate), errors.Is(err, prefs.ErrInvalidShift),
		errors.Is(err, remote.ErrInvalidMode), ledger.IsValidation(err),
		errors.Is(err, stock.ErrMedicineRequired), errors.Is(err, stock.ErrNegativeQuantity):
		err = httpx.Wrap(httpx.ErrValidation, err)
	case errors.As(err, &rerr):
		h.logger.Warn(op, slog.String("kind", string(rerr.Kind)), slog.Any("error", err))
		err = httpx.Wrap(httpx.ErrUpstream, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
