package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetmed/medsync/internal/platform/httpx"
	"github.com/fleetmed/medsync/internal/stock"
)

// Handler exposes the ledger over the local JSON API.
type Handler struct {
	service   *Service
	medicines func() []string
	today     func() string
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler. medicines lists the catalogue used when a
// vehicle selection names none; today returns the local calendar date.
func NewHandler(service *Service, medicines func() []string, today func() string, logger *slog.Logger) *Handler {
	if today == nil {
		today = func() string { return time.Now().UTC().Format(time.DateOnly) }
	}
	if medicines == nil {
		medicines = func() []string { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, medicines: medicines, today: today, logger: logger, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/row", h.get)
		r.Put("/row", h.upsert)
		r.Delete("/row", h.delete)
		r.Post("/vehicle/select", h.selectVehicle)
		r.Post("/vehicle/switch", h.switchVehicle)
		r.Post("/consumption", h.submit)
		r.Post("/stock", h.addStock)
		r.Post("/issue", h.issue)
		r.Post("/pending/edit", h.editPending)
		r.Post("/pending/revert", h.revertPending)
		r.Post("/reset", h.reset)
		r.Post("/rollover", h.rollover)
	})
}

type vehicleRequest struct {
	VehicleID string   `json:"vehicleId" validate:"required"`
	Medicines []string `json:"medicines"`
}

type quantityRequest struct {
	VehicleID string         `json:"vehicleId" validate:"required"`
	Medicine  string         `json:"medicineName" validate:"required"`
	Quantity  stock.Quantity `json:"quantity" validate:"gte=0"`
}

type pendingRequest struct {
	VehicleID   string         `json:"vehicleId" validate:"required"`
	Medicine    string         `json:"medicineName" validate:"required"`
	Consumption stock.Quantity `json:"consumption" validate:"gte=0"`
	Emergency   stock.Quantity `json:"emergencyQuantity" validate:"gte=0"`
}

type keyRequest struct {
	VehicleID string `json:"vehicleId" validate:"required"`
	Medicine  string `json:"medicineName" validate:"required"`
}

type resetRequest struct {
	VehicleID string   `json:"vehicleId"`
	Medicines []string `json:"medicines"`
}

type rolloverRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		rows []Row
		err  error
	)
	if vehicle := strings.TrimSpace(r.URL.Query().Get("vehicle")); vehicle != "" {
		rows, err = h.service.ListByVehicle(r.Context(), vehicle)
	} else {
		rows, err = h.service.ListAll(r.Context())
	}
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	if rows == nil {
		rows = []Row{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	row, err := h.service.Get(r.Context(), q.Get("vehicle"), q.Get("medicine"))
	if err != nil {
		h.fail(w, "get ledger row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	var row Row
	if err := httpx.DecodeJSON(r, &row); err != nil {
		httpx.RespondError(w, err)
		return
	}
	saved, err := h.service.Upsert(r.Context(), row)
	if err != nil {
		h.fail(w, "upsert ledger row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.service.Delete(r.Context(), q.Get("vehicle"), q.Get("medicine")); err != nil {
		h.fail(w, "delete ledger row", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectVehicle(w http.ResponseWriter, r *http.Request) {
	h.vehicle(w, r, false)
}

func (h *Handler) switchVehicle(w http.ResponseWriter, r *http.Request) {
	h.vehicle(w, r, true)
}

func (h *Handler) vehicle(w http.ResponseWriter, r *http.Request, full bool) {
	var req vehicleRequest
	if !h.decode(w, r, &req) {
		return
	}
	medicines := req.Medicines
	if len(medicines) == 0 {
		medicines = h.medicines()
	}
	var err error
	if full {
		err = h.service.SwitchVehicle(r.Context(), req.VehicleID, medicines)
	} else {
		err = h.service.SelectVehicle(r.Context(), req.VehicleID, medicines)
	}
	if err != nil {
		h.fail(w, "select vehicle", err)
		return
	}
	rows, err := h.service.ListByVehicle(r.Context(), req.VehicleID)
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vehicleId": strings.TrimSpace(req.VehicleID), "rows": rows})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.SubmitConsumption(r.Context(), req)
	if err != nil {
		h.fail(w, "submit consumption", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.AddStock(r.Context(), req.VehicleID, req.Medicine, req.Quantity)
	if err != nil {
		h.fail(w, "add stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.IssueFromStore(r.Context(), req.VehicleID, req.Medicine, req.Quantity)
	if err != nil {
		h.fail(w, "issue from store", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) editPending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.ApplyEditedPending(r.Context(), req.VehicleID, req.Medicine, req.Consumption, req.Emergency)
	if err != nil {
		h.fail(w, "edit pending", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) revertPending(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.RevertPending(r.Context(), req.VehicleID, req.Medicine)
	if err != nil {
		h.fail(w, "revert pending", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	var err error
	if len(req.Medicines) > 0 {
		err = h.service.ResetFlowsFor(r.Context(), req.VehicleID, req.Medicines)
	} else {
		err = h.service.ResetFlows(r.Context(), req.VehicleID)
	}
	if err != nil {
		h.fail(w, "reset flows", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	date := req.Date
	if date == "" {
		date = h.today()
	}
	rolled, err := h.service.Rollover(r.Context(), date)
	if err != nil {
		h.fail(w, "rollover", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"date": date, "rolledOver": rolled})
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

// decodeOptional accepts an empty body as the zero request.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, target)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrRowNotFound):
		err = httpx.Wrap(httpx.ErrNotFound, err)
	case errors.Is(err, ErrZeroBalance), errors.Is(err, ErrInsufficientBalance):
		err = httpx.Wrap(httpx.ErrUnprocessable, err)
	case IsValidation(err):
		err = httpx.Wrap(httpx.ErrValidation, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
