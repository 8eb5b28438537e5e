package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmed/medsync/internal/platform/httpx"
	"github.com/fleetmed/medsync/internal/stock"
)

// Handler triggers compiles over the local JSON API.
type Handler struct {
	compiler *Compiler
	today    func() string
	logger   *slog.Logger
}

// NewHandler constructs a Handler. today supplies the default compile date.
func NewHandler(compiler *Compiler, today func() string, logger *slog.Logger) *Handler {
	if today == nil {
		today = func() string { return time.Now().UTC().Format(time.DateOnly) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{compiler: compiler, today: today, logger: logger}
}

// MountRoutes registers the compile route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/compile", h.compile)
}

type compileRequest struct {
	Date string `json:"date"`
}

func (h *Handler) compile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	if req.Date == "" {
		req.Date = h.today()
	}
	res, err := h.compiler.Compile(r.Context(), req.Date)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDate):
			err = httpx.Wrap(httpx.ErrValidation, err)
		case errors.Is(err, ErrEmptyLedger):
			err = httpx.Wrap(httpx.ErrUnprocessable, err)
		case errors.Is(err, stock.ErrMedicineRequired), errors.Is(err, stock.ErrNegativeQuantity):
			err = httpx.Wrap(httpx.ErrUnprocessable, err)
		default:
			h.logger.Error("compile", slog.String("date", req.Date), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
