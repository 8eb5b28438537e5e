package summary

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmed/medsync/internal/platform/httpx"
	"github.com/fleetmed/medsync/internal/stock"
)

// Handler exposes the compiled summary over the local JSON API.
type Handler struct {
	service *Service
	now     func() time.Time
	logger  *slog.Logger
}

// NewHandler constructs a Handler. now supplies the local time whose calendar
// date ends the day windows.
func NewHandler(service *Service, now func() time.Time, logger *slog.Logger) *Handler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, now: now, logger: logger}
}

// MountRoutes registers summary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/summary", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/window", h.window)
		r.Delete("/", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list summary", err)
		return
	}
	if rows == nil {
		rows = []Row{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, ErrInvalidWindow))
		return
	}
	items, err := h.service.GetLastNDays(r.Context(), days, h.now())
	if err != nil {
		h.fail(w, "summary window", err)
		return
	}
	if items == nil {
		items = []stock.Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"days": days, "items": items})
}

// delete removes one medicine, or every row when no medicine is named.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	medicine := strings.TrimSpace(r.URL.Query().Get("medicine"))
	if medicine == "" {
		n, err := h.service.DeleteAll(r.Context())
		if err != nil {
			h.fail(w, "delete summary", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
		return
	}
	if err := h.service.Delete(r.Context(), medicine); err != nil {
		h.fail(w, "delete summary row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		err = httpx.Wrap(httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidWindow):
		err = httpx.Wrap(httpx.ErrValidation, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
