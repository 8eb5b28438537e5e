package archive

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmed/medsync/internal/platform/httpx"
	"github.com/fleetmed/medsync/internal/stock"
)

// Handler exposes the archive over the local JSON API.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers archive routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/archive", func(r chi.Router) {
		r.Get("/day", h.day)
		r.Get("/range", h.aggregate)
		r.Get("/range/rows", h.rows)
		r.Delete("/range", h.deleteRange)
		r.Get("/half", h.half)
		r.Delete("/half", h.deleteHalf)
		r.Get("/monthly", h.monthly)
		r.Delete("/monthly", h.deleteMonthly)
	})
}

func (h *Handler) day(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListDay(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "archive day", err)
		return
	}
	if rows == nil {
		rows = []DailyRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.GetAggregatedBetween(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, "archive range", err)
		return
	}
	respondItems(w, items)
}

func (h *Handler) rows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.ListBetween(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, "archive rows", err)
		return
	}
	if rows == nil {
		rows = []DailyRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) deleteRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.service.DeleteRange(r.Context(), q.Get("from"), q.Get("to"), q.Get("medicine"))
	if err != nil {
		h.fail(w, "archive delete range", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handler) half(w http.ResponseWriter, r *http.Request) {
	year, month, half, err := halfParams(r.URL.Query())
	if err != nil {
		h.fail(w, "archive half", err)
		return
	}
	items, err := h.service.GetHalf(r.Context(), year, month, half)
	if err != nil {
		h.fail(w, "archive half", err)
		return
	}
	respondItems(w, items)
}

func (h *Handler) deleteHalf(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, month, half, err := halfParams(q)
	if err != nil {
		h.fail(w, "archive delete half", err)
		return
	}
	n, err := h.service.DeleteHalf(r.Context(), year, month, half, q.Get("medicine"))
	if err != nil {
		h.fail(w, "archive delete half", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// monthly lists one month when year and month are given, otherwise all.
func (h *Handler) monthly(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		rows []MonthlyRow
		err  error
	)
	if q.Get("year") == "" && q.Get("month") == "" {
		rows, err = h.service.ListMonthly(r.Context())
	} else {
		var year, month int
		if year, month, err = monthParams(q); err == nil {
			rows, err = h.service.GetMonthly(r.Context(), year, month)
		}
	}
	if err != nil {
		h.fail(w, "archive monthly", err)
		return
	}
	if rows == nil {
		rows = []MonthlyRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) deleteMonthly(w http.ResponseWriter, r *http.Request) {
	year, month, err := monthParams(r.URL.Query())
	if err != nil {
		h.fail(w, "archive delete monthly", err)
		return
	}
	n, err := h.service.DeleteMonthly(r.Context(), year, month)
	if err != nil {
		h.fail(w, "archive delete monthly", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func respondItems(w http.ResponseWriter, items []stock.Item) {
	if items == nil {
		items = []stock.Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func monthParams(q url.Values) (int, int, error) {
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return 0, 0, ErrInvalidMonth
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		return 0, 0, ErrInvalidMonth
	}
	return year, month, nil
}

func halfParams(q url.Values) (int, int, Half, error) {
	year, month, err := monthParams(q)
	if err != nil {
		return 0, 0, 0, err
	}
	half, err := ParseHalf(q.Get("half"))
	if err != nil {
		return 0, 0, 0, err
	}
	return year, month, half, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		err = httpx.Wrap(httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidHalf), errors.Is(err, ErrInvalidMonth):
		err = httpx.Wrap(httpx.ErrValidation, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
