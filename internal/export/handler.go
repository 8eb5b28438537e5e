package export

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/httpx"
)

// maxImportBytes bounds uploaded CSV bodies.
const maxImportBytes = 8 << 20

// Handler serves ledger downloads and CSV uploads.
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

// MountRoutes registers export routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/export", h.export)
	r.Post("/import", h.importCSV)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := ParseFormat(q.Get("format"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, format, q.Get("vehicle")); err != nil {
		h.logger.Error("export ledger", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	name := fmt.Sprintf("ledger-%s.%s", time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Import(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var lineErr *LineError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, ErrHeader), errors.As(err, &lineErr),
			errors.Is(err, catalog.ErrInvalidQuantity), ledger.IsValidation(err):
			err = httpx.Wrap(httpx.ErrValidation, err)
		case errors.As(err, &maxErr):
			err = httpx.Wrap(httpx.ErrValidation, errors.New("import body too large"))
		default:
			h.logger.Error("import ledger", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"imported": n})
}
