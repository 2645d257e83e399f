package eliminationhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/elimination"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
)

// Service is the elimination behaviour exposed over HTTP.
type Service interface {
	CreateEntry(ctx context.Context, input elimination.CreateEntryInput) (elimination.Entry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	GetEntry(ctx context.Context, id uuid.UUID) (elimination.Entry, error)
	ListEntries(ctx context.Context, period string) ([]elimination.Entry, error)
	PeriodTotals(ctx context.Context, period string) (map[string]float64, error)
}

// Handler exposes JSON endpoints for elimination entries.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers elimination routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/eliminations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/totals", h.totals)
		r.Get("/{id}", h.show)
		r.Delete("/{id}", h.remove)
	})
}

type lineRequest struct {
	EntityID uuid.UUID `json:"entity_id"`
	GLCode   string    `json:"gl_code"`
	Debit    float64   `json:"debit"`
	Credit   float64   `json:"credit"`
}

type createRequest struct {
	Name        string        `json:"name"`
	Date        string        `json:"date"`
	Description string        `json:"description"`
	Lines       []lineRequest `json:"lines"`
}

type lineResponse struct {
	LineNumber int       `json:"line_number"`
	EntityID   uuid.UUID `json:"entity_id"`
	GLCode     string    `json:"gl_code"`
	Debit      float64   `json:"debit"`
	Credit     float64   `json:"credit"`
}

type entryResponse struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Date        string         `json:"date"`
	Period      string         `json:"period"`
	TotalDebit  float64        `json:"total_debit"`
	TotalCredit float64        `json:"total_credit"`
	Status      string         `json:"status"`
	CreatedBy   uuid.UUID      `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	Lines       []lineResponse `json:"lines"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
		return
	}
	input := elimination.CreateEntryInput{
		Name:           req.Name,
		Date:           date,
		Description:    req.Description,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, elimination.LineInput{
			EntityID: l.EntityID,
			GLCode:   strings.TrimSpace(l.GLCode),
			Debit:    l.Debit,
			Credit:   l.Credit,
		})
	}
	entry, err := h.service.CreateEntry(r.Context(), input)
	if err != nil {
		h.fail(w, r, "create elimination", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(entry))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListEntries(r.Context(), strings.TrimSpace(r.URL.Query().Get("period")))
	if err != nil {
		h.fail(w, r, "list eliminations", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	period := strings.TrimSpace(r.URL.Query().Get("period"))
	totals, err := h.service.PeriodTotals(r.Context(), period)
	if err != nil {
		h.fail(w, r, "elimination totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"period": period, "totals": totals})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "entry id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get elimination", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(entry))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "entry id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id); err != nil {
		h.fail(w, r, "delete elimination", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.log().Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func toResponse(e elimination.Entry) entryResponse {
	lines := make([]lineResponse, 0, len(e.Lines))
	for _, l := range e.Lines {
		lines = append(lines, lineResponse{
			LineNumber: l.LineNumber,
			EntityID:   l.EntityID,
			GLCode:     l.GLCode,
			Debit:      l.Debit,
			Credit:     l.Credit,
		})
	}
	return entryResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Date:        e.Date.Format("2006-01-02"),
		Period:      e.Period,
		TotalDebit:  e.TotalDebit,
		TotalCredit: e.TotalCredit,
		Status:      e.Status().String(),
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		Lines:       lines,
	}
}
