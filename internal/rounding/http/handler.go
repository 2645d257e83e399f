package roundinghttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
	"github.com/odyssey-erp/consolidation/internal/rounding"
)

// Service is the rounding behaviour exposed over HTTP.
type Service interface {
	RoundTrialBalance(ctx context.Context, req rounding.Request) (rounding.Result, error)
	Adjustments(ctx context.Context, entityID uuid.UUID, period string) ([]rounding.Adjustment, error)
}

// Handler exposes rounding endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rounding routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rounding", func(r chi.Router) {
		r.Post("/", h.apply)
		r.Get("/adjustments", h.adjustments)
	})
}

type applyRequest struct {
	EntityID          uuid.UUID           `json:"entity_id"`
	Period            string              `json:"period"`
	Method            string              `json:"method"`
	Precision         int                 `json:"precision"`
	DifferenceAccount string              `json:"difference_account"`
	NewAccount        *ledger.AccountSpec `json:"new_account,omitempty"`
}

type adjustmentResponse struct {
	AccountCode    string  `json:"account_code"`
	OriginalDebit  float64 `json:"original_debit"`
	OriginalCredit float64 `json:"original_credit"`
	RoundedDebit   float64 `json:"rounded_debit"`
	RoundedCredit  float64 `json:"rounded_credit"`
	Delta          float64 `json:"delta"`
	Method         string  `json:"method"`
	Precision      int     `json:"precision"`
}

type resultResponse struct {
	EntityID          uuid.UUID            `json:"entity_id"`
	Period            string               `json:"period"`
	Considered        int                  `json:"considered"`
	UpdatedCount      int                  `json:"updated_count"`
	FailedCount       int                  `json:"failed_count"`
	TotalDifference   float64              `json:"total_difference"`
	PostedDifference  float64              `json:"posted_difference"`
	DifferencePosted  bool                 `json:"difference_posted"`
	DifferenceAccount string               `json:"difference_account"`
	AccountCreated    bool                 `json:"account_created"`
	Adjustments       []adjustmentResponse `json:"adjustments"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RoundTrialBalance(r.Context(), rounding.Request{
		EntityID:          req.EntityID,
		Period:            strings.TrimSpace(req.Period),
		Method:            rounding.Method(req.Method),
		Precision:         req.Precision,
		DifferenceAccount: req.DifferenceAccount,
		NewAccount:        req.NewAccount,
	})
	if err != nil {
		h.fail(w, r, "round trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resultResponse{
		EntityID:          res.EntityID,
		Period:            res.Period,
		Considered:        res.Considered,
		UpdatedCount:      res.UpdatedCount,
		FailedCount:       res.FailedCount,
		TotalDifference:   res.TotalDifference,
		PostedDifference:  res.PostedDifference,
		DifferencePosted:  res.DifferencePosted,
		DifferenceAccount: res.DifferenceAccount,
		AccountCreated:    res.AccountCreated,
		Adjustments:       toAdjustments(res.Adjustments),
	})
}

func (h *Handler) adjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityID, err := httpx.ParseUUID(q.Get("entity_id"), "entity_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	adjustments, err := h.service.Adjustments(r.Context(), entityID, strings.TrimSpace(q.Get("period")))
	if err != nil {
		h.fail(w, r, "list rounding adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": toAdjustments(adjustments)})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		logger := h.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func toAdjustments(in []rounding.Adjustment) []adjustmentResponse {
	out := make([]adjustmentResponse, 0, len(in))
	for _, a := range in {
		out = append(out, adjustmentResponse{
			AccountCode:    a.AccountCode,
			OriginalDebit:  a.OriginalDebit,
			OriginalCredit: a.OriginalCredit,
			RoundedDebit:   a.RoundedDebit,
			RoundedCredit:  a.RoundedCredit,
			Delta:          a.Delta,
			Method:         string(a.Method),
			Precision:      a.Precision,
		})
	}
	return out
}
