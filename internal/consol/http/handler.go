package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// WorkingsService is the aggregator behaviour exposed over HTTP.
type WorkingsService interface {
	GenerateWorkings(ctx context.Context, period, statementType string) (consol.GenerateResult, error)
	SaveWorkings(ctx context.Context, period, statementType string, rows []consol.WorkingRow) (consol.SaveResult, error)
	ListWorkings(ctx context.Context, period, statementType string) ([]consol.WorkingRow, error)
	FetchLogs(ctx context.Context, filter consol.LogFilter) ([]consol.Log, error)
}

// RowBuilder derives working rows from ledgers and eliminations.
type RowBuilder interface {
	Build(ctx context.Context, period, statementType string) ([]consol.WorkingRow, error)
}

// Translator runs currency translation for one entity.
type Translator interface {
	ApplyTranslations(ctx context.Context, entityID uuid.UUID, period string) (fx.Result, error)
	Preview(ctx context.Context, entityID uuid.UUID, period string) (fx.Result, error)
	Coverage(ctx context.Context, entityID uuid.UUID, period string) (fx.Coverage, error)
}

// Dispatcher enqueues background consolidation jobs.
type Dispatcher interface {
	EnqueueGenerateWorkings(ctx context.Context, period, statementType string) (string, error)
	EnqueueApplyTranslations(ctx context.Context, entityID uuid.UUID, period string) (string, error)
}

// Handler wires consolidation workings and translation endpoints.
type Handler struct {
	logger     *slog.Logger
	service    WorkingsService
	builder    RowBuilder
	translator Translator
	dispatcher Dispatcher
	cache      *workingsCache
	rateLimit  func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler. builder, translator and
// dispatcher are optional; the routes depending on them answer 503 when nil.
func NewHandler(logger *slog.Logger, service WorkingsService, builder RowBuilder, translator Translator, dispatcher Dispatcher) *Handler {
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if tenant, ok := shared.TenantFromContext(r.Context()); ok && tenant.UserID != uuid.Nil {
			return "user:" + tenant.UserID.String(), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:     logger,
		service:    service,
		builder:    builder,
		translator: translator,
		dispatcher: dispatcher,
		cache:      newWorkingsCache(cacheTTL),
		rateLimit:  limiter,
	}
}

// MountRoutes registers consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consol", func(r chi.Router) {
		r.Get("/logs", h.handleLogs)
		r.Get("/workings/{period}/{statement}", h.handleList)
		r.Get("/workings/{period}/{statement}/build", h.handleBuild)
		r.Get("/fx/coverage", h.handleCoverage)
		r.Post("/fx/preview", h.handlePreview)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/workings/generate", h.handleGenerate)
			r.Put("/workings/{period}/{statement}", h.handleSave)
			r.Post("/workings/{period}/{statement}/rebuild", h.handleRebuild)
			r.Get("/workings/{period}/{statement}/export.csv", h.handleExportCSV)
			r.Post("/fx/apply", h.handleApply)
		})
	})
}

type generateRequest struct {
	Period        string `json:"period"`
	StatementType string `json:"statement_type"`
	Async         bool   `json:"async"`
}

type jobResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period := strings.TrimSpace(req.Period)
	statement := strings.TrimSpace(req.StatementType)
	if req.Async {
		if h.dispatcher == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background jobs are not configured")
			return
		}
		if _, err := shared.RequireTenant(r.Context()); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := shared.ValidatePeriod(period); err != nil {
			httpx.RespondError(w, err)
			return
		}
		id, err := h.dispatcher.EnqueueGenerateWorkings(r.Context(), period, statement)
		if err != nil {
			h.fail(w, r, "enqueue generate workings", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, jobResponse{Status: "in_progress", TaskID: id})
		return
	}
	res, err := h.service.GenerateWorkings(r.Context(), period, statement)
	if err != nil {
		h.fail(w, r, "generate workings", err)
		return
	}
	h.evictTenant(r.Context())
	httpx.JSON(w, http.StatusOK, res)
}

type saveRequest struct {
	Rows []consol.WorkingRow `json:"rows"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.save(w, r, req.Rows)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if h.builder == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "row builder is not configured")
		return
	}
	period, statement := pathParams(r)
	rows, err := h.builder.Build(r.Context(), period, statement)
	if err != nil {
		h.fail(w, r, "build workings", err)
		return
	}
	h.save(w, r, rows)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, rows []consol.WorkingRow) {
	period, statement := pathParams(r)
	res, err := h.service.SaveWorkings(r.Context(), period, statement, rows)
	if err != nil {
		h.fail(w, r, "save workings", err)
		return
	}
	if tenant, ok := shared.TenantFromContext(r.Context()); ok {
		h.cache.Evict(buildCacheKey(tenant.CompanyID, period, statement))
	}
	addSavedRows(statement, res.RecordsSaved)
	httpx.JSON(w, http.StatusOK, res)
}

type workingsResponse struct {
	Period        string              `json:"period"`
	StatementType string              `json:"statement_type"`
	Rows          []consol.WorkingRow `json:"rows"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	period, statement := pathParams(r)
	rows, err := h.listCached(r.Context(), period, statement)
	if err != nil {
		h.fail(w, r, "list workings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, workingsResponse{Period: period, StatementType: statement, Rows: rows})
}

func (h *Handler) listCached(ctx context.Context, period, statement string) ([]consol.WorkingRow, error) {
	tenant, ok := shared.TenantFromContext(ctx)
	if !ok {
		return h.service.ListWorkings(ctx, period, statement)
	}
	key := buildCacheKey(tenant.CompanyID, period, statement)
	if rows, hit := h.cache.Get(key); hit {
		recordCacheHit(statement)
		return rows, nil
	}
	recordCacheMiss(statement)
	rows, err := h.service.ListWorkings(ctx, period, statement)
	if err != nil {
		return nil, err
	}
	h.cache.Set(key, rows)
	return rows, nil
}

func (h *Handler) handleBuild(w http.ResponseWriter, r *http.Request) {
	if h.builder == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "row builder is not configured")
		return
	}
	tenant, err := shared.RequireTenant(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, statement := pathParams(r)
	key := "build|" + buildCacheKey(tenant.CompanyID, period, statement)
	val, err, _ := singleflightBuild(r.Context(), key, func(ctx context.Context) (any, error) {
		start := time.Now()
		rows, err := h.builder.Build(ctx, period, statement)
		observeBuildDuration(statement, time.Since(start))
		return rows, err
	})
	if err != nil {
		h.fail(w, r, "build workings", err)
		return
	}
	rows, _ := val.([]consol.WorkingRow)
	httpx.JSON(w, http.StatusOK, workingsResponse{Period: period, StatementType: statement, Rows: rows})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	period, statement := pathParams(r)
	rows, err := h.listCached(r.Context(), period, statement)
	if err != nil {
		h.fail(w, r, "export workings", err)
		return
	}
	entityIDs := collectEntities(rows)
	header := []string{"Account", "Name", "Class"}
	for _, id := range entityIDs {
		header = append(header, id.String())
	}
	header = append(header, "Elimination", "Adjustment", "Translation", "Consolidated")

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	_ = writer.Write(header)
	for _, row := range rows {
		record := []string{row.AccountCode, row.AccountName, row.ClassName}
		for _, id := range entityIDs {
			record = append(record, formatAmount(row.EntityAmounts[id]))
		}
		record = append(record,
			formatAmount(row.EliminationAmount),
			formatAmount(row.AdjustmentAmount),
			formatAmount(row.TranslationAmount),
			formatAmount(row.ConsolidatedAmount),
		)
		_ = writer.Write(record)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.fail(w, r, "write workings csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=workings_%s_%s.csv", period, statement))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := h.service.FetchLogs(r.Context(), consol.LogFilter{
		Period:        strings.TrimSpace(q.Get("period")),
		StatementType: strings.TrimSpace(q.Get("statement_type")),
	})
	if err != nil {
		h.fail(w, r, "fetch consolidation logs", err)
		return
	}
	if logs == nil {
		logs = []consol.Log{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type translationRequest struct {
	EntityID uuid.UUID `json:"entity_id"`
	Period   string    `json:"period"`
	Async    bool      `json:"async"`
}

type translationLine struct {
	AccountCode      string  `json:"account_code"`
	RuleID           string  `json:"rule_id"`
	Rate             float64 `json:"rate"`
	ToCurrency       string  `json:"to_currency"`
	TranslatedDebit  float64 `json:"translated_debit"`
	TranslatedCredit float64 `json:"translated_credit"`
	FCTRAmount       float64 `json:"fctr_amount"`
}

type translationResponse struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message,omitempty"`
	EntityID        uuid.UUID         `json:"entity_id"`
	Period          string            `json:"period"`
	Considered      int               `json:"considered"`
	Translated      int               `json:"translated"`
	UpdatedCount    int               `json:"updated_count"`
	FailedCount     int               `json:"failed_count"`
	TotalFCTRDebit  float64           `json:"total_fctr_debit"`
	TotalFCTRCredit float64           `json:"total_fctr_credit"`
	NetFCTR         float64           `json:"net_fctr"`
	Translations    []translationLine `json:"translations"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "translation engine is not configured")
		return
	}
	var req translationRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period := strings.TrimSpace(req.Period)
	if req.Async {
		if h.dispatcher == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background jobs are not configured")
			return
		}
		if _, err := shared.RequireTenant(r.Context()); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if req.EntityID == uuid.Nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "entity_id is required")
			return
		}
		if err := shared.ValidatePeriod(period); err != nil {
			httpx.RespondError(w, err)
			return
		}
		id, err := h.dispatcher.EnqueueApplyTranslations(r.Context(), req.EntityID, period)
		if err != nil {
			h.fail(w, r, "enqueue apply translations", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, jobResponse{Status: "in_progress", TaskID: id})
		return
	}
	res, err := h.translator.ApplyTranslations(r.Context(), req.EntityID, period)
	if err != nil {
		h.fail(w, r, "apply translations", err)
		return
	}
	h.evictTenant(r.Context())
	httpx.JSON(w, http.StatusOK, toTranslationResponse(res))
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "translation engine is not configured")
		return
	}
	var req translationRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.translator.Preview(r.Context(), req.EntityID, strings.TrimSpace(req.Period))
	if err != nil {
		h.fail(w, r, "preview translations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTranslationResponse(res))
}

type gapResponse struct {
	AccountCode string `json:"account_code"`
	ClassName   string `json:"class_name,omitempty"`
	Reason      string `json:"reason"`
}

func (h *Handler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "translation engine is not configured")
		return
	}
	q := r.URL.Query()
	entityID, err := httpx.ParseUUID(q.Get("entity_id"), "entity_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cov, err := h.translator.Coverage(r.Context(), entityID, strings.TrimSpace(q.Get("period")))
	if err != nil {
		h.fail(w, r, "translation coverage", err)
		return
	}
	gaps := make([]gapResponse, 0, len(cov.Gaps))
	for _, g := range cov.Gaps {
		gaps = append(gaps, gapResponse{AccountCode: g.AccountCode, ClassName: g.ClassName, Reason: g.Reason})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"checked": cov.Checked,
		"covered": cov.Covered,
		"gaps":    gaps,
	})
}

func (h *Handler) evictTenant(ctx context.Context) {
	if tenant, ok := shared.TenantFromContext(ctx); ok {
		h.cache.EvictCompany(tenant.CompanyID)
	}
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

func pathParams(r *http.Request) (string, string) {
	return strings.TrimSpace(chi.URLParam(r, "period")), strings.TrimSpace(chi.URLParam(r, "statement"))
}

func collectEntities(rows []consol.WorkingRow) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, row := range rows {
		for id := range row.EntityAmounts {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func toTranslationResponse(res fx.Result) translationResponse {
	lines := make([]translationLine, 0, len(res.Translations))
	for _, t := range res.Translations {
		lines = append(lines, translationLine{
			AccountCode:      t.Record.AccountCode,
			RuleID:           t.RuleID,
			Rate:             t.Rate,
			ToCurrency:       t.ToCurrency,
			TranslatedDebit:  t.TranslatedDebit,
			TranslatedCredit: t.TranslatedCredit,
			FCTRAmount:       t.FCTRAmount,
		})
	}
	return translationResponse{
		Success:         res.Success,
		Message:         res.Message,
		EntityID:        res.EntityID,
		Period:          res.Period,
		Considered:      res.Considered,
		Translated:      res.Translated,
		UpdatedCount:    res.UpdatedCount,
		FailedCount:     res.FailedCount,
		TotalFCTRDebit:  res.TotalFCTRDebit,
		TotalFCTRCredit: res.TotalFCTRCredit,
		NetFCTR:         res.NetFCTR,
		Translations:    lines,
	}
}
