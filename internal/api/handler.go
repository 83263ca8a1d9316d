package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loanbridge/lendmatch/internal/catalog"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/engine"
	"github.com/loanbridge/lendmatch/internal/repository"
	"github.com/loanbridge/lendmatch/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	catalog *catalog.Service
	engine  *engine.Engine
	version string

	batchTimeout time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cat *catalog.Service, eng *engine.Engine, engineCfg domain.EngineConfig, version string) *Handler {
	timeout := time.Duration(engineCfg.BatchTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		catalog:      cat,
		engine:       eng,
		version:      version,
		batchTimeout: timeout,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	CaseID string `json:"caseId"`

	// AsOf fixes the evaluation instant (age computation). Defaults to now.
	AsOf *time.Time `json:"asOf,omitempty"`

	// Borrower, when present, is upserted before scoring. When absent the
	// stored profile for CaseID is used.
	Borrower *domain.BorrowerProfile `json:"borrower,omitempty"`
}

// ScoreResponse is the response for POST /score: the run outcome plus the
// per-case sequence number assigned on persist.
type ScoreResponse struct {
	Sequence int64 `json:"sequence"`
	*domain.EligibilityResponse
}

// Score handles POST /score. The default mode is synchronous: evaluate,
// persist the run, then respond. With ?async=true the request is queued on
// the event bus and a worker picks it up.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.CaseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "caseId is required",
		})
		return
	}

	// Inline profiles are persisted first so the run always reflects stored
	// state and GET /borrowers stays consistent with what was scored.
	if req.Borrower != nil {
		req.Borrower.CaseID = req.CaseID
		if err := h.repo.SaveBorrower(ctx, tenantID, req.Borrower); err != nil {
			slog.Error("failed to save borrower", "case_id", req.CaseID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "failed to save borrower profile",
			})
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		h.queueScore(w, r, tenantID, traceID, req.CaseID)
		return
	}

	borrower, err := h.repo.GetBorrower(ctx, tenantID, req.CaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "borrower profile not found",
			})
			return
		}
		slog.Error("failed to load borrower", "case_id", req.CaseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "borrower store unavailable",
		})
		return
	}

	products, err := h.catalog.Products(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load lender catalog", "case_id", req.CaseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "lender catalog unavailable, retry later",
		})
		return
	}
	areas, err := h.catalog.ServiceAreas(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load service areas", "case_id", req.CaseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "lender catalog unavailable, retry later",
		})
		return
	}

	evalCtx, cancel := context.WithTimeout(ctx, h.batchTimeout)
	defer cancel()

	input := &engine.Input{
		TenantID:     tenantID,
		CaseID:       req.CaseID,
		TraceID:      traceID,
		Borrower:     borrower,
		Products:     products,
		ServiceAreas: areas,
	}
	if req.AsOf != nil {
		input.AsOf = *req.AsOf
	}

	resp, err := h.engine.Evaluate(evalCtx, input)
	if err != nil {
		slog.Error("evaluation failed", "case_id", req.CaseID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{
				"error": "evaluation timed out",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	// Persist before responding. The run and its result rows commit in one
	// transaction, so a failure here leaves no partial history.
	run := &domain.EligibilityRun{
		ID:       resp.RunID,
		CaseID:   req.CaseID,
		Response: resp,
	}
	if err := h.repo.SaveRun(ctx, tenantID, run); err != nil {
		slog.Error("failed to save run", "case_id", req.CaseID, "run_id", resp.RunID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to persist run, retry later",
		})
		return
	}

	h.publishRunEvents(ctx, tenantID, resp)

	slog.Info("score request processed",
		"case_id", req.CaseID,
		"tenant_id", tenantID,
		"run_id", resp.RunID,
		"sequence", run.Sequence,
		"lenders_passed", resp.LendersPassed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, ScoreResponse{
		Sequence:            run.Sequence,
		EligibilityResponse: resp,
	})
}

// queueScore publishes the request for asynchronous processing.
func (h *Handler) queueScore(w http.ResponseWriter, r *http.Request, tenantID, traceID, caseID string) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, _ := json.Marshal(worker.ScoreRequestMessage{
		CaseID:   caseID,
		TenantID: tenantID,
		TraceID:  traceID,
	})
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicScoreRequested, payload); err != nil {
		slog.Error("failed to queue score request", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue score request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"caseId":  caseID,
		"status":  "queued",
		"traceId": traceID,
	})
}

// publishRunEvents emits completion events. Zero matches gets its own topic
// so CRM automations can follow up.
func (h *Handler) publishRunEvents(ctx context.Context, tenantID string, resp *domain.EligibilityResponse) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(resp)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, payload); err != nil {
		slog.Error("failed to publish run completion", "run_id", resp.RunID, "error", err)
	}
	if resp.LendersPassed == 0 {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicNoMatch, payload); err != nil {
			slog.Error("failed to publish no-match event", "run_id", resp.RunID, "error", err)
		}
	}
}

// GetRun retrieves a run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run", "id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns the run history for a case, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "caseID")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	runs, err := h.repo.ListRunsByCase(ctx, tenantID, caseID)
	if err != nil {
		slog.Error("failed to list runs", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// UpsertBorrower stores a borrower profile under the case ID in the path.
func (h *Handler) UpsertBorrower(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "caseID")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	var profile domain.BorrowerProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	profile.CaseID = caseID

	if err := h.repo.SaveBorrower(ctx, tenantID, &profile); err != nil {
		slog.Error("failed to save borrower", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save borrower profile",
		})
		return
	}

	slog.Info("borrower profile saved", "case_id", caseID, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, &profile)
}

// GetBorrower retrieves a borrower profile by case ID.
func (h *Handler) GetBorrower(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "caseID")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	profile, err := h.repo.GetBorrower(ctx, tenantID, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "borrower profile not found",
			})
			return
		}
		slog.Error("failed to get borrower", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load borrower profile",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ListLenders returns the tenant's lender product catalog (cached).
func (h *Handler) ListLenders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	products, err := h.catalog.Products(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list lenders", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "lender catalog unavailable, retry later",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lenders": products,
		"count":   len(products),
	})
}

// CreateLenderRequest is the request body for creating a lender product.
// Pincodes, when present, replaces the product's serviceability set; absent
// means no pincode restriction.
type CreateLenderRequest struct {
	domain.LenderProduct
	Pincodes []string `json:"pincodes,omitempty"`
}

// CreateLender creates a lender product and saves it to the database.
// The cached catalog is refreshed via POST /lenders/reload.
func (h *Handler) CreateLender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateLenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	product := req.LenderProduct
	if err := product.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveLenderProduct(ctx, tenantID, &product); err != nil {
		slog.Error("failed to save lender product", "id", product.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save lender product",
		})
		return
	}

	if req.Pincodes != nil {
		if err := h.repo.ReplaceServiceArea(ctx, tenantID, product.ID, req.Pincodes); err != nil {
			slog.Error("failed to save service area", "id", product.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save service area",
			})
			return
		}
	}

	slog.Info("lender product created", "id", product.ID, "lender", product.LenderName)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"lender":  &product,
		"message": "Lender created. Call POST /lenders/reload to apply changes.",
	})
}

// GetLender retrieves a lender product with its serviceability set.
func (h *Handler) GetLender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	productID := chi.URLParam(r, "id")

	if productID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lender id is required",
		})
		return
	}

	product, err := h.repo.GetLenderProduct(ctx, tenantID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "lender product not found",
			})
			return
		}
		slog.Error("failed to get lender product", "id", productID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load lender product",
		})
		return
	}

	resp := map[string]interface{}{"lender": product}
	area, err := h.repo.GetServiceArea(ctx, tenantID, productID)
	if err != nil {
		slog.Error("failed to get service area", "id", productID, "error", err)
	} else if area != nil {
		pincodes := area.PincodeList()
		sort.Strings(pincodes)
		resp["pincodes"] = pincodes
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReplacePincodesRequest is the request body for replacing a serviceability set.
type ReplacePincodesRequest struct {
	Pincodes []string `json:"pincodes"`
}

// ReplacePincodes replaces a product's serviceability set wholesale. An empty
// list removes the restriction entirely.
func (h *Handler) ReplacePincodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	productID := chi.URLParam(r, "id")

	if productID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lender id is required",
		})
		return
	}

	if _, err := h.repo.GetLenderProduct(ctx, tenantID, productID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "lender product not found",
			})
			return
		}
		slog.Error("failed to get lender product", "id", productID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load lender product",
		})
		return
	}

	var req ReplacePincodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.ReplaceServiceArea(ctx, tenantID, productID, req.Pincodes); err != nil {
		slog.Error("failed to replace service area", "id", productID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to replace service area",
		})
		return
	}

	slog.Info("service area replaced", "id", productID, "pincodes", len(req.Pincodes))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"productId": productID,
		"pincodes":  len(req.Pincodes),
		"message":   "Service area replaced. Call POST /lenders/reload to apply changes.",
	})
}

// ReloadCatalog refreshes the cached lender catalog from the database.
// This enables policy ingestion to go live without a server restart.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	count, err := h.catalog.Reload(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload catalog", "tenant_id", tenantID, "error", err)
		if errors.Is(err, catalog.ErrStoreUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "lender store unavailable, retry later",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload catalog",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "catalog reloaded successfully",
		"count":   count,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
