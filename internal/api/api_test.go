package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/loanbridge/lendmatch/internal/bus"
	"github.com/loanbridge/lendmatch/internal/cache"
	"github.com/loanbridge/lendmatch/internal/catalog"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/engine"
	"github.com/loanbridge/lendmatch/internal/repository"
)

func iptr(v int) *int         { return &v }
func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

// createTestServer builds a server on a throwaway SQLite store.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(1000)
	t.Cleanup(func() { lru.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	cat := catalog.NewService(repo, lru, time.Minute)
	eng := engine.New(engine.Config{})

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	engineCfg := domain.EngineConfig{
		MaxWorkers:       8,
		BatchTimeoutSecs: 5,
	}

	return NewServer(cfg, repo, lru, eventBus, cat, eng, engineCfg, "test-v1"), repo
}

func seedTenant(t *testing.T, server *Server, tenantID string) {
	t.Helper()

	borrower := domain.BorrowerProfile{
		EntityType:        sptr("proprietorship"),
		VintageYears:      fptr(5),
		Pincode:           sptr("400001"),
		AnnualTurnover:    fptr(5000000),
		AvgMonthlyBalance: fptr(200000),
		MonthlyCreditAvg:  fptr(400000),
		MonthlyEMIOutflow: fptr(30000),
		BounceCount12M:    iptr(0),
		CashDepositRatio:  fptr(0.10),
		CIBILScore:        iptr(750),
		OverdueCount:      iptr(0),
		OverdueAmount:     fptr(0),
		PeakDPDDays:       iptr(0),
		DocumentsHeld:     []string{"gstin", "itr"},
	}
	doRequest(t, server, http.MethodPut, "/borrowers/case-001", tenantID, borrower, http.StatusOK)

	lender := CreateLenderRequest{
		LenderProduct: domain.LenderProduct{
			ID:              "prod-001",
			LenderName:      "Axio",
			ProductName:     "Term Loan",
			PolicyAvailable: true,
			Criteria: domain.EligibilityCriteria{
				MinCIBILScore:     iptr(685),
				MinAnnualTurnover: fptr(1000000),
				MaxTicketSize:     fptr(2500000),
			},
		},
		Pincodes: []string{"400001", "400002"},
	}
	doRequest(t, server, http.MethodPost, "/lenders", tenantID, lender, http.StatusCreated)
}

// doRequest issues a JSON request against the router and asserts the status.
func doRequest(t *testing.T, server *Server, method, path, tenantID string, body interface{}, wantStatus int) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, rr.Code, rr.Body.String())
	}
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server, _ := createTestServer(t)
	tenantID := "tenant-001"
	seedTenant(t, server, tenantID)

	t.Run("SuccessfulScore", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{CaseID: "case-001"}, http.StatusOK)

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.RunID == "" {
			t.Error("expected runId in response")
		}
		if resp.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", resp.Sequence)
		}
		if resp.LendersPassed != 1 {
			t.Errorf("expected 1 lender passed, got %d", resp.LendersPassed)
		}
		if len(resp.Results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(resp.Results))
		}
		r := resp.Results[0]
		if r.Rank == nil || *r.Rank != 1 {
			t.Errorf("expected rank 1, got %v", r.Rank)
		}
		if r.ApprovalBand == nil {
			t.Error("expected approval band on passing result")
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("RescoreIncrementsSequence", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{CaseID: "case-001"}, http.StatusOK)

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Sequence != 2 {
			t.Errorf("expected sequence 2 on rescore, got %d", resp.Sequence)
		}
	})

	t.Run("InlineBorrower", func(t *testing.T) {
		req := ScoreRequest{
			CaseID: "case-inline",
			Borrower: &domain.BorrowerProfile{
				EntityType:     sptr("proprietorship"),
				VintageYears:   fptr(4),
				Pincode:        sptr("400002"),
				AnnualTurnover: fptr(3000000),
				CIBILScore:     iptr(720),
			},
		}
		rr := doRequest(t, server, http.MethodPost, "/score", tenantID, req, http.StatusOK)

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.CaseID != "case-inline" {
			t.Errorf("expected caseId 'case-inline', got '%s'", resp.CaseID)
		}
		if resp.LendersPassed != 1 {
			t.Errorf("expected 1 lender passed, got %d", resp.LendersPassed)
		}

		// The inline profile must be persisted.
		doRequest(t, server, http.MethodGet, "/borrowers/case-inline", tenantID, nil, http.StatusOK)
	})

	t.Run("AsyncAccepted", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/score?async=true", tenantID,
			ScoreRequest{CaseID: "case-001"}, http.StatusAccepted)

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "queued" {
			t.Errorf("expected status 'queued', got '%s'", resp["status"])
		}
	})

	t.Run("UnknownCase", func(t *testing.T) {
		doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{CaseID: "case-missing"}, http.StatusNotFound)
	})

	t.Run("MissingCaseID", func(t *testing.T) {
		doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{}, http.StatusBadRequest)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(TenantIDHeader, tenantID)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		doRequest(t, server, http.MethodPost, "/score", "",
			ScoreRequest{CaseID: "case-001"}, http.StatusBadRequest)
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{CaseID: "case-001"}, http.StatusOK)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestRunEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	tenantID := "tenant-runs"
	seedTenant(t, server, tenantID)

	rr := doRequest(t, server, http.MethodPost, "/score", tenantID,
		ScoreRequest{CaseID: "case-001"}, http.StatusOK)
	var scored ScoreResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &scored); err != nil {
		t.Fatalf("failed to parse score response: %v", err)
	}

	t.Run("GetRun", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/runs/"+scored.RunID, tenantID, nil, http.StatusOK)

		var run domain.EligibilityRun
		if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if run.ID != scored.RunID {
			t.Errorf("expected run ID '%s', got '%s'", scored.RunID, run.ID)
		}
		if run.Response == nil || run.Response.LendersPassed != 1 {
			t.Error("expected full response payload on persisted run")
		}
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		doRequest(t, server, http.MethodGet, "/runs/nonexistent", tenantID, nil, http.StatusNotFound)
	})

	t.Run("ListRunsByCase", func(t *testing.T) {
		doRequest(t, server, http.MethodPost, "/score", tenantID,
			ScoreRequest{CaseID: "case-001"}, http.StatusOK)

		rr := doRequest(t, server, http.MethodGet, "/cases/case-001/runs", tenantID, nil, http.StatusOK)

		var resp struct {
			Runs  []*domain.EligibilityRun `json:"runs"`
			Count int                      `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse run list: %v", err)
		}
		if resp.Count != 2 {
			t.Fatalf("expected 2 runs, got %d", resp.Count)
		}
		// Newest first.
		if resp.Runs[0].Sequence != 2 || resp.Runs[1].Sequence != 1 {
			t.Errorf("expected sequences [2 1], got [%d %d]", resp.Runs[0].Sequence, resp.Runs[1].Sequence)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		doRequest(t, server, http.MethodGet, "/runs/"+scored.RunID, "tenant-other", nil, http.StatusNotFound)
	})
}

func TestBorrowerEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	tenantID := "tenant-borrowers"

	t.Run("UpsertAndGet", func(t *testing.T) {
		profile := domain.BorrowerProfile{
			EntityType: sptr("partnership"),
			CIBILScore: iptr(710),
			Pincode:    sptr("110001"),
		}
		doRequest(t, server, http.MethodPut, "/borrowers/case-b1", tenantID, profile, http.StatusOK)

		rr := doRequest(t, server, http.MethodGet, "/borrowers/case-b1", tenantID, nil, http.StatusOK)

		var got domain.BorrowerProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if got.CaseID != "case-b1" {
			t.Errorf("expected caseId 'case-b1', got '%s'", got.CaseID)
		}
		if got.CIBILScore == nil || *got.CIBILScore != 710 {
			t.Errorf("expected CIBIL 710, got %v", got.CIBILScore)
		}
		if got.AnnualTurnover != nil {
			t.Error("expected absent turnover to stay nil")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		doRequest(t, server, http.MethodGet, "/borrowers/unknown", tenantID, nil, http.StatusNotFound)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/borrowers/case-b2", bytes.NewBufferString("not-json"))
		req.Header.Set(TenantIDHeader, tenantID)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestLenderEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	tenantID := "tenant-lenders"
	seedTenant(t, server, tenantID)

	t.Run("GetLender", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/lenders/prod-001", tenantID, nil, http.StatusOK)

		var resp struct {
			Lender   *domain.LenderProduct `json:"lender"`
			Pincodes []string              `json:"pincodes"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse lender: %v", err)
		}
		if resp.Lender == nil || resp.Lender.LenderName != "Axio" {
			t.Errorf("unexpected lender: %+v", resp.Lender)
		}
		if len(resp.Pincodes) != 2 {
			t.Errorf("expected 2 pincodes, got %v", resp.Pincodes)
		}
	})

	t.Run("GetLenderNotFound", func(t *testing.T) {
		doRequest(t, server, http.MethodGet, "/lenders/nonexistent", tenantID, nil, http.StatusNotFound)
	})

	t.Run("CreateRejectsIncoherentPolicy", func(t *testing.T) {
		bad := CreateLenderRequest{
			LenderProduct: domain.LenderProduct{
				ID:              "prod-bad",
				LenderName:      "Bajaj",
				ProductName:     "Flexi",
				PolicyAvailable: true,
				Criteria: domain.EligibilityCriteria{
					MinCIBILScore: iptr(9999),
				},
			},
		}
		doRequest(t, server, http.MethodPost, "/lenders", tenantID, bad, http.StatusBadRequest)
	})

	t.Run("ListReflectsReload", func(t *testing.T) {
		// Prime the cache, then write behind it.
		doRequest(t, server, http.MethodGet, "/lenders", tenantID, nil, http.StatusOK)

		second := CreateLenderRequest{
			LenderProduct: domain.LenderProduct{
				ID:              "prod-002",
				LenderName:      "Bajaj",
				ProductName:     "Flexi",
				PolicyAvailable: true,
			},
		}
		doRequest(t, server, http.MethodPost, "/lenders", tenantID, second, http.StatusCreated)

		rr := doRequest(t, server, http.MethodPost, "/lenders/reload", tenantID, nil, http.StatusOK)
		var reload struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &reload)
		if reload.Count != 2 {
			t.Errorf("expected 2 products after reload, got %d", reload.Count)
		}

		rr = doRequest(t, server, http.MethodGet, "/lenders", tenantID, nil, http.StatusOK)
		var list struct {
			Lenders []*domain.LenderProduct `json:"lenders"`
			Count   int                     `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
			t.Fatalf("failed to parse lender list: %v", err)
		}
		if list.Count != 2 {
			t.Errorf("expected 2 lenders, got %d", list.Count)
		}
	})

	t.Run("ReplacePincodes", func(t *testing.T) {
		doRequest(t, server, http.MethodPut, "/lenders/prod-001/pincodes", tenantID,
			ReplacePincodesRequest{Pincodes: []string{"560001"}}, http.StatusOK)

		rr := doRequest(t, server, http.MethodGet, "/lenders/prod-001", tenantID, nil, http.StatusOK)
		var resp struct {
			Pincodes []string `json:"pincodes"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Pincodes) != 1 || resp.Pincodes[0] != "560001" {
			t.Errorf("expected replaced set [560001], got %v", resp.Pincodes)
		}
	})

	t.Run("ReplacePincodesUnknownProduct", func(t *testing.T) {
		doRequest(t, server, http.MethodPut, "/lenders/nonexistent/pincodes", tenantID,
			ReplacePincodesRequest{Pincodes: []string{"560001"}}, http.StatusNotFound)
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantIDHeader, "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("RateLimitMiddlewareThrottles", func(t *testing.T) {
		lru := cache.NewLRUCache(100)
		defer lru.Close()

		limited := RateLimitMiddleware(lru, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler := TenantMiddleware(limited)

		statuses := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(TenantIDHeader, "tenant-limited")

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			statuses = append(statuses, rr.Code)
		}

		if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
			t.Errorf("expected first two requests to pass, got %v", statuses)
		}
		if statuses[2] != http.StatusTooManyRequests {
			t.Errorf("expected third request to be throttled, got %v", statuses)
		}

		// A different tenant has its own budget.
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantIDHeader, "tenant-fresh")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected fresh tenant to pass, got %d", rr.Code)
		}
	})
}
