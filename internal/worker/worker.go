// Package worker provides async scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loanbridge/lendmatch/internal/catalog"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/engine"
)

// Worker processes scoring requests asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	catalog *catalog.Service
	engine  *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async scoring worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cat *catalog.Service, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		catalog: cat,
		engine:  eng,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing scoring requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicScoreRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScoreRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicScoreRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// ScoreRequestMessage is the message payload for asynchronous scoring.
type ScoreRequestMessage struct {
	CaseID   string `json:"caseId"`
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
}

// processRequest scores one case through the pipeline.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req ScoreRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse score request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing score request",
		"case_id", req.CaseID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Load inputs
	borrower, err := w.repo.GetBorrower(ctx, tenantID, req.CaseID)
	if err != nil {
		slog.Error("failed to load borrower",
			"case_id", req.CaseID,
			"error", err,
		)
		return err
	}

	products, err := w.catalog.Products(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load lender catalog",
			"case_id", req.CaseID,
			"error", err,
		)
		return err
	}

	areas, err := w.catalog.ServiceAreas(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load service areas",
			"case_id", req.CaseID,
			"error", err,
		)
		return err
	}

	// 2. Evaluate
	resp, err := w.engine.Evaluate(ctx, &engine.Input{
		TenantID:     tenantID,
		CaseID:       req.CaseID,
		TraceID:      traceID,
		Borrower:     borrower,
		Products:     products,
		ServiceAreas: areas,
	})
	if err != nil {
		slog.Error("evaluation failed",
			"case_id", req.CaseID,
			"error", err,
		)
		return err
	}

	// 3. Persist the run
	run := &domain.EligibilityRun{
		ID:       resp.RunID,
		CaseID:   req.CaseID,
		Response: resp,
	}
	if w.repo != nil {
		if err := w.repo.SaveRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save run",
				"case_id", req.CaseID,
				"run_id", resp.RunID,
				"error", err,
			)
			return err
		}
	}

	// 4. Publish outcome
	resultPayload, _ := json.Marshal(resp)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, resultPayload); err != nil {
		slog.Error("failed to publish run completion",
			"case_id", req.CaseID,
			"error", err,
		)
	}

	// 5. Zero matches gets its own topic so CRM automations can follow up
	if resp.LendersPassed == 0 {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicNoMatch, resultPayload); err != nil {
			slog.Error("failed to publish no-match event",
				"case_id", req.CaseID,
				"error", err,
			)
		}
	}

	slog.Info("score request processed",
		"case_id", req.CaseID,
		"tenant_id", tenantID,
		"run_id", resp.RunID,
		"lenders_passed", resp.LendersPassed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
