package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loanbridge/lendmatch/internal/domain"
)

// EngineVersion is stamped on every run's metadata.
const EngineVersion = "lendmatch-1.0"

// Config holds engine settings.
type Config struct {
	// MaxWorkers bounds concurrent per-product evaluations.
	MaxWorkers int

	// MissingData governs hard filters with absent borrower inputs.
	MissingData MissingDataPolicy

	// MissingScore governs score components with absent borrower inputs.
	MissingScore MissingScorePolicy
}

// Engine evaluates a borrower against a lender product batch. It is pure
// computation over already-loaded collections: no store access, no
// randomness beyond result IDs, and no wall-clock dependence in the scoring
// math itself.
type Engine struct {
	cfg Config
}

// New creates an eligibility engine.
func New(cfg Config) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 32
	}
	if cfg.MissingData == "" {
		cfg.MissingData = MissingFailClosed
	}
	if cfg.MissingScore == "" {
		cfg.MissingScore = MissingRenormalize
	}
	return &Engine{cfg: cfg}
}

// Input is one scoring request: a borrower plus the lender catalog.
type Input struct {
	TenantID string
	CaseID   string
	TraceID  string

	Borrower *domain.BorrowerProfile
	Products []*domain.LenderProduct

	// ServiceAreas maps product ID to its pincode set. A product with no
	// entry has no pincode restriction.
	ServiceAreas map[string]*domain.ServiceArea

	// AsOf fixes the instant used for age computation, so re-running the
	// same input reproduces the same output.
	AsOf time.Time
}

// Evaluate runs the full pipeline: exclusion, hard filters, scoring,
// confidence, ranking and recommendations. Per-product evaluation is
// parallel and stateless; results are combined into one immutable,
// deterministically ordered set. The caller's context is the batch timeout.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*domain.EligibilityResponse, error) {
	start := time.Now()

	if input.Borrower == nil {
		return nil, fmt.Errorf("borrower profile is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation batch aborted: %w", err)
	}
	asOf := input.AsOf
	if asOf.IsZero() {
		asOf = start.UTC()
	}

	resp := &domain.EligibilityResponse{
		RunID:    uuid.New().String(),
		CaseID:   input.CaseID,
		TenantID: input.TenantID,
	}

	// Exclusion stage: products without an ingested policy never enter
	// evaluation (neither pass nor fail); corrupt records are isolated
	// with a diagnostic and the batch proceeds.
	batch := make([]*domain.LenderProduct, 0, len(input.Products))
	for _, p := range input.Products {
		if !p.PolicyAvailable {
			continue
		}
		if err := p.Validate(); err != nil {
			resp.Diagnostics = append(resp.Diagnostics, fmt.Sprintf("excluded %s / %s: %v", p.LenderName, p.ProductName, err))
			continue
		}
		batch = append(batch, p)
	}
	sort.Strings(resp.Diagnostics)

	results := make([]*domain.EligibilityResult, len(batch))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxWorkers)

	for i, p := range batch {
		wg.Add(1)
		go func(idx int, product *domain.LenderProduct) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateProduct(input, product, resp.RunID, asOf)
		}(i, p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("evaluation batch aborted: %w", ctx.Err())
	}

	filtersMs := time.Since(start).Milliseconds()

	// Deterministic base order before ranking: lender then product name.
	sort.Slice(results, func(i, j int) bool {
		if results[i].LenderName != results[j].LenderName {
			return results[i].LenderName < results[j].LenderName
		}
		return results[i].ProductName < results[j].ProductName
	})

	rankStart := time.Now()
	Rank(results)

	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}

	productIndex := make(map[string]*domain.LenderProduct, len(batch))
	for _, p := range batch {
		productIndex[p.ID] = p
	}

	resp.Results = results
	resp.TotalLendersEvaluated = len(results)
	resp.LendersPassed = passed
	resp.DynamicRecommendations = Recommend(results, productIndex, input.Borrower)
	if passed == 0 {
		resp.RejectionReasons, resp.SuggestedActions = RejectionAnalysis(results)
	}

	resp.Metadata = domain.RunMetadata{
		TraceID:       input.TraceID,
		FiltersMs:     filtersMs,
		RankingMs:     time.Since(rankStart).Milliseconds(),
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	return resp, nil
}

// evaluateProduct runs hard filters and, on pass, scoring, banding and the
// ticket estimate for one lender product.
func (e *Engine) evaluateProduct(input *Input, p *domain.LenderProduct, runID string, asOf time.Time) *domain.EligibilityResult {
	b := input.Borrower

	result := &domain.EligibilityResult{
		ID:          uuid.New().String(),
		RunID:       runID,
		TenantID:    input.TenantID,
		CaseID:      input.CaseID,
		ProductID:   p.ID,
		LenderName:  p.LenderName,
		ProductName: p.ProductName,
		Terms:       p.Terms,
	}

	hf := EvaluateFilters(b, p, input.ServiceAreas[p.ID], e.cfg.MissingData, asOf)
	result.HardFilterStatus = hf.Status
	result.FilterChecks = hf.Checks

	if hf.Status != domain.HardFilterPass {
		result.Confidence = InputConfidence(b, p)
		result.MissingForImprovement = missingInputs(b, p, hf.Checks)
		return result
	}

	breakdown := Score(b, p, e.cfg.MissingScore)
	result.Score = &breakdown.Total
	result.Breakdown = breakdown.Components
	result.Confidence = Confidence(breakdown.Components)

	band := BandFor(breakdown.Total)
	result.ApprovalBand = &band
	result.ExpectedTicketMin, result.ExpectedTicketMax = TicketRange(band, b, p)
	result.MissingForImprovement = missingInputs(b, p, hf.Checks)

	return result
}

// missingInputs lists what the borrower could supply to improve the outcome,
// ordered by component weight descending, with filter-level gaps first.
func missingInputs(b *domain.BorrowerProfile, p *domain.LenderProduct, checks []domain.FilterCheck) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	for _, c := range checks {
		if !c.Passed && strings.HasPrefix(c.Reason, "insufficient data") {
			add(string(c.Filter))
		}
	}

	breakdown := Score(b, p, MissingRenormalize)
	components := append([]domain.ScoreComponent(nil), breakdown.Components...)
	sort.SliceStable(components, func(i, j int) bool {
		return components[i].Weight > components[j].Weight
	})
	for _, c := range components {
		if c.DataMissing {
			add(c.Component)
		}
	}

	return out
}
