package domain

import (
	"time"
)

// FilterName identifies a hard eligibility gate. The recommendation
// generator groups and counts by this identity, so filter outcomes are a
// typed variant rather than free text.
type FilterName string

const (
	FilterPincode    FilterName = "pincode_serviceability"
	FilterCIBIL      FilterName = "cibil"
	FilterEntityType FilterName = "entity_type"
	FilterVintage    FilterName = "vintage"
	FilterTurnover   FilterName = "turnover"
	FilterAge        FilterName = "age"
	FilterAvgBalance FilterName = "avg_balance"
	FilterDPD        FilterName = "dpd"
	FilterOverdue    FilterName = "overdue"
	FilterBounces    FilterName = "bounces"
)

// Hard filter status values.
const (
	HardFilterPass = "pass"
	HardFilterFail = "fail"
)

// FilterCheck records one applicable filter's outcome.
type FilterCheck struct {
	Filter    FilterName `json:"filter"`
	Passed    bool       `json:"passed"`
	Reason    string     `json:"reason,omitempty"` // empty on pass
	Threshold string     `json:"threshold,omitempty"`
	Observed  string     `json:"observed,omitempty"`
}

// HardFilterResult is the outcome of running every applicable filter for one
// lender product. Status is pass iff no check failed.
type HardFilterResult struct {
	Status string        `json:"status"`
	Checks []FilterCheck `json:"checks"`
}

// Failures returns the failed checks keyed by filter name.
func (r *HardFilterResult) Failures() map[FilterName]string {
	out := make(map[FilterName]string)
	for _, c := range r.Checks {
		if !c.Passed {
			out[c.Filter] = c.Reason
		}
	}
	return out
}

// Scoring component identifiers.
const (
	ComponentCIBIL         = "cibil"
	ComponentTurnover      = "turnover"
	ComponentVintage       = "vintage"
	ComponentBanking       = "banking_strength"
	ComponentFOIR          = "foir"
	ComponentDocumentation = "documentation"
)

// ScoreComponent is one row of the weighted-score breakdown.
type ScoreComponent struct {
	Component    string  `json:"component"`
	Weight       float64 `json:"weight"`
	SubScore     float64 `json:"subScore"`
	Contribution float64 `json:"contribution"`
	DataMissing  bool    `json:"dataMissing"`
}

// ScoreBreakdown is the composite 0-100 score with its components.
type ScoreBreakdown struct {
	Total      float64          `json:"total"`
	Components []ScoreComponent `json:"components"`
}

// Band is the approval probability band derived from the composite score.
type Band string

const (
	BandHigh   Band = "HIGH"
	BandMedium Band = "MEDIUM"
	BandLow    Band = "LOW"
)

// EligibilityResult is one (case, lender product) outcome within a run.
// Score, band, ticket estimate and rank are set only when the hard filters
// passed.
type EligibilityResult struct {
	ID          string `json:"id"`
	RunID       string `json:"runId"`
	TenantID    string `json:"tenantId,omitempty"`
	CaseID      string `json:"caseId"`
	ProductID   string `json:"productId"`
	LenderName  string `json:"lenderName"`
	ProductName string `json:"productName"`

	HardFilterStatus string        `json:"hardFilterStatus"`
	FilterChecks     []FilterCheck `json:"filterChecks,omitempty"`

	Score             *float64         `json:"eligibilityScore,omitempty"`
	Breakdown         []ScoreComponent `json:"breakdown,omitempty"`
	ApprovalBand      *Band            `json:"approvalProbability,omitempty"`
	ExpectedTicketMin *float64         `json:"expectedTicketMin,omitempty"`
	ExpectedTicketMax *float64         `json:"expectedTicketMax,omitempty"`

	Confidence            float64  `json:"confidence"`
	MissingForImprovement []string `json:"missingForImprovement,omitempty"`
	Rank                  *int     `json:"rank,omitempty"`

	Terms CommercialTerms `json:"terms,omitempty"`
}

// Passed reports whether the result cleared every applicable hard filter.
func (r *EligibilityResult) Passed() bool {
	return r.HardFilterStatus == HardFilterPass
}

// Recommendation is one borrower-actionable suggestion produced from the
// full evaluated set.
type Recommendation struct {
	Issue           string `json:"issue"`
	Action          string `json:"action"`
	Impact          string `json:"impact"`
	CurrentValue    string `json:"currentValue,omitempty"`
	TargetValue     string `json:"targetValue,omitempty"`
	AffectedLenders int    `json:"affectedLenders"`
}

// RunMetadata carries processing information for one scoring run.
type RunMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	FiltersMs     int64  `json:"filtersMs"`
	RankingMs     int64  `json:"rankingMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// EligibilityResponse is the aggregated output of one scoring run, consumed
// by the report generator and the API layer.
type EligibilityResponse struct {
	RunID    string `json:"runId"`
	CaseID   string `json:"caseId"`
	TenantID string `json:"tenantId,omitempty"`

	Results               []*EligibilityResult `json:"results"`
	TotalLendersEvaluated int                  `json:"totalLendersEvaluated"`
	LendersPassed         int                  `json:"lendersPassed"`

	// Populated when no lender passed, so callers can present why nothing
	// matched instead of an empty success.
	RejectionReasons []string `json:"rejectionReasons,omitempty"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`

	DynamicRecommendations []Recommendation `json:"dynamicRecommendations"`

	// Diagnostics notes lender records excluded from the batch as corrupt.
	Diagnostics []string    `json:"diagnostics,omitempty"`
	Metadata    RunMetadata `json:"metadata"`
}

// EligibilityRun is the persisted, append-only record of one scoring run.
// Re-running a case produces a new run with the next sequence number rather
// than mutating history.
type EligibilityRun struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CaseID    string    `json:"caseId"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`

	Response *EligibilityResponse `json:"response"`
}
