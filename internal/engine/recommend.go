package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loanbridge/lendmatch/internal/domain"
)

// MaxRecommendations caps the recommendation list per run.
const MaxRecommendations = 5

// lowScoreCeiling marks a passing result as weak for the secondary
// recommendation category.
const lowScoreCeiling = bandMediumFloor

// Recommend aggregates blocking reasons across the full evaluated set into
// at most five borrower-actionable suggestions. Hard-filter blockers are
// ranked by how many distinct lender products they block; a secondary
// recommendation surfaces the component that most often caps weak passing
// scores.
func Recommend(results []*domain.EligibilityResult, products map[string]*domain.LenderProduct, b *domain.BorrowerProfile) []domain.Recommendation {
	blockers := tallyBlockers(results)

	recs := make([]domain.Recommendation, 0, MaxRecommendations)
	for _, blk := range blockers {
		if len(recs) == MaxRecommendations {
			return recs
		}
		recs = append(recs, filterRecommendation(blk, results, products, b))
	}

	if weak := weakestComponentAcrossPasses(results); weak != nil && len(recs) < MaxRecommendations {
		recs = append(recs, *weak)
	}

	return recs
}

// RejectionAnalysis produces the deduplicated failure reasons and one action
// per top blocking filter, for runs where nothing passed.
func RejectionAnalysis(results []*domain.EligibilityResult) (reasons []string, actions []string) {
	seen := make(map[string]struct{})
	for _, r := range results {
		for _, c := range r.FilterChecks {
			if c.Passed {
				continue
			}
			if _, ok := seen[c.Reason]; ok {
				continue
			}
			seen[c.Reason] = struct{}{}
			reasons = append(reasons, c.Reason)
		}
	}
	sort.Strings(reasons)

	for _, blk := range tallyBlockers(results) {
		actions = append(actions, actionFor(blk.filter))
	}
	return reasons, actions
}

type blocker struct {
	filter  domain.FilterName
	blocked int
	// insufficient is true when every failure of this filter was a
	// missing-data failure, which changes the suggested action from
	// "improve the metric" to "supply the document".
	insufficient bool
}

// tallyBlockers counts, per filter, how many distinct lender products it
// blocked, ordered by count descending then filter name for determinism.
func tallyBlockers(results []*domain.EligibilityResult) []blocker {
	counts := make(map[domain.FilterName]*blocker)
	for _, r := range results {
		if r.Passed() {
			continue
		}
		for _, c := range r.FilterChecks {
			if c.Passed {
				continue
			}
			blk, ok := counts[c.Filter]
			if !ok {
				blk = &blocker{filter: c.Filter, insufficient: true}
				counts[c.Filter] = blk
			}
			blk.blocked++
			if !strings.HasPrefix(c.Reason, "insufficient data") {
				blk.insufficient = false
			}
		}
	}

	out := make([]blocker, 0, len(counts))
	for _, blk := range counts {
		out = append(out, *blk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].blocked != out[j].blocked {
			return out[i].blocked > out[j].blocked
		}
		return out[i].filter < out[j].filter
	})
	return out
}

func filterRecommendation(blk blocker, results []*domain.EligibilityResult, products map[string]*domain.LenderProduct, b *domain.BorrowerProfile) domain.Recommendation {
	rec := domain.Recommendation{
		Issue:           issueFor(blk.filter),
		Action:          actionFor(blk.filter),
		AffectedLenders: blk.blocked,
		Impact:          fmt.Sprintf("would unlock up to %d lender products", blk.blocked),
	}
	if blk.insufficient {
		rec.Action = fmt.Sprintf("supply the data needed to verify %s", blk.filter)
	}
	rec.CurrentValue = currentValueFor(blk.filter, b)
	rec.TargetValue = targetValueFor(blk.filter, results, products)
	return rec
}

func issueFor(f domain.FilterName) string {
	switch f {
	case domain.FilterPincode:
		return "business pincode not serviced"
	case domain.FilterCIBIL:
		return "CIBIL score below lender minimums"
	case domain.FilterEntityType:
		return "entity type not accepted"
	case domain.FilterVintage:
		return "business vintage below lender minimums"
	case domain.FilterTurnover:
		return "annual turnover below lender minimums"
	case domain.FilterAge:
		return "applicant age outside accepted ranges"
	case domain.FilterAvgBalance:
		return "average bank balance below lender minimums"
	case domain.FilterDPD:
		return "delinquency history exceeds lender limits"
	case domain.FilterOverdue:
		return "overdue position exceeds lender limits"
	case domain.FilterBounces:
		return "cheque bounces exceed lender limits"
	}
	return string(f)
}

func actionFor(f domain.FilterName) string {
	switch f {
	case domain.FilterPincode:
		return "consider lenders serving the business pincode, or an operating address in a serviced area"
	case domain.FilterCIBIL:
		return "clear outstanding dues and re-score after the bureau refresh"
	case domain.FilterEntityType:
		return "explore products open to the current entity type, or re-register the business"
	case domain.FilterVintage:
		return "re-apply once the business crosses the vintage threshold"
	case domain.FilterTurnover:
		return "route more business receipts through the declared account to lift reported turnover"
	case domain.FilterAge:
		return "add a co-applicant within the accepted age range"
	case domain.FilterAvgBalance:
		return "maintain a higher average balance for a full quarter before re-applying"
	case domain.FilterDPD:
		return "regularise delinquent accounts and wait out the lookback window"
	case domain.FilterOverdue:
		return "settle overdue accounts before re-applying"
	case domain.FilterBounces:
		return "avoid further cheque bounces; most lenders look back twelve months"
	}
	return "review the blocking criterion with an advisor"
}

func currentValueFor(f domain.FilterName, b *domain.BorrowerProfile) string {
	switch f {
	case domain.FilterPincode:
		if b.Pincode != nil {
			return *b.Pincode
		}
	case domain.FilterCIBIL:
		if b.CIBILScore != nil {
			return fmt.Sprintf("%d", *b.CIBILScore)
		}
	case domain.FilterEntityType:
		if b.EntityType != nil {
			return *b.EntityType
		}
	case domain.FilterVintage:
		if b.VintageYears != nil {
			return fmt.Sprintf("%.1fy", *b.VintageYears)
		}
	case domain.FilterTurnover:
		if b.AnnualTurnover != nil {
			return fmt.Sprintf("%.0f", *b.AnnualTurnover)
		}
	case domain.FilterAvgBalance:
		if b.AvgMonthlyBalance != nil {
			return fmt.Sprintf("%.0f", *b.AvgMonthlyBalance)
		}
	case domain.FilterBounces:
		if b.BounceCount12M != nil {
			return fmt.Sprintf("%d", *b.BounceCount12M)
		}
	}
	return ""
}

// targetValueFor picks the friendliest threshold among the products the
// filter blocked: the smallest bar the borrower would have to clear to
// unlock at least one of them.
func targetValueFor(f domain.FilterName, results []*domain.EligibilityResult, products map[string]*domain.LenderProduct) string {
	var minInt *int
	var minFloat *float64
	var maxInt *int

	for _, r := range results {
		if r.Passed() {
			continue
		}
		failed := false
		for _, c := range r.FilterChecks {
			if c.Filter == f && !c.Passed {
				failed = true
				break
			}
		}
		if !failed {
			continue
		}
		p, ok := products[r.ProductID]
		if !ok {
			continue
		}
		switch f {
		case domain.FilterCIBIL:
			minInt = lowerInt(minInt, p.Criteria.MinCIBILScore)
		case domain.FilterVintage:
			minFloat = lowerFloat(minFloat, p.Criteria.MinVintageYears)
		case domain.FilterTurnover:
			minFloat = lowerFloat(minFloat, p.Criteria.MinAnnualTurnover)
		case domain.FilterAvgBalance:
			minFloat = lowerFloat(minFloat, p.Criteria.MinAvgBalance)
		case domain.FilterBounces:
			maxInt = higherInt(maxInt, p.Criteria.MaxBounces12M)
		}
	}

	switch f {
	case domain.FilterCIBIL:
		if minInt != nil {
			return fmt.Sprintf(">= %d", *minInt)
		}
	case domain.FilterVintage:
		if minFloat != nil {
			return fmt.Sprintf(">= %.1fy", *minFloat)
		}
	case domain.FilterTurnover, domain.FilterAvgBalance:
		if minFloat != nil {
			return fmt.Sprintf(">= %.0f", *minFloat)
		}
	case domain.FilterBounces:
		if maxInt != nil {
			return fmt.Sprintf("<= %d", *maxInt)
		}
	}
	return ""
}

// weakestComponentAcrossPasses finds, for passing results under the low-score
// ceiling, each result's weakest real component and surfaces the one that
// caps scores most often.
func weakestComponentAcrossPasses(results []*domain.EligibilityResult) *domain.Recommendation {
	counts := make(map[string]int)
	weak := 0
	for _, r := range results {
		if !r.Passed() || r.Score == nil || *r.Score >= lowScoreCeiling {
			continue
		}
		weak++
		if name := weakestComponent(r.Breakdown); name != "" {
			counts[name]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	top := names[0]
	return &domain.Recommendation{
		Issue:           fmt.Sprintf("%s is the weakest factor on low-scoring matches", componentLabel(top)),
		Action:          componentAction(top),
		Impact:          fmt.Sprintf("caps the score on %d of %d weak matches", counts[top], weak),
		AffectedLenders: counts[top],
	}
}

func weakestComponent(breakdown []domain.ScoreComponent) string {
	name := ""
	lowest := 0.0
	for _, c := range breakdown {
		if c.DataMissing {
			continue
		}
		if name == "" || c.SubScore < lowest {
			name = c.Component
			lowest = c.SubScore
		}
	}
	return name
}

func componentLabel(name string) string {
	switch name {
	case domain.ComponentCIBIL:
		return "credit score"
	case domain.ComponentTurnover:
		return "turnover headroom"
	case domain.ComponentVintage:
		return "business vintage"
	case domain.ComponentBanking:
		return "banking strength"
	case domain.ComponentFOIR:
		return "existing obligations (FOIR)"
	case domain.ComponentDocumentation:
		return "documentation"
	}
	return name
}

func componentAction(name string) string {
	switch name {
	case domain.ComponentCIBIL:
		return "improve the credit score to move matches into a higher approval band"
	case domain.ComponentTurnover:
		return "higher banked turnover relative to lender minimums lifts scores across matches"
	case domain.ComponentVintage:
		return "scores improve as the business crosses the next vintage band"
	case domain.ComponentBanking:
		return "fewer bounces, lower cash deposits and a higher average balance lift scores"
	case domain.ComponentFOIR:
		return "reducing monthly EMI outflow relative to credits lifts scores across matches"
	case domain.ComponentDocumentation:
		return "supplying the remaining lender-required documents lifts scores"
	}
	return ""
}

func lowerInt(cur, candidate *int) *int {
	if candidate == nil {
		return cur
	}
	if cur == nil || *candidate < *cur {
		return candidate
	}
	return cur
}

func higherInt(cur, candidate *int) *int {
	if candidate == nil {
		return cur
	}
	if cur == nil || *candidate > *cur {
		return candidate
	}
	return cur
}

func lowerFloat(cur, candidate *float64) *float64 {
	if candidate == nil {
		return cur
	}
	if cur == nil || *candidate < *cur {
		return candidate
	}
	return cur
}
