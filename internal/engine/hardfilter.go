// Package engine implements the eligibility engine: hard filters, weighted
// scoring, confidence, ranking and recommendations. All computation here is
// pure; stores are consulted only at the orchestration boundary.
package engine

import (
	"fmt"
	"time"

	"github.com/loanbridge/lendmatch/internal/domain"
)

// MissingDataPolicy governs hard filters whose borrower input is absent.
type MissingDataPolicy string

const (
	// MissingFailClosed fails the filter with an "insufficient data"
	// reason. A lender is never presented as eligible on an unverified
	// criterion. This is the default.
	MissingFailClosed MissingDataPolicy = "fail_closed"

	// MissingSkip treats the filter as not applicable.
	MissingSkip MissingDataPolicy = "skip"
)

// TurnoverTolerance is the accepted shortfall margin on minimum turnover:
// a borrower passes at >= 90% of the lender's stated minimum.
const TurnoverTolerance = 0.10

// EvaluateFilters applies every hard filter for which the product defines a
// threshold. Filters with no threshold are skipped (they cannot disqualify).
// There is no short-circuit: every applicable filter runs so all failure
// reasons are recorded. asOf fixes the instant used for age computation so a
// run is reproducible.
func EvaluateFilters(b *domain.BorrowerProfile, p *domain.LenderProduct, area *domain.ServiceArea, policy MissingDataPolicy, asOf time.Time) domain.HardFilterResult {
	fe := &filterEval{policy: policy}
	c := p.Criteria

	if area != nil {
		fe.check(domain.FilterPincode, b.Pincode != nil, func() (bool, string, string) {
			return area.Serves(*b.Pincode), fmt.Sprintf("%d serviced pincodes", len(area.Pincodes)), *b.Pincode
		}, "pincode %s is not serviced")
	}

	if c.MinCIBILScore != nil {
		fe.check(domain.FilterCIBIL, b.CIBILScore != nil, func() (bool, string, string) {
			return *b.CIBILScore >= *c.MinCIBILScore, fmt.Sprintf(">= %d", *c.MinCIBILScore), fmt.Sprintf("%d", *b.CIBILScore)
		}, "CIBIL score %s below lender minimum")
	}

	if len(c.EligibleEntityTypes) > 0 {
		fe.check(domain.FilterEntityType, b.EntityType != nil, func() (bool, string, string) {
			return containsString(c.EligibleEntityTypes, *b.EntityType), fmt.Sprintf("one of %v", c.EligibleEntityTypes), *b.EntityType
		}, "entity type %s is not eligible")
	}

	if c.MinVintageYears != nil {
		fe.check(domain.FilterVintage, b.VintageYears != nil, func() (bool, string, string) {
			return *b.VintageYears >= *c.MinVintageYears, fmt.Sprintf(">= %.1fy", *c.MinVintageYears), fmt.Sprintf("%.1fy", *b.VintageYears)
		}, "business vintage %s below lender minimum")
	}

	if c.MinAnnualTurnover != nil {
		fe.check(domain.FilterTurnover, b.AnnualTurnover != nil, func() (bool, string, string) {
			floor := *c.MinAnnualTurnover * (1 - TurnoverTolerance)
			return *b.AnnualTurnover >= floor, fmt.Sprintf(">= %.0f (with %.0f%% tolerance)", floor, TurnoverTolerance*100), fmt.Sprintf("%.0f", *b.AnnualTurnover)
		}, "annual turnover %s below lender minimum")
	}

	if c.MinAge != nil || c.MaxAge != nil {
		age := b.AgeAt(asOf)
		fe.check(domain.FilterAge, age != nil, func() (bool, string, string) {
			ok := true
			if c.MinAge != nil && *age < *c.MinAge {
				ok = false
			}
			if c.MaxAge != nil && *age > *c.MaxAge {
				ok = false
			}
			return ok, ageRangeLabel(c.MinAge, c.MaxAge), fmt.Sprintf("%d", *age)
		}, "age %s outside lender's accepted range")
	}

	if c.MinAvgBalance != nil {
		fe.check(domain.FilterAvgBalance, b.AvgMonthlyBalance != nil, func() (bool, string, string) {
			return *b.AvgMonthlyBalance >= *c.MinAvgBalance, fmt.Sprintf(">= %.0f", *c.MinAvgBalance), fmt.Sprintf("%.0f", *b.AvgMonthlyBalance)
		}, "average monthly balance %s below lender minimum")
	}

	if c.MaxDPDDays != nil {
		fe.check(domain.FilterDPD, b.PeakDPDDays != nil, func() (bool, string, string) {
			return *b.PeakDPDDays <= *c.MaxDPDDays, fmt.Sprintf("<= %d days", *c.MaxDPDDays), fmt.Sprintf("%d days", *b.PeakDPDDays)
		}, "reported DPD of %s exceeds lender limit")
	}

	if c.MaxOverdueCount != nil || c.MaxOverdueAmount != nil {
		present := true
		if c.MaxOverdueCount != nil && b.OverdueCount == nil {
			present = false
		}
		if c.MaxOverdueAmount != nil && b.OverdueAmount == nil {
			present = false
		}
		fe.check(domain.FilterOverdue, present, func() (bool, string, string) {
			ok := true
			threshold, observed := "", ""
			if c.MaxOverdueCount != nil {
				ok = ok && *b.OverdueCount <= *c.MaxOverdueCount
				threshold = fmt.Sprintf("<= %d overdue accounts", *c.MaxOverdueCount)
				observed = fmt.Sprintf("%d accounts", *b.OverdueCount)
			}
			if c.MaxOverdueAmount != nil {
				ok = ok && *b.OverdueAmount <= *c.MaxOverdueAmount
				if threshold != "" {
					threshold += ", "
					observed += ", "
				}
				threshold += fmt.Sprintf("<= %.0f overdue", *c.MaxOverdueAmount)
				observed += fmt.Sprintf("%.0f overdue", *b.OverdueAmount)
			}
			return ok, threshold, observed
		}, "overdue position %s exceeds lender limit")
	}

	if c.MaxBounces12M != nil {
		fe.check(domain.FilterBounces, b.BounceCount12M != nil, func() (bool, string, string) {
			return *b.BounceCount12M <= *c.MaxBounces12M, fmt.Sprintf("<= %d in 12m", *c.MaxBounces12M), fmt.Sprintf("%d", *b.BounceCount12M)
		}, "bounce count %s exceeds lender limit")
	}

	status := domain.HardFilterPass
	for _, ch := range fe.checks {
		if !ch.Passed {
			status = domain.HardFilterFail
			break
		}
	}

	return domain.HardFilterResult{Status: status, Checks: fe.checks}
}

type filterEval struct {
	policy MissingDataPolicy
	checks []domain.FilterCheck
}

// check evaluates one applicable filter. When the borrower input is absent
// the missing-data policy decides between a closed failure and a skip.
func (fe *filterEval) check(name domain.FilterName, inputPresent bool, eval func() (ok bool, threshold, observed string), failFmt string) {
	if !inputPresent {
		if fe.policy == MissingSkip {
			return
		}
		fe.checks = append(fe.checks, domain.FilterCheck{
			Filter: name,
			Passed: false,
			Reason: fmt.Sprintf("insufficient data to evaluate %s", name),
		})
		return
	}

	ok, threshold, observed := eval()
	ch := domain.FilterCheck{
		Filter:    name,
		Passed:    ok,
		Threshold: threshold,
		Observed:  observed,
	}
	if !ok {
		ch.Reason = fmt.Sprintf(failFmt, observed)
	}
	fe.checks = append(fe.checks, ch)
}

func ageRangeLabel(min, max *int) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("%d-%d", *min, *max)
	case min != nil:
		return fmt.Sprintf(">= %d", *min)
	case max != nil:
		return fmt.Sprintf("<= %d", *max)
	}
	return ""
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
