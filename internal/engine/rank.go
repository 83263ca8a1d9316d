package engine

import (
	"sort"

	"github.com/loanbridge/lendmatch/internal/domain"
)

// Band thresholds on the composite score.
const (
	bandHighFloor   = 75.0
	bandMediumFloor = 50.0
)

// BandFor maps a composite score to an approval probability band.
func BandFor(score float64) domain.Band {
	switch {
	case score >= bandHighFloor:
		return domain.BandHigh
	case score >= bandMediumFloor:
		return domain.BandMedium
	}
	return domain.BandLow
}

// bandFactor scales the borrower's turnover into an indicative exposure by
// band. The mapping is deliberately confined to this file so it can be
// replaced without touching the rest of the engine.
func bandFactor(band domain.Band) float64 {
	switch band {
	case domain.BandHigh:
		return 1.0
	case domain.BandMedium:
		return 0.75
	}
	return 0.5
}

// ticketMinShare is the expected minimum as a share of the expected maximum.
const ticketMinShare = 0.25

// TicketRange estimates the indicative ticket range for a passing result:
// max = min(product max ticket, turnover x band factor), min = a fixed share
// of that, floored at the product's stated minimum when one exists.
func TicketRange(band domain.Band, b *domain.BorrowerProfile, p *domain.LenderProduct) (min, max *float64) {
	if b.AnnualTurnover == nil {
		return nil, nil
	}

	upper := *b.AnnualTurnover * bandFactor(band)
	if ceiling := p.Criteria.MaxTicketSize; ceiling != nil && *ceiling < upper {
		upper = *ceiling
	}
	if upper <= 0 {
		return nil, nil
	}

	lower := upper * ticketMinShare
	if floor := p.Criteria.MinTicketSize; floor != nil && *floor > lower {
		lower = *floor
	}
	if lower > upper {
		lower = upper
	}
	return &lower, &upper
}

// Rank orders the passing results by score descending, ties broken by lender
// name then product name, and assigns contiguous ranks 1..K. Failed results
// keep a nil rank. Ordering never depends on insertion order.
func Rank(results []*domain.EligibilityResult) {
	passing := make([]*domain.EligibilityResult, 0, len(results))
	for _, r := range results {
		if r.Passed() && r.Score != nil {
			passing = append(passing, r)
		}
	}

	sort.SliceStable(passing, func(i, j int) bool {
		if *passing[i].Score != *passing[j].Score {
			return *passing[i].Score > *passing[j].Score
		}
		if passing[i].LenderName != passing[j].LenderName {
			return passing[i].LenderName < passing[j].LenderName
		}
		return passing[i].ProductName < passing[j].ProductName
	})

	for i, r := range passing {
		rank := i + 1
		r.Rank = &rank
	}
}
