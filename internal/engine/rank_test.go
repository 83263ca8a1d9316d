package engine

import (
	"testing"

	"github.com/loanbridge/lendmatch/internal/domain"
)

func passingResult(lender, product string, score float64) *domain.EligibilityResult {
	return &domain.EligibilityResult{
		ProductID:        lender + "-" + product,
		LenderName:       lender,
		ProductName:      product,
		HardFilterStatus: domain.HardFilterPass,
		Score:            fptr(score),
	}
}

func TestBandFor(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Band
	}{
		{100, domain.BandHigh}, {75, domain.BandHigh},
		{74.99, domain.BandMedium}, {50, domain.BandMedium},
		{49.99, domain.BandLow}, {0, domain.BandLow},
	}
	for _, tc := range cases {
		if got := BandFor(tc.score); got != tc.want {
			t.Errorf("BandFor(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	results := []*domain.EligibilityResult{
		passingResult("Clix", "WC Loan", 62),
		passingResult("Axio", "Term Loan", 88),
		passingResult("Bajaj", "Flexi", 71),
	}

	Rank(results)

	byRank := make(map[int]string)
	for _, r := range results {
		if r.Rank != nil {
			byRank[*r.Rank] = r.LenderName
		}
	}
	if byRank[1] != "Axio" || byRank[2] != "Bajaj" || byRank[3] != "Clix" {
		t.Errorf("unexpected order: %v", byRank)
	}
}

func TestRankTieBreakIsLenderThenProduct(t *testing.T) {
	results := []*domain.EligibilityResult{
		passingResult("Zeta", "Alpha", 80),
		passingResult("Axio", "Zulu", 80),
		passingResult("Axio", "Alpha", 80),
	}

	Rank(results)

	want := map[int][2]string{
		1: {"Axio", "Alpha"},
		2: {"Axio", "Zulu"},
		3: {"Zeta", "Alpha"},
	}
	for _, r := range results {
		if r.Rank == nil {
			t.Fatalf("missing rank on %s/%s", r.LenderName, r.ProductName)
		}
		w := want[*r.Rank]
		if r.LenderName != w[0] || r.ProductName != w[1] {
			t.Errorf("rank %d: got %s/%s, want %s/%s", *r.Rank, r.LenderName, r.ProductName, w[0], w[1])
		}
	}
}

func TestRanksContiguousAndFailuresUnranked(t *testing.T) {
	results := []*domain.EligibilityResult{
		passingResult("Axio", "Term Loan", 88),
		{LenderName: "Bajaj", ProductName: "Flexi", HardFilterStatus: domain.HardFilterFail},
		passingResult("Clix", "WC Loan", 40),
		{LenderName: "DMI", ProductName: "Biz", HardFilterStatus: domain.HardFilterFail},
		passingResult("Essel", "MSME", 63),
	}

	Rank(results)

	seen := make(map[int]bool)
	ranked := 0
	for _, r := range results {
		if r.HardFilterStatus == domain.HardFilterFail {
			if r.Rank != nil {
				t.Errorf("failed result %s has rank %d", r.LenderName, *r.Rank)
			}
			continue
		}
		if r.Rank == nil {
			t.Fatalf("passing result %s has no rank", r.LenderName)
		}
		if seen[*r.Rank] {
			t.Errorf("duplicate rank %d", *r.Rank)
		}
		seen[*r.Rank] = true
		ranked++
	}
	for i := 1; i <= ranked; i++ {
		if !seen[i] {
			t.Errorf("rank sequence not contiguous, missing %d", i)
		}
	}
}

func TestTicketRangeCappedByProduct(t *testing.T) {
	b := strongBorrower()
	b.AnnualTurnover = fptr(5000000)
	p := standardProduct("p1", "Axio", "Term Loan")
	p.Criteria.MaxTicketSize = fptr(2500000)

	min, max := TicketRange(domain.BandHigh, b, p)
	if max == nil || *max != 2500000 {
		t.Fatalf("expected max capped at 2500000, got %v", max)
	}
	if min == nil || *min != 2500000*ticketMinShare {
		t.Fatalf("expected min %.0f, got %v", 2500000*ticketMinShare, min)
	}
}

func TestTicketRangeScalesWithBand(t *testing.T) {
	b := strongBorrower()
	b.AnnualTurnover = fptr(1000000)
	p := standardProduct("p1", "Axio", "Term Loan")
	p.Criteria.MaxTicketSize = fptr(10000000)

	cases := []struct {
		band domain.Band
		want float64
	}{
		{domain.BandHigh, 1000000},
		{domain.BandMedium, 750000},
		{domain.BandLow, 500000},
	}
	for _, tc := range cases {
		_, max := TicketRange(tc.band, b, p)
		if max == nil || *max != tc.want {
			t.Errorf("band %s: max %v, want %.0f", tc.band, max, tc.want)
		}
	}
}

func TestTicketRangeUnknownTurnover(t *testing.T) {
	b := strongBorrower()
	b.AnnualTurnover = nil
	p := standardProduct("p1", "Axio", "Term Loan")

	min, max := TicketRange(domain.BandHigh, b, p)
	if min != nil || max != nil {
		t.Error("no ticket estimate without turnover")
	}
}
