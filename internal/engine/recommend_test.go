package engine

import (
	"strings"
	"testing"

	"github.com/loanbridge/lendmatch/internal/domain"
)

func failedResult(lender, product string, failures map[domain.FilterName]string) *domain.EligibilityResult {
	r := &domain.EligibilityResult{
		ProductID:        lender + "-" + product,
		LenderName:       lender,
		ProductName:      product,
		HardFilterStatus: domain.HardFilterFail,
	}
	for name, reason := range failures {
		r.FilterChecks = append(r.FilterChecks, domain.FilterCheck{
			Filter: name,
			Passed: false,
			Reason: reason,
		})
	}
	return r
}

func TestRecommendRanksByBlockedCount(t *testing.T) {
	// CIBIL blocks three products, vintage blocks one.
	results := []*domain.EligibilityResult{
		failedResult("A", "p", map[domain.FilterName]string{domain.FilterCIBIL: "CIBIL score 620 below lender minimum"}),
		failedResult("B", "p", map[domain.FilterName]string{domain.FilterCIBIL: "CIBIL score 620 below lender minimum"}),
		failedResult("C", "p", map[domain.FilterName]string{
			domain.FilterCIBIL:   "CIBIL score 620 below lender minimum",
			domain.FilterVintage: "business vintage 1.0y below lender minimum",
		}),
	}

	recs := Recommend(results, map[string]*domain.LenderProduct{}, strongBorrower())
	if len(recs) < 2 {
		t.Fatalf("expected at least 2 recommendations, got %d", len(recs))
	}
	if recs[0].AffectedLenders != 3 || !strings.Contains(recs[0].Issue, "CIBIL") {
		t.Errorf("top recommendation should be CIBIL blocking 3, got %+v", recs[0])
	}
	if recs[1].AffectedLenders != 1 {
		t.Errorf("second recommendation should block 1, got %+v", recs[1])
	}
}

func TestRecommendCappedAtFive(t *testing.T) {
	failures := map[domain.FilterName]string{
		domain.FilterCIBIL:      "r1",
		domain.FilterVintage:    "r2",
		domain.FilterTurnover:   "r3",
		domain.FilterAvgBalance: "r4",
		domain.FilterBounces:    "r5",
		domain.FilterPincode:    "r6",
		domain.FilterAge:        "r7",
	}
	results := []*domain.EligibilityResult{failedResult("A", "p", failures)}

	recs := Recommend(results, map[string]*domain.LenderProduct{}, strongBorrower())
	if len(recs) > MaxRecommendations {
		t.Errorf("got %d recommendations, cap is %d", len(recs), MaxRecommendations)
	}
}

func TestRecommendTargetValueIsFriendliestThreshold(t *testing.T) {
	b := strongBorrower()
	b.CIBILScore = iptr(620)

	strict := standardProduct("strict", "Axio", "Term Loan")
	strict.Criteria.MinCIBILScore = iptr(720)
	lenient := standardProduct("lenient", "Bajaj", "Flexi")
	lenient.Criteria.MinCIBILScore = iptr(685)

	results := []*domain.EligibilityResult{
		failedResult("Axio", "Term Loan", map[domain.FilterName]string{domain.FilterCIBIL: "CIBIL score 620 below lender minimum"}),
		failedResult("Bajaj", "Flexi", map[domain.FilterName]string{domain.FilterCIBIL: "CIBIL score 620 below lender minimum"}),
	}
	results[0].ProductID = "strict"
	results[1].ProductID = "lenient"

	products := map[string]*domain.LenderProduct{"strict": strict, "lenient": lenient}
	recs := Recommend(results, products, b)
	if len(recs) == 0 {
		t.Fatal("expected a recommendation")
	}
	if recs[0].TargetValue != ">= 685" {
		t.Errorf("target should be the lowest blocking minimum, got %q", recs[0].TargetValue)
	}
	if recs[0].CurrentValue != "620" {
		t.Errorf("current value %q, want 620", recs[0].CurrentValue)
	}
}

func TestRejectionAnalysis(t *testing.T) {
	// Scenario: every lender fails on pincode.
	results := []*domain.EligibilityResult{
		failedResult("A", "p", map[domain.FilterName]string{domain.FilterPincode: "pincode 999999 is not serviced"}),
		failedResult("B", "p", map[domain.FilterName]string{domain.FilterPincode: "pincode 999999 is not serviced"}),
	}

	reasons, actions := RejectionAnalysis(results)
	if len(reasons) != 1 {
		t.Fatalf("reasons should be deduplicated, got %v", reasons)
	}
	if !strings.Contains(reasons[0], "pincode") {
		t.Errorf("reason should mention pincode: %q", reasons[0])
	}
	if len(actions) == 0 {
		t.Fatal("expected suggested actions")
	}
}

func TestWeakComponentSecondaryRecommendation(t *testing.T) {
	// Two weak passes both capped by FOIR.
	weakPass := func(lender string) *domain.EligibilityResult {
		r := passingResult(lender, "p", 42)
		r.Breakdown = []domain.ScoreComponent{
			{Component: domain.ComponentCIBIL, Weight: 25, SubScore: 60},
			{Component: domain.ComponentFOIR, Weight: 10, SubScore: 0},
			{Component: domain.ComponentVintage, Weight: 15, SubScore: 40},
		}
		return r
	}
	results := []*domain.EligibilityResult{weakPass("A"), weakPass("B")}

	recs := Recommend(results, map[string]*domain.LenderProduct{}, strongBorrower())
	if len(recs) != 1 {
		t.Fatalf("expected one secondary recommendation, got %d", len(recs))
	}
	if !strings.Contains(recs[0].Issue, "FOIR") {
		t.Errorf("expected FOIR to surface as the capping factor: %+v", recs[0])
	}
}

func TestInsufficientDataChangesAction(t *testing.T) {
	results := []*domain.EligibilityResult{
		failedResult("A", "p", map[domain.FilterName]string{domain.FilterCIBIL: "insufficient data to evaluate cibil"}),
	}

	recs := Recommend(results, map[string]*domain.LenderProduct{}, &domain.BorrowerProfile{})
	if len(recs) == 0 {
		t.Fatal("expected a recommendation")
	}
	if !strings.Contains(recs[0].Action, "supply the data") {
		t.Errorf("missing-data blocker should ask for data, got %q", recs[0].Action)
	}
}
