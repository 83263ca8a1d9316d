package engine

import (
	"github.com/loanbridge/lendmatch/internal/domain"
)

// MissingScorePolicy governs score components whose borrower input is absent.
type MissingScorePolicy string

const (
	// MissingRenormalize excludes the component from both the numerator
	// and the weight denominator, so incomplete documents reduce
	// confidence instead of silently dragging the score down. Default.
	MissingRenormalize MissingScorePolicy = "renormalize"

	// MissingZeroFill scores the component as zero against the full
	// weight denominator.
	MissingZeroFill MissingScorePolicy = "zero_fill"
)

// Component weights. They sum to 100.
const (
	weightCIBIL         = 25.0
	weightTurnover      = 20.0
	weightVintage       = 15.0
	weightBanking       = 20.0
	weightFOIR          = 10.0
	weightDocumentation = 10.0
)

const componentCount = 6

// Score computes the 0-100 composite for a lender product that passed the
// hard filters, with a per-component breakdown. Components whose inputs are
// absent are handled per the missing-score policy.
func Score(b *domain.BorrowerProfile, p *domain.LenderProduct, policy MissingScorePolicy) domain.ScoreBreakdown {
	components := []domain.ScoreComponent{
		component(domain.ComponentCIBIL, weightCIBIL, cibilSubScore(b)),
		component(domain.ComponentTurnover, weightTurnover, turnoverSubScore(b, p)),
		component(domain.ComponentVintage, weightVintage, vintageSubScore(b)),
		component(domain.ComponentBanking, weightBanking, bankingSubScore(b, p)),
		component(domain.ComponentFOIR, weightFOIR, foirSubScore(b)),
		component(domain.ComponentDocumentation, weightDocumentation, documentationSubScore(b, p)),
	}

	var weighted, denominator float64
	for i := range components {
		c := &components[i]
		if c.DataMissing {
			if policy == MissingZeroFill {
				denominator += c.Weight
			}
			continue
		}
		c.Contribution = c.Weight * c.SubScore / 100
		weighted += c.Weight * c.SubScore
		denominator += c.Weight
	}

	total := 0.0
	if denominator > 0 {
		total = weighted / denominator
	}

	return domain.ScoreBreakdown{Total: total, Components: components}
}

// Confidence quantifies how much of a score rests on real borrower data:
// the fraction of the six components whose inputs were present.
func Confidence(components []domain.ScoreComponent) float64 {
	present := 0
	for _, c := range components {
		if !c.DataMissing {
			present++
		}
	}
	return float64(present) / componentCount
}

// InputConfidence is Confidence computed directly from the profile, used for
// results that failed the hard filters and were never scored.
func InputConfidence(b *domain.BorrowerProfile, p *domain.LenderProduct) float64 {
	return Confidence(Score(b, p, MissingRenormalize).Components)
}

func component(name string, weight float64, sub *float64) domain.ScoreComponent {
	c := domain.ScoreComponent{Component: name, Weight: weight}
	if sub == nil {
		c.DataMissing = true
		return c
	}
	c.SubScore = *sub
	return c
}

func cibilSubScore(b *domain.BorrowerProfile) *float64 {
	if b.CIBILScore == nil {
		return nil
	}
	s := *b.CIBILScore
	switch {
	case s >= 750:
		return f(100)
	case s >= 725:
		return f(90)
	case s >= 700:
		return f(75)
	case s >= 675:
		return f(60)
	case s >= 650:
		return f(40)
	}
	return f(20)
}

// turnoverSubScore bands the turnover-to-minimum ratio. A product with no
// stated minimum has no reference point, so the metric counts as missing.
func turnoverSubScore(b *domain.BorrowerProfile, p *domain.LenderProduct) *float64 {
	min := p.Criteria.MinAnnualTurnover
	if b.AnnualTurnover == nil || min == nil || *min <= 0 {
		return nil
	}
	ratio := *b.AnnualTurnover / *min
	switch {
	case ratio >= 3:
		return f(100)
	case ratio >= 2:
		return f(80)
	case ratio >= 1.5:
		return f(60)
	case ratio >= 1:
		return f(40)
	}
	// Below the stated minimum but inside the tolerance margin.
	return f(20)
}

func vintageSubScore(b *domain.BorrowerProfile) *float64 {
	if b.VintageYears == nil {
		return nil
	}
	y := *b.VintageYears
	switch {
	case y >= 5:
		return f(100)
	case y >= 3:
		return f(80)
	case y >= 2:
		return f(60)
	case y >= 1:
		return f(40)
	}
	return f(20)
}

// bankingSubScore averages up to three banking-health signals: balance
// versus the lender's ABB requirement, bounce count, and cash-deposit ratio.
// Signals without data are left out of the average; the component is missing
// only when none of the three can be computed.
func bankingSubScore(b *domain.BorrowerProfile, p *domain.LenderProduct) *float64 {
	var parts []float64

	if b.AvgMonthlyBalance != nil && p.Criteria.MinAvgBalance != nil && *p.Criteria.MinAvgBalance > 0 {
		ratio := *b.AvgMonthlyBalance / *p.Criteria.MinAvgBalance
		switch {
		case ratio >= 2:
			parts = append(parts, 100)
		case ratio >= 1.5:
			parts = append(parts, 80)
		case ratio >= 1:
			parts = append(parts, 60)
		default:
			parts = append(parts, 30)
		}
	}

	if b.BounceCount12M != nil {
		switch n := *b.BounceCount12M; {
		case n == 0:
			parts = append(parts, 100)
		case n <= 2:
			parts = append(parts, 70)
		default:
			parts = append(parts, 30)
		}
	}

	if b.CashDepositRatio != nil {
		switch r := *b.CashDepositRatio; {
		case r < 0.20:
			parts = append(parts, 100)
		case r <= 0.40:
			parts = append(parts, 60)
		default:
			parts = append(parts, 30)
		}
	}

	if len(parts) == 0 {
		return nil
	}
	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	avg := sum / float64(len(parts))
	return &avg
}

// foirSubScore bands the fixed-obligations-to-income ratio: monthly EMI
// outflow over monthly credit average.
func foirSubScore(b *domain.BorrowerProfile) *float64 {
	if b.MonthlyEMIOutflow == nil || b.MonthlyCreditAvg == nil || *b.MonthlyCreditAvg <= 0 {
		return nil
	}
	foir := *b.MonthlyEMIOutflow / *b.MonthlyCreditAvg
	switch {
	case foir < 0.30:
		return f(100)
	case foir <= 0.45:
		return f(75)
	case foir <= 0.55:
		return f(50)
	case foir <= 0.65:
		return f(30)
	}
	return f(0)
}

// documentationSubScore is the fraction of lender-required proofs the
// borrower has supplied, scaled 0-100. A product with no required documents
// scores full marks; an unknown document set counts as missing.
func documentationSubScore(b *domain.BorrowerProfile, p *domain.LenderProduct) *float64 {
	required := p.Criteria.RequiredDocuments
	if len(required) == 0 {
		return f(100)
	}
	if b.DocumentsHeld == nil {
		return nil
	}
	held := 0
	for _, doc := range required {
		if b.HasDocument(doc) {
			held++
		}
	}
	score := 100 * float64(held) / float64(len(required))
	return &score
}

func f(v float64) *float64 { return &v }
