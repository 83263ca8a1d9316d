package domain

import (
	"time"
)

// BorrowerProfile is the feature vector for one case, assembled upstream by
// document extraction and bank-statement analysis. Every attribute is
// independently optional: a nil pointer means the value was never extracted,
// which is a different state from zero.
type BorrowerProfile struct {
	CaseID   string `json:"caseId"`
	TenantID string `json:"tenantId"`

	// Identity
	Name    *string    `json:"name,omitempty"`
	PAN     *string    `json:"pan,omitempty"`
	Aadhaar *string    `json:"aadhaar,omitempty"`
	DOB     *time.Time `json:"dob,omitempty"`

	// Business
	EntityType   *string  `json:"entityType,omitempty"`
	VintageYears *float64 `json:"vintageYears,omitempty"`
	GSTIN        *string  `json:"gstin,omitempty"`
	Industry     *string  `json:"industry,omitempty"`
	Pincode      *string  `json:"pincode,omitempty"`

	// Financials
	AnnualTurnover    *float64 `json:"annualTurnover,omitempty"`
	MonthlyTurnover   *float64 `json:"monthlyTurnover,omitempty"`
	AvgMonthlyBalance *float64 `json:"avgMonthlyBalance,omitempty"`
	MonthlyCreditAvg  *float64 `json:"monthlyCreditAvg,omitempty"`
	MonthlyEMIOutflow *float64 `json:"monthlyEmiOutflow,omitempty"`
	BounceCount12M    *int     `json:"bounceCount12m,omitempty"`
	CashDepositRatio  *float64 `json:"cashDepositRatio,omitempty"` // fraction of deposits in cash, 0..1

	// Credit bureau
	CIBILScore      *int     `json:"cibilScore,omitempty"`
	ActiveLoanCount *int     `json:"activeLoanCount,omitempty"`
	OverdueCount    *int     `json:"overdueCount,omitempty"`
	OverdueAmount   *float64 `json:"overdueAmount,omitempty"`
	PeakDPDDays     *int     `json:"peakDpdDays,omitempty"` // worst DPD reported in the bureau lookback
	EnquiryCount6M  *int     `json:"enquiryCount6m,omitempty"`

	// Documents the borrower has supplied, as classified upstream
	// (e.g. "gstin", "itr", "bank_statement"). Nil means unknown.
	DocumentsHeld []string `json:"documentsHeld,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AgeAt computes the borrower's age in whole years at the given instant.
// Returns nil when DOB is unknown.
func (b *BorrowerProfile) AgeAt(at time.Time) *int {
	if b.DOB == nil {
		return nil
	}
	age := at.Year() - b.DOB.Year()
	anniversary := time.Date(at.Year(), b.DOB.Month(), b.DOB.Day(), 0, 0, 0, 0, time.UTC)
	if at.Before(anniversary) {
		age--
	}
	return &age
}

// HasDocument reports whether the borrower supplied the named document.
func (b *BorrowerProfile) HasDocument(doc string) bool {
	for _, d := range b.DocumentsHeld {
		if d == doc {
			return true
		}
	}
	return false
}
