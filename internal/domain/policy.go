package domain

import (
	"fmt"
	"time"
)

// LenderProduct is one lender+product policy record as curated by the policy
// ingestion subsystem. Threshold pointers that are nil mark the criterion as
// not applicable for this product; the corresponding hard filter is skipped.
type LenderProduct struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	LenderName  string `json:"lenderName"`
	ProductName string `json:"productName"`

	// A product without an ingested policy is excluded from scoring
	// entirely: neither pass nor fail.
	PolicyAvailable bool `json:"policyAvailable"`

	Criteria EligibilityCriteria `json:"criteria"`
	Terms    CommercialTerms     `json:"terms"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// EligibilityCriteria holds the hard-filter thresholds and scoring inputs.
type EligibilityCriteria struct {
	MinCIBILScore       *int     `json:"minCibilScore,omitempty"`
	MinVintageYears     *float64 `json:"minVintageYears,omitempty"`
	MinAnnualTurnover   *float64 `json:"minAnnualTurnover,omitempty"`
	MinTicketSize       *float64 `json:"minTicketSize,omitempty"`
	MaxTicketSize       *float64 `json:"maxTicketSize,omitempty"`
	MinAvgBalance       *float64 `json:"minAvgBalance,omitempty"`
	EligibleEntityTypes []string `json:"eligibleEntityTypes,omitempty"`
	MinAge              *int     `json:"minAge,omitempty"`
	MaxAge              *int     `json:"maxAge,omitempty"`
	MaxDPDDays          *int     `json:"maxDpdDays,omitempty"`
	MaxOverdueCount     *int     `json:"maxOverdueCount,omitempty"`
	MaxOverdueAmount    *float64 `json:"maxOverdueAmount,omitempty"`
	MaxBounces12M       *int     `json:"maxBounces12m,omitempty"`
	RequiredDocuments   []string `json:"requiredDocuments,omitempty"`
}

// CommercialTerms are surfaced to the caller with each ranked result.
type CommercialTerms struct {
	InterestRateMin  float64 `json:"interestRateMin,omitempty"`
	InterestRateMax  float64 `json:"interestRateMax,omitempty"`
	ProcessingFeePct float64 `json:"processingFeePct,omitempty"`
	TenorMinMonths   int     `json:"tenorMinMonths,omitempty"`
	TenorMaxMonths   int     `json:"tenorMaxMonths,omitempty"`
	TurnaroundDays   int     `json:"turnaroundDays,omitempty"`
}

// ServiceArea is the pincode serviceability set for one lender product.
// A nil ServiceArea means the product has no pincode restriction.
type ServiceArea struct {
	ProductID string              `json:"productId"`
	Pincodes  map[string]struct{} `json:"-"`
}

// NewServiceArea builds a ServiceArea from a pincode list.
func NewServiceArea(productID string, pincodes []string) *ServiceArea {
	set := make(map[string]struct{}, len(pincodes))
	for _, p := range pincodes {
		set[p] = struct{}{}
	}
	return &ServiceArea{ProductID: productID, Pincodes: set}
}

// Serves reports whether the pincode is in the serviced set.
func (s *ServiceArea) Serves(pincode string) bool {
	if s == nil {
		return true
	}
	_, ok := s.Pincodes[pincode]
	return ok
}

// PincodeList returns the serviced pincodes in unspecified order.
func (s *ServiceArea) PincodeList() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Pincodes))
	for p := range s.Pincodes {
		out = append(out, p)
	}
	return out
}

// Validate reports whether the record is internally coherent. A product that
// fails validation is excluded from the batch with a diagnostic note; the
// rest of the batch proceeds.
func (p *LenderProduct) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("product id is required")
	}
	if p.LenderName == "" || p.ProductName == "" {
		return fmt.Errorf("product %s: lender and product names are required", p.ID)
	}
	c := p.Criteria
	if c.MinCIBILScore != nil && (*c.MinCIBILScore < 300 || *c.MinCIBILScore > 900) {
		return fmt.Errorf("product %s: min CIBIL %d outside bureau range", p.ID, *c.MinCIBILScore)
	}
	if c.MinVintageYears != nil && *c.MinVintageYears < 0 {
		return fmt.Errorf("product %s: negative min vintage", p.ID)
	}
	if c.MinAnnualTurnover != nil && *c.MinAnnualTurnover < 0 {
		return fmt.Errorf("product %s: negative min turnover", p.ID)
	}
	if c.MinTicketSize != nil && c.MaxTicketSize != nil && *c.MinTicketSize > *c.MaxTicketSize {
		return fmt.Errorf("product %s: ticket range inverted", p.ID)
	}
	if c.MinAge != nil && c.MaxAge != nil && *c.MinAge > *c.MaxAge {
		return fmt.Errorf("product %s: age range inverted", p.ID)
	}
	return nil
}
