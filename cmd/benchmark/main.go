// Benchmark tool for testing Lendmatch against labeled disbursal data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/cases.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labeled case data (borrower attributes + whether any lender funded)
//  2. Scores each case through Lendmatch
//  3. Compares Lendmatch's verdict (any lender passed) with the funding labels
//  4. Calculates precision, recall, F1-score, and the confusion matrix
//
// The CSV columns are: case_id, cibil, turnover, vintage_years, entity_type,
// pincode, avg_balance, monthly_credit, emi_outflow, bounces_12m, peak_dpd,
// overdue_count, funded.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledCase represents a row from the disbursal dataset.
type LabeledCase struct {
	CaseID       string
	CIBIL        *int
	Turnover     *float64
	VintageYears *float64
	EntityType   *string
	Pincode      *string
	AvgBalance   *float64
	MonthlyCred  *float64
	EMIOutflow   *float64
	Bounces12M   *int
	PeakDPD      *int
	OverdueCount *int
	Funded       bool
}

// BorrowerPayload mirrors the API borrower profile shape.
type BorrowerPayload struct {
	EntityType        *string  `json:"entityType,omitempty"`
	VintageYears      *float64 `json:"vintageYears,omitempty"`
	Pincode           *string  `json:"pincode,omitempty"`
	AnnualTurnover    *float64 `json:"annualTurnover,omitempty"`
	AvgMonthlyBalance *float64 `json:"avgMonthlyBalance,omitempty"`
	MonthlyCreditAvg  *float64 `json:"monthlyCreditAvg,omitempty"`
	MonthlyEMIOutflow *float64 `json:"monthlyEmiOutflow,omitempty"`
	BounceCount12M    *int     `json:"bounceCount12m,omitempty"`
	CIBILScore        *int     `json:"cibilScore,omitempty"`
	OverdueCount      *int     `json:"overdueCount,omitempty"`
	PeakDPDDays       *int     `json:"peakDpdDays,omitempty"`
}

// ScorePayload is the Lendmatch API request format.
type ScorePayload struct {
	CaseID   string           `json:"caseId"`
	Borrower *BorrowerPayload `json:"borrower"`
}

// ScoreResult is the slice of the API response the benchmark needs.
type ScoreResult struct {
	RunID         string `json:"runId"`
	LendersPassed int    `json:"lendersPassed"`
	Results       []struct {
		LenderName       string   `json:"lenderName"`
		HardFilterStatus string   `json:"hardFilterStatus"`
		Score            *float64 `json:"eligibilityScore,omitempty"`
		Band             *string  `json:"approvalProbability,omitempty"`
	} `json:"results"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Funded cases with at least one passing lender
	FalsePositives int64 // Unfunded cases with at least one passing lender
	TrueNegatives  int64 // Unfunded cases with zero passing lenders
	FalseNegatives int64 // Funded cases with zero passing lenders (missed!)

	TotalProcessed int64
	TotalFunded    int64
	TotalUnfunded  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled case CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Lendmatch base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fundedOnly := flag.Bool("funded-only", false, "Only test funded cases")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for unfunded cases (0.0-1.0)")
	seed := flag.Bool("seed", false, "Seed a demo lender catalog before scoring")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/cases.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=================================================================")
	fmt.Println("         LENDMATCH BENCHMARK - Disbursal Backtesting")
	fmt.Println("=================================================================")
	fmt.Printf("\nCSV File:       %s\n", *csvPath)
	fmt.Printf("Lendmatch URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:      %s\n", *tenantID)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Limit:          %d\n", *limit)
	fmt.Printf("Funded Only:    %v\n", *fundedOnly)
	fmt.Printf("Sample Rate:    %.2f\n", *sampleRate)
	fmt.Println()

	// Check Lendmatch is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Lendmatch not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Lendmatch is running:")
		fmt.Println("  go run cmd/lendmatch/main.go")
		os.Exit(1)
	}
	fmt.Println("Lendmatch is healthy")

	if *seed {
		if err := seedCatalog(*baseURL, *tenantID); err != nil {
			fmt.Printf("ERROR: Failed to seed catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Demo lender catalog seeded")
	}

	// Read labeled data
	fmt.Printf("\nReading case data from %s...\n", *csvPath)
	cases, err := readCasesCSV(*csvPath, *limit, *fundedOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d cases\n", len(cases))

	fundedCount := 0
	for _, c := range cases {
		if c.Funded {
			fundedCount++
		}
	}
	fmt.Printf("  - Funded:   %d (%.2f%%)\n", fundedCount, 100*float64(fundedCount)/float64(len(cases)))
	fmt.Printf("  - Unfunded: %d (%.2f%%)\n", len(cases)-fundedCount, 100*float64(len(cases)-fundedCount)/float64(len(cases)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// seedCatalog loads a small representative lender mix: one conservative bank,
// one mid-market NBFC, one high-risk fintech.
func seedCatalog(baseURL, tenantID string) error {
	lenders := []map[string]any{
		{
			"id": "bench-bank", "lenderName": "Demo Bank", "productName": "Secured WC",
			"policyAvailable": true,
			"criteria": map[string]any{
				"minCibilScore": 720, "minAnnualTurnover": 10000000.0,
				"minVintageYears": 3.0, "maxTicketSize": 10000000.0,
			},
		},
		{
			"id": "bench-nbfc", "lenderName": "Demo NBFC", "productName": "Term Loan",
			"policyAvailable": true,
			"criteria": map[string]any{
				"minCibilScore": 685, "minAnnualTurnover": 2400000.0,
				"maxBounces12m": 3, "maxTicketSize": 5000000.0,
			},
		},
		{
			"id": "bench-fintech", "lenderName": "Demo Fintech", "productName": "Flexi Line",
			"policyAvailable": true,
			"criteria": map[string]any{
				"minCibilScore": 650, "minAnnualTurnover": 1200000.0,
				"maxTicketSize": 1500000.0,
			},
		},
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, l := range lenders {
		body, _ := json.Marshal(l)
		req, err := http.NewRequest(http.MethodPost, baseURL+"/lenders", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("create lender %v: status %d", l["id"], resp.StatusCode)
		}
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/lenders/reload", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", tenantID)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reload catalog: status %d", resp.StatusCode)
	}
	return nil
}

func readCasesCSV(path string, limit int, fundedOnly bool, sampleRate float64) ([]LabeledCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	// Empty cells stay nil: absent inputs are a state the engine handles,
	// so the benchmark must not fill them in.
	intField := func(record []string, name string) *int {
		s := field(record, name)
		if s == "" {
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &v
	}
	floatField := func(record []string, name string) *float64 {
		s := field(record, name)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	strField := func(record []string, name string) *string {
		s := field(record, name)
		if s == "" {
			return nil
		}
		return &s
	}

	var cases []LabeledCase
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		funded := field(record, "funded") == "1"

		// Apply filters
		if fundedOnly && !funded {
			continue
		}

		// Sample unfunded cases
		if !funded && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		caseID := field(record, "case_id")
		if caseID == "" {
			caseID = fmt.Sprintf("bench-%d", len(cases)+1)
		}

		cases = append(cases, LabeledCase{
			CaseID:       caseID,
			CIBIL:        intField(record, "cibil"),
			Turnover:     floatField(record, "turnover"),
			VintageYears: floatField(record, "vintage_years"),
			EntityType:   strField(record, "entity_type"),
			Pincode:      strField(record, "pincode"),
			AvgBalance:   floatField(record, "avg_balance"),
			MonthlyCred:  floatField(record, "monthly_credit"),
			EMIOutflow:   floatField(record, "emi_outflow"),
			Bounces12M:   intField(record, "bounces_12m"),
			PeakDPD:      intField(record, "peak_dpd"),
			OverdueCount: intField(record, "overdue_count"),
			Funded:       funded,
		})

		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

func runBenchmark(cases []LabeledCase, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledCase, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 15 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := scoreCase(client, baseURL, tenantID, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.CaseID, err)
					}
					continue
				}

				// Track actual labels
				if c.Funded {
					atomic.AddInt64(&metrics.TotalFunded, 1)
				} else {
					atomic.AddInt64(&metrics.TotalUnfunded, 1)
				}

				// Calculate confusion matrix
				predicted := result.LendersPassed > 0
				actual := c.Funded

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok  "
					if (predicted && !actual) || (!predicted && actual) {
						mark = "MISS"
					}
					cibil := "-"
					if c.CIBIL != nil {
						cibil = strconv.Itoa(*c.CIBIL)
					}
					fmt.Printf("%s %-14s | CIBIL: %4s | Funded: %-5v | Passed: %d/%d | %dms\n",
						mark,
						c.CaseID,
						cibil,
						c.Funded,
						result.LendersPassed,
						len(result.Results),
						elapsed,
					)
				}
			}
		}()
	}

	// Send work
	for _, c := range cases {
		work <- c
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func scoreCase(client *http.Client, baseURL, tenantID string, c LabeledCase) (*ScoreResult, error) {
	req := ScorePayload{
		CaseID: c.CaseID,
		Borrower: &BorrowerPayload{
			EntityType:        c.EntityType,
			VintageYears:      c.VintageYears,
			Pincode:           c.Pincode,
			AnnualTurnover:    c.Turnover,
			AvgMonthlyBalance: c.AvgBalance,
			MonthlyCreditAvg:  c.MonthlyCred,
			MonthlyEMIOutflow: c.EMIOutflow,
			BounceCount12M:    c.Bounces12M,
			CIBILScore:        c.CIBIL,
			OverdueCount:      c.OverdueCount,
			PeakDPDDays:       c.PeakDPD,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=================================================================")
	fmt.Println("                       BENCHMARK RESULTS")
	fmt.Println("=================================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Funded:     %d\n", m.TotalFunded)
	fmt.Printf("   Total Unfunded:   %d\n", m.TotalUnfunded)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                          Predicted")
	fmt.Println("                     MATCH      NO-MATCH")
	fmt.Printf("   Actual   F     %8d      %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("            NF    %8d      %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nMATCHING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of matches, how many actually got funded)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of funded cases, how many we matched)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall agreement with disbursals)\n", accuracy)

	fmt.Printf("\nMATCH ANALYSIS\n")
	if m.TotalFunded > 0 {
		matchRate := float64(m.TruePositives) / float64(m.TotalFunded) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFunded) * 100
		fmt.Printf("   Funded Matched:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFunded, matchRate)
		fmt.Printf("   Funded Missed:     %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFunded, missRate)
	}
	if m.TotalUnfunded > 0 {
		overMatchRate := float64(m.FalsePositives) / float64(m.TotalUnfunded) * 100
		fmt.Printf("   Over-Matches:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalUnfunded, overMatchRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f cases/sec\n", cps)
	}

	// Interpretation
	fmt.Printf("\nINTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   Excellent recall - matching most fundable cases")
	} else if recall >= 0.7 {
		fmt.Println("   Good recall - some fundable cases slipping through")
	} else if recall >= 0.5 {
		fmt.Println("   Moderate recall - filters may be stricter than lender practice")
	} else {
		fmt.Println("   Poor recall - catalog thresholds likely out of date")
	}

	if precision >= 0.5 {
		fmt.Println("   Good precision - matches are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   Low precision - many matches never converted")
	} else {
		fmt.Println("   Very low precision - matches rarely convert to disbursals")
	}

	fmt.Println()
}
