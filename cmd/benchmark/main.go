// Benchmark tool for testing Kestrel against labeled deduction data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/deductions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled deduction claims (with suspicious/clean labels)
//   2. Sends each claim to Kestrel for scoring
//   3. Compares Kestrel's recommendation (allow vs anything stricter) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns (header required, order free):
//   id, date, amount_cents, category, jurisdiction, counterparty,
//   description, merchant_id, is_suspicious
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

// LabeledClaim represents a row from the labeled deductions dataset
type LabeledClaim struct {
	ID           string
	Date         time.Time
	AmountCents  int64
	Category     string
	Jurisdiction string
	Counterparty string
	Description  string
	MerchantID   string
	IsSuspicious bool
}

// CheckRequest is the Kestrel API request format
type CheckRequest struct {
	Transaction  ClaimTransaction `json:"transaction"`
	Jurisdiction string           `json:"jurisdiction,omitempty"`
}

type ClaimTransaction struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Date         time.Time `json:"date"`
	Description  string    `json:"description"`
	Counterparty string    `json:"counterparty,omitempty"`
	CategoryCode string    `json:"categoryCode,omitempty"`
	MerchantID   string    `json:"merchantId,omitempty"`
}

// CheckResponse is the subset of the Kestrel response the benchmark needs
type CheckResponse struct {
	ID                string   `json:"id"`
	RecommendedAction string   `json:"recommendedAction"`
	Reasons           []string `json:"reasons"`
	Alerts            []struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
	} `json:"alerts"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Suspicious claims flagged (warn/review/block)
	FalsePositives int64 // Clean claims flagged
	TrueNegatives  int64 // Clean claims allowed
	FalseNegatives int64 // Suspicious claims allowed (missed!)

	TotalProcessed  int64
	TotalSuspicious int64
	TotalClean      int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled deductions CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum claims to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	suspiciousOnly := flag.Bool("suspicious-only", false, "Only test labeled-suspicious claims")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for clean claims (0.0-1.0)")
	strict := flag.Bool("strict", false, "Count only review/block as positive, not warn")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/deductions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Deduction Anomaly Detection        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Strict:       %v\n", *strict)
	fmt.Printf("Sample Rate:  %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled claims from %s...\n", *csvPath)
	claims, err := readClaimsCSV(*csvPath, *limit, *suspiciousOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d claims\n", len(claims))

	// Count suspicious vs clean
	suspiciousCount := 0
	for _, c := range claims {
		if c.IsSuspicious {
			suspiciousCount++
		}
	}
	fmt.Printf("  - Suspicious: %d (%.2f%%)\n", suspiciousCount, 100*float64(suspiciousCount)/float64(len(claims)))
	fmt.Printf("  - Clean:      %d (%.2f%%)\n", len(claims)-suspiciousCount, 100*float64(len(claims)-suspiciousCount)/float64(len(claims)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *workers, *strict, *verbose)
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

func readClaimsCSV(path string, limit int, suspiciousOnly bool, sampleRate float64) ([]LabeledClaim, error) {
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

	var claims []LabeledClaim
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isSuspicious := record[colIndex["is_suspicious"]] == "1"

		// Apply filters
		if suspiciousOnly && !isSuspicious {
			continue
		}

		// Sample clean claims
		if !isSuspicious && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		date, err := parseDate(record[colIndex["date"]])
		if err != nil {
			continue
		}
		amount, _ := strconv.ParseInt(record[colIndex["amount_cents"]], 10, 64)

		claim := LabeledClaim{
			ID:           record[colIndex["id"]],
			Date:         date,
			AmountCents:  amount,
			Category:     record[colIndex["category"]],
			Jurisdiction: record[colIndex["jurisdiction"]],
			Counterparty: record[colIndex["counterparty"]],
			Description:  record[colIndex["description"]],
			IsSuspicious: isSuspicious,
		}
		if i, ok := colIndex["merchant_id"]; ok {
			claim.MerchantID = record[i]
		}

		claims = append(claims, claim)

		if limit > 0 && len(claims) >= limit {
			break
		}
	}

	return claims, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID string, numWorkers int, strict, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for claim := range work {
				start := time.Now()
				result, err := checkClaim(client, baseURL, tenantID, claim)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", claim.ID, err)
					}
					continue
				}

				// Track actual labels
				if claim.IsSuspicious {
					atomic.AddInt64(&metrics.TotalSuspicious, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// Calculate confusion matrix
				predicted := result.RecommendedAction != "allow"
				if strict {
					predicted = result.RecommendedAction == "review" || result.RecommendedAction == "block"
				}
				actual := claim.IsSuspicious

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
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					id := claim.ID
					if len(id) > 12 {
						id = id[:12]
					}
					fmt.Printf("%s %-12s | Cat: %-12s | Amount: %10d | Label: %-5v | Kestrel: %-6s | Alerts: %d\n",
						status,
						id,
						claim.Category,
						claim.AmountCents,
						claim.IsSuspicious,
						result.RecommendedAction,
						len(result.Alerts),
					)
				}
			}
		}()
	}

	// Send work
	for _, claim := range claims {
		work <- claim
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func checkClaim(client *http.Client, baseURL, tenantID string, claim LabeledClaim) (*CheckResponse, error) {
	req := CheckRequest{
		Transaction: ClaimTransaction{
			ID:           claim.ID,
			Amount:       claim.AmountCents,
			Date:         claim.Date,
			Description:  claim.Description,
			Counterparty: claim.Counterparty,
			CategoryCode: claim.Category,
			MerchantID:   claim.MerchantID,
		},
		Jurisdiction: claim.Jurisdiction,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/check", bytes.NewReader(body))
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

	var result CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Suspicious:  %d\n", m.TotalSuspicious)
	fmt.Printf("   Total Clean:       %d\n", m.TotalClean)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED      ALLOWED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged claims, how many were labeled suspicious)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of suspicious claims, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalSuspicious > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalSuspicious) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalSuspicious) * 100
		fmt.Printf("   Suspicious Caught:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalSuspicious, detectionRate)
		fmt.Printf("   Suspicious Missed:  %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalSuspicious, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Alarms:       %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most suspicious claims")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some suspicious claims")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant misses")
	} else {
		fmt.Println("   ❌ Poor recall - most suspicious claims are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
