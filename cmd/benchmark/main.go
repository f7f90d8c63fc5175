// Benchmark tool for measuring Kestrel's diagnostic accuracy against
// labelled cases.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/cases.csv -url http://localhost:8080
//
// The CSV needs a header with the columns:
//
//	expected      condition the case is labelled with
//	symptoms      present symptoms separated by ';'
//	temperature_c optional body temperature
//
// This tool:
//  1. Reads the labelled cases
//  2. Sends each case to Kestrel's diagnose endpoint
//  3. Compares the top ranked condition with the label
//  4. Reports top-1 / top-3 accuracy, per-condition recall and latency
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
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Case is one labelled row of the benchmark CSV.
type Case struct {
	Line        int
	Expected    string
	Symptoms    []string
	Temperature float64
}

// DiagnoseRequest is the Kestrel API request format.
type DiagnoseRequest struct {
	Answers      map[string]any     `json:"answers"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// DiagnoseResponse is the subset of the Kestrel diagnosis used here.
type DiagnoseResponse struct {
	ID     string `json:"id"`
	Ranked []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"ranked"`
	Classification string `json:"classification"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Top1Hits int64
	Top3Hits int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu             sync.Mutex
	perCondition   map[string]*conditionStats
	classification map[string]int64
}

type conditionStats struct {
	Cases int64
	Hits  int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled cases CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	catalogue := flag.String("catalogue", "respiratory", "Catalogue to diagnose against")
	limit := flag.Int("limit", 10000, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/cases.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Labelled Diagnosis Cases         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Catalogue:   %s\n", *catalogue)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading cases from %s...\n", *csvPath)
	cases, err := readCases(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(cases) == 0 {
		fmt.Println("ERROR: no cases found")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d cases\n", len(cases))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *catalogue, *workers, *verbose)
	duration := time.Since(startTime)

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

func readCases(path string, limit int) ([]Case, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseCases(file, limit)
}

func parseCases(r io.Reader, limit int) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"expected", "symptoms"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	tempCol, hasTemp := colIndex["temperature_c"]

	var cases []Case
	line := 1

	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		c := Case{
			Line:     line,
			Expected: strings.TrimSpace(field(record, colIndex["expected"])),
		}
		if c.Expected == "" {
			continue
		}
		for _, s := range strings.Split(field(record, colIndex["symptoms"]), ";") {
			if s = strings.TrimSpace(s); s != "" {
				c.Symptoms = append(c.Symptoms, s)
			}
		}
		if hasTemp {
			c.Temperature, _ = strconv.ParseFloat(strings.TrimSpace(field(record, tempCol)), 64)
		}

		cases = append(cases, c)

		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func runBenchmark(cases []Case, baseURL, catalogue string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{
		perCondition:   make(map[string]*conditionStats),
		classification: make(map[string]int64),
	}

	work := make(chan Case, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := diagnoseCase(client, baseURL, catalogue, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: line %d -> %v\n", c.Line, err)
					}
					continue
				}

				top1, top3 := score(result, c.Expected)
				metrics.record(c.Expected, result.Classification, top1, top3)

				if verbose {
					status := "✓"
					if !top1 {
						status = "✗"
					}
					got, conf := "-", 0.0
					if len(result.Ranked) > 0 {
						got, conf = result.Ranked[0].Name, result.Ranked[0].Confidence
					}
					fmt.Printf("%s line %-5d | Expected: %-15s | Kestrel: %-15s (%5.1f%% %s)\n",
						status, c.Line, c.Expected, got, conf, result.Classification)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

// score reports whether expected ranks first and within the first three.
func score(result *DiagnoseResponse, expected string) (top1, top3 bool) {
	for i, r := range result.Ranked {
		if i >= 3 {
			break
		}
		if strings.EqualFold(r.Name, expected) {
			return i == 0, true
		}
	}
	return false, false
}

func (m *Metrics) record(expected, classification string, top1, top3 bool) {
	if top1 {
		atomic.AddInt64(&m.Top1Hits, 1)
	}
	if top3 {
		atomic.AddInt64(&m.Top3Hits, 1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.perCondition[expected]
	if !ok {
		s = &conditionStats{}
		m.perCondition[expected] = s
	}
	s.Cases++
	if top1 {
		s.Hits++
	}
	m.classification[classification]++
}

func diagnoseCase(client *http.Client, baseURL, catalogue string, c Case) (*DiagnoseResponse, error) {
	req := DiagnoseRequest{Answers: make(map[string]any, len(c.Symptoms))}
	for _, s := range c.Symptoms {
		req.Answers[s] = true
	}
	if c.Temperature > 0 {
		req.Measurements = map[string]float64{"temperature_c": c.Temperature}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/catalogues/"+catalogue+"/diagnose", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result DiagnoseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	scored := m.TotalProcessed - m.TotalErrors

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Scored:           %d\n", scored)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	top1, top3 := 0.0, 0.0
	if scored > 0 {
		top1 = float64(m.Top1Hits) / float64(scored)
		top3 = float64(m.Top3Hits) / float64(scored)
	}

	fmt.Printf("\n🎯 ACCURACY\n")
	fmt.Printf("   Top-1:  %.4f  (label ranked first)\n", top1)
	fmt.Printf("   Top-3:  %.4f  (label within the first three)\n", top3)

	names := make([]string, 0, len(m.perCondition))
	for name := range m.perCondition {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n🔍 PER-CONDITION RECALL\n")
	for _, name := range names {
		s := m.perCondition[name]
		fmt.Printf("   %-20s %5d / %-5d (%.2f%%)\n", name, s.Hits, s.Cases, 100*float64(s.Hits)/float64(s.Cases))
	}

	fmt.Printf("\n🏷️  CLASSIFICATION\n")
	for _, class := range []string{"HIGH", "MEDIUM", "LOW"} {
		fmt.Printf("   %-7s %d\n", class, m.classification[class])
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f cases/sec\n", rps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if top1 >= 0.9 {
		fmt.Println("   ✅ Excellent - the labelled condition almost always ranks first")
	} else if top1 >= 0.7 {
		fmt.Println("   ⚠️  Good - some cases rank another condition first")
	} else if top1 >= 0.5 {
		fmt.Println("   ⚠️  Moderate - review the weights of frequently confused conditions")
	} else {
		fmt.Println("   ❌ Poor - the catalogue does not separate these cases")
	}

	fmt.Println()
}
