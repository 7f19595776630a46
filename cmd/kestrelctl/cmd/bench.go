package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/quote"
)

var (
	benchURL      string
	benchCSV      string
	benchTenant   string
	benchCategory string
	benchLimit    int
	benchWorkers  int
	benchVerbose  bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load-test a running kestrel server with quote requests",
	Long: `Send quote requests to a running server and report latency and the
review status mix.

Requests come from a CSV file with the columns category, volume and,
optionally, offer_type, or are generated with volumes stepping from
R$ 1.000.000 to R$ 500.000.000.`,
	Example: `  kestrelctl bench --url http://localhost:8080 --limit 5000 --workers 20
  kestrelctl bench --csv issuances.csv --tenant acme`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchURL, "url", "http://localhost:8080", "kestrel base URL")
	benchCmd.Flags().StringVar(&benchCSV, "csv", "", "CSV file of issuances")
	benchCmd.Flags().StringVar(&benchTenant, "tenant", "benchmark-test", "tenant ID for requests")
	benchCmd.Flags().StringVar(&benchCategory, "category", "DEB", "category for generated requests")
	benchCmd.Flags().IntVar(&benchLimit, "limit", 1000, "maximum requests to send (0 = all CSV rows)")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 10, "number of concurrent workers")
	benchCmd.Flags().BoolVar(&benchVerbose, "verbose-requests", false, "print each request result")
}

// benchStats tracks benchmark results.
type benchStats struct {
	Processed int64
	Errors    int64
	Clear     int64
	Review    int64
	Blocked   int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *benchStats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// percentile returns the p-th latency, p in [0, 1].
func (s *benchStats) percentile(p float64) time.Duration {
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func runBench(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if err := checkHealth(benchURL); err != nil {
		return fmt.Errorf("kestrel not reachable at %s: %w", benchURL, err)
	}
	fmt.Fprintf(out, "kestrel is healthy at %s\n", benchURL)

	var (
		requests []quote.Request
		err      error
	)
	if benchCSV != "" {
		requests, err = readBenchCSV(benchCSV, benchLimit)
		if err != nil {
			return err
		}
	} else {
		requests = generateRequests(domain.Category(benchCategory), benchLimit)
	}
	if len(requests) == 0 {
		return fmt.Errorf("no requests to send")
	}
	fmt.Fprintf(out, "sending %d requests with %d workers\n", len(requests), benchWorkers)

	start := time.Now()
	stats := sendRequests(out, requests)
	printBenchResults(out, stats, time.Since(start))
	return nil
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

// readBenchCSV loads requests from a CSV with category and volume columns.
func readBenchCSV(path string, limit int) ([]quote.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	df := dataframe.ReadCSV(file, dataframe.WithDelimiter(','))
	if df.Err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", df.Err)
	}
	names := df.Names()
	if !slices.Contains(names, "category") || !slices.Contains(names, "volume") {
		return nil, fmt.Errorf("CSV must have category and volume columns, got %v", names)
	}

	categories := df.Col("category").Records()
	volumes := df.Col("volume").Float()
	var offerTypes []string
	if slices.Contains(names, "offer_type") {
		offerTypes = df.Col("offer_type").Records()
	}

	requests := make([]quote.Request, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		req := quote.Request{
			Combination: domain.Combination{Category: domain.Category(categories[i])},
			Volume:      volumes[i],
		}
		if offerTypes != nil && offerTypes[i] != "NaN" {
			req.Combination.OfferType = offerTypes[i]
		}
		requests = append(requests, req)

		if limit > 0 && len(requests) >= limit {
			break
		}
	}
	return requests, nil
}

func generateRequests(cat domain.Category, n int) []quote.Request {
	if n <= 0 {
		n = 1000
	}
	requests := make([]quote.Request, n)
	for i := range requests {
		volume := 1_000_000 + float64(i%500)*1_000_000
		requests[i] = quote.Request{
			Combination: domain.Combination{Category: cat},
			Volume:      volume,
			Series:      []domain.SeriesNotional{{Number: 1, NotionalValue: volume}},
		}
	}
	return requests
}

func sendRequests(out io.Writer, requests []quote.Request) *benchStats {
	stats := &benchStats{latencies: make([]time.Duration, 0, len(requests))}

	work := make(chan quote.Request, 100)
	var wg sync.WaitGroup

	for i := 0; i < benchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				q, err := postQuote(client, benchURL, benchTenant, req)
				elapsed := time.Since(start)

				atomic.AddInt64(&stats.Processed, 1)
				stats.observe(elapsed)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					if benchVerbose {
						fmt.Fprintf(out, "ERROR: %s %.2f -> %v\n", req.Combination.Category, req.Volume, err)
					}
					continue
				}

				switch q.Status {
				case domain.QuoteBlocked:
					atomic.AddInt64(&stats.Blocked, 1)
				case domain.QuoteNeedsReview:
					atomic.AddInt64(&stats.Review, 1)
				default:
					atomic.AddInt64(&stats.Clear, 1)
				}

				if benchVerbose {
					fmt.Fprintf(out, "%-4s | Volume: %16.2f | Status: %-7s | Total: %14.2f | %v\n",
						req.Combination.Category, req.Volume, q.Status, q.Totals.TotalFirstYear, elapsed.Round(time.Microsecond))
				}
			}
		}()
	}

	for _, req := range requests {
		work <- req
	}
	close(work)

	wg.Wait()
	return stats
}

func postQuote(client *http.Client, baseURL, tenantID string, req quote.Request) (*domain.Quote, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/quotes", bytes.NewReader(body))
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

	var q domain.Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

func printBenchResults(out io.Writer, s *benchStats, duration time.Duration) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "RESULTS")
	fmt.Fprintf(out, "   Processed:   %d\n", s.Processed)
	fmt.Fprintf(out, "   Errors:      %d\n", s.Errors)
	fmt.Fprintf(out, "   Clear:       %d\n", s.Clear)
	fmt.Fprintf(out, "   Review:      %d\n", s.Review)
	fmt.Fprintf(out, "   Blocked:     %d\n", s.Blocked)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "PERFORMANCE")
	fmt.Fprintf(out, "   Duration:    %v\n", duration.Round(time.Millisecond))
	if s.Processed > 0 {
		fmt.Fprintf(out, "   p50:         %v\n", s.percentile(0.50).Round(time.Microsecond))
		fmt.Fprintf(out, "   p95:         %v\n", s.percentile(0.95).Round(time.Microsecond))
		fmt.Fprintf(out, "   p99:         %v\n", s.percentile(0.99).Round(time.Microsecond))
		fmt.Fprintf(out, "   Throughput:  %.2f quotes/sec\n", float64(s.Processed)/duration.Seconds())
	}
	fmt.Fprintln(out)
}
