package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config holds the load generator settings.
type Config struct {
	BaseURL         string
	Symbols         string
	ConcurrentUsers int
	RequestsPerUser int
	Timeout         time.Duration
	TestDuration    time.Duration
	RampUpDuration  time.Duration
	ThinkTime       time.Duration
}

// Result holds the outcome of a single request.
type Result struct {
	StatusCode int
	Duration   time.Duration
	Success    bool
	Throttled  bool
}

// Summary aggregates all results.
type Summary struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	ThrottledRequests  int
	TotalDuration      time.Duration
	AverageResponse    time.Duration
	MinResponse        time.Duration
	MaxResponse        time.Duration
	RequestsPerSecond  float64
	Response95th       time.Duration
	Response99th       time.Duration
}

func main() {
	var config Config

	flag.StringVar(&config.BaseURL, "base", "http://localhost:8081", "Service base URL")
	flag.StringVar(&config.Symbols, "symbols", "AAPL,MSFT,005930.KRX", "Comma-separated stock symbols to rotate through")
	flag.IntVar(&config.ConcurrentUsers, "users", 10, "Number of concurrent users")
	flag.IntVar(&config.RequestsPerUser, "requests", 100, "Number of requests per user")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "Request timeout")
	flag.DurationVar(&config.TestDuration, "duration", 0, "Test duration (0 = run until all requests complete)")
	flag.DurationVar(&config.RampUpDuration, "rampup", 5*time.Second, "Ramp-up duration")
	flag.DurationVar(&config.ThinkTime, "think", 100*time.Millisecond, "Think time between requests")
	flag.Parse()

	targets := buildTargets(config)

	fmt.Printf("Starting load test against %s\n", config.BaseURL)
	fmt.Printf("Targets: %d endpoints, %d users x %d requests\n\n",
		len(targets), config.ConcurrentUsers, config.RequestsPerUser)

	summary := run(config, targets)
	printSummary(summary)
}

// buildTargets covers the quote endpoints: single stocks, a batch call,
// forex and an index.
func buildTargets(config Config) []string {
	symbols := strings.Split(config.Symbols, ",")
	targets := make([]string, 0, len(symbols)+3)
	for _, symbol := range symbols {
		targets = append(targets, config.BaseURL+"/api/v1/stocks/"+strings.TrimSpace(symbol))
	}
	targets = append(targets,
		config.BaseURL+"/api/v1/stocks?symbols="+config.Symbols,
		config.BaseURL+"/api/v1/forex/USD-KRW",
		config.BaseURL+"/api/v1/indices/KOSPI",
	)
	return targets
}

func run(config Config, targets []string) Summary {
	results := make(chan Result, config.ConcurrentUsers*config.RequestsPerUser)
	client := &http.Client{Timeout: config.Timeout}

	ctx := context.Background()
	if config.TestDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.TestDuration)
		defer cancel()
	}

	startTime := time.Now()
	var wg sync.WaitGroup
	rampUpDelay := config.RampUpDuration / time.Duration(config.ConcurrentUsers)

	for userID := 0; userID < config.ConcurrentUsers; userID++ {
		wg.Add(1)
		go func(uid int) {
			defer wg.Done()
			time.Sleep(time.Duration(uid) * rampUpDelay)

			for reqID := 0; reqID < config.RequestsPerUser; reqID++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				results <- makeRequest(client, targets[(uid+reqID)%len(targets)])

				if config.ThinkTime > 0 {
					time.Sleep(config.ThinkTime)
				}
			}
		}(userID)
	}

	wg.Wait()
	close(results)

	return summarize(results, time.Since(startTime))
}

func makeRequest(client *http.Client, url string) Result {
	start := time.Now()
	resp, err := client.Get(url)
	result := Result{Duration: time.Since(start)}

	if err != nil {
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.Throttled = resp.StatusCode == http.StatusTooManyRequests
	return result
}

func summarize(results <-chan Result, totalDuration time.Duration) Summary {
	summary := Summary{TotalDuration: totalDuration}
	var times []time.Duration

	for result := range results {
		summary.TotalRequests++
		times = append(times, result.Duration)
		switch {
		case result.Success:
			summary.SuccessfulRequests++
		case result.Throttled:
			summary.ThrottledRequests++
		default:
			summary.FailedRequests++
		}
	}
	if summary.TotalRequests == 0 {
		return summary
	}

	summary.RequestsPerSecond = float64(summary.TotalRequests) / totalDuration.Seconds()

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	summary.MinResponse = times[0]
	summary.MaxResponse = times[len(times)-1]

	var total time.Duration
	for _, t := range times {
		total += t
	}
	summary.AverageResponse = total / time.Duration(len(times))
	summary.Response95th = percentile(times, 95)
	summary.Response99th = percentile(times, 99)
	return summary
}

func percentile(sorted []time.Duration, p int) time.Duration {
	index := len(sorted) * p / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func printSummary(summary Summary) {
	fmt.Println("=== Load Test Results ===")
	fmt.Printf("Total Requests: %d\n", summary.TotalRequests)
	fmt.Printf("Successful: %d  Failed: %d  Throttled (429): %d\n",
		summary.SuccessfulRequests, summary.FailedRequests, summary.ThrottledRequests)
	fmt.Printf("Total Duration: %v\n", summary.TotalDuration)
	fmt.Printf("Requests per Second: %.2f\n", summary.RequestsPerSecond)
	fmt.Printf("Average Response Time: %v\n", summary.AverageResponse)
	fmt.Printf("Min/Max Response Time: %v / %v\n", summary.MinResponse, summary.MaxResponse)
	fmt.Printf("95th/99th Percentile: %v / %v\n", summary.Response95th, summary.Response99th)
}
