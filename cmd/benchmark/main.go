package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	amount      string
	approvers   int
)

// Counters
var (
	created       uint64
	completed     uint64
	failed        uint64 // settled as failed (funds gone by approval time)
	replayed      uint64 // approval found the transfer already settled
	rejected      uint64 // 4xx on create, e.g. insufficient funds
	busy          uint64 // 503 after the ledger ran out of retries
	transportErrs uint64
	otherErrs     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts")
	flag.StringVar(&amount, "amount", "1.00", "Amount per transfer")
	flag.IntVar(&approvers, "approvers", 2, "Concurrent approvals fired per transfer")
}

// accountEmail matches the seeder's naming.
func accountEmail(i int) string {
	return fmt.Sprintf("user%04d@example.com", i)
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickAccounts()

		id, ok := createTransfer(client, from, to)
		if !ok {
			continue
		}

		// Race several approvals for the same transfer; exactly one should settle it.
		var inner sync.WaitGroup
		inner.Add(approvers)
		for i := 0; i < approvers; i++ {
			go func() {
				defer inner.Done()
				approve(client, id, to)
			}()
		}
		inner.Wait()
	}
}

func createTransfer(client *http.Client, from, to string) (string, bool) {
	body, _ := json.Marshal(map[string]string{
		"from_email": from,
		"to_email":   to,
		"amount":     amount,
	})
	req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("bench-%s-%s-%d", from, to, time.Now().UnixNano()))

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&transportErrs, 1)
		return "", false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var out struct {
			TransferID string `json:"transfer_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			atomic.AddUint64(&otherErrs, 1)
			return "", false
		}
		atomic.AddUint64(&created, 1)
		return out.TransferID, true
	case resp.StatusCode == http.StatusServiceUnavailable:
		atomic.AddUint64(&busy, 1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		atomic.AddUint64(&rejected, 1)
	default:
		atomic.AddUint64(&otherErrs, 1)
	}
	return "", false
}

func approve(client *http.Client, id, to string) {
	body, _ := json.Marshal(map[string]string{"to_email": to})
	req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers/"+id+"/approve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&transportErrs, 1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out struct {
			Status         string `json:"status"`
			AlreadySettled bool   `json:"already_settled"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			atomic.AddUint64(&otherErrs, 1)
			return
		}
		switch {
		case out.AlreadySettled:
			atomic.AddUint64(&replayed, 1)
		case out.Status == "completed":
			atomic.AddUint64(&completed, 1)
		default:
			atomic.AddUint64(&failed, 1)
		}
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&busy, 1)
	default:
		atomic.AddUint64(&otherErrs, 1)
	}
}

func pickAccounts() (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic moves between the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return accountEmail(1), accountEmail(2)
			}
			return accountEmail(2), accountEmail(1)
		}
	}

	a := rand.Intn(accounts) + 1
	b := rand.Intn(accounts) + 1
	for a == b {
		b = rand.Intn(accounts) + 1
	}
	return accountEmail(a), accountEmail(b)
}

func printResults(d time.Duration) {
	settled := atomic.LoadUint64(&completed) + atomic.LoadUint64(&failed)
	c := atomic.LoadUint64(&created)

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"transfers_created":  c,
		"settled_completed":  atomic.LoadUint64(&completed),
		"settled_failed":     atomic.LoadUint64(&failed),
		"already_settled":    atomic.LoadUint64(&replayed),
		"create_rejected":    atomic.LoadUint64(&rejected),
		"busy_503":           atomic.LoadUint64(&busy),
		"transport_errors":   atomic.LoadUint64(&transportErrs),
		"other_errors":       atomic.LoadUint64(&otherErrs),
		"settlements_per_s":  float64(settled) / d.Seconds(),
		"double_settlements": int64(settled) - int64(c),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
