package loadtest

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"time"
)

// Collector aggregates results from many clients. It is goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	start            time.Time
	connections      int
	errors           int
	rateLimited      int
	connectLatencies []time.Duration
	deliverLatencies []time.Duration
}

// NewCollector starts the clock for a run.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// AddConnect records a successful connection.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connections++
	c.connectLatencies = append(c.connectLatencies, d)
	c.mu.Unlock()
}

// AddDelivery records a send_message to message_delivered round trip.
func (c *Collector) AddDelivery(d time.Duration) {
	c.mu.Lock()
	c.deliverLatencies = append(c.deliverLatencies, d)
	c.mu.Unlock()
}

// AddError counts a failed connection or protocol error.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddClient folds a finished client's counters into the totals.
func (c *Collector) AddClient(m Metrics) {
	c.mu.Lock()
	c.errors += int(m.Errors)
	c.rateLimited += int(m.RateLimited)
	c.mu.Unlock()
}

// Connections returns the number of successful connections so far.
func (c *Collector) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// Errors returns the number of errors so far.
func (c *Collector) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Summary holds latency percentiles for one measurement.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize computes percentiles over ds. It sorts ds in place.
func Summarize(ds []time.Duration) Summary {
	n := len(ds)
	if n == 0 {
		return Summary{}
	}
	slices.Sort(ds)

	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	rank := func(p float64) time.Duration {
		return ds[int(math.Ceil(float64(n)*p))-1]
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: ds[n/2],
		P95: rank(0.95),
		P99: rank(0.99),
		Max: ds[n-1],
	}
}

func (s Summary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(s.Avg), r(s.P50), r(s.P95), r(s.P99), r(s.Max), s.N)
}

// Report writes a summary of the run to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:      %s\n", time.Since(c.start).Round(time.Second))
	fmt.Fprintf(w, "Connections:   %d\n", c.connections)
	fmt.Fprintf(w, "Errors:        %d\n", c.errors)
	fmt.Fprintf(w, "Rate limited:  %d\n", c.rateLimited)

	if len(c.connectLatencies) > 0 {
		fmt.Fprintf(w, "\n--- Connect Latency ---\n  %s\n", Summarize(c.connectLatencies))
	}
	if len(c.deliverLatencies) > 0 {
		fmt.Fprintf(w, "\n--- Delivery Latency ---\n  %s\n", Summarize(c.deliverLatencies))
	}
	fmt.Fprintln(w)
}
