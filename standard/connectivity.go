package standard

import (
	"sort"
	"sync"
	"time"
)

// Outcome classifies how a panel exchange ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeAuth    Outcome = "auth"
)

// ExchangeRecord represents a single finished exchange with the panel.
type ExchangeRecord struct {
	Timestamp time.Time
	Outcome   Outcome
	Latency   time.Duration
	Detail    string
}

// endpoint tracks exchanges to a single panel path.
type endpoint struct {
	path    string
	records []ExchangeRecord
}

// EndpointStats summarizes the last hour of exchanges to one path.
type EndpointStats struct {
	Path        string         `json:"path" yaml:"path"`
	Status      string         `json:"status" yaml:"status"`
	LastCall    time.Time      `json:"last_call" yaml:"last_call"`
	Total       int            `json:"total_calls_1h" yaml:"total_calls_1h"`
	SuccessRate float64        `json:"success_rate_1h" yaml:"success_rate_1h"`
	Timeouts    int            `json:"timeouts_1h" yaml:"timeouts_1h"`
	AuthErrors  int            `json:"auth_failures_1h" yaml:"auth_failures_1h"`
	LatencyMS   map[string]int `json:"latency_ms" yaml:"latency_ms"`
	Recent      []string       `json:"recent_errors" yaml:"recent_errors"`
}

// ConnectivityTracker records the outcome of every panel exchange the queue
// completes, keyed by request path.
type ConnectivityTracker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	now       func() time.Time
}

// NewConnectivityTracker creates a new connectivity tracker.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		endpoints: make(map[string]*endpoint),
		now:       time.Now,
	}
}

// Track records one finished exchange.
func (t *ConnectivityTracker) Track(path string, outcome Outcome, latency time.Duration, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, ok := t.endpoints[path]
	if !ok {
		ep = &endpoint{path: path}
		t.endpoints[path] = ep
	}
	ep.records = append(ep.records, ExchangeRecord{
		Timestamp: t.now().UTC(),
		Outcome:   outcome,
		Latency:   latency,
		Detail:    detail,
	})

	// Keep only last hour
	t.prune(ep)
}

// prune removes records older than 1 hour.
func (t *ConnectivityTracker) prune(ep *endpoint) {
	oneHourAgo := t.now().Add(-1 * time.Hour)
	for i, rec := range ep.records {
		if rec.Timestamp.After(oneHourAgo) {
			ep.records = ep.records[i:]
			return
		}
	}
	ep.records = nil
}

// Stats returns per-path statistics sorted by path.
func (t *ConnectivityTracker) Stats() []EndpointStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]EndpointStats, 0, len(t.endpoints))
	for _, ep := range t.endpoints {
		if len(ep.records) == 0 {
			continue
		}

		st := EndpointStats{Path: ep.path, Recent: []string{}}
		var successCount int
		latencies := make([]float64, 0, len(ep.records))

		for _, rec := range ep.records {
			st.Total++
			switch rec.Outcome {
			case OutcomeSuccess:
				successCount++
				latencies = append(latencies, float64(rec.Latency.Milliseconds()))
			case OutcomeTimeout:
				st.Timeouts++
			case OutcomeAuth:
				st.AuthErrors++
			}
			if rec.Outcome != OutcomeSuccess && len(st.Recent) < 5 && rec.Detail != "" {
				st.Recent = append(st.Recent, rec.Detail)
			}
			if rec.Timestamp.After(st.LastCall) {
				st.LastCall = rec.Timestamp
			}
		}

		st.SuccessRate = float64(successCount) / float64(st.Total)

		sort.Float64s(latencies)
		st.LatencyMS = map[string]int{
			"p50": int(percentile(latencies, 0.50)),
			"p95": int(percentile(latencies, 0.95)),
			"p99": int(percentile(latencies, 0.99)),
		}

		st.Status = "healthy"
		if st.SuccessRate < 0.9 {
			st.Status = "unhealthy"
		} else if st.SuccessRate < 0.95 {
			st.Status = "degraded"
		}

		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
