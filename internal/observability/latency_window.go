package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OpLatency summarizes recent samples for one task operation.
type OpLatency struct {
	Op      string  `json:"op"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"lastMs"`
	AvgMS   float64 `json:"avgMs"`
	P50MS   float64 `json:"p50Ms"`
	P95MS   float64 `json:"p95Ms"`
	P99MS   float64 `json:"p99Ms"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	WindowSize  int            `json:"windowSize"`
	Ops         []OpLatency    `json:"ops"`
	Deliveries  map[string]int `json:"deliveries"`
}

// latencyWindow keeps the last maxSamples durations per operation in a ring,
// so /api/perf/latency can report percentiles without a Prometheus server.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*ring
	deliveries map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func (r *ring) add(v float64) {
	r.values[r.next] = v
	r.last = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (r *ring) sorted() []float64 {
	n := r.next
	if r.filled {
		n = len(r.values)
	}
	out := make([]float64, n)
	copy(out, r.values[:n])
	sort.Float64s(out)
	return out
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*ring),
		deliveries: make(map[string]int),
	}
}

func (w *latencyWindow) observe(op string, d time.Duration) {
	if op == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.ops[op]
	if !ok {
		r = &ring{values: make([]float64, w.maxSamples)}
		w.ops[op] = r
	}
	r.add(float64(d.Microseconds()) / 1000)
}

func (w *latencyWindow) countDelivery(result string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deliveries[result]++
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.ops))
	for op := range w.ops {
		names = append(names, op)
	}
	sort.Strings(names)

	ops := make([]OpLatency, 0, len(names))
	for _, op := range names {
		r := w.ops[op]
		samples := r.sorted()
		if len(samples) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		ops = append(ops, OpLatency{
			Op:      op,
			Samples: len(samples),
			LastMS:  round2(r.last),
			AvgMS:   round2(sum / float64(len(samples))),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
			P99MS:   round2(quantile(samples, 0.99)),
		})
	}

	deliveries := make(map[string]int, len(w.deliveries))
	for k, v := range w.deliveries {
		deliveries[k] = v
	}
	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Ops:         ops,
		Deliveries:  deliveries,
	}
}

// quantile interpolates linearly between closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
