// Stage latency window: the last N samples per pipeline stage (frame decode,
// frame diff, gateway calls, record saves) with percentiles compared against
// operator-configured p95 targets, plus simple event counters.

package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

type stageWindow struct {
	mu       sync.RWMutex
	capacity int
	samples  map[string]*sampleRing
	counters map[string]int
	targets  map[string]float64
}

// sampleRing overwrites its oldest sample once full.
type sampleRing struct {
	buf  []float64
	n    int
	head int
	last float64
}

func (r *sampleRing) add(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.last = v
}

func (r *sampleRing) sorted() []float64 {
	out := append([]float64(nil), r.buf[:r.n]...)
	sort.Float64s(out)
	return out
}

func newStageWindow(capacity int) *stageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &stageWindow{
		capacity: capacity,
		samples:  make(map[string]*sampleRing),
		counters: make(map[string]int),
		targets:  make(map[string]float64),
	}
}

// SetTargets replaces the p95 targets, in milliseconds, keyed by stage.
func (w *stageWindow) SetTargets(targets map[string]float64) {
	next := make(map[string]float64, len(targets))
	for stage, ms := range targets {
		if ms > 0 {
			next[stage] = ms
		}
	}
	w.mu.Lock()
	w.targets = next
	w.mu.Unlock()
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.samples[stage]
	if !ok {
		r = &sampleRing{buf: make([]float64, w.capacity)}
		w.samples[stage] = r
	}
	r.add(ms)
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

// Reset drops samples and counters; targets are kept.
func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string]*sampleRing)
	w.counters = make(map[string]int)
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}
	for stage, r := range w.samples {
		if r.n == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarize(stage, r, w.targets[stage]))
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for name, count := range w.counters {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
	}
	sort.Slice(snap.Indicators, func(i, j int) bool { return snap.Indicators[i].Name < snap.Indicators[j].Name })
	return snap
}

func summarize(stage string, r *sampleRing, target float64) StageStats {
	values := r.sorted()
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	st := StageStats{
		Stage:       stage,
		Samples:     len(values),
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(len(values))),
		P50MS:       round2(percentileOf(values, 0.50)),
		P95MS:       round2(percentileOf(values, 0.95)),
		P99MS:       round2(percentileOf(values, 0.99)),
		TargetP95MS: target,
	}
	st.OverTarget = target > 0 && st.P95MS > target
	return st
}

// percentileOf interpolates linearly between the closest ranks of sorted.
func percentileOf(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
