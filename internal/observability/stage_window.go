package observability

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// pipelineStages lists turn stages in the order a turn runs through them.
// Snapshots report stages in this order, unknown stages last.
var pipelineStages = []string{
	"classify", "select", "extract", "normalize", "execute",
	"respond", "rewrite", "store_save", "turn_total",
}

// stageBudgetMS is the p95 latency budget per stage. LLM-backed
// collaborators dominate classify and respond, so those get the largest
// budgets. Zero means no budget.
var stageBudgetMS = map[string]float64{
	"classify":   800,
	"select":     150,
	"extract":    150,
	"normalize":  150,
	"respond":    1500,
	"rewrite":    1500,
	"execute":    2000,
	"store_save": 50,
	"turn_total": 3000,
}

type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget"`
}

// WithinBudget reports whether the stage p95 meets its budget. Stages
// without a budget always pass.
func (s StageStats) WithinBudget() bool {
	return s.BudgetMS == 0 || s.P95MS <= s.BudgetMS
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// stageWindow keeps the most recent samples per stage.
type stageWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, samples: make(map[string][]float64)}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	names := make([]string, 0, len(w.samples))
	recent := make(map[string][]float64, len(w.samples))
	for stage, s := range w.samples {
		names = append(names, stage)
		recent[stage] = slices.Clone(s)
	}
	w.mu.Unlock()

	sort.Slice(names, func(i, j int) bool {
		ri, rj := stageRank(names[i]), stageRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})

	stages := make([]StageStats, 0, len(names))
	for _, stage := range names {
		if s := recent[stage]; len(s) > 0 {
			stages = append(stages, summarize(stage, s))
		}
	}
	return StageSnapshot{GeneratedAt: time.Now().UTC(), WindowSize: w.size, Stages: stages}
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string][]float64)
}

func summarize(stage string, s []float64) StageStats {
	budget := stageBudgetMS[stage]
	st := StageStats{Stage: stage, Samples: len(s), LastMS: round2(s[len(s)-1]), BudgetMS: budget}

	sum := 0.0
	for _, v := range s {
		sum += v
		if budget > 0 && v > budget {
			st.OverBudget++
		}
	}
	slices.Sort(s)
	st.AvgMS = round2(sum / float64(len(s)))
	st.P50MS = round2(nearestRank(s, 50))
	st.P95MS = round2(nearestRank(s, 95))
	st.MaxMS = round2(s[len(s)-1])
	return st
}

// nearestRank is the nearest-rank percentile of sorted samples.
func nearestRank(sorted []float64, pct float64) float64 {
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	return sorted[max(rank, 1)-1]
}

func stageRank(stage string) int {
	if i := slices.Index(pipelineStages, stage); i >= 0 {
		return i
	}
	return len(pipelineStages)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
