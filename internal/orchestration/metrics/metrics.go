// Package metrics provides per-kind orchestration counters.
package metrics

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/processor"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// KindMetrics holds the counters of one command kind.
type KindMetrics struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	// Failed counts failures by error class (validation, precondition, submission, other).
	Failed map[types.Class]int `json:"failed,omitempty"`
	// RejectedBusy counts calls refused because the kind was in flight.
	RejectedBusy int `json:"rejected_busy"`

	LastDuration   time.Duration `json:"last_duration"`
	LastFinishedAt time.Time     `json:"last_finished_at"`
}

// FailedTotal sums failures of every class.
func (m KindMetrics) FailedTotal() int {
	n := 0
	for _, c := range m.Failed {
		n += c
	}
	return n
}

// SuccessRate returns the percentage of finished commands that succeeded (0-100).
func (m KindMetrics) SuccessRate() float64 {
	finished := m.Succeeded + m.FailedTotal()
	if finished == 0 {
		return 0
	}
	return float64(m.Succeeded) / float64(finished) * 100
}

// FormatDuration returns the last duration rounded for display (e.g., "1.25s").
func (m KindMetrics) FormatDuration() string {
	if m.LastFinishedAt.IsZero() {
		return "-"
	}
	return m.LastDuration.Round(10 * time.Millisecond).String()
}

// Summary returns a one-line description (e.g., "3 ok / 1 failed / 0 busy").
func (m KindMetrics) Summary() string {
	return fmt.Sprintf("%d ok / %d failed / %d busy", m.Succeeded, m.FailedTotal(), m.RejectedBusy)
}

// Collector aggregates KindMetrics per command type.
type Collector struct {
	mu    sync.Mutex
	kinds map[command.CommandType]*KindMetrics
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{kinds: make(map[command.CommandType]*KindMetrics)}
}

func (c *Collector) kind(t command.CommandType) *KindMetrics {
	m, ok := c.kinds[t]
	if !ok {
		m = &KindMetrics{Failed: make(map[types.Class]int)}
		c.kinds[t] = m
	}
	return m
}

// Observe records one finished command.
func (c *Collector) Observe(t command.CommandType, err error, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.kind(t)
	switch class := types.Classify(err); class {
	case types.ClassNone:
		m.Succeeded++
	case types.ClassBusy:
		m.RejectedBusy++
		return
	default:
		m.Failed[class]++
	}
	m.LastDuration = duration
	m.LastFinishedAt = time.Now()
}

func (c *Collector) start(t command.CommandType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kind(t).Started++
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() map[command.CommandType]KindMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[command.CommandType]KindMetrics, len(c.kinds))
	for t, m := range c.kinds {
		cp := *m
		cp.Failed = maps.Clone(m.Failed)
		out[t] = cp
	}
	return out
}

// Middleware counts every command passing through. Place it outside the
// in-flight guard so busy rejections are seen.
func (c *Collector) Middleware() processor.Middleware {
	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			c.start(cmd.Type())
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			failure := err
			if failure == nil && result != nil && !result.Success {
				failure = result.Error
				if failure == nil {
					failure = fmt.Errorf("command failed")
				}
			}
			c.Observe(cmd.Type(), failure, time.Since(start))
			return result, err
		})
	}
}
