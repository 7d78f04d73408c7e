package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/scriptvoice/internal/events"
)

// Stats is a snapshot of the day's dispatch activity.
type Stats struct {
	Day          string `json:"day"`
	Requests     int64  `json:"requests"`
	Failed       int64  `json:"failed_requests"`
	ToolRuns     int64  `json:"tool_runs"`
	ToolFailures int64  `json:"tool_failures"`
	ToolsSkipped int64  `json:"tools_skipped"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// DailyStats accumulates counters from bus events and resets them at
// local midnight. Safe for concurrent use.
type DailyStats struct {
	mu    sync.Mutex
	stats Stats
	loc   *time.Location
	now   func() time.Time
}

// NewDailyStats creates an accumulator. A nil loc means [time.Local].
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyStats{loc: loc, now: time.Now}
	d.stats.Day = d.today()
	return d
}

// Observe folds one event into the counters.
func (d *DailyStats) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()

	switch e.Kind {
	case events.KindLLMResponse:
		d.stats.InputTokens += toInt64(e.Data["tokens_in"])
		d.stats.OutputTokens += toInt64(e.Data["tokens_out"])
	case events.KindToolDone:
		switch e.Data["status"] {
		case "ok":
			d.stats.ToolRuns++
		case "skipped":
			d.stats.ToolsSkipped++
		default:
			d.stats.ToolRuns++
			d.stats.ToolFailures++
		}
	case events.KindRequestComplete:
		d.stats.Requests++
		if ok, _ := e.Data["ok"].(bool); !ok {
			d.stats.Failed++
		}
	}
}

// Snapshot returns the current counters.
func (d *DailyStats) Snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.stats
}

// maybeReset must be called with d.mu held.
func (d *DailyStats) maybeReset() {
	if today := d.today(); today != d.stats.Day {
		d.stats = Stats{Day: today}
	}
}

func (d *DailyStats) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
