package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/events"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Topic
	}
	return out
}

func TestTopics(t *testing.T) {
	if got := AvailabilityTopic("sv"); got != "sv/availability" {
		t.Errorf("AvailabilityTopic = %q", got)
	}
	if got := StatsTopic("sv"); got != "sv/stats" {
		t.Errorf("StatsTopic = %q", got)
	}

	tests := []struct {
		e    events.Event
		want string
	}{
		{events.Event{Source: events.SourceDispatch, Kind: events.KindToolDone}, "sv/events/dispatch/tool_done"},
		{events.Event{Source: "a/b", Kind: "c+#"}, "sv/events/a_b/c__"},
		{events.Event{}, "sv/events/unknown/unknown"},
	}
	for _, tt := range tests {
		if got := EventTopic("sv", tt.e); got != tt.want {
			t.Errorf("EventTopic(%+v) = %q, want %q", tt.e, got, tt.want)
		}
	}
}

func TestForward(t *testing.T) {
	x := New(config.MQTTConfig{TopicPrefix: "sv"}, "client", events.New(), nil)
	pub := &fakePublisher{}
	ch := make(chan events.Event, 4)
	ch <- events.Event{Source: events.SourceDispatch, Kind: events.KindRequestStart, Data: map[string]any{"request_id": "r1"}}
	ch <- events.Event{Source: events.SourceDispatch, Kind: events.KindToolDone, Data: map[string]any{"status": "failed"}}
	ch <- events.Event{Source: events.SourceDispatch, Kind: events.KindRequestComplete, Data: map[string]any{"ok": true}}
	close(ch)

	x.forward(context.Background(), pub, ch)

	want := []string{
		"sv/events/dispatch/request_start",
		"sv/events/dispatch/tool_done",
		"sv/events/dispatch/request_complete",
		"sv/stats",
	}
	if got := pub.topics(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	var e events.Event
	if err := json.Unmarshal(pub.msgs[0].Payload, &e); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if e.Kind != events.KindRequestStart || e.Data["request_id"] != "r1" {
		t.Errorf("event = %+v", e)
	}
	if pub.msgs[0].Retain {
		t.Error("events should not be retained")
	}

	stats := pub.msgs[3]
	if !stats.Retain {
		t.Error("stats should be retained")
	}
	var s Stats
	if err := json.Unmarshal(stats.Payload, &s); err != nil {
		t.Fatal(err)
	}
	if s.Requests != 1 || s.ToolRuns != 1 || s.ToolFailures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestForward_StopsOnCancel(t *testing.T) {
	x := New(config.MQTTConfig{TopicPrefix: "sv"}, "client", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		x.forward(ctx, &fakePublisher{}, make(chan events.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not return after cancel")
	}
}

func TestPublishAvailability(t *testing.T) {
	x := New(config.MQTTConfig{TopicPrefix: "sv"}, "client", nil, nil)
	pub := &fakePublisher{}
	x.publishAvailability(context.Background(), pub, Online)

	m := pub.msgs[0]
	if m.Topic != "sv/availability" || string(m.Payload) != Online || !m.Retain || m.QoS != 1 {
		t.Errorf("availability = %+v", m)
	}
}

func TestStop_NotStarted(t *testing.T) {
	x := New(config.MQTTConfig{}, "client", nil, nil)
	if err := x.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestDailyStats(t *testing.T) {
	d := NewDailyStats(time.UTC)
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return day }
	d.stats.Day = d.today()

	d.Observe(events.Event{Kind: events.KindLLMResponse, Data: map[string]any{"tokens_in": 100, "tokens_out": float64(20)}})
	d.Observe(events.Event{Kind: events.KindToolDone, Data: map[string]any{"status": "ok"}})
	d.Observe(events.Event{Kind: events.KindToolDone, Data: map[string]any{"status": "skipped"}})
	d.Observe(events.Event{Kind: events.KindRequestComplete, Data: map[string]any{"ok": false}})

	s := d.Snapshot()
	want := Stats{Day: "2026-03-01", Requests: 1, Failed: 1, ToolRuns: 1, ToolsSkipped: 1, InputTokens: 100, OutputTokens: 20}
	if s != want {
		t.Errorf("Snapshot = %+v, want %+v", s, want)
	}

	day = day.Add(2 * time.Minute)
	if s := d.Snapshot(); s != (Stats{Day: "2026-03-02"}) {
		t.Errorf("after midnight = %+v", s)
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, instanceFile))
	if err != nil || strings.TrimSpace(string(data)) != first {
		t.Errorf("persisted = %q, %v", data, err)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil || second != first {
		t.Errorf("second = %q, %v; want %q", second, err, first)
	}
}

func TestClientID(t *testing.T) {
	dir := t.TempDir()

	got, err := ClientID(config.MQTTConfig{ClientID: "fixed"}, dir)
	if err != nil || got != "fixed" {
		t.Errorf("ClientID = %q, %v", got, err)
	}

	got, err = ClientID(config.MQTTConfig{TopicPrefix: "scriptvoice"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "scriptvoice-") || len(got) != len("scriptvoice-")+12 {
		t.Errorf("derived ClientID = %q", got)
	}
	again, _ := ClientID(config.MQTTConfig{TopicPrefix: "scriptvoice"}, dir)
	if again != got {
		t.Errorf("ClientID not stable: %q vs %q", again, got)
	}
}
