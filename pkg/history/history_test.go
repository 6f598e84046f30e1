package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/svxgo/svxreflector/pkg/config"
	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/reflector"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(config.HistoryConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	}, logger.New(logger.Config{Level: "error"}))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecordsCompletedTransmission(t *testing.T) {
	r := newTestRecorder(t)

	start := time.Now().Add(-10 * time.Second)
	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventTalkerStart, Callsign: "SM0AAA", TG: 42, Time: start,
	})
	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventTalkerStop, Callsign: "SM0AAA", TG: 42, Time: start.Add(7 * time.Second),
	})

	events, err := r.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.Callsign != "SM0AAA" || e.TG != 42 {
		t.Errorf("event = %+v", e)
	}
	if e.Duration < 6.9 || e.Duration > 7.1 {
		t.Errorf("duration = %f, want ~7", e.Duration)
	}
}

func TestStopWithoutStartIgnored(t *testing.T) {
	r := newTestRecorder(t)

	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventTalkerStop, Callsign: "SM0AAA", TG: 42, Time: time.Now(),
	})

	events, err := r.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestNodeLeftDropsOpenTransmission(t *testing.T) {
	r := newTestRecorder(t)

	now := time.Now()
	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventTalkerStart, Callsign: "SM0AAA", TG: 42, Time: now,
	})
	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventNodeLeft, Callsign: "SM0AAA", Time: now.Add(time.Second),
	})
	// A later stop for the departed node must not create a record
	r.ProcessEvent(reflector.Event{
		Kind: reflector.EventTalkerStop, Callsign: "SM0AAA", TG: 42, Time: now.Add(2 * time.Second),
	})

	events, err := r.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	r := newTestRecorder(t)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * 10 * time.Second)
		r.ProcessEvent(reflector.Event{
			Kind: reflector.EventTalkerStart, Callsign: "SM0AAA", TG: 42, Time: start,
		})
		r.ProcessEvent(reflector.Event{
			Kind: reflector.EventTalkerStop, Callsign: "SM0AAA", TG: 42, Time: start.Add(time.Second),
		})
	}

	events, err := r.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].StartTime.After(events[i-1].StartTime) {
			t.Errorf("events not in descending start order")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	r := newTestRecorder(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1024; i++ {
			r.Publish(reflector.Event{Kind: reflector.EventNodeJoined, Callsign: "SM0AAA"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
}
