package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/labiium/routiium/internal/analytics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvent(id string, ts int64) *analytics.Event {
	return &analytics.Event{
		ID:        id,
		Timestamp: ts,
		Request:   analytics.RequestInfo{Endpoint: "/v1/chat/completions", Method: "POST", Model: "alias-A"},
		Response:  analytics.ResponseInfo{StatusCode: 200, Success: true},
		Perf:      analytics.PerfInfo{DurationMs: 10},
	}
}

func TestAppendAndRangeQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 200, 300} {
		if err := store.Append(ctx, sampleEvent(analytics.NewEventID(), ts)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := store.Query(ctx, 150, 300, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Timestamp != 200 || events[1].Timestamp != 300 {
		t.Fatalf("order: %d, %d", events[0].Timestamp, events[1].Timestamp)
	}
	if events[0].Request.Model != "alias-A" {
		t.Fatalf("payload: %+v", events[0].Request)
	}

	limited, err := store.Query(ctx, 0, 400, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %d err=%v", len(limited), err)
	}
}

func TestExpireAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, sampleEvent(analytics.NewEventID(), 100))
	_ = store.Append(ctx, sampleEvent(analytics.NewEventID(), 200))

	removed, err := store.Expire(ctx, 150)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed: %d", removed)
	}
	stats, err := store.Stats(ctx)
	if err != nil || stats.TotalEvents != 1 {
		t.Fatalf("stats: %+v err=%v", stats, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, _ = store.Stats(ctx)
	if stats.TotalEvents != 0 {
		t.Fatalf("clear left %d events", stats.TotalEvents)
	}
}
