package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeSyncCompleted, Data: map[string]string{"runId": "r1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: sync.completed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"runId":"r1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishRecordEvent_ChangeThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger content.changed.
	b.PublishRecordEvent("created", RecordData{ItemID: "p1", Path: "posts/a.md"})
	// Second event immediately should NOT trigger another content.changed.
	b.PublishRecordEvent("updated", RecordData{ItemID: "p2", Path: "posts/b.md"})
	// Errors never count as content changes.
	b.PublishRecordEvent("errored", RecordData{ItemID: "p3", Error: "boom"})

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	changeCount := 0
	recordCount := 0
	errorCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, TypeContentChanged):
				changeCount++
			case strings.Contains(s, TypeRecordErrored):
				errorCount++
			default:
				recordCount++
			}
		default:
			break loop
		}
	}

	if recordCount != 2 {
		t.Errorf("record events = %d, want 2", recordCount)
	}
	if errorCount != 1 {
		t.Errorf("error events = %d, want 1", errorCount)
	}
	if changeCount != 1 {
		t.Errorf("content.changed events = %d, want 1 (throttled)", changeCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishRecordEvent("updated", RecordData{ItemID: "p1", Path: "posts/x.md"})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: record.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeSyncCompleted, Data: map[string]string{}})
	b.PublishRecordEvent("updated", RecordData{ItemID: "p1"})
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestSubscribe_TypeFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe("sync.")
	defer b.Unsubscribe(ch)

	b.PublishRecordEvent("created", RecordData{ItemID: "p1"})
	b.Publish(Event{Type: TypeSyncCompleted, Data: map[string]int{"created": 1}})

	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "event: sync.completed") {
		t.Errorf("unexpected message %q", msgs[0])
	}
}

func TestSubscribeFrom_ReplaysMissedEvents(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	first := b.Subscribe()
	b.Publish(Event{Type: TypeSyncStarted, Data: map[string]string{}})
	b.Publish(Event{Type: TypeSyncCompleted, Data: map[string]string{}})
	msgs := drain(first)
	b.Unsubscribe(first)
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "id: 1\n") {
		t.Fatalf("first subscriber got %q", msgs)
	}

	again := b.SubscribeFrom(1)
	defer b.Unsubscribe(again)
	replayed := drain(again)
	if len(replayed) != 1 || !strings.Contains(replayed[0], "id: 2\nevent: sync.completed") {
		t.Errorf("replay = %q", replayed)
	}
}

func TestPublishRecordEvent_UnknownKindIgnored(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRecordEvent("renamed", RecordData{ItemID: "p1"})
	if msgs := drain(ch); len(msgs) != 0 {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestSSEHandler_FilterAndHeartbeat(t *testing.T) {
	b := NewBroker(time.Hour)
	b.Heartbeat = 20 * time.Millisecond
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events?types=record.errored", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	b.PublishRecordEvent("updated", RecordData{ItemID: "p1"})
	b.PublishRecordEvent("errored", RecordData{ItemID: "p2", Error: "boom"})
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: record.errored") {
		t.Errorf("missing errored event: %q", body)
	}
	if strings.Contains(body, "record.updated") || strings.Contains(body, TypeContentChanged) {
		t.Errorf("filter leaked events: %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Errorf("missing heartbeat: %q", body)
	}
}
