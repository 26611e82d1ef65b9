// Package sse implements a Server-Sent Events broker for sync progress.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types published by the broker.
const (
	TypeRecordCreated  = "record.created"
	TypeRecordUpdated  = "record.updated"
	TypeRecordDeleted  = "record.deleted"
	TypeRecordErrored  = "record.errored"
	TypeContentChanged = "content.changed"
	TypeContentDrift   = "content.drift"
	TypeSyncStarted    = "sync.started"
	TypeSyncCompleted  = "sync.completed"
	TypeSyncFailed     = "sync.failed"
)

// RecordData is the payload of record.* events.
type RecordData struct {
	ItemID string `json:"itemId"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

var recordTypes = map[string]string{
	"created": TypeRecordCreated,
	"updated": TypeRecordUpdated,
	"deleted": TypeRecordDeleted,
	"errored": TypeRecordErrored,
}

const (
	clientBuffer     = 64
	historySize      = 64
	defaultHeartbeat = 15 * time.Second
)

// frame is one encoded event kept for replay.
type frame struct {
	id  uint64
	typ string
	raw []byte
}

// client is one subscriber. An empty filter receives every event; otherwise
// an event is delivered when its type starts with one of the prefixes.
type client struct {
	ch     chan []byte
	filter []string
}

func (c *client) wants(typ string) bool {
	if len(c.filter) == 0 {
		return true
	}
	for _, p := range c.filter {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type subscribeReq struct {
	c      *client
	lastID uint64
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the clients, the event sequence, the replay
// history and the content.changed throttle. Public methods talk to it over
// channels.
type Broker struct {
	changeMin time.Duration
	// Heartbeat is the interval of keep-alive comments on open streams.
	Heartbeat time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. content.changed is emitted at most
// once per changeThrottle.
func NewBroker(changeThrottle time.Duration) *Broker {
	if changeThrottle <= 0 {
		changeThrottle = 2 * time.Second
	}

	b := &Broker{
		changeMin:     changeThrottle,
		Heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*client)
	history := make([]frame, 0, historySize)
	var seq uint64
	var lastChange time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, typ: event.Type,
			raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))}
		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, f)

		for ch, c := range clients {
			if !c.wants(f.typ) {
				continue
			}
			select {
			case ch <- f.raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.c.ch] = req.c
			if req.lastID == 0 {
				continue
			}
			for _, f := range history {
				if f.id > req.lastID && req.c.wants(f.typ) {
					req.c.ch <- f.raw
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)
			if !strings.HasPrefix(event.Type, "record.") || event.Type == TypeRecordErrored {
				continue
			}
			if now := time.Now(); now.Sub(lastChange) >= b.changeMin {
				lastChange = now
				broadcast(Event{Type: TypeContentChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving events whose type starts with one of
// types, or every event when none are given.
func (b *Broker) Subscribe(types ...string) chan []byte {
	return b.SubscribeFrom(0, types...)
}

// SubscribeFrom is Subscribe preceded by a replay of the retained events
// with an id above lastID. Zero skips the replay.
func (b *Broker) SubscribeFrom(lastID uint64, types ...string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{c: &client{ch: ch, filter: types}, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all interested clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishRecordEvent publishes a record.<kind> event. Created, updated and
// deleted records also trigger a throttled content.changed event. Unknown
// kinds are ignored.
func (b *Broker) PublishRecordEvent(kind string, data RecordData) {
	typ, ok := recordTypes[kind]
	if !ok {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
//
// ?types=record,sync limits the stream to those type prefixes. A
// reconnecting client's Last-Event-ID header replays what it missed, as
// far as the broker still retains it.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeFrom(lastID, types...)
	defer b.Unsubscribe(ch)

	heartbeat := b.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
