package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/kconsole/internal/logx"
	"pkt.systems/kconsole/schema"
)

// Event types carried on the stream.
const (
	EventSnapshot = "snapshot"
	EventGroups   = "groups"
	EventTerminal = "terminal"
	EventStatus   = "status"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64                   `json:"seq"`
	Type      string                   `json:"type"`
	Groups    []schema.DisplayGroup    `json:"groups,omitempty"`
	Session   *schema.TerminalSnapshot `json:"session,omitempty"`
	Status    *schema.ConsoleStatus    `json:"status,omitempty"`
	Snapshot  *SnapshotPayload         `json:"snapshot,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Groups    []schema.DisplayGroup     `json:"groups"`
	Terminals []schema.TerminalSnapshot `json:"terminals"`
	Status    schema.ConsoleStatus      `json:"status"`
	Prefs     schema.Preferences        `json:"prefs"`
}

// Hub broadcasts console events to stream subscribers and keeps the latest
// event per state slice for Last-Event-ID replay.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	now         func() time.Time
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 256
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		now:         time.Now,
	}
}

// OnGroups implements core.EventSink.
func (h *Hub) OnGroups(event schema.GroupsEvent) {
	logx.Ctx(context.Background()).Trace("hub groups event", "groups", len(event.Groups))
	h.publish(StreamEvent{Type: EventGroups, Groups: event.Groups})
}

// OnTerminal implements core.EventSink.
func (h *Hub) OnTerminal(event schema.TerminalEvent) {
	session := event.Session
	logx.WithChannel(nil, session.Channel).Trace("hub terminal event", "state", session.State)
	h.publish(StreamEvent{Type: EventTerminal, Session: &session})
}

// OnStatus implements core.EventSink.
func (h *Hub) OnStatus(event schema.StatusEvent) {
	status := event.Status
	logx.Ctx(context.Background()).Trace("hub status event", "push", status.Push)
	h.publish(StreamEvent{Type: EventStatus, Status: &status})
}

// Subscribe registers a subscriber. It returns the event channel, an
// unsubscribe func, the current sequence number and the retained history.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), h.history...)
	seq := h.seq
	log := logx.Ctx(context.Background())
	log.Info("hub subscribe", "subs", len(h.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns retained events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.Ctx(context.Background()).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Seq returns the sequence number of the most recent event.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	event.Timestamp = h.now()
	h.retain(event)
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		logx.Ctx(context.Background()).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

// retain appends event to history, replacing any older event of the same
// state slice.
func (h *Hub) retain(event StreamEvent) {
	key := supersedeKey(event)
	kept := h.history[:0]
	for _, old := range h.history {
		if supersedeKey(old) != key {
			kept = append(kept, old)
		}
	}
	clear(h.history[len(kept):])
	kept = append(kept, event)
	if over := len(kept) - h.historySize; over > 0 {
		clear(kept[:over])
		kept = kept[over:]
	}
	h.history = kept
}

func supersedeKey(event StreamEvent) string {
	if event.Type == EventTerminal && event.Session != nil {
		return EventTerminal + ":" + string(event.Session.Channel)
	}
	return event.Type
}
