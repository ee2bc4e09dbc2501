package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultBuffer = 500

// Event is a log record as seen by Hub subscribers.
type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Attrs holds the record attributes as key=value pairs.
	Attrs []string
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s %s", e.Time.Format("2006-01-02 15:04:05"), e.Level, e.Message)
	if len(e.Attrs) > 0 {
		s += " " + strings.Join(e.Attrs, " ")
	}
	return s
}

// Hub fans log events out to subscribers and keeps the most recent ones.
// Slow subscribers miss events rather than block logging.
type Hub struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
	subs map[chan Event]struct{}
}

func NewHub(size int) *Hub {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Hub{ring: make([]Event, size), subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of future events and a func that cancels the
// subscription and closes the channel.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Recent returns the kept events, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Event(nil), h.ring[:h.next]...)
	}
	out := make([]Event, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	return append(out, h.ring[:h.next]...)
}

func (h *Hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = e
	h.next++
	if h.next == len(h.ring) {
		h.next, h.full = 0, true
	}
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Handler wraps next so that every record it handles is also published.
func (h *Hub) Handler(next slog.Handler) slog.Handler {
	return &hubHandler{hub: h, next: next}
}

type hubHandler struct {
	hub    *Hub
	next   slog.Handler
	attrs  []string
	prefix string
}

func (h *hubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *hubHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Event{Time: r.Time, Level: r.Level, Message: r.Message}
	e.Attrs = append(e.Attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs = appendAttr(e.Attrs, h.prefix, a)
		return true
	})
	h.hub.publish(e)
	return h.next.Handle(ctx, r)
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = appendAttr(c.attrs, h.prefix, a)
	}
	return &c
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

func appendAttr(dst []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, p, ga)
		}
		return dst
	}
	return append(dst, prefix+a.Key+"="+a.Value.String())
}
