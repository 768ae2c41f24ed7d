// Package sessionlog routes log records into per-session line buffers.
// Buffers and histories have no size bound; lines stay until ClearHistory or
// Cleanup. The session id travels in the context; records logged without one
// bypass the buffers and only reach the wrapped handler.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type sessionKey struct{}

// WithSession returns a context carrying the session id. Handlers derived
// from a Sink buffer every record logged with this context under the id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// FromContext extracts the session id set by WithSession.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// Sink collects formatted log lines per session. Lines accumulate in a buffer
// until read or flushed, then move to the session's history. All methods are
// safe for concurrent use.
type Sink struct {
	mu        sync.Mutex
	buffers   map[string][]string
	histories map[string][]string
	active    map[string]struct{}
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{
		buffers:   make(map[string][]string),
		histories: make(map[string][]string),
		active:    make(map[string]struct{}),
	}
}

// Handler wraps next with buffering into the sink. A nil next buffers only.
func (s *Sink) Handler(next slog.Handler) slog.Handler {
	return &handler{sink: s, next: next}
}

func (s *Sink) record(sessionID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sessionID] = struct{}{}
	s.buffers[sessionID] = append(s.buffers[sessionID], line)
}

// Buffer returns the session's pending lines and moves them to its history.
func (s *Sink) Buffer(sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffer, exists := s.buffers[sessionID]
	if !exists {
		if _, known := s.active[sessionID]; !known {
			return nil, fmt.Errorf("sessionlog: unknown session: %s", sessionID)
		}
	}
	out := make([]string, len(buffer))
	copy(out, buffer)
	s.flushLocked(sessionID)
	return out, nil
}

// History returns every line already flushed for the session.
func (s *Sink) History(sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, exists := s.histories[sessionID]
	if !exists {
		if _, known := s.active[sessionID]; !known {
			return nil, fmt.Errorf("sessionlog: unknown session: %s", sessionID)
		}
	}
	out := make([]string, len(history))
	copy(out, history)
	return out, nil
}

// ClearBuffer flushes the session's pending lines into its history.
func (s *Sink) ClearBuffer(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(sessionID)
}

// ClearHistory drops the session's flushed lines.
func (s *Sink) ClearHistory(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, sessionID)
}

// Cleanup forgets the session entirely.
func (s *Sink) Cleanup(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
	delete(s.histories, sessionID)
	delete(s.active, sessionID)
}

// ActiveSessions lists the sessions that have logged at least one record and
// have not been cleaned up, in sorted order.
func (s *Sink) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sink) flushLocked(sessionID string) {
	if buffer := s.buffers[sessionID]; len(buffer) > 0 {
		s.histories[sessionID] = append(s.histories[sessionID], buffer...)
		s.buffers[sessionID] = nil
	}
}

// handler mirrors records into the sink and forwards them to the wrapped
// handler. Attribute and group state is tracked locally so buffered lines
// carry the logger's attributes, in the sink's own line format; every
// attribute key, including those added before a group was opened, is
// prefixed with the full group path.
type handler struct {
	sink   *Sink
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.next != nil {
		return h.next.Enabled(ctx, level)
	}
	return true
}

func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	if sessionID, ok := FromContext(ctx); ok {
		h.sink.record(sessionID, h.format(record))
	}
	if h.next != nil {
		return h.next.Handle(ctx, record)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

func (h *handler) format(record slog.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s", record.Time.Format("2006-01-02 15:04:05"), record.Level, record.Message)

	prefix := strings.Join(h.groups, ".")
	writeAttr := func(a slog.Attr) bool {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		fmt.Fprintf(&sb, " %s=%v", key, a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(writeAttr)
	return sb.String()
}
