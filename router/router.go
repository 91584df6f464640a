// Package router demultiplexes the session's notification stream into one
// append-only output log per window plus a global log, resolving rich
// payloads to a single preferred representation.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/stream"
)

// Source is the message stream the router consumes.
type Source interface {
	Subscribe(buffer int) (<-chan *protocol.Message, func())
}

// Resolver maps an inbound message to the window that caused it. The
// coordinator provides this so the router and the state machine route by
// identical rules.
type Resolver interface {
	ResolveWindow(msg *protocol.Message) (string, bool)
}

// Option configures a Router after construction.
type Option func(*Router)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// outputLog is one append-only record log with replace-on-change fan-out:
// every append publishes the full log, not a delta.
type outputLog struct {
	mu      sync.Mutex
	records []Record
	feed    *stream.Latest[[]Record]
}

func newOutputLog() *outputLog {
	return &outputLog{feed: stream.NewLatestValue[[]Record](nil)}
}

func (l *outputLog) append(record Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	l.feed.Set(append([]Record(nil), l.records...))
}

func (l *outputLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.feed.Set(nil)
}

func (l *outputLog) snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

func (l *outputLog) close() {
	l.feed.Close()
}

// Router consumes the session message stream and maintains the logs.
type Router struct {
	resolver Resolver
	cfg      Config
	observer observability.Observer

	mu     sync.Mutex
	logs   map[string]*outputLog
	global *outputLog

	unsub func()
	done  chan struct{}
}

// New creates a Router and starts consuming the source's message stream.
func New(source Source, resolver Resolver, cfg Config, opts ...Option) *Router {
	effective := DefaultConfig()
	effective.Merge(&cfg)

	r := &Router{
		resolver: resolver,
		cfg:      effective,
		observer: observability.NoOpObserver{},
		logs:     make(map[string]*outputLog),
		global:   newOutputLog(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	msgs, unsub := source.Subscribe(0)
	r.unsub = unsub
	go r.consume(msgs)

	return r
}

// Output returns a copy of a window's current log. The empty id returns
// the global log.
func (r *Router) Output(windowID string) []Record {
	return r.logFor(windowID, false).snapshot()
}

// SubscribeOutput delivers the full log immediately and again on every
// append. The empty id subscribes to the global log.
func (r *Router) SubscribeOutput(windowID string) (<-chan []Record, func()) {
	return r.logFor(windowID, true).feed.Subscribe()
}

// ClearOutput empties one window's log; the empty id empties every
// per-window log and the global log.
func (r *Router) ClearOutput(windowID string) {
	if windowID == "" {
		r.mu.Lock()
		logs := make([]*outputLog, 0, len(r.logs)+1)
		for _, l := range r.logs {
			logs = append(logs, l)
		}
		logs = append(logs, r.global)
		r.mu.Unlock()
		for _, l := range logs {
			l.clear()
		}
	} else {
		r.logFor(windowID, true).clear()
	}

	r.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventClear,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "router.ClearOutput",
		Data:      map[string]any{"window_id": windowID},
	})
}

// Shutdown stops consumption and releases all log subscriptions.
func (r *Router) Shutdown() {
	if r.unsub != nil {
		r.unsub()
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		l.close()
	}
	r.global.close()
}

// logFor returns the log for a window id, creating it lazily when create
// is set. The empty id is the global log.
func (r *Router) logFor(windowID string, create bool) *outputLog {
	if windowID == "" {
		return r.global
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[windowID]
	if !ok {
		l = newOutputLog()
		if create {
			r.logs[windowID] = l
		}
	}
	return l
}

func (r *Router) consume(msgs <-chan *protocol.Message) {
	defer close(r.done)
	for msg := range msgs {
		r.route(msg)
	}
}

func (r *Router) route(msg *protocol.Message) {
	record, ok := recordFor(msg)
	if !ok {
		return
	}

	if r.denied(record.Text) {
		r.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventFiltered,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "router.route",
			Data:      map[string]any{"kind": string(record.Kind)},
		})
		return
	}

	// The global log receives everything; the per-window log only what
	// resolves to a window.
	r.global.append(record)
	if windowID, resolved := r.resolver.ResolveWindow(msg); resolved {
		r.logFor(windowID, true).append(record)
	}
}

// denied reports whether the flattened text matches the deny-list.
// Filtering is cosmetic: it drops the record and nothing else.
func (r *Router) denied(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, needle := range r.cfg.DenyList {
		if strings.Contains(lower, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

// recordFor maps one inbound notification to an output record. Messages
// that carry no displayable output produce none.
func recordFor(msg *protocol.Message) (Record, bool) {
	now := time.Now()

	switch msg.Type() {
	case protocol.MessageTypeExecuteInput:
		var content protocol.ExecuteInputContent
		if err := msg.DecodeContent(&content); err != nil {
			return Record{}, false
		}
		return Record{
			Kind:      KindStdout,
			Text:      fmt.Sprintf("In [%d]:", content.ExecutionCount),
			Timestamp: now,
		}, true

	case protocol.MessageTypeStream:
		var content protocol.StreamContent
		if err := msg.DecodeContent(&content); err != nil {
			return Record{}, false
		}
		kind := KindStdout
		if content.Name == protocol.StreamStderr {
			kind = KindStderr
		}
		return Record{Kind: kind, Text: content.Text, Timestamp: now}, true

	case protocol.MessageTypeExecuteResult, protocol.MessageTypeDisplayData:
		var content protocol.DisplayDataContent
		if err := msg.DecodeContent(&content); err != nil {
			return Record{}, false
		}
		mime, ok := selectRepresentation(content.Data)
		if !ok {
			return Record{}, false
		}
		return Record{
			Kind:      KindResult,
			Text:      fallbackText(content.Data),
			MIMEType:  mime,
			Data:      content.Data,
			Metadata:  content.Metadata,
			Timestamp: now,
		}, true

	case protocol.MessageTypeError:
		var content protocol.ErrorContent
		if err := msg.DecodeContent(&content); err != nil {
			return Record{}, false
		}
		return Record{
			Kind:      KindError,
			Text:      flattenError(content.Name, content.Message, content.Traceback),
			Timestamp: now,
		}, true
	}

	return Record{}, false
}
