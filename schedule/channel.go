// Package schedule implements the side channel to the interpreter-side
// dependency tracker. Everything here is best-effort: a missing or broken
// tracker degrades the desktop to manual re-execution, never to failed
// runs.
package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/stream"
)

// interfaceID names the tracker extension's comm target and interface.
const interfaceID = "ipyflow"

// Session is the subset of the gateway the channel needs.
type Session interface {
	Session() string
	Generation() int
	IsReady() bool
	Send(ctx context.Context, msg *protocol.Message) error
	Subscribe(buffer int) (<-chan *protocol.Message, func())
}

// Option configures a Channel after construction.
type Option func(*Channel)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(c *Channel) { c.observer = o }
}

// commPayload is the tracker's side-channel message body, used in both
// directions.
type commPayload struct {
	Type         string                  `json:"type"`
	Interface    string                  `json:"interface,omitempty"`
	Success      *bool                   `json:"success,omitempty"`
	ExecutedCell string                  `json:"executed_cell_id,omitempty"`
	CellMetadata map[string]CellMetadata `json:"cell_metadata_by_id,omitempty"`
	WaitingCells []string                `json:"waiting_cells,omitempty"`
}

const (
	payloadEstablish = "establish"
	payloadSchedule  = "compute_exec_schedule"
)

// Channel is the dependency schedule side channel. It opens a comm to the
// tracker once per interpreter incarnation, requests a schedule
// recomputation after successful runs, and forwards stale-window lists to
// the marker sink and the stale feed.
type Channel struct {
	session  Session
	provider Provider
	marker   Marker
	cfg      Config
	observer observability.Observer

	mu           sync.Mutex
	commID       string
	established  bool
	generation   int
	establishing bool
	ack          chan bool

	stale *stream.Feed[[]string]

	unsub func()
	done  chan struct{}
}

// New creates a Channel listening on the session's message stream. The
// comm itself is opened lazily by the first Recompute (or explicitly via
// Establish).
func New(session Session, provider Provider, marker Marker, cfg Config, opts ...Option) *Channel {
	effective := DefaultConfig()
	effective.Merge(&cfg)

	c := &Channel{
		session:  session,
		provider: provider,
		marker:   marker,
		cfg:      effective,
		observer: observability.NoOpObserver{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stale = stream.NewFeed[[]string](c.cfg.StaleBuffer)

	msgs, unsub := session.Subscribe(0)
	c.unsub = unsub
	go c.listen(msgs)

	return c
}

// Established reports whether the channel is open against the current
// interpreter incarnation.
func (c *Channel) Established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established && c.generation == c.session.Generation()
}

// Establish opens the comm to the tracker with a full metadata snapshot
// and waits for the acknowledgement. Failure leaves the channel absent.
func (c *Channel) Establish(ctx context.Context) bool {
	c.mu.Lock()
	if c.established && c.generation == c.session.Generation() {
		c.mu.Unlock()
		return true
	}
	if c.establishing {
		c.mu.Unlock()
		return false
	}
	c.establishing = true
	c.mu.Unlock()

	ok := c.establish(ctx)

	c.mu.Lock()
	c.establishing = false
	c.mu.Unlock()
	return ok
}

func (c *Channel) establish(ctx context.Context) bool {
	generation := c.session.Generation()
	commID := uuid.Must(uuid.NewV7()).String()

	payload, err := json.Marshal(commPayload{
		Type:         payloadEstablish,
		Interface:    interfaceID,
		CellMetadata: c.provider.Snapshot(),
	})
	if err != nil {
		c.protocolError(ctx, "marshal establish payload", err)
		return false
	}

	ack := make(chan bool, 1)
	c.mu.Lock()
	c.commID = commID
	c.established = false
	c.ack = ack
	c.mu.Unlock()

	msg, err := protocol.NewRequest(c.session.Session(), protocol.MessageTypeCommOpen, protocol.CommOpenContent{
		CommID:     commID,
		TargetName: interfaceID,
		Data:       payload,
	}, nil)
	if err == nil {
		err = c.session.Send(ctx, msg)
	}
	if err != nil {
		c.establishFailed(ctx, err)
		return false
	}

	timeout := time.NewTimer(c.cfg.EstablishTimeout)
	defer timeout.Stop()

	select {
	case success := <-ack:
		if !success {
			c.establishFailed(ctx, nil)
			return false
		}
	case <-timeout.C:
		c.establishFailed(ctx, context.DeadlineExceeded)
		return false
	case <-ctx.Done():
		c.establishFailed(ctx, ctx.Err())
		return false
	}

	c.mu.Lock()
	c.established = true
	c.generation = generation
	c.mu.Unlock()

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventEstablish,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "schedule.Establish",
		Data:      map[string]any{"comm_id": commID},
	})
	return true
}

func (c *Channel) establishFailed(ctx context.Context, err error) {
	c.mu.Lock()
	c.ack = nil
	c.mu.Unlock()

	data := map[string]any{}
	if err != nil {
		data["error"] = err.Error()
	}
	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventEstablishFailed,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "schedule.Establish",
		Data:      data,
	})
}

// Recompute asks the tracker which windows became stale after the given
// window ran, sending a fresh snapshot. Called after every successful
// run; every failure is logged and swallowed.
func (c *Channel) Recompute(ctx context.Context, windowID string) {
	if !c.Establish(ctx) {
		return
	}

	c.mu.Lock()
	commID := c.commID
	c.mu.Unlock()

	payload, err := json.Marshal(commPayload{
		Type:         payloadSchedule,
		ExecutedCell: windowID,
		CellMetadata: c.provider.Snapshot(),
	})
	if err != nil {
		c.protocolError(ctx, "marshal schedule request", err)
		return
	}

	msg, err := protocol.NewRequest(c.session.Session(), protocol.MessageTypeCommMsg, protocol.CommMsgContent{
		CommID: commID,
		Data:   payload,
	}, nil)
	if err == nil {
		err = c.session.Send(ctx, msg)
	}
	if err != nil {
		c.protocolError(ctx, "send schedule request", err)
		return
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventRecompute,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "schedule.Recompute",
		Data:      map[string]any{"window_id": windowID},
	})
}

// SubscribeStale delivers stale-window lists as the tracker reports them.
// No replay; subscribers only see lists published after they attach.
func (c *Channel) SubscribeStale() (<-chan []string, func()) {
	return c.stale.Subscribe()
}

// Shutdown stops listening and releases stale-feed subscriptions.
func (c *Channel) Shutdown() {
	if c.unsub != nil {
		c.unsub()
	}
	<-c.done
	c.stale.Close()
}

func (c *Channel) listen(msgs <-chan *protocol.Message) {
	defer close(c.done)
	for msg := range msgs {
		switch msg.Type() {
		case protocol.MessageTypeCommMsg:
			c.handleCommMsg(msg)
		case protocol.MessageTypeCommClose, protocol.MessageTypeDisconnect:
			c.mu.Lock()
			c.established = false
			c.mu.Unlock()
		}
	}
}

func (c *Channel) handleCommMsg(msg *protocol.Message) {
	var content protocol.CommMsgContent
	if err := msg.DecodeContent(&content); err != nil {
		c.protocolError(context.Background(), "decode comm message", err)
		return
	}

	c.mu.Lock()
	mine := content.CommID == c.commID
	c.mu.Unlock()
	if !mine {
		return
	}

	var payload commPayload
	if err := json.Unmarshal(content.Data, &payload); err != nil {
		c.protocolError(context.Background(), "decode tracker payload", err)
		return
	}

	switch payload.Type {
	case payloadEstablish:
		success := payload.Success == nil || *payload.Success
		c.mu.Lock()
		if c.ack != nil {
			c.ack <- success
			c.ack = nil
		}
		c.mu.Unlock()

	case payloadSchedule:
		if len(payload.WaitingCells) == 0 {
			return
		}
		c.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventStale,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "schedule.listen",
			Data:      map[string]any{"window_ids": payload.WaitingCells},
		})
		if c.marker != nil {
			c.marker.MarkWindowsForReexecution(payload.WaitingCells)
		}
		c.stale.Publish(payload.WaitingCells)
	}
}

func (c *Channel) protocolError(ctx context.Context, op string, err error) {
	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventProtocolError,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "schedule",
		Data:      map[string]any{"op": op, "error": err.Error()},
	})
}
