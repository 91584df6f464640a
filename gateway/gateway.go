// Package gateway owns the single shared interpreter connection used by
// every window of the desktop.
//
// The gateway creates the session lazily on first use, collapses concurrent
// first-use calls onto one in-flight creation, performs the info handshake,
// and fans every inbound message out to its subscribers tagged with the
// transport channel it arrived on. It has no knowledge of windows beyond
// the metadata tags it forwards.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/stream"
)

// Status is the interpreter connection status.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusStarting Status = "starting"
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusDead     Status = "dead"
)

// ExecuteOptions tunes an execute request.
type ExecuteOptions struct {
	Silent       bool
	StoreHistory bool
	StopOnError  bool
}

// DefaultExecuteOptions returns the options used for ordinary window runs.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{StoreHistory: true, StopOnError: true}
}

// Option configures a Gateway after construction.
type Option func(*Gateway)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// Gateway multiplexes all windows onto one interpreter session.
type Gateway struct {
	transport Transport
	cfg       Config
	observer  observability.Observer
	session   string

	ctx    context.Context
	cancel context.CancelFunc

	create singleflight.Group

	mu         sync.RWMutex
	conn       Connection
	connSeq    int // invalidates stale read loops
	generation int // bumped on every fresh interpreter (connect and restart)
	reconnect  bool
	closed     bool

	status *stream.Latest[Status]

	subMu   sync.Mutex
	subs    map[int]chan *protocol.Message
	nextSub int
}

// New creates a Gateway on the given transport. The session is not created
// until the first InitializeForWindow call.
func New(transport Transport, cfg Config, opts ...Option) *Gateway {
	effective := DefaultConfig()
	effective.Merge(&cfg)

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		transport: transport,
		cfg:       effective,
		observer:  observability.NoOpObserver{},
		session:   uuid.Must(uuid.NewV7()).String(),
		ctx:       ctx,
		cancel:    cancel,
		status:    stream.NewLatestValue(StatusUnknown),
		subs:      make(map[int]chan *protocol.Message),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Session returns the gateway-side session identifier stamped on outbound
// message headers.
func (g *Gateway) Session() string {
	return g.session
}

// InitializeForWindow ensures the shared session exists and has completed
// its handshake. Idempotent; concurrent callers before creation completes
// share one in-flight creation.
func (g *Gateway) InitializeForWindow(ctx context.Context, windowID string) error {
	if g.isClosed() {
		return ErrClosed
	}
	if g.IsReady() {
		return nil
	}

	g.observer.OnEvent(ctx, observability.Event{
		Type:      EventSessionCreate,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "gateway.InitializeForWindow",
		Data:      map[string]any{"window_id": windowID},
	})

	_, err, _ := g.create.Do("session", func() (any, error) {
		if g.IsReady() {
			return nil, nil
		}
		return nil, g.connect(ctx)
	})
	return err
}

func (g *Gateway) connect(ctx context.Context) error {
	g.status.Set(StatusStarting)

	conn, err := g.transport.Connect(ctx)
	if err != nil {
		g.status.Set(StatusDead)
		return err
	}

	g.mu.Lock()
	g.conn = conn
	g.connSeq++
	g.generation++
	g.reconnect = false
	seq := g.connSeq
	g.mu.Unlock()

	go g.readLoop(conn, seq)

	if err := g.handshake(ctx, conn); err != nil {
		g.status.Set(StatusDead)
		conn.Close()
		return err
	}

	g.status.Set(StatusIdle)
	return nil
}

// handshake performs the info round-trip that confirms the interpreter is
// answering on the new connection.
func (g *Gateway) handshake(ctx context.Context, conn Connection) error {
	msgs, cancel := g.Subscribe(16)
	defer cancel()

	req, err := protocol.NewRequest(g.session, protocol.MessageTypeKernelInfoRequest, struct{}{}, nil)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, req); err != nil {
		return err
	}

	timer := time.NewTimer(g.cfg.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			if msg.Type() == protocol.MessageTypeKernelInfoReply && msg.ParentID() == req.ID() {
				g.observer.OnEvent(ctx, observability.Event{
					Type:      EventHandshake,
					Level:     observability.LevelVerbose,
					Timestamp: time.Now(),
					Source:    "gateway.handshake",
					Data:      map[string]any{"request_id": req.ID()},
				})
				return nil
			}
		case <-timer.C:
			return ErrHandshakeTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway) readLoop(conn Connection, seq int) {
	for {
		msg, err := conn.Recv(g.ctx)
		if err != nil {
			g.handleDisconnect(seq)
			return
		}
		if !g.currentSeq(seq) {
			return
		}

		if msg.Type() == protocol.MessageTypeStatus {
			g.trackStatus(msg)
		}
		g.broadcast(msg)
	}
}

func (g *Gateway) trackStatus(msg *protocol.Message) {
	var content protocol.StatusContent
	if err := msg.DecodeContent(&content); err != nil {
		return
	}
	switch content.ExecutionState {
	case protocol.ExecutionStateBusy:
		g.status.Set(StatusBusy)
	case protocol.ExecutionStateIdle:
		g.status.Set(StatusIdle)
	case protocol.ExecutionStateStarting:
		g.status.Set(StatusStarting)
	}
}

// handleDisconnect synthesizes a disconnect notification on the stream and
// arms a single delayed reconnection attempt.
func (g *Gateway) handleDisconnect(seq int) {
	g.mu.Lock()
	if g.closed || seq != g.connSeq {
		g.mu.Unlock()
		return
	}
	g.conn = nil
	armed := g.reconnect
	g.reconnect = true
	g.mu.Unlock()

	g.status.Set(StatusDead)
	g.broadcast(&protocol.Message{
		Header: protocol.Header{
			MsgID:   uuid.Must(uuid.NewV7()).String(),
			MsgType: protocol.MessageTypeDisconnect,
			Session: g.session,
			Date:    time.Now().UTC(),
			Version: protocol.ProtocolVersion,
		},
		Channel: protocol.ChannelIOPub,
	})

	g.observer.OnEvent(g.ctx, observability.Event{
		Type:      EventDisconnect,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "gateway.readLoop",
		Data:      map[string]any{"reconnect_in": g.cfg.ReconnectDelay.String()},
	})

	if armed {
		return
	}

	time.AfterFunc(g.cfg.ReconnectDelay, func() {
		if g.isClosed() || g.IsReady() {
			return
		}
		g.observer.OnEvent(g.ctx, observability.Event{
			Type:      EventReconnect,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "gateway.reconnect",
		})
		g.create.Do("session", func() (any, error) {
			return nil, g.connect(g.ctx)
		})
	})
}

// NewExecuteRequest builds an execute message without sending it. The
// returned message already carries the request id every correlated reply
// will reference, so callers can register correlation state before the
// interpreter has any chance to answer.
func (g *Gateway) NewExecuteRequest(code string, opts ExecuteOptions, metadata map[string]any) (*protocol.Message, error) {
	content := protocol.ExecuteRequestContent{
		Code:            code,
		Silent:          opts.Silent,
		StoreHistory:    opts.StoreHistory,
		StopOnError:     opts.StopOnError,
		UserExpressions: map[string]any{},
	}
	return protocol.NewRequest(g.session, protocol.MessageTypeExecuteRequest, content, metadata)
}

// SendExecuteRequest submits code for execution and returns the request id
// that all correlated replies will reference. Returns ErrNotConnected
// while the interpreter is not in a connectable status.
func (g *Gateway) SendExecuteRequest(code string, opts ExecuteOptions, metadata map[string]any) (string, error) {
	conn := g.readyConn()
	if conn == nil {
		return "", ErrNotConnected
	}

	msg, err := g.NewExecuteRequest(code, opts, metadata)
	if err != nil {
		return "", err
	}

	if err := conn.Send(g.ctx, msg); err != nil {
		g.observer.OnEvent(g.ctx, observability.Event{
			Type:      EventSendFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "gateway.SendExecuteRequest",
			Data:      map[string]any{"error": err.Error()},
		})
		return "", err
	}

	return msg.ID(), nil
}

// Send submits an arbitrary outbound message, used by the side channel for
// comm traffic.
func (g *Gateway) Send(ctx context.Context, msg *protocol.Message) error {
	conn := g.readyConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, msg)
}

// SendInterruptRequest asks the interpreter to abort the running code.
func (g *Gateway) SendInterruptRequest(ctx context.Context) error {
	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Interrupt(ctx)
}

// RestartKernel replaces the interpreter process. The connection survives;
// interpreter state does not, so the generation advances.
func (g *Gateway) RestartKernel(ctx context.Context) error {
	g.mu.Lock()
	conn := g.conn
	if conn != nil {
		g.generation++
	}
	g.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	g.observer.OnEvent(ctx, observability.Event{
		Type:      EventRestart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "gateway.RestartKernel",
	})

	if err := conn.Restart(ctx); err != nil {
		return err
	}
	g.status.Set(StatusStarting)
	return nil
}

// ResetSession restarts the interpreter and waits for a fresh handshake.
func (g *Gateway) ResetSession(ctx context.Context) error {
	if err := g.RestartKernel(ctx); err != nil {
		return err
	}

	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := g.handshake(ctx, conn); err != nil {
		return err
	}
	g.status.Set(StatusIdle)
	return nil
}

// IsReady reports whether the session exists and the interpreter status is
// one of the two alive states.
func (g *Gateway) IsReady() bool {
	s, _ := g.status.Get()
	return s == StatusIdle || s == StatusBusy
}

// Status returns the current interpreter status.
func (g *Gateway) Status() Status {
	s, _ := g.status.Get()
	return s
}

// SubscribeStatus delivers the current status immediately and every change
// thereafter.
func (g *Gateway) SubscribeStatus() (<-chan Status, func()) {
	return g.status.Subscribe()
}

// Generation identifies the current interpreter incarnation. It advances on
// every fresh connection and every restart, letting side channels detect
// that kernel-side state was wiped.
func (g *Gateway) Generation() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

// Subscribe registers a consumer on the fan-out message stream. Every
// inbound message is delivered to every subscriber; subscribers that fall
// more than buffer messages behind lose the overflow.
func (g *Gateway) Subscribe(buffer int) (<-chan *protocol.Message, func()) {
	if buffer <= 0 {
		buffer = g.cfg.SubscriberBuffer
	}

	g.subMu.Lock()
	defer g.subMu.Unlock()

	ch := make(chan *protocol.Message, buffer)
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch

	return ch, func() {
		g.subMu.Lock()
		defer g.subMu.Unlock()
		if sub, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(sub)
		}
	}
}

func (g *Gateway) broadcast(msg *protocol.Message) {
	g.subMu.Lock()
	defer g.subMu.Unlock()

	for _, ch := range g.subs {
		select {
		case ch <- msg:
		default:
			g.observer.OnEvent(g.ctx, observability.Event{
				Type:      EventDropped,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "gateway.broadcast",
				Data:      map[string]any{"msg_type": string(msg.Type())},
			})
		}
	}
}

func (g *Gateway) readyConn() Connection {
	if !g.IsReady() {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn
}

func (g *Gateway) currentSeq(seq int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return seq == g.connSeq && !g.closed
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Shutdown tears down the connection and releases all subscribers.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()

	g.cancel()
	if conn != nil {
		conn.Close()
	}
	g.status.Set(StatusDead)
	g.status.Close()

	g.subMu.Lock()
	for id, ch := range g.subs {
		delete(g.subs, id)
		close(ch)
	}
	g.subMu.Unlock()
}
