// Package coordinator issues execute requests for windows, correlates the
// fully asynchronous reply traffic back to the window that caused it, and
// owns per-window run state plus the stale-window bookkeeping that drives
// automatic re-execution.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
	"github.com/jupyter-desktop/kernelcore/gateway"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/stream"
)

// Session is the subset of the gateway the coordinator drives. Execute
// requests are built and sent as separate steps so correlation state can
// be registered against the request id before the interpreter sees it.
type Session interface {
	InitializeForWindow(ctx context.Context, windowID string) error
	NewExecuteRequest(code string, opts gateway.ExecuteOptions, metadata map[string]any) (*protocol.Message, error)
	Send(ctx context.Context, msg *protocol.Message) error
	SendInterruptRequest(ctx context.Context) error
	ResetSession(ctx context.Context) error
	IsReady() bool
	Subscribe(buffer int) (<-chan *protocol.Message, func())
}

// Scheduler recomputes the dependency schedule after a successful run.
// Implementations must be best-effort: a failed recompute never fails the
// run that triggered it.
type Scheduler interface {
	Recompute(ctx context.Context, windowID string)
}

// SourceProvider supplies the current source text of a window for
// automatic re-execution. When absent, the coordinator only records marks
// and leaves re-running to the UI.
type SourceProvider interface {
	Source(windowID string) (string, bool)
}

// Option configures a Coordinator after construction.
type Option func(*Coordinator)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithScheduler attaches the dependency schedule channel.
func WithScheduler(s Scheduler) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithSourceProvider enables automatic re-execution of marked windows.
func WithSourceProvider(p SourceProvider) Option {
	return func(c *Coordinator) { c.source = p }
}

// Coordinator multiplexes window runs onto the shared session.
type Coordinator struct {
	session   Session
	cfg       Config
	observer  observability.Observer
	scheduler Scheduler
	source    SourceProvider

	reg *registry

	stateMu sync.Mutex
	states  map[string]*stream.Latest[ExecutionState]
	global  *stream.Latest[ExecutionState]

	markMu       sync.Mutex
	marks        map[string]struct{}
	autoInFlight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

// New creates a Coordinator consuming the session's message stream. The
// dispatch loop runs until Shutdown.
func New(session Session, cfg Config, opts ...Option) *Coordinator {
	effective := DefaultConfig()
	effective.Merge(&cfg)

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		session:      session,
		cfg:          effective,
		observer:     observability.NoOpObserver{},
		reg:          newRegistry(),
		states:       make(map[string]*stream.Latest[ExecutionState]),
		global:       stream.NewLatestValue(StateIdle),
		marks:        make(map[string]struct{}),
		autoInFlight: make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	msgs, unsub := session.Subscribe(0)
	c.unsub = unsub
	go c.dispatchLoop(msgs)

	return c
}

// RunPython executes code attributed to the given window (empty for
// untargeted runs). The returned result reflects the interpreter's reply;
// connection-level failures surface as errors.
func (c *Coordinator) RunPython(ctx context.Context, code, windowID string) (*RunResult, error) {
	if err := c.awaitReady(ctx, windowID); err != nil {
		return nil, err
	}

	// Each submission is one logical cell to the dependency tracker; the
	// cell identifier is distinct from the correlation id.
	cellID := uuid.Must(uuid.NewV7()).String()
	metadata := map[string]any{protocol.MetadataCellID: cellID}
	if windowID != "" {
		metadata[protocol.MetadataWindowID] = windowID
	}

	msg, err := c.session.NewExecuteRequest(code, gateway.DefaultExecuteOptions(), metadata)
	if err != nil {
		return nil, err
	}
	requestID := msg.ID()

	// Register before sending: a reply can only be correlated if the
	// binding exists when it arrives.
	pending := newPendingRun(requestID, windowID, cellID)
	c.reg.register(pending)
	c.ClearReexecutionMark(windowID)

	if err := c.session.Send(ctx, msg); err != nil {
		c.reg.discard(requestID)
		return nil, err
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventRunStart,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "coordinator.RunPython",
		Data:      map[string]any{"window_id": windowID, "request_id": requestID},
	})

	select {
	case result := <-pending.done:
		c.finishRun(ctx, windowID, requestID, &result)
		return &result, nil
	case err := <-pending.err:
		return nil, err
	case <-ctx.Done():
		c.reg.discard(requestID)
		return &RunResult{Status: RunCancelled}, ctx.Err()
	case <-c.ctx.Done():
		c.reg.discard(requestID)
		return nil, ErrSessionReset
	}
}

func (c *Coordinator) finishRun(ctx context.Context, windowID, requestID string, result *RunResult) {
	eventType := EventRunComplete
	level := observability.LevelVerbose
	data := map[string]any{"window_id": windowID, "request_id": requestID, "status": string(result.Status)}
	if result.Status == RunError {
		eventType = EventRunError
		level = observability.LevelInfo
		data["ename"] = result.Name
	}
	c.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "coordinator.RunPython",
		Data:      data,
	})

	// Schedule recomputation is best-effort and must never delay or fail
	// the run itself.
	if result.Status == RunCompleted && c.scheduler != nil {
		go c.scheduler.Recompute(c.ctx, windowID)
	}
}

// awaitReady ensures the gateway is initialized and polls until it is
// ready, bounded by the configured timeout.
func (c *Coordinator) awaitReady(ctx context.Context, windowID string) error {
	c.session.InitializeForWindow(ctx, windowID)
	if c.session.IsReady() {
		return nil
	}

	deadline := time.NewTimer(c.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.ReadyInterval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if c.session.IsReady() {
				return nil
			}
		case <-deadline.C:
			return ErrConnectTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InterruptExecution asks the interpreter to abort the running code and
// optimistically flips the global state to idle without waiting for
// confirmation.
func (c *Coordinator) InterruptExecution(ctx context.Context) error {
	err := c.session.SendInterruptRequest(ctx)
	c.global.Set(StateIdle)

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventInterrupt,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "coordinator.InterruptExecution",
	})
	return err
}

// ResetSession interrupts any in-progress run, restarts the interpreter,
// rejects all pending completions with ErrSessionReset, and resets every
// window's state to idle.
func (c *Coordinator) ResetSession(ctx context.Context) error {
	if c.GlobalState() == StateRunning {
		c.session.SendInterruptRequest(ctx)
	}

	err := c.session.ResetSession(ctx)

	for _, pending := range c.reg.drain() {
		pending.reject(ErrSessionReset)
	}

	c.stateMu.Lock()
	for _, state := range c.states {
		state.Set(StateIdle)
	}
	c.stateMu.Unlock()
	c.global.Set(StateIdle)

	c.markMu.Lock()
	c.autoInFlight = make(map[string]bool)
	c.markMu.Unlock()

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventReset,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "coordinator.ResetSession",
	})
	return err
}

// MarkWindowsForReexecution flags windows as stale. Idempotent. When a
// source provider is attached, each newly usable mark triggers exactly one
// automatic re-run; a window whose auto-run is still in flight keeps its
// mark but is not re-triggered.
func (c *Coordinator) MarkWindowsForReexecution(ids []string) {
	marked := make([]string, 0, len(ids))
	c.markMu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		c.marks[id] = struct{}{}
		marked = append(marked, id)
	}
	c.markMu.Unlock()

	if len(marked) == 0 {
		return
	}

	c.observer.OnEvent(c.ctx, observability.Event{
		Type:      EventMark,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "coordinator.MarkWindowsForReexecution",
		Data:      map[string]any{"window_ids": marked},
	})

	if c.source == nil {
		return
	}
	for _, id := range marked {
		c.maybeAutoRerun(id)
	}
}

// maybeAutoRerun starts one automatic re-run for a marked window unless
// one is already in flight. The per-window guard, not the tracker, is what
// keeps the trigger loop from diverging on cyclic dependencies.
func (c *Coordinator) maybeAutoRerun(windowID string) {
	c.markMu.Lock()
	if c.autoInFlight[windowID] {
		c.markMu.Unlock()
		c.observer.OnEvent(c.ctx, observability.Event{
			Type:      EventAutoRerunSkip,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "coordinator.maybeAutoRerun",
			Data:      map[string]any{"window_id": windowID},
		})
		return
	}
	c.autoInFlight[windowID] = true
	c.markMu.Unlock()

	go func() {
		defer func() {
			c.markMu.Lock()
			delete(c.autoInFlight, windowID)
			c.markMu.Unlock()
		}()

		code, ok := c.source.Source(windowID)
		if !ok {
			return
		}

		c.observer.OnEvent(c.ctx, observability.Event{
			Type:      EventAutoRerun,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "coordinator.maybeAutoRerun",
			Data:      map[string]any{"window_id": windowID},
		})

		c.RunPython(c.ctx, code, windowID)
	}()
}

// NeedsReexecution reports whether the window is currently marked stale.
func (c *Coordinator) NeedsReexecution(windowID string) bool {
	c.markMu.Lock()
	defer c.markMu.Unlock()
	_, ok := c.marks[windowID]
	return ok
}

// ClearReexecutionMark consumes a window's mark. Called automatically at
// the start of every run for that window; the mark returns only with a
// fresh tracker notification.
func (c *Coordinator) ClearReexecutionMark(windowID string) {
	if windowID == "" {
		return
	}
	c.markMu.Lock()
	defer c.markMu.Unlock()
	delete(c.marks, windowID)
}

// WindowState returns the window's current execution state. A window's
// state is tracked independently of the global mirror because the shared
// session interleaves traffic from all windows.
func (c *Coordinator) WindowState(windowID string) ExecutionState {
	state, _ := c.windowState(windowID).Get()
	return state
}

// SubscribeWindowState delivers the window's current state immediately and
// every transition thereafter.
func (c *Coordinator) SubscribeWindowState(windowID string) (<-chan ExecutionState, func()) {
	return c.windowState(windowID).Subscribe()
}

// GlobalState returns the aggregate session state.
func (c *Coordinator) GlobalState() ExecutionState {
	state, _ := c.global.Get()
	return state
}

// SubscribeGlobalState delivers the aggregate state and its transitions.
func (c *Coordinator) SubscribeGlobalState() (<-chan ExecutionState, func()) {
	return c.global.Subscribe()
}

// ResolveWindow maps an inbound message to the window that caused it.
// Shared with the output router so both route by the same rules.
func (c *Coordinator) ResolveWindow(msg *protocol.Message) (string, bool) {
	return c.reg.resolveWindow(msg)
}

func (c *Coordinator) windowState(windowID string) *stream.Latest[ExecutionState] {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	state, ok := c.states[windowID]
	if !ok {
		state = stream.NewLatestValue(StateIdle)
		c.states[windowID] = state
	}
	return state
}

func (c *Coordinator) setWindowState(windowID string, state ExecutionState) {
	if windowID == "" {
		return
	}
	c.windowState(windowID).Set(state)
}

func (c *Coordinator) dispatchLoop(msgs <-chan *protocol.Message) {
	defer close(c.done)
	for msg := range msgs {
		c.dispatch(msg)
	}
}

func (c *Coordinator) dispatch(msg *protocol.Message) {
	switch msg.Type() {
	case protocol.MessageTypeExecuteInput:
		if windowID, ok := c.reg.resolveWindow(msg); ok {
			c.setWindowState(windowID, StateRunning)
		}
		c.global.Set(StateRunning)

	case protocol.MessageTypeStatus:
		var content protocol.StatusContent
		if err := msg.DecodeContent(&content); err != nil {
			return
		}
		switch content.ExecutionState {
		case protocol.ExecutionStateBusy:
			c.global.Set(StateRunning)
		case protocol.ExecutionStateIdle:
			c.global.Set(StateIdle)
		}

	case protocol.MessageTypeExecuteReply:
		c.handleReply(msg)

	case protocol.MessageTypeError:
		if windowID, ok := c.reg.resolveWindow(msg); ok {
			c.setWindowState(windowID, StateError)
		}
		c.global.Set(StateError)

	case protocol.MessageTypeDisconnect:
		for _, pending := range c.reg.drain() {
			pending.reject(ErrDisconnected)
		}
	}
}

func (c *Coordinator) handleReply(msg *protocol.Message) {
	pending, ok := c.reg.complete(msg.ParentID())
	if !ok {
		// Reply for a request this coordinator never issued (or already
		// resolved); other windows' traffic is unaffected.
		return
	}

	var content protocol.ExecuteReplyContent
	if err := msg.DecodeContent(&content); err != nil {
		content.Status = protocol.StatusError
		content.Name = "ProtocolError"
		content.Message = err.Error()
	}

	switch content.Status {
	case protocol.StatusOK:
		c.setWindowState(pending.windowID, StateIdle)
		pending.resolve(RunResult{Status: RunCompleted})
	case "abort", "aborted":
		c.setWindowState(pending.windowID, StateIdle)
		pending.resolve(RunResult{Status: RunCancelled})
	default:
		c.setWindowState(pending.windowID, StateError)
		pending.resolve(RunResult{
			Status:    RunError,
			Name:      content.Name,
			Message:   content.Message,
			Traceback: content.Traceback,
		})
	}
}

// Shutdown stops the dispatch loop and releases all state subscriptions.
func (c *Coordinator) Shutdown() {
	c.cancel()
	if c.unsub != nil {
		c.unsub()
	}
	<-c.done

	c.stateMu.Lock()
	for _, state := range c.states {
		state.Close()
	}
	c.stateMu.Unlock()
	c.global.Close()
}
