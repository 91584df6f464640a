// Package desktop assembles the gateway, coordinator, output router, and
// dependency schedule channel into one embeddable coordination core for a
// desktop of code windows sharing a single interpreter session.
package desktop

import (
	"context"
	"sync"

	"github.com/jupyter-desktop/kernelcore/coordinator"
	"github.com/jupyter-desktop/kernelcore/gateway"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/router"
	"github.com/jupyter-desktop/kernelcore/schedule"
)

// Window is one code window on the desktop as the embedding UI sees it.
type Window struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Source string `json:"source"`
}

// WindowProvider exposes the UI's current windows. The core reads it for
// dependency snapshots and for the source text of automatic re-runs.
type WindowProvider interface {
	Windows() []Window
}

type options struct {
	transport gateway.Transport
	observer  observability.Observer
	provider  WindowProvider
}

// Option configures a Desktop during construction.
type Option func(*options)

// WithTransport overrides the kernel server transport, primarily for
// tests.
func WithTransport(t gateway.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithObserver attaches an observer to every subsystem.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithWindowProvider attaches the UI's window source. Without it the
// schedule channel sends empty snapshots and stale windows are only
// marked, never re-run automatically.
func WithWindowProvider(p WindowProvider) Option {
	return func(o *options) { o.provider = p }
}

// schedulerRef defers the coordinator-to-schedule binding: the coordinator
// needs a scheduler at construction while the channel needs the
// coordinator as its marker sink.
type schedulerRef struct {
	mu     sync.Mutex
	target coordinator.Scheduler
}

func (r *schedulerRef) set(s coordinator.Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = s
}

func (r *schedulerRef) Recompute(ctx context.Context, windowID string) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target.Recompute(ctx, windowID)
	}
}

// windowSource adapts a WindowProvider to the coordinator's source lookup.
type windowSource struct {
	provider WindowProvider
}

func (s windowSource) Source(windowID string) (string, bool) {
	for _, w := range s.provider.Windows() {
		if w.ID == windowID {
			return w.Source, true
		}
	}
	return "", false
}

// windowSnapshot adapts a WindowProvider to the schedule channel's
// metadata snapshots.
type windowSnapshot struct {
	provider WindowProvider
}

func (s windowSnapshot) Snapshot() map[string]schedule.CellMetadata {
	if s.provider == nil {
		return map[string]schedule.CellMetadata{}
	}
	windows := s.provider.Windows()
	out := make(map[string]schedule.CellMetadata, len(windows))
	for _, w := range windows {
		out[w.ID] = schedule.CellMetadata{
			Index:   w.Index,
			Type:    schedule.CellTypeCode,
			Content: w.Source,
		}
	}
	return out
}

// Desktop is the assembled coordination core.
type Desktop struct {
	gateway  *gateway.Gateway
	coord    *coordinator.Coordinator
	router   *router.Router
	schedule *schedule.Channel
}

// New assembles a Desktop from the configuration. Subsystems share the
// gateway's message stream; the schedule channel feeds stale windows back
// into the coordinator.
func New(cfg Config, opts ...Option) *Desktop {
	effective := DefaultConfig()
	effective.Merge(&cfg)

	o := options{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		transport = gateway.NewServerTransport(effective.Server)
	}

	gw := gateway.New(transport, effective.Gateway, gateway.WithObserver(o.observer))

	ref := &schedulerRef{}
	coordOpts := []coordinator.Option{
		coordinator.WithObserver(o.observer),
		coordinator.WithScheduler(ref),
	}
	if o.provider != nil {
		coordOpts = append(coordOpts, coordinator.WithSourceProvider(windowSource{provider: o.provider}))
	}
	coord := coordinator.New(gw, effective.Coordinator, coordOpts...)

	rt := router.New(gw, coord, effective.Router, router.WithObserver(o.observer))

	channel := schedule.New(gw, windowSnapshot{provider: o.provider}, coord, effective.Schedule,
		schedule.WithObserver(o.observer))
	ref.set(channel)

	return &Desktop{
		gateway:  gw,
		coord:    coord,
		router:   rt,
		schedule: channel,
	}
}

// RunPython executes code attributed to a window and waits for its
// terminal result.
func (d *Desktop) RunPython(ctx context.Context, code, windowID string) (*coordinator.RunResult, error) {
	return d.coord.RunPython(ctx, code, windowID)
}

// InterruptExecution advises the interpreter to abort the current run.
func (d *Desktop) InterruptExecution(ctx context.Context) error {
	return d.coord.InterruptExecution(ctx)
}

// ResetSession restarts the interpreter and rejects all pending runs.
func (d *Desktop) ResetSession(ctx context.Context) error {
	return d.coord.ResetSession(ctx)
}

// WindowState returns one window's execution state.
func (d *Desktop) WindowState(windowID string) coordinator.ExecutionState {
	return d.coord.WindowState(windowID)
}

// SubscribeWindowState streams one window's state transitions.
func (d *Desktop) SubscribeWindowState(windowID string) (<-chan coordinator.ExecutionState, func()) {
	return d.coord.SubscribeWindowState(windowID)
}

// GlobalState returns the aggregate session state.
func (d *Desktop) GlobalState() coordinator.ExecutionState {
	return d.coord.GlobalState()
}

// SubscribeGlobalState streams the aggregate state.
func (d *Desktop) SubscribeGlobalState() (<-chan coordinator.ExecutionState, func()) {
	return d.coord.SubscribeGlobalState()
}

// NeedsReexecution reports whether a window is marked stale.
func (d *Desktop) NeedsReexecution(windowID string) bool {
	return d.coord.NeedsReexecution(windowID)
}

// MarkWindowsForReexecution flags windows as stale, as the tracker would.
func (d *Desktop) MarkWindowsForReexecution(ids []string) {
	d.coord.MarkWindowsForReexecution(ids)
}

// Output returns a window's output log; the empty id returns the global
// log.
func (d *Desktop) Output(windowID string) []router.Record {
	return d.router.Output(windowID)
}

// SubscribeOutput streams the full log on every append.
func (d *Desktop) SubscribeOutput(windowID string) (<-chan []router.Record, func()) {
	return d.router.SubscribeOutput(windowID)
}

// ClearOutput empties one window's log, or all logs with the empty id.
func (d *Desktop) ClearOutput(windowID string) {
	d.router.ClearOutput(windowID)
}

// SubscribeStale streams stale-window lists as the tracker reports them.
func (d *Desktop) SubscribeStale() (<-chan []string, func()) {
	return d.schedule.SubscribeStale()
}

// KernelStatus returns the gateway's connection status.
func (d *Desktop) KernelStatus() gateway.Status {
	return d.gateway.Status()
}

// SubscribeKernelStatus streams connection status changes.
func (d *Desktop) SubscribeKernelStatus() (<-chan gateway.Status, func()) {
	return d.gateway.SubscribeStatus()
}

// Session returns the shared session id.
func (d *Desktop) Session() string {
	return d.gateway.Session()
}

// Shutdown tears the core down: consumers first, then the gateway and its
// kernel connection.
func (d *Desktop) Shutdown() {
	d.schedule.Shutdown()
	d.router.Shutdown()
	d.coord.Shutdown()
	d.gateway.Shutdown()
}
