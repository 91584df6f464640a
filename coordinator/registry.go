package coordinator

import (
	"sync"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
)

// pendingRun is one in-flight execute request awaiting its reply.
type pendingRun struct {
	requestID string
	windowID  string
	cellID    string
	done      chan RunResult
	err       chan error
}

func newPendingRun(requestID, windowID, cellID string) *pendingRun {
	return &pendingRun{
		requestID: requestID,
		windowID:  windowID,
		cellID:    cellID,
		done:      make(chan RunResult, 1),
		err:       make(chan error, 1),
	}
}

// resolve delivers the terminal result. Buffered channels make resolution
// exactly-once by construction: the registry removes the entry before
// resolving, so no second resolver can hold it.
func (p *pendingRun) resolve(result RunResult) {
	p.done <- result
}

func (p *pendingRun) reject(err error) {
	p.err <- err
}

// registry owns correlation state for in-flight runs: the
// pending-completion table keyed by the kernel-issued request id and the
// message-id-to-window bindings used to route inbound traffic. It is
// scoped to one Coordinator and recreated empty on session reset.
type registry struct {
	mu      sync.Mutex
	pending map[string]*pendingRun
	windows map[string]string
}

func newRegistry() *registry {
	return &registry{
		pending: make(map[string]*pendingRun),
		windows: make(map[string]string),
	}
}

// register records a pending run and binds its request id to the window.
func (r *registry) register(p *pendingRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.requestID] = p
	if p.windowID != "" {
		r.windows[p.requestID] = p.windowID
	}
}

// complete removes and returns the pending run for a request id.
func (r *registry) complete(requestID string) (*pendingRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	return p, ok
}

// discard drops a pending run without resolving it (caller gave up).
func (r *registry) discard(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

// resolveWindow maps an inbound message to its window: the explicit
// window-id metadata tag wins, then the message's own id, then its parent
// id, looked up in the binding table. Unresolved messages belong to no
// window and are routed to the global log only.
func (r *registry) resolveWindow(msg *protocol.Message) (string, bool) {
	if id := msg.WindowID(); id != "" {
		return id, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.windows[msg.ID()]; ok {
		return id, true
	}
	if id, ok := r.windows[msg.ParentID()]; ok {
		return id, true
	}
	return "", false
}

// drain removes every pending run and binding, returning the drained runs
// so the caller can reject them.
func (r *registry) drain() []*pendingRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make([]*pendingRun, 0, len(r.pending))
	for id, p := range r.pending {
		drained = append(drained, p)
		delete(r.pending, id)
	}
	r.windows = make(map[string]string)
	return drained
}
