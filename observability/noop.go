package observability

import "context"

// NoOpObserver discards all events with zero overhead. Every subsystem
// defaults to it so observation stays strictly opt-in.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}
