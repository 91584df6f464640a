package schedule

import "github.com/jupyter-desktop/kernelcore/observability"

// Schedule channel event types.
const (
	EventEstablish       observability.EventType = "schedule.establish"
	EventEstablishFailed observability.EventType = "schedule.establish.failed"
	EventRecompute       observability.EventType = "schedule.recompute"
	EventStale           observability.EventType = "schedule.stale"
	EventProtocolError   observability.EventType = "schedule.protocol_error"
)
