package router

import "github.com/jupyter-desktop/kernelcore/observability"

// Router event types.
const (
	EventRecord   observability.EventType = "router.record"
	EventFiltered observability.EventType = "router.filtered"
	EventClear    observability.EventType = "router.clear"
)
