package coordinator

import "github.com/jupyter-desktop/kernelcore/observability"

// Coordinator event types emitted around the run lifecycle.
const (
	EventRunStart      observability.EventType = "coordinator.run.start"
	EventRunComplete   observability.EventType = "coordinator.run.complete"
	EventRunError      observability.EventType = "coordinator.run.error"
	EventMark          observability.EventType = "coordinator.mark"
	EventAutoRerun     observability.EventType = "coordinator.rerun"
	EventAutoRerunSkip observability.EventType = "coordinator.rerun.skip"
	EventInterrupt     observability.EventType = "coordinator.interrupt"
	EventReset         observability.EventType = "coordinator.reset"
)
