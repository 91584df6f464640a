package gateway

import "github.com/jupyter-desktop/kernelcore/observability"

// Gateway event types emitted during the session lifecycle.
const (
	EventSessionCreate observability.EventType = "gateway.session.create"
	EventHandshake     observability.EventType = "gateway.handshake"
	EventStatusChange  observability.EventType = "gateway.status"
	EventDisconnect    observability.EventType = "gateway.disconnect"
	EventReconnect     observability.EventType = "gateway.reconnect"
	EventRestart       observability.EventType = "gateway.restart"
	EventSendFailed    observability.EventType = "gateway.send.failed"
	EventDropped       observability.EventType = "gateway.subscriber.dropped"
)
