// Package protocol defines the interpreter wire-message model shared by the
// gateway, coordinator, router, and schedule subsystems.
//
// Every message carries a header with a kernel-visible correlation id, a
// parent header referencing the request that caused it, free-form metadata,
// and a JSON content payload. Inbound messages are additionally tagged with
// the transport channel they arrived on.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport channel a message travels on.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelControl Channel = "control"
	ChannelStdin   Channel = "stdin"
)

// MessageType identifies the kind of a wire message.
type MessageType string

const (
	MessageTypeExecuteRequest    MessageType = "execute_request"
	MessageTypeExecuteReply      MessageType = "execute_reply"
	MessageTypeExecuteInput      MessageType = "execute_input"
	MessageTypeExecuteResult     MessageType = "execute_result"
	MessageTypeDisplayData       MessageType = "display_data"
	MessageTypeStream            MessageType = "stream"
	MessageTypeError             MessageType = "error"
	MessageTypeStatus            MessageType = "status"
	MessageTypeKernelInfoRequest MessageType = "kernel_info_request"
	MessageTypeKernelInfoReply   MessageType = "kernel_info_reply"
	MessageTypeInterruptRequest  MessageType = "interrupt_request"
	MessageTypeInterruptReply    MessageType = "interrupt_reply"
	MessageTypeCommOpen          MessageType = "comm_open"
	MessageTypeCommMsg           MessageType = "comm_msg"
	MessageTypeCommClose         MessageType = "comm_close"

	// MessageTypeDisconnect is synthesized by the gateway when the transport
	// dies; it never travels on the wire.
	MessageTypeDisconnect MessageType = "disconnect"
)

// Metadata keys attached to outbound execute requests so downstream routing
// never has to guess which window caused a message.
const (
	// MetadataWindowID tags a request with the originating window.
	MetadataWindowID = "windowId"
	// MetadataCellID tags a request with a per-submission cell identifier,
	// distinct from the correlation id, for the dependency tracker.
	MetadataCellID = "cellId"
)

// ProtocolVersion is the messaging protocol version sent in headers.
const ProtocolVersion = "5.3"

// Header carries message identity and typing.
type Header struct {
	MsgID    string      `json:"msg_id"`
	MsgType  MessageType `json:"msg_type"`
	Session  string      `json:"session"`
	Username string      `json:"username"`
	Date     time.Time   `json:"date"`
	Version  string      `json:"version"`
}

// Message is one wire message. Content stays raw JSON until a consumer
// decodes it into a typed payload via DecodeContent.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Content      json.RawMessage `json:"content"`
	Channel      Channel         `json:"channel,omitempty"`
}

// ID returns the message's own correlation id.
func (m *Message) ID() string {
	return m.Header.MsgID
}

// Type returns the message kind.
func (m *Message) Type() MessageType {
	return m.Header.MsgType
}

// ParentID returns the id of the request that caused this message, or ""
// for unparented messages.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// WindowID returns the window-id metadata tag, or "" if absent.
func (m *Message) WindowID() string {
	return m.metadataString(MetadataWindowID)
}

// CellID returns the cell-identifier metadata tag, or "" if absent.
func (m *Message) CellID() string {
	return m.metadataString(MetadataCellID)
}

func (m *Message) metadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// DecodeContent unmarshals the raw content into a typed payload.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return nil
	}
	return json.Unmarshal(m.Content, v)
}

// NewRequest builds an outbound message with a fresh UUIDv7 correlation id.
// Content is marshaled immediately so send failures surface at build time
// rather than inside the transport.
func NewRequest(session string, msgType MessageType, content any, metadata map[string]any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	return &Message{
		Header: Header{
			MsgID:    generateID(),
			MsgType:  msgType,
			Session:  session,
			Username: "kernelcore",
			Date:     time.Now().UTC(),
			Version:  ProtocolVersion,
		},
		Metadata: metadata,
		Content:  raw,
		Channel:  ChannelShell,
	}, nil
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}
