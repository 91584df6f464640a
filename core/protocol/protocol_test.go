package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
)

func TestNewRequest_AssignsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := protocol.NewRequest("sess", protocol.MessageTypeExecuteRequest, protocol.ExecuteRequestContent{Code: "x"}, nil)
		if err != nil {
			t.Fatalf("NewRequest failed: %v", err)
		}
		if msg.ID() == "" {
			t.Fatal("empty message id")
		}
		if seen[msg.ID()] {
			t.Fatalf("duplicate id %q", msg.ID())
		}
		seen[msg.ID()] = true
	}
}

func TestNewRequest_HeaderFields(t *testing.T) {
	msg, err := protocol.NewRequest("sess-1", protocol.MessageTypeKernelInfoRequest, struct{}{}, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if msg.Type() != protocol.MessageTypeKernelInfoRequest {
		t.Errorf("got type %q, want %q", msg.Type(), protocol.MessageTypeKernelInfoRequest)
	}
	if msg.Header.Session != "sess-1" {
		t.Errorf("got session %q, want %q", msg.Header.Session, "sess-1")
	}
	if msg.Channel != protocol.ChannelShell {
		t.Errorf("got channel %q, want %q", msg.Channel, protocol.ChannelShell)
	}
	if msg.Header.Version != protocol.ProtocolVersion {
		t.Errorf("got version %q, want %q", msg.Header.Version, protocol.ProtocolVersion)
	}
}

func TestMessage_MetadataTags(t *testing.T) {
	msg, err := protocol.NewRequest("sess", protocol.MessageTypeExecuteRequest,
		protocol.ExecuteRequestContent{Code: "x = 1"},
		map[string]any{
			protocol.MetadataWindowID: "win-a",
			protocol.MetadataCellID:   "cell-1",
		})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if got := msg.WindowID(); got != "win-a" {
		t.Errorf("got window id %q, want %q", got, "win-a")
	}
	if got := msg.CellID(); got != "cell-1" {
		t.Errorf("got cell id %q, want %q", got, "cell-1")
	}
}

func TestMessage_MetadataTagsAbsent(t *testing.T) {
	var msg protocol.Message
	if got := msg.WindowID(); got != "" {
		t.Errorf("got window id %q, want empty", got)
	}
	if got := msg.CellID(); got != "" {
		t.Errorf("got cell id %q, want empty", got)
	}
}

func TestMessage_DecodeContent(t *testing.T) {
	raw := `{
		"header": {"msg_id": "abc", "msg_type": "stream"},
		"parent_header": {"msg_id": "req-1"},
		"content": {"name": "stdout", "text": "hello\n"},
		"channel": "iopub"
	}`

	var msg protocol.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if msg.ParentID() != "req-1" {
		t.Errorf("got parent id %q, want %q", msg.ParentID(), "req-1")
	}

	var content protocol.StreamContent
	if err := msg.DecodeContent(&content); err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if content.Name != protocol.StreamStdout {
		t.Errorf("got stream name %q, want %q", content.Name, protocol.StreamStdout)
	}
	if content.Text != "hello\n" {
		t.Errorf("got text %q, want %q", content.Text, "hello\n")
	}
}

func TestMessage_DecodeEmptyContent(t *testing.T) {
	var msg protocol.Message
	var content protocol.ExecuteReplyContent
	if err := msg.DecodeContent(&content); err != nil {
		t.Fatalf("DecodeContent on empty content failed: %v", err)
	}
}
