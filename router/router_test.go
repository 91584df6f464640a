package router_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
	"github.com/jupyter-desktop/kernelcore/router"
)

type fakeSource struct {
	feed      chan *protocol.Message
	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{feed: make(chan *protocol.Message, 64)}
}

func (s *fakeSource) Subscribe(buffer int) (<-chan *protocol.Message, func()) {
	return s.feed, func() {
		s.closeOnce.Do(func() { close(s.feed) })
	}
}

func (s *fakeSource) Deliver(msg *protocol.Message) {
	s.feed <- msg
}

// mapResolver resolves by explicit metadata tag first, then by a fixed
// parent-id binding table.
type mapResolver struct {
	mu       sync.Mutex
	bindings map[string]string
}

func newMapResolver() *mapResolver {
	return &mapResolver{bindings: make(map[string]string)}
}

func (r *mapResolver) Bind(requestID, windowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[requestID] = windowID
}

func (r *mapResolver) ResolveWindow(msg *protocol.Message) (string, bool) {
	if id := msg.WindowID(); id != "" {
		return id, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bindings[msg.ParentID()]
	return id, ok
}

var msgCounter int
var msgCounterMu sync.Mutex

func notification(msgType protocol.MessageType, parentID string, content any) *protocol.Message {
	msgCounterMu.Lock()
	msgCounter++
	id := fmt.Sprintf("kernel-msg-%d", msgCounter)
	msgCounterMu.Unlock()

	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return &protocol.Message{
		Header:       protocol.Header{MsgID: id, MsgType: msgType, Session: "kernel"},
		ParentHeader: protocol.Header{MsgID: parentID},
		Content:      raw,
		Channel:      protocol.ChannelIOPub,
	}
}

func stdout(parentID, text string) *protocol.Message {
	return notification(protocol.MessageTypeStream, parentID,
		protocol.StreamContent{Name: protocol.StreamStdout, Text: text})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func setup(t *testing.T) (*fakeSource, *mapResolver, *router.Router) {
	t.Helper()
	source := newFakeSource()
	resolver := newMapResolver()
	r := router.New(source, resolver, router.Config{})
	t.Cleanup(r.Shutdown)
	return source, resolver, r
}

func TestMarkerPrecedesRunOutput(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	source.Deliver(notification(protocol.MessageTypeExecuteInput, "req-1",
		protocol.ExecuteInputContent{Code: "print('hi')", ExecutionCount: 3}))
	source.Deliver(stdout("req-1", "hi\n"))

	waitFor(t, "two records", func() bool {
		return len(r.Output("win-a")) == 2
	})

	records := r.Output("win-a")
	if records[0].Kind != router.KindStdout || records[0].Text != "In [3]:" {
		t.Errorf("first record = %+v, want execution marker In [3]:", records[0])
	}
	if records[1].Text != "hi\n" {
		t.Errorf("second record text = %q, want %q", records[1].Text, "hi\n")
	}
}

func TestStreamKindMapping(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	source.Deliver(stdout("req-1", "out"))
	source.Deliver(notification(protocol.MessageTypeStream, "req-1",
		protocol.StreamContent{Name: protocol.StreamStderr, Text: "warn"}))

	waitFor(t, "two records", func() bool {
		return len(r.Output("win-a")) == 2
	})

	records := r.Output("win-a")
	if records[0].Kind != router.KindStdout {
		t.Errorf("stdout record kind = %q, want %q", records[0].Kind, router.KindStdout)
	}
	if records[1].Kind != router.KindStderr {
		t.Errorf("stderr record kind = %q, want %q", records[1].Kind, router.KindStderr)
	}
}

func TestRepresentationPriority(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	data := map[string]any{
		protocol.MIMEPlainText: "<Figure 640x480>",
		protocol.MIMEPNG:       "iVBORw0KGgo=",
	}
	source.Deliver(notification(protocol.MessageTypeDisplayData, "req-1",
		protocol.DisplayDataContent{
			Data:     data,
			Metadata: map[string]any{protocol.MIMEPNG: map[string]any{"width": 640.0}},
		}))

	waitFor(t, "result record", func() bool {
		return len(r.Output("win-a")) == 1
	})

	record := r.Output("win-a")[0]
	if record.Kind != router.KindResult {
		t.Fatalf("record kind = %q, want %q", record.Kind, router.KindResult)
	}
	if record.MIMEType != protocol.MIMEPNG {
		t.Errorf("selected representation = %q, want %q", record.MIMEType, protocol.MIMEPNG)
	}
	if record.Text != "<Figure 640x480>" {
		t.Errorf("fallback text = %q, want plain-text representation", record.Text)
	}
	if len(record.Data) != 2 {
		t.Errorf("record retained %d representations, want 2", len(record.Data))
	}
	if record.Metadata == nil {
		t.Error("record dropped representation metadata")
	}
}

func TestRepresentationFallbackToFirstRemaining(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	source.Deliver(notification(protocol.MessageTypeExecuteResult, "req-1",
		protocol.DisplayDataContent{
			Data: map[string]any{"application/vnd.custom+json": map[string]any{"v": 1.0}},
		}))

	waitFor(t, "result record", func() bool {
		return len(r.Output("win-a")) == 1
	})
	if got := r.Output("win-a")[0].MIMEType; got != "application/vnd.custom+json" {
		t.Errorf("selected representation = %q, want the only offered one", got)
	}
}

func TestErrorRecordFlattening(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	source.Deliver(notification(protocol.MessageTypeError, "req-1",
		protocol.ErrorContent{
			Name:      "ZeroDivisionError",
			Message:   "division by zero",
			Traceback: []string{"Traceback (most recent call last):", "ZeroDivisionError: division by zero"},
		}))
	source.Deliver(notification(protocol.MessageTypeError, "req-1",
		protocol.ErrorContent{Name: "ValueError", Message: "bad input"}))

	waitFor(t, "two error records", func() bool {
		return len(r.Output("win-a")) == 2
	})

	records := r.Output("win-a")
	if !strings.Contains(records[0].Text, "Traceback") {
		t.Errorf("traceback record text = %q, want joined traceback", records[0].Text)
	}
	if records[1].Text != "ValueError: bad input" {
		t.Errorf("tracebackless record text = %q, want name: message", records[1].Text)
	}
	for _, record := range records {
		if record.Kind != router.KindError {
			t.Errorf("record kind = %q, want %q", record.Kind, router.KindError)
		}
	}
}

func TestUnresolvedGoesToGlobalOnly(t *testing.T) {
	source, _, r := setup(t)

	source.Deliver(stdout("unknown-req", "orphan"))

	waitFor(t, "global record", func() bool {
		return len(r.Output("")) == 1
	})
	if got := len(r.Output("win-a")); got != 0 {
		t.Errorf("unresolved output reached a window log, got %d records", got)
	}
}

func TestDenyListDropsRecords(t *testing.T) {
	source := newFakeSource()
	resolver := newMapResolver()
	r := router.New(source, resolver, router.Config{DenyList: []string{"internal noise"}})
	defer r.Shutdown()
	resolver.Bind("req-1", "win-a")

	source.Deliver(stdout("req-1", "some INTERNAL NOISE here"))
	source.Deliver(stdout("req-1", "keep me"))

	waitFor(t, "surviving record", func() bool {
		return len(r.Output("win-a")) == 1
	})
	if got := r.Output("win-a")[0].Text; got != "keep me" {
		t.Errorf("surviving record = %q, want %q", got, "keep me")
	}
	if got := len(r.Output("")); got != 1 {
		t.Errorf("global log has %d records, want 1", got)
	}
}

func TestClearOutput(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")
	resolver.Bind("req-2", "win-b")

	source.Deliver(stdout("req-1", "a"))
	source.Deliver(stdout("req-2", "b"))
	waitFor(t, "both windows populated", func() bool {
		return len(r.Output("win-a")) == 1 && len(r.Output("win-b")) == 1
	})

	r.ClearOutput("win-a")
	if got := len(r.Output("win-a")); got != 0 {
		t.Errorf("cleared window has %d records, want 0", got)
	}
	if got := len(r.Output("win-b")); got != 1 {
		t.Errorf("untouched window has %d records, want 1", got)
	}
	if got := len(r.Output("")); got != 2 {
		t.Errorf("global log has %d records after single clear, want 2", got)
	}

	r.ClearOutput("")
	if got := len(r.Output("win-b")); got != 0 {
		t.Errorf("window log has %d records after clear-all, want 0", got)
	}
	if got := len(r.Output("")); got != 0 {
		t.Errorf("global log has %d records after clear-all, want 0", got)
	}
}

func TestSubscribeOutputDeliversFullLog(t *testing.T) {
	source, resolver, r := setup(t)
	resolver.Bind("req-1", "win-a")

	logs, cancel := r.SubscribeOutput("win-a")
	defer cancel()

	// Initial delivery is the (empty) current log.
	select {
	case log := <-logs:
		if len(log) != 0 {
			t.Fatalf("initial log has %d records, want 0", len(log))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial log delivery")
	}

	source.Deliver(stdout("req-1", "first"))
	select {
	case log := <-logs:
		if len(log) != 1 || log[0].Text != "first" {
			t.Fatalf("log after append = %+v, want single record", log)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery after append")
	}

	source.Deliver(stdout("req-1", "second"))
	select {
	case log := <-logs:
		if len(log) != 2 {
			t.Fatalf("log after second append has %d records, want 2", len(log))
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery after second append")
	}
}
