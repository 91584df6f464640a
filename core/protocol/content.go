package protocol

import "encoding/json"

// Execution reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Kernel execution states reported by status notifications.
const (
	ExecutionStateBusy     = "busy"
	ExecutionStateIdle     = "idle"
	ExecutionStateStarting = "starting"
)

// ExecuteRequestContent is the payload of an execute_request.
type ExecuteRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReplyContent is the payload of an execute_reply. Error fields are
// populated only when Status is "error".
type ExecuteReplyContent struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	Name           string   `json:"ename,omitempty"`
	Message        string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// ExecuteInputContent is the payload of the execution-started notification.
type ExecuteInputContent struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// StreamContent is the payload of a stream notification.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayDataContent is the payload of execute_result and display_data
// notifications: a representation map keyed by MIME type plus a metadata
// map keyed the same way (image dimensions and the like).
type DisplayDataContent struct {
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount int            `json:"execution_count,omitempty"`
}

// ErrorContent is the payload of an error notification.
type ErrorContent struct {
	Name      string   `json:"ename"`
	Message   string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusContent is the payload of a kernel status notification.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// KernelInfoReplyContent is the subset of the kernel_info_reply payload the
// gateway handshake inspects.
type KernelInfoReplyContent struct {
	Status          string `json:"status"`
	ProtocolVersion string `json:"protocol_version"`
	Implementation  string `json:"implementation"`
	Banner          string `json:"banner,omitempty"`
}

// CommOpenContent opens a side channel to a kernel-side comm target.
type CommOpenContent struct {
	CommID     string          `json:"comm_id"`
	TargetName string          `json:"target_name"`
	Data       json.RawMessage `json:"data"`
}

// CommMsgContent carries one side-channel message on an open comm.
type CommMsgContent struct {
	CommID string          `json:"comm_id"`
	Data   json.RawMessage `json:"data"`
}
