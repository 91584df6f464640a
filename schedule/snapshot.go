package schedule

// CellMetadata describes one window's code cell as the dependency tracker
// sees it: position, kind, and current source text.
type CellMetadata struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CellTypeCode is the only cell kind the desktop produces.
const CellTypeCode = "code"

// Provider supplies a fresh metadata snapshot keyed by window id. Content
// may change between calls, so the channel always asks for a new snapshot
// rather than caching one.
type Provider interface {
	Snapshot() map[string]CellMetadata
}

// Marker is the coordinator-provided sink for stale-window notifications.
type Marker interface {
	MarkWindowsForReexecution(ids []string)
}
