package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
)

// RecordKind classifies one output record.
type RecordKind string

const (
	KindStdout RecordKind = "stdout"
	KindStderr RecordKind = "stderr"
	KindResult RecordKind = "result"
	KindError  RecordKind = "error"
)

// Record is one entry in a window's output log. For result records the
// full representation map and its metadata are retained alongside the
// selected MIME type; Text always carries a flattened fallback for
// consumers that only render plain text.
type Record struct {
	Kind      RecordKind     `json:"kind"`
	Text      string         `json:"text"`
	MIMEType  string         `json:"mime_type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// representationPriority is the fixed preference order for rich payloads.
var representationPriority = []string{
	protocol.MIMEHTML,
	protocol.MIMESVG,
	protocol.MIMEPNG,
	protocol.MIMEJPEG,
	protocol.MIMEGIF,
	protocol.MIMEJSON,
	protocol.MIMEMarkdown,
	protocol.MIMELaTeX,
	protocol.MIMEPlainText,
}

// selectRepresentation picks exactly one MIME type from an offered
// representation map. When nothing in the priority list matches, any
// remaining representation is taken.
func selectRepresentation(data map[string]any) (string, bool) {
	for _, mime := range representationPriority {
		if _, ok := data[mime]; ok {
			return mime, true
		}
	}
	for mime := range data {
		return mime, true
	}
	return "", false
}

// fallbackText flattens a representation map for plain-text consumers.
func fallbackText(data map[string]any) string {
	if text, ok := data[protocol.MIMEPlainText].(string); ok {
		return text
	}
	if html, ok := data[protocol.MIMEHTML].(string); ok {
		return html
	}
	return ""
}

// flattenError turns an error payload into one displayable string.
func flattenError(name, message string, traceback []string) string {
	if len(traceback) > 0 {
		return strings.Join(traceback, "\n")
	}
	return fmt.Sprintf("%s: %s", name, message)
}
