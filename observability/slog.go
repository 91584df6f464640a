package observability

import (
	"context"
	"log/slog"
)

// SlogObserver emits events to a slog.Logger. Event levels are mapped via
// SlogLevel, the event type becomes the log message, and Data keys are
// flattened as top-level slog attributes. The window and request ids most
// events carry are lifted to the front so log lines group naturally when
// traffic from several windows interleaves.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to the given logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

// leadingAttrs are hoisted ahead of the remaining event data.
var leadingAttrs = []string{"window_id", "request_id"}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for _, key := range leadingAttrs {
		if v, ok := event.Data[key]; ok {
			attrs = append(attrs, slog.Any(key, v))
		}
	}
	for k, v := range event.Data {
		if k == "window_id" || k == "request_id" {
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
