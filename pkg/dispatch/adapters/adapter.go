// Package adapters implements the four destination kinds the dispatcher can
// deliver an event to: webhook, email, object storage, and chat.
package adapters

import "context"

// Result is what a destination call reports back to the dispatcher for the
// delivery_logs row: a response status/body pair when the destination is an
// HTTP endpoint.
type Result struct {
	ResponseStatus int
	ResponseBody   string
}

// Destination delivers one event payload to one external system. Send
// returns a non-nil error on any failure; the dispatcher then marks the
// delivery_logs row failed when the Result's ResponseStatus is a 4xx other
// than 429 or the route's max_retries is spent, and retrying otherwise.
type Destination interface {
	Send(ctx context.Context, cfg map[string]any, payload map[string]any) (Result, error)
}
