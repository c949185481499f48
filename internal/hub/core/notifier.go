package core

import (
	"context"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// CommandNotifier is the best-effort asynchronous push of a command to a
// device topic. Implemented by the MQTT outbound adapter. A failed Notify is
// never a command failure: the device falls back to polling.
type CommandNotifier interface {
	// Notify publishes the command to the device's topic. It must return
	// within a short bounded timeout; on failure it returns an error
	// wrapping ErrTransportUnavailable.
	Notify(ctx context.Context, cmd *model.Command) error
}

// EventSink receives a state-change event on every successful command
// transition. The audit log writer consumes these; the engine does not
// define their storage.
type EventSink interface {
	CommandStateChanged(ctx context.Context, ev model.StateChangeEvent)
}

// ArtifactResolver turns an object key referenced by an update_recipe
// payload into a time-limited download URL, so devices never see storage
// credentials.
type ArtifactResolver interface {
	ResolveURL(ctx context.Context, objectKey string) (string, error)
}
