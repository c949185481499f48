package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// CommandStore is the durable record of every command. All state mutation
// goes through Transition, a compare-and-swap on the state field: the store
// is the authoritative arbiter of state races, no process-wide lock exists.
type CommandStore interface {
	// Create persists a new command in state created. The id must be unique.
	Create(ctx context.Context, cmd *model.Command) error

	// Get retrieves a command, tenant-scoped. Returns ErrNotFound when the
	// id is unknown and ErrForbidden when it belongs to another tenant.
	Get(ctx context.Context, tenantID, commandID string) (*model.Command, error)

	// Lookup retrieves a command without tenant scoping. Used by the
	// reconciler, which authenticates by device instead.
	Lookup(ctx context.Context, commandID string) (*model.Command, error)

	// Transition performs a compare-and-swap of the lifecycle state and
	// returns the updated command. It fails with ErrStaleTransition when the
	// persisted state no longer equals from, and with ErrStaleTransition
	// when from → to is not a legal edge. A non-nil result is recorded
	// together with resultAt.
	Transition(ctx context.Context, commandID string, from, to model.CommandState, result json.RawMessage, resultAt *time.Time) (*model.Command, error)

	// IncrementAttempts bumps the delivery attempt counter without touching
	// state. Publishing is not delivery confirmation.
	IncrementAttempts(ctx context.Context, commandID string) error

	// ListActive returns every command in state created or dispatched, used
	// to rebuild the pending queue after a restart.
	ListActive(ctx context.Context) ([]*model.Command, error)
}

// DeviceRepository is the per-tenant device registry plus the per-device
// channel state the selector consults.
type DeviceRepository interface {
	// Register records a device for a tenant. Idempotent.
	Register(ctx context.Context, device *model.Device) error

	// Get retrieves a device, tenant-scoped. Returns ErrInvalidTarget when
	// the device is unknown to the tenant.
	Get(ctx context.Context, tenantID, deviceID string) (*model.Device, error)

	// UpdateChannelState overwrites the device's last-seen transport.
	UpdateChannelState(ctx context.Context, deviceID string, ch model.Channel, seenAt time.Time) error

	// ChannelState returns the last-seen transport for a device. Devices
	// never seen over any channel report ChannelUnknown.
	ChannelState(ctx context.Context, deviceID string) (model.DeviceChannelState, error)
}

// Repository aggregates the store adapters handed to the service.
type Repository interface {
	Commands() CommandStore
	Devices() DeviceRepository
}
