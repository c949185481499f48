// Package memory provides a map-backed implementation of the store ports.
// It serves development mode (no Redis configured) and the test suites; the
// compare-and-swap semantics are identical to the Redis adapter.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// Store implements core.Repository over process-local maps.
type Store struct {
	mu       sync.RWMutex
	commands map[string]*model.Command
	devices  map[string]*model.Device
	channels map[string]model.DeviceChannelState
}

var _ core.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		commands: make(map[string]*model.Command),
		devices:  make(map[string]*model.Device),
		channels: make(map[string]model.DeviceChannelState),
	}
}

// Commands returns the command store port.
func (s *Store) Commands() core.CommandStore { return &commandStore{s} }

// Devices returns the device repository port.
func (s *Store) Devices() core.DeviceRepository { return &deviceStore{s} }

type commandStore struct{ s *Store }

var _ core.CommandStore = (*commandStore)(nil)

func (r *commandStore) Create(ctx context.Context, cmd *model.Command) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.commands[cmd.ID]; ok {
		return fmt.Errorf("command %s already exists", cmd.ID)
	}
	r.s.commands[cmd.ID] = cmd.Clone()
	return nil
}

func (r *commandStore) Get(ctx context.Context, tenantID, commandID string) (*model.Command, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	cmd, ok := r.s.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", commandID, core.ErrNotFound)
	}
	if cmd.TenantID != tenantID {
		return nil, fmt.Errorf("get %s: %w", commandID, core.ErrForbidden)
	}
	return cmd.Clone(), nil
}

func (r *commandStore) Lookup(ctx context.Context, commandID string) (*model.Command, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	cmd, ok := r.s.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", commandID, core.ErrNotFound)
	}
	return cmd.Clone(), nil
}

func (r *commandStore) Transition(ctx context.Context, commandID string, from, to model.CommandState, result json.RawMessage, resultAt *time.Time) (*model.Command, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cmd, ok := r.s.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("transition %s: %w", commandID, core.ErrNotFound)
	}
	if cmd.State != from {
		return nil, fmt.Errorf("transition %s: state is %s, expected %s: %w",
			commandID, cmd.State, from, core.ErrStaleTransition)
	}
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("transition %s: %s -> %s is not a legal edge: %w",
			commandID, from, to, core.ErrStaleTransition)
	}

	cmd.State = to
	if result != nil {
		cmd.Result = append(json.RawMessage(nil), result...)
	}
	if resultAt != nil {
		t := *resultAt
		cmd.ResultAt = &t
	}
	return cmd.Clone(), nil
}

func (r *commandStore) IncrementAttempts(ctx context.Context, commandID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cmd, ok := r.s.commands[commandID]
	if !ok {
		return fmt.Errorf("increment attempts %s: %w", commandID, core.ErrNotFound)
	}
	cmd.Attempts++
	return nil
}

func (r *commandStore) ListActive(ctx context.Context) ([]*model.Command, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Command
	for _, cmd := range r.s.commands {
		if !cmd.State.Terminal() {
			out = append(out, cmd.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type deviceStore struct{ s *Store }

var _ core.DeviceRepository = (*deviceStore)(nil)

func (r *deviceStore) Register(ctx context.Context, device *model.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.devices[device.ID]; ok {
		return nil
	}
	d := *device
	r.s.devices[device.ID] = &d
	return nil
}

func (r *deviceStore) Get(ctx context.Context, tenantID, deviceID string) (*model.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	device, ok := r.s.devices[deviceID]
	if !ok || device.TenantID != tenantID {
		return nil, fmt.Errorf("device %s: %w", deviceID, core.ErrInvalidTarget)
	}
	d := *device
	return &d, nil
}

func (r *deviceStore) UpdateChannelState(ctx context.Context, deviceID string, ch model.Channel, seenAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.channels[deviceID] = model.DeviceChannelState{
		DeviceID:    deviceID,
		LastChannel: ch,
		LastSeen:    seenAt,
	}
	return nil
}

func (r *deviceStore) ChannelState(ctx context.Context, deviceID string) (model.DeviceChannelState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if st, ok := r.s.channels[deviceID]; ok {
		return st, nil
	}
	return model.DeviceChannelState{DeviceID: deviceID, LastChannel: model.ChannelUnknown}, nil
}
