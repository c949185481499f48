package service

import (
	"context"
	"errors"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// PollCommands returns every command still pending for the device, earliest
// first, and marks freshly delivered ones dispatched. Polling is idempotent:
// commands stay queued until a result, cancellation or expiry resolves them,
// so a device that loses the poll response simply polls again.
func (s *Service) PollCommands(ctx context.Context, deviceID string) ([]*model.Command, error) {
	now := s.now()
	if err := s.devices.UpdateChannelState(ctx, deviceID, model.ChannelHTTP, now); err != nil {
		s.logger.Warn("channel state update failed", "deviceId", deviceID, "error", err.Error())
	}

	entries := s.queue.Drain(deviceID)
	out := make([]*model.Command, 0, len(entries))

	for _, e := range entries {
		cmd, err := s.commands.Lookup(ctx, e.CommandID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Queue entry outlived its command; drop it.
				s.resolve(e.CommandID)
				continue
			}
			return nil, err
		}

		switch cmd.State {
		case model.StateCreated:
			updated, err := s.transition(ctx, cmd, model.StateDispatched, nil, nil)
			if err != nil {
				if errors.Is(err, core.ErrStaleTransition) {
					// A racing poll or result moved it first; re-read.
					if cmd, err = s.commands.Lookup(ctx, e.CommandID); err != nil || cmd.State.Terminal() {
						s.resolve(e.CommandID)
						continue
					}
				} else {
					return nil, err
				}
			} else {
				cmd = updated
			}
		case model.StateDispatched:
			// Re-delivery of an unacknowledged command.
		default:
			// Terminal command still queued; the resolver lost a race
			// against us, clean up here.
			s.resolve(e.CommandID)
			continue
		}

		s.queue.MarkAttempted(cmd.ID, model.ChannelHTTP)
		if err := s.commands.IncrementAttempts(ctx, cmd.ID); err != nil {
			s.logger.Warn("attempt counter update failed", "commandId", cmd.ID, "error", err.Error())
		}
		out = append(out, cmd)
	}

	s.logger.Debug("poll served", "deviceId", deviceID, "commands", len(out))
	return out, nil
}
