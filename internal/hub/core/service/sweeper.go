package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// RunSweeper drives the background sweep until ctx is cancelled. Each tick
// expires overdue commands and promotes stalled entries to fallback
// eligibility.
func (s *Service) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.opts.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep pass.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.now()
	s.expireOverdue(ctx, now)
	s.promoteStalled(ctx, now)
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
}

// expireOverdue moves commands past their deadline to expired. The store's
// compare-and-swap guarantees a result or cancel racing the sweep resolves
// the command exactly once.
func (s *Service) expireOverdue(ctx context.Context, now time.Time) {
	for _, e := range s.queue.Expired(now) {
		cmd, err := s.commands.Lookup(ctx, e.CommandID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				s.resolve(e.CommandID)
			}
			continue
		}
		if cmd.State.Terminal() {
			s.resolve(e.CommandID)
			continue
		}

		result, _ := json.Marshal(map[string]any{"error": core.ErrExpired.Error()})
		if _, err := s.transition(ctx, cmd, model.StateExpired, result, &now); err != nil {
			if errors.Is(err, core.ErrStaleTransition) {
				// Someone else resolved it between lookup and swap; the next
				// pass or the winning writer cleans up the entry.
				continue
			}
			s.logger.Error(err, "expire failed", "commandId", e.CommandID)
			continue
		}
		s.resolve(e.CommandID)
		s.logger.Info("command expired", "commandId", e.CommandID, "deviceId", e.DeviceID)
	}
}

// promoteStalled retries the broker push for entries whose grace elapsed
// without any delivery attempt succeeding. Fallback delivery itself is
// device-driven: a pending entry is always served to a poll.
func (s *Service) promoteStalled(ctx context.Context, now time.Time) {
	if s.notifier == nil {
		return
	}
	for _, e := range s.queue.DueForFallback(now) {
		if e.Attempted != model.ChannelNone {
			continue
		}
		cmd, err := s.commands.Lookup(ctx, e.CommandID)
		if err != nil || cmd.State.Terminal() {
			continue
		}
		s.publish(ctx, cmd)
	}
}
