package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/queue"
)

// CreateCommandInput is the operator-facing creation request.
type CreateCommandInput struct {
	TenantID string
	DeviceID string
	Kind     model.CommandKind
	Payload  json.RawMessage

	// Deadline is relative; zero applies the configured default.
	Deadline time.Duration
}

// CreateCommand validates, persists and dispatches a new command. The
// returned command is already enqueued; delivery proceeds asynchronously and
// a broker publish failure is not a creation failure.
func (s *Service) CreateCommand(ctx context.Context, in CreateCommandInput) (*model.Command, error) {
	if _, err := s.devices.Get(ctx, in.TenantID, in.DeviceID); err != nil {
		return nil, err
	}
	if err := model.ValidatePayload(in.Kind, in.Payload); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), core.ErrInvalidPayload)
	}

	payload, err := s.resolveArtifact(ctx, in.Kind, in.Payload)
	if err != nil {
		return nil, err
	}

	deadline := in.Deadline
	if deadline <= 0 {
		deadline = s.opts.DefaultDeadline
	}

	now := s.now()
	cmd := &model.Command{
		ID:        "cmd-" + uuid.NewString(),
		DeviceID:  in.DeviceID,
		TenantID:  in.TenantID,
		Kind:      in.Kind,
		Payload:   payload,
		State:     model.StateCreated,
		CreatedAt: now,
		Deadline:  now.Add(deadline),
	}
	if err := s.commands.Create(ctx, cmd); err != nil {
		return nil, err
	}
	s.metrics.CommandsCreated.WithLabelValues(string(cmd.Kind)).Inc()

	st, err := s.devices.ChannelState(ctx, cmd.DeviceID)
	if err != nil {
		s.logger.Warn("channel state unavailable, assuming unknown",
			"deviceId", cmd.DeviceID, "error", err.Error())
		st = model.DeviceChannelState{DeviceID: cmd.DeviceID, LastChannel: model.ChannelUnknown}
	}
	sel := SelectChannels(st, s.notifier != nil, s.opts.FreshnessWindow, now)

	s.queue.Enqueue(queue.Entry{
		CommandID:  cmd.ID,
		DeviceID:   cmd.DeviceID,
		FallbackAt: now.Add(sel.FallbackDelay),
		ExpireAt:   cmd.Deadline,
	})
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))

	if sel.PubSub {
		s.publish(ctx, cmd)
	}

	s.logger.Info("command created",
		"commandId", cmd.ID, "deviceId", cmd.DeviceID, "kind", string(cmd.Kind),
		"pubsub", sel.PubSub, "deadline", cmd.Deadline)
	return cmd, nil
}

// publish pushes the command over the broker, bounded by the publish
// timeout. It records the attempt but never changes command state: broker
// acceptance is not device receipt.
func (s *Service) publish(ctx context.Context, cmd *model.Command) {
	pctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()

	s.queue.MarkAttempted(cmd.ID, model.ChannelPubSub)
	if err := s.commands.IncrementAttempts(pctx, cmd.ID); err != nil {
		s.logger.Warn("attempt counter update failed", "commandId", cmd.ID, "error", err.Error())
	}

	if err := s.notifier.Notify(pctx, cmd); err != nil {
		s.metrics.PublishFailures.Inc()
		// The command stays pending; make it poll-eligible right away.
		s.queue.PromoteFallback(cmd.ID, s.now())
	}
}

// resolveArtifact rewrites an update_recipe payload whose artifactKey lacks
// a download URL, replacing it with a presigned one.
func (s *Service) resolveArtifact(ctx context.Context, kind model.CommandKind, payload json.RawMessage) (json.RawMessage, error) {
	if kind != model.KindUpdateRecipe {
		return payload, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("update_recipe payload: %w", err)
	}

	var key, pkgURL string
	if raw, ok := fields["artifactKey"]; ok {
		_ = json.Unmarshal(raw, &key)
	}
	if raw, ok := fields["packageUrl"]; ok {
		_ = json.Unmarshal(raw, &pkgURL)
	}
	if key == "" || pkgURL != "" {
		return payload, nil
	}
	if s.resolver == nil {
		return nil, fmt.Errorf("artifactKey %q given but no object store is configured", key)
	}

	resolved, err := s.resolver.ResolveURL(ctx, key)
	if err != nil {
		return nil, err
	}
	urlJSON, _ := json.Marshal(resolved)
	fields["packageUrl"] = urlJSON
	return json.Marshal(fields)
}

// GetCommand returns the command, tenant-scoped, for operator read-back.
func (s *Service) GetCommand(ctx context.Context, tenantID, commandID string) (*model.Command, error) {
	return s.commands.Get(ctx, tenantID, commandID)
}

// CancelCommand aborts a pending command. Cancellation rides the failure
// edge: the command moves to failed with a cancelled result body. A command
// already terminal cannot be cancelled; a concurrent device result and a
// cancel race through the store and exactly one wins.
func (s *Service) CancelCommand(ctx context.Context, tenantID, commandID string) (*model.Command, error) {
	cmd, err := s.commands.Get(ctx, tenantID, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.State.Terminal() {
		return nil, fmt.Errorf("cancel %s: already %s: %w", commandID, cmd.State, core.ErrStaleTransition)
	}

	now := s.now()
	result, _ := json.Marshal(map[string]any{"cancelled": true, "by": tenantID})
	updated, err := s.transition(ctx, cmd, model.StateFailed, result, &now)
	if err != nil {
		return nil, err
	}
	s.resolve(commandID)

	s.logger.Info("command cancelled", "commandId", commandID, "tenantId", tenantID)
	return updated, nil
}

// RegisterDevice records a device in the tenant's registry. Idempotent.
func (s *Service) RegisterDevice(ctx context.Context, tenantID, deviceID string) (*model.Device, error) {
	device := &model.Device{ID: deviceID, TenantID: tenantID, RegisteredAt: s.now()}
	if err := s.devices.Register(ctx, device); err != nil {
		return nil, err
	}
	return s.devices.Get(ctx, tenantID, deviceID)
}
