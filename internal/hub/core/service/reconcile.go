package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// resultRecord is what gets persisted on the command when a report lands.
type resultRecord struct {
	Outcome    model.Outcome   `json:"outcome"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	ReportedAt time.Time       `json:"reportedAt"`
	Transport  model.Channel   `json:"transport"`
}

// ReportResult folds a device result into the matching command exactly once.
// Reports for unknown commands or from the wrong device are rejected with
// ErrUnknownCommand. A report arriving after the command is already terminal
// is acknowledged without effect: result application is idempotent.
func (s *Service) ReportResult(ctx context.Context, report model.ResultReport) error {
	if !report.Outcome.Valid() {
		return fmt.Errorf("outcome %q: %w", report.Outcome, core.ErrUnknownCommand)
	}

	cmd, err := s.commands.Lookup(ctx, report.CommandID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.metrics.UnknownResults.Inc()
			return fmt.Errorf("result for %s: %w", report.CommandID, core.ErrUnknownCommand)
		}
		return err
	}
	if cmd.DeviceID != report.DeviceID {
		s.metrics.UnknownResults.Inc()
		return fmt.Errorf("result for %s from device %s, issued to %s: %w",
			report.CommandID, report.DeviceID, cmd.DeviceID, core.ErrUnknownCommand)
	}

	// A lost compare-and-swap means a racing writer touched the command; one
	// re-read settles whether this report is a duplicate or still applies.
	for attempt := 0; ; attempt++ {
		if cmd.State.Terminal() {
			s.metrics.DuplicateResults.Inc()
			s.logger.Debug("duplicate result ignored",
				"commandId", report.CommandID, "state", string(cmd.State))
			return nil
		}

		err := s.applyResult(ctx, cmd, report)
		if err == nil {
			break
		}
		if !errors.Is(err, core.ErrStaleTransition) || attempt >= 2 {
			return err
		}
		if cmd, err = s.commands.Lookup(ctx, report.CommandID); err != nil {
			return err
		}
	}

	s.resolve(report.CommandID)
	if report.Transport != "" && report.Transport != model.ChannelNone {
		if err := s.devices.UpdateChannelState(ctx, report.DeviceID, report.Transport, s.now()); err != nil {
			s.logger.Warn("channel state update failed", "deviceId", report.DeviceID, "error", err.Error())
		}
	}

	s.logger.Info("result applied",
		"commandId", report.CommandID, "deviceId", report.DeviceID,
		"outcome", string(report.Outcome), "transport", string(report.Transport))
	return nil
}

// applyResult walks the command to its terminal state for the report. A
// success reported while the command is still created means the push landed
// without any dispatch mark; both edges are taken so the audit trail stays
// whole.
func (s *Service) applyResult(ctx context.Context, cmd *model.Command, report model.ResultReport) error {
	target := model.StateFailed
	if report.Outcome == model.OutcomeSuccess {
		target = model.StateCompleted
	}

	if cmd.State == model.StateCreated && target == model.StateCompleted {
		updated, err := s.transition(ctx, cmd, model.StateDispatched, nil, nil)
		if err != nil {
			return err
		}
		cmd = updated
	}

	now := s.now()
	record, err := json.Marshal(resultRecord{
		Outcome:    report.Outcome,
		Detail:     report.Detail,
		ReportedAt: report.ReportedAt,
		Transport:  report.Transport,
	})
	if err != nil {
		return fmt.Errorf("marshal result for %s: %w", report.CommandID, err)
	}

	_, err = s.transition(ctx, cmd, target, record, &now)
	return err
}
