// Package audit writes the command state-change trail. The engine emits an
// event on every successful transition; this sink renders them as structured
// log lines so the trail lands wherever the process logs go.
package audit

import (
	"context"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/pkg/log"
)

// LogSink implements core.EventSink on the structured logger.
type LogSink struct {
	logger log.Logger
}

var _ core.EventSink = (*LogSink)(nil)

// NewLogSink creates the sink.
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: logger.WithName("audit")}
}

// CommandStateChanged records one transition.
func (s *LogSink) CommandStateChanged(ctx context.Context, ev model.StateChangeEvent) {
	s.logger.Info("command state changed",
		"commandId", ev.CommandID,
		"deviceId", ev.DeviceID,
		"tenantId", ev.TenantID,
		"from", string(ev.From),
		"to", string(ev.To),
		"at", ev.At,
	)
}
