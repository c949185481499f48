// Package mqtt hosts the inbound pub/sub surface: the hub subscribes to the
// per-device result topics and feeds reports into the reconciler.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/core/service"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/mqtt"
	"github.com/vendhub-io/vendhub/pkg/mqtt/topic"
)

// resultMessage is the wire shape devices publish on
// {root}/{deviceID}/command_result.
type resultMessage struct {
	CommandID  string          `json:"commandId"`
	Outcome    string          `json:"outcome"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	ReportedAt time.Time       `json:"reportedAt"`
}

// Ingress subscribes to device result topics.
type Ingress struct {
	svc    *service.Service
	client mqtt.Client
	topics *topic.Builder
	logger log.Logger
}

// NewIngress builds the inbound adapter on an established client.
func NewIngress(svc *service.Service, client mqtt.Client, topics *topic.Builder, logger log.Logger) *Ingress {
	return &Ingress{
		svc:    svc,
		client: client,
		topics: topics,
		logger: logger.WithName("mqtt-ingress"),
	}
}

// Run subscribes to the result wildcard and blocks until ctx is cancelled.
// The client re-subscribes on every reconnect.
func (i *Ingress) Run(ctx context.Context) error {
	filter := i.topics.CommandResultWildcard()
	if err := i.client.Subscribe(ctx, filter, 1, i.handleResult); err != nil {
		return err
	}
	i.logger.Info("subscribed to device results", "filter", filter)

	<-ctx.Done()
	return ctx.Err()
}

// handleResult parses one inbound report. Malformed or unknown reports are
// logged and dropped; a broker message is never retried by the hub.
func (i *Ingress) handleResult(ctx context.Context, t string, payload []byte) {
	deviceID := i.topics.DeviceID(t)
	if deviceID == "" {
		i.logger.Warn("result on unexpected topic", "topic", t)
		return
	}

	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		i.logger.Warn("malformed result dropped", "topic", t, "error", err.Error())
		return
	}
	if msg.ReportedAt.IsZero() {
		msg.ReportedAt = time.Now()
	}

	err := i.svc.ReportResult(ctx, model.ResultReport{
		CommandID:  msg.CommandID,
		DeviceID:   deviceID,
		Outcome:    model.Outcome(msg.Outcome),
		Detail:     msg.Detail,
		ReportedAt: msg.ReportedAt,
		Transport:  model.ChannelPubSub,
	})
	if err != nil {
		if errors.Is(err, core.ErrUnknownCommand) {
			i.logger.Warn("unmatched result dropped",
				"commandId", msg.CommandID, "deviceId", deviceID)
			return
		}
		i.logger.Error(err, "result reconciliation failed",
			"commandId", msg.CommandID, "deviceId", deviceID)
	}
}
