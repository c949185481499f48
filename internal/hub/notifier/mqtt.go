// Package notifier contains the outbound push adapters. The MQTT notifier
// publishes commands to per-device topics; it is fire-and-forget and never
// decides command state.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/mqtt"
	"github.com/vendhub-io/vendhub/pkg/mqtt/topic"
)

// downMessage is the wire shape published on {root}/{deviceID}/commands.
type downMessage struct {
	CommandID string            `json:"commandId"`
	Kind      model.CommandKind `json:"kind"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	IssuedAt  string            `json:"issuedAt"`
	Deadline  string            `json:"deadline"`
}

// MQTTNotifier implements core.CommandNotifier over an MQTT client.
type MQTTNotifier struct {
	client mqtt.Client
	topics *topic.Builder
	qos    int
	logger log.Logger
}

var _ core.CommandNotifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier wraps an MQTT client. QoS 1 gives at-least-once broker
// delivery; device agents dedupe by command id.
func NewMQTTNotifier(client mqtt.Client, topics *topic.Builder, logger log.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topics: topics,
		qos:    1,
		logger: logger.WithName("mqtt-notifier"),
	}
}

// Notify publishes the command to the device's command topic. The caller
// bounds ctx with the configured publish timeout. Broker acceptance says
// nothing about device receipt, so the command state is left untouched.
func (n *MQTTNotifier) Notify(ctx context.Context, cmd *model.Command) error {
	msg := downMessage{
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		Payload:   cmd.Payload,
		IssuedAt:  cmd.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Deadline:  cmd.Deadline.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal command %s: %w", cmd.ID, err)
	}

	t := n.topics.Commands(cmd.DeviceID)
	if err := n.client.Publish(ctx, t, n.qos, false, body); err != nil {
		n.logger.Warn("publish failed, command stays eligible for fallback",
			"commandId", cmd.ID, "deviceId", cmd.DeviceID, "topic", t, "error", err.Error())
		return fmt.Errorf("publish %s to %s: %w", cmd.ID, t, core.ErrTransportUnavailable)
	}

	n.logger.Debug("command published", "commandId", cmd.ID, "topic", t)
	return nil
}
