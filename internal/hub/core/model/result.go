package model

import (
	"encoding/json"
	"time"
)

// Outcome is the device-reported verdict for a command.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeRejected:
		return true
	}
	return false
}

// ResultReport is the ephemeral input the reconciler consumes. It is not
// persisted as its own entity: its effect is folded into the matching
// command exactly once.
type ResultReport struct {
	CommandID string          `json:"commandId"`
	DeviceID  string          `json:"deviceId"`
	Outcome   Outcome         `json:"outcome"`
	Detail    json.RawMessage `json:"detail,omitempty"`

	// ReportedAt is the device-side timestamp of the outcome.
	ReportedAt time.Time `json:"reportedAt"`

	// Transport is the channel the report arrived on, filled in by the
	// ingress layer (http_fallback or pubsub), not by the device.
	Transport Channel `json:"-"`
}

// StateChangeEvent is emitted on every successful command transition and
// consumed by the audit log writer.
type StateChangeEvent struct {
	CommandID string       `json:"commandId"`
	DeviceID  string       `json:"deviceId"`
	TenantID  string       `json:"tenantId"`
	From      CommandState `json:"from"`
	To        CommandState `json:"to"`
	At        time.Time    `json:"at"`
}
