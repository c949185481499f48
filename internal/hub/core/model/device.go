package model

import "time"

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelNone    Channel = "none"
	ChannelPubSub  Channel = "pubsub"
	ChannelHTTP    Channel = "http_fallback"
	ChannelBoth    Channel = "both"
	ChannelUnknown Channel = "unknown"
)

// Device is a vending machine registered to a tenant. Registration is the
// minimum the engine needs to reject commands for unknown targets; the full
// device CRUD lives in the management layer.
type Device struct {
	// ID is the unique device identifier (e.g. "VM-001").
	ID string `json:"deviceId"`

	// TenantID is the owning operator tenant.
	TenantID string `json:"tenantId"`

	// RegisteredAt is when the device was first registered.
	RegisteredAt time.Time `json:"registeredAt"`
}

// DeviceChannelState records the transport a device was last seen on. It is
// overwritten on every inbound poll or result report and never deleted; the
// channel selector uses it to bias delivery order.
type DeviceChannelState struct {
	DeviceID string `json:"deviceId"`

	// LastChannel is pubsub, http_fallback or unknown.
	LastChannel Channel `json:"lastChannel"`

	// LastSeen is when the device last communicated over LastChannel.
	LastSeen time.Time `json:"lastSeen"`
}

// FreshOn reports whether the device was last seen over ch within the
// window ending at now.
func (s DeviceChannelState) FreshOn(ch Channel, window time.Duration, now time.Time) bool {
	if s.LastChannel != ch || s.LastSeen.IsZero() {
		return false
	}
	return now.Sub(s.LastSeen) <= window
}
