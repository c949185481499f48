package service

import (
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// Selection is the delivery plan for a freshly created command.
type Selection struct {
	// PubSub means a broker publish should be attempted.
	PubSub bool

	// FallbackDelay is how long the pending entry waits before it becomes
	// eligible for fallback promotion. Zero means immediately eligible: the
	// next device poll delivers it.
	FallbackDelay time.Duration
}

// SelectChannels decides how to deliver a command based on the device's
// last-seen transport. The selection only biases ordering; every pending
// command is always visible to a fallback poll, so a wrong guess costs
// latency, never delivery.
func SelectChannels(st model.DeviceChannelState, pubsubAvailable bool, window time.Duration, now time.Time) Selection {
	if !pubsubAvailable {
		return Selection{PubSub: false, FallbackDelay: 0}
	}

	if st.FreshOn(model.ChannelPubSub, window, now) {
		// The device is live on the broker; give the push a head start
		// before the sweeper starts nudging.
		return Selection{PubSub: true, FallbackDelay: window}
	}

	// Last seen polling, seen on both, or never seen: publish anyway (the
	// push may still land) and leave the entry immediately poll-eligible.
	return Selection{PubSub: true, FallbackDelay: 0}
}
