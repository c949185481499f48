package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

func TestSelectChannels(t *testing.T) {
	now := time.Now()
	window := 2 * time.Minute

	tests := []struct {
		name      string
		state     model.DeviceChannelState
		pubsub    bool
		wantPush  bool
		wantDelay time.Duration
	}{
		{
			name:      "no broker configured",
			state:     model.DeviceChannelState{LastChannel: model.ChannelPubSub, LastSeen: now},
			pubsub:    false,
			wantPush:  false,
			wantDelay: 0,
		},
		{
			name:      "fresh on pubsub gets a head start",
			state:     model.DeviceChannelState{LastChannel: model.ChannelPubSub, LastSeen: now.Add(-time.Minute)},
			pubsub:    true,
			wantPush:  true,
			wantDelay: window,
		},
		{
			name:      "stale pubsub sighting",
			state:     model.DeviceChannelState{LastChannel: model.ChannelPubSub, LastSeen: now.Add(-time.Hour)},
			pubsub:    true,
			wantPush:  true,
			wantDelay: 0,
		},
		{
			name:      "last seen polling",
			state:     model.DeviceChannelState{LastChannel: model.ChannelHTTP, LastSeen: now},
			pubsub:    true,
			wantPush:  true,
			wantDelay: 0,
		},
		{
			name:      "never seen",
			state:     model.DeviceChannelState{LastChannel: model.ChannelUnknown},
			pubsub:    true,
			wantPush:  true,
			wantDelay: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectChannels(tt.state, tt.pubsub, window, now)
			assert.Equal(t, tt.wantPush, sel.PubSub)
			assert.Equal(t, tt.wantDelay, sel.FallbackDelay)
		})
	}
}
