package hub

import (
	"github.com/vendhub-io/vendhub/pkg/options"
)

// Config aggregates every option group the hub consumes. Logging is
// configured by the application wrapper before the hub is built.
type Config struct {
	Http     *options.HttpOptions
	Mqtt     *options.MqttOptions
	Redis    *options.RedisOptions
	S3       *options.S3Options
	Dispatch *options.DispatchOptions
}

// NewConfig returns a Config with every group at its defaults.
func NewConfig() *Config {
	return &Config{
		Http:     options.NewHttpOptions(),
		Mqtt:     options.NewMqttOptions(),
		Redis:    options.NewRedisOptions(),
		S3:       options.NewS3Options(),
		Dispatch: options.NewDispatchOptions(),
	}
}
