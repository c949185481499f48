// Package options aggregates every flag group of the vendhub server.
package options

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"

	"github.com/vendhub-io/vendhub/internal/hub"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/options"
)

// HubOptions carries the full configuration surface of the server binary.
type HubOptions struct {
	Http     *options.HttpOptions     `json:"http" mapstructure:"http"`
	Mqtt     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	Redis    *options.RedisOptions    `json:"redis" mapstructure:"redis"`
	S3       *options.S3Options       `json:"s3" mapstructure:"s3"`
	Dispatch *options.DispatchOptions `json:"dispatch" mapstructure:"dispatch"`
	Log      *log.Options             `json:"log" mapstructure:"log"`
}

// NewHubOptions returns the options at their defaults.
func NewHubOptions() *HubOptions {
	return &HubOptions{
		Http:     options.NewHttpOptions(),
		Mqtt:     options.NewMqttOptions(),
		Redis:    options.NewRedisOptions(),
		S3:       options.NewS3Options(),
		Dispatch: options.NewDispatchOptions(),
		Log:      log.NewOptions(),
	}
}

// AddFlags registers every group on the flag set.
func (o *HubOptions) AddFlags(fs *pflag.FlagSet) {
	o.Http.AddFlags(fs)
	o.Mqtt.AddFlags(fs)
	o.Redis.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Dispatch.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Validate collects the validation errors of every group.
func (o *HubOptions) Validate() error {
	var errs []error
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Redis.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Dispatch.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Config derives the hub configuration from the validated options.
func (o *HubOptions) Config() *hub.Config {
	return &hub.Config{
		Http:     o.Http,
		Mqtt:     o.Mqtt,
		Redis:    o.Redis,
		S3:       o.S3,
		Dispatch: o.Dispatch,
	}
}
