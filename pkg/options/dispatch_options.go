package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DispatchOptions)(nil)

// DispatchOptions carries the tuning parameters of the dispatch engine.
// The relationship between fallback-poll frequency and the freshness window
// is deployment policy, so all of these are externally supplied.
type DispatchOptions struct {
	// FreshnessWindow is how recently a device must have been seen over
	// pub/sub for the selector to trust that channel alone.
	FreshnessWindow time.Duration `json:"freshness-window" mapstructure:"freshness-window"`

	// DefaultDeadline applies when command creation does not specify one.
	DefaultDeadline time.Duration `json:"default-deadline" mapstructure:"default-deadline"`

	// SweepInterval is the period of the background deadline sweep.
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`

	// PublishTimeout bounds a single broker publish attempt.
	PublishTimeout time.Duration `json:"publish-timeout" mapstructure:"publish-timeout"`
}

// NewDispatchOptions creates a DispatchOptions object with default parameters.
func NewDispatchOptions() *DispatchOptions {
	return &DispatchOptions{
		FreshnessWindow: 2 * time.Minute,
		DefaultDeadline: 5 * time.Minute,
		SweepInterval:   10 * time.Second,
		PublishTimeout:  3 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DispatchOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.SweepInterval <= 0 {
		errors = append(errors, fmt.Errorf("dispatch.sweep-interval must be positive, got %v", o.SweepInterval))
	}
	if o.DefaultDeadline <= 0 {
		errors = append(errors, fmt.Errorf("dispatch.default-deadline must be positive, got %v", o.DefaultDeadline))
	}
	if o.PublishTimeout <= 0 {
		errors = append(errors, fmt.Errorf("dispatch.publish-timeout must be positive, got %v", o.PublishTimeout))
	}

	return errors
}

// AddFlags adds flags for DispatchOptions to the specified FlagSet.
func (o *DispatchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.FreshnessWindow, "dispatch.freshness-window", o.FreshnessWindow,
		"How recently a device must have been seen over pub/sub to prefer that channel alone.")
	fs.DurationVar(&o.DefaultDeadline, "dispatch.default-deadline", o.DefaultDeadline,
		"Deadline applied to commands created without one.")
	fs.DurationVar(&o.SweepInterval, "dispatch.sweep-interval", o.SweepInterval,
		"Interval of the background deadline sweep.")
	fs.DurationVar(&o.PublishTimeout, "dispatch.publish-timeout", o.PublishTimeout,
		"Upper bound on a single broker publish attempt.")
}
