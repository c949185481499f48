package options

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions contains configuration for the Redis-backed command store.
// An empty Addr selects the in-memory store (development and tests).
type RedisOptions struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`

	// KeyPrefix namespaces every key written by the hub, so one Redis can
	// host several environments.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	DialTimeout time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
}

// NewRedisOptions creates a new RedisOptions with default values.
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		KeyPrefix:   "vendhub",
		DialTimeout: 5 * time.Second,
	}
}

// Configured reports whether a Redis server has been configured.
func (o *RedisOptions) Configured() bool {
	return o != nil && o.Addr != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Addr != "" {
		if err := ValidateAddress(o.Addr); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}

// AddFlags adds flags for RedisOptions to the specified FlagSet.
func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Redis server address. Empty selects the in-memory store.")
	fs.StringVar(&o.Username, "redis.username", o.Username, "Redis username.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.DB, "redis.db", o.DB, "Redis database index.")
	fs.StringVar(&o.KeyPrefix, "redis.key-prefix", o.KeyPrefix, "Prefix for every key written by the hub.")
	fs.DurationVar(&o.DialTimeout, "redis.dial-timeout", o.DialTimeout, "Timeout for establishing the Redis connection.")
}

// NewClient builds a go-redis client from the options.
func (o *RedisOptions) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Username:    o.Username,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: o.DialTimeout,
	})
}
