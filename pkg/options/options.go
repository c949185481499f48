package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group so the application assembler
// can validate and bind them uniformly.
type IOptions interface {
	// Validate parses and validates the parameters entered by the user at
	// program startup. An empty slice means the group is valid.
	Validate() []error

	// AddFlags adds the group's flags to the specified FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a valid host:port listen address.
func ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}
