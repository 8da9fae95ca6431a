package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is the contract every grouped option struct satisfies.
// Options are bound to flags, overlaid by the config file, then validated
// before any component is constructed.
type IOptions interface {
	// Validate checks the option values and returns all problems found.
	Validate() []error

	// AddFlags binds the options to the given FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a valid "host:port" bind address.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	if port == "" {
		return fmt.Errorf("invalid address %q: missing port", addr)
	}

	if host != "" && host != "0.0.0.0" {
		if ip := net.ParseIP(host); ip == nil {
			// Hostnames are allowed; reject only strings that cannot be
			// a hostname at all.
			if _, err := net.LookupPort("tcp", port); err != nil {
				return fmt.Errorf("invalid address %q: %w", addr, err)
			}
		}
	}

	return nil
}
