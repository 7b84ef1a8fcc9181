package soap

import (
	"fmt"
	"time"
)

// Config holds the connection settings of a SOAP endpoint.
type Config struct {
	// Insecure skips TLS certificate verification.
	Insecure bool `yaml:"insecure"`

	// Thumbprint pins the endpoint certificate by its SHA-1 thumbprint.
	// Ignored when Insecure is set.
	Thumbprint string `yaml:"thumbprint"`

	// DialTimeout bounds fetching the service content.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
}

// DefaultConfig returns a Config with certificate verification enabled.
func DefaultConfig() Config {
	return Config{
		DialTimeout: 30 * time.Second,
		UserAgent:   "vmorch",
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.DialTimeout < 0 {
		return fmt.Errorf("dial timeout must not be negative, got: %s", c.DialTimeout)
	}
	return nil
}
