package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/vmorch/pkg/guest"
	"github.com/openfroyo/vmorch/pkg/object"
	"github.com/openfroyo/vmorch/pkg/session"
	"github.com/openfroyo/vmorch/pkg/telemetry"
	"github.com/openfroyo/vmorch/pkg/transports/soap"
)

// Environment variables overriding secrets of the file.
const (
	EnvPassword      = "VMORCH_PASSWORD"
	EnvGuestPassword = "VMORCH_GUEST_PASSWORD"
)

// Config is the complete vmorch configuration.
type Config struct {
	Endpoint  EndpointConfig   `yaml:"endpoint"`
	Guest     guest.Credential `yaml:"guest" validate:"-"`
	Timeouts  TimeoutsConfig   `yaml:"timeouts"`
	Polling   PollingConfig    `yaml:"polling"`
	Transfer  TransferConfig   `yaml:"transfer"`
	Program   ProgramConfig    `yaml:"program"`
	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`
}

// EndpointConfig names the vCenter or ESXi endpoint.
type EndpointConfig struct {
	// Address is a host name, host:port or SDK URL.
	Address string `yaml:"address" validate:"required"`

	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`

	// Insecure skips TLS certificate verification.
	Insecure bool `yaml:"insecure"`

	// Thumbprint pins the endpoint certificate.
	Thumbprint string `yaml:"thumbprint"`

	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`
}

// TimeoutsConfig holds the default timeouts of CLI operations.
type TimeoutsConfig struct {
	Script time.Duration `yaml:"script" validate:"gte=0"`
	Power  time.Duration `yaml:"power" validate:"gte=0"`
	Tools  time.Duration `yaml:"tools" validate:"gte=0"`
	Task   time.Duration `yaml:"task" validate:"gte=0"`
}

// PollingConfig tunes property waits and session freshness.
type PollingConfig struct {
	Divisor         int           `yaml:"divisor" validate:"gte=1"`
	MinInterval     time.Duration `yaml:"min_interval" validate:"gt=0"`
	DefaultTimeout  time.Duration `yaml:"default_timeout" validate:"gt=0"`
	TaskSettle      time.Duration `yaml:"task_settle" validate:"gte=0"`
	FreshnessWindow time.Duration `yaml:"freshness_window" validate:"gte=0"`
}

// TransferConfig bounds upload retries on an unreachable transfer host.
type TransferConfig struct {
	Attempts int           `yaml:"attempts" validate:"gte=1"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// ProgramConfig bounds guest program starts and process polling.
type ProgramConfig struct {
	Attempts     int           `yaml:"attempts" validate:"gte=1"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	SettleDelay  time.Duration `yaml:"settle_delay" validate:"gte=0"`
}

// Default returns the configuration used for every value a file leaves
// unset.
func Default() *Config {
	tuning := object.DefaultPollTuning()
	timing := guest.DefaultTiming()
	dial := soap.DefaultConfig()

	return &Config{
		Endpoint: EndpointConfig{
			DialTimeout: dial.DialTimeout,
		},
		Timeouts: TimeoutsConfig{
			Script: timing.ProcessTimeout,
			Power:  5 * time.Minute,
			Tools:  10 * time.Minute,
			Task:   30 * time.Minute,
		},
		Polling: PollingConfig{
			Divisor:         tuning.Divisor,
			MinInterval:     tuning.MinInterval,
			DefaultTimeout:  tuning.DefaultTimeout,
			TaskSettle:      tuning.TaskSettle,
			FreshnessWindow: session.DefaultFreshnessWindow,
		},
		Transfer: TransferConfig{
			Attempts: timing.TransferAttempts,
			Interval: timing.TransferInterval,
		},
		Program: ProgramConfig{
			Attempts:     timing.StartAttempts,
			Interval:     timing.StartInterval,
			PollInterval: timing.PollInterval,
			SettleDelay:  timing.SettleDelay,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content over the defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv(EnvPassword); v != "" {
		c.Endpoint.Password = v
	}
	if v := os.Getenv(EnvGuestPassword); v != "" {
		c.Guest.Password = v
	}
}

var validate = validator.New()

// Validate checks struct constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// PollTuning returns the property wait tuning.
func (c *Config) PollTuning() object.PollTuning {
	return object.PollTuning{
		Divisor:        c.Polling.Divisor,
		MinInterval:    c.Polling.MinInterval,
		DefaultTimeout: c.Polling.DefaultTimeout,
		TaskSettle:     c.Polling.TaskSettle,
		TaskTimeout:    c.Timeouts.Task,
	}
}

// GuestTiming returns the guest retry and polling parameters. The sanity
// probe keeps its defaults.
func (c *Config) GuestTiming() guest.Timing {
	t := guest.DefaultTiming()
	t.TransferAttempts = c.Transfer.Attempts
	t.TransferInterval = c.Transfer.Interval
	t.StartAttempts = c.Program.Attempts
	t.StartInterval = c.Program.Interval
	t.PollInterval = c.Program.PollInterval
	t.SettleDelay = c.Program.SettleDelay
	if c.Timeouts.Script > 0 {
		t.ProcessTimeout = c.Timeouts.Script
	}
	return t
}

// SOAP returns the connection settings of the endpoint.
func (c *Config) SOAP() soap.Config {
	cfg := soap.DefaultConfig()
	cfg.Insecure = c.Endpoint.Insecure
	cfg.Thumbprint = c.Endpoint.Thumbprint
	cfg.DialTimeout = c.Endpoint.DialTimeout
	return cfg
}
