package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
endpoint:
  address: vc.example.com
  user: administrator@vsphere.local
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "vc.example.com", cfg.Endpoint.Address)
	assert.Equal(t, def.Polling, cfg.Polling)
	assert.Equal(t, def.Program, cfg.Program)
	assert.Equal(t, "vmorch", cfg.Telemetry.ServiceName)
	assert.Equal(t, 60, cfg.PollTuning().Divisor)
	assert.Equal(t, 30*time.Minute, cfg.PollTuning().TaskTimeout)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
  insecure: true
guest:
  username: root
  password: secret
timeouts:
  script: 2m
polling:
  divisor: 10
  min_interval: 1s
transfer:
  attempts: 5
  interval: 2s
program:
  poll_interval: 500ms
telemetry:
  logging:
    level: debug
`))
	require.NoError(t, err)

	assert.True(t, cfg.SOAP().Insecure)
	assert.Equal(t, "root", cfg.Guest.Username)
	assert.Equal(t, time.Second, cfg.PollTuning().MinInterval)
	assert.Equal(t, 10, cfg.PollTuning().Divisor)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "console", cfg.Telemetry.Logging.Format, "sibling keys keep their defaults")

	timing := cfg.GuestTiming()
	assert.Equal(t, 5, timing.TransferAttempts)
	assert.Equal(t, 2*time.Second, timing.TransferInterval)
	assert.Equal(t, 500*time.Millisecond, timing.PollInterval)
	assert.Equal(t, 2*time.Minute, timing.ProcessTimeout)
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv(EnvPassword, "from-env")
	t.Setenv(EnvGuestPassword, "guest-env")

	cfg, err := Parse([]byte(minimal + "  password: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Endpoint.Password)
	assert.Equal(t, "guest-env", cfg.Guest.Password)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing address", yaml: "endpoint:\n  user: root\n"},
		{name: "missing user", yaml: "endpoint:\n  address: esx1\n"},
		{name: "zero divisor", yaml: minimal + "polling:\n  divisor: 0\n"},
		{name: "zero attempts", yaml: minimal + "transfer:\n  attempts: 0\n"},
		{name: "bad log level", yaml: minimal + "telemetry:\n  logging:\n    level: loud\n"},
		{name: "malformed", yaml: "endpoint: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "administrator@vsphere.local", cfg.Endpoint.User)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
