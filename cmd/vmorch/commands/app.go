package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/vmorch/pkg/config"
	"github.com/openfroyo/vmorch/pkg/guest"
	"github.com/openfroyo/vmorch/pkg/object"
	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/session"
	"github.com/openfroyo/vmorch/pkg/telemetry"
	"github.com/openfroyo/vmorch/pkg/transports/soap"
	"github.com/openfroyo/vmorch/pkg/vsphere"
)

// app is the state shared by every command: configuration, telemetry and
// one logged-in endpoint client.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	client *vsphere.Client
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("VMORCH_CONFIG"); p != "" {
		return p
	}
	return "vmorch.yaml"
}

// newApp loads configuration and telemetry. When login is set the endpoint
// session is established too.
func newApp(ctx context.Context, login bool) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if verbose {
		tel.Events.Subscribe(func(e telemetry.Event) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Type, e.Message)
		}, nil)
	}

	obs := tel.Observer()
	retry.SetObserver(obs)

	transport := cfg.SOAP()
	sessions := session.NewManager(
		soap.Dialer(transport),
		session.WithFreshnessWindow(cfg.Polling.FreshnessWindow),
		session.WithObserver(obs),
	)

	client := vsphere.New(
		cfg.Endpoint.Address,
		cfg.Endpoint.User,
		cfg.Endpoint.Password,
		nil,
		vsphere.WithSessionManager(sessions),
		vsphere.WithRegistryOptions(object.WithPollTuning(cfg.PollTuning())),
		vsphere.WithGuestOptions(
			guest.WithTiming(cfg.GuestTiming()),
			guest.WithHTTPClient(soap.HTTPClient(transport)),
			guest.WithObserver(obs),
			guest.WithLogger(tel.Logger.Zerolog()),
		),
	)

	a := &app{cfg: cfg, tel: tel, client: client}
	if login {
		if err := client.Login(ctx); err != nil {
			a.close()
			return nil, err
		}
		tel.Logger.WithAddress(cfg.Endpoint.Address).Infof("Logged in as %s", cfg.Endpoint.User)
	}
	return a, nil
}

// start begins the traced top-level operation of a command on target.
func (a *app) start(ctx context.Context, operation, target string) *telemetry.InstrumentedContext {
	return telemetry.StartOperation(a.tel.WithContext(ctx), "vmorch."+operation,
		telemetry.AttrEndpoint.String(a.cfg.Endpoint.Address),
		telemetry.AttrVM.String(target),
	)
}

// close logs out and flushes telemetry.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.client.Close(ctx)
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

// guest returns the guest manager of the VM named or addressed by target.
func (a *app) guest(ctx context.Context, target string) (*guest.Manager, error) {
	vm, err := a.client.FindVM(ctx, target)
	if err != nil {
		return nil, err
	}
	return a.client.Guest(vm, a.cfg.Guest), nil
}

// printResult writes v as indented JSON in --json mode, or text otherwise.
func printResult(v any, text string) error {
	if !jsonOutput {
		fmt.Println(text)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
