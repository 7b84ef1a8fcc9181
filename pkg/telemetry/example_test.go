package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/vmorch/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	fmt.Println(telemetry.FromTelemetryContext(ctx) == tel)
	// Output: true
}

// Example_eventPublishing demonstrates synchronous event delivery.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}, nil)

	_ = tel.Events.PublishLogin("vc.example.com", "administrator@vsphere.local", time.Second, nil)
	_ = tel.Events.PublishLogout("vc.example.com", nil)

	// Output:
	// session.login: Logged in to vc.example.com as administrator@vsphere.local
	// session.logout: Logged out of vc.example.com
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishLogin("vc.example.com", "root", time.Second, nil)
	_ = tel.Events.PublishRefreshed("vc.example.com", nil)
	_ = tel.Events.PublishScriptFinished("42", 1, time.Second, nil)

	// Output:
	// Important event: session.refreshed
	// Important event: guest.script_finished
}

// Example_observer demonstrates feeding lifecycle callbacks into metrics.
func Example_observer() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	obs := tel.Observer()
	obs.LoginCompleted("vc.example.com", "root", 120*time.Millisecond, nil)
	obs.ObserveOutcome("waitState", "success", 3, 2*time.Second)
	obs.TransferCompleted("upload", 2048, time.Second, nil)

	families, _ := tel.Metrics.Registry().Gather()
	fmt.Println(len(families) > 0)
	// Output: true
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DefaultConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "vm.powerOn",
		telemetry.AttrVM.String("vm-42"),
		attribute.String("vsphere.endpoint", "vc.example.com"),
	)
	ic.Logger.Info("Powering on")
	ic.End(errors.New("task failed"))

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}
