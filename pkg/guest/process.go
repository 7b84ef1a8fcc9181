package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/vim"
)

// Script interpreters.
const (
	posixShell   = "/bin/sh"
	windowsShell = `C:\Windows\system32\cmd.exe`
)

// ProcessManager starts guest programs and waits for them.
type ProcessManager struct {
	m   *Manager
	log zerolog.Logger
}

// Start validates the guest credential and starts a program. Starts are
// retried while the guest agent reports it is busy.
func (p *ProcessManager) Start(ctx context.Context, spec vim.ProgramSpec) (int64, error) {
	ctx, span := tracer.Start(ctx, "guest.start", trace.WithAttributes(attribute.String("guest.program", spec.Path)))
	pid, err := p.start(ctx, spec)
	span.SetAttributes(attribute.Int64("guest.pid", pid))
	endSpan(span, err)
	return pid, err
}

func (p *ProcessManager) start(ctx context.Context, spec vim.ProgramSpec) (int64, error) {
	refs, err := p.m.managers(ctx)
	if err != nil {
		return 0, err
	}
	client := p.m.vm.Client()
	vmRef := p.m.vm.Ref()
	auth := p.m.auth()

	if err := client.ValidateCredentialsInGuest(ctx, refs.auth, vmRef, auth); err != nil {
		err = vim.NewTransportError("guest credentials rejected for "+auth.Username, err).
			WithObject(vmRef).
			WithOp("start")
		p.observe(spec.Path, err)
		return 0, err
	}

	policy := retry.Policy{
		Name:        "guestStart",
		MaxAttempts: p.m.timing.StartAttempts,
		Interval:    p.m.timing.StartInterval,
		Retryable:   vim.IsGuestBusyFault,
	}
	pid, err := retry.Do(ctx, policy, func(ctx context.Context) (int64, error) {
		pid, err := client.StartProgramInGuest(ctx, refs.process, vmRef, auth, spec)
		if err == nil {
			return pid, nil
		}
		kind := vim.KindTransport
		if vim.IsGuestBusyFault(err) {
			kind = vim.KindGuestTransient
			p.log.Debug().Err(err).Str("program", spec.Path).Msg("guest agent busy")
		}
		return 0, vim.NewError(kind, "startProgramInGuest failed for "+spec.Path, err).
			WithObject(vmRef).
			WithOp("start")
	})
	p.observe(spec.Path, err)
	if err != nil {
		return 0, err
	}

	p.log.Debug().
		Str("program", spec.Path).
		Str("args", spec.Arguments).
		Int64("pid", pid).
		Msg("started")
	return pid, nil
}

func (p *ProcessManager) observe(path string, err error) {
	if p.m.observer != nil {
		p.m.observer.ProgramStarted(path, err)
	}
}

// errRunning is returned by a process poll while the process runs.
type errRunning struct {
	pid int64
}

func (e *errRunning) Error() string {
	return fmt.Sprintf("process %d is still running", e.pid)
}

func isRunning(err error) bool {
	var r *errRunning
	return errors.As(err, &r)
}

// WaitForCompletion polls a process until it exits and returns its exit
// code. A process the guest no longer reports counts as exit code 0.
func (p *ProcessManager) WaitForCompletion(ctx context.Context, pid int64, timeout time.Duration) (int32, error) {
	ctx, span := tracer.Start(ctx, "guest.wait", trace.WithAttributes(attribute.Int64("guest.pid", pid)))
	code, err := p.waitForCompletion(ctx, pid, timeout)
	span.SetAttributes(attribute.Int("guest.exit_code", int(code)))
	endSpan(span, err)
	return code, err
}

func (p *ProcessManager) waitForCompletion(ctx context.Context, pid int64, timeout time.Duration) (int32, error) {
	refs, err := p.m.managers(ctx)
	if err != nil {
		return 0, err
	}
	if timeout <= 0 {
		timeout = p.m.timing.ProcessTimeout
	}
	client := p.m.vm.Client()
	vmRef := p.m.vm.Ref()
	auth := p.m.auth()

	policy := retry.Policy{
		Name:      "guestProcessWait",
		Timeout:   timeout,
		Interval:  p.m.timing.PollInterval,
		Retryable: isRunning,
	}
	code, err := retry.Do(ctx, policy, func(ctx context.Context) (int32, error) {
		infos, err := client.ListProcessesInGuest(ctx, refs.process, vmRef, auth, []int64{pid})
		if err != nil {
			return 0, vim.NewTransportError("listProcessesInGuest failed", err).WithObject(vmRef).WithOp("waitForCompletion")
		}
		if len(infos) == 0 {
			p.log.Debug().Int64("pid", pid).Msg("process not reported by the guest, assuming it exited")
			return 0, nil
		}
		if infos[0].Exited() {
			return infos[0].ExitCode, nil
		}
		return 0, &errRunning{pid: pid}
	})
	if err != nil {
		return 0, err
	}

	p.log.Debug().Int64("pid", pid).Int32("exit_code", code).Msg("process exited")
	return code, nil
}

// RunAndWait starts a program and waits for it to exit.
func (p *ProcessManager) RunAndWait(ctx context.Context, spec vim.ProgramSpec, timeout time.Duration) (int32, error) {
	pid, err := p.Start(ctx, spec)
	if err != nil {
		return 0, err
	}

	select {
	case <-time.After(p.m.timing.SettleDelay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return p.WaitForCompletion(ctx, pid, timeout)
}

// ScriptResult is the outcome of a guest script.
type ScriptResult struct {
	// ID correlates the log lines of one run.
	ID string

	// ExitCode is the script exit code, -1 when the script never ran.
	ExitCode int32

	Stdout string
	Stderr string

	// Message is the system message of a failed Windows exit code.
	Message string

	// Err is set when the script could not be run or awaited.
	Err error

	Duration time.Duration
}

// Succeeded reports a clean run: exit code 0 and no error.
func (r ScriptResult) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// String renders the result for diagnostics.
func (r ScriptResult) String() string {
	var b strings.Builder
	b.WriteString("\r\nSCRIPT EXIT   >>: ")
	fmt.Fprint(&b, r.ExitCode)
	if r.Message != "" {
		b.WriteString(": " + r.Message)
	}
	if r.Err != nil {
		b.WriteString(": " + r.Err.Error())
	}
	b.WriteString("\r\n")
	writeLines(&b, r.Stdout, "SCRIPT STDOUT >>: ")
	writeLines(&b, r.Stderr, "SCRIPT STDERR >>: ")
	return b.String()
}

func writeLines(b *strings.Builder, text, prefix string) {
	b.WriteString("\r\n")
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(prefix + strings.TrimSuffix(line, "\r") + "\r\n")
	}
}

// RunScript uploads text into a scratch directory and runs it with its
// output redirected to files, which are downloaded whatever the outcome.
// The scratch directory is removed only after a clean run with an empty
// stderr. Failures are reported in the result, never returned.
func (p *ProcessManager) RunScript(ctx context.Context, text string, timeout time.Duration) ScriptResult {
	ctx, span := tracer.Start(ctx, "guest.runScript")
	defer span.End()

	start := time.Now()
	result := p.runScript(ctx, text, timeout)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("script.id", result.ID),
		attribute.Int("script.exit_code", int(result.ExitCode)),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if p.m.observer != nil {
		p.m.observer.ScriptCompleted(result)
	}
	return result
}

func (p *ProcessManager) runScript(ctx context.Context, text string, timeout time.Duration) ScriptResult {
	result := ScriptResult{ID: uuid.NewString(), ExitCode: -1}
	log := p.log.With().Str("script", result.ID).Logger()

	fam, err := p.m.Family(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	files := p.m.file
	dir, err := files.TempPath(ctx, "")
	if err != nil {
		result.Err = err
		return result
	}

	name := "task.sh"
	if fam == FamilyWindows {
		name = "task.bat"
	}
	script := fam.Join(dir, name)
	stdout := fam.Join(dir, "out")
	stderr := fam.Join(dir, "err")

	if err := files.UploadText(ctx, text, script); err != nil {
		result.Err = fmt.Errorf("upload script: %w", err)
		return result
	}

	spec := vim.ProgramSpec{
		Path:             posixShell,
		Arguments:        fmt.Sprintf("%s >%s 2>%s", script, stdout, stderr),
		WorkingDirectory: dir,
	}
	if fam == FamilyWindows {
		spec.Path = windowsShell
		spec.Arguments = fmt.Sprintf("/c %s >%s 2>%s", script, stdout, stderr)
	}

	log.Debug().Str("dir", dir).Msg("running script")
	code, err := p.RunAndWait(ctx, spec, timeout)
	if err != nil {
		result.Err = err
	} else {
		result.ExitCode = code
	}

	if out, derr := files.DownloadText(ctx, stdout); derr == nil {
		result.Stdout = out
	} else {
		log.Debug().Err(derr).Msg("no script stdout")
	}
	if out, derr := files.DownloadText(ctx, stderr); derr == nil {
		result.Stderr = out
	} else {
		log.Debug().Err(derr).Msg("no script stderr")
	}

	if fam == FamilyWindows && result.Err == nil && result.ExitCode != 0 {
		result.Message = WindowsExitMessage(result.ExitCode)
	}

	if result.Succeeded() && result.Stderr == "" {
		if err := files.Delete(ctx, dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove script scratch directory")
		}
	} else {
		log.Info().
			Str("dir", dir).
			Int32("exit_code", result.ExitCode).
			Msg("script failed, keeping scratch directory")
	}
	return result
}
