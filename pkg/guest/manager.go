// Package guest runs programs and moves files inside a virtual machine
// through the guest operations API.
//
// A Manager is bound to one VM and one guest credential. File transfers use
// single-use HTTP tickets issued by the server; programs are started by the
// guest agent and polled until they exit. Scripts are uploaded into a
// scratch directory, run with their output redirected to files, and the
// output files are downloaded afterwards.
package guest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/object"
	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/vim"
)

// Credential authenticates against the guest operating system.
type Credential struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
}

// Timing holds the retry and polling parameters of guest operations.
type Timing struct {
	// TransferAttempts and TransferInterval bound upload retries on an
	// unreachable transfer host.
	TransferAttempts int
	TransferInterval time.Duration

	// StartAttempts and StartInterval bound program start retries while the
	// guest agent is busy.
	StartAttempts int
	StartInterval time.Duration

	// PollInterval is the wait between process listings.
	PollInterval time.Duration

	// SettleDelay is the pause between starting a program and the first poll.
	SettleDelay time.Duration

	// ProcessTimeout is used when a wait is requested without a timeout.
	ProcessTimeout time.Duration

	// SanityAttempts, SanityInterval and SanityTimeout drive TestSanity.
	SanityAttempts int
	SanityInterval time.Duration
	SanityTimeout  time.Duration
}

// DefaultTiming returns the production timing.
func DefaultTiming() Timing {
	return Timing{
		TransferAttempts: 3,
		TransferInterval: 10 * time.Second,
		StartAttempts:    6,
		StartInterval:    30 * time.Second,
		PollInterval:     10 * time.Second,
		SettleDelay:      time.Second,
		ProcessTimeout:   time.Hour,
		SanityAttempts:   6,
		SanityInterval:   10 * time.Second,
		SanityTimeout:    10 * time.Second,
	}
}

// Observer is notified of guest transfers, program starts and script runs.
// Implementations must be safe for concurrent use.
type Observer interface {
	TransferCompleted(direction string, bytes int64, duration time.Duration, err error)
	ProgramStarted(path string, err error)
	ScriptCompleted(result ScriptResult)
}

// Transfer directions reported to an Observer.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// Manager orchestrates guest operations on one VM. It is safe for
// concurrent use.
type Manager struct {
	vm       *object.VirtualMachine
	cred     Credential
	timing   Timing
	http     *http.Client
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	// mu protects the memoized fields below.
	mu       sync.Mutex
	family   *Family
	refs     *subManagers
	lastHost string

	file    *FileManager
	process *ProcessManager
}

// subManagers are the guest operations sub-manager references.
type subManagers struct {
	auth    vim.ObjectRef
	process vim.ObjectRef
	file    vim.ObjectRef
}

// Option configures a Manager.
type Option func(*Manager)

// WithTiming replaces the retry and polling parameters.
func WithTiming(t Timing) Option {
	return func(m *Manager) {
		m.timing = t
	}
}

// WithHTTPClient sets the client used for ticket transfers.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.http = c
		}
	}
}

// WithObserver installs a guest operations observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithLogger sets the base logger. Defaults to the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithFamily skips guest OS detection.
func WithFamily(f Family) Option {
	return func(m *Manager) {
		m.family = &f
	}
}

// New creates a guest operations manager for vm.
func New(vm *object.VirtualMachine, cred Credential, opts ...Option) *Manager {
	m := &Manager{
		vm:     vm,
		cred:   cred,
		timing: DefaultTiming(),
		http:   http.DefaultClient,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	vmLogger := m.logger.With().Str("vm", vm.Ref().Value).Logger()
	m.file = &FileManager{m: m, log: vmLogger.With().Str("component", "guest.file").Logger()}
	m.process = &ProcessManager{m: m, log: vmLogger.With().Str("component", "guest.process").Logger()}
	return m
}

// VM returns the virtual machine the manager operates on.
func (m *Manager) VM() *object.VirtualMachine {
	return m.vm
}

// File returns the file transfer manager.
func (m *Manager) File() *FileManager {
	return m.file
}

// Process returns the program execution manager.
func (m *Manager) Process() *ProcessManager {
	return m.process
}

func (m *Manager) auth() vim.GuestAuth {
	return vim.GuestAuth{
		Username: m.cred.Username,
		Password: m.cred.Password,
	}
}

// Family returns the guest OS family, resolved from config.guestId once.
func (m *Manager) Family(ctx context.Context) (Family, error) {
	m.mu.Lock()
	if m.family != nil {
		f := *m.family
		m.mu.Unlock()
		return f, nil
	}
	m.mu.Unlock()

	windows, err := m.vm.IsWindows(ctx)
	if err != nil {
		return FamilyPOSIX, err
	}
	f := FamilyPOSIX
	if windows {
		f = FamilyWindows
	}

	m.mu.Lock()
	m.family = &f
	m.mu.Unlock()
	return f, nil
}

// managers reads the sub-manager references from the guest operations
// manager once.
func (m *Manager) managers(ctx context.Context) (subManagers, error) {
	m.mu.Lock()
	if m.refs != nil {
		refs := *m.refs
		m.mu.Unlock()
		return refs, nil
	}
	m.mu.Unlock()

	root := m.vm.Client().ServiceContent().GuestOperationsManager
	if root.IsZero() {
		return subManagers{}, vim.NewConfigurationError("endpoint has no guest operations manager", nil).
			WithObject(m.vm.Ref())
	}
	p, err := m.vm.Proxy(root)
	if err != nil {
		return subManagers{}, err
	}
	values, err := p.GetMany(ctx, "authManager", "processManager", "fileManager")
	if err != nil {
		return subManagers{}, err
	}

	var refs subManagers
	for name, dst := range map[string]*vim.ObjectRef{
		"authManager":    &refs.auth,
		"processManager": &refs.process,
		"fileManager":    &refs.file,
	} {
		ref, ok := values[name].(vim.ObjectRef)
		if !ok {
			return subManagers{}, vim.NewConfigurationError(
				fmt.Sprintf("guest operations manager does not report %s", name), nil).WithObject(root)
		}
		*dst = ref
	}

	m.mu.Lock()
	m.refs = &refs
	m.mu.Unlock()
	return refs, nil
}

// Run runs a script in the guest. Scripts for Windows guests get CRLF line
// endings.
func (m *Manager) Run(ctx context.Context, script string, timeout time.Duration) ScriptResult {
	f, err := m.Family(ctx)
	if err != nil {
		return ScriptResult{ExitCode: -1, Err: err}
	}
	if f == FamilyWindows {
		script = toCRLF(script)
	}
	return m.process.RunScript(ctx, script, timeout)
}

func toCRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// Sanity check programs.
const (
	posixSanityProgram   = "/bin/date"
	windowsSanityProgram = `c:\Windows\system32\cmd.exe`
)

// TestSanity runs a trivial program to check that guest operations work.
// Unreachable transfer hosts are retried.
func (m *Manager) TestSanity(ctx context.Context) error {
	f, err := m.Family(ctx)
	if err != nil {
		return err
	}
	spec := vim.ProgramSpec{Path: posixSanityProgram}
	if f == FamilyWindows {
		spec = vim.ProgramSpec{Path: windowsSanityProgram, Arguments: "/c time /t"}
	}

	policy := retry.Policy{
		Name:        "guestSanity",
		MaxAttempts: m.timing.SanityAttempts,
		Interval:    m.timing.SanityInterval,
		Retryable:   vim.IsHostUnreachable,
	}
	code, err := retry.Do(ctx, policy, func(ctx context.Context) (int32, error) {
		return m.process.RunAndWait(ctx, spec, m.timing.SanityTimeout)
	})
	if err != nil {
		return fmt.Errorf("guest sanity check on %s: %w", m.vm.Ref().Value, err)
	}
	if code != 0 {
		return vim.NewError(vim.KindRemoteTask,
			fmt.Sprintf("guest sanity program %s exited with %d", spec.Path, code), nil).
			WithObject(m.vm.Ref()).
			WithOp("testSanity").
			WithCode(fmt.Sprint(code))
	}
	m.logger.Debug().
		Str("component", "guest").
		Str("vm", m.vm.Ref().Value).
		Msg("guest sanity check passed")
	return nil
}
