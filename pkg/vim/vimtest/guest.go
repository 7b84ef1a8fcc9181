package vimtest

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// ScriptFunc runs a guest script and returns its outputs and exit code.
type ScriptFunc func(script string) (stdout, stderr string, exitCode int32)

// Guest is a fake guest operating system with a file system, a process
// table and an HTTP server for transfer tickets.
type Guest struct {
	mu       sync.Mutex
	server   *httptest.Server
	files    map[string][]byte
	dirs     map[string]bool
	tickets  map[string]ticket
	procs    map[int64]*process
	programs []vim.ProgramSpec
	nextID   int
	nextPid  int64

	// Username and Password, when set, are checked by credential validation.
	Username string
	Password string

	// Script interprets uploaded scripts. Defaults to Shell.
	Script ScriptFunc

	// RunningPolls is how many process listings report a started program as
	// still running before it exits.
	RunningPolls int

	// BusyStarts is how many program starts fail with a busy guest agent.
	BusyStarts int

	// UnreachableUploads is how many upload ticket requests fail with a
	// host-unreachable fault.
	UnreachableUploads int
}

type ticket struct {
	path   string
	size   int64
	upload bool
}

type process struct {
	info  vim.GuestProcessInfo
	polls int
}

// NewGuest starts a fake guest. Close it when done.
func NewGuest() *Guest {
	g := &Guest{
		files:   make(map[string][]byte),
		dirs:    make(map[string]bool),
		tickets: make(map[string]ticket),
		procs:   make(map[int64]*process),
		nextPid: 1000,
		Script:  Shell,
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serveTicket))
	return g
}

// Close stops the ticket server.
func (g *Guest) Close() {
	g.server.Close()
}

// Host returns the host:port the ticket server listens on.
func (g *Guest) Host() string {
	return g.server.Listener.Addr().(*net.TCPAddr).String()
}

// WriteFile stores a file, creating its parent directories.
func (g *Guest) WriteFile(path string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addParents(parentDir(path))
	g.files[path] = append([]byte(nil), data...)
}

// ReadFile returns the content of a guest file.
func (g *Guest) ReadFile(path string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.files[path]
	return data, ok
}

// DirExists reports whether dir exists in the guest.
func (g *Guest) DirExists(dir string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirs[dir]
}

// Programs returns every program spec started so far.
func (g *Guest) Programs() []vim.ProgramSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]vim.ProgramSpec(nil), g.programs...)
}

// Dirs returns every existing directory, sorted.
func (g *Guest) Dirs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.dirs))
	for d := range g.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func separator(path string) string {
	if strings.Contains(path, `\`) {
		return `\`
	}
	return "/"
}

func parentDir(path string) string {
	sep := separator(path)
	i := strings.LastIndex(path, sep)
	if i <= 0 {
		return ""
	}
	return path[:i]
}

func (g *Guest) addParents(dir string) {
	for d := dir; d != ""; d = parentDir(d) {
		g.dirs[d] = true
	}
}

func (g *Guest) validate(auth vim.GuestAuth) error {
	if g.Username == "" {
		return nil
	}
	if auth.Username != g.Username || auth.Password != g.Password {
		return &vim.Fault{Kind: vim.FaultNotAuthenticated, Message: "InvalidGuestLogin: Failed to authenticate with the guest operating system"}
	}
	return nil
}

func (g *Guest) mkdir(dir string, createParents bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dirs[dir] {
		return &vim.Fault{Kind: vim.FaultAlreadyExists, Message: fmt.Sprintf("The file %s already exists", dir)}
	}
	parent := parentDir(dir)
	if parent != "" && !g.dirs[parent] && !createParents {
		return &vim.Fault{Kind: vim.FaultNotFound, Message: fmt.Sprintf("File %s was not found", parent)}
	}
	g.addParents(dir)
	return nil
}

func (g *Guest) rmdir(dir string, recursive bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.dirs[dir] {
		return &vim.Fault{Kind: vim.FaultNotFound, Message: fmt.Sprintf("File %s was not found", dir)}
	}
	prefix := dir + separator(dir)
	for d := range g.dirs {
		if strings.HasPrefix(d, prefix) {
			if !recursive {
				return &vim.Fault{Kind: vim.FaultOther, Message: "directory not empty"}
			}
			delete(g.dirs, d)
		}
	}
	for f := range g.files {
		if strings.HasPrefix(f, prefix) {
			if !recursive {
				return &vim.Fault{Kind: vim.FaultOther, Message: "directory not empty"}
			}
			delete(g.files, f)
		}
	}
	delete(g.dirs, dir)
	return nil
}

func (g *Guest) newTicket(t ticket) string {
	g.nextID++
	id := strconv.Itoa(g.nextID)
	g.tickets[id] = t
	return "http://*/guestFile?id=" + id
}

func (g *Guest) ticketTo(path string, size int64, overwrite bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.UnreachableUploads > 0 {
		g.UnreachableUploads--
		return "", &vim.Fault{Kind: vim.FaultHostUnreachable, Message: "connect EHOSTUNREACH"}
	}
	if parent := parentDir(path); parent != "" && !g.dirs[parent] {
		return "", &vim.Fault{Kind: vim.FaultNotFound, Message: fmt.Sprintf("File %s was not found", parent)}
	}
	if _, exists := g.files[path]; exists && !overwrite {
		return "", &vim.Fault{Kind: vim.FaultAlreadyExists, Message: fmt.Sprintf("The file %s already exists", path)}
	}
	return g.newTicket(ticket{path: path, size: size, upload: true}), nil
}

func (g *Guest) ticketFrom(path string) (vim.FileTransferInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.files[path]
	if !ok {
		return vim.FileTransferInfo{}, &vim.Fault{Kind: vim.FaultNotFound, Message: fmt.Sprintf("File %s was not found", path)}
	}
	url := g.newTicket(ticket{path: path, size: int64(len(data))})
	return vim.FileTransferInfo{URL: url, Size: int64(len(data))}, nil
}

func (g *Guest) serveTicket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	g.mu.Lock()
	t, ok := g.tickets[id]
	delete(g.tickets, id)
	g.mu.Unlock()

	if !ok {
		http.Error(w, "unknown ticket", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodPut && t.upload:
		if r.ContentLength != t.size {
			http.Error(w, "content length mismatch", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil || int64(len(data)) != t.size {
			http.Error(w, "short body", http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.files[t.path] = data
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && !t.upload:
		g.mu.Lock()
		data := g.files[t.path]
		g.mu.Unlock()
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Guest) start(auth vim.GuestAuth, spec vim.ProgramSpec) (int64, error) {
	if err := g.validate(auth); err != nil {
		return 0, err
	}

	g.mu.Lock()
	if g.BusyStarts > 0 {
		g.BusyStarts--
		g.mu.Unlock()
		return 0, &vim.Fault{Kind: vim.FaultGuestBusy, Code: "3016", Message: "guest operations agent is not ready"}
	}
	g.programs = append(g.programs, spec)
	g.nextPid++
	pid := g.nextPid
	script, out, errOut := g.redirections(spec)
	g.mu.Unlock()

	var exit int32
	if script != "" {
		data, ok := g.ReadFile(script)
		if !ok {
			exit = 127
		} else {
			var stdout, stderr string
			stdout, stderr, exit = g.Script(string(data))
			if out != "" {
				g.WriteFile(out, []byte(stdout))
			}
			if errOut != "" {
				g.WriteFile(errOut, []byte(stderr))
			}
		}
	}

	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.procs[pid] = &process{
		polls: g.RunningPolls,
		info: vim.GuestProcessInfo{
			Name:      spec.Path,
			Pid:       pid,
			Owner:     auth.Username,
			CmdLine:   strings.TrimSpace(spec.Path + " " + spec.Arguments),
			StartTime: now,
			ExitCode:  exit,
		},
	}
	return pid, nil
}

// redirections parses "[/c ]script >out 2>err" argument strings.
func (g *Guest) redirections(spec vim.ProgramSpec) (script, out, errOut string) {
	for _, f := range strings.Fields(spec.Arguments) {
		switch {
		case f == "/c":
		case strings.HasPrefix(f, "2>"):
			errOut = f[2:]
		case strings.HasPrefix(f, ">"):
			out = f[1:]
		case script == "":
			if _, ok := g.files[f]; ok {
				script = f
			}
		}
	}
	return script, out, errOut
}

func (g *Guest) list(pids []int64) []vim.GuestProcessInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []vim.GuestProcessInfo
	for _, pid := range pids {
		p, ok := g.procs[pid]
		if !ok {
			continue
		}
		info := p.info
		if p.polls > 0 {
			p.polls--
		} else {
			end := time.Now()
			info.EndTime = &end
		}
		out = append(out, info)
	}
	return out
}

// Shell is a ScriptFunc that understands "echo TEXT", "echo TEXT >&2" and
// "exit N" lines. Other lines are ignored.
func Shell(script string) (stdout, stderr string, exitCode int32) {
	var out, errOut strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "echo "):
			text := strings.TrimPrefix(line, "echo ")
			if strings.HasSuffix(text, ">&2") {
				errOut.WriteString(strings.TrimSpace(strings.TrimSuffix(text, ">&2")) + "\n")
			} else {
				out.WriteString(text + "\n")
			}
		case strings.HasPrefix(line, "exit "):
			n, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "exit ")))
			return out.String(), errOut.String(), int32(n)
		}
	}
	return out.String(), errOut.String(), 0
}
