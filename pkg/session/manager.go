// Package session keeps at most one authenticated client per endpoint.
//
// Concurrent logins to the same endpoint share one network login. Sessions
// idle for longer than the freshness window are probed before use and
// transparently re-established when the server has expired them. The client
// handle of a session survives refreshes, so proxies built on it stay valid.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/vmorch/pkg/vim"
)

var tracer = otel.Tracer("github.com/openfroyo/vmorch/pkg/session")

// DefaultFreshnessWindow is how long a session is trusted without a probe.
const DefaultFreshnessWindow = 60 * time.Second

// Session is an authenticated connection to one endpoint.
type Session struct {
	// Address is the endpoint the session belongs to.
	Address string

	// User is the login name.
	User string

	// Client is the authenticated handle. It is reused across refreshes.
	Client vim.Client

	// LastCheck is when the session was last known to be valid.
	LastCheck time.Time

	password string
}

func (s *Session) matches(user, password string) bool {
	return s.User == user && s.password == password
}

// Observer is notified of session lifecycle changes. Implementations must be
// safe for concurrent use.
type Observer interface {
	LoginCompleted(address, user string, duration time.Duration, err error)
	LogoutCompleted(address string, err error)
	SessionRefreshed(address string, expired bool, err error)
}

// Manager owns the sessions of a process. It is safe for concurrent use.
type Manager struct {
	// mu protects sessions.
	mu sync.Mutex

	// sessions maps endpoint address to its live session.
	sessions map[string]*Session

	// flights deduplicates logins and refreshes per address.
	flights singleflight.Group

	dial      vim.Dialer
	freshness time.Duration
	now       func() time.Time
	observer  Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithFreshnessWindow sets how long a session is used without a liveness probe.
func WithFreshnessWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.freshness = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a manager that opens connections with dial.
func NewManager(dial vim.Dialer, opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		dial:      dial,
		freshness: DefaultFreshnessWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// flight is the shared result of a login or refresh.
type flight struct {
	user     string
	password string
	session  *Session
}

// Login returns an authenticated client for address.
//
// When the endpoint already has a session with the same credentials the
// cached client is returned without any network call. Different credentials
// replace the session: the old one is logged out (failures ignored) before
// the new login. Concurrent callers for one address share a single login;
// a caller whose credentials differ from the shared one logs in again once
// it completes.
func (m *Manager) Login(ctx context.Context, address, user, password string) (vim.Client, error) {
	for {
		if s, ok := m.Session(address); ok && s.matches(user, password) {
			return s.Client, nil
		}

		f, err := m.do(ctx, address, func(ctx context.Context) (*flight, error) {
			ctx, span := startSpan(ctx, "session.login", address, attribute.String("vsphere.user", user))
			f, err := m.login(ctx, address, user, password)
			endSpan(span, err)
			return f, err
		})
		if f == nil {
			if vim.IsNotLoggedIn(err) && ctx.Err() == nil {
				// joined a refresh of a session that was logged out meanwhile
				continue
			}
			return nil, err
		}
		if f.user != user || f.password != password {
			log.Debug().
				Str("component", "session").
				Str("address", address).
				Str("user", user).
				Msg("joined a login with other credentials, logging in again")
			continue
		}
		if err != nil {
			return nil, err
		}
		return f.session.Client, nil
	}
}

// do runs fn as the single flight for address. Every caller waits on its own
// context; the shared work runs detached from any single caller's
// cancellation.
func (m *Manager) do(ctx context.Context, address string, fn func(context.Context) (*flight, error)) (*flight, error) {
	shared := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(address, func() (any, error) {
		return fn(shared)
	})

	select {
	case res := <-ch:
		f, _ := res.Val.(*flight)
		return f, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func startSpan(ctx context.Context, name, address string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("vsphere.endpoint", address))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *Manager) login(ctx context.Context, address, user, password string) (*flight, error) {
	f := &flight{user: user, password: password}

	m.mu.Lock()
	existing := m.sessions[address]
	m.mu.Unlock()

	if existing != nil {
		if existing.matches(user, password) {
			f.session = existing
			return f, nil
		}
		log.Info().
			Str("component", "session").
			Str("address", address).
			Str("old_user", existing.User).
			Str("user", user).
			Msg("credentials changed, replacing session")
		m.remove(address, existing)
		if err := existing.Client.Logout(ctx); err != nil {
			log.Warn().
				Str("component", "session").
				Str("address", address).
				Err(err).
				Msg("logout of replaced session failed")
		}
	}

	start := m.now()
	client, err := m.dial(ctx, address)
	if err != nil {
		err = vim.NewTransportError("failed to connect to "+address, err).WithOp("login")
		m.observeLogin(address, user, start, err)
		return f, err
	}
	if err := client.Login(ctx, user, password); err != nil {
		err = fmt.Errorf("login to %s as %s: %w", address, user, err)
		m.observeLogin(address, user, start, err)
		return f, err
	}

	s := &Session{
		Address:   address,
		User:      user,
		Client:    client,
		LastCheck: m.now(),
		password:  password,
	}
	m.mu.Lock()
	m.sessions[address] = s
	m.mu.Unlock()

	log.Info().
		Str("component", "session").
		Str("address", address).
		Str("user", user).
		Str("api_type", client.ServiceContent().APIType).
		Msg("logged in")
	m.observeLogin(address, user, start, nil)

	f.session = s
	return f, nil
}

func (m *Manager) observeLogin(address, user string, start time.Time, err error) {
	if m.observer != nil {
		m.observer.LoginCompleted(address, user, m.now().Sub(start), err)
	}
}

// remove deletes the session of address if it is still s.
func (m *Manager) remove(address string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[address] == s {
		delete(m.sessions, address)
	}
}

// Logout ends the session of address. The local entry is always removed;
// the returned error only reports a failed remote logout.
func (m *Manager) Logout(ctx context.Context, address string) error {
	m.mu.Lock()
	s := m.sessions[address]
	delete(m.sessions, address)
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	err := s.Client.Logout(ctx)
	if err != nil {
		log.Warn().
			Str("component", "session").
			Str("address", address).
			Err(err).
			Msg("remote logout failed")
		err = vim.NewTransportError("logout from "+address+" failed", err).WithOp("logout")
	} else {
		log.Info().
			Str("component", "session").
			Str("address", address).
			Msg("logged out")
	}
	if m.observer != nil {
		m.observer.LogoutCompleted(address, err)
	}
	return err
}

// IsLoggedIn reports whether address has a session.
func (m *Manager) IsLoggedIn(address string) bool {
	_, ok := m.Session(address)
	return ok
}

// Session returns a copy of the session of address.
func (m *Manager) Session(address string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[address]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Addresses returns the endpoints with a live session, sorted.
func (m *Manager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for a := range m.sessions {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Ensure returns a client for address that is known to be authenticated.
//
// Within the freshness window the cached client is returned. Otherwise a
// cheap authenticated call probes the session; if it fails the session is
// logged out (failures ignored) and logged in again on the same client with
// the cached credentials.
func (m *Manager) Ensure(ctx context.Context, address string) (vim.Client, error) {
	s, ok := m.Session(address)
	if !ok {
		return nil, vim.NewError(vim.KindNotLoggedIn, "not logged in to "+address, nil).WithOp("ensure")
	}
	if m.now().Sub(s.LastCheck) < m.freshness {
		return s.Client, nil
	}

	f, err := m.do(ctx, address, func(ctx context.Context) (*flight, error) {
		ctx, span := startSpan(ctx, "session.ensure", address)
		f, err := m.refresh(ctx, address)
		endSpan(span, err)
		return f, err
	})
	if err != nil {
		return nil, err
	}
	return f.session.Client, nil
}

func (m *Manager) refresh(ctx context.Context, address string) (*flight, error) {
	m.mu.Lock()
	s := m.sessions[address]
	var last time.Time
	if s != nil {
		last = s.LastCheck
	}
	m.mu.Unlock()

	if s == nil {
		return nil, vim.NewError(vim.KindNotLoggedIn, "not logged in to "+address, nil).WithOp("ensure")
	}
	f := &flight{user: s.User, password: s.password, session: s}

	idle := m.now().Sub(last)
	if idle < m.freshness {
		return f, nil
	}

	if _, err := s.Client.CurrentTime(ctx); err == nil {
		m.touch(s)
		if m.observer != nil {
			m.observer.SessionRefreshed(address, false, nil)
		}
		return f, nil
	}

	log.Info().
		Str("component", "session").
		Str("address", address).
		Dur("idle", idle).
		Msg("session expired, refreshing")

	if err := s.Client.Logout(ctx); err != nil {
		log.Debug().
			Str("component", "session").
			Str("address", address).
			Err(err).
			Msg("logout of expired session failed")
	}
	if err := s.Client.Login(ctx, s.User, s.password); err != nil {
		err = fmt.Errorf("refresh session of %s: %w", address, err)
		if m.observer != nil {
			m.observer.SessionRefreshed(address, true, err)
		}
		return f, err
	}

	m.touch(s)
	log.Info().
		Str("component", "session").
		Str("address", address).
		Msg("session refreshed")
	if m.observer != nil {
		m.observer.SessionRefreshed(address, true, nil)
	}
	return f, nil
}

func (m *Manager) touch(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.LastCheck = m.now()
}

// Close logs out of every endpoint.
func (m *Manager) Close(ctx context.Context) {
	for _, address := range m.Addresses() {
		_ = m.Logout(ctx, address)
	}
}
