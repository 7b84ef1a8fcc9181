package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/vmorch/pkg/vim"
	"github.com/openfroyo/vmorch/pkg/vim/vimtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

const addr = "vc.example.com"

func TestLoginCachesSession(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient(addr)
	m := NewManager(client.Dialer())

	c1, err := m.Login(ctx, addr, "administrator@vsphere.local", "secret")
	require.NoError(t, err)
	c2, err := m.Login(ctx, addr, "administrator@vsphere.local", "secret")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, client.Calls("Login"))
	assert.Equal(t, 1, client.Calls("Dial"))
	assert.True(t, m.IsLoggedIn(addr))

	s, ok := m.Session(addr)
	require.True(t, ok)
	assert.Equal(t, "administrator@vsphere.local", s.User)
	assert.Equal(t, addr, s.Address)
}

func TestConcurrentLoginsShareOneLogin(t *testing.T) {
	client := vimtest.NewClient(addr)
	release := make(chan struct{})
	client.LoginFunc = func(ctx context.Context, user, password string) error {
		<-release
		return nil
	}
	m := NewManager(client.Dialer())

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Login(context.Background(), addr, "root", "vmware")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, client.Calls("Login"))
}

func TestCredentialChangeReplacesSession(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient(addr)
	m := NewManager(client.Dialer())

	_, err := m.Login(ctx, addr, "alice", "pw1")
	require.NoError(t, err)

	_, err = m.Login(ctx, addr, "bob", "pw2")
	require.NoError(t, err)

	assert.Equal(t, 1, client.Calls("Logout"))
	assert.Equal(t, 2, client.Calls("Login"))
	assert.Equal(t, "bob", client.User())

	s, ok := m.Session(addr)
	require.True(t, ok)
	assert.Equal(t, "bob", s.User)
}

func TestCredentialChangeIgnoresLogoutFailure(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient(addr)
	m := NewManager(client.Dialer())

	_, err := m.Login(ctx, addr, "alice", "pw1")
	require.NoError(t, err)
	client.FailNext("Logout", errors.New("connection reset"))

	_, err = m.Login(ctx, addr, "alice", "pw2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Calls("Login"))
}

func TestLoginFailure(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient(addr)
	client.FailNext("Login", &vim.Fault{Kind: vim.FaultNotAuthenticated, Message: "InvalidLogin"})
	m := NewManager(client.Dialer())

	_, err := m.Login(ctx, addr, "root", "wrong")
	require.Error(t, err)
	assert.True(t, vim.IsNotAuthenticated(err))
	assert.False(t, m.IsLoggedIn(addr))

	client.FailNext("Dial", errors.New("dial tcp: no such host"))
	_, err = m.Login(ctx, addr, "root", "vmware")
	require.Error(t, err)
	assert.True(t, vim.IsTransport(err))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient(addr)
	m := NewManager(client.Dialer())

	require.NoError(t, m.Logout(ctx, addr), "logout without session is a no-op")

	_, err := m.Login(ctx, addr, "root", "vmware")
	require.NoError(t, err)

	client.FailNext("Logout", errors.New("broken pipe"))
	err = m.Logout(ctx, addr)
	assert.Error(t, err)
	assert.False(t, m.IsLoggedIn(addr), "local entry is removed even when remote logout fails")
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()

	t.Run("not logged in", func(t *testing.T) {
		m := NewManager(vimtest.NewClient(addr).Dialer())
		_, err := m.Ensure(ctx, addr)
		assert.True(t, vim.IsNotLoggedIn(err))
	})

	t.Run("fresh session skips probe", func(t *testing.T) {
		clock := newClock()
		client := vimtest.NewClient(addr)
		m := NewManager(client.Dialer(), WithClock(clock.Now))
		_, err := m.Login(ctx, addr, "root", "vmware")
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		_, err = m.Ensure(ctx, addr)
		require.NoError(t, err)
		assert.Zero(t, client.Calls("CurrentTime"))
	})

	t.Run("live session is probed once", func(t *testing.T) {
		clock := newClock()
		client := vimtest.NewClient(addr)
		m := NewManager(client.Dialer(), WithClock(clock.Now))
		_, err := m.Login(ctx, addr, "root", "vmware")
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		_, err = m.Ensure(ctx, addr)
		require.NoError(t, err)
		_, err = m.Ensure(ctx, addr)
		require.NoError(t, err)

		assert.Equal(t, 1, client.Calls("CurrentTime"))
		assert.Equal(t, 1, client.Calls("Login"))

		s, _ := m.Session(addr)
		assert.Equal(t, clock.Now(), s.LastCheck)
	})

	t.Run("expired session is refreshed on the same handle", func(t *testing.T) {
		clock := newClock()
		client := vimtest.NewClient(addr)
		m := NewManager(client.Dialer(), WithClock(clock.Now))
		original, err := m.Login(ctx, addr, "root", "vmware")
		require.NoError(t, err)

		client.ExpireSession()
		clock.Advance(10 * time.Minute)

		refreshed, err := m.Ensure(ctx, addr)
		require.NoError(t, err)
		assert.Same(t, original, refreshed)
		assert.Equal(t, 2, client.Calls("Login"))
		assert.Equal(t, 1, client.Calls("Dial"))
		assert.Equal(t, "root", client.User())

		s, _ := m.Session(addr)
		assert.Equal(t, clock.Now(), s.LastCheck)
	})

	t.Run("concurrent refreshes share one login", func(t *testing.T) {
		clock := newClock()
		client := vimtest.NewClient(addr)
		m := NewManager(client.Dialer(), WithClock(clock.Now), WithFreshnessWindow(time.Second))
		_, err := m.Login(ctx, addr, "root", "vmware")
		require.NoError(t, err)

		client.ExpireSession()
		clock.Advance(time.Minute)
		release := make(chan struct{})
		client.LoginFunc = func(ctx context.Context, user, password string) error {
			<-release
			return nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Ensure(ctx, addr)
				assert.NoError(t, err)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, 2, client.Calls("Login"))
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	a := vimtest.NewClient("a.example.com")
	b := vimtest.NewClient("b.example.com")
	dial := func(ctx context.Context, address string) (vim.Client, error) {
		if address == "a.example.com" {
			return a, nil
		}
		return b, nil
	}
	m := NewManager(dial)

	_, err := m.Login(ctx, "a.example.com", "root", "x")
	require.NoError(t, err)
	_, err = m.Login(ctx, "b.example.com", "root", "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, m.Addresses())

	m.Close(ctx)
	assert.Empty(t, m.Addresses())
	assert.Equal(t, 1, a.Calls("Logout"))
	assert.Equal(t, 1, b.Calls("Logout"))
}

type countingObserver struct {
	mu        sync.Mutex
	logins    int
	logouts   int
	refreshes int
}

func (o *countingObserver) LoginCompleted(string, string, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins++
}

func (o *countingObserver) LogoutCompleted(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logouts++
}

func (o *countingObserver) SessionRefreshed(string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes++
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	obs := &countingObserver{}
	client := vimtest.NewClient(addr)
	m := NewManager(client.Dialer(), WithClock(clock.Now), WithObserver(obs))

	_, err := m.Login(ctx, addr, "root", "vmware")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = m.Ensure(ctx, addr)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, addr))

	assert.Equal(t, 1, obs.logins)
	assert.Equal(t, 1, obs.refreshes)
	assert.Equal(t, 1, obs.logouts)
}

var (
	recorderOnce sync.Once
	recorder     *tracetest.SpanRecorder
)

func spanRecorder() *tracetest.SpanRecorder {
	recorderOnce.Do(func() {
		recorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	})
	return recorder
}

func spanNames(rec *tracetest.SpanRecorder, address string) []string {
	var names []string
	for _, s := range rec.Ended() {
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("vsphere.endpoint") && kv.Value.AsString() == address {
				names = append(names, s.Name())
			}
		}
	}
	return names
}

func TestSpans(t *testing.T) {
	const traced = "traced.example.com"
	rec := spanRecorder()
	ctx := context.Background()
	clock := newClock()
	fake := vimtest.NewClient(traced)
	m := NewManager(fake.Dialer(), WithClock(clock.Now))

	_, err := m.Login(ctx, traced, "root", "secret")
	require.NoError(t, err)
	_, err = m.Login(ctx, traced, "root", "secret")
	require.NoError(t, err)

	clock.Advance(2 * DefaultFreshnessWindow)
	_, err = m.Ensure(ctx, traced)
	require.NoError(t, err)

	assert.Equal(t, []string{"session.login", "session.ensure"}, spanNames(rec, traced))
}
