package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recShell records shell calls and lets tests wait for phases.
type recShell struct {
	mu         sync.Mutex
	phases     []Phase
	countdowns []time.Duration
	reasons    []string
	phaseCh    chan Phase
}

func newRecShell() *recShell {
	return &recShell{phaseCh: make(chan Phase, 64)}
}

func (s *recShell) PhaseChanged(p Phase) {
	s.mu.Lock()
	s.phases = append(s.phases, p)
	s.mu.Unlock()
	s.phaseCh <- p
}

func (s *recShell) Countdown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdowns = append(s.countdowns, d)
}

func (s *recShell) NavigateToLogin(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *recShell) Reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reasons...)
}

func (s *recShell) Countdowns() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.countdowns...)
}

func (s *recShell) expect(t *testing.T, want Phase) {
	t.Helper()
	select {
	case got := <-s.phaseCh:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for phase %s", want)
	}
}

func (s *recShell) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-s.phaseCh:
		t.Fatalf("unexpected phase change to %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type memCreds struct {
	mu      sync.Mutex
	token   string
	cleared int
	calls   *[]string
}

func (c *memCreds) RefreshToken(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *memCreds) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.cleared++
	if c.calls != nil {
		*c.calls = append(*c.calls, "clear")
	}
	return nil
}

type recRevoker struct {
	mu      sync.Mutex
	revoked []string
	err     error
	block   bool
	calls   *[]string
}

func (r *recRevoker) Revoke(ctx context.Context, token string) error {
	r.mu.Lock()
	r.revoked = append(r.revoked, token)
	if r.calls != nil {
		*r.calls = append(*r.calls, "revoke")
	}
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

func (r *recRevoker) Revoked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.revoked...)
}

const (
	idle = 30 * time.Minute
	warn = 2 * time.Minute
)

type harness struct {
	m       *Monitor
	clk     *fakeClock
	shell   *recShell
	creds   *memCreds
	revoker *recRevoker
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:     newFakeClock(),
		shell:   newRecShell(),
		creds:   &memCreds{token: "refresh-1"},
		revoker: &recRevoker{},
	}
	m, err := New(Config{IdleTimeout: idle, WarningWindow: warn}, h.shell, h.creds, h.revoker, WithClock(h.clk))
	require.NoError(t, err)
	h.m = m

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})

	require.NoError(t, m.Start(ctx, "u1"))
	h.shell.expect(t, PhaseActive)
	return h
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{IdleTimeout: time.Minute, WarningWindow: time.Minute}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{IdleTimeout: time.Minute}.Validate(), ErrInvalidConfig)

	_, err := New(Config{IdleTimeout: time.Second, WarningWindow: time.Minute}, newRecShell(), &memCreds{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Active", PhaseActive.String())
	assert.Equal(t, "Warning", PhaseWarning.String())
	assert.Equal(t, "LoggedOut", PhaseLoggedOut.String())
}

func TestIdle_WarnsThenLogsOutOnSchedule(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn - time.Second)
	h.shell.expectNone(t)
	assert.Equal(t, PhaseActive, h.m.Phase())

	h.clk.Advance(time.Second)
	h.shell.expect(t, PhaseWarning)
	assert.Equal(t, PhaseWarning, h.m.Phase())

	h.clk.Advance(warn - time.Second)
	h.shell.expectNone(t)

	h.clk.Advance(time.Second)
	h.shell.expect(t, PhaseLoggedOut)
	<-h.m.Done()

	assert.Equal(t, []string{ReasonIdle}, h.shell.Reasons())
	assert.Equal(t, 1, h.creds.cleared)
	assert.Equal(t, []string{"refresh-1"}, h.revoker.Revoked())
	assert.Equal(t, PhaseLoggedOut, h.m.Phase())
	assert.Empty(t, h.clk.Pending(), "no timers survive logout")
}

func TestWarning_CountdownStartsAtWindow(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)
	h.clk.waitPending(t, 2)

	for i := 0; i < 3; i++ {
		h.clk.Advance(time.Second)
		h.clk.waitPending(t, 2)
	}

	assert.Equal(t, []time.Duration{warn, warn - time.Second, warn - 2*time.Second, warn - 3*time.Second},
		h.shell.Countdowns())
}

func TestActivityInWarning_ReschedulesAndCancelsOldLogout(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)

	h.clk.Advance(time.Minute)
	h.m.Activity()
	h.shell.expect(t, PhaseActive)

	// the originally scheduled logout time passes without effect
	h.clk.Advance(time.Minute)
	h.shell.expectNone(t)
	assert.Equal(t, PhaseActive, h.m.Phase())
	assert.Empty(t, h.shell.Reasons())

	// new deadlines count from the activity
	h.clk.Advance(idle - warn - time.Minute)
	h.shell.expect(t, PhaseWarning)
	h.clk.Advance(warn)
	h.shell.expect(t, PhaseLoggedOut)
	assert.Equal(t, []string{ReasonIdle}, h.shell.Reasons())
}

// hookClock runs the armed hook once, on the next Now call.
type hookClock struct {
	*fakeClock
	hook atomic.Pointer[func()]
}

func (c *hookClock) Now() time.Time {
	if f := c.hook.Swap(nil); f != nil {
		(*f)()
	}
	return c.fakeClock.Now()
}

func TestActivityRacingWarnTimer_NoSpuriousNotification(t *testing.T) {
	clk := &hookClock{fakeClock: newFakeClock()}
	shell := newRecShell()
	m, err := New(Config{IdleTimeout: idle, WarningWindow: warn}, shell, &memCreds{token: "refresh-1"}, &recRevoker{}, WithClock(clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	require.NoError(t, m.Start(ctx, "u1"))
	shell.expect(t, PhaseActive)

	// activity lands after the warn timer read the last timestamp
	activity := func() { m.Activity() }
	clk.hook.Store(&activity)
	clk.Advance(idle - warn)
	clk.waitPending(t, 1)

	assert.Nil(t, clk.hook.Load(), "hook ran")
	shell.expectNone(t)
	assert.Equal(t, PhaseActive, m.Phase())

	// the warn timer was re-armed from the activity
	assert.Equal(t, clk.Now().Add(idle-warn), clk.Pending()[0])
	clk.Advance(idle - warn)
	shell.expect(t, PhaseWarning)
}

func TestActivityInActive_DefersWarningLazily(t *testing.T) {
	h := start(t)

	h.clk.Advance(10 * time.Minute)
	for i := 0; i < 1000; i++ {
		h.m.Activity()
	}
	assert.Len(t, h.clk.Pending(), 1, "activity does not touch timers")

	// warn timer fires early relative to the last activity and re-arms
	h.clk.Advance(idle - warn - 10*time.Minute)
	h.shell.expectNone(t)
	h.clk.waitPending(t, 1)
	assert.Equal(t, h.clk.Now().Add(10*time.Minute), h.clk.Pending()[0])

	h.clk.Advance(10 * time.Minute)
	h.shell.expect(t, PhaseWarning)
}

func TestStayLoggedIn(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)

	h.m.StayLoggedIn()
	h.shell.expect(t, PhaseActive)

	h.clk.Advance(warn)
	h.shell.expectNone(t)
	assert.Equal(t, PhaseActive, h.m.Phase())
}

func TestStayLoggedIn_InActiveIsActivity(t *testing.T) {
	h := start(t)

	h.clk.Advance(5 * time.Minute)
	h.m.StayLoggedIn()
	h.shell.expectNone(t)

	h.clk.Advance(idle - warn - 5*time.Minute)
	h.shell.expectNone(t)
	h.clk.waitPending(t, 1)

	h.clk.Advance(5 * time.Minute)
	h.shell.expect(t, PhaseWarning)
}

func TestLogoutNow_FromWarning(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)

	h.m.LogoutNow()
	h.shell.expect(t, PhaseLoggedOut)
	assert.Equal(t, []string{ReasonUser}, h.shell.Reasons())
	assert.Equal(t, []string{"refresh-1"}, h.revoker.Revoked())
	assert.Empty(t, h.clk.Pending())
}

func TestLogoutNow_FromActive(t *testing.T) {
	h := start(t)

	h.m.LogoutNow()
	h.shell.expect(t, PhaseLoggedOut)
	assert.Equal(t, []string{ReasonUser}, h.shell.Reasons())

	// commands after logout are ignored
	h.m.LogoutNow()
	h.m.StayLoggedIn()
	h.m.Activity()
	h.shell.expectNone(t)
	assert.Len(t, h.shell.Reasons(), 1)
}

func TestForceLogout(t *testing.T) {
	h := start(t)

	h.m.ForceLogout("")
	h.shell.expect(t, PhaseLoggedOut)
	assert.Equal(t, []string{ReasonForced}, h.shell.Reasons())
	assert.Equal(t, 1, h.creds.cleared)
}

func TestLogout_ClearsBeforeRevoke(t *testing.T) {
	var calls []string
	h := start(t)
	h.creds.calls = &calls
	h.revoker.calls = &calls

	h.m.LogoutNow()
	assert.Equal(t, []string{"clear", "revoke"}, calls)
}

func TestLogout_RevokeFailureIsSwallowed(t *testing.T) {
	h := start(t)
	h.revoker.err = errors.New("connection refused")

	h.m.LogoutNow()
	h.shell.expect(t, PhaseLoggedOut)
	assert.Equal(t, []string{ReasonUser}, h.shell.Reasons())
	assert.Equal(t, 1, h.creds.cleared)
}

func TestLogout_RevokeIsBounded(t *testing.T) {
	clk := newFakeClock()
	shell := newRecShell()
	rev := &recRevoker{block: true}
	m, err := New(Config{IdleTimeout: idle, WarningWindow: warn}, shell, &memCreds{token: "t"}, rev,
		WithClock(clk), WithRevokeTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), "u1"))
	shell.expect(t, PhaseActive)

	done := make(chan struct{})
	go func() {
		m.LogoutNow()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logout blocked on revoke")
	}
	shell.expect(t, PhaseLoggedOut)
}

func TestLogout_NoTokenSkipsRevoke(t *testing.T) {
	h := start(t)
	h.creds.token = ""

	h.m.LogoutNow()
	assert.Empty(t, h.revoker.Revoked())
	assert.Equal(t, 1, h.creds.cleared)
}

func TestContextCancel_StopsWithoutLogoutEffects(t *testing.T) {
	clk := newFakeClock()
	shell := newRecShell()
	creds := &memCreds{token: "t"}
	rev := &recRevoker{}
	m, err := New(Config{IdleTimeout: idle, WarningWindow: warn}, shell, creds, rev, WithClock(clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, "u1"))
	shell.expect(t, PhaseActive)

	cancel()
	<-m.Done()

	assert.Empty(t, clk.Pending())
	assert.Equal(t, 0, creds.cleared)
	assert.Empty(t, rev.Revoked())
	assert.Empty(t, shell.Reasons())

	clk.Advance(idle)
	shell.expectNone(t)
}

func TestStart_AlreadyRunningAndRestart(t *testing.T) {
	h := start(t)

	assert.ErrorIs(t, h.m.Start(context.Background(), "u1"), ErrAlreadyRunning)

	h.m.LogoutNow()
	h.shell.expect(t, PhaseLoggedOut)

	// a fresh login re-enters Active with fresh deadlines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.m.Start(ctx, "u2"))
	h.shell.expect(t, PhaseActive)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)
}

func TestStaleTimerEventIsDropped(t *testing.T) {
	h := start(t)

	h.clk.Advance(idle - warn)
	h.shell.expect(t, PhaseWarning)

	s := h.m.cur.Load()
	h.m.Activity()
	h.shell.expect(t, PhaseActive)

	// a logout timer from the warning generation arriving late does nothing
	s.post(event{kind: evLogoutTimer, gen: 1})
	h.shell.expectNone(t)
	assert.Equal(t, PhaseActive, h.m.Phase())
}

func TestActivity_NoSessionIsNoop(t *testing.T) {
	m, err := New(DefaultConfig(), newRecShell(), &memCreds{}, nil)
	require.NoError(t, err)

	m.Activity()
	m.StayLoggedIn()
	m.LogoutNow()
	assert.Equal(t, PhaseLoggedOut, m.Phase())

	select {
	case <-m.Done():
	default:
		t.Fatal("Done must be closed without a session")
	}
}

func BenchmarkActivity(b *testing.B) {
	m, err := New(DefaultConfig(), newRecShell(), &memCreds{}, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx, "u1"); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Activity()
	}
}
