// Package liveness implements the client-side idle monitor that logs a
// session out after a period without user activity.
//
// A session moves Active → Warning after IdleTimeout−WarningWindow without
// activity, and Warning → LoggedOut when WarningWindow elapses without
// acknowledgment. Activity or "stay logged in" during Warning returns to
// Active with fresh deadlines. An explicit logout or a forced logout from
// the server ends the session from any phase.
//
// Each session is run by a single event-loop goroutine. Timer callbacks and
// shell commands only post events into it, so no two timers for the same
// concern are ever live and a stale timer cannot act on a newer state.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultWarningWindow = 2 * time.Minute
	DefaultRevokeTimeout = 5 * time.Second

	// CountdownInterval is how often the shell receives the remaining time
	// while in Warning. The countdown is display only.
	CountdownInterval = time.Second
)

// Logout reasons passed to Shell.NavigateToLogin.
const (
	ReasonIdle   = "logged out due to inactivity"
	ReasonUser   = "logged out"
	ReasonForced = "session ended by server"
)

var (
	ErrInvalidConfig  = errors.New("invalid liveness config")
	ErrAlreadyRunning = errors.New("session monitor already running")
)

type Phase int32

const (
	PhaseLoggedOut Phase = iota
	PhaseActive
	PhaseWarning
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "Active"
	case PhaseWarning:
		return "Warning"
	default:
		return "LoggedOut"
	}
}

// Shell is the UI side of the monitor. Calls come from the monitor's event
// loop and must not block on the monitor itself.
type Shell interface {
	PhaseChanged(p Phase)
	Countdown(remaining time.Duration)
	NavigateToLogin(reason string)
}

// Credentials is the local credential state wiped on logout.
type Credentials interface {
	RefreshToken(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Revoker asks the server to revoke a refresh token.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

type Config struct {
	IdleTimeout   time.Duration
	WarningWindow time.Duration
}

func DefaultConfig() Config {
	return Config{IdleTimeout: DefaultIdleTimeout, WarningWindow: DefaultWarningWindow}
}

// Validate requires 0 < WarningWindow < IdleTimeout.
func (c Config) Validate() error {
	if c.WarningWindow <= 0 || c.IdleTimeout <= c.WarningWindow {
		return fmt.Errorf("%w: need 0 < warning window (%s) < idle timeout (%s)",
			ErrInvalidConfig, c.WarningWindow, c.IdleTimeout)
	}
	return nil
}

type Option func(*Monitor)

func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

func WithRevokeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.revokeTimeout = d }
}

type Monitor struct {
	cfg           Config
	clock         Clock
	shell         Shell
	creds         Credentials
	revoker       Revoker
	log           logging.Logger
	revokeTimeout time.Duration

	startMu sync.Mutex
	cur     atomic.Pointer[session]
	phase   atomic.Int32

	// unix nanoseconds of the latest qualifying activity
	lastActivity atomic.Int64
}

// New builds a monitor. revoker may be nil when there is no server to notify.
func New(cfg Config, shell Shell, creds Credentials, revoker Revoker, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:           cfg,
		clock:         realClock{},
		shell:         shell,
		creds:         creds,
		revoker:       revoker,
		log:           logging.Nop{},
		revokeTimeout: DefaultRevokeTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "liveness")
	m.phase.Store(int32(PhaseLoggedOut))
	return m, nil
}

type eventKind int

const (
	evWarn eventKind = iota
	evCountdown
	evLogoutTimer
	evStay
	evLogout
)

type event struct {
	kind   eventKind
	gen    uint64
	reason string
}

// timers are the three handles of a session, always replaced together.
type timers struct {
	warn      Timer
	countdown Timer
	logout    Timer
}

func (t *timers) stop() {
	for _, tm := range []Timer{t.warn, t.countdown, t.logout} {
		if tm != nil {
			tm.Stop()
		}
	}
	*t = timers{}
}

// session holds the loop-owned state of one login.
type session struct {
	userID   string
	events   chan event
	nudge    chan struct{}
	done     chan struct{}
	gen      uint64
	timers   timers
	deadline time.Time
}

func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Start begins monitoring a freshly logged-in session in the Active phase.
// Cancelling ctx stops the monitor and its timers without logout effects.
func (m *Monitor) Start(ctx context.Context, userID string) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if s := m.cur.Load(); s != nil {
		select {
		case <-s.done:
		default:
			return ErrAlreadyRunning
		}
	}

	s := &session{
		userID: userID,
		events: make(chan event, 8),
		nudge:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	m.cur.Store(s)
	m.enterActive(s)
	m.log.Info(ctx, "session monitor started", "user_id", userID)

	go m.loop(ctx, s)
	return nil
}

// Activity records a qualifying user event. It is safe to call at high
// frequency from any goroutine: in Active it only stores a timestamp.
func (m *Monitor) Activity() {
	s := m.cur.Load()
	if s == nil {
		return
	}
	m.lastActivity.Store(m.clock.Now().UnixNano())
	if Phase(m.phase.Load()) == PhaseWarning {
		select {
		case s.nudge <- struct{}{}:
		default:
		}
	}
}

// StayLoggedIn acknowledges the warning prompt.
func (m *Monitor) StayLoggedIn() {
	if s := m.running(); s != nil {
		m.lastActivity.Store(m.clock.Now().UnixNano())
		s.post(event{kind: evStay})
	}
}

// LogoutNow ends the session and returns once logout effects have run.
func (m *Monitor) LogoutNow() {
	m.endSession(ReasonUser)
}

// ForceLogout ends the session because the server rejected it. It returns
// once logout effects have run.
func (m *Monitor) ForceLogout(reason string) {
	if reason == "" {
		reason = ReasonForced
	}
	m.endSession(reason)
}

func (m *Monitor) endSession(reason string) {
	s := m.running()
	if s == nil {
		return
	}
	s.post(event{kind: evLogout, reason: reason})
	<-s.done
}

func (m *Monitor) running() *session {
	s := m.cur.Load()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
		return s
	}
}

func (m *Monitor) Phase() Phase {
	return Phase(m.phase.Load())
}

// Done is closed when the current session's monitor stops. With no session
// it returns a closed channel.
func (m *Monitor) Done() <-chan struct{} {
	if s := m.cur.Load(); s != nil {
		return s.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (m *Monitor) loop(ctx context.Context, s *session) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.gen++
			s.timers.stop()
			m.phase.Store(int32(PhaseLoggedOut))
			m.log.Debug(context.WithoutCancel(ctx), "session monitor stopped", "user_id", s.userID)
			return

		case <-s.nudge:
			if m.Phase() == PhaseWarning {
				m.enterActive(s)
			}

		case ev := <-s.events:
			switch ev.kind {
			case evStay:
				if m.Phase() == PhaseWarning {
					m.enterActive(s)
				}
			case evLogout:
				m.logout(ctx, s, ev.reason)
				return
			default:
				if ev.gen != s.gen {
					continue // stale timer
				}
				if m.onTimer(ctx, s, ev.kind) {
					return
				}
			}
		}
	}
}

// onTimer handles a current-generation timer event and reports whether the
// session ended.
func (m *Monitor) onTimer(ctx context.Context, s *session, kind eventKind) bool {
	switch kind {
	case evWarn:
		m.onWarnTimer(s)
	case evCountdown:
		if m.Phase() == PhaseWarning {
			if remaining := s.deadline.Sub(m.clock.Now()); remaining > 0 {
				m.shell.Countdown(remaining.Round(time.Second))
				s.timers.countdown = m.after(s, CountdownInterval, evCountdown)
			}
		}
	case evLogoutTimer:
		m.logout(ctx, s, ReasonIdle)
		return true
	}
	return false
}

// onWarnTimer enters Warning unless activity arrived since the timer was
// armed, in which case it re-arms for the remaining idle time.
func (m *Monitor) onWarnTimer(s *session) {
	quiet := m.cfg.IdleTimeout - m.cfg.WarningWindow
	last := m.lastActivity.Load()
	if idle := m.clock.Now().Sub(time.Unix(0, last)); idle < quiet {
		s.timers.warn = m.after(s, quiet-idle, evWarn)
		return
	}

	m.phase.Store(int32(PhaseWarning))
	// Activity checks the phase after storing its timestamp, so one of the
	// two sides always sees the other.
	if m.lastActivity.Load() != last {
		// the shell never saw Warning
		m.rearm(s)
		m.phase.Store(int32(PhaseActive))
		return
	}

	s.gen++
	s.timers.stop()
	s.deadline = m.clock.Now().Add(m.cfg.WarningWindow)
	s.timers.logout = m.after(s, m.cfg.WarningWindow, evLogoutTimer)
	s.timers.countdown = m.after(s, CountdownInterval, evCountdown)

	m.shell.PhaseChanged(PhaseWarning)
	m.shell.Countdown(m.cfg.WarningWindow)
}

// enterActive switches to Active and tells the shell.
func (m *Monitor) enterActive(s *session) {
	m.rearm(s)
	m.phase.Store(int32(PhaseActive))
	m.shell.PhaseChanged(PhaseActive)
}

// rearm replaces all timers with a fresh warning timer counted from now.
func (m *Monitor) rearm(s *session) {
	now := m.clock.Now()
	m.lastActivity.Store(now.UnixNano())

	s.gen++
	s.timers.stop()
	s.deadline = now.Add(m.cfg.IdleTimeout)
	s.timers.warn = m.after(s, m.cfg.IdleTimeout-m.cfg.WarningWindow, evWarn)
}

func (m *Monitor) after(s *session, d time.Duration, kind eventKind) Timer {
	gen := s.gen
	return m.clock.AfterFunc(d, func() {
		s.post(event{kind: kind, gen: gen})
	})
}

// logout runs the LoggedOut effects: wipe local credentials, revoke the
// refresh token on a best-effort basis, then send the shell to the login
// screen. It never fails.
func (m *Monitor) logout(ctx context.Context, s *session, reason string) {
	s.gen++
	s.timers.stop()
	m.phase.Store(int32(PhaseLoggedOut))

	ctx = context.WithoutCancel(ctx)

	token, err := m.creds.RefreshToken(ctx)
	if err != nil {
		m.log.Warn(ctx, "read refresh token", "error", err)
	}
	if err := m.creds.Clear(ctx); err != nil {
		m.log.Error(ctx, "clear credentials", "error", err)
	}

	if token != "" && m.revoker != nil {
		rctx, cancel := context.WithTimeout(ctx, m.revokeTimeout)
		if err := m.revoker.Revoke(rctx, token); err != nil {
			m.log.Warn(ctx, "revoke on logout failed", "error", err)
		}
		cancel()
	}

	m.log.Info(ctx, "session logged out", "user_id", s.userID, "reason", reason)

	m.shell.PhaseChanged(PhaseLoggedOut)
	m.shell.NavigateToLogin(reason)
}
