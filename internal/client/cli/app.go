package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/liveness"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/filex"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

// syncWriter serializes writes from the REPL and the liveness monitor.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type App struct {
	client  client.Client
	creds   credentials.Store
	monitor *liveness.Monitor
	logger  logging.Logger
	reader  *bufio.Reader
	out     *syncWriter

	mu    sync.Mutex
	user  *credentials.User
	phase liveness.Phase

	closers []func() error
}

// NewApp opens the local credential database, dials the server and builds
// the liveness monitor from c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(logging.FormatText, c.LogLevel, os.Stderr)

	dbPath, err := filex.EnsureParentDir(c.DatabasePath)
	if err != nil {
		return nil, err
	}
	db, err := credentials.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	store := credentials.NewSQLiteStore(db)

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr, store)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	lc := liveness.Config{IdleTimeout: c.IdleTimeout, WarningWindow: c.WarningWindow}
	a, err := newApp(apiClient, store, lc, os.Stdin, os.Stdout, logger)
	if err != nil {
		_ = apiClient.Close()
		_ = db.Close()
		return nil, err
	}
	a.closers = append(a.closers, apiClient.Close, db.Close)
	return a, nil
}

func newApp(c client.Client, store credentials.Store, lc liveness.Config, in io.Reader, out io.Writer,
	logger logging.Logger, opts ...liveness.Option) (*App, error) {

	a := &App{
		client: c,
		creds:  store,
		logger: logger.With("module", "cli"),
		reader: bufio.NewReader(in),
		out:    &syncWriter{w: out},
	}

	m, err := liveness.New(lc, a, store, c, append([]liveness.Option{liveness.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	a.monitor = m
	c.SetForcedLogoutHook(m.ForceLogout)
	return a, nil
}

// Run resumes a stored session if there is one and serves the REPL until the
// user exits or ctx is cancelled. Leaving keeps the stored session.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close()

	a.println("sessionkeeper CLI (type 'help' for commands)")
	a.resume(ctx)

	runREPL(ctx, a, a.status, a.reader)
	return nil
}

func (a *App) close() {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(context.Background(), "close", "error", err)
	}
}

func (a *App) resume(ctx context.Context) {
	c, err := a.creds.Load(ctx)
	if err != nil {
		a.logger.Warn(ctx, "load stored session", "error", err)
		return
	}
	if c.Empty() {
		return
	}
	if !c.RefreshExpiresAt.IsZero() && !c.RefreshExpiresAt.After(time.Now()) {
		if err := a.creds.Clear(ctx); err != nil {
			a.logger.Warn(ctx, "clear expired session", "error", err)
		}
		a.println("Stored session has expired, please log in")
		return
	}
	if a.startSession(ctx, c.User) {
		a.println("Resumed session for", c.User.Email)
	}
}

func (a *App) startSession(ctx context.Context, u credentials.User) bool {
	a.setUser(&u)
	if err := a.monitor.Start(ctx, u.ID); err != nil {
		a.logger.Error(ctx, "start session monitor", "error", err)
		a.setUser(nil)
		return false
	}
	return true
}

func (a *App) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

func (a *App) setUser(u *credentials.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = u
}

func (a *App) currentUser() *credentials.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *App) isLoggedIn() bool {
	return a.monitor.Phase() != liveness.PhaseLoggedOut
}

func (a *App) activity() {
	a.monitor.Activity()
}

func (a *App) status() string {
	u := a.currentUser()
	if u == nil {
		return ""
	}
	if a.monitor.Phase() == liveness.PhaseWarning {
		return fmt.Sprintf(" (%s, expiring)", u.Email)
	}
	return fmt.Sprintf(" (%s)", u.Email)
}

// Login prompts for credentials and starts a monitored session.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		a.println("Already logged in, use 'logout' first")
		return nil
	}

	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer cryptox.WipeByteArray(password)

	c, err := a.client.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			a.println("Invalid email or password")
		} else {
			a.report(err)
		}
		return err
	}

	if a.startSession(ctx, c.User) {
		a.println("Login successful")
	}
	return nil
}

func (a *App) WhoAmI(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.println("Not logged in")
		return nil
	}
	u, err := a.client.Me(ctx)
	if err != nil {
		a.report(err)
		return err
	}
	a.println(fmt.Sprintf("%s <%s> role=%s id=%s", u.Name, u.Email, u.Role, u.ID))
	return nil
}

// Refresh rotates the refresh token ahead of access token expiry.
func (a *App) Refresh(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.println("Not logged in")
		return nil
	}
	if err := a.client.Refresh(ctx); err != nil {
		a.report(err)
		return err
	}
	a.println("Session refreshed")
	return nil
}

func (a *App) Stay(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.println("Not logged in")
		return nil
	}
	if a.monitor.Phase() == liveness.PhaseActive {
		a.println("Session is active")
	}
	a.monitor.StayLoggedIn()
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.println("Not logged in")
		return nil
	}
	a.monitor.LogoutNow()
	return nil
}

// report prints a user-facing message for err. A forced logout was already
// announced by the monitor.
func (a *App) report(err error) {
	switch {
	case errors.Is(err, common.ErrForcedLogout):
	case errors.Is(err, client.ErrUnavailable):
		a.println("Server unavailable, try again later")
	case errors.Is(err, client.ErrNotLoggedIn):
		a.println("Not logged in")
	case errors.Is(err, common.ErrRateLimited):
		a.println("Too many attempts, try again later")
	default:
		a.println("error:", err)
	}
}
