package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/liveness"
)

// countdownStep is how often the remaining time is announced while more than
// countdownFinal is left. Below that every tick is shown.
const (
	countdownStep  = 30 * time.Second
	countdownFinal = 10 * time.Second
)

// PhaseChanged implements liveness.Shell.
func (a *App) PhaseChanged(p liveness.Phase) {
	a.mu.Lock()
	prev := a.phase
	a.phase = p
	a.mu.Unlock()

	switch {
	case p == liveness.PhaseWarning:
		a.println("Your session is about to expire due to inactivity. Type 'stay' to remain logged in.")
	case p == liveness.PhaseActive && prev == liveness.PhaseWarning:
		a.println("Session extended")
	}
}

// Countdown implements liveness.Shell.
func (a *App) Countdown(remaining time.Duration) {
	if remaining > countdownFinal && remaining%countdownStep != 0 {
		return
	}
	a.println(fmt.Sprintf("Logging out in %s", remaining))
}

// NavigateToLogin implements liveness.Shell. The REPL keeps running in the
// logged-out state.
func (a *App) NavigateToLogin(reason string) {
	a.setUser(nil)
	a.println(fmt.Sprintf("Session ended: %s. Type 'login' to sign in again.", reason))
}
