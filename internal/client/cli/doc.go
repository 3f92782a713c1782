// Package cli provides the interactive sessionkeeper command-line client.
//
// It wires configuration, the local credential store, the gRPC API client and
// the session liveness monitor behind a small REPL. Every input line counts as
// user activity; after a period of inactivity the shell shows a warning with
// a countdown and then logs the user out.
//
// Commands: login, whoami, refresh, stay, logout, help, exit.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits or
// ctx is cancelled. Exiting keeps the stored session so the next start can
// resume it.
package cli
