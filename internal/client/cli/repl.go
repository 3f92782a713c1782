package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// execIface is the command surface the REPL dispatches to. *App satisfies it.
type execIface interface {
	println(args ...any)
	isLoggedIn() bool
	activity()
	Login(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Refresh(ctx context.Context) error
	Stay(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads commands line by line and dispatches them to a. Every line,
// blank ones included, is reported as activity before it is handled. The loop
// exits on EOF, on "exit" or "quit", or when ctx is cancelled.
//
//	Not logged in: help, login, exit
//	Logged in:     help, whoami, refresh, stay, logout, exit
//
// Command errors are reported by the handlers themselves.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for ctx.Err() == nil {
		a.println(fmt.Sprintf("sk%s>", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		a.activity()

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "help":
			if a.isLoggedIn() {
				a.println("Available commands: whoami, refresh, stay, logout, exit")
			} else {
				a.println("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "whoami", "me":
			_ = a.WhoAmI(ctx)

		case "refresh":
			_ = a.Refresh(ctx)

		case "stay":
			_ = a.Stay(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			a.println("Bye!")
			return

		default:
			a.println("Unknown command:", cmd)
		}
	}
}
