// Command seeduser creates an account in the server's Postgres database.
//
//	seeduser -email doc@example.com -name Doc -role admin [-d dsn]
//
// The password is read from the terminal without echo.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"golang.org/x/term"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "seeduser:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var email, name, role string
	fs := flag.NewFlagSet("seeduser", flag.ContinueOnError)
	fs.StringVar(&email, "email", "", "user email")
	fs.StringVar(&name, "name", "", "display name")
	fs.StringVar(&role, "role", "user", "user role")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], flagx.Spec{Names: []string{"email", "name", "role"}})); err != nil {
		return err
	}
	if email == "" {
		return fmt.Errorf("-email is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer cryptox.WipeByteArray(password)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	logger := logging.New(logging.Format(cfg.LogFormat), cfg.LogLevel, os.Stderr)
	svc := services.NewAuthService(rm.Users(db), nil, nil, logger)

	u, err := svc.Register(ctx, email, name, role, password)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", u.Email, u.ID)
	return nil
}
