package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   address and port of the backend gRPC server
//	-db string  path to the local credential database
//	-i int      idle timeout (in minutes)
//	-w int      warning window (in seconds)
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], flagx.Spec{Names: []string{"a", "db", "i", "w"}})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "local credential database")
	idle := fs.Int("i", int(cfg.IdleTimeout.Minutes()), "idle timeout (in minutes)")
	warn := fs.Int("w", int(cfg.WarningWindow.Seconds()), "warning window (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			cfg.IdleTimeout = time.Duration(*idle) * time.Minute
		case "w":
			cfg.WarningWindow = time.Duration(*warn) * time.Second
		}
	})
}
