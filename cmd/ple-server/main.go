// Command ple-server serves passwordless entry for a site.
//
// Users request an entry link by email on the login page and log in by
// following it. Tokens are kept in memory, MongoDB, Badger or Redis,
// selected by configuration, see package internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ple-server",
		Usage:   "Passwordless entry server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"PLE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			userCommand(),
		},
		DefaultCommand: "serve",
	}
}
