package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "veilfi",
		Usage: "Privacy-preserving lending dashboard gateway CLI",
		Description: `A command-line tool for operating and debugging the veilfi gateway.

Use this CLI to inspect on-chain mappings, query balances and positions,
submit operations, and stream operation lifecycle events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Direct on-chain reads (bypass the gateway)
			{
				Name:  "chain",
				Usage: "Direct on-chain read commands",
				Subcommands: []*cli.Command{
					mappingCommand(),
					heightCommand(),
				},
			},
			// Gateway read commands (HTTP API)
			balancesCommand(),
			positionsCommand(),
			marketCommand(),
			loanCommand(),
			// Operation lifecycle commands
			opCommands(),
			// NATS operation streaming commands
			{
				Name:  "nats",
				Usage: "NATS operation streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// SSE streaming commands
			sseCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Gateway server URL",
				EnvVars: []string{"VEILFI_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
