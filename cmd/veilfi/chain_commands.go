package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veilfi/veilfi/service/aleo"
)

func chainFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "JSON-RPC endpoint URL",
			EnvVars: []string{"ALEO_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "explorer-url",
			Usage:   "Block explorer base URL (latest height lookup)",
			EnvVars: []string{"ALEO_EXPLORER_URL"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: 15 * time.Second,
		},
	}
}

func newChainClient(c *cli.Context) (*aleo.Client, error) {
	rpcURL := c.String("rpc-url")
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc-url is required (set ALEO_RPC_URL env var or use --rpc-url)")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return aleo.NewClient(rpcURL, c.String("explorer-url"), nil, nil, logger), nil
}

func mappingCommand() *cli.Command {
	return &cli.Command{
		Name:      "mapping",
		Usage:     "Read a program mapping value",
		ArgsUsage: "PROGRAM_ID MAPPING_NAME KEY",
		Description: `Read one entry from a program's public mapping via JSON-RPC.

Example:
  veilfi chain mapping veil_lend.aleo supplied_total 0u8`,
		Flags: chainFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("expected PROGRAM_ID MAPPING_NAME KEY")
			}

			client, err := newChainClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			value, err := client.GetMappingValue(ctx, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("failed to read mapping: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]string{
					"program": c.Args().Get(0),
					"mapping": c.Args().Get(1),
					"key":     c.Args().Get(2),
					"value":   value,
				})
				fmt.Println(string(data))
				return nil
			}

			if value == "" {
				fmt.Println("(no entry)")
			} else {
				fmt.Println(value)
			}
			return nil
		},
	}
}

func heightCommand() *cli.Command {
	return &cli.Command{
		Name:  "height",
		Usage: "Read the latest block height",
		Flags: chainFlags(),
		Action: func(c *cli.Context) error {
			client, err := newChainClient(c)
			if err != nil {
				return err
			}
			if c.String("explorer-url") == "" {
				return fmt.Errorf("explorer-url is required (set ALEO_EXPLORER_URL env var or use --explorer-url)")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			height, err := client.LatestHeight(ctx)
			if err != nil {
				return fmt.Errorf("failed to read block height: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]uint32{"height": height})
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(height)
			return nil
		},
	}
}
