package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veilfi/veilfi/client"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream operation events via SSE (HTTP)",
		ArgsUsage: "[address]",
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			jsonOutput := c.Bool("json")

			// Cancel on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			if !jsonOutput {
				if address != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for address: %s\n", address)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all addresses\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming operation events... (Ctrl+C to stop)\n\n")
			}

			cl := newGatewayClient(c)
			err := cl.StreamOperations(ctx, address, func(event *client.OperationEvent) error {
				if jsonOutput {
					data, _ := json.Marshal(event)
					fmt.Println(string(data))
					return nil
				}
				printStreamedEvent(event)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("error reading SSE stream: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

func printStreamedEvent(event *client.OperationEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Operation:  %s\n", event.OperationID)
	fmt.Printf("Kind:       %s\n", event.Kind)
	fmt.Printf("State:      %s\n", event.State)
	fmt.Printf("Address:    %s\n", event.Address)
	if event.Amount > 0 {
		fmt.Printf("Amount:     %d (%s)\n", event.Amount, event.TokenID)
	}
	if event.Reason != "" {
		fmt.Printf("Reason:     %s\n", event.Reason)
	}
	fmt.Printf("Published:  %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println()
}
