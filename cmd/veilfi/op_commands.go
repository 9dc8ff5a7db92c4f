package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/veilfi/veilfi/client"
)

func opCommands() *cli.Command {
	return &cli.Command{
		Name:  "op",
		Usage: "Operation lifecycle commands",
		Subcommands: []*cli.Command{
			opSubmitCommand(),
			opListCommand(),
			opGetCommand(),
			opCancelCommand(),
			opAwaitCommand(),
		},
	}
}

func opSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit an operation for signing and reconciliation tracking",
		ArgsUsage: "KIND",
		Description: `Submit an operation through the gateway. The gateway assembles the
transaction from fresh chain reads and wallet records, requests signing via
the wallet bridge, and tracks confirmation.

Examples:
  veilfi op submit lend --token ALEO --amount 100.5
  veilfi op submit borrow --token vUSD --amount 50 --collateral-token wALEO --collateral-amount 120
  veilfi op submit redeem --receipt RECORD_ID
  veilfi op submit repay --token vUSD --amount 50 --loan-id 7`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "Token symbol (ALEO, wALEO, vUSD)",
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in display units (e.g. \"100.5\")",
			},
			&cli.StringFlag{
				Name:  "collateral-token",
				Usage: "Collateral token symbol (borrow only)",
			},
			&cli.StringFlag{
				Name:  "collateral-amount",
				Usage: "Collateral amount in display units (borrow only)",
			},
			&cli.Uint64Flag{
				Name:  "loan-id",
				Usage: "Loan id (repay only)",
			},
			&cli.StringFlag{
				Name:  "receipt",
				Usage: "Receipt record id (redeem only)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("operation kind is required (lend, redeem, borrow, repay, transfer, wrap, unwrap)")
			}

			cl := newGatewayClient(c)
			op, err := cl.SubmitOperation(context.Background(), client.OperationRequest{
				Kind:             c.Args().Get(0),
				Token:            c.String("token"),
				Amount:           c.String("amount"),
				CollateralToken:  c.String("collateral-token"),
				CollateralAmount: c.String("collateral-amount"),
				LoanID:           c.Uint64("loan-id"),
				ReceiptRecordID:  c.String("receipt"),
			})
			if err != nil {
				return fmt.Errorf("failed to submit operation: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(op, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("✓ Operation accepted\n")
			printOperation(op)
			return nil
		},
	}
}

func opListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List pending operations in submission order",
		Action: func(c *cli.Context) error {
			cl := newGatewayClient(c)
			ops, err := cl.ListOperations(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list operations: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(ops, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(ops) == 0 {
				fmt.Println("No pending operations")
				return nil
			}
			for i := range ops {
				printOperation(&ops[i])
				fmt.Println()
			}
			return nil
		},
	}
}

func opGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one pending operation",
		ArgsUsage: "OPERATION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("operation id is required")
			}

			cl := newGatewayClient(c)
			op, err := cl.GetOperation(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get operation: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(op, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printOperation(op)
			return nil
		},
	}
}

func opCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Stop tracking a pending operation",
		ArgsUsage: "OPERATION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("operation id is required")
			}

			cl := newGatewayClient(c)
			if err := cl.CancelOperation(context.Background(), c.Args().Get(0)); err != nil {
				return fmt.Errorf("failed to cancel operation: %w", err)
			}
			fmt.Printf("✓ Operation %s cancelled\n", c.Args().Get(0))
			return nil
		},
	}
}

func opAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a matching operation event arrives",
		ArgsUsage: "[ADDRESS]",
		Description: `Stream operation events and block until one matches the given filters.
All filters must match. jq filters run against the full event JSON.

Examples:
  veilfi op await aleo1abc... --operation-id op-000007
  veilfi op await --state confirmed --must-jq '.kind == "lend"'
  veilfi op await --must-jq '.amount >= 1000000' --timeout 5m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "operation-id",
				Usage: "Match a specific operation id",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Match a lifecycle state (submitted, confirmed, timed_out)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter over the event JSON; must evaluate truthy (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for a matching event",
				Value: 3 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			operationID := c.String("operation-id")
			state := c.String("state")
			jqFilters := c.StringSlice("must-jq")
			jsonOutput := c.Bool("json")

			if operationID == "" && state == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --operation-id, --state, or --must-jq")
			}

			// Compile jq filters
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			matcher := func(event *client.OperationEvent) bool {
				if operationID != "" && event.OperationID != operationID {
					return false
				}
				if state != "" && event.State != state {
					return false
				}
				return jqFiltersMatch(compiledJQFilters, event)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for operation event")
				if address != "" {
					fmt.Fprintf(os.Stderr, " on %s", address)
				}
				fmt.Fprintf(os.Stderr, "... (timeout %v)\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			cl := newGatewayClient(c)
			event, err := cl.Await(ctx, address, matcher)
			if err != nil {
				return fmt.Errorf("failed to await operation event: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(event, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printOperationEvent(event)
			return nil
		},
	}
}

// jqFiltersMatch runs every compiled filter against the event's JSON form.
// All must evaluate truthy.
func jqFiltersMatch(filters []*gojq.Code, event *client.OperationEvent) bool {
	if len(filters) == 0 {
		return true
	}

	// Round-trip through JSON so jq sees plain maps and numbers.
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var eventJSON interface{}
	if err := json.Unmarshal(data, &eventJSON); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(eventJSON)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printOperation(op *client.Operation) {
	fmt.Printf("  ID:          %s\n", op.ID)
	fmt.Printf("  Kind:        %s\n", op.Kind)
	fmt.Printf("  State:       %s\n", op.State)
	if op.AmountDisplay != "" {
		fmt.Printf("  Amount:      %s (%s)\n", op.AmountDisplay, op.TokenID)
	} else if op.Amount > 0 {
		fmt.Printf("  Amount:      %d (%s)\n", op.Amount, op.TokenID)
	}
	if op.CollateralAmount > 0 {
		fmt.Printf("  Collateral:  %d (%s)\n", op.CollateralAmount, op.CollateralTokenID)
	}
	if op.LoanID > 0 {
		fmt.Printf("  Loan:        %d\n", op.LoanID)
	}
	fmt.Printf("  Transaction: %s\n", op.TransactionID)
	fmt.Printf("  Submitted:   %s\n", op.SubmittedAt)
}

func printOperationEvent(event *client.OperationEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Operation:   %s\n", event.OperationID)
	fmt.Printf("Kind:        %s\n", event.Kind)
	fmt.Printf("State:       %s\n", event.State)
	fmt.Printf("Address:     %s\n", event.Address)
	if event.Amount > 0 {
		fmt.Printf("Amount:      %d (%s)\n", event.Amount, event.TokenID)
	}
	if event.CollateralAmount > 0 {
		fmt.Printf("Collateral:  %d (%s)\n", event.CollateralAmount, event.CollateralTokenID)
	}
	if event.Reason != "" {
		fmt.Printf("Reason:      %s\n", event.Reason)
	}
	fmt.Printf("Transaction: %s\n", event.TransactionID)
	fmt.Printf("Published:   %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
