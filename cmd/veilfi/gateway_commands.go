package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/veilfi/veilfi/client"
)

// newGatewayClient builds a client against the global server-url flag with a
// logger that only surfaces errors.
func newGatewayClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:      "balances",
		Usage:     "Show public and private balances for an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Force a fresh authoritative resync before reading",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("address is required")
			}

			cl := newGatewayClient(c)
			balances, err := cl.Balances(context.Background(), c.Args().Get(0), c.Bool("refresh"))
			if err != nil {
				return fmt.Errorf("failed to fetch balances: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(balances, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Balances for %s", balances.Address)
			if balances.Pending > 0 {
				fmt.Printf(" (%d pending operation(s), optimistic values)", balances.Pending)
			}
			fmt.Println()
			for _, b := range balances.Balances {
				fmt.Printf("  %-6s public: %-14s private: %s\n", b.Symbol, b.PublicDisplay, b.PrivateDisplay)
			}
			return nil
		},
	}
}

func positionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "positions",
		Usage:     "Show active lend receipts and loans for an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("address is required")
			}

			cl := newGatewayClient(c)
			positions, err := cl.Positions(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to fetch positions: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(positions, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Positions for %s\n\n", positions.Address)
			if len(positions.Receipts) == 0 {
				fmt.Println("No active lends")
			} else {
				fmt.Printf("Active lends (%d):\n", len(positions.Receipts))
				for _, r := range positions.Receipts {
					fmt.Printf("  %s  amount: %d  token: %s  height: %d\n",
						r.RecordID, r.Amount, r.TokenID, r.StartHeight)
				}
				fmt.Printf("  Total: %d\n", positions.ActiveLendsTotal)
			}
			fmt.Println()
			if len(positions.Loans) == 0 {
				fmt.Println("No open loans")
			} else {
				fmt.Printf("Open loans (%d):\n", len(positions.Loans))
				for _, l := range positions.Loans {
					printLoan(l)
				}
			}
			return nil
		},
	}
}

func marketCommand() *cli.Command {
	return &cli.Command{
		Name:  "market",
		Usage: "Show the pool's global totals",
		Action: func(c *cli.Context) error {
			cl := newGatewayClient(c)
			market, err := cl.Market(context.Background())
			if err != nil {
				return fmt.Errorf("failed to fetch market: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(market, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Supplied:   %d\n", market.SuppliedTotal)
			fmt.Printf("Borrowed:   %d\n", market.BorrowedTotal)
			fmt.Printf("Available:  %d\n", market.AvailableToBorrow)
			fmt.Printf("Next loan:  %d\n", market.NextLoanID)
			fmt.Printf("Height:     %d\n", market.Height)
			return nil
		},
	}
}

func loanCommand() *cli.Command {
	return &cli.Command{
		Name:      "loan",
		Usage:     "Show the public mapping entry for a loan",
		ArgsUsage: "LOAN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("loan id is required")
			}
			id, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid loan id %q", c.Args().Get(0))
			}

			cl := newGatewayClient(c)
			loan, err := cl.Loan(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to fetch loan: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(loan, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			printLoan(*loan)
			return nil
		},
	}
}

func printLoan(l client.Loan) {
	fmt.Printf("  Loan #%d\n", l.ID)
	fmt.Printf("    Borrowed:   %d (%s)\n", l.BorrowedAmount, l.BorrowedTokenID)
	fmt.Printf("    Collateral: %d (%s)\n", l.CollateralAmount, l.CollateralTokenID)
	fmt.Printf("    Height:     %d\n", l.StartHeight)
	fmt.Printf("    Rate:       %d\n", l.Rate)
	fmt.Printf("    Active:     %t\n", l.Active)
}
