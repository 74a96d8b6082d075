package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/splitpot/splitpot/internal/split"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the ledger",
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)
		snap := syn.Snapshot()

		if name := syn.Pref("name"); name != "" {
			fmt.Printf("Ledger: %s\n", name)
		}
		if currency := syn.Pref("currency"); currency != "" {
			fmt.Printf("Currency: %s\n", currency)
		}
		if syn.Synced() {
			fmt.Printf("Status: synced (version %s)\n", syn.Version())
		} else {
			fmt.Println("Status: local changes pending, run 'splitpot sync'")
		}
		fmt.Println()

		printParticipants(snap)
		printExpenses(snap)
		printPayments(snap)
	},
}

var showPaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Show who owes whom",
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		syn := offlineEngine(context.Background(), st)
		printPayments(syn.Snapshot())
	},
}

var showBalancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show each participant's net position",
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		syn := offlineEngine(context.Background(), st)
		snap := syn.Snapshot()

		balances := snap.Balances()
		if len(balances) == 0 {
			fmt.Println("No participants.")
			return
		}
		fmt.Println("Balances (positive is owed money):")
		for _, p := range snap.Participants {
			fmt.Printf("  %-20s %10s\n", p.Data.Name, split.FormatMinorUnits(balances[p.ID]))
		}
	},
}

func participantName(s *split.Split, id string) string {
	if p := s.FindParticipant(id); p != nil {
		return p.Data.Name
	}
	return id
}

func categoryName(s *split.Split, id string) string {
	if c := s.FindCategory(id); c != nil {
		return c.Data.Name
	}
	return id
}

func printParticipants(s *split.Split) {
	if len(s.Participants) == 0 {
		fmt.Println("No participants yet; add some with 'splitpot participant add'.")
		return
	}
	fmt.Printf("Participants (%d):\n", len(s.Participants))
	for _, p := range s.Participants {
		line := "  " + p.Data.Name
		if p.Data.Patron != "" {
			line += " (paid for by " + participantName(s, p.Data.Patron) + ")"
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func printExpenses(s *split.Split) {
	if len(s.Expenses) == 0 {
		return
	}
	fmt.Printf("Expenses (%d):\n", len(s.Expenses))
	for _, e := range s.Expenses {
		line := fmt.Sprintf("  %s  paid by %s", e.Data.Amount, participantName(s, e.Data.Payer))
		if e.Data.Category != "" {
			line += "  [" + categoryName(s, e.Data.Category) + "]"
		}
		if e.Data.Title != "" {
			line += "  " + e.Data.Title
		}
		line += "  (" + shortID(e.ID) + ")"
		fmt.Println(line)
	}
	fmt.Println()
}

func printPayments(s *split.Split) {
	if len(s.Payments) == 0 {
		fmt.Println("All settled, nobody owes anything.")
		return
	}
	fmt.Println("Suggested payments:")
	for _, pay := range s.Payments {
		fmt.Printf("  %s -> %s  %s\n",
			participantName(s, pay.Sender), participantName(s, pay.Receiver), pay.Amount)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	showCmd.AddCommand(showPaymentsCmd)
	showCmd.AddCommand(showBalancesCmd)
	rootCmd.AddCommand(showCmd)
}
