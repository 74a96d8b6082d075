package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitpot/splitpot/internal/split"
)

// applyEdits runs a batch of edits against the active ledger and
// reminds the user the change is local until the next sync.
func applyEdits(edits []split.Edit) {
	st := openState()
	defer st.Close()
	ctx := context.Background()

	syn := offlineEngine(ctx, st)
	if err := syn.Apply(ctx, edits); err != nil {
		fatal("applying edit: %v", err)
	}
	fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
}

// resolveParticipant accepts an id or a unique name and returns the id.
func resolveParticipant(s *split.Split, nameOrID string) string {
	if s.FindParticipant(nameOrID) != nil {
		return nameOrID
	}
	var match string
	for _, p := range s.Participants {
		if p.Data.Name == nameOrID {
			if match != "" {
				fatal("participant name %q is ambiguous, use the id", nameOrID)
			}
			match = p.ID
		}
	}
	if match == "" {
		fatal("no participant %q", nameOrID)
	}
	return match
}

func resolveCategory(s *split.Split, nameOrID string) string {
	if s.FindCategory(nameOrID) != nil {
		return nameOrID
	}
	var match string
	for _, c := range s.Categories {
		if c.Data.Name == nameOrID {
			if match != "" {
				fatal("category name %q is ambiguous, use the id", nameOrID)
			}
			match = c.ID
		}
	}
	if match == "" {
		fatal("no category %q", nameOrID)
	}
	return match
}

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Manage participants",
}

var participantAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a participant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		patron, _ := cmd.Flags().GetString("patron")

		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)

		p := split.Participant{Name: args[0]}
		if patron != "" {
			p.Patron = resolveParticipant(syn.Snapshot(), patron)
		}
		if err := syn.Apply(ctx, []split.Edit{split.UpsertParticipant("", p)}); err != nil {
			fatal("adding participant: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

var participantRmCmd = &cobra.Command{
	Use:   "rm <name-or-id>",
	Short: "Remove a participant (their expenses go with them)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)

		id := resolveParticipant(syn.Snapshot(), args[0])
		if err := syn.Apply(ctx, []split.Edit{split.Remove(split.TableParticipants, id)}); err != nil {
			fatal("removing participant: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage expense categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a category",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyEdits([]split.Edit{split.UpsertCategory("", split.Category{Name: args[0]})})
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm <name-or-id>",
	Short: "Remove a category (expenses fall back to the common pot)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)

		id := resolveCategory(syn.Snapshot(), args[0])
		if err := syn.Apply(ctx, []split.Edit{split.Remove(split.TableCategories, id)}); err != nil {
			fatal("removing category: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

var expenseCmd = &cobra.Command{
	Use:   "expense",
	Short: "Manage expenses",
}

var expenseAddCmd = &cobra.Command{
	Use:   "add <amount> --payer <name>",
	Short: "Record an expense",
	Long: `Record an expense paid by one participant.

Without --category the amount is shared equally by everyone; with a
category it is shared by that category's participation weights.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		amount := args[0]
		if !split.AmountValid(amount) {
			fatal("malformed amount %q: want a plain decimal like 12.50", amount)
		}
		payer, _ := cmd.Flags().GetString("payer")
		if payer == "" {
			fatal("--payer is required")
		}
		categoryFlag, _ := cmd.Flags().GetString("category")
		title, _ := cmd.Flags().GetString("title")

		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)
		snap := syn.Snapshot()

		e := split.Expense{
			Title:  title,
			Amount: split.NormalizedAmount(amount),
			Payer:  resolveParticipant(snap, payer),
		}
		if categoryFlag != "" {
			e.Category = resolveCategory(snap, categoryFlag)
		}
		if err := syn.Apply(ctx, []split.Edit{split.UpsertExpense("", e)}); err != nil {
			fatal("recording expense: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

var expenseRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an expense (id prefixes from 'show' are accepted)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)

		id := resolveExpense(syn.Snapshot(), args[0])
		if err := syn.Apply(ctx, []split.Edit{split.Remove(split.TableExpenses, id)}); err != nil {
			fatal("removing expense: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

// resolveExpense accepts a full id or a unique prefix.
func resolveExpense(s *split.Split, prefix string) string {
	var match string
	for _, e := range s.Expenses {
		if strings.HasPrefix(e.ID, prefix) {
			if match != "" {
				fatal("expense id prefix %q is ambiguous", prefix)
			}
			match = e.ID
		}
	}
	if match == "" {
		fatal("no expense with id %q", prefix)
	}
	return match
}

var shareCmd = &cobra.Command{
	Use:   "share <participant> <category> <weight>",
	Short: "Set a participant's share weight in a category",
	Long: `Set how many equal consumption slots a participant holds in a
category. Weight 0 removes the share.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		var weight int
		if _, err := fmt.Sscanf(args[2], "%d", &weight); err != nil || weight < 0 {
			fatal("malformed weight %q: want a non-negative integer", args[2])
		}

		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)
		snap := syn.Snapshot()

		participant := resolveParticipant(snap, args[0])
		category := resolveCategory(snap, args[1])

		var existing string
		for _, x := range snap.Participations {
			if x.Data.Participant == participant && x.Data.Category == category {
				existing = x.ID
				break
			}
		}

		var edits []split.Edit
		switch {
		case weight == 0 && existing == "":
			fmt.Println("Nothing to do.")
			return
		case weight == 0:
			edits = []split.Edit{split.Remove(split.TableParticipations, existing)}
		default:
			edits = []split.Edit{split.UpsertParticipation(existing, split.Participation{
				Participant: participant,
				Category:    category,
				Value:       weight,
			})}
		}
		if err := syn.Apply(ctx, edits); err != nil {
			fatal("setting share: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

var prefCmd = &cobra.Command{
	Use:   "pref",
	Short: "Manage ledger preferences",
}

var prefSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a ledger preference (e.g. name, currency)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		syn := offlineEngine(ctx, st)

		if err := syn.SetPref(ctx, args[0], args[1]); err != nil {
			fatal("setting preference: %v", err)
		}
		fmt.Println("Recorded locally. Run 'splitpot sync' to publish.")
	},
}

func init() {
	participantAddCmd.Flags().String("patron", "", "participant whose balance absorbs this one's consumption")
	participantCmd.AddCommand(participantAddCmd)
	participantCmd.AddCommand(participantRmCmd)
	rootCmd.AddCommand(participantCmd)

	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryRmCmd)
	rootCmd.AddCommand(categoryCmd)

	expenseAddCmd.Flags().String("payer", "", "who paid (name or id)")
	expenseAddCmd.Flags().String("category", "", "category sharing the expense (name or id)")
	expenseAddCmd.Flags().String("title", "", "free-form description")
	expenseCmd.AddCommand(expenseAddCmd)
	expenseCmd.AddCommand(expenseRmCmd)
	rootCmd.AddCommand(expenseCmd)

	rootCmd.AddCommand(shareCmd)

	prefCmd.AddCommand(prefSetCmd)
	rootCmd.AddCommand(prefCmd)
}
