package split

import (
	"fmt"

	"github.com/splitpot/splitpot/internal/clock"
)

// Table identifies one of the four item tables.
type Table int

const (
	TableCategories Table = iota
	TableParticipants
	TableParticipations
	TableExpenses
)

// String returns the table name used in logs and errors.
func (t Table) String() string {
	switch t {
	case TableCategories:
		return "categories"
	case TableParticipants:
		return "participants"
	case TableParticipations:
		return "participations"
	case TableExpenses:
		return "expenses"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// Edit describes one mutation of a split: an upsert when the payload
// matching its table is set, a removal when no payload is set. Use the
// constructors below rather than filling the struct by hand.
type Edit struct {
	Table Table
	ID    string

	category      *Category
	participant   *Participant
	participation *Participation
	expense       *Expense
}

// UpsertCategory creates or updates a category. An empty id creates a
// new item under a fresh random id.
func UpsertCategory(id string, data Category) Edit {
	return Edit{Table: TableCategories, ID: id, category: &data}
}

// UpsertParticipant creates or updates a participant.
func UpsertParticipant(id string, data Participant) Edit {
	return Edit{Table: TableParticipants, ID: id, participant: &data}
}

// UpsertParticipation creates or updates a participation.
func UpsertParticipation(id string, data Participation) Edit {
	return Edit{Table: TableParticipations, ID: id, participation: &data}
}

// UpsertExpense creates or updates an expense.
func UpsertExpense(id string, data Expense) Edit {
	return Edit{Table: TableExpenses, ID: id, expense: &data}
}

// Remove deletes the item with the given id from the given table,
// leaving a tombstone in the graveyard.
func Remove(table Table, id string) Edit {
	return Edit{Table: table, ID: id}
}

// Apply runs a batch of edits against the split and then restores its
// invariants, burying items the fixup pass has to drop. Removing an
// unknown id is a no-op; an upsert whose payload does not match its
// table is an error.
func (s *Split) Apply(clk *clock.Clock, edits []Edit) error {
	for _, e := range edits {
		now := clk.Now()
		switch e.Table {
		case TableCategories:
			if e.category == nil {
				removeItem(&s.Categories, s.Graveyard, e.ID, now)
			} else {
				upsertItem(&s.Categories, e.ID, *e.category, now)
			}
		case TableParticipants:
			if e.participant == nil {
				removeItem(&s.Participants, s.Graveyard, e.ID, now)
			} else {
				upsertItem(&s.Participants, e.ID, *e.participant, now)
			}
		case TableParticipations:
			if e.participation == nil {
				removeItem(&s.Participations, s.Graveyard, e.ID, now)
			} else {
				upsertItem(&s.Participations, e.ID, *e.participation, now)
			}
		case TableExpenses:
			if e.expense == nil {
				removeItem(&s.Expenses, s.Graveyard, e.ID, now)
			} else {
				upsertItem(&s.Expenses, e.ID, *e.expense, now)
			}
		default:
			return fmt.Errorf("unknown table %v", e.Table)
		}
	}
	s.Update(clk, true)
	return nil
}
