// Package split holds the shared ledger document: the typed item tables,
// the tombstone graveyard, the merge engine that reconciles concurrent
// edits, the referential fixup pass, and the settlement calculator that
// turns balances into payment instructions.
//
// A Split is never partially mutated from outside: it is created fresh,
// decoded from storage, changed through Apply, or produced by Merge, and
// each of those passes leaves it referentially consistent with payments
// recomputed.
package split

import (
	"github.com/splitpot/splitpot/internal/clock"
)

// Category groups expenses that are shared by a configurable subset of
// participants.
type Category struct {
	Name string `json:"name"`
}

// Participant is a member of the split. An optional Patron names another
// participant who carries this participant's consumption in settlement,
// e.g. a child paid for by a parent.
type Participant struct {
	Name   string `json:"name"`
	Patron string `json:"patron,omitempty"`
}

// Participation assigns a participant a weighted claim on a category:
// Value is the number of equal consumption slots the participant holds.
type Participation struct {
	Participant string `json:"participant"`
	Category    string `json:"category"`
	Value       int    `json:"value"`
}

// Expense is a single payment made by a participant, optionally scoped
// to a category. Amount is a decimal string such as "12.50".
type Expense struct {
	Title    string `json:"title,omitempty"`
	Amount   string `json:"amount"`
	Category string `json:"category,omitempty"`
	Payer    string `json:"payer"`
}

// Payment is one settlement instruction: Sender owes Receiver Amount.
// Payments are always derived from the rest of the split and never
// persisted or merged.
type Payment struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

// Split is the aggregate root: four item tables, the graveyard, and the
// derived payments list.
type Split struct {
	Categories     []Item[Category]      `json:"categories"`
	Participants   []Item[Participant]   `json:"participants"`
	Participations []Item[Participation] `json:"participations"`
	Expenses       []Item[Expense]       `json:"expenses"`
	Graveyard      Graveyard             `json:"graveyard,omitempty"`
	Payments       []Payment             `json:"-"`
}

// New returns an empty split.
func New() *Split {
	return &Split{
		Categories:     []Item[Category]{},
		Participants:   []Item[Participant]{},
		Participations: []Item[Participation]{},
		Expenses:       []Item[Expense]{},
		Graveyard:      Graveyard{},
		Payments:       []Payment{},
	}
}

// Normalize repairs a split decoded from untrusted JSON: nil tables and
// graveyard become empty, payments reset. Callers run Update afterwards
// to restore referential consistency.
func (s *Split) Normalize() {
	s.Categories = normalizeItems(s.Categories)
	s.Participants = normalizeItems(s.Participants)
	s.Participations = normalizeItems(s.Participations)
	s.Expenses = normalizeItems(s.Expenses)
	if s.Graveyard == nil {
		s.Graveyard = Graveyard{}
	}
	s.Payments = []Payment{}
}

// Reduce copies the split for serialization. The remote wire format
// drops the graveyard and the Created flags; the local at-rest format
// keeps both. Payments are never serialized.
func (s *Split) Reduce(remote bool) *Split {
	out := &Split{
		Categories:     reduceItems(s.Categories, remote),
		Participants:   reduceItems(s.Participants, remote),
		Participations: reduceItems(s.Participations, remote),
		Expenses:       reduceItems(s.Expenses, remote),
	}
	if !remote {
		g := make(Graveyard, len(s.Graveyard))
		for id, ts := range s.Graveyard {
			g[id] = ts
		}
		out.Graveyard = g
	}
	return out
}

// Update restores the split's invariants after a mutation or merge:
// dangling references are repaired or dropped by Fixup, then payments
// are recomputed.
func (s *Split) Update(clk *clock.Clock, bury bool) {
	s.Fixup(clk, bury)
	s.Compute()
}

// Empty reports whether the split has no items in any table.
func (s *Split) Empty() bool {
	return len(s.Categories) == 0 &&
		len(s.Participants) == 0 &&
		len(s.Participations) == 0 &&
		len(s.Expenses) == 0
}

// FindCategory returns the category with the given id, or nil.
func (s *Split) FindCategory(id string) *Item[Category] {
	return findItem(s.Categories, id)
}

// FindParticipant returns the participant with the given id, or nil.
func (s *Split) FindParticipant(id string) *Item[Participant] {
	return findItem(s.Participants, id)
}

// FindParticipation returns the participation with the given id, or nil.
func (s *Split) FindParticipation(id string) *Item[Participation] {
	return findItem(s.Participations, id)
}

// FindExpense returns the expense with the given id, or nil.
func (s *Split) FindExpense(id string) *Item[Expense] {
	return findItem(s.Expenses, id)
}
