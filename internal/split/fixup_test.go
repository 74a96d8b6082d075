package split

import (
	"reflect"
	"testing"

	"github.com/splitpot/splitpot/internal/clock"
)

func fixtureSplit() *Split {
	s := New()
	s.Categories = []Item[Category]{
		{ID: "c1", Data: Category{Name: "Food"}, Changed: 10},
	}
	s.Participants = []Item[Participant]{
		{ID: "p1", Data: Participant{Name: "Ann"}, Changed: 10},
		{ID: "p2", Data: Participant{Name: "Ben", Patron: "p1"}, Changed: 10},
	}
	s.Participations = []Item[Participation]{
		{ID: "x1", Data: Participation{Participant: "p1", Category: "c1", Value: 1}, Changed: 10},
	}
	s.Expenses = []Item[Expense]{
		{ID: "e1", Data: Expense{Amount: "10.00", Category: "c1", Payer: "p1"}, Changed: 10},
	}
	return s
}

func TestFixupClearsDanglingPatron(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Participants[1].Data.Patron = "ghost"

	s.Fixup(clk, true)

	ben := s.FindParticipant("p2")
	if ben.Data.Patron != "" {
		t.Errorf("dangling patron not cleared: %q", ben.Data.Patron)
	}
	if ben.Changed == 10 {
		t.Error("Changed not bumped on repaired participant")
	}
}

func TestFixupDropsOrphanedParticipation(t *testing.T) {
	clk := clock.New()

	for _, tc := range []struct {
		name   string
		mutate func(*Split)
	}{
		{"missing category", func(s *Split) { s.Categories = nil; s.Normalize() }},
		{"missing participant", func(s *Split) {
			s.Participations[0].Data.Participant = "ghost"
		}},
		{"empty category reference", func(s *Split) {
			s.Participations[0].Data.Category = ""
		}},
	} {
		s := fixtureSplit()
		tc.mutate(s)
		s.Fixup(clk, true)
		if len(s.Participations) != 0 {
			t.Errorf("%s: orphaned participation survived", tc.name)
		}
		if _, ok := s.Graveyard["x1"]; !ok {
			t.Errorf("%s: dropped participation was not buried", tc.name)
		}
	}
}

func TestFixupDoesNotBuryCreatedOrphans(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Participations[0].Created = true
	s.Participations[0].Data.Participant = "ghost"

	s.Fixup(clk, true)

	if len(s.Participations) != 0 {
		t.Error("orphaned participation survived")
	}
	if _, ok := s.Graveyard["x1"]; ok {
		t.Error("not-yet-synced orphan was buried")
	}
}

func TestFixupNonDestructiveMode(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Participations[0].Data.Participant = "ghost"

	s.Fixup(clk, false)

	if len(s.Participations) != 0 {
		t.Error("orphaned participation survived")
	}
	if len(s.Graveyard) != 0 {
		t.Errorf("non-destructive fixup buried items: %v", s.Graveyard)
	}
}

func TestFixupClearsDanglingExpenseCategory(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Expenses[0].Data.Category = "ghost"

	s.Fixup(clk, true)

	e := s.FindExpense("e1")
	if e == nil {
		t.Fatal("expense with dangling category was dropped instead of repaired")
	}
	if e.Data.Category != "" {
		t.Errorf("dangling category reference not cleared: %q", e.Data.Category)
	}
	if e.Changed == 10 {
		t.Error("Changed not bumped on repaired expense")
	}
}

func TestFixupDropsExpenseWithDanglingPayer(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Expenses[0].Data.Payer = "ghost"

	s.Fixup(clk, true)

	if len(s.Expenses) != 0 {
		t.Error("expense with dangling payer survived")
	}
	if _, ok := s.Graveyard["e1"]; !ok {
		t.Error("dropped expense was not buried")
	}
}

func TestFixupIdempotent(t *testing.T) {
	clk := clock.New()
	s := fixtureSplit()
	s.Participants[1].Data.Patron = "ghost"
	s.Participations[0].Data.Participant = "ghost"
	s.Expenses[0].Data.Category = "ghost"

	s.Fixup(clk, true)

	snapshot := cloneForTest(t, s)
	s.Fixup(clk, true)
	s.Normalize()

	if !reflect.DeepEqual(snapshot, s) {
		t.Errorf("second fixup changed the split:\nfirst:  %+v\nsecond: %+v", snapshot, s)
	}
}
