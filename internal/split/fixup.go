package split

import (
	"github.com/splitpot/splitpot/internal/clock"
)

// Fixup repairs or removes items whose references dangle after a merge
// or an edit batch.
//
// Participants whose patron no longer exists lose the patron reference.
// Participations lose their whole item when either side of the relation
// is gone; expenses lose a dangling category reference but lose the
// whole item when the payer is gone. With bury set, dropped items that
// were already synced (not Created) are tombstoned so the removal
// propagates; merge runs with bury unset because the drop is a local
// consequence, not a local decision.
//
// Fixup is idempotent: a second pass over the same split changes
// nothing.
func (s *Split) Fixup(clk *clock.Clock, bury bool) {
	now := clk.Now()

	categories := make(map[string]bool, len(s.Categories))
	for _, c := range s.Categories {
		categories[c.ID] = true
	}
	participants := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		participants[p.ID] = true
	}

	if s.Graveyard == nil {
		s.Graveyard = Graveyard{}
	}

	// Unresolved patrons.
	for i := range s.Participants {
		patron := s.Participants[i].Data.Patron
		if patron == "" || participants[patron] {
			continue
		}
		s.Participants[i].Data.Patron = ""
		s.Participants[i].Changed = now
	}

	// Unresolved participations.
	kept := s.Participations[:0]
	for _, p := range s.Participations {
		if p.Data.Category != "" && categories[p.Data.Category] &&
			p.Data.Participant != "" && participants[p.Data.Participant] {
			kept = append(kept, p)
			continue
		}
		if bury && !p.Created {
			s.Graveyard[p.ID] = now
		}
	}
	s.Participations = kept

	// Unresolved expense categories.
	for i := range s.Expenses {
		category := s.Expenses[i].Data.Category
		if category == "" || categories[category] {
			continue
		}
		s.Expenses[i].Data.Category = ""
		s.Expenses[i].Changed = now
	}

	// Unresolved expense payers.
	keptExpenses := s.Expenses[:0]
	for _, e := range s.Expenses {
		if e.Data.Payer != "" && participants[e.Data.Payer] {
			keptExpenses = append(keptExpenses, e)
			continue
		}
		if bury && !e.Created {
			s.Graveyard[e.ID] = now
		}
	}
	s.Expenses = keptExpenses
}
