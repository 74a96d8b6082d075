package split

import (
	"sort"
	"strconv"

	"github.com/splitpot/splitpot/internal/codec"
)

// categoryCalc accumulates one category's total expense and consumption
// slots. The empty-string key of the calc map is the implicit "no
// category" bucket shared equally by every participant.
type categoryCalc struct {
	expense int64
	slots   []slot
}

// slot is one unit of a participant's weighted claim on a category. The
// id makes remainder distribution deterministic across devices: slots
// are sorted by id before the leftover minor units are handed out.
type slot struct {
	id   string
	calc *balanceCalc
}

// balanceCalc accumulates what a participant paid and what they
// consumed, in minor currency units.
type balanceCalc struct {
	expense int64
	consume int64
}

// Compute derives the payments list from the current participants,
// participations and expenses. It never reads or writes anything else;
// calling it twice in a row yields identical payments.
func (s *Split) Compute() {
	s.Payments = settle(s.Participants, s.balanceCalcs())
}

// Balances returns each participant's net position in minor units:
// positive is owed money, negative owes. The positions always sum to
// zero.
func (s *Split) Balances() map[string]int64 {
	own := s.balanceCalcs()
	out := make(map[string]int64, len(own))
	for id, calc := range own {
		out[id] = calc.expense - calc.consume
	}
	return out
}

// balanceCalcs runs the consumption attribution pipeline and returns
// every participant's own paid/consumed totals.
func (s *Split) balanceCalcs() map[string]*balanceCalc {
	common := &categoryCalc{}
	categories := map[string]*categoryCalc{"": common}
	for _, c := range s.Categories {
		categories[c.ID] = &categoryCalc{}
	}

	// own maps a participant to their own balance; effective maps a
	// participant to the balance their consumption is attributed to,
	// which is their patron's when one is set.
	own := make(map[string]*balanceCalc, len(s.Participants))
	for _, p := range s.Participants {
		own[p.ID] = &balanceCalc{}
	}
	effective := make(map[string]*balanceCalc, len(s.Participants))
	for _, p := range s.Participants {
		target := own[p.ID]
		if p.Data.Patron != "" {
			if patron, ok := own[p.Data.Patron]; ok {
				target = patron
			}
		}
		effective[p.ID] = target
	}

	for _, e := range s.Expenses {
		amount := MinorUnits(e.Data.Amount)
		calc, ok := categories[e.Data.Category]
		if !ok {
			calc = common
		}
		calc.expense += amount
		if payer, ok := effective[e.Data.Payer]; ok {
			payer.expense += amount
		}
	}

	for _, p := range s.Participations {
		calc, ok := categories[p.Data.Category]
		if !ok {
			continue
		}
		consumer, ok := effective[p.Data.Participant]
		if !ok {
			continue
		}
		for i := 0; i < p.Data.Value; i++ {
			calc.slots = append(calc.slots, slot{
				id:   codec.ComposeID(p.Data.Category, p.Data.Participant, strconv.Itoa(i)),
				calc: consumer,
			})
		}
	}

	// Expenses without a category are shared by everyone, one slot per
	// participant keyed by the participant id.
	for _, p := range s.Participants {
		common.slots = append(common.slots, slot{id: p.ID, calc: effective[p.ID]})
	}

	distribute(common)
	for _, c := range s.Categories {
		distribute(categories[c.ID])
	}

	return own
}

// distribute spreads a category's expense over its slots: every slot
// consumes the quotient, and the remainder goes one unit apiece to the
// slots with the lexicographically smallest ids.
func distribute(calc *categoryCalc) {
	if calc.expense == 0 || len(calc.slots) == 0 {
		return
	}
	count := int64(len(calc.slots))
	quotient := calc.expense / count
	for _, sl := range calc.slots {
		sl.calc.consume += quotient
	}
	remainder := calc.expense % count
	if remainder == 0 {
		return
	}
	sort.Slice(calc.slots, func(i, j int) bool {
		return calc.slots[i].id < calc.slots[j].id
	})
	for i := int64(0); i < remainder; i++ {
		calc.slots[i].calc.consume++
	}
}

// settle reduces the participant balances to a sequence of payments by
// repeatedly matching the most indebted participant with the largest
// creditor. Ties on balance go to the lexicographically larger id, so
// identical balances settle identically on every device. The total
// absolute balance strictly decreases each step, so the loop always
// terminates, and since balances sum to zero the payments zero them
// out.
func settle(participants []Item[Participant], own map[string]*balanceCalc) []Payment {
	type entry struct {
		id      string
		balance int64
	}
	scope := make([]entry, 0, len(participants))
	for _, p := range participants {
		calc := own[p.ID]
		scope = append(scope, entry{id: p.ID, balance: calc.expense - calc.consume})
	}

	nextSender := func() *entry {
		var match *entry
		for i := range scope {
			e := &scope[i]
			if e.balance >= 0 {
				continue
			}
			if match == nil || e.balance < match.balance ||
				(e.balance == match.balance && e.id > match.id) {
				match = e
			}
		}
		return match
	}
	nextReceiver := func() *entry {
		var match *entry
		for i := range scope {
			e := &scope[i]
			if e.balance <= 0 {
				continue
			}
			if match == nil || e.balance > match.balance ||
				(e.balance == match.balance && e.id > match.id) {
				match = e
			}
		}
		return match
	}

	payments := []Payment{}
	for {
		sender := nextSender()
		if sender == nil {
			break
		}
		receiver := nextReceiver()
		if receiver == nil {
			break
		}
		amount := min(-sender.balance, receiver.balance)
		sender.balance += amount
		receiver.balance -= amount
		payments = append(payments, Payment{
			Sender:   sender.id,
			Receiver: receiver.id,
			Amount:   FormatMinorUnits(amount),
		})
	}
	return payments
}
