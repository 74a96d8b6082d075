package split

import (
	"reflect"
	"sort"
	"strconv"
	"testing"

	"github.com/splitpot/splitpot/internal/codec"
)

// threeWaySplit builds a split with one category shared equally by three
// participants and one 100.00 expense paid by "pa".
func threeWaySplit() *Split {
	s := New()
	s.Categories = []Item[Category]{
		{ID: "cat1", Data: Category{Name: "Trip"}, Changed: 1},
	}
	for _, id := range []string{"pa", "pb", "pc"} {
		s.Participants = append(s.Participants, Item[Participant]{
			ID: id, Data: Participant{Name: id}, Changed: 1,
		})
		s.Participations = append(s.Participations, Item[Participation]{
			ID: "x" + id, Data: Participation{Participant: id, Category: "cat1", Value: 1}, Changed: 1,
		})
	}
	s.Expenses = []Item[Expense]{
		{ID: "e1", Data: Expense{Amount: "100.00", Category: "cat1", Payer: "pa"}, Changed: 1},
	}
	return s
}

// balancesAfter replays the computed payments on top of raw balances and
// returns what every participant ends up with.
func balancesAfter(s *Split) map[string]int64 {
	balances := make(map[string]int64)
	for _, p := range s.Participants {
		balances[p.ID] = 0
	}
	for _, pay := range s.Payments {
		units := MinorUnits(pay.Amount)
		balances[pay.Sender] += units
		balances[pay.Receiver] -= units
	}
	return balances
}

func TestComputeRemainderDistribution(t *testing.T) {
	s := threeWaySplit()
	s.Compute()

	// 10000 minor units over 3 slots: 3333 each plus 1 leftover unit for
	// the lexicographically smallest slot id.
	slotIDs := map[string]string{}
	var sorted []string
	for _, id := range []string{"pa", "pb", "pc"} {
		composed := codec.ComposeID("cat1", id, strconv.Itoa(0))
		slotIDs[composed] = id
		sorted = append(sorted, composed)
	}
	sort.Strings(sorted)
	luckless := slotIDs[sorted[0]] // consumes 3334

	total := int64(0)
	for _, pay := range s.Payments {
		total += MinorUnits(pay.Amount)
	}
	// pa paid 10000; pa's own consumption is withheld from the payments.
	paConsumes := int64(3333)
	if luckless == "pa" {
		paConsumes = 3334
	}
	if want := 10000 - paConsumes; total != want {
		t.Errorf("total payments = %d minor units, want %d", total, want)
	}

	for _, pay := range s.Payments {
		if pay.Receiver != "pa" {
			t.Errorf("payment to %q, want all payments to flow to the payer", pay.Receiver)
		}
		want := int64(3333)
		if pay.Sender == luckless {
			want = 3334
		}
		if got := MinorUnits(pay.Amount); got != want {
			t.Errorf("payment from %q = %d, want %d", pay.Sender, got, want)
		}
	}
}

func TestComputeBalancesNetToZero(t *testing.T) {
	s := threeWaySplit()
	s.Participations[1].Data.Value = 3 // pb takes a triple share
	s.Expenses = append(s.Expenses, Item[Expense]{
		ID: "e2", Data: Expense{Amount: "33.35", Category: "cat1", Payer: "pb"}, Changed: 1,
	})
	s.Expenses = append(s.Expenses, Item[Expense]{
		ID: "e3", Data: Expense{Amount: "7.77", Payer: "pc"}, Changed: 1, // no category
	})
	s.Compute()

	balances := s.Balances()
	sum := int64(0)
	for _, b := range balances {
		sum += b
	}
	if sum != 0 {
		t.Errorf("balances sum to %d, want 0: %v", sum, balances)
	}

	// Replaying the payments must zero every participant out.
	for id, delta := range balancesAfter(s) {
		if got := balances[id] + delta; got != 0 {
			t.Errorf("participant %q left with %d minor units after settlement", id, got)
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := threeWaySplit()
	b := threeWaySplit()

	a.Compute()
	b.Compute()

	if !reflect.DeepEqual(a.Payments, b.Payments) {
		t.Errorf("identical splits computed different payments:\n%v\n%v", a.Payments, b.Payments)
	}
}

func TestComputePatronAttribution(t *testing.T) {
	s := New()
	s.Participants = []Item[Participant]{
		{ID: "parent", Data: Participant{Name: "Parent"}, Changed: 1},
		{ID: "child", Data: Participant{Name: "Child", Patron: "parent"}, Changed: 1},
		{ID: "other", Data: Participant{Name: "Other"}, Changed: 1},
	}
	s.Categories = []Item[Category]{
		{ID: "cat1", Data: Category{Name: "Meals"}, Changed: 1},
	}
	// Only the child and the other participant consume.
	s.Participations = []Item[Participation]{
		{ID: "x1", Data: Participation{Participant: "child", Category: "cat1", Value: 1}, Changed: 1},
		{ID: "x2", Data: Participation{Participant: "other", Category: "cat1", Value: 1}, Changed: 1},
	}
	s.Expenses = []Item[Expense]{
		{ID: "e1", Data: Expense{Amount: "20.00", Category: "cat1", Payer: "other"}, Changed: 1},
	}
	s.Compute()

	// The child's 10.00 share lands on the parent.
	if len(s.Payments) != 1 {
		t.Fatalf("got %d payments, want 1: %v", len(s.Payments), s.Payments)
	}
	pay := s.Payments[0]
	if pay.Sender != "parent" || pay.Receiver != "other" || pay.Amount != "10.00" {
		t.Errorf("got payment %+v, want parent -> other 10.00", pay)
	}
}

func TestComputeCommonBucket(t *testing.T) {
	s := New()
	for _, id := range []string{"pa", "pb"} {
		s.Participants = append(s.Participants, Item[Participant]{
			ID: id, Data: Participant{Name: id}, Changed: 1,
		})
	}
	s.Expenses = []Item[Expense]{
		{ID: "e1", Data: Expense{Amount: "30.00", Payer: "pa"}, Changed: 1},
	}
	s.Compute()

	// Uncategorized expenses are shared by everyone: pb owes half.
	if len(s.Payments) != 1 {
		t.Fatalf("got %d payments, want 1: %v", len(s.Payments), s.Payments)
	}
	pay := s.Payments[0]
	if pay.Sender != "pb" || pay.Receiver != "pa" || pay.Amount != "15.00" {
		t.Errorf("got payment %+v, want pb -> pa 15.00", pay)
	}
}

func TestSettleTieBreaksOnLargerID(t *testing.T) {
	s := New()
	for _, id := range []string{"pa", "pb", "pc"} {
		s.Participants = append(s.Participants, Item[Participant]{
			ID: id, Data: Participant{Name: id}, Changed: 1,
		})
	}
	s.Expenses = []Item[Expense]{
		{ID: "e1", Data: Expense{Amount: "30.00", Payer: "pa"}, Changed: 1},
	}
	s.Compute()

	// pb and pc both owe 10.00; the larger id settles first.
	want := []Payment{
		{Sender: "pc", Receiver: "pa", Amount: "10.00"},
		{Sender: "pb", Receiver: "pa", Amount: "10.00"},
	}
	if !reflect.DeepEqual(s.Payments, want) {
		t.Errorf("got payments %v, want %v", s.Payments, want)
	}
}

func TestComputeEmptySplit(t *testing.T) {
	s := New()
	s.Compute()
	if len(s.Payments) != 0 {
		t.Errorf("empty split produced payments: %v", s.Payments)
	}
}
