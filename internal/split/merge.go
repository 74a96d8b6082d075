package split

import (
	"github.com/splitpot/splitpot/internal/clock"
)

// mergeItems reconciles one table against its remote counterpart.
//
// Remote items overruled by a tombstone (deletion time >= the remote
// change time) are ignored. A local item absent from the surviving
// remote set is dropped unless it is a not-yet-synced creation: the
// remote deletion is authoritative. When both sides have the item, the
// larger Changed wins, ties favoring local; the Created flag is cleared
// on matched items since the remote store has clearly seen them.
// Surviving remote items with no local counterpart are appended in
// remote order.
func mergeItems[T any](local, remote []Item[T], graveyard Graveyard) []Item[T] {
	surviving := make(map[string]Item[T], len(remote))
	remoteOrder := make([]string, 0, len(remote))
	for _, r := range remote {
		if buried, ok := graveyard[r.ID]; ok && buried >= r.Changed {
			continue
		}
		surviving[r.ID] = r
		remoteOrder = append(remoteOrder, r.ID)
	}

	result := make([]Item[T], 0, len(local)+len(remote))
	for _, l := range local {
		r, matched := surviving[l.ID]
		if !matched {
			if !l.Created {
				continue // deleted remotely
			}
			result = append(result, l)
			continue
		}
		keep := l
		if r.Changed > l.Changed {
			keep = r
		}
		keep.Created = false
		result = append(result, keep)
		delete(surviving, l.ID)
	}
	for _, id := range remoteOrder {
		r, ok := surviving[id]
		if !ok {
			continue
		}
		r.Created = false
		result = append(result, r)
	}
	return result
}

// Merge reconciles a local and a remote split into a fresh one.
//
// Each table is merged independently against the local graveyard. The
// merged graveyard starts empty: tombstones are local bookkeeping whose
// job ends with this pass. The result is fixed up without burying
// newly-orphaned items and its payments are recomputed.
func Merge(local, remote *Split, clk *clock.Clock) *Split {
	graveyard := local.Graveyard
	if graveyard == nil {
		graveyard = Graveyard{}
	}
	merged := &Split{
		Categories:     mergeItems(local.Categories, remote.Categories, graveyard),
		Participants:   mergeItems(local.Participants, remote.Participants, graveyard),
		Participations: mergeItems(local.Participations, remote.Participations, graveyard),
		Expenses:       mergeItems(local.Expenses, remote.Expenses, graveyard),
		Graveyard:      Graveyard{},
		Payments:       []Payment{},
	}
	merged.Update(clk, false)
	return merged
}
