package split

import (
	"github.com/splitpot/splitpot/internal/codec"
)

// Item is one row of a table. Data carries the table-specific payload.
//
// Changed records the logical time of the last mutation and drives
// last-writer-wins merging. Created marks an item produced locally that
// the remote store has never acknowledged; it is stripped from the wire
// format but kept locally so merges do not drop not-yet-synced
// creations.
type Item[T any] struct {
	ID      string `json:"id"`
	Data    T      `json:"data"`
	Changed int64  `json:"changed"`
	Created bool   `json:"created,omitempty"`
}

// Graveyard records tombstones for locally-deleted items: id to the
// logical time of deletion. A stale remote copy of a buried item is
// ignored during merge instead of resurrecting the item.
type Graveyard map[string]int64

// findItem returns a pointer to the item with the given id, or nil.
func findItem[T any](items []Item[T], id string) *Item[T] {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

// upsertItem updates the item with the given id in place, or appends a
// new created item when no such id exists. An empty id always creates,
// under a fresh random id. Returns the id of the touched item.
func upsertItem[T any](items *[]Item[T], id string, data T, now int64) string {
	if id != "" {
		if item := findItem(*items, id); item != nil {
			item.Data = data
			item.Changed = now
			return id
		}
	} else {
		id = codec.GenerateID()
	}
	*items = append(*items, Item[T]{
		ID:      id,
		Data:    data,
		Changed: now,
		Created: true,
	})
	return id
}

// removeItem deletes the item with the given id and buries it in the
// graveyard. Reports whether anything was removed.
func removeItem[T any](items *[]Item[T], graveyard Graveyard, id string, now int64) bool {
	for i := range *items {
		if (*items)[i].ID != id {
			continue
		}
		*items = append((*items)[:i], (*items)[i+1:]...)
		graveyard[id] = now
		return true
	}
	return false
}

// reduceItems copies a table for serialization. For the remote wire
// format the Created flag is stripped; the local at-rest format keeps
// it.
func reduceItems[T any](items []Item[T], remote bool) []Item[T] {
	out := make([]Item[T], len(items))
	copy(out, items)
	if remote {
		for i := range out {
			out[i].Created = false
		}
	}
	return out
}

// normalizeItems replaces a nil table decoded from JSON with an empty
// one so downstream code never branches on nil.
func normalizeItems[T any](items []Item[T]) []Item[T] {
	if items == nil {
		return []Item[T]{}
	}
	return items
}
