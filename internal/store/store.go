// Package store persists the local sync state: encrypted ledger
// snapshots, acknowledged versions and the active ledger key.
//
// Values are grouped by scope so several ledgers can share one database
// file. A scope is typically a ledger ref (never the raw key), keeping
// the on-disk layout free of secret material except for the fields that
// explicitly hold it.
package store

import "context"

// Store is a scoped string key/value persistence layer.
//
// Implementations must treat an empty value passed to Save as a delete,
// and Load must return the empty string with a nil error when the field
// has never been written. Callers rely on both properties to keep local
// state and remote state transitions symmetrical.
type Store interface {
	// Save writes value under (scope, field). An empty value removes
	// the field entirely.
	Save(ctx context.Context, scope, field, value string) error

	// Load reads the value stored under (scope, field). A missing
	// field yields "" and no error.
	Load(ctx context.Context, scope, field string) (string, error)

	// Close releases the underlying resources.
	Close() error
}

// Well-known fields used by the sync engine.
const (
	FieldData    = "data"    // encrypted ledger snapshot
	FieldVersion = "version" // last version acknowledged by the relay
	FieldKey     = "key"     // active ledger key, stored under the local scope
)

// LocalScope holds device-local fields that are not tied to a ledger.
const LocalScope = "local"
