// Package channel speaks the relay protocol: a persistent duplex
// connection carrying request/response exchanges plus a server push
// that signals the watched ledger changed elsewhere.
//
// The relay only ever sees opaque ciphertext and the non-secret ref
// handle derived from the ledger key. The protocol surface is small on
// purpose: a clock probe, ref announcement, versioned get, and a
// compare-and-set put.
package channel

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by every request method while the
// connection is down. Callers treat it as a recoverable condition: the
// sync simply waits for the next connect event.
var ErrNotConnected = errors.New("channel: not connected")

// GetResult is the relay's answer to a versioned fetch. Data is empty
// when the relay state already matches the known version.
type GetResult struct {
	Version string
	Data    string
}

// SetResult reports the outcome of a compare-and-set. On failure the
// returned version is the one that moved underneath the caller.
type SetResult struct {
	Success bool
	Version string
}

// Offline is a Channel that is permanently disconnected. One-shot
// commands that only touch local state use it so the sync engine
// degrades to a no-op instead of dialing the relay.
type Offline struct{}

func (Offline) Connected() bool { return false }

func (Offline) Now(context.Context) (int64, error) { return 0, ErrNotConnected }

func (Offline) Ref(context.Context, string) error { return ErrNotConnected }

func (Offline) Get(context.Context, string) (GetResult, error) {
	return GetResult{}, ErrNotConnected
}

func (Offline) Set(context.Context, string, string) (SetResult, error) {
	return SetResult{}, ErrNotConnected
}

// Channel is the remote relay contract used by the sync engine.
type Channel interface {
	// Connected reports whether requests can currently be made.
	Connected() bool

	// Now asks the relay for its wall clock in epoch milliseconds,
	// used to estimate the clock offset on connect.
	Now(ctx context.Context) (int64, error)

	// Ref announces which ledger this connection watches. An empty
	// handle clears the subscription.
	Ref(ctx context.Context, handle string) error

	// Get fetches the relay state for the announced ledger. Passing
	// the last known version lets the relay omit the payload when
	// nothing changed.
	Get(ctx context.Context, known string) (GetResult, error)

	// Set performs a compare-and-set of the ledger payload against
	// baseVersion. An empty baseVersion asserts the ledger does not
	// exist on the relay yet.
	Set(ctx context.Context, data, baseVersion string) (SetResult, error)
}
