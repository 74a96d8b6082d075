// Package syncer drives the optimistic-concurrency protocol between
// the local ledger state and the relay.
//
// One mutex serializes every operation that reads or mutates the
// shared document: loading a ledger, applying edits, setting a
// preference, and the sync loop itself. Sync failures are recoverable
// by construction, so they are logged here and swallowed; a later
// trigger simply tries again.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/channel"
	"github.com/splitpot/splitpot/internal/clock"
	"github.com/splitpot/splitpot/internal/codec"
	"github.com/splitpot/splitpot/internal/split"
	"github.com/splitpot/splitpot/internal/store"
)

// Config holds syncer configuration
type Config struct {
	Clock   *clock.Clock
	Channel channel.Channel
	Store   store.Store

	// RefSalt is mixed into the key-to-ref derivation so deployments
	// can partition their relay namespace.
	RefSalt string

	// Attempts bounds the consensus loop (default: 10)
	Attempts int

	// Backoff between consensus attempts (default: 200ms)
	Backoff time.Duration

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger

	// OnDirty fires after a local edit makes the document dirty,
	// outside the lock. The daemon uses it to debounce a sync.
	OnDirty func()
}

// Syncer owns the in-memory document for one active ledger and keeps
// it consistent with the local store and the relay.
type Syncer struct {
	cfg    Config
	clk    *clock.Clock
	ch     channel.Channel
	st     store.Store
	logger *log.Logger

	mu      sync.Mutex
	key     string
	ref     string
	doc     *split.Document
	version string
	saved   bool
}

// New creates a syncer with no active ledger. Call Load before
// anything else.
func New(cfg Config) *Syncer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Syncer{
		cfg:    cfg,
		clk:    cfg.Clock,
		ch:     cfg.Channel,
		st:     cfg.Store,
		logger: logger,
		doc:    split.NewDocument(),
	}
}

// Load activates a ledger key: it clears the old relay subscription,
// decrypts the locally persisted snapshot (or starts empty), restores
// the acknowledged version marker, re-announces the ref and syncs.
//
// A corrupt or unreadable local snapshot degrades to an empty document
// rather than aborting; the failure is logged.
func (s *Syncer) Load(ctx context.Context, key string) error {
	if !codec.ValidKey(key) {
		return fmt.Errorf("invalid ledger key: want %d base62 characters", codec.KeyLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ref != "" {
		if err := s.ch.Ref(ctx, ""); err != nil && !errors.Is(err, channel.ErrNotConnected) {
			s.logger.Printf("Failed to clear relay subscription: %v", err)
		}
	}

	s.key = key
	s.ref = codec.KeyToRef(key, s.cfg.RefSalt)
	s.doc = split.NewDocument()
	s.version = ""
	s.saved = true

	raw, err := s.st.Load(ctx, s.ref, store.FieldData)
	if err != nil {
		s.logger.Printf("Failed to read local snapshot, starting empty: %v", err)
	} else if raw != "" {
		doc, err := s.decryptDocument(raw)
		if err != nil {
			s.logger.Printf("Failed to decode local snapshot, starting empty: %v", err)
		} else {
			s.doc = doc
		}
	}

	version, err := s.st.Load(ctx, s.ref, store.FieldVersion)
	if err != nil {
		s.logger.Printf("Failed to read version marker: %v", err)
	} else {
		s.version = version
	}

	s.announceLocked(ctx)
	s.syncLocked(ctx)
	return nil
}

// Announce re-announces the active ref on the relay connection. The
// daemon calls it after every (re)connect.
func (s *Syncer) Announce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announceLocked(ctx)
}

func (s *Syncer) announceLocked(ctx context.Context) {
	if s.ref == "" {
		return
	}
	if err := s.ch.Ref(ctx, s.ref); err != nil && !errors.Is(err, channel.ErrNotConnected) {
		s.logger.Printf("Failed to announce ref: %v", err)
	}
}

// Sync runs one sync pass against the relay.
func (s *Syncer) Sync(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked(ctx)
}

// SyncIfNeeded syncs only when the document has local changes the
// relay has not acknowledged. The periodic daemon tick uses it to
// bound staleness without hammering the relay.
func (s *Syncer) SyncIfNeeded(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncedLocked() {
		return
	}
	s.syncLocked(ctx)
}

// syncLocked is the consensus loop. It fetches the relay state, merges
// or adopts it, and commits via compare-and-set, retrying a bounded
// number of times when the relay version moves underneath us.
func (s *Syncer) syncLocked(ctx context.Context) {
	if s.key == "" || !s.ch.Connected() {
		return
	}
	s.persistLocked(ctx)

	res, err := s.ch.Get(ctx, s.version)
	if err != nil {
		s.logger.Printf("Sync aborted, get failed: %v", err)
		return
	}

	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		next := s.doc

		if res.Data != "" {
			remote, err := s.decryptDocument(res.Data)
			if err != nil {
				s.logger.Printf("Sync aborted, undecodable relay payload: %v", err)
				return
			}

			if s.version != "" && s.version != res.Version {
				// No local edits are pending, the relay is simply
				// ahead: adopt its snapshot wholesale.
				s.doc = remote
				s.version = res.Version
				s.saved = false
				s.persistLocked(ctx)
				s.persistVersionLocked(ctx)
				s.logger.Printf("Adopted relay version %s", res.Version)
				return
			}
			if s.version == "" {
				next = split.MergeDocuments(s.doc, remote, s.clk)
			}
		} else if res.Version == s.version && s.syncedLocked() {
			return
		}

		encoded, err := s.encryptDocument(next, true)
		if err != nil {
			s.logger.Printf("Sync aborted, failed to encode document: %v", err)
			return
		}

		set, err := s.ch.Set(ctx, encoded, res.Version)
		if err != nil {
			s.logger.Printf("Sync aborted, set failed: %v", err)
			return
		}
		if set.Success {
			s.doc = next
			s.version = set.Version
			s.saved = false
			s.persistLocked(ctx)
			s.persistVersionLocked(ctx)
			s.logger.Printf("Synced at version %s (attempt %d)", set.Version, attempt)
			return
		}

		// The relay moved under us. Back off briefly and refetch.
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Backoff):
		}

		res, err = s.ch.Get(ctx, s.version)
		if err != nil {
			s.logger.Printf("Sync aborted, refetch failed: %v", err)
			return
		}
	}

	s.logger.Printf("Sync gave up after %d attempts, will retry later", s.cfg.Attempts)
}

// Apply mutates the split with a batch of edits, persists the result
// locally and marks the document dirty so the next sync pushes it.
func (s *Syncer) Apply(ctx context.Context, edits []split.Edit) error {
	s.mu.Lock()
	if s.key == "" {
		s.mu.Unlock()
		return fmt.Errorf("no active ledger")
	}
	err := s.doc.Split.Apply(s.clk, edits)
	if err == nil {
		s.markDirtyLocked(ctx)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if s.cfg.OnDirty != nil {
		s.cfg.OnDirty()
	}
	return nil
}

// SetPref creates or updates a document preference.
func (s *Syncer) SetPref(ctx context.Context, name, value string) error {
	s.mu.Lock()
	if s.key == "" {
		s.mu.Unlock()
		return fmt.Errorf("no active ledger")
	}
	s.doc.SetPref(name, value, s.clk.Now())
	s.markDirtyLocked(ctx)
	s.mu.Unlock()

	if s.cfg.OnDirty != nil {
		s.cfg.OnDirty()
	}
	return nil
}

// markDirtyLocked persists the edited document and clears the version
// marker, recording that local state is ahead of the relay.
func (s *Syncer) markDirtyLocked(ctx context.Context) {
	s.version = ""
	s.saved = false
	s.persistLocked(ctx)
	s.persistVersionLocked(ctx)
}

// persistLocked writes the encrypted at-rest snapshot when the
// in-memory document has unsaved changes.
func (s *Syncer) persistLocked(ctx context.Context) {
	if s.saved || s.ref == "" {
		return
	}
	encoded, err := s.encryptDocument(s.doc, false)
	if err != nil {
		s.logger.Printf("Failed to encode local snapshot: %v", err)
		return
	}
	if err := s.st.Save(ctx, s.ref, store.FieldData, encoded); err != nil {
		s.logger.Printf("Failed to persist local snapshot: %v", err)
		return
	}
	s.saved = true
}

func (s *Syncer) persistVersionLocked(ctx context.Context) {
	if err := s.st.Save(ctx, s.ref, store.FieldVersion, s.version); err != nil {
		s.logger.Printf("Failed to persist version marker: %v", err)
	}
}

// syncedLocked reports whether nothing needs pushing: either the relay
// acknowledged our state or there is nothing to push at all.
func (s *Syncer) syncedLocked() bool {
	return s.version != "" || s.doc.Empty()
}

func (s *Syncer) encryptDocument(d *split.Document, remote bool) (string, error) {
	plain, err := split.EncodeDocument(d, remote)
	if err != nil {
		return "", err
	}
	return codec.Pack(plain, s.key)
}

func (s *Syncer) decryptDocument(raw string) (*split.Document, error) {
	plain, err := codec.Unpack(raw, s.key)
	if err != nil {
		return nil, err
	}
	return split.DecodeDocument(plain, s.clk)
}

// Ref returns the non-secret handle of the active ledger.
func (s *Syncer) Ref() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref
}

// Version returns the last relay version acknowledged for the local
// document, or empty when local edits are pending.
func (s *Syncer) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Synced reports whether the local document has no unacknowledged
// changes.
func (s *Syncer) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedLocked()
}

// Snapshot returns an independent deep copy of the current split.
func (s *Syncer) Snapshot() *split.Split {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc.Split.Reduce(false)
	out.Normalize()
	out.Payments = append([]split.Payment{}, s.doc.Split.Payments...)
	return out
}

// Prefs returns a copy of the document preferences.
func (s *Syncer) Prefs() []split.Pref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]split.Pref{}, s.doc.Prefs...)
}

// Pref returns one preference value, or empty.
func (s *Syncer) Pref(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Pref(name)
}
