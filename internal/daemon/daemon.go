// Package daemon keeps a ledger continuously synchronized in the
// background.
//
// The daemon:
// 1. Debounces local edits into a delayed sync
// 2. Periodically syncs to bound staleness even without edits
// 3. Re-aligns the clock and re-announces the ref on every reconnect
// 4. Syncs immediately when the relay pushes a change notification
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/channel"
	"github.com/splitpot/splitpot/internal/clock"
	"github.com/splitpot/splitpot/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncDelay is how long to wait after the last local edit before
	// pushing, batching rapid edits together
	SyncDelay time.Duration

	// EnsureInterval is how often to sync regardless of edits
	EnsureInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncDelay:      2 * time.Second,
		EnsureInterval: 30 * time.Second,
		Logger:         log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the connection lifecycle and the sync triggers to one
// syncer. Its handler methods are meant to be registered as the
// channel callbacks and the syncer's dirty hook.
type Daemon struct {
	syn    *syncer.Syncer
	clk    *clock.Clock
	ch     channel.Channel
	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
	pending bool
}

// New creates a daemon around an already-loaded syncer.
func New(syn *syncer.Syncer, clk *clock.Clock, ch channel.Channel, config *Config) *Daemon {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syn:    syn,
		clk:    clk,
		ch:     ch,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the periodic sync loop.
func (d *Daemon) Start() {
	d.config.Logger.Println("Starting sync daemon")
	d.wg.Add(1)
	go d.ensureLoop()
}

// Stop cancels the timers and waits for in-flight work to finish.
func (d *Daemon) Stop() {
	d.config.Logger.Println("Stopping sync daemon")
	d.cancel()

	d.timerMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.timerMu.Unlock()

	d.wg.Wait()
	d.config.Logger.Println("Sync daemon stopped")
}

// ensureLoop syncs on a fixed interval so the local state never drifts
// too far from the relay, even when nothing is edited locally.
func (d *Daemon) ensureLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.EnsureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.ch.Connected() || d.debouncePending() {
				continue
			}
			d.syn.SyncIfNeeded(d.ctx)
		}
	}
}

// HandleDirty schedules a delayed sync after a local edit, resetting
// the delay when edits keep arriving. Register it as the syncer's
// OnDirty hook.
func (d *Daemon) HandleDirty() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	d.pending = true
	if d.timer != nil {
		d.timer.Reset(d.config.SyncDelay)
		return
	}
	d.timer = time.AfterFunc(d.config.SyncDelay, func() {
		d.timerMu.Lock()
		d.pending = false
		d.timerMu.Unlock()

		if d.ctx.Err() != nil {
			return
		}
		d.syn.Sync(d.ctx)
	})
}

// HandleConnect estimates the clock offset from one round trip,
// re-announces the watched ref and syncs. Register it as the channel's
// OnConnect callback.
func (d *Daemon) HandleConnect() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	before := time.Now().UnixMilli()
	remote, err := d.ch.Now(ctx)
	after := time.Now().UnixMilli()
	if err != nil {
		d.config.Logger.Printf("Clock probe failed: %v", err)
	} else {
		d.clk.AdjustFromExchange(before, after, remote)
		d.config.Logger.Printf("Clock offset adjusted to %dms", d.clk.Offset())
	}

	d.syn.Announce(ctx)
	d.syn.Sync(ctx)
}

// HandleChanged syncs immediately when the relay reports the watched
// ledger changed on another device. Register it as the channel's
// OnChanged callback.
func (d *Daemon) HandleChanged() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()
	d.syn.Sync(ctx)
}

func (d *Daemon) debouncePending() bool {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	return d.pending
}
