package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/splitpot/splitpot/internal/channel"
	"github.com/splitpot/splitpot/internal/clock"
	"github.com/splitpot/splitpot/internal/store"
	"github.com/splitpot/splitpot/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "splitpot",
	Short: "Shared expense ledger with end-to-end encrypted sync",
	Long: `splitpot tracks shared expenses across devices without the server
ever seeing your data.

Everything is encrypted locally with a secret ledger key. The relay
stores an opaque blob addressed by a keyed hash of that key, so sharing
a ledger means sharing the key, nothing else.

Start with:
  splitpot key new          generate a ledger key on this device
  splitpot participant add  add the people splitting expenses
  splitpot expense add      record who paid what
  splitpot show payments    see who owes whom
  splitpot sync             push/pull through the relay`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "relay websocket URL (e.g. wss://relay.example/ws)")
	rootCmd.PersistentFlags().String("token", "", "relay bearer token")
	rootCmd.PersistentFlags().String("data-dir", "", "local state directory (default ~/.splitpot)")
	rootCmd.PersistentFlags().String("ref-salt", "", "namespace salt mixed into ledger ref derivation")

	for _, name := range []string{"server", "token", "data-dir", "ref-salt"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	viper.SetEnvPrefix("SPLITPOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// fatal prints an error and exits, matching the style of every
// command's failure path.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func dataDir() string {
	if dir := viper.GetString("data-dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".splitpot"
	}
	return filepath.Join(home, ".splitpot")
}

// openState opens the local state database, exiting on failure.
func openState() *store.SQLite {
	st, err := store.Open(filepath.Join(dataDir(), "state.db"))
	if err != nil {
		fatal("opening local state: %v", err)
	}
	return st
}

// activeKey reads the ledger key stored on this device.
func activeKey(ctx context.Context, st store.Store) string {
	key, err := st.Load(ctx, store.LocalScope, store.FieldKey)
	if err != nil {
		fatal("reading ledger key: %v", err)
	}
	if key == "" {
		fatal("no ledger key on this device; run 'splitpot key new' or 'splitpot key set'")
	}
	return key
}

// offlineEngine builds a syncer over a disconnected channel for
// commands that only touch local state, and loads the active ledger.
func offlineEngine(ctx context.Context, st store.Store) *syncer.Syncer {
	key := activeKey(ctx, st)

	syn := syncer.New(syncer.Config{
		Clock:   clock.New(),
		Channel: channel.Offline{},
		Store:   st,
		RefSalt: viper.GetString("ref-salt"),
		Logger:  log.New(os.Stderr, "[splitpot] ", log.LstdFlags),
	})
	if err := syn.Load(ctx, key); err != nil {
		fatal("loading ledger: %v", err)
	}
	return syn
}
