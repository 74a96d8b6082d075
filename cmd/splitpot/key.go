package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/splitpot/splitpot/internal/codec"
	"github.com/splitpot/splitpot/internal/split"
	"github.com/splitpot/splitpot/internal/store"
	"golang.org/x/term"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the secret ledger key",
	Long: `Manage the secret key that encrypts this device's ledger.

The key is the only credential: anyone holding it can read and edit the
ledger. The relay never sees it; it only sees a keyed hash (the ref).`,
}

var keyNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a fresh ledger key and make it active",
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()

		key := codec.GenerateKey()
		if err := st.Save(ctx, store.LocalScope, store.FieldKey, key); err != nil {
			fatal("storing ledger key: %v", err)
		}

		fmt.Printf("New ledger key (share it only with people who may edit the ledger):\n\n  %s\n\n", key)
		fmt.Printf("Ref: %s\n", codec.KeyToRef(key, viper.GetString("ref-salt")))
	},
}

var keySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Activate an existing ledger key on this device",
	Long: `Activate a ledger key that was shared with you.

Pass the key as an argument, or omit it to be prompted without echo.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Ledger key: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				fatal("reading key: %v", err)
			}
			key = string(raw)
		}
		if !codec.ValidKey(key) {
			fatal("malformed key: want %d base62 characters", codec.KeyLength)
		}

		st := openState()
		defer st.Close()

		if err := st.Save(context.Background(), store.LocalScope, store.FieldKey, key); err != nil {
			fatal("storing ledger key: %v", err)
		}
		fmt.Printf("Key activated. Ref: %s\n", codec.KeyToRef(key, viper.GetString("ref-salt")))
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active key and its ref",
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()

		key := activeKey(ctx, st)
		fmt.Printf("Key: %s\n", key)
		fmt.Printf("Ref: %s\n", codec.KeyToRef(key, viper.GetString("ref-salt")))
	},
}

var keyCloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Re-encrypt the ledger under a fresh key",
	Long: `Copy the current ledger under a brand-new key and activate it.

Use this to rotate the secret: people holding the old key keep the old
ledger, but stop seeing anything written under the new one. The clone
starts unsynced; the next sync publishes it under its new ref.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openState()
		defer st.Close()
		ctx := context.Background()
		salt := viper.GetString("ref-salt")

		syn := offlineEngine(ctx, st)

		snapshot := syn.Snapshot()
		doc := &split.Document{Prefs: syn.Prefs(), Split: snapshot}
		plain, err := split.EncodeDocument(doc, false)
		if err != nil {
			fatal("encoding ledger: %v", err)
		}

		newKey := codec.GenerateKey()
		packed, err := codec.Pack(plain, newKey)
		if err != nil {
			fatal("encrypting ledger: %v", err)
		}

		newRef := codec.KeyToRef(newKey, salt)
		if err := st.Save(ctx, newRef, store.FieldData, packed); err != nil {
			fatal("storing cloned ledger: %v", err)
		}
		if err := st.Save(ctx, store.LocalScope, store.FieldKey, newKey); err != nil {
			fatal("activating new key: %v", err)
		}

		fmt.Printf("Ledger cloned under a new key:\n\n  %s\n\n", newKey)
		fmt.Printf("Ref: %s\n", newRef)
		fmt.Println("Run 'splitpot sync' to publish the clone.")
	},
}

func init() {
	keyCmd.AddCommand(keyNewCmd)
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyCloneCmd)
	rootCmd.AddCommand(keyCmd)
}
