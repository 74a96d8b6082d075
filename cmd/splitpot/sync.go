package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/splitpot/splitpot/internal/channel"
	"github.com/splitpot/splitpot/internal/clock"
	"github.com/splitpot/splitpot/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the ledger through the relay once",
	Long: `Connect to the relay, reconcile local and remote state and exit.

Requires a relay URL via --server or SPLITPOT_SERVER. Local edits are
pushed with compare-and-set; concurrent edits from other devices are
merged item by item with last-writer-wins and tombstones.`,
	Run: func(cmd *cobra.Command, args []string) {
		server := viper.GetString("server")
		if server == "" {
			fatal("no relay configured; set --server or SPLITPOT_SERVER")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		st := openState()
		defer st.Close()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		key := activeKey(ctx, st)
		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		clk := clock.New()

		connected := make(chan struct{}, 1)
		client := channel.NewClient(channel.Config{
			URL:    server,
			Token:  viper.GetString("token"),
			Logger: logger,
			OnConnect: func() {
				select {
				case connected <- struct{}{}:
				default:
				}
			},
			OnConnectError: func(err error) {
				fmt.Fprintf(os.Stderr, "Relay connection failed: %v\n", err)
			},
		})
		client.Start()
		defer client.Stop()

		select {
		case <-connected:
		case <-ctx.Done():
			fatal("could not reach the relay at %s within %v", server, timeout)
		}

		// One round trip to line the logical clock up with the relay
		// before any timestamps are compared.
		before := time.Now().UnixMilli()
		remote, err := client.Now(ctx)
		after := time.Now().UnixMilli()
		if err != nil {
			logger.Printf("Clock probe failed: %v", err)
		} else {
			clk.AdjustFromExchange(before, after, remote)
		}

		syn := syncer.New(syncer.Config{
			Clock:   clk,
			Channel: client,
			Store:   st,
			RefSalt: viper.GetString("ref-salt"),
			Logger:  logger,
		})
		if err := syn.Load(ctx, key); err != nil {
			fatal("loading ledger: %v", err)
		}

		if syn.Synced() {
			if syn.Version() == "" {
				fmt.Println("Nothing to sync yet; the ledger is empty.")
			} else {
				fmt.Printf("Synced at version %s\n", syn.Version())
			}
		} else {
			fmt.Println("Sync did not complete; local changes are kept and will retry next time.")
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().Duration("timeout", 30*time.Second, "overall time budget for the sync")
	rootCmd.AddCommand(syncCmd)
}
