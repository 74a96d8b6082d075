package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/splitpot/splitpot/internal/channel"
	"github.com/splitpot/splitpot/internal/clock"
	"github.com/splitpot/splitpot/internal/daemon"
	"github.com/splitpot/splitpot/internal/syncer"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the ledger synced in the background (foreground process)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Holds a persistent relay connection, reconnecting as needed
  2. Re-aligns the logical clock on every (re)connect
  3. Syncs immediately when another device changes the ledger
  4. Syncs periodically to bound staleness

Logs rotate in <data-dir>/daemon.log. Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		server := viper.GetString("server")
		if server == "" {
			fatal("no relay configured; set --server or SPLITPOT_SERVER")
		}
		syncDelay, _ := cmd.Flags().GetDuration("sync-delay")
		ensureEvery, _ := cmd.Flags().GetDuration("ensure-interval")

		st := openState()
		defer st.Close()
		ctx := context.Background()
		key := activeKey(ctx, st)

		logger := log.New(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(dataDir(), "daemon.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}), "[daemon] ", log.LstdFlags)

		clk := clock.New()

		// The channel callbacks close over the daemon, which needs the
		// syncer, which needs the channel; d is nil only until Start.
		var d *daemon.Daemon
		client := channel.NewClient(channel.Config{
			URL:    server,
			Token:  viper.GetString("token"),
			Logger: logger,
			OnConnect: func() {
				if d != nil {
					d.HandleConnect()
				}
			},
			OnConnectError: func(err error) {
				logger.Printf("Relay connection failed: %v", err)
			},
			OnChanged: func() {
				if d != nil {
					d.HandleChanged()
				}
			},
		})

		syn := syncer.New(syncer.Config{
			Clock:   clk,
			Channel: client,
			Store:   st,
			RefSalt: viper.GetString("ref-salt"),
			Logger:  logger,
			OnDirty: func() {
				if d != nil {
					d.HandleDirty()
				}
			},
		})
		if err := syn.Load(ctx, key); err != nil {
			fatal("loading ledger: %v", err)
		}

		d = daemon.New(syn, clk, client, &daemon.Config{
			SyncDelay:      syncDelay,
			EnsureInterval: ensureEvery,
			Logger:         logger,
		})

		fmt.Printf("Syncing ledger %s via %s\n", syn.Ref(), server)
		fmt.Println("Press Ctrl+C to stop")

		d.Start()
		client.Start()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		fmt.Println("\nShutting down...")
		client.Stop()
		d.Stop()
	},
}

func init() {
	daemonCmd.Flags().Duration("sync-delay", 2*time.Second, "debounce after a local edit before pushing")
	daemonCmd.Flags().Duration("ensure-interval", 30*time.Second, "periodic sync interval")
	rootCmd.AddCommand(daemonCmd)
}
