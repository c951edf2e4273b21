package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/app"
	"github.com/mschirtzinger/pocketsync/internal/pocket/daemon"
	"github.com/mschirtzinger/pocketsync/internal/pocket/dashboard"
	"github.com/mschirtzinger/pocketsync/internal/pocket/index"
	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	psync "github.com/mschirtzinger/pocketsync/internal/pocket/sync"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Watch the vault, sync periodically and serve the dashboard",
	Long: `Run in the foreground:
  - the URL index is rebuilt, then kept current from file system events
  - a sync runs every sync.interval (0 disables it)
  - the dashboard serves a JSON API, /metrics and a WebSocket event stream

WebSocket messages include:
- sync_complete: a sync pass committed
- reconcile_complete: a reconciliation run finished
- index_update: a note was indexed, removed or renamed
- stats: replica statistics

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Host:    cfg.Dashboard.Host,
			Port:    cfg.Dashboard.Port,
			Backend: a,
			Logger:  logs.Logger("dashboard"),
		})
		handler := dashboard.NewHandler(server, logs.Logger("dashboard"))
		a.SetHooks(dashboardHooks(ctx, a, handler))

		d, err := daemon.New(a.Index, a.Vault, a.DaemonSyncer(), &daemon.Config{
			SyncInterval:     cfg.Sync.Interval,
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			Logger:           logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}

		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}()

		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("🚀"), server.GetAddr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("   Vault:     %s\n", a.Vault.Root())

		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// dashboardHooks forwards completion events to the dashboard and refreshes
// the statistics after each of them.
func dashboardHooks(ctx context.Context, a *app.App, h *dashboard.Handler) app.Hooks {
	refresh := func() {
		stats, err := a.Stats(ctx)
		if err != nil {
			return
		}
		h.UpdateStats(stats)
	}
	return app.Hooks{
		OnSync: func(res *psync.Result) {
			h.OnSyncComplete(res)
			refresh()
		},
		OnReconcile: func(sum *reconcile.Summary) {
			h.OnReconcileComplete(sum)
			refresh()
		},
		OnIndex: func(ev index.Event) {
			h.OnIndexEvent(ev)
			if ev.Type == index.EventRebuilt {
				refresh()
			}
		},
	}
}

func init() {
	serveCmd.Flags().Int("port", 8080, "dashboard port (default dashboard.port)")
	rootCmd.AddCommand(serveCmd)
}
