// Command pocketsync keeps a local replica of a Pocket list and joins it to
// a folder of notes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/app"
	"github.com/mschirtzinger/pocketsync/internal/config"
	"github.com/mschirtzinger/pocketsync/internal/logging"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var (
	cfgFile string
	verbose bool

	cfg  *config.Config
	logs *logging.Output
)

var rootCmd = &cobra.Command{
	Use:   "pocketsync",
	Short: "Local replica of your Pocket list, joined to your notes",
	Long: `pocketsync keeps a local copy of your Pocket saved items, maps each item
to the note in your vault that carries its URL, and pushes tags you add
to those notes back to Pocket.

Configuration is read from ~/.config/pocketsync/config.yaml, POCKETSYNC_*
environment variables and ~/.config/pocketsync/.env.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{File: cfgFile, Flags: cmd.Flags()})
		if err != nil {
			return err
		}
		logs, err = logging.Setup(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    verbose,
		})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logs != nil {
			return logs.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "browse", Title: "Browse:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/pocketsync/config.yaml)")
	flags.String("vault", "", "notes vault directory")
	flags.String("db", "", "replica database path")
	flags.String("log-file", "", "also write logs to this file (rotated)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openApp builds the component set from the loaded config.
func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg, app.Options{Loggers: logs.Logger})
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if pocket.IsExpected(err) {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
	if errors.Is(err, pocket.ErrNotAuthenticated) {
		fmt.Fprintln(os.Stderr, "   Run 'pocketsync login' to store an access token")
	}
	os.Exit(1)
}
