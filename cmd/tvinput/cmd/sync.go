package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/pkg/format"
)

var syncCurrentOnly bool

// syncCmd represents the sync command.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the channel directory once",
	Long: `Import the configured feed into the channel directory and exit.

A full sync stores programs for the configured window and removes channels
that left the feed. With --current-only only programs airing now are
written.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncCurrentOnly, "current-only", false, "only sync the programs airing now")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, observability.WithOperation(slog.Default(), "sync"))
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.sync.Sync(cmd.Context(), syncCurrentOnly)
	if err != nil {
		return fmt.Errorf("syncing input %s: %w", cfg.Input.ID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Synced input %s in %s\n", result.InputID, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  %s\n", format.Count(result.Channels, "channel", "channels"))
	fmt.Fprintf(out, "  %s\n", format.Count(result.Programs, "program", "programs"))
	if !result.CurrentOnly {
		fmt.Fprintf(out, "  %s removed\n", format.Count(result.RemovedChannels, "channel", "channels"))
		fmt.Fprintf(out, "  %s expired\n", format.Count(result.ExpiredPrograms, "program", "programs"))
	}
	return nil
}
