package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvinput/internal/http/handlers"
	"github.com/jmylchreest/tvinput/pkg/format"
)

var exportOutput string

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Channel directory commands",
	Long:  `Commands for inspecting the channel directory of the configured input.`,
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the channels in the directory",
	RunE:  runChannelsList,
}

var channelsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the directory as an M3U playlist",
	Long: `Export the channel directory as an extended M3U playlist.

  tvinput channels export --output channels.m3u`,
	RunE: runChannelsExport,
}

func init() {
	channelsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the playlist to a file instead of stdout")

	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsExportCmd)
}

func runChannelsList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	channels, err := a.directory.ListChannels(cmd.Context(), cfg.Input.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ch := range channels {
		fmt.Fprintf(out, "%5s  %-32s %s\n", ch.DisplayNumber, ch.DisplayName, ch.URI())
	}
	fmt.Fprintln(out, format.Count(len(channels), "channel", "channels"))
	return nil
}

func runChannelsExport(cmd *cobra.Command, _ []string) (err error) {
	a, err := newApp(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	channels, err := a.directory.ListChannels(cmd.Context(), cfg.Input.ID)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, createErr := os.Create(exportOutput)
		if createErr != nil {
			return fmt.Errorf("creating %s: %w", exportOutput, createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}

	cw := &countingWriter{w: w}
	n, err := handlers.WritePlaylist(cw, channels, cfg.Input.LogoBaseURL)
	if err != nil {
		return fmt.Errorf("writing playlist: %w", err)
	}
	if exportOutput != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s) to %s\n",
			format.Count(n, "channel", "channels"), format.Bytes(cw.n), exportOutput)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
