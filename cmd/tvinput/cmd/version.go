package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvinput/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:              "version",
	Short:            "Print version information",
	Long:             "Print the version, commit, and build date of tvinput.",
	PersistentPreRun: skipConfig,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		}

		data, err := json.MarshalIndent(version.GetInfo(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding version: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
