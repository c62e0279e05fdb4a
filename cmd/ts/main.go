// Command ts synchronizes issue trackers into a spreadsheet-like
// tabular store on a schedule.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ts",
	Short: "Track issues and pull requests in a spreadsheet",
	Long: `ts keeps a spreadsheet in sync with the issues and pull requests of
one or more source repositories.

Each pass fetches items changed since the previous pass, merges them into
the sheet rows (preserving hand-edited columns), cross-references pull
requests that mention tracked items, and applies cleanup policies
(removal, archival). Configuration lives in a YAML file; see "ts init".

Environment:
  TRACKSHEET_GITHUB_TOKEN   API token for the source client
  TRACKSHEET_CONFIG         config file path (overridden by --config)
  TRACKSHEET_STORE_FILE     local JSON store path (default: next to config)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "config file path")

	viper.SetEnvPrefix("TRACKSHEET")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
