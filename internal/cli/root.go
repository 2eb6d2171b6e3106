package cli

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Associative memory engine with decay and consolidation",
	Long:  "Mnemo stores memories as a concept graph per group, recalls them through layered strategies, and forgets what goes untouched. Single Go binary backed by SQLite.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.mnemo/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(groupsCmd)
}
