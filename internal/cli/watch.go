package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Print agent messages")
	rootCmd.AddCommand(watchCmd)
}

var watchVerbose bool

var watchCmd = &cobra.Command{
	Use:   "watch TASK",
	Short: "Follow a task's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchTask(cmd, newAPIClient(apiURL), args[0], watchVerbose)
	},
}
