package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rmCmd)
}

var rmCmd = &cobra.Command{
	Use:   "rm TASK...",
	Short: "Delete tasks, stopping any that are still running",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	c := newAPIClient(apiURL)
	for _, id := range args {
		if err := c.Delete(cmd.Context(), id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return nil
}
