package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show TASK",
	Short: "Show detailed information about a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	t, err := newAPIClient(apiURL).Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Prompt:    %s\n", t.Prompt)
	fmt.Printf("Status:    %s (%d%%)\n", t.Status, t.Progress)
	fmt.Printf("Pages:     %s\n", t.Pages)
	fmt.Printf("Output:    %s\n", t.OutputType)
	fmt.Printf("Created:   %s\n", time.Unix(int64(t.CreatedAt), 0).Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", time.Unix(int64(t.UpdatedAt), 0).Format("2006-01-02 15:04:05"))
	if t.Error != "" {
		fmt.Printf("Error:     %s\n", t.Error)
	}
	if t.Artifact != nil {
		fmt.Printf("Artifact:  %s\n", t.Artifact.Type)
	}

	fmt.Println("Samples:")
	for i, s := range t.Samples {
		fmt.Printf("  %d  %-10s %3d%%  %s\n", i, s.Status, s.Progress, s.FilePath)
	}
	return nil
}
