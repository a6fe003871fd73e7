package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks (server default 50)")
	rootCmd.AddCommand(listCmd)
}

var listLimit int

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent tasks, newest first",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	list, err := newAPIClient(apiURL).List(cmd.Context(), listLimit)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No tasks. Run 'slideforge create <prompt>' to start one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSAMPLES\tCREATED\tPROMPT")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%d\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Progress,
			len(t.Samples),
			humanize.Time(time.Unix(int64(t.CreatedAt), 0)),
			truncate(t.Prompt, 48),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
