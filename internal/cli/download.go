package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	downloadCmd.Flags().IntVarP(&downloadSample, "sample", "s", -1, "Sample index (default: the task's primary file)")
	downloadCmd.Flags().StringVarP(&downloadOut, "output", "o", "", `Destination file, "-" for stdout (default TASK.pptx)`)
	rootCmd.AddCommand(downloadCmd)
}

var (
	downloadSample int
	downloadOut    string
)

var downloadCmd = &cobra.Command{
	Use:   "download TASK",
	Short: "Download a generated presentation",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	id := args[0]
	path := downloadOut
	if path == "" {
		path = id + ".pptx"
		if downloadSample >= 0 {
			path = fmt.Sprintf("%s-%d.pptx", id, downloadSample)
		}
	}

	out, err := openOutput(path)
	if err != nil {
		return err
	}
	if err := newAPIClient(apiURL).Download(cmd.Context(), id, downloadSample, out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if path != "-" {
		fmt.Printf("Saved %s\n", path)
	}
	return nil
}
