package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slideforge/slideforge/internal/app/tasks"
	"github.com/slideforge/slideforge/internal/domain"
)

func init() {
	f := createCmd.Flags()
	f.IntVarP(&createSamples, "samples", "n", 0, "Number of samples to generate (default from server)")
	f.StringVarP(&createPages, "pages", "p", "", `Slide count, or "auto"`)
	f.StringVar(&createOutput, "output-type", "", "freeform or templates")
	f.StringVar(&createTemplate, "template", "", "Template name for templates output")
	f.StringVar(&createUpload, "upload", "", "File id returned by an earlier upload")
	f.BoolVarP(&createWatch, "watch", "w", false, "Follow progress until the task finishes")
	f.BoolVarP(&createVerbose, "verbose", "v", false, "With --watch, print agent messages")
	rootCmd.AddCommand(createCmd)
}

var (
	createSamples  int
	createPages    string
	createOutput   string
	createTemplate string
	createUpload   string
	createWatch    bool
	createVerbose  bool
)

var createCmd = &cobra.Command{
	Use:   "create PROMPT...",
	Short: "Create a presentation task",
	Example: `  slideforge create "History of the transistor" --pages 8
  slideforge create -n 3 -w "Quarterly results for the board"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	c := newAPIClient(apiURL)
	id, err := c.Create(cmd.Context(), tasks.CreateRequest{
		Prompt:         strings.Join(args, " "),
		SampleCount:    createSamples,
		Pages:          createPages,
		OutputType:     createOutput,
		UploadedFileID: createUpload,
		Options:        domain.Options{Template: createTemplate},
	})
	if err != nil {
		return err
	}
	fmt.Println(id)

	if !createWatch {
		return nil
	}
	return watchTask(cmd, c, id, createVerbose)
}

func watchTask(cmd *cobra.Command, c *apiClient, id string, verbose bool) error {
	bar := newProgressBar(os.Stderr, verbose)
	var failed string
	err := c.Watch(cmd.Context(), id, func(n domain.Notification) {
		bar.handle(n)
		if e, ok := n.(domain.ErrorNotification); ok {
			failed = e.Error
		}
	})
	if err != nil {
		return err
	}
	if failed != "" {
		return fmt.Errorf("task %s failed: %s", id, failed)
	}
	return nil
}
