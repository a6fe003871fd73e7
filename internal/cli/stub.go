package cli

import (
	"github.com/spf13/cobra"

	"github.com/slideforge/slideforge/internal/daemon"
)

func init() {
	genstubCmd.Flags().IntVar(&stubPort, "port", 0, "Port to listen on (overrides config)")
	genstubCmd.Flags().IntVar(&stubPages, "pages", 0, "Slides per run when the request does not say")
	genstubCmd.Flags().StringVar(&stubDelay, "step-delay", "", "Pause between agent steps, e.g. 200ms")
	rootCmd.AddCommand(genstubCmd)
}

var (
	stubPort  int
	stubPages int
	stubDelay string
)

var genstubCmd = &cobra.Command{
	Use:   "genstub",
	Short: "Run a scripted generation service for development",
	Long: `Serve the generation-service API backed by a scripted agent that
replays a research, design and convert run and writes placeholder files.
Point generation.url (or PPTAGENT_DOCKER_URL) at it.`,
	RunE: runGenstub,
}

func runGenstub(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if stubPort > 0 {
		cfg.Stub.Port = stubPort
	}
	if stubPages > 0 {
		cfg.Stub.Pages = stubPages
	}
	if stubDelay != "" {
		cfg.Stub.StepDelay = stubDelay
	}
	return daemon.ServeStub(cmd.Context(), cfg, newLogger(cmd, cfg.Logging.Level, cfg.Logging.JSON))
}
