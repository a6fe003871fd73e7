package cli

import (
	"github.com/spf13/cobra"

	"github.com/slideforge/slideforge/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Task store driver: redis or sqlite (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost  string
	servePort  int
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the slideforge API server",
	Long:  `Start the task API and WebSocket server at 0.0.0.0:8000.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveStore != "" {
		cfg.Store.Driver = serveStore
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cmd, cfg.Logging.Level, cfg.Logging.JSON)
	d, err := daemon.NewWithConfig(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(cmd.Context())
}
