package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanscout/lanscout/internal/daemon"
)

var daemonPIDFile string

// daemonCmd runs the discovery daemon in the foreground.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the lanscout daemon",
	Long: `Run the lanscout daemon in the foreground. The daemon polls scan
schedules, executes queued scans, reconciles the device inventory and
serves health and metrics endpoints until terminated.`,
	Example: `  lanscout daemon
  lanscout daemon --config /etc/lanscout/config.yaml`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonPIDFile, "pid-file", "", "override PID file location")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonPIDFile != "" {
		cfg.Daemon.PIDFile = daemonPIDFile
	}

	d := daemon.New(cfg)
	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon failed: %v\n", err)
		return err
	}
	return nil
}
