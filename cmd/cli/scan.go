package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanscout/lanscout/internal/classify"
	"github.com/lanscout/lanscout/internal/config"
	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/devices"
	"github.com/lanscout/lanscout/internal/discovery"
	"github.com/lanscout/lanscout/internal/notify"
	"github.com/lanscout/lanscout/internal/probe"
	"github.com/lanscout/lanscout/internal/scanning"
)

var (
	scanTarget string
	scanType   string
	scanDeep   bool
	scanNow    bool
)

// scanCmd enqueues or runs a one-off scan.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Queue or run a network scan",
	Long: `Queue a scan for the daemon to pick up, or run it immediately in
this process with --now. Targets are space-delimited CIDR networks and
single addresses.`,
	Example: `  lanscout scan --target 192.168.1.0/24
  lanscout scan --target "10.0.0.0/24 10.0.1.5" --type ping --now
  lanscout scan --target 192.168.1.0/24 --deep --now`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanTarget, "target", "", "target networks and addresses (space-delimited)")
	scanCmd.Flags().StringVar(&scanType, "type", scanning.ScanTypeARP, "scan type: arp, ping, tcp-syn")
	scanCmd.Flags().BoolVar(&scanDeep, "deep", false, "probe the full 1-1024 port range")
	scanCmd.Flags().BoolVar(&scanNow, "now", false, "run the scan in this process instead of queuing it")
	_ = scanCmd.MarkFlagRequired("target")
}

func runScanCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	var options db.JSONB
	if scanDeep {
		options = db.JSONB(`{"deep_scan": true}`)
	}
	scan := &db.Scan{
		Target:   scanTarget,
		ScanType: scanType,
		Options:  options,
	}
	if err := database.CreateScan(ctx, scan); err != nil {
		return err
	}

	if !scanNow {
		fmt.Printf("Scan %s queued for target %q\n", scan.ID, scan.Target)
		return nil
	}
	return executeScan(ctx, cfg, database, scan)
}

// executeScan drives one scan through its lifecycle in-process, using
// the same pipeline as the daemon.
func executeScan(ctx context.Context, cfg *config.Config, database *db.DB, scan *db.Scan) error {
	startedAt := time.Now().UTC()
	if err := database.MarkScanRunning(ctx, scan.ID, startedAt); err != nil {
		return err
	}
	scan.StartedAt = &startedAt

	ruleCache := classify.NewRuleCache(database, classify.DefaultCacheTTL)
	prober := probe.New(ruleCache)
	prober.SetConcurrency(cfg.Scanning.ProbeConcurrency)
	prober.SetTimeout(cfg.Scanning.ProbeTimeout)

	var publisher devices.Publisher
	notifier := notify.New(cfg.MQTT)
	if notifier.Enabled() {
		if err := notifier.Connect(); err == nil {
			publisher = notifier
			defer notifier.Close()
		}
	}
	reconciler := devices.NewService(database, classify.NewEngine(ruleCache), publisher)

	job := scanning.NewJob(
		discovery.NewEngine(cfg.Discovery),
		prober,
		scanning.NewPTRResolver(cfg.Scanning.DNSServer, cfg.Scanning.DNSTimeout),
		database,
		reconciler,
		scanning.Config{EnrichConcurrency: cfg.Scanning.EnrichConcurrency},
	)

	runErr := job.Run(ctx, scan)
	finishedAt := time.Now().UTC()
	if runErr != nil {
		_ = database.FailScan(ctx, scan.ID, finishedAt, runErr.Error())
		return runErr
	}
	if err := database.CompleteScan(ctx, scan.ID, finishedAt); err != nil {
		return err
	}

	results, err := database.ScanResults(ctx, scan.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Scan %s finished: %d hosts\n", scan.ID, len(results))
	for _, r := range results {
		hostname := ""
		if r.Hostname != nil {
			hostname = " (" + *r.Hostname + ")"
		}
		fmt.Printf("  %s%s: %d open ports\n", r.IP.String(), hostname, len(r.OpenPorts))
	}
	return nil
}
