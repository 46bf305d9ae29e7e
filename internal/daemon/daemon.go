// Package daemon runs the lanscout background service. It wires the
// discovery, probing, classification, reconciliation and notification
// components to the database, drives the scheduler and queue runner,
// and serves health and metrics endpoints.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lanscout/lanscout/internal/classify"
	"github.com/lanscout/lanscout/internal/config"
	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/devices"
	"github.com/lanscout/lanscout/internal/discovery"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/notify"
	"github.com/lanscout/lanscout/internal/probe"
	"github.com/lanscout/lanscout/internal/scanning"
	"github.com/lanscout/lanscout/internal/scheduler"
)

const pidFileMode = 0o644

// Daemon is the main service process.
type Daemon struct {
	cfg *config.Config
	log *logging.Logger

	database  *db.DB
	notifier  *notify.Notifier
	sched     *scheduler.Scheduler
	runner    *scheduler.Runner
	listener  *listener
	ctx       context.Context
	cancelCtx context.CancelFunc
}

// New creates a daemon instance from configuration.
func New(cfg *config.Config) *Daemon {
	return &Daemon{
		cfg: cfg,
		log: logging.Default().WithComponent("daemon"),
	}
}

// Run starts the daemon and blocks until a termination signal arrives
// or the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.ctx = ctx
	d.cancelCtx = cancel
	defer cancel()

	if err := d.writePIDFile(); err != nil {
		return err
	}
	defer d.removePIDFile()

	if err := d.initDatabase(ctx); err != nil {
		return err
	}
	defer d.closeDatabase()

	d.initNotifier()
	defer d.closeNotifier()

	d.wirePipeline()
	d.startListener()
	defer d.stopListener()

	d.sched.Start(ctx)
	d.runner.Start(ctx)
	d.log.Info("Daemon started", "pid", os.Getpid())

	d.waitForShutdown(ctx)

	d.sched.Stop()
	d.runner.Stop()
	d.log.Info("Daemon stopped")
	return nil
}

// wirePipeline assembles the scan pipeline from configuration.
func (d *Daemon) wirePipeline() {
	ruleCache := classify.NewRuleCache(d.database, classify.DefaultCacheTTL)
	classifier := classify.NewEngine(ruleCache)

	prober := probe.New(ruleCache)
	prober.SetConcurrency(d.cfg.Scanning.ProbeConcurrency)
	prober.SetTimeout(d.cfg.Scanning.ProbeTimeout)

	engine := discovery.NewEngine(d.cfg.Discovery)
	resolver := scanning.NewPTRResolver(d.cfg.Scanning.DNSServer, d.cfg.Scanning.DNSTimeout)

	var publisher devices.Publisher
	if d.notifier != nil && d.notifier.Enabled() {
		publisher = d.notifier
	}
	reconciler := devices.NewService(d.database, classifier, publisher)

	job := scanning.NewJob(engine, prober, resolver, d.database, reconciler,
		scanning.Config{EnrichConcurrency: d.cfg.Scanning.EnrichConcurrency})

	d.sched = scheduler.NewScheduler(d.database, d.cfg.Scheduler.SchedulePoll)
	d.runner = scheduler.NewRunner(d.database, job, d.cfg.Scheduler.QueuePoll, d.cfg.Scheduler.MaxConcurrent)
}

func (d *Daemon) initDatabase(ctx context.Context) error {
	dbConfig := d.cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig)
	if err != nil {
		return err
	}
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return err
	}
	d.database = database
	return nil
}

func (d *Daemon) closeDatabase() {
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.log.Error("Failed to close database", "error", err)
		}
	}
}

func (d *Daemon) initNotifier() {
	d.notifier = notify.New(d.cfg.MQTT)
	if !d.notifier.Enabled() {
		d.log.Info("MQTT notifications disabled")
		return
	}
	if err := d.notifier.Connect(); err != nil {
		// Presence events are best effort; the daemon runs without them.
		d.log.Warn("MQTT connection failed, presence events disabled", "error", err)
		d.notifier = nil
	}
}

func (d *Daemon) closeNotifier() {
	if d.notifier != nil {
		d.notifier.Close()
	}
}

func (d *Daemon) startListener() {
	if !d.cfg.Metrics.Enabled {
		return
	}
	d.listener = newListener(d.cfg.Metrics.ListenAddr, d.database)
	d.listener.Start()
}

func (d *Daemon) stopListener() {
	if d.listener != nil {
		d.listener.Stop(d.cfg.Daemon.ShutdownTimeout)
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM or context cancellation.
func (d *Daemon) waitForShutdown(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}
}

func (d *Daemon) writePIDFile() error {
	if d.cfg.Daemon.PIDFile == "" {
		return nil
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(d.cfg.Daemon.PIDFile, []byte(pid+"\n"), pidFileMode); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.cfg.Daemon.PIDFile != "" {
		_ = os.Remove(d.cfg.Daemon.PIDFile)
	}
}

// Shutdown requests a graceful stop. Safe to call from another
// goroutine.
func (d *Daemon) Shutdown() {
	if d.cancelCtx != nil {
		d.cancelCtx()
	}
}
