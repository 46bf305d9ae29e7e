// Package scanning orchestrates one scan run end to end: host
// discovery, bounded-concurrency enrichment (reverse DNS and port
// probing), result persistence, device reconciliation and offline
// detection, in that order.
package scanning

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/devices"
	"github.com/lanscout/lanscout/internal/discovery"
	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/logging"
)

const (
	// ScanTypeARP and friends name the supported discovery strategies.
	ScanTypeARP    = "arp"
	ScanTypePing   = "ping"
	ScanTypeTCPSYN = "tcp-syn"

	// DefaultEnrichConcurrency bounds how many hosts are enriched
	// (resolved and probed) at once.
	DefaultEnrichConcurrency = 4

	// persistTimeout bounds persistence of partial results after the
	// scan context was canceled.
	persistTimeout = 10 * time.Second
)

// scanOptions is the decoded scans.options payload.
type scanOptions struct {
	// DeepScan probes the full low port range instead of the rule-driven
	// lookup set.
	DeepScan bool `json:"deep_scan"`
}

// Discoverer finds live hosts. *discovery.Engine satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, target string) ([]discovery.Host, error)
	NmapSweep(ctx context.Context, target string) ([]discovery.Host, error)
}

// Prober scans ports on a single host. *probe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, host string, ports []int) []db.PortEntry
	DeepScan(ctx context.Context, host string) []db.PortEntry
}

// Resolver turns an IP into a hostname, best effort.
type Resolver interface {
	ReverseLookup(ctx context.Context, ip string) string
}

// ResultStore persists per-scan host results. *db.DB satisfies it.
type ResultStore interface {
	InsertScanResult(ctx context.Context, result *db.ScanResult) error
}

// Reconciler folds observations into the device inventory.
// *devices.Service satisfies it.
type Reconciler interface {
	ReconcileBatch(ctx context.Context, observations []devices.Observation)
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds scan job settings.
type Config struct {
	EnrichConcurrency int `yaml:"enrich_concurrency" json:"enrich_concurrency"`
}

// DefaultConfig returns the default scan job configuration.
func DefaultConfig() Config {
	return Config{EnrichConcurrency: DefaultEnrichConcurrency}
}

// Job runs scans against the full pipeline.
type Job struct {
	discoverer Discoverer
	prober     Prober
	resolver   Resolver
	store      ResultStore
	reconciler Reconciler
	cfg        Config
	log        *logging.Logger
}

// NewJob wires a scan job. resolver and reconciler may be nil, which
// skips hostname resolution and inventory reconciliation respectively.
func NewJob(discoverer Discoverer, prober Prober, resolver Resolver,
	store ResultStore, reconciler Reconciler, cfg Config) *Job {
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultEnrichConcurrency
	}
	return &Job{
		discoverer: discoverer,
		prober:     prober,
		resolver:   resolver,
		store:      store,
		reconciler: reconciler,
		cfg:        cfg,
		log:        logging.Default().WithComponent("scanning"),
	}
}

// enriched is one host after resolution and probing.
type enriched struct {
	host     discovery.Host
	hostname string
	ports    db.PortList
}

// Run executes one scan: discover, enrich, persist, reconcile, then
// offline detection. The caller owns the scan's lifecycle transitions;
// Run only reports success or failure. A canceled context stops new
// work between hosts; results already enriched are still persisted and
// reconciled before the canceled error surfaces, but offline detection
// is skipped so a partial sweep never flips unobserved devices.
func (j *Job) Run(ctx context.Context, scan *db.Scan) error {
	log := j.log.WithScanID(scan.ID.String())
	startedAt := time.Now().UTC()
	if scan.StartedAt != nil {
		startedAt = *scan.StartedAt
	}

	hosts, err := j.discover(ctx, scan)
	if err != nil {
		return err
	}
	log.InfoScan("Discovery finished", scan.Target, "hosts", len(hosts))

	results, enrichErr := j.enrich(ctx, scan, hosts)

	// Persistence must outlive the scan context so partial results of a
	// canceled scan still land.
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
	}

	observations := make([]devices.Observation, 0, len(results))
	for _, r := range results {
		now := time.Now().UTC()
		result := &db.ScanResult{
			ScanID:    scan.ID,
			IP:        ipAddr(r.host.IP),
			MAC:       optional(r.host.MAC),
			Hostname:  optional(r.hostname),
			OpenPorts: r.ports,
			FirstSeen: now,
			LastSeen:  now,
		}
		if err := j.store.InsertScanResult(persistCtx, result); err != nil {
			return errors.WrapScanError(errors.CodeScanFailed, "failed to persist scan result", err)
		}
		observations = append(observations, devices.Observation{
			IP:        r.host.IP,
			MAC:       r.host.MAC,
			Hostname:  r.hostname,
			OpenPorts: r.ports,
			SeenAt:    now,
		})
	}

	if j.reconciler != nil {
		j.reconciler.ReconcileBatch(persistCtx, observations)

		if enrichErr == nil && ctx.Err() == nil {
			offline, err := j.reconciler.MarkOfflineBefore(persistCtx, startedAt)
			if err != nil {
				log.ErrorScan("Offline detection failed", scan.Target, err)
			} else if offline > 0 {
				log.InfoScan("Devices marked offline", scan.Target, "count", offline)
			}
		}
	}

	if enrichErr != nil {
		return enrichErr
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapScanError(errors.CodeCanceled, "scan canceled", err)
	}
	return nil
}

// discover picks the discovery strategy for the scan type. SYN scans
// prefer nmap's host discovery and fall back to the built-in sweep when
// the binary is unavailable.
func (j *Job) discover(ctx context.Context, scan *db.Scan) ([]discovery.Host, error) {
	if scan.ScanType == ScanTypeTCPSYN {
		hosts, err := j.discoverer.NmapSweep(ctx, scan.Target)
		if err == nil {
			return hosts, nil
		}
		j.log.WarnDiscovery("nmap sweep failed, using built-in discovery", scan.Target, "error", err)
	}

	hosts, err := j.discoverer.Discover(ctx, scan.Target)
	if err != nil {
		// A sweep cut short by cancellation is not a discovery failure;
		// the distinction decides whether the scan finalizes as
		// interrupted or as an error.
		if ctx.Err() != nil {
			return nil, errors.WrapScanError(errors.CodeCanceled, "scan canceled during discovery", err)
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeDiscoveryFailed,
			"host discovery failed", scan.Target, err)
	}
	return hosts, nil
}

// enrich resolves and probes discovered hosts with bounded concurrency.
// Cancellation stops admitting new hosts; already-admitted hosts finish
// and their results are returned alongside the canceled error so the
// caller can persist them.
func (j *Job) enrich(ctx context.Context, scan *db.Scan, hosts []discovery.Host) ([]enriched, error) {
	opts := decodeOptions(scan.Options)

	sem := semaphore.NewWeighted(int64(j.cfg.EnrichConcurrency))
	var (
		mu      sync.Mutex
		results []enriched
		wg      sync.WaitGroup
	)

	for _, host := range hosts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(host discovery.Host) {
			defer wg.Done()
			defer sem.Release(1)

			r := enriched{host: host}
			if j.resolver != nil {
				r.hostname = j.resolver.ReverseLookup(ctx, host.IP)
			}
			if opts.DeepScan {
				r.ports = j.prober.DeepScan(ctx, host.IP)
			} else {
				r.ports = j.prober.Probe(ctx, host.IP, nil)
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, errors.WrapScanError(errors.CodeCanceled, "scan canceled during enrichment", err)
	}
	return results, nil
}

func decodeOptions(raw db.JSONB) scanOptions {
	var opts scanOptions
	if len(raw) > 0 {
		_ = json.Unmarshal([]byte(raw), &opts)
	}
	return opts
}

func optional(s string) *string {
	if s == "" || s == db.MACUnknown {
		return nil
	}
	return &s
}
