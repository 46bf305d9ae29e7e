// Package probe implements bounded-concurrency TCP connect scanning.
// A port counts as open when a connection is accepted within the dial
// timeout; timeouts, refusals and unreachable hosts all read as closed
// and are simply absent from the result.
package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/metrics"
)

const (
	// DefaultConcurrency bounds simultaneous connect attempts per probe
	// run, to avoid exhausting local sockets or tripping host-side rate
	// limiting.
	DefaultConcurrency = 50

	// DefaultDialTimeout is the per-port connect timeout.
	DefaultDialTimeout = time.Second

	// deepScanMaxPort is the upper bound of the deep-scan port range.
	deepScanMaxPort = 1024
)

// baselinePorts are always part of the dynamic lookup set, whether or
// not any classification rule references them.
var baselinePorts = []int{22, 53, 80, 443, 1883, 5000, 8080, 8123}

// PortSource supplies the ports referenced by current classification
// rules. *classify.RuleCache satisfies this interface.
type PortSource interface {
	RulePorts(ctx context.Context) []int
}

// Prober performs TCP connect scans against single hosts.
type Prober struct {
	source      PortSource
	concurrency int64
	timeout     time.Duration
}

// New creates a prober with default bounds. source may be nil, in which
// case LookupPorts returns only the baseline set.
func New(source PortSource) *Prober {
	return &Prober{
		source:      source,
		concurrency: DefaultConcurrency,
		timeout:     DefaultDialTimeout,
	}
}

// SetConcurrency overrides the concurrent dial bound.
func (p *Prober) SetConcurrency(n int) {
	if n > 0 {
		p.concurrency = int64(n)
	}
}

// SetTimeout overrides the per-port dial timeout.
func (p *Prober) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// LookupPorts returns the dynamic probing set: the union of all ports
// referenced by current classification rules plus the fixed baseline,
// sorted ascending. The set is recomputed on every call because rules
// can change between scans; rule contents themselves are cached by the
// rule source.
func (p *Prober) LookupPorts(ctx context.Context) []int {
	seen := make(map[int]struct{})
	if p.source != nil {
		for _, port := range p.source.RulePorts(ctx) {
			seen[port] = struct{}{}
		}
	}
	for _, port := range baselinePorts {
		seen[port] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Probe scans the given ports on host and returns the open ones with
// resolved service names, ordered by port number. A nil or empty port
// list means the dynamic lookup set.
func (p *Prober) Probe(ctx context.Context, host string, ports []int) []db.PortEntry {
	if len(ports) == 0 {
		ports = p.LookupPorts(ctx)
	}

	sem := semaphore.NewWeighted(p.concurrency)
	var (
		mu   sync.Mutex
		open []db.PortEntry
		wg   sync.WaitGroup
	)

	for _, port := range ports {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)

			if !p.checkPort(host, port) {
				return
			}
			entry := db.PortEntry{
				Port:     port,
				Protocol: "tcp",
				Service:  ServiceName(port),
			}
			mu.Lock()
			open = append(open, entry)
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })
	metrics.GetGlobalMetrics().AddOpenPorts(len(open))
	return open
}

// DeepScan probes the full low port range (1-1024) on a single host.
func (p *Prober) DeepScan(ctx context.Context, host string) []db.PortEntry {
	ports := make([]int, 0, deepScanMaxPort)
	for port := 1; port <= deepScanMaxPort; port++ {
		ports = append(ports, port)
	}
	return p.Probe(ctx, host, ports)
}

// checkPort reports whether a TCP connection to host:port succeeds
// within the dial timeout. All dial failures mean closed.
func (p *Prober) checkPort(host string, port int) bool {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
