// Package discovery finds live hosts on local networks. The primary
// method is a link-layer ARP sweep; when raw sockets are unavailable it
// degrades to an ICMP ping sweep, and the results of both passes are
// merged with ARP-resolved hardware addresses taking precedence.
package discovery

import (
	"bufio"
	"context"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/metrics"
)

const (
	// DefaultARPTimeout is how long one ARP collection pass waits for
	// replies after the requests go out.
	DefaultARPTimeout = 2 * time.Second

	// DefaultPingTimeout is the per-host ICMP echo timeout.
	DefaultPingTimeout = time.Second

	// DefaultPingConcurrency bounds simultaneous ping probes.
	DefaultPingConcurrency = 100

	// maxNetworkSizeBits rejects CIDR specs bigger than a /16; anything
	// larger produces an unmanageable host count for a LAN sweep.
	maxNetworkSizeBits = 16
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Host is one live host found by a discovery pass. MAC is db.MACUnknown
// when the hardware address could not be resolved.
type Host struct {
	IP  string
	MAC string
}

// Config holds discovery engine settings.
type Config struct {
	// Interface pins ARP sweeps to a named network interface. Empty
	// means pick the first usable one.
	Interface string `yaml:"interface" json:"interface"`

	// PrivilegedICMP uses raw ICMP sockets instead of UDP ping.
	PrivilegedICMP bool `yaml:"privileged_icmp" json:"privileged_icmp"`

	ARPTimeout      time.Duration `yaml:"arp_timeout" json:"arp_timeout"`
	PingTimeout     time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
	PingConcurrency int           `yaml:"ping_concurrency" json:"ping_concurrency"`
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		ARPTimeout:      DefaultARPTimeout,
		PingTimeout:     DefaultPingTimeout,
		PingConcurrency: DefaultPingConcurrency,
	}
}

// Engine performs host discovery sweeps.
type Engine struct {
	cfg Config
	log *logging.Logger
}

// NewEngine creates a discovery engine, filling in zero-value timeouts
// and bounds with defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.ARPTimeout <= 0 {
		cfg.ARPTimeout = DefaultARPTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = DefaultPingConcurrency
	}
	return &Engine{
		cfg: cfg,
		log: logging.Default().WithComponent("discovery"),
	}
}

// Discover sweeps the target specification and returns live hosts,
// deduplicated by IP and sorted. The target is a space-delimited list of
// CIDR networks and single addresses; malformed entries are skipped with
// a warning rather than failing the sweep. An empty target yields an
// empty result.
func (e *Engine) Discover(ctx context.Context, target string) ([]Host, error) {
	ips := e.expandTarget(target)
	if len(ips) == 0 {
		return []Host{}, nil
	}

	arpHosts, err := e.arpSweep(ctx, ips)
	if err != nil {
		// Raw sockets need privileges; without them the sweep degrades
		// to ping-only rather than failing outright.
		e.log.WarnDiscovery("ARP sweep unavailable, falling back to ping", target, "error", err)
	}
	metrics.GetGlobalMetrics().AddHostsDiscovered("arp", len(arpHosts))

	pingHosts, err := e.pingSweep(ctx, ips)
	if err != nil {
		return nil, err
	}
	metrics.GetGlobalMetrics().AddHostsDiscovered("ping", len(pingHosts))

	merged := mergeHosts(arpHosts, pingHosts)
	e.log.InfoDiscovery("Discovery sweep finished", target,
		"candidates", len(ips), "arp", len(arpHosts), "ping", len(pingHosts), "hosts", len(merged))
	return merged, nil
}

// mergeHosts combines the ARP and ping passes. ARP entries win on
// hardware address; ping-only hosts are added, and a ping entry with a
// resolved MAC fills in an ARP entry that has none.
func mergeHosts(primary, fallback []Host) []Host {
	byIP := make(map[string]Host, len(primary)+len(fallback))
	for _, h := range primary {
		byIP[h.IP] = h
	}
	for _, h := range fallback {
		existing, ok := byIP[h.IP]
		if !ok {
			byIP[h.IP] = h
			continue
		}
		if existing.MAC == db.MACUnknown && h.MAC != db.MACUnknown {
			existing.MAC = h.MAC
			byIP[h.IP] = existing
		}
	}

	merged := make([]Host, 0, len(byIP))
	for _, h := range byIP {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].IP < merged[j].IP })
	return merged
}

// expandTarget turns a space-delimited target specification into a
// deduplicated list of candidate IPv4 addresses. Bad entries are logged
// and skipped.
func (e *Engine) expandTarget(target string) []string {
	seen := make(map[string]struct{})
	var ips []string
	add := func(ip string) {
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}

	for _, spec := range strings.Fields(target) {
		if !strings.Contains(spec, "/") {
			parsed := net.ParseIP(spec)
			if parsed == nil || parsed.To4() == nil {
				e.log.WarnDiscovery("Skipping invalid target address", spec)
				continue
			}
			add(parsed.String())
			continue
		}

		_, ipnet, err := net.ParseCIDR(spec)
		if err != nil {
			e.log.WarnDiscovery("Skipping invalid target network", spec, "error", err)
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if bits != 32 {
			e.log.WarnDiscovery("Skipping non-IPv4 target network", spec)
			continue
		}
		if ones < maxNetworkSizeBits {
			e.log.WarnDiscovery("Skipping target network larger than /16", spec)
			continue
		}
		for _, ip := range enumerateHosts(ipnet, ones) {
			add(ip)
		}
	}
	return ips
}

// enumerateHosts lists the host addresses of an IPv4 network, excluding
// the network and broadcast addresses unless the prefix is /31 or /32.
func enumerateHosts(ipnet *net.IPNet, ones int) []string {
	var hosts []string
	ip := ipnet.IP.To4()
	cur := make(net.IP, len(ip))
	copy(cur, ip)

	for ; ipnet.Contains(cur); incrementIP(cur) {
		hosts = append(hosts, cur.String())
	}
	if ones < 31 && len(hosts) >= 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts
}

func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// pingSweep sends one ICMP echo to every candidate with bounded
// concurrency. Responders get their MAC from the OS ARP cache, which the
// echo exchange itself usually populates.
func (e *Engine) pingSweep(ctx context.Context, ips []string) ([]Host, error) {
	sem := semaphore.NewWeighted(int64(e.cfg.PingConcurrency))
	var (
		mu    sync.Mutex
		alive []Host
		wg    sync.WaitGroup
	)

	for _, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return alive, ctx.Err()
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)

			if !e.pingHost(ctx, ip) {
				return
			}
			host := Host{IP: ip, MAC: macFromARPCache(ip)}
			mu.Lock()
			alive = append(alive, host)
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return alive, nil
}

// pingHost reports whether a single ICMP echo gets a reply.
func (e *Engine) pingHost(ctx context.Context, ip string) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = e.cfg.PingTimeout
	pinger.SetPrivileged(e.cfg.PrivilegedICMP)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// macFromARPCache resolves a hardware address from the kernel ARP table,
// returning db.MACUnknown when the entry is absent or incomplete.
func macFromARPCache(ip string) string {
	file, err := os.Open("/proc/net/arp")
	if err != nil {
		return db.MACUnknown
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == "00:00:00:00:00:00" {
			return db.MACUnknown
		}
		return mac
	}
	return db.MACUnknown
}
