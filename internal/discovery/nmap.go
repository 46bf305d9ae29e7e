package discovery

import (
	"context"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/metrics"
)

// NmapSweep discovers hosts with an nmap ping scan. It is used for SYN
// scan types where nmap's host discovery is more thorough than a plain
// ICMP sweep, and requires the nmap binary on PATH.
func (e *Engine) NmapSweep(ctx context.Context, target string) ([]Host, error) {
	specs := strings.Fields(target)
	if len(specs) == 0 {
		return []Host{}, nil
	}

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(specs...),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeDiscoveryFailed,
			"failed to create nmap scanner", target, err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeDiscoveryFailed,
			"nmap sweep failed", target, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		e.log.WarnDiscovery("nmap sweep reported warnings", target, "warnings", *warnings)
	}

	hosts := make([]Host, 0, len(result.Hosts))
	for i := range result.Hosts {
		h := &result.Hosts[i]
		if h.Status.State != "up" {
			continue
		}

		host := Host{MAC: db.MACUnknown}
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "ipv4":
				host.IP = addr.Addr
			case "mac":
				host.MAC = strings.ToLower(addr.Addr)
			}
		}
		if host.IP == "" {
			continue
		}
		hosts = append(hosts, host)
	}

	metrics.GetGlobalMetrics().AddHostsDiscovered("nmap", len(hosts))
	e.log.InfoDiscovery("nmap sweep finished", target, "hosts", len(hosts))
	return hosts, nil
}
