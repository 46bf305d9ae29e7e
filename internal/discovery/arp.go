package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"os"

	"github.com/mdlayher/arp"

	"github.com/lanscout/lanscout/internal/errors"
)

// arpAttempts is the number of request/collect passes per sweep. One
// retry covers hosts that miss the first broadcast.
const arpAttempts = 2

// arpSweep broadcasts ARP requests for every candidate address and
// collects replies until the pass deadline. It needs a packet socket;
// permission failures come back as restricted errors so the caller can
// degrade to ping.
func (e *Engine) arpSweep(ctx context.Context, ips []string) ([]Host, error) {
	ifi, err := e.pickInterface()
	if err != nil {
		return nil, err
	}

	client, err := arp.Dial(ifi)
	if err != nil {
		code := errors.CodeDiscoveryFailed
		if stderrors.Is(err, os.ErrPermission) {
			code = errors.CodeRestricted
		}
		return nil, errors.WrapDiscoveryError(code, "failed to open ARP socket", ifi.Name, err)
	}
	defer func() {
		_ = client.Close()
	}()

	targets := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			continue
		}
		targets = append(targets, addr)
	}

	found := make(map[string]string)
	for attempt := 0; attempt < arpAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if len(found) == len(targets) {
			break
		}

		for _, addr := range targets {
			if _, ok := found[addr.String()]; ok {
				continue
			}
			if err := client.Request(addr); err != nil {
				e.log.WarnDiscovery("ARP request failed", addr.String(), "error", err)
			}
		}
		e.collectReplies(client, found)
	}

	hosts := make([]Host, 0, len(found))
	for ip, mac := range found {
		hosts = append(hosts, Host{IP: ip, MAC: mac})
	}
	return hosts, nil
}

// collectReplies reads ARP replies until the pass deadline expires,
// recording sender addresses.
func (e *Engine) collectReplies(client *arp.Client, found map[string]string) {
	deadline := timeNow().Add(e.cfg.ARPTimeout)
	if err := client.SetReadDeadline(deadline); err != nil {
		return
	}

	for {
		pkt, _, err := client.Read()
		if err != nil {
			// Deadline expiry ends the pass.
			return
		}
		if pkt.Operation != arp.OperationReply {
			continue
		}
		found[pkt.SenderIP.String()] = pkt.SenderHardwareAddr.String()
	}
}

// pickInterface returns the configured interface, or the first up,
// non-loopback interface carrying an IPv4 address.
func (e *Engine) pickInterface() (*net.Interface, error) {
	if e.cfg.Interface != "" {
		ifi, err := net.InterfaceByName(e.cfg.Interface)
		if err != nil {
			return nil, errors.WrapDiscoveryError(errors.CodeConfiguration,
				"configured interface not found", e.cfg.Interface, err)
		}
		return ifi, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeDiscoveryFailed,
			"failed to list network interfaces", "", err)
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(ifi.HardwareAddr) == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ifi, nil
			}
		}
	}
	return nil, errors.NewDiscoveryError(errors.CodeDiscoveryFailed,
		"no usable network interface for ARP")
}
