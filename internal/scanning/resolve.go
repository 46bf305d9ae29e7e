package scanning

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/lanscout/lanscout/internal/db"
)

const defaultDNSTimeout = 2 * time.Second

// PTRResolver resolves hostnames via reverse DNS queries. Lookups are
// best effort: any failure yields an empty hostname.
type PTRResolver struct {
	server  string
	client  *dns.Client
	timeout time.Duration
}

// NewPTRResolver creates a resolver against the given DNS server
// ("host:port"). An empty server uses the first nameserver from
// /etc/resolv.conf, or disables resolution when none is available.
func NewPTRResolver(server string, timeout time.Duration) *PTRResolver {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	if server == "" {
		if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
			server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
		}
	}
	return &PTRResolver{
		server:  server,
		client:  &dns.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// ReverseLookup returns the PTR name for an IP, without the trailing
// dot, or an empty string when there is none.
func (r *PTRResolver) ReverseLookup(ctx context.Context, ip string) string {
	if r.server == "" {
		return ""
	}

	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil || resp.Rcode != dns.RcodeSuccess {
		return ""
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

func ipAddr(ip string) db.IPAddr {
	return db.IPAddr{IP: net.ParseIP(ip)}
}
