package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
)

func TestExpandTargetSingleAddresses(t *testing.T) {
	e := NewEngine(DefaultConfig())

	ips := e.expandTarget("192.168.1.10 192.168.1.20")
	assert.Equal(t, []string{"192.168.1.10", "192.168.1.20"}, ips)
}

func TestExpandTargetCIDR(t *testing.T) {
	e := NewEngine(DefaultConfig())

	ips := e.expandTarget("192.168.1.0/30")
	// Network and broadcast addresses are excluded.
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2"}, ips)
}

func TestExpandTargetSlash31(t *testing.T) {
	e := NewEngine(DefaultConfig())

	ips := e.expandTarget("10.0.0.0/31")
	assert.Equal(t, []string{"10.0.0.0", "10.0.0.1"}, ips,
		"point-to-point networks have no network or broadcast address")
}

func TestExpandTargetSlash24Count(t *testing.T) {
	e := NewEngine(DefaultConfig())

	ips := e.expandTarget("10.1.2.0/24")
	require.Len(t, ips, 254)
	assert.Equal(t, "10.1.2.1", ips[0])
	assert.Equal(t, "10.1.2.254", ips[len(ips)-1])
}

func TestExpandTargetSkipsBadSpecs(t *testing.T) {
	e := NewEngine(DefaultConfig())

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"invalid address", "not-an-ip 10.0.0.1", []string{"10.0.0.1"}},
		{"invalid cidr", "10.0.0.0/99 10.0.0.1", []string{"10.0.0.1"}},
		{"oversized network", "10.0.0.0/8 10.0.0.1", []string{"10.0.0.1"}},
		{"ipv6 network", "fd00::/64 10.0.0.1", []string{"10.0.0.1"}},
		{"ipv6 address", "fd00::1 10.0.0.1", []string{"10.0.0.1"}},
		{"empty target", "", nil},
		{"whitespace only", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.expandTarget(tt.target))
		})
	}
}

func TestExpandTargetDeduplicates(t *testing.T) {
	e := NewEngine(DefaultConfig())

	ips := e.expandTarget("10.0.0.1 10.0.0.0/30 10.0.0.1")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, ips)
}

func TestMergeHostsARPWins(t *testing.T) {
	arp := []Host{
		{IP: "10.0.0.1", MAC: "aa:aa:aa:aa:aa:aa"},
		{IP: "10.0.0.2", MAC: "bb:bb:bb:bb:bb:bb"},
	}
	ping := []Host{
		{IP: "10.0.0.1", MAC: "cc:cc:cc:cc:cc:cc"},
		{IP: "10.0.0.3", MAC: db.MACUnknown},
	}

	merged := mergeHosts(arp, ping)
	require.Len(t, merged, 3)

	byIP := make(map[string]string)
	for _, h := range merged {
		byIP[h.IP] = h.MAC
	}
	assert.Equal(t, "aa:aa:aa:aa:aa:aa", byIP["10.0.0.1"], "ARP MAC should win over fallback")
	assert.Equal(t, "bb:bb:bb:bb:bb:bb", byIP["10.0.0.2"])
	assert.Equal(t, db.MACUnknown, byIP["10.0.0.3"], "fallback-only hosts should be added")
}

func TestMergeHostsFallbackFillsUnknownMAC(t *testing.T) {
	arp := []Host{{IP: "10.0.0.5", MAC: db.MACUnknown}}
	ping := []Host{{IP: "10.0.0.5", MAC: "dd:dd:dd:dd:dd:dd"}}

	merged := mergeHosts(arp, ping)
	require.Len(t, merged, 1)
	assert.Equal(t, "dd:dd:dd:dd:dd:dd", merged[0].MAC,
		"a resolved fallback MAC should replace an unknown one")
}

func TestMergeHostsSorted(t *testing.T) {
	merged := mergeHosts(
		[]Host{{IP: "10.0.0.9", MAC: db.MACUnknown}},
		[]Host{{IP: "10.0.0.1", MAC: db.MACUnknown}},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "10.0.0.1", merged[0].IP)
}

func TestIncrementIP(t *testing.T) {
	ip := net.ParseIP("10.0.0.255").To4()
	incrementIP(ip)
	assert.Equal(t, "10.0.1.0", ip.String())
}

func TestEngineDefaults(t *testing.T) {
	e := NewEngine(Config{})
	assert.Equal(t, DefaultARPTimeout, e.cfg.ARPTimeout)
	assert.Equal(t, DefaultPingTimeout, e.cfg.PingTimeout)
	assert.Equal(t, DefaultPingConcurrency, e.cfg.PingConcurrency)
}
