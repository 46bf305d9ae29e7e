package db

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	require.NotNil(t, ip)
	return ip
}

func TestIsTerminalScanStatus(t *testing.T) {
	assert.True(t, IsTerminalScanStatus(ScanStatusDone))
	assert.True(t, IsTerminalScanStatus(ScanStatusError))
	assert.True(t, IsTerminalScanStatus(ScanStatusInterrupted))
	assert.False(t, IsTerminalScanStatus(ScanStatusQueued))
	assert.False(t, IsTerminalScanStatus(ScanStatusRunning))
}

func TestPortListRoundTrip(t *testing.T) {
	ports := PortList{
		{Port: 22, Protocol: "tcp", Service: "SSH"},
		{Port: 8123, Protocol: "tcp", Service: "Home Assistant"},
	}

	value, err := ports.Value()
	require.NoError(t, err)

	var decoded PortList
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, ports, decoded)
	assert.Equal(t, []int{22, 8123}, decoded.Numbers())
}

func TestPortListNilEncodesEmptyArray(t *testing.T) {
	var ports PortList
	value, err := ports.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), value)
}

func TestIPAddrScan(t *testing.T) {
	var addr IPAddr
	require.NoError(t, addr.Scan("192.168.1.1"))
	assert.Equal(t, "192.168.1.1", addr.String())

	require.Error(t, addr.Scan("not-an-ip"))
	require.Error(t, addr.Scan(42))
}
