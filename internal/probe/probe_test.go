package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePortSource struct {
	ports []int
}

func (f *fakePortSource) RulePorts(_ context.Context) []int {
	return f.ports
}

// listen opens a TCP listener on an ephemeral port and returns the port.
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ln, port
}

func TestLookupPortsUnion(t *testing.T) {
	p := New(&fakePortSource{ports: []int{9100, 80, 8123}})

	ports := p.LookupPorts(context.Background())
	assert.Contains(t, ports, 9100, "rule ports should be included")
	for _, baseline := range baselinePorts {
		assert.Contains(t, ports, baseline, "baseline ports should always be included")
	}
	assert.IsIncreasing(t, ports)

	counts := make(map[int]int)
	for _, port := range ports {
		counts[port]++
	}
	assert.Equal(t, 1, counts[80], "overlapping ports should be deduplicated")
}

func TestLookupPortsNilSource(t *testing.T) {
	p := New(nil)
	assert.Len(t, p.LookupPorts(context.Background()), len(baselinePorts))
}

func TestProbeFindsOpenPort(t *testing.T) {
	_, port := listen(t)

	p := New(nil)
	p.SetTimeout(500 * time.Millisecond)

	open := p.Probe(context.Background(), "127.0.0.1", []int{port})
	require.Len(t, open, 1)
	assert.Equal(t, port, open[0].Port)
	assert.Equal(t, "tcp", open[0].Protocol)
	assert.NotEmpty(t, open[0].Service)
}

func TestProbeClosedPortsAbsent(t *testing.T) {
	ln, openPort := listen(t)
	closedPort := openPort + 1
	_ = ln // keep the open listener alive

	p := New(nil)
	p.SetTimeout(200 * time.Millisecond)

	open := p.Probe(context.Background(), "127.0.0.1", []int{openPort, closedPort})
	require.Len(t, open, 1)
	assert.Equal(t, openPort, open[0].Port)
}

func TestProbeOrdersByPort(t *testing.T) {
	_, portA := listen(t)
	_, portB := listen(t)

	p := New(nil)
	p.SetTimeout(500 * time.Millisecond)

	open := p.Probe(context.Background(), "127.0.0.1", []int{portB, portA})
	require.Len(t, open, 2)
	assert.Less(t, open[0].Port, open[1].Port)
}

func TestProbeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(nil)
	open := p.Probe(ctx, "127.0.0.1", []int{80, 443})
	assert.Empty(t, open, "canceled context should admit no dials")
}

func TestServiceNameWellKnown(t *testing.T) {
	assert.Equal(t, "Home Assistant", ServiceName(8123))
	assert.Equal(t, "MQTT", ServiceName(1883))
	assert.Equal(t, "SSH", ServiceName(22))
}

func TestServiceNameUnknownPort(t *testing.T) {
	assert.Equal(t, "unknown", ServiceName(48912))
}

func TestSetConcurrencyIgnoresInvalid(t *testing.T) {
	p := New(nil)
	p.SetConcurrency(0)
	assert.Equal(t, int64(DefaultConcurrency), p.concurrency)
	p.SetConcurrency(10)
	assert.Equal(t, int64(10), p.concurrency)
}
