package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
)

func TestNotifierDisabledWithoutBroker(t *testing.T) {
	n := New(Config{})
	assert.False(t, n.Enabled())
	require.NoError(t, n.Connect(), "connecting a disabled notifier is a no-op")

	// Publishing without a session must not panic.
	n.DeviceOnline(&db.Device{ID: uuid.New()})
	n.DeviceOffline(&db.Device{ID: uuid.New()})
	n.Close()
}

func TestNotifierEnabledWithBroker(t *testing.T) {
	n := New(Config{Broker: "tcp://localhost:1883"})
	assert.True(t, n.Enabled())
}

func TestNewFillsDefaults(t *testing.T) {
	n := New(Config{Broker: "tcp://localhost:1883"})
	assert.Equal(t, defaultBaseTopic, n.cfg.BaseTopic)
	assert.Equal(t, "lanscout", n.cfg.ClientID)
}

func TestPresenceEventPayload(t *testing.T) {
	mac := "aa:bb:cc:dd:ee:ff"
	hostname := "printer.lan"
	deviceType := "Printer"
	device := &db.Device{
		ID:         uuid.New(),
		MAC:        &mac,
		Hostname:   &hostname,
		DeviceType: &deviceType,
	}

	event := presenceEvent{
		ID:         device.ID.String(),
		IP:         device.IP.String(),
		MAC:        *device.MAC,
		Hostname:   *device.Hostname,
		DeviceType: *device.DeviceType,
		Status:     db.DeviceStatusOnline,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "online", decoded["status"])
	assert.Equal(t, mac, decoded["mac"])
	assert.Equal(t, "printer.lan", decoded["hostname"])
}
