// Package notify publishes device presence events to an MQTT broker.
// Delivery is best effort: a missing broker disables publishing, and
// publish failures are logged and counted but never fail a scan.
package notify

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/metrics"
)

const (
	defaultBaseTopic      = "lanscout"
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

// Config holds MQTT notifier settings. An empty Broker disables the
// notifier entirely.
type Config struct {
	Broker    string `yaml:"broker" json:"broker"`
	ClientID  string `yaml:"client_id" json:"client_id"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	BaseTopic string `yaml:"base_topic" json:"base_topic"`
	QoS       byte   `yaml:"qos" json:"qos"`
}

// DefaultConfig returns the default notifier configuration, with no
// broker configured.
func DefaultConfig() Config {
	return Config{
		ClientID:  "lanscout",
		BaseTopic: defaultBaseTopic,
	}
}

// presenceEvent is the JSON payload published on device transitions.
type presenceEvent struct {
	ID         string `json:"id"`
	IP         string `json:"ip"`
	MAC        string `json:"mac,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
}

// Notifier publishes presence events. A zero-broker notifier is a no-op.
type Notifier struct {
	cfg    Config
	client mqtt.Client
	log    *logging.Logger
}

// New creates a notifier. Connect must be called before publishing; a
// notifier with no broker configured skips connection and publishes
// nothing.
func New(cfg Config) *Notifier {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = defaultBaseTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lanscout"
	}
	return &Notifier{
		cfg: cfg,
		log: logging.Default().WithComponent("notify"),
	}
}

// Enabled reports whether a broker is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.Broker != ""
}

// Connect establishes the broker session. Disabled notifiers return nil
// immediately.
func (n *Notifier) Connect() error {
	if !n.Enabled() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(n.cfg.Broker).
		SetClientID(n.cfg.ClientID).
		SetConnectTimeout(defaultConnectTimeout).
		SetAutoReconnect(true)
	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(n.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return errors.WrapNotifyError("broker connection timed out", n.cfg.Broker, nil)
	}
	if err := token.Error(); err != nil {
		return errors.WrapNotifyError("failed to connect to broker", n.cfg.Broker, err)
	}

	n.client = client
	n.log.Info("Connected to MQTT broker", "broker", n.cfg.Broker)
	return nil
}

// Close tears down the broker session.
func (n *Notifier) Close() {
	if n.client != nil {
		n.client.Disconnect(250)
		n.client = nil
	}
}

// DeviceOnline publishes an online event for a device.
func (n *Notifier) DeviceOnline(device *db.Device) {
	n.publish("device/online", device, db.DeviceStatusOnline)
}

// DeviceOffline publishes an offline event for a device.
func (n *Notifier) DeviceOffline(device *db.Device) {
	n.publish("device/offline", device, db.DeviceStatusOffline)
}

func (n *Notifier) publish(subtopic string, device *db.Device, status string) {
	if n.client == nil {
		return
	}

	event := presenceEvent{
		ID:        device.ID.String(),
		IP:        device.IP.String(),
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if device.MAC != nil {
		event.MAC = *device.MAC
	}
	if device.Hostname != nil {
		event.Hostname = *device.Hostname
	}
	if device.DeviceType != nil {
		event.DeviceType = *device.DeviceType
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("Failed to encode presence event", "error", err)
		return
	}

	topic := n.cfg.BaseTopic + "/" + subtopic
	token := n.client.Publish(topic, n.cfg.QoS, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
		metrics.GetGlobalMetrics().IncrementNotifyFailures()
		n.log.Warn("Failed to publish presence event", "topic", topic, "error", token.Error())
	}
}
