// Package devices reconciles scan observations into the long-lived
// device inventory. Hosts are matched to known devices by hardware
// address first and IP second, classified, and tracked through
// online/offline presence transitions with history and notifications.
package devices

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lanscout/lanscout/internal/classify"
	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/metrics"
)

// Store is the device persistence surface. *db.DB satisfies it.
type Store interface {
	FindDeviceByMAC(ctx context.Context, mac string) (*db.Device, error)
	FindDeviceByIP(ctx context.Context, ip db.IPAddr) (*db.Device, error)
	InsertDevice(ctx context.Context, device *db.Device) error
	UpdateDeviceSighting(ctx context.Context, device *db.Device) error
	MarkDevicesOfflineBefore(ctx context.Context, cutoff time.Time) ([]*db.Device, error)
	InsertStatusHistory(ctx context.Context, deviceID uuid.UUID, status string, changedAt time.Time) error
}

// Classifier maps host evidence to a device type and icon.
// *classify.Engine satisfies it.
type Classifier interface {
	Classify(ctx context.Context, hostname, vendor string, ports []int) (deviceType, icon string)
}

// Publisher emits presence events. *notify.Notifier satisfies it.
type Publisher interface {
	DeviceOnline(device *db.Device)
	DeviceOffline(device *db.Device)
}

// Observation is one host sighting from a finished scan.
type Observation struct {
	IP        string
	MAC       string
	Hostname  string
	OpenPorts db.PortList
	SeenAt    time.Time
}

// Service reconciles observations against the device inventory.
type Service struct {
	store      Store
	classifier Classifier
	publisher  Publisher
	log        *logging.Logger
}

// NewService creates a reconciliation service.
func NewService(store Store, classifier Classifier, publisher Publisher) *Service {
	return &Service{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		log:        logging.Default().WithComponent("devices"),
	}
}

// ReconcileBatch reconciles every observation from a scan. Individual
// failures are logged and skipped so one bad host doesn't lose the rest
// of the batch.
func (s *Service) ReconcileBatch(ctx context.Context, observations []Observation) {
	for i := range observations {
		if err := ctx.Err(); err != nil {
			return
		}
		if _, err := s.Reconcile(ctx, &observations[i]); err != nil {
			s.log.Error("Failed to reconcile device", "ip", observations[i].IP, "error", err)
		}
	}
}

// Reconcile matches one observation to a known device, by MAC when
// resolved and by IP otherwise, and inserts or refreshes it. New devices
// and offline devices coming back both record an online transition.
func (s *Service) Reconcile(ctx context.Context, obs *Observation) (*db.Device, error) {
	seenAt := obs.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	existing, err := s.findExisting(ctx, obs)
	if err != nil {
		return nil, err
	}

	vendor := classify.VendorFromMAC(obs.MAC)
	if vendor == "" && existing != nil && existing.Vendor != nil {
		vendor = *existing.Vendor
	}
	hostname := obs.Hostname
	if hostname == "" && existing != nil && existing.Hostname != nil {
		hostname = *existing.Hostname
	}
	deviceType, icon := s.classifier.Classify(ctx, hostname, vendor, obs.OpenPorts.Numbers())

	if existing == nil {
		device := &db.Device{
			ID:         uuid.New(),
			IP:         ipAddr(obs.IP),
			MAC:        optional(normalizeMAC(obs.MAC)),
			Hostname:   optional(hostname),
			Vendor:     optional(vendor),
			DeviceType: &deviceType,
			Icon:       &icon,
			OpenPorts:  obs.OpenPorts,
			Status:     db.DeviceStatusOnline,
			FirstSeen:  seenAt,
			LastSeen:   seenAt,
		}
		if err := s.store.InsertDevice(ctx, device); err != nil {
			return nil, err
		}
		s.recordTransition(ctx, device, db.DeviceStatusOnline, seenAt)
		s.log.Info("New device discovered", "ip", obs.IP, "type", deviceType)
		return device, nil
	}

	cameOnline := existing.Status == db.DeviceStatusOffline
	existing.IP = ipAddr(obs.IP)
	if mac := normalizeMAC(obs.MAC); mac != "" {
		existing.MAC = &mac
	}
	existing.Hostname = optional(hostname)
	existing.Vendor = optional(vendor)
	existing.DeviceType = &deviceType
	existing.Icon = &icon
	existing.OpenPorts = obs.OpenPorts
	existing.Status = db.DeviceStatusOnline
	existing.LastSeen = seenAt

	if err := s.store.UpdateDeviceSighting(ctx, existing); err != nil {
		return nil, err
	}
	if cameOnline {
		s.recordTransition(ctx, existing, db.DeviceStatusOnline, seenAt)
	}
	return existing, nil
}

// MarkOfflineBefore flips devices not seen since the cutoff to offline,
// recording the transition for each. Returns how many went offline.
func (s *Service) MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int, error) {
	flipped, err := s.store.MarkDevicesOfflineBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, device := range flipped {
		s.recordTransition(ctx, device, db.DeviceStatusOffline, now)
		s.log.Info("Device went offline", "ip", device.IP.String())
	}
	return len(flipped), nil
}

// recordTransition appends history and publishes the presence event.
// Both are best effort.
func (s *Service) recordTransition(ctx context.Context, device *db.Device, status string, at time.Time) {
	if err := s.store.InsertStatusHistory(ctx, device.ID, status, at); err != nil {
		s.log.Error("Failed to record status history", "device", device.ID.String(), "error", err)
	}
	metrics.GetGlobalMetrics().IncrementDeviceTransitions(status)

	if s.publisher == nil {
		return
	}
	switch status {
	case db.DeviceStatusOnline:
		s.publisher.DeviceOnline(device)
	case db.DeviceStatusOffline:
		s.publisher.DeviceOffline(device)
	}
}

// findExisting looks a device up by resolved MAC first, falling back to
// IP so hosts without a hardware address still reconcile.
func (s *Service) findExisting(ctx context.Context, obs *Observation) (*db.Device, error) {
	if mac := normalizeMAC(obs.MAC); mac != "" {
		device, err := s.store.FindDeviceByMAC(ctx, mac)
		if err != nil {
			return nil, err
		}
		if device != nil {
			return device, nil
		}
	}
	return s.store.FindDeviceByIP(ctx, ipAddr(obs.IP))
}

// normalizeMAC treats the unresolved marker as absent.
func normalizeMAC(mac string) string {
	if mac == db.MACUnknown {
		return ""
	}
	return mac
}

func ipAddr(ip string) db.IPAddr {
	return db.IPAddr{IP: net.ParseIP(ip)}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
