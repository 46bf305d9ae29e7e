package devices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
)

// fakeStore is an in-memory device store recording calls.
type fakeStore struct {
	byMAC    map[string]*db.Device
	byIP     map[string]*db.Device
	inserted []*db.Device
	updated  []*db.Device
	history  []string
	offline  []*db.Device
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byMAC: make(map[string]*db.Device),
		byIP:  make(map[string]*db.Device),
	}
}

func (f *fakeStore) FindDeviceByMAC(_ context.Context, mac string) (*db.Device, error) {
	return f.byMAC[mac], nil
}

func (f *fakeStore) FindDeviceByIP(_ context.Context, ip db.IPAddr) (*db.Device, error) {
	return f.byIP[ip.String()], nil
}

func (f *fakeStore) InsertDevice(_ context.Context, device *db.Device) error {
	f.inserted = append(f.inserted, device)
	return nil
}

func (f *fakeStore) UpdateDeviceSighting(_ context.Context, device *db.Device) error {
	f.updated = append(f.updated, device)
	return nil
}

func (f *fakeStore) MarkDevicesOfflineBefore(_ context.Context, _ time.Time) ([]*db.Device, error) {
	return f.offline, nil
}

func (f *fakeStore) InsertStatusHistory(_ context.Context, _ uuid.UUID, status string, _ time.Time) error {
	f.history = append(f.history, status)
	return nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(_ context.Context, _, _ string, _ []int) (string, string) {
	return "Server", "server"
}

type fakePublisher struct {
	online  []*db.Device
	offline []*db.Device
}

func (f *fakePublisher) DeviceOnline(d *db.Device)  { f.online = append(f.online, d) }
func (f *fakePublisher) DeviceOffline(d *db.Device) { f.offline = append(f.offline, d) }

func TestReconcileNewDevice(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	svc := NewService(store, fakeClassifier{}, publisher)

	device, err := svc.Reconcile(context.Background(), &Observation{
		IP:        "192.168.1.10",
		MAC:       "b8:27:eb:00:11:22",
		Hostname:  "pi-hole",
		OpenPorts: db.PortList{{Port: 53, Protocol: "tcp", Service: "DNS"}},
	})
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, db.DeviceStatusOnline, device.Status)
	assert.Equal(t, "Server", *device.DeviceType)
	require.NotNil(t, device.Vendor)
	assert.Equal(t, "Raspberry Pi Foundation", *device.Vendor, "vendor should come from the OUI table")
	assert.Equal(t, []string{db.DeviceStatusOnline}, store.history, "a new device records an online transition")
	assert.Len(t, publisher.online, 1, "a new device publishes an online event")
	assert.False(t, device.FirstSeen.IsZero())
}

func TestReconcileMatchesByMAC(t *testing.T) {
	store := newFakeStore()
	existing := &db.Device{
		ID:     uuid.New(),
		IP:     db.IPAddr{},
		Status: db.DeviceStatusOnline,
	}
	mac := "aa:bb:cc:dd:ee:ff"
	existing.MAC = &mac
	store.byMAC[mac] = existing

	svc := NewService(store, fakeClassifier{}, nil)
	device, err := svc.Reconcile(context.Background(), &Observation{
		IP:  "192.168.1.99", // IP changed since last sighting
		MAC: mac,
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, device.ID, "MAC match should win over IP")
	require.Len(t, store.updated, 1)
	assert.Empty(t, store.inserted)
	assert.Equal(t, "192.168.1.99", device.IP.String())
	assert.Empty(t, store.history, "an already-online device records no transition")
}

func TestReconcileFallsBackToIP(t *testing.T) {
	store := newFakeStore()
	existing := &db.Device{ID: uuid.New(), Status: db.DeviceStatusOnline}
	store.byIP["192.168.1.20"] = existing

	svc := NewService(store, fakeClassifier{}, nil)
	device, err := svc.Reconcile(context.Background(), &Observation{
		IP:  "192.168.1.20",
		MAC: db.MACUnknown,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, device.ID, "unresolved MAC should match by IP")
}

func TestReconcileOfflineDeviceComesBack(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	existing := &db.Device{ID: uuid.New(), Status: db.DeviceStatusOffline}
	store.byIP["192.168.1.30"] = existing

	svc := NewService(store, fakeClassifier{}, publisher)
	device, err := svc.Reconcile(context.Background(), &Observation{IP: "192.168.1.30"})
	require.NoError(t, err)

	assert.Equal(t, db.DeviceStatusOnline, device.Status)
	assert.Equal(t, []string{db.DeviceStatusOnline}, store.history)
	assert.Len(t, publisher.online, 1, "coming back online publishes an event")
}

func TestMarkOfflineBefore(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	store.offline = []*db.Device{
		{ID: uuid.New(), Status: db.DeviceStatusOffline},
		{ID: uuid.New(), Status: db.DeviceStatusOffline},
	}

	svc := NewService(store, fakeClassifier{}, publisher)
	count, err := svc.MarkOfflineBefore(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{db.DeviceStatusOffline, db.DeviceStatusOffline}, store.history)
	assert.Len(t, publisher.offline, 2)
}

func TestReconcileBatchSurvivesContextCancel(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, fakeClassifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.ReconcileBatch(ctx, []Observation{{IP: "192.168.1.1"}})
	assert.Empty(t, store.inserted, "a canceled context stops the batch")
}

func TestNormalizeMAC(t *testing.T) {
	assert.Empty(t, normalizeMAC(db.MACUnknown))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", normalizeMAC("aa:bb:cc:dd:ee:ff"))
}
