package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Scan status lifecycle. A scan moves queued -> running -> one of the
// terminal states; terminal scans are never modified again.
const (
	ScanStatusQueued      = "queued"
	ScanStatusRunning     = "running"
	ScanStatusDone        = "done"
	ScanStatusError       = "error"
	ScanStatusInterrupted = "interrupted"
)

// Device presence states.
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
)

// MACUnknown marks a host that responded to discovery but whose hardware
// address could not be resolved.
const MACUnknown = "unknown"

// IsTerminalScanStatus reports whether a scan status is terminal.
func IsTerminalScanStatus(status string) bool {
	switch status {
	case ScanStatusDone, ScanStatusError, ScanStatusInterrupted:
		return true
	}
	return false
}

// IPAddr wraps net.IP to implement PostgreSQL INET type.
type IPAddr struct {
	net.IP
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		parsed := net.ParseIP(v)
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", v)
		}
		ip.IP = parsed
		return nil
	case []byte:
		parsed := net.ParseIP(string(v))
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", string(v))
		}
		ip.IP = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip.IP == nil {
		return nil, nil
	}
	return ip.IP.String(), nil
}

// String returns the IP address string.
func (ip IPAddr) String() string {
	if ip.IP == nil {
		return ""
	}
	return ip.IP.String()
}

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// PortEntry is one open port observed on a host.
type PortEntry struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
}

// PortList is the explicit open_ports encoding: a JSON array of
// {port, protocol, service} records stored in a JSONB column.
type PortList []PortEntry

// Scan implements sql.Scanner for the JSONB-encoded port list.
func (p *PortList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PortList", value)
	}

	var entries []PortEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("failed to decode port list: %w", err)
	}
	*p = entries
	return nil
}

// Value implements driver.Valuer for the JSONB-encoded port list.
func (p PortList) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]PortEntry(p))
}

// Numbers returns just the port numbers, in list order.
func (p PortList) Numbers() []int {
	nums := make([]int, 0, len(p))
	for _, e := range p {
		nums = append(nums, e.Port)
	}
	return nums
}

// Scan represents one discovery run through its lifecycle.
type Scan struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Target       string     `db:"target" json:"target"`
	ScanType     string     `db:"scan_type" json:"scan_type"`
	Options      JSONB      `db:"options" json:"options,omitempty"`
	Status       string     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// ScanResult is one host observed during one scan. Immutable after insert.
type ScanResult struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ScanID    uuid.UUID `db:"scan_id" json:"scan_id"`
	IP        IPAddr    `db:"ip" json:"ip"`
	MAC       *string   `db:"mac" json:"mac,omitempty"`
	Hostname  *string   `db:"hostname" json:"hostname,omitempty"`
	OpenPorts PortList  `db:"open_ports" json:"open_ports"`
	OS        *string   `db:"os" json:"os,omitempty"`
	FirstSeen time.Time `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}

// ScheduleDefinition is a recurring scan policy.
type ScheduleDefinition struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Name            string     `db:"name" json:"name" validate:"required"`
	ScanType        string     `db:"scan_type" json:"scan_type" validate:"required,oneof=arp ping tcp-syn"`
	Target          string     `db:"target" json:"target" validate:"required"`
	IntervalSeconds int        `db:"interval_seconds" json:"interval_seconds" validate:"gt=0"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	LastRunAt       *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
}

// Interval returns the schedule interval as a duration.
func (s *ScheduleDefinition) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ClassificationRule maps observed host evidence to a device type.
// Rules are evaluated by ascending (priority, name).
type ClassificationRule struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	PatternHostname *string       `db:"pattern_hostname" json:"pattern_hostname,omitempty"`
	PatternVendor   *string       `db:"pattern_vendor" json:"pattern_vendor,omitempty"`
	Ports           pq.Int64Array `db:"ports" json:"ports"`
	DeviceType      string        `db:"device_type" json:"device_type"`
	Icon            string        `db:"icon" json:"icon"`
	Priority        int           `db:"priority" json:"priority"`
	IsBuiltin       bool          `db:"is_builtin" json:"is_builtin"`
}

// Device is a reconciled LAN asset tracked across scans.
type Device struct {
	ID          uuid.UUID `db:"id" json:"id"`
	IP          IPAddr    `db:"ip" json:"ip"`
	MAC         *string   `db:"mac" json:"mac,omitempty"`
	Hostname    *string   `db:"hostname" json:"hostname,omitempty"`
	DisplayName *string   `db:"display_name" json:"display_name,omitempty"`
	Vendor      *string   `db:"vendor" json:"vendor,omitempty"`
	DeviceType  *string   `db:"device_type" json:"device_type,omitempty"`
	Icon        *string   `db:"icon" json:"icon,omitempty"`
	OpenPorts   PortList  `db:"open_ports" json:"open_ports"`
	Status      string    `db:"status" json:"status"`
	FirstSeen   time.Time `db:"first_seen" json:"first_seen"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
}

// DeviceStatusHistory records one presence transition of a device.
type DeviceStatusHistory struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DeviceID  uuid.UUID `db:"device_id" json:"device_id"`
	Status    string    `db:"status" json:"status"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}
