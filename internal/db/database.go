// Package db provides database connectivity and data models for lanscout.
// It handles schema migrations and the persistence of scans, scan results,
// schedules, classification rules and reconciled devices.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/logging"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// DB wraps sqlx.DB with the lanscout repository surface.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host" validate:"required"`
	Port            int           `yaml:"port" json:"port" validate:"gt=0"`
	Database        string        `yaml:"database" json:"database" validate:"required"`
	Username        string        `yaml:"username" json:"username" validate:"required"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Connect establishes a connection to PostgreSQL. Returned errors are
// sanitized so DSN details and credentials never reach logs.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	sdb, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	sdb.SetMaxOpenConns(config.MaxOpenConns)
	sdb.SetMaxIdleConns(config.MaxIdleConns)
	sdb.SetConnMaxLifetime(config.ConnMaxLifetime)
	sdb.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := sdb.PingContext(ctx); err != nil {
		if closeErr := sdb.Close(); closeErr != nil {
			logging.ErrorDatabase("Failed to close database connection after ping failure", closeErr)
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to database", "host", config.Host, "database", config.Database)
	return &DB{DB: sdb}, nil
}

// NewFromSQL wraps an existing sql.DB. Used by tests with sqlmock.
func NewFromSQL(sdb *sql.DB) *DB {
	return &DB{DB: sqlx.NewDb(sdb, "postgres")}
}

// sanitizeDBError converts raw database errors into coded errors that
// don't expose SQL details to callers. The original error stays in Cause.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "resource not found")
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "required field is missing")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "database operation was canceled")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "database connection error")
		default:
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery,
				fmt.Sprintf("database operation failed: %s", operation))
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery,
		fmt.Sprintf("database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

// --- Scans ---

// CreateScan inserts a new scan row. Zero-value ID, status and created_at
// are filled in.
func (d *DB) CreateScan(ctx context.Context, scan *Scan) error {
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.Status == "" {
		scan.Status = ScanStatusQueued
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scans (id, target, scan_type, options, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := d.ExecContext(ctx, query,
		scan.ID, scan.Target, scan.ScanType, scan.Options, scan.Status, scan.CreatedAt)
	return sanitizeDBError("create scan", err)
}

// GetScan fetches a scan by ID.
func (d *DB) GetScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	query := `
		SELECT id, target, scan_type, options, status,
		       created_at, started_at, finished_at, error_message
		FROM scans WHERE id = $1
	`
	if err := d.GetContext(ctx, &scan, query, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// NextQueuedScan returns the oldest queued scan, or nil when the queue
// is empty.
func (d *DB) NextQueuedScan(ctx context.Context) (*Scan, error) {
	var scan Scan
	query := `
		SELECT id, target, scan_type, options, status,
		       created_at, started_at, finished_at, error_message
		FROM scans
		WHERE status = $1
		ORDER BY created_at
		LIMIT 1
	`
	err := d.GetContext(ctx, &scan, query, ScanStatusQueued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError("next queued scan", err)
	}
	return &scan, nil
}

// MarkScanRunning transitions a queued scan to running, stamping
// started_at and clearing any stale error message.
func (d *DB) MarkScanRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE scans
		SET status = $2, started_at = $3, error_message = NULL
		WHERE id = $1 AND status = $4
	`
	res, err := d.ExecContext(ctx, query, id, ScanStatusRunning, startedAt, ScanStatusQueued)
	if err != nil {
		return sanitizeDBError("mark scan running", err)
	}
	return d.checkTransition(ctx, id, res)
}

// CompleteScan transitions a running scan to done.
func (d *DB) CompleteScan(ctx context.Context, id uuid.UUID, finishedAt time.Time) error {
	query := `
		UPDATE scans SET status = $2, finished_at = $3
		WHERE id = $1 AND status = $4
	`
	res, err := d.ExecContext(ctx, query, id, ScanStatusDone, finishedAt, ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("complete scan", err)
	}
	return d.checkTransition(ctx, id, res)
}

// FailScan transitions a running scan to error with a failure description.
func (d *DB) FailScan(ctx context.Context, id uuid.UUID, finishedAt time.Time, message string) error {
	query := `
		UPDATE scans SET status = $2, finished_at = $3, error_message = $4
		WHERE id = $1 AND status = $5
	`
	res, err := d.ExecContext(ctx, query, id, ScanStatusError, finishedAt, message, ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("fail scan", err)
	}
	return d.checkTransition(ctx, id, res)
}

// CancelScan transitions a queued or running scan to interrupted with a
// cancellation reason. Cancelling a terminal scan is rejected.
func (d *DB) CancelScan(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE scans SET status = $2, finished_at = $3, error_message = $4
		WHERE id = $1 AND status IN ($5, $6)
	`
	res, err := d.ExecContext(ctx, query,
		id, ScanStatusInterrupted, time.Now().UTC(), reason, ScanStatusQueued, ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("cancel scan", err)
	}
	return d.checkTransition(ctx, id, res)
}

// checkTransition inspects a guarded status update that matched no rows
// and reports whether the scan is missing or already terminal.
func (d *DB) checkTransition(ctx context.Context, id uuid.UUID, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return sanitizeDBError("check transition", err)
	}
	if affected > 0 {
		return nil
	}

	scan, err := d.GetScan(ctx, id)
	if err != nil {
		return err
	}
	return errors.ErrScanTerminal(id.String(), scan.Status)
}

// --- Scan results ---

// InsertScanResult inserts one observed host for a scan.
func (d *DB) InsertScanResult(ctx context.Context, result *ScanResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}

	query := `
		INSERT INTO scan_results (id, scan_id, ip, mac, hostname, open_ports, os, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := d.ExecContext(ctx, query,
		result.ID, result.ScanID, result.IP, result.MAC, result.Hostname,
		result.OpenPorts, result.OS, result.FirstSeen, result.LastSeen)
	return sanitizeDBError("insert scan result", err)
}

// ScanResults returns the results of a scan ordered by IP.
func (d *DB) ScanResults(ctx context.Context, scanID uuid.UUID) ([]*ScanResult, error) {
	var results []*ScanResult
	query := `
		SELECT id, scan_id, ip, mac, hostname, open_ports, os, first_seen, last_seen
		FROM scan_results WHERE scan_id = $1 ORDER BY ip
	`
	if err := d.SelectContext(ctx, &results, query, scanID); err != nil {
		return nil, sanitizeDBError("scan results", err)
	}
	return results, nil
}

// --- Schedules ---

// CreateSchedule inserts a new schedule definition.
func (d *DB) CreateSchedule(ctx context.Context, sched *ScheduleDefinition) error {
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}

	query := `
		INSERT INTO scan_schedules (id, name, scan_type, target, interval_seconds, enabled, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := d.ExecContext(ctx, query,
		sched.ID, sched.Name, sched.ScanType, sched.Target,
		sched.IntervalSeconds, sched.Enabled, sched.LastRunAt, sched.NextRunAt)
	return sanitizeDBError("create schedule", err)
}

// ListSchedules returns all schedule definitions ordered by name.
func (d *DB) ListSchedules(ctx context.Context) ([]*ScheduleDefinition, error) {
	var schedules []*ScheduleDefinition
	query := `
		SELECT id, name, scan_type, target, interval_seconds, enabled, last_run_at, next_run_at
		FROM scan_schedules ORDER BY name
	`
	if err := d.SelectContext(ctx, &schedules, query); err != nil {
		return nil, sanitizeDBError("list schedules", err)
	}
	return schedules, nil
}

// DueSchedules returns every enabled schedule whose next run time is
// unset or has passed.
func (d *DB) DueSchedules(ctx context.Context, now time.Time) ([]*ScheduleDefinition, error) {
	var schedules []*ScheduleDefinition
	query := `
		SELECT id, name, scan_type, target, interval_seconds, enabled, last_run_at, next_run_at
		FROM scan_schedules
		WHERE enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY name
	`
	if err := d.SelectContext(ctx, &schedules, query, now); err != nil {
		return nil, sanitizeDBError("due schedules", err)
	}
	return schedules, nil
}

// AdvanceSchedule stamps the run that just fired and the next due time.
func (d *DB) AdvanceSchedule(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	query := `
		UPDATE scan_schedules SET last_run_at = $2, next_run_at = $3
		WHERE id = $1
	`
	_, err := d.ExecContext(ctx, query, id, lastRun, nextRun)
	return sanitizeDBError("advance schedule", err)
}

// --- Classification rules ---

// ListRules returns all classification rules in evaluation order.
func (d *DB) ListRules(ctx context.Context) ([]*ClassificationRule, error) {
	var rules []*ClassificationRule
	query := `
		SELECT id, name, pattern_hostname, pattern_vendor, ports, device_type, icon, priority, is_builtin
		FROM classification_rules
		ORDER BY priority ASC, name ASC
	`
	if err := d.SelectContext(ctx, &rules, query); err != nil {
		return nil, sanitizeDBError("list rules", err)
	}
	return rules, nil
}

// --- Devices ---

// FindDeviceByMAC returns the device with the given hardware address,
// or nil when unknown.
func (d *DB) FindDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	return d.findDevice(ctx, `mac = $1`, mac)
}

// FindDeviceByIP returns the device with the given address, or nil.
func (d *DB) FindDeviceByIP(ctx context.Context, ip IPAddr) (*Device, error) {
	return d.findDevice(ctx, `ip = $1`, ip)
}

func (d *DB) findDevice(ctx context.Context, where string, arg interface{}) (*Device, error) {
	var device Device
	query := `
		SELECT id, ip, mac, hostname, display_name, vendor, device_type, icon,
		       open_ports, status, first_seen, last_seen
		FROM devices WHERE ` + where
	err := d.GetContext(ctx, &device, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError("find device", err)
	}
	return &device, nil
}

// InsertDevice inserts a newly observed device.
func (d *DB) InsertDevice(ctx context.Context, device *Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	query := `
		INSERT INTO devices (id, ip, mac, hostname, display_name, vendor, device_type, icon,
		                     open_ports, status, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := d.ExecContext(ctx, query,
		device.ID, device.IP, device.MAC, device.Hostname, device.DisplayName,
		device.Vendor, device.DeviceType, device.Icon, device.OpenPorts,
		device.Status, device.FirstSeen, device.LastSeen)
	return sanitizeDBError("insert device", err)
}

// UpdateDeviceSighting refreshes a device after it was observed in a scan.
func (d *DB) UpdateDeviceSighting(ctx context.Context, device *Device) error {
	query := `
		UPDATE devices
		SET ip = $2, mac = $3, hostname = $4, vendor = $5, device_type = $6, icon = $7,
		    open_ports = $8, status = $9, last_seen = $10
		WHERE id = $1
	`
	_, err := d.ExecContext(ctx, query,
		device.ID, device.IP, device.MAC, device.Hostname, device.Vendor, device.DeviceType,
		device.Icon, device.OpenPorts, device.Status, device.LastSeen)
	return sanitizeDBError("update device sighting", err)
}

// MarkDevicesOfflineBefore flips every online device whose last sighting
// predates the cutoff to offline and returns the affected devices.
func (d *DB) MarkDevicesOfflineBefore(ctx context.Context, cutoff time.Time) ([]*Device, error) {
	var devices []*Device
	query := `
		UPDATE devices SET status = $1
		WHERE status = $2 AND last_seen < $3
		RETURNING id, ip, mac, hostname, display_name, vendor, device_type, icon,
		          open_ports, status, first_seen, last_seen
	`
	if err := d.SelectContext(ctx, &devices, query, DeviceStatusOffline, DeviceStatusOnline, cutoff); err != nil {
		return nil, sanitizeDBError("mark devices offline", err)
	}
	return devices, nil
}

// InsertStatusHistory appends a presence transition record.
func (d *DB) InsertStatusHistory(ctx context.Context, deviceID uuid.UUID, status string, changedAt time.Time) error {
	query := `
		INSERT INTO device_status_history (id, device_id, status, changed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := d.ExecContext(ctx, query, uuid.New(), deviceID, status, changedAt)
	return sanitizeDBError("insert status history", err)
}
