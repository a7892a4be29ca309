// Package registry holds the provisioned-device table: which devices
// exist, their network port, and the identifying details supplied at
// provisioning time.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Device is one provisioned row.
type Device struct {
	DeviceID        string
	DisplayName     string
	Serial          string
	Port            int
	Vendor          string
	Model           string
	FirmwareVersion string
	ProvisionedAt   time.Time
}

// Provider is what the listener supervisor and action dispatcher depend
// on; Registry and MemoryProvider both satisfy it.
type Provider interface {
	ListProvisioned(ctx context.Context) ([]Device, error)
	Get(ctx context.Context, deviceID string) (*Device, error)
}

// Registry reads the provisioned-device table from Postgres.
type Registry struct {
	db *sql.DB
}

func Open(dataSourceName string) (*Registry, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("registry: ping database: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

const deviceColumns = `device_id, display_name, serial, port, vendor, model, firmware_version, provisioned_at`

func scanDevice(row *sql.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.DeviceID, &d.DisplayName, &d.Serial, &d.Port, &d.Vendor, &d.Model, &d.FirmwareVersion, &d.ProvisionedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListProvisioned returns every provisioned device.
func (r *Registry) ListProvisioned(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM provisioned_devices ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("registry: list provisioned devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.DisplayName, &d.Serial, &d.Port, &d.Vendor, &d.Model, &d.FirmwareVersion, &d.ProvisionedAt); err != nil {
			return nil, fmt.Errorf("registry: scan device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Get looks up a single device by id. Returns (nil, nil) if not provisioned.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM provisioned_devices WHERE device_id = $1", deviceID)
	d, err := scanDevice(row)
	if err != nil {
		return nil, fmt.Errorf("registry: get device %s: %w", deviceID, err)
	}
	return d, nil
}
