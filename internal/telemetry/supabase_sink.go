package telemetry

import (
	"fmt"
	"os"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseSink persists telemetry into per-kind tables (battery_levels,
// gps_positions, device_states, device_logs, blade_resets) via the
// Supabase REST API.
type SupabaseSink struct {
	client *supabase.Client
}

// NewSupabaseSink builds a sink from SUPABASE_URL/SUPABASE_SERVICE_KEY.
func NewSupabaseSink() (*SupabaseSink, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")
	if url == "" || key == "" {
		return nil, fmt.Errorf("telemetry: SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("telemetry: create supabase client: %w", err)
	}
	return &SupabaseSink{client: client}, nil
}

type batteryLevelRow struct {
	DeviceID string    `json:"device_id"`
	Percent  float64   `json:"percent"`
	Ts       time.Time `json:"ts"`
}

type gpsPositionRow struct {
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Ts        time.Time `json:"ts"`
}

type deviceStateRow struct {
	DeviceID  string    `json:"device_id"`
	StateName string    `json:"state_name"`
	Ts        time.Time `json:"ts"`
}

type deviceLogRow struct {
	DeviceID  string    `json:"device_id"`
	Severity  string    `json:"severity"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Ts        time.Time `json:"ts"`
}

type bladeResetRow struct {
	DeviceID string    `json:"device_id"`
	Ts       time.Time `json:"ts"`
}

func (s *SupabaseSink) RecordBattery(deviceID string, percent float64, ts time.Time) error {
	row := batteryLevelRow{DeviceID: deviceID, Percent: percent, Ts: ts}
	var result []batteryLevelRow
	_, err := s.client.From("battery_levels").Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("telemetry: insert battery_levels: %w", err)
	}
	return nil
}

func (s *SupabaseSink) RecordPosition(deviceID string, latitude, longitude float64, ts time.Time) error {
	row := gpsPositionRow{DeviceID: deviceID, Latitude: latitude, Longitude: longitude, Ts: ts}
	var result []gpsPositionRow
	_, err := s.client.From("gps_positions").Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("telemetry: insert gps_positions: %w", err)
	}
	return nil
}

func (s *SupabaseSink) RecordState(deviceID, stateName string, ts time.Time) error {
	row := deviceStateRow{DeviceID: deviceID, StateName: stateName, Ts: ts}
	var result []deviceStateRow
	_, err := s.client.From("device_states").Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("telemetry: insert device_states: %w", err)
	}
	return nil
}

func (s *SupabaseSink) RecordLog(deviceID string, severity Severity, eventType, message string, ts time.Time) error {
	row := deviceLogRow{DeviceID: deviceID, Severity: string(severity), EventType: eventType, Message: message, Ts: ts}
	var result []deviceLogRow
	_, err := s.client.From("device_logs").Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("telemetry: insert device_logs: %w", err)
	}
	return nil
}

func (s *SupabaseSink) RecordBladeReset(deviceID string, ts time.Time) error {
	row := bladeResetRow{DeviceID: deviceID, Ts: ts}
	var result []bladeResetRow
	_, err := s.client.From("blade_resets").Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("telemetry: insert blade_resets: %w", err)
	}
	return nil
}
