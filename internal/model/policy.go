package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Factor names as they appear in check-in methods and policy violations.
const (
	FactorWiFi   = "WiFi"
	FactorQR     = "QR"
	FactorGPS    = "GPS"
	FactorSelfie = "Selfie"
)

// AttendancePolicy holds the per-organization check-in admission policy.
// At least one factor is always effectively required: when none is enabled
// the selfie factor acts as the universal fallback.
type AttendancePolicy struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	OrgID          uint           `json:"org_id" gorm:"uniqueIndex;not null"`
	WiFiRequired   bool           `json:"wifi_required"`
	AllowedNetwork string         `json:"allowed_network" gorm:"size:100"` // CIDR prefix (e.g. 10.0.0.0/24) or SSID
	QRRequired     bool           `json:"qr_required"`
	QRSecret       string         `json:"-" gorm:"size:64"` // base32 TOTP secret for rotating QR codes
	GPSRequired    bool           `json:"gps_required"`
	GeofenceType   string         `json:"geofence_type" gorm:"size:20"`  // circle, polygon, or empty for none
	Geofence       JSONMap        `json:"geofence" gorm:"type:jsonb"`    // coordinates, shape depends on type
	SelfieRequired bool           `json:"selfie_required"`
	UpdatedBy      *uint          `json:"updated_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

// CircleGeofenceCoordinates for circle type geofence
// {
//   "center": {"lat": 39.9042, "lon": 116.4074},
//   "radius": 500
// }
type CircleGeofenceCoordinates struct {
	Center struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Radius float64 `json:"radius"` // in meters
}

// PolygonGeofenceCoordinates for polygon type geofence
// {
//   "points": [
//     {"lat": 39.9042, "lon": 116.4074},
//     ...
//   ]
// }
type PolygonGeofenceCoordinates struct {
	Points []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"points"`
}

// Location represents a GPS location point
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// JSONMap is a helper type for JSONB fields
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONB storage
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB storage
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSONMap")
	}
	return json.Unmarshal(data, m)
}

// StringList is a helper type for JSONB string arrays
type StringList []string

// Value implements driver.Valuer for JSONB storage
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner for JSONB storage
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for StringList")
	}
	return json.Unmarshal(data, l)
}
