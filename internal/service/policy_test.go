package service

import (
	"testing"

	"opencrm/api/internal/model"
)

func TestNormalizePolicy(t *testing.T) {
	t.Run("selfie is the fallback when no factor is enabled", func(t *testing.T) {
		policy := &model.AttendancePolicy{OrgID: 1}
		NormalizePolicy(policy)
		if !policy.SelfieRequired {
			t.Error("expected selfie required as fallback")
		}
	})

	t.Run("enabled factors are left untouched", func(t *testing.T) {
		policy := &model.AttendancePolicy{OrgID: 1, QRRequired: true}
		NormalizePolicy(policy)
		if policy.SelfieRequired {
			t.Error("selfie must not be forced when another factor is enabled")
		}
		if !policy.QRRequired {
			t.Error("normalization must not disable factors")
		}
	})
}

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  model.AttendancePolicy
		wantErr bool
	}{
		{
			name:    "missing org",
			policy:  model.AttendancePolicy{},
			wantErr: true,
		},
		{
			name:   "wifi with CIDR",
			policy: model.AttendancePolicy{OrgID: 1, WiFiRequired: true, AllowedNetwork: "10.0.0.0/24"},
		},
		{
			name:   "wifi with SSID",
			policy: model.AttendancePolicy{OrgID: 1, WiFiRequired: true, AllowedNetwork: "HQ-Office"},
		},
		{
			name:    "wifi with malformed prefix",
			policy:  model.AttendancePolicy{OrgID: 1, WiFiRequired: true, AllowedNetwork: "10.0.0.0/99"},
			wantErr: true,
		},
		{
			name:    "wifi without network",
			policy:  model.AttendancePolicy{OrgID: 1, WiFiRequired: true},
			wantErr: true,
		},
		{
			name: "gps with valid circle",
			policy: model.AttendancePolicy{
				OrgID:        1,
				GPSRequired:  true,
				GeofenceType: "circle",
				Geofence: model.JSONMap{
					"center": map[string]interface{}{"lat": 39.9, "lon": 116.4},
					"radius": 200.0,
				},
			},
		},
		{
			name: "gps with non-positive radius",
			policy: model.AttendancePolicy{
				OrgID:        1,
				GPSRequired:  true,
				GeofenceType: "circle",
				Geofence: model.JSONMap{
					"center": map[string]interface{}{"lat": 39.9, "lon": 116.4},
					"radius": 0.0,
				},
			},
			wantErr: true,
		},
		{
			name: "gps with degenerate polygon",
			policy: model.AttendancePolicy{
				OrgID:        1,
				GPSRequired:  true,
				GeofenceType: "polygon",
				Geofence: model.JSONMap{
					"points": []interface{}{
						map[string]interface{}{"lat": 0.0, "lon": 0.0},
						map[string]interface{}{"lat": 1.0, "lon": 1.0},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "gps without geofence is advisory capture",
			policy: model.AttendancePolicy{
				OrgID:       1,
				GPSRequired: true,
			},
		},
		{
			name: "unknown geofence type",
			policy: model.AttendancePolicy{
				OrgID:        1,
				GPSRequired:  true,
				GeofenceType: "rectangle",
				Geofence:     model.JSONMap{},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicy(&tt.policy)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
