package service

import (
	"context"
	"reflect"
	"testing"

	"opencrm/api/internal/model"
)

type stubOracle struct {
	valid     bool
	err       error
	lastOrgID uint
	lastToken string
}

func (o *stubOracle) Validate(ctx context.Context, orgID uint, token string) (bool, error) {
	o.lastOrgID = orgID
	o.lastToken = token
	return o.valid, o.err
}

func floatPtr(v float64) *float64 { return &v }

func TestVerifyWiFi(t *testing.T) {
	t.Run("not required always passes", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: false}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "203.0.113.9"})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})

	t.Run("ip inside allowed CIDR passes", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true, AllowedNetwork: "10.0.0.0/24"}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "10.0.0.5"})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
		if res.Details["ip"] != "10.0.0.5" {
			t.Errorf("expected evaluated ip in details, got %v", res.Details["ip"])
		}
	})

	t.Run("ip outside allowed CIDR fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true, AllowedNetwork: "10.0.0.0/24"}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "192.168.1.20"})
		if res.Passed {
			t.Fatal("expected failure for out-of-network ip")
		}
		if res.Reason == "" {
			t.Error("expected a reason on failure")
		}
	})

	t.Run("ssid match passes when network is not a CIDR", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true, AllowedNetwork: "HQ-Office"}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "203.0.113.9", SSID: "HQ-Office"})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})

	t.Run("ssid mismatch fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true, AllowedNetwork: "HQ-Office"}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "203.0.113.9", SSID: "CoffeeShop"})
		if res.Passed {
			t.Fatal("expected failure for wrong ssid")
		}
	})

	t.Run("missing ssid fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true, AllowedNetwork: "HQ-Office"}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "203.0.113.9"})
		if res.Passed {
			t.Fatal("expected failure when no ssid reported")
		}
	})

	t.Run("required with no allowed network configured fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{WiFiRequired: true}
		res := VerifyWiFi(policy, &Evidence{ClientIP: "10.0.0.5"})
		if res.Passed {
			t.Fatal("expected failure with empty allowed network")
		}
	})
}

func TestVerifyGPS(t *testing.T) {
	circleFence := model.JSONMap{
		"center": map[string]interface{}{"lat": 39.9042, "lon": 116.4074},
		"radius": 500.0,
	}

	t.Run("not required always passes", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: false}
		res := VerifyGPS(policy, &Evidence{})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})

	t.Run("missing fix fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: true}
		res := VerifyGPS(policy, &Evidence{GPSCaptureError: "permission denied"})
		if res.Passed {
			t.Fatal("expected failure without coordinates")
		}
		if res.Reason != "location capture failed: permission denied" {
			t.Errorf("unexpected reason %q", res.Reason)
		}
	})

	t.Run("no geofence configured treats fix as sufficient", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: true}
		res := VerifyGPS(policy, &Evidence{Lat: floatPtr(39.9), Lon: floatPtr(116.4)})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})

	t.Run("inside circle passes", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: true, GeofenceType: "circle", Geofence: circleFence}
		res := VerifyGPS(policy, &Evidence{Lat: floatPtr(39.9042), Lon: floatPtr(116.4076)})
		if !res.Passed {
			t.Fatalf("expected pass inside fence, got reason %q", res.Reason)
		}
	})

	t.Run("outside circle fails", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: true, GeofenceType: "circle", Geofence: circleFence}
		res := VerifyGPS(policy, &Evidence{Lat: floatPtr(40.0), Lon: floatPtr(117.0)})
		if res.Passed {
			t.Fatal("expected failure outside fence")
		}
	})

	t.Run("poor accuracy never gates the decision", func(t *testing.T) {
		policy := &model.AttendancePolicy{GPSRequired: true, GeofenceType: "circle", Geofence: circleFence}
		res := VerifyGPS(policy, &Evidence{
			Lat:      floatPtr(39.9042),
			Lon:      floatPtr(116.4076),
			Accuracy: floatPtr(950),
		})
		if !res.Passed {
			t.Fatalf("expected pass despite poor accuracy, got reason %q", res.Reason)
		}
		if res.Details["accuracy"] != 950.0 {
			t.Errorf("expected accuracy recorded in details, got %v", res.Details["accuracy"])
		}
	})

	t.Run("polygon point-in-shape", func(t *testing.T) {
		policy := &model.AttendancePolicy{
			GPSRequired:  true,
			GeofenceType: "polygon",
			Geofence: model.JSONMap{
				"points": []interface{}{
					map[string]interface{}{"lat": 0.0, "lon": 0.0},
					map[string]interface{}{"lat": 0.0, "lon": 10.0},
					map[string]interface{}{"lat": 10.0, "lon": 10.0},
					map[string]interface{}{"lat": 10.0, "lon": 0.0},
				},
			},
		}

		inside := VerifyGPS(policy, &Evidence{Lat: floatPtr(5), Lon: floatPtr(5)})
		if !inside.Passed {
			t.Fatalf("expected point inside polygon to pass, got reason %q", inside.Reason)
		}
		outside := VerifyGPS(policy, &Evidence{Lat: floatPtr(15), Lon: floatPtr(5)})
		if outside.Passed {
			t.Fatal("expected point outside polygon to fail")
		}
	})
}

func TestVerifySelfie(t *testing.T) {
	t.Run("not required always passes", func(t *testing.T) {
		res := VerifySelfie(&model.AttendancePolicy{}, &Evidence{})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})

	t.Run("missing capture fails", func(t *testing.T) {
		res := VerifySelfie(&model.AttendancePolicy{SelfieRequired: true}, &Evidence{SelfieCaptureErr: "camera unavailable"})
		if res.Passed {
			t.Fatal("expected failure without selfie")
		}
		if res.Reason != "camera capture failed: camera unavailable" {
			t.Errorf("unexpected reason %q", res.Reason)
		}
	})

	t.Run("captured image passes", func(t *testing.T) {
		res := VerifySelfie(&model.AttendancePolicy{SelfieRequired: true}, &Evidence{Selfie: []byte{0xff, 0xd8}})
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})
}

func TestVerifyQR(t *testing.T) {
	ctx := context.Background()

	t.Run("not required skips the oracle", func(t *testing.T) {
		oracle := &stubOracle{}
		res, err := VerifyQR(ctx, &model.AttendancePolicy{}, &Evidence{QRToken: "12345678"}, oracle)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Passed {
			t.Fatal("expected pass when QR is not required")
		}
		if oracle.lastToken != "" {
			t.Error("oracle should not be consulted when QR is not required")
		}
	})

	t.Run("missing token fails without oracle call", func(t *testing.T) {
		oracle := &stubOracle{valid: true}
		res, err := VerifyQR(ctx, &model.AttendancePolicy{QRRequired: true, OrgID: 7}, &Evidence{}, oracle)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Passed {
			t.Fatal("expected failure without a scanned token")
		}
	})

	t.Run("invalid token fails", func(t *testing.T) {
		oracle := &stubOracle{valid: false}
		res, err := VerifyQR(ctx, &model.AttendancePolicy{QRRequired: true, OrgID: 7}, &Evidence{QRToken: "00000000"}, oracle)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Passed {
			t.Fatal("expected failure for invalid token")
		}
		if oracle.lastOrgID != 7 {
			t.Errorf("expected oracle called with org 7, got %d", oracle.lastOrgID)
		}
	})

	t.Run("valid token passes", func(t *testing.T) {
		oracle := &stubOracle{valid: true}
		res, err := VerifyQR(ctx, &model.AttendancePolicy{QRRequired: true, OrgID: 7}, &Evidence{QRToken: "12345678"}, oracle)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Passed {
			t.Fatalf("expected pass, got reason %q", res.Reason)
		}
	})
}

func TestRunVerifiers(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregates every failure without short-circuiting", func(t *testing.T) {
		policy := &model.AttendancePolicy{
			OrgID:          1,
			WiFiRequired:   true,
			AllowedNetwork: "10.0.0.0/24",
			QRRequired:     true,
			SelfieRequired: true,
		}
		outcome, err := RunVerifiers(ctx, policy, &Evidence{ClientIP: "192.168.1.20"}, &stubOracle{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Admitted() {
			t.Fatal("expected denial")
		}
		if len(outcome.Failures) != 3 {
			t.Fatalf("expected 3 failures, got %d", len(outcome.Failures))
		}
		got := map[string]bool{}
		for _, f := range outcome.Failures {
			got[f.Factor] = true
		}
		for _, want := range []string{model.FactorWiFi, model.FactorQR, model.FactorSelfie} {
			if !got[want] {
				t.Errorf("expected failure for factor %s", want)
			}
		}
	})

	t.Run("passed factors are the sorted enabled set", func(t *testing.T) {
		policy := &model.AttendancePolicy{
			OrgID:          1,
			WiFiRequired:   true,
			AllowedNetwork: "10.0.0.0/24",
			QRRequired:     true,
			SelfieRequired: true,
		}
		ev := &Evidence{
			ClientIP: "10.0.0.5",
			QRToken:  "12345678",
			Selfie:   []byte{0xff, 0xd8},
		}
		outcome, err := RunVerifiers(ctx, policy, ev, &stubOracle{valid: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcome.Admitted() {
			t.Fatalf("expected admission, failures: %+v", outcome.Failures)
		}
		want := []string{model.FactorQR, model.FactorSelfie, model.FactorWiFi}
		if !reflect.DeepEqual(outcome.PassedFactors, want) {
			t.Errorf("expected %v, got %v", want, outcome.PassedFactors)
		}
	})

	t.Run("disabled factors never appear in the passed set", func(t *testing.T) {
		policy := &model.AttendancePolicy{
			OrgID:          1,
			WiFiRequired:   true,
			AllowedNetwork: "10.0.0.0/24",
		}
		outcome, err := RunVerifiers(ctx, policy, &Evidence{ClientIP: "10.0.0.5"}, &stubOracle{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{model.FactorWiFi}
		if !reflect.DeepEqual(outcome.PassedFactors, want) {
			t.Errorf("expected %v, got %v", want, outcome.PassedFactors)
		}
	})
}

func TestCalculateDistance(t *testing.T) {
	// Beijing Tiananmen to the Forbidden City is roughly 1 km
	d := calculateDistance(39.9042, 116.4074, 39.9163, 116.3972)
	if d < 1000 || d > 2000 {
		t.Errorf("expected distance around 1.6km, got %.0fm", d)
	}

	if d := calculateDistance(39.9, 116.4, 39.9, 116.4); d != 0 {
		t.Errorf("expected zero distance for identical points, got %f", d)
	}
}
