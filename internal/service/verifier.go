package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"

	"opencrm/api/internal/model"
)

// Evidence is the bundle submitted with a single check-in attempt. All values
// are server-trusted where possible: ClientIP is taken from the request, never
// from a client-reported field.
type Evidence struct {
	ClientIP          string   `json:"client_ip"`
	SSID              string   `json:"ssid,omitempty"`
	QRToken           string   `json:"qr_token,omitempty"`
	Lat               *float64 `json:"lat,omitempty"`
	Lon               *float64 `json:"lon,omitempty"`
	Accuracy          *float64 `json:"accuracy,omitempty"` // meters, recorded but never gating
	GPSCaptureError   string   `json:"gps_capture_error,omitempty"`
	Selfie            []byte   `json:"-"`
	SelfieContentType string   `json:"selfie_content_type,omitempty"`
	SelfieCaptureErr  string   `json:"selfie_capture_error,omitempty"`
}

// FactorResult is the outcome of one verifier
type FactorResult struct {
	Factor  string        `json:"factor"`
	Passed  bool          `json:"passed"`
	Reason  string        `json:"reason,omitempty"`
	Details model.JSONMap `json:"details,omitempty"`
}

// VerificationOutcome aggregates all verifier results for one attempt.
// Verifiers never short-circuit so the caller can report every missing
// requirement at once.
type VerificationOutcome struct {
	PassedFactors []string       // sorted, enabled-and-passed only
	Failures      []FactorResult // failed required factors
	Audit         model.JSONMap  // merged evidence for the record
}

// Admitted reports whether every required factor passed
func (o *VerificationOutcome) Admitted() bool {
	return len(o.Failures) == 0
}

// QROracle answers whether a scanned token is currently valid for an
// organization. The verifier treats it as an opaque boolean oracle.
type QROracle interface {
	Validate(ctx context.Context, orgID uint, token string) (bool, error)
}

// VerifyWiFi passes when the policy does not require WiFi, or the observed
// client IP falls within the allowed CIDR, or the reported SSID matches a
// non-CIDR allowed network. The evaluated IP is always recorded for audit.
func VerifyWiFi(policy *model.AttendancePolicy, ev *Evidence) FactorResult {
	res := FactorResult{
		Factor:  model.FactorWiFi,
		Details: model.JSONMap{"ip": ev.ClientIP},
	}
	if !policy.WiFiRequired {
		res.Passed = true
		return res
	}

	allowed := strings.TrimSpace(policy.AllowedNetwork)
	if allowed == "" {
		res.Reason = "no allowed network configured"
		return res
	}

	if _, ipNet, err := net.ParseCIDR(allowed); err == nil {
		ip := net.ParseIP(ev.ClientIP)
		if ip == nil {
			res.Reason = "client ip could not be determined"
			return res
		}
		if !ipNet.Contains(ip) {
			res.Reason = fmt.Sprintf("ip %s is not in network %s", ev.ClientIP, allowed)
			return res
		}
		res.Passed = true
		return res
	}

	// Allowed network is an SSID
	if ev.SSID == "" {
		res.Reason = "no network name reported"
		return res
	}
	res.Details["ssid"] = ev.SSID
	if ev.SSID != allowed {
		res.Reason = fmt.Sprintf("network %q is not the workplace network", ev.SSID)
		return res
	}
	res.Passed = true
	return res
}

// VerifyQR passes when the policy does not require QR, or the submitted token
// is currently valid according to the oracle. Token validity is time-scoped;
// rotation is owned by the QR secret service.
func VerifyQR(ctx context.Context, policy *model.AttendancePolicy, ev *Evidence, oracle QROracle) (FactorResult, error) {
	res := FactorResult{Factor: model.FactorQR}
	if !policy.QRRequired {
		res.Passed = true
		return res, nil
	}
	if ev.QRToken == "" {
		res.Reason = "no QR code scanned"
		return res, nil
	}
	ok, err := oracle.Validate(ctx, policy.OrgID, ev.QRToken)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Reason = "QR code is not valid or has expired"
		return res, nil
	}
	res.Passed = true
	return res, nil
}

// VerifyGPS passes when the policy does not require GPS, or the reported
// coordinates lie within the configured geofence. With no geofence configured,
// obtainable coordinates suffice. Accuracy is recorded but never gates the
// decision, so a poor fix does not reject a legitimate check-in.
func VerifyGPS(policy *model.AttendancePolicy, ev *Evidence) FactorResult {
	res := FactorResult{Factor: model.FactorGPS, Details: model.JSONMap{}}
	if !policy.GPSRequired {
		res.Passed = true
		return res
	}

	if ev.Lat == nil || ev.Lon == nil {
		res.Reason = "no GPS fix"
		if ev.GPSCaptureError != "" {
			res.Reason = "location capture failed: " + ev.GPSCaptureError
		}
		return res
	}

	res.Details["lat"] = *ev.Lat
	res.Details["lon"] = *ev.Lon
	if ev.Accuracy != nil {
		res.Details["accuracy"] = *ev.Accuracy
	}

	if policy.GeofenceType == "" {
		// Advisory capture only
		res.Passed = true
		return res
	}

	inside, err := pointInGeofence(*ev.Lat, *ev.Lon, policy.GeofenceType, policy.Geofence)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if !inside {
		res.Reason = "location is outside the workplace geofence"
		return res
	}
	res.Passed = true
	return res
}

// VerifySelfie passes when the policy does not require a selfie, or an image
// capture is present. Presence of the artifact is the only contract; no
// biometric matching is performed.
func VerifySelfie(policy *model.AttendancePolicy, ev *Evidence) FactorResult {
	res := FactorResult{Factor: model.FactorSelfie}
	if !policy.SelfieRequired {
		res.Passed = true
		return res
	}
	if len(ev.Selfie) == 0 {
		res.Reason = "no selfie captured"
		if ev.SelfieCaptureErr != "" {
			res.Reason = "camera capture failed: " + ev.SelfieCaptureErr
		}
		return res
	}
	res.Passed = true
	return res
}

// RunVerifiers evaluates every enabled factor without short-circuiting and
// returns the sorted set of enabled-and-passed factors plus every failure.
func RunVerifiers(ctx context.Context, policy *model.AttendancePolicy, ev *Evidence, oracle QROracle) (*VerificationOutcome, error) {
	outcome := &VerificationOutcome{Audit: model.JSONMap{}}

	results := []FactorResult{
		VerifyWiFi(policy, ev),
		VerifyGPS(policy, ev),
		VerifySelfie(policy, ev),
	}
	qrRes, err := VerifyQR(ctx, policy, ev, oracle)
	if err != nil {
		return nil, err
	}
	results = append(results, qrRes)

	enabled := map[string]bool{
		model.FactorWiFi:   policy.WiFiRequired,
		model.FactorQR:     policy.QRRequired,
		model.FactorGPS:    policy.GPSRequired,
		model.FactorSelfie: policy.SelfieRequired,
	}

	for _, res := range results {
		if !enabled[res.Factor] {
			continue
		}
		if res.Passed {
			outcome.PassedFactors = append(outcome.PassedFactors, res.Factor)
		} else {
			outcome.Failures = append(outcome.Failures, res)
		}
		for k, v := range res.Details {
			outcome.Audit[k] = v
		}
	}
	sort.Strings(outcome.PassedFactors)

	return outcome, nil
}

func pointInGeofence(lat, lon float64, fenceType string, coordinates model.JSONMap) (bool, error) {
	switch fenceType {
	case "circle":
		return pointInCircle(lat, lon, coordinates)
	case "polygon":
		return pointInPolygon(lat, lon, coordinates)
	default:
		return false, fmt.Errorf("unsupported geofence type: %s", fenceType)
	}
}

func pointInCircle(lat, lon float64, coordinates model.JSONMap) (bool, error) {
	coordsJSON, err := json.Marshal(coordinates)
	if err != nil {
		return false, err
	}

	var circleCoords model.CircleGeofenceCoordinates
	if err := json.Unmarshal(coordsJSON, &circleCoords); err != nil {
		return false, err
	}

	distance := calculateDistance(lat, lon, circleCoords.Center.Lat, circleCoords.Center.Lon)
	return distance <= circleCoords.Radius, nil
}

// pointInPolygon uses the ray casting algorithm
func pointInPolygon(lat, lon float64, coordinates model.JSONMap) (bool, error) {
	coordsJSON, err := json.Marshal(coordinates)
	if err != nil {
		return false, err
	}

	var polyCoords model.PolygonGeofenceCoordinates
	if err := json.Unmarshal(coordsJSON, &polyCoords); err != nil {
		return false, err
	}

	points := polyCoords.Points
	if len(points) < 3 {
		return false, fmt.Errorf("polygon must have at least 3 points")
	}

	inside := false
	j := len(points) - 1
	for i := 0; i < len(points); i++ {
		pi := points[i]
		pj := points[j]

		if ((pi.Lon > lon) != (pj.Lon > lon)) &&
			(lat < (pj.Lat-pi.Lat)*(lon-pi.Lon)/(pj.Lon-pi.Lon)+pi.Lat) {
			inside = !inside
		}
		j = i
	}

	return inside, nil
}

// calculateDistance returns the haversine distance between two points in meters
func calculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000 // meters

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
