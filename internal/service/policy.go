package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"opencrm/api/internal/model"
)

const policyCacheTTL = 5 * time.Minute

// PolicyService handles attendance policy business logic
type PolicyService struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewPolicyService creates a new policy service
func NewPolicyService(db *gorm.DB, redisClient *redis.Client) *PolicyService {
	return &PolicyService{
		db:    db,
		redis: redisClient,
	}
}

// GetForOrg returns the effective attendance policy for the organization,
// cache-aside through Redis. An organization without a stored policy gets the
// default: selfie only.
func (s *PolicyService) GetForOrg(ctx context.Context, orgID uint) (*model.AttendancePolicy, error) {
	if cached := s.getCached(ctx, orgID); cached != nil {
		return cached, nil
	}

	var policy model.AttendancePolicy
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&policy).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		policy = model.AttendancePolicy{OrgID: orgID}
	}

	NormalizePolicy(&policy)
	s.cache(ctx, &policy)

	return &policy, nil
}

// Upsert validates and saves the organization's policy, then invalidates the
// cache. A QR secret is provisioned on first enable and survives later edits.
func (s *PolicyService) Upsert(ctx context.Context, policy *model.AttendancePolicy) error {
	if err := ValidatePolicy(policy); err != nil {
		return err
	}

	var existing model.AttendancePolicy
	err := s.db.WithContext(ctx).Where("org_id = ?", policy.OrgID).First(&existing).Error
	switch {
	case err == nil:
		policy.ID = existing.ID
		policy.QRSecret = existing.QRSecret
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First policy for this organization
	default:
		return err
	}

	if policy.QRRequired && policy.QRSecret == "" {
		secret, err := GenerateQRSecret(policy.OrgID)
		if err != nil {
			return err
		}
		policy.QRSecret = secret
	}

	NormalizePolicy(policy)

	if err := s.db.WithContext(ctx).Save(policy).Error; err != nil {
		return err
	}

	s.invalidate(ctx, policy.OrgID)
	return nil
}

// NormalizePolicy enforces the invariant that at least one factor is always
// effectively active: selfie is the universal fallback.
func NormalizePolicy(policy *model.AttendancePolicy) {
	if !policy.WiFiRequired && !policy.QRRequired && !policy.GPSRequired {
		policy.SelfieRequired = true
	}
}

// ValidatePolicy checks allowed network and geofence shapes
func ValidatePolicy(policy *model.AttendancePolicy) error {
	if policy.OrgID == 0 {
		return errors.New("org_id is required")
	}

	if policy.WiFiRequired {
		if policy.AllowedNetwork == "" {
			return errors.New("allowed_network is required when wifi is required")
		}
		// Either a CIDR prefix or a plain SSID; reject strings that look like
		// a CIDR but do not parse
		if _, _, err := net.ParseCIDR(policy.AllowedNetwork); err != nil {
			if strings.Contains(policy.AllowedNetwork, "/") {
				return fmt.Errorf("invalid network prefix: %s", policy.AllowedNetwork)
			}
		}
	}

	if policy.GPSRequired && policy.GeofenceType != "" {
		if err := validateGeofence(policy.GeofenceType, policy.Geofence); err != nil {
			return err
		}
	}

	return nil
}

func validateGeofence(fenceType string, coordinates model.JSONMap) error {
	coordsJSON, err := json.Marshal(coordinates)
	if err != nil {
		return err
	}

	switch fenceType {
	case "circle":
		var circle model.CircleGeofenceCoordinates
		if err := json.Unmarshal(coordsJSON, &circle); err != nil {
			return fmt.Errorf("invalid circle coordinates: %v", err)
		}
		if circle.Center.Lat < -90 || circle.Center.Lat > 90 {
			return fmt.Errorf("invalid latitude")
		}
		if circle.Center.Lon < -180 || circle.Center.Lon > 180 {
			return fmt.Errorf("invalid longitude")
		}
		if circle.Radius <= 0 {
			return fmt.Errorf("radius must be positive")
		}
	case "polygon":
		var poly model.PolygonGeofenceCoordinates
		if err := json.Unmarshal(coordsJSON, &poly); err != nil {
			return fmt.Errorf("invalid polygon coordinates: %v", err)
		}
		if len(poly.Points) < 3 {
			return fmt.Errorf("polygon must have at least 3 points")
		}
	default:
		return fmt.Errorf("unsupported geofence type: %s", fenceType)
	}

	return nil
}

func (s *PolicyService) getCached(ctx context.Context, orgID uint) *model.AttendancePolicy {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, policyCacheKey(orgID)).Bytes()
	if err != nil {
		return nil
	}
	var policy model.AttendancePolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil
	}
	return &policy
}

func (s *PolicyService) cache(ctx context.Context, policy *model.AttendancePolicy) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return
	}
	s.redis.Set(ctx, policyCacheKey(policy.OrgID), data, policyCacheTTL)
}

func (s *PolicyService) invalidate(ctx context.Context, orgID uint) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, policyCacheKey(orgID))
}

func policyCacheKey(orgID uint) string {
	return fmt.Sprintf("crm:attendance:policy:%d", orgID)
}
