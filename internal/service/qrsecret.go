package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"opencrm/api/internal/model"
)

const (
	qrPeriod = 30 * time.Second
	// A validated code is held unusable for two periods, covering the
	// validation skew window
	qrUsedTTL = 2 * qrPeriod
)

// GenerateQRSecret provisions a new base32 TOTP secret for an organization
func GenerateQRSecret(orgID uint) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "opencrm-attendance",
		AccountName: fmt.Sprintf("org-%d", orgID),
		Period:      uint(qrPeriod / time.Second),
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// QRSecretService issues and validates the rotating QR proof-of-presence
// codes displayed on workplace kiosks. Codes rotate every period; a validated
// code satisfies only the check-in attempt that consumed it.
type QRSecretService struct {
	db    *gorm.DB
	redis *redis.Client
	now   func() time.Time
}

// NewQRSecretService creates a new QR secret service
func NewQRSecretService(db *gorm.DB, redisClient *redis.Client) *QRSecretService {
	return &QRSecretService{
		db:    db,
		redis: redisClient,
		now:   time.Now,
	}
}

// CurrentCode returns the code the kiosk should currently display, with the
// seconds remaining before rotation.
func (s *QRSecretService) CurrentCode(ctx context.Context, orgID uint) (string, int, error) {
	secret, err := s.secretForOrg(ctx, orgID)
	if err != nil {
		return "", 0, err
	}
	now := s.now()
	code, err := totp.GenerateCodeCustom(secret, now, totp.ValidateOpts{
		Period:    uint(qrPeriod / time.Second),
		Digits:    otp.DigitsEight,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", 0, err
	}
	remaining := int(qrPeriod/time.Second) - int(now.Unix()%int64(qrPeriod/time.Second))
	return code, remaining, nil
}

// Validate reports whether the scanned token is a currently valid, not yet
// consumed code for the organization.
func (s *QRSecretService) Validate(ctx context.Context, orgID uint, token string) (bool, error) {
	secret, err := s.secretForOrg(ctx, orgID)
	if err != nil {
		return false, err
	}

	ok, err := totp.ValidateCustom(token, secret, s.now(), totp.ValidateOpts{
		Period:    uint(qrPeriod / time.Second),
		Skew:      1,
		Digits:    otp.DigitsEight,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return false, nil
	}

	if s.redis != nil {
		used, err := s.redis.Exists(ctx, qrUsedKey(orgID, token)).Result()
		if err == nil && used > 0 {
			return false, nil
		}
	}

	return true, nil
}

// MarkUsed consumes a validated token so it cannot satisfy another attempt
func (s *QRSecretService) MarkUsed(ctx context.Context, orgID uint, token string) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.SetNX(ctx, qrUsedKey(orgID, token), 1, qrUsedTTL).Err()
}

func (s *QRSecretService) secretForOrg(ctx context.Context, orgID uint) (string, error) {
	var policy model.AttendancePolicy
	err := s.db.WithContext(ctx).
		Select("qr_secret").
		Where("org_id = ?", orgID).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("organization %d has no QR policy", orgID)
		}
		return "", err
	}
	if policy.QRSecret == "" {
		return "", fmt.Errorf("organization %d has no QR secret provisioned", orgID)
	}
	return policy.QRSecret, nil
}

func qrUsedKey(orgID uint, token string) string {
	return fmt.Sprintf("crm:attendance:qr:used:%d:%s", orgID, token)
}
