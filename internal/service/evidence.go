package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"opencrm/api/internal/model"
)

// EvidenceService stores check-in artifacts and hands back opaque references.
// The attendance core never inspects artifact contents.
type EvidenceService struct {
	db *gorm.DB
}

// NewEvidenceService creates a new evidence service
func NewEvidenceService(db *gorm.DB) *EvidenceService {
	return &EvidenceService{db: db}
}

// StoreSelfie persists a selfie capture and returns its reference id
func (s *EvidenceService) StoreSelfie(ctx context.Context, orgID, employeeID uint, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty selfie capture")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	obj := model.EvidenceObject{
		RefID:       uuid.NewString(),
		OrgID:       orgID,
		EmployeeID:  employeeID,
		Kind:        "selfie",
		ContentType: contentType,
		Data:        data,
	}
	if err := s.db.WithContext(ctx).Create(&obj).Error; err != nil {
		return "", err
	}
	return obj.RefID, nil
}

// Get returns the stored artifact or ErrEvidenceNotFound
func (s *EvidenceService) Get(ctx context.Context, refID string) (*model.EvidenceObject, error) {
	var obj model.EvidenceObject
	err := s.db.WithContext(ctx).Where("ref_id = ?", refID).First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEvidenceNotFound
		}
		return nil, err
	}
	return &obj, nil
}
