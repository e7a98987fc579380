package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"opencrm/api/internal/model"
)

// GormRecordStore implements RecordStore on Postgres. The unique index on
// (employee_id, work_date) is the arbiter for concurrent check-ins.
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore creates a gorm-backed record store
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// FindByID returns (nil, nil) when the record does not exist
func (s *GormRecordStore) FindByID(ctx context.Context, id uint) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindByEmployeeAndDate returns (nil, nil) when no record exists for the day
func (s *GormRecordStore) FindByEmployeeAndDate(ctx context.Context, employeeID uint, workDate string) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date = ?", employeeID, workDate).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Insert creates the record, reporting ErrDuplicateRecord when the unique
// constraint rejects a concurrent double-submission.
func (s *GormRecordStore) Insert(ctx context.Context, record *model.AttendanceRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return err
	}
	return nil
}

// CompleteCheckOut stamps check-out fields guarded by check_out_time IS NULL,
// so a racing double check-out updates exactly once.
func (s *GormRecordStore) CompleteCheckOut(ctx context.Context, recordID uint, checkOut time.Time, worked time.Duration) (bool, error) {
	seconds := int64(worked / time.Second)
	res := s.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("id = ? AND check_out_time IS NULL", recordID).
		Updates(map[string]interface{}{
			"check_out_time": checkOut,
			"worked_seconds": seconds,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListRange returns records for the employee within [fromDate, toDate]
func (s *GormRecordStore) ListRange(ctx context.Context, employeeID uint, fromDate, toDate string, limit int) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date >= ? AND work_date <= ?", employeeID, fromDate, toDate).
		Order("work_date DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505") ||
		strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// GormDirectory resolves employees and organization timezones
type GormDirectory struct {
	db        *gorm.DB
	defaultTZ string
}

// NewGormDirectory creates a gorm-backed directory
func NewGormDirectory(db *gorm.DB, defaultTZ string) *GormDirectory {
	return &GormDirectory{db: db, defaultTZ: defaultTZ}
}

// Employee returns the employee or ErrEmployeeNotFound
func (d *GormDirectory) Employee(ctx context.Context, id uint) (*model.Employee, error) {
	var emp model.Employee
	if err := d.db.WithContext(ctx).First(&emp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	if emp.Status != 1 {
		return nil, ErrEmployeeNotFound
	}
	return &emp, nil
}

// OrgLocation returns the organization's canonical timezone. The work-date
// boundary is always computed here, never from device-local time.
func (d *GormDirectory) OrgLocation(ctx context.Context, orgID uint) (*time.Location, error) {
	var org model.Organization
	if err := d.db.WithContext(ctx).First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("organization %d not found", orgID)
		}
		return nil, err
	}

	name := org.Timezone
	if name == "" {
		name = d.defaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("organization %d has invalid timezone %q: %w", orgID, name, err)
	}
	return loc, nil
}
