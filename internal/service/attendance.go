package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"opencrm/api/internal/model"
)

// Sentinel errors surfaced by the attendance service. AlreadyCheckedIn and
// AlreadyCompleted are idempotent rejections, not failures the caller should
// retry around.
var (
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrRecordNotFound   = errors.New("attendance record not found")
	ErrAlreadyCheckedIn = errors.New("already checked in today")
	ErrAlreadyCompleted = errors.New("attendance already completed for today")
	ErrDuplicateRecord  = errors.New("duplicate attendance record")
	ErrEvidenceNotFound = errors.New("evidence object not found")
)

// PolicyViolationError reports every failed required factor of one attempt
type PolicyViolationError struct {
	Violations []FactorResult
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("attendance policy violation: %s", strings.Join(e.Factors(), ", "))
}

// Factors returns the names of the failed factors
func (e *PolicyViolationError) Factors() []string {
	factors := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		factors = append(factors, v.Factor)
	}
	return factors
}

// DataIntegrityError marks a record whose stored state is inconsistent, such
// as a negative worked duration. It is never coerced into a user-facing error.
type DataIntegrityError struct {
	RecordID uint
	Detail   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("attendance record %d integrity error: %s", e.RecordID, e.Detail)
}

// RecordStore is the persistence collaborator for attendance records. Insert
// must be backed by a unique constraint on (employee_id, work_date) and return
// ErrDuplicateRecord on violation.
type RecordStore interface {
	FindByID(ctx context.Context, id uint) (*model.AttendanceRecord, error)
	// FindByEmployeeAndDate returns (nil, nil) when no record exists
	FindByEmployeeAndDate(ctx context.Context, employeeID uint, workDate string) (*model.AttendanceRecord, error)
	Insert(ctx context.Context, record *model.AttendanceRecord) error
	// CompleteCheckOut stamps the check-out atomically, guarded by
	// check_out_time IS NULL; it reports false when the record was already
	// completed by a concurrent call.
	CompleteCheckOut(ctx context.Context, recordID uint, checkOut time.Time, worked time.Duration) (bool, error)
	ListRange(ctx context.Context, employeeID uint, fromDate, toDate string, limit int) ([]model.AttendanceRecord, error)
}

// Directory resolves employees and their organization's timezone
type Directory interface {
	Employee(ctx context.Context, id uint) (*model.Employee, error)
	OrgLocation(ctx context.Context, orgID uint) (*time.Location, error)
}

// PolicyProvider yields the effective attendance policy for an organization
type PolicyProvider interface {
	GetForOrg(ctx context.Context, orgID uint) (*model.AttendancePolicy, error)
}

// EvidenceSink stores check-in artifacts and returns opaque references
type EvidenceSink interface {
	StoreSelfie(ctx context.Context, orgID, employeeID uint, contentType string, data []byte) (string, error)
}

// TokenConsumer marks a validated QR token as used so it satisfies only the
// current check-in attempt.
type TokenConsumer interface {
	MarkUsed(ctx context.Context, orgID uint, token string) error
}

// EventPublisher emits attendance events for downstream consumers
type EventPublisher interface {
	PublishAttendanceEvent(event *model.AttendanceEvent) error
}

// AttendanceService orchestrates check-in admission and session state
type AttendanceService struct {
	store    RecordStore
	dir      Directory
	policies PolicyProvider
	evidence EvidenceSink
	qr       QROracle
	tokens   TokenConsumer
	events   EventPublisher
	now      func() time.Time
}

// NewAttendanceService creates an attendance service
func NewAttendanceService(store RecordStore, dir Directory, policies PolicyProvider, evidence EvidenceSink, qr QROracle, tokens TokenConsumer, events EventPublisher) *AttendanceService {
	return &AttendanceService{
		store:    store,
		dir:      dir,
		policies: policies,
		evidence: evidence,
		qr:       qr,
		tokens:   tokens,
		events:   events,
		now:      time.Now,
	}
}

// CheckIn runs every enabled verifier, and on all-pass creates the single
// daily record for the employee. No state is written on any deny path. The
// existence check and insert are serialized by the store's unique constraint,
// so exactly one of N concurrent submissions succeeds.
func (s *AttendanceService) CheckIn(ctx context.Context, employeeID uint, ev *Evidence) (*model.AttendanceRecord, error) {
	emp, err := s.dir.Employee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	loc, err := s.dir.OrgLocation(ctx, emp.OrgID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policies.GetForOrg(ctx, emp.OrgID)
	if err != nil {
		return nil, err
	}

	outcome, err := RunVerifiers(ctx, policy, ev, s.qr)
	if err != nil {
		return nil, err
	}
	if !outcome.Admitted() {
		return nil, &PolicyViolationError{Violations: outcome.Failures}
	}

	now := s.now()
	workDate := now.In(loc).Format(model.WorkDateLayout)

	existing, err := s.store.FindByEmployeeAndDate(ctx, employeeID, workDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyCheckedIn
	}

	evidenceJSON := outcome.Audit
	if policy.SelfieRequired && len(ev.Selfie) > 0 {
		ref, err := s.evidence.StoreSelfie(ctx, emp.OrgID, employeeID, ev.SelfieContentType, ev.Selfie)
		if err != nil {
			return nil, err
		}
		evidenceJSON["selfie_ref"] = ref
	}

	record := &model.AttendanceRecord{
		OrgID:           emp.OrgID,
		EmployeeID:      employeeID,
		WorkDate:        workDate,
		CheckInTime:     now,
		CheckInMethod:   model.StringList(outcome.PassedFactors),
		CheckInEvidence: evidenceJSON,
	}

	if err := s.insertWithRetry(ctx, record, employeeID, workDate); err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			winner, ferr := s.store.FindByEmployeeAndDate(ctx, employeeID, workDate)
			if ferr == nil && winner != nil {
				return winner, ErrAlreadyCheckedIn
			}
		}
		return nil, err
	}

	if policy.QRRequired && ev.QRToken != "" {
		if err := s.tokens.MarkUsed(ctx, emp.OrgID, ev.QRToken); err != nil {
			log.Printf("[Attendance] Failed to consume QR token for org %d: %v", emp.OrgID, err)
		}
	}

	s.publish(&model.AttendanceEvent{
		Type:       "checkin",
		OrgID:      emp.OrgID,
		EmployeeID: employeeID,
		RecordID:   record.ID,
		WorkDate:   workDate,
		Methods:    outcome.PassedFactors,
		Timestamp:  now.Unix(),
	})

	return record, nil
}

// insertWithRetry inserts the record, mapping unique violations to
// ErrAlreadyCheckedIn. A transient conflict is retried once after
// re-verifying that no record exists.
func (s *AttendanceService) insertWithRetry(ctx context.Context, record *model.AttendanceRecord, employeeID uint, workDate string) error {
	err := s.store.Insert(ctx, record)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateRecord) {
		return ErrAlreadyCheckedIn
	}

	existing, ferr := s.store.FindByEmployeeAndDate(ctx, employeeID, workDate)
	if ferr != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyCheckedIn
	}

	err = s.store.Insert(ctx, record)
	if errors.Is(err, ErrDuplicateRecord) {
		return ErrAlreadyCheckedIn
	}
	return err
}

// CheckOut closes the open session for the record, computing the worked
// duration. A retried check-out returns ErrAlreadyCompleted without
// double-stamping. A negative duration is a data-integrity error and is never
// silently clamped.
func (s *AttendanceService) CheckOut(ctx context.Context, recordID uint) (*model.AttendanceRecord, error) {
	record, err := s.store.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}
	if record.CheckOutTime != nil {
		return record, ErrAlreadyCompleted
	}
	if record.CheckInTime.IsZero() {
		intErr := &DataIntegrityError{RecordID: recordID, Detail: "record is on duty but has no check-in time"}
		log.Printf("[Attendance] %v", intErr)
		return nil, intErr
	}

	now := s.now()
	worked := now.Sub(record.CheckInTime)
	if worked < 0 {
		intErr := &DataIntegrityError{RecordID: recordID, Detail: fmt.Sprintf("negative worked duration %s", worked)}
		log.Printf("[Attendance] %v", intErr)
		return nil, intErr
	}

	updated, err := s.store.CompleteCheckOut(ctx, recordID, now, worked)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost the race against a concurrent check-out
		record, err = s.store.FindByID(ctx, recordID)
		if err != nil {
			return nil, err
		}
		return record, ErrAlreadyCompleted
	}

	record.CheckOutTime = &now
	seconds := int64(worked / time.Second)
	record.WorkedSeconds = &seconds

	s.publish(&model.AttendanceEvent{
		Type:       "checkout",
		OrgID:      record.OrgID,
		EmployeeID: record.EmployeeID,
		RecordID:   record.ID,
		WorkDate:   record.WorkDate,
		Timestamp:  now.Unix(),
	})

	return record, nil
}

// FindToday returns the record for the employee's current organization-local
// work date, or nil when the employee has not checked in.
func (s *AttendanceService) FindToday(ctx context.Context, employeeID uint) (*model.AttendanceRecord, error) {
	emp, err := s.dir.Employee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	loc, err := s.dir.OrgLocation(ctx, emp.OrgID)
	if err != nil {
		return nil, err
	}
	workDate := s.now().In(loc).Format(model.WorkDateLayout)
	return s.store.FindByEmployeeAndDate(ctx, employeeID, workDate)
}

// History returns records for the employee within [fromDate, toDate]
func (s *AttendanceService) History(ctx context.Context, employeeID uint, fromDate, toDate string, limit int) ([]model.AttendanceRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListRange(ctx, employeeID, fromDate, toDate, limit)
}

func (s *AttendanceService) publish(event *model.AttendanceEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAttendanceEvent(event); err != nil {
		log.Printf("[Attendance] Failed to publish %s event for record %d: %v", event.Type, event.RecordID, err)
	}
}
