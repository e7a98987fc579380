package model

import (
	"time"
)

// Attendance status values derived from the record state
const (
	StatusNotCheckedIn = "NOT_CHECKED_IN"
	StatusOnDuty       = "ON_DUTY"
	StatusCompleted    = "COMPLETED"
)

// WorkDateLayout is the calendar-day key format, computed in the
// organization's timezone.
const WorkDateLayout = "2006-01-02"

// AttendanceRecord is the single daily attendance entry for one employee.
// The unique index on (employee_id, work_date) backs the one-record-per-day
// invariant under concurrent check-in submissions.
type AttendanceRecord struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	OrgID           uint       `json:"org_id" gorm:"index;not null"`
	EmployeeID      uint       `json:"employee_id" gorm:"not null;uniqueIndex:idx_attendance_employee_date"`
	WorkDate        string     `json:"work_date" gorm:"size:10;not null;uniqueIndex:idx_attendance_employee_date"`
	CheckInTime     time.Time  `json:"check_in_time" gorm:"not null"`
	CheckInMethod   StringList `json:"check_in_method" gorm:"type:jsonb"`   // sorted set of passed factors
	CheckInEvidence JSONMap    `json:"check_in_evidence" gorm:"type:jsonb"` // ip, coords, selfie ref
	CheckOutTime    *time.Time `json:"check_out_time"`
	WorkedSeconds   *int64     `json:"worked_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Status derives the lifecycle state of the record
func (r *AttendanceRecord) Status() string {
	if r == nil || r.CheckInTime.IsZero() {
		return StatusNotCheckedIn
	}
	if r.CheckOutTime == nil {
		return StatusOnDuty
	}
	return StatusCompleted
}

// EvidenceObject stores a check-in artifact (selfie capture) referenced by an
// opaque id. The attendance core never inspects the contents.
type EvidenceObject struct {
	RefID       string    `json:"ref_id" gorm:"primaryKey;size:36"`
	OrgID       uint      `json:"org_id" gorm:"index;not null"`
	EmployeeID  uint      `json:"employee_id" gorm:"index;not null"`
	Kind        string    `json:"kind" gorm:"size:20;not null"` // selfie
	ContentType string    `json:"content_type" gorm:"size:100"`
	Data        []byte    `json:"-" gorm:"type:bytea"`
	CreatedAt   time.Time `json:"created_at"`
}

func (EvidenceObject) TableName() string {
	return "attendance_evidence"
}

// AttendanceEvent is published to NATS on successful check-in/check-out and
// re-broadcast to WebSocket dashboard clients.
type AttendanceEvent struct {
	Type       string   `json:"type"` // checkin, checkout
	OrgID      uint     `json:"org_id"`
	EmployeeID uint     `json:"employee_id"`
	RecordID   uint     `json:"record_id"`
	WorkDate   string   `json:"work_date"`
	Methods    []string `json:"methods,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}
