package model

import (
	"testing"
	"time"
)

func TestAttendanceRecordStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := now.Add(8 * time.Hour)

	tests := []struct {
		name   string
		record *AttendanceRecord
		want   string
	}{
		{"nil record", nil, StatusNotCheckedIn},
		{"zero check-in time", &AttendanceRecord{}, StatusNotCheckedIn},
		{"open session", &AttendanceRecord{CheckInTime: now}, StatusOnDuty},
		{"completed", &AttendanceRecord{CheckInTime: now, CheckOutTime: &out}, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}
