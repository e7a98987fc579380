package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"opencrm/api/internal/model"
)

// ReportService builds attendance exports
type ReportService struct {
	db *gorm.DB
}

// NewReportService creates a new report service
func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

type reportRow struct {
	EmployeeCode string
	EmployeeName string
	Record       model.AttendanceRecord
}

// MonthlyWorkbook builds an xlsx workbook with one row per attendance record
// for the organization within [fromDate, toDate].
func (s *ReportService) MonthlyWorkbook(ctx context.Context, orgID uint, fromDate, toDate string) (*bytes.Buffer, error) {
	rows, err := s.collectRows(ctx, orgID, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Attendance"
	f.SetSheetName("Sheet1", sheetName)

	headers := []string{"Employee Code", "Employee Name", "Date", "Check In", "Check Out", "Worked Hours", "Methods", "Status"}
	for i, h := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		rec := row.Record
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", r), row.EmployeeCode)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", r), row.EmployeeName)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", r), rec.WorkDate)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", r), rec.CheckInTime.Format("15:04:05"))
		if rec.CheckOutTime != nil {
			f.SetCellValue(sheetName, fmt.Sprintf("E%d", r), rec.CheckOutTime.Format("15:04:05"))
		}
		if rec.WorkedSeconds != nil {
			hours := float64(*rec.WorkedSeconds) / 3600
			f.SetCellValue(sheetName, fmt.Sprintf("F%d", r), fmt.Sprintf("%.2f", hours))
		}
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", r), strings.Join(rec.CheckInMethod, ", "))
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", r), rec.Status())
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// SummaryStats returns aggregate counts for an organization's dashboard
func (s *ReportService) SummaryStats(ctx context.Context, orgID uint) (map[string]interface{}, error) {
	today := time.Now().Format(model.WorkDateLayout)

	var totalEmployees int64
	if err := s.db.WithContext(ctx).Model(&model.Employee{}).
		Where("org_id = ? AND status = 1", orgID).
		Count(&totalEmployees).Error; err != nil {
		return nil, err
	}

	var checkedIn, completed int64
	s.db.WithContext(ctx).Model(&model.AttendanceRecord{}).
		Where("org_id = ? AND work_date = ?", orgID, today).
		Count(&checkedIn)
	s.db.WithContext(ctx).Model(&model.AttendanceRecord{}).
		Where("org_id = ? AND work_date = ? AND check_out_time IS NOT NULL", orgID, today).
		Count(&completed)

	return map[string]interface{}{
		"date":            today,
		"total_employees": totalEmployees,
		"checked_in":      checkedIn,
		"on_duty":         checkedIn - completed,
		"completed":       completed,
		"not_checked_in":  totalEmployees - checkedIn,
	}, nil
}

func (s *ReportService) collectRows(ctx context.Context, orgID uint, fromDate, toDate string) ([]reportRow, error) {
	var records []model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND work_date >= ? AND work_date <= ?", orgID, fromDate, toDate).
		Order("work_date, employee_id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	var employees []model.Employee
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).Find(&employees).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}

	rows := make([]reportRow, 0, len(records))
	for _, rec := range records {
		row := reportRow{Record: rec}
		if emp, ok := byID[rec.EmployeeID]; ok {
			row.EmployeeCode = emp.Code
			row.EmployeeName = emp.FullName
		}
		rows = append(rows, row)
	}
	return rows, nil
}
