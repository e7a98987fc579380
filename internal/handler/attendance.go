package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"opencrm/api/internal/model"
	"opencrm/api/internal/service"
)

// AttendanceHandler handles check-in/check-out requests
type AttendanceHandler struct {
	attendance *service.AttendanceService
	evidence   *service.EvidenceService
	qr         *service.QRSecretService
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(attendance *service.AttendanceService, evidence *service.EvidenceService, qr *service.QRSecretService) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: attendance,
		evidence:   evidence,
		qr:         qr,
	}
}

type checkInRequest struct {
	SSID            string   `json:"ssid"`
	QRToken         string   `json:"qr_token"`
	Lat             *float64 `json:"lat"`
	Lon             *float64 `json:"lon"`
	Accuracy        *float64 `json:"accuracy"`
	GPSCaptureError string   `json:"gps_capture_error"`
	// Selfie capture as base64; empty when the camera was unavailable
	Selfie            string `json:"selfie"`
	SelfieContentType string `json:"selfie_content_type"`
	SelfieError       string `json:"selfie_capture_error"`
}

// CheckIn admits or denies a check-in attempt
// @Summary Check in
// @Description Run the organization's required verification factors and open today's attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param evidence body checkInRequest true "Verification evidence"
// @Success 200 {object} model.AttendanceRecord
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /attendance/check-in [post]
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	employeeID, ok := employeeFromContext(c)
	if !ok {
		return
	}

	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var selfie []byte
	if req.Selfie != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Selfie)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "selfie is not valid base64"})
			return
		}
		selfie = decoded
	}

	ev := &service.Evidence{
		// The server-observed address is the trusted one
		ClientIP:          c.ClientIP(),
		SSID:              req.SSID,
		QRToken:           req.QRToken,
		Lat:               req.Lat,
		Lon:               req.Lon,
		Accuracy:          req.Accuracy,
		GPSCaptureError:   req.GPSCaptureError,
		Selfie:            selfie,
		SelfieContentType: req.SelfieContentType,
		SelfieCaptureErr:  req.SelfieError,
	}

	record, err := h.attendance.CheckIn(c.Request.Context(), employeeID, ev)
	if err != nil {
		var violation *service.PolicyViolationError
		var integrity *service.DataIntegrityError
		switch {
		case errors.As(err, &violation):
			c.JSON(http.StatusForbidden, gin.H{
				"error":      "policy violation",
				"factors":    violation.Factors(),
				"violations": violation.Violations,
			})
		case errors.Is(err, service.ErrAlreadyCheckedIn):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "already checked in today",
				"record": record,
			})
		case errors.Is(err, service.ErrEmployeeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
		case errors.As(err, &integrity):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance data is inconsistent, contact an administrator"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, record)
}

// CheckOut closes today's open attendance session
// @Summary Check out
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object true "Record id"
// @Success 200 {object} model.AttendanceRecord
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]interface{}
// @Router /attendance/check-out [post]
func (h *AttendanceHandler) CheckOut(c *gin.Context) {
	var req struct {
		RecordID uint `json:"record_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.attendance.CheckOut(c.Request.Context(), req.RecordID)
	if err != nil {
		var integrity *service.DataIntegrityError
		switch {
		case errors.Is(err, service.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "attendance record not found"})
		case errors.Is(err, service.ErrAlreadyCompleted):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "already checked out",
				"record": record,
			})
		case errors.As(err, &integrity):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance data is inconsistent, contact an administrator"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, record)
}

// Today returns the employee's attendance state for the current work date
// @Summary Today's attendance
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /attendance/today [get]
func (h *AttendanceHandler) Today(c *gin.Context) {
	employeeID, ok := employeeFromContext(c)
	if !ok {
		return
	}

	record, err := h.attendance.FindToday(c.Request.Context(), employeeID)
	if err != nil {
		if errors.Is(err, service.ErrEmployeeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": record.Status(),
		"record": record,
	})
}

// History returns attendance records for a date range
// @Summary Attendance history
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param limit query int false "Limit" default(100)
// @Success 200 {object} map[string]interface{}
// @Router /attendance/records [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	employeeID, ok := employeeFromContext(c)
	if !ok {
		return
	}

	now := time.Now()
	from := c.DefaultQuery("from", now.AddDate(0, -1, 0).Format(model.WorkDateLayout))
	to := c.DefaultQuery("to", now.Format(model.WorkDateLayout))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := h.attendance.History(c.Request.Context(), employeeID, from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

// GetEvidence streams a stored check-in artifact
// @Summary Download evidence
// @Tags Attendance
// @Produce octet-stream
// @Security BearerAuth
// @Param ref path string true "Evidence reference"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Router /attendance/evidence/{ref} [get]
func (h *AttendanceHandler) GetEvidence(c *gin.Context) {
	ref := c.Param("ref")
	obj, err := h.evidence.Get(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, service.ErrEvidenceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "evidence not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Owners see their own evidence, admins and managers see all of it
	role, _ := c.Get("role")
	if role != "admin" && role != "manager" {
		if employeeID, ok := c.Get("employeeID"); !ok || employeeID.(uint) != obj.EmployeeID {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
	}

	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

// CurrentQRCode returns the rotating kiosk code for the caller's organization
// @Summary Current QR code
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /attendance/qr [get]
func (h *AttendanceHandler) CurrentQRCode(c *gin.Context) {
	orgID, exists := c.Get("orgID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	code, remaining, err := h.qr.CurrentCode(c.Request.Context(), orgID.(uint))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":            code,
		"rotates_in_secs": remaining,
	})
}

// employeeFromContext resolves the target employee for the request. Regular
// users always act as themselves; admins may act on another employee via the
// employee_id query parameter.
func employeeFromContext(c *gin.Context) (uint, bool) {
	if raw := c.Query("employee_id"); raw != "" {
		role, _ := c.Get("role")
		if role == "admin" || role == "manager" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee_id"})
				return 0, false
			}
			return uint(id), true
		}
	}

	employeeID, exists := c.Get("employeeID")
	if !exists {
		c.JSON(http.StatusForbidden, gin.H{"error": "no employee profile linked to this user"})
		return 0, false
	}
	return employeeID.(uint), true
}
