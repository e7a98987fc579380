package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"opencrm/api/internal/model"
	"opencrm/api/internal/service"
)

// ReportHandler handles attendance report requests
type ReportHandler struct {
	reportService *service.ReportService
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// Download streams an xlsx attendance report for a date range
// @Summary Download attendance report
// @Tags Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /attendance/report [get]
func (h *ReportHandler) Download(c *gin.Context) {
	orgID, exists := c.Get("orgID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := c.DefaultQuery("from", now.AddDate(0, 0, -now.Day()+1).Format(model.WorkDateLayout))
	to := c.DefaultQuery("to", now.Format(model.WorkDateLayout))

	buf, err := h.reportService.MonthlyWorkbook(c.Request.Context(), orgID.(uint), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("attendance_%s_%s.xlsx", from, to)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// Summary returns today's aggregate attendance counts
// @Summary Attendance summary
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /attendance/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	orgID, exists := c.Get("orgID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, err := h.reportService.SummaryStats(c.Request.Context(), orgID.(uint))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
