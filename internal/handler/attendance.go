package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siteattend/internal/attendance"
	"siteattend/internal/calendar"
)

// Verify marks the worker in the submitted photo present on the project.
func (h *Handler) Verify(c *gin.Context) {
	photo, err := h.readPhoto(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.attendance.VerifyAndMark(c.Request.Context(), photo, c.Param("projectID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondResult(c, res)
}

// Checkout records the check-out photo of a worker already present today.
func (h *Handler) Checkout(c *gin.Context) {
	photo, err := h.readPhoto(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.attendance.MarkCheckout(c.Request.Context(), photo, c.Param("projectID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondResult(c, res)
}

// ListAttendance returns the ledger of a project for ?day=, today by default.
func (h *Handler) ListAttendance(c *gin.Context) {
	projectID := c.Param("projectID")
	var day time.Time
	var err error
	if q := c.Query("day"); q != "" {
		day, err = calendar.Parse(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else if day, err = h.attendance.Today(c.Request.Context(), projectID); err != nil {
		h.fail(c, err)
		return
	}

	records, err := h.attendance.ListDay(c.Request.Context(), projectID, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"day": calendar.Format(day), "records": records})
}

// UpsertAttendance writes a manual day sheet.
func (h *Handler) UpsertAttendance(c *gin.Context) {
	day, err := calendar.Parse(c.Param("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req struct {
		Entries []attendance.DayEntry `json:"entries" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := h.attendance.UpsertDay(c.Request.Context(), c.Param("projectID"), day, req.Entries)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": calendar.Format(day), "records": records})
}
