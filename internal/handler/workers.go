package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siteattend/internal/calendar"
	"siteattend/internal/workforce"
)

// CreateWorker registers a worker without a face.
func (h *Handler) CreateWorker(c *gin.Context) {
	var req workforce.NewWorker
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.workforce.CreateWorker(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// FindWorkers looks workers up by ?name=, ignoring case and accents.
func (h *Handler) FindWorkers(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
		return
	}
	workers, err := h.workforce.FindByName(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if workers == nil {
		workers = []workforce.Worker{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

func (h *Handler) GetWorker(c *gin.Context) {
	w, err := h.workforce.GetWorker(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// EnrollFace indexes the submitted photo as the worker's face.
func (h *Handler) EnrollFace(c *gin.Context) {
	photo, err := h.readPhoto(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	w, err := h.workforce.EnrollFace(c.Request.Context(), c.Param("id"), photo)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"worker_id": w.ID, "face_ref": w.FaceRef, "photo_url": w.PhotoURL})
}

func (h *Handler) ClearFace(c *gin.Context) {
	if err := h.workforce.ClearFace(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeactivateWorker(c *gin.Context) {
	if err := h.workforce.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteWorker removes the worker and all of their records.
func (h *Handler) DeleteWorker(c *gin.Context) {
	if err := h.workforce.DeleteWorker(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type dateRange struct {
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

func parseOptionalDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return calendar.Parse(s)
}

// Assign opens an assignment on a project.
func (h *Handler) Assign(c *gin.Context) {
	var req struct {
		ProjectID string `json:"project_id" binding:"required"`
		dateRange
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := parseOptionalDay(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := workforce.Assignment{WorkerID: c.Param("id"), ProjectID: req.ProjectID, StartDate: start}
	if req.EndDate != nil {
		end, err := calendar.Parse(*req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.EndDate = &end
	}
	a, err = h.workforce.Assign(c.Request.Context(), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// CloseAssignment ends an assignment on end_date, today by default.
func (h *Handler) CloseAssignment(c *gin.Context) {
	var req struct {
		EndDate string `json:"end_date"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	end, err := parseOptionalDay(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.workforce.CloseAssignment(c.Request.Context(), c.Param("id"), c.Param("assignmentID"), end); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddAdvance records an advance or payment for the worker.
func (h *Handler) AddAdvance(c *gin.Context) {
	var req struct {
		ProjectID *string               `json:"project_id"`
		Kind      workforce.AdvanceKind `json:"kind" binding:"required"`
		Amount    float64               `json:"amount" binding:"required"`
		Day       string                `json:"day"`
		Note      string                `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	day, err := parseOptionalDay(req.Day)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	adv, err := h.workforce.AddAdvance(c.Request.Context(), workforce.Advance{
		WorkerID: c.Param("id"), ProjectID: req.ProjectID, Kind: req.Kind, Amount: req.Amount, Day: day, Note: req.Note,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, adv)
}

// CreateProject registers a construction site.
func (h *Handler) CreateProject(c *gin.Context) {
	var req workforce.Project
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.workforce.CreateProject(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}
