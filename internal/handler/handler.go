// Package handler is the HTTP transport for the attendance API.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"siteattend/internal/attendance"
	"siteattend/internal/auth"
	"siteattend/internal/facedir"
	"siteattend/internal/imagecheck"
	"siteattend/internal/workforce"
)

// Devices persists kiosks and their refresh tokens.
type Devices interface {
	UpsertDevice(ctx context.Context, deviceID, projectID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Tokens configures kiosk token issuance.
type Tokens struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Handler holds the services behind the HTTP routes.
type Handler struct {
	attendance    *attendance.Service
	workforce     *workforce.Service
	devices       Devices
	tokens        Tokens
	checks        map[string]HealthCheck
	maxPhotoBytes int
	log           *zap.Logger
}

// New creates a Handler.
func New(att *attendance.Service, wf *workforce.Service, devices Devices, tokens Tokens, maxPhotoBytes int, log *zap.Logger) *Handler {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = imagecheck.DefaultMaxBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		attendance:    att,
		workforce:     wf,
		devices:       devices,
		tokens:        tokens,
		checks:        make(map[string]HealthCheck),
		maxPhotoBytes: maxPhotoBytes,
		log:           log,
	}
}

// AddHealthCheck registers a dependency reported by /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Mount registers every route on r.
func (h *Handler) Mount(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.POST("/v1/devices/refresh", h.RefreshDevice)

	v1 := r.Group("/v1", auth.DeviceAuth(h.tokens.SigningKey, h.tokens.Issuer))
	if limit != nil {
		v1.Use(limit)
	}

	kiosk := v1.Group("/projects/:projectID", auth.RequireRole(auth.RoleKiosk, auth.RoleAdmin), auth.ProjectScope())
	kiosk.POST("/verifications", h.Verify)
	kiosk.POST("/checkouts", h.Checkout)

	admin := v1.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/devices/register", h.RegisterDevice)

	admin.POST("/projects", h.CreateProject)
	admin.GET("/projects/:projectID/attendance", h.ListAttendance)
	admin.PUT("/projects/:projectID/attendance/:day", h.UpsertAttendance)

	admin.POST("/workers", h.CreateWorker)
	admin.GET("/workers", h.FindWorkers)
	admin.GET("/workers/:id", h.GetWorker)
	admin.DELETE("/workers/:id", h.DeleteWorker)
	admin.POST("/workers/:id/face", h.EnrollFace)
	admin.DELETE("/workers/:id/face", h.ClearFace)
	admin.POST("/workers/:id/deactivate", h.DeactivateWorker)
	admin.POST("/workers/:id/assignments", h.Assign)
	admin.POST("/workers/:id/assignments/:assignmentID/close", h.CloseAssignment)
	admin.POST("/workers/:id/advances", h.AddAdvance)
}

// Healthz reports dependency status.
func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// readPhoto accepts a multipart "photo" file or a JSON body
// {"photo": "<base64 or data URL>"}.
func (h *Handler) readPhoto(c *gin.Context) ([]byte, error) {
	// base64 inflates by a third; multipart adds headers.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.maxPhotoBytes)*4/3+64<<10)

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("photo")
		if err != nil {
			return nil, fmt.Errorf("%w: photo file is required", attendance.ErrInvalidInput)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("%w: read photo: %v", attendance.ErrInvalidInput, err)
		}
		return data, nil
	}

	var body struct {
		Photo string `json:"photo" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, fmt.Errorf("%w: provide multipart photo or {\"photo\": \"<base64>\"}", attendance.ErrInvalidInput)
	}
	data, err := decodeBase64Photo(body.Photo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attendance.ErrInvalidInput, err)
	}
	return data, nil
}

func decodeBase64Photo(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("photo is not valid base64")
	}
	return data, nil
}

var outcomeStatus = map[attendance.Outcome]int{
	attendance.OutcomeRecorded:          http.StatusCreated,
	attendance.OutcomeAlreadyPresent:    http.StatusOK,
	attendance.OutcomeNoMatchingFace:    http.StatusNotFound,
	attendance.OutcomeWorkerNotFound:    http.StatusNotFound,
	attendance.OutcomeNotAssigned:       http.StatusForbidden,
	attendance.OutcomeCheckedOut:        http.StatusOK,
	attendance.OutcomeAlreadyCheckedOut: http.StatusOK,
	attendance.OutcomeNotCheckedIn:      http.StatusConflict,
}

func (h *Handler) respondResult(c *gin.Context, res attendance.Result) {
	status, ok := outcomeStatus[res.Outcome]
	if !ok {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// fail maps service errors to HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	var status int
	msg := err.Error()
	switch {
	case errors.Is(err, attendance.ErrInvalidInput), errors.Is(err, workforce.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, workforce.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workforce.ErrAlreadyAssigned), errors.Is(err, workforce.ErrInactive):
		status = http.StatusConflict
	case errors.Is(err, facedir.ErrNoFaceDetected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrCheckoutDisabled):
		status = http.StatusNotImplemented
	case facedir.IsTimeout(err):
		status, msg = http.StatusGatewayTimeout, "face provider timed out"
	case facedir.IsProviderError(err):
		status, msg = http.StatusBadGateway, "face provider unavailable"
	case errors.Is(err, attendance.ErrStorage):
		status, msg = http.StatusBadGateway, "photo storage unavailable"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	if status >= 500 {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}
