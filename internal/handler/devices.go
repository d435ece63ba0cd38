package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"siteattend/internal/auth"
)

// RegisterDevice provisions a kiosk, optionally bound to one project, and
// issues its first token pair.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID  string `json:"device_id" binding:"required"`
		ProjectID string `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if req.ProjectID != "" {
		if _, err := h.workforce.GetProject(ctx, req.ProjectID); err != nil {
			h.fail(c, err)
			return
		}
	}
	if err := h.devices.UpsertDevice(ctx, req.DeviceID, req.ProjectID); err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusCreated, req.DeviceID, req.ProjectID)
}

// RefreshDevice rotates a kiosk refresh token. Each refresh token works once.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	claims, err := auth.ParseRefresh(token, h.tokens.SigningKey, h.tokens.Issuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	live, err := h.devices.RevokeRefreshToken(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !live {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token already used"})
		return
	}
	h.issue(c, http.StatusOK, claims.Subject, claims.ProjectID)
}

func (h *Handler) issue(c *gin.Context, status int, deviceID, projectID string) {
	tokens, err := auth.Issue(deviceID, auth.RoleKiosk, projectID, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}
