package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

type PermissionHandler struct {
	perms *service.PermissionService
	log   *zap.Logger
}

func NewPermissionHandler(perms *service.PermissionService, log *zap.Logger) *PermissionHandler {
	return &PermissionHandler{perms: perms, log: log}
}

// GET /documents/:id/permissions
func (h *PermissionHandler) Summary(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	summary, err := h.perms.Summary(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, summary)
}

// POST /documents/:id/permissions
//
// Each tier present in the body replaces that tier's grants. The response
// carries per-tier results; item failures do not fail the request.
func (h *PermissionHandler) Apply(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.Visibility == nil && req.Usability == nil {
		BadRequest(c, 40001, "at least one of visibility or usability is required")
		return
	}

	result, err := h.perms.ApplyBulk(c.Request.Context(), id, user, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// POST /documents/:id/public-access
func (h *PermissionHandler) SetPublic(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// An empty body toggles.
	var req struct {
		IsPublic *bool `json:"is_public"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	result, err := h.perms.SetPublic(c.Request.Context(), id, user, req.IsPublic)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}
