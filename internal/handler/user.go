package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/middleware"
	"github.com/lexflow/backend/internal/service"
	"github.com/lexflow/backend/pkg/jwt"
	"go.uber.org/zap"
)

type UserHandler struct {
	dir         *service.Directory
	jwtSecret   string
	expireHours int
	log         *zap.Logger
}

func NewUserHandler(dir *service.Directory, jwtSecret string, expireHours int, log *zap.Logger) *UserHandler {
	return &UserHandler{dir: dir, jwtSecret: jwtSecret, expireHours: expireHours, log: log}
}

// GET /auth/me
func (h *UserHandler) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	Success(c, gin.H{
		"id":          user.ID,
		"name":        user.Name,
		"email":       user.Email,
		"role":        user.Role,
		"is_admin":    user.IsAdmin,
		"is_elevated": h.dir.IsElevated(user),
		"roles":       h.dir.Roles(),
	})
}

// POST /auth/refresh
func (h *UserHandler) RefreshToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	token, expireAt, err := jwt.GenerateToken(h.jwtSecret, user.ID, user.Role, user.IsAdmin, h.expireHours)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"token": token, "expire_at": expireAt.Format(time.RFC3339)})
}

// GET /users
func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := parsePage(c)
	users, total, err := h.dir.List(c.Request.Context(), service.UserFilter{
		Keyword:  c.Query("keyword"),
		Role:     c.Query("role"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	list := make([]interface{}, 0, len(users))
	for i := range users {
		list = append(list, users[i].Brief())
	}
	SuccessPaged(c, list, total, page, pageSize)
}

// PUT /admin/users/:id/role
func (h *UserHandler) UpdateRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.dir.UpdateRole(c.Request.Context(), id, req.Role)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user.Brief())
}

// PUT /admin/users/:id/status
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.dir.SetStatus(c.Request.Context(), id, middleware.GetCurrentUserID(c), *req.Active)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"id": user.ID, "status": user.Status})
}
