package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

type AuditHandler struct {
	audit *service.AuditService
	log   *zap.Logger
}

func NewAuditHandler(audit *service.AuditService, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// GET /admin/operation-logs
func (h *AuditHandler) List(c *gin.Context) {
	page, pageSize := parsePage(c)
	f := service.AuditFilter{
		Action:   c.Query("action"),
		Page:     page,
		PageSize: pageSize,
	}
	if id := parseID(c.Query("user_id")); id != 0 {
		f.UserID = &id
	}
	if id := parseID(c.Query("document_id")); id != 0 {
		f.DocumentID = &id
	}
	if s := c.Query("start_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			BadRequest(c, 40001, "start_time must be RFC3339")
			return
		}
		f.StartTime = &t
	}
	if s := c.Query("end_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			BadRequest(c, 40001, "end_time must be RFC3339")
			return
		}
		f.EndTime = &t
	}

	logs, total, err := h.audit.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessPaged(c, logs, total, page, pageSize)
}
