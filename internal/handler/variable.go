package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"github.com/lexflow/backend/internal/variable"
	"go.uber.org/zap"
)

type VariableHandler struct {
	vars *service.VariableService
	log  *zap.Logger
}

func NewVariableHandler(vars *service.VariableService, log *zap.Logger) *VariableHandler {
	return &VariableHandler{vars: vars, log: log}
}

// GET /documents/:id/variables
func (h *VariableHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	vars, err := h.vars.List(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, vars)
}

// PUT /documents/:id/variables/:key
func (h *VariableHandler) Set(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		FieldType    variable.FieldType `json:"field_type" binding:"required"`
		Value        string             `json:"value"`
		Options      []string           `json:"options"`
		Currency     string             `json:"currency"`
		SummaryField string             `json:"summary_field"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	v, err := h.vars.Set(c.Request.Context(), id, user, c.Param("key"), service.SetVariableInput{
		FieldType:    req.FieldType,
		Value:        req.Value,
		Options:      req.Options,
		Currency:     req.Currency,
		SummaryField: req.SummaryField,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, v)
}

// DELETE /documents/:id/variables/:key
func (h *VariableHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.vars.Delete(c.Request.Context(), id, user, c.Param("key")); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, nil)
}
