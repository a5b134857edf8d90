package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	docs *service.DocumentService
	vars *service.VariableService
	log  *zap.Logger
}

func NewDocumentHandler(docs *service.DocumentService, vars *service.VariableService, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, vars: vars, log: log}
}

// POST /documents
func (h *DocumentHandler) Create(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	var req struct {
		Title        string `json:"title" binding:"required,max=256"`
		Content      string `json:"content"`
		AssignedToID *uint  `json:"assigned_to_id"`
		IsPublic     bool   `json:"is_public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	doc, err := h.docs.Create(c.Request.Context(), user, service.CreateDocumentInput{
		Title:        req.Title,
		Content:      req.Content,
		AssignedToID: req.AssignedToID,
		IsPublic:     req.IsPublic,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}

// GET /documents
func (h *DocumentHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	page, pageSize := parsePage(c)
	docs, total, err := h.docs.List(c.Request.Context(), user, service.ListFilter{
		State:    model.DocumentState(c.Query("state")),
		Keyword:  c.Query("keyword"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessPaged(c, docs, total, page, pageSize)
}

// GET /documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}

// PUT /documents/:id
func (h *DocumentHandler) Update(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Title        *string `json:"title" binding:"omitempty,max=256"`
		Content      *string `json:"content"`
		AssignedToID *uint   `json:"assigned_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	doc, err := h.docs.Update(c.Request.Context(), id, user, service.UpdateDocumentInput{
		Title:        req.Title,
		Content:      req.Content,
		AssignedToID: req.AssignedToID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}

// PUT /documents/:id/state
func (h *DocumentHandler) ChangeState(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		State model.DocumentState `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	doc, err := h.docs.ChangeState(c.Request.Context(), id, user, req.State)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}

// DELETE /documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), id, user); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, nil)
}

// GET /documents/:id/content
func (h *DocumentHandler) Content(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rendered, err := h.vars.RenderContent(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, rendered)
}

// GET /signatures/pending
func (h *DocumentHandler) PendingSignatures(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	docs, err := h.docs.ListPendingSignatures(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, docs)
}

// GET /dashboard/stats
func (h *DocumentHandler) Stats(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	stats, err := h.docs.Stats(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, stats)
}
