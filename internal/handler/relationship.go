package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

type RelationshipHandler struct {
	rels *service.RelationshipService
	log  *zap.Logger
}

func NewRelationshipHandler(rels *service.RelationshipService, log *zap.Logger) *RelationshipHandler {
	return &RelationshipHandler{rels: rels, log: log}
}

// POST /relationships
func (h *RelationshipHandler) Create(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	var req struct {
		SourceDocumentID uint `json:"source_document_id" binding:"required"`
		TargetDocumentID uint `json:"target_document_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	rel, err := h.rels.Create(c.Request.Context(), user, req.SourceDocumentID, req.TargetDocumentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, rel)
}

// DELETE /relationships/:id
func (h *RelationshipHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.rels.RemoveByID(c.Request.Context(), user, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, nil)
}

// DELETE /relationships?source_id=&target_id=
func (h *RelationshipHandler) DeletePair(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	a, b := parseID(c.Query("source_id")), parseID(c.Query("target_id"))
	if a == 0 || b == 0 {
		BadRequest(c, 40001, "source_id and target_id are required")
		return
	}
	if err := h.rels.Remove(c.Request.Context(), user, a, b); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, nil)
}

// GET /documents/:id/relationships
func (h *RelationshipHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rels, err := h.rels.List(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, rels)
}

// GET /documents/:id/related
func (h *RelationshipHandler) Related(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	docs, err := h.rels.Related(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, docs)
}

// GET /documents/:id/relationship-candidates
func (h *RelationshipHandler) Candidates(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	docs, err := h.rels.Candidates(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, docs)
}
