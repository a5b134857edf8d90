package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

type SignatureHandler struct {
	sigs *service.SignatureService
	log  *zap.Logger
}

func NewSignatureHandler(sigs *service.SignatureService, log *zap.Logger) *SignatureHandler {
	return &SignatureHandler{sigs: sigs, log: log}
}

func capture(c *gin.Context) service.Capture {
	return service.Capture{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// POST /documents/:id/signatures
func (h *SignatureHandler) Request(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		SignerIDs []uint     `json:"signer_ids" binding:"required,min=1"`
		DueDate   *time.Time `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sigs, err := h.sigs.RequestSignatures(c.Request.Context(), id, user, req.SignerIDs, req.DueDate)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{
		"signatures":      sigs,
		"pending_signers": service.PendingSigners(sigs),
	})
}

// GET /documents/:id/signatures
func (h *SignatureHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sigs, err := h.sigs.List(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, sigs)
}

// POST /documents/:id/signatures/:signerId
func (h *SignatureHandler) Sign(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	signerID, ok := pathID(c, "signerId")
	if !ok {
		return
	}
	result, err := h.sigs.Sign(c.Request.Context(), id, signerID, user, capture(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// POST /documents/:id/signatures/:signerId/reject
func (h *SignatureHandler) Reject(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	signerID, ok := pathID(c, "signerId")
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment" binding:"max=2000"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	result, err := h.sigs.Reject(c.Request.Context(), id, signerID, user, req.Comment, capture(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// DELETE /documents/:id/signatures/:signerId
func (h *SignatureHandler) Withdraw(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	signerID, ok := pathID(c, "signerId")
	if !ok {
		return
	}
	doc, err := h.sigs.Withdraw(c.Request.Context(), id, signerID, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}

// POST /documents/:id/signatures/reopen
func (h *SignatureHandler) Reopen(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.sigs.Reopen(c.Request.Context(), id, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, doc)
}
