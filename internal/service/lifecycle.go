package service

import (
	"errors"
	"time"

	"github.com/lexflow/backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// manualTransitions lists the explicit state changes an editor may request.
// Signature states are entered only through the signature ledger.
var manualTransitions = map[model.DocumentState][]model.DocumentState{
	model.StateDraft:     {model.StateProgress, model.StateCompleted},
	model.StateProgress:  {model.StateDraft, model.StateCompleted},
	model.StateCompleted: {model.StateProgress},
}

func canTransition(from, to model.DocumentState) bool {
	for _, s := range manualTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Lifecycle owns document loading, guarded transitions and the derived
// fully-signed and expired states.
type Lifecycle struct {
	now func() time.Time
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{now: func() time.Time { return time.Now().UTC() }}
}

func loadDocument(tx *gorm.DB, id uint) (*model.Document, error) {
	var doc model.Document
	if err := tx.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("document")
		}
		return nil, err
	}
	return &doc, nil
}

// lockDocument loads the document row for update for the rest of tx.
func lockDocument(tx *gorm.DB, id uint) (*model.Document, error) {
	return loadDocument(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// transition moves the document from one state to another. The update is
// conditional on the current state so concurrent writers cannot both win.
func (l *Lifecycle) transition(tx *gorm.DB, doc *model.Document, to model.DocumentState, extra map[string]interface{}) error {
	from := doc.State
	updates := map[string]interface{}{"state": to, "updated_at": l.now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&model.Document{}).
		Where("id = ? AND state = ?", doc.ID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := loadDocument(tx, doc.ID)
		if err != nil {
			return err
		}
		return conflict(current.State, "document changed state concurrently")
	}
	doc.State = to
	if v, ok := extra["fully_signed"].(bool); ok {
		doc.FullySigned = v
	}
	if v, ok := extra["requires_signature"].(bool); ok {
		doc.RequiresSignature = v
	}
	return nil
}

// fullySigned is the ledger verdict: signatures are required, at least one
// exists, and every one is signed and none rejected.
func fullySigned(requiresSignature bool, sigs []model.Signature) bool {
	if !requiresSignature || len(sigs) == 0 {
		return false
	}
	for _, s := range sigs {
		if !s.Signed || s.Rejected {
			return false
		}
	}
	return true
}

// recompute re-derives fully_signed for the document and moves a pending
// document to FullySigned when the ledger is complete. It is idempotent:
// a document already FullySigned is left untouched.
func (l *Lifecycle) recompute(tx *gorm.DB, documentID uint) (bool, error) {
	doc, err := loadDocument(tx, documentID)
	if err != nil {
		return false, err
	}
	var sigs []model.Signature
	if err := tx.Where("document_id = ?", documentID).Find(&sigs).Error; err != nil {
		return false, err
	}
	verdict := fullySigned(doc.RequiresSignature, sigs)

	if verdict && doc.State == model.StatePendingSignatures {
		res := tx.Model(&model.Document{}).
			Where("id = ? AND state = ?", documentID, model.StatePendingSignatures).
			Updates(map[string]interface{}{
				"state":        model.StateFullySigned,
				"fully_signed": true,
				"updated_at":   l.now(),
			})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil
	}

	if doc.FullySigned != verdict && doc.State != model.StateFullySigned {
		if err := tx.Model(&model.Document{}).Where("id = ?", documentID).
			Update("fully_signed", verdict).Error; err != nil {
			return false, err
		}
	}
	return false, nil
}

// expireOverdue moves every overdue pending document in docs to Expired and
// returns the ones it changed. Evaluated on read paths only.
func (l *Lifecycle) expireOverdue(tx *gorm.DB, docs []model.Document) ([]model.Document, error) {
	now := l.now()
	var expired []model.Document
	for i := range docs {
		d := docs[i]
		if d.State != model.StatePendingSignatures || !d.Overdue(now) {
			continue
		}
		res := tx.Model(&model.Document{}).
			Where("id = ? AND state = ?", d.ID, model.StatePendingSignatures).
			Updates(map[string]interface{}{"state": model.StateExpired, "fully_signed": false, "updated_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			d.State = model.StateExpired
			d.FullySigned = false
			expired = append(expired, d)
		}
	}
	return expired, nil
}

// dropRelationships removes every edge touching the document.
func dropRelationships(tx *gorm.DB, documentID uint) (int64, error) {
	res := tx.Where("source_document_id = ? OR target_document_id = ?", documentID, documentID).
		Delete(&model.Relationship{})
	return res.RowsAffected, res.Error
}

func signerIDs(tx *gorm.DB, documentID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&model.Signature{}).Where("document_id = ?", documentID).Order("id").Pluck("signer_id", &ids).Error
	return ids, err
}
