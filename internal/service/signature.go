package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/lexflow/backend/pkg/encrypt"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SignatureService is the per-document signer ledger.
type SignatureService struct {
	db        *gorm.DB
	perms     *PermissionService
	lifecycle *Lifecycle
	activity  *Activity
	aesKey    string
	log       *zap.Logger
}

func NewSignatureService(db *gorm.DB, perms *PermissionService, lifecycle *Lifecycle, activity *Activity, aesKey string, log *zap.Logger) *SignatureService {
	return &SignatureService{
		db:        db,
		perms:     perms,
		lifecycle: lifecycle,
		activity:  activity,
		aesKey:    aesKey,
		log:       log.With(zap.String("service", "signature")),
	}
}

// Capture is the request metadata stored with a signer's action.
type Capture struct {
	IP        string
	UserAgent string
}

var requestableStates = map[model.DocumentState]bool{
	model.StateDraft:             true,
	model.StateProgress:          true,
	model.StatePendingSignatures: true,
}

// RequestSignatures adds the missing signer rows and puts the document in
// PendingSignatures. Existing rows are left as they are.
func (s *SignatureService) RequestSignatures(ctx context.Context, documentID uint, actor *model.User, signers []uint, dueDate *time.Time) ([]model.Signature, error) {
	signers = uniqueIDs(signers)
	if len(signers) == 0 {
		return nil, invalid("signer_ids", "at least one signer is required")
	}
	if dueDate != nil && dueDate.Before(s.lifecycle.now()) {
		return nil, invalid("due_date", "must be in the future")
	}

	var (
		doc   *model.Document
		added []uint
		sigs  []model.Signature
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := s.perms.requireUse(tx, doc, actor); err != nil {
			return err
		}
		if !requestableStates[doc.State] {
			return conflict(doc.State, "signatures cannot be requested")
		}

		found, err := s.perms.dir.existing(tx, signers)
		if err != nil {
			return err
		}
		for _, id := range signers {
			if !found[id] {
				return invalid("signer_ids", "user %d not found", id)
			}
		}

		current, err := signerIDs(tx, doc.ID)
		if err != nil {
			return err
		}
		have := make(map[uint]bool, len(current))
		for _, id := range current {
			have[id] = true
		}
		for _, id := range signers {
			if have[id] {
				continue
			}
			if err := tx.Create(&model.Signature{DocumentID: doc.ID, SignerID: id}).Error; err != nil {
				return err
			}
			added = append(added, id)
		}

		extra := map[string]interface{}{"requires_signature": true, "fully_signed": false}
		if dueDate != nil {
			extra["signature_due_date"] = dueDate.UTC()
		}
		if doc.State == model.StatePendingSignatures {
			extra["updated_at"] = s.lifecycle.now()
			if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(extra).Error; err != nil {
				return err
			}
		} else if err := s.lifecycle.transition(tx, doc, model.StatePendingSignatures, extra); err != nil {
			return err
		}

		if err := tx.Preload("Signer").Where("document_id = ?", doc.ID).Order("id").Find(&sigs).Error; err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "request_signatures", doc.ID, map[string]interface{}{
			"signers":  signers,
			"added":    added,
			"due_date": dueDate,
		})
	})
	if err != nil {
		return nil, err
	}

	s.activity.publish(ctx, documentID, "signatures_requested", map[string]interface{}{"added": added, "due_date": dueDate})
	extra := map[string]string{"actor": actor.Name}
	if dueDate != nil {
		extra["due_date"] = dueDate.Format("2006-01-02")
	}
	doc.State = model.StatePendingSignatures
	s.activity.notifyUsers(ctx, s.db, added, notify.TemplateSignatureRequested, doc, extra)
	return sigs, nil
}

// List returns the ledger of a document the actor can view.
func (s *SignatureService) List(ctx context.Context, documentID uint, actor *model.User) ([]model.Signature, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}
	var sigs []model.Signature
	if err := db.Preload("Signer").Where("document_id = ?", documentID).Order("id").Find(&sigs).Error; err != nil {
		return nil, err
	}
	return sigs, nil
}

// loadPendingRow loads the signer's row on a document awaiting signatures.
func loadPendingRow(tx *gorm.DB, doc *model.Document, signerID uint) (*model.Signature, error) {
	if doc.State != model.StatePendingSignatures {
		return nil, conflict(doc.State, "document is not awaiting signatures")
	}
	var sig model.Signature
	if err := tx.Where("document_id = ? AND signer_id = ?", doc.ID, signerID).First(&sig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("signature")
		}
		return nil, err
	}
	if sig.Signed {
		return nil, conflict(doc.State, "signer has already signed")
	}
	if sig.Rejected {
		return nil, conflict(doc.State, "signer has already rejected")
	}
	return &sig, nil
}

// actOnRow updates a still-pending row. A concurrent action on the same row
// makes the guarded update miss and is reported as a conflict.
func actOnRow(tx *gorm.DB, doc *model.Document, sig *model.Signature, updates map[string]interface{}) error {
	res := tx.Model(&model.Signature{}).
		Where("id = ? AND signed = ? AND rejected = ?", sig.ID, false, false).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return conflict(doc.State, "signature was already acted on")
	}
	return nil
}

func (s *SignatureService) captureMetadata(c Capture, at time.Time) (string, map[string]interface{}) {
	ip := c.IP
	if ip != "" && s.aesKey != "" {
		enc, err := encrypt.AESEncrypt(s.aesKey, ip)
		if err != nil {
			s.log.Warn("encrypt signer ip failed", zap.Error(err))
			ip = ""
		} else {
			ip = enc
		}
	}
	return ip, map[string]interface{}{
		"user_agent":  c.UserAgent,
		"captured_at": at.Format(time.RFC3339),
	}
}

// RevealIP decrypts the stored signer address.
func (s *SignatureService) RevealIP(sig *model.Signature) (string, error) {
	if sig.IPAddress == "" || s.aesKey == "" {
		return sig.IPAddress, nil
	}
	return encrypt.AESDecrypt(s.aesKey, sig.IPAddress)
}

type SignResult struct {
	Signature *model.Signature `json:"signature"`
	Document  *model.Document  `json:"document"`
}

// Sign records the signer's signature and recomputes the document verdict.
// A failing recomputation is logged and does not undo the signature.
func (s *SignatureService) Sign(ctx context.Context, documentID, signerID uint, actor *model.User, c Capture) (*SignResult, error) {
	if actor.ID != signerID {
		return nil, denied("sign on behalf of another user")
	}

	var (
		result      SignResult
		becameFully bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		sig, err := loadPendingRow(tx, doc, signerID)
		if err != nil {
			return err
		}

		now := s.lifecycle.now()
		ip, meta := s.captureMetadata(c, now)
		if err := actOnRow(tx, doc, sig, map[string]interface{}{
			"signed":           true,
			"signed_at":        now,
			"ip_address":       ip,
			"capture_metadata": datatypes.JSONMap(meta),
		}); err != nil {
			return err
		}
		if err := s.activity.record(ctx, tx, actor.ID, "sign_document", doc.ID, map[string]interface{}{"signer_id": signerID}); err != nil {
			return err
		}

		becameFully = s.recomputeSafely(tx, doc.ID)

		if result.Document, err = loadDocument(tx, doc.ID); err != nil {
			return err
		}
		result.Signature = &model.Signature{}
		return tx.Preload("Signer").First(result.Signature, sig.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.activity.publish(ctx, documentID, "signature_signed", map[string]interface{}{"signer_id": signerID})
	if becameFully {
		s.onFullySigned(ctx, result.Document)
	}
	return &result, nil
}

// recomputeSafely runs the recomputation in a savepoint so its failure rolls
// back only its own writes.
func (s *SignatureService) recomputeSafely(tx *gorm.DB, documentID uint) bool {
	var became bool
	err := tx.Transaction(func(inner *gorm.DB) error {
		var err error
		became, err = s.lifecycle.recompute(inner, documentID)
		return err
	})
	if err != nil {
		s.log.Error("recompute signature verdict failed", zap.Uint("document_id", documentID), zap.Error(err))
		return false
	}
	return became
}

func (s *SignatureService) onFullySigned(ctx context.Context, doc *model.Document) {
	s.log.Info("document fully signed", zap.Uint("document_id", doc.ID))
	s.activity.publish(ctx, doc.ID, "document_fully_signed", map[string]interface{}{"state": doc.State})
	signers, err := signerIDs(s.db.WithContext(ctx), doc.ID)
	if err != nil {
		s.log.Warn("load signers for notification failed", zap.Uint("document_id", doc.ID), zap.Error(err))
	}
	s.activity.notifyUsers(ctx, s.db, append(signers, doc.CreatedByID), notify.TemplateDocumentFullySigned, doc, nil)
}

// Reject records the signer's rejection. Any single rejection moves the
// whole document to Rejected.
func (s *SignatureService) Reject(ctx context.Context, documentID, signerID uint, actor *model.User, comment string, c Capture) (*SignResult, error) {
	if actor.ID != signerID {
		return nil, denied("reject on behalf of another user")
	}

	var result SignResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		sig, err := loadPendingRow(tx, doc, signerID)
		if err != nil {
			return err
		}

		now := s.lifecycle.now()
		ip, meta := s.captureMetadata(c, now)
		if err := actOnRow(tx, doc, sig, map[string]interface{}{
			"rejected":          true,
			"rejected_at":       now,
			"rejection_comment": comment,
			"ip_address":        ip,
			"capture_metadata":  datatypes.JSONMap(meta),
		}); err != nil {
			return err
		}
		if err := s.lifecycle.transition(tx, doc, model.StateRejected, map[string]interface{}{"fully_signed": false}); err != nil {
			return err
		}
		if err := s.activity.record(ctx, tx, actor.ID, "reject_document", doc.ID, map[string]interface{}{
			"signer_id": signerID,
			"comment":   comment,
		}); err != nil {
			return err
		}

		result.Document = doc
		result.Signature = &model.Signature{}
		return tx.Preload("Signer").First(result.Signature, sig.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.activity.publish(ctx, documentID, "document_rejected", map[string]interface{}{"signer_id": signerID, "comment": comment})
	signers, err := signerIDs(s.db.WithContext(ctx), documentID)
	if err != nil {
		s.log.Warn("load signers for notification failed", zap.Uint("document_id", documentID), zap.Error(err))
	}
	recipients := without(append(signers, result.Document.CreatedByID), signerID)
	s.activity.notifyUsers(ctx, s.db, recipients, notify.TemplateDocumentRejected, result.Document, map[string]string{
		"actor":   actor.Name,
		"comment": comment,
	})
	return &result, nil
}

// Withdraw removes a pending signer from the ledger. Only the document's
// creator may withdraw, and only rows the signer has not acted on.
func (s *SignatureService) Withdraw(ctx context.Context, documentID, signerID uint, actor *model.User) (*model.Document, error) {
	var (
		doc         *model.Document
		becameFully bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if !doc.IsOwner(actor.ID) {
			return denied("withdraw signature request")
		}
		sig, err := loadPendingRow(tx, doc, signerID)
		if err != nil {
			return err
		}
		if err := tx.Delete(sig).Error; err != nil {
			return err
		}
		if err := s.activity.record(ctx, tx, actor.ID, "withdraw_signature", doc.ID, map[string]interface{}{"signer_id": signerID}); err != nil {
			return err
		}
		becameFully = s.recomputeSafely(tx, doc.ID)
		doc, err = loadDocument(tx, doc.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.activity.publish(ctx, documentID, "signature_withdrawn", map[string]interface{}{"signer_id": signerID})
	if becameFully {
		s.onFullySigned(ctx, doc)
	}
	return doc, nil
}

var reopenableStates = map[model.DocumentState]bool{
	model.StatePendingSignatures: true,
	model.StateFullySigned:       true,
	model.StateRejected:          true,
	model.StateExpired:           true,
}

// Reopen clears every signer's action and restarts the round in
// PendingSignatures. The signer roster is kept. A due date already in the
// past is cleared, and leaving FullySigned drops the document's relationships.
func (s *SignatureService) Reopen(ctx context.Context, documentID uint, actor *model.User) (*model.Document, error) {
	var (
		doc     *model.Document
		signers []uint
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if !doc.IsOwner(actor.ID) && !s.perms.dir.IsElevated(actor) {
			return denied("reopen signing round")
		}
		if !reopenableStates[doc.State] {
			return conflict(doc.State, "no signing round to reopen")
		}
		from := doc.State

		if err := tx.Model(&model.Signature{}).Where("document_id = ?", doc.ID).Updates(map[string]interface{}{
			"signed":            false,
			"rejected":          false,
			"signed_at":         nil,
			"rejected_at":       nil,
			"rejection_comment": "",
			"ip_address":        "",
			"capture_metadata":  nil,
		}).Error; err != nil {
			return err
		}

		extra := map[string]interface{}{"requires_signature": true, "fully_signed": false}
		if doc.Overdue(s.lifecycle.now()) {
			extra["signature_due_date"] = nil
		}
		if from == model.StatePendingSignatures {
			extra["updated_at"] = s.lifecycle.now()
			if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(extra).Error; err != nil {
				return err
			}
		} else if err := s.lifecycle.transition(tx, doc, model.StatePendingSignatures, extra); err != nil {
			return err
		}

		var dropped int64
		if from == model.StateFullySigned {
			if dropped, err = dropRelationships(tx, doc.ID); err != nil {
				return err
			}
		}
		if signers, err = signerIDs(tx, doc.ID); err != nil {
			return err
		}
		if err := s.activity.record(ctx, tx, actor.ID, "reopen_signatures", doc.ID, map[string]interface{}{
			"from":                  from,
			"relationships_dropped": dropped,
		}); err != nil {
			return err
		}
		doc, err = loadDocument(tx, doc.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.activity.publish(ctx, documentID, "signing_reopened", map[string]interface{}{"signers": signers})
	s.activity.notifyUsers(ctx, s.db, signers, notify.TemplateSigningReopened, doc, map[string]string{"actor": actor.Name})
	return doc, nil
}

// PendingSigners lists the signers that have not acted yet, sorted by id.
func PendingSigners(sigs []model.Signature) []uint {
	var ids []uint
	for i := range sigs {
		if sigs[i].Pending() {
			ids = append(ids, sigs[i].SignerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
