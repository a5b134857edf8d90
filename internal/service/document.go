package service

import (
	"context"
	"sort"
	"strings"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentService is the lifecycle controller's entry point for authoring,
// explicit transitions and the read paths that evaluate expiration.
type DocumentService struct {
	db        *gorm.DB
	perms     *PermissionService
	lifecycle *Lifecycle
	activity  *Activity
	log       *zap.Logger
}

func NewDocumentService(db *gorm.DB, perms *PermissionService, lifecycle *Lifecycle, activity *Activity, log *zap.Logger) *DocumentService {
	return &DocumentService{
		db:        db,
		perms:     perms,
		lifecycle: lifecycle,
		activity:  activity,
		log:       log.With(zap.String("service", "document")),
	}
}

type CreateDocumentInput struct {
	Title        string
	Content      string
	AssignedToID *uint
	IsPublic     bool
}

func (s *DocumentService) Create(ctx context.Context, actor *model.User, in CreateDocumentInput) (*model.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "must not be empty")
	}

	doc := &model.Document{
		Title:        title,
		Content:      in.Content,
		State:        model.StateDraft,
		IsPublic:     in.IsPublic,
		CreatedByID:  actor.ID,
		AssignedToID: in.AssignedToID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.AssignedToID != nil {
			found, err := s.perms.dir.existing(tx, []uint{*in.AssignedToID})
			if err != nil {
				return err
			}
			if !found[*in.AssignedToID] {
				return invalid("assigned_to_id", "user %d not found", *in.AssignedToID)
			}
		}
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "create_document", doc.ID, map[string]interface{}{"title": doc.Title})
	})
	if err != nil {
		return nil, err
	}
	s.activity.publish(ctx, doc.ID, "document_created", doc)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id uint, actor *model.User) (*model.Document, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db.Preload("CreatedBy").Preload("AssignedTo"), id)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}
	return doc, nil
}

type UpdateDocumentInput struct {
	Title        *string
	Content      *string
	AssignedToID *uint
}

// Update edits title, content or assignee. Only editable states accept edits.
func (s *DocumentService) Update(ctx context.Context, id uint, actor *model.User, in UpdateDocumentInput) (*model.Document, error) {
	var doc *model.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = lockDocument(tx, id)
		if err != nil {
			return err
		}
		if err := s.perms.requireUse(tx, doc, actor); err != nil {
			return err
		}
		if !doc.State.Editable() {
			return conflict(doc.State, "document cannot be edited")
		}

		updates := map[string]interface{}{}
		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return invalid("title", "must not be empty")
			}
			updates["title"] = title
		}
		if in.Content != nil {
			updates["content"] = *in.Content
		}
		if in.AssignedToID != nil {
			found, err := s.perms.dir.existing(tx, []uint{*in.AssignedToID})
			if err != nil {
				return err
			}
			if !found[*in.AssignedToID] {
				return invalid("assigned_to_id", "user %d not found", *in.AssignedToID)
			}
			updates["assigned_to_id"] = *in.AssignedToID
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
			return err
		}
		if doc, err = loadDocument(tx, id); err != nil {
			return err
		}
		fields := make([]string, 0, len(updates))
		for k := range updates {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		return s.activity.record(ctx, tx, actor.ID, "update_document", doc.ID, map[string]interface{}{"fields": fields})
	})
	if err != nil {
		return nil, err
	}
	s.activity.publish(ctx, id, "document_updated", doc)
	return doc, nil
}

// ChangeState performs an explicit transition. Leaving Completed drops every
// relationship touching the document in the same transaction.
func (s *DocumentService) ChangeState(ctx context.Context, id uint, actor *model.User, to model.DocumentState) (*model.Document, error) {
	if !to.Valid() {
		return nil, invalid("state", "unknown state %q", to)
	}

	var (
		doc     *model.Document
		from    model.DocumentState
		dropped int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = lockDocument(tx, id)
		if err != nil {
			return err
		}
		if err := s.perms.requireUse(tx, doc, actor); err != nil {
			return err
		}
		from = doc.State
		if !canTransition(from, to) {
			return conflict(from, "cannot move document to %s", to)
		}
		if err := s.lifecycle.transition(tx, doc, to, nil); err != nil {
			return err
		}
		if from == model.StateCompleted {
			if dropped, err = dropRelationships(tx, doc.ID); err != nil {
				return err
			}
		}
		return s.activity.record(ctx, tx, actor.ID, "change_state", doc.ID, map[string]interface{}{
			"from":                  from,
			"to":                    to,
			"relationships_dropped": dropped,
		})
	})
	if err != nil {
		return nil, err
	}
	s.activity.publish(ctx, id, "state_changed", map[string]interface{}{"from": from, "to": to, "relationships_dropped": dropped})
	return doc, nil
}

// Delete removes the document with its relationships, signatures, grants and
// variables.
func (s *DocumentService) Delete(ctx context.Context, id uint, actor *model.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		if !doc.IsOwner(actor.ID) && !s.perms.dir.IsElevated(actor) {
			return denied("delete document")
		}
		if _, err := dropRelationships(tx, id); err != nil {
			return err
		}
		for _, m := range []interface{}{&model.Signature{}, &model.VisibilityPermission{}, &model.UsabilityPermission{}, &model.Variable{}} {
			if err := tx.Where("document_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&model.Document{}, id).Error; err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "delete_document", id, map[string]interface{}{"title": doc.Title})
	})
	if err != nil {
		return err
	}
	s.activity.publish(ctx, id, "document_deleted", map[string]interface{}{"id": id})
	return nil
}

type ListFilter struct {
	State    model.DocumentState
	Keyword  string
	Page     int
	PageSize int
}

// visibleScope restricts a query to documents actor can view.
func (s *DocumentService) visibleScope(actor *model.User) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if s.perms.dir.IsElevated(actor) {
			return q
		}
		return q.Where(
			"(created_by_id = ? OR assigned_to_id = ? OR is_public = ? OR id IN (?) OR id IN (?) OR id IN (?))",
			actor.ID, actor.ID, true,
			s.db.Model(&model.Signature{}).Select("document_id").Where("signer_id = ?", actor.ID),
			s.db.Model(&model.VisibilityPermission{}).Select("document_id").Where("user_id = ?", actor.ID),
			s.db.Model(&model.UsabilityPermission{}).Select("document_id").Where("user_id = ?", actor.ID),
		)
	}
}

// List returns the documents actor can view. Overdue pending documents in
// that set are expired before the page is read.
func (s *DocumentService) List(ctx context.Context, actor *model.User, f ListFilter) ([]model.Document, int64, error) {
	db := s.db.WithContext(ctx)

	var pending []model.Document
	if err := db.Model(&model.Document{}).Scopes(s.visibleScope(actor)).
		Where("state = ? AND signature_due_date IS NOT NULL", model.StatePendingSignatures).
		Find(&pending).Error; err != nil {
		return nil, 0, err
	}
	if err := s.expire(ctx, actor, pending); err != nil {
		return nil, 0, err
	}

	query := db.Model(&model.Document{}).Scopes(s.visibleScope(actor))
	if f.State != "" {
		query = query.Where("state = ?", f.State)
	}
	if f.Keyword != "" {
		query = query.Where("title LIKE ?", "%"+f.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []model.Document
	if err := query.Preload("CreatedBy").Preload("AssignedTo").
		Order("updated_at desc").Order("id desc").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListPendingSignatures returns the documents awaiting actor's signature.
// Overdue ones are moved to Expired as a side effect and left out.
func (s *DocumentService) ListPendingSignatures(ctx context.Context, actor *model.User) ([]model.Document, error) {
	db := s.db.WithContext(ctx)

	var docs []model.Document
	err := db.Model(&model.Document{}).
		Where("state = ?", model.StatePendingSignatures).
		Where("id IN (?)", db.Model(&model.Signature{}).Select("document_id").
			Where("signer_id = ? AND signed = ? AND rejected = ?", actor.ID, false, false)).
		Preload("CreatedBy").
		Order("signature_due_date").Order("id").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	if err := s.expire(ctx, actor, docs); err != nil {
		return nil, err
	}

	out := make([]model.Document, 0, len(docs))
	now := s.lifecycle.now()
	for _, d := range docs {
		if !d.Overdue(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DocumentService) expire(ctx context.Context, actor *model.User, candidates []model.Document) error {
	if len(candidates) == 0 {
		return nil
	}
	var expired []model.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		expired, err = s.lifecycle.expireOverdue(tx, candidates)
		if err != nil {
			return err
		}
		for _, d := range expired {
			if err := s.activity.record(ctx, tx, actor.ID, "expire_document", d.ID, map[string]interface{}{
				"due_date": d.SignatureDueDate,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range expired {
		d := &expired[i]
		s.log.Info("document expired", zap.Uint("document_id", d.ID))
		s.activity.publish(ctx, d.ID, "document_expired", map[string]interface{}{"due_date": d.SignatureDueDate})
		signers, err := signerIDs(s.db.WithContext(ctx), d.ID)
		if err != nil {
			s.log.Warn("load signers for expiry notification failed", zap.Uint("document_id", d.ID), zap.Error(err))
		}
		s.activity.notifyUsers(ctx, s.db, append(signers, d.CreatedByID), notify.TemplateDocumentExpired, d, map[string]string{
			"due_date": d.SignatureDueDate.Format("2006-01-02"),
		})
	}
	return nil
}

type Stats struct {
	Total               int64                         `json:"total"`
	ByState             map[model.DocumentState]int64 `json:"by_state"`
	AwaitingMySignature int64                         `json:"awaiting_my_signature"`
}

// Stats counts the documents actor can view, grouped by state.
func (s *DocumentService) Stats(ctx context.Context, actor *model.User) (*Stats, error) {
	db := s.db.WithContext(ctx)

	var rows []struct {
		State model.DocumentState
		N     int64
	}
	if err := db.Model(&model.Document{}).Scopes(s.visibleScope(actor)).
		Select("state, count(*) AS n").Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Stats{ByState: make(map[model.DocumentState]int64, len(rows))}
	for _, r := range rows {
		stats.ByState[r.State] = r.N
		stats.Total += r.N
	}

	err := db.Model(&model.Signature{}).
		Joins("JOIN documents ON documents.id = document_signatures.document_id").
		Where("document_signatures.signer_id = ? AND document_signatures.signed = ? AND document_signatures.rejected = ?", actor.ID, false, false).
		Where("documents.state = ?", model.StatePendingSignatures).
		Count(&stats.AwaitingMySignature).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
