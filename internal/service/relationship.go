package service

import (
	"context"
	"errors"

	"github.com/lexflow/backend/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RelationshipService struct {
	db       *gorm.DB
	perms    *PermissionService
	activity *Activity
	log      *zap.Logger
}

func NewRelationshipService(db *gorm.DB, perms *PermissionService, activity *Activity, log *zap.Logger) *RelationshipService {
	return &RelationshipService{
		db:       db,
		perms:    perms,
		activity: activity,
		log:      log.With(zap.String("service", "relationship")),
	}
}

// findEdge looks the pair up in both stored orientations.
func findEdge(tx *gorm.DB, a, b uint) (*model.Relationship, error) {
	var rel model.Relationship
	err := tx.Where("(source_document_id = ? AND target_document_id = ?) OR (source_document_id = ? AND target_document_id = ?)", a, b, b, a).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

// Create links two finalized documents. The edge is undirected; the stored
// orientation is the one given by the caller.
func (s *RelationshipService) Create(ctx context.Context, actor *model.User, sourceID, targetID uint) (*model.Relationship, error) {
	if sourceID == targetID {
		return nil, invalid("target_document_id", "a document cannot be related to itself")
	}

	var rel *model.Relationship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock in id order so two opposite requests cannot deadlock
		first, second := sourceID, targetID
		if first > second {
			first, second = second, first
		}
		locked := map[uint]*model.Document{}
		for _, id := range []uint{first, second} {
			doc, err := lockDocument(tx, id)
			if err != nil {
				return err
			}
			locked[id] = doc
		}

		for _, id := range []uint{sourceID, targetID} {
			doc := locked[id]
			if err := s.perms.requireUse(tx, doc, actor); err != nil {
				return err
			}
			if !doc.State.Relatable() {
				return conflict(doc.State, "document %d is not finalized", doc.ID)
			}
		}

		existing, err := findEdge(tx, sourceID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invalid("target_document_id", "documents %d and %d are already related", sourceID, targetID)
		}

		rel = &model.Relationship{SourceDocumentID: sourceID, TargetDocumentID: targetID, CreatedByID: actor.ID}
		if err := tx.Create(rel).Error; err != nil {
			return err
		}
		detail := map[string]interface{}{"source_document_id": sourceID, "target_document_id": targetID}
		if err := s.activity.record(ctx, tx, actor.ID, "create_relationship", sourceID, detail); err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "create_relationship", targetID, detail)
	})
	if err != nil {
		return nil, err
	}
	s.publishEdge(ctx, "relationship_created", rel)
	return rel, nil
}

func (s *RelationshipService) publishEdge(ctx context.Context, event string, rel *model.Relationship) {
	data := map[string]interface{}{
		"id":                 rel.ID,
		"source_document_id": rel.SourceDocumentID,
		"target_document_id": rel.TargetDocumentID,
	}
	s.activity.publish(ctx, rel.SourceDocumentID, event, data)
	s.activity.publish(ctx, rel.TargetDocumentID, event, data)
}

// Remove deletes the edge between a and b whichever side was stored as source.
func (s *RelationshipService) Remove(ctx context.Context, actor *model.User, a, b uint) error {
	return s.remove(ctx, actor, func(tx *gorm.DB) (*model.Relationship, error) {
		return findEdge(tx, a, b)
	})
}

func (s *RelationshipService) RemoveByID(ctx context.Context, actor *model.User, id uint) error {
	return s.remove(ctx, actor, func(tx *gorm.DB) (*model.Relationship, error) {
		var rel model.Relationship
		if err := tx.First(&rel, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &rel, nil
	})
}

// remove requires the actor to be able to use at least one endpoint.
func (s *RelationshipService) remove(ctx context.Context, actor *model.User, find func(*gorm.DB) (*model.Relationship, error)) error {
	var rel *model.Relationship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rel, err = find(tx)
		if err != nil {
			return err
		}
		if rel == nil {
			return notFound("relationship")
		}

		allowed := false
		for _, id := range []uint{rel.SourceDocumentID, rel.TargetDocumentID} {
			doc, err := loadDocument(tx, id)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return err
			}
			ok, err := s.perms.CanUse(tx, doc, actor)
			if err != nil {
				return err
			}
			if ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return denied("remove relationship")
		}

		if err := tx.Delete(rel).Error; err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "remove_relationship", rel.SourceDocumentID, map[string]interface{}{
			"source_document_id": rel.SourceDocumentID,
			"target_document_id": rel.TargetDocumentID,
		})
	})
	if err != nil {
		return err
	}
	s.publishEdge(ctx, "relationship_removed", rel)
	return nil
}

// List returns the edges touching the document.
func (s *RelationshipService) List(ctx context.Context, documentID uint, actor *model.User) ([]model.Relationship, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}
	var rels []model.Relationship
	err = db.Preload("SourceDocument").Preload("TargetDocument").
		Where("source_document_id = ? OR target_document_id = ?", documentID, documentID).
		Order("id").Find(&rels).Error
	return rels, err
}

// Related returns the documents on the other end of every edge. With a nil
// viewer the result is unfiltered; otherwise each document must be viewable.
func (s *RelationshipService) Related(ctx context.Context, documentID uint, viewer *model.User) ([]model.Document, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if viewer != nil {
		if err := s.perms.requireView(db, doc, viewer); err != nil {
			return nil, err
		}
	}

	ids, err := connectedIDs(db, documentID)
	if err != nil {
		return nil, err
	}
	var docs []model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	if err := db.Where("id IN ?", ids).Order("id").Find(&docs).Error; err != nil {
		return nil, err
	}
	if viewer == nil {
		return docs, nil
	}

	out := make([]model.Document, 0, len(docs))
	for i := range docs {
		ok, err := s.perms.CanView(db, &docs[i], viewer)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, docs[i])
		}
	}
	return out, nil
}

func connectedIDs(tx *gorm.DB, documentID uint) ([]uint, error) {
	var rels []model.Relationship
	if err := tx.Where("source_document_id = ? OR target_document_id = ?", documentID, documentID).Find(&rels).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rels))
	for i := range rels {
		ids = append(ids, rels[i].Other(documentID))
	}
	return uniqueIDs(ids), nil
}

// Candidates returns the actor's own finalized documents that could be
// related to the document: itself and already connected ones excluded.
func (s *RelationshipService) Candidates(ctx context.Context, documentID uint, actor *model.User) ([]model.Document, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}

	exclude, err := connectedIDs(db, documentID)
	if err != nil {
		return nil, err
	}
	exclude = append(exclude, documentID)

	var docs []model.Document
	err = db.Where("created_by_id = ? AND state IN ? AND id NOT IN ?", actor.ID,
		[]model.DocumentState{model.StateCompleted, model.StateFullySigned}, exclude).
		Order("updated_at desc").Order("id desc").
		Find(&docs).Error
	return docs, err
}
