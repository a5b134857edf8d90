package model

import "time"

// Relationship is an undirected edge between two documents stored as one
// directional row. Existence checks must look at both orientations.
type Relationship struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SourceDocumentID uint      `gorm:"not null;uniqueIndex:uk_relationship_pair;index:idx_relationship_source" json:"source_document_id"`
	TargetDocumentID uint      `gorm:"not null;uniqueIndex:uk_relationship_pair;index:idx_relationship_target" json:"target_document_id"`
	CreatedByID      uint      `gorm:"not null" json:"created_by_id"`
	CreatedAt        time.Time `json:"created_at"`

	SourceDocument *Document `gorm:"foreignKey:SourceDocumentID" json:"source_document,omitempty"`
	TargetDocument *Document `gorm:"foreignKey:TargetDocumentID" json:"target_document,omitempty"`
}

func (Relationship) TableName() string { return "document_relationships" }

// Other returns the endpoint opposite to documentID.
func (r *Relationship) Other(documentID uint) uint {
	if r.SourceDocumentID == documentID {
		return r.TargetDocumentID
	}
	return r.SourceDocumentID
}
