package model

import (
	"time"

	"gorm.io/datatypes"
)

// Signature is one signer's entry in a document's signing round.
// Signed and Rejected are mutually exclusive.
type Signature struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	DocumentID       uint              `gorm:"not null;uniqueIndex:uk_document_signer" json:"document_id"`
	SignerID         uint              `gorm:"not null;uniqueIndex:uk_document_signer;index:idx_signer" json:"signer_id"`
	Signed           bool              `gorm:"not null;default:false" json:"signed"`
	Rejected         bool              `gorm:"not null;default:false" json:"rejected"`
	SignedAt         *time.Time        `json:"signed_at"`
	RejectedAt       *time.Time        `json:"rejected_at"`
	RejectionComment string            `gorm:"type:text" json:"rejection_comment,omitempty"`
	IPAddress        string            `gorm:"type:varchar(255)" json:"-"`
	CaptureMetadata  datatypes.JSONMap `json:"capture_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	Signer *User `gorm:"foreignKey:SignerID" json:"signer,omitempty"`
}

func (Signature) TableName() string { return "document_signatures" }

// Pending reports whether the signer has not acted yet.
func (s *Signature) Pending() bool {
	return !s.Signed && !s.Rejected
}
