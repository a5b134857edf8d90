package model

import "time"

type DocumentState string

const (
	StateDraft             DocumentState = "Draft"
	StateProgress          DocumentState = "Progress"
	StateCompleted         DocumentState = "Completed"
	StatePendingSignatures DocumentState = "PendingSignatures"
	StateFullySigned       DocumentState = "FullySigned"
	StateRejected          DocumentState = "Rejected"
	StateExpired           DocumentState = "Expired"
)

// Valid reports whether s is one of the persisted state values.
func (s DocumentState) Valid() bool {
	switch s {
	case StateDraft, StateProgress, StateCompleted, StatePendingSignatures,
		StateFullySigned, StateRejected, StateExpired:
		return true
	}
	return false
}

// Relatable reports whether documents in this state may take part in a relationship.
func (s DocumentState) Relatable() bool {
	return s == StateCompleted || s == StateFullySigned
}

// Editable reports whether title, content and variables may change in this state.
func (s DocumentState) Editable() bool {
	switch s {
	case StateDraft, StateProgress, StateRejected, StateExpired:
		return true
	}
	return false
}

type Document struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	Title             string        `gorm:"type:varchar(256);not null" json:"title"`
	Content           string        `gorm:"type:text" json:"content"`
	State             DocumentState `gorm:"type:varchar(20);not null;default:Draft;index:idx_state" json:"state"`
	IsPublic          bool          `gorm:"not null;default:false" json:"is_public"`
	RequiresSignature bool          `gorm:"not null;default:false" json:"requires_signature"`
	FullySigned       bool          `gorm:"not null;default:false" json:"fully_signed"`
	SignatureDueDate  *time.Time    `json:"signature_due_date"`
	CreatedByID       uint          `gorm:"not null;index:idx_created_by" json:"created_by_id"`
	AssignedToID      *uint         `gorm:"index:idx_assigned_to" json:"assigned_to_id"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`

	CreatedBy  *User `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	AssignedTo *User `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
}

func (Document) TableName() string { return "documents" }

// IsOwner reports whether userID authored the document.
func (d *Document) IsOwner(userID uint) bool {
	return d.CreatedByID == userID
}

// IsAssignee reports whether userID is the document's assignee.
func (d *Document) IsAssignee(userID uint) bool {
	return d.AssignedToID != nil && *d.AssignedToID == userID
}

// Overdue reports whether the signature due date has passed at now.
func (d *Document) Overdue(now time.Time) bool {
	return d.SignatureDueDate != nil && d.SignatureDueDate.Before(now)
}
