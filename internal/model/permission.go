package model

import "time"

type PermissionTier string

const (
	TierVisibility PermissionTier = "visibility"
	TierUsability  PermissionTier = "usability"
)

type VisibilityPermission struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DocumentID  uint      `gorm:"not null;uniqueIndex:uk_visibility_document_user" json:"document_id"`
	UserID      uint      `gorm:"not null;uniqueIndex:uk_visibility_document_user;index:idx_visibility_user" json:"user_id"`
	GrantedByID uint      `json:"granted_by_id"`
	GrantedAt   time.Time `gorm:"autoCreateTime" json:"granted_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (VisibilityPermission) TableName() string { return "document_visibility_permissions" }

type UsabilityPermission struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DocumentID  uint      `gorm:"not null;uniqueIndex:uk_usability_document_user" json:"document_id"`
	UserID      uint      `gorm:"not null;uniqueIndex:uk_usability_document_user;index:idx_usability_user" json:"user_id"`
	GrantedByID uint      `json:"granted_by_id"`
	GrantedAt   time.Time `gorm:"autoCreateTime" json:"granted_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (UsabilityPermission) TableName() string { return "document_usability_permissions" }
