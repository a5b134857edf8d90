package model

import (
	"time"

	"gorm.io/datatypes"
)

type Variable struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	DocumentID   uint                        `gorm:"not null;uniqueIndex:uk_document_key" json:"document_id"`
	Key          string                      `gorm:"column:variable_key;type:varchar(64);not null;uniqueIndex:uk_document_key" json:"key"`
	FieldType    string                      `gorm:"type:varchar(16);not null;default:text" json:"field_type"`
	Value        string                      `gorm:"type:text" json:"value"`
	Options      datatypes.JSONSlice[string] `json:"options"`
	Currency     string                      `gorm:"type:varchar(3)" json:"currency,omitempty"`
	SummaryField string                      `gorm:"type:varchar(32)" json:"summary_field,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (Variable) TableName() string { return "document_variables" }
