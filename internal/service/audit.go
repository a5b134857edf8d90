package service

import (
	"context"
	"time"

	"github.com/lexflow/backend/internal/model"
	"gorm.io/gorm"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

type AuditFilter struct {
	UserID     *uint
	DocumentID *uint
	Action     string
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

func (s *AuditService) List(ctx context.Context, f AuditFilter) ([]model.OperationLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.OperationLog{})

	if f.UserID != nil {
		query = query.Where("user_id = ?", *f.UserID)
	}
	if f.DocumentID != nil {
		query = query.Where("resource_type = ? AND resource_id = ?", "document", *f.DocumentID)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.StartTime != nil {
		query = query.Where("created_at >= ?", *f.StartTime)
	}
	if f.EndTime != nil {
		query = query.Where("created_at <= ?", *f.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []model.OperationLog
	if err := query.Preload("User").Order("created_at desc").Order("id desc").Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
