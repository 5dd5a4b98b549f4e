package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type auditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) repo.AuditLogRepository {
	return &auditLogGormRepository{db: db}
}

func (r *auditLogGormRepository) Create(ctx context.Context, log model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

// ListByResource は (resource_type, resource_id) の履歴を id 昇順で返す
func (r *auditLogGormRepository) ListByResource(ctx context.Context, f repo.AuditTrailFilter) ([]model.AuditLog, int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.AuditLog{}).
		Where("resource_type = ? AND resource_id = ?", f.ResourceType, f.ResourceID)
	if f.Action != nil {
		q = q.Where("action = ?", *f.Action)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var logs []model.AuditLog
	if err := q.Order("id ASC").Limit(limit).Offset(max(f.Offset, 0)).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
