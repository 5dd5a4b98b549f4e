package repository

import (
	"context"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

// 1 つの対象（注文 / variant）の監査ログ。古い順
type AuditTrailFilter struct {
	ResourceType model.AuditResourceType
	ResourceID   int64
	// nil なら全 action
	Action *model.AuditAction
	Limit  int
	Offset int
}

type AuditLogRepository interface {
	// 変更と同じ tx で 1 件保存
	Create(ctx context.Context, log model.AuditLog) error

	// 対象ごとの履歴と総件数
	ListByResource(ctx context.Context, f AuditTrailFilter) ([]model.AuditLog, int64, error)
}
