package repository

import (
	"context"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type ProductRepository interface {
	// 削除済みは ErrNotFound
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
