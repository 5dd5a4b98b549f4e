package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	FindByVariant(ctx context.Context, cartID int64, variantID int64) (model.CartItem, error)
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	UpdateUnitPrice(ctx context.Context, cartItemID int64, price decimal.Decimal) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	DeleteByCartID(ctx context.Context, cartID int64) error
}
