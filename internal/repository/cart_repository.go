package repository

import (
	"context"
	"time"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type CartRepository interface {
	// カートを行ロック付きで取得し、無ければ作成する
	GetOrCreateForUpdate(ctx context.Context, userID int64) (model.Cart, error)
	// nil でチェックアウト解除
	SetCheckoutDate(ctx context.Context, cartID int64, at *time.Time) error
}
