package repository

import (
	"context"
	"time"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type OrderListFilter struct {
	Page   int
	Limit  int
	Status model.OrderStatus
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (model.Order, error)

	// SELECT ... FOR UPDATE
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByNumberForUpdate(ctx context.Context, orderNumber string) (model.Order, error)

	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)

	// ID と Version が埋まる。order_number 衝突は ErrDuplicate。
	Create(ctx context.Context, order *model.Order) error

	// status とライフサイクル時刻を保存する。
	// WHERE version = order.Version; mismatch returns ErrConcurrentUpdate.
	// On success order.Version is incremented.
	SaveStatus(ctx context.Context, order *model.Order) error

	MarkInventoryReleased(ctx context.Context, orderID int64, at time.Time) error

	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)
}
