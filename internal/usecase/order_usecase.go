package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/events"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

const orderNumberAttempts = 5

// ORD-<yyyyMMddHHmmss>-<4桁>
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.UTC().Format("20060102150405"), rand.IntN(10000))
}

type OrderUsecase struct {
	tx       repo.TransactionManager
	cache    cache.Cache
	cacheTTL time.Duration
	pricing  Pricing
	fx       sideEffects
	now      func() time.Time
	number   func(time.Time) string
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	c cache.Cache,
	cacheTTL time.Duration,
	pricing Pricing,
	q queue.Enqueuer,
	log *zap.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		tx:       tx,
		cache:    c,
		cacheTTL: cacheTTL,
		pricing:  pricing,
		fx:       newSideEffects(q, log),
		now:      time.Now,
		number:   NewOrderNumber,
	}
}

type CreateOrderInput struct {
	Notes string
}

type OrderItemOutput struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	VariantID  int64           `json:"variant_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type OrderOutput struct {
	ID          int64             `json:"id"`
	OrderNumber string            `json:"order_number"`
	UserID      int64             `json:"user_id"`
	Status      string            `json:"status"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	Tax         decimal.Decimal   `json:"tax"`
	Shipping    decimal.Decimal   `json:"shipping"`
	Discount    decimal.Decimal   `json:"discount"`
	Total       decimal.Decimal   `json:"total"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time        `json:"refunded_at,omitempty"`
	ReturnedAt  *time.Time        `json:"returned_at,omitempty"`
	Items       []OrderItemOutput `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// CreateOrderFromCart turns the user's cart into a PendingPayment order.
// The cart must have passed BeginCheckout and its price snapshots must still
// match; otherwise 409 and the client re-runs checkout. Stock for every line
// is reserved in the same transaction; one shortfall rolls back all of them.
func (u *OrderUsecase) CreateOrderFromCart(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxNoteLen {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "notes too long")
	}

	var out OrderOutput
	a := &afterCommit{}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return NewHTTPError(http.StatusBadRequest, "cart is empty")
		}
		if cart.CheckoutDate == nil {
			return NewHTTPError(http.StatusConflict, "checkout not started")
		}
		// variant の行ロックは常に id 昇順で取る
		sort.Slice(cartItems, func(i, j int) bool { return cartItems[i].VariantID < cartItems[j].VariantID })

		now := u.now()
		orderItems := make([]model.OrderItem, 0, len(cartItems))
		subtotal := decimal.Zero
		variantIDs := make([]int64, 0, len(cartItems))

		for _, ci := range cartItems {
			p, err := r.Products().FindByID(ctx, ci.ProductID)
			if err == repo.ErrNotFound || (err == nil && !p.IsActive) {
				return errf(http.StatusNotFound, "product %d not found", ci.ProductID)
			}
			if err != nil {
				return err
			}
			if !p.Price.Equal(ci.UnitPrice) {
				return errf(http.StatusConflict, "price of variant %d has changed", ci.VariantID)
			}

			v, err := r.Variants().FindByID(ctx, ci.VariantID)
			if err == repo.ErrNotFound || (err == nil && (!v.Sellable() || v.ProductID != ci.ProductID)) {
				return errf(http.StatusNotFound, "variant %d not found", ci.VariantID)
			}
			if err != nil {
				return err
			}

			ok, err := tryReserve(ctx, r, ci.VariantID, ci.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return errf(http.StatusConflict, "insufficient stock for variant %d", ci.VariantID)
			}

			line := ci.LineTotal()
			orderItems = append(orderItems, model.OrderItem{
				ProductID:  ci.ProductID,
				VariantID:  ci.VariantID,
				Quantity:   ci.Quantity,
				UnitPrice:  ci.UnitPrice,
				TotalPrice: line,
				OrderedAt:  now,
			})
			subtotal = subtotal.Add(line)
			variantIDs = append(variantIDs, ci.VariantID)
		}

		number, err := u.freeOrderNumber(ctx, r, now)
		if err != nil {
			return err
		}

		t := u.pricing.Quote(subtotal)
		order := model.Order{
			UserID:      userID,
			OrderNumber: number,
			Status:      model.OrderStatusPendingPayment,
			Subtotal:    t.Subtotal,
			Tax:         t.Tax,
			Shipping:    t.Shipping,
			Discount:    t.Discount,
			Total:       t.Total,
			Notes:       notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.Orders().Create(ctx, &order); err != nil {
			if err == repo.ErrDuplicate {
				return NewHTTPError(http.StatusConflict, "order number collision, retry")
			}
			return err
		}

		if err := r.OrderItems().CreateBulk(ctx, order.ID, orderItems); err != nil {
			return err
		}

		// カートを空にしてチェックアウト解除
		if err := r.CartItems().DeleteByCartID(ctx, cart.ID); err != nil {
			return err
		}
		if err := r.Carts().SetCheckoutDate(ctx, cart.ID, nil); err != nil {
			return err
		}

		a.invalidate(append([]string{cache.TagCart(userID), cache.TagOrders}, variantTags(variantIDs...)...)...)
		a.orderEvent(events.OrderStatusChanged{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      userID,
			To:          string(order.Status),
			ActorUserID: userID,
			OccurredAt:  now,
		})

		out = toOrderOutput(order, orderItems)
		return a.err
	})
	if err != nil {
		return OrderOutput{}, u.fx.result(ctx, "order.create", err)
	}

	u.fx.flush(ctx, a)
	return out, nil
}

// 既存と被らない番号を探す。最終的な保証は unique index
func (u *OrderUsecase) freeOrderNumber(ctx context.Context, r repo.TxRepos, now time.Time) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		n := u.number(now)
		exists, err := r.Orders().ExistsByNumber(ctx, n)
		if err != nil {
			return "", err
		}
		if !exists {
			return n, nil
		}
		logger.From(ctx, u.fx.log).Warn("order number collision", zap.String("order_number", n), zap.Int("attempt", i+1))
	}
	return "", NewHTTPError(http.StatusConflict, "could not allocate order number, retry")
}

// GetMyOrder returns one of the user's orders; other users' orders are 404.
func (u *OrderUsecase) GetMyOrder(ctx context.Context, userID, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	out, err := u.getCached(ctx, cache.KeyOrderByID(orderID), func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByID(ctx, orderID)
	})
	if err != nil {
		return OrderOutput{}, err
	}
	if out.UserID != userID {
		//他人の注文は「存在しない扱い」にする
		return OrderOutput{}, errOrderNotFound
	}
	return out, nil
}

func (u *OrderUsecase) GetMyOrderByNumber(ctx context.Context, userID int64, orderNumber string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" || len(orderNumber) > 40 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}

	out, err := u.getCached(ctx, cache.KeyOrderByNumber(orderNumber), func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByNumber(ctx, orderNumber)
	})
	if err != nil {
		return OrderOutput{}, err
	}
	if out.UserID != userID {
		return OrderOutput{}, errOrderNotFound
	}
	return out, nil
}

// 管理者用（所有チェックなし）
func (u *OrderUsecase) GetOrder(ctx context.Context, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.getCached(ctx, cache.KeyOrderByID(orderID), func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByID(ctx, orderID)
	})
}

func (u *OrderUsecase) getCached(ctx context.Context, key string, load func(r repo.TxRepos) (model.Order, error)) (OrderOutput, error) {
	var out OrderOutput
	if hit, err := u.cache.Get(ctx, key, &out); err != nil {
		logger.From(ctx, u.fx.log).Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return out, nil
	}
	// 読む前の世代。途中で遷移が invalidate したら書き戻さない
	gen, genErr := u.cache.Snapshot(ctx, cache.TagOrders)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := load(r)
		if err == repo.ErrNotFound {
			return errOrderNotFound
		}
		if err != nil {
			return err
		}
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.fx.result(ctx, "order.get", err)
	}

	storeCache(ctx, u.cache, u.fx.log, key, out, u.cacheTTL, gen, genErr, cache.TagOrder(out.ID), cache.TagOrders)
	return out, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, f repo.OrderListFilter) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, errUnauthorized
	}
	f.UserID = &userID
	return u.list(ctx, f)
}

func (u *OrderUsecase) ListAdmin(ctx context.Context, f repo.OrderListFilter) (OrderListOutput, error) {
	return u.list(ctx, f)
}

func (u *OrderUsecase) list(ctx context.Context, f repo.OrderListFilter) (OrderListOutput, error) {
	if f.Page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" && !f.Status.Valid() {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid date range")
	}

	out := OrderListOutput{Page: f.Page, Limit: f.Limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().List(ctx, f)
		if err != nil {
			return err
		}
		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, u.fx.result(ctx, "order.list", err)
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:         it.ID,
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		})
	}

	return OrderOutput{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Subtotal:    o.Subtotal,
		Tax:         o.Tax,
		Shipping:    o.Shipping,
		Discount:    o.Discount,
		Total:       o.Total,
		Notes:       o.Notes,
		CreatedAt:   o.CreatedAt,
		ConfirmedAt: o.ConfirmedAt,
		ShippedAt:   o.ShippedAt,
		DeliveredAt: o.DeliveredAt,
		CompletedAt: o.CompletedAt,
		CancelledAt: o.CancelledAt,
		RefundedAt:  o.RefundedAt,
		ReturnedAt:  o.ReturnedAt,
		Items:       outItems,
	}
}
