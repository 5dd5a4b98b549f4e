package usecase

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

const maxCartItemQuantity = 1000

// CartUsecase は /cart の業務ロジック。
// Every mutation locks the cart row first, so concurrent requests for the same
// user are serialized while other carts proceed.
type CartUsecase struct {
	tx       repo.TransactionManager
	cache    cache.Cache
	cacheTTL time.Duration
	fx       sideEffects
	now      func() time.Time
}

func NewCartUsecase(tx repo.TransactionManager, c cache.Cache, cacheTTL time.Duration, q queue.Enqueuer, log *zap.Logger) *CartUsecase {
	return &CartUsecase{
		tx:       tx,
		cache:    c,
		cacheTTL: cacheTTL,
		fx:       newSideEffects(q, log),
		now:      time.Now,
	}
}

type CartItemOutput struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartOutput struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	Items        []CartItemOutput `json:"items"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	CheckoutDate *time.Time       `json:"checkout_date,omitempty"`
}

type AddCartItemInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

// GetCart returns the cart after reconciling it with current prices and stock.
// Price drift updates the snapshot; lines above stock are clamped, or dropped
// when nothing is left. Any change clears the checkout flag.
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}

	var out CartOutput
	if hit, err := u.cache.Get(ctx, cache.KeyCart(userID), &out); err != nil {
		logger.From(ctx, u.fx.log).Warn("cache get failed", zap.Int64("user_id", userID), zap.Error(err))
	} else if hit {
		return out, nil
	}
	gen, genErr := u.cache.Snapshot(ctx, cache.TagCart(userID), cache.TagVariants)

	a := &afterCommit{}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}

		changed := false
		kept := make([]model.CartItem, 0, len(items))
		for _, it := range items {
			next, keep, err := reconcileItem(ctx, r, it)
			if err != nil {
				return err
			}
			if !keep {
				if err := r.CartItems().DeleteByID(ctx, it.ID); err != nil {
					return err
				}
				changed = true
				continue
			}
			if next.Quantity != it.Quantity {
				if err := r.CartItems().UpdateQuantity(ctx, it.ID, next.Quantity); err != nil {
					return err
				}
				changed = true
			}
			if !next.UnitPrice.Equal(it.UnitPrice) {
				if err := r.CartItems().UpdateUnitPrice(ctx, it.ID, next.UnitPrice); err != nil {
					return err
				}
				changed = true
			}
			kept = append(kept, next)
		}

		if changed && cart.CheckoutDate != nil {
			if err := r.Carts().SetCheckoutDate(ctx, cart.ID, nil); err != nil {
				return err
			}
			cart.CheckoutDate = nil
		}
		if changed {
			a.invalidate(cache.TagCart(userID))
		}

		out = toCartOutput(cart, kept)
		return a.err
	})
	if err != nil {
		return CartOutput{}, u.fx.result(ctx, "cart.get", err)
	}
	u.fx.flush(ctx, a)

	// 変更があった場合は invalidate と競合するのでキャッシュしない
	if len(a.jobs) == 0 {
		storeCache(ctx, u.cache, u.fx.log, cache.KeyCart(userID), out, u.cacheTTL, gen, genErr, cartTags(userID, out)...)
	}
	return out, nil
}

// 商品・variant の現状に合わせる。keep=false は削除
func reconcileItem(ctx context.Context, r repo.TxRepos, it model.CartItem) (model.CartItem, bool, error) {
	p, err := r.Products().FindByID(ctx, it.ProductID)
	if err == repo.ErrNotFound {
		return it, false, nil
	}
	if err != nil {
		return it, false, err
	}
	v, err := r.Variants().FindByID(ctx, it.VariantID)
	if err == repo.ErrNotFound {
		return it, false, nil
	}
	if err != nil {
		return it, false, err
	}
	if !p.IsActive || !v.Sellable() || v.ProductID != it.ProductID || v.Quantity <= 0 {
		return it, false, nil
	}

	next := it
	if next.Quantity > v.Quantity {
		next.Quantity = v.Quantity
	}
	if !p.Price.Equal(next.UnitPrice) {
		next.UnitPrice = p.Price
	}
	return next, true, nil
}

// AddItem はカートに追加（同一 variant は数量加算）。価格はこの時点で取り直す。
func (u *CartUsecase) AddItem(ctx context.Context, userID int64, in AddCartItemInput) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}
	if in.ProductID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.VariantID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid variant_id")
	}
	if in.Quantity < 1 || in.Quantity > maxCartItemQuantity {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	return u.mutate(ctx, userID, "cart.add", func(r repo.TxRepos, cart model.Cart) error {
		p, v, err := sellableVariant(ctx, r, in.ProductID, in.VariantID)
		if err != nil {
			return err
		}

		existing, err := r.CartItems().FindByVariant(ctx, cart.ID, in.VariantID)
		if err != nil && err != repo.ErrNotFound {
			return err
		}
		found := err == nil

		newQty := in.Quantity
		if found {
			newQty += existing.Quantity
		}
		if newQty > v.Quantity {
			return errf(http.StatusConflict, "only %d left in stock", v.Quantity)
		}

		if !found {
			_, err := r.CartItems().Create(ctx, model.CartItem{
				CartID:    cart.ID,
				ProductID: in.ProductID,
				VariantID: in.VariantID,
				Quantity:  newQty,
				UnitPrice: p.Price,
			})
			return err
		}
		if err := r.CartItems().UpdateQuantity(ctx, existing.ID, newQty); err != nil {
			return err
		}
		if !existing.UnitPrice.Equal(p.Price) {
			return r.CartItems().UpdateUnitPrice(ctx, existing.ID, p.Price)
		}
		return nil
	})
}

// 数量変更（在庫チェック）
func (u *CartUsecase) UpdateItemQuantity(ctx context.Context, userID, variantID, qty int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}
	if variantID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid variant_id")
	}
	if qty < 1 || qty > maxCartItemQuantity {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	return u.mutate(ctx, userID, "cart.update", func(r repo.TxRepos, cart model.Cart) error {
		item, err := r.CartItems().FindByVariant(ctx, cart.ID, variantID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "cart item not found")
		}
		if err != nil {
			return err
		}

		_, v, err := sellableVariant(ctx, r, item.ProductID, variantID)
		if err != nil {
			return err
		}
		if qty > v.Quantity {
			return errf(http.StatusConflict, "only %d left in stock", v.Quantity)
		}
		return r.CartItems().UpdateQuantity(ctx, item.ID, qty)
	})
}

// 明細削除
func (u *CartUsecase) RemoveItem(ctx context.Context, userID, variantID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}
	if variantID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid variant_id")
	}

	return u.mutate(ctx, userID, "cart.remove", func(r repo.TxRepos, cart model.Cart) error {
		item, err := r.CartItems().FindByVariant(ctx, cart.ID, variantID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "cart item not found")
		}
		if err != nil {
			return err
		}
		return r.CartItems().DeleteByID(ctx, item.ID)
	})
}

func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}
	return u.mutate(ctx, userID, "cart.clear", func(r repo.TxRepos, cart model.Cart) error {
		return r.CartItems().DeleteByCartID(ctx, cart.ID)
	})
}

// BeginCheckout re-validates every line and stamps checkout_date.
// Stock shortfalls and price drift are 409; GET /cart then shows the
// reconciled cart.
func (u *CartUsecase) BeginCheckout(ctx context.Context, userID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, errUnauthorized
	}

	var out CartOutput
	a := &afterCommit{}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return NewHTTPError(http.StatusBadRequest, "cart is empty")
		}

		for _, it := range items {
			next, keep, err := reconcileItem(ctx, r, it)
			if err != nil {
				return err
			}
			if !keep || next.Quantity != it.Quantity {
				return errf(http.StatusConflict, "variant %d no longer has enough stock", it.VariantID)
			}
			if !next.UnitPrice.Equal(it.UnitPrice) {
				return errf(http.StatusConflict, "price of variant %d has changed", it.VariantID)
			}
		}

		now := u.now()
		if err := r.Carts().SetCheckoutDate(ctx, cart.ID, &now); err != nil {
			return err
		}
		cart.CheckoutDate = &now

		a.invalidate(cache.TagCart(userID))
		out = toCartOutput(cart, items)
		return a.err
	})
	if err != nil {
		return CartOutput{}, u.fx.result(ctx, "cart.checkout", err)
	}
	u.fx.flush(ctx, a)
	return out, nil
}

// mutate runs fn on the locked cart, clears the checkout flag and returns the
// resulting cart.
func (u *CartUsecase) mutate(ctx context.Context, userID int64, op string, fn func(r repo.TxRepos, cart model.Cart) error) (CartOutput, error) {
	var out CartOutput
	a := &afterCommit{}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		if err := fn(r, cart); err != nil {
			return err
		}

		// 中身が変わったらチェックアウトはやり直し
		if cart.CheckoutDate != nil {
			if err := r.Carts().SetCheckoutDate(ctx, cart.ID, nil); err != nil {
				return err
			}
			cart.CheckoutDate = nil
		}

		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		a.invalidate(cache.TagCart(userID))
		out = toCartOutput(cart, items)
		return a.err
	})
	if err != nil {
		return CartOutput{}, u.fx.result(ctx, op, err)
	}

	u.fx.flush(ctx, a)
	return out, nil
}

func sellableVariant(ctx context.Context, r repo.TxRepos, productID, variantID int64) (model.Product, model.ProductVariant, error) {
	p, err := r.Products().FindByID(ctx, productID)
	if err == repo.ErrNotFound || (err == nil && !p.IsActive) {
		return model.Product{}, model.ProductVariant{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return model.Product{}, model.ProductVariant{}, err
	}

	v, err := r.Variants().FindByID(ctx, variantID)
	if err == repo.ErrNotFound || (err == nil && (!v.Sellable() || v.ProductID != productID)) {
		return model.Product{}, model.ProductVariant{}, NewHTTPError(http.StatusNotFound, "variant not found")
	}
	if err != nil {
		return model.Product{}, model.ProductVariant{}, err
	}
	return p, v, nil
}

func toCartOutput(cart model.Cart, items []model.CartItem) CartOutput {
	out := CartOutput{
		ID:           cart.ID,
		UserID:       cart.UserID,
		Items:        make([]CartItemOutput, 0, len(items)),
		Subtotal:     decimal.Zero,
		CheckoutDate: cart.CheckoutDate,
	}
	for _, it := range items {
		line := it.LineTotal()
		out.Items = append(out.Items, CartItemOutput{
			ID:        it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: line,
		})
		out.Subtotal = out.Subtotal.Add(line)
	}
	return out
}

// variant の在庫変更でもカートのキャッシュを捨てる
func cartTags(userID int64, out CartOutput) []string {
	tags := []string{cache.TagCart(userID)}
	for _, it := range out.Items {
		tags = append(tags, cache.TagVariant(it.VariantID))
	}
	return tags
}
