package usecase

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

func TestOrderUsecase_CreateOrderFromCart_ReservesStockAndEmptiesCart(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("100.00", 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 2})
	require.NoError(t, err)
	h.checkout(t, 7)

	out, err := h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{Notes: "  leave at door  "})
	require.NoError(t, err)

	assert.Equal(t, string(model.OrderStatusPendingPayment), out.Status)
	assert.True(t, out.Total.Equal(decimal.RequireFromString("200")), out.Total.String())
	assert.Equal(t, "leave at door", out.Notes)
	require.Len(t, out.Items, 1)
	assert.Equal(t, int64(2), out.Items[0].Quantity)
	assert.Regexp(t, `^ORD-\d{14}-\d{4}$`, out.OrderNumber)

	assert.Equal(t, int64(3), h.store.variantQty(vid))

	cart, err := h.carts.GetCart(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Nil(t, cart.CheckoutDate)

	assert.Contains(t, h.jobs.kinds(), JobOrderStatusChanged)
}

func TestOrderUsecase_CreateOrderFromCart_TotalsFollowPricing(t *testing.T) {
	pricing := Pricing{
		TaxRate:               decimal.RequireFromString("0.14"),
		ShippingFee:           decimal.RequireFromString("50"),
		FreeShippingThreshold: decimal.RequireFromString("1000"),
	}
	h := newHarness(t, RestockPolicy{}, pricing)
	ctx := context.Background()
	pid, vid := h.seedStock("19.99", 10)

	_, err := h.carts.AddItem(ctx, 1, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 3})
	require.NoError(t, err)
	h.checkout(t, 1)

	out, err := h.orders.CreateOrderFromCart(ctx, 1, CreateOrderInput{})
	require.NoError(t, err)

	assert.Equal(t, "59.97", out.Subtotal.StringFixed(2))
	assert.Equal(t, "8.40", out.Tax.StringFixed(2))
	assert.Equal(t, "50.00", out.Shipping.StringFixed(2))
	want := out.Subtotal.Add(out.Tax).Add(out.Shipping).Sub(out.Discount)
	assert.True(t, out.Total.Equal(want))

	var sum decimal.Decimal
	for _, it := range out.Items {
		assert.True(t, it.TotalPrice.Equal(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))))
		sum = sum.Add(it.TotalPrice)
	}
	assert.True(t, out.Subtotal.Equal(sum))
}

func TestOrderUsecase_CreateOrderFromCart_EmptyCart(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})

	_, err := h.orders.CreateOrderFromCart(context.Background(), 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusBadRequest)
	assertErrContains(t, err, "cart is empty")
}

func TestOrderUsecase_CreateOrderFromCart_RequiresCheckout(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 2})
	require.NoError(t, err)

	_, err = h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusConflict)
	assertErrContains(t, err, "checkout not started")
	assert.Equal(t, int64(5), h.store.variantQty(vid))

	// カート変更でチェックアウトは外れる
	h.checkout(t, 7)
	_, err = h.carts.UpdateItemQuantity(ctx, 7, vid, 1)
	require.NoError(t, err)
	_, err = h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusConflict)

	h.checkout(t, 7)
	out, err := h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	require.NoError(t, err)
	assert.True(t, out.Total.Equal(decimal.RequireFromString("10")), out.Total.String())
}

func TestOrderUsecase_CreateOrderFromCart_PriceChangedAfterCheckout(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 2})
	require.NoError(t, err)
	h.checkout(t, 7)
	h.store.setProductPrice(pid, "99")

	_, err = h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusConflict)
	assertErrContains(t, err, "price of variant")
	assert.Equal(t, int64(5), h.store.variantQty(vid))

	// GET /cart で新価格に寄せ、チェックアウトし直せば新しい合計で通る
	cart, err := h.carts.GetCart(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, cart.CheckoutDate)
	h.checkout(t, 7)

	out, err := h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	require.NoError(t, err)
	assert.True(t, out.Total.Equal(decimal.RequireFromString("198")), out.Total.String())
}

func TestOrderUsecase_CreateOrderFromCart_ReservesInVariantOrder(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid := h.store.seedProduct("10", true)
	v1 := h.store.seedVariant(pid, 5)
	v2 := h.store.seedVariant(pid, 5)
	v3 := h.store.seedVariant(pid, 5)

	// カートへの追加順とは無関係に id 昇順でロックする
	for _, v := range []int64{v3, v1, v2} {
		_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: v, Quantity: 1})
		require.NoError(t, err)
	}
	h.checkout(t, 7)
	h.store.lockOrder()

	_, err := h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	require.NoError(t, err)
	assert.Equal(t, []int64{v1, v2, v3}, h.store.lockOrder())
}

func TestOrderUsecase_CreateOrderFromCart_InsufficientStockRollsBackEveryLine(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, v1 := h.seedStock("10", 5)
	v2 := h.store.seedVariant(pid, 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: v1, Quantity: 2})
	require.NoError(t, err)
	_, err = h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: v2, Quantity: 4})
	require.NoError(t, err)
	h.checkout(t, 7)

	// 2 行目だけ在庫が減った
	h.store.setVariantQty(v2, 3)

	_, err = h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusConflict)
	assertErrContains(t, err, "insufficient stock")

	assert.Equal(t, int64(5), h.store.variantQty(v1))
	assert.Equal(t, int64(3), h.store.variantQty(v2))

	var orders int
	h.store.read(func(s *memState) { orders = len(s.orders) })
	assert.Zero(t, orders)
}

func TestOrderUsecase_CreateOrderFromCart_VariantGone(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
	require.NoError(t, err)
	h.checkout(t, 7)
	_, err = h.inventory.DeactivateVariant(ctx, 99, vid)
	require.NoError(t, err)

	_, err = h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusNotFound)
	assert.Equal(t, int64(5), h.store.variantQty(vid))
}

func TestOrderUsecase_CreateOrderFromCart_RetriesOrderNumberCollision(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)

	numbers := []string{"ORD-1", "ORD-1", "ORD-2"}
	h.orders.number = func(time.Time) string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}

	for _, user := range []int64{1, 2} {
		_, err := h.carts.AddItem(ctx, user, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
		require.NoError(t, err)
		h.checkout(t, user)
	}

	first, err := h.orders.CreateOrderFromCart(ctx, 1, CreateOrderInput{})
	require.NoError(t, err)
	second, err := h.orders.CreateOrderFromCart(ctx, 2, CreateOrderInput{})
	require.NoError(t, err)

	assert.Equal(t, "ORD-1", first.OrderNumber)
	assert.Equal(t, "ORD-2", second.OrderNumber)
}

func TestOrderUsecase_CreateOrderFromCart_OrderNumberExhausted(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)
	h.orders.number = func(time.Time) string { return "ORD-SAME" }

	for _, user := range []int64{1, 2} {
		_, err := h.carts.AddItem(ctx, user, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
		require.NoError(t, err)
		h.checkout(t, user)
	}
	_, err := h.orders.CreateOrderFromCart(ctx, 1, CreateOrderInput{})
	require.NoError(t, err)

	_, err = h.orders.CreateOrderFromCart(ctx, 2, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusConflict)
	assert.Equal(t, int64(4), h.store.variantQty(vid))
}

func TestOrderUsecase_CreateOrderFromCart_LastUnitGoesToOneBuyer(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 1)

	const buyers = 8
	for user := int64(1); user <= buyers; user++ {
		_, err := h.carts.AddItem(ctx, user, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
		require.NoError(t, err)
		h.checkout(t, user)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for user := int64(1); user <= buyers; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := h.orders.CreateOrderFromCart(ctx, user, CreateOrderInput{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if he, ok := AsHTTPError(err); ok && he.Status == http.StatusConflict {
				conflicts++
			}
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, conflicts)
	assert.Equal(t, int64(0), h.store.variantQty(vid))
}

func TestOrderUsecase_CreateOrderFromCart_Unauthorized(t *testing.T) {
	tx := &TxManagerMock{}
	u := NewOrderUsecase(tx, nil, time.Minute, Pricing{}, &recordingQueue{}, nil)

	_, err := u.CreateOrderFromCart(context.Background(), 0, CreateOrderInput{})
	assertHTTPStatus(t, err, http.StatusUnauthorized)
	tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestOrderUsecase_GetMyOrder_HidesOtherUsersOrders(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 5)

	_, err := h.carts.AddItem(ctx, 7, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
	require.NoError(t, err)
	h.checkout(t, 7)
	created, err := h.orders.CreateOrderFromCart(ctx, 7, CreateOrderInput{})
	require.NoError(t, err)

	got, err := h.orders.GetMyOrder(ctx, 7, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.OrderNumber, got.OrderNumber)

	byNumber, err := h.orders.GetMyOrderByNumber(ctx, 7, created.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNumber.ID)

	_, err = h.orders.GetMyOrder(ctx, 8, created.ID)
	assertHTTPStatus(t, err, http.StatusNotFound)

	_, err = h.orders.GetOrder(ctx, 12345)
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestOrderUsecase_List(t *testing.T) {
	h := newHarness(t, RestockPolicy{}, Pricing{})
	ctx := context.Background()
	pid, vid := h.seedStock("10", 10)

	for _, user := range []int64{1, 1, 2} {
		_, err := h.carts.AddItem(ctx, user, AddCartItemInput{ProductID: pid, VariantID: vid, Quantity: 1})
		require.NoError(t, err)
		h.checkout(t, user)
		_, err = h.orders.CreateOrderFromCart(ctx, user, CreateOrderInput{})
		require.NoError(t, err)
	}

	mine, err := h.orders.ListMyOrders(ctx, 1, repo.OrderListFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Total)
	require.Len(t, mine.Items, 2)
	assert.Greater(t, mine.Items[0].ID, mine.Items[1].ID)

	all, err := h.orders.ListAdmin(ctx, repo.OrderListFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Len(t, all.Items, 2)

	_, err = h.orders.ListAdmin(ctx, repo.OrderListFilter{Page: 1, Limit: 10, Status: "Bogus"})
	assertHTTPStatus(t, err, http.StatusBadRequest)
	_, err = h.orders.ListAdmin(ctx, repo.OrderListFilter{Page: 0, Limit: 10})
	assertHTTPStatus(t, err, http.StatusBadRequest)
}
