package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/events"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/paymob"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

// =====================
// in-memory unit of work
// =====================

// memState は DB の代わり。WithinTx の開始時に複製し、エラーなら戻す
type memState struct {
	seq         int64
	products    map[int64]model.Product
	variants    map[int64]model.ProductVariant
	adjustments []model.InventoryAdjustment
	carts       map[int64]model.Cart
	cartItems   map[int64]model.CartItem
	orders      map[int64]model.Order
	orderItems  map[int64]model.OrderItem
	payments    map[int64]model.Payment
	webhooks    map[int64]model.PaymentWebhook
	audits      []model.AuditLog
}

func newMemState() *memState {
	return &memState{
		products:   map[int64]model.Product{},
		variants:   map[int64]model.ProductVariant{},
		carts:      map[int64]model.Cart{},
		cartItems:  map[int64]model.CartItem{},
		orders:     map[int64]model.Order{},
		orderItems: map[int64]model.OrderItem{},
		payments:   map[int64]model.Payment{},
		webhooks:   map[int64]model.PaymentWebhook{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		seq:         s.seq,
		products:    cloneMap(s.products),
		variants:    cloneMap(s.variants),
		adjustments: append([]model.InventoryAdjustment(nil), s.adjustments...),
		carts:       cloneMap(s.carts),
		cartItems:   cloneMap(s.cartItems),
		orders:      cloneMap(s.orders),
		orderItems:  cloneMap(s.orderItems),
		payments:    cloneMap(s.payments),
		webhooks:    cloneMap(s.webhooks),
		audits:      append([]model.AuditLog(nil), s.audits...),
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// memStore は TransactionManager。tx は直列に実行する
type memStore struct {
	mu   sync.Mutex
	st   *memState
	fail map[string]error
	// variant 行を更新した順（ロック順）。rollback しても残す
	locked []int64
}

func newMemStore() *memStore {
	return &memStore{st: newMemState(), fail: map[string]error{}}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.st.clone()
	if err := fn(&memRepos{m: m}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

func (m *memStore) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *memStore) injected(op string) error {
	return m.fail[op]
}

// lockOrder は記録したロック順を返してリセットする
func (m *memStore) lockOrder() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.locked
	m.locked = nil
	return out
}

// 読み取り用（tx の外から状態を見る）
func (m *memStore) read(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.st)
}

func (m *memStore) seedProduct(price string, active bool) int64 {
	var id int64
	m.read(func(s *memState) {
		id = s.nextID()
		s.products[id] = model.Product{ID: id, Name: "jeans", Price: decimal.RequireFromString(price), IsActive: active}
	})
	return id
}

func (m *memStore) seedVariant(productID, qty int64) int64 {
	var id int64
	m.read(func(s *memState) {
		id = s.nextID()
		s.variants[id] = model.ProductVariant{ID: id, ProductID: productID, Size: "M", Quantity: qty, IsActive: true, Version: 1}
	})
	return id
}

func (m *memStore) variantQty(id int64) int64 {
	var q int64
	m.read(func(s *memState) { q = s.variants[id].Quantity })
	return q
}

func (m *memStore) order(id int64) model.Order {
	var o model.Order
	m.read(func(s *memState) { o = s.orders[id] })
	return o
}

func (m *memStore) setProductPrice(id int64, price string) {
	m.read(func(s *memState) {
		p := s.products[id]
		p.Price = decimal.RequireFromString(price)
		s.products[id] = p
	})
}

func (m *memStore) setVariantQty(id, qty int64) {
	m.read(func(s *memState) {
		v := s.variants[id]
		v.Quantity = qty
		s.variants[id] = v
	})
}

func (m *memStore) setOrderStatus(id int64, st model.OrderStatus) {
	m.read(func(s *memState) {
		o := s.orders[id]
		o.Status = st
		s.orders[id] = o
	})
}

func (m *memStore) counts() (webhooks, payments, audits int) {
	m.read(func(s *memState) {
		webhooks, payments, audits = len(s.webhooks), len(s.payments), len(s.audits)
	})
	return
}

type memRepos struct{ m *memStore }

func (r *memRepos) Products() repo.ProductRepository               { return memProducts{r.m} }
func (r *memRepos) Variants() repo.VariantRepository               { return memVariants{r.m} }
func (r *memRepos) Carts() repo.CartRepository                     { return memCarts{r.m} }
func (r *memRepos) CartItems() repo.CartItemRepository             { return memCartItems{r.m} }
func (r *memRepos) Orders() repo.OrderRepository                   { return memOrders{r.m} }
func (r *memRepos) OrderItems() repo.OrderItemRepository           { return memOrderItems{r.m} }
func (r *memRepos) Payments() repo.PaymentRepository               { return memPayments{r.m} }
func (r *memRepos) PaymentWebhooks() repo.PaymentWebhookRepository { return memWebhooks{r.m} }
func (r *memRepos) AuditLogs() repo.AuditLogRepository             { return memAudits{r.m} }

type memProducts struct{ m *memStore }

func (r memProducts) FindByID(_ context.Context, id int64) (model.Product, error) {
	p, ok := r.m.st.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type memVariants struct{ m *memStore }

func (r memVariants) FindByID(_ context.Context, id int64) (model.ProductVariant, error) {
	v, ok := r.m.st.variants[id]
	if !ok || v.DeletedAt.Valid {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	return v, nil
}

func (r memVariants) TryAdjustQuantity(_ context.Context, id, delta, minResulting int64) (int64, error) {
	if err := r.m.injected("variants.adjust"); err != nil {
		return 0, err
	}
	r.m.locked = append(r.m.locked, id)
	v, ok := r.m.st.variants[id]
	if !ok || v.DeletedAt.Valid || v.Quantity+delta < minResulting {
		return 0, nil
	}
	v.Quantity += delta
	v.Version++
	r.m.st.variants[id] = v
	return 1, nil
}

func (r memVariants) Release(_ context.Context, id, qty int64) (int64, error) {
	if err := r.m.injected("variants.release"); err != nil {
		return 0, err
	}
	r.m.locked = append(r.m.locked, id)
	v, ok := r.m.st.variants[id]
	if !ok {
		return 0, nil
	}
	v.Quantity += qty
	v.Version++
	r.m.st.variants[id] = v
	return 1, nil
}

func (r memVariants) SetActive(_ context.Context, id int64, active bool) (int64, error) {
	v, ok := r.m.st.variants[id]
	if !ok || v.DeletedAt.Valid {
		return 0, nil
	}
	v.IsActive = active
	v.Version++
	r.m.st.variants[id] = v
	return 1, nil
}

func (r memVariants) CreateAdjustment(_ context.Context, adj model.InventoryAdjustment) error {
	adj.ID = r.m.st.nextID()
	r.m.st.adjustments = append(r.m.st.adjustments, adj)
	return nil
}

type memCarts struct{ m *memStore }

func (r memCarts) GetOrCreateForUpdate(_ context.Context, userID int64) (model.Cart, error) {
	if c, ok := r.byUser(userID); ok {
		return c, nil
	}
	c := model.Cart{ID: r.m.st.nextID(), UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.m.st.carts[c.ID] = c
	return c, nil
}

func (r memCarts) byUser(userID int64) (model.Cart, bool) {
	for _, c := range r.m.st.carts {
		if c.UserID == userID {
			return c, true
		}
	}
	return model.Cart{}, false
}

func (r memCarts) SetCheckoutDate(_ context.Context, cartID int64, at *time.Time) error {
	c, ok := r.m.st.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	c.CheckoutDate = at
	r.m.st.carts[cartID] = c
	return nil
}

type memCartItems struct{ m *memStore }

func (r memCartItems) ListByCartID(_ context.Context, cartID int64) ([]model.CartItem, error) {
	out := []model.CartItem{}
	for _, it := range r.m.st.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memCartItems) FindByVariant(_ context.Context, cartID, variantID int64) (model.CartItem, error) {
	for _, it := range r.m.st.cartItems {
		if it.CartID == cartID && it.VariantID == variantID {
			return it, nil
		}
	}
	return model.CartItem{}, repo.ErrNotFound
}

func (r memCartItems) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	if _, err := r.FindByVariant(ctx, item.CartID, item.VariantID); err == nil {
		return model.CartItem{}, repo.ErrDuplicate
	}
	item.ID = r.m.st.nextID()
	r.m.st.cartItems[item.ID] = item
	return item, nil
}

func (r memCartItems) UpdateQuantity(_ context.Context, id, qty int64) error {
	it, ok := r.m.st.cartItems[id]
	if !ok {
		return repo.ErrNotFound
	}
	it.Quantity = qty
	r.m.st.cartItems[id] = it
	return nil
}

func (r memCartItems) UpdateUnitPrice(_ context.Context, id int64, price decimal.Decimal) error {
	it, ok := r.m.st.cartItems[id]
	if !ok {
		return repo.ErrNotFound
	}
	it.UnitPrice = price
	r.m.st.cartItems[id] = it
	return nil
}

func (r memCartItems) DeleteByID(_ context.Context, id int64) error {
	if _, ok := r.m.st.cartItems[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.m.st.cartItems, id)
	return nil
}

func (r memCartItems) DeleteByCartID(_ context.Context, cartID int64) error {
	for id, it := range r.m.st.cartItems {
		if it.CartID == cartID {
			delete(r.m.st.cartItems, id)
		}
	}
	return nil
}

type memOrders struct{ m *memStore }

func (r memOrders) FindByID(_ context.Context, id int64) (model.Order, error) {
	o, ok := r.m.st.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r memOrders) FindByNumber(_ context.Context, n string) (model.Order, error) {
	for _, o := range r.m.st.orders {
		if o.OrderNumber == n {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r memOrders) FindByIDForUpdate(ctx context.Context, id int64) (model.Order, error) {
	return r.FindByID(ctx, id)
}

func (r memOrders) FindByNumberForUpdate(ctx context.Context, n string) (model.Order, error) {
	return r.FindByNumber(ctx, n)
}

func (r memOrders) ExistsByNumber(ctx context.Context, n string) (bool, error) {
	_, err := r.FindByNumber(ctx, n)
	return err == nil, nil
}

func (r memOrders) Create(ctx context.Context, o *model.Order) error {
	if ok, _ := r.ExistsByNumber(ctx, o.OrderNumber); ok {
		return repo.ErrDuplicate
	}
	o.ID = r.m.st.nextID()
	o.Version = 1
	r.m.st.orders[o.ID] = *o
	return nil
}

func (r memOrders) SaveStatus(_ context.Context, o *model.Order) error {
	if err := r.m.injected("orders.save"); err != nil {
		return err
	}
	cur, ok := r.m.st.orders[o.ID]
	if !ok || cur.Version != o.Version {
		return repo.ErrConcurrentUpdate
	}
	o.Version++
	cur.Status = o.Status
	cur.ConfirmedAt, cur.ProcessingAt, cur.ShippedAt = o.ConfirmedAt, o.ProcessingAt, o.ShippedAt
	cur.DeliveredAt, cur.CompletedAt, cur.CancelledAt = o.DeliveredAt, o.CompletedAt, o.CancelledAt
	cur.RefundedAt, cur.ReturnedAt = o.RefundedAt, o.ReturnedAt
	cur.Version = o.Version
	r.m.st.orders[o.ID] = cur
	return nil
}

func (r memOrders) MarkInventoryReleased(_ context.Context, id int64, at time.Time) error {
	o, ok := r.m.st.orders[id]
	if !ok || o.InventoryReleasedAt != nil {
		return repo.ErrConcurrentUpdate
	}
	o.InventoryReleasedAt = &at
	r.m.st.orders[id] = o
	return nil
}

func (r memOrders) List(_ context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range r.m.st.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := (f.Page - 1) * f.Limit
	if start > len(all) {
		start = len(all)
	}
	end := min(start+f.Limit, len(all))
	return all[start:end], total, nil
}

type memOrderItems struct{ m *memStore }

func (r memOrderItems) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		it.ID = r.m.st.nextID()
		it.OrderID = orderID
		r.m.st.orderItems[it.ID] = it
	}
	return nil
}

func (r memOrderItems) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	out := []model.OrderItem{}
	for _, it := range r.m.st.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPayments struct{ m *memStore }

func (r memPayments) FindLatestByOrderID(_ context.Context, orderID int64) (model.Payment, error) {
	var latest model.Payment
	for _, p := range r.m.st.payments {
		if p.OrderID == orderID && p.ID > latest.ID {
			latest = p
		}
	}
	if latest.ID == 0 {
		return model.Payment{}, repo.ErrNotFound
	}
	return latest, nil
}

func (r memPayments) Create(_ context.Context, p *model.Payment) error {
	if err := r.m.injected("payments.create"); err != nil {
		return err
	}
	for _, ex := range r.m.st.payments {
		if ex.OrderID == p.OrderID && ex.Status == p.Status && ex.Method == p.Method {
			return repo.ErrDuplicate
		}
	}
	p.ID = r.m.st.nextID()
	p.Version = 1
	r.m.st.payments[p.ID] = *p
	return nil
}

func (r memPayments) Save(_ context.Context, p *model.Payment) error {
	cur, ok := r.m.st.payments[p.ID]
	if !ok || cur.Version != p.Version {
		return repo.ErrConcurrentUpdate
	}
	p.Version++
	r.m.st.payments[p.ID] = *p
	return nil
}

type memWebhooks struct{ m *memStore }

func (r memWebhooks) FindByUniqueKey(_ context.Context, key string) (model.PaymentWebhook, error) {
	for _, w := range r.m.st.webhooks {
		if w.WebhookUniqueKey == key {
			return w, nil
		}
	}
	return model.PaymentWebhook{}, repo.ErrNotFound
}

func (r memWebhooks) Create(ctx context.Context, w *model.PaymentWebhook) error {
	if err := r.m.injected("webhooks.create"); err != nil {
		return err
	}
	if _, err := r.FindByUniqueKey(ctx, w.WebhookUniqueKey); err == nil {
		return repo.ErrDuplicate
	}
	w.ID = r.m.st.nextID()
	r.m.st.webhooks[w.ID] = *w
	return nil
}

func (r memWebhooks) AttachPayment(_ context.Context, webhookID, paymentID int64) error {
	w, ok := r.m.st.webhooks[webhookID]
	if !ok {
		return repo.ErrNotFound
	}
	w.PaymentID = &paymentID
	r.m.st.webhooks[webhookID] = w
	return nil
}

type memAudits struct{ m *memStore }

func (r memAudits) Create(_ context.Context, log model.AuditLog) error {
	if err := r.m.injected("audit.create"); err != nil {
		return err
	}
	log.ID = r.m.st.nextID()
	r.m.st.audits = append(r.m.st.audits, log)
	return nil
}

func (r memAudits) ListByResource(_ context.Context, f repo.AuditTrailFilter) ([]model.AuditLog, int64, error) {
	var hits []model.AuditLog
	for _, l := range r.m.st.audits {
		if l.ResourceType != f.ResourceType || l.ResourceID != f.ResourceID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		hits = append(hits, l)
	}
	total := int64(len(hits))
	if f.Offset >= len(hits) {
		return []model.AuditLog{}, total, nil
	}
	hits = hits[f.Offset:]
	if f.Limit > 0 && len(hits) > f.Limit {
		hits = hits[:f.Limit]
	}
	return hits, total, nil
}

// TxManagerMock は入力チェックで弾かれるケース用（WithinTx が呼ばれないことを見る）
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.Called(ctx)
	return fn(m.Repos)
}

// =====================
// queue / notifier fakes
// =====================

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, jobs ...queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobs...)
	return nil
}

func (q *recordingQueue) take() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}

func (q *recordingQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subjects...)
}

// =====================
// harness
// =====================

const testHMACSecret = "test-secret"

type harness struct {
	store  *memStore
	jobs   *recordingQueue
	reg    *queue.Registry
	alerts *recordingNotifier

	inventory *InventoryUsecase
	carts     *CartUsecase
	orders    *OrderUsecase
	states    *OrderStateUsecase
	webhooks  *PaymentWebhookUsecase
}

func newHarness(t *testing.T, policy RestockPolicy, pricing Pricing) *harness {
	t.Helper()
	h := &harness{
		store:  newMemStore(),
		jobs:   &recordingQueue{},
		reg:    queue.NewRegistry(),
		alerts: &recordingNotifier{},
	}
	h.inventory = NewInventoryUsecase(h.store, policy, h.jobs, nil)
	h.carts = NewCartUsecase(h.store, cache.Noop{}, time.Minute, h.jobs, nil)
	h.orders = NewOrderUsecase(h.store, cache.Noop{}, time.Minute, pricing, h.jobs, nil)
	h.states = NewOrderStateUsecase(h.store, policy, h.jobs, nil)
	h.webhooks = NewPaymentWebhookUsecase(h.store, paymob.NewVerifier(testHMACSecret), h.states, h.jobs, nil)

	RegisterJobHandlers(h.reg, h.inventory, cache.Noop{}, h.alerts, events.Noop{})
	return h
}

// runJobs は溜まったジョブを空になるまで実行する
func (h *harness) runJobs(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		jobs := h.jobs.take()
		if len(jobs) == 0 {
			return
		}
		for _, j := range jobs {
			require.NoError(t, h.reg.Dispatch(context.Background(), j), "job %s", j.Kind)
		}
	}
}

// checkout は BeginCheckout を通す（注文の前提）
func (h *harness) checkout(t *testing.T, userID int64) {
	t.Helper()
	_, err := h.carts.BeginCheckout(context.Background(), userID)
	require.NoError(t, err)
}

// 商品 1 つ + variant 1 つ
func (h *harness) seedStock(price string, qty int64) (productID, variantID int64) {
	productID = h.store.seedProduct(price, true)
	variantID = h.store.seedVariant(productID, qty)
	return
}

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	require.Error(t, err)
	require.Contains(t, err.Error(), wantSubstr)
}

func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := AsHTTPError(err)
	require.True(t, ok, "want HTTPError, got %v", err)
	require.Equal(t, status, he.Status, he.Message)
}
