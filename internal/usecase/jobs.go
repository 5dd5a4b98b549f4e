package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/events"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/notify"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

// commit 後に投げるジョブの種類
const (
	JobCacheInvalidate    = "cache.invalidate"
	JobInventoryRelease   = "inventory.release"
	JobAdminNotify        = "admin.notify"
	JobOrderStatusChanged = "order.status_changed"
)

type cacheInvalidatePayload struct {
	Tags []string `json:"tags"`
}

type inventoryReleasePayload struct {
	OrderID int64 `json:"order_id"`
}

type adminNotifyPayload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// afterCommit collects jobs while a transaction runs. Nothing is sent until
// the transaction has committed.
type afterCommit struct {
	jobs []queue.Job
	err  error
}

func (a *afterCommit) add(kind string, payload any) {
	if a.err != nil {
		return
	}
	j, err := queue.NewJob(kind, payload)
	if err != nil {
		a.err = err
		return
	}
	a.jobs = append(a.jobs, j)
}

func (a *afterCommit) invalidate(tags ...string) {
	if len(tags) == 0 {
		return
	}
	a.add(JobCacheInvalidate, cacheInvalidatePayload{Tags: tags})
}

func (a *afterCommit) releaseInventory(orderID int64) {
	a.add(JobInventoryRelease, inventoryReleasePayload{OrderID: orderID})
}

func (a *afterCommit) alert(subject, message string) {
	a.add(JobAdminNotify, adminNotifyPayload{Subject: subject, Message: message})
}

func (a *afterCommit) orderEvent(ev events.OrderStatusChanged) {
	a.add(JobOrderStatusChanged, ev)
}

// sideEffects はジョブ投入と内部エラー処理をまとめる
type sideEffects struct {
	queue queue.Enqueuer
	log   *zap.Logger
}

func newSideEffects(q queue.Enqueuer, log *zap.Logger) sideEffects {
	if log == nil {
		log = zap.NewNop()
	}
	return sideEffects{queue: q, log: log}
}

// 失敗しても commit 済みなので戻さない。ログだけ残す
func (s sideEffects) flush(ctx context.Context, a *afterCommit) {
	if a == nil || len(a.jobs) == 0 {
		return
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), a.jobs...); err != nil {
		kinds := make([]string, 0, len(a.jobs))
		for _, j := range a.jobs {
			kinds = append(kinds, j.Kind)
		}
		logger.From(ctx, s.log).Error("enqueue after commit failed", zap.Strings("kinds", kinds), zap.Error(err))
	}
}

// result turns the error returned from a transaction into what the caller sees.
// Business errors pass through; anything else is logged, reported to admins
// and hidden behind a generic 500.
func (s sideEffects) result(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := AsHTTPError(err); ok {
		return he
	}
	if errors.Is(err, repo.ErrConcurrentUpdate) {
		return errConcurrentEdit
	}
	return s.internal(ctx, op, err)
}

func (s sideEffects) internal(ctx context.Context, op string, err error) error {
	logger.From(ctx, s.log).Error("internal error", zap.String("op", op), zap.Error(err))

	a := &afterCommit{}
	a.alert("internal error: "+op, fmt.Sprintf("request %s: %v", logger.RequestID(ctx), err))
	s.flush(ctx, a)

	return NewHTTPError(http.StatusInternalServerError, "internal error")
}

// RegisterJobHandlers binds every job kind to the component that performs it.
func RegisterJobHandlers(
	reg *queue.Registry,
	inventory *InventoryUsecase,
	c cache.Cache,
	n notify.Notifier,
	pub events.Publisher,
) {
	reg.Register(JobCacheInvalidate, func(ctx context.Context, job queue.Job) error {
		var p cacheInvalidatePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return c.RemoveByTag(ctx, p.Tags...)
	})

	reg.Register(JobInventoryRelease, func(ctx context.Context, job queue.Job) error {
		var p inventoryReleasePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return inventory.ReleaseOrderReservation(ctx, p.OrderID)
	})

	reg.Register(JobAdminNotify, func(ctx context.Context, job queue.Job) error {
		var p adminNotifyPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return n.Notify(ctx, p.Subject, p.Message)
	})

	reg.Register(JobOrderStatusChanged, func(ctx context.Context, job queue.Job) error {
		var ev events.OrderStatusChanged
		if err := job.Decode(&ev); err != nil {
			return err
		}
		return pub.PublishOrderStatus(ctx, ev)
	})
}

// DeadLetterAlert reports jobs the queue gave up on. A lost restock leaves
// stock reserved for a closed order, so admins get the order id to fix it by hand.
func DeadLetterAlert(n notify.Notifier, log *zap.Logger) queue.DeadLetterFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, job queue.Job, err error) {
		subject := "job dropped: " + job.Kind
		msg := fmt.Sprintf("job %s failed %d times: %v", job.ID, job.Attempt, err)

		var p inventoryReleasePayload
		if job.Kind == JobInventoryRelease && job.Decode(&p) == nil {
			subject = "restock failed"
			msg = fmt.Sprintf("reserved stock of order %d was not returned after %d attempts: %v", p.OrderID, job.Attempt, err)
		}

		// キュー経由にすると同じ理由で落ちるので直接送る
		if nerr := n.Notify(ctx, subject, msg); nerr != nil {
			log.Error("dead letter alert failed",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Error(nerr),
			)
		}
	}
}

// storeCache は read-through の書き戻し。世代が取れなかった時と古くなった時は書かない
func storeCache(ctx context.Context, c cache.Cache, log *zap.Logger, key string, v any, ttl time.Duration, gen cache.Generation, genErr error, tags ...string) {
	if genErr != nil {
		logger.From(ctx, log).Warn("cache snapshot failed", zap.String("key", key), zap.Error(genErr))
		return
	}
	err := c.Set(ctx, key, v, ttl, gen, tags...)
	switch {
	case errors.Is(err, cache.ErrStale):
		logger.From(ctx, log).Debug("cache write skipped, changed while loading", zap.String("key", key))
	case err != nil:
		logger.From(ctx, log).Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// variant を変えた時のタグ。個別タグとカート用の世代をまとめて進める
func variantTags(ids ...int64) []string {
	tags := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		tags = append(tags, cache.TagVariant(id))
	}
	return append(tags, cache.TagVariants)
}
