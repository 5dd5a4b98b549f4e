package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/paymob"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type WebhookResult string

const (
	WebhookApplied   WebhookResult = "applied"
	WebhookDuplicate WebhookResult = "duplicate"
	// 注文に紐づかなかった（記録のみ）
	WebhookRecorded WebhookResult = "recorded"
)

type WebhookOutput struct {
	Result        WebhookResult `json:"result"`
	OrderNumber   string        `json:"order_number,omitempty"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	OrderStatus   string        `json:"order_status,omitempty"`
}

// 並行して同じキーが入った
var errWebhookAlreadyClaimed = errors.New("webhook already claimed")

type PaymentWebhookUsecase struct {
	tx       repo.TransactionManager
	verifier *paymob.Verifier
	orders   *OrderStateUsecase
	fx       sideEffects
	now      func() time.Time
}

func NewPaymentWebhookUsecase(
	tx repo.TransactionManager,
	verifier *paymob.Verifier,
	orders *OrderStateUsecase,
	q queue.Enqueuer,
	log *zap.Logger,
) *PaymentWebhookUsecase {
	return &PaymentWebhookUsecase{
		tx:       tx,
		verifier: verifier,
		orders:   orders,
		fx:       newSideEffects(q, log),
		now:      time.Now,
	}
}

// HandlePaymob authenticates and applies one transaction callback.
// The webhook row, the payment upsert and the order confirmation commit together.
func (u *PaymentWebhookUsecase) HandlePaymob(ctx context.Context, body []byte, signature string) (WebhookOutput, error) {
	log := logger.From(ctx, u.fx.log)

	cb, err := paymob.Parse(body)
	if err != nil {
		log.Warn("webhook rejected: malformed payload", zap.Error(err))
		return WebhookOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	tx := cb.Obj

	if err := u.verifier.Verify(tx, signature); err != nil {
		if errors.Is(err, paymob.ErrSecretMissing) {
			return WebhookOutput{}, u.fx.internal(ctx, "webhook.verify", err)
		}
		log.Warn("webhook rejected: signature", zap.Int64("transaction_id", tx.ID), zap.Error(err))
		return WebhookOutput{}, NewHTTPError(http.StatusBadRequest, "invalid signature")
	}

	key := tx.UniqueKey()
	out := WebhookOutput{OrderNumber: tx.Order.MerchantOrderID}
	a := &afterCommit{}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.PaymentWebhooks().FindByUniqueKey(ctx, key); err == nil {
			out.Result = WebhookDuplicate
			return nil
		} else if err != repo.ErrNotFound {
			return err
		}

		var order *model.Order
		if ref := strings.TrimSpace(tx.Order.MerchantOrderID); ref != "" {
			o, err := r.Orders().FindByNumberForUpdate(ctx, ref)
			if err != nil && err != repo.ErrNotFound {
				return err
			}
			if err == nil {
				order = &o
			}
		}

		hook := &model.PaymentWebhook{
			TransactionID:    strconv.FormatInt(tx.ID, 10),
			WebhookUniqueKey: key,
			HMACVerified:     true,
			RawPayload:       string(body),
			ProcessedAt:      u.now(),
		}
		if order != nil {
			hook.OrderID = order.ID
		}
		if err := r.PaymentWebhooks().Create(ctx, hook); err != nil {
			if err == repo.ErrDuplicate {
				return errWebhookAlreadyClaimed
			}
			return err
		}

		if order == nil {
			out.Result = WebhookRecorded
			return nil
		}

		payment, err := u.upsertPayment(ctx, r, order.ID, tx)
		if err != nil {
			return err
		}
		out.PaymentStatus = string(payment.Status)

		if tx.Outcome() == paymob.OutcomeSuccess {
			if err := u.confirm(ctx, r, order, tx, a); err != nil {
				return err
			}
		}
		out.OrderStatus = string(order.Status)

		if err := r.PaymentWebhooks().AttachPayment(ctx, hook.ID, payment.ID); err != nil {
			return err
		}

		out.Result = WebhookApplied
		return a.err
	})

	if errors.Is(err, errWebhookAlreadyClaimed) {
		return WebhookOutput{Result: WebhookDuplicate, OrderNumber: out.OrderNumber}, nil
	}
	if err != nil {
		return WebhookOutput{}, u.fx.result(ctx, "webhook.apply", err)
	}

	u.fx.flush(ctx, a)
	log.Info("webhook handled",
		zap.String("key", key),
		zap.String("result", string(out.Result)),
		zap.String("outcome", tx.Outcome().String()),
	)
	return out, nil
}

// 注文ごとに最新の支払いを更新（無ければ作成）。成功済みは失敗で上書きしない
func (u *PaymentWebhookUsecase) upsertPayment(ctx context.Context, r repo.TxRepos, orderID int64, tx paymob.Transaction) (model.Payment, error) {
	status := paymentStatusOf(tx.Outcome())
	amount := decimal.New(tx.AmountCents, -2)

	p, err := r.Payments().FindLatestByOrderID(ctx, orderID)
	if err == repo.ErrNotFound {
		p = model.Payment{
			OrderID:               orderID,
			Status:                status,
			Method:                model.PaymentMethod(tx.Method()),
			ProviderTransactionID: strconv.FormatInt(tx.ID, 10),
			Amount:                amount,
		}
		if err := r.Payments().Create(ctx, &p); err != nil {
			return model.Payment{}, err
		}
		return p, nil
	}
	if err != nil {
		return model.Payment{}, err
	}

	if p.Status == model.PaymentStatusCompleted && status != model.PaymentStatusCompleted {
		return p, nil
	}
	p.Status = status
	p.Method = model.PaymentMethod(tx.Method())
	p.ProviderTransactionID = strconv.FormatInt(tx.ID, 10)
	p.Amount = amount
	if err := r.Payments().Save(ctx, &p); err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

// confirm is idempotent: an order already at or past Confirmed is left alone.
func (u *PaymentWebhookUsecase) confirm(ctx context.Context, r repo.TxRepos, order *model.Order, tx paymob.Transaction, a *afterCommit) error {
	switch {
	case order.Status.PastPayment():
		return nil
	case order.Status != model.OrderStatusPendingPayment:
		a.alert("payment for closed order",
			fmt.Sprintf("order %s is %s but transaction %d succeeded; refund manually", order.OrderNumber, order.Status, tx.ID))
		return nil
	case toMinorUnits(order.Total) != tx.AmountCents:
		a.alert("payment amount mismatch",
			fmt.Sprintf("order %s total %s, transaction %d paid %d cents", order.OrderNumber, order.Total.StringFixed(2), tx.ID, tx.AmountCents))
		return nil
	}

	note := fmt.Sprintf("paymob transaction %d", tx.ID)
	return u.orders.apply(ctx, r, order, model.OrderStatusConfirmed, model.SystemActorID, note, a)
}

func paymentStatusOf(o paymob.Outcome) model.PaymentStatus {
	switch o {
	case paymob.OutcomePending:
		return model.PaymentStatusPending
	case paymob.OutcomeSuccess:
		return model.PaymentStatusCompleted
	default:
		return model.PaymentStatusFailed
	}
}
