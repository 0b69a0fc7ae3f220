package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/cache"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/mpesa"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

var mpesaActor = domain.Actor{UserID: "mpesa", Role: "system"}

// InitiateSTKPush sends an M-Pesa prompt for a pending mpesa order and
// records the pending payment.
func (s *Service) InitiateSTKPush(ctx context.Context, req domain.STKPushRequest) (domain.Payment, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	order, err := s.repo.GetOrder(ctx, actor.ShopID, strings.TrimSpace(req.OrderID))
	if err != nil {
		return domain.Payment{}, err
	}
	if order.PaymentMethod != domain.PaymentMethodMpesa || order.Status != domain.OrderStatusPending {
		return domain.Payment{}, invalid("order is not awaiting an M-Pesa payment")
	}
	phone, err := mpesa.NormalizePhone(req.Phone)
	if err != nil {
		return domain.Payment{}, invalid("phone must be a Kenyan mobile number")
	}
	if !s.payments.Enabled() {
		return domain.Payment{}, invalid("M-Pesa is not configured")
	}
	pending, err := s.pendingPayment(ctx, actor.ShopID, order.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	if pending != nil {
		return domain.Payment{}, invalid("order already has a pending M-Pesa payment")
	}

	push, err := s.payments.STKPush(ctx, mpesa.PushRequest{
		Phone:            phone,
		AmountCents:      order.TotalCents,
		AccountReference: order.OrderNumber,
		Description:      "Order " + order.OrderNumber,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("stk push for order %s: %w", order.ID, err)
	}

	now := s.now()
	payment, err := s.repo.CreatePayment(ctx, domain.Payment{
		ID:                xid.New("pay"),
		ShopID:            actor.ShopID,
		OrderID:           order.ID,
		Method:            domain.PaymentMethodMpesa,
		AmountCents:       order.TotalCents,
		Phone:             phone,
		Status:            domain.PaymentPending,
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.WithFields(logrus.Fields{"order_id": order.ID, "checkout_request_id": push.CheckoutRequestID}).Warn("stk push raced another pending payment")
			return domain.Payment{}, invalid("order already has a pending M-Pesa payment")
		}
		return domain.Payment{}, err
	}
	if _, err := s.repo.TransitionOrder(ctx, actor.ShopID, order.ID, domain.OrderTransition{
		From:          []string{domain.OrderStatusPending},
		PaymentStatus: domain.PaymentStatusPending,
		At:            now,
	}); err != nil {
		s.log.WithField("order_id", order.ID).WithError(err).Warn("reset order payment status")
	}

	s.logAudit(ctx, actor.ShopID, "mpesa_stk_push", "payment", payment.ID, fmt.Sprintf("order=%s,amount=%d,checkout=%s", order.ID, order.TotalCents, payment.CheckoutRequestID))
	return *payment, nil
}

// HandleMpesaCallback applies a Daraja STK callback. Unknown checkout ids
// and repeated callbacks are ignored. A success that pays less than the
// payment amount fails the payment. A success arriving after the payment
// timed out or failed is still recorded.
func (s *Service) HandleMpesaCallback(ctx context.Context, raw []byte) error {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		return invalid("%s", err.Error())
	}
	fields := logrus.Fields{"checkout_request_id": cb.CheckoutRequestID, "result_code": cb.ResultCode}

	payment, err := s.repo.GetPaymentByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.WithFields(fields).Warn("callback for unknown checkout request")
			return nil
		}
		return err
	}

	result := domain.PaymentResult{
		Status:       mpesa.StatusForResult(cb.ResultCode),
		ResultCode:   cb.ResultCode,
		ResultDesc:   cb.ResultDesc,
		MpesaReceipt: cb.Receipt(),
		At:           s.now(),
	}
	if result.Status == domain.PaymentCompleted {
		expected := mpesa.AmountShillings(payment.AmountCents)
		if paid, ok := cb.Amount(); !ok || paid < expected {
			result.Status = domain.PaymentFailed
			result.ResultDesc = fmt.Sprintf("amount mismatch: paid %d KES, expected %d KES", paid, expected)
			s.log.WithFields(fields).WithFields(logrus.Fields{"paid": paid, "expected": expected, "payment_id": payment.ID}).Warn("mpesa callback amount mismatch")
			s.logAudit(WithActor(ctx, mpesaActor), payment.ShopID, "payment_amount_mismatch", "payment", payment.ID,
				fmt.Sprintf("order=%s,paid=%d,expected=%d,receipt=%s", payment.OrderID, paid, expected, result.MpesaReceipt))
		} else if payment.Status != domain.PaymentPending && !domain.PaymentCaptured(payment.Status) {
			result.From = []string{domain.PaymentTimeout, domain.PaymentFailed, domain.PaymentCancelled}
		}
	}

	if _, err := s.resolvePayment(ctx, *payment, result); err != nil {
		return err
	}
	s.log.WithFields(fields).Info("mpesa callback applied")
	return nil
}

// PaymentStatus returns the payment and its order. A pending M-Pesa payment
// is checked with Daraja at most once per query interval.
func (s *Service) PaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatusResponse, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}
	payment, err := s.repo.GetPayment(ctx, actor.ShopID, paymentID)
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}

	if payment.Status == domain.PaymentPending && payment.CheckoutRequestID != "" && s.payments.Enabled() {
		acquired, err := s.cache.Acquire(ctx, cache.PaymentQueryKey(payment.ID), s.opts.MpesaQueryInterval)
		if err != nil {
			s.log.WithField("payment_id", payment.ID).WithError(err).Warn("acquire query throttle")
		}
		if acquired {
			if updated, err := s.queryPayment(ctx, *payment); err != nil {
				s.log.WithField("payment_id", payment.ID).WithError(err).Warn("query stk status")
			} else {
				payment = updated
			}
		}
	}

	resp := domain.PaymentStatusResponse{Payment: *payment}
	if order, err := s.repo.GetOrder(ctx, actor.ShopID, payment.OrderID); err == nil {
		resp.Order = order
	}
	return resp, nil
}

// RecordCashPayment settles a pending order in cash, e.g. after the customer
// abandons an M-Pesa prompt.
func (s *Service) RecordCashPayment(ctx context.Context, req domain.CashPaymentRequest) (domain.PaymentStatusResponse, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}
	order, err := s.repo.GetOrder(ctx, actor.ShopID, strings.TrimSpace(req.OrderID))
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return domain.PaymentStatusResponse{}, invalid("order is not awaiting payment")
	}
	if req.CashReceivedCents < order.TotalCents {
		return domain.PaymentStatusResponse{}, invalid("cash received does not cover the total of %d cents", order.TotalCents)
	}
	pending, err := s.pendingPayment(ctx, actor.ShopID, order.ID)
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}
	if pending != nil {
		return domain.PaymentStatusResponse{}, invalid("order has a pending M-Pesa payment, check its status first")
	}

	now := s.now()
	paymentID := xid.New("pay")
	completed, err := s.repo.TransitionOrder(ctx, actor.ShopID, order.ID, domain.OrderTransition{
		From:          []string{domain.OrderStatusPending},
		Status:        domain.OrderStatusCompleted,
		PaymentStatus: domain.PaymentStatusPaid,
		Reference:     paymentID,
		At:            now,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.PaymentStatusResponse{}, invalid("order is not awaiting payment")
		}
		return domain.PaymentStatusResponse{}, err
	}

	payment, err := s.repo.CreatePayment(ctx, domain.Payment{
		ID:          paymentID,
		ShopID:      actor.ShopID,
		OrderID:     order.ID,
		Method:      domain.PaymentMethodCash,
		AmountCents: order.TotalCents,
		Status:      domain.PaymentCompleted,
		ResultDesc:  fmt.Sprintf("cash received %d, change %d", req.CashReceivedCents, req.CashReceivedCents-order.TotalCents),
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	})
	if err != nil {
		return domain.PaymentStatusResponse{}, err
	}

	s.logAudit(ctx, actor.ShopID, "cash_payment", "payment", payment.ID, fmt.Sprintf("order=%s,amount=%d,received=%d", order.ID, order.TotalCents, req.CashReceivedCents))
	return domain.PaymentStatusResponse{Payment: *payment, Order: completed}, nil
}

// pendingPayment returns the order's pending payment, if any.
func (s *Service) pendingPayment(ctx context.Context, shopID string, orderID string) (*domain.Payment, error) {
	payments, err := s.repo.ListPaymentsByOrder(ctx, shopID, orderID)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if payments[i].Status == domain.PaymentPending {
			return &payments[i], nil
		}
	}
	return nil, nil
}

func (s *Service) ListOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetOrder(ctx, actor.ShopID, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByOrder(ctx, actor.ShopID, orderID)
}

// SweepPendingPayments resolves M-Pesa payments that have been pending longer
// than the pending timeout. Each is queried once more and marked timed out
// only when Daraja reports it still processing; a failed query leaves it for
// the next sweep. It returns how many payments it resolved.
func (s *Service) SweepPendingPayments(ctx context.Context) (int, error) {
	stale, err := s.repo.ListPendingPayments(ctx, s.now().Add(-s.opts.MpesaPendingTimeout), 100)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, payment := range stale {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if payment.CheckoutRequestID != "" && s.payments.Enabled() {
			updated, err := s.queryPayment(ctx, payment)
			if err != nil {
				s.log.WithField("payment_id", payment.ID).WithError(err).Warn("final stk query failed, payment left pending")
				continue
			}
			if updated.Status != domain.PaymentPending {
				resolved++
				continue
			}
		}

		if _, err := s.resolvePayment(ctx, payment, domain.PaymentResult{
			Status:     domain.PaymentTimeout,
			ResultCode: -1,
			ResultDesc: "no response from customer",
			At:         s.now(),
		}); err != nil {
			s.log.WithField("payment_id", payment.ID).WithError(err).Warn("time out payment")
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *Service) queryPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	result, err := s.payments.Query(ctx, payment.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, mpesa.ErrStillProcessing) {
			return &payment, nil
		}
		return nil, err
	}
	return s.resolvePayment(ctx, payment, domain.PaymentResult{
		Status:     mpesa.StatusForResult(result.ResultCode),
		ResultCode: result.ResultCode,
		ResultDesc: result.ResultDesc,
		At:         s.now(),
	})
}

// resolvePayment applies a terminal result to a payment and carries it onto
// the order. A payment resolved earlier is returned as it stands. Money
// captured for an order that already left pending is kept as needs_refund.
func (s *Service) resolvePayment(ctx context.Context, payment domain.Payment, result domain.PaymentResult) (*domain.Payment, error) {
	if result.Status == domain.PaymentCompleted {
		order, err := s.repo.GetOrder(ctx, payment.ShopID, payment.OrderID)
		if err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusPending {
			result.Status = domain.PaymentNeedsRefund
			result.ResultDesc = fmt.Sprintf("order already %s: %s", order.Status, result.ResultDesc)
		}
	}

	resolved, err := s.repo.ResolvePayment(ctx, payment.ID, result)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.repo.GetPayment(ctx, payment.ShopID, payment.ID)
		}
		return nil, err
	}

	fields := logrus.Fields{"payment_id": resolved.ID, "order_id": resolved.OrderID}
	ctx = WithActor(ctx, mpesaActor)
	if resolved.Status == domain.PaymentNeedsRefund {
		s.log.WithFields(fields).Warn("mpesa payment captured for an order that is no longer pending")
		s.logAudit(ctx, resolved.ShopID, "payment_orphaned", "payment", resolved.ID, fmt.Sprintf("order=%s,amount=%d,receipt=%s", resolved.OrderID, resolved.AmountCents, resolved.MpesaReceipt))
		return resolved, nil
	}

	transition := domain.OrderTransition{
		From:          []string{domain.OrderStatusPending},
		PaymentStatus: domain.PaymentStatusFailed,
		At:            result.At,
	}
	if resolved.Status == domain.PaymentCompleted {
		transition.Status = domain.OrderStatusCompleted
		transition.PaymentStatus = domain.PaymentStatusPaid
		transition.Reference = resolved.MpesaReceipt
	}
	if _, err := s.repo.TransitionOrder(ctx, resolved.ShopID, resolved.OrderID, transition); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("order no longer pending for payment result")
		if resolved.Status == domain.PaymentCompleted {
			s.logAudit(ctx, resolved.ShopID, "payment_orphaned", "payment", resolved.ID, fmt.Sprintf("order=%s,amount=%d,receipt=%s", resolved.OrderID, resolved.AmountCents, resolved.MpesaReceipt))
		}
	}

	s.logAudit(ctx, resolved.ShopID, "payment_"+resolved.Status, "payment", resolved.ID, fmt.Sprintf("order=%s,result=%d,receipt=%s", resolved.OrderID, result.ResultCode, resolved.MpesaReceipt))
	return resolved, nil
}
