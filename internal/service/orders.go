package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/mpesa"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

// CreateOrder rings up a sale on the cashier's open shift. Replaying an
// idempotency key returns the original order with Duplicate set.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResponse, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	shift, err := s.repo.GetOpenShift(ctx, actor.ShopID, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.OrderResponse{}, invalid("an open shift is required")
		}
		return domain.OrderResponse{}, err
	}
	if req.BranchID != "" && req.BranchID != shift.BranchID {
		return domain.OrderResponse{}, invalid("orders are rung up on the shift's branch")
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if existing, err := s.repo.FindOrderByIdempotency(ctx, actor.ShopID, req.IdempotencyKey); err == nil {
		return domain.OrderResponse{Order: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.OrderResponse{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodMpesa, domain.PaymentMethodCard:
	default:
		return domain.OrderResponse{}, invalid("payment_method must be cash, mpesa or card")
	}

	items := normalizeItems(req.Items)
	if len(items) == 0 {
		return domain.OrderResponse{}, invalid("order needs at least one item")
	}
	lines, subtotal, err := s.priceItems(ctx, actor.ShopID, items)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	segment := strings.ToLower(strings.TrimSpace(req.CustomerSegment))
	var (
		applied  *domain.Discount
		discCalc = discount.Result{OriginalCents: subtotal, FinalCents: subtotal}
	)
	if code := strings.ToUpper(strings.TrimSpace(req.DiscountCode)); code != "" {
		d, err := s.repo.GetDiscountByCode(ctx, actor.ShopID, code)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.OrderResponse{}, err
		}
		cart := discount.Cart{ShopID: actor.ShopID, SubtotalCents: subtotal, Lines: cartLines(lines), CustomerSegment: segment, Now: s.now()}
		if err := discount.Validate(d, cart); err != nil {
			return domain.OrderResponse{}, translateDiscountErr(err)
		}
		applied = d
		discCalc = discount.Calculate(*d, subtotal, cart.Lines)
	}

	taxRate := s.opts.DefaultTaxRatePercent
	if req.TaxRatePercent != nil {
		taxRate = *req.TaxRatePercent
	}
	if taxRate < 0 || taxRate > 100 {
		return domain.OrderResponse{}, invalid("tax_rate_percent must be between 0 and 100")
	}
	taxCents := taxOn(discCalc.FinalCents, taxRate)
	total := discCalc.FinalCents + taxCents

	customerPhone := ""
	if strings.TrimSpace(req.CustomerPhone) != "" {
		if customerPhone, err = mpesa.NormalizePhone(req.CustomerPhone); err != nil {
			return domain.OrderResponse{}, invalid("customer_phone must be a Kenyan mobile number")
		}
	}

	now := s.now()
	order := domain.Order{
		ID:                xid.New("order"),
		ShopID:            actor.ShopID,
		BranchID:          shift.BranchID,
		ShiftID:           shift.ID,
		CashierID:         actor.UserID,
		OrderNumber:       orderNumber(now),
		Items:             lines,
		SubtotalCents:     subtotal,
		DiscountCents:     discCalc.DiscountCents,
		TaxRatePercent:    taxRate,
		TaxCents:          taxCents,
		TotalCents:        total,
		PaymentMethod:     method,
		PaymentReference:  strings.TrimSpace(req.PaymentReference),
		CustomerPhone:     customerPhone,
		CustomerSegment:   segment,
		CashReceivedCents: req.CashReceivedCents,
		IdempotencyKey:    req.IdempotencyKey,
		CreatedAt:         now,
	}
	if applied != nil {
		order.DiscountID = applied.ID
		order.DiscountCode = applied.Code
	}

	switch method {
	case domain.PaymentMethodCash:
		if req.CashReceivedCents < total {
			return domain.OrderResponse{}, invalid("cash received does not cover the total of %d cents", total)
		}
		order.ChangeCents = req.CashReceivedCents - total
		order.Status, order.PaymentStatus = domain.OrderStatusCompleted, domain.PaymentStatusPaid
		order.CompletedAt = &now
	case domain.PaymentMethodCard:
		if order.PaymentReference == "" {
			return domain.OrderResponse{}, invalid("card payments need a payment_reference")
		}
		order.Status, order.PaymentStatus = domain.OrderStatusCompleted, domain.PaymentStatusPaid
		order.CompletedAt = &now
	case domain.PaymentMethodMpesa:
		order.CashReceivedCents = 0
		order.Status, order.PaymentStatus = domain.OrderStatusPending, domain.PaymentStatusPending
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientStock):
			return domain.OrderResponse{}, fmt.Errorf("%w: not enough stock at this branch", store.ErrInsufficientStock)
		case errors.Is(err, store.ErrInvalid) && applied != nil:
			return domain.OrderResponse{}, invalid("discount usage limit reached")
		}
		return domain.OrderResponse{}, err
	}
	if created.ID != order.ID {
		return domain.OrderResponse{Order: *created, Duplicate: true}, nil
	}

	resp := domain.OrderResponse{Order: *created}
	if applied != nil {
		audit, err := s.repo.CreateDiscountAudit(ctx, s.newDiscountAudit(actor, *applied, created.ID, discCalc))
		if err != nil {
			s.log.WithField("order_id", created.ID).WithError(err).Warn("record discount audit")
		} else {
			s.discountAuditRecorded(ctx, actor, *audit)
			resp.Audit = audit
		}
	}

	s.logAudit(ctx, actor.ShopID, "order_create", "order", created.ID, fmt.Sprintf("total=%d,payment=%s,discount=%d,status=%s", created.TotalCents, created.PaymentMethod, created.DiscountCents, created.Status))
	return resp, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, actor.ShopID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// ListOrders returns the shop's orders. Cashiers only see their own sales.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.ShopID = actor.ShopID
	if !actor.IsShopManager() {
		filter.CashierID = actor.UserID
	}
	filter.Limit = defaultLimit(filter.Limit, 100)
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := s.repo.GetOrder(ctx, actor.ShopID, orderID); err != nil {
		return domain.Order{}, err
	}
	pending, err := s.pendingPayment(ctx, actor.ShopID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if pending != nil {
		return domain.Order{}, invalid("order has a pending M-Pesa payment, check its status first")
	}

	order, err := s.repo.TransitionOrder(ctx, actor.ShopID, orderID, domain.OrderTransition{
		From:          []string{domain.OrderStatusPending},
		Status:        domain.OrderStatusCancelled,
		PaymentStatus: domain.PaymentStatusFailed,
		Restock:       true,
		At:            s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.Order{}, invalid("only pending orders can be cancelled")
		}
		return domain.Order{}, err
	}

	s.logAudit(ctx, actor.ShopID, "order_cancel", "order", order.ID, "reason="+defaultString(reason, "unspecified"))
	return *order, nil
}

func (s *Service) RefundOrder(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.repo.TransitionOrder(ctx, actor.ShopID, orderID, domain.OrderTransition{
		From:          []string{domain.OrderStatusCompleted},
		Status:        domain.OrderStatusRefunded,
		PaymentStatus: domain.PaymentStatusRefunded,
		Restock:       true,
		At:            s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.Order{}, invalid("only completed orders can be refunded")
		}
		return domain.Order{}, err
	}

	s.logAudit(ctx, actor.ShopID, "order_refund", "order", order.ID, fmt.Sprintf("amount=%d,reason=%s", order.TotalCents, defaultString(reason, "unspecified")))
	return *order, nil
}

// taxOn returns rate percent of amount, rounded half away from zero.
func taxOn(amountCents int64, ratePercent float64) int64 {
	if amountCents <= 0 || ratePercent <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(hundredPercent).
		Round(0).
		IntPart()
}

func orderNumber(at time.Time) string {
	return "SD-" + at.In(discount.Location).Format("20060102") + "-" + xid.Short(6)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
