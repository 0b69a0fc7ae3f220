package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.ShopID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(shift.ShopID, shift.CashierID)
	if _, exists := s.openShift[k]; exists {
		return nil, store.ErrConflict
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.EndTime = nil

	s.shifts[shift.ID] = shift
	s.openShift[k] = shift.ID
	saved := cloneShift(shift)
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, shopID string, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[shiftID]
	if !ok || shift.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	found := cloneShift(shift)
	return &found, nil
}

func (s *Store) GetOpenShift(_ context.Context, shopID string, cashierID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, ok := s.openShift[key(shopID, cashierID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := cloneShift(s.shifts[shiftID])
	return &shift, nil
}

func (s *Store) CloseOpenShift(_ context.Context, shopID string, cashierID string, closingBalanceCents int64, notes string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(shopID, cashierID)
	shiftID, ok := s.openShift[k]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shifts[shiftID]
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingBalanceCents = closingBalanceCents
	shift.EndTime = &closedAt
	if notes != "" {
		shift.Notes = notes
	}

	delete(s.openShift, k)
	s.shifts[shiftID] = shift
	closed := cloneShift(shift)
	return &closed, nil
}

func (s *Store) ReconcileShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shifts[shift.ID]
	if !ok || current.ShopID != shift.ShopID {
		return nil, store.ErrNotFound
	}
	if current.Status != domain.ShiftStatusClosed {
		return nil, store.ErrInvalid
	}
	current.Status = domain.ShiftStatusReconciled
	current.ExpectedCashCents = shift.ExpectedCashCents
	current.ActualCashCents = shift.ActualCashCents
	current.VarianceCents = shift.VarianceCents
	current.SalesCount = shift.SalesCount
	current.SalesTotalCents = shift.SalesTotalCents
	current.ByPayment = slices.Clone(shift.ByPayment)
	current.ReconciledAt = shift.ReconciledAt
	current.ReconciledBy = shift.ReconciledBy
	if shift.Notes != "" {
		current.Notes = shift.Notes
	}
	s.shifts[shift.ID] = current
	saved := cloneShift(current)
	return &saved, nil
}

func (s *Store) ListShifts(_ context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 16)
	for _, shift := range s.shifts {
		if shift.ShopID != filter.ShopID {
			continue
		}
		if filter.CashierID != "" && shift.CashierID != filter.CashierID {
			continue
		}
		if filter.Status != "" && shift.Status != filter.Status {
			continue
		}
		if !inWindow(shift.StartTime, filter.From, filter.To) {
			continue
		}
		result = append(result, cloneShift(shift))
	}
	slices.SortFunc(result, func(a, b domain.Shift) int { return newestFirst(a.StartTime, b.StartTime, a.ID, b.ID) })
	return truncate(result, filter.Limit), nil
}

func (s *Store) GetShiftSales(_ context.Context, shopID string, shiftID string) (domain.ShiftSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sales domain.ShiftSales
	byMethod := map[string]*domain.PaymentTotals{}
	for _, order := range s.orders {
		if order.ShopID != shopID || order.ShiftID != shiftID || order.Status != domain.OrderStatusCompleted {
			continue
		}
		sales.Count++
		sales.TotalCents += order.TotalCents
		entry := byMethod[order.PaymentMethod]
		if entry == nil {
			entry = &domain.PaymentTotals{PaymentMethod: order.PaymentMethod}
			byMethod[order.PaymentMethod] = entry
		}
		entry.Count++
		entry.TotalCents += order.TotalCents
	}
	for _, entry := range byMethod {
		sales.ByPayment = append(sales.ByPayment, *entry)
	}
	slices.SortFunc(sales.ByPayment, func(a, b domain.PaymentTotals) int { return strings.Compare(a.PaymentMethod, b.PaymentMethod) })
	return sales, nil
}

func (s *Store) CreateDiscount(_ context.Context, discount domain.Discount) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if discount.ID == "" || discount.ShopID == "" || discount.Code == "" {
		return nil, store.ErrInvalid
	}
	k := key(discount.ShopID, discount.Code)
	if _, exists := s.discountByCode[k]; exists {
		return nil, store.ErrConflict
	}
	s.discounts[discount.ID] = cloneDiscount(discount)
	s.discountByCode[k] = discount.ID
	created := cloneDiscount(discount)
	return &created, nil
}

func (s *Store) GetDiscount(_ context.Context, discountID string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, ok := s.discounts[discountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneDiscount(discount)
	return &found, nil
}

func (s *Store) GetDiscountByCode(_ context.Context, shopID string, code string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.discountByCode[key(shopID, code)]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneDiscount(s.discounts[id])
	return &found, nil
}

func (s *Store) ListDiscounts(_ context.Context, shopID string, status string) ([]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Discount, 0, 8)
	for _, discount := range s.discounts {
		if discount.ShopID != shopID || (status != "" && discount.Status != status) {
			continue
		}
		result = append(result, cloneDiscount(discount))
	}
	slices.SortFunc(result, func(a, b domain.Discount) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return result, nil
}

func (s *Store) UpdateDiscount(_ context.Context, discount domain.Discount) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.discounts[discount.ID]
	if !ok || current.ShopID != discount.ShopID {
		return nil, store.ErrNotFound
	}
	// usage_count only moves through RecordDiscountUse and CreateOrder.
	discount.UsageCount = current.UsageCount
	discount.Code = current.Code
	s.discounts[discount.ID] = cloneDiscount(discount)
	updated := cloneDiscount(discount)
	return &updated, nil
}

func (s *Store) RecordDiscountUse(_ context.Context, audit domain.DiscountAudit) (*domain.Discount, *domain.DiscountAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discount, ok := s.discounts[audit.DiscountID]
	if !ok || discount.ShopID != audit.ShopID {
		return nil, nil, store.ErrNotFound
	}
	if err := s.incrementUsageLocked(&discount); err != nil {
		return nil, nil, err
	}
	if audit.ID == "" {
		audit.ID = xid.New("daudit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	s.discountAudits[audit.ID] = audit

	updated := cloneDiscount(discount)
	created := audit
	return &updated, &created, nil
}

func (s *Store) incrementUsageLocked(discount *domain.Discount) error {
	if discount.UsageLimit > 0 && discount.UsageCount >= discount.UsageLimit {
		return store.ErrInvalid
	}
	discount.UsageCount++
	discount.UpdatedAt = time.Now().UTC()
	s.discounts[discount.ID] = *discount
	return nil
}

func (s *Store) CreateDiscountAudit(_ context.Context, audit domain.DiscountAudit) (*domain.DiscountAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if audit.ID == "" {
		audit.ID = xid.New("daudit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	s.discountAudits[audit.ID] = audit
	created := audit
	return &created, nil
}

func (s *Store) ListDiscountAudits(_ context.Context, shopID string, status string, limit int) ([]domain.DiscountAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DiscountAudit, 0, 16)
	for _, audit := range s.discountAudits {
		if audit.ShopID != shopID || (status != "" && audit.Status != status) {
			continue
		}
		result = append(result, audit)
	}
	slices.SortFunc(result, func(a, b domain.DiscountAudit) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return truncate(result, limit), nil
}

func (s *Store) ReviewDiscountAudit(_ context.Context, shopID string, auditID string, status string, reason string, reviewerID string, at time.Time) (*domain.DiscountAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	audit, ok := s.discountAudits[auditID]
	if !ok || audit.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if audit.Status != domain.AuditStatusPending {
		return nil, store.ErrInvalid
	}
	audit.Status = status
	audit.Reason = reason
	audit.ReviewedBy = reviewerID
	audit.ReviewedAt = &at
	s.discountAudits[auditID] = audit
	reviewed := audit
	return &reviewed, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalid
	}
	idemKey := key(order.ShopID, order.IdempotencyKey)
	if existingID, ok := s.orderByIdem[idemKey]; ok {
		return cloneOrder(s.orders[existingID]), nil
	}

	levels := s.branchStock(order.ShopID, order.BranchID)
	for _, item := range order.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalid
		}
		if _, ok := s.products[order.ShopID][item.SKU]; !ok {
			return nil, store.ErrInvalid
		}
		if levels[item.SKU] < item.Qty {
			return nil, store.ErrInsufficientStock
		}
	}

	if order.DiscountID != "" {
		discount, ok := s.discounts[order.DiscountID]
		if !ok || discount.ShopID != order.ShopID {
			return nil, store.ErrNotFound
		}
		if err := s.incrementUsageLocked(&discount); err != nil {
			return nil, err
		}
	}

	for _, item := range order.Items {
		levels[item.SKU] -= item.Qty
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	saved := cloneOrder(&order)
	s.orders[order.ID] = saved
	s.orderByIdem[idemKey] = order.ID
	return cloneOrder(saved), nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, shopID string, idempotencyKey string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderByIdem[key(shopID, idempotencyKey)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) GetOrder(_ context.Context, shopID string, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok || order.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, 32)
	for _, order := range s.orders {
		if order.ShopID != filter.ShopID {
			continue
		}
		if (filter.BranchID != "" && order.BranchID != filter.BranchID) ||
			(filter.ShiftID != "" && order.ShiftID != filter.ShiftID) ||
			(filter.CashierID != "" && order.CashierID != filter.CashierID) ||
			(filter.Status != "" && order.Status != filter.Status) {
			continue
		}
		if !inWindow(order.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, *cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return truncate(result, filter.Limit), nil
}

func (s *Store) TransitionOrder(_ context.Context, shopID string, orderID string, transition domain.OrderTransition) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(transition.From, order.Status) {
		return nil, store.ErrInvalid
	}

	if transition.Restock {
		levels := s.branchStock(order.ShopID, order.BranchID)
		for _, item := range order.Items {
			levels[item.SKU] += item.Qty
		}
	}
	if transition.Status != "" {
		order.Status = transition.Status
	}
	if transition.PaymentStatus != "" {
		order.PaymentStatus = transition.PaymentStatus
	}
	if transition.Reference != "" {
		order.PaymentReference = transition.Reference
	}
	if order.Status == domain.OrderStatusCompleted && order.CompletedAt == nil {
		at := transition.At
		order.CompletedAt = &at
	}
	return cloneOrder(order), nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ID == "" || payment.OrderID == "" {
		return nil, store.ErrInvalid
	}
	if payment.Status == domain.PaymentPending {
		for _, existing := range s.payments {
			if existing.OrderID == payment.OrderID && existing.Status == domain.PaymentPending {
				return nil, store.ErrConflict
			}
		}
	}
	if payment.CheckoutRequestID != "" {
		if _, exists := s.paymentByCheckout[payment.CheckoutRequestID]; exists {
			return nil, store.ErrConflict
		}
		s.paymentByCheckout[payment.CheckoutRequestID] = payment.ID
	}
	s.payments[payment.ID] = payment
	created := payment
	return &created, nil
}

func (s *Store) GetPayment(_ context.Context, shopID string, paymentID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[paymentID]
	if !ok || (shopID != "" && payment.ShopID != shopID) {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) GetPaymentByCheckoutID(_ context.Context, checkoutRequestID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.paymentByCheckout[checkoutRequestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	payment := s.payments[id]
	return &payment, nil
}

func (s *Store) ListPaymentsByOrder(_ context.Context, shopID string, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, 2)
	for _, payment := range s.payments {
		if payment.ShopID == shopID && payment.OrderID == orderID {
			result = append(result, payment)
		}
	}
	slices.SortFunc(result, func(a, b domain.Payment) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return result, nil
}

func (s *Store) ListPendingPayments(_ context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, 8)
	for _, payment := range s.payments {
		if payment.Status == domain.PaymentPending && payment.CreatedAt.Before(createdBefore) {
			result = append(result, payment)
		}
	}
	slices.SortFunc(result, func(a, b domain.Payment) int { return -newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return truncate(result, limit), nil
}

func (s *Store) ResolvePayment(_ context.Context, paymentID string, result domain.PaymentResult) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(resolvableFrom(result), payment.Status) {
		return nil, store.ErrConflict
	}
	code := result.ResultCode
	payment.Status = result.Status
	payment.ResultCode = &code
	payment.ResultDesc = result.ResultDesc
	payment.MpesaReceipt = result.MpesaReceipt
	payment.UpdatedAt = result.At
	if domain.PaymentCaptured(result.Status) {
		at := result.At
		payment.CompletedAt = &at
	}
	s.payments[paymentID] = payment
	resolved := payment
	return &resolved, nil
}

func resolvableFrom(result domain.PaymentResult) []string {
	if len(result.From) == 0 {
		return []string{domain.PaymentPending}
	}
	return result.From
}

func cloneShift(src domain.Shift) domain.Shift {
	dst := src
	dst.ByPayment = slices.Clone(src.ByPayment)
	return dst
}

func cloneDiscount(src domain.Discount) domain.Discount {
	dst := src
	dst.CustomerSegments = slices.Clone(src.CustomerSegments)
	dst.ApplicableDays = slices.Clone(src.ApplicableDays)
	dst.Tiers = slices.Clone(src.Tiers)
	if src.BOGO != nil {
		rule := *src.BOGO
		dst.BOGO = &rule
	}
	return dst
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}
