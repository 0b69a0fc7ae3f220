package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
)

func TestCreateShiftRejectsSecondOpenShift(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, err := s.CreateShift(ctx, domain.Shift{ShopID: SeedShopID, BranchID: SeedMainBranchID, CashierID: "user_cashier"})
	if err != nil {
		t.Fatalf("first clock-in failed: %v", err)
	}
	if first.Status != domain.ShiftStatusOpen {
		t.Fatalf("expected open shift, got %s", first.Status)
	}
	if _, err := s.CreateShift(ctx, domain.Shift{ShopID: SeedShopID, BranchID: SeedMainBranchID, CashierID: "user_cashier"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second open shift, got %v", err)
	}

	if _, err := s.CloseOpenShift(ctx, SeedShopID, "user_cashier", 5000, "", time.Now()); err != nil {
		t.Fatalf("clock-out failed: %v", err)
	}
	if _, err := s.CreateShift(ctx, domain.Shift{ShopID: SeedShopID, BranchID: SeedMainBranchID, CashierID: "user_cashier"}); err != nil {
		t.Fatalf("clock-in after clock-out should succeed: %v", err)
	}
}

func TestConcurrentClockInAllowsOneShift(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateShift(ctx, domain.Shift{ShopID: SeedShopID, CashierID: "user_cashier2"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one open shift, got %d", succeeded)
	}
}

func TestReconcileShiftRequiresClosed(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	shift, err := s.CreateShift(ctx, domain.Shift{ShopID: SeedShopID, CashierID: "user_cashier"})
	if err != nil {
		t.Fatalf("clock-in failed: %v", err)
	}
	if _, err := s.ReconcileShift(ctx, *shift); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid for open shift, got %v", err)
	}
	if _, err := s.CloseOpenShift(ctx, SeedShopID, "user_cashier", 0, "", time.Now()); err != nil {
		t.Fatalf("clock-out failed: %v", err)
	}
	reconciled, err := s.ReconcileShift(ctx, *shift)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if reconciled.Status != domain.ShiftStatusReconciled {
		t.Fatalf("expected reconciled, got %s", reconciled.Status)
	}
	if _, err := s.ReconcileShift(ctx, *shift); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid on second reconcile, got %v", err)
	}
}

func TestCreateOrderDecrementsStockAndIsIdempotent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	order := domain.Order{
		ShopID:         SeedShopID,
		BranchID:       SeedMainBranchID,
		IdempotencyKey: "idem-1",
		Items:          []domain.OrderItem{{SKU: "MILK-500", Qty: 3, UnitPriceCents: 6000, TotalCents: 18000}},
		Status:         domain.OrderStatusCompleted,
	}
	created, err := s.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	again, err := s.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("expected idempotent replay to return %s, got %s", created.ID, again.ID)
	}

	levels, err := s.ListStock(ctx, SeedShopID, SeedMainBranchID)
	if err != nil {
		t.Fatalf("list stock failed: %v", err)
	}
	for _, level := range levels {
		if level.SKU == "MILK-500" && level.Qty != 117 {
			t.Fatalf("expected 117 milk left, got %d", level.Qty)
		}
	}

	big := order
	big.IdempotencyKey = "idem-2"
	big.Items = []domain.OrderItem{{SKU: "MILK-500", Qty: 1000}}
	if _, err := s.CreateOrder(ctx, big); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCreateOrderRespectsDiscountUsageLimit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.CreateDiscount(ctx, domain.Discount{ID: "disc_1", ShopID: SeedShopID, Code: "ONCE", Status: domain.DiscountStatusActive, UsageLimit: 1}); err != nil {
		t.Fatalf("create discount failed: %v", err)
	}
	base := domain.Order{ShopID: SeedShopID, BranchID: SeedMainBranchID, DiscountID: "disc_1", Items: []domain.OrderItem{{SKU: "SODA-500", Qty: 1}}}

	first := base
	first.IdempotencyKey = "a"
	if _, err := s.CreateOrder(ctx, first); err != nil {
		t.Fatalf("first discounted order failed: %v", err)
	}
	second := base
	second.IdempotencyKey = "b"
	if _, err := s.CreateOrder(ctx, second); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected usage limit to block second order, got %v", err)
	}
	discount, _ := s.GetDiscount(ctx, "disc_1")
	if discount.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", discount.UsageCount)
	}
}

func TestTransitionOrderRestocks(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, err := s.CreateOrder(ctx, domain.Order{
		ShopID: SeedShopID, BranchID: SeedMainBranchID, IdempotencyKey: "k",
		Items:  []domain.OrderItem{{SKU: "BREAD-400", Qty: 20}},
		Status: domain.OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	cancelled, err := s.TransitionOrder(ctx, SeedShopID, created.ID, domain.OrderTransition{
		From: []string{domain.OrderStatusPending}, Status: domain.OrderStatusCancelled, Restock: true, At: time.Now(),
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if qty, _ := s.AdjustStock(ctx, SeedShopID, SeedMainBranchID, "BREAD-400", 0); qty != 120 {
		t.Fatalf("expected stock restored to 120, got %d", qty)
	}
	if _, err := s.TransitionOrder(ctx, SeedShopID, created.ID, domain.OrderTransition{From: []string{domain.OrderStatusPending}, Status: domain.OrderStatusCancelled}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestResolvePaymentOnlyOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.CreatePayment(ctx, domain.Payment{ID: "pay_1", ShopID: SeedShopID, OrderID: "order_1", Status: domain.PaymentPending, CheckoutRequestID: "ws_CO_1"}); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	found, err := s.GetPaymentByCheckoutID(ctx, "ws_CO_1")
	if err != nil || found.ID != "pay_1" {
		t.Fatalf("lookup by checkout id failed: %v", err)
	}
	if _, err := s.ResolvePayment(ctx, "pay_1", domain.PaymentResult{Status: domain.PaymentCompleted, MpesaReceipt: "QK12", At: time.Now()}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := s.ResolvePayment(ctx, "pay_1", domain.PaymentResult{Status: domain.PaymentFailed, At: time.Now()}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second resolve, got %v", err)
	}
}

func TestOnePendingPaymentPerOrder(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first := domain.Payment{ID: "pay_1", ShopID: SeedShopID, OrderID: "order_1", Status: domain.PaymentPending, CheckoutRequestID: "ws_CO_1"}
	if _, err := s.CreatePayment(ctx, first); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	second := domain.Payment{ID: "pay_2", ShopID: SeedShopID, OrderID: "order_1", Status: domain.PaymentPending, CheckoutRequestID: "ws_CO_2"}
	if _, err := s.CreatePayment(ctx, second); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for a second pending payment, got %v", err)
	}
	if _, err := s.GetPaymentByCheckoutID(ctx, "ws_CO_2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("refused payment must not be indexed, got %v", err)
	}

	if _, err := s.ResolvePayment(ctx, "pay_1", domain.PaymentResult{Status: domain.PaymentCancelled, ResultCode: 1032, At: time.Now()}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := s.CreatePayment(ctx, second); err != nil {
		t.Fatalf("expected retry after the first payment resolved, got %v", err)
	}
}

func TestTransferMovesStockBetweenBranches(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	now := time.Now()

	_, err := s.CreateTransfer(ctx, domain.StockTransfer{
		ID: "trf_1", ShopID: SeedShopID, FromBranchID: SeedMainBranchID, ToBranchID: SeedOtherBranchID,
		Items: []domain.StockAdjustment{{SKU: "SUGAR-1KG", Qty: 10}}, Status: domain.TransferPending,
	})
	if err != nil {
		t.Fatalf("create transfer failed: %v", err)
	}
	if _, err := s.CompleteTransfer(ctx, SeedShopID, "trf_1", now); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected complete before approve to fail, got %v", err)
	}
	if _, err := s.ApproveTransfer(ctx, SeedShopID, "trf_1", "user_admin", now); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := s.CompleteTransfer(ctx, SeedShopID, "trf_1", now); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if qty, _ := s.AdjustStock(ctx, SeedShopID, SeedMainBranchID, "SUGAR-1KG", 0); qty != 110 {
		t.Fatalf("expected source 110, got %d", qty)
	}
	if qty, _ := s.AdjustStock(ctx, SeedShopID, SeedOtherBranchID, "SUGAR-1KG", 0); qty != 50 {
		t.Fatalf("expected destination 50, got %d", qty)
	}
	if _, err := s.CloseTransfer(ctx, SeedShopID, "trf_1", domain.TransferCancelled, "", "user_admin", now); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected cancel of completed transfer to fail, got %v", err)
	}
}

func TestMarkOverdueInvoices(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.CreateInvoice(ctx, domain.Invoice{ID: "inv_1", ShopID: SeedShopID, PeriodStart: period, DueDate: period.AddDate(0, 0, 14), Status: domain.InvoicePending}); err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if _, err := s.CreateInvoice(ctx, domain.Invoice{ID: "inv_2", ShopID: SeedShopID, PeriodStart: period}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate period conflict, got %v", err)
	}
	marked, err := s.MarkOverdueInvoices(ctx, period.AddDate(0, 1, 0))
	if err != nil || marked != 1 {
		t.Fatalf("expected one overdue invoice, got %d (%v)", marked, err)
	}
	sub, _ := s.GetSubscription(ctx, SeedShopID)
	if sub.Status != domain.SubscriptionPastDue {
		t.Fatalf("expected past_due subscription, got %s", sub.Status)
	}
	if _, err := s.MarkInvoicePaid(ctx, SeedShopID, "inv_1", "MPESA-REF", time.Now()); err != nil {
		t.Fatalf("pay invoice failed: %v", err)
	}
	sub, _ = s.GetSubscription(ctx, SeedShopID)
	if sub.Status != domain.SubscriptionActive {
		t.Fatalf("expected subscription active after payment, got %s", sub.Status)
	}
}

func TestTenantScopedLookups(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.GetBranch(ctx, SeedOtherShopID, SeedMainBranchID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected branch of another shop to be hidden, got %v", err)
	}
	if _, err := s.CreateDiscount(ctx, domain.Discount{ID: "disc_x", ShopID: SeedShopID, Code: "SAVE10"}); err != nil {
		t.Fatalf("create discount failed: %v", err)
	}
	if _, err := s.GetDiscountByCode(ctx, SeedOtherShopID, "SAVE10"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected code lookup to be shop scoped, got %v", err)
	}
	if _, err := s.CreateDiscount(ctx, domain.Discount{ID: "disc_y", ShopID: SeedOtherShopID, Code: "SAVE10"}); err != nil {
		t.Fatalf("same code in another shop should be allowed: %v", err)
	}
}
