package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	databaseURL := os.Getenv("SMARTDUKA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SMARTDUKA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	shopID := fmt.Sprintf("shop_it_%d", stamp)
	branchID := fmt.Sprintf("branch_it_%d", stamp)
	now := time.Now().UTC()
	err = s.RegisterShop(ctx, domain.ShopRegistration{
		Shop:   domain.Shop{ID: shopID, Name: "IT Duka", Email: "it@duka.test", Status: domain.ShopStatusActive, PlanCode: "starter", CreatedAt: now},
		Branch: domain.Branch{ID: branchID, ShopID: shopID, Name: "Main", Code: "MAIN", Active: true, CreatedAt: now},
		Owner: domain.User{ID: fmt.Sprintf("user_it_%d", stamp), ShopID: shopID, Email: fmt.Sprintf("owner-%d@duka.test", stamp),
			Name: "IT Owner", Role: domain.RoleAdmin, PasswordHash: "x", Active: true},
		Subscription: domain.Subscription{ShopID: shopID, PlanCode: "starter", Status: domain.SubscriptionTrial,
			CurrentPeriodStart: now, CurrentPeriodEnd: now.AddDate(0, 1, 0), UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("register shop: %v", err)
	}

	t.Cleanup(func() {
		for _, table := range []string{"payments", "discount_audits", "orders", "discounts", "shifts", "stock_levels",
			"products", "stock_transfers", "support_tickets", "invoices", "subscriptions", "users", "branches", "audit_logs"} {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE shop_id = $1`, shopID)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1`, shopID)
		_ = s.Close()
	})
	return s, shopID, branchID
}

func TestOpenShiftIsUniquePerCashier(t *testing.T) {
	s, shopID, branchID := newIntegrationStore(t)
	ctx := context.Background()

	if _, err := s.CreateShift(ctx, domain.Shift{ShopID: shopID, BranchID: branchID, CashierID: "cashier-it"}); err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	if _, err := s.CreateShift(ctx, domain.Shift{ShopID: shopID, BranchID: branchID, CashierID: "cashier-it"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second open shift, got %v", err)
	}
}

func TestCancelOrderRestocksInventory(t *testing.T) {
	s, shopID, branchID := newIntegrationStore(t)
	ctx := context.Background()

	if _, err := s.CreateProduct(ctx, domain.Product{ShopID: shopID, SKU: "IT-SKU", Name: "IT Product", Category: "grocery", PriceCents: 12000, Active: true}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.AdjustStock(ctx, shopID, branchID, "IT-SKU", 10); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	order, err := s.CreateOrder(ctx, domain.Order{
		ShopID: shopID, BranchID: branchID, CashierID: "cashier-it", OrderNumber: "ORD-IT",
		Items:          []domain.OrderItem{{SKU: "IT-SKU", Name: "IT Product", Qty: 4, UnitPriceCents: 12000, TotalCents: 48000}},
		SubtotalCents:  48000,
		TotalCents:     48000,
		PaymentMethod:  domain.PaymentMethodMpesa,
		PaymentStatus:  domain.PaymentStatusPending,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: "idem-it",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if qty, _ := s.AdjustStock(ctx, shopID, branchID, "IT-SKU", 0); qty != 6 {
		t.Fatalf("expected stock 6 after order, got %d", qty)
	}

	if _, err := s.TransitionOrder(ctx, shopID, order.ID, domain.OrderTransition{
		From: []string{domain.OrderStatusPending}, Status: domain.OrderStatusCancelled, Restock: true, At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if qty, _ := s.AdjustStock(ctx, shopID, branchID, "IT-SKU", 0); qty != 10 {
		t.Fatalf("expected stock 10 after cancel, got %d", qty)
	}
}
