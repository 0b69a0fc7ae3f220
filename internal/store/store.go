package store

import (
	"context"
	"errors"
	"time"

	"smartduka/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid request")
	ErrConflict          = errors.New("conflict")
)

type Repository interface {
	RegisterShop(ctx context.Context, reg domain.ShopRegistration) error
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
	ListShops(ctx context.Context, status string, limit int) ([]domain.Shop, error)
	// UpdateShopStatus moves a shop to status only while its current status is one of from.
	UpdateShopStatus(ctx context.Context, shopID string, from []string, status string, reason string, actorID string, at time.Time) (*domain.Shop, error)
	UpdateShopPlan(ctx context.Context, shopID string, planCode string, at time.Time) error
	CountShopsByStatus(ctx context.Context) (map[string]int, error)

	CreateUser(ctx context.Context, user domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context, shopID string) ([]domain.User, error)

	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, shopID string, branchID string) (*domain.Branch, error)
	ListBranches(ctx context.Context, shopID string) ([]domain.Branch, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, shopID string, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, shopID string, skus []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// AdjustStock applies delta and returns the new quantity. It fails with
	// ErrInsufficientStock rather than going negative.
	AdjustStock(ctx context.Context, shopID string, branchID string, sku string, delta int) (int, error)
	ListStock(ctx context.Context, shopID string, branchID string) ([]domain.StockLevel, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, shopID string, shiftID string) (*domain.Shift, error)
	GetOpenShift(ctx context.Context, shopID string, cashierID string) (*domain.Shift, error)
	CloseOpenShift(ctx context.Context, shopID string, cashierID string, closingBalanceCents int64, notes string, closedAt time.Time) (*domain.Shift, error)
	// ReconcileShift persists the reconciliation figures on a closed shift.
	ReconcileShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error)
	GetShiftSales(ctx context.Context, shopID string, shiftID string) (domain.ShiftSales, error)

	CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error)
	GetDiscount(ctx context.Context, discountID string) (*domain.Discount, error)
	GetDiscountByCode(ctx context.Context, shopID string, code string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context, shopID string, status string) ([]domain.Discount, error)
	UpdateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error)
	// RecordDiscountUse bumps the usage_count of audit.DiscountID and inserts
	// audit in one unit of work. A reached usage limit yields ErrInvalid.
	RecordDiscountUse(ctx context.Context, audit domain.DiscountAudit) (*domain.Discount, *domain.DiscountAudit, error)
	CreateDiscountAudit(ctx context.Context, audit domain.DiscountAudit) (*domain.DiscountAudit, error)
	ListDiscountAudits(ctx context.Context, shopID string, status string, limit int) ([]domain.DiscountAudit, error)
	ReviewDiscountAudit(ctx context.Context, shopID string, auditID string, status string, reason string, reviewerID string, at time.Time) (*domain.DiscountAudit, error)

	// CreateOrder decrements branch stock and, when the order carries a
	// discount, its usage counter in the same unit of work.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindOrderByIdempotency(ctx context.Context, shopID string, key string) (*domain.Order, error)
	GetOrder(ctx context.Context, shopID string, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	TransitionOrder(ctx context.Context, shopID string, orderID string, transition domain.OrderTransition) (*domain.Order, error)

	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, shopID string, paymentID string) (*domain.Payment, error)
	GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Payment, error)
	ListPaymentsByOrder(ctx context.Context, shopID string, orderID string) ([]domain.Payment, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error)
	// ResolvePayment applies a terminal result to a payment whose status is in
	// result.From (pending when empty). Any other payment yields ErrConflict.
	ResolvePayment(ctx context.Context, paymentID string, result domain.PaymentResult) (*domain.Payment, error)

	GetSubscription(ctx context.Context, shopID string) (*domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	ListBillableSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	NextInvoiceSequence(ctx context.Context, period string) (int, error)
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, shopID string, status string, limit int) ([]domain.Invoice, error)
	MarkInvoicePaid(ctx context.Context, shopID string, invoiceID string, reference string, at time.Time) (*domain.Invoice, error)
	MarkOverdueInvoices(ctx context.Context, now time.Time) (int, error)

	CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error)
	GetTransfer(ctx context.Context, shopID string, transferID string) (*domain.StockTransfer, error)
	ListTransfers(ctx context.Context, shopID string, status string, limit int) ([]domain.StockTransfer, error)
	// ApproveTransfer deducts the items from the source branch.
	ApproveTransfer(ctx context.Context, shopID string, transferID string, approverID string, at time.Time) (*domain.StockTransfer, error)
	// CompleteTransfer credits the items to the destination branch.
	CompleteTransfer(ctx context.Context, shopID string, transferID string, at time.Time) (*domain.StockTransfer, error)
	CloseTransfer(ctx context.Context, shopID string, transferID string, status string, reason string, actorID string, at time.Time) (*domain.StockTransfer, error)

	CreateTicket(ctx context.Context, ticket domain.SupportTicket) (*domain.SupportTicket, error)
	GetTicket(ctx context.Context, ticketID string) (*domain.SupportTicket, error)
	ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SupportTicket, error)
	AddTicketMessage(ctx context.Context, ticketID string, message domain.TicketMessage) (*domain.SupportTicket, error)
	UpdateTicketStatus(ctx context.Context, ticketID string, from []string, status string, at time.Time) (*domain.SupportTicket, error)
	AssignTicket(ctx context.Context, ticketID string, assigneeID string, at time.Time) (*domain.SupportTicket, error)
	CountOpenTickets(ctx context.Context) (int, error)

	GetDailyReport(ctx context.Context, shopID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
