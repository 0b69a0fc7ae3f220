package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleCashier    = "cashier"
)

const (
	ShopStatusPending   = "pending"
	ShopStatusActive    = "active"
	ShopStatusSuspended = "suspended"
	ShopStatusRejected  = "rejected"
)

type Actor struct {
	UserID   string
	Email    string
	Name     string
	Role     string
	ShopID   string
	BranchID string
}

func (a Actor) IsSuperAdmin() bool { return a.Role == RoleSuperAdmin }

// IsShopManager reports whether the actor can manage shop-wide resources.
func (a Actor) IsShopManager() bool { return a.Role == RoleAdmin || a.Role == RoleManager }

type Shop struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	County       string     `json:"county,omitempty"`
	BusinessType string     `json:"business_type,omitempty"`
	Status       string     `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	VerifiedBy   string     `json:"verified_by,omitempty"`
	PlanCode     string     `json:"plan_code"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Branch struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Location  string    `json:"location,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           string    `json:"id"`
	ShopID       string    `json:"shop_id,omitempty"`
	BranchID     string    `json:"branch_id,omitempty"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShopRegistration is persisted as one unit: the shop, its first branch,
// its owner account and the trial subscription.
type ShopRegistration struct {
	Shop         Shop
	Branch       Branch
	Owner        User
	Subscription Subscription
}

type Product struct {
	ShopID            string    `json:"shop_id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	PriceCents        int64     `json:"price_cents"`
	CostCents         int64     `json:"cost_cents"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type StockLevel struct {
	BranchID          string `json:"branch_id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Qty               int    `json:"qty"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type StockAdjustment struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=1"`
}

const (
	ShiftStatusOpen       = "open"
	ShiftStatusClosed     = "closed"
	ShiftStatusReconciled = "reconciled"
)

type Shift struct {
	ID                  string          `json:"id"`
	ShopID              string          `json:"shop_id"`
	BranchID            string          `json:"branch_id"`
	CashierID           string          `json:"cashier_id"`
	CashierName         string          `json:"cashier_name"`
	Status              string          `json:"status"`
	OpeningBalanceCents int64           `json:"opening_balance_cents"`
	ClosingBalanceCents int64           `json:"closing_balance_cents"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             *time.Time      `json:"end_time,omitempty"`
	ExpectedCashCents   int64           `json:"expected_cash_cents"`
	ActualCashCents     int64           `json:"actual_cash_cents"`
	VarianceCents       int64           `json:"variance_cents"`
	SalesCount          int64           `json:"sales_count"`
	SalesTotalCents     int64           `json:"sales_total_cents"`
	ByPayment           []PaymentTotals `json:"by_payment,omitempty"`
	ReconciledAt        *time.Time      `json:"reconciled_at,omitempty"`
	ReconciledBy        string          `json:"reconciled_by,omitempty"`
	Notes               string          `json:"notes,omitempty"`
}

type PaymentTotals struct {
	PaymentMethod string `json:"payment_method"`
	Count         int64  `json:"count"`
	TotalCents    int64  `json:"total_cents"`
}

// ShiftSales summarises the completed orders rung up during a shift.
type ShiftSales struct {
	Count      int64
	TotalCents int64
	ByPayment  []PaymentTotals
}

type ShiftFilter struct {
	ShopID    string
	CashierID string
	Status    string
	From      time.Time
	To        time.Time
	Limit     int
}

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
	DiscountBOGO       = "bogo"
	DiscountTiered     = "tiered"
	DiscountCoupon     = "coupon"

	DiscountStatusActive   = "active"
	DiscountStatusInactive = "inactive"
)

// Discount.Value is a percent for percentage discounts and an amount in
// cents for fixed and coupon discounts. Tiered and BOGO rules use their
// own fields.
type Discount struct {
	ID               string          `json:"id"`
	ShopID           string          `json:"shop_id"`
	Name             string          `json:"name"`
	Code             string          `json:"code"`
	Description      string          `json:"description,omitempty"`
	Type             string          `json:"type"`
	Value            decimal.Decimal `json:"value"`
	MinPurchaseCents int64           `json:"min_purchase_cents"`
	MaxDiscountCents int64           `json:"max_discount_cents"`
	CustomerSegments []string        `json:"customer_segments"`
	ApplicableDays   []int           `json:"applicable_days"`
	StartHour        *int            `json:"start_hour,omitempty"`
	EndHour          *int            `json:"end_hour,omitempty"`
	ValidFrom        *time.Time      `json:"valid_from,omitempty"`
	ValidTo          *time.Time      `json:"valid_to,omitempty"`
	UsageLimit       int             `json:"usage_limit"`
	UsageCount       int             `json:"usage_count"`
	Status           string          `json:"status"`
	Tiers            []DiscountTier  `json:"tiers,omitempty"`
	BOGO             *BOGORule       `json:"bogo,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type DiscountTier struct {
	MinAmountCents int64           `json:"min_amount_cents" validate:"gte=0"`
	Percent        decimal.Decimal `json:"percent"`
}

type BOGORule struct {
	BuyQty     int `json:"buy_qty" validate:"gte=1"`
	GetQty     int `json:"get_qty" validate:"gte=1"`
	GetPercent int `json:"get_percent" validate:"gte=0,lte=100"`
}

const (
	AuditStatusPending  = "pending"
	AuditStatusApproved = "approved"
	AuditStatusRejected = "rejected"
)

type DiscountAudit struct {
	ID                  string     `json:"id"`
	ShopID              string     `json:"shop_id"`
	DiscountID          string     `json:"discount_id"`
	DiscountCode        string     `json:"discount_code"`
	OrderID             string     `json:"order_id,omitempty"`
	CashierID           string     `json:"cashier_id"`
	OriginalAmountCents int64      `json:"original_amount_cents"`
	DiscountAmountCents int64      `json:"discount_amount_cents"`
	FinalAmountCents    int64      `json:"final_amount_cents"`
	Status              string     `json:"status"`
	Reason              string     `json:"reason,omitempty"`
	ReviewedBy          string     `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

const (
	PaymentMethodCash  = "cash"
	PaymentMethodMpesa = "mpesa"
	PaymentMethodCard  = "card"

	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"

	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

type OrderItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type Order struct {
	ID                string      `json:"id"`
	ShopID            string      `json:"shop_id"`
	BranchID          string      `json:"branch_id"`
	ShiftID           string      `json:"shift_id"`
	CashierID         string      `json:"cashier_id"`
	OrderNumber       string      `json:"order_number"`
	Items             []OrderItem `json:"items"`
	SubtotalCents     int64       `json:"subtotal_cents"`
	DiscountID        string      `json:"discount_id,omitempty"`
	DiscountCode      string      `json:"discount_code,omitempty"`
	DiscountCents     int64       `json:"discount_cents"`
	TaxRatePercent    float64     `json:"tax_rate_percent"`
	TaxCents          int64       `json:"tax_cents"`
	TotalCents        int64       `json:"total_cents"`
	PaymentMethod     string      `json:"payment_method"`
	PaymentReference  string      `json:"payment_reference,omitempty"`
	PaymentStatus     string      `json:"payment_status"`
	Status            string      `json:"status"`
	CustomerPhone     string      `json:"customer_phone,omitempty"`
	CustomerSegment   string      `json:"customer_segment,omitempty"`
	CashReceivedCents int64       `json:"cash_received_cents"`
	ChangeCents       int64       `json:"change_cents"`
	IdempotencyKey    string      `json:"idempotency_key"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// OrderTransition moves an order out of one of the From statuses. Restock
// returns the order's items to branch stock in the same step.
type OrderTransition struct {
	From          []string
	Status        string
	PaymentStatus string
	Reference     string
	Restock       bool
	At            time.Time
}

type OrderFilter struct {
	ShopID    string
	BranchID  string
	ShiftID   string
	CashierID string
	Status    string
	From      time.Time
	To        time.Time
	Limit     int
}

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
	PaymentTimeout   = "timeout"

	// PaymentNeedsRefund is money M-Pesa captured for an order that had
	// already left pending.
	PaymentNeedsRefund = "needs_refund"
)

// PaymentCaptured reports whether a payment status means the customer's
// money was taken.
func PaymentCaptured(status string) bool {
	return status == PaymentCompleted || status == PaymentNeedsRefund
}

type Payment struct {
	ID                string     `json:"id"`
	ShopID            string     `json:"shop_id"`
	OrderID           string     `json:"order_id"`
	Method            string     `json:"method"`
	AmountCents       int64      `json:"amount_cents"`
	Phone             string     `json:"phone,omitempty"`
	Status            string     `json:"status"`
	MerchantRequestID string     `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string     `json:"checkout_request_id,omitempty"`
	MpesaReceipt      string     `json:"mpesa_receipt,omitempty"`
	ResultCode        *int       `json:"result_code,omitempty"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PaymentResult is the terminal outcome applied to a payment. From lists the
// statuses it may replace; empty means pending only.
type PaymentResult struct {
	Status       string
	ResultCode   int
	ResultDesc   string
	MpesaReceipt string
	At           time.Time
	From         []string
}

type Plan struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	MonthlyPriceCents int64  `json:"monthly_price_cents"`
	MaxBranches       int    `json:"max_branches"`
	MaxUsers          int    `json:"max_users"`
}

const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionCancelled = "cancelled"
)

type Subscription struct {
	ShopID             string    `json:"shop_id"`
	PlanCode           string    `json:"plan_code"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const (
	InvoicePending   = "pending"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

type InvoiceLine struct {
	Description    string `json:"description"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type Invoice struct {
	ID               string        `json:"id"`
	ShopID           string        `json:"shop_id"`
	Number           string        `json:"number"`
	PeriodStart      time.Time     `json:"period_start"`
	PeriodEnd        time.Time     `json:"period_end"`
	Lines            []InvoiceLine `json:"lines"`
	SubtotalCents    int64         `json:"subtotal_cents"`
	TaxCents         int64         `json:"tax_cents"`
	TotalCents       int64         `json:"total_cents"`
	Status           string        `json:"status"`
	DueDate          time.Time     `json:"due_date"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

const (
	TransferPending   = "pending"
	TransferApproved  = "approved"
	TransferRejected  = "rejected"
	TransferCompleted = "completed"
	TransferCancelled = "cancelled"
)

type StockTransfer struct {
	ID              string            `json:"id"`
	ShopID          string            `json:"shop_id"`
	TransferNumber  string            `json:"transfer_number"`
	FromBranchID    string            `json:"from_branch_id"`
	ToBranchID      string            `json:"to_branch_id"`
	Items           []StockAdjustment `json:"items"`
	Status          string            `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	RequestedBy     string            `json:"requested_by"`
	ApprovedBy      string            `json:"approved_by,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	TicketOpen       = "open"
	TicketInProgress = "in_progress"
	TicketResolved   = "resolved"
	TicketClosed     = "closed"
)

type TicketMessage struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorRole string    `json:"author_role"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type SupportTicket struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shop_id"`
	Subject     string          `json:"subject"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Priority    string          `json:"priority"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Messages    []TicketMessage `json:"messages"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

type TicketFilter struct {
	ShopID   string
	Status   string
	Priority string
	Limit    int
}

type AuditLog struct {
	ID         string    `json:"id"`
	ShopID     string    `json:"shop_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type DailyReportPayment struct {
	PaymentMethod string `json:"payment_method"`
	Orders        int64  `json:"orders"`
	TotalCents    int64  `json:"total_cents"`
}

type DailyReportCashier struct {
	CashierID  string `json:"cashier_id"`
	Orders     int64  `json:"orders"`
	TotalCents int64  `json:"total_cents"`
}

type DailyReport struct {
	ShopID          string               `json:"shop_id"`
	BranchID        string               `json:"branch_id,omitempty"`
	Date            string               `json:"date"`
	Orders          int64                `json:"orders"`
	GrossSalesCents int64                `json:"gross_sales_cents"`
	DiscountCents   int64                `json:"discount_cents"`
	TaxCents        int64                `json:"tax_cents"`
	NetSalesCents   int64                `json:"net_sales_cents"`
	ByPayment       []DailyReportPayment `json:"by_payment"`
	ByCashier       []DailyReportCashier `json:"by_cashier"`
}

type PlatformStats struct {
	ShopsByStatus map[string]int `json:"shops_by_status"`
	TotalShops    int            `json:"total_shops"`
	OpenTickets   int            `json:"open_tickets"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
