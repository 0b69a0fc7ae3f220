package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type ShopRegisterRequest struct {
	ShopName      string `json:"shop_name" validate:"required,min=2,max=120"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"required,ke_phone"`
	County        string `json:"county,omitempty" validate:"max=60"`
	BusinessType  string `json:"business_type,omitempty" validate:"max=60"`
	OwnerName     string `json:"owner_name" validate:"required,min=2,max=120"`
	OwnerPassword string `json:"owner_password" validate:"required,min=8,max=72"`
}

type ShopRegisterResponse struct {
	Shop   Shop   `json:"shop"`
	Owner  User   `json:"owner"`
	Branch Branch `json:"branch"`
}

type ShopStatusRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type UserCreateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Role     string `json:"role" validate:"required,oneof=manager cashier"`
	BranchID string `json:"branch_id,omitempty"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type BranchCreateRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Code     string `json:"code" validate:"required,alphanum,max=12"`
	Location string `json:"location,omitempty" validate:"max=200"`
}

type ProductCreateRequest struct {
	SKU               string `json:"sku" validate:"required,max=64"`
	Name              string `json:"name" validate:"required,max=200"`
	Category          string `json:"category" validate:"required,max=60"`
	PriceCents        int64  `json:"price_cents" validate:"gte=1"`
	CostCents         int64  `json:"cost_cents" validate:"gte=0"`
	LowStockThreshold int    `json:"low_stock_threshold" validate:"gte=0"`
	BranchID          string `json:"branch_id,omitempty"`
	InitialStock      int    `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	PriceCents        *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=1"`
	CostCents         *int64  `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0"`
	Active            *bool   `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	BranchID string `json:"branch_id"`
	SKU      string `json:"sku" validate:"required"`
	Delta    int    `json:"delta" validate:"ne=0"`
	Reason   string `json:"reason,omitempty" validate:"max=200"`
}

type StockAdjustResponse struct {
	BranchID string `json:"branch_id"`
	SKU      string `json:"sku"`
	Qty      int    `json:"qty"`
}

type ClockInRequest struct {
	BranchID            string `json:"branch_id,omitempty"`
	OpeningBalanceCents int64  `json:"opening_balance_cents" validate:"gte=0"`
}

type ClockOutRequest struct {
	ClosingBalanceCents int64  `json:"closing_balance_cents" validate:"gte=0"`
	Notes               string `json:"notes,omitempty" validate:"max=500"`
}

type ReconcileRequest struct {
	ActualCashCents int64  `json:"actual_cash_cents" validate:"gte=0"`
	Notes           string `json:"notes,omitempty" validate:"max=500"`
}

type DiscountCreateRequest struct {
	Name             string          `json:"name" validate:"required,max=120"`
	Code             string          `json:"code" validate:"required,alphanum,min=3,max=32"`
	Description      string          `json:"description,omitempty" validate:"max=500"`
	Type             string          `json:"type" validate:"required,oneof=percentage fixed bogo tiered coupon"`
	Value            decimal.Decimal `json:"value"`
	MinPurchaseCents int64           `json:"min_purchase_cents" validate:"gte=0"`
	MaxDiscountCents int64           `json:"max_discount_cents" validate:"gte=0"`
	CustomerSegments []string        `json:"customer_segments,omitempty"`
	ApplicableDays   []int           `json:"applicable_days,omitempty" validate:"dive,gte=0,lte=6"`
	StartHour        *int            `json:"start_hour,omitempty" validate:"omitempty,gte=0,lte=23"`
	EndHour          *int            `json:"end_hour,omitempty" validate:"omitempty,gte=1,lte=24"`
	ValidFrom        *time.Time      `json:"valid_from,omitempty"`
	ValidTo          *time.Time      `json:"valid_to,omitempty"`
	UsageLimit       int             `json:"usage_limit" validate:"gte=0"`
	Tiers            []DiscountTier  `json:"tiers,omitempty" validate:"dive"`
	BOGO             *BOGORule       `json:"bogo,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}

type DiscountUpdateRequest struct {
	Name             *string          `json:"name,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Value            *decimal.Decimal `json:"value,omitempty"`
	MinPurchaseCents *int64           `json:"min_purchase_cents,omitempty" validate:"omitempty,gte=0"`
	MaxDiscountCents *int64           `json:"max_discount_cents,omitempty" validate:"omitempty,gte=0"`
	CustomerSegments []string         `json:"customer_segments,omitempty"`
	ApplicableDays   []int            `json:"applicable_days,omitempty" validate:"dive,gte=0,lte=6"`
	StartHour        *int             `json:"start_hour,omitempty" validate:"omitempty,gte=0,lte=23"`
	EndHour          *int             `json:"end_hour,omitempty" validate:"omitempty,gte=1,lte=24"`
	ValidFrom        *time.Time       `json:"valid_from,omitempty"`
	ValidTo          *time.Time       `json:"valid_to,omitempty"`
	UsageLimit       *int             `json:"usage_limit,omitempty" validate:"omitempty,gte=0"`
	Status           *string          `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Tiers            []DiscountTier   `json:"tiers,omitempty" validate:"dive"`
	BOGO             *BOGORule        `json:"bogo,omitempty"`
	RequiresApproval *bool            `json:"requires_approval,omitempty"`

	// ClearHours drops the hour window; ClearValidity drops valid_from and
	// valid_to. Values sent alongside a clear flag are applied after it.
	ClearHours    bool `json:"clear_hours,omitempty"`
	ClearValidity bool `json:"clear_validity,omitempty"`
}

type CartItem struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=1"`
}

// DiscountCheckRequest identifies a discount by id or code and carries the
// cart it would apply to.
type DiscountCheckRequest struct {
	DiscountID      string     `json:"discount_id,omitempty"`
	Code            string     `json:"code,omitempty"`
	SubtotalCents   int64      `json:"subtotal_cents" validate:"gte=0"`
	Items           []CartItem `json:"items,omitempty" validate:"dive"`
	BranchID        string     `json:"branch_id,omitempty"`
	CustomerSegment string     `json:"customer_segment,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
}

type DiscountCheckResponse struct {
	Valid               bool           `json:"valid"`
	Discount            *Discount      `json:"discount,omitempty"`
	OriginalAmountCents int64          `json:"original_amount_cents"`
	DiscountAmountCents int64          `json:"discount_amount_cents"`
	FinalAmountCents    int64          `json:"final_amount_cents"`
	Audit               *DiscountAudit `json:"audit,omitempty"`
}

type DiscountReviewRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type OrderCreateRequest struct {
	BranchID          string     `json:"branch_id,omitempty"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty" validate:"max=100"`
	Items             []CartItem `json:"items" validate:"required,min=1,dive"`
	DiscountCode      string     `json:"discount_code,omitempty"`
	PaymentMethod     string     `json:"payment_method" validate:"required,oneof=cash mpesa card"`
	PaymentReference  string     `json:"payment_reference,omitempty"`
	CashReceivedCents int64      `json:"cash_received_cents" validate:"gte=0"`
	TaxRatePercent    *float64   `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	CustomerPhone     string     `json:"customer_phone,omitempty" validate:"omitempty,ke_phone"`
	CustomerSegment   string     `json:"customer_segment,omitempty"`
}

type OrderResponse struct {
	Order     Order          `json:"order"`
	Duplicate bool           `json:"duplicate"`
	Audit     *DiscountAudit `json:"discount_audit,omitempty"`
}

type OrderCancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type STKPushRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Phone   string `json:"phone" validate:"required,ke_phone"`
}

type CashPaymentRequest struct {
	OrderID           string `json:"order_id" validate:"required"`
	CashReceivedCents int64  `json:"cash_received_cents" validate:"gte=1"`
}

type PaymentStatusResponse struct {
	Payment Payment `json:"payment"`
	Order   *Order  `json:"order,omitempty"`
}

type ChangePlanRequest struct {
	PlanCode string `json:"plan_code" validate:"required"`
}

type InvoicePayRequest struct {
	Reference string `json:"reference" validate:"required,max=100"`
}

type GenerateInvoicesRequest struct {
	Period string `json:"period" validate:"required,datetime=2006-01"`
}

type GenerateInvoicesResponse struct {
	Period  string    `json:"period"`
	Created []Invoice `json:"created"`
	Skipped int       `json:"skipped"`
}

type TransferCreateRequest struct {
	FromBranchID string            `json:"from_branch_id" validate:"required"`
	ToBranchID   string            `json:"to_branch_id" validate:"required,nefield=FromBranchID"`
	Items        []StockAdjustment `json:"items" validate:"required,min=1,dive"`
	Notes        string            `json:"notes,omitempty" validate:"max=500"`
}

type TransferRejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type TicketCreateRequest struct {
	Subject     string `json:"subject" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=5000"`
	Category    string `json:"category,omitempty" validate:"max=60"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
}

type TicketMessageRequest struct {
	Body string `json:"body" validate:"required,max=5000"`
}

type TicketAssignRequest struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

type TicketStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

type SubscriptionResponse struct {
	Subscription Subscription `json:"subscription"`
	Plan         Plan         `json:"plan"`
}

type UserResponse struct {
	User User  `json:"user"`
	Shop *Shop `json:"shop,omitempty"`
}
