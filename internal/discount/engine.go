// Package discount evaluates discount rules against a cart. It performs no
// I/O: callers load the discount and persist usage themselves.
package discount

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"smartduka/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("discount not found")
	ErrForbidden     = errors.New("discount belongs to another shop")
	ErrNotApplicable = errors.New("discount not applicable")
)

// Shop-local time. Day and hour windows are evaluated in this zone.
var Location = time.FixedZone("EAT", 3*60*60)

var hundred = decimal.NewFromInt(100)

type Line struct {
	SKU            string
	Qty            int
	UnitPriceCents int64
}

type Cart struct {
	ShopID          string
	SubtotalCents   int64
	Lines           []Line
	CustomerSegment string
	Now             time.Time
}

type Result struct {
	OriginalCents int64
	DiscountCents int64
	FinalCents    int64
}

// CheckOwner reports whether d exists and belongs to shopID.
func CheckOwner(d *domain.Discount, shopID string) error {
	if d == nil {
		return ErrNotFound
	}
	if d.ShopID != shopID {
		return ErrForbidden
	}
	return nil
}

// Validate runs the applicability checks in a fixed order and returns the
// first failure.
func Validate(d *domain.Discount, cart Cart) error {
	if err := CheckOwner(d, cart.ShopID); err != nil {
		return err
	}
	if d.Status != domain.DiscountStatusActive {
		return notApplicable("discount is not active")
	}
	if d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit {
		return notApplicable("discount usage limit reached")
	}

	now := cart.Now
	if now.IsZero() {
		now = time.Now()
	}
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return notApplicable("discount is not yet valid")
	}
	if d.ValidTo != nil && now.After(*d.ValidTo) {
		return notApplicable("discount has expired")
	}
	if cart.SubtotalCents < d.MinPurchaseCents {
		return notApplicable(fmt.Sprintf("minimum purchase of %d cents not met", d.MinPurchaseCents))
	}
	if len(d.CustomerSegments) > 0 && !slices.Contains(d.CustomerSegments, cart.CustomerSegment) {
		return notApplicable("discount not available for this customer segment")
	}

	local := now.In(Location)
	if len(d.ApplicableDays) > 0 && !slices.Contains(d.ApplicableDays, int(local.Weekday())) {
		return notApplicable("discount not available today")
	}
	if !inHourWindow(d.StartHour, d.EndHour, local.Hour()) {
		return notApplicable("discount not available at this hour")
	}
	return nil
}

// Calculate returns the discount amount for the cart, clamped to the
// discount's cap and the subtotal. It never returns a negative amount.
func Calculate(d domain.Discount, subtotalCents int64, lines []Line) Result {
	amount := rawAmount(d, subtotalCents, lines)
	if d.MaxDiscountCents > 0 && amount > d.MaxDiscountCents {
		amount = d.MaxDiscountCents
	}
	if amount > subtotalCents {
		amount = subtotalCents
	}
	if amount < 0 {
		amount = 0
	}
	return Result{
		OriginalCents: subtotalCents,
		DiscountCents: amount,
		FinalCents:    subtotalCents - amount,
	}
}

func rawAmount(d domain.Discount, subtotalCents int64, lines []Line) int64 {
	switch d.Type {
	case domain.DiscountPercentage:
		return percentOf(subtotalCents, d.Value)
	case domain.DiscountFixed, domain.DiscountCoupon:
		return d.Value.Round(0).IntPart()
	case domain.DiscountBOGO:
		return bogoAmount(d.BOGO, lines)
	case domain.DiscountTiered:
		tier, ok := bestTier(d.Tiers, subtotalCents)
		if !ok {
			return 0
		}
		return percentOf(subtotalCents, tier.Percent)
	default:
		return 0
	}
}

func bogoAmount(rule *domain.BOGORule, lines []Line) int64 {
	if rule == nil || rule.BuyQty < 1 || rule.GetQty < 1 {
		return 0
	}
	percent := rule.GetPercent
	if percent == 0 {
		percent = 100
	}
	group := rule.BuyQty + rule.GetQty

	total := decimal.Zero
	for _, line := range lines {
		free := (line.Qty / group) * rule.GetQty
		if free == 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(int64(free) * line.UnitPriceCents).
			Mul(decimal.NewFromInt(int64(percent))).
			Div(hundred))
	}
	return total.Round(0).IntPart()
}

func bestTier(tiers []domain.DiscountTier, subtotalCents int64) (domain.DiscountTier, bool) {
	var best domain.DiscountTier
	found := false
	for _, tier := range tiers {
		if tier.MinAmountCents > subtotalCents {
			continue
		}
		if !found || tier.MinAmountCents > best.MinAmountCents {
			best, found = tier, true
		}
	}
	return best, found
}

// percentOf rounds half away from zero to whole cents.
func percentOf(amountCents int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(percent).Div(hundred).Round(0).IntPart()
}

// inHourWindow treats [start, end) as a local-hour window. A window whose
// start is after its end wraps past midnight.
func inHourWindow(startHour, endHour *int, hour int) bool {
	if startHour == nil && endHour == nil {
		return true
	}
	start, end := 0, 24
	if startHour != nil {
		start = *startHour
	}
	if endHour != nil {
		end = *endHour
	}
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func notApplicable(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotApplicable, reason)
}
