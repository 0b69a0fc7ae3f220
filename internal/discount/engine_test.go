package discount

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartduka/backend/internal/domain"
)

// Wednesday 2026-03-11 10:30 in Nairobi.
var wednesdayMorning = time.Date(2026, 3, 11, 10, 30, 0, 0, Location)

func activeDiscount() domain.Discount {
	return domain.Discount{
		ID:     "disc_1",
		ShopID: "shop_demo",
		Code:   "SAVE10",
		Type:   domain.DiscountPercentage,
		Value:  decimal.NewFromInt(10),
		Status: domain.DiscountStatusActive,
	}
}

func ptr[T any](v T) *T { return &v }

func TestCheckOwner(t *testing.T) {
	d := activeDiscount()
	assert.NoError(t, CheckOwner(&d, "shop_demo"))
	assert.ErrorIs(t, CheckOwner(&d, "shop_other"), ErrForbidden)
	assert.ErrorIs(t, CheckOwner(nil, "shop_demo"), ErrNotFound)
}

func TestValidateReportsFirstFailingCheck(t *testing.T) {
	cart := Cart{ShopID: "shop_demo", SubtotalCents: 100000, Now: wednesdayMorning}

	assert.ErrorIs(t, Validate(nil, cart), ErrNotFound)

	other := activeDiscount()
	other.ShopID = "shop_other"
	other.Status = domain.DiscountStatusInactive
	assert.ErrorIs(t, Validate(&other, cart), ErrForbidden)

	inactiveAndExpired := activeDiscount()
	inactiveAndExpired.Status = domain.DiscountStatusInactive
	inactiveAndExpired.ValidTo = ptr(wednesdayMorning.Add(-time.Hour))
	err := Validate(&inactiveAndExpired, cart)
	require.ErrorIs(t, err, ErrNotApplicable)
	assert.Contains(t, err.Error(), "not active")

	exhausted := activeDiscount()
	exhausted.UsageLimit, exhausted.UsageCount = 5, 5
	exhausted.ValidTo = ptr(wednesdayMorning.Add(-time.Hour))
	assert.Contains(t, Validate(&exhausted, cart).Error(), "usage limit")
}

func TestValidateWindowsAndConditions(t *testing.T) {
	cart := Cart{ShopID: "shop_demo", SubtotalCents: 5000, CustomerSegment: "regular", Now: wednesdayMorning}

	cases := []struct {
		name   string
		mutate func(d *domain.Discount)
		reason string
	}{
		{"not yet valid", func(d *domain.Discount) { d.ValidFrom = ptr(wednesdayMorning.Add(time.Hour)) }, "not yet valid"},
		{"expired", func(d *domain.Discount) { d.ValidTo = ptr(wednesdayMorning.Add(-time.Minute)) }, "expired"},
		{"minimum purchase", func(d *domain.Discount) { d.MinPurchaseCents = 10000 }, "minimum purchase"},
		{"segment", func(d *domain.Discount) { d.CustomerSegments = []string{"vip"} }, "segment"},
		{"weekday", func(d *domain.Discount) { d.ApplicableDays = []int{0, 6} }, "today"},
		{"hour", func(d *domain.Discount) { d.StartHour, d.EndHour = ptr(14), ptr(18) }, "hour"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := activeDiscount()
			tc.mutate(&d)
			err := Validate(&d, cart)
			require.ErrorIs(t, err, ErrNotApplicable)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}

	ok := activeDiscount()
	ok.CustomerSegments = []string{"regular", "vip"}
	ok.ApplicableDays = []int{int(time.Wednesday)}
	ok.StartHour, ok.EndHour = ptr(10), ptr(11)
	assert.NoError(t, Validate(&ok, cart))
}

func TestHourWindowIsHalfOpenAndWraps(t *testing.T) {
	assert.True(t, inHourWindow(ptr(10), ptr(11), 10))
	assert.False(t, inHourWindow(ptr(10), ptr(11), 11))
	assert.True(t, inHourWindow(ptr(22), ptr(2), 23))
	assert.True(t, inHourWindow(ptr(22), ptr(2), 1))
	assert.False(t, inHourWindow(ptr(22), ptr(2), 12))
	assert.True(t, inHourWindow(nil, nil, 3))
}

func TestCalculatePercentageRoundsHalfUp(t *testing.T) {
	d := activeDiscount()
	d.Value = decimal.RequireFromString("12.5")

	// 12.5% of 1004 = 125.5 -> 126
	res := Calculate(d, 1004, nil)
	assert.Equal(t, int64(126), res.DiscountCents)
	assert.Equal(t, int64(878), res.FinalCents)
	assert.Equal(t, int64(1004), res.OriginalCents)
}

func TestCalculateClamps(t *testing.T) {
	capped := activeDiscount()
	capped.Value = decimal.NewFromInt(50)
	capped.MaxDiscountCents = 2000
	assert.Equal(t, int64(2000), Calculate(capped, 10000, nil).DiscountCents)

	fixed := activeDiscount()
	fixed.Type = domain.DiscountFixed
	fixed.Value = decimal.NewFromInt(5000)
	res := Calculate(fixed, 3000, nil)
	assert.Equal(t, int64(3000), res.DiscountCents)
	assert.Equal(t, int64(0), res.FinalCents)

	negative := activeDiscount()
	negative.Type = domain.DiscountCoupon
	negative.Value = decimal.NewFromInt(-100)
	assert.Equal(t, int64(0), Calculate(negative, 3000, nil).DiscountCents)
}

func TestCalculateBOGO(t *testing.T) {
	d := activeDiscount()
	d.Type = domain.DiscountBOGO
	d.BOGO = &domain.BOGORule{BuyQty: 2, GetQty: 1}

	lines := []Line{
		{SKU: "SODA-500", Qty: 7, UnitPriceCents: 7000},  // two free
		{SKU: "BREAD-400", Qty: 2, UnitPriceCents: 6500}, // none free
	}
	assert.Equal(t, int64(14000), Calculate(d, 62000, lines).DiscountCents)

	d.BOGO.GetPercent = 50
	assert.Equal(t, int64(7000), Calculate(d, 62000, lines).DiscountCents)
}

func TestCalculateTieredPicksHighestQualifyingTier(t *testing.T) {
	d := activeDiscount()
	d.Type = domain.DiscountTiered
	d.Tiers = []domain.DiscountTier{
		{MinAmountCents: 100000, Percent: decimal.NewFromInt(10)},
		{MinAmountCents: 50000, Percent: decimal.NewFromInt(5)},
		{MinAmountCents: 200000, Percent: decimal.NewFromInt(15)},
	}
	assert.Equal(t, int64(0), Calculate(d, 40000, nil).DiscountCents)
	assert.Equal(t, int64(3000), Calculate(d, 60000, nil).DiscountCents)
	assert.Equal(t, int64(15000), Calculate(d, 150000, nil).DiscountCents)
	assert.Equal(t, int64(30000), Calculate(d, 200000, nil).DiscountCents)
}

func TestErrorsWrapSentinels(t *testing.T) {
	d := activeDiscount()
	d.Status = domain.DiscountStatusInactive
	err := Validate(&d, Cart{ShopID: "shop_demo"})
	assert.True(t, errors.Is(err, ErrNotApplicable))
	assert.False(t, errors.Is(err, ErrForbidden))
}
