package invoicepdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartduka/backend/internal/domain"
)

func TestRenderProducesPDF(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := domain.Invoice{
		Number:        "INV-202603-0001",
		PeriodStart:   start,
		PeriodEnd:     start.AddDate(0, 1, -1),
		Lines:         []domain.InvoiceLine{{Description: "Growth plan", Qty: 1, UnitPriceCents: 250000, TotalCents: 250000}},
		SubtotalCents: 250000,
		TaxCents:      40000,
		TotalCents:    290000,
		Status:        domain.InvoicePending,
		DueDate:       start.AddDate(0, 0, 14),
		CreatedAt:     start,
	}
	shop := domain.Shop{Name: "Mama Mboga Stores", Email: "owner@example.test", Phone: "254712345678"}

	out, err := Render(inv, shop)
	require.NoError(t, err)
	assert.True(t, len(out) > 500)
	assert.Equal(t, "%PDF", string(out[:4]))
}

func TestKES(t *testing.T) {
	assert.Equal(t, "KES 0.00", KES(0))
	assert.Equal(t, "KES 9.05", KES(905))
	assert.Equal(t, "KES 1,234.50", KES(123450))
	assert.Equal(t, "KES 1,000,000.00", KES(100000000))
	assert.Equal(t, "KES -12.00", KES(-1200))
}
