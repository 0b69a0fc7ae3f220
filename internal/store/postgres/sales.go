package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

const shiftColumns = `id, shop_id, branch_id, cashier_id, cashier_name, status, opening_balance_cents, closing_balance_cents,
	start_time, end_time, expected_cash_cents, actual_cash_cents, variance_cents, sales_count, sales_total_cents,
	by_payment, reconciled_at, reconciled_by, notes`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var sh domain.Shift
	var endTime, reconciledAt sql.NullTime
	var byPayment []byte
	if err := row.Scan(&sh.ID, &sh.ShopID, &sh.BranchID, &sh.CashierID, &sh.CashierName, &sh.Status,
		&sh.OpeningBalanceCents, &sh.ClosingBalanceCents, &sh.StartTime, &endTime, &sh.ExpectedCashCents,
		&sh.ActualCashCents, &sh.VarianceCents, &sh.SalesCount, &sh.SalesTotalCents, &byPayment,
		&reconciledAt, &sh.ReconciledBy, &sh.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sh.StartTime = sh.StartTime.UTC()
	sh.EndTime = timePtr(endTime)
	sh.ReconciledAt = timePtr(reconciledAt)
	if err := decodeJSON(byPayment, &sh.ByPayment); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.ShopID == "" || shift.CashierID == "" {
		return nil, store.ErrInvalid
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen

	created, err := scanShift(s.db.QueryRowContext(ctx, `
		INSERT INTO shifts (id, shop_id, branch_id, cashier_id, cashier_name, status, opening_balance_cents, start_time, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+shiftColumns,
		shift.ID, shift.ShopID, shift.BranchID, shift.CashierID, shift.CashierName, shift.Status,
		shift.OpeningBalanceCents, shift.StartTime, shift.Notes))
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	return created, err
}

func (s *Store) GetShift(ctx context.Context, shopID string, shiftID string) (*domain.Shift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE shop_id = $1 AND id = $2`, shopID, shiftID))
}

func (s *Store) GetOpenShift(ctx context.Context, shopID string, cashierID string) (*domain.Shift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE shop_id = $1 AND cashier_id = $2 AND status = 'open'
	`, shopID, cashierID))
}

func (s *Store) CloseOpenShift(ctx context.Context, shopID string, cashierID string, closingBalanceCents int64, notes string, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed',
			closing_balance_cents = $3,
			notes = CASE WHEN $4 = '' THEN notes ELSE $4 END,
			end_time = $5
		WHERE shop_id = $1 AND cashier_id = $2 AND status = 'open'
		RETURNING `+shiftColumns,
		shopID, cashierID, closingBalanceCents, notes, closedAt))
}

func (s *Store) ReconcileShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	byPayment, err := jsonValue(nonNil(shift.ByPayment))
	if err != nil {
		return nil, err
	}
	reconciled, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'reconciled',
			expected_cash_cents = $3,
			actual_cash_cents = $4,
			variance_cents = $5,
			sales_count = $6,
			sales_total_cents = $7,
			by_payment = $8,
			reconciled_at = $9,
			reconciled_by = $10,
			notes = CASE WHEN $11 = '' THEN notes ELSE $11 END
		WHERE shop_id = $1 AND id = $2 AND status = 'closed'
		RETURNING `+shiftColumns,
		shift.ShopID, shift.ID, shift.ExpectedCashCents, shift.ActualCashCents, shift.VarianceCents,
		shift.SalesCount, shift.SalesTotalCents, byPayment, nullTime(shift.ReconciledAt), shift.ReconciledBy, shift.Notes))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE shop_id = $1 AND id = $2)`, shift.ShopID, shift.ID)
	}
	return reconciled, err
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE shop_id = $1
			AND ($2 = '' OR cashier_id = $2)
			AND ($3 = '' OR status = $3)
			AND ($4::timestamptz IS NULL OR start_time >= $4)
			AND ($5::timestamptz IS NULL OR start_time < $5)
		ORDER BY start_time DESC, id DESC
		LIMIT $6
	`, filter.ShopID, filter.CashierID, filter.Status, nullZeroTime(filter.From), nullZeroTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, 16)
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *sh)
	}
	return shifts, rows.Err()
}

func (s *Store) GetShiftSales(ctx context.Context, shopID string, shiftID string) (domain.ShiftSales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, count(*), COALESCE(sum(total_cents), 0)
		FROM orders
		WHERE shop_id = $1 AND shift_id = $2 AND status = 'completed'
		GROUP BY payment_method
		ORDER BY payment_method
	`, shopID, shiftID)
	if err != nil {
		return domain.ShiftSales{}, err
	}
	defer rows.Close()

	var sales domain.ShiftSales
	for rows.Next() {
		var totals domain.PaymentTotals
		if err := rows.Scan(&totals.PaymentMethod, &totals.Count, &totals.TotalCents); err != nil {
			return domain.ShiftSales{}, err
		}
		sales.Count += totals.Count
		sales.TotalCents += totals.TotalCents
		sales.ByPayment = append(sales.ByPayment, totals)
	}
	return sales, rows.Err()
}

const discountColumns = `id, shop_id, name, code, description, type, value, min_purchase_cents, max_discount_cents,
	customer_segments, applicable_days, start_hour, end_hour, valid_from, valid_to, usage_limit, usage_count,
	status, tiers, bogo, requires_approval, created_by, created_at, updated_at`

func scanDiscount(row rowScanner) (*domain.Discount, error) {
	var d domain.Discount
	var segments, days, tiers, bogo []byte
	var startHour, endHour sql.NullInt64
	var validFrom, validTo sql.NullTime
	if err := row.Scan(&d.ID, &d.ShopID, &d.Name, &d.Code, &d.Description, &d.Type, &d.Value,
		&d.MinPurchaseCents, &d.MaxDiscountCents, &segments, &days, &startHour, &endHour, &validFrom, &validTo,
		&d.UsageLimit, &d.UsageCount, &d.Status, &tiers, &bogo, &d.RequiresApproval, &d.CreatedBy,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.StartHour, d.EndHour = intPtr(startHour), intPtr(endHour)
	d.ValidFrom, d.ValidTo = timePtr(validFrom), timePtr(validTo)
	for _, col := range []struct {
		raw  []byte
		dest any
	}{{segments, &d.CustomerSegments}, {days, &d.ApplicableDays}, {tiers, &d.Tiers}, {bogo, &d.BOGO}} {
		if err := decodeJSON(col.raw, col.dest); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

type discountJSON struct {
	segments, days, tiers, bogo []byte
}

func encodeDiscountJSON(d domain.Discount) (discountJSON, error) {
	var out discountJSON
	var err error
	if out.segments, err = jsonValue(nonNil(d.CustomerSegments)); err != nil {
		return out, err
	}
	if out.days, err = jsonValue(nonNil(d.ApplicableDays)); err != nil {
		return out, err
	}
	if out.tiers, err = jsonValue(nonNil(d.Tiers)); err != nil {
		return out, err
	}
	if d.BOGO != nil {
		if out.bogo, err = jsonValue(d.BOGO); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error) {
	if discount.ID == "" || discount.ShopID == "" || discount.Code == "" {
		return nil, store.ErrInvalid
	}
	cols, err := encodeDiscountJSON(discount)
	if err != nil {
		return nil, err
	}
	created, err := scanDiscount(s.db.QueryRowContext(ctx, `
		INSERT INTO discounts (`+discountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,0,$17,$18,$19,$20,$21,$22,$22)
		RETURNING `+discountColumns,
		discount.ID, discount.ShopID, discount.Name, discount.Code, discount.Description, discount.Type, discount.Value,
		discount.MinPurchaseCents, discount.MaxDiscountCents, cols.segments, cols.days, nullInt(discount.StartHour),
		nullInt(discount.EndHour), nullTime(discount.ValidFrom), nullTime(discount.ValidTo), discount.UsageLimit,
		discount.Status, cols.tiers, nullBytes(cols.bogo), discount.RequiresApproval, discount.CreatedBy, discount.CreatedAt))
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	return created, err
}

func (s *Store) GetDiscount(ctx context.Context, discountID string) (*domain.Discount, error) {
	return scanDiscount(s.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, discountID))
}

func (s *Store) GetDiscountByCode(ctx context.Context, shopID string, code string) (*domain.Discount, error) {
	return scanDiscount(s.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE shop_id = $1 AND code = $2`, shopID, code))
}

func (s *Store) ListDiscounts(ctx context.Context, shopID string, status string) ([]domain.Discount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`, shopID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 16)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, *d)
	}
	return discounts, rows.Err()
}

func (s *Store) UpdateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error) {
	cols, err := encodeDiscountJSON(discount)
	if err != nil {
		return nil, err
	}
	return scanDiscount(s.db.QueryRowContext(ctx, `
		UPDATE discounts
		SET name = $3, description = $4, value = $5, min_purchase_cents = $6, max_discount_cents = $7,
			customer_segments = $8, applicable_days = $9, start_hour = $10, end_hour = $11, valid_from = $12,
			valid_to = $13, usage_limit = $14, status = $15, tiers = $16, bogo = $17, requires_approval = $18,
			updated_at = $19
		WHERE shop_id = $1 AND id = $2
		RETURNING `+discountColumns,
		discount.ShopID, discount.ID, discount.Name, discount.Description, discount.Value, discount.MinPurchaseCents,
		discount.MaxDiscountCents, cols.segments, cols.days, nullInt(discount.StartHour), nullInt(discount.EndHour),
		nullTime(discount.ValidFrom), nullTime(discount.ValidTo), discount.UsageLimit, discount.Status, cols.tiers,
		nullBytes(cols.bogo), discount.RequiresApproval, discount.UpdatedAt))
}

const incrementUsageSQL = `
	UPDATE discounts
	SET usage_count = usage_count + 1, updated_at = now()
	WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)
	RETURNING ` + discountColumns

func (s *Store) RecordDiscountUse(ctx context.Context, audit domain.DiscountAudit) (*domain.Discount, *domain.DiscountAudit, error) {
	if audit.ID == "" {
		audit.ID = xid.New("daudit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	var (
		used    *domain.Discount
		created *domain.DiscountAudit
	)
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		var err error
		used, err = scanDiscount(tx.QueryRowContext(ctx, incrementUsageSQL, audit.DiscountID))
		if err != nil {
			return err
		}
		created, err = scanDiscountAudit(tx.QueryRowContext(ctx, insertDiscountAuditSQL,
			audit.ID, audit.ShopID, audit.DiscountID, audit.DiscountCode, audit.OrderID, audit.CashierID,
			audit.OriginalAmountCents, audit.DiscountAmountCents, audit.FinalAmountCents, audit.Status, audit.Reason,
			audit.ReviewedBy, nullTime(audit.ReviewedAt), audit.CreatedAt))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`, audit.DiscountID)
	}
	if err != nil {
		return nil, nil, err
	}
	return used, created, nil
}

const discountAuditColumns = `id, shop_id, discount_id, discount_code, order_id, cashier_id, original_amount_cents,
	discount_amount_cents, final_amount_cents, status, reason, reviewed_by, reviewed_at, created_at`

const insertDiscountAuditSQL = `
	INSERT INTO discount_audits (` + discountAuditColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	RETURNING ` + discountAuditColumns

func scanDiscountAudit(row rowScanner) (*domain.DiscountAudit, error) {
	var a domain.DiscountAudit
	var reviewedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ShopID, &a.DiscountID, &a.DiscountCode, &a.OrderID, &a.CashierID,
		&a.OriginalAmountCents, &a.DiscountAmountCents, &a.FinalAmountCents, &a.Status, &a.Reason,
		&a.ReviewedBy, &reviewedAt, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	a.ReviewedAt = timePtr(reviewedAt)
	return &a, nil
}

func (s *Store) CreateDiscountAudit(ctx context.Context, audit domain.DiscountAudit) (*domain.DiscountAudit, error) {
	if audit.ID == "" {
		audit.ID = xid.New("daudit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	return scanDiscountAudit(s.db.QueryRowContext(ctx, insertDiscountAuditSQL,
		audit.ID, audit.ShopID, audit.DiscountID, audit.DiscountCode, audit.OrderID, audit.CashierID,
		audit.OriginalAmountCents, audit.DiscountAmountCents, audit.FinalAmountCents, audit.Status, audit.Reason,
		audit.ReviewedBy, nullTime(audit.ReviewedAt), audit.CreatedAt))
}

func (s *Store) ListDiscountAudits(ctx context.Context, shopID string, status string, limit int) ([]domain.DiscountAudit, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discountAuditColumns+`
		FROM discount_audits
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := make([]domain.DiscountAudit, 0, limit)
	for rows.Next() {
		a, err := scanDiscountAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, *a)
	}
	return audits, rows.Err()
}

func (s *Store) ReviewDiscountAudit(ctx context.Context, shopID string, auditID string, status string, reason string, reviewerID string, at time.Time) (*domain.DiscountAudit, error) {
	reviewed, err := scanDiscountAudit(s.db.QueryRowContext(ctx, `
		UPDATE discount_audits
		SET status = $3, reason = $4, reviewed_by = $5, reviewed_at = $6
		WHERE shop_id = $1 AND id = $2 AND status = 'pending'
		RETURNING `+discountAuditColumns,
		shopID, auditID, status, reason, reviewerID, at))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM discount_audits WHERE shop_id = $1 AND id = $2)`, shopID, auditID)
	}
	return reviewed, err
}

const orderColumns = `id, shop_id, branch_id, shift_id, cashier_id, order_number, items, subtotal_cents, discount_id,
	discount_code, discount_cents, tax_rate_percent, tax_cents, total_cents, payment_method, payment_reference,
	payment_status, status, customer_phone, customer_segment, cash_received_cents, change_cents, idempotency_key,
	created_at, completed_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var items []byte
	var completedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.ShopID, &o.BranchID, &o.ShiftID, &o.CashierID, &o.OrderNumber, &items,
		&o.SubtotalCents, &o.DiscountID, &o.DiscountCode, &o.DiscountCents, &o.TaxRatePercent, &o.TaxCents,
		&o.TotalCents, &o.PaymentMethod, &o.PaymentReference, &o.PaymentStatus, &o.Status, &o.CustomerPhone,
		&o.CustomerSegment, &o.CashReceivedCents, &o.ChangeCents, &o.IdempotencyKey, &o.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.CompletedAt = timePtr(completedAt)
	if err := decodeJSON(items, &o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.IdempotencyKey == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	items, err := jsonValue(order.Items)
	if err != nil {
		return nil, err
	}

	var created *domain.Order
	err = s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		existing, err := scanOrder(tx.QueryRowContext(ctx, `
			SELECT `+orderColumns+` FROM orders WHERE shop_id = $1 AND idempotency_key = $2
		`, order.ShopID, order.IdempotencyKey))
		if err == nil {
			created = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		needed := make(map[string]int, len(order.Items))
		skus := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			if item.Qty < 1 {
				return store.ErrInvalid
			}
			if _, seen := needed[item.SKU]; !seen {
				skus = append(skus, item.SKU)
			}
			needed[item.SKU] += item.Qty
		}
		slices.Sort(skus)

		var known int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM products WHERE shop_id = $1 AND sku = ANY($2)
		`, order.ShopID, skus).Scan(&known); err != nil {
			return err
		}
		if known != len(skus) {
			return store.ErrInvalid
		}

		if err := lockAndDeduct(ctx, tx, order.ShopID, order.BranchID, needed, skus); err != nil {
			return err
		}

		if order.DiscountID != "" {
			if _, err := scanDiscount(tx.QueryRowContext(ctx, incrementUsageSQL, order.DiscountID)); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return store.ErrInvalid
				}
				return err
			}
		}

		created, err = scanOrder(tx.QueryRowContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
			RETURNING `+orderColumns,
			order.ID, order.ShopID, order.BranchID, order.ShiftID, order.CashierID, order.OrderNumber, items,
			order.SubtotalCents, order.DiscountID, order.DiscountCode, order.DiscountCents, order.TaxRatePercent,
			order.TaxCents, order.TotalCents, order.PaymentMethod, order.PaymentReference, order.PaymentStatus,
			order.Status, order.CustomerPhone, order.CustomerSegment, order.CashReceivedCents, order.ChangeCents,
			order.IdempotencyKey, order.CreatedAt, nullTime(order.CompletedAt)))
		return err
	})
	if isUniqueViolation(err) {
		return s.FindOrderByIdempotency(ctx, order.ShopID, order.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// lockAndDeduct locks the branch stock rows for skus and removes the needed
// quantities, failing with ErrInsufficientStock if any row would go negative.
func lockAndDeduct(ctx context.Context, tx *sql.Tx, shopID string, branchID string, needed map[string]int, skus []string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT sku, qty
		FROM stock_levels
		WHERE shop_id = $1 AND branch_id = $2 AND sku = ANY($3)
		ORDER BY sku
		FOR UPDATE
	`, shopID, branchID, skus)
	if err != nil {
		return err
	}
	available := make(map[string]int, len(skus))
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			_ = rows.Close()
			return err
		}
		available[sku] = qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, sku := range skus {
		if available[sku] < needed[sku] {
			return store.ErrInsufficientStock
		}
	}
	for _, sku := range skus {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_levels SET qty = qty - $4
			WHERE shop_id = $1 AND branch_id = $2 AND sku = $3
		`, shopID, branchID, sku, needed[sku]); err != nil {
			return err
		}
	}
	return nil
}

func creditStock(ctx context.Context, tx *sql.Tx, shopID string, branchID string, sku string, qty int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_levels (shop_id, branch_id, sku, qty)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (shop_id, branch_id, sku) DO UPDATE SET qty = stock_levels.qty + EXCLUDED.qty
	`, shopID, branchID, sku, qty)
	return err
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, shopID string, key string) (*domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE shop_id = $1 AND idempotency_key = $2`, shopID, key))
}

func (s *Store) GetOrder(ctx context.Context, shopID string, orderID string) (*domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE shop_id = $1 AND id = $2`, shopID, orderID))
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE shop_id = $1
			AND ($2 = '' OR branch_id = $2)
			AND ($3 = '' OR shift_id = $3)
			AND ($4 = '' OR cashier_id = $4)
			AND ($5 = '' OR status = $5)
			AND ($6::timestamptz IS NULL OR created_at >= $6)
			AND ($7::timestamptz IS NULL OR created_at < $7)
		ORDER BY created_at DESC, id DESC
		LIMIT $8
	`, filter.ShopID, filter.BranchID, filter.ShiftID, filter.CashierID, filter.Status,
		nullZeroTime(filter.From), nullZeroTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *Store) TransitionOrder(ctx context.Context, shopID string, orderID string, transition domain.OrderTransition) (*domain.Order, error) {
	var updated *domain.Order
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx, `
			SELECT `+orderColumns+` FROM orders WHERE shop_id = $1 AND id = $2 FOR UPDATE
		`, shopID, orderID))
		if err != nil {
			return err
		}
		if !slices.Contains(transition.From, current.Status) {
			return store.ErrInvalid
		}
		if transition.Restock {
			for _, item := range current.Items {
				if err := creditStock(ctx, tx, shopID, current.BranchID, item.SKU, item.Qty); err != nil {
					return err
				}
			}
		}

		status, paymentStatus, reference := current.Status, current.PaymentStatus, current.PaymentReference
		if transition.Status != "" {
			status = transition.Status
		}
		if transition.PaymentStatus != "" {
			paymentStatus = transition.PaymentStatus
		}
		if transition.Reference != "" {
			reference = transition.Reference
		}
		completedAt := current.CompletedAt
		if status == domain.OrderStatusCompleted && completedAt == nil {
			at := transition.At
			completedAt = &at
		}

		updated, err = scanOrder(tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $3, payment_status = $4, payment_reference = $5, completed_at = $6
			WHERE shop_id = $1 AND id = $2
			RETURNING `+orderColumns,
			shopID, orderID, status, paymentStatus, reference, nullTime(completedAt)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

const paymentColumns = `id, shop_id, order_id, method, amount_cents, phone, status, merchant_request_id,
	checkout_request_id, mpesa_receipt, result_code, result_desc, created_at, updated_at, completed_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var resultCode sql.NullInt64
	var completedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.ShopID, &p.OrderID, &p.Method, &p.AmountCents, &p.Phone, &p.Status,
		&p.MerchantRequestID, &p.CheckoutRequestID, &p.MpesaReceipt, &resultCode, &p.ResultDesc,
		&p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.ResultCode = intPtr(resultCode)
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.ID == "" || payment.OrderID == "" {
		return nil, store.ErrInvalid
	}
	created, err := scanPayment(s.db.QueryRowContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING `+paymentColumns,
		payment.ID, payment.ShopID, payment.OrderID, payment.Method, payment.AmountCents, payment.Phone,
		payment.Status, payment.MerchantRequestID, payment.CheckoutRequestID, payment.MpesaReceipt,
		nullInt(payment.ResultCode), payment.ResultDesc, payment.CreatedAt, payment.UpdatedAt, nullTime(payment.CompletedAt)))
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	return created, err
}

// GetPayment scopes the lookup to shopID unless it is empty.
func (s *Store) GetPayment(ctx context.Context, shopID string, paymentID string) (*domain.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $2 AND ($1 = '' OR shop_id = $1)
	`, shopID, paymentID))
}

func (s *Store) GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Payment, error) {
	if checkoutRequestID == "" {
		return nil, store.ErrNotFound
	}
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id = $1`, checkoutRequestID))
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, shopID string, orderID string) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE shop_id = $1 AND order_id = $2
		ORDER BY created_at DESC, id DESC
	`, shopID, orderID)
}

func (s *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2
	`, createdBefore, limit)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (s *Store) ResolvePayment(ctx context.Context, paymentID string, result domain.PaymentResult) (*domain.Payment, error) {
	var completedAt *time.Time
	if domain.PaymentCaptured(result.Status) {
		at := result.At
		completedAt = &at
	}
	from := result.From
	if len(from) == 0 {
		from = []string{domain.PaymentPending}
	}
	resolved, err := scanPayment(s.db.QueryRowContext(ctx, `
		UPDATE payments
		SET status = $2, result_code = $3, result_desc = $4, mpesa_receipt = $5, updated_at = $6, completed_at = $7
		WHERE id = $1 AND status = ANY($8)
		RETURNING `+paymentColumns,
		paymentID, result.Status, result.ResultCode, result.ResultDesc, result.MpesaReceipt, result.At, nullTime(completedAt), from))
	if errors.Is(err, store.ErrNotFound) {
		if _, lookupErr := s.GetPayment(ctx, "", paymentID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, store.ErrConflict
	}
	return resolved, err
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func nullBytes(raw []byte) any {
	if raw == nil {
		return nil
	}
	return raw
}

func nullZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
