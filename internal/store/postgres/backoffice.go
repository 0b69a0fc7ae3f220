package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

const subscriptionColumns = `shop_id, plan_code, status, current_period_start, current_period_end, updated_at`

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := row.Scan(&sub.ShopID, &sub.PlanCode, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sub.CurrentPeriodStart = sub.CurrentPeriodStart.UTC()
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.UTC()
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, shopID string) (*domain.Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE shop_id = $1`, shopID))
}

func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (shop_id) DO UPDATE
		SET plan_code = EXCLUDED.plan_code,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING `+subscriptionColumns,
		sub.ShopID, sub.PlanCode, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.UpdatedAt))
}

func (s *Store) ListBillableSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.shop_id, sub.plan_code, sub.status, sub.current_period_start, sub.current_period_end, sub.updated_at
		FROM subscriptions sub
		JOIN shops sh ON sh.id = sub.shop_id
		WHERE sh.status = 'active' AND sub.status <> 'cancelled'
		ORDER BY sub.shop_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0, 32)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *Store) NextInvoiceSequence(ctx context.Context, period string) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (period, last_value)
		VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, period).Scan(&seq)
	return seq, err
}

const invoiceColumns = `id, shop_id, number, period_start, period_end, lines, subtotal_cents, tax_cents, total_cents,
	status, due_date, paid_at, payment_reference, created_at`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var lines []byte
	var paidAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.ShopID, &inv.Number, &inv.PeriodStart, &inv.PeriodEnd, &lines,
		&inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents, &inv.Status, &inv.DueDate, &paidAt,
		&inv.PaymentReference, &inv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.PeriodStart, inv.PeriodEnd, inv.DueDate = inv.PeriodStart.UTC(), inv.PeriodEnd.UTC(), inv.DueDate.UTC()
	inv.PaidAt = timePtr(paidAt)
	if err := decodeJSON(lines, &inv.Lines); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == "" || invoice.ShopID == "" {
		return nil, store.ErrInvalid
	}
	lines, err := jsonValue(nonNil(invoice.Lines))
	if err != nil {
		return nil, err
	}
	created, err := scanInvoice(s.db.QueryRowContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+invoiceColumns,
		invoice.ID, invoice.ShopID, invoice.Number, invoice.PeriodStart, invoice.PeriodEnd, lines,
		invoice.SubtotalCents, invoice.TaxCents, invoice.TotalCents, invoice.Status, invoice.DueDate,
		nullTime(invoice.PaidAt), invoice.PaymentReference, invoice.CreatedAt))
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	return created, err
}

func (s *Store) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE shop_id = $1 AND id = $2`, shopID, invoiceID))
}

func (s *Store) ListInvoices(ctx context.Context, shopID string, status string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR shop_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY period_start DESC, id DESC
		LIMIT $3
	`, shopID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 12)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (s *Store) MarkInvoicePaid(ctx context.Context, shopID string, invoiceID string, reference string, at time.Time) (*domain.Invoice, error) {
	var paid *domain.Invoice
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		var err error
		paid, err = scanInvoice(tx.QueryRowContext(ctx, `
			UPDATE invoices
			SET status = 'paid', payment_reference = $3, paid_at = $4
			WHERE shop_id = $1 AND id = $2 AND status IN ('pending', 'overdue')
			RETURNING `+invoiceColumns,
			shopID, invoiceID, reference, at))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions SET status = 'active', updated_at = $2
			WHERE shop_id = $1 AND status = 'past_due'
		`, shopID, at)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE shop_id = $1 AND id = $2)`, shopID, invoiceID)
	}
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (s *Store) MarkOverdueInvoices(ctx context.Context, now time.Time) (int, error) {
	var marked int
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE invoices SET status = 'overdue'
			WHERE status = 'pending' AND due_date < $1
			RETURNING shop_id
		`, now)
		if err != nil {
			return err
		}
		shopIDs := make([]string, 0, 8)
		for rows.Next() {
			var shopID string
			if err := rows.Scan(&shopID); err != nil {
				_ = rows.Close()
				return err
			}
			shopIDs = append(shopIDs, shopID)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()
		marked = len(shopIDs)
		if marked == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions SET status = 'past_due', updated_at = $2
			WHERE shop_id = ANY($1) AND status = 'active'
		`, shopIDs, now)
		return err
	})
	return marked, err
}

const transferColumns = `id, shop_id, transfer_number, from_branch_id, to_branch_id, items, status, notes, requested_by,
	approved_by, rejection_reason, created_at, approved_at, completed_at, updated_at`

func scanTransfer(row rowScanner) (*domain.StockTransfer, error) {
	var t domain.StockTransfer
	var items []byte
	var approvedAt, completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.ShopID, &t.TransferNumber, &t.FromBranchID, &t.ToBranchID, &items, &t.Status,
		&t.Notes, &t.RequestedBy, &t.ApprovedBy, &t.RejectionReason, &t.CreatedAt, &approvedAt, &completedAt,
		&t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.ApprovedAt, t.CompletedAt = timePtr(approvedAt), timePtr(completedAt)
	if err := decodeJSON(items, &t.Items); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.ID == "" || transfer.FromBranchID == transfer.ToBranchID || len(transfer.Items) == 0 {
		return nil, store.ErrInvalid
	}
	var branches int
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM branches WHERE shop_id = $1 AND id IN ($2, $3)
	`, transfer.ShopID, transfer.FromBranchID, transfer.ToBranchID).Scan(&branches); err != nil {
		return nil, err
	}
	if branches != 2 {
		return nil, store.ErrNotFound
	}
	skus := make([]string, 0, len(transfer.Items))
	for _, item := range transfer.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalid
		}
		skus = append(skus, item.SKU)
	}
	known, err := s.GetProductsBySKUs(ctx, transfer.ShopID, skus)
	if err != nil {
		return nil, err
	}
	for _, sku := range skus {
		if _, ok := known[sku]; !ok {
			return nil, store.ErrInvalid
		}
	}

	items, err := jsonValue(transfer.Items)
	if err != nil {
		return nil, err
	}
	return scanTransfer(s.db.QueryRowContext(ctx, `
		INSERT INTO stock_transfers (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'','',$10,NULL,NULL,$10)
		RETURNING `+transferColumns,
		transfer.ID, transfer.ShopID, transfer.TransferNumber, transfer.FromBranchID, transfer.ToBranchID, items,
		transfer.Status, transfer.Notes, transfer.RequestedBy, transfer.CreatedAt))
}

func (s *Store) GetTransfer(ctx context.Context, shopID string, transferID string) (*domain.StockTransfer, error) {
	return scanTransfer(s.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE shop_id = $1 AND id = $2`, shopID, transferID))
}

func (s *Store) ListTransfers(ctx context.Context, shopID string, status string, limit int) ([]domain.StockTransfer, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM stock_transfers
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.StockTransfer, 0, 16)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// lockTransfer loads a transfer for update and checks its current status.
func lockTransfer(ctx context.Context, tx *sql.Tx, shopID string, transferID string, status string) (*domain.StockTransfer, error) {
	transfer, err := scanTransfer(tx.QueryRowContext(ctx, `
		SELECT `+transferColumns+` FROM stock_transfers WHERE shop_id = $1 AND id = $2 FOR UPDATE
	`, shopID, transferID))
	if err != nil {
		return nil, err
	}
	if transfer.Status != status {
		return nil, store.ErrInvalid
	}
	return transfer, nil
}

func (s *Store) ApproveTransfer(ctx context.Context, shopID string, transferID string, approverID string, at time.Time) (*domain.StockTransfer, error) {
	var approved *domain.StockTransfer
	err := s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		transfer, err := lockTransfer(ctx, tx, shopID, transferID, domain.TransferPending)
		if err != nil {
			return err
		}
		needed := make(map[string]int, len(transfer.Items))
		skus := make([]string, 0, len(transfer.Items))
		for _, item := range transfer.Items {
			if _, seen := needed[item.SKU]; !seen {
				skus = append(skus, item.SKU)
			}
			needed[item.SKU] += item.Qty
		}
		if err := lockAndDeduct(ctx, tx, shopID, transfer.FromBranchID, needed, skus); err != nil {
			return err
		}
		approved, err = scanTransfer(tx.QueryRowContext(ctx, `
			UPDATE stock_transfers
			SET status = 'approved', approved_by = $3, approved_at = $4, updated_at = $4
			WHERE shop_id = $1 AND id = $2
			RETURNING `+transferColumns,
			shopID, transferID, approverID, at))
		return err
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

func (s *Store) CompleteTransfer(ctx context.Context, shopID string, transferID string, at time.Time) (*domain.StockTransfer, error) {
	var completed *domain.StockTransfer
	err := s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		transfer, err := lockTransfer(ctx, tx, shopID, transferID, domain.TransferApproved)
		if err != nil {
			return err
		}
		for _, item := range transfer.Items {
			if err := creditStock(ctx, tx, shopID, transfer.ToBranchID, item.SKU, item.Qty); err != nil {
				return err
			}
		}
		completed, err = scanTransfer(tx.QueryRowContext(ctx, `
			UPDATE stock_transfers
			SET status = 'completed', completed_at = $3, updated_at = $3
			WHERE shop_id = $1 AND id = $2
			RETURNING `+transferColumns,
			shopID, transferID, at))
		return err
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *Store) CloseTransfer(ctx context.Context, shopID string, transferID string, status string, reason string, actorID string, at time.Time) (*domain.StockTransfer, error) {
	closed, err := scanTransfer(s.db.QueryRowContext(ctx, `
		UPDATE stock_transfers
		SET status = $3,
			rejection_reason = $4,
			approved_by = CASE WHEN $3 = 'rejected' THEN $5 ELSE approved_by END,
			updated_at = $6
		WHERE shop_id = $1 AND id = $2 AND status = 'pending'
		RETURNING `+transferColumns,
		shopID, transferID, status, reason, actorID, at))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM stock_transfers WHERE shop_id = $1 AND id = $2)`, shopID, transferID)
	}
	return closed, err
}

const ticketColumns = `id, shop_id, subject, description, category, priority, status, created_by, assigned_to, messages,
	created_at, updated_at, resolved_at`

func scanTicket(row rowScanner) (*domain.SupportTicket, error) {
	var t domain.SupportTicket
	var messages []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.ShopID, &t.Subject, &t.Description, &t.Category, &t.Priority, &t.Status,
		&t.CreatedBy, &t.AssignedTo, &messages, &t.CreatedAt, &t.UpdatedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.ResolvedAt = timePtr(resolvedAt)
	t.Messages = []domain.TicketMessage{}
	if err := decodeJSON(messages, &t.Messages); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, ticket domain.SupportTicket) (*domain.SupportTicket, error) {
	if ticket.ID == "" || ticket.ShopID == "" {
		return nil, store.ErrInvalid
	}
	messages, err := jsonValue(nonNil(ticket.Messages))
	if err != nil {
		return nil, err
	}
	return scanTicket(s.db.QueryRowContext(ctx, `
		INSERT INTO support_tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,NULL)
		RETURNING `+ticketColumns,
		ticket.ID, ticket.ShopID, ticket.Subject, ticket.Description, ticket.Category, ticket.Priority,
		ticket.Status, ticket.CreatedBy, ticket.AssignedTo, messages, ticket.CreatedAt))
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (*domain.SupportTicket, error) {
	return scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, ticketID))
}

func (s *Store) ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SupportTicket, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM support_tickets
		WHERE ($1 = '' OR shop_id = $1) AND ($2 = '' OR status = $2) AND ($3 = '' OR priority = $3)
		ORDER BY updated_at DESC, id DESC
		LIMIT $4
	`, filter.ShopID, filter.Status, filter.Priority, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.SupportTicket, 0, 16)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *Store) AddTicketMessage(ctx context.Context, ticketID string, message domain.TicketMessage) (*domain.SupportTicket, error) {
	if message.ID == "" {
		message.ID = xid.New("msg")
	}
	raw, err := jsonValue([]domain.TicketMessage{message})
	if err != nil {
		return nil, err
	}
	updated, err := scanTicket(s.db.QueryRowContext(ctx, `
		UPDATE support_tickets
		SET messages = messages || $2::jsonb, updated_at = $3
		WHERE id = $1 AND status <> 'closed'
		RETURNING `+ticketColumns,
		ticketID, raw, message.CreatedAt))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM support_tickets WHERE id = $1)`, ticketID)
	}
	return updated, err
}

func (s *Store) UpdateTicketStatus(ctx context.Context, ticketID string, from []string, status string, at time.Time) (*domain.SupportTicket, error) {
	updated, err := scanTicket(s.db.QueryRowContext(ctx, `
		UPDATE support_tickets
		SET status = $3,
			updated_at = $4,
			resolved_at = CASE WHEN $3 = 'resolved' THEN $4 WHEN $3 = 'open' THEN NULL ELSE resolved_at END
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+ticketColumns,
		ticketID, from, status, at))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM support_tickets WHERE id = $1)`, ticketID)
	}
	return updated, err
}

func (s *Store) AssignTicket(ctx context.Context, ticketID string, assigneeID string, at time.Time) (*domain.SupportTicket, error) {
	updated, err := scanTicket(s.db.QueryRowContext(ctx, `
		UPDATE support_tickets SET assigned_to = $2, updated_at = $3
		WHERE id = $1 AND status <> 'closed'
		RETURNING `+ticketColumns,
		ticketID, assigneeID, at))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM support_tickets WHERE id = $1)`, ticketID)
	}
	return updated, err
}

func (s *Store) CountOpenTickets(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM support_tickets WHERE status IN ('open', 'in_progress')`).Scan(&count)
	return count, err
}

func (s *Store) GetDailyReport(ctx context.Context, shopID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		ShopID:    shopID,
		BranchID:  branchID,
		Date:      from.Format("2006-01-02"),
		ByPayment: []domain.DailyReportPayment{},
		ByCashier: []domain.DailyReportCashier{},
	}
	const scope = `
		FROM orders
		WHERE shop_id = $1 AND ($2 = '' OR branch_id = $2) AND status = 'completed'
			AND created_at >= $3 AND created_at < $4`

	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(sum(subtotal_cents), 0), COALESCE(sum(discount_cents), 0),
			COALESCE(sum(tax_cents), 0), COALESCE(sum(total_cents), 0)`+scope,
		shopID, branchID, from, to).Scan(&report.Orders, &report.GrossSalesCents, &report.DiscountCents,
		&report.TaxCents, &report.NetSalesCents); err != nil {
		return report, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payment_method, count(*), COALESCE(sum(total_cents), 0)`+scope+`
		GROUP BY payment_method ORDER BY payment_method`, shopID, branchID, from, to)
	if err != nil {
		return report, err
	}
	for rows.Next() {
		var p domain.DailyReportPayment
		if err := rows.Scan(&p.PaymentMethod, &p.Orders, &p.TotalCents); err != nil {
			_ = rows.Close()
			return report, err
		}
		report.ByPayment = append(report.ByPayment, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return report, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT cashier_id, count(*), COALESCE(sum(total_cents), 0)`+scope+`
		GROUP BY cashier_id ORDER BY cashier_id`, shopID, branchID, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.DailyReportCashier
		if err := rows.Scan(&c.CashierID, &c.Orders, &c.TotalCents); err != nil {
			return report, err
		}
		report.ByCashier = append(report.ByCashier, c)
	}
	return report, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, shopID, nullZeroTime(from), nullZeroTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
