package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

func (s *Store) GetSubscription(_ context.Context, shopID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shops[sub.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	s.subscriptions[sub.ShopID] = sub
	saved := sub
	return &saved, nil
}

// ListBillableSubscriptions returns subscriptions of active shops that are
// not cancelled.
func (s *Store) ListBillableSubscriptions(_ context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Subscription, 0, len(s.subscriptions))
	for shopID, sub := range s.subscriptions {
		if sub.Status == domain.SubscriptionCancelled || s.shops[shopID].Status != domain.ShopStatusActive {
			continue
		}
		result = append(result, sub)
	}
	slices.SortFunc(result, func(a, b domain.Subscription) int { return strings.Compare(a.ShopID, b.ShopID) })
	return result, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoiceSeq[period]++
	return s.invoiceSeq[period], nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.ID == "" || invoice.ShopID == "" {
		return nil, store.ErrInvalid
	}
	k := key(invoice.ShopID, invoice.PeriodStart.UTC().Format("2006-01"))
	if _, exists := s.invoiceByShop[k]; exists {
		return nil, store.ErrConflict
	}
	invoice.Lines = slices.Clone(invoice.Lines)
	s.invoices[invoice.ID] = invoice
	s.invoiceByShop[k] = invoice.ID
	created := cloneInvoice(invoice)
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	found := cloneInvoice(invoice)
	return &found, nil
}

func (s *Store) ListInvoices(_ context.Context, shopID string, status string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 12)
	for _, invoice := range s.invoices {
		if (shopID != "" && invoice.ShopID != shopID) || (status != "" && invoice.Status != status) {
			continue
		}
		result = append(result, cloneInvoice(invoice))
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int { return newestFirst(a.PeriodStart, b.PeriodStart, a.ID, b.ID) })
	return truncate(result, limit), nil
}

func (s *Store) MarkInvoicePaid(_ context.Context, shopID string, invoiceID string, reference string, at time.Time) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if invoice.Status != domain.InvoicePending && invoice.Status != domain.InvoiceOverdue {
		return nil, store.ErrInvalid
	}
	invoice.Status = domain.InvoicePaid
	invoice.PaymentReference = reference
	invoice.PaidAt = &at
	s.invoices[invoiceID] = invoice

	if sub, ok := s.subscriptions[shopID]; ok && sub.Status == domain.SubscriptionPastDue {
		sub.Status = domain.SubscriptionActive
		sub.UpdatedAt = at
		s.subscriptions[shopID] = sub
	}
	paid := cloneInvoice(invoice)
	return &paid, nil
}

// MarkOverdueInvoices flips pending invoices past their due date to overdue
// and moves the owning subscription to past_due.
func (s *Store) MarkOverdueInvoices(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for id, invoice := range s.invoices {
		if invoice.Status != domain.InvoicePending || !invoice.DueDate.Before(now) {
			continue
		}
		invoice.Status = domain.InvoiceOverdue
		s.invoices[id] = invoice
		marked++
		if sub, ok := s.subscriptions[invoice.ShopID]; ok && sub.Status == domain.SubscriptionActive {
			sub.Status = domain.SubscriptionPastDue
			sub.UpdatedAt = now
			s.subscriptions[invoice.ShopID] = sub
		}
	}
	return marked, nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.ID == "" || transfer.FromBranchID == transfer.ToBranchID || len(transfer.Items) == 0 {
		return nil, store.ErrInvalid
	}
	for _, branchID := range []string{transfer.FromBranchID, transfer.ToBranchID} {
		branch, ok := s.branches[branchID]
		if !ok || branch.ShopID != transfer.ShopID {
			return nil, store.ErrNotFound
		}
	}
	for _, item := range transfer.Items {
		if _, ok := s.products[transfer.ShopID][item.SKU]; !ok || item.Qty < 1 {
			return nil, store.ErrInvalid
		}
	}
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	created := cloneTransfer(transfer)
	return &created, nil
}

func (s *Store) GetTransfer(_ context.Context, shopID string, transferID string) (*domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfers[transferID]
	if !ok || transfer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	found := cloneTransfer(transfer)
	return &found, nil
}

func (s *Store) ListTransfers(_ context.Context, shopID string, status string, limit int) ([]domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockTransfer, 0, 8)
	for _, transfer := range s.transfers {
		if transfer.ShopID != shopID || (status != "" && transfer.Status != status) {
			continue
		}
		result = append(result, cloneTransfer(transfer))
	}
	slices.SortFunc(result, func(a, b domain.StockTransfer) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return truncate(result, limit), nil
}

func (s *Store) ApproveTransfer(_ context.Context, shopID string, transferID string, approverID string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfers[transferID]
	if !ok || transfer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferPending {
		return nil, store.ErrInvalid
	}
	levels := s.branchStock(shopID, transfer.FromBranchID)
	for _, item := range transfer.Items {
		if levels[item.SKU] < item.Qty {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, item := range transfer.Items {
		levels[item.SKU] -= item.Qty
	}
	transfer.Status = domain.TransferApproved
	transfer.ApprovedBy = approverID
	transfer.ApprovedAt = &at
	transfer.UpdatedAt = at
	s.transfers[transferID] = transfer
	approved := cloneTransfer(transfer)
	return &approved, nil
}

func (s *Store) CompleteTransfer(_ context.Context, shopID string, transferID string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfers[transferID]
	if !ok || transfer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferApproved {
		return nil, store.ErrInvalid
	}
	levels := s.branchStock(shopID, transfer.ToBranchID)
	for _, item := range transfer.Items {
		levels[item.SKU] += item.Qty
	}
	transfer.Status = domain.TransferCompleted
	transfer.CompletedAt = &at
	transfer.UpdatedAt = at
	s.transfers[transferID] = transfer
	completed := cloneTransfer(transfer)
	return &completed, nil
}

// CloseTransfer rejects or cancels a pending transfer. No stock has moved yet.
func (s *Store) CloseTransfer(_ context.Context, shopID string, transferID string, status string, reason string, actorID string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfers[transferID]
	if !ok || transfer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferPending {
		return nil, store.ErrInvalid
	}
	transfer.Status = status
	transfer.RejectionReason = reason
	if status == domain.TransferRejected {
		transfer.ApprovedBy = actorID
	}
	transfer.UpdatedAt = at
	s.transfers[transferID] = transfer
	closed := cloneTransfer(transfer)
	return &closed, nil
}

func (s *Store) CreateTicket(_ context.Context, ticket domain.SupportTicket) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.ID == "" || ticket.ShopID == "" {
		return nil, store.ErrInvalid
	}
	if ticket.Messages == nil {
		ticket.Messages = []domain.TicketMessage{}
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	created := cloneTicket(ticket)
	return &created, nil
}

func (s *Store) GetTicket(_ context.Context, ticketID string) (*domain.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneTicket(ticket)
	return &found, nil
}

func (s *Store) ListTickets(_ context.Context, filter domain.TicketFilter) ([]domain.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupportTicket, 0, 8)
	for _, ticket := range s.tickets {
		if (filter.ShopID != "" && ticket.ShopID != filter.ShopID) ||
			(filter.Status != "" && ticket.Status != filter.Status) ||
			(filter.Priority != "" && ticket.Priority != filter.Priority) {
			continue
		}
		result = append(result, cloneTicket(ticket))
	}
	slices.SortFunc(result, func(a, b domain.SupportTicket) int { return newestFirst(a.UpdatedAt, b.UpdatedAt, a.ID, b.ID) })
	return truncate(result, filter.Limit), nil
}

func (s *Store) AddTicketMessage(_ context.Context, ticketID string, message domain.TicketMessage) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ticket.Status == domain.TicketClosed {
		return nil, store.ErrInvalid
	}
	if message.ID == "" {
		message.ID = xid.New("msg")
	}
	ticket.Messages = append(slices.Clone(ticket.Messages), message)
	ticket.UpdatedAt = message.CreatedAt
	s.tickets[ticketID] = ticket
	updated := cloneTicket(ticket)
	return &updated, nil
}

func (s *Store) UpdateTicketStatus(_ context.Context, ticketID string, from []string, status string, at time.Time) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(from, ticket.Status) {
		return nil, store.ErrInvalid
	}
	ticket.Status = status
	ticket.UpdatedAt = at
	switch status {
	case domain.TicketResolved:
		ticket.ResolvedAt = &at
	case domain.TicketOpen:
		ticket.ResolvedAt = nil
	}
	s.tickets[ticketID] = ticket
	updated := cloneTicket(ticket)
	return &updated, nil
}

func (s *Store) AssignTicket(_ context.Context, ticketID string, assigneeID string, at time.Time) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ticket.Status == domain.TicketClosed {
		return nil, store.ErrInvalid
	}
	ticket.AssignedTo = assigneeID
	ticket.UpdatedAt = at
	s.tickets[ticketID] = ticket
	updated := cloneTicket(ticket)
	return &updated, nil
}

func (s *Store) CountOpenTickets(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, ticket := range s.tickets {
		if ticket.Status == domain.TicketOpen || ticket.Status == domain.TicketInProgress {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetDailyReport(_ context.Context, shopID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{ShopID: shopID, BranchID: branchID, Date: from.Format("2006-01-02")}
	byPayment := map[string]*domain.DailyReportPayment{}
	byCashier := map[string]*domain.DailyReportCashier{}

	for _, order := range s.orders {
		if order.ShopID != shopID || order.Status != domain.OrderStatusCompleted {
			continue
		}
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		if !inWindow(order.CreatedAt, from, to) {
			continue
		}
		report.Orders++
		report.GrossSalesCents += order.SubtotalCents
		report.DiscountCents += order.DiscountCents
		report.TaxCents += order.TaxCents
		report.NetSalesCents += order.TotalCents

		payment := byPayment[order.PaymentMethod]
		if payment == nil {
			payment = &domain.DailyReportPayment{PaymentMethod: order.PaymentMethod}
			byPayment[order.PaymentMethod] = payment
		}
		payment.Orders++
		payment.TotalCents += order.TotalCents

		cashier := byCashier[order.CashierID]
		if cashier == nil {
			cashier = &domain.DailyReportCashier{CashierID: order.CashierID}
			byCashier[order.CashierID] = cashier
		}
		cashier.Orders++
		cashier.TotalCents += order.TotalCents
	}

	report.ByPayment = make([]domain.DailyReportPayment, 0, len(byPayment))
	for _, p := range byPayment {
		report.ByPayment = append(report.ByPayment, *p)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int { return strings.Compare(a.PaymentMethod, b.PaymentMethod) })
	report.ByCashier = make([]domain.DailyReportCashier, 0, len(byCashier))
	for _, c := range byCashier {
		report.ByCashier = append(report.ByCashier, *c)
	}
	slices.SortFunc(report.ByCashier, func(a, b domain.DailyReportCashier) int { return strings.Compare(a.CashierID, b.CashierID) })
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.ShopID != shopID || !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}

func cloneTransfer(src domain.StockTransfer) domain.StockTransfer {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneTicket(src domain.SupportTicket) domain.SupportTicket {
	dst := src
	dst.Messages = slices.Clone(src.Messages)
	return dst
}
