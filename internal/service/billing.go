package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/invoicepdf"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

// VATPercent is the Kenyan VAT rate applied to subscription invoices.
const VATPercent = 16

func (s *Service) CurrentSubscription(ctx context.Context) (domain.SubscriptionResponse, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	sub, err := s.repo.GetSubscription(ctx, actor.ShopID)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	plan, ok := planByCode(sub.PlanCode)
	if !ok {
		return domain.SubscriptionResponse{}, fmt.Errorf("subscription for %s has unknown plan %q", actor.ShopID, sub.PlanCode)
	}
	return domain.SubscriptionResponse{Subscription: *sub, Plan: plan}, nil
}

// ChangePlan moves the shop to another plan. Downgrades are refused while the
// shop uses more branches or users than the target plan allows.
func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.SubscriptionResponse, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	plan, ok := planByCode(strings.ToLower(strings.TrimSpace(req.PlanCode)))
	if !ok {
		return domain.SubscriptionResponse{}, invalid("unknown plan %q", req.PlanCode)
	}

	sub, err := s.repo.GetSubscription(ctx, actor.ShopID)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return domain.SubscriptionResponse{}, invalid("subscription is cancelled")
	}
	if sub.PlanCode == plan.Code {
		return domain.SubscriptionResponse{Subscription: *sub, Plan: plan}, nil
	}

	branches, err := s.repo.ListBranches(ctx, actor.ShopID)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	users, err := s.repo.ListUsers(ctx, actor.ShopID)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	if len(branches) > plan.MaxBranches || len(users) > plan.MaxUsers {
		return domain.SubscriptionResponse{}, invalid("%s plan allows %d branches and %d users", plan.Name, plan.MaxBranches, plan.MaxUsers)
	}

	now := s.now()
	previous := sub.PlanCode
	sub.PlanCode = plan.Code
	sub.UpdatedAt = now
	saved, err := s.repo.UpsertSubscription(ctx, *sub)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	if err := s.repo.UpdateShopPlan(ctx, actor.ShopID, plan.Code, now); err != nil {
		return domain.SubscriptionResponse{}, err
	}

	s.logAudit(ctx, actor.ShopID, "plan_change", "subscription", actor.ShopID, fmt.Sprintf("from=%s,to=%s", previous, plan.Code))
	return domain.SubscriptionResponse{Subscription: *saved, Plan: plan}, nil
}

func (s *Service) ListInvoices(ctx context.Context, status string, limit int) ([]domain.Invoice, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, actor.ShopID, strings.TrimSpace(status), defaultLimit(limit, 24))
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, actor.ShopID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

// InvoicePDF renders the invoice and returns the document with a download
// filename.
func (s *Service) InvoicePDF(ctx context.Context, invoiceID string) ([]byte, string, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, "", err
	}
	shop, err := s.repo.GetShop(ctx, inv.ShopID)
	if err != nil {
		return nil, "", err
	}
	doc, err := invoicepdf.Render(inv, *shop)
	if err != nil {
		return nil, "", err
	}
	return doc, inv.Number + ".pdf", nil
}

func (s *Service) PayInvoice(ctx context.Context, invoiceID string, req domain.InvoicePayRequest) (domain.Invoice, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Invoice{}, err
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return domain.Invoice{}, invalid("reference is required")
	}

	inv, err := s.repo.MarkInvoicePaid(ctx, actor.ShopID, invoiceID, reference, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.Invoice{}, invalid("invoice is not awaiting payment")
		}
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, actor.ShopID, "invoice_pay", "invoice", inv.ID, fmt.Sprintf("number=%s,total=%d,reference=%s", inv.Number, inv.TotalCents, reference))
	return *inv, nil
}

// GenerateInvoices issues one invoice per billable shop for period (YYYY-MM).
// Shops already invoiced for the period and shops still inside their trial
// are skipped, so the call can be repeated safely.
func (s *Service) GenerateInvoices(ctx context.Context, period string) (domain.GenerateInvoicesResponse, error) {
	if _, err := superAdmin(ctx); err != nil {
		return domain.GenerateInvoicesResponse{}, err
	}
	start, err := time.Parse("2006-01", strings.TrimSpace(period))
	if err != nil {
		return domain.GenerateInvoicesResponse{}, invalid("period must be YYYY-MM")
	}
	end := start.AddDate(0, 1, -1)
	seqKey := start.Format("200601")

	subs, err := s.repo.ListBillableSubscriptions(ctx)
	if err != nil {
		return domain.GenerateInvoicesResponse{}, err
	}

	resp := domain.GenerateInvoicesResponse{Period: start.Format("2006-01"), Created: make([]domain.Invoice, 0, len(subs))}
	now := s.now()
	for _, sub := range subs {
		if sub.Status == domain.SubscriptionTrial && sub.CurrentPeriodEnd.After(end) {
			resp.Skipped++
			continue
		}
		plan, ok := planByCode(sub.PlanCode)
		if !ok {
			s.log.WithField("shop_id", sub.ShopID).WithField("plan", sub.PlanCode).Warn("skip invoice for unknown plan")
			resp.Skipped++
			continue
		}

		seq, err := s.repo.NextInvoiceSequence(ctx, seqKey)
		if err != nil {
			return resp, err
		}
		subtotal := plan.MonthlyPriceCents
		tax := vatOn(subtotal)
		inv, err := s.repo.CreateInvoice(ctx, domain.Invoice{
			ID:          xid.New("inv"),
			ShopID:      sub.ShopID,
			Number:      fmt.Sprintf("INV-%s-%04d", seqKey, seq),
			PeriodStart: start,
			PeriodEnd:   end,
			Lines: []domain.InvoiceLine{{
				Description:    fmt.Sprintf("SmartDuka %s plan, %s", plan.Name, start.Format("January 2006")),
				Qty:            1,
				UnitPriceCents: plan.MonthlyPriceCents,
				TotalCents:     plan.MonthlyPriceCents,
			}},
			SubtotalCents: subtotal,
			TaxCents:      tax,
			TotalCents:    subtotal + tax,
			Status:        domain.InvoicePending,
			DueDate:       now.AddDate(0, 0, s.opts.InvoiceDueDays),
			CreatedAt:     now,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				resp.Skipped++
				continue
			}
			return resp, err
		}

		if sub.Status == domain.SubscriptionTrial {
			sub.Status = domain.SubscriptionActive
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.UpdatedAt = start, start.AddDate(0, 1, 0), now
			if _, err := s.repo.UpsertSubscription(ctx, sub); err != nil {
				s.log.WithField("shop_id", sub.ShopID).WithError(err).Warn("end trial after first invoice")
			}
		}
		resp.Created = append(resp.Created, *inv)
	}

	s.logAudit(ctx, "", "invoices_generate", "billing", resp.Period, fmt.Sprintf("created=%d,skipped=%d", len(resp.Created), resp.Skipped))
	return resp, nil
}

// MarkOverdueInvoices flags unpaid invoices past their due date and puts
// their subscriptions into past_due.
func (s *Service) MarkOverdueInvoices(ctx context.Context) (int, error) {
	n, err := s.repo.MarkOverdueInvoices(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("invoices marked overdue")
	}
	return n, nil
}

func vatOn(amountCents int64) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(VATPercent)).
		Div(hundredPercent).
		Round(0).
		IntPart()
}
