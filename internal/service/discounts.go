package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

var hundredPercent = decimal.NewFromInt(100)

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Discount{}, err
	}

	now := s.now()
	d := domain.Discount{
		ID:               xid.New("disc"),
		ShopID:           actor.ShopID,
		Name:             strings.TrimSpace(req.Name),
		Code:             strings.ToUpper(strings.TrimSpace(req.Code)),
		Description:      strings.TrimSpace(req.Description),
		Type:             req.Type,
		Value:            req.Value,
		MinPurchaseCents: req.MinPurchaseCents,
		MaxDiscountCents: req.MaxDiscountCents,
		CustomerSegments: normalizeSegments(req.CustomerSegments),
		ApplicableDays:   req.ApplicableDays,
		StartHour:        req.StartHour,
		EndHour:          req.EndHour,
		ValidFrom:        req.ValidFrom,
		ValidTo:          req.ValidTo,
		UsageLimit:       req.UsageLimit,
		Status:           domain.DiscountStatusActive,
		Tiers:            req.Tiers,
		BOGO:             req.BOGO,
		RequiresApproval: req.RequiresApproval,
		CreatedBy:        actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d.Name == "" || d.Code == "" {
		return domain.Discount{}, invalid("name and code are required")
	}
	if err := checkDiscountRule(d); err != nil {
		return domain.Discount{}, err
	}

	created, err := s.repo.CreateDiscount(ctx, d)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Discount{}, fmt.Errorf("%w: discount code %s already exists", store.ErrConflict, d.Code)
		}
		return domain.Discount{}, err
	}

	s.logAudit(ctx, actor.ShopID, "discount_create", "discount", created.ID, fmt.Sprintf("code=%s,type=%s,value=%s", created.Code, created.Type, created.Value))
	return *created, nil
}

func (s *Service) ListDiscounts(ctx context.Context, status string) ([]domain.Discount, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDiscounts(ctx, actor.ShopID, strings.TrimSpace(status))
}

func (s *Service) GetDiscount(ctx context.Context, discountID string) (domain.Discount, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Discount{}, err
	}
	d, err := s.ownedDiscount(ctx, actor, discountID)
	if err != nil {
		return domain.Discount{}, err
	}
	return *d, nil
}

func (s *Service) UpdateDiscount(ctx context.Context, discountID string, req domain.DiscountUpdateRequest) (domain.Discount, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Discount{}, err
	}
	existing, err := s.ownedDiscount(ctx, actor, discountID)
	if err != nil {
		return domain.Discount{}, err
	}

	updated := *existing
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return domain.Discount{}, invalid("name must not be empty")
		}
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Value != nil {
		updated.Value = *req.Value
	}
	if req.MinPurchaseCents != nil {
		updated.MinPurchaseCents = *req.MinPurchaseCents
	}
	if req.MaxDiscountCents != nil {
		updated.MaxDiscountCents = *req.MaxDiscountCents
	}
	if req.CustomerSegments != nil {
		updated.CustomerSegments = normalizeSegments(req.CustomerSegments)
	}
	if req.ApplicableDays != nil {
		updated.ApplicableDays = req.ApplicableDays
	}
	if req.ClearHours {
		updated.StartHour, updated.EndHour = nil, nil
	}
	if req.StartHour != nil || req.EndHour != nil {
		updated.StartHour, updated.EndHour = req.StartHour, req.EndHour
	}
	if req.ClearValidity {
		updated.ValidFrom, updated.ValidTo = nil, nil
	}
	if req.ValidFrom != nil {
		updated.ValidFrom = req.ValidFrom
	}
	if req.ValidTo != nil {
		updated.ValidTo = req.ValidTo
	}
	if req.UsageLimit != nil {
		updated.UsageLimit = *req.UsageLimit
	}
	if req.Status != nil {
		updated.Status = *req.Status
	}
	if req.Tiers != nil {
		updated.Tiers = req.Tiers
	}
	if req.BOGO != nil {
		updated.BOGO = req.BOGO
	}
	if req.RequiresApproval != nil {
		updated.RequiresApproval = *req.RequiresApproval
	}
	updated.UpdatedAt = s.now()
	if err := checkDiscountRule(updated); err != nil {
		return domain.Discount{}, err
	}

	saved, err := s.repo.UpdateDiscount(ctx, updated)
	if err != nil {
		return domain.Discount{}, err
	}

	s.logAudit(ctx, actor.ShopID, "discount_update", "discount", saved.ID, fmt.Sprintf("status=%s,value=%s,usage_limit=%d", saved.Status, saved.Value, saved.UsageLimit))
	return *saved, nil
}

func (s *Service) DeactivateDiscount(ctx context.Context, discountID string) (domain.Discount, error) {
	status := domain.DiscountStatusInactive
	return s.UpdateDiscount(ctx, discountID, domain.DiscountUpdateRequest{Status: &status})
}

// ValidateDiscount is a dry run: it reports what the discount would take off
// the cart without consuming a use.
func (s *Service) ValidateDiscount(ctx context.Context, req domain.DiscountCheckRequest) (domain.DiscountCheckResponse, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.DiscountCheckResponse{}, err
	}
	d, cart, err := s.checkDiscount(ctx, actor, req)
	if err != nil {
		return domain.DiscountCheckResponse{}, err
	}

	result := discount.Calculate(*d, cart.SubtotalCents, cart.Lines)
	return domain.DiscountCheckResponse{
		Valid:               true,
		Discount:            d,
		OriginalAmountCents: result.OriginalCents,
		DiscountAmountCents: result.DiscountCents,
		FinalAmountCents:    result.FinalCents,
	}, nil
}

// ApplyDiscount validates, consumes one use and records a discount audit.
func (s *Service) ApplyDiscount(ctx context.Context, req domain.DiscountCheckRequest) (domain.DiscountCheckResponse, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.DiscountCheckResponse{}, err
	}
	d, cart, err := s.checkDiscount(ctx, actor, req)
	if err != nil {
		return domain.DiscountCheckResponse{}, err
	}
	result := discount.Calculate(*d, cart.SubtotalCents, cart.Lines)

	used, audit, err := s.repo.RecordDiscountUse(ctx, s.newDiscountAudit(actor, *d, strings.TrimSpace(req.OrderID), result))
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.DiscountCheckResponse{}, invalid("discount usage limit reached")
		}
		return domain.DiscountCheckResponse{}, err
	}
	s.discountAuditRecorded(ctx, actor, *audit)

	return domain.DiscountCheckResponse{
		Valid:               true,
		Discount:            used,
		OriginalAmountCents: result.OriginalCents,
		DiscountAmountCents: result.DiscountCents,
		FinalAmountCents:    result.FinalCents,
		Audit:               audit,
	}, nil
}

func (s *Service) ListDiscountAudits(ctx context.Context, status string, limit int) ([]domain.DiscountAudit, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDiscountAudits(ctx, actor.ShopID, strings.TrimSpace(status), defaultLimit(limit, 100))
}

func (s *Service) ApproveDiscountAudit(ctx context.Context, auditID string, reason string) (domain.DiscountAudit, error) {
	return s.reviewDiscountAudit(ctx, auditID, domain.AuditStatusApproved, reason)
}

// RejectDiscountAudit marks the audit rejected. The discount's usage is not
// given back.
func (s *Service) RejectDiscountAudit(ctx context.Context, auditID string, reason string) (domain.DiscountAudit, error) {
	return s.reviewDiscountAudit(ctx, auditID, domain.AuditStatusRejected, reason)
}

func (s *Service) reviewDiscountAudit(ctx context.Context, auditID string, status string, reason string) (domain.DiscountAudit, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.DiscountAudit{}, err
	}

	reviewed, err := s.repo.ReviewDiscountAudit(ctx, actor.ShopID, auditID, status, strings.TrimSpace(reason), actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.DiscountAudit{}, invalid("discount audit is not pending")
		}
		return domain.DiscountAudit{}, err
	}
	if err := s.sink.RecordDiscountAudit(ctx, *reviewed); err != nil {
		s.log.WithField("audit_id", reviewed.ID).WithError(err).Warn("mirror discount audit")
	}

	s.logAudit(ctx, actor.ShopID, "discount_audit_"+status, "discount_audit", reviewed.ID, fmt.Sprintf("discount=%s,amount=%d", reviewed.DiscountCode, reviewed.DiscountAmountCents))
	return *reviewed, nil
}

// ownedDiscount loads a discount by id; another shop's discount is reported
// as forbidden rather than missing.
func (s *Service) ownedDiscount(ctx context.Context, actor domain.Actor, discountID string) (*domain.Discount, error) {
	d, err := s.repo.GetDiscount(ctx, strings.TrimSpace(discountID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("discount not found")
		}
		return nil, err
	}
	if d.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: discount belongs to another shop", ErrForbidden)
	}
	return d, nil
}

// checkDiscount loads the discount named by req and runs the applicability
// checks against the cart it describes.
func (s *Service) checkDiscount(ctx context.Context, actor domain.Actor, req domain.DiscountCheckRequest) (*domain.Discount, discount.Cart, error) {
	var (
		d   *domain.Discount
		err error
	)
	switch {
	case strings.TrimSpace(req.DiscountID) != "":
		d, err = s.repo.GetDiscount(ctx, strings.TrimSpace(req.DiscountID))
	case strings.TrimSpace(req.Code) != "":
		d, err = s.repo.GetDiscountByCode(ctx, actor.ShopID, strings.ToUpper(strings.TrimSpace(req.Code)))
	default:
		return nil, discount.Cart{}, invalid("discount_id or code is required")
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, discount.Cart{}, err
	}
	if err := discount.CheckOwner(d, actor.ShopID); err != nil {
		return nil, discount.Cart{}, translateDiscountErr(err)
	}

	cart := discount.Cart{
		ShopID:          actor.ShopID,
		SubtotalCents:   req.SubtotalCents,
		CustomerSegment: strings.ToLower(strings.TrimSpace(req.CustomerSegment)),
		Now:             s.now(),
	}
	if items := normalizeItems(req.Items); len(items) > 0 {
		lines, subtotal, err := s.priceItems(ctx, actor.ShopID, items)
		if err != nil {
			return nil, discount.Cart{}, err
		}
		cart.Lines = cartLines(lines)
		cart.SubtotalCents = subtotal
	}
	if cart.SubtotalCents < 0 {
		return nil, discount.Cart{}, invalid("subtotal_cents must not be negative")
	}

	if err := discount.Validate(d, cart); err != nil {
		return nil, discount.Cart{}, translateDiscountErr(err)
	}
	return d, cart, nil
}

// newDiscountAudit builds the audit row for one use of d. Uses above the
// approval threshold, or of a discount that always needs approval, start
// pending.
func (s *Service) newDiscountAudit(actor domain.Actor, d domain.Discount, orderID string, result discount.Result) domain.DiscountAudit {
	status := domain.AuditStatusApproved
	threshold := s.opts.DiscountApprovalThresholdCents
	if d.RequiresApproval || (threshold > 0 && result.DiscountCents > threshold) {
		status = domain.AuditStatusPending
	}
	return domain.DiscountAudit{
		ID:                  xid.New("daudit"),
		ShopID:              actor.ShopID,
		DiscountID:          d.ID,
		DiscountCode:        d.Code,
		OrderID:             orderID,
		CashierID:           actor.UserID,
		OriginalAmountCents: result.OriginalCents,
		DiscountAmountCents: result.DiscountCents,
		FinalAmountCents:    result.FinalCents,
		Status:              status,
		CreatedAt:           s.now(),
	}
}

func (s *Service) discountAuditRecorded(ctx context.Context, actor domain.Actor, audit domain.DiscountAudit) {
	if err := s.sink.RecordDiscountAudit(ctx, audit); err != nil {
		s.log.WithField("audit_id", audit.ID).WithError(err).Warn("mirror discount audit")
	}
	s.logAudit(ctx, actor.ShopID, "discount_apply", "discount", audit.DiscountID, fmt.Sprintf("code=%s,amount=%d,order=%s,audit=%s", audit.DiscountCode, audit.DiscountAmountCents, audit.OrderID, audit.Status))
}

func checkDiscountRule(d domain.Discount) error {
	switch d.Type {
	case domain.DiscountPercentage:
		if !d.Value.IsPositive() || d.Value.GreaterThan(hundredPercent) {
			return invalid("percentage value must be between 0 and 100")
		}
	case domain.DiscountFixed, domain.DiscountCoupon:
		if !d.Value.IsPositive() || !d.Value.IsInteger() {
			return invalid("value must be a positive amount in cents")
		}
	case domain.DiscountTiered:
		if len(d.Tiers) == 0 {
			return invalid("tiered discounts need at least one tier")
		}
		for _, tier := range d.Tiers {
			if tier.MinAmountCents < 0 || !tier.Percent.IsPositive() || tier.Percent.GreaterThan(hundredPercent) {
				return invalid("tier percent must be between 0 and 100")
			}
		}
	case domain.DiscountBOGO:
		if d.BOGO == nil || d.BOGO.BuyQty < 1 || d.BOGO.GetQty < 1 || d.BOGO.GetPercent < 0 || d.BOGO.GetPercent > 100 {
			return invalid("bogo discounts need buy_qty, get_qty and get_percent 0-100")
		}
	default:
		return invalid("unknown discount type %q", d.Type)
	}

	if d.MinPurchaseCents < 0 || d.MaxDiscountCents < 0 || d.UsageLimit < 0 {
		return invalid("limits must not be negative")
	}
	if d.Status != domain.DiscountStatusActive && d.Status != domain.DiscountStatusInactive {
		return invalid("status must be active or inactive")
	}
	for _, day := range d.ApplicableDays {
		if day < 0 || day > 6 {
			return invalid("applicable_days must be 0-6")
		}
	}
	if (d.StartHour == nil) != (d.EndHour == nil) {
		return invalid("start_hour and end_hour must be set together")
	}
	if d.StartHour != nil {
		if *d.StartHour < 0 || *d.StartHour > 23 || *d.EndHour < 1 || *d.EndHour > 24 || *d.StartHour == *d.EndHour {
			return invalid("hour window must be 0-23 to 1-24 and not empty")
		}
	}
	if d.ValidFrom != nil && d.ValidTo != nil && !d.ValidFrom.Before(*d.ValidTo) {
		return invalid("valid_from must be before valid_to")
	}
	return nil
}

func normalizeSegments(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment = strings.ToLower(strings.TrimSpace(segment)); segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

func cartLines(items []domain.OrderItem) []discount.Line {
	lines := make([]discount.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, discount.Line{SKU: item.SKU, Qty: item.Qty, UnitPriceCents: item.UnitPriceCents})
	}
	return lines
}
