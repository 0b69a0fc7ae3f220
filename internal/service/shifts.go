package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

func (s *Service) ClockIn(ctx context.Context, req domain.ClockInRequest) (domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.OpeningBalanceCents < 0 {
		return domain.Shift{}, invalid("opening_balance_cents must not be negative")
	}
	branchID, err := s.resolveBranch(ctx, actor, req.BranchID)
	if err != nil {
		return domain.Shift{}, err
	}

	shift, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:                  xid.New("shift"),
		ShopID:              actor.ShopID,
		BranchID:            branchID,
		CashierID:           actor.UserID,
		CashierName:         actor.Name,
		Status:              domain.ShiftStatusOpen,
		OpeningBalanceCents: req.OpeningBalanceCents,
		StartTime:           s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Shift{}, invalid("cashier already has an open shift")
		}
		return domain.Shift{}, err
	}

	s.logAudit(ctx, actor.ShopID, "shift_open", "shift", shift.ID, fmt.Sprintf("branch=%s,opening=%d", branchID, req.OpeningBalanceCents))
	return *shift, nil
}

func (s *Service) ClockOut(ctx context.Context, req domain.ClockOutRequest) (domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.ClosingBalanceCents < 0 {
		return domain.Shift{}, invalid("closing_balance_cents must not be negative")
	}

	shift, err := s.repo.CloseOpenShift(ctx, actor.ShopID, actor.UserID, req.ClosingBalanceCents, strings.TrimSpace(req.Notes), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Shift{}, notFound("no open shift")
		}
		return domain.Shift{}, err
	}

	s.logAudit(ctx, actor.ShopID, "shift_close", "shift", shift.ID, fmt.Sprintf("closing=%d", req.ClosingBalanceCents))
	return *shift, nil
}

func (s *Service) CurrentShift(ctx context.Context) (domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	shift, err := s.repo.GetOpenShift(ctx, actor.ShopID, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Shift{}, notFound("no open shift")
		}
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	shift, err := s.repo.GetShift(ctx, actor.ShopID, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := canManageShift(actor, *shift); err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

// ListShifts returns the shop's shifts. Cashiers only ever see their own.
func (s *Service) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.ShopID = actor.ShopID
	if !actor.IsShopManager() {
		filter.CashierID = actor.UserID
	}
	filter.Limit = defaultLimit(filter.Limit, 100)
	return s.repo.ListShifts(ctx, filter)
}

// ReconcileShift compares counted cash against opening balance plus the
// shift's completed sales.
func (s *Service) ReconcileShift(ctx context.Context, shiftID string, req domain.ReconcileRequest) (domain.Shift, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.ActualCashCents < 0 {
		return domain.Shift{}, invalid("actual_cash_cents must not be negative")
	}

	shift, err := s.repo.GetShift(ctx, actor.ShopID, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := canManageShift(actor, *shift); err != nil {
		return domain.Shift{}, err
	}
	switch shift.Status {
	case domain.ShiftStatusOpen:
		return domain.Shift{}, invalid("shift is still open")
	case domain.ShiftStatusReconciled:
		return domain.Shift{}, invalid("shift is already reconciled")
	}

	sales, err := s.repo.GetShiftSales(ctx, actor.ShopID, shift.ID)
	if err != nil {
		return domain.Shift{}, err
	}

	now := s.now()
	shift.SalesCount = sales.Count
	shift.SalesTotalCents = sales.TotalCents
	shift.ByPayment = sales.ByPayment
	shift.ExpectedCashCents = shift.OpeningBalanceCents + sales.TotalCents
	shift.ActualCashCents = req.ActualCashCents
	shift.VarianceCents = req.ActualCashCents - shift.ExpectedCashCents
	shift.ReconciledAt = &now
	shift.ReconciledBy = actor.UserID
	shift.Notes = strings.TrimSpace(req.Notes)

	saved, err := s.repo.ReconcileShift(ctx, *shift)
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.Shift{}, invalid("shift is already reconciled")
		}
		return domain.Shift{}, err
	}

	if saved.VarianceCents != 0 {
		s.log.WithField("shift_id", saved.ID).WithField("variance_cents", saved.VarianceCents).Warn("shift reconciled with cash variance")
	}
	s.logAudit(ctx, actor.ShopID, "shift_reconcile", "shift", saved.ID, fmt.Sprintf("expected=%d,actual=%d,variance=%d", saved.ExpectedCashCents, saved.ActualCashCents, saved.VarianceCents))
	return *saved, nil
}

func canManageShift(actor domain.Actor, shift domain.Shift) error {
	if actor.IsShopManager() || shift.CashierID == actor.UserID {
		return nil
	}
	return fmt.Errorf("%w: shift belongs to another cashier", ErrForbidden)
}
