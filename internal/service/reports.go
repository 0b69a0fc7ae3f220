package service

import (
	"context"

	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
)

// DailyReport summarises completed sales for one shop-local day. An empty
// branchID covers the whole shop.
func (s *Service) DailyReport(ctx context.Context, branchID string, date string) (domain.DailyReport, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.DailyReport{}, err
	}
	if branchID != "" {
		if branchID, err = s.resolveBranch(ctx, actor, branchID); err != nil {
			return domain.DailyReport{}, err
		}
	}
	from, to, err := s.localDay(date)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report, err := s.repo.GetDailyReport(ctx, actor.ShopID, branchID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.ShopID = actor.ShopID
	report.BranchID = branchID
	report.Date = from.In(discount.Location).Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	from, to, err := s.localDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, actor.ShopID, from, to, defaultLimit(limit, 100))
}
