package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"smartduka/backend/internal/cache"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/mpesa"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

const (
	PlanStarter    = "starter"
	PlanGrowth     = "growth"
	PlanEnterprise = "enterprise"

	trialDays = 14
)

var plans = []domain.Plan{
	{Code: PlanStarter, Name: "Starter", MonthlyPriceCents: 150000, MaxBranches: 2, MaxUsers: 5},
	{Code: PlanGrowth, Name: "Growth", MonthlyPriceCents: 350000, MaxBranches: 5, MaxUsers: 20},
	{Code: PlanEnterprise, Name: "Enterprise", MonthlyPriceCents: 800000, MaxBranches: 50, MaxUsers: 250},
}

func Plans() []domain.Plan {
	return slices.Clone(plans)
}

func planByCode(code string) (domain.Plan, bool) {
	for _, plan := range plans {
		if plan.Code == code {
			return plan, true
		}
	}
	return domain.Plan{}, false
}

func (s *Service) planFor(ctx context.Context, shopID string) (domain.Plan, error) {
	sub, err := s.repo.GetSubscription(ctx, shopID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Plan{}, err
	}
	if sub != nil {
		if plan, ok := planByCode(sub.PlanCode); ok {
			return plan, nil
		}
	}
	plan, _ := planByCode(PlanStarter)
	return plan, nil
}

func (s *Service) RegisterShop(ctx context.Context, req domain.ShopRegisterRequest) (domain.ShopRegisterResponse, error) {
	req.ShopName = strings.TrimSpace(req.ShopName)
	req.OwnerName = strings.TrimSpace(req.OwnerName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.ShopName == "" || req.OwnerName == "" || req.Email == "" {
		return domain.ShopRegisterResponse{}, invalid("shop_name, owner_name and email are required")
	}
	if len(req.OwnerPassword) < 8 {
		return domain.ShopRegisterResponse{}, invalid("password must be at least 8 characters")
	}
	phone, err := mpesa.NormalizePhone(req.Phone)
	if err != nil {
		return domain.ShopRegisterResponse{}, invalid("phone must be a Kenyan mobile number")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.OwnerPassword), bcrypt.DefaultCost)
	if err != nil {
		return domain.ShopRegisterResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	shop := domain.Shop{
		ID:           xid.New("shop"),
		Name:         req.ShopName,
		Email:        req.Email,
		Phone:        phone,
		County:       strings.TrimSpace(req.County),
		BusinessType: strings.TrimSpace(req.BusinessType),
		Status:       domain.ShopStatusPending,
		PlanCode:     PlanStarter,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	branch := domain.Branch{
		ID:        xid.New("branch"),
		ShopID:    shop.ID,
		Name:      "Main",
		Code:      "MAIN",
		Active:    true,
		CreatedAt: now,
	}
	owner := domain.User{
		ID:           xid.New("user"),
		ShopID:       shop.ID,
		BranchID:     branch.ID,
		Email:        req.Email,
		Name:         req.OwnerName,
		Role:         domain.RoleAdmin,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    now,
	}
	sub := domain.Subscription{
		ShopID:             shop.ID,
		PlanCode:           PlanStarter,
		Status:             domain.SubscriptionTrial,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 0, trialDays),
		UpdatedAt:          now,
	}

	err = s.repo.RegisterShop(ctx, domain.ShopRegistration{Shop: shop, Branch: branch, Owner: owner, Subscription: sub})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ShopRegisterResponse{}, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return domain.ShopRegisterResponse{}, err
	}

	ctx = WithActor(ctx, domain.Actor{UserID: owner.ID, Email: owner.Email, Role: owner.Role, ShopID: shop.ID})
	s.logAudit(ctx, shop.ID, "shop_register", "shop", shop.ID, fmt.Sprintf("name=%s,email=%s", shop.Name, shop.Email))
	s.invalidateStats(ctx)

	return domain.ShopRegisterResponse{Shop: shop, Owner: owner, Branch: branch}, nil
}

func (s *Service) MyShop(ctx context.Context) (domain.Shop, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	shop, err := s.repo.GetShop(ctx, actor.ShopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (s *Service) ListShops(ctx context.Context, status string, limit int) ([]domain.Shop, error) {
	if _, err := superAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListShops(ctx, strings.TrimSpace(status), defaultLimit(limit, 100))
}

func (s *Service) GetShop(ctx context.Context, shopID string) (domain.Shop, error) {
	if _, err := superAdmin(ctx); err != nil {
		return domain.Shop{}, err
	}
	shop, err := s.repo.GetShop(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (s *Service) VerifyShop(ctx context.Context, shopID string) (domain.Shop, error) {
	return s.moveShop(ctx, shopID, []string{domain.ShopStatusPending}, domain.ShopStatusActive, "", "shop_verify")
}

func (s *Service) RejectShop(ctx context.Context, shopID string, reason string) (domain.Shop, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Shop{}, invalid("reason is required")
	}
	return s.moveShop(ctx, shopID, []string{domain.ShopStatusPending}, domain.ShopStatusRejected, reason, "shop_reject")
}

func (s *Service) SuspendShop(ctx context.Context, shopID string, reason string) (domain.Shop, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Shop{}, invalid("reason is required")
	}
	return s.moveShop(ctx, shopID, []string{domain.ShopStatusActive}, domain.ShopStatusSuspended, reason, "shop_suspend")
}

func (s *Service) ReactivateShop(ctx context.Context, shopID string) (domain.Shop, error) {
	return s.moveShop(ctx, shopID, []string{domain.ShopStatusSuspended}, domain.ShopStatusActive, "", "shop_reactivate")
}

func (s *Service) moveShop(ctx context.Context, shopID string, from []string, status string, reason string, action string) (domain.Shop, error) {
	actor, err := superAdmin(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	reason = strings.TrimSpace(reason)

	shop, err := s.repo.UpdateShopStatus(ctx, shopID, from, status, reason, actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.Shop{}, invalid("shop must be %s to become %s", strings.Join(from, " or "), status)
		}
		return domain.Shop{}, err
	}

	s.logAudit(ctx, shop.ID, action, "shop", shop.ID, fmt.Sprintf("status=%s,reason=%s", status, reason))
	s.invalidateStats(ctx)
	return *shop, nil
}

// PlatformStats is served from the cache for StatsCacheTTL.
func (s *Service) PlatformStats(ctx context.Context) (domain.PlatformStats, error) {
	if _, err := superAdmin(ctx); err != nil {
		return domain.PlatformStats{}, err
	}

	var stats domain.PlatformStats
	found, err := s.cache.Get(ctx, cache.StatsKey(), &stats)
	if err != nil {
		s.log.WithError(err).Warn("read cached platform stats")
	}
	if found {
		return stats, nil
	}

	counts, err := s.repo.CountShopsByStatus(ctx)
	if err != nil {
		return domain.PlatformStats{}, err
	}
	openTickets, err := s.repo.CountOpenTickets(ctx)
	if err != nil {
		return domain.PlatformStats{}, err
	}
	stats = domain.PlatformStats{ShopsByStatus: counts, OpenTickets: openTickets, GeneratedAt: s.now()}
	for _, n := range counts {
		stats.TotalShops += n
	}

	if err := s.cache.Set(ctx, cache.StatsKey(), stats, s.opts.StatsCacheTTL); err != nil {
		s.log.WithError(err).Warn("cache platform stats")
	}
	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.StatsKey()); err != nil {
		s.log.WithError(err).Warn("invalidate platform stats")
	}
}
