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

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBranches(ctx, actor.ShopID)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Branch{}, err
	}
	name := strings.TrimSpace(req.Name)
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if name == "" || code == "" {
		return domain.Branch{}, invalid("name and code are required")
	}

	plan, err := s.planFor(ctx, actor.ShopID)
	if err != nil {
		return domain.Branch{}, err
	}
	existing, err := s.repo.ListBranches(ctx, actor.ShopID)
	if err != nil {
		return domain.Branch{}, err
	}
	if len(existing) >= plan.MaxBranches {
		return domain.Branch{}, invalid("%s plan allows %d branches", plan.Name, plan.MaxBranches)
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New("branch"),
		ShopID:    actor.ShopID,
		Name:      name,
		Code:      code,
		Location:  strings.TrimSpace(req.Location),
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Branch{}, fmt.Errorf("%w: branch code %s already exists", store.ErrConflict, code)
		}
		return domain.Branch{}, err
	}

	s.logAudit(ctx, actor.ShopID, "branch_create", "branch", created.ID, fmt.Sprintf("name=%s,code=%s", created.Name, created.Code))
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.ShopID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, invalid("sku, name and category are required")
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.LowStockThreshold < 0 || req.InitialStock < 0 {
		return domain.Product{}, invalid("prices, threshold and stock must not be negative")
	}

	branchID := ""
	if req.InitialStock > 0 {
		if branchID, err = s.resolveBranch(ctx, actor, req.BranchID); err != nil {
			return domain.Product{}, err
		}
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:            actor.ShopID,
		SKU:               req.SKU,
		Name:              req.Name,
		Category:          req.Category,
		PriceCents:        req.PriceCents,
		CostCents:         req.CostCents,
		LowStockThreshold: req.LowStockThreshold,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Product{}, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, req.SKU)
		}
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		if _, err := s.repo.AdjustStock(ctx, actor.ShopID, branchID, created.SKU, req.InitialStock); err != nil {
			return domain.Product{}, err
		}
	}

	s.logAudit(ctx, actor.ShopID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	existing, err := s.repo.GetProduct(ctx, actor.ShopID, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("name must not be empty")
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*req.Category))
		if category == "" {
			return domain.Product{}, invalid("category must not be empty")
		}
		updated.Category = category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, invalid("price_cents must be positive")
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, invalid("cost_cents must not be negative")
		}
		updated.CostCents = *req.CostCents
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Product{}, invalid("low_stock_threshold must not be negative")
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor.ShopID, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%d,old_price=%d", saved.Active, saved.PriceCents, existing.PriceCents))
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if req.Delta == 0 {
		return domain.StockAdjustResponse{}, invalid("delta must not be zero")
	}
	branchID, err := s.resolveBranch(ctx, actor, req.BranchID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))

	qty, err := s.repo.AdjustStock(ctx, actor.ShopID, branchID, sku, req.Delta)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockAdjustResponse{}, notFound("product not found")
		}
		return domain.StockAdjustResponse{}, err
	}

	s.logAudit(ctx, actor.ShopID, "stock_adjust", "product", sku, fmt.Sprintf("branch=%s,delta=%d,qty=%d,reason=%s", branchID, req.Delta, qty, strings.TrimSpace(req.Reason)))
	return domain.StockAdjustResponse{BranchID: branchID, SKU: sku, Qty: qty}, nil
}

func (s *Service) ListStock(ctx context.Context, branchID string) ([]domain.StockLevel, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	if branchID != "" {
		if branchID, err = s.resolveBranch(ctx, actor, branchID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListStock(ctx, actor.ShopID, branchID)
}

// LowStock lists stock levels at or below their product's threshold.
func (s *Service) LowStock(ctx context.Context, branchID string) ([]domain.StockLevel, error) {
	levels, err := s.ListStock(ctx, branchID)
	if err != nil {
		return nil, err
	}
	low := make([]domain.StockLevel, 0, len(levels))
	for _, level := range levels {
		if level.Qty <= level.LowStockThreshold {
			low = append(low, level)
		}
	}
	return low, nil
}
