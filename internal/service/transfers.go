package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	from, to := strings.TrimSpace(req.FromBranchID), strings.TrimSpace(req.ToBranchID)
	if from == "" || to == "" {
		return domain.StockTransfer{}, invalid("from_branch_id and to_branch_id are required")
	}
	if from == to {
		return domain.StockTransfer{}, invalid("source and destination branch must differ")
	}

	merged := make([]domain.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Qty < 1 {
			return domain.StockTransfer{}, invalid("item quantities must be positive")
		}
		merged = append(merged, domain.CartItem{SKU: item.SKU, Qty: item.Qty})
	}
	merged = normalizeItems(merged)
	if len(merged) == 0 {
		return domain.StockTransfer{}, invalid("transfer needs at least one item")
	}
	items := make([]domain.StockAdjustment, 0, len(merged))
	for _, item := range merged {
		items = append(items, domain.StockAdjustment{SKU: item.SKU, Qty: item.Qty})
	}

	now := s.now()
	created, err := s.repo.CreateTransfer(ctx, domain.StockTransfer{
		ID:             xid.New("trf"),
		ShopID:         actor.ShopID,
		TransferNumber: "TRF-" + now.In(discount.Location).Format("20060102") + "-" + xid.Short(5),
		FromBranchID:   from,
		ToBranchID:     to,
		Items:          items,
		Status:         domain.TransferPending,
		Notes:          strings.TrimSpace(req.Notes),
		RequestedBy:    actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.StockTransfer{}, notFound("branch not found")
		case errors.Is(err, store.ErrInvalid):
			return domain.StockTransfer{}, invalid("transfer contains unknown products")
		}
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "transfer_request", "stock_transfer", created.ID, fmt.Sprintf("from=%s,to=%s,lines=%d", from, to, len(items)))
	return *created, nil
}

func (s *Service) ListTransfers(ctx context.Context, status string, limit int) ([]domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransfers(ctx, actor.ShopID, strings.TrimSpace(status), defaultLimit(limit, 100))
}

func (s *Service) GetTransfer(ctx context.Context, transferID string) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	transfer, err := s.repo.GetTransfer(ctx, actor.ShopID, transferID)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return *transfer, nil
}

// ApproveTransfer takes the items out of the source branch.
func (s *Service) ApproveTransfer(ctx context.Context, transferID string) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	transfer, err := s.repo.ApproveTransfer(ctx, actor.ShopID, transferID, actor.UserID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalid):
			return domain.StockTransfer{}, invalid("transfer is not pending")
		case errors.Is(err, store.ErrInsufficientStock):
			return domain.StockTransfer{}, fmt.Errorf("%w: source branch cannot cover the transfer", store.ErrInsufficientStock)
		}
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "transfer_approve", "stock_transfer", transfer.ID, "from="+transfer.FromBranchID)
	return *transfer, nil
}

func (s *Service) RejectTransfer(ctx context.Context, transferID string, reason string) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.StockTransfer{}, invalid("reason is required")
	}
	transfer, err := s.repo.CloseTransfer(ctx, actor.ShopID, transferID, domain.TransferRejected, reason, actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.StockTransfer{}, invalid("transfer is not pending")
		}
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "transfer_reject", "stock_transfer", transfer.ID, "reason="+reason)
	return *transfer, nil
}

// CompleteTransfer books the items into the destination branch. Managers may
// only receive into their own branch.
func (s *Service) CompleteTransfer(ctx context.Context, transferID string) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	if actor.Role == domain.RoleManager {
		current, err := s.repo.GetTransfer(ctx, actor.ShopID, transferID)
		if err != nil {
			return domain.StockTransfer{}, err
		}
		if current.ToBranchID != actor.BranchID {
			return domain.StockTransfer{}, fmt.Errorf("%w: only the receiving branch can complete a transfer", ErrForbidden)
		}
	}

	transfer, err := s.repo.CompleteTransfer(ctx, actor.ShopID, transferID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.StockTransfer{}, invalid("transfer is not approved")
		}
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "transfer_complete", "stock_transfer", transfer.ID, "to="+transfer.ToBranchID)
	return *transfer, nil
}

// CancelTransfer withdraws a pending request. Only the requester or an admin
// may cancel.
func (s *Service) CancelTransfer(ctx context.Context, transferID string) (domain.StockTransfer, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	current, err := s.repo.GetTransfer(ctx, actor.ShopID, transferID)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	if actor.Role != domain.RoleAdmin && current.RequestedBy != actor.UserID {
		return domain.StockTransfer{}, fmt.Errorf("%w: only the requester can cancel", ErrForbidden)
	}

	transfer, err := s.repo.CloseTransfer(ctx, actor.ShopID, transferID, domain.TransferCancelled, "", actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.StockTransfer{}, invalid("transfer is not pending")
		}
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "transfer_cancel", "stock_transfer", transfer.ID, "")
	return *transfer, nil
}
