package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

func (s *Service) Me(ctx context.Context) (domain.UserResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.UserResponse{}, err
	}
	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return domain.UserResponse{}, err
	}
	resp := domain.UserResponse{User: *user}
	if user.ShopID != "" {
		shop, err := s.repo.GetShop(ctx, user.ShopID)
		if err != nil {
			return domain.UserResponse{}, err
		}
		resp.Shop = shop
	}
	return resp, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, actor.ShopID)
}

// CreateUser adds a manager or cashier to the admin's shop within the plan's
// user allowance.
func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := shopActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}
	if req.Role != domain.RoleManager && req.Role != domain.RoleCashier {
		return domain.User{}, invalid("role must be manager or cashier")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	if email == "" || name == "" {
		return domain.User{}, invalid("email and name are required")
	}
	if len(req.Password) < 8 {
		return domain.User{}, invalid("password must be at least 8 characters")
	}
	branchID, err := s.resolveBranch(ctx, actor, req.BranchID)
	if err != nil {
		return domain.User{}, err
	}

	plan, err := s.planFor(ctx, actor.ShopID)
	if err != nil {
		return domain.User{}, err
	}
	existing, err := s.repo.ListUsers(ctx, actor.ShopID)
	if err != nil {
		return domain.User{}, err
	}
	if len(existing) >= plan.MaxUsers {
		return domain.User{}, invalid("%s plan allows %d users", plan.Name, plan.MaxUsers)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           xid.New("user"),
		ShopID:       actor.ShopID,
		BranchID:     branchID,
		Email:        email,
		Name:         name,
		Role:         req.Role,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return domain.User{}, err
	}

	s.logAudit(ctx, actor.ShopID, "user_create", "user", user.ID, fmt.Sprintf("email=%s,role=%s,branch=%s", user.Email, user.Role, user.BranchID))
	return user, nil
}

// CreateSuperAdmin provisions a platform operator account. It is reached from
// the CLI and from server bootstrap, never over HTTP.
func (s *Service) CreateSuperAdmin(ctx context.Context, email string, name string, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, invalid("email is required")
	}
	if len(password) < 12 {
		return domain.User{}, invalid("super admin password must be at least 12 characters")
	}
	if strings.TrimSpace(name) == "" {
		name = "Platform Admin"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           xid.New("user"),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         domain.RoleSuperAdmin,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return domain.User{}, err
	}
	s.logAudit(ctx, "", "super_admin_create", "user", user.ID, "email="+user.Email)
	return user, nil
}
