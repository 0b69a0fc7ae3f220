package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/service"
	"smartduka/backend/internal/store"
)

const tokenIssuer = "smartduka"

// AccountStore is the part of the repository the auth layer reads.
type AccountStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts AccountStore
	now      func() time.Time
}

type dukaClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	ShopID   string `json:"shop_id,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", service.ErrUnauthorized)

func NewAuthManager(secret string, tokenTTL time.Duration, accounts AccountStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login checks the password and refuses users whose shop is not active.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// keep timing close to the wrong-password path
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1DmTMXSx4ihnp/ggR0F6b2."), []byte(req.Password))
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, fmt.Errorf("%w: account is inactive", service.ErrForbidden)
	}
	if err := a.checkShop(ctx, user.Role, user.ShopID); err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ShopID:      user.ShopID,
		BranchID:    user.BranchID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &dukaClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid or expired token", service.ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.Role == "" {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", service.ErrUnauthorized)
	}
	if claims.Role != domain.RoleSuperAdmin && claims.ShopID == "" {
		return domain.Actor{}, fmt.Errorf("%w: token has no shop", service.ErrUnauthorized)
	}
	return domain.Actor{
		UserID:   sub,
		Email:    claims.Email,
		Name:     claims.Name,
		Role:     claims.Role,
		ShopID:   claims.ShopID,
		BranchID: claims.BranchID,
	}, nil
}

// Authenticate parses the token and re-checks the shop, so a suspension takes
// effect on tokens issued before it.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	actor, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := a.checkShop(ctx, actor.Role, actor.ShopID); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

func (a *AuthManager) checkShop(ctx context.Context, role string, shopID string) error {
	if role == domain.RoleSuperAdmin {
		return nil
	}
	shop, err := a.accounts.GetShop(ctx, shopID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: shop not found", service.ErrUnauthorized)
		}
		return err
	}
	switch shop.Status {
	case domain.ShopStatusActive:
		return nil
	case domain.ShopStatusPending:
		return fmt.Errorf("%w: shop is awaiting verification", service.ErrForbidden)
	default:
		return fmt.Errorf("%w: shop is %s", service.ErrForbidden, shop.Status)
	}
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := dukaClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role:     user.Role,
		ShopID:   user.ShopID,
		BranchID: user.BranchID,
		Name:     user.Name,
		Email:    user.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || input == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
