package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/auditsink"
	"smartduka/backend/internal/cache"
	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
	"smartduka/backend/internal/mpesa"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PaymentGateway is the part of the Daraja client the service drives.
type PaymentGateway interface {
	Enabled() bool
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
	Query(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
}

type Deps struct {
	Cache    cache.JSONCache
	Audit    auditsink.Sink
	Payments PaymentGateway
}

type Options struct {
	DefaultTaxRatePercent          float64
	DiscountApprovalThresholdCents int64
	StatsCacheTTL                  time.Duration
	MpesaQueryInterval             time.Duration
	MpesaPendingTimeout            time.Duration
	InvoiceDueDays                 int
}

type Service struct {
	repo     store.Repository
	cache    cache.JSONCache
	sink     auditsink.Sink
	payments PaymentGateway
	opts     Options
	now      func() time.Time
	log      *logrus.Entry
}

func New(repo store.Repository, deps Deps, opts Options) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Audit == nil {
		deps.Audit = auditsink.Noop{}
	}
	if deps.Payments == nil {
		deps.Payments = mpesa.NewClient(mpesa.Config{}, nil)
	}
	if opts.StatsCacheTTL <= 0 {
		opts.StatsCacheTTL = time.Minute
	}
	if opts.MpesaQueryInterval <= 0 {
		opts.MpesaQueryInterval = 5 * time.Second
	}
	if opts.MpesaPendingTimeout <= 0 {
		opts.MpesaPendingTimeout = 3 * time.Minute
	}
	if opts.InvoiceDueDays <= 0 {
		opts.InvoiceDueDays = 14
	}

	return &Service{
		repo:     repo,
		cache:    deps.Cache,
		sink:     deps.Audit,
		payments: deps.Payments,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.For("service"),
	}
}

func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// shopActor returns the caller when it belongs to a shop and holds one of
// roles. An empty roles list admits every shop role.
func shopActor(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.ShopID == "" {
		return domain.Actor{}, fmt.Errorf("%w: shop account required", ErrForbidden)
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s role not allowed", ErrForbidden, actor.Role)
	}
	return actor, nil
}

func superAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsSuperAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: super admin required", ErrForbidden)
	}
	return actor, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalid, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", store.ErrNotFound, what)
}

// translateDiscountErr maps rule engine failures onto the service's error
// categories.
func translateDiscountErr(err error) error {
	switch {
	case errors.Is(err, discount.ErrNotFound):
		return notFound("discount not found")
	case errors.Is(err, discount.ErrForbidden):
		return fmt.Errorf("%w: discount belongs to another shop", ErrForbidden)
	case errors.Is(err, discount.ErrNotApplicable):
		return invalid("%s", strings.TrimPrefix(err.Error(), discount.ErrNotApplicable.Error()+": "))
	default:
		return err
	}
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		ShopID:     shopID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}
	fields := logrus.Fields{"action": action, "entity": entityType + "/" + entityID}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("write audit log")
	}
	if err := s.sink.RecordAudit(ctx, entry); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("mirror audit log")
	}
	logger.Audit().WithFields(fields).WithFields(logrus.Fields{
		"shop_id": shopID,
		"actor":   actor.UserID,
		"role":    actor.Role,
	}).Info(detail)
}

func normalizeItems(items []domain.CartItem) []domain.CartItem {
	agg := make(map[string]int, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if sku == "" || item.Qty < 1 {
			continue
		}
		agg[sku] += item.Qty
	}

	normalized := make([]domain.CartItem, 0, len(agg))
	for sku, qty := range agg {
		normalized = append(normalized, domain.CartItem{SKU: sku, Qty: qty})
	}
	slices.SortFunc(normalized, func(a, b domain.CartItem) int { return strings.Compare(a.SKU, b.SKU) })
	return normalized
}

// priceItems resolves catalogue prices for items and returns the order lines
// and their subtotal.
func (s *Service) priceItems(ctx context.Context, shopID string, items []domain.CartItem) ([]domain.OrderItem, int64, error) {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, shopID, skus)
	if err != nil {
		return nil, 0, err
	}

	lines := make([]domain.OrderItem, 0, len(items))
	var subtotal int64
	for _, item := range items {
		product, ok := products[item.SKU]
		if !ok || !product.Active {
			return nil, 0, invalid("unknown product %s", item.SKU)
		}
		total := int64(item.Qty) * product.PriceCents
		lines = append(lines, domain.OrderItem{
			SKU:            product.SKU,
			Name:           product.Name,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			TotalCents:     total,
		})
		subtotal += total
	}
	return lines, subtotal, nil
}

// resolveBranch returns branchID when it belongs to the actor's shop, falling
// back to the actor's own branch.
func (s *Service) resolveBranch(ctx context.Context, actor domain.Actor, branchID string) (string, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		branchID = actor.BranchID
	}
	if branchID == "" {
		return "", invalid("branch_id is required")
	}
	if _, err := s.repo.GetBranch(ctx, actor.ShopID, branchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", notFound("branch not found")
		}
		return "", err
	}
	return branchID, nil
}

// localDay parses YYYY-MM-DD as a shop-local calendar day. An empty date
// means today.
func (s *Service) localDay(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now().In(discount.Location)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, discount.Location)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, discount.Location)
		if err != nil {
			return time.Time{}, time.Time{}, invalid("date must be YYYY-MM-DD")
		}
		day = parsed
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}

func defaultLimit(limit, fallback int) int {
	if limit < 1 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}
