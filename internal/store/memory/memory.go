package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
	"smartduka/backend/internal/store"
)

// Seed ids used by the demo data set.
const (
	SeedShopID        = "shop_demo"
	SeedMainBranchID  = "branch_main"
	SeedOtherBranchID = "branch_westlands"
	SeedOtherShopID   = "shop_other"
	SeedOtherBranch   = "branch_other_main"
)

type Store struct {
	mu sync.RWMutex

	shops       map[string]domain.Shop
	users       map[string]domain.User
	userByEmail map[string]string
	branches    map[string]domain.Branch
	products    map[string]map[string]domain.Product
	stock       map[string]map[string]map[string]int

	shifts    map[string]domain.Shift
	openShift map[string]string

	discounts      map[string]domain.Discount
	discountByCode map[string]string
	discountAudits map[string]domain.DiscountAudit

	orders      map[string]*domain.Order
	orderByIdem map[string]string

	payments          map[string]domain.Payment
	paymentByCheckout map[string]string

	subscriptions map[string]domain.Subscription
	invoices      map[string]domain.Invoice
	invoiceByShop map[string]string
	invoiceSeq    map[string]int
	transfers     map[string]domain.StockTransfer
	tickets       map[string]domain.SupportTicket
	auditLogs     []domain.AuditLog
}

func New() *Store {
	return &Store{
		shops:             make(map[string]domain.Shop),
		users:             make(map[string]domain.User),
		userByEmail:       make(map[string]string),
		branches:          make(map[string]domain.Branch),
		products:          make(map[string]map[string]domain.Product),
		stock:             make(map[string]map[string]map[string]int),
		shifts:            make(map[string]domain.Shift),
		openShift:         make(map[string]string),
		discounts:         make(map[string]domain.Discount),
		discountByCode:    make(map[string]string),
		discountAudits:    make(map[string]domain.DiscountAudit),
		orders:            make(map[string]*domain.Order),
		orderByIdem:       make(map[string]string),
		payments:          make(map[string]domain.Payment),
		paymentByCheckout: make(map[string]string),
		subscriptions:     make(map[string]domain.Subscription),
		invoices:          make(map[string]domain.Invoice),
		invoiceByShop:     make(map[string]string),
		invoiceSeq:        make(map[string]int),
		transfers:         make(map[string]domain.StockTransfer),
		tickets:           make(map[string]domain.SupportTicket),
		auditLogs:         make([]domain.AuditLog, 0, 128),
	}
}

type seedAccount struct {
	id, shopID, branchID, email, name, role, password string
}

func seedAccounts() []seedAccount {
	return []seedAccount{
		{"user_root", "", "", envOr("SEED_SUPER_ADMIN_EMAIL", "root@smartduka.test"), "Platform Admin", domain.RoleSuperAdmin, envOr("SEED_SUPER_ADMIN_PASSWORD", "superadmin123")},
		{"user_admin", SeedShopID, SeedMainBranchID, "admin@duka.test", "Wanjiku Admin", domain.RoleAdmin, envOr("SEED_ADMIN_PASSWORD", "admin123")},
		{"user_manager", SeedShopID, SeedMainBranchID, "manager@duka.test", "Otieno Manager", domain.RoleManager, envOr("SEED_MANAGER_PASSWORD", "manager123")},
		{"user_cashier", SeedShopID, SeedMainBranchID, "cashier@duka.test", "Akinyi Cashier", domain.RoleCashier, envOr("SEED_CASHIER_PASSWORD", "cashier123")},
		{"user_cashier2", SeedShopID, SeedOtherBranchID, "cashier2@duka.test", "Mwangi Cashier", domain.RoleCashier, envOr("SEED_CASHIER_PASSWORD", "cashier123")},
		{"user_other_admin", SeedOtherShopID, SeedOtherBranch, "admin@other.test", "Other Owner", domain.RoleAdmin, envOr("SEED_ADMIN_PASSWORD", "admin123")},
	}
}

// seedHashes hashes each distinct seed password once per process.
var seedHashes = sync.OnceValue(func() map[string]string {
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.For("memory-store").Warn("using default dev credentials; set SEED_*_PASSWORD to override")
	}
	hashes := make(map[string]string)
	for _, acc := range seedAccounts() {
		if _, ok := hashes[acc.password]; ok {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(acc.password), bcrypt.DefaultCost)
		if err != nil {
			logger.For("memory-store").WithError(err).Fatal("hash seed password")
		}
		hashes[acc.password] = string(hash)
	}
	return hashes
})

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding two active shops, their branches, staff
// accounts, a product catalogue and stock. Used for local runs and tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	hashes := seedHashes()

	for _, shop := range []domain.Shop{
		{ID: SeedShopID, Name: "Mama Mboga Duka", Email: "owner@duka.test", Phone: "254712345678", County: "Nairobi", BusinessType: "retail", Status: domain.ShopStatusActive, PlanCode: "starter"},
		{ID: SeedOtherShopID, Name: "Other Duka", Email: "owner@other.test", Phone: "254722000000", County: "Kisumu", BusinessType: "retail", Status: domain.ShopStatusActive, PlanCode: "starter"},
	} {
		shop.CreatedAt, shop.UpdatedAt, shop.VerifiedAt, shop.VerifiedBy = now, now, &now, "user_root"
		s.shops[shop.ID] = shop
		periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		s.subscriptions[shop.ID] = domain.Subscription{
			ShopID:             shop.ID,
			PlanCode:           "starter",
			Status:             domain.SubscriptionActive,
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
			UpdatedAt:          now,
		}
	}

	for _, branch := range []domain.Branch{
		{ID: SeedMainBranchID, ShopID: SeedShopID, Name: "Main", Code: "MAIN", Location: "Kenyatta Avenue"},
		{ID: SeedOtherBranchID, ShopID: SeedShopID, Name: "Westlands", Code: "WEST", Location: "Westlands"},
		{ID: SeedOtherBranch, ShopID: SeedOtherShopID, Name: "Main", Code: "MAIN"},
	} {
		branch.Active, branch.CreatedAt = true, now
		s.branches[branch.ID] = branch
	}

	for _, acc := range seedAccounts() {
		user := domain.User{
			ID:           acc.id,
			ShopID:       acc.shopID,
			BranchID:     acc.branchID,
			Email:        strings.ToLower(acc.email),
			Name:         acc.name,
			Role:         acc.role,
			PasswordHash: hashes[acc.password],
			Active:       true,
			CreatedAt:    now,
		}
		s.users[user.ID] = user
		s.userByEmail[user.Email] = user.ID
	}

	catalogue := []domain.Product{
		{SKU: "UNGA-2KG", Name: "Maize Flour 2kg", Category: "grocery", PriceCents: 18500, CostCents: 16000, LowStockThreshold: 20},
		{SKU: "SUGAR-1KG", Name: "Sugar 1kg", Category: "grocery", PriceCents: 16000, CostCents: 14200, LowStockThreshold: 20},
		{SKU: "MILK-500", Name: "Fresh Milk 500ml", Category: "dairy", PriceCents: 6000, CostCents: 5000, LowStockThreshold: 30},
		{SKU: "BREAD-400", Name: "White Bread 400g", Category: "bakery", PriceCents: 6500, CostCents: 5400, LowStockThreshold: 15},
		{SKU: "SODA-500", Name: "Soda 500ml", Category: "beverage", PriceCents: 7000, CostCents: 5500, LowStockThreshold: 24},
		{SKU: "SOAP-BAR", Name: "Bar Soap", Category: "household", PriceCents: 12000, CostCents: 9500, LowStockThreshold: 10},
		{SKU: "AIRTIME-100", Name: "Airtime 100", Category: "airtime", PriceCents: 10000, CostCents: 9600, LowStockThreshold: 0},
	}
	for _, shopID := range []string{SeedShopID, SeedOtherShopID} {
		s.products[shopID] = make(map[string]domain.Product, len(catalogue))
		s.stock[shopID] = make(map[string]map[string]int)
		for _, p := range catalogue {
			p.ShopID, p.Active, p.CreatedAt, p.UpdatedAt = shopID, true, now, now
			s.products[shopID][p.SKU] = p
		}
	}
	s.stock[SeedShopID][SeedMainBranchID] = make(map[string]int)
	s.stock[SeedShopID][SeedOtherBranchID] = make(map[string]int)
	s.stock[SeedOtherShopID][SeedOtherBranch] = make(map[string]int)
	for _, p := range catalogue {
		s.stock[SeedShopID][SeedMainBranchID][p.SKU] = 120
		s.stock[SeedShopID][SeedOtherBranchID][p.SKU] = 40
		s.stock[SeedOtherShopID][SeedOtherBranch][p.SKU] = 50
	}

	return s
}

func (s *Store) RegisterShop(_ context.Context, reg domain.ShopRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg.Shop.ID == "" || reg.Branch.ID == "" || reg.Owner.ID == "" {
		return store.ErrInvalid
	}
	email := strings.ToLower(reg.Owner.Email)
	if _, exists := s.userByEmail[email]; exists {
		return store.ErrConflict
	}
	if _, exists := s.shops[reg.Shop.ID]; exists {
		return store.ErrConflict
	}

	reg.Owner.Email = email
	s.shops[reg.Shop.ID] = reg.Shop
	s.branches[reg.Branch.ID] = reg.Branch
	s.users[reg.Owner.ID] = reg.Owner
	s.userByEmail[email] = reg.Owner.ID
	s.subscriptions[reg.Shop.ID] = reg.Subscription
	s.products[reg.Shop.ID] = make(map[string]domain.Product)
	s.stock[reg.Shop.ID] = map[string]map[string]int{reg.Branch.ID: {}}
	return nil
}

func (s *Store) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func (s *Store) ListShops(_ context.Context, status string, limit int) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shop, 0, len(s.shops))
	for _, shop := range s.shops {
		if status != "" && shop.Status != status {
			continue
		}
		result = append(result, shop)
	}
	slices.SortFunc(result, func(a, b domain.Shop) int { return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return truncate(result, limit), nil
}

func (s *Store) UpdateShopStatus(_ context.Context, shopID string, from []string, status string, reason string, actorID string, at time.Time) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(from, shop.Status) {
		return nil, store.ErrInvalid
	}
	shop.Status = status
	shop.StatusReason = reason
	shop.UpdatedAt = at
	if status == domain.ShopStatusActive && shop.VerifiedAt == nil {
		verified := at
		shop.VerifiedAt = &verified
		shop.VerifiedBy = actorID
	}
	s.shops[shopID] = shop
	return &shop, nil
}

func (s *Store) UpdateShopPlan(_ context.Context, shopID string, planCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shops[shopID]
	if !ok {
		return store.ErrNotFound
	}
	shop.PlanCode = planCode
	shop.UpdatedAt = at
	s.shops[shopID] = shop
	return nil
}

func (s *Store) CountShopsByStatus(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, 4)
	for _, shop := range s.shops {
		counts[shop.Status]++
	}
	return counts, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || user.Email == "" {
		return store.ErrInvalid
	}
	if _, exists := s.userByEmail[user.Email]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	s.userByEmail[user.Email] = user.ID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context, shopID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.User, 0, 8)
	for _, user := range s.users {
		if user.ShopID != shopID {
			continue
		}
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.User) int { return strings.Compare(a.Email, b.Email) })
	return result, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == "" || branch.ShopID == "" || branch.Name == "" {
		return nil, store.ErrInvalid
	}
	for _, existing := range s.branches {
		if existing.ShopID == branch.ShopID && strings.EqualFold(existing.Code, branch.Code) {
			return nil, store.ErrConflict
		}
	}
	s.branches[branch.ID] = branch
	if s.stock[branch.ShopID] == nil {
		s.stock[branch.ShopID] = make(map[string]map[string]int)
	}
	s.stock[branch.ShopID][branch.ID] = make(map[string]int)
	created := branch
	return &created, nil
}

func (s *Store) GetBranch(_ context.Context, shopID string, branchID string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[branchID]
	if !ok || branch.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context, shopID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, 4)
	for _, branch := range s.branches {
		if branch.ShopID == shopID {
			result = append(result, branch)
		}
	}
	slices.SortFunc(result, func(a, b domain.Branch) int { return strings.Compare(a.Code, b.Code) })
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ShopID == "" || product.SKU == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalid
	}
	catalogue := s.products[product.ShopID]
	if catalogue == nil {
		catalogue = make(map[string]domain.Product)
		s.products[product.ShopID] = catalogue
	}
	if _, exists := catalogue[product.SKU]; exists {
		return nil, store.ErrConflict
	}
	catalogue[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, shopID string, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[shopID][sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, shopID string, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, ok := s.products[shopID][sku]; ok {
			result[sku] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products[shopID]))
	for _, product := range s.products[shopID] {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ShopID][product.SKU]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ShopID][product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, shopID string, branchID string, sku string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[shopID][sku]; !ok {
		return 0, store.ErrNotFound
	}
	levels := s.branchStock(shopID, branchID)
	next := levels[sku] + delta
	if next < 0 {
		return 0, store.ErrInsufficientStock
	}
	levels[sku] = next
	return next, nil
}

func (s *Store) ListStock(_ context.Context, shopID string, branchID string) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockLevel, 0, 32)
	for bID, levels := range s.stock[shopID] {
		if branchID != "" && bID != branchID {
			continue
		}
		for sku, product := range s.products[shopID] {
			result = append(result, domain.StockLevel{
				BranchID:          bID,
				SKU:               sku,
				Name:              product.Name,
				Qty:               levels[sku],
				LowStockThreshold: product.LowStockThreshold,
			})
		}
	}
	slices.SortFunc(result, func(a, b domain.StockLevel) int {
		if c := strings.Compare(a.BranchID, b.BranchID); c != 0 {
			return c
		}
		return strings.Compare(a.SKU, b.SKU)
	})
	return result, nil
}

// branchStock must be called with s.mu held for writing.
func (s *Store) branchStock(shopID string, branchID string) map[string]int {
	if s.stock[shopID] == nil {
		s.stock[shopID] = make(map[string]map[string]int)
	}
	if s.stock[shopID][branchID] == nil {
		s.stock[shopID][branchID] = make(map[string]int)
	}
	return s.stock[shopID][branchID]
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}
