package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const shopColumns = `id, name, email, phone, county, business_type, status, status_reason, verified_at, verified_by, plan_code, created_at, updated_at`

func scanShop(row rowScanner) (*domain.Shop, error) {
	var shop domain.Shop
	var verifiedAt sql.NullTime
	if err := row.Scan(&shop.ID, &shop.Name, &shop.Email, &shop.Phone, &shop.County, &shop.BusinessType, &shop.Status,
		&shop.StatusReason, &verifiedAt, &shop.VerifiedBy, &shop.PlanCode, &shop.CreatedAt, &shop.UpdatedAt); err != nil {
		return nil, err
	}
	shop.VerifiedAt = timePtr(verifiedAt)
	return &shop, nil
}

func (s *Store) RegisterShop(ctx context.Context, reg domain.ShopRegistration) error {
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		shop := reg.Shop
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shops (id, name, email, phone, county, business_type, status, plan_code, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		`, shop.ID, shop.Name, shop.Email, shop.Phone, shop.County, shop.BusinessType, shop.Status, shop.PlanCode, shop.CreatedAt); err != nil {
			return err
		}
		branch := reg.Branch
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO branches (id, shop_id, name, code, location, active, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, branch.ID, branch.ShopID, branch.Name, branch.Code, branch.Location, branch.Active, branch.CreatedAt); err != nil {
			return err
		}
		if err := insertUser(ctx, tx, reg.Owner); err != nil {
			return err
		}
		sub := reg.Subscription
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (shop_id, plan_code, status, current_period_start, current_period_end, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sub.ShopID, sub.PlanCode, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.UpdatedAt)
		return err
	})
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, shopID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return shop, err
}

func (s *Store) ListShops(ctx context.Context, status string, limit int) ([]domain.Shop, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, limit)
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, *shop)
	}
	return shops, rows.Err()
}

func (s *Store) UpdateShopStatus(ctx context.Context, shopID string, from []string, status string, reason string, actorID string, at time.Time) (*domain.Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `
		UPDATE shops
		SET status = $3,
			status_reason = $4,
			updated_at = $6,
			verified_at = CASE WHEN $3 = 'active' AND verified_at IS NULL THEN $6 ELSE verified_at END,
			verified_by = CASE WHEN $3 = 'active' AND verified_at IS NULL THEN $5 ELSE verified_by END
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+shopColumns,
		shopID, from, status, reason, actorID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOrInvalid(ctx, `SELECT EXISTS (SELECT 1 FROM shops WHERE id = $1)`, shopID)
	}
	return shop, err
}

func (s *Store) UpdateShopPlan(ctx context.Context, shopID string, planCode string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shops SET plan_code = $2, updated_at = $3 WHERE id = $1`, shopID, planCode, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) CountShopsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM shops GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, 4)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, user domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, shop_id, branch_id, email, name, role, password_hash, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, user.ID, user.ShopID, user.BranchID, strings.ToLower(strings.TrimSpace(user.Email)), user.Name, user.Role, user.PasswordHash, user.Active, user.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if user.ID == "" || strings.TrimSpace(user.Email) == "" {
		return store.ErrInvalid
	}
	err := insertUser(ctx, s.db, user)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

const userColumns = `id, shop_id, branch_id, email, name, role, password_hash, active, created_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.ShopID, &u.BranchID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *Store) ListUsers(ctx context.Context, shopID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE shop_id = $1 ORDER BY email`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 8)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.ID == "" || branch.ShopID == "" || branch.Name == "" {
		return nil, store.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, shop_id, name, code, location, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, branch.ID, branch.ShopID, branch.Name, branch.Code, branch.Location, branch.Active, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := branch
	return &created, nil
}

func scanBranch(row rowScanner) (*domain.Branch, error) {
	var b domain.Branch
	if err := row.Scan(&b.ID, &b.ShopID, &b.Name, &b.Code, &b.Location, &b.Active, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetBranch(ctx context.Context, shopID string, branchID string) (*domain.Branch, error) {
	return scanBranch(s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, code, location, active, created_at
		FROM branches
		WHERE shop_id = $1 AND id = $2
	`, shopID, branchID))
}

func (s *Store) ListBranches(ctx context.Context, shopID string) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, code, location, active, created_at
		FROM branches
		WHERE shop_id = $1
		ORDER BY code
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 4)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, *b)
	}
	return branches, rows.Err()
}

const productColumns = `shop_id, sku, name, category, price_cents, cost_cents, low_stock_threshold, active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ShopID, &p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.CostCents, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ShopID == "" || product.SKU == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ShopID, product.SKU, product.Name, product.Category, product.PriceCents, product.CostCents,
		product.LowStockThreshold, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, shopID string, sku string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE shop_id = $1 AND sku = $2`, shopID, sku))
}

func (s *Store) GetProductsBySKUs(ctx context.Context, shopID string, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE shop_id = $1 AND sku = ANY($2)`, shopID, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = *p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE shop_id = $1 ORDER BY category, name`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, price_cents = $5, cost_cents = $6, low_stock_threshold = $7, active = $8, updated_at = $9
		WHERE shop_id = $1 AND sku = $2
	`, product.ShopID, product.SKU, product.Name, product.Category, product.PriceCents, product.CostCents,
		product.LowStockThreshold, product.Active, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, shopID string, branchID string, sku string, delta int) (int, error) {
	var qty int
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM products WHERE shop_id = $1 AND sku = $2)
		`, shopID, sku).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_levels (shop_id, branch_id, sku, qty)
			VALUES ($1,$2,$3,0)
			ON CONFLICT (shop_id, branch_id, sku) DO NOTHING
		`, shopID, branchID, sku); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT qty FROM stock_levels
			WHERE shop_id = $1 AND branch_id = $2 AND sku = $3
			FOR UPDATE
		`, shopID, branchID, sku).Scan(&qty); err != nil {
			return err
		}
		if qty+delta < 0 {
			return store.ErrInsufficientStock
		}
		qty += delta
		_, err := tx.ExecContext(ctx, `
			UPDATE stock_levels SET qty = $4
			WHERE shop_id = $1 AND branch_id = $2 AND sku = $3
		`, shopID, branchID, sku, qty)
		return err
	})
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (s *Store) ListStock(ctx context.Context, shopID string, branchID string) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, p.sku, p.name, COALESCE(sl.qty, 0), p.low_stock_threshold
		FROM branches b
		JOIN products p ON p.shop_id = b.shop_id
		LEFT JOIN stock_levels sl ON sl.shop_id = b.shop_id AND sl.branch_id = b.id AND sl.sku = p.sku
		WHERE b.shop_id = $1 AND ($2 = '' OR b.id = $2)
		ORDER BY b.id, p.sku
	`, shopID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.BranchID, &level.SKU, &level.Name, &level.Qty, &level.LowStockThreshold); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// missingOrInvalid resolves a conditional update that touched no rows:
// ErrNotFound when the row is absent, ErrInvalid when its state did not match.
func (s *Store) missingOrInvalid(ctx context.Context, existsQuery string, args ...any) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInvalid
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func jsonValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return raw, nil
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func intPtr(val sql.NullInt64) *int {
	if !val.Valid {
		return nil
	}
	v := int(val.Int64)
	return &v
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}
