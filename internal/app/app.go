// Package app wires the configured backends into a Service. The HTTP server
// and the dukactl CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/auditsink"
	"smartduka/backend/internal/cache"
	"smartduka/backend/internal/config"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
	"smartduka/backend/internal/mpesa"
	"smartduka/backend/internal/service"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/store/memory"
	pgstore "smartduka/backend/internal/store/postgres"
	"smartduka/backend/internal/xid"
)

type App struct {
	Config  config.Config
	Repo    store.Repository
	Service *service.Service
	Backend string

	closers []func(context.Context) error
	log     *logrus.Entry
}

// Open connects the repository, cache and audit sink named in cfg. A set
// DATABASE_URL that cannot be reached is fatal; Redis and Mongo fall back to
// no-op implementations.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, log: logger.For("app")}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		a.addCloser(func(context.Context) error { return pg.Close() })
		if cfg.AutoMigrate {
			if err := pg.Migrate(connectCtx); err != nil {
				_ = a.Close(ctx)
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		a.Repo, a.Backend = pg, "postgres"
	} else {
		a.Repo, a.Backend = memory.NewSeeded(), "memory"
	}
	a.log.WithField("backend", a.Backend).Info("repository ready")

	var jsonCache cache.JSONCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(connectCtx); err != nil {
			a.log.WithError(err).Warn("redis unavailable, caching and query throttling disabled")
			_ = redisCache.Close()
		} else {
			jsonCache = redisCache
			a.addCloser(func(context.Context) error { return redisCache.Close() })
			a.log.Info("cache: redis")
		}
	}

	var sink auditsink.Sink = auditsink.Noop{}
	if cfg.AuditMongoURI != "" {
		mongoSink, err := auditsink.NewMongo(connectCtx, cfg.AuditMongoURI, cfg.AuditMongoDB)
		if err != nil {
			a.log.WithError(err).Warn("mongo audit sink unavailable, audit stays in the primary store only")
		} else {
			sink = mongoSink
			a.addCloser(mongoSink.Close)
			a.log.WithField("db", cfg.AuditMongoDB).Info("audit sink: mongo")
		}
	}

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
	}, nil)
	if !gateway.Enabled() {
		a.log.Warn("mpesa credentials missing, STK push disabled")
	}

	a.Service = service.New(a.Repo, service.Deps{
		Cache:    jsonCache,
		Audit:    sink,
		Payments: gateway,
	}, service.Options{
		DefaultTaxRatePercent:          cfg.DefaultTaxRatePercent,
		DiscountApprovalThresholdCents: cfg.DiscountApprovalThresholdCents,
		StatsCacheTTL:                  cfg.StatsCacheTTL,
		MpesaQueryInterval:             cfg.Mpesa.QueryInterval,
		MpesaPendingTimeout:            cfg.Mpesa.PendingTimeout,
	})
	return a, nil
}

// Migrate applies the schema when the repository is Postgres.
func (a *App) Migrate(ctx context.Context) error {
	pg, ok := a.Repo.(*pgstore.Store)
	if !ok {
		return errors.New("migrate needs DATABASE_URL")
	}
	return pg.Migrate(ctx)
}

// EnsureSuperAdmin creates the configured platform operator unless the email
// is already registered.
func (a *App) EnsureSuperAdmin(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	if _, err := a.Repo.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	user, err := a.Service.CreateSuperAdmin(SystemContext(ctx), email, "Platform Admin", password)
	if err != nil {
		return err
	}
	a.log.WithField("email", user.Email).Info("super admin seeded")
	return nil
}

// SystemContext carries a super-admin actor for jobs started outside HTTP.
func SystemContext(ctx context.Context) context.Context {
	return service.WithActor(ctx, domain.Actor{
		UserID: xid.New("system"),
		Name:   "system",
		Role:   domain.RoleSuperAdmin,
	})
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
