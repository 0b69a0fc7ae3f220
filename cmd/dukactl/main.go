// Command dukactl runs SmartDuka maintenance tasks against the configured
// database: schema migration, operator provisioning and the billing and
// payment jobs the server otherwise runs on a timer.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"smartduka/backend/internal/app"
	"smartduka/backend/internal/config"
	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/logger"
)

var Version = "dev"

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	lc := logger.DefaultConfig()
	lc.Level, lc.Format = cfg.LogLevel, cfg.LogFormat
	if err := logger.Init(lc); err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dukactl",
		Short:         "SmartDuka maintenance commands",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(createSuperAdminCmd())
	root.AddCommand(sweepPaymentsCmd())
	root.AddCommand(generateInvoicesCmd())
	root.AddCommand(markOverdueCmd())
	return root
}

// withApp opens the backends for one command and closes them afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(app.SystemContext(ctx), a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func createSuperAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-super-admin",
		Short: "Provision a platform operator account",
		Long: `Provision a platform operator account.

The password may be passed with --password or through DUKACTL_PASSWORD so it
stays out of shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("DUKACTL_PASSWORD")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				user, err := a.Service.CreateSuperAdmin(ctx, email, name, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created super admin %s (%s)\n", user.Email, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&name, "name", "Platform Admin", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password, at least 12 characters")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func sweepPaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-payments",
		Short: "Resolve M-Pesa payments stuck in pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.SweepPendingPayments(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %d pending payments\n", n)
				return nil
			})
		},
	}
}

func generateInvoicesCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "generate-invoices",
		Short: "Bill every active subscription for a month",
		Example: `  dukactl generate-invoices
  dukactl generate-invoices --period 2026-09`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if period == "" {
				period = previousPeriod(time.Now())
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.GenerateInvoices(ctx, period)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "period %s: created %d, skipped %d\n", resp.Period, len(resp.Created), resp.Skipped)
				for _, inv := range resp.Created {
					fmt.Fprintf(out, "  %s  %s  %d\n", inv.Number, inv.ShopID, inv.TotalCents)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM (default: last month)")
	return cmd
}

func markOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-overdue",
		Short: "Flag unpaid invoices past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.MarkOverdueInvoices(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d invoices overdue\n", n)
				return nil
			})
		},
	}
}

// previousPeriod is the month before now in shop-local time.
func previousPeriod(now time.Time) string {
	local := now.In(discount.Location)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, discount.Location)
	return first.AddDate(0, -1, 0).Format("2006-01")
}
