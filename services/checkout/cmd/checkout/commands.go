package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/Skotchmaster/online_pharmacy/pkg/authclient"
	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/middleware/csrf"
	loggingmw "github.com/Skotchmaster/online_pharmacy/pkg/middleware/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/middleware/metrics"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/config"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/httpserver"
)

func serveCommand(cfg *config.Config) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the checkout HTTP API and the abandoned-payment sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.MustValidate()
			return serve(cmd.Context(), cfg, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "auto-migrate tables before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrateFirst bool) error {
	l := logging.New(cfg.LogLevel, cfg.LogFile).With("service", cfg.ServiceName)
	ctx = logging.IntoContext(ctx, l)

	a, err := buildApp(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer a.close(l)

	if migrateFirst {
		if err := migrate(a.db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(loggingmw.RequestLogger(l))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORS())
	e.Use(echomw.Secure())
	if cfg.CSRFEnabled {
		e.Use(csrf.Middleware(csrf.Config{
			Secure:    cfg.CookieSecure,
			SkipPaths: []string{"/payments/webhook", "/health/live", "/health/ready", "/metrics"},
		}))
	}

	deps := &httpserver.Deps{
		Orders: &httpserver.OrderHTTP{Svc: a.orders},
		Payments: &httpserver.PaymentHTTP{
			Svc:              a.payments,
			WebhookSecret:    cfg.WebhookSecret,
			WebhookTolerance: cfg.WebhookTolerance,
		},
		Coupons:   &httpserver.CouponHTTP{Svc: a.coupons},
		JWTSecret: cfg.JWTAccessSecret,
		Ready: func() error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return sqlDB.PingContext(pctx)
		},
	}
	if cfg.AuthHTTPURL != "" {
		deps.AuthClient = authclient.NewClient(cfg.AuthHTTPURL)
	}
	if a.invoices != nil {
		deps.Invoices = &httpserver.InvoiceHTTP{Index: a.invoices}
	}
	httpserver.Register(e, deps)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweeps(runCtx, a, cfg.SweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		l.Info("server_starting", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			<-sweepDone
			return fmt.Errorf("echo start: %w", err)
		}
	}
	l.Info("server_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Warn("echo_shutdown_failed", "error", err)
	}
	<-sweepDone
	l.Info("server_stopped")
	return nil
}

func runSweeps(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.FromContext(ctx).Error("sweep_failed", "error", err)
			}
		}
	}
}

func sweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "cancel orders left unpaid past PAYMENT_ABANDON_AFTER and restore their stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.MustValidate()
			l := logging.New(cfg.LogLevel, cfg.LogFile).With("service", cfg.ServiceName, "command", "sweep")
			ctx := logging.IntoContext(cmd.Context(), l)

			a, err := buildApp(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer a.close(l)

			res, err := a.sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d cancelled=%d settled=%d skipped=%d\n",
				res.Scanned, res.Cancelled, res.Settled, res.Skipped)
			return nil
		},
	}
}

func migrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the checkout tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := gdb.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()
			if err := migrate(gdb); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}
