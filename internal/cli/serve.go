package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/salah-ledger/salah/internal/api"
	"github.com/salah-ledger/salah/internal/app/streakjob"
	"github.com/salah-ledger/salah/internal/daemon"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/infra/sqlite"
	"github.com/salah-ledger/salah/internal/resilience"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default [auth].token_ttl)")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the store server",
	Long: `Run the HTTP store server over the SQLite database in [store].dir.
Clients point [sync].remote_url at it. When [streak].enabled is set the
nightly streak batch runs on [streak].schedule.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := daemon.NewLogger(cfg.Log, cmd.ErrOrStderr())

	db, err := sqlite.Open(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if cfg.Store.MaxAttempts > 0 {
		db.MaxAttempts = cfg.Store.MaxAttempts
	}

	srv := api.NewServer(db, logger)
	srv.SetRequestTimeout(daemon.Duration(cfg.API.RequestTimeout, 30*time.Second))
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	if cfg.Auth.JWTSecret != "" {
		srv.SetAuth(api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	} else {
		logger.Warn("auth disabled: set [auth].jwt_secret to require bearer tokens")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Streak.Enabled {
		resolver := daybound.NewResolver(cfg.Sync.FallbackTimezone)
		retrier := resilience.NewRetrier(cfg.Retry.Policy(), logger)
		job := streakjob.New(db, streakjob.Config{
			MinCompleted: cfg.Streak.MinCompleted,
			LookbackDays: cfg.Streak.LookbackDays,
		}, retrier, resolver, logger)
		sched, err := streakjob.NewScheduler(job, db, cfg.Streak.Schedule,
			resolver.Location(cfg.Streak.Timezone), daemon.Duration(cfg.Streak.RunTimeout, 10*time.Minute))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
		logger.Info("streak batch scheduled", "schedule", cfg.Streak.Schedule, "next", sched.Next())
	}

	httpSrv := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("store server listening", "addr", httpSrv.Addr, "dir", cfg.Store.Dir)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token USER",
	Short: "Issue a bearer token for USER",
	Long:  `Sign a bearer token with [auth].jwt_secret. Clients set it as [sync].token.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("[auth].jwt_secret (or SALAH_JWT_SECRET) is not set")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = daemon.Duration(cfg.Auth.TokenTTL, 720*time.Hour)
	}

	token, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
