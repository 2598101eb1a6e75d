package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echonote/echonote-api/internal/auth"
	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/delivery"
	"github.com/echonote/echonote-api/internal/logging"
	"github.com/echonote/echonote-api/internal/otp"
	"github.com/echonote/echonote-api/internal/ratelimit"
	"github.com/echonote/echonote-api/internal/store"
	"github.com/echonote/echonote-api/internal/token"
	transporthttp "github.com/echonote/echonote-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	ctx := context.Background()

	redisClient := store.NewClient(cfg)
	if err := store.Ping(ctx, redisClient, 5*time.Second); err != nil {
		// Not fatal: the limiter fails open and auth flows surface their
		// own errors per operation.
		log.Warn(ctx, "redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	userRepo := store.NewUserRepo(redisClient)

	tokenSvc, err := token.NewService(redisClient, token.Config{
		AccessSecret:  []byte(cfg.Token.AccessSecret),
		RefreshSecret: []byte(cfg.Token.RefreshSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
	}, userRepo, log)
	if err != nil {
		log.Error(ctx, "token service init failed", "error", err)
		os.Exit(1)
	}

	otpEngine := otp.NewEngine(redisClient, otp.Config{
		Digits:      cfg.OTP.Digits,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	})

	deliverer := delivery.NewTelegramDeliverer(redisClient, cfg.DeliveryTimeout)
	authSvc := auth.NewService(userRepo, otpEngine, tokenSvc, deliverer, cfg.TelegramBotURL, log)

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		DefaultLimit: cfg.Rate.DefaultLimit,
		Window:       cfg.Rate.Window,
		ViolationTTL: cfg.Rate.ViolationTTL,
		BanThreshold: cfg.Rate.BanThreshold,
		BanDuration:  cfg.Rate.BanDuration,
	}, transporthttp.RouteLimits(), log)

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		AuthService:  authSvc,
		TokenService: tokenSvc,
		Limiter:      limiter,
		Users:        userRepo,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info(ctx, "server starting", "addr", srv.Addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "graceful shutdown failed", "error", err)
	}
	_ = redisClient.Close()
}
