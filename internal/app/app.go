package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/propquant/courier/internal/config"
	"github.com/propquant/courier/internal/delivery"
	"github.com/propquant/courier/internal/discord"
	"github.com/propquant/courier/internal/handler"
	"github.com/propquant/courier/internal/licensing"
	"github.com/propquant/courier/internal/logger"
	"github.com/propquant/courier/internal/metrics"
	"github.com/propquant/courier/internal/middleware"
	"github.com/propquant/courier/internal/notify"
	"github.com/propquant/courier/internal/security"
	"github.com/propquant/courier/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandSweep:
		return runSweep(cfg)
	default:
		return runServe(cfg)
	}
}

// deps はワイヤリング済みの共有依存関係。
type deps struct {
	collector     *metrics.Collector
	registry      *prometheus.Registry
	urlGuard      security.URLGuardService
	composer      *notify.Composer
	discordClient *discord.Client
	botUser       *discord.User
}

// buildDeps は共有依存関係をワイヤリングし、Discordへの接続を確認する。
// Bot資格情報が無効な場合はここでエラーを返す（起動に失敗させる）。
func buildDeps(cfg *config.Config) (*deps, error) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	urlGuard := security.NewURLGuard()
	sanitizer := security.NewTextSanitizer()
	composer := notify.NewComposer(sanitizer)

	discordClient := discord.NewClient(
		urlGuard.NewSafeClient(cfg.ProviderTimeout),
		slog.Default(),
		cfg.BotToken,
		collector,
	)

	// 起動時の到達性確認。資格情報が不正なまま待ち受けを開始しない。
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	botUser, err := discordClient.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Discord: %w", err)
	}

	slog.Info("discord connection established",
		slog.String("bot", botUser.Tag()),
	)

	return &deps{
		collector:     collector,
		registry:      registry,
		urlGuard:      urlGuard,
		composer:      composer,
		discordClient: discordClient,
		botUser:       botUser,
	}, nil
}

// newSweepJob はライセンス巡回ジョブをワイヤリングする。
func newSweepJob(cfg *config.Config, d *deps) *sweep.Job {
	licenseClient := licensing.NewClient(
		d.urlGuard.NewSafeClient(cfg.ProviderTimeout),
		slog.Default(),
		cfg.LicenseAPIURL,
		cfg.LicenseAPIKey,
	)

	return sweep.NewJob(licenseClient, d.discordClient, d.composer, d.collector, slog.Default(), sweep.Config{
		GuildID:            cfg.GuildID,
		PlanRoleIDs:        cfg.PlanRoleIDs,
		ReminderWindowDays: cfg.ReminderWindowDays,
		ProviderTimeout:    cfg.ProviderTimeout,
	})
}

// runServe は配信APIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーと巡回スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}

	deliveryService := delivery.NewService(
		d.discordClient, d.composer, d.urlGuard, d.collector, slog.Default(),
		delivery.Config{
			GuildID:         cfg.GuildID,
			BotUserID:       d.botUser.ID,
			PlanRoleIDs:     cfg.PlanRoleIDs,
			InviteMaxAge:    cfg.InviteMaxAge,
			ProviderTimeout: cfg.ProviderTimeout,
		},
	)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitDeliver))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		RateLimiter:     rateLimiter,
		DeliveryService: deliveryService,
		BotIdentity:     d.botUser.Tag,
		StartedAt:       time.Now(),
		Gatherer:        d.registry,
	})

	// 巡回スケジューラ。ライセンスAPIが未設定の場合は起動しない。
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SweepEnabled() {
		scheduler := sweep.NewScheduler(newSweepJob(cfg, d), slog.Default(), cfg.SweepHour, cfg.SweepMinute)
		go scheduler.Start(ctx)
	} else {
		slog.Info("license sweep disabled: LICENSE_API_URL or LICENSE_API_KEY not set")
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSweep はライセンス巡回を1回だけ実行して終了する。
func runSweep(cfg *config.Config) error {
	if !cfg.SweepEnabled() {
		return fmt.Errorf("license sweep requires LICENSE_API_URL and LICENSE_API_KEY")
	}

	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := newSweepJob(cfg, d).Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	slog.Info("sweep completed",
		slog.Int("processed", report.Processed),
		slog.Int("reminded", report.Reminded),
		slog.Int("revoked", report.Revoked),
		slog.Int("failed", report.Failed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
