package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/timeclock/internal/auth"
	"github.com/hitoshi/timeclock/internal/config"
	"github.com/hitoshi/timeclock/internal/database"
	"github.com/hitoshi/timeclock/internal/handler"
	"github.com/hitoshi/timeclock/internal/logger"
	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/notify"
	"github.com/hitoshi/timeclock/internal/record"
	"github.com/hitoshi/timeclock/internal/repository"
	"github.com/hitoshi/timeclock/internal/security"
	"github.com/hitoshi/timeclock/internal/worker/anomaly"
	"github.com/hitoshi/timeclock/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
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

	if len(args) > 0 {
		if _, ok := LookupCommand(args[0]); !ok {
			slog.Warn("unknown command, starting API server", slog.String("command", args[0]))
		}
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
		slog.String("display_timezone", cfg.DisplayTimezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores はストア種別に応じて構築したリポジトリ群。
type stores struct {
	events      repository.EventStore
	users       repository.UserRepository
	audits      repository.AuditRepository
	revocations repository.TokenRevocationRepository
	db          *sql.DB // インメモリストアの場合はnil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openStores はSTORE_DRIVERに応じてリポジトリを構築する。
// postgresの場合はDB接続を開き、疎通を確認する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UsesMemoryStore() {
		slog.Warn("using in-memory store; data is lost on restart")
		return &stores{
			events:      repository.NewMemoryStampRepo(),
			users:       repository.NewMemoryUserRepo(),
			audits:      repository.NewMemoryAuditRepo(),
			revocations: repository.NewMemoryRevocationRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	return &stores{
		events:      repository.NewPostgresStampRepo(db),
		users:       repository.NewPostgresUserRepo(db),
		audits:      repository.NewPostgresAuditRepo(db),
		revocations: repository.NewPostgresRevocationRepo(db),
		db:          db,
	}, nil
}

// newMetrics はプロセス専用のレジストリにメトリクスを登録する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newNotifier は不整合通知の送信先を構築する。送信先が未設定の場合は通知しない。
// 送信先URLは起動時に検証し、内部ネットワーク宛てであればエラーにする。
func newNotifier(cfg *config.Config, recorder notify.Recorder) (notify.Notifier, error) {
	if cfg.AnomalyWebhookURL == "" {
		return notify.Discard{}, nil
	}
	guard := security.NewWebhookGuard()
	if err := guard.ValidateEndpoint(cfg.AnomalyWebhookURL); err != nil {
		return nil, fmt.Errorf("invalid ANOMALY_WEBHOOK_URL: %w", err)
	}
	return notify.NewWebhookClient(
		guard.NewClient(cfg.WebhookTimeout),
		cfg.AnomalyWebhookURL,
		recorder,
		slog.Default(),
	), nil
}

// newRecordService は打刻サービスを構築する。
func newRecordService(cfg *config.Config, st *stores, collector metrics.MetricsCollector, notifier notify.Notifier) *record.Service {
	return record.NewService(st.events, st.audits, record.Options{
		Location:     cfg.DisplayLocation(),
		MaxOpenShift: cfg.MaxOpenShift,
		Sanitizer:    security.NewTextSanitizer(),
		Metrics:      collector,
		Notifier:     notifier,
		Logger:       slog.Default(),
	})
}

// newScanJob は不整合スキャンジョブを構築する。
func newScanJob(cfg *config.Config, svc *record.Service, notifier notify.Notifier, collector metrics.MetricsCollector) *anomaly.ScanJob {
	return anomaly.NewScanJob(svc, notifier, collector, slog.Default(), anomaly.Config{
		Interval: cfg.AnomalyScanInterval,
	})
}

// newRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 返り値のRateLimiterは呼び出し側でStopすること。
func newRouter(cfg *config.Config, st *stores, reg *prometheus.Registry, collector *metrics.Collector, recordSvc *record.Service) (http.Handler, *middleware.RateLimiter) {
	authSvc := auth.NewService(st.users, st.revocations, auth.ServiceConfig{
		Secret:           []byte(cfg.JWTSecret),
		TokenTTL:         cfg.TokenTTL,
		BcryptCost:       cfg.BcryptCost,
		AllowAdminSignup: cfg.AllowAdminSignup,
	})

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitStamp))

	deps := &handler.RouterDeps{
		TokenVerifier:     authSvc,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusObserver:    collector,
		MetricsHandler:    metrics.Handler(reg),

		AuthService:   authSvc,
		RecordService: recordSvc,
		ShiftService:  recordSvc,
		AdminService:  recordSvc,
	}
	if st.db != nil {
		deps.HealthChecker = st.db
	}
	return handler.NewRouter(deps), rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, collector := newMetrics()
	notifier, err := newNotifier(cfg, collector)
	if err != nil {
		return err
	}
	recordSvc := newRecordService(cfg, st, collector, notifier)

	router, rateLimiter := newRouter(cfg, st, reg, collector, recordSvc)
	defer rateLimiter.Stop()

	// インメモリストアは別プロセスのworkerと共有できないため、スキャンをサーバー内で実行する
	if cfg.UsesMemoryStore() {
		go newScanJob(cfg, recordSvc, notifier, collector).Start(ctx)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 不整合スキャンジョブと日次のクリーンアップジョブを実行する。
// ctxがキャンセルされる（SIGINT/SIGTERM）と停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		return errors.New("worker requires STORE_DRIVER=postgres; the in-memory store runs its scan inside serve")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// ワーカーのメトリクスはログで確認する（スクレイプ対象はAPIサーバー）
	_, collector := newMetrics()
	notifier, err := newNotifier(cfg, collector)
	if err != nil {
		return err
	}
	recordSvc := newRecordService(cfg, st, collector, notifier)

	cleanupJob := cleanup.NewCleanupJob(st.db, slog.Default())
	cleanupJob.RetentionDays = cfg.AuditRetentionDays

	slog.Info("worker starting",
		slog.Duration("scan_interval", cfg.AnomalyScanInterval),
		slog.Int("audit_retention_days", cfg.AuditRetentionDays),
		slog.Bool("webhook_enabled", cfg.AnomalyWebhookURL != ""),
	)

	// クリーンアップジョブを起動直後に1回実行し、以降は日次でバックグラウンド実行
	go func() {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx)
	}()

	// 不整合スキャンをメインgoroutineで実行（ブロッキング）
	newScanJob(cfg, recordSvc, notifier, collector).Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		slog.Info("in-memory store has no migrations to apply")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
