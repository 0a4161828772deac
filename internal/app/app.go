package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/onthemap/internal/api"
	"github.com/hitoshi/onthemap/internal/auth"
	"github.com/hitoshi/onthemap/internal/config"
	"github.com/hitoshi/onthemap/internal/geocode"
	"github.com/hitoshi/onthemap/internal/handler"
	"github.com/hitoshi/onthemap/internal/location"
	"github.com/hitoshi/onthemap/internal/logger"
	"github.com/hitoshi/onthemap/internal/metrics"
	"github.com/hitoshi/onthemap/internal/middleware"
	"github.com/hitoshi/onthemap/internal/security"
	"github.com/hitoshi/onthemap/internal/store"
	"github.com/hitoshi/onthemap/internal/transport"
	"github.com/hitoshi/onthemap/internal/worker/refresh"
)

// geocoderTimeout はジオコーディングAPI呼び出し1回あたりのタイムアウト。
const geocoderTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *logger.Factory, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルでサブシステムごとのロガーを構成する
	logs := logger.NewFactory(w, cfg.LoggerOptions())
	slog.SetDefault(logs.Default())

	return cfg, logs, nil
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

	cfg, logs, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	c, err := newComponents(cfg, logs)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandLocations:
		return runLocations(ctx, c, os.Stdout)
	default:
		return runServe(ctx, cfg, logs, c)
	}
}

// components はサブコマンド間で共有する依存関係をまとめた構造体。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	apiClient *api.Client
	store     *store.Store
	auth      *auth.Service
	locations *location.Service
}

// newComponents はバックエンドAPIクライアントとユースケースを組み立てる。
func newComponents(cfg *config.Config, logs *logger.Factory) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. バックエンドAPIクライアント
	// セッション削除時のXSRF-TOKENを保持するためCookie Jarを使う
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: cfg.HTTPTimeout,
	}
	tr := transport.New(httpClient, logs.Named("transport"), collector)

	apiClient, err := api.NewClient(tr, api.Config{
		BaseURL:  cfg.APIBaseURL,
		Provider: cfg.SessionProvider,
	}, logs.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	// 3. ストアと周辺サービス
	st := store.New(logs.Named("store"), collector)

	geocoder := geocode.NewClient(&http.Client{Timeout: geocoderTimeout}, geocode.Config{
		Endpoint:  cfg.GeocoderURL,
		UserAgent: cfg.GeocoderUserAgent,
		Interval:  cfg.GeocoderInterval,
	}, logs.Named("geocode"), collector)

	links := security.NewMediaLinkGuard(cfg.MediaLinkCheck, cfg.MediaLinkCheckTimeout)

	// 4. ユースケース
	authService := auth.NewService(apiClient, logs.Named("auth"))
	locationService := location.NewService(apiClient, st, geocoder, links, collector, logs.Named("location"))

	return &components{
		registry:  registry,
		collector: collector,
		apiClient: apiClient,
		store:     st,
		auth:      authService,
		locations: locationService,
	}, nil
}

// runServe はローカルAPIサーバーモードで起動する。
// REFRESH_INTERVALが設定されている場合は位置情報一覧の定期更新も行う。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, logs *logger.Factory, c *components) error {
	httpLogger := logs.Named("http")

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitPinPost),
		httpLogger,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            httpLogger,
		SessionProvider:   c.apiClient,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, Logger: httpLogger},
		RateLimiter:       rateLimiter,
		AuthService:       c.auth,
		LocationService:   c.locations,
		Sanitizer:         security.NewTextSanitizer(),
		Gatherer:          c.registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.RefreshInterval > 0 {
		scheduler := refresh.NewScheduler(c.locations, logs.Named("refresh"))
		go scheduler.Start(ctx, cfg.RefreshInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
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

// runLocations は位置情報一覧を1回取得し、更新日時の新しい順に表形式でoutへ書き出す。
func runLocations(ctx context.Context, c *components, out io.Writer) error {
	c.locations.AddRenderer(location.NewTableRenderer(out))

	if _, err := c.locations.Refresh(ctx); err != nil {
		return err
	}
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
