// Package app はサブコマンドの解析と依存コンポーネントのワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/HpilOsit/exloli-cat/internal/article"
	"github.com/HpilOsit/exloli-cat/internal/catalog"
	"github.com/HpilOsit/exloli-cat/internal/config"
	"github.com/HpilOsit/exloli-cat/internal/database"
	"github.com/HpilOsit/exloli-cat/internal/handler"
	"github.com/HpilOsit/exloli-cat/internal/imagehost"
	"github.com/HpilOsit/exloli-cat/internal/logger"
	"github.com/HpilOsit/exloli-cat/internal/metrics"
	"github.com/HpilOsit/exloli-cat/internal/middleware"
	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/notify"
	"github.com/HpilOsit/exloli-cat/internal/pipeline"
	"github.com/HpilOsit/exloli-cat/internal/repository"
	"github.com/HpilOsit/exloli-cat/internal/security"
	"github.com/HpilOsit/exloli-cat/internal/tags"
	"github.com/HpilOsit/exloli-cat/internal/worker/score"
	gallerysync "github.com/HpilOsit/exloli-cat/internal/worker/sync"
)

const (
	shutdownTimeout = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// ログレベルは設定読み込み前に使えるようLOG_LEVELから直接決定する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			fmt.Fprintln(w, fe.Message)
			return nil
		}
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if inv.Command == CommandHealthcheck {
		port := os.Getenv("ADMIN_PORT")
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
		slog.String("command", string(inv.Command)),
		slog.String("listing", cfg.CatalogListing),
		slog.String("image_host", cfg.ImageHost),
	)

	if inv.Command == CommandMigrate {
		return runMigrate(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.close()

	switch inv.Command {
	case CommandServe:
		return runServe(ctx, cfg, svc)
	case CommandUpload, CommandUpdate:
		return runSync(ctx, svc, inv)
	case CommandReupload, CommandRecheck:
		return runBatch(ctx, svc, inv)
	default:
		return runWorker(ctx, cfg, svc)
	}
}

// services はワイヤリング済みのコンポーネント一式。
type services struct {
	db       *sql.DB
	logger   *slog.Logger
	registry *prometheus.Registry
	polls    *repository.PostgresPollRepo
	gallery  *repository.PostgresGalleryRepo
	engine   *gallerysync.Engine
	scanner  *gallerysync.Scanner
	scorer   *score.Job
}

func (s *services) close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("データベース接続のクローズに失敗しました", slog.String("error", err.Error()))
	}
}

// buildServices はDB接続を開き、全依存関係をワイヤリングする。
func buildServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	svc, err := wire(ctx, cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

func wire(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) (*services, error) {
	// 2. リポジトリ
	galleries := repository.NewPostgresGalleryRepo(db)
	images := repository.NewPostgresImageRepo(db)
	pages := repository.NewPostgresPageRepo(db)
	messages := repository.NewPostgresMessageRepo(db)
	telegraphs := repository.NewPostgresTelegraphRepo(db)
	polls := repository.NewPostgresPollRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 4. カタログ
	catalogClient, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL:         cfg.CatalogBaseURL,
		Cookie:          cfg.ExhentaiCookie,
		RequestInterval: cfg.CatalogRequestInterval,
	}, &http.Client{Timeout: cfg.HTTPTimeout}, log)
	if err != nil {
		return nil, err
	}
	if err := catalogClient.Login(ctx); err != nil {
		return nil, fmt.Errorf("failed to log in to catalog: %w", err)
	}

	var lister catalog.Lister = catalogClient
	if cfg.CatalogListing == config.ListingFeed {
		lister = catalog.NewFeedLister(security.NewSafeClient(cfg.HTTPTimeout), cfg.CatalogFeedURL, log)
	}

	// 5. 画像ホスト
	var (
		uploader imagehost.Uploader
		albums   imagehost.AlbumGrouper
	)
	switch cfg.ImageHost {
	case config.ImageHostS3:
		s3, err := imagehost.NewS3Uploader(imagehost.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			KeyID:     cfg.S3KeyID,
			AccessKey: cfg.S3AccessKey,
			PublicURL: cfg.S3PublicURL,
		}, log)
		if err != nil {
			return nil, err
		}
		uploader = s3
	default:
		catbox := imagehost.NewCatboxUploader(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.CatboxUploadURL, cfg.CatboxUserhash, log)
		uploader = catbox
		if cfg.CatboxAlbum {
			albums = catbox
		}
	}

	assets := pipeline.NewAssetPipeline(catalogClient, catalogClient, uploader, images, pages, mc, log, pipeline.Config{
		Concurrency:  cfg.UploadConcurrency,
		MaxAssetSize: cfg.AssetMaxSize,
		SkipAnimated: cfg.SkipAnimated,
	})

	// 6. 記事
	telegraph := article.NewTelegraphClient(article.TelegraphConfig{
		AccessToken: cfg.TelegraphAccessToken,
		AuthorName:  cfg.TelegraphAuthorName,
		AuthorURL:   cfg.TelegraphAuthorURL,
	}, &http.Client{Timeout: cfg.HTTPTimeout}, security.NewSafeClient(cfg.HTTPTimeout), log)
	publisher := article.NewPublisher(images, telegraph, security.NewArticleSanitizer(), log)

	// 7. 通知
	trans, err := tags.Load(cfg.TagTransFile)
	if err != nil {
		return nil, err
	}
	bot, err := notify.NewBot(cfg.TelegramToken, "", &http.Client{Timeout: cfg.HTTPTimeout})
	if err != nil {
		return nil, err
	}
	channel, err := notify.NewTelegramChannel(bot, cfg.TelegramChannelID, log)
	if err != nil {
		return nil, err
	}

	// 8. 同期エンジンとワーカー
	engine := gallerysync.NewEngine(gallerysync.Deps{
		Galleries:  galleries,
		Messages:   messages,
		Telegraphs: telegraphs,
		Polls:      polls,
		Detail:     catalogClient,
		Assets:     assets,
		Publisher:  publisher,
		Checker:    telegraph,
		Composer:   notify.NewComposer(trans),
		Channel:    channel,
		Albums:     albums,
		Metrics:    mc,
	}, gallerysync.Config{
		ReuploadThreshold: cfg.ReuploadScoreThreshold,
		BatchPause:        cfg.BatchPause,
		StepPause:         cfg.BatchStepPause,
	}, log)

	scanner := gallerysync.NewScanner(engine, lister, gallerysync.ScannerConfig{
		Params:    cfg.CatalogSearchParams,
		Limit:     cfg.CatalogSearchCount,
		ItemPause: cfg.ItemPause,
	}, mc, log)

	scorer := score.NewJob(polls, mc, log, score.Config{Interval: cfg.ScoreInterval})

	return &services{
		db:       db,
		logger:   log,
		registry: registry,
		polls:    polls,
		gallery:  galleries,
		engine:   engine,
		scanner:  scanner,
		scorer:   scorer,
	}, nil
}

// newAdminServer は管理APIのHTTPサーバーを構築する。
func newAdminServer(ctx context.Context, cfg *config.Config, svc *services) (*http.Server, *handler.BatchHandler, *middleware.RateLimiter) {
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	batch := handler.NewBatchHandler(ctx, svc.engine, svc.logger)

	router := handler.NewRouter(&handler.RouterDeps{
		AdminToken:  cfg.AdminToken,
		RateLimiter: limiter,
		Logger:      svc.logger,
		DB:          svc.db,
		Metrics:     metrics.Handler(svc.registry),
		Gallery:     handler.NewGalleryHandler(svc.engine, svc.gallery, svc.polls, svc.logger),
		Batch:       batch,
	})

	server := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server, batch, limiter
}

// serveAdmin はctxがキャンセルされるまで管理APIを提供し、グレースフルシャットダウンを行う。
func serveAdmin(ctx context.Context, cfg *config.Config, svc *services) error {
	if cfg.AdminToken == "" {
		svc.logger.Warn("ADMIN_TOKENが未設定のため、管理APIの操作エンドポイントはすべて拒否されます")
	}

	server, batch, limiter := newAdminServer(ctx, cfg, svc)
	defer limiter.Stop()

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("admin API starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("admin API listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.logger.Info("shutting down admin API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// バックグラウンドのバッチはctxのキャンセルで停止する
	batch.Wait()

	svc.logger.Info("admin API stopped gracefully")
	return nil
}

// runServe は管理APIのみを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, svc *services) error {
	return serveAdmin(ctx, cfg, svc)
}

// runWorker はワーカーモードで起動する。
// 定期スキャンとスコア再計算、管理APIを並行して実行し、シグナル受信で全体を停止する。
func runWorker(ctx context.Context, cfg *config.Config, svc *services) error {
	svc.logger.Info("worker starting",
		slog.Duration("scan_interval", cfg.ScanInterval),
		slog.Duration("score_interval", cfg.ScoreInterval),
		slog.Int("upload_concurrency", cfg.UploadConcurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.scorer.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return serveAdmin(gctx, cfg, svc)
	})
	g.Go(func() error {
		// スキャナーをブロッキング実行
		svc.scanner.Start(gctx, cfg.ScanInterval)
		return nil
	})

	err := g.Wait()
	svc.logger.Info("worker stopped gracefully")
	return err
}

// runSync はコマンドラインで指定したギャラリーを順番にアップロード・再チェックする。
// 1件の失敗で中断せず、最後に失敗件数を返す。
func runSync(ctx context.Context, svc *services, inv *Invocation) error {
	gated := !inv.Force
	var failed int
	for _, raw := range inv.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref, err := model.ParseGalleryURL(raw)
		if err != nil {
			svc.logger.Error("ギャラリーURLが不正です", slog.String("url", raw), slog.String("error", err.Error()))
			failed++
			continue
		}

		if inv.Command == CommandUpload {
			err = svc.engine.TryUpload(ctx, ref, gated)
		} else {
			err = svc.engine.TryUpdate(ctx, ref, gated)
		}
		if err != nil {
			svc.logger.Error("ギャラリーの同期に失敗しました",
				slog.String("command", string(inv.Command)),
				slog.Int64("gallery_id", ref.ID),
				slog.String("stage", string(model.StageOf(err))),
				slog.String("error", err.Error()),
			)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%s failed for %d of %d galleries", inv.Command, failed, len(inv.URLs))
	}
	return nil
}

// runBatch は保守用バッチを同期実行する。
func runBatch(ctx context.Context, svc *services, inv *Invocation) error {
	var err error
	if inv.Command == CommandReupload {
		err = svc.engine.BatchReupload(ctx, inv.IDs)
	} else {
		err = svc.engine.BatchRecheck(ctx, inv.IDs)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", inv.Command, err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
