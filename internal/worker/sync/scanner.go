package gallerysync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/HpilOsit/exloli-cat/internal/catalog"
	"github.com/HpilOsit/exloli-cat/internal/metrics"
	"github.com/HpilOsit/exloli-cat/internal/model"
)

// Syncer はスキャン対象のギャラリーを1件ずつ処理するインターフェース。
type Syncer interface {
	TryUpdate(ctx context.Context, ref model.GalleryURL, gated bool) error
	TryUpload(ctx context.Context, ref model.GalleryURL, gated bool) error
}

// ScannerConfig はScannerの設定。
type ScannerConfig struct {
	// Params はカタログ一覧の検索条件。
	Params url.Values
	// Limit は1サイクルで処理する最大件数。
	Limit int
	// ItemPause はギャラリー間の最小間隔。
	ItemPause time.Duration
}

// Scanner は一定間隔でカタログの最新一覧を取得し、各ギャラリーを順番に同期する。
// ギャラリーの処理は並行させない（親の通知が子より先に送られるようにするため）。
type Scanner struct {
	syncer  Syncer
	lister  catalog.Lister
	cfg     ScannerConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewScanner はScannerを生成する。
func NewScanner(syncer Syncer, lister catalog.Lister, cfg ScannerConfig, mc metrics.MetricsCollector, logger *slog.Logger) *Scanner {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Scanner{syncer: syncer, lister: lister, cfg: cfg, metrics: mc, logger: logger}
}

// Start はintervalごとにスキャンサイクルを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スキャンを開始しました",
		slog.Duration("interval", interval),
		slog.Int("limit", s.cfg.Limit),
	)

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スキャンサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スキャンを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スキャンサイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は1回のスキャンサイクルを実行する。
// 各ギャラリーについて更新確認、アップロードの順に試み、失敗はログに記録して次に進む。
func (s *Scanner) RunOnce(ctx context.Context) error {
	start := time.Now()
	logger := s.logger.With(slog.String("cycle_id", uuid.NewString()))
	logger.Info("スキャンサイクルを開始します")

	limiter := rate.NewLimiter(rate.Every(s.cfg.ItemPause), 1)
	it := catalog.NewIterator(s.lister, s.cfg.Params, s.cfg.Limit, logger)

	processed := 0
	for {
		ref, ok := it.Next(ctx)
		if !ok {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		s.process(ctx, logger, ref)
		processed++
	}

	duration := time.Since(start)
	s.metrics.RecordCycleDuration(duration)
	logger.Info("スキャンサイクルが完了しました",
		slog.Int("galleries", processed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if err := it.Err(); err != nil {
		return fmt.Errorf("一覧の取得が途中で終了しました: %w", err)
	}
	return nil
}

// process は1件のギャラリーを処理する。パニックも含めて失敗を呼び出し元に伝播させない。
func (s *Scanner) process(ctx context.Context, logger *slog.Logger, ref model.GalleryURL) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordSyncFailure("panic")
			logger.Error("ギャラリーの処理中にパニックが発生しました",
				slog.Int64("gallery_id", ref.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := s.syncer.TryUpdate(ctx, ref, true); err != nil {
		s.logFailure(logger, "ギャラリーの更新に失敗しました", ref.ID, err)
	}
	if err := s.syncer.TryUpload(ctx, ref, true); err != nil {
		s.logFailure(logger, "ギャラリーのアップロードに失敗しました", ref.ID, err)
	}
}

func (s *Scanner) logFailure(logger *slog.Logger, msg string, galleryID int64, err error) {
	stage := model.StageOf(err)
	s.metrics.RecordSyncFailure(string(stage))
	logger.Error(msg,
		slog.Int64("gallery_id", galleryID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
		slog.String("stack", string(debug.Stack())),
	)
}
