package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/imagehost"
	"github.com/HpilOsit/exloli-cat/internal/metrics"
	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/repository"
)

// Resolver はページから画像の実URLとfileindexを解決するインターフェース。
type Resolver interface {
	ResolveAsset(ctx context.Context, page model.PageURL) (int64, string, error)
}

// Fetcher は解決済みURLから画像のバイト列を取得するインターフェース。
type Fetcher interface {
	FetchAsset(ctx context.Context, rawURL string, maxSize int64) ([]byte, error)
}

// Config はアセットパイプラインの設定。
type Config struct {
	// Concurrency はコンシューマー数。チャネル容量はその2倍になる。
	Concurrency int
	// MaxAssetSize は1画像あたりの最大バイト数。0以下は無制限。
	MaxAssetSize int64
	// SkipAnimated がtrueの場合、GIF画像は取得も再ホストもせずスキップする。
	SkipAnimated bool
}

// SyncResult は1ギャラリー分の同期結果。
type SyncResult struct {
	Reused   int
	Uploaded int
	Skipped  int
	// UploadedURLs は今回新たに再ホストした画像のURL（到着順）。
	UploadedURLs []string
}

// resolved はステージAで解決済みのページ。
type resolved struct {
	page      model.PageURL
	fileIndex int64
	url       string
}

// AssetPipeline はギャラリーの全ページを画像に紐づける。
// ハッシュが既知のページは通信せずに紐づけ、未知のページのみ解決・取得・再ホストする。
type AssetPipeline struct {
	resolver Resolver
	fetcher  Fetcher
	uploader imagehost.Uploader
	images   repository.ImageRepository
	pages    repository.PageRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	cfg      Config
}

// NewAssetPipeline はAssetPipelineを生成する。
func NewAssetPipeline(
	resolver Resolver,
	fetcher Fetcher,
	uploader imagehost.Uploader,
	images repository.ImageRepository,
	pages repository.PageRepository,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *AssetPipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AssetPipeline{
		resolver: resolver,
		fetcher:  fetcher,
		uploader: uploader,
		images:   images,
		pages:    pages,
		metrics:  mc,
		logger:   logger,
		cfg:      cfg,
	}
}

// Sync はギャラリーの全ページについてPage行が画像に紐づいた状態にする。
// 途中で失敗した場合は単一のエラーを返すが、処理済みの画像とページは残る。
func (p *AssetPipeline) Sync(ctx context.Context, g *model.Gallery) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	var unknown []model.PageURL
	// 同一ギャラリー内で同じハッシュが複数回現れる場合は最初の1ページだけを処理する
	duplicates := make(map[string][]model.PageURL)

	for _, page := range g.Pages {
		if _, queued := duplicates[page.Hash]; queued {
			duplicates[page.Hash] = append(duplicates[page.Hash], page)
			continue
		}

		img, err := p.images.FindByHash(ctx, page.Hash)
		if err != nil {
			return result, model.NewSyncError(model.StageStorage, g.ID, err)
		}
		if img == nil {
			unknown = append(unknown, page)
			duplicates[page.Hash] = nil
			continue
		}
		if err := p.bind(ctx, g.ID, page, img.Hash); err != nil {
			return result, err
		}
		result.Reused++
	}
	p.metrics.RecordAssetsReused(result.Reused)

	p.logger.Info("アセットの同期を開始します",
		slog.Int64("gallery_id", g.ID),
		slog.Int("pages", len(g.Pages)),
		slog.Int("reused", result.Reused),
		slog.Int("unknown", len(unknown)),
	)

	var mu sync.Mutex
	err := Run(ctx, 2*p.cfg.Concurrency, p.cfg.Concurrency,
		func(ctx context.Context, send func(resolved) error) error {
			for _, page := range unknown {
				idx, src, err := p.resolver.ResolveAsset(ctx, page)
				if err != nil {
					return model.NewSyncError(model.StageAsset, g.ID,
						fmt.Errorf("ページ%dの解決に失敗しました: %w", page.Page, err))
				}
				if err := send(resolved{page: page, fileIndex: idx, url: src}); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, r resolved) error {
			u, skipped, err := p.process(ctx, g.ID, r)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if skipped {
				result.Skipped++
				return nil
			}
			result.Uploaded++
			result.UploadedURLs = append(result.UploadedURLs, u)
			return nil
		},
	)
	if err != nil {
		return result, err
	}

	for hash, pages := range duplicates {
		if len(pages) == 0 {
			continue
		}
		img, err := p.images.FindByHash(ctx, hash)
		if err != nil {
			return result, model.NewSyncError(model.StageStorage, g.ID, err)
		}
		if img == nil {
			// スキップされた画像
			continue
		}
		for _, page := range pages {
			if err := p.bind(ctx, g.ID, page, hash); err != nil {
				return result, err
			}
			result.Reused++
		}
	}

	p.metrics.RecordPipelineLatency(time.Since(start))
	p.logger.Info("アセットの同期が完了しました",
		slog.Int64("gallery_id", g.ID),
		slog.Int("reused", result.Reused),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// process は解決済みのページ1件を取得・再ホストし、画像とページを保存する。
func (p *AssetPipeline) process(ctx context.Context, galleryID int64, r resolved) (string, bool, error) {
	ext := Extension(r.url)
	if p.cfg.SkipAnimated && ext == "gif" {
		p.metrics.RecordAssetSkipped()
		p.logger.Info("アニメーション画像をスキップしました",
			slog.Int64("gallery_id", galleryID),
			slog.Int("page", r.page.Page),
		)
		return "", true, nil
	}

	data, err := p.fetcher.FetchAsset(ctx, r.url, p.cfg.MaxAssetSize)
	if err != nil {
		return "", false, model.NewSyncError(model.StageAsset, galleryID,
			fmt.Errorf("ページ%dの取得に失敗しました: %w", r.page.Page, err))
	}

	filename := r.page.Hash + "." + ext
	u, err := p.uploader.Upload(ctx, filename, data)
	if err != nil {
		return "", false, model.NewSyncError(model.StageAsset, galleryID, err)
	}

	img := &model.Image{Hash: r.page.Hash, FileIndex: r.fileIndex, URL: u}
	if err := p.images.Create(ctx, img); err != nil {
		return "", false, model.NewSyncError(model.StageStorage, galleryID, err)
	}
	if err := p.bind(ctx, galleryID, r.page, img.Hash); err != nil {
		return "", false, err
	}

	p.metrics.RecordAssetUploaded()
	p.logger.Debug("画像を再ホストしました",
		slog.Int64("gallery_id", galleryID),
		slog.Int("page", r.page.Page),
		slog.String("url", u),
	)
	return u, false, nil
}

func (p *AssetPipeline) bind(ctx context.Context, galleryID int64, page model.PageURL, hash string) error {
	err := p.pages.Create(ctx, &model.Page{GalleryID: galleryID, Page: page.Page, ImageHash: hash})
	return model.NewSyncError(model.StageStorage, galleryID, err)
}

// Extension はURLのパスから小文字の拡張子を返す。拡張子がない場合は "jpg"。
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}
