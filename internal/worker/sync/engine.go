// Package gallerysync はギャラリーの同期判定（新規アップロード・更新・再公開）と
// 定期スキャン、保守用のバッチ処理を提供する。
package gallerysync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/imagehost"
	"github.com/HpilOsit/exloli-cat/internal/metrics"
	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/notify"
	"github.com/HpilOsit/exloli-cat/internal/pipeline"
	"github.com/HpilOsit/exloli-cat/internal/repository"
)

var (
	// ErrArticleMissing はギャラリーに記事参照が保存されていない場合のエラー。
	ErrArticleMissing = errors.New("記事参照が保存されていません")

	// ErrGalleryNotFound は指定IDのギャラリーが保存されていない場合のエラー。
	ErrGalleryNotFound = errors.New("ギャラリーが保存されていません")

	// ErrMessageMissing はギャラリーの通知が保存されていない場合のエラー。
	ErrMessageMissing = errors.New("通知が保存されていません")
)

// DetailFetcher はカタログからギャラリーの詳細を取得するインターフェース。
type DetailFetcher interface {
	FetchDetail(ctx context.Context, ref model.GalleryURL) (*model.Gallery, error)
}

// AssetSyncer はギャラリーの全ページを画像に紐づけるインターフェース。
type AssetSyncer interface {
	Sync(ctx context.Context, g *model.Gallery) (*pipeline.SyncResult, error)
}

// ArticlePublisher はギャラリーの記事を新規に作成するインターフェース。
type ArticlePublisher interface {
	Publish(ctx context.Context, g *model.Gallery) (*model.Telegraph, error)
}

// ArticleChecker は記事URLの到達確認を行うインターフェース。
type ArticleChecker interface {
	Reachable(ctx context.Context, articleURL string) (bool, error)
}

// Composer は通知本文を生成するインターフェース。
type Composer interface {
	Compose(g *model.Gallery, articleURL string) string
}

// Deps はEngineの依存コンポーネント。
type Deps struct {
	Galleries  repository.GalleryRepository
	Messages   repository.MessageRepository
	Telegraphs repository.TelegraphRepository
	Polls      repository.PollRepository
	Detail     DetailFetcher
	Assets     AssetSyncer
	Publisher  ArticlePublisher
	Checker    ArticleChecker
	Composer   Composer
	Channel    notify.Channel
	// Albums がnilでない場合、新たに再ホストした画像をアルバムにまとめる。
	Albums  imagehost.AlbumGrouper
	Metrics metrics.MetricsCollector
}

// Config はEngineの設定。
type Config struct {
	// ReuploadThreshold はBatchReuploadの対象とするスコアの下限（この値より大きいもの）。
	ReuploadThreshold float64
	// BatchPause はバッチ処理でアップロード・再公開を行った後の待機時間。
	BatchPause time.Duration
	// StepPause はBatchRecheckで1件確認するごとの待機時間。
	StepPause time.Duration
}

// Engine はギャラリーごとの同期判定を行う。
// 状態はすべてストアから導出し、Engine自身は呼び出しをまたぐ状態を持たない。
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine はEngineを生成する。
func NewEngine(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// StaggerSeed は通知の経過時間から再チェック間隔の係数を返す。
// 2日未満は1（毎回）、7日未満は3、14日未満は7、それ以降は14。
func StaggerSeed(age time.Duration) int {
	const day = 24 * time.Hour
	switch {
	case age < 2*day:
		return 1
	case age < 7*day:
		return 3
	case age < 14*day:
		return 7
	default:
		return 14
	}
}

// TryUpload はギャラリーが未アップロードであればアップロードし、通知を送信する。
//
// gatedがtrueで、ギャラリーが保存済みかつ通知済みの場合は何もしない。
// gatedがfalseの場合は画像・記事を作り直す。通知済みであれば新規送信せず既存の通知を編集する。
func (e *Engine) TryUpload(ctx context.Context, ref model.GalleryURL, gated bool) error {
	if gated {
		exists, err := e.deps.Galleries.Exists(ctx, ref.ID)
		if err != nil {
			return model.NewSyncError(model.StageStorage, ref.ID, err)
		}
		if exists {
			msg, err := e.deps.Messages.FindByGallery(ctx, ref.ID)
			if err != nil {
				return model.NewSyncError(model.StageStorage, ref.ID, err)
			}
			if msg != nil {
				return nil
			}
		}
	}

	start := e.now()
	g, err := e.deps.Detail.FetchDetail(ctx, ref)
	if err != nil {
		return model.NewSyncError(model.StageSource, ref.ID, err)
	}

	result, err := e.deps.Assets.Sync(ctx, g)
	if err != nil {
		return err
	}
	e.groupAlbum(ctx, g, result)

	article, err := e.deps.Publisher.Publish(ctx, g)
	if err != nil {
		return err
	}
	text := e.deps.Composer.Compose(g, article.URL)

	existing, err := e.deps.Messages.FindByGallery(ctx, g.ID)
	if err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}
	if existing != nil {
		if err := e.deps.Channel.Edit(ctx, existing.ID, text); err != nil {
			return model.NewSyncError(model.StageNotify, g.ID, err)
		}
	} else {
		if err := e.send(ctx, g, text); err != nil {
			return err
		}
	}

	if err := e.deps.Telegraphs.Upsert(ctx, article); err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}
	if err := e.deps.Galleries.Upsert(ctx, g); err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}

	e.deps.Metrics.RecordGalleryUploaded()
	e.logger.Info("ギャラリーをアップロードしました",
		slog.Int64("gallery_id", g.ID),
		slog.String("article", article.URL),
		slog.Bool("edited", existing != nil),
		slog.Float64("duration_ms", float64(e.now().Sub(start).Milliseconds())),
	)
	return nil
}

// send は新規に通知を送信して保存する。親ギャラリーが通知済みであればその通知への返信にする。
func (e *Engine) send(ctx context.Context, g *model.Gallery, text string) error {
	var replyTo int64
	if g.Parent != nil {
		parent, err := e.deps.Messages.FindByGallery(ctx, g.Parent.ID)
		if err != nil {
			return model.NewSyncError(model.StageStorage, g.ID, err)
		}
		if parent != nil {
			replyTo = parent.ID
		}
	}

	id, err := e.deps.Channel.Send(ctx, text, replyTo)
	if err != nil {
		return model.NewSyncError(model.StageNotify, g.ID, err)
	}

	msg := &model.Message{ID: id, GalleryID: g.ID, PublishDate: e.now()}
	if err := e.deps.Messages.Create(ctx, msg); err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}
	return nil
}

// groupAlbum は新たに再ホストした画像をアルバムにまとめる。失敗しても同期は継続する。
func (e *Engine) groupAlbum(ctx context.Context, g *model.Gallery, result *pipeline.SyncResult) {
	if e.deps.Albums == nil || result == nil || len(result.UploadedURLs) == 0 {
		return
	}
	album, err := imagehost.GroupIntoAlbum(ctx, e.deps.Albums, g.DisplayTitle(), g.URL().String(), result.UploadedURLs)
	if err != nil {
		e.logger.Warn("アルバムの作成に失敗しました",
			slog.Int64("gallery_id", g.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("アルバムを作成しました",
		slog.Int64("gallery_id", g.ID),
		slog.String("album", album),
	)
}

// TryUpdate は通知済みギャラリーのタイトル・タグの変化を確認し、変化があれば通知を編集する。
//
// 未保存または未通知のギャラリーには何もしない。gatedがtrueの場合、
// 通知の経過日数から求めた係数で日付が割り切れない日は確認を省略する。
// 確認した場合は変化の有無にかかわらずスナップショットを更新する。
func (e *Engine) TryUpdate(ctx context.Context, ref model.GalleryURL, gated bool) error {
	stored, err := e.deps.Galleries.Find(ctx, ref.ID)
	if err != nil {
		return model.NewSyncError(model.StageStorage, ref.ID, err)
	}
	if stored == nil {
		return nil
	}
	msg, err := e.deps.Messages.FindByGallery(ctx, ref.ID)
	if err != nil {
		return model.NewSyncError(model.StageStorage, ref.ID, err)
	}
	if msg == nil {
		return nil
	}

	now := e.now()
	seed := StaggerSeed(dateDiff(msg.PublishDate, now))
	if gated && now.UTC().Day()%seed != 0 {
		return nil
	}

	g, err := e.deps.Detail.FetchDetail(ctx, ref)
	if err != nil {
		return model.NewSyncError(model.StageSource, ref.ID, err)
	}
	if g.Cover == 0 {
		g.Cover = stored.Cover
	}

	if !g.Tags.Equal(stored.Tags) || g.Title != stored.Title {
		article, err := e.deps.Telegraphs.FindByGallery(ctx, g.ID)
		if err != nil {
			return model.NewSyncError(model.StageStorage, g.ID, err)
		}
		if article == nil {
			return model.NewSyncError(model.StagePublish, g.ID, ErrArticleMissing)
		}
		if err := e.deps.Channel.Edit(ctx, msg.ID, e.deps.Composer.Compose(g, article.URL)); err != nil {
			return model.NewSyncError(model.StageNotify, g.ID, err)
		}
		e.deps.Metrics.RecordGalleryUpdated()
		e.logger.Info("ギャラリーの通知を更新しました",
			slog.Int64("gallery_id", g.ID),
			slog.Int64("message_id", msg.ID),
		)
	}

	if err := e.deps.Galleries.Upsert(ctx, g); err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}
	return nil
}

// Republish は保存済みの画像から記事を作り直し、通知を新しい記事を指すように編集する。
// 画像の再アップロードは行わない。
func (e *Engine) Republish(ctx context.Context, g *model.Gallery, msg *model.Message) error {
	article, err := e.deps.Publisher.Publish(ctx, g)
	if err != nil {
		return err
	}
	if err := e.deps.Channel.Edit(ctx, msg.ID, e.deps.Composer.Compose(g, article.URL)); err != nil {
		return model.NewSyncError(model.StageNotify, g.ID, err)
	}
	if err := e.deps.Telegraphs.Upsert(ctx, article); err != nil {
		return model.NewSyncError(model.StageStorage, g.ID, err)
	}

	e.deps.Metrics.RecordRepublished()
	e.logger.Info("記事を再公開しました",
		slog.Int64("gallery_id", g.ID),
		slog.Int64("message_id", msg.ID),
		slog.String("article", article.URL),
	)
	return nil
}

// RepublishByID は保存済みのギャラリーと通知を読み出して再公開する。
// ギャラリーが未保存の場合はErrGalleryNotFound、未通知の場合はErrMessageMissingを返す。
func (e *Engine) RepublishByID(ctx context.Context, galleryID int64) error {
	g, err := e.deps.Galleries.Find(ctx, galleryID)
	if err != nil {
		return model.NewSyncError(model.StageStorage, galleryID, err)
	}
	if g == nil {
		return ErrGalleryNotFound
	}
	msg, err := e.deps.Messages.FindByGallery(ctx, galleryID)
	if err != nil {
		return model.NewSyncError(model.StageStorage, galleryID, err)
	}
	if msg == nil {
		return ErrMessageMissing
	}
	return e.Republish(ctx, g, msg)
}

// CheckArticle はギャラリーの記事がまだ公開されているかを確認する。
// 記事参照がない場合はErrArticleMissingを返す。
func (e *Engine) CheckArticle(ctx context.Context, galleryID int64) (bool, error) {
	article, err := e.deps.Telegraphs.FindByGallery(ctx, galleryID)
	if err != nil {
		return false, model.NewSyncError(model.StageStorage, galleryID, err)
	}
	if article == nil {
		return false, ErrArticleMissing
	}
	ok, err := e.deps.Checker.Reachable(ctx, article.URL)
	if err != nil {
		return false, model.NewSyncError(model.StagePublish, galleryID, err)
	}
	return ok, nil
}

// dateDiff は日付単位（UTC）の差を返す。
func dateDiff(from, to time.Time) time.Duration {
	f := from.UTC()
	t := to.UTC()
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return td.Sub(fd)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
