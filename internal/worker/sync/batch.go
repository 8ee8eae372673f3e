package gallerysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// targets はバッチ処理の対象ギャラリーを返す。idsが空の場合は保存済みの全ギャラリー。
func (e *Engine) targets(ctx context.Context, ids []int64) ([]*model.Gallery, error) {
	var (
		galleries []*model.Gallery
		err       error
	)
	if len(ids) == 0 {
		galleries, err = e.deps.Galleries.ListAll(ctx)
	} else {
		galleries, err = e.deps.Galleries.ListByIDs(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("対象ギャラリーの取得に失敗しました: %w", err)
	}
	return galleries, nil
}

// BatchReupload は評価スコアがしきい値を超えるギャラリーをアップロードし直す。
// アップロードは未通知のものに限られ（ゲートあり）、1件ごとにBatchPauseだけ待機する。
// 個々のギャラリーの失敗はログに記録して次に進む。
func (e *Engine) BatchReupload(ctx context.Context, ids []int64) error {
	galleries, err := e.targets(ctx, ids)
	if err != nil {
		return err
	}
	e.logger.Info("再アップロードを開始します", slog.Int("galleries", len(galleries)))

	uploaded := 0
	for _, g := range galleries {
		poll, err := e.deps.Polls.FindByGallery(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("評価の取得に失敗しました: %w", err)
		}
		if poll == nil || poll.Score <= e.cfg.ReuploadThreshold {
			continue
		}

		e.logger.Info("ギャラリーの再アップロードを試みます",
			slog.Int64("gallery_id", g.ID),
			slog.Float64("score", poll.Score),
		)
		if err := e.TryUpload(ctx, g.URL(), true); err != nil {
			e.logFailure("再アップロードに失敗しました", g.ID, err)
		} else {
			uploaded++
		}
		if err := e.sleep(ctx, e.cfg.BatchPause); err != nil {
			return err
		}
	}

	e.logger.Info("再アップロードが完了しました",
		slog.Int("galleries", len(galleries)),
		slog.Int("uploaded", uploaded),
	)
	return nil
}

// BatchRecheck は通知済みギャラリーの記事が到達可能かを確認し、到達できないものを再公開する。
// 記事参照のないギャラリーは警告を記録してスキップする。
func (e *Engine) BatchRecheck(ctx context.Context, ids []int64) error {
	galleries, err := e.targets(ctx, ids)
	if err != nil {
		return err
	}
	e.logger.Info("記事の再チェックを開始します", slog.Int("galleries", len(galleries)))

	republished := 0
	for _, g := range galleries {
		msg, err := e.deps.Messages.FindByGallery(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("通知の取得に失敗しました: %w", err)
		}
		if msg != nil {
			if e.recheck(ctx, g, msg) {
				republished++
				if err := e.sleep(ctx, e.cfg.BatchPause); err != nil {
					return err
				}
			}
		}
		if err := e.sleep(ctx, e.cfg.StepPause); err != nil {
			return err
		}
	}

	e.logger.Info("記事の再チェックが完了しました",
		slog.Int("galleries", len(galleries)),
		slog.Int("republished", republished),
	)
	return nil
}

// recheck は1件の記事を確認し、到達できなければ再公開する。再公開を試みた場合にtrueを返す。
func (e *Engine) recheck(ctx context.Context, g *model.Gallery, msg *model.Message) bool {
	ok, err := e.CheckArticle(ctx, g.ID)
	if errors.Is(err, ErrArticleMissing) {
		e.logger.Warn("記事参照がないためスキップします", slog.Int64("gallery_id", g.ID))
		return false
	}
	if err != nil {
		e.logFailure("記事の確認に失敗しました", g.ID, err)
		return false
	}
	if ok {
		return false
	}

	e.logger.Info("記事が見つからないため再公開します", slog.Int64("gallery_id", g.ID))
	if err := e.Republish(ctx, g, msg); err != nil {
		e.logFailure("再公開に失敗しました", g.ID, err)
	}
	return true
}

// logFailure はギャラリー単位の失敗を段階付きでログに記録し、メトリクスに反映する。
func (e *Engine) logFailure(msg string, galleryID int64, err error) {
	stage := model.StageOf(err)
	e.deps.Metrics.RecordSyncFailure(string(stage))
	e.logger.Error(msg,
		slog.Int64("gallery_id", galleryID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
}
