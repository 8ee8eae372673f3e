// Package score は投票結果から評価スコアを再計算するバッチジョブを提供する。
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/metrics"
	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/repository"
)

// optionWeights は投票の各選択肢の重み。
var optionWeights = [model.PollOptions]float64{0, 0.25, 0.5, 0.75, 1}

// z は信頼水準80%の標準正規分布の分位点。
const z = 1.2815515655446004

// Wilson は投票結果の平均評価に対するウィルソンスコア区間の下限を[0,1]で返す。
// 票数が少ないほど低めに見積もられる。票がない場合は0。
func Wilson(votes [model.PollOptions]int64) float64 {
	var n float64
	for _, v := range votes {
		n += float64(v)
	}
	if n == 0 {
		return 0
	}

	var mean float64
	for i, v := range votes {
		mean += float64(v) * optionWeights[i]
	}
	mean /= n

	var variance float64
	for i, v := range votes {
		d := optionWeights[i] - mean
		variance += d * d * float64(v)
	}
	variance /= n

	z2 := z * z
	lower := (mean + z2/(2*n) - z*math.Sqrt(variance/n+z2/(4*n*n))) / (1 + z2/n)
	return math.Min(1, math.Max(0, lower))
}

// Config はスコア再計算ジョブの設定。
type Config struct {
	// Interval は実行間隔（デフォルト: 10分）。
	Interval time.Duration
	// BatchSize は1サイクルで再計算する最大件数（デフォルト: 500）。
	BatchSize int
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:  10 * time.Minute,
		BatchSize: 500,
	}
}

// Job は得票数の更新後に未計算となった評価のスコアを定期的に再計算する。
type Job struct {
	polls   repository.PollRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	config  Config
	now     func() time.Time
}

// NewJob はJobを生成する。
func NewJob(polls repository.PollRepository, mc metrics.MetricsCollector, logger *slog.Logger, config Config) *Job {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Job{polls: polls, metrics: mc, logger: logger, config: config, now: time.Now}
}

// Start はジョブをティッカーで定期実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("スコア再計算ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Int("batch_size", j.config.BatchSize),
	)

	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("スコア再計算サイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("スコア再計算ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("スコア再計算サイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は1回の再計算サイクルを実行する。個々の更新失敗はログに記録して継続する。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.now()

	polls, err := j.polls.ListStale(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("再計算対象の評価の取得に失敗しました: %w", err)
	}
	if len(polls) == 0 {
		j.logger.Debug("再計算対象の評価はありません")
		return nil
	}

	updated := 0
	for _, p := range polls {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := Wilson(p.Votes)
		if err := j.polls.UpdateScore(ctx, p.GalleryID, s, j.now()); err != nil {
			j.logger.Error("スコアの更新に失敗しました",
				slog.Int64("gallery_id", p.GalleryID),
				slog.Float64("score", s),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}

	j.metrics.RecordScoresUpdated(updated)
	j.logger.Info("スコア再計算サイクルが完了しました",
		slog.Int("target_polls", len(polls)),
		slog.Int("updated_polls", updated),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}
