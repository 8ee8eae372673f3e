package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// PostgresPollRepo はPostgreSQLを使用した評価リポジトリ。
type PostgresPollRepo struct {
	db *sql.DB
}

// NewPostgresPollRepo はPostgresPollRepoを生成する。
func NewPostgresPollRepo(db *sql.DB) *PostgresPollRepo {
	return &PostgresPollRepo{db: db}
}

var _ PollRepository = (*PostgresPollRepo)(nil)

func scanPoll(s rowScanner) (*model.Poll, error) {
	p := &model.Poll{}
	var votes []int64
	var scoredAt sql.NullTime

	if err := s.Scan(&p.GalleryID, pq.Array(&votes), &p.Score, &p.UpdatedAt, &scoredAt); err != nil {
		return nil, err
	}
	copy(p.Votes[:], votes)
	if scoredAt.Valid {
		p.ScoredAt = &scoredAt.Time
	}
	return p, nil
}

// FindByGallery はギャラリーの評価を取得する。見つからない場合はnilを返す。
func (r *PostgresPollRepo) FindByGallery(ctx context.Context, galleryID int64) (*model.Poll, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT gallery_id, votes, score, updated_at, scored_at FROM polls WHERE gallery_id = $1`,
		galleryID,
	)
	p, err := scanPoll(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("評価の取得に失敗しました: %w", err)
	}
	return p, nil
}

// UpsertVotes は得票数を保存する。scored_atは変更しないため次回のスコア計算対象になる。
func (r *PostgresPollRepo) UpsertVotes(ctx context.Context, galleryID int64, votes [model.PollOptions]int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO polls (gallery_id, votes, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (gallery_id) DO UPDATE SET votes = EXCLUDED.votes, updated_at = now()`,
		galleryID, pq.Array(votes[:]),
	)
	if err != nil {
		return fmt.Errorf("得票数の保存に失敗しました: %w", err)
	}
	return nil
}

// ListStale はスコア未計算、または計算後に得票数が更新された評価を返す。
func (r *PostgresPollRepo) ListStale(ctx context.Context, limit int) ([]*model.Poll, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT gallery_id, votes, score, updated_at, scored_at
		 FROM polls
		 WHERE scored_at IS NULL OR scored_at < updated_at
		 ORDER BY scored_at ASC NULLS FIRST, updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("再計算対象の評価の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var polls []*model.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("評価のスキャンに失敗しました: %w", err)
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("評価一覧の反復処理に失敗しました: %w", err)
	}
	return polls, nil
}

// UpdateScore はスコアと計算日時を更新する。
func (r *PostgresPollRepo) UpdateScore(ctx context.Context, galleryID int64, score float64, scoredAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE polls SET score = $2, scored_at = $3 WHERE gallery_id = $1`,
		galleryID, score, scoredAt,
	)
	if err != nil {
		return fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	return nil
}
