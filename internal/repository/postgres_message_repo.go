package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// ErrMessageExists はギャラリーの通知が既に保存済みの場合に返される。
var ErrMessageExists = errors.New("message already exists for gallery")

// PostgresMessageRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

var _ MessageRepository = (*PostgresMessageRepo)(nil)

// FindByGallery はギャラリーの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByGallery(ctx context.Context, galleryID int64) (*model.Message, error) {
	m := &model.Message{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, gallery_id, publish_date, created_at FROM messages WHERE gallery_id = $1`,
		galleryID,
	).Scan(&m.ID, &m.GalleryID, &m.PublishDate, &m.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	return m, nil
}

// Create は通知を保存する。
// 同一ギャラリーの通知が既に存在する場合はErrMessageExistsを返す。
func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, gallery_id, publish_date, created_at)
		 VALUES ($1, $2, $3, now())
		 RETURNING created_at`,
		m.ID, m.GalleryID, m.PublishDate,
	).Scan(&m.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrMessageExists
		}
		return fmt.Errorf("通知の保存に失敗しました: %w", err)
	}
	return nil
}

// PostgresTelegraphRepo はPostgreSQLを使用した記事参照リポジトリ。
type PostgresTelegraphRepo struct {
	db *sql.DB
}

// NewPostgresTelegraphRepo はPostgresTelegraphRepoを生成する。
func NewPostgresTelegraphRepo(db *sql.DB) *PostgresTelegraphRepo {
	return &PostgresTelegraphRepo{db: db}
}

var _ TelegraphRepository = (*PostgresTelegraphRepo)(nil)

// FindByGallery はギャラリーの記事参照を取得する。見つからない場合はnilを返す。
func (r *PostgresTelegraphRepo) FindByGallery(ctx context.Context, galleryID int64) (*model.Telegraph, error) {
	t := &model.Telegraph{}
	err := r.db.QueryRowContext(ctx,
		`SELECT gallery_id, url, updated_at FROM telegraphs WHERE gallery_id = $1`,
		galleryID,
	).Scan(&t.GalleryID, &t.URL, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事参照の取得に失敗しました: %w", err)
	}
	return t, nil
}

// Upsert は記事参照を保存する。既存の参照は置き換える。
func (r *PostgresTelegraphRepo) Upsert(ctx context.Context, t *model.Telegraph) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO telegraphs (gallery_id, url, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (gallery_id) DO UPDATE SET url = EXCLUDED.url, updated_at = now()
		 RETURNING updated_at`,
		t.GalleryID, t.URL,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("記事参照の保存に失敗しました: %w", err)
	}
	return nil
}
