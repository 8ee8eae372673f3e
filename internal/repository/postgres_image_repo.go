package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// PostgresImageRepo はPostgreSQLを使用した画像リポジトリ。
type PostgresImageRepo struct {
	db *sql.DB
}

// NewPostgresImageRepo はPostgresImageRepoを生成する。
func NewPostgresImageRepo(db *sql.DB) *PostgresImageRepo {
	return &PostgresImageRepo{db: db}
}

var _ ImageRepository = (*PostgresImageRepo)(nil)

// FindByHash はハッシュで画像を取得する。見つからない場合はnilを返す。
func (r *PostgresImageRepo) FindByHash(ctx context.Context, hash string) (*model.Image, error) {
	img := &model.Image{}
	err := r.db.QueryRowContext(ctx,
		`SELECT hash, file_index, url, created_at FROM images WHERE hash = $1`,
		hash,
	).Scan(&img.Hash, &img.FileIndex, &img.URL, &img.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	return img, nil
}

// Create は画像を保存する。同一ハッシュが既に存在する場合は何もしない。
func (r *PostgresImageRepo) Create(ctx context.Context, img *model.Image) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO images (hash, file_index, url, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (hash) DO NOTHING`,
		img.Hash, img.FileIndex, img.URL,
	)
	if err != nil {
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return nil
}

// ListByGallery はギャラリーに紐づく画像をページ番号順に返す。
// 画像が紐づいていないページ（スキップされたページ）は含まれない。
func (r *PostgresImageRepo) ListByGallery(ctx context.Context, galleryID int64) ([]*model.Image, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.hash, i.file_index, i.url, i.created_at
		 FROM pages p
		 JOIN images i ON i.hash = p.image_hash
		 WHERE p.gallery_id = $1
		 ORDER BY p.page ASC`,
		galleryID,
	)
	if err != nil {
		return nil, fmt.Errorf("ギャラリーの画像一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var images []*model.Image
	for rows.Next() {
		img := &model.Image{}
		if err := rows.Scan(&img.Hash, &img.FileIndex, &img.URL, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("画像のスキャンに失敗しました: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("画像一覧の反復処理に失敗しました: %w", err)
	}
	return images, nil
}

// PostgresPageRepo はPostgreSQLを使用したページリポジトリ。
type PostgresPageRepo struct {
	db *sql.DB
}

// NewPostgresPageRepo はPostgresPageRepoを生成する。
func NewPostgresPageRepo(db *sql.DB) *PostgresPageRepo {
	return &PostgresPageRepo{db: db}
}

var _ PageRepository = (*PostgresPageRepo)(nil)

// Create はページを保存する。同一の(gallery_id, page)が既に存在する場合は何もしない。
func (r *PostgresPageRepo) Create(ctx context.Context, page *model.Page) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pages (gallery_id, page, image_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (gallery_id, page) DO NOTHING`,
		page.GalleryID, page.Page, page.ImageHash,
	)
	if err != nil {
		return fmt.Errorf("ページの保存に失敗しました: %w", err)
	}
	return nil
}

// CountByGallery はギャラリーに紐づくページ数を返す。
func (r *PostgresPageRepo) CountByGallery(ctx context.Context, galleryID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pages WHERE gallery_id = $1`,
		galleryID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ページ数の取得に失敗しました: %w", err)
	}
	return count, nil
}
