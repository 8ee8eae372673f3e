package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

const galleryColumns = `id, token, host, title, title_jp, parent_id, parent_token,
		        tags, favorite, page_count, cover, posted, created_at, updated_at`

// PostgresGalleryRepo はPostgreSQLを使用したギャラリーリポジトリ。
type PostgresGalleryRepo struct {
	db *sql.DB
}

// NewPostgresGalleryRepo はPostgresGalleryRepoを生成する。
func NewPostgresGalleryRepo(db *sql.DB) *PostgresGalleryRepo {
	return &PostgresGalleryRepo{db: db}
}

var _ GalleryRepository = (*PostgresGalleryRepo)(nil)

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGallery(s rowScanner) (*model.Gallery, error) {
	g := &model.Gallery{}
	var parentID sql.NullInt64
	var parentToken sql.NullString

	err := s.Scan(
		&g.ID, &g.Token, &g.Host, &g.Title, &g.TitleJP, &parentID, &parentToken,
		&g.Tags, &g.Favorite, &g.PageCount, &g.Cover, &g.Posted, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid && parentToken.Valid {
		g.Parent = &model.GalleryURL{Host: g.Host, ID: parentID.Int64, Token: parentToken.String}
	}
	return g, nil
}

// Find は指定IDのギャラリーを取得する。見つからない場合はnilを返す。
func (r *PostgresGalleryRepo) Find(ctx context.Context, id int64) (*model.Gallery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+galleryColumns+` FROM galleries WHERE id = $1`,
		id,
	)
	g, err := scanGallery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ギャラリーの取得に失敗しました: %w", err)
	}
	return g, nil
}

// Exists は指定IDのギャラリーが保存済みかを返す。
func (r *PostgresGalleryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM galleries WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ギャラリーの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Upsert はギャラリーの最新スナップショットを保存する。
// created_atは初回作成時の値を維持する。
func (r *PostgresGalleryRepo) Upsert(ctx context.Context, g *model.Gallery) error {
	var parentID sql.NullInt64
	var parentToken sql.NullString
	if g.Parent != nil {
		parentID = sql.NullInt64{Int64: g.Parent.ID, Valid: true}
		parentToken = nullString(g.Parent.Token)
	}

	host := g.Host
	if host == "" {
		host = model.DefaultHost
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO galleries (id, token, host, title, title_jp, parent_id, parent_token,
		                        tags, favorite, page_count, cover, posted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		     token = EXCLUDED.token,
		     host = EXCLUDED.host,
		     title = EXCLUDED.title,
		     title_jp = EXCLUDED.title_jp,
		     parent_id = EXCLUDED.parent_id,
		     parent_token = EXCLUDED.parent_token,
		     tags = EXCLUDED.tags,
		     favorite = EXCLUDED.favorite,
		     page_count = EXCLUDED.page_count,
		     cover = EXCLUDED.cover,
		     posted = EXCLUDED.posted,
		     updated_at = now()
		 RETURNING created_at, updated_at`,
		g.ID, g.Token, host, g.Title, g.TitleJP, parentID, parentToken,
		g.Tags, g.Favorite, g.PageCount, g.Cover, g.Posted,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ギャラリーの保存に失敗しました: %w", err)
	}
	g.Host = host
	return nil
}

// ListAll は全ギャラリーを投稿日時の新しい順に返す。
func (r *PostgresGalleryRepo) ListAll(ctx context.Context) ([]*model.Gallery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+galleryColumns+` FROM galleries ORDER BY posted DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ギャラリー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectGalleries(rows)
}

// ListByIDs は指定IDのギャラリーを投稿日時の新しい順に返す。
func (r *PostgresGalleryRepo) ListByIDs(ctx context.Context, ids []int64) ([]*model.Gallery, error) {
	if len(ids) == 0 {
		return []*model.Gallery{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+galleryColumns+` FROM galleries WHERE id = ANY($1) ORDER BY posted DESC, id DESC`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("ギャラリー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectGalleries(rows)
}

func collectGalleries(rows *sql.Rows) ([]*model.Gallery, error) {
	var galleries []*model.Gallery
	for rows.Next() {
		g, err := scanGallery(rows)
		if err != nil {
			return nil, fmt.Errorf("ギャラリーのスキャンに失敗しました: %w", err)
		}
		galleries = append(galleries, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ギャラリー一覧の反復処理に失敗しました: %w", err)
	}
	return galleries, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
