// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// GalleryRepository はギャラリーのスナップショットの永続化インターフェース。
// 行は初回発見時に作成され、以後は再チェックのたびに上書きされる。削除はしない。
type GalleryRepository interface {
	// Find は指定IDのギャラリーを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, id int64) (*model.Gallery, error)

	// Exists は指定IDのギャラリーが保存済みかを返す。
	Exists(ctx context.Context, id int64) (bool, error)

	// Upsert はギャラリーの最新スナップショットを保存する。
	Upsert(ctx context.Context, gallery *model.Gallery) error

	// ListAll は全ギャラリーを投稿日時の新しい順に返す。
	ListAll(ctx context.Context) ([]*model.Gallery, error)

	// ListByIDs は指定IDのギャラリーを投稿日時の新しい順に返す。未保存のIDは無視する。
	ListByIDs(ctx context.Context, ids []int64) ([]*model.Gallery, error)
}

// ImageRepository は再ホスト済み画像の永続化インターフェース。
// 画像はハッシュで一意であり、追記のみ行う。
type ImageRepository interface {
	// FindByHash はハッシュで画像を取得する。見つからない場合はnilを返す。
	FindByHash(ctx context.Context, hash string) (*model.Image, error)

	// Create は画像を保存する。同一ハッシュが既に存在する場合は何もしない。
	Create(ctx context.Context, image *model.Image) error

	// ListByGallery はギャラリーに紐づく画像をページ番号順に返す。
	ListByGallery(ctx context.Context, galleryID int64) ([]*model.Image, error)
}

// PageRepository はギャラリー内の位置と画像の対応の永続化インターフェース。
type PageRepository interface {
	// Create はページを保存する。同一の(gallery_id, page)が既に存在する場合は何もしない。
	Create(ctx context.Context, page *model.Page) error

	// CountByGallery はギャラリーに紐づくページ数を返す。
	CountByGallery(ctx context.Context, galleryID int64) (int, error)
}

// MessageRepository はチャンネル通知の永続化インターフェース。
type MessageRepository interface {
	// FindByGallery はギャラリーの通知を取得する。見つからない場合はnilを返す。
	FindByGallery(ctx context.Context, galleryID int64) (*model.Message, error)

	// Create は通知を保存する。ギャラリーごとに1件のみ作成できる。
	Create(ctx context.Context, message *model.Message) error
}

// TelegraphRepository は公開記事への参照の永続化インターフェース。
type TelegraphRepository interface {
	// FindByGallery はギャラリーの記事参照を取得する。見つからない場合はnilを返す。
	FindByGallery(ctx context.Context, galleryID int64) (*model.Telegraph, error)

	// Upsert は記事参照を保存する。再公開時は既存の参照を置き換える。
	Upsert(ctx context.Context, telegraph *model.Telegraph) error
}

// PollRepository は外部評価の永続化インターフェース。
type PollRepository interface {
	// FindByGallery はギャラリーの評価を取得する。見つからない場合はnilを返す。
	FindByGallery(ctx context.Context, galleryID int64) (*model.Poll, error)

	// UpsertVotes は得票数を保存し、スコアを再計算待ちにする。
	UpsertVotes(ctx context.Context, galleryID int64, votes [model.PollOptions]int64) error

	// ListStale はスコアの再計算が必要な評価を更新日時の古い順に返す。
	ListStale(ctx context.Context, limit int) ([]*model.Poll, error)

	// UpdateScore はスコアと計算日時を更新する。
	UpdateScore(ctx context.Context, galleryID int64, score float64, scoredAt time.Time) error
}
