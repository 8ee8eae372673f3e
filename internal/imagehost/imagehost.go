// Package imagehost は画像の再ホスト先（catbox、S3互換ストレージ）へのアップロードを提供する。
package imagehost

import (
	"context"
	"mime"
	"path"
)

// Uploader は画像をアップロードし、公開URLを返すインターフェース。
// filenameは "<hash>.<ext>" 形式で、同一内容の画像には同一の名前が渡される。
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
}

// AlbumGrouper はアップロード済み画像をアルバムにまとめられるホストのインターフェース。
type AlbumGrouper interface {
	// CreateAlbum は画像URLの一覧から新しいアルバムを作成し、アルバムのURLを返す。
	CreateAlbum(ctx context.Context, title, description string, fileURLs []string) (string, error)
	// EditAlbum は既存アルバムに画像を追加する。
	EditAlbum(ctx context.Context, albumURL string, fileURLs []string) error
}

// contentType はファイル名の拡張子からContent-Typeを推定する。
func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
