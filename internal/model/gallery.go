// Package model はドメインモデルを定義する。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHost はホスト省略時に使用するカタログのホスト名。
const DefaultHost = "exhentai.org"

// GalleryURL はカタログ上の1ギャラリーを指す参照。
// IDはカタログ全体で一意かつ不変。Coverはフラグメント（#n）で指定された表紙ページ番号。
type GalleryURL struct {
	Host  string
	ID    int64
	Token string
	Cover int
}

// ParseGalleryURL は https://<host>/g/<id>/<token>/[#cover] 形式のURLを解析する。
func ParseGalleryURL(raw string) (GalleryURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return GalleryURL{}, fmt.Errorf("ギャラリーURLの解析に失敗しました: %w", err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 3 || segments[0] != "g" {
		return GalleryURL{}, fmt.Errorf("ギャラリーURLの形式が不正です: %s", raw)
	}

	id, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil || id <= 0 {
		return GalleryURL{}, fmt.Errorf("ギャラリーIDが不正です: %s", segments[1])
	}
	if segments[2] == "" {
		return GalleryURL{}, fmt.Errorf("ギャラリートークンが空です: %s", raw)
	}

	host := u.Host
	if host == "" {
		host = DefaultHost
	}

	var cover int
	if u.Fragment != "" {
		cover, err = strconv.Atoi(u.Fragment)
		if err != nil || cover < 0 {
			return GalleryURL{}, fmt.Errorf("表紙番号が不正です: %s", u.Fragment)
		}
	}

	return GalleryURL{Host: host, ID: id, Token: segments[2], Cover: cover}, nil
}

// String はギャラリーの正規URLを返す。表紙番号は含めない。
func (g GalleryURL) String() string {
	host := g.Host
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("https://%s/g/%d/%s/", host, g.ID, g.Token)
}

// PageURL はギャラリー内の1ページを指す参照。
// Hashはソース側の画像ダイジェスト先頭10桁で、Assetの同一性キーとして使用する。
type PageURL struct {
	Host      string
	Hash      string
	GalleryID int64
	Page      int
}

// ParsePageURL は https://<host>/s/<hash>/<gid>-<page> 形式のURLを解析する。
func ParsePageURL(raw string) (PageURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PageURL{}, fmt.Errorf("ページURLの解析に失敗しました: %w", err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 3 || segments[0] != "s" || segments[1] == "" {
		return PageURL{}, fmt.Errorf("ページURLの形式が不正です: %s", raw)
	}

	gid, page, ok := strings.Cut(segments[2], "-")
	if !ok {
		return PageURL{}, fmt.Errorf("ページ番号が見つかりません: %s", raw)
	}
	galleryID, err := strconv.ParseInt(gid, 10, 64)
	if err != nil {
		return PageURL{}, fmt.Errorf("ギャラリーIDが不正です: %s", gid)
	}
	pageNum, err := strconv.Atoi(page)
	if err != nil || pageNum <= 0 {
		return PageURL{}, fmt.Errorf("ページ番号が不正です: %s", page)
	}

	host := u.Host
	if host == "" {
		host = DefaultHost
	}

	return PageURL{Host: host, Hash: segments[1], GalleryID: galleryID, Page: pageNum}, nil
}

// String はページの正規URLを返す。
func (p PageURL) String() string {
	host := p.Host
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("https://%s/s/%s/%d-%d", host, p.Hash, p.GalleryID, p.Page)
}

// TagGroup は名前空間ごとのタグ集合。
type TagGroup struct {
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
}

// TagGroups は名前空間の出現順を保持したタグ一覧。
// JSONB配列として保存するため順序が失われない。
type TagGroups []TagGroup

// Equal は名前空間の順序とタグの順序を含めて一致するかを判定する。
func (t TagGroups) Equal(other TagGroups) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i].Namespace != other[i].Namespace || len(t[i].Tags) != len(other[i].Tags) {
			return false
		}
		for j := range t[i].Tags {
			if t[i].Tags[j] != other[i].Tags[j] {
				return false
			}
		}
	}
	return true
}

// Value はdriver.Valuerを実装する。
func (t TagGroups) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("タグのエンコードに失敗しました: %w", err)
	}
	return b, nil
}

// Scan はsql.Scannerを実装する。
func (t *TagGroups) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = TagGroups{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("タグのデコードに対応していない型です: %T", src)
	}
	var groups TagGroups
	if err := json.Unmarshal(data, &groups); err != nil {
		return fmt.Errorf("タグのデコードに失敗しました: %w", err)
	}
	*t = groups
	return nil
}

// Gallery はカタログ上の1ギャラリー（Item）のスナップショット。
// 詳細取得時にはPagesが埋まり、ストアから読み出した場合は空になる。
type Gallery struct {
	ID        int64
	Token     string
	Host      string
	Title     string
	TitleJP   string
	Parent    *GalleryURL
	Tags      TagGroups
	Favorite  int
	PageCount int
	Cover     int
	Posted    time.Time
	Pages     []PageURL
	CreatedAt time.Time
	UpdatedAt time.Time
}

// URL はギャラリーの参照を返す。
func (g *Gallery) URL() GalleryURL {
	return GalleryURL{Host: g.Host, ID: g.ID, Token: g.Token, Cover: g.Cover}
}

// DisplayTitle は記事タイトルに使う日本語タイトルを返す。未設定の場合は英語タイトル。
func (g *Gallery) DisplayTitle() string {
	if strings.TrimSpace(g.TitleJP) != "" {
		return g.TitleJP
	}
	return g.Title
}
