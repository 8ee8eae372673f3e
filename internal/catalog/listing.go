package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// Lister は最新ギャラリーの一覧を取得するインターフェース。
// nextは前ページ最後のギャラリーIDで、0は先頭ページを表す。
type Lister interface {
	ListNewest(ctx context.Context, params url.Values, next int64) ([]model.GalleryURL, error)
}

var _ Lister = (*Client)(nil)

// ListNewest は検索条件に一致するギャラリーの一覧を1ページ分取得する。
func (c *Client) ListNewest(ctx context.Context, params url.Values, next int64) ([]model.GalleryURL, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	if next > 0 {
		q.Set("next", strconv.FormatInt(next, 10))
	}

	u := *c.baseURL
	u.Path = "/"
	u.RawQuery = q.Encode()

	doc, err := c.document(ctx, u.String())
	if err != nil {
		return nil, err
	}

	galleries, err := parseListing(doc)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("一覧ページを取得しました", slog.Int64("next", next), slog.Int("count", len(galleries)))
	return galleries, nil
}

// parseListing はサムネイル一覧（compact表示）からギャラリーURLを抽出する。
func parseListing(doc *goquery.Document) ([]model.GalleryURL, error) {
	table := doc.Find("table.itg")
	if table.Length() == 0 {
		if strings.Contains(doc.Text(), "No hits found") {
			return []model.GalleryURL{}, nil
		}
		return nil, fmt.Errorf("%w: gallery table not found", ErrParse)
	}

	var galleries []model.GalleryURL
	var parseErr error
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		href, ok := row.Find("td.glname a").First().Attr("href")
		if !ok {
			// ヘッダー行や広告行
			return true
		}
		g, err := model.ParseGalleryURL(href)
		if err != nil {
			parseErr = fmt.Errorf("%w: %v", ErrParse, err)
			return false
		}
		galleries = append(galleries, g)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return galleries, nil
}

// Iterator は一覧を遅延的にページングしながらギャラリーを1件ずつ返す。
// 取得エラーまたは空ページで終了し、最大limit件で打ち切る。
type Iterator struct {
	lister Lister
	params url.Values
	limit  int
	logger *slog.Logger

	buf     []model.GalleryURL
	next    int64
	yielded int
	done    bool
	err     error
}

// NewIterator はIteratorを生成する。limitが0以下の場合は件数で打ち切らない。
func NewIterator(lister Lister, params url.Values, limit int, logger *slog.Logger) *Iterator {
	return &Iterator{lister: lister, params: params, limit: limit, logger: logger}
}

// Next は次のギャラリーを返す。終了した場合はfalseを返す。
func (it *Iterator) Next(ctx context.Context) (model.GalleryURL, bool) {
	if it.limit > 0 && it.yielded >= it.limit {
		return model.GalleryURL{}, false
	}
	for !it.done && len(it.buf) == 0 {
		page, err := it.lister.ListNewest(ctx, it.params, it.next)
		if err != nil {
			it.logger.Error("一覧の取得に失敗しました",
				slog.Int64("next", it.next),
				slog.String("error", err.Error()),
			)
			it.err = err
			it.done = true
			break
		}
		if len(page) == 0 {
			it.done = true
			break
		}
		last := page[len(page)-1].ID
		if last == it.next {
			// 同じカーソルが返ってきた場合はそれ以上進めない
			it.done = true
			break
		}
		it.next = last
		it.buf = page
	}
	if len(it.buf) == 0 {
		return model.GalleryURL{}, false
	}

	g := it.buf[0]
	it.buf = it.buf[1:]
	it.yielded++
	return g, true
}

// Err は反復を終了させたエラーを返す。正常終了の場合はnil。
func (it *Iterator) Err() error {
	return it.err
}

// Collect は最大limit件のギャラリーを一覧から取得する。
// 途中でエラーが発生した場合はそれまでに取得した分とエラーを返す。
func Collect(ctx context.Context, lister Lister, params url.Values, limit int, logger *slog.Logger) ([]model.GalleryURL, error) {
	it := NewIterator(lister, params, limit, logger)
	var out []model.GalleryURL
	for {
		g, ok := it.Next(ctx)
		if !ok {
			break
		}
		out = append(out, g)
	}
	return out, it.Err()
}
