package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// maxFeedBodySize はフィードのレスポンスボディの最大サイズ。
const maxFeedBodySize = 5 * 1024 * 1024

// FeedLister は配信フィード（RSS/Atom）から最新ギャラリーの一覧を取得する。
// フィードはページングを持たないため、先頭ページのみを返す。
type FeedLister struct {
	httpClient *http.Client
	feedURL    string
	logger     *slog.Logger
}

// NewFeedLister はFeedListerを生成する。
func NewFeedLister(httpClient *http.Client, feedURL string, logger *slog.Logger) *FeedLister {
	return &FeedLister{httpClient: httpClient, feedURL: feedURL, logger: logger}
}

var _ Lister = (*FeedLister)(nil)

// ListNewest はフィードのエントリをギャラリーURLに変換して返す。
// paramsはフィードのURLに追加のクエリとして付与する。nextが0以外の場合は空を返す。
func (l *FeedLister) ListNewest(ctx context.Context, params url.Values, next int64) ([]model.GalleryURL, error) {
	if next != 0 {
		return []model.GalleryURL{}, nil
	}

	u, err := url.Parse(l.feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードURLの解析に失敗しました: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("フィードがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %v", ErrParse, err)
	}

	galleries := make([]model.GalleryURL, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		g, err := model.ParseGalleryURL(item.Link)
		if err != nil {
			l.logger.Warn("ギャラリーURLではないエントリをスキップしました",
				slog.String("link", item.Link),
				slog.String("error", err.Error()),
			)
			continue
		}
		galleries = append(galleries, g)
	}
	return galleries, nil
}
