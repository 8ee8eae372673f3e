// Package catalog はギャラリーカタログ（E站）からの一覧取得、詳細取得、画像の解決を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

var (
	// ErrParse はカタログのページ構造が想定と異なる場合に返される。
	// レイアウト変更やセッション切れを示すことが多い。
	ErrParse = errors.New("catalog: unexpected page structure")

	// ErrAssetTooLarge は画像のサイズが上限を超えた場合に返される。
	ErrAssetTooLarge = errors.New("catalog: asset exceeds size limit")
)

const (
	defaultBaseURL         = "https://exhentai.org"
	defaultUserAgent       = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	defaultRequestInterval = 500 * time.Millisecond
)

// ClientConfig はカタログクライアントの設定。
type ClientConfig struct {
	// BaseURL はカタログのベースURL。空の場合は https://exhentai.org。
	BaseURL string
	// Cookie はログイン済みセッションのCookieヘッダー文字列。
	Cookie string
	// UserAgent は空の場合デフォルト値を使用する。
	UserAgent string
	// RequestInterval はカタログへのリクエスト間隔の下限。
	RequestInterval time.Duration
}

// Client はカタログのHTTPクライアント。
// すべてのHTMLリクエストはレートリミッターを通過してから送信される。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    *url.URL
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient はClientを生成する。
// httpClientのJarが未設定の場合はCookieJarを設定し、設定のCookieを登録する。
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = defaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("カタログのベースURLの解析に失敗しました: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("CookieJarの生成に失敗しました: %w", err)
		}
		httpClient.Jar = jar
	}
	if cfg.Cookie != "" {
		cookies, err := http.ParseCookie(cfg.Cookie)
		if err != nil {
			return nil, fmt.Errorf("Cookieの解析に失敗しました: %w", err)
		}
		httpClient.Jar.SetCookies(base, cookies)
	}

	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = defaultRequestInterval
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    base,
		userAgent:  ua,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// Login は設定ページとタグページを訪問し、セッションに必要なCookieを取得する。
func (c *Client) Login(ctx context.Context) error {
	c.logger.Info("カタログにログインしています", slog.String("host", c.baseURL.Host))
	for _, p := range []string{"/uconfig.php", "/mytags"} {
		resp, err := c.do(ctx, c.resolve(p))
		if err != nil {
			return fmt.Errorf("ログインに失敗しました: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return nil
}

// resolve はベースURLからの相対参照を絶対URLに変換する。
func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

// do はレートリミッターを待機してからGETリクエストを送信する。
// 2xx以外のステータスはエラーとして扱う。
func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,en-US;q=0.7,en;q=0.3")
	req.Header.Set("Referer", c.baseURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("カタログへのリクエストに失敗しました: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("カタログがステータス %d を返しました: %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// document はURLのHTMLを取得してパースする。
func (c *Client) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗しました: %w", err)
	}
	return doc, nil
}

// FetchAsset は解決済みの画像URLからバイト列を取得する。
// maxSizeを超える場合はErrAssetTooLargeを返す。0以下は無制限。
func (c *Client) FetchAsset(ctx context.Context, rawURL string, maxSize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("画像サーバーがステータス %d を返しました", resp.StatusCode)
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, resp.ContentLength)
	}

	var body io.Reader = resp.Body
	if maxSize > 0 {
		body = io.LimitReader(resp.Body, maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("画像の読み取りに失敗しました: %w", err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAssetTooLarge, maxSize)
	}
	return data, nil
}
