package article

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultTelegraphAPI はTelegraph APIのベースURL。
const DefaultTelegraphAPI = "https://api.telegra.ph"

// maxTitleLength はTelegraphが受け付けるタイトルの最大文字数。
const maxTitleLength = 256

// Page は作成された記事。
type Page struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// TelegraphConfig はTelegraphクライアントの設定。
type TelegraphConfig struct {
	APIURL      string
	AccessToken string
	AuthorName  string
	AuthorURL   string
}

// TelegraphClient はTelegraph APIクライアント。
type TelegraphClient struct {
	api    *http.Client
	check  *http.Client
	cfg    TelegraphConfig
	logger *slog.Logger
}

// NewTelegraphClient はTelegraphClientを生成する。
// apiはAPI呼び出しに、checkは記事URLの到達確認に使用する。
func NewTelegraphClient(cfg TelegraphConfig, api, check *http.Client, logger *slog.Logger) *TelegraphClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTelegraphAPI
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &TelegraphClient{api: api, check: check, cfg: cfg, logger: logger}
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

// CreatePage は記事を作成してそのURLを返す。
func (c *TelegraphClient) CreatePage(ctx context.Context, title string, content []Node) (*Page, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("記事本文のエンコードに失敗しました: %w", err)
	}

	form := url.Values{}
	form.Set("access_token", c.cfg.AccessToken)
	form.Set("title", truncate(title, maxTitleLength))
	form.Set("content", string(body))
	form.Set("return_content", "false")
	if c.cfg.AuthorName != "" {
		form.Set("author_name", c.cfg.AuthorName)
	}
	if c.cfg.AuthorURL != "" {
		form.Set("author_url", c.cfg.AuthorURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/createPage", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("記事の作成に失敗しました: status %d", resp.StatusCode)
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
	}
	if !ar.OK {
		return nil, fmt.Errorf("記事の作成に失敗しました: %s", ar.Error)
	}

	var page Page
	if err := json.Unmarshal(ar.Result, &page); err != nil {
		return nil, fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
	}
	if page.URL == "" {
		return nil, fmt.Errorf("記事URLが返されませんでした")
	}

	c.logger.Debug("記事を作成しました", slog.String("url", page.URL))
	return &page, nil
}

// Reachable は記事URLがまだ公開されているかを確認する。404以外の応答は到達可能とみなす。
func (c *TelegraphClient) Reachable(ctx context.Context, articleURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, articleURL, nil)
	if err != nil {
		return false, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	resp, err := c.check.Do(req)
	if err != nil {
		return false, fmt.Errorf("記事の確認に失敗しました: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
