package imagehost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
)

const (
	defaultCatboxURL = "https://catbox.moe/user/api.php"

	// AlbumChunkSize は1回のアルバム操作で扱う最大ファイル数。
	AlbumChunkSize = 35
)

// CatboxUploader はcatbox.moeのAPIを使用するアップローダー。
type CatboxUploader struct {
	httpClient *http.Client
	uploadURL  string
	userhash   string
	logger     *slog.Logger
}

// NewCatboxUploader はCatboxUploaderを生成する。uploadURLが空の場合は公式APIを使用する。
func NewCatboxUploader(httpClient *http.Client, uploadURL, userhash string, logger *slog.Logger) *CatboxUploader {
	if uploadURL == "" {
		uploadURL = defaultCatboxURL
	}
	return &CatboxUploader{
		httpClient: httpClient,
		uploadURL:  uploadURL,
		userhash:   userhash,
		logger:     logger,
	}
}

var (
	_ Uploader     = (*CatboxUploader)(nil)
	_ AlbumGrouper = (*CatboxUploader)(nil)
)

// Upload は画像をmultipartでアップロードし、レスポンスボディのURLを返す。
func (c *CatboxUploader) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("reqtype", "fileupload"); err != nil {
		return "", err
	}
	if err := w.WriteField("userhash", c.userhash); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return "", fmt.Errorf("multipartの作成に失敗しました: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("multipartへの書き込みに失敗しました: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	u, err := c.post(ctx, w.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("catboxへのアップロードに失敗しました (%s): %w", filename, err)
	}
	c.logger.Debug("画像をアップロードしました", slog.String("filename", filename), slog.String("url", u))
	return u, nil
}

// CreateAlbum はアルバムを作成する。filesにはアップロード済みURLを渡す。
func (c *CatboxUploader) CreateAlbum(ctx context.Context, title, description string, fileURLs []string) (string, error) {
	u, err := c.postForm(ctx, map[string]string{
		"reqtype":  "createalbum",
		"userhash": c.userhash,
		"title":    title,
		"desc":     description,
		"files":    fileNames(fileURLs),
	})
	if err != nil {
		return "", fmt.Errorf("アルバムの作成に失敗しました: %w", err)
	}
	return u, nil
}

// EditAlbum は既存アルバムに画像を追加する。
func (c *CatboxUploader) EditAlbum(ctx context.Context, albumURL string, fileURLs []string) error {
	_, err := c.postForm(ctx, map[string]string{
		"reqtype":  "addtoalbum",
		"userhash": c.userhash,
		"short":    path.Base(strings.TrimRight(albumURL, "/")),
		"files":    fileNames(fileURLs),
	})
	if err != nil {
		return fmt.Errorf("アルバムの更新に失敗しました: %w", err)
	}
	return nil
}

func (c *CatboxUploader) postForm(ctx context.Context, fields map[string]string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, k := range []string{"reqtype", "userhash", "short", "title", "desc", "files"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return c.post(ctx, w.FormDataContentType(), &body)
}

func (c *CatboxUploader) post(ctx context.Context, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	text := strings.TrimSpace(string(respBody))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catboxがステータス %d を返しました: %s", resp.StatusCode, text)
	}
	if !strings.HasPrefix(text, "http") {
		return "", fmt.Errorf("catboxのレスポンスが不正です: %s", text)
	}
	return text, nil
}

// fileNames はアップロード済みURLからファイル名を取り出し、空白区切りで連結する。
func fileNames(fileURLs []string) string {
	names := make([]string, 0, len(fileURLs))
	for _, u := range fileURLs {
		names = append(names, path.Base(u))
	}
	return strings.Join(names, " ")
}

// GroupIntoAlbum はURLをAlbumChunkSize件ずつに分け、最初のチャンクでアルバムを作成し、
// 残りを同じアルバムに追加する。作成したアルバムのURLを返す。
func GroupIntoAlbum(ctx context.Context, g AlbumGrouper, title, description string, fileURLs []string) (string, error) {
	if len(fileURLs) == 0 {
		return "", nil
	}

	var albumURL string
	for start := 0; start < len(fileURLs); start += AlbumChunkSize {
		end := min(start+AlbumChunkSize, len(fileURLs))
		chunk := fileURLs[start:end]

		if albumURL == "" {
			u, err := g.CreateAlbum(ctx, title, description, chunk)
			if err != nil {
				return "", err
			}
			albumURL = u
			continue
		}
		if err := g.EditAlbum(ctx, albumURL, chunk); err != nil {
			return albumURL, err
		}
	}
	return albumURL, nil
}
