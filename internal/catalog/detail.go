package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

const postedLayout = "2006-01-02 15:04"

// maxDetailPages はサムネイルページ追跡の上限。ループ検出用。
const maxDetailPages = 500

var fileIndexPattern = regexp.MustCompile(`fileindex=(\d+)`)

// FetchDetail はギャラリーの詳細を取得する。
// サムネイル一覧のページングを最後まで辿り、全ページのURLを収集する。
func (c *Client) FetchDetail(ctx context.Context, ref model.GalleryURL) (*model.Gallery, error) {
	first := c.resolve(fmt.Sprintf("/g/%d/%s/", ref.ID, ref.Token))
	doc, err := c.document(ctx, first)
	if err != nil {
		return nil, err
	}

	g, err := parseDetail(doc, ref)
	if err != nil {
		return nil, err
	}

	next := c.nextThumbnailPage(doc)
	seen := map[string]bool{first: true}
	for next != "" && !seen[next] && len(seen) < maxDetailPages {
		seen[next] = true
		c.logger.Debug("サムネイルページを取得しています", slog.Int64("gallery_id", ref.ID), slog.String("url", next))

		doc, err := c.document(ctx, next)
		if err != nil {
			return nil, err
		}
		pages, err := parsePageLinks(doc)
		if err != nil {
			return nil, err
		}
		g.Pages = append(g.Pages, pages...)
		next = c.nextThumbnailPage(doc)
	}

	g.PageCount = len(g.Pages)
	c.logger.Info("ギャラリーの詳細を取得しました",
		slog.Int64("gallery_id", g.ID),
		slog.Int("pages", g.PageCount),
	)
	return g, nil
}

// parseDetail はギャラリーページの1ページ目を解析する。
func parseDetail(doc *goquery.Document, ref model.GalleryURL) (*model.Gallery, error) {
	title := strings.TrimSpace(doc.Find("h1#gn").First().Text())
	if title == "" {
		return nil, fmt.Errorf("%w: gallery title not found", ErrParse)
	}

	g := &model.Gallery{
		ID:      ref.ID,
		Token:   ref.Token,
		Host:    ref.Host,
		Title:   title,
		TitleJP: strings.TrimSpace(doc.Find("h1#gj").First().Text()),
		Cover:   ref.Cover,
		Tags:    model.TagGroups{},
	}

	// 親ギャラリーは詳細テーブルの "Parent:" 行にリンクとして現れる
	if href, ok := doc.Find("td.gdt2 a").First().Attr("href"); ok {
		if parent, err := model.ParseGalleryURL(href); err == nil {
			g.Parent = &parent
		}
	}

	doc.Find("div#taglist tr").Each(func(_ int, row *goquery.Selection) {
		ns := strings.TrimSuffix(strings.TrimSpace(row.Find("td.tc").First().Text()), ":")
		if ns == "" {
			return
		}
		var tags []string
		row.Find("td div a").Each(func(_ int, a *goquery.Selection) {
			if t := strings.TrimSpace(a.Text()); t != "" {
				tags = append(tags, t)
			}
		})
		g.Tags = append(g.Tags, model.TagGroup{Namespace: ns, Tags: tags})
	})

	g.Favorite = parseFavorite(doc.Find("#favcount").First().Text())

	posted, err := time.Parse(postedLayout, strings.TrimSpace(doc.Find("td.gdt2").First().Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: posted time: %v", ErrParse, err)
	}
	g.Posted = posted

	pages, err := parsePageLinks(doc)
	if err != nil {
		return nil, err
	}
	g.Pages = pages

	return g, nil
}

// parseFavorite は "123 times" / "Once" / "Never" 形式のお気に入り数を解析する。
func parseFavorite(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	if n, err := strconv.Atoi(fields[0]); err == nil {
		return n
	}
	if strings.EqualFold(fields[0], "once") {
		return 1
	}
	return 0
}

// parsePageLinks はサムネイル一覧から各ページのURLを抽出する。
func parsePageLinks(doc *goquery.Document) ([]model.PageURL, error) {
	var pages []model.PageURL
	var parseErr error
	doc.Find("div#gdt a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		p, err := model.ParsePageURL(href)
		if err != nil {
			parseErr = fmt.Errorf("%w: %v", ErrParse, err)
			return false
		}
		pages = append(pages, p)
		return true
	})
	return pages, parseErr
}

// nextThumbnailPage はページャの最終セルにリンクがあればそのURLを返す。
func (c *Client) nextThumbnailPage(doc *goquery.Document) string {
	href, ok := doc.Find("table.ptt td").Last().Find("a").Attr("href")
	if !ok || href == "" {
		return ""
	}
	return c.resolve(href)
}

// ResolveAsset はページを開き、画像の実URLとfileindexを取得する。
// fileindexがURLに含まれない場合は0を返す。
func (c *Client) ResolveAsset(ctx context.Context, page model.PageURL) (int64, string, error) {
	doc, err := c.document(ctx, c.resolve(fmt.Sprintf("/s/%s/%d-%d", page.Hash, page.GalleryID, page.Page)))
	if err != nil {
		return 0, "", err
	}
	src, ok := doc.Find("img#img").First().Attr("src")
	if !ok || src == "" {
		return 0, "", fmt.Errorf("%w: image not found on page %s", ErrParse, page.String())
	}
	return extractFileIndex(src), src, nil
}

func extractFileIndex(rawURL string) int64 {
	m := fileIndexPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
