// Package article はギャラリーの画像一覧から記事を生成し、公開する。
package article

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/repository"
)

// PageCreator は記事の作成先を表すインターフェース。
type PageCreator interface {
	CreatePage(ctx context.Context, title string, content []Node) (*Page, error)
}

// Sanitizer は記事本文のサニタイズを行うインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Publisher はギャラリーの記事を生成して公開する。
type Publisher struct {
	images    repository.ImageRepository
	creator   PageCreator
	sanitizer Sanitizer
	logger    *slog.Logger
}

// NewPublisher はPublisherを生成する。
func NewPublisher(images repository.ImageRepository, creator PageCreator, sanitizer Sanitizer, logger *slog.Logger) *Publisher {
	return &Publisher{images: images, creator: creator, sanitizer: sanitizer, logger: logger}
}

// Publish はギャラリーに紐づく画像をページ順に並べた記事を作成し、その参照を返す。
// 表紙が指定されている場合は先頭に重ねて表示する。記事は毎回新規に作成される。
func (p *Publisher) Publish(ctx context.Context, g *model.Gallery) (*model.Telegraph, error) {
	images, err := p.images.ListByGallery(ctx, g.ID)
	if err != nil {
		return nil, model.NewSyncError(model.StageStorage, g.ID, err)
	}

	body := p.sanitizer.Sanitize(Body(images, g.Cover))
	content, err := ParseHTML(body)
	if err != nil {
		return nil, model.NewSyncError(model.StagePublish, g.ID, err)
	}

	page, err := p.creator.CreatePage(ctx, g.DisplayTitle(), content)
	if err != nil {
		return nil, model.NewSyncError(model.StagePublish, g.ID, err)
	}

	p.logger.Info("記事を公開しました",
		slog.Int64("gallery_id", g.ID),
		slog.Int("images", len(images)),
		slog.String("url", page.URL),
	)
	return &model.Telegraph{GalleryID: g.ID, URL: page.URL}, nil
}

// Body は記事本文のHTMLを生成する。
// coverが0以外かつ画像数未満の場合、その画像を先頭にも置く。末尾に画像総数を付ける。
func Body(images []*model.Image, cover int) string {
	var b strings.Builder
	if cover != 0 && cover < len(images) {
		writeImage(&b, images[cover].URL)
	}
	for _, img := range images {
		writeImage(&b, img.URL)
	}
	fmt.Fprintf(&b, "<p>图片总数：%d</p>", len(images))
	return b.String()
}

func writeImage(b *strings.Builder, src string) {
	b.WriteString(`<img src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`">`)
}
