// Package notify はチャンネルへの通知本文の生成と送信を提供する。
package notify

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/width"

	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/tags"
)

// labelWidth は名前空間ラベルの表示幅。全角文字は2桁として数える。
const labelWidth = 6

// hashtagSeparator はハッシュタグとして使えない区切り文字。
var hashtagSeparator = regexp.MustCompile(`[-/· ]`)

// Composer は通知本文を生成する。同じ入力に対して常に同じ出力を返す。
type Composer struct {
	trans *tags.DB
}

// NewComposer はComposerを生成する。transがnilの場合はタグを翻訳しない。
func NewComposer(trans *tags.DB) *Composer {
	return &Composer{trans: trans}
}

// Compose はギャラリーと記事URLから通知本文（HTML）を生成する。
//
// 各名前空間が1行ずつ並び、その後に記事へのリンクと元URLが続く。
func (c *Composer) Compose(g *model.Gallery, articleURL string) string {
	var b strings.Builder
	for _, group := range c.trans.TranslateGroups(g.Tags) {
		b.WriteString(code(padLeft(group.Namespace, labelWidth)))
		b.WriteString(": ")
		for i, tag := range group.Tags {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(html.EscapeString(Hashtag(tag)))
		}
		b.WriteByte('\n')
	}

	b.WriteString(code(padLeft("预览", labelWidth)))
	b.WriteString(`: <a href="`)
	b.WriteString(html.EscapeString(articleURL))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(g.Title))
	b.WriteString("</a>\n")

	b.WriteString(code("原始地址"))
	b.WriteString(": ")
	b.WriteString(html.EscapeString(g.URL().String()))
	return b.String()
}

// Hashtag はタグをハッシュタグ表記に変換する。
func Hashtag(tag string) string {
	return "#" + hashtagSeparator.ReplaceAllString(tag, "_")
}

func code(s string) string {
	return "<code>" + html.EscapeString(s) + "</code>"
}

// padLeft は表示幅がnになるまで左側を空白で埋める。
func padLeft(s string, n int) string {
	w := displayWidth(s)
	if w >= n {
		return s
	}
	return strings.Repeat(" ", n-w) + s
}

func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w += 2
		default:
			w++
		}
	}
	return w
}
