// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 記事本文のサニタイズと、外部URLへのアクセスに使う安全なHTTPクライアントを扱う。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ArticleSanitizer は記事本文のHTMLを記事サービスが受け付けるタグのみに絞り込む。
// 生成後はスレッドセーフ。
type ArticleSanitizer struct {
	policy *bluemonday.Policy
}

// NewArticleSanitizer はArticleSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, hr, figure, figcaption, img, a, b, strong, i, em, u, s, code, pre, blockquote, ul, ol, li, h3, h4, aside
//   - 許可属性: aのhref、imgのsrc（いずれもhttp/httpsの絶対URLのみ）
//   - 上記以外のタグは中身のテキストを残して除去し、script, styleは中身ごと除去する
func NewArticleSanitizer() *ArticleSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "figure", "figcaption",
		"b", "strong", "i", "em", "u", "s",
		"code", "pre", "blockquote",
		"ul", "ol", "li", "h3", "h4", "aside",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src").OnElements("img")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })
	p.AllowURLSchemeWithCustomPolicy("http", func(*url.URL) bool { return true })

	return &ArticleSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。同一入力に対して常に同一出力を返す。
func (s *ArticleSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
