package notify

import (
	"strings"
	"testing"

	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/tags"
)

func sampleGallery() *model.Gallery {
	return &model.Gallery{
		ID:    555,
		Token: "abcdef0123",
		Host:  "exhentai.org",
		Title: "Sample <Title> & Co",
		Tags: model.TagGroups{
			{Namespace: "artist", Tags: []string{"some-one"}},
			{Namespace: "female", Tags: []string{"big breasts", "a/b·c"}},
		},
	}
}

func TestCompose_Layout(t *testing.T) {
	c := NewComposer(nil)
	got := c.Compose(sampleGallery(), "https://telegra.ph/Sample-01-01")

	want := strings.Join([]string{
		"<code>artist</code>: #some_one",
		"<code>female</code>: #big_breasts #a_b_c",
		`<code>  预览</code>: <a href="https://telegra.ph/Sample-01-01">Sample &lt;Title&gt; &amp; Co</a>`,
		"<code>原始地址</code>: https://exhentai.org/g/555/abcdef0123/",
	}, "\n")
	if got != want {
		t.Errorf("Compose =\n%s\nwant\n%s", got, want)
	}
}

func TestCompose_Pure(t *testing.T) {
	c := NewComposer(nil)
	g := sampleGallery()
	first := c.Compose(g, "https://telegra.ph/x")
	second := c.Compose(g, "https://telegra.ph/x")
	if first != second {
		t.Error("Compose returned different output for the same input")
	}
	if g.Tags[1].Tags[0] != "big breasts" {
		t.Error("Compose modified its input")
	}
}

func TestCompose_TranslatesTags(t *testing.T) {
	db, err := tags.Parse([]byte("namespaces:\n  female: 女性\ntags:\n  female:\n    big breasts: 巨乳\n"))
	if err != nil {
		t.Fatal(err)
	}
	got := NewComposer(db).Compose(sampleGallery(), "https://telegra.ph/x")
	if !strings.Contains(got, "<code>  女性</code>: #巨乳 #a_b_c\n") {
		t.Errorf("translated line not found in:\n%s", got)
	}
}

func TestHashtag(t *testing.T) {
	tests := map[string]string{
		"simple":       "#simple",
		"with space":   "#with_space",
		"dash-ed":      "#dash_ed",
		"slash/ed":     "#slash_ed",
		"dot·ted":      "#dot_ted",
		"mix - / · ok": "#mix_______ok",
	}
	for in, want := range tests {
		if got := Hashtag(in); got != want {
			t.Errorf("Hashtag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPadLeft(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"male", "  male"},
		{"预览", "  预览"},
		{"原始地址", "原始地址"},
		{"language", "language"},
	}
	for _, tt := range tests {
		if got := padLeft(tt.in, labelWidth); got != tt.want {
			t.Errorf("padLeft(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
