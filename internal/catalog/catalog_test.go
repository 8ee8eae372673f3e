package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

const listingHTML = `<html><body>
<table class="itg gltc">
<tr><th>Published</th><th>Title</th></tr>
<tr><td class="gl3c glname"><a href="https://exhentai.org/g/300/aaa111/"><div class="glink">Third</div></a></td></tr>
<tr><td class="itd" colspan="4">advertisement</td></tr>
<tr><td class="gl3c glname"><a href="https://exhentai.org/g/200/bbb222/"><div class="glink">Second</div></a></td></tr>
</table></body></html>`

func detailHTML(nextHref string) string {
	next := `<td>&gt;</td>`
	if nextHref != "" {
		next = fmt.Sprintf(`<td><a href="%s">&gt;</a></td>`, nextHref)
	}
	return `<html><body>
<h1 id="gn">[Artist] English Title</h1>
<h1 id="gj">[作者] 日本語タイトル</h1>
<div id="gdd"><table>
<tr><td class="gdt1">Posted:</td><td class="gdt2">2026-03-14 12:30</td></tr>
<tr><td class="gdt1">Parent:</td><td class="gdt2"><a href="https://exhentai.org/g/554/parenttok/">554</a></td></tr>
</table></div>
<div id="favcount">42 times</div>
<div id="taglist"><table>
<tr><td class="tc">language:</td><td><div><a>chinese</a></div><div><a>translated</a></div></td></tr>
<tr><td class="tc">female:</td><td><div><a>big breasts</a></div></td></tr>
</table></div>
<table class="ptt"><tr><td>&lt;</td><td><a href="/g/555/tok555/">1</a></td>` + next + `</tr></table>
<div id="gdt">
<div class="gdtl"><a href="https://exhentai.org/s/aaaaaaaaaa/555-1"><img></a></div>
<div class="gdtl"><a href="https://exhentai.org/s/bbbbbbbbbb/555-2"><img></a></div>
</div></body></html>`
}

const detailPage2HTML = `<html><body>
<table class="ptt"><tr><td><a href="/g/555/tok555/">&lt;</a></td><td>2</td><td>&gt;</td></tr></table>
<div id="gdt"><div class="gdtl"><a href="https://exhentai.org/s/cccccccccc/555-3"><img></a></div></div>
</body></html>`

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var visited []string
	mux := http.NewServeMux()
	mux.HandleFunc("/uconfig.php", func(w http.ResponseWriter, r *http.Request) {
		visited = append(visited, r.URL.Path)
		http.SetCookie(w, &http.Cookie{Name: "sk", Value: "session", Path: "/"})
	})
	mux.HandleFunc("/mytags", func(w http.ResponseWriter, r *http.Request) {
		visited = append(visited, r.URL.Path)
		if c, err := r.Cookie("sk"); err != nil || c.Value != "session" {
			t.Errorf("sk cookie not sent on /mytags: %v", err)
		}
	})
	mux.HandleFunc("/g/555/tok555/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == "1" {
			fmt.Fprint(w, detailPage2HTML)
			return
		}
		fmt.Fprint(w, detailHTML("/g/555/tok555/?p=1"))
	})
	mux.HandleFunc("/s/aaaaaaaaaa/555-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img id="img" src="https://h.example:8443/h/abc/keystamp=1;fileindex=98765;xres=1280/001.jpg"></body></html>`)
	})
	mux.HandleFunc("/s/bbbbbbbbbb/555-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img id="img" src="https://h.example/om/002.png"></body></html>`)
	})
	mux.HandleFunc("/s/broken/555-9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>This page requires you to log on.</p></body></html>`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		visited = append(visited, "/?"+r.URL.RawQuery)
		if c, err := r.Cookie("ipb_member_id"); err != nil || c.Value != "1" {
			t.Errorf("configured cookie not sent: %v", err)
		}
		fmt.Fprint(w, listingHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &visited
}

func newTestClient(t *testing.T, srv *httptest.Server, buf *bytes.Buffer) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:         srv.URL,
		Cookie:          "ipb_member_id=1; ipb_pass_hash=x",
		RequestInterval: time.Millisecond,
	}, srv.Client(), newTestLogger(buf))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClient_Login_VisitsBootstrapPages(t *testing.T) {
	srv, visited := newTestServer(t)
	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if strings.Join(*visited, ",") != "/uconfig.php,/mytags" {
		t.Errorf("visited = %v", *visited)
	}
}

func TestClient_ListNewest(t *testing.T) {
	srv, visited := newTestServer(t)
	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)

	params := url.Values{"f_search": {"language:chinese"}}
	got, err := c.ListNewest(context.Background(), params, 400)
	if err != nil {
		t.Fatalf("ListNewest: %v", err)
	}
	if len(got) != 2 || got[0].ID != 300 || got[1].ID != 200 || got[1].Token != "bbb222" {
		t.Errorf("ListNewest = %+v", got)
	}
	q, _ := url.ParseQuery(strings.TrimPrefix((*visited)[0], "/?"))
	if q.Get("next") != "400" || q.Get("f_search") != "language:chinese" {
		t.Errorf("query = %v", q)
	}
	// 呼び出し元のparamsは変更されない
	if params.Get("next") != "" {
		t.Error("caller params were mutated")
	}
}

func TestParseListing_NoHits(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>No hits found</p></body></html>`)
	got, err := parseListing(doc)
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty, got %+v", got)
	}
}

func TestParseListing_UnexpectedLayout(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>Your IP address has been temporarily banned</p></body></html>`)
	_, err := parseListing(doc)
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestClient_FetchDetail_FollowsPagination(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)

	ref := model.GalleryURL{Host: "exhentai.org", ID: 555, Token: "tok555", Cover: 2}
	g, err := c.FetchDetail(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}

	if g.Title != "[Artist] English Title" || g.TitleJP != "[作者] 日本語タイトル" {
		t.Errorf("titles = %q / %q", g.Title, g.TitleJP)
	}
	if g.Parent == nil || g.Parent.ID != 554 || g.Parent.Token != "parenttok" {
		t.Errorf("Parent = %+v", g.Parent)
	}
	if g.Favorite != 42 {
		t.Errorf("Favorite = %d, want 42", g.Favorite)
	}
	if want := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC); !g.Posted.Equal(want) {
		t.Errorf("Posted = %v, want %v", g.Posted, want)
	}
	wantTags := model.TagGroups{
		{Namespace: "language", Tags: []string{"chinese", "translated"}},
		{Namespace: "female", Tags: []string{"big breasts"}},
	}
	if !g.Tags.Equal(wantTags) {
		t.Errorf("Tags = %+v", g.Tags)
	}
	if g.PageCount != 3 || len(g.Pages) != 3 {
		t.Fatalf("pages = %d (%d)", len(g.Pages), g.PageCount)
	}
	for i, hash := range []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"} {
		if g.Pages[i].Hash != hash || g.Pages[i].Page != i+1 {
			t.Errorf("Pages[%d] = %+v", i, g.Pages[i])
		}
	}
	if g.Cover != 2 {
		t.Errorf("Cover = %d, want 2", g.Cover)
	}
}

func TestClient_ResolveAsset(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)
	ctx := context.Background()

	idx, src, err := c.ResolveAsset(ctx, model.PageURL{Hash: "aaaaaaaaaa", GalleryID: 555, Page: 1})
	if err != nil {
		t.Fatalf("ResolveAsset: %v", err)
	}
	if idx != 98765 || !strings.HasSuffix(src, "/001.jpg") {
		t.Errorf("got (%d, %s)", idx, src)
	}

	idx, _, err = c.ResolveAsset(ctx, model.PageURL{Hash: "bbbbbbbbbb", GalleryID: 555, Page: 2})
	if err != nil {
		t.Fatalf("ResolveAsset: %v", err)
	}
	if idx != 0 {
		t.Errorf("fileindex fallback = %d, want 0", idx)
	}

	_, _, err = c.ResolveAsset(ctx, model.PageURL{Hash: "broken", GalleryID: 555, Page: 9})
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestClient_FetchAsset_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{0xff}, 100))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)

	data, err := c.FetchAsset(context.Background(), srv.URL+"/img.jpg", 1000)
	if err != nil {
		t.Fatalf("FetchAsset: %v", err)
	}
	if len(data) != 100 {
		t.Errorf("len = %d, want 100", len(data))
	}

	_, err = c.FetchAsset(context.Background(), srv.URL+"/img.jpg", 50)
	if !errors.Is(err, ErrAssetTooLarge) {
		t.Errorf("err = %v, want ErrAssetTooLarge", err)
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := newTestClient(t, srv, &buf)
	if _, err := c.ListNewest(context.Background(), nil, 0); err == nil {
		t.Error("expected error for 503")
	}
}

func TestExtractFileIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"https://x/h/a/keystamp=1;fileindex=123;xres=org/1.jpg", 123},
		{"https://x/om/1.jpg", 0},
		{"https://x/?fileindex=", 0},
	}
	for _, tt := range tests {
		if got := extractFileIndex(tt.in); got != tt.want {
			t.Errorf("extractFileIndex(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseFavorite(t *testing.T) {
	tests := map[string]int{
		"123 times": 123,
		"Once":      1,
		"Never":     0,
		"":          0,
	}
	for in, want := range tests {
		if got := parseFavorite(in); got != want {
			t.Errorf("parseFavorite(%q) = %d, want %d", in, got, want)
		}
	}
}

// mockLister はテスト用のListerモック。
type mockLister struct {
	listNewestFunc func(ctx context.Context, params url.Values, next int64) ([]model.GalleryURL, error)
	calls          []int64
}

func (m *mockLister) ListNewest(ctx context.Context, params url.Values, next int64) ([]model.GalleryURL, error) {
	m.calls = append(m.calls, next)
	return m.listNewestFunc(ctx, params, next)
}

func refs(ids ...int64) []model.GalleryURL {
	out := make([]model.GalleryURL, len(ids))
	for i, id := range ids {
		out[i] = model.GalleryURL{ID: id, Token: "t"}
	}
	return out
}

func TestIterator_PagesWithLastIDAndStopsAtLimit(t *testing.T) {
	lister := &mockLister{listNewestFunc: func(_ context.Context, _ url.Values, next int64) ([]model.GalleryURL, error) {
		switch next {
		case 0:
			return refs(10, 9, 8), nil
		case 8:
			return refs(7, 6, 5), nil
		default:
			return refs(4, 3, 2), nil
		}
	}}

	var buf bytes.Buffer
	got, err := Collect(context.Background(), lister, nil, 5, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 5 || got[0].ID != 10 || got[4].ID != 6 {
		t.Errorf("got %+v", got)
	}
	if len(lister.calls) != 2 || lister.calls[1] != 8 {
		t.Errorf("calls = %v, want [0 8]", lister.calls)
	}
}

func TestIterator_StopsOnErrorKeepingPartialResult(t *testing.T) {
	boom := errors.New("boom")
	lister := &mockLister{listNewestFunc: func(_ context.Context, _ url.Values, next int64) ([]model.GalleryURL, error) {
		if next == 0 {
			return refs(3, 2), nil
		}
		return nil, boom
	}}

	var buf bytes.Buffer
	got, err := Collect(context.Background(), lister, nil, 50, newTestLogger(&buf))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d items, want 2", len(got))
	}
	if !strings.Contains(buf.String(), "一覧の取得に失敗しました") {
		t.Errorf("expected error log, got %s", buf.String())
	}
}

func TestIterator_StopsOnEmptyPage(t *testing.T) {
	lister := &mockLister{listNewestFunc: func(_ context.Context, _ url.Values, next int64) ([]model.GalleryURL, error) {
		if next == 0 {
			return refs(3), nil
		}
		return nil, nil
	}}

	var buf bytes.Buffer
	got, err := Collect(context.Background(), lister, nil, 0, newTestLogger(&buf))
	if err != nil || len(got) != 1 {
		t.Errorf("got %+v, %v", got, err)
	}
}

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>galleries</title>
<item><title>A</title><link>https://exhentai.org/g/700/tok700/</link></item>
<item><title>not a gallery</title><link>https://exhentai.org/tag/foo</link></item>
<item><title>B</title><link>https://exhentai.org/g/699/tok699/</link></item>
</channel></rss>`

func TestFeedLister_ListNewest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lang") != "zh" {
			t.Errorf("missing query param: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	l := NewFeedLister(srv.Client(), srv.URL+"/rss", newTestLogger(&buf))

	got, err := l.ListNewest(context.Background(), url.Values{"lang": {"zh"}}, 0)
	if err != nil {
		t.Fatalf("ListNewest: %v", err)
	}
	if len(got) != 2 || got[0].ID != 700 || got[1].ID != 699 {
		t.Errorf("got %+v", got)
	}

	more, err := l.ListNewest(context.Background(), nil, 699)
	if err != nil || len(more) != 0 {
		t.Errorf("second page = %+v, %v", more, err)
	}
}
