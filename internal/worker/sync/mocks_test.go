package gallerysync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/pipeline"
	"github.com/HpilOsit/exloli-cat/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// --- インメモリストア ---

// memStore は全リポジトリをまとめたインメモリ実装。
type memStore struct {
	mu         sync.Mutex
	galleries  map[int64]*model.Gallery
	images     map[string]*model.Image
	pages      map[int64]map[int]string
	messages   map[int64]*model.Message
	telegraphs map[int64]*model.Telegraph
	polls      map[int64]*model.Poll

	galleryUpserts int
}

func newMemStore() *memStore {
	return &memStore{
		galleries:  map[int64]*model.Gallery{},
		images:     map[string]*model.Image{},
		pages:      map[int64]map[int]string{},
		messages:   map[int64]*model.Message{},
		telegraphs: map[int64]*model.Telegraph{},
		polls:      map[int64]*model.Poll{},
	}
}

func (s *memStore) galleryRepo() repository.GalleryRepository     { return memGalleryRepo{s} }
func (s *memStore) imageRepo() repository.ImageRepository         { return memImageRepo{s} }
func (s *memStore) pageRepo() repository.PageRepository           { return memPageRepo{s} }
func (s *memStore) messageRepo() repository.MessageRepository     { return memMessageRepo{s} }
func (s *memStore) telegraphRepo() repository.TelegraphRepository { return memTelegraphRepo{s} }
func (s *memStore) pollRepo() repository.PollRepository           { return memPollRepo{s} }

type memGalleryRepo struct{ s *memStore }

func (r memGalleryRepo) Find(_ context.Context, id int64) (*model.Gallery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.galleries[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (r memGalleryRepo) Exists(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.galleries[id]
	return ok, nil
}

func (r memGalleryRepo) Upsert(_ context.Context, g *model.Gallery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *g
	cp.Pages = nil
	r.s.galleries[g.ID] = &cp
	r.s.galleryUpserts++
	return nil
}

func (r memGalleryRepo) ListAll(_ context.Context) ([]*model.Gallery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Gallery
	for _, g := range r.s.galleries {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Posted.After(out[j].Posted) })
	return out, nil
}

func (r memGalleryRepo) ListByIDs(ctx context.Context, ids []int64) ([]*model.Gallery, error) {
	all, _ := r.ListAll(ctx)
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Gallery
	for _, g := range all {
		if want[g.ID] {
			out = append(out, g)
		}
	}
	return out, nil
}

type memImageRepo struct{ s *memStore }

func (r memImageRepo) FindByHash(_ context.Context, hash string) (*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img, ok := r.s.images[hash]
	if !ok {
		return nil, nil
	}
	cp := *img
	return &cp, nil
}

func (r memImageRepo) Create(_ context.Context, img *model.Image) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.images[img.Hash]; !ok {
		cp := *img
		r.s.images[img.Hash] = &cp
	}
	return nil
}

func (r memImageRepo) ListByGallery(_ context.Context, galleryID int64) ([]*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var positions []int
	for p := range r.s.pages[galleryID] {
		positions = append(positions, p)
	}
	sort.Ints(positions)
	out := make([]*model.Image, 0, len(positions))
	for _, p := range positions {
		cp := *r.s.images[r.s.pages[galleryID][p]]
		out = append(out, &cp)
	}
	return out, nil
}

type memPageRepo struct{ s *memStore }

func (r memPageRepo) Create(_ context.Context, p *model.Page) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.pages[p.GalleryID] == nil {
		r.s.pages[p.GalleryID] = map[int]string{}
	}
	if _, ok := r.s.pages[p.GalleryID][p.Page]; !ok {
		r.s.pages[p.GalleryID][p.Page] = p.ImageHash
	}
	return nil
}

func (r memPageRepo) CountByGallery(_ context.Context, galleryID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.pages[galleryID]), nil
}

type memMessageRepo struct{ s *memStore }

func (r memMessageRepo) FindByGallery(_ context.Context, galleryID int64) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[galleryID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r memMessageRepo) Create(_ context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[m.GalleryID]; ok {
		return repository.ErrMessageExists
	}
	cp := *m
	r.s.messages[m.GalleryID] = &cp
	return nil
}

type memTelegraphRepo struct{ s *memStore }

func (r memTelegraphRepo) FindByGallery(_ context.Context, galleryID int64) (*model.Telegraph, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.telegraphs[galleryID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r memTelegraphRepo) Upsert(_ context.Context, t *model.Telegraph) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	r.s.telegraphs[t.GalleryID] = &cp
	return nil
}

type memPollRepo struct{ s *memStore }

func (r memPollRepo) FindByGallery(_ context.Context, galleryID int64) (*model.Poll, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polls[galleryID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r memPollRepo) UpsertVotes(_ context.Context, galleryID int64, votes [model.PollOptions]int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.polls[galleryID] = &model.Poll{GalleryID: galleryID, Votes: votes}
	return nil
}

func (r memPollRepo) ListStale(context.Context, int) ([]*model.Poll, error) { return nil, nil }

func (r memPollRepo) UpdateScore(_ context.Context, galleryID int64, score float64, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.polls[galleryID]; ok {
		p.Score = score
	}
	return nil
}

// --- 外部コンポーネントのモック ---

// mockDetail はDetailFetcherのテスト用モック。
type mockDetail struct {
	mu              sync.Mutex
	calls           int
	fetchDetailFunc func(ctx context.Context, ref model.GalleryURL) (*model.Gallery, error)
}

func (m *mockDetail) FetchDetail(ctx context.Context, ref model.GalleryURL) (*model.Gallery, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.fetchDetailFunc(ctx, ref)
}

// mockAssets はAssetSyncerのテスト用モック。
type mockAssets struct {
	syncFunc func(ctx context.Context, g *model.Gallery) (*pipeline.SyncResult, error)
}

func (m *mockAssets) Sync(ctx context.Context, g *model.Gallery) (*pipeline.SyncResult, error) {
	if m.syncFunc != nil {
		return m.syncFunc(ctx, g)
	}
	return &pipeline.SyncResult{}, nil
}

// mockPublisher は呼び出しごとに異なる記事URLを返すArticlePublisherモック。
type mockPublisher struct {
	calls int
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, g *model.Gallery) (*model.Telegraph, error) {
	if m.err != nil {
		return nil, model.NewSyncError(model.StagePublish, g.ID, m.err)
	}
	m.calls++
	return &model.Telegraph{GalleryID: g.ID, URL: fmt.Sprintf("https://telegra.ph/g%d-%d", g.ID, m.calls)}, nil
}

// mockChecker はArticleCheckerのテスト用モック。
type mockChecker struct {
	reachableFunc func(ctx context.Context, articleURL string) (bool, error)
}

func (m *mockChecker) Reachable(ctx context.Context, articleURL string) (bool, error) {
	return m.reachableFunc(ctx, articleURL)
}

type sentMessage struct {
	text    string
	replyTo int64
}

type editedMessage struct {
	id   int64
	text string
}

// mockChannel は送信・編集を記録するChannelモック。
type mockChannel struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentMessage
	edited  []editedMessage
	sendErr error
}

func (m *mockChannel) Send(_ context.Context, text string, replyTo int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{text: text, replyTo: replyTo})
	return 1000 + m.nextID, nil
}

func (m *mockChannel) Edit(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, editedMessage{id: id, text: text})
	return nil
}

// mockAlbums はAlbumGrouperのテスト用モック。
type mockAlbums struct {
	created [][]string
	err     error
}

func (m *mockAlbums) CreateAlbum(_ context.Context, _, _ string, urls []string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.created = append(m.created, urls)
	return "https://catbox.moe/c/abc123", nil
}

func (m *mockAlbums) EditAlbum(context.Context, string, []string) error { return nil }

// recordingMetrics は失敗段階を記録するMetricsCollector。
type recordingMetrics struct {
	mu       sync.Mutex
	failures []string
	uploaded int
	updated  int
	repub    int
	cycles   int
}

func (m *recordingMetrics) RecordAssetUploaded()                {}
func (m *recordingMetrics) RecordAssetsReused(int)              {}
func (m *recordingMetrics) RecordAssetSkipped()                 {}
func (m *recordingMetrics) RecordPipelineLatency(time.Duration) {}
func (m *recordingMetrics) RecordScoresUpdated(int)             {}

func (m *recordingMetrics) RecordGalleryUploaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded++
}

func (m *recordingMetrics) RecordGalleryUpdated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated++
}

func (m *recordingMetrics) RecordRepublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repub++
}

func (m *recordingMetrics) RecordCycleDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *recordingMetrics) RecordSyncFailure(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, stage)
}

// fixture はEngineとそのモック一式。
type fixture struct {
	store     *memStore
	detail    *mockDetail
	assets    *mockAssets
	publisher *mockPublisher
	checker   *mockChecker
	channel   *mockChannel
	metrics   *recordingMetrics
	sleeps    []time.Duration
	logs      *bytes.Buffer
	engine    *Engine
}

var errNotFound = errors.New("gallery not found on catalog")

// newFixture はdetailsに登録されたギャラリーを返すカタログを持つEngineを生成する。
func newFixture(now time.Time, details ...*model.Gallery) *fixture {
	f := &fixture{
		store:     newMemStore(),
		assets:    &mockAssets{},
		publisher: &mockPublisher{},
		checker:   &mockChecker{reachableFunc: func(context.Context, string) (bool, error) { return true, nil }},
		channel:   &mockChannel{},
		metrics:   &recordingMetrics{},
		logs:      &bytes.Buffer{},
	}
	byID := map[int64]*model.Gallery{}
	for _, d := range details {
		byID[d.ID] = d
	}
	f.detail = &mockDetail{fetchDetailFunc: func(_ context.Context, ref model.GalleryURL) (*model.Gallery, error) {
		d, ok := byID[ref.ID]
		if !ok {
			return nil, errNotFound
		}
		cp := *d
		return &cp, nil
	}}

	f.engine = NewEngine(Deps{
		Galleries:  f.store.galleryRepo(),
		Messages:   f.store.messageRepo(),
		Telegraphs: f.store.telegraphRepo(),
		Polls:      f.store.pollRepo(),
		Detail:     f.detail,
		Assets:     f.assets,
		Publisher:  f.publisher,
		Checker:    f.checker,
		Composer:   staticComposer{},
		Channel:    f.channel,
		Metrics:    f.metrics,
	}, Config{ReuploadThreshold: 0.8, BatchPause: time.Minute, StepPause: time.Second}, newTestLogger(f.logs))
	f.engine.now = func() time.Time { return now }
	f.engine.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

// staticComposer はタイトルと記事URLだけを並べる決定的なComposer。
type staticComposer struct{}

func (staticComposer) Compose(g *model.Gallery, articleURL string) string {
	return g.Title + "|" + articleURL
}

func gallery(id int64, title string, tags ...string) *model.Gallery {
	return &model.Gallery{
		ID:     id,
		Token:  fmt.Sprintf("tok%d", id),
		Host:   "exhentai.org",
		Title:  title,
		Tags:   model.TagGroups{{Namespace: "female", Tags: tags}},
		Posted: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	}
}
