package handler

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockSyncer はGallerySyncerのモック。
type mockSyncer struct {
	tryUploadFunc     func(ctx context.Context, ref model.GalleryURL, gated bool) error
	tryUpdateFunc     func(ctx context.Context, ref model.GalleryURL, gated bool) error
	republishByIDFunc func(ctx context.Context, galleryID int64) error
}

func (m *mockSyncer) TryUpload(ctx context.Context, ref model.GalleryURL, gated bool) error {
	if m.tryUploadFunc != nil {
		return m.tryUploadFunc(ctx, ref, gated)
	}
	return nil
}

func (m *mockSyncer) TryUpdate(ctx context.Context, ref model.GalleryURL, gated bool) error {
	if m.tryUpdateFunc != nil {
		return m.tryUpdateFunc(ctx, ref, gated)
	}
	return nil
}

func (m *mockSyncer) RepublishByID(ctx context.Context, galleryID int64) error {
	if m.republishByIDFunc != nil {
		return m.republishByIDFunc(ctx, galleryID)
	}
	return nil
}

// mockGalleries はGalleryExistenceのモック。
type mockGalleries struct {
	existsFunc func(ctx context.Context, id int64) (bool, error)
}

func (m *mockGalleries) Exists(ctx context.Context, id int64) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, id)
	}
	return true, nil
}

// mockVotes はVoteStoreのモック。
type mockVotes struct {
	upsertVotesFunc func(ctx context.Context, galleryID int64, votes [model.PollOptions]int64) error
}

func (m *mockVotes) UpsertVotes(ctx context.Context, galleryID int64, votes [model.PollOptions]int64) error {
	if m.upsertVotesFunc != nil {
		return m.upsertVotesFunc(ctx, galleryID, votes)
	}
	return nil
}

// mockBatch はBatchRunnerのモック。呼び出しを記録する。
type mockBatch struct {
	mu           sync.Mutex
	reuploadFunc func(ctx context.Context, ids []int64) error
	recheckFunc  func(ctx context.Context, ids []int64) error
	calls        []string
	ids          [][]int64
}

func (m *mockBatch) record(op string, ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	m.ids = append(m.ids, ids)
}

func (m *mockBatch) BatchReupload(ctx context.Context, ids []int64) error {
	m.record("reupload", ids)
	if m.reuploadFunc != nil {
		return m.reuploadFunc(ctx, ids)
	}
	return nil
}

func (m *mockBatch) BatchRecheck(ctx context.Context, ids []int64) error {
	m.record("recheck", ids)
	if m.recheckFunc != nil {
		return m.recheckFunc(ctx, ids)
	}
	return nil
}

// mockPinger はPingerのモック。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}
