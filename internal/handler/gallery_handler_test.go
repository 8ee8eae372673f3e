package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/HpilOsit/exloli-cat/internal/middleware"
	"github.com/HpilOsit/exloli-cat/internal/model"
	gallerysync "github.com/HpilOsit/exloli-cat/internal/worker/sync"
)

// newGalleryRouter はGalleryHandlerのルートだけを持つテスト用ルーターを返す。
func newGalleryRouter(h *GalleryHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/galleries/upload", h.Upload)
	r.Post("/api/galleries/update", h.Update)
	r.Post("/api/galleries/{id}/republish", h.Republish)
	r.Put("/api/galleries/{id}/poll", h.PutVotes)
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestGalleryHandler_Upload(t *testing.T) {
	var gotRef model.GalleryURL
	var gotGated bool
	syncer := &mockSyncer{
		tryUploadFunc: func(ctx context.Context, ref model.GalleryURL, gated bool) error {
			gotRef, gotGated = ref, gated
			return nil
		},
	}
	var buf bytes.Buffer
	router := newGalleryRouter(NewGalleryHandler(syncer, &mockGalleries{}, &mockVotes{}, newTestLogger(&buf)))

	tests := []struct {
		name      string
		body      string
		wantGated bool
	}{
		{"gated", `{"url":"https://exhentai.org/g/2481632/a1b2c3d4e5/"}`, true},
		{"force", `{"url":"https://exhentai.org/g/2481632/a1b2c3d4e5/","force":true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/galleries/upload", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
			}
			var resp syncResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.GalleryID != 2481632 || resp.Status != "ok" {
				t.Errorf("response = %+v", resp)
			}
			if gotRef.ID != 2481632 || gotRef.Token != "a1b2c3d4e5" {
				t.Errorf("ref = %+v", gotRef)
			}
			if gotGated != tt.wantGated {
				t.Errorf("gated = %v, want %v", gotGated, tt.wantGated)
			}
		})
	}
}

func TestGalleryHandler_Update_UsesTryUpdate(t *testing.T) {
	called := false
	syncer := &mockSyncer{
		tryUploadFunc: func(context.Context, model.GalleryURL, bool) error {
			t.Error("TryUpload should not be called")
			return nil
		},
		tryUpdateFunc: func(ctx context.Context, ref model.GalleryURL, gated bool) error {
			called = true
			if gated {
				t.Error("force=true should disable the gate")
			}
			return nil
		},
	}
	var buf bytes.Buffer
	router := newGalleryRouter(NewGalleryHandler(syncer, &mockGalleries{}, &mockVotes{}, newTestLogger(&buf)))

	req := httptest.NewRequest(http.MethodPost, "/api/galleries/update",
		strings.NewReader(`{"url":"https://e-hentai.org/g/10/tok/","force":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("TryUpdate was not called")
	}
}

func TestGalleryHandler_Upload_InvalidInput(t *testing.T) {
	syncer := &mockSyncer{
		tryUploadFunc: func(context.Context, model.GalleryURL, bool) error {
			t.Error("TryUpload should not be called")
			return nil
		},
	}
	var buf bytes.Buffer
	router := newGalleryRouter(NewGalleryHandler(syncer, &mockGalleries{}, &mockVotes{}, newTestLogger(&buf)))

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"broken json", `{"url":`, model.ErrCodeInvalidRequest},
		{"empty url", `{"url":""}`, model.ErrCodeInvalidGalleryURL},
		{"not a gallery", `{"url":"https://exhentai.org/s/abc/1-1"}`, model.ErrCodeInvalidGalleryURL},
		{"bad scheme", `{"url":"ftp://exhentai.org/g/1/abc/"}`, model.ErrCodeInvalidGalleryURL},
		{"private address", `{"url":"http://127.0.0.1/g/1/abc/"}`, model.ErrCodeInvalidGalleryURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/galleries/upload", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestGalleryHandler_Upload_SyncErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"asset stage", model.NewSyncError(model.StageAsset, 1, errors.New("upload failed")), http.StatusBadGateway, model.ErrCodeSyncFailed},
		{"notify stage", model.NewSyncError(model.StageNotify, 1, errors.New("telegram down")), http.StatusBadGateway, model.ErrCodeSyncFailed},
		{"storage stage", model.NewSyncError(model.StageStorage, 1, errors.New("db down")), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &mockSyncer{
				tryUploadFunc: func(context.Context, model.GalleryURL, bool) error { return tt.err },
			}
			var buf bytes.Buffer
			router := newGalleryRouter(NewGalleryHandler(syncer, &mockGalleries{}, &mockVotes{}, newTestLogger(&buf)))

			req := httptest.NewRequest(http.MethodPost, "/api/galleries/upload",
				strings.NewReader(`{"url":"https://exhentai.org/g/1/abc/"}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if !strings.Contains(buf.String(), "管理APIからの同期に失敗しました") {
				t.Error("expected failure to be logged")
			}
		})
	}
}

func TestGalleryHandler_Republish(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ok", "/api/galleries/7/republish", nil, http.StatusOK, ""},
		{"not stored", "/api/galleries/7/republish", gallerysync.ErrGalleryNotFound, http.StatusNotFound, model.ErrCodeGalleryNotFound},
		{"not notified", "/api/galleries/7/republish", gallerysync.ErrMessageMissing, http.StatusNotFound, model.ErrCodeMessageNotFound},
		{"publish failed", "/api/galleries/7/republish", model.NewSyncError(model.StagePublish, 7, errors.New("telegraph")), http.StatusBadGateway, model.ErrCodeSyncFailed},
		{"bad id", "/api/galleries/abc/republish", nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID int64
			syncer := &mockSyncer{
				republishByIDFunc: func(ctx context.Context, id int64) error {
					gotID = id
					return tt.err
				},
			}
			var buf bytes.Buffer
			router := newGalleryRouter(NewGalleryHandler(syncer, &mockGalleries{}, &mockVotes{}, newTestLogger(&buf)))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if body := decodeError(t, w); body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
				return
			}
			if gotID != 7 {
				t.Errorf("republished id = %d, want 7", gotID)
			}
		})
	}
}

func TestGalleryHandler_PutVotes(t *testing.T) {
	var gotID int64
	var gotVotes [model.PollOptions]int64
	votes := &mockVotes{
		upsertVotesFunc: func(ctx context.Context, id int64, v [model.PollOptions]int64) error {
			gotID, gotVotes = id, v
			return nil
		},
	}
	var buf bytes.Buffer
	router := newGalleryRouter(NewGalleryHandler(&mockSyncer{}, &mockGalleries{}, votes, newTestLogger(&buf)))

	req := httptest.NewRequest(http.MethodPut, "/api/galleries/42/poll", strings.NewReader(`{"votes":[0,1,2,3,4]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != 42 || gotVotes != [model.PollOptions]int64{0, 1, 2, 3, 4} {
		t.Errorf("upsert = %d %v", gotID, gotVotes)
	}
}

func TestGalleryHandler_PutVotes_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		exists     bool
		existsErr  error
		wantStatus int
	}{
		{"wrong length", `{"votes":[1,2,3]}`, true, nil, http.StatusBadRequest},
		{"negative", `{"votes":[1,2,-3,4,5]}`, true, nil, http.StatusBadRequest},
		{"broken json", `{"votes":`, true, nil, http.StatusBadRequest},
		{"unknown gallery", `{"votes":[1,2,3,4,5]}`, false, nil, http.StatusNotFound},
		{"store error", `{"votes":[1,2,3,4,5]}`, false, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			galleries := &mockGalleries{
				existsFunc: func(context.Context, int64) (bool, error) { return tt.exists, tt.existsErr },
			}
			votes := &mockVotes{
				upsertVotesFunc: func(context.Context, int64, [model.PollOptions]int64) error {
					t.Error("UpsertVotes should not be called")
					return nil
				},
			}
			var buf bytes.Buffer
			router := newGalleryRouter(NewGalleryHandler(&mockSyncer{}, galleries, votes, newTestLogger(&buf)))

			req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/galleries/%d/poll", 9), strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
