package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/HpilOsit/exloli-cat/internal/middleware"
	"github.com/HpilOsit/exloli-cat/internal/model"
	"github.com/HpilOsit/exloli-cat/internal/security"
	gallerysync "github.com/HpilOsit/exloli-cat/internal/worker/sync"
)

// GallerySyncer はギャラリーハンドラーが必要とする同期操作のインターフェース。
type GallerySyncer interface {
	// TryUpload は未アップロードのギャラリーをアップロードして通知する。
	TryUpload(ctx context.Context, ref model.GalleryURL, gated bool) error
	// TryUpdate は通知済みギャラリーの変化を確認して通知を編集する。
	TryUpdate(ctx context.Context, ref model.GalleryURL, gated bool) error
	// RepublishByID は保存済みの画像から記事を作り直す。
	RepublishByID(ctx context.Context, galleryID int64) error
}

// VoteStore は外部評価の得票数を保存するインターフェース。
type VoteStore interface {
	UpsertVotes(ctx context.Context, galleryID int64, votes [model.PollOptions]int64) error
}

// GalleryExistence はギャラリーの保存有無を確認するインターフェース。
type GalleryExistence interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// GalleryHandler はギャラリー操作の管理APIハンドラー。
type GalleryHandler struct {
	syncer    GallerySyncer
	galleries GalleryExistence
	votes     VoteStore
	logger    *slog.Logger
}

// NewGalleryHandler はGalleryHandlerを生成する。
func NewGalleryHandler(syncer GallerySyncer, galleries GalleryExistence, votes VoteStore, logger *slog.Logger) *GalleryHandler {
	return &GalleryHandler{
		syncer:    syncer,
		galleries: galleries,
		votes:     votes,
		logger:    logger,
	}
}

// syncRequest はアップロード・更新リクエストのボディ。
type syncRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}

// syncResponse はアップロード・更新の結果。
type syncResponse struct {
	GalleryID int64  `json:"gallery_id"`
	Status    string `json:"status"`
}

// votesRequest は得票数の更新リクエストのボディ。
type votesRequest struct {
	Votes []int64 `json:"votes"`
}

// Upload はギャラリーをアップロードする。forceの場合は保存済みでも再アップロードする。
// POST /api/galleries/upload
func (h *GalleryHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, "upload", h.syncer.TryUpload)
}

// Update は通知済みギャラリーを再チェックする。forceの場合は再チェック間隔を無視する。
// POST /api/galleries/update
func (h *GalleryHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, "update", h.syncer.TryUpdate)
}

func (h *GalleryHandler) sync(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, ref model.GalleryURL, gated bool) error) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	ref, apiErr := parseGalleryURL(req.URL)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	if err := fn(r.Context(), ref, !req.Force); err != nil {
		h.handleSyncError(w, op, ref.ID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, syncResponse{GalleryID: ref.ID, Status: "ok"})
}

// Republish はギャラリーの記事を再公開する。
// POST /api/galleries/{id}/republish
func (h *GalleryHandler) Republish(w http.ResponseWriter, r *http.Request) {
	id, ok := galleryIDParam(w, r)
	if !ok {
		return
	}

	if err := h.syncer.RepublishByID(r.Context(), id); err != nil {
		h.handleSyncError(w, "republish", id, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, syncResponse{GalleryID: id, Status: "ok"})
}

// PutVotes はギャラリーの得票数を記録する。スコアはスコア再計算ジョブが更新する。
// PUT /api/galleries/{id}/poll
func (h *GalleryHandler) PutVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := galleryIDParam(w, r)
	if !ok {
		return
	}

	var req votesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}
	if len(req.Votes) != model.PollOptions {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("votesは5要素の配列で指定してください"))
		return
	}
	var votes [model.PollOptions]int64
	for i, v := range req.Votes {
		if v < 0 {
			middleware.WriteAPIError(w, model.NewInvalidRequestError("得票数は0以上で指定してください"))
			return
		}
		votes[i] = v
	}

	exists, err := h.galleries.Exists(r.Context(), id)
	if err != nil {
		h.logger.Error("ギャラリーの確認に失敗しました", slog.Int64("gallery_id", id), slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if !exists {
		middleware.WriteAPIError(w, model.NewGalleryNotFoundError(id))
		return
	}

	if err := h.votes.UpsertVotes(r.Context(), id, votes); err != nil {
		h.logger.Error("得票数の保存に失敗しました", slog.Int64("gallery_id", id), slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSyncError は同期エラーをAPIエラーに変換する。
func (h *GalleryHandler) handleSyncError(w http.ResponseWriter, op string, galleryID int64, err error) {
	switch {
	case errors.Is(err, gallerysync.ErrGalleryNotFound):
		middleware.WriteAPIError(w, model.NewGalleryNotFoundError(galleryID))
		return
	case errors.Is(err, gallerysync.ErrMessageMissing):
		middleware.WriteAPIError(w, model.NewMessageNotFoundError(galleryID))
		return
	}

	stage := model.StageOf(err)
	h.logger.Error("管理APIからの同期に失敗しました",
		slog.String("operation", op),
		slog.Int64("gallery_id", galleryID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
	if stage == "" || stage == model.StageStorage {
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteAPIError(w, model.NewSyncFailedError(stage))
}

// parseGalleryURL は入力URLを検証してギャラリー参照に変換する。
func parseGalleryURL(raw string) (model.GalleryURL, *model.APIError) {
	if raw == "" {
		return model.GalleryURL{}, model.NewInvalidGalleryURLError("URLが空です")
	}
	if err := security.ValidateURL(raw); err != nil {
		return model.GalleryURL{}, model.NewInvalidGalleryURLError(err.Error())
	}
	ref, err := model.ParseGalleryURL(raw)
	if err != nil {
		return model.GalleryURL{}, model.NewInvalidGalleryURLError(err.Error())
	}
	return ref, nil
}

// galleryIDParam はパスパラメータのギャラリーIDを解析する。不正な場合はエラーレスポンスを書き込む。
func galleryIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("ギャラリーIDが不正です"))
		return 0, false
	}
	return id, true
}
