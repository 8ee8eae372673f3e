package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HpilOsit/exloli-cat/internal/middleware"
	"github.com/HpilOsit/exloli-cat/internal/model"
)

// BatchRunner は保守用のバッチ処理のインターフェース。
type BatchRunner interface {
	// BatchReupload は高評価のギャラリーを再アップロードする。
	BatchReupload(ctx context.Context, ids []int64) error
	// BatchRecheck は通知済みギャラリーの記事を確認し、消えていれば再公開する。
	BatchRecheck(ctx context.Context, ids []int64) error
}

// BatchHandler はバッチ処理をバックグラウンドで起動する管理APIハンドラー。
// 同時に実行できるバッチは1件のみ。
type BatchHandler struct {
	runner  BatchRunner
	baseCtx context.Context
	logger  *slog.Logger

	mu      sync.Mutex
	running string
	wg      sync.WaitGroup
}

// NewBatchHandler はBatchHandlerを生成する。
// バッチはリクエストではなくbaseCtxに紐づき、baseCtxのキャンセルで中断される。
func NewBatchHandler(baseCtx context.Context, runner BatchRunner, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		runner:  runner,
		baseCtx: baseCtx,
		logger:  logger,
	}
}

// batchRequest はバッチ起動リクエストのボディ。idsを省略した場合は全ギャラリーが対象。
type batchRequest struct {
	IDs []int64 `json:"ids"`
}

// batchResponse はバッチ起動の結果。
type batchResponse struct {
	JobID     string `json:"job_id"`
	Operation string `json:"operation"`
	Targets   int    `json:"targets"`
}

// Reupload は再アップロードバッチを起動する。
// POST /api/batch/reupload
func (h *BatchHandler) Reupload(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "reupload", h.runner.BatchReupload)
}

// Recheck は記事の再確認バッチを起動する。
// POST /api/batch/recheck
func (h *BatchHandler) Recheck(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "recheck", h.runner.BatchRecheck)
}

func (h *BatchHandler) start(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, ids []int64) error) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	h.mu.Lock()
	if h.running != "" {
		running := h.running
		h.mu.Unlock()
		middleware.WriteAPIError(w, model.NewBatchRunningError(running))
		return
	}
	jobID := uuid.NewString()
	h.running = jobID
	h.wg.Add(1)
	h.mu.Unlock()

	logger := h.logger.With(slog.String("job_id", jobID), slog.String("operation", op))
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			h.running = ""
			h.mu.Unlock()
		}()

		start := time.Now()
		logger.Info("バッチを開始しました", slog.Int("targets", len(req.IDs)))
		if err := fn(h.baseCtx, req.IDs); err != nil {
			logger.Error("バッチが失敗しました", slog.String("error", err.Error()))
			return
		}
		logger.Info("バッチが完了しました",
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}()

	middleware.WriteJSON(w, http.StatusAccepted, batchResponse{JobID: jobID, Operation: op, Targets: len(req.IDs)})
}

// Wait は実行中のバッチの終了を待つ。
func (h *BatchHandler) Wait() {
	h.wg.Wait()
}
