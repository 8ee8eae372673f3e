package model

import (
	"errors"
	"fmt"
)

// Stage は同期処理のどの段階で失敗したかを表す。
type Stage string

const (
	// StageSource はカタログの取得・解析の失敗。
	StageSource Stage = "source"
	// StageAsset は画像の解決・取得・再ホストの失敗。
	StageAsset Stage = "asset"
	// StagePublish は記事作成の失敗。
	StagePublish Stage = "publish"
	// StageNotify は通知の送信・編集の失敗。
	StageNotify Stage = "notify"
	// StageStorage は永続化の失敗。
	StageStorage Stage = "storage"
)

// SyncError はギャラリー単位の同期処理エラー。
// ログに段階とギャラリーIDを残すために使用する。
type SyncError struct {
	Stage     Stage
	GalleryID int64
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *SyncError) Error() string {
	return fmt.Sprintf("[%s] gallery %d: %v", e.Stage, e.GalleryID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError はSyncErrorを生成する。errがnilの場合はnilを返す。
func NewSyncError(stage Stage, galleryID int64, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Stage: stage, GalleryID: galleryID, Err: err}
}

// StageOf はエラーチェーンからStageを取り出す。見つからない場合は空文字を返す。
func StageOf(err error) Stage {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// APIError は管理APIの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, gallery, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidGalleryURL = "INVALID_GALLERY_URL"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeGalleryNotFound   = "GALLERY_NOT_FOUND"
	ErrCodeMessageNotFound   = "MESSAGE_NOT_FOUND"
	ErrCodeSyncFailed        = "SYNC_FAILED"
	ErrCodeBatchRunning      = "BATCH_RUNNING"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証トークンが無効です。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しいBearerトークンを指定してください。",
	}
}

// NewInvalidGalleryURLError は無効なギャラリーURLエラーを生成する。
func NewInvalidGalleryURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGalleryURL,
		Message:  fmt.Sprintf("無効なギャラリーURLです: %s", reason),
		Category: "validation",
		Action:   "https://<host>/g/<id>/<token>/ 形式のURLを指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディのJSONを確認してください。",
	}
}

// NewGalleryNotFoundError はギャラリー未登録エラーを生成する。
func NewGalleryNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeGalleryNotFound,
		Message:  fmt.Sprintf("指定されたギャラリーは登録されていません: %d", id),
		Category: "gallery",
		Action:   "先にアップロードを実行してください。",
	}
}

// NewMessageNotFoundError は通知未送信エラーを生成する。
func NewMessageNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeMessageNotFound,
		Message:  fmt.Sprintf("指定されたギャラリーの通知がありません: %d", id),
		Category: "gallery",
		Action:   "再公開は通知済みのギャラリーに対してのみ実行できます。",
	}
}

// NewSyncFailedError は同期処理の失敗エラーを生成する。
func NewSyncFailedError(stage Stage) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("ギャラリーの同期に失敗しました（段階: %s）", stage),
		Category: "gallery",
		Action:   "ログを確認し、しばらく待ってから再度お試しください。",
	}
}

// NewBatchRunningError はバッチ実行中エラーを生成する。
func NewBatchRunningError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeBatchRunning,
		Message:  fmt.Sprintf("別のバッチが実行中です: %s", jobID),
		Category: "gallery",
		Action:   "実行中のバッチが完了してから再度お試しください。",
	}
}
