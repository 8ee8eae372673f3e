package model

import "time"

// Image は再ホスト済みの画像（Asset）。Hashで一意に識別され、複数のギャラリーから共有される。
type Image struct {
	Hash      string
	FileIndex int64
	URL       string
	CreatedAt time.Time
}

// Page はギャラリー内の位置と画像の対応（1始まり）。
type Page struct {
	GalleryID int64
	Page      int
	ImageHash string
}

// Message はチャンネルに投稿した通知（Notification）。ギャラリーごとに最大1件。
type Message struct {
	ID          int64
	GalleryID   int64
	PublishDate time.Time
	CreatedAt   time.Time
}

// Telegraph はギャラリーの公開記事（Article）への参照。ギャラリーごとに最大1件。
type Telegraph struct {
	GalleryID int64
	URL       string
	UpdatedAt time.Time
}

// PollOptions は投票の選択肢数。
const PollOptions = 5

// Poll はギャラリーに対する外部評価（FeedbackScore）。
// Votesは選択肢ごとの得票数、Scoreは[0,1]に正規化した評価値。
// ScoredAtがUpdatedAtより古い場合はスコアの再計算が必要。
type Poll struct {
	GalleryID int64
	Votes     [PollOptions]int64
	Score     float64
	UpdatedAt time.Time
	ScoredAt  *time.Time
}
