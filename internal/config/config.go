package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// カタログの一覧取得方式。
const (
	ListingHTML = "html"
	ListingFeed = "feed"
)

// 画像の再ホスト先。
const (
	ImageHostCatbox = "catbox"
	ImageHostS3     = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramToken     string
	TelegramChannelID string

	// Catalog
	ExhentaiCookie         string
	CatalogBaseURL         string
	CatalogSearchParams    url.Values
	CatalogSearchCount     int
	CatalogListing         string
	CatalogFeedURL         string
	CatalogRequestInterval time.Duration

	// Scan
	ScanInterval      time.Duration
	ItemPause         time.Duration
	UploadConcurrency int
	SkipAnimated      bool
	HTTPTimeout       time.Duration
	AssetMaxSize      int64

	// Image host
	ImageHost       string
	CatboxUploadURL string
	CatboxUserhash  string
	CatboxAlbum     bool
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3KeyID         string
	S3AccessKey     string
	S3PublicURL     string

	// Telegraph
	TelegraphAccessToken string
	TelegraphAuthorName  string
	TelegraphAuthorURL   string

	// Tags
	TagTransFile string

	// Batch
	ReuploadScoreThreshold float64
	BatchPause             time.Duration
	BatchStepPause         time.Duration
	ScoreInterval          time.Duration

	// Admin API
	AdminPort  string
	AdminToken string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.TelegramToken = required("TELEGRAM_TOKEN")
	cfg.TelegramChannelID = required("TELEGRAM_CHANNEL_ID")
	cfg.ExhentaiCookie = required("EXHENTAI_COOKIE")
	cfg.TelegraphAccessToken = required("TELEGRAPH_ACCESS_TOKEN")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CatalogBaseURL = getEnvString("CATALOG_BASE_URL", "https://exhentai.org")
	params, err := url.ParseQuery(getEnvString("CATALOG_SEARCH_PARAMS", ""))
	if err != nil {
		return nil, fmt.Errorf("CATALOG_SEARCH_PARAMS is not a valid query string: %w", err)
	}
	cfg.CatalogSearchParams = params
	cfg.CatalogSearchCount = getEnvInt("CATALOG_SEARCH_COUNT", 50)
	cfg.CatalogListing = strings.ToLower(getEnvString("CATALOG_LISTING", ListingHTML))
	cfg.CatalogFeedURL = getEnvString("CATALOG_FEED_URL", "")
	cfg.CatalogRequestInterval = getEnvDuration("CATALOG_REQUEST_INTERVAL", 500*time.Millisecond)

	cfg.ScanInterval = getEnvDuration("SCAN_INTERVAL", time.Hour)
	cfg.ItemPause = getEnvDuration("ITEM_PAUSE", time.Second)
	cfg.UploadConcurrency = getEnvInt("UPLOAD_CONCURRENCY", 4)
	cfg.SkipAnimated = getEnvBool("SKIP_ANIMATED", true)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 30*time.Second)
	cfg.AssetMaxSize = getEnvInt64("ASSET_MAX_SIZE", 20<<20)

	cfg.ImageHost = strings.ToLower(getEnvString("IMAGE_HOST", ImageHostCatbox))
	cfg.CatboxUploadURL = getEnvString("CATBOX_UPLOAD_URL", "")
	cfg.CatboxUserhash = getEnvString("CATBOX_USERHASH", "")
	cfg.CatboxAlbum = getEnvBool("CATBOX_ALBUM", false)
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3Region = getEnvString("S3_REGION", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3KeyID = getEnvString("S3_KEY_ID", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3PublicURL = getEnvString("S3_PUBLIC_URL", "")

	cfg.TelegraphAuthorName = getEnvString("TELEGRAPH_AUTHOR_NAME", "")
	cfg.TelegraphAuthorURL = getEnvString("TELEGRAPH_AUTHOR_URL", "")
	cfg.TagTransFile = getEnvString("TAG_TRANS_FILE", "")

	cfg.ReuploadScoreThreshold = getEnvFloat("REUPLOAD_SCORE_THRESHOLD", 0.8)
	cfg.BatchPause = getEnvDuration("BATCH_PAUSE", 60*time.Second)
	cfg.BatchStepPause = getEnvDuration("BATCH_STEP_PAUSE", time.Second)
	cfg.ScoreInterval = getEnvDuration("SCORE_INTERVAL", 10*time.Minute)

	cfg.AdminPort = getEnvString("ADMIN_PORT", "8080")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CatalogListing {
	case ListingHTML:
	case ListingFeed:
		if c.CatalogFeedURL == "" {
			return fmt.Errorf("CATALOG_FEED_URL is required when CATALOG_LISTING=%s", ListingFeed)
		}
	default:
		return fmt.Errorf("CATALOG_LISTING must be %q or %q, got %q", ListingHTML, ListingFeed, c.CatalogListing)
	}

	switch c.ImageHost {
	case ImageHostCatbox, ImageHostS3:
	default:
		return fmt.Errorf("IMAGE_HOST must be %q or %q, got %q", ImageHostCatbox, ImageHostS3, c.ImageHost)
	}

	if c.UploadConcurrency <= 0 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be positive, got %d", c.UploadConcurrency)
	}
	if c.ReuploadScoreThreshold < 0 || c.ReuploadScoreThreshold > 1 {
		return fmt.Errorf("REUPLOAD_SCORE_THRESHOLD must be within [0,1], got %v", c.ReuploadScoreThreshold)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
