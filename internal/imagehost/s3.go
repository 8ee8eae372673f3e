package imagehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrIncompleteS3Config はS3の設定が不足している場合に返される。
var ErrIncompleteS3Config = errors.New("incomplete S3 configuration")

// S3Config はS3互換ストレージの設定。
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	KeyID     string
	AccessKey string
	// PublicURL はアップロードしたオブジェクトを公開するベースURL。
	PublicURL string
	// Prefix はオブジェクトキーの接頭辞。
	Prefix string
}

// S3Uploader はS3互換ストレージに画像を保存するアップローダー。
type S3Uploader struct {
	uploader  *manager.Uploader
	bucket    string
	publicURL string
	prefix    string
	logger    *slog.Logger
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader はS3Uploaderを生成する。
func NewS3Uploader(cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" ||
		strings.TrimSpace(cfg.Region) == "" ||
		strings.TrimSpace(cfg.Bucket) == "" ||
		strings.TrimSpace(cfg.KeyID) == "" ||
		strings.TrimSpace(cfg.AccessKey) == "" ||
		strings.TrimSpace(cfg.PublicURL) == "" {
		return nil, ErrIncompleteS3Config
	}

	client := s3.New(s3.Options{
		UsePathStyle: true,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.AccessKey, ""),
		),
	})

	return &S3Uploader{
		uploader:  manager.NewUploader(client),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		prefix:    strings.Trim(cfg.Prefix, "/"),
		logger:    logger,
	}, nil
}

// Upload は画像を <prefix>/<filename> に保存し、公開URLを返す。
func (u *S3Uploader) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	key := filename
	if u.prefix != "" {
		key = path.Join(u.prefix, filename)
	}

	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(filename)),
	})
	if err != nil {
		var mu manager.MultiUploadFailure
		if errors.As(err, &mu) {
			return "", fmt.Errorf("マルチパートアップロードに失敗しました (upload_id: %s): %w", mu.UploadID(), err)
		}
		return "", fmt.Errorf("S3へのアップロードに失敗しました (%s): %w", key, err)
	}

	u.logger.Debug("画像をS3に保存しました", slog.String("bucket", u.bucket), slog.String("key", key))
	return u.publicURL + "/" + key, nil
}
