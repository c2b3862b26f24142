package artifact

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// StorageOptions locate an S3-compatible bucket
type StorageOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Object is an uploaded package
type Object struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
	Size   int64  `json:"size" yaml:"size"`
	ETag   string `json:"etag" yaml:"etag"`
}

// Uploader puts packages into an S3-compatible bucket (AWS S3, MinIO and others)
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader creates an uploader for opts.Bucket
func NewUploader(opts StorageOptions) (*Uploader, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", opts.Endpoint).
		Str("bucket", opts.Bucket).
		Bool("ssl", opts.UseSSL).
		Msg("Package storage initialized")

	return &Uploader{client: client, bucket: opts.Bucket}, nil
}

// ObjectKey is where a package for one deployment is stored:
// <project>/<stage>/<region>/<deployedName>/<unix-millis>.zip
func ObjectKey(project, stage, region, deployedName string, at time.Time) string {
	return path.Join(project, stage, region, deployedName, strconv.FormatInt(at.UnixMilli(), 10)+".zip")
}

// Upload stores the file at filePath under key
func (u *Uploader) Upload(ctx context.Context, key, filePath string) (*Object, error) {
	info, err := u.client.FPutObject(ctx, u.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload package: %w", err)
	}

	log.Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Package uploaded")

	return &Object{
		Bucket: u.bucket,
		Key:    key,
		Size:   info.Size,
		ETag:   info.ETag,
	}, nil
}
