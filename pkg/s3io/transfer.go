package s3io

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/s3xrc/s3xrc/pkg/manifest"
)

// TransferConfig tunes the managed transfer helpers.
type TransferConfig struct {
	// Concurrency is the number of concurrent transfer parts.
	// Default: NumCPU clamped to [4, 16].
	Concurrency int

	// PartSize is the size of each transfer part in bytes. Default 16MB.
	PartSize int64
}

// DefaultTransferConfig returns sensible defaults for the current machine.
func DefaultTransferConfig() TransferConfig {
	concurrency := runtime.NumCPU()
	if concurrency < 4 {
		concurrency = 4
	}
	if concurrency > 16 {
		concurrency = 16
	}
	return TransferConfig{
		Concurrency: concurrency,
		PartSize:    16 * 1024 * 1024,
	}
}

// Downloader wraps the transfer manager for parallel range downloads.
type Downloader struct {
	manager *manager.Downloader
}

func NewDownloader(api manager.DownloadAPIClient, cfg TransferConfig) *Downloader {
	def := DefaultTransferConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(api, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
		d.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(int(cfg.PartSize))
	})
	return &Downloader{manager: mgr}
}

// DownloadToFile downloads an object to destPath, removing the partial
// file on failure.
func (d *Downloader) DownloadToFile(ctx context.Context, bucket, key, destPath string) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create destination file: %w", err)
	}
	defer f.Close()

	n, err := d.manager.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// UploadInput describes one upload.
type UploadInput struct {
	Bucket string
	Key    string

	// Path is the local file to stream.
	Path string

	StorageClass string
	KMSKeyARN    string
	Tags         []manifest.Tag
}

// Uploader wraps the transfer manager for multipart uploads.
type Uploader struct {
	manager *manager.Uploader
}

func NewUploader(api manager.UploadAPIClient, cfg TransferConfig) *Uploader {
	def := DefaultTransferConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewUploader(api, func(u *manager.Uploader) {
		u.Concurrency = cfg.Concurrency
		u.PartSize = cfg.PartSize
	})
	return &Uploader{manager: mgr}
}

// UploadFile streams the file at in.Path to the destination, applying the
// storage class, encryption key, and tags when set.
func (u *Uploader) UploadFile(ctx context.Context, in UploadInput) error {
	f, err := os.Open(in.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.Path, err)
	}
	defer f.Close()

	put := &s3.PutObjectInput{
		Bucket: aws.String(in.Bucket),
		Key:    aws.String(in.Key),
		Body:   f,
	}
	if in.StorageClass != "" {
		put.StorageClass = types.StorageClass(in.StorageClass)
	}
	if in.KMSKeyARN != "" {
		put.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		put.SSEKMSKeyId = aws.String(in.KMSKeyARN)
	}
	if tagging := EncodeTagging(in.Tags); tagging != "" {
		put.Tagging = aws.String(tagging)
	}

	if _, err := u.manager.Upload(ctx, put); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", in.Bucket, in.Key, err)
	}
	return nil
}
