// Package s3io provides the object-store operations used by both
// pipelines: metadata resolution, managed download/upload, tagging, and
// deletion.
package s3io

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/s3xrc/s3xrc/pkg/manifest"
)

// API is the subset of the S3 client the package uses, including the
// multipart operations required by the transfer manager.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// ObjectMeta is the resolved metadata of a source object.
type ObjectMeta struct {
	Size         int64
	LastModified time.Time
	ETag         string
	StorageClass string
	Tags         []manifest.Tag
}

// Client bundles the raw S3 API with the managed transfer helpers.
type Client struct {
	api        API
	downloader *Downloader
	uploader   *Uploader
}

// NewClient creates a client using the default AWS configuration chain.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithAPI(s3.NewFromConfig(cfg)), nil
}

// NewClientWithAPI creates a client over an existing API implementation.
func NewClientWithAPI(api API) *Client {
	return &Client{
		api:        api,
		downloader: NewDownloader(api, DefaultTransferConfig()),
		uploader:   NewUploader(api, DefaultTransferConfig()),
	}
}

// Head resolves the metadata and tag set of an object.
func (c *Client) Head(ctx context.Context, bucket, key string) (*ObjectMeta, error) {
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	tagging, err := c.api.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get tags s3://%s/%s: %w", bucket, key, err)
	}
	tags := make([]manifest.Tag, 0, len(tagging.TagSet))
	for _, t := range tagging.TagSet {
		tags = append(tags, manifest.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}

	meta := &ObjectMeta{
		Size:         aws.ToInt64(head.ContentLength),
		ETag:         trimETag(aws.ToString(head.ETag)),
		StorageClass: string(head.StorageClass),
		Tags:         tags,
	}
	if head.LastModified != nil {
		meta.LastModified = head.LastModified.UTC()
	}
	if meta.StorageClass == "" {
		meta.StorageClass = "STANDARD"
	}
	return meta, nil
}

// Download fetches an object to destPath using parallel range requests.
func (c *Client) Download(ctx context.Context, bucket, key, destPath string) (int64, error) {
	return c.downloader.DownloadToFile(ctx, bucket, key, destPath)
}

// Upload streams the file at path to the destination with the given
// options.
func (c *Client) Upload(ctx context.Context, in UploadInput) error {
	return c.uploader.UploadFile(ctx, in)
}

// Delete removes an object. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// EncodeTagging renders tags as the URL-encoded query string the object
// store expects on upload.
func EncodeTagging(tags []manifest.Tag) string {
	if len(tags) == 0 {
		return ""
	}
	v := url.Values{}
	for _, t := range tags {
		v.Set(t.Key, t.Value)
	}
	return v.Encode()
}

// trimETag strips the quotes the object store wraps ETags in.
func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
