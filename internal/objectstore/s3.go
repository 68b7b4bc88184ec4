// Package objectstore stores broadcast images in an S3-compatible bucket.
// Messages reference images by URL, so the bucket (or the CDN in front of
// it) must be publicly readable.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxImageSize caps uploads at 10 MB, which is also the Telegram photo
// limit for URL sends.
const MaxImageSize = 10 << 20

var (
	ErrNotConfigured  = errors.New("objectstore: not configured")
	ErrInvalidImage   = errors.New("objectstore: unsupported image type")
	ErrTooLarge       = errors.New("objectstore: image exceeds size limit")
	ErrMissingDetails = errors.New("objectstore: name, content type and size are required")
)

// imageExt maps the accepted image MIME types onto object key extensions.
var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// Client wraps the S3 API with the two operations the broadcast surface
// needs: direct image upload and presigned PUT URLs.
type Client struct {
	cfg     Config
	s3      *s3.Client
	presign *s3.PresignClient
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// Custom endpoints are minio-style deployments; those need
			// path-style addressing.
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg:     cfg,
		s3:      api,
		presign: s3.NewPresignClient(api),
	}, nil
}

// Upload streams an image into the bucket and returns its public URL.
// The caller is expected to have already bounded the reader; size is what
// the client declared and is validated against the limit.
func (c *Client) Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (string, error) {
	key, err := c.objectKey(name, contentType, size)
	if err != nil {
		return "", err
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return c.publicURL(key), nil
}

// PresignedUpload is a presigned PUT URL plus the headers the uploader
// must send with it.
type PresignedUpload struct {
	Key       string            `json:"key"`
	UploadURL string            `json:"uploadURL"`
	PublicURL string            `json:"publicURL"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// PresignUpload validates the declared upload and returns a time-limited
// PUT URL for it. Nothing is written until the client performs the PUT.
func (c *Client) PresignUpload(ctx context.Context, name, contentType string, size int64) (PresignedUpload, error) {
	key, err := c.objectKey(name, contentType, size)
	if err != nil {
		return PresignedUpload{}, err
	}

	presigned, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, func(po *s3.PresignOptions) {
		if c.cfg.PresignTTL > 0 {
			po.Expires = c.cfg.PresignTTL
		}
	})
	if err != nil {
		return PresignedUpload{}, fmt.Errorf("presign put: %w", err)
	}

	return PresignedUpload{
		Key:       key,
		UploadURL: presigned.URL,
		PublicURL: c.publicURL(key),
		Headers: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": strconv.FormatInt(size, 10),
		},
	}, nil
}

func (c *Client) objectKey(name, contentType string, size int64) (string, error) {
	if name == "" || contentType == "" || size <= 0 {
		return "", ErrMissingDetails
	}
	if size > MaxImageSize {
		return "", ErrTooLarge
	}
	mime := strings.ToLower(strings.TrimSpace(contentType))
	fallback, ok := imageExt[mime]
	if !ok {
		return "", ErrInvalidImage
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		ext = fallback
	}
	return "broadcasts/" + uuid.NewString() + ext, nil
}

func (c *Client) publicURL(key string) string {
	if base := strings.TrimSuffix(c.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	if c.cfg.Endpoint != "" {
		return strings.TrimSuffix(c.cfg.Endpoint, "/") + "/" + c.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, c.cfg.Region, key)
}
