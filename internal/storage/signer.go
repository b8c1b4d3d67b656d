// Package storage issues pre-signed URLs for direct asset uploads to
// S3-compatible object storage. The generation pipeline uploads scene video
// straight to the bucket; the API never proxies asset bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Allowed MIME types for scene assets.
const (
	MIMEVideoMP4  = "video/mp4"
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
)

// Validation errors.
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrInvalidSize     = errors.New("file size must be positive")
)

// allowedMIMETypes maps allowed MIME types to their file extensions.
var allowedMIMETypes = map[string]string{
	MIMEVideoMP4:  ".mp4",
	MIMEImageJPEG: ".jpg",
	MIMEImagePNG:  ".png",
}

// SignRequest describes one upload to authorize. SceneID is the mirror
// scene row the asset belongs to; zero means the asset is not yet bound to
// a scene.
type SignRequest struct {
	ContentType string
	SizeBytes   int64
	SceneID     uint64
}

// SignedUpload carries a pre-signed PUT URL and the asset's durable
// location. AssetURL is what confirmation records as the scene's
// content_ref.
type SignedUpload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	AssetURL  string    `json:"asset_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer authorizes direct uploads.
type Signer interface {
	SignUpload(ctx context.Context, req SignRequest) (*SignedUpload, error)
}

// Config holds S3 connection settings. Endpoint supports any S3-compatible
// store; path-style addressing is used throughout.
type Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	MaxSizeMB       int
	URLExpiry       time.Duration
}

// S3Signer implements Signer against an S3-compatible bucket.
type S3Signer struct {
	presign      *s3.PresignClient
	bucket       string
	endpoint     string
	maxSizeBytes int64
	urlExpiry    time.Duration
	now          func() time.Time
}

// Default upload limits.
const (
	DefaultMaxSizeMB = 512
	DefaultURLExpiry = 5 * time.Minute
)

// NewS3Signer creates an S3Signer.
func NewS3Signer(cfg Config) (*S3Signer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("credentials are required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Signer{
		presign:      s3.NewPresignClient(client),
		bucket:       cfg.Bucket,
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		maxSizeBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
		urlExpiry:    cfg.URLExpiry,
		now:          time.Now,
	}, nil
}

// ValidateContentType checks whether the content type is allowed.
func ValidateContentType(contentType string) error {
	if _, ok := allowedMIMETypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// validateSize checks the declared size against the configured cap.
func (s *S3Signer) validateSize(sizeBytes int64) error {
	if sizeBytes <= 0 {
		return ErrInvalidSize
	}
	if sizeBytes > s.maxSizeBytes {
		return ErrFileTooLarge
	}
	return nil
}

// ObjectKey creates a unique object key for an upload.
// Pattern: scenes/{sceneID or pending}/{uuid}{ext}.
func ObjectKey(contentType string, sceneID uint64) (string, error) {
	ext, ok := allowedMIMETypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	prefix := "pending"
	if sceneID != 0 {
		prefix = fmt.Sprintf("%d", sceneID)
	}
	return fmt.Sprintf("scenes/%s/%s%s", prefix, uuid.New().String(), ext), nil
}

// SignUpload validates the request and returns a pre-signed PUT URL.
func (s *S3Signer) SignUpload(ctx context.Context, req SignRequest) (*SignedUpload, error) {
	if err := ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	if err := s.validateSize(req.SizeBytes); err != nil {
		return nil, err
	}
	key, err := ObjectKey(req.ContentType, req.SceneID)
	if err != nil {
		return nil, err
	}

	presigned, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.SizeBytes),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}

	return &SignedUpload{
		URL:       presigned.URL,
		Key:       key,
		AssetURL:  fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key),
		ExpiresAt: s.now().Add(s.urlExpiry),
	}, nil
}
