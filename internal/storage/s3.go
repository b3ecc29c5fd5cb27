package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage implements the Storage interface using AWS S3 (or R2)
type S3Storage struct {
	client     *s3.Client
	bucket     string
	baseURL    string // For public URLs (e.g., R2 public URL)
	publicRead bool   // Whether to make uploaded files publicly readable
}

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region      string
	Bucket      string
	AccessKey   string
	SecretKey   string
	EndpointURL string // For R2: https://account-id.r2.cloudflarestorage.com
	BaseURL     string // For public URLs: https://pub-bucket.r2.dev
	PublicRead  bool   // Whether to make files publicly readable
}

// NewS3Storage creates a new S3 storage implementation
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Use explicit credentials
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
			config.WithRegion(cfg.Region),
		)
	} else {
		// Use default credential chain
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Configure custom endpoint for R2
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true // R2 requires path-style addressing
		}
	})

	storage := &S3Storage{
		client:     client,
		bucket:     cfg.Bucket,
		baseURL:    cfg.BaseURL,
		publicRead: cfg.PublicRead,
	}

	// Test connection
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	slog.Info("S3/R2 storage initialized", "bucket", cfg.Bucket, "endpoint", cfg.EndpointURL)
	return storage, nil
}

func (s *S3Storage) Provider() string { return "s3" }

// UploadFile uploads a local file under the given key
func (s *S3Storage) UploadFile(ctx context.Context, localPath, key, mimeType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrUploadFailed, localPath, err)
	}
	defer file.Close()

	return s.uploadReader(ctx, file, key, mimeType)
}

// UploadBytes uploads an in-memory object under the given key
func (s *S3Storage) UploadBytes(ctx context.Context, data []byte, key, mimeType string) (string, error) {
	return s.uploadReader(ctx, bytes.NewReader(data), key, mimeType)
}

// uploadReader handles the actual upload to S3
func (s *S3Storage) uploadReader(ctx context.Context, reader io.Reader, key, mimeType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	}

	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	// Make file publicly readable if configured
	if s.publicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrUploadFailed, key, err)
	}

	slog.Info("File uploaded successfully", "key", key, "bucket", s.bucket)
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// DownloadFile downloads an object and returns its content
func (s *S3Storage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	return content, nil
}

// DownloadFileTo downloads an object to a local path
func (s *S3Storage) DownloadFileTo(ctx context.Context, key, localPath string) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download file %s: %w", key, err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, result.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	return nil
}

// FileExists checks if an object exists in S3
func (s *S3Storage) FileExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("storage key is empty")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if file exists: %w", err)
	}

	return true, nil
}

// DeleteFile deletes an object from S3. Deleting an absent key succeeds.
func (s *S3Storage) DeleteFile(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("storage key is empty")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}

	return nil
}

// DeletePrefix deletes every object under the given key prefix
func (s *S3Storage) DeletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("failed to delete file %s: %w", aws.ToString(obj.Key), err)
			}
			deleted++
		}
	}

	slog.Info("Prefix deleted", "prefix", prefix, "objects", deleted)
	return nil
}

// GenerateDownloadURL generates a public or presigned download URL
func (s *S3Storage) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if s.baseURL != "" {
		// Use public R2 URL if configured
		return fmt.Sprintf("%s/%s", strings.TrimRight(s.baseURL, "/"), key), nil
	}

	if expires <= 0 {
		expires = time.Hour
	}

	presignClient := s3.NewPresignClient(s.client)
	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL for %s: %w", key, err)
	}
	return request.URL, nil
}

// NewS3StorageFromEnv creates S3Storage from environment variables
func NewS3StorageFromEnv(ctx context.Context) (*S3Storage, error) {
	cfg := S3Config{
		Region:      getEnv("AWS_REGION", "auto"),
		Bucket:      getEnv("S3_BUCKET", ""),
		AccessKey:   getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		EndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		BaseURL:     getEnv("S3_BASE_URL", ""),
		PublicRead:  getEnv("S3_PUBLIC_READ", "false") == "true",
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET environment variable is required")
	}

	return NewS3Storage(ctx, cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
