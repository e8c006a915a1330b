package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/inkpost/api/pkg/config"
)

// S3Store keeps uploads in an S3-compatible bucket (AWS or MinIO).
type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3 builds an S3Store from config. A custom endpoint switches the client
// to MinIO-style addressing.
func NewS3(ctx context.Context, cfg config.APIConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	publicURL := strings.TrimRight(cfg.S3PublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
	}
	return &S3Store{client: client, bucket: cfg.S3Bucket, publicURL: publicURL}, nil
}

// Save uploads the object under a date-partitioned random key.
func (s *S3Store) Save(ctx context.Context, filename string, contentType string, r io.Reader) (string, error) {
	key := objectKey(filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// Remove deletes the object behind a previously returned reference.
func (s *S3Store) Remove(ctx context.Context, ref string) error {
	key := strings.TrimPrefix(ref, s.publicURL+"/")
	if key == "" || key == ref {
		return fmt.Errorf("invalid storage reference %q", ref)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func objectKey(filename string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("uploads/%d/%02d/%02d/%s%s",
		d.Year(), d.Month(), d.Day(), uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}
