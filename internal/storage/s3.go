package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/platform"
)

// Metadata keys written on soft delete.
const (
	metaDeleted   = "Deleted"
	metaDeletedAt = "Deleted-At"
)

// S3Config configures the S3 store.
type S3Config struct {
	Region string
	// Endpoint is optional, for S3 compatible servers.
	Endpoint string
}

// S3 implements Store on Amazon S3.
type S3 struct {
	client *s3.S3
	logger zerolog.Logger
	now    func() time.Time
}

// NewS3 creates an S3 store using the default credential chain.
func NewS3(cfg S3Config) (*S3, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3{
		client: s3.New(sess),
		logger: log.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}, nil
}

func (s *S3) Upload(ctx context.Context, bucket, path string, blob *platform.Blob) (string, error) {
	if blob.Size() == 0 {
		return "", errors.New("upload: empty blob")
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(blob.Data),
		ContentType: aws.String(blob.MIMEType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	s.logger.Info().Str("bucket", bucket).Str("path", path).Int("bytes", blob.Size()).Msg("Uploaded recording")
	return path, nil
}

func (s *S3) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("head %s: %w", path, err)
	}
	if isDeleted(head.Metadata) {
		return "", ErrNotFound
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	signed, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return signed, nil
}

// Delete rewrites the object's metadata in place with a deleted flag.
func (s *S3) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(path),
		CopySource:        aws.String(copySource(bucket, path)),
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
		Metadata: map[string]*string{
			metaDeleted:   aws.String("true"),
			metaDeletedAt: aws.String(s.now().UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", path, err)
	}
	s.logger.Info().Str("bucket", bucket).Str("path", path).Msg("Soft-deleted recording")
	return nil
}

func copySource(bucket, path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func isDeleted(meta map[string]*string) bool {
	for k, v := range meta {
		if strings.EqualFold(k, metaDeleted) && v != nil && *v == "true" {
			return true
		}
	}
	return false
}
