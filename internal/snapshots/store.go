// Package snapshots archives analyzed frames in S3-compatible storage.
package snapshots

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/technosupport/ts-vigil/internal/data"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

type Store struct {
	client *minio.Client
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "vigil-frames"
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// ObjectKey lays frames out by camera and day.
func ObjectKey(cameraID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s_%s_%s.jpg",
		cameraID, at.Format("20060102"), cameraID, at.Format("20060102_150405"), uuid.NewString()[:8])
}

// SaveFrame uploads the frame and returns an s3:// reference to it.
func (s *Store) SaveFrame(ctx context.Context, cameraID string, frame data.Frame) (string, error) {
	s.bucketOnce.Do(func() { s.bucketErr = s.EnsureBucket(ctx) })
	if s.bucketErr != nil {
		return "", fmt.Errorf("bucket error: %w", s.bucketErr)
	}

	at := frame.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	key := ObjectKey(cameraID, at)
	ct := frame.ContentType
	if ct == "" || !strings.HasPrefix(ct, "image/") {
		ct = "image/jpeg"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(frame.Image), int64(len(frame.Image)),
		minio.PutObjectOptions{ContentType: ct})
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
