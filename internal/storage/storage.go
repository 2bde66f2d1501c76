package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Service archives song recognition samples in S3-compatible storage.
type Service struct {
	client       *minio.Client
	bucketName   string
	bucketRegion string
	log          *logrus.Entry
}

// NewService creates a new storage service
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("S3 endpoint is not configured")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	service := &Service{
		client:       client,
		bucketName:   cfg.Bucket,
		bucketRegion: cfg.Region,
		log:          logrus.WithField("component", "storage"),
	}

	if err := service.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	return service, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.bucketRegion,
		})
		if err != nil {
			return err
		}
		s.log.WithField("bucket", s.bucketName).Info("Created bucket")
	}

	return nil
}

// ArchiveSample stores one audio sample and returns its storage key.
func (s *Service) ArchiveSample(ctx context.Context, roomID string, data []byte) (string, error) {
	key := SampleKey(roomID, time.Now())

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload sample: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Archived sample")
	return key, nil
}

// SampleKey groups samples by day and room. Samples without a room go
// under "unassigned".
func SampleKey(roomID string, at time.Time) string {
	if roomID == "" {
		roomID = "unassigned"
	}
	return fmt.Sprintf("samples/%s/%s/%s", at.UTC().Format("2006-01-02"), roomID, uuid.New().String())
}
