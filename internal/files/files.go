// Package files stores message attachments in S3-compatible object storage.
// Clients upload and download directly through presigned URLs.
package files

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"cord/platform/internal/store"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const MaxSize int64 = 1 << 30

const (
	StatusUploading = "uploading"
	StatusUploaded  = "uploaded"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

var (
	ErrTooLarge      = errors.New("file exceeds the 1 GiB limit")
	ErrInvalidFile   = errors.New("invalid file")
	ErrInvalidStatus = errors.New("invalid upload status")
	ErrNotUploaded   = errors.New("file has not been uploaded")
)

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

type fileStore interface {
	InsertFile(ctx context.Context, file store.File) (store.File, error)
	GetFile(ctx context.Context, appID, fileID string) (store.File, error)
	UpdateFileStatus(ctx context.Context, fileID, status string, size int64) error
}

type Service struct {
	objects objectStore
	store   fileStore
	bucket  string
	expiry  time.Duration
}

// New connects to an S3-compatible endpoint. An empty endpoint disables file
// storage and returns a nil service.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, files fileStore) (*Service, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return NewWithClient(client, bucket, files), nil
}

func NewWithClient(objects objectStore, bucket string, files fileStore) *Service {
	return &Service{objects: objects, store: files, bucket: bucket, expiry: time.Hour}
}

// EnsureBucket creates the attachment bucket when missing.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Printf("files: created bucket %s", s.bucket)
	return nil
}

// Create records a pending upload and returns a presigned PUT URL for it.
func (s *Service) Create(ctx context.Context, appID, userID, name, mimeType string, size int64) (store.File, string, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(mimeType) == "" {
		return store.File{}, "", fmt.Errorf("%w: name and mimeType are required", ErrInvalidFile)
	}
	if size < 0 {
		return store.File{}, "", fmt.Errorf("%w: negative size", ErrInvalidFile)
	}
	if size > MaxSize {
		return store.File{}, "", ErrTooLarge
	}
	file, err := s.store.InsertFile(ctx, store.File{
		ApplicationID: appID,
		UserID:        userID,
		Name:          name,
		MimeType:      mimeType,
		Size:          size,
	})
	if err != nil {
		return store.File{}, "", err
	}
	uploadURL, err := s.PresignUpload(ctx, file)
	if err != nil {
		return store.File{}, "", err
	}
	return file, uploadURL, nil
}

func (s *Service) PresignUpload(ctx context.Context, file store.File) (string, error) {
	u, err := s.objects.PresignedPutObject(ctx, s.bucket, ObjectKey(file), s.expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

// Complete checks the object landed in storage and records the outcome.
func (s *Service) Complete(ctx context.Context, appID, fileID string) (store.File, error) {
	file, err := s.store.GetFile(ctx, appID, fileID)
	if err != nil {
		return store.File{}, err
	}
	info, err := s.objects.StatObject(ctx, s.bucket, ObjectKey(file), minio.StatObjectOptions{})
	if err != nil {
		log.Printf("files: stat %s failed: %v", file.ID, err)
		file.UploadStatus = StatusFailed
		if err := s.store.UpdateFileStatus(ctx, file.ID, StatusFailed, 0); err != nil {
			return store.File{}, err
		}
		return file, nil
	}
	if info.Size > MaxSize {
		file.UploadStatus = StatusFailed
		if err := s.store.UpdateFileStatus(ctx, file.ID, StatusFailed, info.Size); err != nil {
			return store.File{}, err
		}
		return file, ErrTooLarge
	}
	file.UploadStatus = StatusUploaded
	file.Size = info.Size
	if err := s.store.UpdateFileStatus(ctx, file.ID, StatusUploaded, info.Size); err != nil {
		return store.File{}, err
	}
	return file, nil
}

func (s *Service) SetStatus(ctx context.Context, appID, fileID, status string) (store.File, error) {
	switch status {
	case StatusUploading, StatusUploaded, StatusCancelled, StatusFailed:
	default:
		return store.File{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if status == StatusUploaded {
		return s.Complete(ctx, appID, fileID)
	}
	file, err := s.store.GetFile(ctx, appID, fileID)
	if err != nil {
		return store.File{}, err
	}
	if err := s.store.UpdateFileStatus(ctx, file.ID, status, 0); err != nil {
		return store.File{}, err
	}
	file.UploadStatus = status
	return file, nil
}

// PresignDownload returns a GET URL that saves the object under its original
// name.
func (s *Service) PresignDownload(ctx context.Context, file store.File) (string, error) {
	if file.UploadStatus != StatusUploaded {
		return "", ErrNotUploaded
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	params.Set("response-content-type", file.MimeType)
	u, err := s.objects.PresignedGetObject(ctx, s.bucket, ObjectKey(file), s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func ObjectKey(file store.File) string {
	return file.ApplicationID + "/" + file.ID
}
