package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	huberrors "taskhub/internal/errors"
)

// Store is the blob-storage port, consumed only through storage.Facade.
// Objects are immutable: overwriting an existing object_path is disallowed.
type Store interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, objectPath string) ([]byte, error)
	PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error)
	EnsureBuckets(ctx context.Context) error
}

// MinIOStore is the concrete Store backed by github.com/minio/minio-go/v7.
type MinIOStore struct {
	client *minio.Client
}

func NewMinIOStore(endpoint, accessKey, secretKey string, secure bool) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "failed to construct minio client")
	}
	return &MinIOStore{client: client}, nil
}

// EnsureBuckets creates the two fixed buckets if absent.
func (s *MinIOStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{BucketScreenshots, BucketBinaries} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return huberrors.NewStorageUnavailable(err, "checking bucket "+bucket)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return huberrors.NewStorageUnavailable(err, "creating bucket "+bucket)
		}
	}
	return nil
}

// Upload stores bytes idempotently by (bucket, path): objects are
// immutable, so re-uploading identical bytes to the same path is a no-op
// success, while a path collision with different bytes is an error the
// caller surfaces as a ConflictError. Identity is checked against the
// stored ETag, which MinIO computes as the content MD5 for single-part
// uploads like these.
func (s *MinIOStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	existing, err := s.statObject(ctx, bucket, objectPath)
	if err == nil {
		sum := md5.Sum(data)
		if strings.Trim(existing.ETag, `"`) == hex.EncodeToString(sum[:]) {
			return nil
		}
		return huberrors.NewConflictError(fmt.Sprintf("object %s/%s already exists with different content", bucket, objectPath))
	}

	_, err = s.client.PutObject(ctx, bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return huberrors.NewStorageUnavailable(err, "uploading "+bucket+"/"+objectPath)
	}
	return nil
}

func (s *MinIOStore) statObject(ctx context.Context, bucket, objectPath string) (minio.ObjectInfo, error) {
	return s.client.StatObject(ctx, bucket, objectPath, minio.StatObjectOptions{})
}

func (s *MinIOStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "fetching "+bucket+"/"+objectPath)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, huberrors.NewNotFoundError("object", bucket+"/"+objectPath)
		}
		return nil, huberrors.NewStorageUnavailable(err, "reading "+bucket+"/"+objectPath)
	}
	return data, nil
}

func (s *MinIOStore) PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, objectPath, ttl, nil)
	if err != nil {
		return "", huberrors.NewStorageUnavailable(err, "presigning "+bucket+"/"+objectPath)
	}
	return u.String(), nil
}
