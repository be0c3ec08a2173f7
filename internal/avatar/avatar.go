// Package avatar stores profile photos in S3-compatible object storage and
// hands out short-lived download URLs.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxSize     = 2 << 20 // 2 MiB
	urlLifetime = 24 * time.Hour
)

var (
	ErrTooLarge        = errors.New("avatar: image exceeds size limit")
	ErrUnsupportedType = errors.New("avatar: unsupported content type")
	ErrNotFound        = errors.New("avatar: not found")
)

// Service uploads and serves user avatars.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Service{client: client, bucket: bucket}, nil
}

func objectName(uid string) string {
	return "avatars/" + uid
}

func extFor(contentType string) (string, bool) {
	switch contentType {
	case "image/png":
		return "png", true
	case "image/jpeg":
		return "jpg", true
	case "image/webp":
		return "webp", true
	default:
		return "", false
	}
}

// Upload replaces uid's avatar. The reader is capped at the size limit; a
// larger body fails rather than being truncated.
func (s *Service) Upload(ctx context.Context, uid, contentType string, r io.Reader) error {
	if _, ok := extFor(contentType); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return fmt.Errorf("read avatar: %w", err)
	}
	if len(data) > maxSize {
		return ErrTooLarge
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName(uid),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("store avatar %s: %w", uid, err)
	}
	return nil
}

// URL returns a presigned download link for uid's avatar.
func (s *Service) URL(ctx context.Context, uid string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, objectName(uid), minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat avatar %s: %w", uid, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName(uid), urlLifetime, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign avatar %s: %w", uid, err)
	}
	return u.String(), nil
}

// Remove deletes uid's avatar. Removing a missing avatar is not an error.
func (s *Service) Remove(ctx context.Context, uid string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(uid), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar %s: %w", uid, err)
	}
	return nil
}
