package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps documents as objects in Amazon S3 (or compatible APIs).
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
}

func NewS3Store(client *s3.Client, bucket, keyPrefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.keyPrefix == "" {
		return name
	}
	return s.keyPrefix + "/" + name
}

func (s *S3Store) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", s.key(name), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", s.key(name), err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, name string, contents []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(contents),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.key(name), err)
	}
	return nil
}

var _ Persistence = (*S3Store)(nil)
