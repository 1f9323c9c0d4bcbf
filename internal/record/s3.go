package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the store needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps records as JSON objects under Bucket/Prefix.
type S3Store struct {
	Client S3API
	Bucket string
	Prefix string
}

func NewS3StoreFromURL(ctx context.Context, location string) (*S3Store, error) {
	rest := strings.TrimPrefix(location, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in %s", location)
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &S3Store{Client: s3.NewFromConfig(sdkConfig), Bucket: bucket, Prefix: prefix}, nil
}

func (s *S3Store) key(network, contract string) string {
	return path.Join(s.Prefix, recordKey(network, contract))
}

func (s *S3Store) Put(ctx context.Context, d *Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	key := s.key(d.Network, d.Contract)
	contentType := "application/json"
	if _, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	}); err != nil {
		return fmt.Errorf("failed to upload record to s3://%s/%s: %w", s.Bucket, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, network, contract string) (*Deployment, error) {
	key := s.key(network, contract)
	result, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) && (apiError.ErrorCode() == "NotFound" || apiError.ErrorCode() == "NoSuchKey") {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.Bucket, key)
		}
		return nil, err
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse record s3://%s/%s: %w", s.Bucket, key, err)
	}
	return &d, nil
}
