// Package storage keeps failed extraction windows in S3 compatible object
// storage so they can be inspected and replayed after a run.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/graph"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const failurePrefix = "failed-windows/"

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// NewS3Client builds a path style client from AWS_REGION, AWS_ENDPOINT,
// AWS_ACCESS_KEY and AWS_SECRET_KEY.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnvString("AWS_ENDPOINT", "")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// FailureStore is a graph.FailureSink on a bucket.
type FailureStore struct {
	client s3API
	bucket string
}

var _ graph.FailureSink = (*FailureStore)(nil)

func NewFailureStore(client s3API, bucket string) (*FailureStore, error) {
	if client == nil {
		return nil, errors.New("failure store: s3 client is nil")
	}
	if bucket == "" {
		return nil, errors.New("failure store: bucket is empty")
	}
	return &FailureStore{client: client, bucket: bucket}, nil
}

func (s *FailureStore) SaveFailure(ctx context.Context, rec graph.FailureRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode failure record: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(rec.Key()),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload failure record to S3: %w", err)
	}
	return nil
}

func (s *FailureStore) GetFailure(ctx context.Context, key string) (graph.FailureRecord, error) {
	var rec graph.FailureRecord
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return rec, fmt.Errorf("failed to get failure record from S3: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return rec, fmt.Errorf("failed to read failure record: %w", err)
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return rec, fmt.Errorf("decode failure record %s: %w", key, err)
	}
	return rec, nil
}

// ListFailures returns the keys of a run's records, or of every run when
// runID is empty.
func (s *FailureStore) ListFailures(ctx context.Context, runID string) ([]string, error) {
	prefix := failurePrefix
	if runID != "" {
		prefix += strings.Trim(runID, "/") + "/"
	}

	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if listOutput.IsTruncated == nil || !*listOutput.IsTruncated {
			break
		}
		listInput.ContinuationToken = listOutput.NextContinuationToken
	}
	return keys, nil
}

// DeleteRun removes every record of runID.
func (s *FailureStore) DeleteRun(ctx context.Context, runID string) (int, error) {
	if strings.Trim(runID, "/") == "" {
		return 0, errors.New("delete run: run id is empty")
	}
	keys, err := s.ListFailures(ctx, runID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete records of run %s: %w", runID, err)
		}
		deleted += len(objects)
	}
	return deleted, nil
}
