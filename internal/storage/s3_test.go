package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/graph"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in a map and pages listings by pageSize keys.
type fakeS3 struct {
	objects  map[string][]byte
	pageSize int
	lists    int
	deletes  int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 1000}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deletes++
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func failure(run, video string, window int) graph.FailureRecord {
	return graph.FailureRecord{
		RunID:   run,
		VideoID: video,
		Window:  window,
		Kind:    common.WindowConcept,
		Outcome: graph.ResultParseFailure,
		Error:   "unexpected end of JSON input",
		Raw:     []string{`{"nodes": [`},
	}
}

func TestNewFailureStore(t *testing.T) {
	if _, err := NewFailureStore(nil, "bucket"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewFailureStore(newFakeS3(), ""); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}

func TestFailureStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFailureStore(newFakeS3(), "kg")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rec := failure("run1", "vid1", 3)
	if err := fs.SaveFailure(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := fs.GetFailure(ctx, "failed-windows/run1/vid1/concept-0003.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}

	if _, err := fs.GetFailure(ctx, "failed-windows/missing.json"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestFailureStore_ListPagesAndFiltersByRun(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	client.pageSize = 2
	fs, _ := NewFailureStore(client, "kg")
	for i := range 3 {
		_ = fs.SaveFailure(ctx, failure("run1", "vid1", i))
	}
	_ = fs.SaveFailure(ctx, failure("run2", "vid1", 0))

	keys, err := fs.ListFailures(ctx, "run1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		"failed-windows/run1/vid1/concept-0000.json",
		"failed-windows/run1/vid1/concept-0001.json",
		"failed-windows/run1/vid1/concept-0002.json",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	if client.lists != 2 {
		t.Fatalf("expected 2 list pages, got %d", client.lists)
	}

	all, err := fs.ListFailures(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 keys, got %v", all)
	}
}

func TestFailureStore_DeleteRun(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	fs, _ := NewFailureStore(client, "kg")
	_ = fs.SaveFailure(ctx, failure("run1", "vid1", 0))
	_ = fs.SaveFailure(ctx, failure("run1", "vid2", 0))
	_ = fs.SaveFailure(ctx, failure("run2", "vid1", 0))

	if _, err := fs.DeleteRun(ctx, "/"); err == nil {
		t.Fatalf("expected error for empty run id")
	}

	n, err := fs.DeleteRun(ctx, "run1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 || client.deletes != 1 {
		t.Fatalf("expected 2 deleted in one call, got %d in %d", n, client.deletes)
	}
	if _, ok := client.objects["failed-windows/run2/vid1/concept-0000.json"]; !ok {
		t.Fatalf("expected other runs to be kept")
	}
}

type failingS3 struct {
	*fakeS3
}

func (f failingS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return nil, errors.New("access denied")
}

func TestFailureStore_SaveError(t *testing.T) {
	fs, _ := NewFailureStore(failingS3{newFakeS3()}, "kg")
	if err := fs.SaveFailure(context.Background(), failure("r", "v", 0)); err == nil {
		t.Fatalf("expected upload error")
	}
}
