package store_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"code.cloudfoundry.org/lager/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/store"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory stand-in for store.API good enough to exercise the
// gateway's key layout and not-found handling without a real endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	bucket  string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	etag := `"fake-etag"`
	return &s3.PutObjectOutput{ETag: &etag}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	etag := `"fake-etag"`
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body)), ETag: &etag}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.bucket = *in.Bucket
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucket == "" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func newGateway() (*store.Gateway, *fakeS3) {
	fake := newFakeS3()
	gw := store.New(lager.NewLogger("test"), store.Config{Bucket: "arxiv-compiler"}, fake)
	return gw, fake
}

func TestSetAndGetStatus(t *testing.T) {
	gw, _ := newGateway()
	task := compiler.NewInProgressTask("54", "chk", compiler.FormatPDF, "84843")

	require.NoError(t, gw.SetStatus(t.Context(), task))

	got, err := gw.GetStatus(t.Context(), "54", "chk", compiler.FormatPDF)
	require.NoError(t, err)
	require.Equal(t, task, got)
}

func TestGetStatusDoesNotExist(t *testing.T) {
	gw, _ := newGateway()

	_, err := gw.GetStatus(t.Context(), "54", "chk", compiler.FormatPDF)
	require.Error(t, err)
	require.IsType(t, compiler.DoesNotExistError{}, err)
}

func TestStoreAndRetrieveArtifact(t *testing.T) {
	gw, _ := newGateway()
	require.NoError(t, gw.StoreArtifact(t.Context(), "54", "chk", compiler.FormatPDF, []byte("%PDF-1.4")))

	product, err := gw.RetrieveArtifact(t.Context(), "54", "chk", compiler.FormatPDF)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4"), product.Stream)
	require.Equal(t, "fake-etag", product.Checksum)
}

func TestStoreAndRetrieveLog(t *testing.T) {
	gw, _ := newGateway()
	require.NoError(t, gw.StoreLog(t.Context(), "54", "chk", compiler.FormatPDF, []byte("compile log")))

	product, err := gw.RetrieveLog(t.Context(), "54", "chk", compiler.FormatPDF)
	require.NoError(t, err)
	require.Equal(t, []byte("compile log"), product.Stream)
}

func TestInitializeIsIdempotent(t *testing.T) {
	gw, _ := newGateway()
	require.NoError(t, gw.Initialize(t.Context()))
	require.NoError(t, gw.Initialize(t.Context()))
}

func TestIsAvailable(t *testing.T) {
	gw, _ := newGateway()
	require.True(t, gw.IsAvailable(t.Context()))
}
