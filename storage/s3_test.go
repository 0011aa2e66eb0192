package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3Object struct {
	body     []byte
	metadata map[string]*string
	modified time.Time
}

// fakeS3 implements the object calls used by S3DocumentStore.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]*fakeS3Object
	clock   time.Time
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]*fakeS3Object), clock: time.Unix(1700000000, 0)}
}

func notFoundErr() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req-id")
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	page := &s3.ListObjectsV2Output{}
	for key, obj := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(key), LastModified: aws.Time(obj.modified)})
		}
	}
	fn(page, true)
	return nil
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	obj, ok := f.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	obj, ok := f.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.clock = f.clock.Add(time.Second)
	f.objects[aws.StringValue(input.Key)] = &fakeS3Object{body: body, metadata: input.Metadata, modified: f.clock}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, aws.StringValue(input.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3DocumentStore(t *testing.T) {
	client := newFakeS3()
	store := NewS3DocumentStoreWithClient(client, "bucket", "/backups/", "s3://bucket/backups", testLogger())

	runDocumentStoreContract(t, store)

	for key := range client.objects {
		assert.True(t, strings.HasPrefix(key, "backups/"), key)
	}
}

func TestS3DocumentStore_Unavailable(t *testing.T) {
	client := newFakeS3()
	client.err = errors.New("dial tcp: connection refused")
	store := NewS3DocumentStoreWithClient(client, "bucket", "", "s3://bucket", testLogger())

	_, err := store.Search(context.Background(), interfaces.Credentials{UserID: "alice"}, interfaces.BackupFileName)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestMapS3Error(t *testing.T) {
	assert.ErrorIs(t, mapS3Error(notFoundErr()), interfaces.ErrNotFound)
	assert.ErrorIs(t, mapS3Error(awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)), interfaces.ErrNotFound)
	assert.ErrorIs(t, mapS3Error(awserr.New("AccessDenied", "denied", nil)), interfaces.ErrBackendUnavailable)
}

func TestNewS3DocumentStore_MasksCredentials(t *testing.T) {
	store, err := NewS3DocumentStore("bucket", "prefix", "eu-west-1", "http://localhost:9000", "AKIA", "secret", testLogger())
	require.NoError(t, err)
	assert.NotContains(t, store.LocationURI(), "secret")
	assert.Contains(t, store.LocationURI(), "AKIA:***@bucket")
	assert.Equal(t, "s3-bucket", store.Name())
}
