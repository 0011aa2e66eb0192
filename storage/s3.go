package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/ruteri/share-recovery/interfaces"
)

// documentNameKey is the user metadata key carrying the document name.
const documentNameKey = "Document-Name"

// S3DocumentStore implements a document store using Amazon S3 or compatible
// services. Documents live under prefix/<account>/<id> with the document name
// kept in object metadata.
type S3DocumentStore struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3DocumentStore creates a new S3 document store. Without accessKey and
// secretKey the default AWS credential chain is used.
func NewS3DocumentStore(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3DocumentStore, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3DocumentStoreWithClient(s3.New(sess), bucketName, prefix, uri, log), nil
}

// NewS3DocumentStoreWithClient wraps an existing S3 client.
func NewS3DocumentStoreWithClient(client s3iface.S3API, bucketName, prefix, uri string, log *slog.Logger) *S3DocumentStore {
	return &S3DocumentStore{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}
}

func (b *S3DocumentStore) accountPrefix(cred interfaces.Credentials) (string, error) {
	if cred.UserID == "" {
		return "", fmt.Errorf("%w: missing user id", interfaces.ErrAuthentication)
	}
	return path.Join(b.prefix, interfaces.AccountKey(cred.UserID)) + "/", nil
}

func (b *S3DocumentStore) objectKey(cred interfaces.Credentials, id string) (string, error) {
	prefix, err := b.accountPrefix(cred)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: invalid document id %q", interfaces.ErrNotFound, id)
	}
	return prefix + id, nil
}

// mapS3Error converts SDK errors into the store's sentinel errors.
func mapS3Error(err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

func metadataName(meta map[string]*string) string {
	for k, v := range meta {
		if strings.EqualFold(k, documentNameKey) && v != nil {
			return *v
		}
	}
	return ""
}

// Search lists the account's objects and returns those named name, oldest first.
func (b *S3DocumentStore) Search(ctx context.Context, cred interfaces.Credentials, name string) ([]interfaces.Document, error) {
	start := time.Now()
	prefix, err := b.accountPrefix(cred)
	if err != nil {
		return nil, err
	}

	var objects []*s3.Object
	err = b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		objects = append(objects, page.Contents...)
		return true
	})
	if err != nil {
		b.log.Error("Failed to list objects in S3",
			slog.String("bucket", b.bucketName),
			slog.String("prefix", prefix),
			"err", err)
		return nil, mapS3Error(err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.TimeValue(objects[i].LastModified).Before(aws.TimeValue(objects[j].LastModified))
	})

	var docs []interfaces.Document
	for _, obj := range objects {
		key := aws.StringValue(obj.Key)
		head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			if errors.Is(mapS3Error(err), interfaces.ErrNotFound) {
				continue
			}
			return nil, mapS3Error(err)
		}
		if metadataName(head.Metadata) == name {
			docs = append(docs, interfaces.Document{ID: strings.TrimPrefix(key, prefix), Name: name})
		}
	}

	b.log.Debug("Searched documents in S3",
		slog.String("bucket", b.bucketName),
		slog.Int("matches", len(docs)),
		slog.Duration("duration", time.Since(start)))

	return docs, nil
}

// Get retrieves an object by document id.
func (b *S3DocumentStore) Get(ctx context.Context, cred interfaces.Credentials, id string) ([]byte, error) {
	start := time.Now()
	key, err := b.objectKey(cred, id)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		mapped := mapS3Error(err)
		if !errors.Is(mapped, interfaces.ErrNotFound) {
			b.log.Error("Failed to get object from S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", key),
				"err", err,
				slog.Duration("duration", time.Since(start)))
		}
		return nil, mapped
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Fetched document from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

func (b *S3DocumentStore) put(ctx context.Context, key, name string, content []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.bucketName),
		Key:      aws.String(key),
		Body:     bytes.NewReader(content),
		Metadata: map[string]*string{documentNameKey: aws.String(name)},
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// Create uploads a new object under a random id.
func (b *S3DocumentStore) Create(ctx context.Context, cred interfaces.Credentials, name string, content []byte) (string, error) {
	id := uuid.NewString()
	key, err := b.objectKey(cred, id)
	if err != nil {
		return "", err
	}
	if err := b.put(ctx, key, name, content); err != nil {
		return "", err
	}

	b.log.Debug("Stored document in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key))

	return id, nil
}

// Update overwrites an existing object, keeping its name.
func (b *S3DocumentStore) Update(ctx context.Context, cred interfaces.Credentials, id string, content []byte) (string, error) {
	key, err := b.objectKey(cred, id)
	if err != nil {
		return "", err
	}
	head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", mapS3Error(err)
	}
	if err := b.put(ctx, key, metadataName(head.Metadata), content); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes an object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound.
func (b *S3DocumentStore) Delete(ctx context.Context, cred interfaces.Credentials, id string) error {
	key, err := b.objectKey(cred, id)
	if err != nil {
		return err
	}
	if _, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	}); err != nil {
		return mapS3Error(err)
	}

	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// Name returns a unique identifier for this store.
func (b *S3DocumentStore) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this store.
func (b *S3DocumentStore) LocationURI() string {
	return b.locationURI
}
