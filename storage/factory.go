package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/share-recovery/interfaces"
)

// StoreFactory creates document and metadata stores from location URIs.
type StoreFactory struct {
	log *slog.Logger

	memOnce sync.Once
	mem     *MemoryDocumentStore
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// DocumentStoreFor creates a document store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - gdrive:// - Google Drive, using the session's bearer token
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//   - file:// - Local filesystem storage
//   - mem:// - Process memory, shared by all callers of this factory
func (sf *StoreFactory) DocumentStoreFor(location interfaces.StoreLocation) (interfaces.DocumentStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "gdrive":
		return sf.createDriveStore(location)
	case "s3":
		return sf.createS3Store(location)
	case "vault":
		return sf.createVaultStore(location)
	case "file":
		path, err := filePath(location)
		if err != nil {
			return nil, err
		}
		return NewFileDocumentStore(path, sf.log)
	case "mem":
		sf.memOnce.Do(func() { sf.mem = NewMemoryDocumentStore(sf.log) })
		return sf.mem, nil
	default:
		return nil, fmt.Errorf("%w: unsupported document store scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// MetadataStoreFor creates a metadata store from a location URI.
// Supported schemes are file:// and consul://.
func (sf *StoreFactory) MetadataStoreFor(location interfaces.StoreLocation) (interfaces.MetadataStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "file":
		path, err := filePath(location)
		if err != nil {
			return nil, err
		}
		return NewFileMetadataStore(path, sf.log)
	case "consul":
		return sf.createConsulStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported metadata store scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiMetadataStore replicates metadata across all valid locations.
// Returns an error if no valid store could be created.
func (sf *StoreFactory) CreateMultiMetadataStore(locations []interfaces.StoreLocation) (interfaces.MetadataStore, error) {
	stores := make([]interfaces.MetadataStore, 0, len(locations))

	for _, loc := range locations {
		store, err := sf.MetadataStoreFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create metadata store",
				"err", err,
				slog.String("location", loc.String()))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("no valid metadata stores created")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}

	return NewMultiMetadataStore(stores, sf.log), nil
}

// createDriveStore creates a Google Drive store.
// URI format: gdrive://?endpoint=https://drive.example.com/
func (sf *StoreFactory) createDriveStore(loc interfaces.StoreLocation) (interfaces.DocumentStore, error) {
	sf.log.Debug("Creating Drive store", slog.String("uri", loc.String()))
	return NewDriveDocumentStore(loc.GetParam("endpoint"), sf.log), nil
}

// createS3Store creates an S3 or S3-compatible document store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StoreFactory) createS3Store(loc interfaces.StoreLocation) (interfaces.DocumentStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
	}

	return NewS3DocumentStore(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createVaultStore creates a Vault KV v2 document store.
// URI format: vault://host:port/mount/path?token=...&tls=false
func (sf *StoreFactory) createVaultStore(loc interfaces.StoreLocation) (interfaces.DocumentStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("host", loc.Host))

	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if loc.Host == "" || mount == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount[/path]", interfaces.ErrInvalidLocationURI)
	}
	if dataPath == "" {
		dataPath = "share-backups"
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	return NewVaultDocumentStore(scheme+"://"+loc.Host, mount, dataPath, loc.GetParam("token"), sf.log)
}

// createConsulStore creates a Consul KV metadata store.
// URI format: consul://host:port/prefix?token=...
func (sf *StoreFactory) createConsulStore(loc interfaces.StoreLocation) (interfaces.MetadataStore, error) {
	client, err := NewConsulClient(loc.Host, loc.GetParam("token"))
	if err != nil {
		return nil, err
	}
	return NewConsulMetadataStore(client.KV(), loc.Path, sf.log), nil
}

// filePath handles file:///absolute/path and file://./relative/path forms.
func filePath(loc interfaces.StoreLocation) (string, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, loc.String())
	}
	return path, nil
}
