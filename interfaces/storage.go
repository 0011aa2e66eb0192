package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// BackupFileName is the canonical name of the encrypted backup document.
// Existing backups are located by this name, so it must not change.
const BackupFileName = "tkey_mnemonic_backup.txt"

// Document identifies one stored document. ID is assigned by the store.
type Document struct {
	ID   string
	Name string
}

// AccountKey derives a storage namespace for a user. Stores that are not
// scoped by the bearer token itself keep each account under this key.
func AccountKey(userID string) string {
	hash := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(hash[:16])
}

// StoreLocation represents URI for a document or metadata store.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation creates a new store location from a URI string with validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "mem", "s3", "vault", "gdrive", "consul":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// DocumentStore is the remote document service holding encrypted backups.
// Every call is scoped to the account of the given credentials.
//
// Get, Update and Delete return ErrNotFound for an unknown id. A rejected
// or expired token is reported as ErrAuthentication.
type DocumentStore interface {
	// Search lists documents with exactly the given name.
	Search(ctx context.Context, cred Credentials, name string) ([]Document, error)

	// Get returns the raw content of a document.
	Get(ctx context.Context, cred Credentials, id string) ([]byte, error)

	// Create stores a new document and returns its store-assigned id.
	Create(ctx context.Context, cred Credentials, name string, content []byte) (string, error)

	// Update replaces the content of an existing document.
	Update(ctx context.Context, cred Credentials, id string, content []byte) (string, error)

	// Delete removes a document.
	Delete(ctx context.Context, cred Credentials, id string) error

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// DocumentStoreFactory creates document stores from location URIs.
type DocumentStoreFactory interface {
	// DocumentStoreFor supports file://, mem://, s3://, vault:// and gdrive://
	DocumentStoreFor(location StoreLocation) (DocumentStore, error)
}

// MetadataStore persists the threshold key metadata of each user.
type MetadataStore interface {
	// Get returns ErrNotFound when the user has no key yet.
	Get(ctx context.Context, userID string) ([]byte, error)
	Put(ctx context.Context, userID string, data []byte) error
	Delete(ctx context.Context, userID string) error
	Name() string
}

// DeviceShareStore caches one share per user on the local device.
type DeviceShareStore interface {
	// Get returns ErrNotFound when no share is cached for the user.
	Get(ctx context.Context, userID string) (Share, error)
	Put(ctx context.Context, userID string, share Share) error
	Delete(ctx context.Context, userID string) error
}
