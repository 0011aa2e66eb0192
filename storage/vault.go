package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/share-recovery/interfaces"
)

// vaultLogical is the subset of *api.Logical used by VaultDocumentStore.
type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
	ListWithContext(ctx context.Context, path string) (*api.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// VaultDocumentStore implements a document store on a HashiCorp Vault KV v2
// mount. Each document is a secret at mount/data/path/<account>/<id> holding
// its name and content.
type VaultDocumentStore struct {
	logical     vaultLogical
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultDocumentStore creates a new Vault document store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "share-backups")
//   - token: Vault token; if empty the VAULT_TOKEN environment variable is used
//   - log: Structured logger for operational insights
func NewVaultDocumentStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultDocumentStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return newVaultDocumentStore(client.Logical(), address, mountPath, dataPath, log), nil
}

func newVaultDocumentStore(logical vaultLogical, address, mountPath, dataPath string, log *slog.Logger) *VaultDocumentStore {
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultDocumentStore{
		logical:     logical,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}
}

func (b *VaultDocumentStore) accountPath(kind string, cred interfaces.Credentials) (string, error) {
	if cred.UserID == "" {
		return "", fmt.Errorf("%w: missing user id", interfaces.ErrAuthentication)
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, interfaces.AccountKey(cred.UserID)), nil
}

func (b *VaultDocumentStore) docPath(kind string, cred interfaces.Credentials, id string) (string, error) {
	base, err := b.accountPath(kind, cred)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: invalid document id %q", interfaces.ErrNotFound, id)
	}
	return base + "/" + id, nil
}

func mapVaultError(err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

type vaultDocument struct {
	name    string
	content string
	created string
}

// read returns the current version of a document, or ErrNotFound.
func (b *VaultDocumentStore) read(ctx context.Context, path string) (*vaultDocument, error) {
	secret, err := b.logical.ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, mapVaultError(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}

	// Deleted versions come back with a nil data map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}

	doc := &vaultDocument{}
	doc.name, _ = data["name"].(string)
	doc.created, _ = data["created_at"].(string)
	if doc.content, ok = data["content"].(string); !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}
	return doc, nil
}

func (b *VaultDocumentStore) write(ctx context.Context, path string, doc *vaultDocument) error {
	_, err := b.logical.WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"name":       doc.name,
			"content":    doc.content,
			"created_at": doc.created,
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return mapVaultError(err)
	}
	return nil
}

// Search lists the account's secrets and returns those named name, oldest first.
func (b *VaultDocumentStore) Search(ctx context.Context, cred interfaces.Credentials, name string) ([]interfaces.Document, error) {
	listPath, err := b.accountPath("metadata", cred)
	if err != nil {
		return nil, err
	}

	secret, err := b.logical.ListWithContext(ctx, listPath)
	if err != nil {
		if errors.Is(mapVaultError(err), interfaces.ErrNotFound) {
			return nil, nil
		}
		return nil, mapVaultError(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, _ := secret.Data["keys"].([]interface{})

	type match struct {
		doc     interfaces.Document
		created string
	}
	var matches []match
	for _, k := range keys {
		id, ok := k.(string)
		if !ok || strings.HasSuffix(id, "/") {
			continue
		}
		path, err := b.docPath("data", cred, id)
		if err != nil {
			continue
		}
		doc, err := b.read(ctx, path)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		if doc.name == name {
			matches = append(matches, match{interfaces.Document{ID: id, Name: name}, doc.created})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].created < matches[j].created })

	docs := make([]interfaces.Document, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, m.doc)
	}
	return docs, nil
}

func (b *VaultDocumentStore) Get(ctx context.Context, cred interfaces.Credentials, id string) ([]byte, error) {
	start := time.Now()
	path, err := b.docPath("data", cred, id)
	if err != nil {
		return nil, err
	}
	doc, err := b.read(ctx, path)
	if err != nil {
		return nil, err
	}

	b.log.Debug("Fetched document from Vault",
		slog.String("id", id),
		slog.Duration("duration", time.Since(start)))

	return []byte(doc.content), nil
}

func (b *VaultDocumentStore) Create(ctx context.Context, cred interfaces.Credentials, name string, content []byte) (string, error) {
	id := uuid.NewString()
	path, err := b.docPath("data", cred, id)
	if err != nil {
		return "", err
	}

	doc := &vaultDocument{name: name, content: string(content), created: time.Now().UTC().Format(time.RFC3339Nano)}
	if err := b.write(ctx, path, doc); err != nil {
		return "", err
	}

	b.log.Info("Stored document in Vault", slog.String("id", id))
	return id, nil
}

func (b *VaultDocumentStore) Update(ctx context.Context, cred interfaces.Credentials, id string, content []byte) (string, error) {
	path, err := b.docPath("data", cred, id)
	if err != nil {
		return "", err
	}
	doc, err := b.read(ctx, path)
	if err != nil {
		return "", err
	}

	doc.content = string(content)
	if err := b.write(ctx, path, doc); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes every version of the document.
func (b *VaultDocumentStore) Delete(ctx context.Context, cred interfaces.Credentials, id string) error {
	dataPath, err := b.docPath("data", cred, id)
	if err != nil {
		return err
	}
	if _, err := b.read(ctx, dataPath); err != nil {
		return err
	}

	metadataPath, err := b.docPath("metadata", cred, id)
	if err != nil {
		return err
	}
	if _, err := b.logical.DeleteWithContext(ctx, metadataPath); err != nil {
		return mapVaultError(err)
	}
	return nil
}

// Name returns a unique identifier for this store.
func (b *VaultDocumentStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (b *VaultDocumentStore) LocationURI() string {
	return b.locationURI
}
