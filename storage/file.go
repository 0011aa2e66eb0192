package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery/interfaces"
)

type fileRecord struct {
	Name      string    `json:"name"`
	Content   []byte    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FileDocumentStore implements a document store using the local file system.
// Each account gets its own directory and each document is one JSON record
// named by its id.
type FileDocumentStore struct {
	mu          sync.Mutex
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileDocumentStore creates a document store rooted at baseDir, creating
// the directory if it doesn't exist.
func NewFileDocumentStore(baseDir string, log *slog.Logger) (*FileDocumentStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileDocumentStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileDocumentStore) accountDir(cred interfaces.Credentials) (string, error) {
	if cred.UserID == "" {
		return "", fmt.Errorf("%w: missing user id", interfaces.ErrAuthentication)
	}
	return filepath.Join(b.baseDir, interfaces.AccountKey(cred.UserID)), nil
}

func (b *FileDocumentStore) docPath(cred interfaces.Credentials, id string) (string, error) {
	dir, err := b.accountDir(cred)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: invalid document id %q", interfaces.ErrNotFound, id)
	}
	return filepath.Join(dir, id+".json"), nil
}

func (b *FileDocumentStore) readRecord(path string) (*fileRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (b *FileDocumentStore) writeRecord(path string, rec *fileRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Search lists documents with the given name, oldest first.
func (b *FileDocumentStore) Search(ctx context.Context, cred interfaces.Credentials, name string) ([]interfaces.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir, err := b.accountDir(cred)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	type match struct {
		doc     interfaces.Document
		created time.Time
	}
	var matches []match
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := b.readRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			b.log.Warn("Skipping unreadable document", slog.String("file", entry.Name()), "err", err)
			continue
		}
		if rec.Name == name {
			id := strings.TrimSuffix(entry.Name(), ".json")
			matches = append(matches, match{interfaces.Document{ID: id, Name: rec.Name}, rec.CreatedAt})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].created.Before(matches[j].created) })

	docs := make([]interfaces.Document, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, m.doc)
	}
	return docs, nil
}

// Get retrieves document content. Returns ErrNotFound if the file doesn't exist.
func (b *FileDocumentStore) Get(ctx context.Context, cred interfaces.Credentials, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.docPath(cred, id)
	if err != nil {
		return nil, err
	}
	rec, err := b.readRecord(path)
	if err != nil {
		return nil, err
	}

	b.log.Debug("Fetched document from file",
		slog.String("path", path),
		slog.Int("size", len(rec.Content)))

	return rec.Content, nil
}

// Create writes a new document under a random id.
func (b *FileDocumentStore) Create(ctx context.Context, cred interfaces.Credentials, name string, content []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	path, err := b.docPath(cred, id)
	if err != nil {
		return "", err
	}

	if err := b.writeRecord(path, &fileRecord{Name: name, Content: content, CreatedAt: time.Now()}); err != nil {
		return "", err
	}

	b.log.Debug("Stored document in file",
		slog.String("path", path),
		slog.String("name", name))

	return id, nil
}

// Update replaces the content of an existing document, keeping its name.
func (b *FileDocumentStore) Update(ctx context.Context, cred interfaces.Credentials, id string, content []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.docPath(cred, id)
	if err != nil {
		return "", err
	}
	rec, err := b.readRecord(path)
	if err != nil {
		return "", err
	}

	rec.Content = content
	if err := b.writeRecord(path, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (b *FileDocumentStore) Delete(ctx context.Context, cred interfaces.Credentials, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.docPath(cred, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: document %s", interfaces.ErrNotFound, id)
	} else if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Name returns a unique identifier for this store.
func (b *FileDocumentStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (b *FileDocumentStore) LocationURI() string {
	return b.locationURI
}

// FileMetadataStore keeps one metadata file per user.
type FileMetadataStore struct {
	baseDir string
	log     *slog.Logger
}

func NewFileMetadataStore(baseDir string, log *slog.Logger) (*FileMetadataStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileMetadataStore{baseDir: baseDir, log: log}, nil
}

func (s *FileMetadataStore) path(userID string) string {
	return filepath.Join(s.baseDir, interfaces.AccountKey(userID)+".json")
}

func (s *FileMetadataStore) Get(ctx context.Context, userID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no key metadata for user", interfaces.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return data, nil
}

func (s *FileMetadataStore) Put(ctx context.Context, userID string, data []byte) error {
	path := s.path(userID)
	if err := os.WriteFile(path+".tmp", data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return os.Rename(path+".tmp", path)
}

func (s *FileMetadataStore) Delete(ctx context.Context, userID string) error {
	err := os.Remove(s.path(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

func (s *FileMetadataStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}
