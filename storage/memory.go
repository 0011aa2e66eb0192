package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery/interfaces"
)

type memoryDocument struct {
	name    string
	content []byte
	seq     int
}

// MemoryDocumentStore keeps documents in process memory. Optional token
// checks emulate a remote service that rejects expired sessions.
type MemoryDocumentStore struct {
	mu       sync.Mutex
	accounts map[string]map[string]*memoryDocument
	tokens   map[string]string
	seq      int
	log      *slog.Logger
}

func NewMemoryDocumentStore(log *slog.Logger) *MemoryDocumentStore {
	return &MemoryDocumentStore{
		accounts: make(map[string]map[string]*memoryDocument),
		tokens:   make(map[string]string),
		log:      log,
	}
}

// RequireToken makes the store reject any other token for userID.
func (s *MemoryDocumentStore) RequireToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
}

// Count returns the number of documents held for userID.
func (s *MemoryDocumentStore) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts[interfaces.AccountKey(userID)])
}

func (s *MemoryDocumentStore) account(cred interfaces.Credentials) (map[string]*memoryDocument, error) {
	if cred.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", interfaces.ErrAuthentication)
	}
	if want, ok := s.tokens[cred.UserID]; ok && want != cred.AccessToken {
		return nil, fmt.Errorf("%w: invalid access token", interfaces.ErrAuthentication)
	}

	key := interfaces.AccountKey(cred.UserID)
	docs, ok := s.accounts[key]
	if !ok {
		docs = make(map[string]*memoryDocument)
		s.accounts[key] = docs
	}
	return docs, nil
}

func (s *MemoryDocumentStore) Search(ctx context.Context, cred interfaces.Credentials, name string) ([]interfaces.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.account(cred)
	if err != nil {
		return nil, err
	}

	type match struct {
		doc interfaces.Document
		seq int
	}
	var matches []match
	for id, doc := range docs {
		if doc.name == name {
			matches = append(matches, match{interfaces.Document{ID: id, Name: doc.name}, doc.seq})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	result := make([]interfaces.Document, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.doc)
	}
	return result, nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, cred interfaces.Credentials, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.account(cred)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", interfaces.ErrNotFound, id)
	}
	return append([]byte{}, doc.content...), nil
}

func (s *MemoryDocumentStore) Create(ctx context.Context, cred interfaces.Credentials, name string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.account(cred)
	if err != nil {
		return "", err
	}

	s.seq++
	id := uuid.NewString()
	docs[id] = &memoryDocument{name: name, content: append([]byte{}, content...), seq: s.seq}

	s.log.Debug("Created document in memory", slog.String("id", id), slog.String("name", name))
	return id, nil
}

func (s *MemoryDocumentStore) Update(ctx context.Context, cred interfaces.Credentials, id string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.account(cred)
	if err != nil {
		return "", err
	}
	doc, ok := docs[id]
	if !ok {
		return "", fmt.Errorf("%w: document %s", interfaces.ErrNotFound, id)
	}
	doc.content = append([]byte{}, content...)
	return id, nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, cred interfaces.Credentials, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.account(cred)
	if err != nil {
		return err
	}
	if _, ok := docs[id]; !ok {
		return fmt.Errorf("%w: document %s", interfaces.ErrNotFound, id)
	}
	delete(docs, id)
	return nil
}

func (s *MemoryDocumentStore) Name() string {
	return "memory"
}

func (s *MemoryDocumentStore) LocationURI() string {
	return "mem://"
}
