package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/share-recovery/cryptoutils"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/ruteri/share-recovery/metrics"
)

// SaveResult identifies the artifact written by Save. Created is false when
// an existing artifact was replaced.
type SaveResult struct {
	ID      string
	Created bool
}

// FetchResult carries the decrypted mnemonic and the artifact it came from.
type FetchResult struct {
	Plaintext string
	ID        string
}

// DeleteResult reports whether anything was removed. Deleting a missing
// backup succeeds with Deleted false.
type DeleteResult struct {
	Deleted bool
	ID      string
}

// Client manages the single encrypted backup artifact of an account in a
// document store. The artifact is found by its canonical name unless the
// caller passes the ID returned by a previous call.
type Client struct {
	store  interfaces.DocumentStore
	cipher *cryptoutils.PasswordCipher
	name   string
	log    *slog.Logger
}

// NewClient binds a cipher to a document store. Both are required.
func NewClient(store interfaces.DocumentStore, cipher *cryptoutils.PasswordCipher, log *slog.Logger) (*Client, error) {
	if cipher == nil {
		return nil, fmt.Errorf("%w: backup cipher is not configured", interfaces.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: backup store is not configured", interfaces.ErrConfiguration)
	}
	return &Client{
		store:  store,
		cipher: cipher,
		name:   interfaces.BackupFileName,
		log:    log.With(slog.String("store", store.Name())),
	}, nil
}

func (c *Client) credentials(sess *interfaces.Session) (interfaces.Credentials, error) {
	cred, ok := sess.Credentials()
	if !ok {
		return interfaces.Credentials{}, fmt.Errorf("%w: session is not authenticated", interfaces.ErrAuthentication)
	}
	return cred, nil
}

// typed classifies a store failure and drops the session when the store
// rejected its token.
func (c *Client) typed(sess *interfaces.Session, err error) error {
	if errors.Is(err, interfaces.ErrAuthentication) {
		sess.Invalidate()
	}
	return interfaces.Typed(err)
}

func (c *Client) observe(op string, started time.Time, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = interfaces.ErrorKind(err)
		c.log.Warn("Backup operation failed", slog.String("op", op), slog.String("kind", result), "err", err)
	}
	metrics.ObserveBackupOp(op, result, started)
}

// find returns the ID of the first document with the canonical name, or ""
// if there is none.
func (c *Client) find(ctx context.Context, cred interfaces.Credentials) (string, error) {
	docs, err := c.store.Search(ctx, cred, c.name)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	if len(docs) > 1 {
		c.log.Warn("Multiple backup artifacts found, using the first", slog.Int("count", len(docs)))
	}
	return docs[0].ID, nil
}

// Save encrypts plaintext and writes it to the account's artifact, creating
// it only when none can be found.
func (c *Client) Save(ctx context.Context, sess *interfaces.Session, plaintext string, knownID string) (res SaveResult, err error) {
	started := time.Now()
	defer func() { c.observe("save", started, err) }()

	cred, err := c.credentials(sess)
	if err != nil {
		return SaveResult{}, err
	}
	if plaintext == "" {
		return SaveResult{}, fmt.Errorf("%w: empty backup payload", interfaces.ErrShareRejected)
	}

	ciphertext, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return SaveResult{}, interfaces.Typed(err)
	}
	content := []byte(ciphertext)

	if knownID != "" {
		id, err := c.store.Update(ctx, cred, knownID, content)
		if err == nil {
			c.log.Info("Backup updated", slog.String("id", id))
			return SaveResult{ID: id}, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return SaveResult{}, c.typed(sess, err)
		}
		c.log.Debug("Known backup id is stale, searching by name", slog.String("id", knownID))
	}

	existing, err := c.find(ctx, cred)
	if err != nil {
		return SaveResult{}, c.typed(sess, err)
	}

	if existing != "" {
		id, err := c.store.Update(ctx, cred, existing, content)
		if err != nil {
			return SaveResult{}, c.typed(sess, err)
		}
		c.log.Info("Backup updated", slog.String("id", id))
		return SaveResult{ID: id}, nil
	}

	id, err := c.store.Create(ctx, cred, c.name, content)
	if err != nil {
		return SaveResult{}, c.typed(sess, err)
	}
	c.log.Info("Backup created", slog.String("id", id))
	return SaveResult{ID: id, Created: true}, nil
}

// Fetch retrieves and decrypts the account's artifact. Returns ErrNotFound
// if neither knownID nor a name search resolves to one.
func (c *Client) Fetch(ctx context.Context, sess *interfaces.Session, knownID string) (res FetchResult, err error) {
	started := time.Now()
	defer func() { c.observe("fetch", started, err) }()

	cred, err := c.credentials(sess)
	if err != nil {
		return FetchResult{}, err
	}

	var content []byte
	id := knownID
	if id != "" {
		content, err = c.store.Get(ctx, cred, id)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return FetchResult{}, c.typed(sess, err)
		}
		if err != nil {
			c.log.Debug("Known backup id is stale, searching by name", slog.String("id", knownID))
			id = ""
		}
	}

	if id == "" {
		id, err = c.find(ctx, cred)
		if err != nil {
			return FetchResult{}, c.typed(sess, err)
		}
		if id == "" {
			return FetchResult{}, fmt.Errorf("%w: no backup for this account", interfaces.ErrNotFound)
		}
		content, err = c.store.Get(ctx, cred, id)
		if err != nil {
			return FetchResult{}, c.typed(sess, err)
		}
	}

	plaintext, err := c.cipher.Decrypt(string(content))
	if err != nil {
		return FetchResult{}, interfaces.Typed(err)
	}

	c.log.Info("Backup fetched", slog.String("id", id))
	return FetchResult{Plaintext: plaintext, ID: id}, nil
}

// Delete removes the account's artifact. An account without one is not an
// error, Deleted is false in that case.
func (c *Client) Delete(ctx context.Context, sess *interfaces.Session, knownID string) (res DeleteResult, err error) {
	started := time.Now()
	defer func() { c.observe("delete", started, err) }()

	cred, err := c.credentials(sess)
	if err != nil {
		return DeleteResult{}, err
	}

	if knownID != "" {
		err := c.store.Delete(ctx, cred, knownID)
		if err == nil {
			c.log.Info("Backup deleted", slog.String("id", knownID))
			return DeleteResult{Deleted: true, ID: knownID}, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return DeleteResult{}, c.typed(sess, err)
		}
	}

	id, err := c.find(ctx, cred)
	if err != nil {
		return DeleteResult{}, c.typed(sess, err)
	}
	if id == "" {
		c.log.Info("No backup to delete")
		return DeleteResult{Deleted: false}, nil
	}

	if err := c.store.Delete(ctx, cred, id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return DeleteResult{Deleted: false, ID: id}, nil
		}
		return DeleteResult{}, c.typed(sess, err)
	}

	c.log.Info("Backup deleted", slog.String("id", id))
	return DeleteResult{Deleted: true, ID: id}, nil
}
