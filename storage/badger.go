package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/ruteri/share-recovery/interfaces"
)

const deviceShareKeyPrefix = "device_share/"

// BadgerConfig configures the local device share cache.
type BadgerConfig struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string
	// EncryptionKey enables badger's at-rest encryption (16, 24 or 32 bytes).
	EncryptionKey []byte
	InMemory      bool
}

// BadgerDeviceStore caches one share per user on the local device.
type BadgerDeviceStore struct {
	db  *badger.DB
	log *slog.Logger
}

type deviceShareRecord struct {
	Index    int    `json:"index"`
	Material []byte `json:"material"`
}

func NewBadgerDeviceStore(config BadgerConfig, log *slog.Logger) (*BadgerDeviceStore, error) {
	opts := badger.DefaultOptions(config.DBPath).
		WithSyncWrites(true).
		WithLogger(nil)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(config.EncryptionKey) > 0 {
		opts = opts.WithEncryptionKey(config.EncryptionKey).WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	log.Debug("Opened device share store", slog.String("path", config.DBPath), slog.Bool("encrypted", len(config.EncryptionKey) > 0))
	return &BadgerDeviceStore{db: db, log: log}, nil
}

func deviceShareKey(userID string) []byte {
	return []byte(deviceShareKeyPrefix + interfaces.AccountKey(userID))
}

func (b *BadgerDeviceStore) Get(ctx context.Context, userID string) (interfaces.Share, error) {
	var rec deviceShareRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceShareKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.Share{}, fmt.Errorf("%w: no device share cached", interfaces.ErrNotFound)
	} else if err != nil {
		return interfaces.Share{}, fmt.Errorf("failed to read device share: %w", err)
	}

	return interfaces.Share{Index: rec.Index, Material: rec.Material}, nil
}

func (b *BadgerDeviceStore) Put(ctx context.Context, userID string, share interfaces.Share) error {
	if err := share.Valid(); err != nil {
		return err
	}
	value, err := json.Marshal(deviceShareRecord{Index: share.Index, Material: share.Material})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deviceShareKey(userID), value)
	})
}

func (b *BadgerDeviceStore) Delete(ctx context.Context, userID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(deviceShareKey(userID))
	})
}

// Close closes the underlying database.
func (b *BadgerDeviceStore) Close() error {
	return b.db.Close()
}
