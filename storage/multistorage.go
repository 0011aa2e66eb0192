package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/share-recovery/interfaces"
)

// MultiMetadataStore replicates key metadata across several stores. Reads
// fall back through the stores in order, writes go to all of them.
type MultiMetadataStore struct {
	stores []interfaces.MetadataStore
	log    *slog.Logger
}

// NewMultiMetadataStore creates a replicated metadata store.
func NewMultiMetadataStore(stores []interfaces.MetadataStore, logger *slog.Logger) *MultiMetadataStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiMetadataStore{
		stores: stores,
		log:    logger,
	}
}

// Get returns the metadata from the first store that has it. ErrNotFound is
// returned only when every store reports it missing.
func (m *MultiMetadataStore) Get(ctx context.Context, userID string) ([]byte, error) {
	start := time.Now()
	var errs []error
	allNotFound := true

	for _, store := range m.stores {
		data, err := store.Get(ctx, userID)
		if err == nil {
			m.log.Debug("Fetched key metadata",
				slog.String("store_name", store.Name()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if !errors.Is(err, interfaces.ErrNotFound) {
			allNotFound = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		m.log.Debug("Failed to fetch from store",
			slog.String("store_name", store.Name()),
			"err", err)
	}

	if allNotFound {
		return nil, fmt.Errorf("%w: no key metadata for user", interfaces.ErrNotFound)
	}

	m.log.Error("All stores failed to fetch key metadata",
		slog.Int("failed_stores", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all stores failed: %v", interfaces.ErrBackendUnavailable, errors.Join(errs...))
}

// Put writes to every store and succeeds if at least one write did.
func (m *MultiMetadataStore) Put(ctx context.Context, userID string, data []byte) error {
	var errs []error
	var stored int

	for _, store := range m.stores {
		if err := store.Put(ctx, userID, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Warn("Failed to store key metadata",
				slog.String("store_name", store.Name()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		return fmt.Errorf("%w: all stores failed to store key metadata: %v", interfaces.ErrBackendUnavailable, errors.Join(errs...))
	}
	return nil
}

// Delete removes the metadata from every store and fails if any store did.
func (m *MultiMetadataStore) Delete(ctx context.Context, userID string) error {
	var errs []error
	for _, store := range m.stores {
		if err := store.Delete(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, errors.Join(errs...))
	}
	return nil
}

func (m *MultiMetadataStore) Name() string {
	names := make([]string, 0, len(m.stores))
	for _, store := range m.stores {
		names = append(names, store.Name())
	}
	return "multi:[" + strings.Join(names, ",") + "]"
}
