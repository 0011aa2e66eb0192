package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/ruteri/share-recovery/interfaces"
)

// ConsulKV is the subset of the Consul KV API used by ConsulMetadataStore.
type ConsulKV interface {
	Put(kv *api.KVPair, options *api.WriteOptions) (*api.WriteMeta, error)
	Get(key string, options *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error)
	Delete(key string, options *api.WriteOptions) (*api.WriteMeta, error)
}

// ConsulMetadataStore keeps threshold key metadata in Consul KV under
// <prefix>/<account>.
type ConsulMetadataStore struct {
	kv     ConsulKV
	prefix string
	log    *slog.Logger
}

// NewConsulClient creates a Consul client for address. Token may be empty.
func NewConsulClient(address, token string) (*api.Client, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	if token != "" {
		cfg.Token = token
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

func NewConsulMetadataStore(kv ConsulKV, prefix string, log *slog.Logger) *ConsulMetadataStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "threshold_keyinfo"
	}
	return &ConsulMetadataStore{kv: kv, prefix: prefix, log: log}
}

func (s *ConsulMetadataStore) composeKey(userID string) string {
	return fmt.Sprintf("%s/%s", s.prefix, interfaces.AccountKey(userID))
}

func (s *ConsulMetadataStore) Get(ctx context.Context, userID string) ([]byte, error) {
	pair, _, err := s.kv.Get(s.composeKey(userID), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get key metadata: %v", interfaces.ErrBackendUnavailable, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: no key metadata for user", interfaces.ErrNotFound)
	}
	return pair.Value, nil
}

func (s *ConsulMetadataStore) Put(ctx context.Context, userID string, data []byte) error {
	pair := &api.KVPair{Key: s.composeKey(userID), Value: data}
	if _, err := s.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: failed to save key metadata: %v", interfaces.ErrBackendUnavailable, err)
	}
	s.log.Debug("Stored key metadata in consul", slog.String("key", pair.Key))
	return nil
}

func (s *ConsulMetadataStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.kv.Delete(s.composeKey(userID), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: failed to delete key metadata: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *ConsulMetadataStore) Name() string {
	return "consul-" + s.prefix
}
