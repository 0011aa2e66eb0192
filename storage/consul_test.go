package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
)

type fakeConsulKV struct {
	mu    sync.Mutex
	pairs map[string][]byte
	err   error
}

func (f *fakeConsulKV) Put(kv *api.KVPair, options *api.WriteOptions) (*api.WriteMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.pairs[kv.Key] = kv.Value
	return &api.WriteMeta{}, nil
}

func (f *fakeConsulKV) Get(key string, options *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	value, ok := f.pairs[key]
	if !ok {
		return nil, &api.QueryMeta{}, nil
	}
	return &api.KVPair{Key: key, Value: value}, &api.QueryMeta{}, nil
}

func (f *fakeConsulKV) Delete(key string, options *api.WriteOptions) (*api.WriteMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.pairs, key)
	return &api.WriteMeta{}, nil
}

func TestConsulMetadataStore(t *testing.T) {
	kv := &fakeConsulKV{pairs: make(map[string][]byte)}
	store := NewConsulMetadataStore(kv, "/recovery/keys/", testLogger())

	runMetadataStoreContract(t, store)

	assert.NoError(t, store.Put(context.Background(), "carol", []byte("x")))
	for key := range kv.pairs {
		assert.True(t, strings.HasPrefix(key, "recovery/keys/"), key)
	}
	assert.Equal(t, "consul-recovery/keys", store.Name())
}

func TestConsulMetadataStore_DefaultPrefix(t *testing.T) {
	store := NewConsulMetadataStore(&fakeConsulKV{pairs: map[string][]byte{}}, "", testLogger())
	assert.True(t, strings.HasPrefix(store.composeKey("alice"), "threshold_keyinfo/"))
}

func TestConsulMetadataStore_Unavailable(t *testing.T) {
	kv := &fakeConsulKV{pairs: make(map[string][]byte), err: errors.New("connection refused")}
	store := NewConsulMetadataStore(kv, "keys", testLogger())

	_, err := store.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.ErrorIs(t, store.Put(context.Background(), "alice", []byte("x")), interfaces.ErrBackendUnavailable)
}
