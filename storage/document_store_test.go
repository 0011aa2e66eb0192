package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runDocumentStoreContract exercises the behavior every document store
// implementation must share.
func runDocumentStoreContract(t *testing.T, store interfaces.DocumentStore) {
	ctx := context.Background()
	alice := interfaces.Credentials{UserID: "alice", AccessToken: "tok-a"}
	bob := interfaces.Credentials{UserID: "bob", AccessToken: "tok-b"}

	docs, err := store.Search(ctx, alice, interfaces.BackupFileName)
	require.NoError(t, err)
	assert.Empty(t, docs)

	id, err := store.Create(ctx, alice, interfaces.BackupFileName, []byte("v1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = store.Create(ctx, alice, "unrelated.txt", []byte("other"))
	require.NoError(t, err)

	docs, err = store.Search(ctx, alice, interfaces.BackupFileName)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, interfaces.BackupFileName, docs[0].Name)

	// Accounts are isolated
	docs, err = store.Search(ctx, bob, interfaces.BackupFileName)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = store.Get(ctx, bob, id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	content, err := store.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), content)

	updatedID, err := store.Update(ctx, alice, id, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, id, updatedID)

	content, err = store.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)

	docs, err = store.Search(ctx, alice, interfaces.BackupFileName)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "update must not create a second document")

	require.NoError(t, store.Delete(ctx, alice, id))
	assert.ErrorIs(t, store.Delete(ctx, alice, id), interfaces.ErrNotFound)

	_, err = store.Get(ctx, alice, id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.Update(ctx, alice, id, []byte("v3"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.Get(ctx, alice, "not-a-real-id")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.Search(ctx, interfaces.Credentials{}, interfaces.BackupFileName)
	assert.ErrorIs(t, err, interfaces.ErrAuthentication)
}

func TestMemoryDocumentStore(t *testing.T) {
	runDocumentStoreContract(t, NewMemoryDocumentStore(testLogger()))
}

func TestMemoryDocumentStore_RequireToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore(testLogger())
	store.RequireToken("alice", "good")

	_, err := store.Create(ctx, interfaces.Credentials{UserID: "alice", AccessToken: "expired"}, "x", []byte("y"))
	assert.ErrorIs(t, err, interfaces.ErrAuthentication)

	_, err = store.Create(ctx, interfaces.Credentials{UserID: "alice", AccessToken: "good"}, "x", []byte("y"))
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Count("alice"))
}

func TestFileDocumentStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "document-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewFileDocumentStore(tempDir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "file://"+tempDir, store.LocationURI())

	runDocumentStoreContract(t, store)
}

func TestFileMetadataStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "metadata-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewFileMetadataStore(tempDir, testLogger())
	require.NoError(t, err)
	runMetadataStoreContract(t, store)
}

func runMetadataStoreContract(t *testing.T, store interfaces.MetadataStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "alice")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.Put(ctx, "alice", []byte("meta-1")))
	require.NoError(t, store.Put(ctx, "alice", []byte("meta-2")))

	data, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta-2"), data)

	_, err = store.Get(ctx, "bob")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "alice"), "deleting missing metadata is a no-op")
}
