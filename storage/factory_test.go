package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func mustLocation(t *testing.T, uri string) interfaces.StoreLocation {
	loc, err := interfaces.NewStoreLocation(uri)
	require.NoError(t, err)
	return loc
}

func TestStoreFactory_DocumentStoreFor(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "factory-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	factory := NewStoreFactory(testLogger())

	tests := []struct {
		uri      string
		expected string
	}{
		{"file://" + filepath.Join(tempDir, "docs"), "*storage.FileDocumentStore"},
		{"mem://", "*storage.MemoryDocumentStore"},
		{"gdrive://", "*storage.DriveDocumentStore"},
		{"s3://AKIA:secret@bucket/prefix?region=eu-west-1", "*storage.S3DocumentStore"},
		{"vault://127.0.0.1:8200/secret/backups?tls=false&token=root", "*storage.VaultDocumentStore"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			store, err := factory.DocumentStoreFor(mustLocation(t, tt.uri))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fmt.Sprintf("%T", store))
		})
	}

	m1, err := factory.DocumentStoreFor(mustLocation(t, "mem://"))
	require.NoError(t, err)
	m2, err := factory.DocumentStoreFor(mustLocation(t, "mem://"))
	require.NoError(t, err)
	assert.Same(t, m1, m2, "mem:// is shared within one factory")

	_, err = factory.DocumentStoreFor(mustLocation(t, "consul://127.0.0.1:8500/keys"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.DocumentStoreFor(mustLocation(t, "vault://127.0.0.1:8200"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestStoreFactory_MetadataStores(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "factory-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	factory := NewStoreFactory(testLogger())

	single, err := factory.CreateMultiMetadataStore([]interfaces.StoreLocation{
		mustLocation(t, "file://"+filepath.Join(tempDir, "a")),
	})
	require.NoError(t, err)
	assert.Equal(t, "*storage.FileMetadataStore", fmt.Sprintf("%T", single))

	multi, err := factory.CreateMultiMetadataStore([]interfaces.StoreLocation{
		mustLocation(t, "file://"+filepath.Join(tempDir, "a")),
		mustLocation(t, "consul://127.0.0.1:8500/keys"),
		mustLocation(t, "mem://"),
	})
	require.NoError(t, err)
	assert.Equal(t, "*storage.MultiMetadataStore", fmt.Sprintf("%T", multi))

	_, err = factory.CreateMultiMetadataStore([]interfaces.StoreLocation{mustLocation(t, "mem://")})
	assert.Error(t, err)
}

func TestDriveNameQuery(t *testing.T) {
	assert.Equal(t, "name='tkey_mnemonic_backup.txt' and trashed=false", driveNameQuery(interfaces.BackupFileName))
	assert.Equal(t, `name='it\'s \\ here' and trashed=false`, driveNameQuery(`it's \ here`))
}

func TestMapDriveError(t *testing.T) {
	assert.ErrorIs(t, mapDriveError(&googleapi.Error{Code: http.StatusNotFound}), interfaces.ErrNotFound)
	assert.ErrorIs(t, mapDriveError(&googleapi.Error{Code: http.StatusUnauthorized}), interfaces.ErrAuthentication)
	assert.ErrorIs(t, mapDriveError(&googleapi.Error{Code: http.StatusForbidden}), interfaces.ErrAuthentication)
	assert.ErrorIs(t, mapDriveError(&googleapi.Error{Code: http.StatusInternalServerError}), interfaces.ErrBackendUnavailable)
	assert.ErrorIs(t, mapDriveError(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}), interfaces.ErrAuthentication)
	assert.ErrorIs(t, mapDriveError(errors.New("timeout")), interfaces.ErrBackendUnavailable)
}

func TestDriveDocumentStore_RequiresToken(t *testing.T) {
	store := NewDriveDocumentStore("", testLogger())
	_, err := store.Search(context.Background(), interfaces.Credentials{UserID: "alice"}, interfaces.BackupFileName)
	assert.ErrorIs(t, err, interfaces.ErrAuthentication)
}
