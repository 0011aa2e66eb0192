// Package storage provides per-account document and metadata stores with
// pluggable backends.
//
// Document stores hold the encrypted share backup of a user. Documents are
// addressed by an opaque ID assigned by the backend and can be searched by
// name. Every call carries the user's interfaces.Credentials, which select the
// account namespace and, for remote providers, authenticate the request:
//
//   - Google Drive, authenticated with the user's OAuth2 access token
//   - S3-compatible object storage
//   - HashiCorp Vault KV v2
//   - Local file system, for development and testing
//   - In-memory, for tests
//
// Metadata stores hold the non-secret threshold key metadata managed by the
// kms package. They can be replicated across several locations with
// MultiMetadataStore:
//
//   - Local file system
//   - Consul KV
//
// BadgerDeviceStore keeps the device share in an encrypted local database.
//
// # Store URI Format
//
// Stores are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//
//   - gdrive://
//   - s3://[access:secret@]bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//   - vault://vault.example.com:8200/secret/backups?token=...&tls=false
//   - file:///var/lib/share-recovery/backups
//   - mem://
//   - consul://127.0.0.1:8500/threshold_keyinfo
//
// # Usage Example
//
//	factory := storage.NewStoreFactory(logger)
//
//	loc, err := interfaces.NewStoreLocation("gdrive://")
//	if err != nil {
//	    log.Fatalf("Invalid location: %v", err)
//	}
//	docs, err := factory.DocumentStoreFor(loc)
//
//	metadata, err := factory.CreateMultiMetadataStore([]interfaces.StoreLocation{fileLoc, consulLoc})
package storage
