// Package interfaces defines the core interfaces and types shared by the
// share recovery components, separating interface definitions from
// implementations.
//
// # Threshold Key
//
// ThresholdKey: the per-user key split into shares. Shares are submitted one at
// a time and the key is reconstructed once RequiredShares reaches zero.
//
// Authenticator: the identity provider login that yields Credentials.
//
// # Storage Interfaces
//
// DocumentStore: remote named-document service that holds the encrypted backup
// (Google Drive, S3, Vault, local files). Documents are addressed by
// store-assigned ids and located by name.
//
// MetadataStore: persistence for threshold key metadata (file, Consul).
//
// DeviceShareStore: the share cached on the current device.
//
// # Errors
//
// All components report failures with the sentinel errors in this package,
// wrapped with fmt.Errorf("%w: ..."). ErrorKind classifies an error for logs
// and API responses, and Typed wraps any unclassified failure with
// ErrBackendUnavailable.
package interfaces
