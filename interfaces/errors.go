package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a required secret or setting is missing.
	// It is raised before any network call and is not recoverable at runtime.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication is returned when a login fails or a store rejects the
	// session token. The session must be re-established.
	ErrAuthentication = errors.New("authentication failed")

	// ErrLoginDeclined is returned when the user cancels the login prompt.
	ErrLoginDeclined = fmt.Errorf("%w: login declined", ErrAuthentication)

	// ErrNotFound is returned when a document, share or key record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDecryption is returned when a backup cannot be decrypted, either
	// because of a wrong password or a corrupted artifact.
	ErrDecryption = errors.New("decryption failed")

	// ErrShareRejected is returned when a submitted share is malformed,
	// duplicate or does not belong to the key.
	ErrShareRejected = errors.New("share rejected")

	// ErrAssemblyFailure is returned when enough shares were collected but
	// they do not combine into the expected key.
	ErrAssemblyFailure = errors.New("key assembly failed")

	// ErrBackendUnavailable is returned when a remote service is not accessible.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")

	// ErrInvalidRequest is returned for a malformed API request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidState is returned when an operation is not allowed in the current recovery state.
	ErrInvalidState = errors.New("invalid state")
)

// Error kinds, as reported in logs and API responses.
const (
	KindConfiguration  = "configuration"
	KindAuthentication = "authentication"
	KindNotFound       = "not_found"
	KindDecryption     = "decryption"
	KindShareRejected  = "share_rejected"
	KindAssembly       = "assembly_failure"
	KindInvalidState   = "invalid_state"
	KindInvalidRequest = "invalid_request"
	KindUnavailable    = "unavailable"
)

var kindErrors = []struct {
	kind string
	err  error
}{
	{KindConfiguration, ErrConfiguration},
	{KindAuthentication, ErrAuthentication},
	{KindNotFound, ErrNotFound},
	{KindDecryption, ErrDecryption},
	{KindShareRejected, ErrShareRejected},
	{KindAssembly, ErrAssemblyFailure},
	{KindInvalidState, ErrInvalidState},
	{KindInvalidRequest, ErrInvalidRequest},
}

// ErrorKind classifies err. Anything not matching a known sentinel,
// including deadlines and transport failures, is KindUnavailable.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindUnavailable
}

// ErrorForKind maps a kind back to its sentinel error.
func ErrorForKind(kind string) error {
	for _, ke := range kindErrors {
		if ke.kind == kind {
			return ke.err
		}
	}
	return ErrBackendUnavailable
}

// Typed ensures err carries one of the sentinels above. Untyped failures
// are wrapped with ErrBackendUnavailable so callers can always classify them.
func Typed(err error) error {
	if err == nil {
		return nil
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return err
		}
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
