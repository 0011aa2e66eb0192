// Package main (cmd/backupserver) serves the backup API.
//
// The server holds the mnemonic encryption password, so clients never see
// it. Each request carries the caller's identity provider token. The token
// is verified against Google's tokeninfo endpoint and the backup is stored
// under the account it belongs to. Tokens are not persisted.
//
// Example usage:
//
//	MNEMONIC_ENCRYPTION_PASSWORD=... backup-server \
//	    --listen-addr=0.0.0.0:8080 \
//	    --backup-store=gdrive:// \
//	    --token-audience=1234.apps.googleusercontent.com
//
// The server refuses to start without a password.
package main
