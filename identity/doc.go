// Package identity provides interfaces.Authenticator implementations that
// yield the user id and bearer token for remote backup stores.
package identity
