// Package wallet wraps a reconstructed secp256k1 key for message signing and
// balance queries.
package wallet
