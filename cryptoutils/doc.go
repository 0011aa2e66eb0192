// Package cryptoutils provides the cryptographic helpers of the recovery
// system.
//
// # Backup Encryption
//
// PasswordCipher encrypts share mnemonics before they are stored. The format
// is the OpenSSL passphrase format:
//
//	base64("Salted__" || salt (8 bytes) || AES-256-CBC(plaintext))
//
// The key and IV are derived with EVP_BytesToKey over MD5. The format carries
// no authentication tag; a wrong password is detected by padding and UTF-8
// checks, and a decrypted mnemonic is checked again by its BIP-39 checksum.
//
// # Share Encoding
//
//   - ShareToMnemonic / MnemonicToShare - Share as BIP-39 words plus an index
//     and a coordinate word
//   - FormatShareHex / ParseShare - Hex form, and parsing of either form
//
// # Sealing
//
//   - DeriveKey - HKDF-SHA256 key derivation from a master secret
//   - DeriveDeviceKey - Argon2id stretching of a local passphrase
//   - SealWithKey / OpenWithKey - AES-256-GCM with a random nonce:
//     [nonce (12 bytes)][ciphertext+tag]
//   - WipeBytes - Zeroes key material after use
package cryptoutils
