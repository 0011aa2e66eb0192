// Package kms manages per-user threshold keys.
//
// A key is a secp256k1 private key split with Shamir's Secret Sharing. Only
// non-secret metadata is persisted: the threshold, the address of the key,
// the x-coordinate tag of every issued share and a sealed pool of spare
// shares. The key itself exists only in memory after enough shares have been
// submitted to a ShamirKeyring:
//
//	svc := kms.NewKeyringService(metadataStore, logger)
//	keyring, err := svc.Open(ctx, userID)
//	state, err := keyring.InputShare(ctx, deviceShare)
//	state, err = keyring.InputShare(ctx, backupShare)
//	key, err := keyring.ReconstructKey(ctx)
//
// ## Issuing New Shares
//
// The split at creation produces more shares than are handed out. The
// remainder is sealed with AES-GCM under a key derived from the secret, so
// GenerateNewShare works only on an unlocked keyring and never recomputes the
// polynomial. Once the pool is exhausted a fresh key has to be created.
//
// ## Verification
//
// Shares are checked against the issued tags on submission. After combining,
// the derived address must equal the committed one, otherwise reconstruction
// fails with interfaces.ErrAssemblyFailure and the collected shares are
// discarded.
package kms
