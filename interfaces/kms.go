package interfaces

import "context"

// ThresholdKey is the per-user threshold key: shares go in, the key comes out.
// Implementations own the share math; callers only track RequiredShares.
type ThresholdKey interface {
	// KeyDetails returns the current reconstruction progress.
	KeyDetails(ctx context.Context) (ThresholdState, error)

	// InputShare adds a share. Malformed, unknown or duplicate shares are
	// rejected with ErrShareRejected and leave the state unchanged.
	InputShare(ctx context.Context, share Share) (ThresholdState, error)

	// ReconstructKey combines the collected shares. It fails with
	// ErrAssemblyFailure when they do not yield the committed key.
	ReconstructKey(ctx context.Context) ([]byte, error)

	// GenerateNewShare issues an additional share for an already
	// reconstructed key.
	GenerateNewShare(ctx context.Context) (Share, error)
}

// Authenticator performs the interactive login with the identity provider.
type Authenticator interface {
	// Login returns ErrLoginDeclined when the user cancels.
	Login(ctx context.Context) (Credentials, error)
}

// TokenVerifier checks a bearer token with the identity provider and returns
// the user it was issued to. Invalid or expired tokens yield
// ErrAuthentication.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, accessToken string) (userID string, err error)
}
