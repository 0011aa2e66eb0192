package interfaces

import (
	"fmt"
	"sync"
)

// Share is one piece of a split key. Index is 1-based and unique within the
// key's share set. Material is opaque outside the threshold key module.
type Share struct {
	Index    int
	Material []byte
}

// Valid performs the structural checks every share channel applies before
// handing a share to the threshold key module.
func (s Share) Valid() error {
	if s.Index < 1 {
		return fmt.Errorf("%w: index %d out of range", ErrShareRejected, s.Index)
	}
	if len(s.Material) == 0 {
		return fmt.Errorf("%w: empty share material", ErrShareRejected)
	}
	return nil
}

// ThresholdState is the threshold key module's view of reconstruction progress.
// RequiredShares == 0 means the key can be reconstructed.
type ThresholdState struct {
	Threshold      int `json:"threshold"`
	TotalShares    int `json:"total_shares"`
	RequiredShares int `json:"required_shares"`
}

// Ready reports whether no more shares are needed.
func (s ThresholdState) Ready() bool {
	return s.RequiredShares == 0
}

// Credentials are the result of a successful login with the identity provider.
type Credentials struct {
	UserID      string
	AccessToken string
}

// Session holds the credentials used for remote document store calls.
// It is invalidated on logout and whenever a store rejects its token.
type Session struct {
	mu            sync.RWMutex
	cred          Credentials
	authenticated bool
}

// NewSession creates an authenticated session.
func NewSession(cred Credentials) *Session {
	return &Session{cred: cred, authenticated: cred.AccessToken != ""}
}

// Credentials returns the session credentials and whether they are still valid.
func (s *Session) Credentials() (Credentials, bool) {
	if s == nil {
		return Credentials{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.authenticated
}

// Authenticated reports whether the session can be used for store calls.
func (s *Session) Authenticated() bool {
	_, ok := s.Credentials()
	return ok
}

// Invalidate marks the session unusable until a new login.
func (s *Session) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	s.cred.AccessToken = ""
}
