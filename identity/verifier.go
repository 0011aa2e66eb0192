package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ruteri/share-recovery/interfaces"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleTokenVerifier checks access tokens with Google's tokeninfo endpoint.
// The verified email is the user id; accounts without a verified email fall
// back to the numeric Google user id.
type GoogleTokenVerifier struct {
	// Audience, when set, is the OAuth client id tokens must be issued to.
	Audience string
	// Endpoint overrides the API base URL.
	Endpoint   string
	HTTPClient *http.Client
}

func NewGoogleTokenVerifier(audience string) *GoogleTokenVerifier {
	return &GoogleTokenVerifier{
		Audience:   audience,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *GoogleTokenVerifier) VerifyToken(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", fmt.Errorf("%w: missing access token", interfaces.ErrAuthentication)
	}

	httpClient := v.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if v.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(v.Endpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrConfiguration, err)
	}

	info, err := svc.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusUnauthorized) {
			return "", fmt.Errorf("%w: token rejected by identity provider", interfaces.ErrAuthentication)
		}
		return "", interfaces.Typed(err)
	}

	if info.ExpiresIn <= 0 {
		return "", fmt.Errorf("%w: token expired", interfaces.ErrAuthentication)
	}
	if v.Audience != "" && info.Audience != v.Audience && info.IssuedTo != v.Audience {
		return "", fmt.Errorf("%w: token issued to another client", interfaces.ErrAuthentication)
	}

	switch {
	case info.Email != "" && info.VerifiedEmail:
		return info.Email, nil
	case info.UserId != "":
		return info.UserId, nil
	}
	return "", fmt.Errorf("%w: token carries no user identity", interfaces.ErrAuthentication)
}

// StaticTokenVerifier accepts a fixed set of tokens. For tests and local
// deployments.
type StaticTokenVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticTokenVerifier() *StaticTokenVerifier {
	return &StaticTokenVerifier{tokens: make(map[string]string)}
}

// Allow registers token as belonging to userID.
func (v *StaticTokenVerifier) Allow(token, userID string) *StaticTokenVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
	return v
}

func (v *StaticTokenVerifier) VerifyToken(ctx context.Context, accessToken string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.tokens[accessToken]
	if !ok || accessToken == "" {
		return "", fmt.Errorf("%w: unknown access token", interfaces.ErrAuthentication)
	}
	return userID, nil
}
