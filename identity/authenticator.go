package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ruteri/share-recovery/interfaces"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

// StaticAuthenticator returns fixed credentials. Used for service accounts
// and tests.
type StaticAuthenticator struct {
	Cred interfaces.Credentials
}

func (a *StaticAuthenticator) Login(ctx context.Context) (interfaces.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Credentials{}, err
	}
	if a.Cred.UserID == "" {
		return interfaces.Credentials{}, fmt.Errorf("%w: no user id configured", interfaces.ErrConfiguration)
	}
	return a.Cred, nil
}

// OAuth2Authenticator obtains a bearer token from an oauth2.TokenSource,
// e.g. one created from a refresh token with oauth2.Config.TokenSource.
type OAuth2Authenticator struct {
	UserID string
	Source oauth2.TokenSource
}

func (a *OAuth2Authenticator) Login(ctx context.Context) (interfaces.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Credentials{}, err
	}
	if a.UserID == "" || a.Source == nil {
		return interfaces.Credentials{}, fmt.Errorf("%w: oauth2 login is not configured", interfaces.ErrConfiguration)
	}

	token, err := a.Source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return interfaces.Credentials{}, fmt.Errorf("%w: %s", interfaces.ErrAuthentication, retrieveErr.ErrorCode)
		}
		return interfaces.Credentials{}, interfaces.Typed(err)
	}
	if !token.Valid() {
		return interfaces.Credentials{}, fmt.Errorf("%w: token source returned an invalid token", interfaces.ErrAuthentication)
	}
	return interfaces.Credentials{UserID: a.UserID, AccessToken: token.AccessToken}, nil
}

// PromptAuthenticator asks for the user id and access token interactively.
// The token is read without echo when the input is a terminal. Empty input
// declines the login.
type PromptAuthenticator struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	userID string
}

// NewPromptAuthenticator prompts on out and reads from in. A non-empty
// userID skips the first prompt.
func NewPromptAuthenticator(in *os.File, out io.Writer, userID string) *PromptAuthenticator {
	return newPromptAuthenticator(in, out, int(in.Fd()), userID)
}

func newPromptAuthenticator(in io.Reader, out io.Writer, fd int, userID string) *PromptAuthenticator {
	return &PromptAuthenticator{in: bufio.NewReader(in), out: out, fd: fd, userID: userID}
}

func (a *PromptAuthenticator) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *PromptAuthenticator) readSecret() (string, error) {
	if a.fd >= 0 && term.IsTerminal(a.fd) {
		secret, err := term.ReadPassword(a.fd)
		fmt.Fprintln(a.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	return a.readLine()
}

func (a *PromptAuthenticator) Login(ctx context.Context) (interfaces.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Credentials{}, err
	}

	userID := a.userID
	if userID == "" {
		fmt.Fprint(a.out, "User ID: ")
		line, err := a.readLine()
		if err != nil {
			return interfaces.Credentials{}, fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
		}
		userID = line
	}
	if userID == "" {
		return interfaces.Credentials{}, interfaces.ErrLoginDeclined
	}

	fmt.Fprint(a.out, "Access token: ")
	token, err := a.readSecret()
	if err != nil {
		return interfaces.Credentials{}, fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
	}
	if token == "" {
		return interfaces.Credentials{}, interfaces.ErrLoginDeclined
	}

	return interfaces.Credentials{UserID: userID, AccessToken: token}, nil
}
