package backuphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/share-recovery/api"
	"github.com/ruteri/share-recovery/backup"
	"github.com/ruteri/share-recovery/interfaces"
)

// Client calls a remote backup API. It has the same contract as
// backup.Client, so the recovery flow can use either.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    http.DefaultClient,
	}
}

func (c *Client) Save(ctx context.Context, sess *interfaces.Session, plaintext string, knownID string) (backup.SaveResult, error) {
	var resp api.SaveBackupResponse
	if err := c.call(ctx, sess, "/api/backup/save", plaintext, knownID, &resp); err != nil {
		return backup.SaveResult{}, err
	}
	return backup.SaveResult{ID: resp.FileID, Created: resp.Created}, nil
}

func (c *Client) Fetch(ctx context.Context, sess *interfaces.Session, knownID string) (backup.FetchResult, error) {
	var resp api.GetBackupResponse
	if err := c.call(ctx, sess, "/api/backup/get", "", knownID, &resp); err != nil {
		return backup.FetchResult{}, err
	}
	if resp.Mnemonic == "" {
		return backup.FetchResult{}, fmt.Errorf("%w: empty backup returned", interfaces.ErrDecryption)
	}
	return backup.FetchResult{Plaintext: resp.Mnemonic, ID: resp.FileID}, nil
}

func (c *Client) Delete(ctx context.Context, sess *interfaces.Session, knownID string) (backup.DeleteResult, error) {
	var resp api.DeleteBackupResponse
	if err := c.call(ctx, sess, "/api/backup/delete", "", knownID, &resp); err != nil {
		return backup.DeleteResult{}, err
	}
	return backup.DeleteResult{Deleted: resp.Deleted, ID: resp.FileID}, nil
}

func (c *Client) call(ctx context.Context, sess *interfaces.Session, path, mnemonic, fileID string, out any) error {
	cred, ok := sess.Credentials()
	if !ok {
		return fmt.Errorf("%w: session is not authenticated", interfaces.ErrAuthentication)
	}

	body, err := json.Marshal(api.BackupRequest{
		UserID:      cred.UserID,
		AccessToken: cred.AccessToken,
		Mnemonic:    mnemonic,
		FileID:      fileID,
	})
	if err != nil {
		return fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: could not initialize request: %w", interfaces.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %w", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: could not read response: %w", interfaces.ErrBackendUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := decodeError(resp.StatusCode, respBody)
		if errors.Is(err, interfaces.ErrAuthentication) {
			sess.Invalidate()
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: could not decode response: %w", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Kind == "" {
		return fmt.Errorf("%w: server returned status %d", interfaces.ErrBackendUnavailable, status)
	}
	sentinel := interfaces.ErrorForKind(errResp.Kind)
	return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(errResp.Error, sentinel.Error()+": "))
}
