package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/share-recovery/interfaces"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveMimeType = "text/plain"

// DriveDocumentStore implements a document store on Google Drive. Calls are
// made with the session's bearer token, so the account is whatever Drive the
// token grants access to.
type DriveDocumentStore struct {
	endpoint    string
	httpClient  *http.Client
	log         *slog.Logger
	locationURI string
}

// NewDriveDocumentStore creates a Drive store. An empty endpoint uses the
// public Drive API.
func NewDriveDocumentStore(endpoint string, log *slog.Logger) *DriveDocumentStore {
	uri := "gdrive://"
	if endpoint != "" {
		uri += "?endpoint=" + endpoint
	}
	return &DriveDocumentStore{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         log,
		locationURI: uri,
	}
}

func (d *DriveDocumentStore) service(ctx context.Context, cred interfaces.Credentials) (*drive.Service, error) {
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", interfaces.ErrAuthentication)
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, d.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}),
	)
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}

	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Drive client: %v", interfaces.ErrBackendUnavailable, err)
	}
	return srv, nil
}

// driveNameQuery builds the exact-name search used to locate the backup.
func driveNameQuery(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return fmt.Sprintf("name='%s' and trashed=false", escaped)
}

// mapDriveError converts Drive API errors into the store's sentinel errors.
func mapDriveError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

func (d *DriveDocumentStore) Search(ctx context.Context, cred interfaces.Credentials, name string) ([]interfaces.Document, error) {
	srv, err := d.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	list, err := srv.Files.List().
		Q(driveNameQuery(name)).
		Fields("files(id, name)").
		OrderBy("createdTime").
		Context(ctx).
		Do()
	if err != nil {
		d.log.Warn("Drive search failed", "err", err)
		return nil, mapDriveError(err)
	}

	docs := make([]interfaces.Document, 0, len(list.Files))
	for _, f := range list.Files {
		docs = append(docs, interfaces.Document{ID: f.Id, Name: f.Name})
	}
	return docs, nil
}

func (d *DriveDocumentStore) Get(ctx context.Context, cred interfaces.Credentials, id string) ([]byte, error) {
	srv, err := d.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := srv.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, mapDriveError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file body: %v", interfaces.ErrBackendUnavailable, err)
	}

	d.log.Debug("Fetched document from Drive", slog.String("id", id), slog.Int("size", len(data)))
	return data, nil
}

func (d *DriveDocumentStore) Create(ctx context.Context, cred interfaces.Credentials, name string, content []byte) (string, error) {
	srv, err := d.service(ctx, cred)
	if err != nil {
		return "", err
	}

	f, err := srv.Files.Create(&drive.File{Name: name, MimeType: driveMimeType}).
		Media(bytes.NewReader(content), googleapi.ContentType(driveMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapDriveError(err)
	}

	d.log.Info("Created document in Drive", slog.String("id", f.Id))
	return f.Id, nil
}

func (d *DriveDocumentStore) Update(ctx context.Context, cred interfaces.Credentials, id string, content []byte) (string, error) {
	srv, err := d.service(ctx, cred)
	if err != nil {
		return "", err
	}

	f, err := srv.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(driveMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapDriveError(err)
	}
	return f.Id, nil
}

func (d *DriveDocumentStore) Delete(ctx context.Context, cred interfaces.Credentials, id string) error {
	srv, err := d.service(ctx, cred)
	if err != nil {
		return err
	}
	if err := srv.Files.Delete(id).Context(ctx).Do(); err != nil {
		return mapDriveError(err)
	}
	return nil
}

func (d *DriveDocumentStore) Name() string {
	return "gdrive"
}

func (d *DriveDocumentStore) LocationURI() string {
	return d.locationURI
}
