package backuphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/share-recovery/api"
	"github.com/ruteri/share-recovery/backup"
	"github.com/ruteri/share-recovery/interfaces"
)

// maxBodySize bounds request bodies. A mnemonic plus token fits easily.
const maxBodySize = 64 << 10

// Backend is the backup logic served over HTTP. Implemented by backup.Client.
type Backend interface {
	Save(ctx context.Context, sess *interfaces.Session, plaintext string, knownID string) (backup.SaveResult, error)
	Fetch(ctx context.Context, sess *interfaces.Session, knownID string) (backup.FetchResult, error)
	Delete(ctx context.Context, sess *interfaces.Session, knownID string) (backup.DeleteResult, error)
}

// Handler serves the backup API. The encryption password lives inside the
// backend; callers only supply their identity token. The user a request acts
// for is whoever the verifier says the token belongs to, never the user_id
// in the body.
type Handler struct {
	backend  Backend
	verifier interfaces.TokenVerifier
	log      *slog.Logger
}

func NewHandler(backend Backend, verifier interfaces.TokenVerifier, log *slog.Logger) (*Handler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: backup handler requires a token verifier", interfaces.ErrConfiguration)
	}
	return &Handler{
		backend:  backend,
		verifier: verifier,
		log:      log,
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/backup/save", h.HandleSave)
	r.Post("/api/backup/get", h.HandleGet)
	r.Post("/api/backup/delete", h.HandleDelete)
}

// decodeRequest parses the body and builds a per-request session. The token
// is held only for the duration of the request.
func (h *Handler) decodeRequest(r *http.Request) (api.BackupRequest, *interfaces.Session, error) {
	var req api.BackupRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return req, nil, fmt.Errorf("%w: could not read request body", interfaces.ErrInvalidRequest)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, nil, fmt.Errorf("%w: invalid request body", interfaces.ErrInvalidRequest)
	}
	if req.AccessToken == "" {
		return req, nil, fmt.Errorf("%w: missing access_token", interfaces.ErrAuthentication)
	}

	userID, err := h.verifier.VerifyToken(r.Context(), req.AccessToken)
	if err != nil {
		return req, nil, err
	}
	if req.UserID != "" && req.UserID != userID {
		h.log.Warn("Request user does not match token owner", slog.String("claimed", req.UserID), slog.String("user", userID))
	}
	req.UserID = userID

	return req, interfaces.NewSession(interfaces.Credentials{UserID: userID, AccessToken: req.AccessToken}), nil
}

func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	req, sess, err := h.decodeRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Mnemonic == "" {
		h.writeError(w, fmt.Errorf("%w: missing mnemonic", interfaces.ErrInvalidRequest))
		return
	}

	res, err := h.backend.Save(r.Context(), sess, req.Mnemonic, req.FileID)
	if err != nil {
		h.log.Error("Failed to save backup", slog.String("user", req.UserID), "err", err)
		h.writeError(w, err)
		return
	}

	message := "Backup updated"
	if res.Created {
		message = "Backup created"
	}
	h.writeJSON(w, http.StatusOK, api.SaveBackupResponse{
		Success: true,
		FileID:  res.ID,
		Created: res.Created,
		Message: message,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, sess, err := h.decodeRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.backend.Fetch(r.Context(), sess, req.FileID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			h.log.Error("Failed to fetch backup", slog.String("user", req.UserID), "err", err)
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.GetBackupResponse{
		Success:  true,
		Mnemonic: res.Plaintext,
		FileID:   res.ID,
	})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	req, sess, err := h.decodeRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.backend.Delete(r.Context(), sess, req.FileID)
	if err != nil {
		h.log.Error("Failed to delete backup", slog.String("user", req.UserID), "err", err)
		h.writeError(w, err)
		return
	}

	message := "No backup to delete"
	if res.Deleted {
		message = "Backup deleted"
	}
	h.writeJSON(w, http.StatusOK, api.DeleteBackupResponse{
		Success: true,
		Deleted: res.Deleted,
		FileID:  res.ID,
		Message: message,
	})
}

// statusForKind maps an error kind to the HTTP status returned for it.
func statusForKind(kind string) int {
	switch kind {
	case interfaces.KindInvalidRequest, interfaces.KindShareRejected:
		return http.StatusBadRequest
	case interfaces.KindAuthentication:
		return http.StatusUnauthorized
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindDecryption:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := interfaces.ErrorKind(err)
	h.writeJSON(w, statusForKind(kind), api.ErrorResponse{Error: err.Error(), Kind: kind})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
