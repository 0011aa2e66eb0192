package api

// BackupRequest is the body of every backup API call. FileID is the
// document id returned by an earlier call, if the caller remembers it.
type BackupRequest struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	Mnemonic    string `json:"mnemonic,omitempty"`
	FileID      string `json:"file_id,omitempty"`
}

// SaveBackupResponse is returned by POST /api/backup/save.
type SaveBackupResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

// GetBackupResponse is returned by POST /api/backup/get.
type GetBackupResponse struct {
	Success  bool   `json:"success"`
	Mnemonic string `json:"mnemonic"`
	FileID   string `json:"file_id"`
}

// DeleteBackupResponse is returned by POST /api/backup/delete. Deleted is
// false when there was nothing to delete.
type DeleteBackupResponse struct {
	Success bool   `json:"success"`
	Deleted bool   `json:"deleted"`
	FileID  string `json:"file_id,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is returned with any non-2xx status. Kind is one of the
// interfaces.Kind* constants.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
