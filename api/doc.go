/*
Package api contains the wire types of the backup HTTP API and the
configuration of its server.

The API keeps the backup encryption password on the server. Clients send the
identity provider access token with every request. The server verifies the
token, acts for the user it was issued to, and never persists it. A user_id
in the body is informational only.

# Subpackages

  - server: HTTP server lifecycle, health endpoints and metrics
  - backuphandler: request handling for the backup routes and a matching client

# Endpoints

  - POST /api/backup/save - Encrypt and save a share mnemonic
  - POST /api/backup/get - Fetch and decrypt the saved mnemonic
  - POST /api/backup/delete - Delete the saved mnemonic
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Error Handling

Errors are returned as JSON with the error kind:

	{"error": "not found: no backup for this account", "kind": "not_found"}

  - 400 Bad Request: malformed request or share
  - 401 Unauthorized: missing or rejected access token
  - 404 Not Found: no backup for the account
  - 422 Unprocessable Entity: the backup cannot be decrypted
  - 500 Internal Server Error: configuration problem or store failure
*/
package api
