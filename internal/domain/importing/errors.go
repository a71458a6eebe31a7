package importing

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionConflict    = errors.New("session state changed concurrently")
	ErrRowConflict        = errors.New("row state changed concurrently")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrSyncInProgress     = errors.New("sync already in progress for session")
	ErrFileNotFound       = errors.New("file not found")
	ErrAuthExpired        = errors.New("crm authentication expired")
	ErrPropertiesNotFound = errors.New("crm properties not cached")
)
