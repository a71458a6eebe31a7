package importing

import (
	"errors"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

var (
	ErrInvalidSession      = errors.New("invalid import session")
	ErrCreateSession       = errors.New("failed to create import session")
	ErrSessionExpired      = errors.New("import session expired")
	ErrRetryLimitExceeded  = errors.New("sync retry limit exceeded")
	ErrInvalidExportFilter = errors.New("invalid export filter")
	ErrSyncFailed          = errors.New("failed to sync import session")
	ErrEnrichFailed        = errors.New("failed to enrich import session")
	ErrQuerySession        = errors.New("failed to query import session")
	ErrPurgeFailed         = errors.New("failed to purge expired sessions")
	ErrDeleteSession       = errors.New("failed to delete import session")

	ErrSessionNotFound   = domain.ErrSessionNotFound
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrSyncInProgress    = domain.ErrSyncInProgress
	ErrFileNotFound      = domain.ErrFileNotFound
	ErrAuthExpired       = domain.ErrAuthExpired
)

const maxReasonLength = 1000

func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	return reason[:maxReasonLength]
}
