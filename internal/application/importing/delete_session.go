package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

// DeleteSession stops a running sync of the session, if any, and removes
// the session with its rows and original file.
type DeleteSession struct {
	repo   domain.SessionRepository
	files  domain.FileStore
	runs   *RunRegistry
	logger *slog.Logger
}

func NewDeleteSession(repo domain.SessionRepository, files domain.FileStore, runs *RunRegistry, logger *slog.Logger) *DeleteSession {
	return &DeleteSession{repo: repo, files: files, runs: runs, logger: logging.OrDefault(logger)}
}

func (uc *DeleteSession) Execute(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}

	session, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeleteSession, err)
	}

	if done, running := uc.runs.Cancel(sessionID); running {
		uc.logger.Info("cancelling running sync before delete", "session_id", sessionID)
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for sync to stop: %v", ErrDeleteSession, ctx.Err())
		}
	}

	if _, err := uc.repo.DeleteRows(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: delete rows: %v", ErrDeleteSession, err)
	}
	if session.File != nil && uc.files != nil {
		if err := uc.files.Delete(ctx, session.File.Key); err != nil && !errors.Is(err, ErrFileNotFound) {
			return fmt.Errorf("%w: delete file: %v", ErrDeleteSession, err)
		}
	}
	if err := uc.repo.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDeleteSession, err)
	}

	uc.logger.Info("import session deleted", "session_id", sessionID)
	return nil
}
