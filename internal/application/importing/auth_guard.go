package importing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// AuthRemediationMessage is recorded on every row that fails because the CRM
// rejected the session credentials.
const AuthRemediationMessage = "CRM authorization expired or was revoked. Reconnect the CRM integration, then retry the sync."

// maxConsecutiveAuthFailures aborts a run on the second auth failure in a row.
const maxConsecutiveAuthFailures = 2

type authDecision int

const (
	authContinue authDecision = iota
	authAbort
)

// authGuard tracks auth-class failures for one sync run.
type authGuard struct {
	credentials CredentialProvider
	properties  PropertyCatalog
	logger      *slog.Logger
	sessionID   string

	consecutive int
}

func newAuthGuard(credentials CredentialProvider, properties PropertyCatalog, logger *slog.Logger, sessionID string) *authGuard {
	return &authGuard{
		credentials: credentials,
		properties:  properties,
		logger:      logger,
		sessionID:   sessionID,
	}
}

// preflight forces a fresh credential before any row is touched.
func (g *authGuard) preflight(ctx context.Context) error {
	if g.credentials == nil {
		return nil
	}
	token, err := g.credentials.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: empty access token", ErrAuthExpired)
	}
	g.invalidateProperties(ctx)
	return nil
}

func (g *authGuard) observeSuccess() {
	g.consecutive = 0
}

// observeAuthFailure refreshes credentials on the first failure and asks the
// caller to abort on the second.
func (g *authGuard) observeAuthFailure(ctx context.Context) authDecision {
	g.consecutive++
	if g.consecutive >= maxConsecutiveAuthFailures {
		g.logger.Warn("crm auth failed again after refresh, aborting sync",
			"session_id", g.sessionID, "consecutive_failures", g.consecutive)
		return authAbort
	}
	if g.credentials != nil {
		if _, err := g.credentials.Refresh(ctx); err != nil {
			g.logger.Warn("crm credential refresh failed", "session_id", g.sessionID, "err", err)
		}
	}
	g.invalidateProperties(ctx)
	return authContinue
}

func (g *authGuard) invalidateProperties(ctx context.Context) {
	if g.properties == nil {
		return
	}
	if err := g.properties.Invalidate(ctx); err != nil {
		g.logger.Warn("invalidate crm properties cache failed", "session_id", g.sessionID, "err", err)
	}
}
