package importing

import (
	"context"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

// CRMClient is the subset of the CRM API used to sync one row. Find methods
// return nil without error when nothing matches.
type CRMClient interface {
	FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
	CreateContact(ctx context.Context, properties map[string]string) (domain.Contact, error)
	UpdateContact(ctx context.Context, contactID string, properties map[string]string) (domain.Contact, error)
	FindCompanyByDomain(ctx context.Context, companyDomain string) (*domain.Company, error)
	SearchCompaniesByName(ctx context.Context, name string, limit int) ([]domain.Company, error)
	AssociateContactWithCompany(ctx context.Context, contactID, companyID string) error
	CreateTask(ctx context.Context, task domain.TaskRequest) (string, error)
}

// PropertyCatalog reports the contact property names the CRM accepts.
type PropertyCatalog interface {
	ContactProperties(ctx context.Context) (map[string]struct{}, error)
	Invalidate(ctx context.Context) error
}

// CredentialProvider hands out CRM access tokens. Refresh forces a new token
// regardless of any cached one.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// RateLimiter gates outbound CRM calls. Wait blocks until the next call may
// start or ctx is done.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SessionLease grants one sync run per session at a time. Acquire returns
// domain.ErrSyncInProgress when another run holds the lease.
type SessionLease interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

type Enricher interface {
	Enrich(ctx context.Context, cfg domain.EnrichmentConfig, data map[string]string) domain.EnrichmentResult
}

type EnrichmentCatalog interface {
	Configs(ctx context.Context, ids []string) ([]domain.EnrichmentConfig, error)
}
