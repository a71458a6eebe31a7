package importing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

const (
	defaultFuzzyThreshold = 0.8
	companySearchLimit    = 10
)

// RowInput is one row handed to the processor.
type RowInput struct {
	RowIndex      int64
	RawData       map[string]string
	EnrichedData  map[string]string
	FieldMappings map[string]string
}

func (in RowInput) properties() map[string]string {
	row := domain.Row{RawData: in.RawData, EnrichedData: in.EnrichedData}
	return row.Properties(in.FieldMappings)
}

type RowProcessorConfig struct {
	FuzzyThreshold float64
	TaskSubject    string
}

// RowProcessor pushes a single row to the CRM: contact upsert by email,
// company match, association and an optional follow-up task.
type RowProcessor struct {
	crm        CRMClient
	properties PropertyCatalog
	cfg        RowProcessorConfig
}

func NewRowProcessor(crm CRMClient, properties PropertyCatalog, cfg RowProcessorConfig) *RowProcessor {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = defaultFuzzyThreshold
	}
	if strings.TrimSpace(cfg.TaskSubject) == "" {
		cfg.TaskSubject = "Follow up on imported contact"
	}
	return &RowProcessor{crm: crm, properties: properties, cfg: cfg}
}

// Process returns an outcome for every ordinary failure. The returned error
// is non-nil only for auth-class failures and wraps ErrAuthExpired.
func (p *RowProcessor) Process(ctx context.Context, in RowInput, taskAssigneeID string) (domain.SyncOutcome, error) {
	outcome := domain.SyncOutcome{RowIndex: in.RowIndex, MatchType: domain.MatchNone}

	props, err := p.knownProperties(ctx, in.properties())
	if err != nil {
		return p.fail(outcome, "load crm properties", err)
	}

	email := strings.TrimSpace(props["email"])
	if email == "" {
		outcome.Error = "email is required"
		return outcome, nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		outcome.Error = fmt.Sprintf("invalid email %q", email)
		return outcome, nil
	}
	props["email"] = email

	contact, err := p.upsertContact(ctx, email, props)
	if err != nil {
		return p.fail(outcome, "upsert contact", err)
	}
	outcome.ContactID = contact.ID

	company, matchType, confidence, err := p.matchCompany(ctx, props, email)
	if err != nil {
		return p.fail(outcome, "match company", err)
	}
	outcome.MatchType = matchType
	outcome.MatchConfidence = confidence
	if company != nil {
		if err := p.crm.AssociateContactWithCompany(ctx, contact.ID, company.ID); err != nil {
			return p.fail(outcome, "associate company", err)
		}
		outcome.MatchedCompany = &domain.CompanyMatch{ID: company.ID, Name: company.Name, Domain: company.Domain}
	}

	if assignee := strings.TrimSpace(taskAssigneeID); assignee != "" {
		taskID, err := p.crm.CreateTask(ctx, domain.TaskRequest{
			ContactID:  contact.ID,
			AssigneeID: assignee,
			Subject:    p.cfg.TaskSubject,
			Body:       fmt.Sprintf("Imported contact %s (row %d)", email, in.RowIndex),
		})
		if err != nil {
			return p.fail(outcome, "create task", err)
		}
		outcome.TaskCreated = true
		outcome.TaskID = taskID
	}

	return outcome, nil
}

// knownProperties drops properties the CRM does not define. Without a
// catalog, or when the catalog cannot be loaded for a non-auth reason, every
// property is sent.
func (p *RowProcessor) knownProperties(ctx context.Context, props map[string]string) (map[string]string, error) {
	if p.properties == nil {
		return props, nil
	}
	known, err := p.properties.ContactProperties(ctx)
	if err != nil {
		if domain.IsAuthError(err) {
			return nil, err
		}
		return props, nil
	}
	if len(known) == 0 {
		return props, nil
	}
	filtered := make(map[string]string, len(props))
	for k, v := range props {
		if _, ok := known[k]; ok || k == "email" {
			filtered[k] = v
		}
	}
	return filtered, nil
}

func (p *RowProcessor) upsertContact(ctx context.Context, email string, props map[string]string) (domain.Contact, error) {
	existing, err := p.crm.FindContactByEmail(ctx, email)
	if err != nil {
		return domain.Contact{}, err
	}
	if existing != nil {
		return p.crm.UpdateContact(ctx, existing.ID, props)
	}
	return p.crm.CreateContact(ctx, props)
}

func (p *RowProcessor) matchCompany(ctx context.Context, props map[string]string, email string) (*domain.Company, domain.MatchType, float64, error) {
	if d := companyDomain(props, email); d != "" {
		company, err := p.crm.FindCompanyByDomain(ctx, d)
		if err != nil {
			return nil, domain.MatchNone, 0, err
		}
		if company != nil {
			return company, domain.MatchExact, 1, nil
		}
	}

	name := strings.TrimSpace(props["company"])
	if name == "" {
		return nil, domain.MatchNone, 0, nil
	}
	candidates, err := p.crm.SearchCompaniesByName(ctx, name, companySearchLimit)
	if err != nil {
		return nil, domain.MatchNone, 0, err
	}
	var best *domain.Company
	bestScore := 0.0
	for i := range candidates {
		score := nameSimilarity(name, candidates[i].Name)
		if score > bestScore {
			best, bestScore = &candidates[i], score
		}
	}
	if best == nil || bestScore < p.cfg.FuzzyThreshold {
		return nil, domain.MatchNone, 0, nil
	}
	if bestScore == 1 {
		return best, domain.MatchExact, 1, nil
	}
	return best, domain.MatchFuzzy, bestScore, nil
}

func (p *RowProcessor) fail(outcome domain.SyncOutcome, step string, err error) (domain.SyncOutcome, error) {
	if domain.IsAuthError(err) {
		outcome.Error = AuthRemediationMessage
		if errors.Is(err, ErrAuthExpired) {
			return outcome, fmt.Errorf("%s: %w", step, err)
		}
		return outcome, fmt.Errorf("%w: %s: %v", ErrAuthExpired, step, err)
	}
	outcome.Error = truncateReason(fmt.Sprintf("%s: %v", step, err))
	return outcome, nil
}
