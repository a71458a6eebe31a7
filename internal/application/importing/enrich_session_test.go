package importing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/repository"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

type staticCatalog map[string]domain.EnrichmentConfig

func (c staticCatalog) Configs(ctx context.Context, ids []string) ([]domain.EnrichmentConfig, error) {
	out := make([]domain.EnrichmentConfig, 0, len(ids))
	for _, id := range ids {
		cfg, ok := c[id]
		if !ok {
			return nil, errors.New("unknown enrichment " + id)
		}
		out = append(out, cfg)
	}
	return out, nil
}

type upperEnricher struct{}

func (upperEnricher) Enrich(ctx context.Context, cfg domain.EnrichmentConfig, data map[string]string) domain.EnrichmentResult {
	v := strings.TrimSpace(data[cfg.SourceField])
	if v == "" {
		return domain.EnrichmentResult{Error: cfg.SourceField + " is empty"}
	}
	return domain.EnrichmentResult{Value: strings.ToUpper(v), Success: true}
}

func TestEnrichSessionValidatesAndEnriches(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemorySessionRepository()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	create := app.NewCreateSession(app.CreateSessionDeps{Repo: repo, Logger: logging.Discard(), Now: clock})
	out, err := create.Execute(context.Background(), app.CreateSessionInput{
		AccountID: "acct-1",
		FileName:  "leads.csv",
		Rows: []map[string]string{
			{"mail": "a@acme.com", "city": "berlin", "team": "sales"},
			{"mail": "broken", "city": "paris", "team": "ops"},
			{"mail": "c@acme.com", "city": "", "team": "ops"},
			{"mail": "d@acme.com", "city": "rome", "team": ""},
		},
		FieldMappings:       map[string]string{"mail": "email"},
		EnrichmentConfigIDs: []string{"city-upper", "team-upper"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enrich := app.NewEnrichSession(app.EnrichSessionDeps{
		Repo: repo,
		Catalog: staticCatalog{
			"city-upper": {ID: "city-upper", SourceField: "city", TargetField: "city_upper", Required: true},
			"team-upper": {ID: "team-upper", SourceField: "team", TargetField: "team_upper"},
		},
		Enricher: upperEnricher{},
		Logger:   logging.Discard(),
		Now:      clock,
	})
	summary, err := enrich.Execute(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if summary.Enriched != 2 || summary.Failed != 2 || summary.Status != domain.SessionEnriched {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rows, _ := repo.ListRows(context.Background(), domain.RowQuery{SessionID: out.SessionID, AfterIndex: -1})
	byIndex := map[int64]domain.Row{}
	for _, r := range rows {
		byIndex[r.RowIndex] = r
	}
	if r := byIndex[0]; r.Status != domain.RowEnriched || r.EnrichedData["city_upper"] != "BERLIN" || r.EnrichedData["team_upper"] != "SALES" {
		t.Fatalf("unexpected row 0: %+v", r)
	}
	if r := byIndex[1]; r.Status != domain.RowFailed || !strings.Contains(r.ErrorMessage, "invalid email") {
		t.Fatalf("unexpected row 1: %+v", r)
	}
	if r := byIndex[2]; r.Status != domain.RowFailed || !strings.Contains(r.ErrorMessage, "city-upper") {
		t.Fatalf("required enrichment must fail the row: %+v", r)
	}
	if r := byIndex[3]; r.Status != domain.RowEnriched || r.EnrichedData["team_upper"] != "" {
		t.Fatalf("optional enrichment must not fail the row: %+v", r)
	}

	s, _ := repo.GetSession(context.Background(), out.SessionID)
	if s.EnrichedRows != 2 || s.FailedRows != 2 {
		t.Fatalf("unexpected counters: enriched=%d failed=%d", s.EnrichedRows, s.FailedRows)
	}

	if _, err := enrich.Execute(context.Background(), out.SessionID); !errors.Is(err, app.ErrInvalidTransition) {
		t.Fatalf("enriching twice must be rejected, got %v", err)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()

	create := app.NewCreateSession(app.CreateSessionDeps{
		Repo:   repository.NewMemorySessionRepository(),
		Logger: logging.Discard(),
		Config: app.CreateSessionConfig{MaxRows: 2},
	})
	cases := map[string]app.CreateSessionInput{
		"missing account": {FileName: "a.csv", Rows: []map[string]string{{"email": "a@b.co"}}},
		"missing file":    {AccountID: "acct", Rows: []map[string]string{{"email": "a@b.co"}}},
		"no rows":         {AccountID: "acct", FileName: "a.csv"},
		"too many rows":   {AccountID: "acct", FileName: "a.csv", Rows: make([]map[string]string, 3)},
	}
	for name, in := range cases {
		if _, err := create.Execute(context.Background(), in); !errors.Is(err, app.ErrInvalidSession) {
			t.Fatalf("%s: expected ErrInvalidSession, got %v", name, err)
		}
	}
}

func TestCreateSessionSetsRetentionWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	repo := repository.NewMemorySessionRepository()
	files := repository.NewMemoryFileStore()
	create := app.NewCreateSession(app.CreateSessionDeps{
		Repo:   repo,
		Files:  files,
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
		Config: app.CreateSessionConfig{Retention: 24 * time.Hour, MaxRetries: 5},
	})
	out, err := create.Execute(context.Background(), app.CreateSessionInput{
		AccountID: "acct",
		FileName:  "../../etc/contacts.csv",
		Rows:      []map[string]string{{"email": "a@b.co"}, {"email": "c@d.co"}},
		File:      []byte("email\na@b.co\nc@d.co\n"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.Status != domain.SessionUploaded || out.TotalRows != 2 || !out.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected output: %+v", out)
	}
	s, _ := repo.GetSession(context.Background(), out.SessionID)
	if s.FileName != "contacts.csv" || s.MaxRetries != 5 || s.File == nil || s.File.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if files.Len() != 1 {
		t.Fatalf("expected original file stored, got %d files", files.Len())
	}
}

// flakyRowRepo fails the first write that moves a row to enriched.
type flakyRowRepo struct {
	*repository.MemorySessionRepository
	failed bool
}

func (r *flakyRowRepo) UpdateRow(ctx context.Context, row domain.Row, expected ...domain.RowStatus) error {
	if row.Status == domain.RowEnriched && !r.failed {
		r.failed = true
		return errors.New("connection reset")
	}
	return r.MemorySessionRepository.UpdateRow(ctx, row, expected...)
}

func TestEnrichSessionRerunPicksUpValidatedRows(t *testing.T) {
	t.Parallel()

	repo := &flakyRowRepo{MemorySessionRepository: repository.NewMemorySessionRepository()}
	create := app.NewCreateSession(app.CreateSessionDeps{Repo: repo, Logger: logging.Discard()})
	out, err := create.Execute(context.Background(), app.CreateSessionInput{
		AccountID:     "acct-1",
		FileName:      "leads.csv",
		Rows:          []map[string]string{{"mail": "a@acme.com"}, {"mail": "b@acme.com"}},
		FieldMappings: map[string]string{"mail": "email"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enrich := app.NewEnrichSession(app.EnrichSessionDeps{Repo: repo, Enricher: upperEnricher{}, Logger: logging.Discard()})
	if _, err := enrich.Execute(context.Background(), out.SessionID); !errors.Is(err, app.ErrEnrichFailed) {
		t.Fatalf("expected ErrEnrichFailed on store failure, got %v", err)
	}
	stranded, _ := repo.CountRows(context.Background(), out.SessionID, domain.RowValidated)
	if stranded != 1 {
		t.Fatalf("expected one row left validated, got %d", stranded)
	}

	summary, err := enrich.Execute(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if summary.Status != domain.SessionEnriched || summary.Enriched != 2 {
		t.Fatalf("unexpected rerun summary: %+v", summary)
	}
	eligible, _ := repo.CountRows(context.Background(), out.SessionID, domain.SyncEligibleStatuses...)
	if eligible != 2 {
		t.Fatalf("expected both rows sync-eligible, got %d", eligible)
	}
}
