package importing_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/lease"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/repository"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

type authErr struct{}

func (authErr) Error() string   { return "crm request failed" }
func (authErr) StatusCode() int { return 401 }

type fakeCRM struct {
	mu        sync.Mutex
	calls     []string
	contacts  map[string]domain.Contact
	companies []domain.Company
	errs      map[string]error
	nextID    int
	// started is signalled on each contact lookup; release gates it.
	started chan string
	release chan struct{}
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: map[string]domain.Contact{}, errs: map[string]error{}}
}

func (f *fakeCRM) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCRM) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCRM) failFor(email string, err error) {
	f.mu.Lock()
	f.errs[email] = err
	f.mu.Unlock()
}

func (f *fakeCRM) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	f.record("find:" + email)
	if f.started != nil {
		f.started <- email
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[email]; err != nil {
		return nil, err
	}
	if c, ok := f.contacts[email]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeCRM) CreateContact(ctx context.Context, props map[string]string) (domain.Contact, error) {
	f.record("create:" + props["email"])
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := domain.Contact{ID: fmt.Sprintf("contact-%d", f.nextID), Email: props["email"], Properties: props}
	f.contacts[c.Email] = c
	return c, nil
}

func (f *fakeCRM) UpdateContact(ctx context.Context, id string, props map[string]string) (domain.Contact, error) {
	f.record("update:" + id)
	return domain.Contact{ID: id, Email: props["email"], Properties: props}, nil
}

func (f *fakeCRM) FindCompanyByDomain(ctx context.Context, companyDomain string) (*domain.Company, error) {
	f.record("company-domain:" + companyDomain)
	for _, c := range f.companies {
		if strings.EqualFold(c.Domain, companyDomain) {
			company := c
			return &company, nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) SearchCompaniesByName(ctx context.Context, name string, limit int) ([]domain.Company, error) {
	f.record("company-name:" + name)
	return append([]domain.Company(nil), f.companies...), nil
}

func (f *fakeCRM) AssociateContactWithCompany(ctx context.Context, contactID, companyID string) error {
	f.record("associate:" + contactID + ":" + companyID)
	return nil
}

func (f *fakeCRM) CreateTask(ctx context.Context, task domain.TaskRequest) (string, error) {
	f.record("task:" + task.ContactID)
	return "task-" + task.ContactID, nil
}

type fakeCredentials struct {
	mu         sync.Mutex
	refreshErr error
	refreshes  int
}

func (f *fakeCredentials) Token(ctx context.Context) (string, error) {
	return "token", nil
}

func (f *fakeCredentials) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "token", nil
}

func (f *fakeCredentials) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type countingLimiter struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return l.err
}

func (l *countingLimiter) Waits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waits
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []app.Event
}

func (e *recordingEmitter) Emit(event app.Event) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
	return nil
}

func (e *recordingEmitter) ofType(t app.EventType) []app.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []app.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	repo    *repository.MemorySessionRepository
	files   *repository.MemoryFileStore
	crm     *fakeCRM
	creds   *fakeCredentials
	limiter *countingLimiter
	lease   *lease.MemoryLease
	runs    *app.RunRegistry
	now     time.Time
	sync    *app.SyncSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    repository.NewMemorySessionRepository(),
		files:   repository.NewMemoryFileStore(),
		crm:     newFakeCRM(),
		creds:   &fakeCredentials{},
		limiter: &countingLimiter{},
		lease:   lease.NewMemoryLease(),
		runs:    app.NewRunRegistry(),
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.sync = app.NewSyncSession(app.SyncSessionDeps{
		Repo:        h.repo,
		Processor:   app.NewRowProcessor(h.crm, nil, app.RowProcessorConfig{}),
		Credentials: h.creds,
		Limiter:     h.limiter,
		Lease:       h.lease,
		Runs:        h.runs,
		Logger:      logging.Discard(),
		Now:         h.clock,
	})
	return h
}

func (h *harness) clock() time.Time { return h.now }

func emailFor(i int) string { return fmt.Sprintf("user%d@acme.com", i) }

// seed creates and enriches a session of n rows and returns its id.
func (h *harness) seed(t *testing.T, n int, maxRetries int) string {
	t.Helper()
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"Email":      emailFor(i),
			"Company":    "Acme",
			"First Name": fmt.Sprintf("User %d", i),
		})
	}
	create := app.NewCreateSession(app.CreateSessionDeps{
		Repo:   h.repo,
		Files:  h.files,
		Logger: logging.Discard(),
		Now:    h.clock,
		Config: app.CreateSessionConfig{Retention: 72 * time.Hour, MaxRetries: maxRetries},
	})
	out, err := create.Execute(context.Background(), app.CreateSessionInput{
		AccountID:     "acct-1",
		FileName:      "contacts.csv",
		Rows:          rows,
		FieldMappings: map[string]string{"Email": "email", "Company": "company", "First Name": "firstname"},
		File:          []byte("Email,Company\n"),
		ContentType:   "text/csv",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	enrich := app.NewEnrichSession(app.EnrichSessionDeps{Repo: h.repo, Logger: logging.Discard(), Now: h.clock})
	if _, err := enrich.Execute(context.Background(), out.SessionID); err != nil {
		t.Fatalf("enrich session: %v", err)
	}
	return out.SessionID
}

func (h *harness) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := h.repo.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func (h *harness) rows(t *testing.T, id string, statuses ...domain.RowStatus) []domain.Row {
	t.Helper()
	rows, err := h.repo.ListRows(context.Background(), domain.RowQuery{SessionID: id, Statuses: statuses, AfterIndex: -1})
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	return rows
}
