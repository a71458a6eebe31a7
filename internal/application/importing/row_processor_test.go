package importing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

type fakeCatalog struct {
	known map[string]struct{}
	err   error
}

func (f *fakeCatalog) ContactProperties(ctx context.Context) (map[string]struct{}, error) {
	return f.known, f.err
}

func (f *fakeCatalog) Invalidate(ctx context.Context) error { return nil }

func rowInput(raw map[string]string) app.RowInput {
	return app.RowInput{RowIndex: 7, RawData: raw, FieldMappings: map[string]string{}}
}

func TestRowProcessorExactDomainMatch(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.companies = []domain.Company{{ID: "co-1", Name: "Acme Corporation", Domain: "acme.com"}}
	p := app.NewRowProcessor(crm, nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{"email": "jane@acme.com"}), "")
	require.NoError(t, err)
	assert.False(t, out.Failed())
	assert.Equal(t, domain.MatchExact, out.MatchType)
	assert.Equal(t, 1.0, out.MatchConfidence)
	require.NotNil(t, out.MatchedCompany)
	assert.Equal(t, "co-1", out.MatchedCompany.ID)
	assert.Contains(t, crm.Calls(), "associate:"+out.ContactID+":co-1")
	assert.False(t, out.TaskCreated)
}

func TestRowProcessorFuzzyNameMatch(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.companies = []domain.Company{
		{ID: "co-1", Name: "Globex Industries"},
		{ID: "co-2", Name: "Initech Systems"},
	}
	p := app.NewRowProcessor(crm, nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{
		"email":   "bob@gmail.com",
		"company": "Initech Sytems Inc.",
	}), "")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchFuzzy, out.MatchType)
	require.NotNil(t, out.MatchedCompany)
	assert.Equal(t, "co-2", out.MatchedCompany.ID)
	assert.GreaterOrEqual(t, out.MatchConfidence, 0.8)
	assert.Less(t, out.MatchConfidence, 1.0)
	for _, call := range crm.Calls() {
		assert.NotEqual(t, "company-domain:gmail.com", call, "free-mail domains must not be used for matching")
	}
}

func TestRowProcessorNoMatch(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.companies = []domain.Company{{ID: "co-1", Name: "Umbrella"}}
	p := app.NewRowProcessor(crm, nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{"email": "x@yahoo.com", "company": "Stark"}), "")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchNone, out.MatchType)
	assert.Nil(t, out.MatchedCompany)
	assert.Zero(t, out.MatchConfidence)
}

func TestRowProcessorUpsertsExistingContactAndCreatesTask(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.contacts["jane@acme.com"] = domain.Contact{ID: "contact-9", Email: "jane@acme.com"}
	p := app.NewRowProcessor(crm, nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{"email": "jane@acme.com"}), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "contact-9", out.ContactID)
	assert.True(t, out.TaskCreated)
	assert.Equal(t, "task-contact-9", out.TaskID)
	assert.Contains(t, crm.Calls(), "update:contact-9")
	assert.NotContains(t, crm.Calls(), "create:jane@acme.com")
}

func TestRowProcessorValidation(t *testing.T) {
	t.Parallel()

	p := app.NewRowProcessor(newFakeCRM(), nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{"name": "no email"}), "")
	require.NoError(t, err)
	assert.Equal(t, "email is required", out.Error)

	out, err = p.Process(context.Background(), rowInput(map[string]string{"email": "not-an-email"}), "")
	require.NoError(t, err)
	assert.Contains(t, out.Error, "invalid email")
}

func TestRowProcessorErrorClasses(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.failFor("a@acme.com", errors.New("duplicate value for unique property"))
	crm.failFor("b@acme.com", authErr{})
	p := app.NewRowProcessor(crm, nil, app.RowProcessorConfig{})

	out, err := p.Process(context.Background(), rowInput(map[string]string{"email": "a@acme.com"}), "")
	require.NoError(t, err, "ordinary failures belong in the outcome")
	assert.Contains(t, out.Error, "duplicate value")

	out, err = p.Process(context.Background(), rowInput(map[string]string{"email": "b@acme.com"}), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, app.ErrAuthExpired))
	assert.Equal(t, app.AuthRemediationMessage, out.Error)
}

func TestRowProcessorFiltersUnknownProperties(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	catalog := &fakeCatalog{known: map[string]struct{}{"firstname": {}}}
	p := app.NewRowProcessor(crm, catalog, app.RowProcessorConfig{})

	in := app.RowInput{
		RawData:       map[string]string{"Email": "c@acme.com", "First": "Cy", "Shoe size": "44"},
		EnrichedData:  map[string]string{"email_domain": "acme.com"},
		FieldMappings: map[string]string{"Email": "email", "First": "firstname"},
	}
	_, err := p.Process(context.Background(), in, "")
	require.NoError(t, err)
	created := crm.contacts["c@acme.com"]
	assert.Equal(t, map[string]string{"email": "c@acme.com", "firstname": "Cy"}, created.Properties)

	catalog.err = authErr{}
	_, err = p.Process(context.Background(), in, "")
	assert.True(t, errors.Is(err, app.ErrAuthExpired), "auth failures of the catalog must surface")

	catalog.err = errors.New("cache down")
	out, err := p.Process(context.Background(), in, "")
	require.NoError(t, err)
	assert.False(t, out.Failed())
}
