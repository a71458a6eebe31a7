package enrichment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

func TestBuiltinEnrichers(t *testing.T) {
	e := NewEnricher()
	ctx := context.Background()

	cases := []struct {
		kind, source, want string
	}{
		{KindEmailDomain, "Jane@Acme.COM", "acme.com"},
		{KindNormalizeName, "  jean-luc  o'neil ", "Jean-Luc O'Neil"},
		{KindNormalizePhone, "+1 (415) 555-0100", "+14155550100"},
		{KindCompanyFromDomain, "jane@blue-river.io", "Blue River"},
		{KindCompanyFromDomain, "https://www.acme.com/about", "Acme"},
	}
	for _, tc := range cases {
		cfg := domain.EnrichmentConfig{ID: tc.kind, Kind: tc.kind, SourceField: "in", TargetField: "out"}
		res := e.Enrich(ctx, cfg, map[string]string{"in": tc.source})
		require.True(t, res.Success, "%s(%q): %s", tc.kind, tc.source, res.Error)
		assert.Equal(t, tc.want, res.Value, tc.kind)
	}
}

func TestEnricherFailures(t *testing.T) {
	e := NewEnricher()
	ctx := context.Background()

	res := e.Enrich(ctx, domain.EnrichmentConfig{Kind: KindCompanyFromDomain, SourceField: "email"}, map[string]string{"email": "a@gmail.com"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "free mail")

	res = e.Enrich(ctx, domain.EnrichmentConfig{Kind: KindNormalizePhone, SourceField: "phone"}, map[string]string{"phone": "12-34"})
	assert.False(t, res.Success)

	res = e.Enrich(ctx, domain.EnrichmentConfig{Kind: KindEmailDomain, SourceField: "email"}, map[string]string{})
	assert.False(t, res.Success)
	assert.Equal(t, errEmptySource.Error(), res.Error)

	res = e.Enrich(ctx, domain.EnrichmentConfig{Kind: "geocode", SourceField: "city"}, map[string]string{"city": "Tehran"})
	assert.False(t, res.Success)
}

func TestCatalogResolvesIDs(t *testing.T) {
	c, err := NewCatalog(DefaultConfigs())
	require.NoError(t, err)

	configs, err := c.Configs(context.Background(), []string{KindNormalizePhone, KindEmailDomain})
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, KindNormalizePhone, configs[0].ID)

	_, err = c.Configs(context.Background(), []string{"missing"})
	assert.Error(t, err)
}

func TestLoadCatalogFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrichments.yaml")
	content := `
enrichments:
  - id: email_domain
    kind: email_domain
    sourceField: work_email
    targetField: email_domain
    required: true
  - id: mobile
    kind: normalize_phone
    sourceField: mobilephone
    targetField: mobilephone
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)
	configs, err := c.Configs(context.Background(), []string{"email_domain", "mobile", KindNormalizeName})
	require.NoError(t, err)
	assert.Equal(t, "work_email", configs[0].SourceField)
	assert.True(t, configs[0].Required)
	assert.Equal(t, KindNormalizePhone, configs[1].Kind)
}

func TestNewCatalogRejectsUnknownKind(t *testing.T) {
	_, err := NewCatalog([]domain.EnrichmentConfig{{ID: "x", Kind: "nope", SourceField: "a", TargetField: "b"}})
	assert.Error(t, err)
}
