package enrichment

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

const (
	KindEmailDomain       = "email_domain"
	KindNormalizeName     = "normalize_name"
	KindNormalizePhone    = "normalize_phone"
	KindCompanyFromDomain = "company_from_domain"
)

type configFile struct {
	Enrichments []struct {
		ID          string `yaml:"id"`
		Kind        string `yaml:"kind"`
		SourceField string `yaml:"sourceField"`
		TargetField string `yaml:"targetField"`
		Required    bool   `yaml:"required"`
	} `yaml:"enrichments"`
}

// Catalog resolves enrichment config ids.
type Catalog struct {
	configs map[string]domain.EnrichmentConfig
}

// DefaultConfigs is one config per built-in kind, keyed by the kind name.
func DefaultConfigs() []domain.EnrichmentConfig {
	return []domain.EnrichmentConfig{
		{ID: KindEmailDomain, Kind: KindEmailDomain, SourceField: "email", TargetField: "email_domain"},
		{ID: KindNormalizeName, Kind: KindNormalizeName, SourceField: "firstname", TargetField: "firstname"},
		{ID: KindNormalizePhone, Kind: KindNormalizePhone, SourceField: "phone", TargetField: "phone"},
		{ID: KindCompanyFromDomain, Kind: KindCompanyFromDomain, SourceField: "email", TargetField: "company"},
	}
}

func NewCatalog(configs []domain.EnrichmentConfig) (*Catalog, error) {
	c := &Catalog{configs: make(map[string]domain.EnrichmentConfig, len(configs))}
	for _, cfg := range configs {
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
		if _, dup := c.configs[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate enrichment config %q", cfg.ID)
		}
		c.configs[cfg.ID] = cfg
	}
	return c, nil
}

// LoadCatalogFile reads configs from a YAML file on top of the defaults.
// A config in the file replaces the default with the same id.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read enrichment file: %w", err)
	}
	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse enrichment file: %w", err)
	}

	merged := map[string]domain.EnrichmentConfig{}
	order := []string{}
	add := func(cfg domain.EnrichmentConfig) {
		if _, seen := merged[cfg.ID]; !seen {
			order = append(order, cfg.ID)
		}
		merged[cfg.ID] = cfg
	}
	for _, cfg := range DefaultConfigs() {
		add(cfg)
	}
	for _, e := range file.Enrichments {
		add(domain.EnrichmentConfig{
			ID:          strings.TrimSpace(e.ID),
			Kind:        strings.TrimSpace(e.Kind),
			SourceField: strings.TrimSpace(e.SourceField),
			TargetField: strings.TrimSpace(e.TargetField),
			Required:    e.Required,
		})
	}
	configs := make([]domain.EnrichmentConfig, 0, len(order))
	for _, id := range order {
		configs = append(configs, merged[id])
	}
	return NewCatalog(configs)
}

func validateConfig(cfg domain.EnrichmentConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("enrichment config id is required")
	}
	if _, ok := builtins[cfg.Kind]; !ok {
		return fmt.Errorf("enrichment config %q: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if cfg.SourceField == "" || cfg.TargetField == "" {
		return fmt.Errorf("enrichment config %q: sourceField and targetField are required", cfg.ID)
	}
	return nil
}

func (c *Catalog) Configs(ctx context.Context, ids []string) ([]domain.EnrichmentConfig, error) {
	out := make([]domain.EnrichmentConfig, 0, len(ids))
	for _, id := range ids {
		cfg, ok := c.configs[id]
		if !ok {
			return nil, fmt.Errorf("unknown enrichment config %q", id)
		}
		out = append(out, cfg)
	}
	return out, nil
}
