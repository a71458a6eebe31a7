package importing

// EnrichmentConfig describes one enrichment step enabled on a session.
type EnrichmentConfig struct {
	ID          string
	Kind        string
	SourceField string
	TargetField string
	// Required makes an unsuccessful enrichment fail the row.
	Required bool
}

type EnrichmentResult struct {
	Value   string
	Success bool
	Error   string
}
