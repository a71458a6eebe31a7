package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

type enrichFunc func(value string) (string, error)

var errEmptySource = errors.New("source field is empty")

var builtins = map[string]enrichFunc{
	KindEmailDomain:       emailDomain,
	KindNormalizeName:     normalizeName,
	KindNormalizePhone:    normalizePhone,
	KindCompanyFromDomain: companyFromDomain,
}

// Enricher runs the built-in enrichment kinds.
type Enricher struct{}

func NewEnricher() *Enricher {
	return &Enricher{}
}

func (e *Enricher) Enrich(ctx context.Context, cfg domain.EnrichmentConfig, data map[string]string) domain.EnrichmentResult {
	fn, ok := builtins[cfg.Kind]
	if !ok {
		return domain.EnrichmentResult{Error: fmt.Sprintf("unknown enrichment kind %q", cfg.Kind)}
	}
	value := strings.TrimSpace(data[cfg.SourceField])
	if value == "" {
		return domain.EnrichmentResult{Error: errEmptySource.Error()}
	}
	out, err := fn(value)
	if err != nil {
		return domain.EnrichmentResult{Error: err.Error()}
	}
	return domain.EnrichmentResult{Value: out, Success: true}
}

func emailDomain(email string) (string, error) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", fmt.Errorf("%q is not an email address", email)
	}
	return strings.ToLower(email[at+1:]), nil
}

func normalizeName(name string) (string, error) {
	words := strings.Fields(name)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		for j := 1; j < len(runes); j++ {
			if runes[j-1] == '-' || runes[j-1] == '\'' {
				runes[j] = unicode.ToUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " "), nil
}

// normalizePhone keeps digits and a leading plus. Fewer than seven digits is
// not a phone number.
func normalizePhone(phone string) (string, error) {
	var b strings.Builder
	digits := 0
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
			digits++
		}
	}
	if digits < 7 {
		return "", fmt.Errorf("%q is not a phone number", phone)
	}
	return b.String(), nil
}

// companyFromDomain derives a company name from an email or web domain.
func companyFromDomain(value string) (string, error) {
	d := value
	if at := strings.LastIndex(d, "@"); at >= 0 {
		d = d[at+1:]
	}
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(strings.TrimPrefix(d, "https://"), "http://")
	d = strings.TrimPrefix(d, "www.")
	if slash := strings.Index(d, "/"); slash >= 0 {
		d = d[:slash]
	}
	if domain.IsFreeMailDomain(d) {
		return "", fmt.Errorf("%s is a free mail domain", d)
	}
	label, _, found := strings.Cut(d, ".")
	if !found || label == "" {
		return "", fmt.Errorf("%q has no domain", value)
	}
	return normalizeName(strings.ReplaceAll(label, "-", " "))
}
