package importing

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

var companySuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "llc": {}, "ltd": {}, "limited": {},
	"corp": {}, "corporation": {}, "co": {}, "company": {}, "gmbh": {},
	"sa": {}, "ag": {}, "plc": {}, "bv": {},
}

// companyDomain picks the domain used for exact company lookup: an explicit
// company domain or website first, then the email domain unless it belongs to
// a free-mail provider.
func companyDomain(props map[string]string, email string) string {
	for _, key := range []string{"company_domain", "domain", "website"} {
		if d := normalizeDomain(props[key]); d != "" {
			return d
		}
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	d := normalizeDomain(email[at+1:])
	if domain.IsFreeMailDomain(d) {
		return ""
	}
	return d
}

func normalizeDomain(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

func normalizeCompanyName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := fields[:0]
	for _, f := range fields {
		if _, suffix := companySuffixes[f]; suffix {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// nameSimilarity is 1 minus the normalized Levenshtein distance of the two
// names after suffix and punctuation stripping.
func nameSimilarity(a, b string) float64 {
	a, b = normalizeCompanyName(a), normalizeCompanyName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
