package importing

import "strings"

var freeMailDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "hotmail.com": {},
	"outlook.com": {}, "live.com": {}, "msn.com": {}, "icloud.com": {},
	"me.com": {}, "aol.com": {}, "proton.me": {}, "protonmail.com": {},
	"gmx.com": {}, "gmx.de": {}, "mail.ru": {}, "yandex.ru": {},
}

// IsFreeMailDomain reports whether the domain belongs to a consumer mail
// provider and so says nothing about the contact's company.
func IsFreeMailDomain(d string) bool {
	_, ok := freeMailDomains[strings.ToLower(strings.TrimSpace(d))]
	return ok
}
