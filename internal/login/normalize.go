package login

import (
	"strings"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
)

// Normalize de-duplicates raw cookies on (name, domain, path), keeping the
// first occurrence, drops cookies unrelated to host and converts the rest to
// CookieRecords. An empty host keeps every cookie.
func Normalize(raw []schemas.RawCookie, host string) []schemas.CookieRecord {
	seen := make(map[schemas.CookieKey]struct{}, len(raw))
	records := make([]schemas.CookieRecord, 0, len(raw))
	for _, c := range raw {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !domainMatches(c.Domain, host) {
			continue
		}
		records = append(records, toRecord(c))
	}
	return records
}

// domainMatches is intentionally loose: exact match, a suffix relation in
// either direction, or plain substring containment all count.
func domainMatches(cookieDomain, host string) bool {
	h := strings.ToLower(strings.TrimLeft(host, "."))
	if h == "" {
		return true
	}
	d := strings.ToLower(strings.TrimLeft(cookieDomain, "."))
	switch {
	case d == h:
		return true
	case strings.HasSuffix(d, "."+h), strings.HasSuffix(h, "."+d):
		return true
	default:
		return strings.Contains(d, h) || strings.Contains(h, d)
	}
}

// NormalizeSameSite maps free-text same-site values onto the closed set by
// case-insensitive substring match.
func NormalizeSameSite(v string) schemas.SameSite {
	s := strings.ToLower(v)
	switch {
	case strings.Contains(s, "strict"):
		return schemas.SameSiteStrict
	case strings.Contains(s, "lax"):
		return schemas.SameSiteLax
	case strings.Contains(s, "none"):
		return schemas.SameSiteNone
	default:
		return schemas.SameSiteUndefined
	}
}

func toRecord(c schemas.RawCookie) schemas.CookieRecord {
	path := c.Path
	if path == "" {
		path = "/"
	}
	priority := c.Priority
	if priority == "" {
		priority = schemas.DefaultPriority
	}

	rec := schemas.CookieRecord{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     path,
		HostOnly: c.Domain != "" && !strings.HasPrefix(c.Domain, "."),
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: NormalizeSameSite(c.SameSite),
		Session:  true,
		Priority: priority,
	}
	if host := strings.TrimLeft(c.Domain, "."); host != "" {
		rec.URL = "https://" + host + path
	}
	if c.Expires != nil && *c.Expires > 0 {
		exp := *c.Expires
		rec.Session = false
		rec.ExpirationDate = &exp
	}
	return rec
}

// ParseDocumentCookie rebuilds minimal records from a document.cookie string.
// The string carries no attributes, so every cookie is assumed to be a
// secure session cookie scoped to the page host and the root path.
func ParseDocumentCookie(header, pageHost string) []schemas.RawCookie {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	domain := ""
	if pageHost != "" {
		domain = "." + strings.TrimLeft(pageHost, ".")
	}
	var out []schemas.RawCookie
	for _, part := range strings.Split(header, ";") {
		name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, schemas.RawCookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return out
}
