package schemas

// -- Cookie Schemas --

// SameSite is the normalized same-site policy of a cookie. The zero value
// means the browser reported no recognizable policy.
type SameSite string

const (
	SameSiteUndefined SameSite = ""
	SameSiteStrict    SameSite = "strict"
	SameSiteLax       SameSite = "lax"
	SameSiteNone      SameSite = "none"
)

// DefaultPriority is assigned to cookies whose priority the browser did not report.
const DefaultPriority = "Medium"

// RawCookie is a cookie as read from the browser, before normalization.
type RawCookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  *float64 // seconds since the epoch, nil when absent
	HTTPOnly bool
	Secure   bool
	SameSite string
	Priority string
}

// CookieRecord is the portable cookie format handed to callers. Records are
// unique on (Name, Domain, Path).
type CookieRecord struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	HostOnly       bool     `json:"hostOnly"`
	HTTPOnly       bool     `json:"httpOnly"`
	Secure         bool     `json:"secure"`
	SameSite       SameSite `json:"sameSite,omitempty"`
	Session        bool     `json:"session"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	Priority       string   `json:"priority"`
	StoreID        *string  `json:"storeId"`
	URL            string   `json:"url,omitempty"`
}

// CookieKey identifies a cookie for de-duplication.
type CookieKey struct {
	Name   string
	Domain string
	Path   string
}

// Key returns the de-duplication key of r.
func (r RawCookie) Key() CookieKey {
	return CookieKey{Name: r.Name, Domain: r.Domain, Path: r.Path}
}

// ValidationSummary counts the outcome of a cookie validation request.
type ValidationSummary struct {
	Total      int `json:"total"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Session    int `json:"session"`
	Persistent int `json:"persistent"`
}
