package schemas

import "strings"

// -- Common Schemas --

// Credentials holds the account and target a login run acts on.
type Credentials struct {
	Email    string `json:"EMAIL,omitempty"`
	Password string `json:"PASSWORD,omitempty"`
	WebURL   string `json:"WEB_URL,omitempty"`
}

// Missing returns the environment names of the settings that are empty, in a fixed order.
func (c Credentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "EMAIL")
	}
	if c.Password == "" {
		missing = append(missing, "PASSWORD")
	}
	if strings.TrimSpace(c.WebURL) == "" {
		missing = append(missing, "WEB_URL")
	}
	return missing
}

// Merge returns c with every non-empty field of override applied on top.
func (c Credentials) Merge(override Credentials) Credentials {
	if override.Email != "" {
		c.Email = override.Email
	}
	if override.Password != "" {
		c.Password = override.Password
	}
	if override.WebURL != "" {
		c.WebURL = override.WebURL
	}
	return c
}
