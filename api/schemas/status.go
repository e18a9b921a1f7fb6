package schemas

import "time"

// -- Status Schemas --

// ConfigurationStatus reports which required settings are present without
// revealing their values. WebURL is the target with trailing slashes removed,
// nil when unset.
type ConfigurationStatus struct {
	HasEmail    bool    `json:"hasEmail"`
	HasPassword bool    `json:"hasPassword"`
	HasWebURL   bool    `json:"hasWebUrl"`
	WebURL      *string `json:"webUrl"`
}

// StatusReport is the service's self-description.
type StatusReport struct {
	Environment          string              `json:"environment"`
	Timestamp            time.Time           `json:"timestamp"`
	Configuration        ConfigurationStatus `json:"configuration"`
	MissingConfiguration []string            `json:"missingConfiguration"`
	IsConfigured         bool                `json:"isConfigured"`
	Uptime               float64             `json:"uptime"` // seconds
	BrowserLive          bool                `json:"browserLive"`
}
