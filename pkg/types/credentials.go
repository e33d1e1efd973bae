package types

import "log/slog"

// Credentials identify one configured EskomSePush entry. The zero value has
// no key or area. Credentials are immutable once constructed.
type Credentials struct {
	apiKey string
	areaID string
}

// NewCredentials returns Credentials for the given API key and area id.
func NewCredentials(apiKey, areaID string) Credentials {
	return Credentials{apiKey: apiKey, areaID: areaID}
}

// APIKey returns the EskomSePush API token.
func (c Credentials) APIKey() string {
	return c.apiKey
}

// AreaID returns the EskomSePush area identifier.
func (c Credentials) AreaID() string {
	return c.areaID
}

// LogValue implements slog.LogValuer so the key never ends up in logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("areaID", c.areaID),
		slog.Bool("hasAPIKey", c.apiKey != ""),
	)
}
