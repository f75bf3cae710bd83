package core

import "time"

// Site is a tracked website. It is owned by the configuration store and
// treated as read-only input everywhere else.
type Site struct {
	ID        string    `json:"id" db:"id"`
	Domain    string    `json:"domain" db:"domain"`
	Label     string    `json:"label,omitempty" db:"label"`
	APIKey    string    `json:"apiKey,omitempty" db:"api_key"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// DisplayName returns the label, falling back to the domain.
func (s Site) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Domain
}

// SiteIDs returns the ids of sites in order.
func SiteIDs(sites []Site) []string {
	ids := make([]string, len(sites))
	for i, s := range sites {
		ids[i] = s.ID
	}
	return ids
}
