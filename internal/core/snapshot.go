package core

// ConfigSnapshot is an immutable view of the configuration store.
type ConfigSnapshot struct {
	Sites        []Site
	ActiveSiteID string
	TimeRange    TimeRange
}

// Site returns the site with the given id.
func (s ConfigSnapshot) Site(id string) (Site, bool) {
	for _, site := range s.Sites {
		if site.ID == id {
			return site, true
		}
	}
	return Site{}, false
}

// ActiveSite resolves the active site, falling back to the first site when
// the active id is absent or no longer configured.
func (s ConfigSnapshot) ActiveSite() (Site, bool) {
	if site, ok := s.Site(s.ActiveSiteID); ok {
		return site, true
	}
	if len(s.Sites) > 0 {
		return s.Sites[0], true
	}
	return Site{}, false
}
