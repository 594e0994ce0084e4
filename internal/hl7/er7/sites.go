package er7

// SiteLookup answers whether a site code belongs to the institution.
// The decoder drops PID-3 identifiers issued by sites it does not know.
type SiteLookup interface {
	IsKnownSite(code string) bool
}

// SiteLookupFunc adapts a function to SiteLookup
type SiteLookupFunc func(code string) bool

// IsKnownSite calls f(code)
func (f SiteLookupFunc) IsKnownSite(code string) bool {
	return f(code)
}

// SiteSet is a fixed set of known site codes
type SiteSet map[string]struct{}

// NewSiteSet builds a SiteSet
func NewSiteSet(codes ...string) SiteSet {
	s := make(SiteSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// IsKnownSite reports membership
func (s SiteSet) IsKnownSite(code string) bool {
	_, ok := s[code]
	return ok
}
