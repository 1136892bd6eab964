package jobs

import "strings"

// Route says how listings reach a given marketplace.
type Route string

const (
	// RouteAPI: the marketplace has a direct API integration; no
	// browser session needed.
	RouteAPI Route = "api"

	// RouteBroker: drive the marketplace's web form through a broker
	// session.
	RouteBroker Route = "broker"

	// RouteExtension: hand off to the user's browser extension.
	RouteExtension Route = "extension"
)

// Router decides, per target domain, which integration path applies.
// A pure lookup; precedence is API, then broker, then extension.
type Router struct {
	APIDomains       []string
	BrokerDomains    []string
	ExtensionDomains []string
}

// Resolve returns the route for domain, or false when no integration
// covers it. Matching is case-insensitive and exact.
func (r *Router) Resolve(domain string) (Route, bool) {
	domain = strings.ToLower(domain)
	if contains(r.APIDomains, domain) {
		return RouteAPI, true
	}
	if contains(r.BrokerDomains, domain) {
		return RouteBroker, true
	}
	if contains(r.ExtensionDomains, domain) {
		return RouteExtension, true
	}
	return "", false
}

func contains(domains []string, domain string) bool {
	for _, d := range domains {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	return false
}
