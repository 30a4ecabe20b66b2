// Package reqctx builds the per-request value object every endpoint-scoped
// handler binds once at entry: which endpoint this request targets, the
// base URL to use when constructing meta.location values, and a snapshot of
// that endpoint's config flags. Passing this explicitly (rather than via a
// context.Context key read deep in a call chain) means async continuations
// and background goroutines can't silently lose it.
package reqctx

import (
	"fmt"
	"net/http"
)

// Context is bound once per endpoint-scoped request and threaded explicitly
// through resourcesvc calls.
type Context struct {
	EndpointID       string
	EffectiveBaseURL string
	ConfigSnapshot   map[string]string
}

// ConfigFlag reports whether a known boolean flag is enabled, defaulting to
// false when absent (every recognized flag in spec.md §3 defaults to false).
func (c Context) ConfigFlag(name string) bool {
	return c.ConfigSnapshot[name] == "true"
}

// Build derives the effective base URL for r and pairs it with the endpoint
// id and config snapshot to produce a bound Context.
//
// Scheme precedence: X-Forwarded-Proto, then the transport's own TLS state,
// then "http". Host precedence: X-Forwarded-Host, then r.Host. The result
// is joined with apiPrefix (e.g. "/scim/endpoints/{id}/v2") so downstream
// code never concatenates a protocol string by hand.
func Build(r *http.Request, endpointID, apiPrefix string, config map[string]string) Context {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	return Context{
		EndpointID:       endpointID,
		EffectiveBaseURL: fmt.Sprintf("%s://%s%s", scheme, host, apiPrefix),
		ConfigSnapshot:   config,
	}
}

// ResourceLocation joins the effective base URL with a resource-type segment
// and id, matching the URL-joining every meta.location value in this
// service is built from.
func (c Context) ResourceLocation(resourceType, id string) string {
	return fmt.Sprintf("%s/%s/%s", c.EffectiveBaseURL, resourceType, id)
}
