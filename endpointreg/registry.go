// Package endpointreg manages Endpoint tenants: creation, lookup, config
// flag validation, and directory-size stats.
package endpointreg

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/scimworks/endpointd/store"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// knownFlags enumerates the config flags this service interprets; any other
// key is stored verbatim and ignored by the protocol layer.
var knownFlags = map[string]bool{
	"MultiOpPatchRequestAddMultipleMembersToGroup":      true,
	"MultiOpPatchRequestRemoveMultipleMembersFromGroup": true,
	"VerbosePatchSupported":                             true,
}

// ValidationError mirrors config.ValidationError's shape for endpoint-level
// input rejected before it reaches the Store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("endpoint validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors aggregates one or more ValidationError.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// Registry wraps store.Store with the endpoint-specific validation and
// defaulting the protocol and admin layers both rely on.
type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// Create validates name and config before delegating to the Store. config
// may be nil.
func (r *Registry) Create(ctx context.Context, name, displayName, description string, config map[string]string) (store.Endpoint, error) {
	var errs ValidationErrors
	if !namePattern.MatchString(name) {
		errs = append(errs, ValidationError{Field: "name", Message: "must match ^[A-Za-z0-9_-]+$"})
	}
	normalized, flagErrs := normalizeConfig(config)
	errs = append(errs, flagErrs...)
	if len(errs) > 0 {
		return store.Endpoint{}, errs
	}

	ep := store.Endpoint{
		Name:        name,
		DisplayName: displayName,
		Description: description,
		Active:      true,
		ConfigFlags: normalized,
	}
	created, err := r.store.CreateEndpoint(ctx, ep)
	if err != nil {
		return store.Endpoint{}, err
	}
	return created, nil
}

// normalizeConfig validates the known boolean flags (case-insensitive
// "true"/"false") and passes unknown keys through unchanged.
func normalizeConfig(config map[string]string) (map[string]string, ValidationErrors) {
	var errs ValidationErrors
	out := make(map[string]string, len(config))
	for k, v := range config {
		if knownFlags[k] {
			switch strings.ToLower(v) {
			case "true":
				out[k] = "true"
			case "false":
				out[k] = "false"
			default:
				errs = append(errs, ValidationError{Field: "config." + k, Message: `must be "true" or "false"`})
			}
			continue
		}
		out[k] = v
	}
	return out, errs
}

func (r *Registry) GetByID(ctx context.Context, id string) (store.Endpoint, error) {
	return r.store.GetEndpointByID(ctx, id)
}

func (r *Registry) GetByName(ctx context.Context, name string) (store.Endpoint, error) {
	return r.store.GetEndpointByName(ctx, name)
}

// List returns every endpoint, optionally filtered by active state.
func (r *Registry) List(ctx context.Context, activeFilter *bool) ([]store.Endpoint, error) {
	all, err := r.store.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	if activeFilter == nil {
		return all, nil
	}
	out := make([]store.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Active == *activeFilter {
			out = append(out, ep)
		}
	}
	return out, nil
}

// EndpointPatch carries the optional fields an admin update may change.
type EndpointPatch struct {
	DisplayName *string
	Description *string
	Active      *bool
	Config      map[string]string
}

func (r *Registry) Update(ctx context.Context, id string, patch EndpointPatch) (store.Endpoint, error) {
	ep, err := r.store.GetEndpointByID(ctx, id)
	if err != nil {
		return store.Endpoint{}, err
	}

	if patch.DisplayName != nil {
		ep.DisplayName = *patch.DisplayName
	}
	if patch.Description != nil {
		ep.Description = *patch.Description
	}
	if patch.Active != nil {
		ep.Active = *patch.Active
	}
	if patch.Config != nil {
		normalized, errs := normalizeConfig(patch.Config)
		if len(errs) > 0 {
			return store.Endpoint{}, errs
		}
		ep.ConfigFlags = normalized
	}

	return r.store.UpdateEndpoint(ctx, ep)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.DeleteEndpoint(ctx, id)
}

func (r *Registry) Stats(ctx context.Context, id string) (store.EndpointStats, error) {
	return r.store.EndpointStats(ctx, id)
}
