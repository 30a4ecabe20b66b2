// Package protocol is the HTTP surface for the per-endpoint SCIM routes
// (RFC 7644 §3): it resolves the endpoint named in the path, binds the
// per-request context, dispatches to resourcesvc, and post-processes the
// result back into a SCIM response.
package protocol

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/scimworks/endpointd/endpointreg"
	"github.com/scimworks/endpointd/reqctx"
	"github.com/scimworks/endpointd/resourcesvc"
	"github.com/scimworks/endpointd/scim"
)

// Server serves every `/endpoints/{endpointId}/...` route under apiPrefix.
type Server struct {
	apiPrefix string
	registry  *endpointreg.Registry
	users     *resourcesvc.Users
	groups    *resourcesvc.Groups
	handler   *scim.Handler
	etagGen   *scim.ETagGenerator
	mux       *http.ServeMux
	logger    *slog.Logger
}

func NewServer(apiPrefix string, registry *endpointreg.Registry, users *resourcesvc.Users, groups *resourcesvc.Groups, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		apiPrefix: strings.TrimSuffix(apiPrefix, "/"),
		registry:  registry,
		users:     users,
		groups:    groups,
		handler:   scim.NewHandler(apiPrefix),
		etagGen:   scim.NewETagGenerator(),
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{endpointId}/ServiceProviderConfig", s.bindEndpoint(s.handleServiceProviderConfig))
	s.mux.HandleFunc("GET /{endpointId}/ResourceTypes", s.bindEndpoint(s.handleResourceTypes))
	s.mux.HandleFunc("GET /{endpointId}/Schemas", s.bindEndpoint(s.handleSchemas))

	s.mux.HandleFunc("POST /{endpointId}/Users/.search", s.bindEndpoint(s.handleSearchUsers))
	s.mux.HandleFunc("POST /{endpointId}/Groups/.search", s.bindEndpoint(s.handleSearchGroups))

	s.mux.HandleFunc("GET /{endpointId}/Users", s.bindEndpoint(s.handleListUsers))
	s.mux.HandleFunc("POST /{endpointId}/Users", s.bindEndpoint(s.handleCreateUser))
	s.mux.HandleFunc("GET /{endpointId}/Users/{id}", s.bindEndpoint(s.handleGetUser))
	s.mux.HandleFunc("PUT /{endpointId}/Users/{id}", s.bindEndpoint(s.handleReplaceUser))
	s.mux.HandleFunc("PATCH /{endpointId}/Users/{id}", s.bindEndpoint(s.handlePatchUser))
	s.mux.HandleFunc("DELETE /{endpointId}/Users/{id}", s.bindEndpoint(s.handleDeleteUser))

	s.mux.HandleFunc("GET /{endpointId}/Groups", s.bindEndpoint(s.handleListGroups))
	s.mux.HandleFunc("POST /{endpointId}/Groups", s.bindEndpoint(s.handleCreateGroup))
	s.mux.HandleFunc("GET /{endpointId}/Groups/{id}", s.bindEndpoint(s.handleGetGroup))
	s.mux.HandleFunc("PUT /{endpointId}/Groups/{id}", s.bindEndpoint(s.handleReplaceGroup))
	s.mux.HandleFunc("PATCH /{endpointId}/Groups/{id}", s.bindEndpoint(s.handlePatchGroup))
	s.mux.HandleFunc("DELETE /{endpointId}/Groups/{id}", s.bindEndpoint(s.handleDeleteGroup))
}

// ServeHTTP delegates to the internal endpoint-id router without rewriting
// the path: the caller strips the mount prefix first, so r.URL.Path is
// expected to already be relative to apiPrefix + "/endpoints".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type endpointHandlerFunc func(w http.ResponseWriter, r *http.Request, rc reqctx.Context)

// bindEndpoint resolves the {endpointId} path segment, short-circuits 404
// (unknown) / 403 (inactive) before consulting the resource service, and
// binds the per-request reqctx.Context for inner handles.
func (s *Server) bindEndpoint(next endpointHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpointID := r.PathValue("endpointId")

		ep, err := s.registry.GetByID(r.Context(), endpointID)
		if err != nil {
			s.handler.WriteError(w, http.StatusNotFound, "endpoint not found", "")
			return
		}
		if !ep.Active {
			s.handler.WriteError(w, http.StatusForbidden, "endpoint is inactive", "")
			return
		}

		rc := reqctx.Build(r, endpointID, s.apiPrefix+"/endpoints/"+endpointID, ep.ConfigFlags)
		next(w, r, rc)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	if scimErr, ok := err.(*scim.SCIMError); ok {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}
	s.logger.Error("unhandled protocol error", "error", err)
	s.handler.WriteError(w, http.StatusInternalServerError, "an internal error occurred", "")
}

// writeResource renders doc with its ETag, honoring If-None-Match on GET.
func (s *Server) writeResource(w http.ResponseWriter, r *http.Request, status int, doc map[string]any) {
	etag := resourceETag(doc)
	if etag != "" {
		if code, err := s.etagGen.CheckPreconditions(r, etag); err != nil {
			w.WriteHeader(code)
			return
		}
		s.etagGen.SetETag(w, etag)
	}
	s.handler.WriteJSON(w, status, doc)
}

func resourceLocation(doc map[string]any) string {
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		return ""
	}
	loc, _ := meta["location"].(string)
	return loc
}

func resourceETag(doc map[string]any) string {
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		return ""
	}
	version, _ := meta["version"].(string)
	if version == "" {
		return ""
	}
	if strings.HasPrefix(version, `W/"`) {
		return version
	}
	return `W/"` + strings.Trim(version, `"`) + `"`
}

func decodeBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, scim.ErrInvalidSyntax("failed to read request body")
	}
	defer r.Body.Close()
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, scim.ErrInvalidSyntax("malformed JSON: " + err.Error())
	}
	return doc, nil
}

func decodePatch(r *http.Request) (*scim.PatchOp, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, scim.ErrInvalidSyntax("failed to read request body")
	}
	defer r.Body.Close()
	var patch scim.PatchOp
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, scim.ErrInvalidSyntax("malformed JSON: " + err.Error())
	}
	return &patch, nil
}

func (s *Server) handleServiceProviderConfig(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	s.handler.WriteJSON(w, http.StatusOK, scim.GetServiceProviderConfig(nil))
}

func (s *Server) handleResourceTypes(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	s.handler.WriteJSON(w, http.StatusOK, map[string]any{"Resources": scim.GetResourceTypes()})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	s.handler.WriteJSON(w, http.StatusOK, []any{scim.GetUserSchema(), scim.GetGroupSchema()})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp, err := s.users.List(r.Context(), rc, params)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.handler.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	doc, err := decodeBody(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	created, err := s.users.Create(r.Context(), rc, doc)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if loc := resourceLocation(created); loc != "" {
		w.Header().Set("Location", loc)
	}
	s.writeResource(w, r, http.StatusCreated, created)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	doc, err := s.users.Get(r.Context(), rc, r.PathValue("id"), params.Attributes, params.ExcludedAttr)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, doc)
}

func (s *Server) handleReplaceUser(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	doc, err := decodeBody(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	updated, err := s.users.Replace(r.Context(), rc, r.PathValue("id"), doc)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, updated)
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	patch, err := decodePatch(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	updated, err := s.users.Patch(r.Context(), rc, r.PathValue("id"), patch)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	if err := s.users.Delete(r.Context(), rc, r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp, err := s.groups.List(r.Context(), rc, params)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.handler.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	doc, err := decodeBody(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	created, err := s.groups.Create(r.Context(), rc, doc)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if loc := resourceLocation(created); loc != "" {
		w.Header().Set("Location", loc)
	}
	s.writeResource(w, r, http.StatusCreated, created)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	doc, err := s.groups.Get(r.Context(), rc, r.PathValue("id"), params.Attributes, params.ExcludedAttr)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, doc)
}

func (s *Server) handleReplaceGroup(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	doc, err := decodeBody(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	updated, err := s.groups.Replace(r.Context(), rc, r.PathValue("id"), doc)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, updated)
}

func (s *Server) handlePatchGroup(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	patch, err := decodePatch(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	updated, err := s.groups.Patch(r.Context(), rc, r.PathValue("id"), patch)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResource(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	if err := s.groups.Delete(r.Context(), rc, r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
