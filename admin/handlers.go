// Package admin exposes plain-JSON CRUD over endpoint tenants, routed
// under /scim/admin/endpoints and backed by endpointreg.Registry.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/scimworks/endpointd/endpointreg"
	"github.com/scimworks/endpointd/store"
)

// Handler serves the admin endpoint-registry surface. Unlike protocol.Server
// its responses are regular application/json, not application/scim+json.
type Handler struct {
	registry *endpointreg.Registry
	mux      *http.ServeMux
}

func NewHandler(registry *endpointreg.Registry) *Handler {
	h := &Handler{registry: registry, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("POST /endpoints", h.handleCreate)
	h.mux.HandleFunc("GET /endpoints", h.handleList)
	h.mux.HandleFunc("GET /endpoints/by-name/{name}", h.handleGetByName)
	h.mux.HandleFunc("GET /endpoints/{id}", h.handleGetByID)
	h.mux.HandleFunc("PATCH /endpoints/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /endpoints/{id}", h.handleDelete)
	h.mux.HandleFunc("GET /endpoints/{id}/stats", h.handleStats)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch err {
	case store.ErrNotFound:
		writeJSONError(w, http.StatusNotFound, "endpoint not found")
	case store.ErrUniqueness:
		writeJSONError(w, http.StatusConflict, "an endpoint with this name already exists")
	default:
		if _, ok := err.(endpointreg.ValidationErrors); ok {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "an internal error occurred")
	}
}

type createRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Description string            `json:"description"`
	Config      map[string]string `json:"config"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req createRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed JSON")
		return
	}

	ep, err := h.registry.Create(r.Context(), req.Name, req.DisplayName, req.Description, req.Config)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var activeFilter *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		activeFilter = &b
	}

	endpoints, err := h.registry.List(r.Context(), activeFilter)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

func (h *Handler) handleGetByID(w http.ResponseWriter, r *http.Request) {
	ep, err := h.registry.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) handleGetByName(w http.ResponseWriter, r *http.Request) {
	ep, err := h.registry.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

type updateRequest struct {
	DisplayName *string           `json:"displayName"`
	Description *string           `json:"description"`
	Active      *bool             `json:"active"`
	Config      map[string]string `json:"config"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req updateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed JSON")
		return
	}

	ep, err := h.registry.Update(r.Context(), r.PathValue("id"), endpointreg.EndpointPatch{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Active:      req.Active,
		Config:      req.Config,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
