package protocol

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/scimworks/endpointd/reqctx"
	"github.com/scimworks/endpointd/scim"
)

func remarshal(doc map[string]any, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

const schemaSearchRequest = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"

// searchRequest is the POST .search body (RFC 7644 §3.4.3): equivalent to a
// GET list's query parameters carried in the body so a filter that would
// overflow a URL's length limit still has somewhere to go.
type searchRequest struct {
	Schemas            []string `json:"schemas"`
	Attributes         []string `json:"attributes,omitempty"`
	ExcludedAttributes []string `json:"excludedAttributes,omitempty"`
	Filter             string   `json:"filter,omitempty"`
	StartIndex         int      `json:"startIndex,omitempty"`
	Count              int      `json:"count,omitempty"`
}

func decodeSearchRequest(r *http.Request) (scim.QueryParams, error) {
	var req searchRequest
	data, err := decodeBody(r)
	if err != nil {
		return scim.QueryParams{}, err
	}
	// decodeBody already round-tripped through map[string]any for the other
	// handlers; re-marshal/unmarshal here so searchRequest's typed fields
	// get the same validation-by-shape treatment instead of a second parser.
	if err := remarshal(data, &req); err != nil {
		return scim.QueryParams{}, scim.ErrInvalidSyntax("malformed SearchRequest: " + err.Error())
	}
	if !slices.Contains(req.Schemas, schemaSearchRequest) {
		return scim.QueryParams{}, scim.ErrInvalidValue("SearchRequest must declare schema " + schemaSearchRequest)
	}

	params := scim.QueryParams{
		Filter:       req.Filter,
		Attributes:   req.Attributes,
		ExcludedAttr: req.ExcludedAttributes,
		StartIndex:   req.StartIndex,
		Count:        req.Count,
	}
	if params.StartIndex < 1 {
		params.StartIndex = 1
	}
	if params.Count <= 0 {
		params.Count = 100
	}
	return params, nil
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := decodeSearchRequest(r)
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

func (s *Server) handleSearchGroups(w http.ResponseWriter, r *http.Request, rc reqctx.Context) {
	params, err := decodeSearchRequest(r)
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
