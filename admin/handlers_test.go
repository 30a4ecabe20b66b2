package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scimworks/endpointd/endpointreg"
	"github.com/scimworks/endpointd/store"
)

type fakeStore struct {
	endpoints map[string]store.Endpoint
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{endpoints: map[string]store.Endpoint{}}
}

func (f *fakeStore) CreateEndpoint(_ context.Context, ep store.Endpoint) (store.Endpoint, error) {
	for _, existing := range f.endpoints {
		if strings.EqualFold(existing.Name, ep.Name) {
			return store.Endpoint{}, store.ErrUniqueness
		}
	}
	f.seq++
	ep.ID = "ep-" + itoa(f.seq)
	f.endpoints[ep.ID] = ep
	return ep, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func (f *fakeStore) GetEndpointByID(_ context.Context, id string) (store.Endpoint, error) {
	ep, ok := f.endpoints[id]
	if !ok {
		return store.Endpoint{}, store.ErrNotFound
	}
	return ep, nil
}

func (f *fakeStore) GetEndpointByName(_ context.Context, name string) (store.Endpoint, error) {
	for _, ep := range f.endpoints {
		if strings.EqualFold(ep.Name, name) {
			return ep, nil
		}
	}
	return store.Endpoint{}, store.ErrNotFound
}

func (f *fakeStore) ListEndpoints(_ context.Context) ([]store.Endpoint, error) {
	out := make([]store.Endpoint, 0, len(f.endpoints))
	for _, ep := range f.endpoints {
		out = append(out, ep)
	}
	return out, nil
}

func (f *fakeStore) UpdateEndpoint(_ context.Context, ep store.Endpoint) (store.Endpoint, error) {
	if _, ok := f.endpoints[ep.ID]; !ok {
		return store.Endpoint{}, store.ErrNotFound
	}
	f.endpoints[ep.ID] = ep
	return ep, nil
}

func (f *fakeStore) DeleteEndpoint(_ context.Context, id string) error {
	if _, ok := f.endpoints[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.endpoints, id)
	return nil
}

func (f *fakeStore) EndpointStats(_ context.Context, id string) (store.EndpointStats, error) {
	if _, ok := f.endpoints[id]; !ok {
		return store.EndpointStats{}, store.ErrNotFound
	}
	return store.EndpointStats{UserCount: 3, GroupCount: 1}, nil
}

func (f *fakeStore) CreateUser(context.Context, string, map[string]any) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) GetUser(context.Context, string, string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) GetUserByUserName(context.Context, string, string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) ListUsers(context.Context, string, store.Query) (store.ListResult, error) {
	panic("not needed")
}
func (f *fakeStore) ReplaceUser(context.Context, string, string, map[string]any) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) UpdateUser(context.Context, string, string, func(map[string]any) error) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) DeleteUser(context.Context, string, string) error { panic("not needed") }
func (f *fakeStore) CreateGroup(context.Context, string, map[string]any, []string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) GetGroup(context.Context, string, string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) GetGroupByDisplayName(context.Context, string, string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) ListGroups(context.Context, string, store.Query) (store.ListResult, error) {
	panic("not needed")
}
func (f *fakeStore) ReplaceGroup(context.Context, string, string, map[string]any, []string) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) UpdateGroup(context.Context, string, string, func(map[string]any) error, []string, bool) (map[string]any, error) {
	panic("not needed")
}
func (f *fakeStore) DeleteGroup(context.Context, string, string) error { panic("not needed") }
func (f *fakeStore) ResolveUserIDs(context.Context, string, []string) (map[string]bool, error) {
	panic("not needed")
}
func (f *fakeStore) InsertAuditRecords(context.Context, []store.AuditRecord) error { return nil }
func (f *fakeStore) Close() error                                                 { return nil }

func TestAdminCreateAndGetEndpoint(t *testing.T) {
	fs := newFakeStore()
	h := NewHandler(endpointreg.New(fs))

	body := `{"name":"acme","displayName":"Acme","config":{"VerbosePatchSupported":"true"}}`
	req := httptest.NewRequest(http.MethodPost, "/endpoints", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created store.Endpoint
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/endpoints/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
}

func TestAdminCreateInvalidNameReturns400(t *testing.T) {
	h := NewHandler(endpointreg.New(newFakeStore()))
	body := `{"name":"has a space"}`
	req := httptest.NewRequest(http.MethodPost, "/endpoints", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminGetByName(t *testing.T) {
	fs := newFakeStore()
	h := NewHandler(endpointreg.New(fs))
	fs.CreateEndpoint(t.Context(), store.Endpoint{Name: "acme", Active: true})

	req := httptest.NewRequest(http.MethodGet, "/endpoints/by-name/acme", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminUpdateActiveFlag(t *testing.T) {
	fs := newFakeStore()
	ep, _ := fs.CreateEndpoint(t.Context(), store.Endpoint{Name: "acme", Active: true})
	h := NewHandler(endpointreg.New(fs))

	req := httptest.NewRequest(http.MethodPatch, "/endpoints/"+ep.ID, strings.NewReader(`{"active":false}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated store.Endpoint
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Active {
		t.Fatal("expected active=false after update")
	}
}

func TestAdminDeleteNotFound(t *testing.T) {
	h := NewHandler(endpointreg.New(newFakeStore()))
	req := httptest.NewRequest(http.MethodDelete, "/endpoints/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	fs := newFakeStore()
	ep, _ := fs.CreateEndpoint(t.Context(), store.Endpoint{Name: "acme", Active: true})
	h := NewHandler(endpointreg.New(fs))

	req := httptest.NewRequest(http.MethodGet, "/endpoints/"+ep.ID+"/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminListFiltersByActive(t *testing.T) {
	fs := newFakeStore()
	fs.CreateEndpoint(t.Context(), store.Endpoint{Name: "active-one", Active: true})
	fs.CreateEndpoint(t.Context(), store.Endpoint{Name: "inactive-one", Active: false})
	h := NewHandler(endpointreg.New(fs))

	req := httptest.NewRequest(http.MethodGet, "/endpoints?active=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Endpoints []store.Endpoint `json:"endpoints"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Endpoints) != 1 {
		t.Fatalf("expected 1 active endpoint, got %d", len(body.Endpoints))
	}
}
