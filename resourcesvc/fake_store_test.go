package resourcesvc

import (
	"context"
	"strings"

	"github.com/scimworks/endpointd/store"
)

// fakeStore is a minimal in-memory store.Store good enough to exercise
// resourcesvc's Users/Groups without a real database.
type fakeStore struct {
	users   map[string]map[string]any // id -> doc
	groups  map[string]map[string]any
	version map[string]int64
	seq     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]map[string]any{},
		groups:  map[string]map[string]any{},
		version: map[string]int64{},
	}
}

func (f *fakeStore) nextID() string {
	f.seq++
	return "id-" + itoa(f.seq)
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

func withMeta(doc map[string]any, resourceType string, version int64) map[string]any {
	doc["meta"] = map[string]any{"resourceType": resourceType, "version": "W/\"" + itoa(int(version)) + "\""}
	return doc
}

func (f *fakeStore) CreateUser(_ context.Context, _ string, doc map[string]any) (map[string]any, error) {
	for _, u := range f.users {
		if strings.EqualFold(docStr(u, "userName"), docStr(doc, "userName")) {
			return nil, store.ErrUniqueness
		}
	}
	id := f.nextID()
	doc["id"] = id
	f.version[id] = 1
	f.users[id] = doc
	return withMeta(doc, "User", 1), nil
}

func docStr(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}

func (f *fakeStore) GetUser(_ context.Context, _ string, id string) (map[string]any, error) {
	doc, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return withMeta(doc, "User", f.version[id]), nil
}

func (f *fakeStore) GetUserByUserName(_ context.Context, _ string, userName string) (map[string]any, error) {
	for id, u := range f.users {
		if strings.EqualFold(docStr(u, "userName"), userName) {
			return withMeta(u, "User", f.version[id]), nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListUsers(_ context.Context, _ string, q store.Query) (store.ListResult, error) {
	docs := make([]map[string]any, 0, len(f.users))
	for id, u := range f.users {
		docs = append(docs, withMeta(u, "User", f.version[id]))
	}
	return store.ListResult{Documents: docs, Total: len(docs)}, nil
}

func (f *fakeStore) ReplaceUser(_ context.Context, _ string, id string, doc map[string]any) (map[string]any, error) {
	if _, ok := f.users[id]; !ok {
		return nil, store.ErrNotFound
	}
	doc["id"] = id
	f.version[id]++
	f.users[id] = doc
	return withMeta(doc, "User", f.version[id]), nil
}

func (f *fakeStore) UpdateUser(_ context.Context, _ string, id string, mutate func(map[string]any) error) (map[string]any, error) {
	doc, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	f.version[id]++
	return withMeta(doc, "User", f.version[id]), nil
}

func (f *fakeStore) DeleteUser(_ context.Context, _ string, id string) error {
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) CreateGroup(_ context.Context, _ string, doc map[string]any, memberIDs []string) (map[string]any, error) {
	for _, grp := range f.groups {
		if strings.EqualFold(docStr(grp, "displayName"), docStr(doc, "displayName")) {
			return nil, store.ErrUniqueness
		}
	}
	id := f.nextID()
	doc["id"] = id
	f.version[id] = 1
	f.groups[id] = doc
	return withMeta(doc, "Group", 1), nil
}

func (f *fakeStore) GetGroup(_ context.Context, _ string, id string) (map[string]any, error) {
	doc, ok := f.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return withMeta(doc, "Group", f.version[id]), nil
}

func (f *fakeStore) GetGroupByDisplayName(_ context.Context, _ string, displayName string) (map[string]any, error) {
	for id, grp := range f.groups {
		if strings.EqualFold(docStr(grp, "displayName"), displayName) {
			return withMeta(grp, "Group", f.version[id]), nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListGroups(_ context.Context, _ string, q store.Query) (store.ListResult, error) {
	docs := make([]map[string]any, 0, len(f.groups))
	for id, grp := range f.groups {
		docs = append(docs, withMeta(grp, "Group", f.version[id]))
	}
	return store.ListResult{Documents: docs, Total: len(docs)}, nil
}

func (f *fakeStore) ReplaceGroup(_ context.Context, _ string, id string, doc map[string]any, memberIDs []string) (map[string]any, error) {
	if _, ok := f.groups[id]; !ok {
		return nil, store.ErrNotFound
	}
	doc["id"] = id
	f.version[id]++
	f.groups[id] = doc
	return withMeta(doc, "Group", f.version[id]), nil
}

func (f *fakeStore) UpdateGroup(_ context.Context, _ string, id string, mutate func(map[string]any) error, memberIDs []string, replaceMembers bool) (map[string]any, error) {
	doc, ok := f.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	f.version[id]++
	return withMeta(doc, "Group", f.version[id]), nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, _ string, id string) error {
	if _, ok := f.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.groups, id)
	return nil
}

func (f *fakeStore) ResolveUserIDs(_ context.Context, _ string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := f.users[id]
		out[id] = ok
	}
	return out, nil
}

func (f *fakeStore) CreateEndpoint(context.Context, store.Endpoint) (store.Endpoint, error) {
	panic("not needed")
}
func (f *fakeStore) GetEndpointByID(context.Context, string) (store.Endpoint, error) {
	panic("not needed")
}
func (f *fakeStore) GetEndpointByName(context.Context, string) (store.Endpoint, error) {
	panic("not needed")
}
func (f *fakeStore) ListEndpoints(context.Context) ([]store.Endpoint, error) {
	panic("not needed")
}
func (f *fakeStore) UpdateEndpoint(context.Context, store.Endpoint) (store.Endpoint, error) {
	panic("not needed")
}
func (f *fakeStore) DeleteEndpoint(context.Context, string) error { panic("not needed") }
func (f *fakeStore) EndpointStats(context.Context, string) (store.EndpointStats, error) {
	panic("not needed")
}
func (f *fakeStore) InsertAuditRecords(context.Context, []store.AuditRecord) error {
	panic("not needed")
}
func (f *fakeStore) Close() error { return nil }
