package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestEndpoint(t *testing.T, s Store) Endpoint {
	t.Helper()
	ep, err := s.CreateEndpoint(context.Background(), Endpoint{Name: "acme", Active: true, ConfigFlags: map[string]string{}})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return ep
}

func TestSQLite_CreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	doc := map[string]any{"userName": "bjensen", "displayName": "Babs Jensen"}
	created, err := s.CreateUser(ctx, ep.ID, doc)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected generated id")
	}
	meta, _ := created["meta"].(map[string]any)
	if meta["version"] != `W/"1"` {
		t.Fatalf("meta.version = %v, want W/\"1\"", meta["version"])
	}

	got, err := s.GetUser(ctx, ep.ID, id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got["userName"] != "bjensen" {
		t.Fatalf("userName = %v", got["userName"])
	}
}

func TestSQLite_CreateUserDuplicateUsernameRejected(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "bjensen"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "BJensen"}); err != ErrUniqueness {
		t.Fatalf("expected ErrUniqueness for case-insensitive duplicate, got %v", err)
	}
}

func TestSQLite_UpdateUserBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "bjensen"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	id := created["id"].(string)

	updated, err := s.UpdateUser(ctx, ep.ID, id, func(doc map[string]any) error {
		doc["displayName"] = "Babs"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	meta := updated["meta"].(map[string]any)
	if meta["version"] != `W/"2"` {
		t.Fatalf("meta.version = %v, want W/\"2\"", meta["version"])
	}
}

func TestSQLite_DeleteUserNotFound(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	if err := s.DeleteUser(context.Background(), ep.ID, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_ListUsersWithPushedDownFilter(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": name}); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
	}

	result, err := s.ListUsers(ctx, ep.ID, Query{Filter: `userName eq "bob"`, StartIndex: 1, Count: 10})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if result.Total != 1 || len(result.Documents) != 1 {
		t.Fatalf("expected exactly one match, got total=%d docs=%d", result.Total, len(result.Documents))
	}
	if result.Documents[0]["userName"] != "bob" {
		t.Fatalf("userName = %v", result.Documents[0]["userName"])
	}
}

func TestSQLite_ListUsersWithScannedOrFilter(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": name}); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
	}

	result, err := s.ListUsers(ctx, ep.ID, Query{Filter: `userName eq "alice" or userName eq "carol"`, StartIndex: 1, Count: 10})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("expected 2 matches via in-memory OR fallback, got %d", result.Total)
	}
}

func TestSQLite_GroupMembershipRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "bjensen"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID := user["id"].(string)

	group, err := s.CreateGroup(ctx, ep.ID, map[string]any{
		"displayName": "Engineers",
		"members": []any{
			map[string]any{"value": userID, "display": "bjensen"},
		},
	}, []string{userID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	groupID := group["id"].(string)

	got, err := s.GetGroup(ctx, ep.ID, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	members, _ := got["members"].([]any)
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
}

func TestSQLite_DeleteEndpointCascades(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "bjensen"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.DeleteEndpoint(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}

	result, err := s.ListUsers(ctx, ep.ID, Query{StartIndex: 1, Count: 10})
	if err != nil {
		t.Fatalf("ListUsers after cascade delete: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("expected cascade delete to remove users, got %d remaining", result.Total)
	}
}

func TestSQLite_ResolveUserIDs(t *testing.T) {
	s := newTestStore(t)
	ep := createTestEndpoint(t, s)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, ep.ID, map[string]any{"userName": "bjensen"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID := user["id"].(string)

	result, err := s.ResolveUserIDs(ctx, ep.ID, []string{userID, "missing-id"})
	if err != nil {
		t.Fatalf("ResolveUserIDs: %v", err)
	}
	if !result[userID] || result["missing-id"] {
		t.Fatalf("ResolveUserIDs = %v", result)
	}
}
