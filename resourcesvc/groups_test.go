package resourcesvc

import (
	"context"
	"testing"

	"github.com/scimworks/endpointd/scim"
)

func TestGroupsCreateWithValidMember(t *testing.T) {
	fs := newFakeStore()
	users := NewUsers(fs)
	groups := NewGroups(fs)
	rc := testContext(nil)

	user, err := users.Create(context.Background(), rc, map[string]any{"userName": "bjensen"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	userID := user["id"].(string)

	group, err := groups.Create(context.Background(), rc, map[string]any{
		"displayName": "Engineers",
		"members":     []any{map[string]any{"value": userID, "display": "bjensen"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group["id"] == "" {
		t.Fatal("expected generated group id")
	}
}

func TestGroupsCreateRejectsUnknownMember(t *testing.T) {
	groups := NewGroups(newFakeStore())
	rc := testContext(nil)

	_, err := groups.Create(context.Background(), rc, map[string]any{
		"displayName": "Engineers",
		"members":     []any{map[string]any{"value": "does-not-exist"}},
	})
	if err == nil {
		t.Fatal("expected error: member does not exist in this endpoint")
	}
}

func TestGroupsCreateMissingDisplayName(t *testing.T) {
	groups := NewGroups(newFakeStore())
	rc := testContext(nil)
	if _, err := groups.Create(context.Background(), rc, map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing displayName")
	}
}

func TestGroupsPatchAddMultipleMembersRequiresFlag(t *testing.T) {
	fs := newFakeStore()
	users := NewUsers(fs)
	groups := NewGroups(fs)
	rc := testContext(nil)

	u1, _ := users.Create(context.Background(), rc, map[string]any{"userName": "alice"})
	u2, _ := users.Create(context.Background(), rc, map[string]any{"userName": "bob"})
	group, err := groups.Create(context.Background(), rc, map[string]any{"displayName": "Engineers"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	groupID := group["id"].(string)

	patch := &scim.PatchOp{Operations: []scim.PatchOperation{{
		Op:   "add",
		Path: "members",
		Value: []any{
			map[string]any{"value": u1["id"]},
			map[string]any{"value": u2["id"]},
		},
	}}}

	if _, err := groups.Patch(context.Background(), rc, groupID, patch); err == nil {
		t.Fatal("expected error: adding 2 members in one op requires the multi-op flag")
	}

	rcAllowed := testContext(map[string]string{"MultiOpPatchRequestAddMultipleMembersToGroup": "true"})
	updated, err := groups.Patch(context.Background(), rcAllowed, groupID, patch)
	if err != nil {
		t.Fatalf("unexpected error with flag enabled: %v", err)
	}
	members, _ := updated["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestGroupsPatchRejectsUnknownMemberId(t *testing.T) {
	groups := NewGroups(newFakeStore())
	rc := testContext(nil)

	group, err := groups.Create(context.Background(), rc, map[string]any{"displayName": "Engineers"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	groupID := group["id"].(string)

	patch := &scim.PatchOp{Operations: []scim.PatchOperation{{
		Op: "add", Path: "members", Value: []any{map[string]any{"value": "ghost"}},
	}}}
	if _, err := groups.Patch(context.Background(), rc, groupID, patch); err == nil {
		t.Fatal("expected error: member does not exist")
	}
}

func TestGroupsDeleteNotFound(t *testing.T) {
	groups := NewGroups(newFakeStore())
	rc := testContext(nil)
	if err := groups.Delete(context.Background(), rc, "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}
