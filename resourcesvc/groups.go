package resourcesvc

import (
	"context"
	"encoding/json"

	"github.com/scimworks/endpointd/reqctx"
	"github.com/scimworks/endpointd/scim"
	"github.com/scimworks/endpointd/store"
)

// Groups provides the public operations on the Group resource type.
type Groups struct {
	store     store.Store
	validator *scim.Validator
	patcher   *scim.PatchProcessor
}

func NewGroups(s store.Store) *Groups {
	return &Groups{store: s, validator: scim.NewValidator(), patcher: scim.NewPatchProcessor()}
}

// Create validates doc, resolves and verifies every member id against this
// endpoint before any write transaction opens (a read-before-write strategy
// so the write transaction holds no read dependencies), then persists.
func (g *Groups) Create(ctx context.Context, rc reqctx.Context, doc map[string]any) (map[string]any, error) {
	if err := validateGroupDoc(g.validator, doc); err != nil {
		return nil, err
	}
	memberIDs, err := g.resolveMembers(ctx, rc, doc)
	if err != nil {
		return nil, err
	}

	created, err := g.store.CreateGroup(ctx, rc.EndpointID, doc, memberIDs)
	if err != nil {
		if err == store.ErrUniqueness {
			return nil, scim.ErrUniqueness("displayName must be unique within this endpoint")
		}
		return nil, err
	}
	setLocation(created, rc, "Groups")
	return created, nil
}

func (g *Groups) Get(ctx context.Context, rc reqctx.Context, id string, attrs, excluded []string) (map[string]any, error) {
	doc, err := g.store.GetGroup(ctx, rc.EndpointID, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, scim.ErrNotFound("Group", id)
		}
		return nil, err
	}
	setLocation(doc, rc, "Groups")
	return projectAttributes(doc, attrs, excluded)
}

func (g *Groups) List(ctx context.Context, rc reqctx.Context, params scim.QueryParams) (*scim.ListResponse[any], error) {
	result, err := g.store.ListGroups(ctx, rc.EndpointID, store.Query{
		Filter: params.Filter, StartIndex: params.StartIndex, Count: params.Count,
	})
	if err != nil {
		if err == store.ErrTooManyRows {
			return nil, scim.ErrTooMany("this filter requires scanning more resources than this deployment allows")
		}
		return nil, err
	}
	return buildListResponse(result, rc, "Groups", params)
}

func (g *Groups) Replace(ctx context.Context, rc reqctx.Context, id string, doc map[string]any) (map[string]any, error) {
	if err := validateGroupDoc(g.validator, doc); err != nil {
		return nil, err
	}
	memberIDs, err := g.resolveMembers(ctx, rc, doc)
	if err != nil {
		return nil, err
	}

	updated, err := g.store.ReplaceGroup(ctx, rc.EndpointID, id, doc, memberIDs)
	if err != nil {
		return nil, translateWriteErr(err, "Group", id)
	}
	setLocation(updated, rc, "Groups")
	return updated, nil
}

// Patch applies a PatchOp to the Group's stored document. Member ids
// introduced by the patch (add or replace on members / members[...]) are
// resolved against the Store before the update transaction opens: the
// patch is first applied to a throwaway clone of the current document to
// discover the resulting member set, then replayed inside the real update
// once every id is confirmed to exist.
func (g *Groups) Patch(ctx context.Context, rc reqctx.Context, id string, patch *scim.PatchOp) (map[string]any, error) {
	if err := g.validator.ValidatePatchOp(patch); err != nil {
		return nil, err
	}
	if err := checkPatchOperationsAllowed(patch, rc, true); err != nil {
		return nil, err
	}
	coerceBooleanPatchValues(patch)

	current, err := g.store.GetGroup(ctx, rc.EndpointID, id)
	if err != nil {
		return nil, translateWriteErr(err, "Group", id)
	}
	preview := deepCloneDoc(current)
	if err := g.patcher.ApplyPatch(preview, patch); err != nil {
		return nil, err
	}
	memberIDs, err := g.resolveMembers(ctx, rc, preview)
	if err != nil {
		return nil, err
	}

	updated, err := g.store.UpdateGroup(ctx, rc.EndpointID, id, func(doc map[string]any) error {
		if err := g.patcher.ApplyPatch(doc, patch); err != nil {
			return err
		}
		return validateGroupDoc(g.validator, doc)
	}, memberIDs, true)
	if err != nil {
		return nil, translateWriteErr(err, "Group", id)
	}
	setLocation(updated, rc, "Groups")
	return updated, nil
}

func (g *Groups) Delete(ctx context.Context, rc reqctx.Context, id string) error {
	if err := g.store.DeleteGroup(ctx, rc.EndpointID, id); err != nil {
		return translateWriteErr(err, "Group", id)
	}
	return nil
}

// resolveMembers reads doc's members array and confirms every value id
// exists in this endpoint, returning the ids so the caller's write
// transaction never has to read back to validate them.
func (g *Groups) resolveMembers(ctx context.Context, rc reqctx.Context, doc map[string]any) ([]string, error) {
	members, _ := doc["members"].([]any)
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		mm, ok := m.(map[string]any)
		if !ok {
			return nil, scim.ErrInvalidValue("each member must be a complex value with a value attribute")
		}
		value, _ := mm["value"].(string)
		if value == "" {
			return nil, scim.ErrInvalidValue("each member must carry a non-empty value attribute")
		}
		ids = append(ids, value)
	}

	exists, err := g.store.ResolveUserIDs(ctx, rc.EndpointID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if !exists[id] {
			return nil, scim.ErrInvalidValue("member " + id + " does not exist in this endpoint")
		}
	}
	return ids, nil
}

func validateGroupDoc(v *scim.Validator, doc map[string]any) error {
	var typed scim.Group
	data, err := json.Marshal(doc)
	if err != nil {
		return scim.ErrInvalidValue("malformed Group payload")
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return scim.ErrInvalidValue("malformed Group payload: " + err.Error())
	}
	if err := v.ValidateGroup(&typed); err != nil {
		return err
	}
	if _, ok := doc["schemas"]; !ok {
		doc["schemas"] = []string{scim.SchemaGroup}
	}
	return nil
}

func deepCloneDoc(doc map[string]any) map[string]any {
	data, err := json.Marshal(doc)
	if err != nil {
		return map[string]any{}
	}
	var clone map[string]any
	if err := json.Unmarshal(data, &clone); err != nil {
		return map[string]any{}
	}
	return clone
}
