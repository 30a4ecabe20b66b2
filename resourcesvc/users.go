// Package resourcesvc implements the CRUD/search/patch operations for User
// and Group resources, scoped to one endpoint and wrapping store.Store.
package resourcesvc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/scimworks/endpointd/reqctx"
	"github.com/scimworks/endpointd/scim"
	"github.com/scimworks/endpointd/store"
)

// Users provides the public operations on the User resource type.
type Users struct {
	store     store.Store
	validator *scim.Validator
	patcher   *scim.PatchProcessor
}

func NewUsers(s store.Store) *Users {
	return &Users{store: s, validator: scim.NewValidator(), patcher: scim.NewPatchProcessor()}
}

// Create parses and validates doc, asserts uniqueness, and persists it.
func (u *Users) Create(ctx context.Context, rc reqctx.Context, doc map[string]any) (map[string]any, error) {
	if err := validateUserDoc(u.validator, doc); err != nil {
		return nil, err
	}

	created, err := u.store.CreateUser(ctx, rc.EndpointID, doc)
	if err != nil {
		if err == store.ErrUniqueness {
			return nil, scim.ErrUniqueness("userName must be unique within this endpoint")
		}
		return nil, err
	}
	setLocation(created, rc, "Users")
	return created, nil
}

// Get reads one User by id, applying the requested attribute projection.
func (u *Users) Get(ctx context.Context, rc reqctx.Context, id string, attrs, excluded []string) (map[string]any, error) {
	doc, err := u.store.GetUser(ctx, rc.EndpointID, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, scim.ErrNotFound("User", id)
		}
		return nil, err
	}
	setLocation(doc, rc, "Users")
	return projectAttributes(doc, attrs, excluded)
}

// List returns a page of Users matching params.
func (u *Users) List(ctx context.Context, rc reqctx.Context, params scim.QueryParams) (*scim.ListResponse[any], error) {
	result, err := u.store.ListUsers(ctx, rc.EndpointID, store.Query{
		Filter: params.Filter, StartIndex: params.StartIndex, Count: params.Count,
	})
	if err != nil {
		if err == store.ErrTooManyRows {
			return nil, scim.ErrTooMany("this filter requires scanning more resources than this deployment allows")
		}
		return nil, err
	}
	return buildListResponse(result, rc, "Users", params)
}

// Replace performs a whole-document PUT, rechecking uniqueness and bumping
// version.
func (u *Users) Replace(ctx context.Context, rc reqctx.Context, id string, doc map[string]any) (map[string]any, error) {
	if err := validateUserDoc(u.validator, doc); err != nil {
		return nil, err
	}
	updated, err := u.store.ReplaceUser(ctx, rc.EndpointID, id, doc)
	if err != nil {
		return nil, translateWriteErr(err, "User", id)
	}
	setLocation(updated, rc, "Users")
	return updated, nil
}

// Patch applies a PatchOp to the User's stored document.
func (u *Users) Patch(ctx context.Context, rc reqctx.Context, id string, patch *scim.PatchOp) (map[string]any, error) {
	if err := u.validator.ValidatePatchOp(patch); err != nil {
		return nil, err
	}
	if err := checkPatchOperationsAllowed(patch, rc, false); err != nil {
		return nil, err
	}
	coerceBooleanPatchValues(patch)

	updated, err := u.store.UpdateUser(ctx, rc.EndpointID, id, func(doc map[string]any) error {
		if err := u.patcher.ApplyPatch(doc, patch); err != nil {
			return err
		}
		return validateUserDoc(u.validator, doc)
	})
	if err != nil {
		return nil, translateWriteErr(err, "User", id)
	}
	setLocation(updated, rc, "Users")
	return updated, nil
}

func (u *Users) Delete(ctx context.Context, rc reqctx.Context, id string) error {
	if err := u.store.DeleteUser(ctx, rc.EndpointID, id); err != nil {
		return translateWriteErr(err, "User", id)
	}
	return nil
}

// validateUserDoc checks doc's shape by round-tripping through the typed
// scim.User (field validation only — unknown top-level keys in doc, such as
// extension URNs not modeled by scim.User, are left untouched) and applies
// the server-side schemas default directly onto doc.
func validateUserDoc(v *scim.Validator, doc map[string]any) error {
	var typed scim.User
	data, err := json.Marshal(doc)
	if err != nil {
		return scim.ErrInvalidValue("malformed User payload")
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return scim.ErrInvalidValue("malformed User payload: " + err.Error())
	}
	if err := v.ValidateUser(&typed); err != nil {
		return err
	}
	if _, ok := doc["schemas"]; !ok {
		doc["schemas"] = []string{scim.SchemaUser}
	}
	return nil
}

func translateWriteErr(err error, resourceType, id string) error {
	switch err {
	case store.ErrNotFound:
		return scim.ErrNotFound(resourceType, id)
	case store.ErrUniqueness:
		return scim.ErrUniqueness(resourceType + " uniqueness constraint violated")
	default:
		return err
	}
}

func setLocation(doc map[string]any, rc reqctx.Context, resourceType string) {
	id, _ := doc["id"].(string)
	if id == "" {
		return
	}
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc["meta"] = meta
	}
	meta["location"] = rc.ResourceLocation(resourceType, id)
}

func projectAttributes(doc map[string]any, attrs, excluded []string) (map[string]any, error) {
	selector := scim.NewAttributeSelector(attrs, excluded)
	filtered, err := selector.FilterResource(doc)
	if err != nil {
		return nil, err
	}
	out, _ := filtered.(map[string]any)
	return out, nil
}

func buildListResponse(result store.ListResult, rc reqctx.Context, resourceType string, params scim.QueryParams) (*scim.ListResponse[any], error) {
	selector := scim.NewAttributeSelector(params.Attributes, params.ExcludedAttr)
	resources := make([]any, 0, len(result.Documents))
	for _, doc := range result.Documents {
		setLocation(doc, rc, resourceType)
		filtered, err := selector.FilterResource(doc)
		if err != nil {
			return nil, err
		}
		resources = append(resources, filtered)
	}

	startIndex := params.StartIndex
	if startIndex < 1 {
		startIndex = 1
	}

	return &scim.ListResponse[any]{
		Schemas:      []string{scim.SchemaListResponse},
		TotalResults: result.Total,
		StartIndex:   startIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}, nil
}

// checkPatchOperationsAllowed enforces the patch-engine-adjacent rules the
// document-based PatchProcessor doesn't itself know about: protected root
// fields targeted by path, dotted sub-attribute paths gated by
// VerbosePatchSupported, and the members multi-op guard (isGroup selects
// which of the two membership flags applies).
func checkPatchOperationsAllowed(patch *scim.PatchOp, rc reqctx.Context, isGroup bool) error {
	for _, op := range patch.Operations {
		if op.Path == "" {
			continue
		}
		topLevel, isDotted := splitTopLevelPath(op.Path)
		if isProtectedPathTarget(topLevel) {
			return scim.ErrMutability("id, schemas, and meta are read-only and cannot be targeted by a patch path")
		}
		if isDotted && !rc.ConfigFlag("VerbosePatchSupported") {
			return scim.ErrInvalidPath("dotted sub-attribute paths require VerbosePatchSupported to be enabled on this endpoint")
		}
		if isGroup && strings.EqualFold(topLevel, "members") {
			if err := checkMemberGuard(op, rc); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitTopLevelPath returns the first path segment's attribute name and
// whether the path contains a bare dotted sub-attribute (as opposed to a
// dot occurring inside a URN, which this service never treats as
// "dotted" since URN extension paths are always bracket- or
// colon-qualified before any sub-attribute dot).
func splitTopLevelPath(path string) (attribute string, dotted bool) {
	if strings.HasPrefix(path, "urn:") {
		idx := strings.LastIndex(path, ":")
		rest := path[idx+1:]
		return strings.SplitN(rest, ".", 2)[0], false
	}
	bracket := strings.IndexByte(path, '[')
	dot := strings.IndexByte(path, '.')
	if bracket != -1 && (dot == -1 || bracket < dot) {
		return path[:bracket], false
	}
	if dot == -1 {
		return path, false
	}
	return path[:dot], true
}

func isProtectedPathTarget(attribute string) bool {
	switch strings.ToLower(attribute) {
	case "id", "schemas", "meta":
		return true
	default:
		return false
	}
}

func checkMemberGuard(op scim.PatchOperation, rc reqctx.Context) error {
	members, ok := op.Value.([]any)
	if !ok || len(members) <= 1 {
		return nil
	}
	var flag string
	switch strings.ToLower(op.Op) {
	case "add":
		flag = "MultiOpPatchRequestAddMultipleMembersToGroup"
	case "remove":
		flag = "MultiOpPatchRequestRemoveMultipleMembersFromGroup"
	default:
		return nil
	}
	if !rc.ConfigFlag(flag) {
		return scim.ErrInvalidValue("multiple members in a single patch operation require " + flag + " to be enabled on this endpoint")
	}
	return nil
}

// coerceBooleanPatchValues coerces the string forms
// "true"/"false"/"True"/"False"/"1"/"0" to proper booleans when the
// targeted attribute is the boolean-typed "active" attribute.
func coerceBooleanPatchValues(patch *scim.PatchOp) {
	for i, op := range patch.Operations {
		attribute, _ := splitTopLevelPath(op.Path)
		if op.Path != "" && strings.EqualFold(attribute, "active") {
			if b, ok := coerceBool(op.Value); ok {
				patch.Operations[i].Value = b
			}
			continue
		}
		if op.Path == "" {
			if valueMap, ok := op.Value.(map[string]any); ok {
				if raw, present := valueMap["active"]; present {
					if b, ok := coerceBool(raw); ok {
						valueMap["active"] = b
					}
				}
			}
		}
	}
}

func coerceBool(value any) (bool, bool) {
	s, ok := value.(string)
	if !ok {
		return false, false
	}
	switch s {
	case "true", "True", "1":
		return true, true
	case "false", "False", "0":
		return false, true
	default:
		return false, false
	}
}
