package scim

import (
	"fmt"
	"slices"
	"strings"
)

// PatchProcessor applies SCIM PATCH operations to a resource represented as
// a JSON payload document (map[string]any) rather than a typed struct. The
// dispatch shape (add/remove/replace -> path parsing -> value-path-via-
// filter-engine) mirrors a reflect-based implementation; only the underlying
// navigation primitives differ, since resources here are opaque documents
// rather than Go structs.
type PatchProcessor struct{}

// NewPatchProcessor creates a new patch processor.
func NewPatchProcessor() *PatchProcessor {
	return &PatchProcessor{}
}

// protectedRootKeys are server-managed and silently ignored in a root-level
// add/replace (no path).
var protectedRootKeys = []string{"id", "meta", "schemas"}

// multiValuedAttrs lists the SCIM core attributes this processor treats as
// arrays for the purpose of an unfiltered "add" (append rather than
// overwrite). Anything not in this set is treated as single-valued.
var multiValuedAttrs = []string{
	"emails", "phonenumbers", "ims", "photos", "addresses",
	"groups", "entitlements", "roles", "x509certificates", "members",
}

func isMultiValuedAttr(name string) bool {
	return slices.Contains(multiValuedAttrs, strings.ToLower(name))
}

func isProtectedRootKey(name string) bool {
	return slices.ContainsFunc(protectedRootKeys, func(k string) bool {
		return strings.EqualFold(k, name)
	})
}

// canonicalKey returns the key already present in m matching name
// case-insensitively, or name itself if no such key exists yet.
func canonicalKey(m map[string]any, name string) string {
	for k := range m {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// ApplyPatch applies every operation in patch to doc in order.
func (pp *PatchProcessor) ApplyPatch(doc map[string]any, patch *PatchOp) error {
	for _, op := range patch.Operations {
		if err := pp.applyOperation(doc, op); err != nil {
			return err
		}
	}
	return nil
}

func (pp *PatchProcessor) applyOperation(doc map[string]any, op PatchOperation) error {
	switch strings.ToLower(op.Op) {
	case "add":
		return pp.applyAdd(doc, op)
	case "remove":
		return pp.applyRemove(doc, op)
	case "replace":
		return pp.applyReplace(doc, op)
	default:
		return ErrInvalidValue(fmt.Sprintf("invalid operation: %s", op.Op))
	}
}

func (pp *PatchProcessor) applyAdd(doc map[string]any, op PatchOperation) error {
	if op.Path == "" {
		return pp.mergeRoot(doc, op.Value)
	}
	return pp.addToPath(doc, parsePath(op.Path), op.Value)
}

func (pp *PatchProcessor) applyRemove(doc map[string]any, op PatchOperation) error {
	if op.Path == "" {
		return ErrNoTarget("path is required for remove operation")
	}
	return pp.removeFromPath(doc, parsePath(op.Path))
}

func (pp *PatchProcessor) applyReplace(doc map[string]any, op PatchOperation) error {
	if op.Path == "" {
		return pp.mergeRoot(doc, op.Value)
	}
	return pp.replaceAtPath(doc, parsePath(op.Path), op.Value)
}

// mergeRoot merges a value map into the document root, skipping server-
// managed fields.
func (pp *PatchProcessor) mergeRoot(doc map[string]any, value any) error {
	valueMap, ok := value.(map[string]any)
	if !ok {
		return ErrInvalidValue("value must be a complex object when path is omitted")
	}
	for key, val := range valueMap {
		if isProtectedRootKey(key) {
			continue
		}
		doc[canonicalKey(doc, key)] = val
	}
	return nil
}

// navigate walks all but the last segment of path, returning the container
// map the final segment should act on. create controls whether missing
// intermediate objects are created (true for add/replace, false for remove).
func (pp *PatchProcessor) navigate(doc map[string]any, segments []PathSegment, create bool) (map[string]any, error) {
	current := doc
	for _, segment := range segments {
		key := canonicalKey(current, segment.Attribute)
		existing, ok := current[key]

		if segment.Filter != nil {
			arr, isArr := existing.([]any)
			if !isArr {
				if !create {
					return nil, nil
				}
				return nil, ErrNoTarget(fmt.Sprintf("attribute %s is not an array", segment.Attribute))
			}
			found := false
			for _, elem := range arr {
				em, isMap := elem.(map[string]any)
				if isMap && segment.Filter.Matches(em) {
					current = em
					found = true
					break
				}
			}
			if !found {
				if !create {
					return nil, nil
				}
				return nil, ErrNoTarget(fmt.Sprintf("no matching element for filter on %s", segment.Attribute))
			}
			continue
		}

		if !ok || existing == nil {
			if !create {
				return nil, nil
			}
			nm := map[string]any{}
			current[key] = nm
			current = nm
			continue
		}

		nm, isMap := existing.(map[string]any)
		if !isMap {
			return nil, ErrInvalidPath(fmt.Sprintf("attribute %s is not a complex value", segment.Attribute))
		}
		current = nm
	}
	return current, nil
}

func (pp *PatchProcessor) addToPath(doc map[string]any, path *Path, value any) error {
	if len(path.Segments) == 0 {
		return ErrInvalidPath("empty path")
	}

	last := path.Segments[len(path.Segments)-1]
	container, err := pp.navigate(doc, path.Segments[:len(path.Segments)-1], true)
	if err != nil {
		return err
	}

	key := canonicalKey(container, last.Attribute)

	if last.Filter != nil {
		arr, _ := container[key].([]any)
		matched := false
		for i, elem := range arr {
			em, ok := elem.(map[string]any)
			if ok && last.Filter.Matches(em) {
				if err := mergeValueInto(em, value); err != nil {
					return err
				}
				arr[i] = em
				matched = true
			}
		}
		if !matched {
			return ErrNoTarget(fmt.Sprintf("no matching element for filter on %s", last.Attribute))
		}
		container[key] = arr
		return nil
	}

	if isMultiValuedAttr(key) {
		appendValues(container, key, value)
		return nil
	}

	container[key] = value
	return nil
}

func (pp *PatchProcessor) removeFromPath(doc map[string]any, path *Path) error {
	if len(path.Segments) == 0 {
		return ErrInvalidPath("empty path")
	}

	last := path.Segments[len(path.Segments)-1]
	container, err := pp.navigate(doc, path.Segments[:len(path.Segments)-1], false)
	if err != nil {
		return err
	}
	if container == nil {
		return nil // nothing to remove
	}

	key := canonicalKey(container, last.Attribute)

	if last.Filter != nil {
		arr, ok := container[key].([]any)
		if !ok {
			return nil
		}
		kept := make([]any, 0, len(arr))
		for _, elem := range arr {
			em, isMap := elem.(map[string]any)
			if isMap && last.Filter.Matches(em) {
				continue
			}
			kept = append(kept, elem)
		}
		container[key] = kept
		return nil
	}

	delete(container, key)
	return nil
}

func (pp *PatchProcessor) replaceAtPath(doc map[string]any, path *Path, value any) error {
	if len(path.Segments) == 0 {
		return ErrInvalidPath("empty path")
	}

	last := path.Segments[len(path.Segments)-1]
	container, err := pp.navigate(doc, path.Segments[:len(path.Segments)-1], true)
	if err != nil {
		return err
	}

	key := canonicalKey(container, last.Attribute)

	if last.Filter != nil {
		arr, _ := container[key].([]any)
		matched := false
		for i, elem := range arr {
			em, ok := elem.(map[string]any)
			if ok && last.Filter.Matches(em) {
				if err := mergeValueInto(em, value); err != nil {
					return err
				}
				arr[i] = em
				matched = true
			}
		}
		if !matched {
			return ErrNoTarget(fmt.Sprintf("no matching element for filter on %s", last.Attribute))
		}
		container[key] = arr
		return nil
	}

	// Unlike add, replace of a whole multi-valued attribute overwrites it.
	container[key] = value
	return nil
}

// mergeValueInto merges a complex value's fields into an existing array
// element, which is what "add"/"replace" with a value-path filter but no
// trailing sub-attribute means (RFC 7644 Section 3.5.2).
func mergeValueInto(target map[string]any, value any) error {
	valueMap, ok := value.(map[string]any)
	if !ok {
		return ErrInvalidValue("value must be a complex object for a filtered path")
	}
	for k, v := range valueMap {
		target[canonicalKey(target, k)] = v
	}
	return nil
}

// appendValues appends value (or, if value is itself a JSON array, each of
// its elements) onto the array stored at key, creating the array if absent.
func appendValues(container map[string]any, key string, value any) {
	arr, _ := container[key].([]any)
	if vs, ok := value.([]any); ok {
		arr = append(arr, vs...)
	} else {
		arr = append(arr, value)
	}
	container[key] = arr
}

// Path represents a parsed SCIM path.
type Path struct {
	Segments []PathSegment
}

// PathSegment represents a segment of a path.
type PathSegment struct {
	Attribute string
	Filter    *AttributeExpression
}

// parsePath parses a SCIM path expression, e.g.:
//   - emails[type eq "work"].value
//   - name.givenName
//   - addresses[type eq "work"]
func parsePath(pathStr string) *Path {
	path := &Path{Segments: []PathSegment{}}

	parts := strings.SplitSeq(pathStr, ".")
	for part := range parts {
		segment := PathSegment{}

		if strings.Contains(part, "[") {
			openIdx := strings.Index(part, "[")
			closeIdx := strings.Index(part, "]")

			segment.Attribute = part[:openIdx]
			if closeIdx > openIdx {
				filterStr := part[openIdx+1 : closeIdx]
				parser := NewFilterParser(filterStr)
				filter, err := parser.Parse()
				if err == nil {
					if attrExpr, ok := filter.(*AttributeExpression); ok {
						segment.Filter = attrExpr
					}
				}
			}
		} else {
			segment.Attribute = part
		}

		path.Segments = append(path.Segments, segment)
	}

	return path
}
