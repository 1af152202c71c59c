// Package validator implements C5: the five validation rules from
// spec.md §4.3, run elementwise against a fixed element universe.
package validator

import (
	"fmt"
	"regexp"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
)

// Universe is the full merged element map a validation run resolves
// references and types against; it is never mutated.
type Universe map[string]element.Element

// Validate checks subset (a slice of elements to (re)validate) against
// universe, never mutating either. subset is typically the set of
// elements touched by a recent change batch; universe is the workspace's
// complete merged map, required so references crossing into untouched
// elements still resolve correctly.
func Validate(subset []element.Element, universe Universe) []*werrors.ValidationError {
	var errs []*werrors.ValidationError
	cycles := detectCycles(universe)

	for _, el := range subset {
		inst, ok := el.(*element.InstanceElement)
		if !ok {
			continue
		}
		errs = append(errs, validateReferences(inst, universe)...)
		if cycles[inst.IDField.GetFullName()] {
			errs = append(errs, werrors.NewValidationError(werrors.ValidationCircularReference,
				inst.IDField, "element participates in a reference cycle"))
		}

		obj, hasType := resolveObjectType(inst.TypeRef, universe)
		if !hasType {
			continue
		}
		errs = append(errs, validateRequired(inst, obj)...)
		errs = append(errs, validateValue(inst.IDField, nil, inst.Value, obj, universe)...)
	}
	return errs
}

func resolveObjectType(id elemid.ID, universe Universe) (*element.ObjectType, bool) {
	el, ok := universe[id.GetFullName()]
	if !ok {
		return nil, false
	}
	obj, ok := el.(*element.ObjectType)
	return obj, ok
}

// validateRequired enforces rule 5: fields annotated required must be
// present in the instance's top-level value map.
func validateRequired(inst *element.InstanceElement, obj *element.ObjectType) []*werrors.ValidationError {
	return validateRequiredFields(inst.IDField, nil, inst.Value, obj)
}

// validateRequiredFields enforces rule 5 at v, which must conform to obj
// (v is either an instance's top-level value or a nested object-typed
// field's value, at path below rootID).
func validateRequiredFields(rootID elemid.ID, path []string, v element.Value, obj *element.ObjectType) []*werrors.ValidationError {
	var errs []*werrors.ValidationError
	m, _ := v.AsMap()
	for name, field := range obj.Fields {
		if !isRequired(field) {
			continue
		}
		if _, present := m[name]; !present {
			fieldPath := append(append([]string{}, path...), name)
			errs = append(errs, werrors.NewValidationError(werrors.ValidationMissingRequired,
				pathID(rootID, fieldPath), fmt.Sprintf("required field %s is missing", name)))
		}
	}
	return errs
}

func isRequired(f *element.Field) bool {
	v, ok := f.Annotations["required"]
	if !ok {
		return false
	}
	b, _ := v.AsPrimitive()
	r, _ := b.(bool)
	return r
}

// validateValue implements rule 1 (type conformance) and rule 4 (illegal
// value): it walks v against the shape obj declares, recursing into
// nested objects, lists and maps.
func validateValue(rootID elemid.ID, path []string, v element.Value, obj *element.ObjectType, universe Universe) []*werrors.ValidationError {
	var errs []*werrors.ValidationError
	m, ok := v.AsMap()
	if !ok {
		if v.Kind() == element.KindReference || v.Kind() == element.KindStaticFile {
			return nil
		}
		return []*werrors.ValidationError{werrors.NewValidationError(werrors.ValidationTypeMismatch,
			pathID(rootID, path), "expected an object value")}
	}
	for name, field := range obj.Fields {
		fv, present := m[name]
		if !present {
			continue
		}
		childPath := append(append([]string{}, path...), name)
		errs = append(errs, validateFieldValue(rootID, childPath, fv, field, universe)...)
		errs = append(errs, validateIllegalValue(rootID, childPath, fv, field)...)
	}
	return errs
}

func validateFieldValue(rootID elemid.ID, path []string, v element.Value, field *element.Field, universe Universe) []*werrors.ValidationError {
	if v.Kind() == element.KindReference {
		// Resolution/assignability of a reference's pointed-to value is
		// rule 2's concern, not rule 1's; a reference is always
		// considered type-conformant on its own.
		return nil
	}

	target, ok := universe[field.TypeRef.GetFullName()]
	if !ok {
		return nil
	}
	switch t := target.(type) {
	case *element.PrimitiveType:
		if v.Kind() != element.KindPrimitive {
			return []*werrors.ValidationError{typeMismatch(rootID, path, "expected a primitive value")}
		}
		p, _ := v.AsPrimitive()
		return checkPrimitiveKind(rootID, path, p, t.Primitive)
	case *element.ObjectType:
		errs := validateRequiredFields(rootID, path, v, t)
		errs = append(errs, validateValue(rootID, path, v, t, universe)...)
		return errs
	case *element.ListType:
		items, ok := v.AsList()
		if !ok {
			return []*werrors.ValidationError{typeMismatch(rootID, path, "expected a list value")}
		}
		var errs []*werrors.ValidationError
		for i, item := range items {
			itemPath := append(append([]string{}, path...), fmt.Sprintf("%d", i))
			errs = append(errs, validateContainerItem(rootID, itemPath, item, t.InnerType, universe)...)
		}
		return errs
	case *element.MapType:
		entries, ok := v.AsMap()
		if !ok {
			return []*werrors.ValidationError{typeMismatch(rootID, path, "expected a map value")}
		}
		var errs []*werrors.ValidationError
		for k, item := range entries {
			itemPath := append(append([]string{}, path...), k)
			errs = append(errs, validateContainerItem(rootID, itemPath, item, t.InnerType, universe)...)
		}
		return errs
	default:
		return nil
	}
}

func validateContainerItem(rootID elemid.ID, path []string, v element.Value, innerType elemid.ID, universe Universe) []*werrors.ValidationError {
	inner := &element.Field{TypeRef: innerType}
	return validateFieldValue(rootID, path, v, inner, universe)
}

func checkPrimitiveKind(rootID elemid.ID, path []string, v any, kind element.PrimitiveKind) []*werrors.ValidationError {
	ok := true
	switch kind {
	case element.KindString:
		_, ok = v.(string)
	case element.KindNumber:
		_, ok = v.(float64)
	case element.KindBoolean:
		_, ok = v.(bool)
	case element.KindUnknown:
		ok = true
	}
	if !ok {
		return []*werrors.ValidationError{typeMismatch(rootID, path, fmt.Sprintf("expected a %s value, got %v", kind, v))}
	}
	return nil
}

func typeMismatch(rootID elemid.ID, path []string, msg string) *werrors.ValidationError {
	return werrors.NewValidationError(werrors.ValidationTypeMismatch, pathID(rootID, path), msg)
}

func pathID(rootID elemid.ID, path []string) elemid.ID {
	if len(path) == 0 {
		return rootID
	}
	return rootID.CreateNestedID(path...)
}

// validateIllegalValue implements rule 4: regex, enum and range
// annotations on the declaring field are enforced against fv.
func validateIllegalValue(rootID elemid.ID, path []string, fv element.Value, field *element.Field) []*werrors.ValidationError {
	p, isPrimitive := fv.AsPrimitive()
	if !isPrimitive {
		return nil
	}
	var errs []*werrors.ValidationError
	if re, ok := field.Annotations["regex"]; ok {
		pattern, _ := re.AsPrimitive()
		s, isStr := p.(string)
		if pat, ok := pattern.(string); ok && isStr {
			if matched, err := regexp.MatchString(pat, s); err == nil && !matched {
				errs = append(errs, werrors.NewValidationError(werrors.ValidationIllegalValue, pathID(rootID, path),
					fmt.Sprintf("value %q does not match pattern %q", s, pat)))
			}
		}
	}
	if enumVal, ok := field.Annotations["enum"]; ok {
		if items, ok := enumVal.AsList(); ok {
			allowed := false
			for _, it := range items {
				iv, _ := it.AsPrimitive()
				if fmt.Sprintf("%v", iv) == fmt.Sprintf("%v", p) {
					allowed = true
					break
				}
			}
			if !allowed {
				errs = append(errs, werrors.NewValidationError(werrors.ValidationIllegalValue, pathID(rootID, path),
					fmt.Sprintf("value %v is not one of the allowed enum values", p)))
			}
		}
	}
	if n, ok := p.(float64); ok {
		if minV, ok := field.Annotations["min"]; ok {
			if mv, ok := asFloat(minV); ok && n < mv {
				errs = append(errs, werrors.NewValidationError(werrors.ValidationIllegalValue, pathID(rootID, path),
					fmt.Sprintf("value %v is below minimum %v", n, mv)))
			}
		}
		if maxV, ok := field.Annotations["max"]; ok {
			if mv, ok := asFloat(maxV); ok && n > mv {
				errs = append(errs, werrors.NewValidationError(werrors.ValidationIllegalValue, pathID(rootID, path),
					fmt.Sprintf("value %v is above maximum %v", n, mv)))
			}
		}
	}
	return errs
}

func asFloat(v element.Value) (float64, bool) {
	p, ok := v.AsPrimitive()
	if !ok {
		return 0, false
	}
	f, ok := p.(float64)
	return f, ok
}

// validateReferences implements rule 2: every reference reachable from
// inst's value tree must resolve, either to a top-level element directly
// or to a nested path within one.
func validateReferences(inst *element.InstanceElement, universe Universe) []*werrors.ValidationError {
	var errs []*werrors.ValidationError
	walkReferences(inst.Value, func(ref elemid.ID) {
		if !resolves(ref, universe) {
			errs = append(errs, werrors.NewValidationError(werrors.ValidationUnresolvedReference,
				inst.IDField, fmt.Sprintf("unresolved reference to %s", ref.GetFullName())))
		}
	})
	return errs
}

func walkReferences(v element.Value, visit func(elemid.ID)) {
	switch v.Kind() {
	case element.KindReference:
		ref, _ := v.AsReference()
		visit(ref.ElemID)
	case element.KindList:
		items, _ := v.AsList()
		for _, it := range items {
			walkReferences(it, visit)
		}
	case element.KindMap:
		m, _ := v.AsMap()
		for _, it := range m {
			walkReferences(it, visit)
		}
	}
}

// ReferenceRoot returns the full name of the top-level element a
// reference id is anchored to, so callers outside this package (the
// editor workspace's incremental revalidation scoping, spec.md §4.7) can
// match a reference against a top-level merged-element key without
// reimplementing instance/attr path stripping.
func ReferenceRoot(ref elemid.ID) string {
	return topLevelKey(ref)
}

// topLevelKey returns the full name of the concrete top-level element
// (instance, var, or type) ref is anchored to. ID.CreateTopLevelParentID
// strips the instance name along with the rest of the nested path (it
// answers "what type family is this?"); resolution needs the specific
// instance, so this keeps the first name part for instance/attr IDs
// rather than going through that helper.
func topLevelKey(ref elemid.ID) string {
	switch ref.IDType() {
	case elemid.VarID:
		return elemid.New("", ref.TypeName(), elemid.VarID).GetFullName()
	case elemid.InstanceID, elemid.AttrID:
		if parts := ref.NameParts(); len(parts) > 0 {
			return elemid.New(ref.Adapter(), ref.TypeName(), elemid.InstanceID, parts[0]).GetFullName()
		}
		return elemid.New(ref.Adapter(), ref.TypeName(), elemid.TypeID).GetFullName()
	default:
		return elemid.New(ref.Adapter(), ref.TypeName(), elemid.TypeID).GetFullName()
	}
}

// nestedPath returns the path below the top-level element topLevelKey
// resolves to: the path within an instance's value tree, beyond its own
// instance name.
func nestedPath(ref elemid.ID) []string {
	switch ref.IDType() {
	case elemid.InstanceID, elemid.AttrID:
		if parts := ref.NameParts(); len(parts) > 1 {
			return parts[1:]
		}
		return nil
	default:
		return ref.NameParts()
	}
}

func resolves(ref elemid.ID, universe Universe) bool {
	el, ok := universe[topLevelKey(ref)]
	if !ok {
		return false
	}
	path := nestedPath(ref)
	if len(path) == 0 {
		return true
	}
	inst, ok := el.(*element.InstanceElement)
	if !ok {
		return false
	}
	cur := inst.Value
	for _, seg := range path {
		m, ok := cur.AsMap()
		if !ok {
			return false
		}
		next, present := m[seg]
		if !present {
			return false
		}
		cur = next
	}
	return true
}

// detectCycles returns the set of top-level full names that participate
// in a reference cycle, computed once per Validate call over the whole
// universe (rule 3 needs global reachability, not just the subset).
func detectCycles(universe Universe) map[string]bool {
	edges := map[string]map[string]bool{}
	for name, el := range universe {
		inst, ok := el.(*element.InstanceElement)
		if !ok {
			continue
		}
		set := map[string]bool{}
		walkReferences(inst.Value, func(ref elemid.ID) {
			set[topLevelKey(ref)] = true
		})
		edges[name] = set
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	inCycle := map[string]bool{}
	var stack []string

	var visit func(name string)
	visit = func(name string) {
		state[name] = visiting
		stack = append(stack, name)
		for next := range edges[name] {
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				// Found a back-edge: everything from next's position to
				// the top of the stack forms a cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					inCycle[stack[i]] = true
					if stack[i] == next {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
	}

	for name := range edges {
		if state[name] == unvisited {
			visit(name)
		}
	}
	return inCycle
}
