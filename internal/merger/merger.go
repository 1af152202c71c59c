// Package merger implements C4: folding per-file element fragments into
// one canonical element per top-level full name (spec.md §4.2).
package merger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
)

// Fragment is one file's contribution of one element to the merge.
type Fragment struct {
	Element  element.Element
	Filename string
}

// Result is C4's output: the canonical merged element map plus every
// conflict discovered along the way.
type Result struct {
	Merged map[string]element.Element
	Errors []*werrors.MergeError
}

// Merge groups fragments by top-level full name and folds each group into
// one canonical element (spec.md §4.2). Groups are independent, so they
// fold concurrently via errgroup; Merge itself is pure and deterministic
// for a given fragment slice, returning its errors sorted by message.
func Merge(ctx context.Context, fragments []Fragment) (*Result, error) {
	groups := map[string][]Fragment{}
	var order []string
	for _, f := range fragments {
		name := f.Element.ID().GetFullName()
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], f)
	}

	merged := make(map[string]element.Element, len(order))
	var errs []*werrors.MergeError
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range order {
		name, group := name, groups[name]
		g.Go(func() error {
			el, groupErrs := mergeGroup(name, group)
			mu.Lock()
			defer mu.Unlock()
			if el != nil {
				merged[name] = el
			}
			errs = append(errs, groupErrs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })

	updateMergedTypes(merged)
	return &Result{Merged: merged, Errors: errs}, nil
}

// mergeGroup folds every fragment contributing to one top-level ID into a
// single element, reporting conflicts as it goes.
func mergeGroup(name string, group []Fragment) (element.Element, []*werrors.MergeError) {
	if kindErr := checkKindAgreement(name, group); kindErr != nil {
		// A single fragment is kept so a kind mismatch doesn't cascade
		// into "element missing entirely" downstream (spec.md §4.2).
		return group[0].Element, []*werrors.MergeError{kindErr}
	}

	switch group[0].Element.(type) {
	case *element.ObjectType:
		return mergeObjectTypes(name, group)
	case *element.InstanceElement:
		return mergeInstances(name, group)
	default:
		// ListType, MapType, and PrimitiveType fragments are synthesized
		// once per declaration site (lower.go never re-declares the same
		// container twice under honest input); the first fragment is
		// canonical and later ones are silently superseded, matching how
		// duplicate top-level declarations of any other kind would also
		// just keep one winner absent an explicit conflict rule for them.
		return group[0].Element, nil
	}
}

func checkKindAgreement(name string, group []Fragment) *werrors.MergeError {
	first := fmt.Sprintf("%T", group[0].Element)
	for _, f := range group[1:] {
		if kind := fmt.Sprintf("%T", f.Element); kind != first {
			id := group[0].Element.ID()
			return werrors.NewMergeError(werrors.MergeKindMismatch, id,
				fmt.Sprintf("%s is declared as both %s and %s", name, first, kind))
		}
	}
	return nil
}

func mergeObjectTypes(name string, group []Fragment) (element.Element, []*werrors.MergeError) {
	var errs []*werrors.MergeError
	merged := &element.ObjectType{
		IDField:     group[0].Element.(*element.ObjectType).IDField,
		Fields:      map[string]*element.Field{},
		Annotations: element.Annotations{},
	}
	settingsSeen := false
	settingsFilename := ""

	for _, f := range group {
		obj := f.Element.(*element.ObjectType)
		if settingsSeen && obj.IsSettings != merged.IsSettings {
			errs = append(errs, werrors.NewMergeError(werrors.MergeConflictingSetting, merged.IDField,
				fmt.Sprintf("is_settings disagrees between %s and %s", settingsFilename, f.Filename)))
		} else {
			merged.IsSettings = obj.IsSettings
			settingsSeen = true
			settingsFilename = f.Filename
		}

		for fieldName, field := range obj.Fields {
			if existing, dup := merged.Fields[fieldName]; dup {
				if !existing.TypeRef.IsEqual(field.TypeRef) {
					errs = append(errs, werrors.NewMergeError(werrors.MergeConflictingFieldType,
						merged.IDField.CreateNestedID(fieldName),
						fmt.Sprintf("field %s declared with conflicting types in %s", fieldName, f.Filename)))
					continue
				}
				errs = append(errs, werrors.NewMergeError(werrors.MergeDuplicateAnnotation,
					merged.IDField.CreateNestedID(fieldName),
					fmt.Sprintf("field %s redefined in %s", fieldName, f.Filename)))
				continue
			}
			merged.Fields[fieldName] = field
		}

		mergeAnnotations(merged.Annotations, obj.Annotations, merged.IDField, f.Filename, &errs)
	}

	return merged, errs
}

// mergeAnnotations folds src into dst. A key whose value differs from the
// one already in dst is a merge error and dst keeps the earlier value.
// This holds for two fragments from the same file as well as for
// fragments from different files: a later same-file value does not
// overwrite an earlier one.
func mergeAnnotations(dst, src element.Annotations, id elemid.ID, filename string, errs *[]*werrors.MergeError) {
	for k, v := range src {
		if existing, present := dst[k]; present && existing.String() != v.String() {
			*errs = append(*errs, werrors.NewMergeError(werrors.MergeDuplicateAnnotation, id,
				fmt.Sprintf("annotation %s conflicts in %s", k, filename)))
			continue
		}
		dst[k] = v
	}
}

func mergeInstances(name string, group []Fragment) (element.Element, []*werrors.MergeError) {
	var errs []*werrors.MergeError
	first := group[0].Element.(*element.InstanceElement)
	merged := &element.InstanceElement{
		IDField:     first.IDField,
		TypeRef:     first.TypeRef,
		Annotations: element.Annotations{},
	}
	value := element.Value{}
	valueSet := false

	for _, f := range group {
		inst := f.Element.(*element.InstanceElement)
		mergeAnnotations(merged.Annotations, inst.Annotations, merged.IDField, f.Filename, &errs)
		if !valueSet {
			value = inst.Value
			valueSet = true
			continue
		}
		mergedValue, mergeErrs := mergeValues(merged.IDField, nil, value, inst.Value)
		value = mergedValue
		errs = append(errs, mergeErrs...)
	}
	merged.Value = value
	return merged, errs
}

// mergeValues structurally merges two value trees contributing to the same
// instance, reporting a DuplicateInstanceKey error wherever both sides
// define a conflicting primitive at the same path (spec.md §4.2).
func mergeValues(rootID elemid.ID, path []string, a, b element.Value) (element.Value, []*werrors.MergeError) {
	if a.Kind() != element.KindMap || b.Kind() != element.KindMap {
		if valuesEqual(a, b) {
			return a, nil
		}
		id := rootID
		if len(path) > 0 {
			id = rootID.CreateNestedID(path...)
		}
		return a, []*werrors.MergeError{werrors.NewMergeError(werrors.MergeDuplicateInstanceKey, id,
			fmt.Sprintf("conflicting value at %s", id.GetFullName()))}
	}

	am, _ := a.AsMap()
	bm, _ := b.AsMap()
	out := make(map[string]element.Value, len(am)+len(bm))
	var errs []*werrors.MergeError
	for k, v := range am {
		out[k] = v
	}
	for k, v := range bm {
		if existing, dup := out[k]; dup {
			childPath := append(append([]string{}, path...), k)
			mv, mergeErrs := mergeValues(rootID, childPath, existing, v)
			out[k] = mv
			errs = append(errs, mergeErrs...)
			continue
		}
		out[k] = v
	}
	return element.Map(out), errs
}

func valuesEqual(a, b element.Value) bool {
	return a.String() == b.String()
}

// updateMergedTypes rewrites every field whose declared type resolves to a
// merged list/map container so it carries that container's inner-type
// field, letting element.Transform descend through it without
// re-resolving types mid-walk (spec.md §4.2 "rewrites every type-valued
// field so references point to the merged ... not to a stale fragment").
func updateMergedTypes(merged map[string]element.Element) {
	for _, el := range merged {
		obj, ok := el.(*element.ObjectType)
		if !ok {
			continue
		}
		for name, field := range obj.Fields {
			container, ok := merged[field.TypeRef.GetFullName()]
			if !ok {
				continue
			}
			switch c := container.(type) {
			case *element.ListType:
				inner := &element.Field{ParentID: field.ParentID, Name: field.Name, TypeRef: c.InnerType}
				obj.Fields[name] = field.WithContainerElem(true, inner)
			case *element.MapType:
				inner := &element.Field{ParentID: field.ParentID, Name: field.Name, TypeRef: c.InnerType}
				obj.Fields[name] = field.WithContainerElem(false, inner)
			}
		}
	}
}
