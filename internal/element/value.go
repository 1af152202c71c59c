package element

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/salto-io/workspace-core/internal/elemid"
)

// Value is the recursive value union described in spec.md §3 and §9
// ("Recursive value type... do not lean on an untyped object"). Exactly
// one of the accessors below is meaningful for a given Value, selected by
// Kind.
type Value struct {
	kind ValueKind

	primitive any // string | float64 | bool
	list      []Value
	mapping   map[string]Value
	ref       *ReferenceExpression
	file      *StaticFile
}

// ValueKind tags which alternative a Value holds.
type ValueKind int

const (
	// KindPrimitive holds a string, float64 or bool.
	KindPrimitive ValueKind = iota
	// KindList holds an ordered []Value.
	KindList
	// KindMap holds a map[string]Value.
	KindMap
	// KindReference holds a *ReferenceExpression.
	KindReference
	// KindStaticFile holds a *StaticFile.
	KindStaticFile
)

// ReferenceExpression is an ElemID plus an optional cached resolved
// value. Per spec.md §9, resolvers must treat the cache as a hint, never
// as authoritative.
type ReferenceExpression struct {
	ElemID elemid.ID
	cached *Value
}

// CachedValue returns the resolver hint, if any, and whether one is set.
func (r *ReferenceExpression) CachedValue() (Value, bool) {
	if r.cached == nil {
		return Value{}, false
	}
	return *r.cached, true
}

// SetCache stores v as the resolver hint for r.
func (r *ReferenceExpression) SetCache(v Value) { r.cached = &v }

// StaticFile is a reference to file content by path, identified by its
// content hash; per spec.md §3 identical hash implies identical logical
// value regardless of path.
type StaticFile struct {
	Filepath string
	Hash     string // content hash, e.g. hex sha256
	Encoding string // "utf8" or "base64"; empty means "utf8"
}

// Primitive builds a primitive Value.
func Primitive(v any) Value { return Value{kind: KindPrimitive, primitive: v} }

// List builds a list Value.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map builds a mapping Value.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, mapping: cp}
}

// Reference builds a reference Value.
func Reference(id elemid.ID) Value {
	return Value{kind: KindReference, ref: &ReferenceExpression{ElemID: id}}
}

// File builds a static-file Value.
func File(f StaticFile) Value { return Value{kind: KindStaticFile, file: &f} }

// Kind returns the alternative held by v.
func (v Value) Kind() ValueKind { return v.kind }

// AsPrimitive returns v's primitive payload; ok is false if v is not a
// primitive.
func (v Value) AsPrimitive() (any, bool) {
	if v.kind != KindPrimitive {
		return nil, false
	}
	return v.primitive, true
}

// AsList returns v's list payload; ok is false if v is not a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns v's mapping payload; ok is false if v is not a map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.mapping, true
}

// AsReference returns v's reference payload; ok is false if v is not a
// reference.
func (v Value) AsReference() (*ReferenceExpression, bool) {
	if v.kind != KindReference {
		return nil, false
	}
	return v.ref, true
}

// AsStaticFile returns v's static-file payload; ok is false if v is not
// one.
func (v Value) AsStaticFile() (*StaticFile, bool) {
	if v.kind != KindStaticFile {
		return nil, false
	}
	return v.file, true
}

func (v Value) String() string {
	switch v.kind {
	case KindPrimitive:
		return fmt.Sprintf("%v", v.primitive)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.mapping)
	case KindReference:
		return "$" + v.ref.ElemID.GetFullName()
	case KindStaticFile:
		return "file:" + v.file.Filepath
	default:
		return "<invalid value>"
	}
}

func init() {
	// Value.primitive is stored as an interface{}; gob needs every
	// concrete type that can appear there registered up front so it can
	// round-trip through the on-disk parse cache.
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(false)
}

// valueShadow mirrors Value with exported fields, letting gob (the
// on-disk parse cache, internal/naclsource/cache.go) encode a value whose
// real fields are private to this package.
type valueShadow struct {
	Kind      ValueKind
	Primitive any
	List      []Value
	Mapping   map[string]Value
	Ref       *ReferenceExpression
	File      *StaticFile
}

// GobEncode implements gob.GobEncoder.
func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(valueShadow{
		Kind: v.kind, Primitive: v.primitive, List: v.list, Mapping: v.mapping, Ref: v.ref, File: v.file,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(data []byte) error {
	var shadow valueShadow
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&shadow); err != nil {
		return err
	}
	v.kind, v.primitive, v.list, v.mapping, v.ref, v.file =
		shadow.Kind, shadow.Primitive, shadow.List, shadow.Mapping, shadow.Ref, shadow.File
	return nil
}

// TransformFunc is the walker callback from spec.md §9: it is given the
// value at a path together with the field it belongs to (may be nil for
// list elements / map entries) and returns a replacement value, or ok =
// false to drop the entry.
type TransformFunc func(v Value, path []string, field *Field) (Value, bool)

// Transform walks v depth-first, applying fn to every node including v
// itself, honoring the three invariants from spec.md §9:
//
//   - reference expressions are passed to fn but never descended into;
//   - list element types are preserved as the walker descends;
//   - if fn drops every entry of a container, the container itself is
//     dropped from its parent (empty containers vanish rather than
//     surviving as {} or []).
func Transform(v Value, field *Field, fn TransformFunc) (Value, bool) {
	return transform(v, nil, field, fn)
}

func transform(v Value, path []string, field *Field, fn TransformFunc) (Value, bool) {
	switch v.kind {
	case KindReference:
		return fn(v, path, field)
	case KindList:
		var inner *Field
		if field != nil {
			inner = field.listElem
		}
		out := make([]Value, 0, len(v.list))
		for i, item := range v.list {
			childPath := append(append([]string{}, path...), fmt.Sprintf("%d", i))
			tv, ok := transform(item, childPath, inner, fn)
			if !ok {
				continue
			}
			out = append(out, tv)
		}
		if len(out) == 0 && len(v.list) > 0 {
			return Value{}, false
		}
		nv := Value{kind: KindList, list: out}
		return fn(nv, path, field)
	case KindMap:
		out := make(map[string]Value, len(v.mapping))
		for k, item := range v.mapping {
			childPath := append(append([]string{}, path...), k)
			var childField *Field
			if field != nil {
				childField = field.mapElem
			}
			tv, ok := transform(item, childPath, childField, fn)
			if !ok {
				continue
			}
			out[k] = tv
		}
		if len(out) == 0 && len(v.mapping) > 0 {
			return Value{}, false
		}
		nv := Value{kind: KindMap, mapping: out}
		return fn(nv, path, field)
	default:
		return fn(v, path, field)
	}
}

// IsEmptyContainer reports whether v is a list or map with zero entries,
// the condition under which Transform's callers should drop it from
// their parent rather than keeping an empty {} or [].
func IsEmptyContainer(v Value) bool {
	switch v.kind {
	case KindList:
		return len(v.list) == 0
	case KindMap:
		return len(v.mapping) == 0
	default:
		return false
	}
}
