// Package element implements the element model (C2): types, instances,
// fields, references, and static files, plus the source-range bookkeeping
// every element carries.
package element

import (
	"fmt"
	"sort"

	"github.com/salto-io/workspace-core/internal/elemid"
)

// PrimitiveKind enumerates the primitive type kinds from spec.md §3.
type PrimitiveKind int

const (
	KindString PrimitiveKind = iota
	KindNumber
	KindBoolean
	KindUnknown
)

func (k PrimitiveKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Position is a single point in source text: line/col are 1-based for
// display, byte is a 0-based absolute offset used for canonical ordering.
type Position struct {
	Line int
	Col  int
	Byte int
}

// SourceRange identifies a contiguous span of one source file.
type SourceRange struct {
	Filename string
	Start    Position
	End      Position
}

func (r SourceRange) String() string {
	return fmt.Sprintf("%s:%d:%d-%d:%d", r.Filename, r.Start.Line, r.Start.Col, r.End.Line, r.End.Col)
}

// SourceMap maps an element's full name to the ordered list of ranges it
// was fragmented across (spec.md §3). Ordering follows fragment
// discovery order, not byte order, so it is stable under incremental
// re-merge.
type SourceMap struct {
	ranges map[string][]SourceRange
}

// NewSourceMap returns an empty SourceMap.
func NewSourceMap() *SourceMap { return &SourceMap{ranges: map[string][]SourceRange{}} }

// Add appends r to the ranges recorded for fullName.
func (m *SourceMap) Add(fullName string, r SourceRange) {
	m.ranges[fullName] = append(m.ranges[fullName], r)
}

// Get returns the ranges recorded for fullName, or nil if none.
func (m *SourceMap) Get(fullName string) []SourceRange {
	return m.ranges[fullName]
}

// Merge folds other into m, appending its ranges after m's existing ones
// per key.
func (m *SourceMap) Merge(other *SourceMap) {
	for k, rs := range other.ranges {
		m.ranges[k] = append(m.ranges[k], rs...)
	}
}

// Remove drops all ranges recorded for fullName.
func (m *SourceMap) Remove(fullName string) { delete(m.ranges, fullName) }

// Keys returns the full names with at least one recorded range.
func (m *SourceMap) Keys() []string {
	keys := make([]string, 0, len(m.ranges))
	for k := range m.ranges {
		keys = append(keys, k)
	}
	return keys
}

// PathSegment is one element of the ordered path every element may carry
// (spec.md §3 "Every element carries an optional path"), used to
// re-derive which file/block the fragment belongs to.
type PathSegment struct {
	Filename string
	Index    int // position within the file's top-level statement list
}

// Element is the common interface satisfied by every top-level and
// nested element variant.
type Element interface {
	ID() elemid.ID
	Path() []PathSegment
	isElement()
}

// Annotations maps annotation name to its value.
type Annotations map[string]Value

// Clone returns a shallow copy of a (values are themselves immutable).
func (a Annotations) Clone() Annotations {
	cp := make(Annotations, len(a))
	for k, v := range a {
		cp[k] = v
	}
	return cp
}

// PrimitiveType is a built-in primitive type declaration (spec.md §3).
type PrimitiveType struct {
	IDField         elemid.ID
	Primitive       PrimitiveKind
	Annotations     Annotations
	AnnotationTypes map[string]elemid.ID
	PathField       []PathSegment
}

func (p *PrimitiveType) ID() elemid.ID        { return p.IDField }
func (p *PrimitiveType) Path() []PathSegment  { return p.PathField }
func (p *PrimitiveType) isElement()           {}

// Field is a named member of an ObjectType.
type Field struct {
	ParentID    elemid.ID // the owning ObjectType's ID
	Name        string
	TypeRef     elemid.ID // reference to the field's declared type
	Annotations Annotations
	PathField   []PathSegment

	// listElem/mapElem are populated when TypeRef resolves to a
	// container type, so Transform can descend with the right field
	// context without re-resolving types mid-walk.
	listElem *Field
	mapElem  *Field
}

func (f *Field) ID() elemid.ID       { return f.ParentID.CreateNestedID(f.Name) }
func (f *Field) Path() []PathSegment { return f.PathField }
func (f *Field) isElement()          {}

// WithContainerElem returns a copy of f annotated with the inner field
// used when its declared type is a list or map, for Transform's benefit.
func (f *Field) WithContainerElem(isList bool, inner *Field) *Field {
	cp := *f
	if isList {
		cp.listElem = inner
	} else {
		cp.mapElem = inner
	}
	return &cp
}

// ObjectType is a struct-like type: a set of uniquely named fields plus
// annotations (spec.md §3).
type ObjectType struct {
	IDField         elemid.ID
	Fields          map[string]*Field
	Annotations     Annotations
	AnnotationTypes map[string]elemid.ID
	IsSettings      bool
	PathField       []PathSegment
}

func (o *ObjectType) ID() elemid.ID       { return o.IDField }
func (o *ObjectType) Path() []PathSegment { return o.PathField }
func (o *ObjectType) isElement()          {}

// FieldNames returns o's field names in a stable sorted order (callers
// needing map iteration order for output should use this rather than
// ranging over Fields directly).
func (o *ObjectType) FieldNames() []string {
	names := make([]string, 0, len(o.Fields))
	for n := range o.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListType wraps an inner type reference as a homogeneous ordered
// container (spec.md §3).
type ListType struct {
	IDField   elemid.ID
	InnerType elemid.ID
	PathField []PathSegment
}

func (l *ListType) ID() elemid.ID       { return l.IDField }
func (l *ListType) Path() []PathSegment { return l.PathField }
func (l *ListType) isElement()          {}

// MapType wraps an inner type reference as a string-keyed container
// (spec.md §3).
type MapType struct {
	IDField   elemid.ID
	InnerType elemid.ID
	PathField []PathSegment
}

func (m *MapType) ID() elemid.ID       { return m.IDField }
func (m *MapType) Path() []PathSegment { return m.PathField }
func (m *MapType) isElement()          {}

// InstanceAnnotation enumerates the fixed set of annotations an
// InstanceElement may carry (spec.md §3, "a fixed set of instance
// annotations").
const (
	AnnotationHiddenValue = "_hidden_value"
	AnnotationDepends     = "_depends_on"
	AnnotationParent      = "_parent"
	AnnotationGenerated   = "_generated_dependencies"
)

var instanceAnnotations = map[string]bool{
	AnnotationHiddenValue: true,
	AnnotationDepends:     true,
	AnnotationParent:      true,
	AnnotationGenerated:   true,
}

// IsInstanceAnnotation reports whether name is one of the fixed instance
// annotation names.
func IsInstanceAnnotation(name string) bool { return instanceAnnotations[name] }

// InstanceElement is a named value of a declared type (spec.md §3).
type InstanceElement struct {
	IDField     elemid.ID
	TypeRef     elemid.ID
	Value       Value
	Annotations Annotations
	PathField   []PathSegment
}

func (e *InstanceElement) ID() elemid.ID       { return e.IDField }
func (e *InstanceElement) Path() []PathSegment { return e.PathField }
func (e *InstanceElement) isElement()          {}
