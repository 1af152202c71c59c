// Package elemid implements the structured identifier algebra (C1):
// names for elements, fields, attributes, annotations and nested paths.
package elemid

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
)

// IDType disambiguates what kind of thing an ElemID names.
type IDType int

const (
	// TypeID names a top-level type (primitive, object, list, map).
	TypeID IDType = iota
	// FieldID names a field of an ObjectType.
	FieldID
	// AttrID names a value path inside an InstanceElement.
	AttrID
	// AnnotationID names an annotation slot on a type or field.
	AnnotationID
	// InstanceID names a top-level instance.
	InstanceID
	// VarID names a workspace variable.
	VarID
)

func (t IDType) String() string {
	switch t {
	case TypeID:
		return "type"
	case FieldID:
		return "field"
	case AttrID:
		return "attr"
	case AnnotationID:
		return "annotation"
	case InstanceID:
		return "instance"
	case VarID:
		return "var"
	default:
		return fmt.Sprintf("idtype(%d)", int(t))
	}
}

// ID is the immutable identifier value described in spec.md §3. Two IDs are
// equal iff their GetFullName values are equal; construct with the
// functions below rather than a struct literal so interning stays correct.
type ID struct {
	adapter   string
	typeName  string
	idType    IDType
	nameParts []string
}

// New constructs a top-level ID for a type or instance of a given adapter.
// typeName is the bare type name (e.g. "Account"); nameParts is the
// remaining path below the type (empty for a type ID itself).
func New(adapter, typeName string, idType IDType, nameParts ...string) ID {
	parts := make([]string, len(nameParts))
	copy(parts, nameParts)
	return ID{adapter: adapter, typeName: typeName, idType: idType, nameParts: parts}
}

// Adapter returns the adapter (service) namespace of id, e.g. "salesforce".
func (id ID) Adapter() string { return id.adapter }

// TypeName returns the bare type name of id, e.g. "Account".
func (id ID) TypeName() string { return id.typeName }

// IDType returns the kind of id.
func (id ID) IDType() IDType { return id.idType }

// NameParts returns the path segments beneath the top-level type/instance.
// The returned slice must not be mutated by callers.
func (id ID) NameParts() []string { return id.nameParts }

// IsTopLevel reports whether id is a type or instance ID with no name
// parts at all, the form CreateTopLevelParentID returns. An instance ID
// that carries its instance name (New(a, t, InstanceID, name)) is not
// top-level by this test.
func (id ID) IsTopLevel() bool {
	return len(id.nameParts) == 0 && (id.idType == TypeID || id.idType == InstanceID)
}

// GetFullName renders id to its canonical stable string form:
//
//	adapter.typeName[.instanceName]...pathParts (idType == instance)
//	adapter.typeName...pathParts                (idType == type)
//	var.name                                    (idType == var)
//
// fromFullName(x.GetFullName()) must equal x for every x (round-trip
// invariant in spec.md §8).
func (id ID) GetFullName() string {
	if id.idType == VarID {
		return strings.Join(append([]string{"var", id.typeName}, id.nameParts...), ".")
	}
	head := id.adapter + "." + id.typeName
	if id.idType == InstanceID && len(id.nameParts) > 0 {
		head = head + "." + id.nameParts[0]
		rest := id.nameParts[1:]
		if len(rest) == 0 {
			return head
		}
		return head + "." + strings.Join(rest, ".")
	}
	if len(id.nameParts) == 0 {
		return head
	}
	return head + "." + strings.Join(id.nameParts, ".")
}

// String implements fmt.Stringer using GetFullName for diagnostics.
func (id ID) String() string { return id.GetFullName() }

// idShadow mirrors ID with exported fields, letting gob (used by the
// on-disk parse cache, internal/naclsource/cache.go) encode a value whose
// real fields are private to this package.
type idShadow struct {
	Adapter   string
	TypeName  string
	IDType    IDType
	NameParts []string
}

// GobEncode implements gob.GobEncoder.
func (id ID) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(idShadow{
		Adapter: id.adapter, TypeName: id.typeName, IDType: id.idType, NameParts: id.nameParts,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (id *ID) GobDecode(data []byte) error {
	var shadow idShadow
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&shadow); err != nil {
		return err
	}
	id.adapter, id.typeName, id.idType, id.nameParts = shadow.Adapter, shadow.TypeName, shadow.IDType, shadow.NameParts
	return nil
}

// IsEqual reports whether id and other name the same element.
func (id ID) IsEqual(other ID) bool { return id.GetFullName() == other.GetFullName() }

// CreateNestedID returns a new ID naming a path nested under id by the
// given parts. CreateNestedID is associative:
//
//	id.CreateNestedID(a).CreateNestedID(b) == id.CreateNestedID(a, b)
func (id ID) CreateNestedID(parts ...string) ID {
	next := make([]string, 0, len(id.nameParts)+len(parts))
	next = append(next, id.nameParts...)
	next = append(next, parts...)
	idType := id.idType
	if idType == TypeID && len(next) > 0 {
		idType = FieldID
	}
	return ID{adapter: id.adapter, typeName: id.typeName, idType: idType, nameParts: next}
}

// CreateParentID returns the ID one path segment up from id. Calling
// CreateParentID on a top-level ID returns id unchanged.
func (id ID) CreateParentID() ID {
	if len(id.nameParts) == 0 {
		return id
	}
	parent := ID{adapter: id.adapter, typeName: id.typeName, idType: id.idType, nameParts: id.nameParts[:len(id.nameParts)-1]}
	if len(parent.nameParts) == 0 {
		switch id.idType {
		case FieldID, AttrID, AnnotationID:
			parent.idType = TypeID
		}
	}
	return parent
}

// CreateTopLevelParentID returns the top-level ID (type or instance,
// stripped of all nested path) plus the path that was stripped. It is
// idempotent: calling it again on the returned top ID yields the same top
// ID and an empty path.
func (id ID) CreateTopLevelParentID() (ID, []string) {
	top := ID{adapter: id.adapter, typeName: id.typeName, idType: topIDType(id.idType)}
	path := make([]string, len(id.nameParts))
	copy(path, id.nameParts)
	return top, path
}

func topIDType(t IDType) IDType {
	switch t {
	case InstanceID, AttrID:
		return InstanceID
	default:
		return TypeID
	}
}

// IsParentOf reports whether id is a (possibly equal) ancestor path of
// other: either the same element, or other's full name extends id's full
// name by one or more dotted segments.
func (id ID) IsParentOf(other ID) bool {
	if id.adapter != other.adapter || id.typeName != other.typeName {
		return false
	}
	if len(id.nameParts) > len(other.nameParts) {
		return false
	}
	for i, p := range id.nameParts {
		if other.nameParts[i] != p {
			return false
		}
	}
	return true
}

// FromFullName parses a canonical full-name string back into an ID.
// fromFullName(x.GetFullName()) == x for every x produced by this package.
func FromFullName(full string) (ID, error) {
	parts := strings.Split(full, ".")
	if len(parts) == 0 || full == "" {
		return ID{}, fmt.Errorf("elemid: empty full name")
	}
	if parts[0] == "var" {
		if len(parts) < 2 {
			return ID{}, fmt.Errorf("elemid: malformed var id %q", full)
		}
		return ID{idType: VarID, typeName: parts[1], nameParts: append([]string{}, parts[2:]...)}, nil
	}
	if len(parts) < 2 {
		return ID{}, fmt.Errorf("elemid: malformed id %q, want adapter.typeName[...]", full)
	}
	adapter, typeName := parts[0], parts[1]
	rest := parts[2:]
	idType := TypeID
	if len(rest) > 0 {
		// Ambiguous between an instance name and a nested field path;
		// the caller-side grammar always knows which, but FromFullName
		// alone defaults to instance semantics for the first segment,
		// matching how getFullName renders instances (type.instanceName.path...).
		idType = InstanceID
	}
	nameParts := append([]string{}, rest...)
	return ID{adapter: adapter, typeName: typeName, idType: idType, nameParts: nameParts}, nil
}

// FromFullNameAsType parses full as a type-kind ID rather than the
// instance-kind default FromFullName assumes, for callers (the parser,
// the merger) that already know the element is a type/field, not an
// instance. fromFullName(x.GetFullName()) == x holds for this variant
// whenever x was itself constructed with a type-family IDType.
func FromFullNameAsType(full string) (ID, error) {
	id, err := FromFullName(full)
	if err != nil {
		return ID{}, err
	}
	if id.idType == VarID {
		return id, nil
	}
	if len(id.nameParts) == 0 {
		id.idType = TypeID
	} else {
		id.idType = FieldID
	}
	return id, nil
}
