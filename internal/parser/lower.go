package parser

// This file lowers a parsed Block/Expr tree into the element model
// (spec.md §4.1 "Lowering"). The first label of a top-level block
// disambiguates type vs instance vs variable block:
//
//   type adapter.TypeName { ... }   -> ObjectType + nested Fields
//   var name { ... }                -> a var-kind element
//   adapter.TypeName instName { }   -> InstanceElement
//
// Field blocks inside a "type" block name their declared type as the
// block keyword (a primitive name, a custom type name, or "list"/"map"
// followed by the inner type name and then the field name), matching
// spec.md §3's container-type design.

import (
	"fmt"
	"strings"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
)

var builtinPrimitives = map[string]element.PrimitiveKind{
	"string":  element.KindString,
	"number":  element.KindNumber,
	"boolean": element.KindBoolean,
	"unknown": element.KindUnknown,
}

const builtinAdapter = "salto"

// FileFragments is C3's output for one file: the element fragments it
// contributes, the source ranges they came from, any parse/lowering
// errors, and the set of ElemIDs it referenced (for C6's reverse index).
type FileFragments struct {
	Elements   []element.Element
	SourceMap  *element.SourceMap
	Errors     []*werrors.ParseError
	Referenced map[string]elemid.ID
}

// ParseAndLower runs Parse then lowers the result into elements, which is
// the operation C6 calls per-file.
func ParseAndLower(input, filename, defaultAdapter string, errorRecovery bool) *FileFragments {
	items, perrs := Parse(input, filename, errorRecovery)
	ff := lowerItems(items, filename, defaultAdapter)
	ff.Errors = append(perrs, ff.Errors...)
	return ff
}

func lowerItems(items []*BlockItem, filename, defaultAdapter string) *FileFragments {
	ff := &FileFragments{SourceMap: element.NewSourceMap(), Referenced: map[string]elemid.ID{}}
	for _, item := range items {
		if !item.IsBlock {
			// A bare top-level attribute is treated as a variable
			// definition (real NaCl files also use `vars { ... }`
			// blocks, but a bare top-level key=value is accepted as
			// shorthand for a single var).
			v, refs := lowerExpr(item.Value, ff)
			id := elemid.New("", item.Key, elemid.VarID)
			ff.Elements = append(ff.Elements, &element.InstanceElement{IDField: id, Value: v})
			ff.SourceMap.Add(id.GetFullName(), toRange(item.Range))
			addRefs(ff, refs)
			continue
		}
		lowerBlock(item.Block, filename, defaultAdapter, ff)
	}
	return ff
}

func addRefs(ff *FileFragments, refs []elemid.ID) {
	for _, r := range refs {
		ff.Referenced[r.GetFullName()] = r
	}
}

func toRange(r element.SourceRange) element.SourceRange { return r }

func lowerBlock(b *Block, filename, defaultAdapter string, ff *FileFragments) {
	switch {
	case b.Keyword == "type":
		lowerTypeBlock(b, defaultAdapter, ff)
	case b.Keyword == "var":
		lowerVarBlock(b, ff)
	default:
		lowerInstanceBlock(b, defaultAdapter, ff)
	}
}

func splitAdapterType(name, defaultAdapter string) (adapter, typeName string) {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return defaultAdapter, name
}

func resolveTypeName(name, defaultAdapter string) elemid.ID {
	if _, ok := builtinPrimitives[name]; ok {
		return elemid.New(builtinAdapter, name, elemid.TypeID)
	}
	adapter, typeName := splitAdapterType(name, defaultAdapter)
	return elemid.New(adapter, typeName, elemid.TypeID)
}

func lowerTypeBlock(b *Block, defaultAdapter string, ff *FileFragments) {
	if len(b.Labels) == 0 {
		ff.Errors = append(ff.Errors, werrors.NewParseError(
			werrors.ParseSyntaxError, "type block missing a name", b.Range, b.Range))
		return
	}
	adapter, typeName := splitAdapterType(b.Labels[0], defaultAdapter)
	id := elemid.New(adapter, typeName, elemid.TypeID)
	obj := &element.ObjectType{
		IDField:     id,
		Fields:      map[string]*element.Field{},
		Annotations: element.Annotations{},
	}
	for _, item := range b.Items {
		if !item.IsBlock {
			v, refs := lowerExpr(item.Value, ff)
			addRefs(ff, refs)
			if item.Key == "is_settings" {
				if bv, ok := v.AsPrimitive(); ok {
					if bb, isBool := bv.(bool); isBool {
						obj.IsSettings = bb
						continue
					}
				}
			}
			obj.Annotations[item.Key] = v
			continue
		}
		lowerFieldBlock(item.Block, id, adapter, ff, obj)
	}
	ff.Elements = append(ff.Elements, obj)
	ff.SourceMap.Add(id.GetFullName(), toRange(b.Range))
}

func lowerFieldBlock(b *Block, parentID elemid.ID, defaultAdapter string, ff *FileFragments, obj *element.ObjectType) {
	var fieldName string
	var typeRef elemid.ID

	switch b.Keyword {
	case "list", "map":
		if len(b.Labels) != 2 {
			ff.Errors = append(ff.Errors, werrors.NewParseError(
				werrors.ParseSyntaxError,
				fmt.Sprintf("%s field requires an inner type and a field name", b.Keyword), b.Range, b.Range))
			return
		}
		inner := resolveTypeName(b.Labels[0], defaultAdapter)
		fieldName = b.Labels[1]
		// Containers are synthesized as their own top-level element
		// (spec.md §3 "wrap an inner type reference"), named after the
		// field that introduces them.
		containerID := elemid.New(parentID.Adapter(), parentID.TypeName()+"."+fieldName, elemid.TypeID)
		if b.Keyword == "list" {
			ff.Elements = append(ff.Elements, &element.ListType{IDField: containerID, InnerType: inner, PathField: nil})
		} else {
			ff.Elements = append(ff.Elements, &element.MapType{IDField: containerID, InnerType: inner, PathField: nil})
		}
		typeRef = containerID
	default:
		if len(b.Labels) != 1 {
			ff.Errors = append(ff.Errors, werrors.NewParseError(
				werrors.ParseSyntaxError, "field block requires exactly one label (the field name)", b.Range, b.Range))
			return
		}
		fieldName = b.Labels[0]
		typeRef = resolveTypeName(b.Keyword, defaultAdapter)
	}

	field := &element.Field{
		ParentID:    parentID,
		Name:        fieldName,
		TypeRef:     typeRef,
		Annotations: element.Annotations{},
	}
	for _, sub := range b.Items {
		if sub.IsBlock {
			ff.Errors = append(ff.Errors, werrors.NewParseError(
				werrors.ParseSyntaxError, "nested blocks are not permitted inside a field", sub.Range, sub.Range))
			continue
		}
		v, refs := lowerExpr(sub.Value, ff)
		addRefs(ff, refs)
		field.Annotations[sub.Key] = v
	}
	if _, dup := obj.Fields[fieldName]; dup {
		ff.Errors = append(ff.Errors, werrors.NewParseError(
			werrors.ParseAttributeRedefined,
			fmt.Sprintf("Attribute redefined: %s", fieldName), b.Range, b.Range))
	}
	obj.Fields[fieldName] = field
	ff.SourceMap.Add(parentID.CreateNestedID(fieldName).GetFullName(), toRange(b.Range))
}

func lowerVarBlock(b *Block, ff *FileFragments) {
	if len(b.Labels) == 0 {
		ff.Errors = append(ff.Errors, werrors.NewParseError(
			werrors.ParseSyntaxError, "var block missing a name", b.Range, b.Range))
		return
	}
	id := elemid.New("", b.Labels[0], elemid.VarID)
	var value element.Value
	if len(b.Items) == 1 && !b.Items[0].IsBlock && b.Items[0].Key == "value" {
		v, refs := lowerExpr(b.Items[0].Value, ff)
		addRefs(ff, refs)
		value = v
	} else {
		m := map[string]element.Value{}
		for _, item := range b.Items {
			if item.IsBlock {
				continue
			}
			v, refs := lowerExpr(item.Value, ff)
			addRefs(ff, refs)
			m[item.Key] = v
		}
		value = element.Map(m)
	}
	ff.Elements = append(ff.Elements, &element.InstanceElement{IDField: id, Value: value})
	ff.SourceMap.Add(id.GetFullName(), toRange(b.Range))
}

func lowerInstanceBlock(b *Block, defaultAdapter string, ff *FileFragments) {
	if len(b.Labels) == 0 {
		ff.Errors = append(ff.Errors, werrors.NewParseError(
			werrors.ParseSyntaxError, "instance block missing a name", b.Range, b.Range))
		return
	}
	adapter, typeName := splitAdapterType(b.Keyword, defaultAdapter)
	instName := b.Labels[0]
	id := elemid.New(adapter, typeName, elemid.InstanceID, instName)
	typeRef := elemid.New(adapter, typeName, elemid.TypeID)

	inst := &element.InstanceElement{IDField: id, TypeRef: typeRef, Annotations: element.Annotations{}}
	m := map[string]element.Value{}
	for _, item := range b.Items {
		if item.IsBlock {
			v := lowerNestedInstanceBlock(item.Block, ff)
			m[item.Block.Keyword] = v
			continue
		}
		v, refs := lowerExpr(item.Value, ff)
		addRefs(ff, refs)
		if element.IsInstanceAnnotation(item.Key) {
			inst.Annotations[item.Key] = v
		} else {
			m[item.Key] = v
		}
	}
	inst.Value = element.Map(m)
	ff.Elements = append(ff.Elements, inst)
	ff.SourceMap.Add(id.GetFullName(), toRange(b.Range))
}

// lowerNestedInstanceBlock lowers a block nested inside an instance
// block's body into a map value keyed by its own attributes (nested
// blocks inside an instance are structural sugar for a nested object
// value, unlike nested blocks inside a "type" block which declare
// fields).
func lowerNestedInstanceBlock(b *Block, ff *FileFragments) element.Value {
	m := map[string]element.Value{}
	for _, item := range b.Items {
		if item.IsBlock {
			m[item.Block.Keyword] = lowerNestedInstanceBlock(item.Block, ff)
			continue
		}
		v, refs := lowerExpr(item.Value, ff)
		addRefs(ff, refs)
		m[item.Key] = v
	}
	return element.Map(m)
}

// lowerExpr converts a parsed Expr into an element.Value, returning the
// ElemIDs it referenced along the way.
func lowerExpr(e *Expr, ff *FileFragments) (element.Value, []elemid.ID) {
	if e == nil {
		return element.Value{}, nil
	}
	switch e.Kind {
	case ExprPrimitive:
		return element.Primitive(e.Primitive), nil
	case ExprList:
		var refs []elemid.ID
		items := make([]element.Value, 0, len(e.Items))
		for _, it := range e.Items {
			v, r := lowerExpr(it, ff)
			items = append(items, v)
			refs = append(refs, r...)
		}
		return element.List(items...), refs
	case ExprObject:
		var refs []elemid.ID
		// DESIGN.md Open Question resolution: a map expression's
		// identity never depends on FieldOrder; building straight into
		// a Go map here canonicalizes it regardless of how the
		// fragment declared its keys.
		m := map[string]element.Value{}
		for _, k := range e.FieldOrder {
			v, r := lowerExpr(e.Fields[k], ff)
			m[k] = v
			refs = append(refs, r...)
		}
		return element.Map(m), refs
	case ExprReference:
		id, err := elemid.FromFullName(e.Ref)
		if err != nil {
			return element.Primitive(e.Ref), nil
		}
		return element.Reference(id), []elemid.ID{id}
	case ExprTemplate:
		return lowerTemplate(e), lowerTemplateRefs(e)
	case ExprCall:
		return lowerCall(e, ff)
	case ExprDynamic:
		// Only reachable in error-recovery mode (spec.md §9); represented
		// as an explicit nil primitive sentinel rather than a new Value
		// kind, since "dynamic" carries no data of its own.
		return element.Primitive(nil), nil
	default:
		return element.Value{}, nil
	}
}

// lowerTemplate resolves a quoted-string template to a Value. A template
// consisting of exactly one reference fragment and no literal text
// becomes a genuine reference Value (the common `field = "${other.f}"`
// idiom). Anything with mixed literal and reference fragments collapses
// to a literal string with referenced paths substituted by their full
// name; Value's union (spec.md §3) has no "template" variant, and
// resolving the mix live would require carrying a second cached-value
// slot per fragment that nothing else in the model needs.
func lowerTemplate(e *Expr) element.Value {
	if len(e.Template) == 1 && e.Template[0].RefPath != "" {
		if id, err := elemid.FromFullName(e.Template[0].RefPath); err == nil {
			return element.Reference(id)
		}
	}
	var sb strings.Builder
	for _, part := range e.Template {
		if part.RefPath != "" {
			sb.WriteString(part.RefPath)
			continue
		}
		sb.WriteString(part.Literal)
	}
	return element.Primitive(sb.String())
}

func lowerTemplateRefs(e *Expr) []elemid.ID {
	var refs []elemid.ID
	for _, part := range e.Template {
		if part.RefPath == "" {
			continue
		}
		if id, err := elemid.FromFullName(part.RefPath); err == nil {
			refs = append(refs, id)
		}
	}
	return refs
}

// lowerCall handles the one builtin function NaCl source files can use to
// produce a StaticFile value: file("relative/path"). Any other call is
// passed through as a literal so a single unknown adapter function never
// aborts parsing of an otherwise-valid file.
func lowerCall(e *Expr, ff *FileFragments) (element.Value, []elemid.ID) {
	if e.Call == "file" && len(e.Args) == 1 && e.Args[0].Kind == ExprPrimitive {
		if path, ok := e.Args[0].Primitive.(string); ok {
			return element.File(element.StaticFile{Filepath: path}), nil
		}
	}
	return element.Primitive(fmt.Sprintf("%s(...)", e.Call)), nil
}
