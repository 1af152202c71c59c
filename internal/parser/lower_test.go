package parser

import (
	"testing"

	"github.com/salto-io/workspace-core/internal/element"
)

func TestLowerTypeBlockProducesObjectType(t *testing.T) {
	ff := ParseAndLower(`type salesforce.Account {
  string Name {
    label = "Account Name"
  }
  is_settings = false
}`, "a.nacl", "salto", false)
	if len(ff.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", ff.Errors)
	}
	if len(ff.Elements) != 1 {
		t.Fatalf("expected one element, got %d: %#v", len(ff.Elements), ff.Elements)
	}
	obj, ok := ff.Elements[0].(*element.ObjectType)
	if !ok {
		t.Fatalf("expected *element.ObjectType, got %T", ff.Elements[0])
	}
	if obj.IDField.Adapter() != "salesforce" || obj.IDField.TypeName() != "Account" {
		t.Errorf("unexpected type ID: %+v", obj.IDField)
	}
	field, ok := obj.Fields["Name"]
	if !ok {
		t.Fatalf("expected a Name field, got %v", obj.FieldNames())
	}
	if field.TypeRef.Adapter() != "salto" || field.TypeRef.TypeName() != "string" {
		t.Errorf("unexpected field type ref: %+v", field.TypeRef)
	}
	label, ok := field.Annotations["label"].AsPrimitive()
	if !ok || label != "Account Name" {
		t.Errorf("unexpected label annotation: %v, ok=%v", label, ok)
	}
}

func TestLowerListFieldSynthesizesContainer(t *testing.T) {
	ff := ParseAndLower(`type salesforce.Account {
  list string Tags {
  }
}`, "a.nacl", "salto", false)
	if len(ff.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", ff.Errors)
	}
	var list *element.ListType
	var obj *element.ObjectType
	for _, el := range ff.Elements {
		switch e := el.(type) {
		case *element.ListType:
			list = e
		case *element.ObjectType:
			obj = e
		}
	}
	if list == nil {
		t.Fatalf("expected a synthesized ListType element, got %#v", ff.Elements)
	}
	if list.InnerType.TypeName() != "string" {
		t.Errorf("unexpected list inner type: %+v", list.InnerType)
	}
	if obj == nil || !obj.Fields["Tags"].TypeRef.IsEqual(list.IDField) {
		t.Errorf("Tags field does not reference the synthesized container")
	}
}

func TestLowerInstanceBlockBuildsMapValue(t *testing.T) {
	ff := ParseAndLower(`salesforce.Account inst1 {
  Name = "Acme"
  _hidden_value = true
}`, "a.nacl", "salto", false)
	if len(ff.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", ff.Errors)
	}
	inst, ok := ff.Elements[0].(*element.InstanceElement)
	if !ok {
		t.Fatalf("expected *element.InstanceElement, got %T", ff.Elements[0])
	}
	m, ok := inst.Value.AsMap()
	if !ok {
		t.Fatalf("expected a map value")
	}
	name, ok := m["Name"].AsPrimitive()
	if !ok || name != "Acme" {
		t.Errorf("unexpected Name value: %v", name)
	}
	if _, present := m["_hidden_value"]; present {
		t.Errorf("_hidden_value should be routed to Annotations, not the value map")
	}
	hv, ok := inst.Annotations["_hidden_value"].AsPrimitive()
	if !ok || hv != true {
		t.Errorf("expected _hidden_value annotation, got %v", inst.Annotations)
	}
}

func TestLowerReferenceTemplateBecomesReference(t *testing.T) {
	ff := ParseAndLower(`salesforce.Account inst1 {
  Owner = "${salesforce.User.instance.admin}"
}`, "a.nacl", "salto", false)
	inst := ff.Elements[0].(*element.InstanceElement)
	m, _ := inst.Value.AsMap()
	owner := m["Owner"]
	if owner.Kind() != element.KindReference {
		t.Fatalf("expected a reference value, got kind %v", owner.Kind())
	}
	ref, _ := owner.AsReference()
	if ref.ElemID.GetFullName() != "salesforce.User.instance.admin" {
		t.Errorf("unexpected reference target: %s", ref.ElemID.GetFullName())
	}
	if len(ff.Referenced) != 1 {
		t.Errorf("expected the reference to be recorded, got %v", ff.Referenced)
	}
}

func TestLowerMixedTemplateCollapsesToLiteral(t *testing.T) {
	ff := ParseAndLower(`salesforce.Account inst1 {
  Greeting = "hello ${salesforce.User.instance.admin} !"
}`, "a.nacl", "salto", false)
	inst := ff.Elements[0].(*element.InstanceElement)
	m, _ := inst.Value.AsMap()
	greeting := m["Greeting"]
	if greeting.Kind() != element.KindPrimitive {
		t.Fatalf("expected a primitive value, got kind %v", greeting.Kind())
	}
	p, _ := greeting.AsPrimitive()
	if p != "hello salesforce.User.instance.admin !" {
		t.Errorf("unexpected collapsed literal: %q", p)
	}
}

func TestLowerFileCallProducesStaticFile(t *testing.T) {
	ff := ParseAndLower(`salesforce.Account inst1 {
  Logo = file("assets/logo.png")
}`, "a.nacl", "salto", false)
	inst := ff.Elements[0].(*element.InstanceElement)
	m, _ := inst.Value.AsMap()
	logo := m["Logo"]
	if logo.Kind() != element.KindStaticFile {
		t.Fatalf("expected a static file value, got kind %v", logo.Kind())
	}
	sf, _ := logo.AsStaticFile()
	if sf.Filepath != "assets/logo.png" {
		t.Errorf("unexpected static file path: %q", sf.Filepath)
	}
}

func TestLowerMapExpressionCanonicalizesRegardlessOfOrder(t *testing.T) {
	ffA := ParseAndLower(`var v { value = { a = 1, b = 2 } }`, "a.nacl", "salto", false)
	ffB := ParseAndLower(`var v { value = { b = 2, a = 1 } }`, "b.nacl", "salto", false)

	instA := ffA.Elements[0].(*element.InstanceElement)
	instB := ffB.Elements[0].(*element.InstanceElement)
	mapA, _ := instA.Value.AsMap()
	mapB, _ := instB.Value.AsMap()
	if len(mapA) != 2 || len(mapB) != 2 {
		t.Fatalf("expected two entries in each map")
	}
	av, _ := mapA["a"].AsPrimitive()
	bv, _ := mapB["a"].AsPrimitive()
	if av != bv {
		t.Errorf("expected canonicalized maps to agree regardless of declaration order")
	}
}

func TestLowerBareTopLevelAttributeIsVar(t *testing.T) {
	ff := ParseAndLower(`myvar = 42`, "a.nacl", "salto", false)
	inst, ok := ff.Elements[0].(*element.InstanceElement)
	if !ok {
		t.Fatalf("expected *element.InstanceElement, got %T", ff.Elements[0])
	}
	if inst.IDField.TypeName() != "myvar" {
		t.Errorf("unexpected var name: %+v", inst.IDField)
	}
	v, _ := inst.Value.AsPrimitive()
	if v != float64(42) {
		t.Errorf("unexpected var value: %v", v)
	}
}
