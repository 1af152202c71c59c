package multienv

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	"github.com/salto-io/workspace-core/internal/merger"
	"github.com/salto-io/workspace-core/internal/naclsource"
)

const commonType = `type x.Account {
  string name {}
}
`

const envOverride = `type x.Account {
  string name {}
  string region {}
}
`

func newMulti(t *testing.T) *MultiSource {
	t.Helper()
	common := naclsource.New("/ws/common", "x", naclsource.WithFS(afero.NewMemMapFs()))
	return New(common, func(env string) *naclsource.Source {
		return naclsource.New("/ws/"+env, "x", naclsource.WithFS(afero.NewMemMapFs()))
	})
}

func TestEffectiveFilesEnvOverridesCommonByName(t *testing.T) {
	m := newMulti(t)
	ctx := context.Background()
	if _, err := m.Common().SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(commonType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Env("prod").SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(envOverride)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	files, err := m.EffectiveFiles("prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0] != "account.nacl" {
		t.Fatalf("expected a single account.nacl entry, got %v", files)
	}
}

func TestFragmentsMergeCommonAndEnv(t *testing.T) {
	m := newMulti(t)
	ctx := context.Background()
	if _, err := m.Common().SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(commonType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Env("prod").SetNaclFiles(ctx, map[string][]byte{"secrets.nacl": []byte(`type x.Secret { string value {} }` + "\n")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sources, err := m.Fragments("prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fragments := ToMergeFragments(sources)
	res, err := merger.Merge(ctx, fragments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Merged["x.Account"]; !ok {
		t.Error("expected x.Account from common in the merged set")
	}
	if _, ok := res.Merged["x.Secret"]; !ok {
		t.Error("expected x.Secret from prod in the merged set")
	}
}

func TestFragmentsEnvFileShadowsCommonFile(t *testing.T) {
	m := newMulti(t)
	ctx := context.Background()
	if _, err := m.Common().SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(commonType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Env("prod").SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(envOverride)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sources, err := m.Fragments("prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected only the env's account.nacl to contribute, got %d sources", len(sources))
	}
	obj := sources[0].Fragments.Elements[0].(*element.ObjectType)
	if _, hasRegion := obj.Fields["region"]; !hasRegion {
		t.Error("expected the env override's region field to be the one in effect")
	}
}

func hiddenAnnotation() element.Annotations {
	return element.Annotations{element.AnnotationHiddenValue: element.Primitive(true)}
}

func instanceAt(name string, annotations element.Annotations) *element.InstanceElement {
	id := elemid.New("x", "Account", elemid.InstanceID, name)
	return &element.InstanceElement{
		IDField: id, TypeRef: elemid.New("x", "Account", elemid.TypeID),
		Value: element.Map(map[string]element.Value{"name": element.Primitive(name)}), Annotations: annotations,
	}
}

func TestHiddenOverlayAddsHiddenOnlyElement(t *testing.T) {
	visible := map[string]element.Element{}
	state := map[string]element.Element{
		"x.Account.secretOne": instanceAt("secretOne", hiddenAnnotation()),
	}
	out := HiddenOverlay(visible, state, true)
	if _, ok := out["x.Account.secretOne"]; !ok {
		t.Fatal("expected hidden-only state element to surface when includeHidden=true")
	}
}

func TestHiddenOverlayOmittedWhenNotIncludingHidden(t *testing.T) {
	state := map[string]element.Element{
		"x.Account.secretOne": instanceAt("secretOne", hiddenAnnotation()),
	}
	out := HiddenOverlay(map[string]element.Element{}, state, false)
	if _, ok := out["x.Account.secretOne"]; ok {
		t.Fatal("expected hidden state to stay hidden when includeHidden=false")
	}
}

func TestHiddenOverlayCopiesAnnotationsOntoVisibleElement(t *testing.T) {
	visible := map[string]element.Element{
		"x.Account.acme": instanceAt("acme", element.Annotations{}),
	}
	state := map[string]element.Element{
		"x.Account.acme": instanceAt("acme", hiddenAnnotation()),
	}
	out := HiddenOverlay(visible, state, true)
	merged := out["x.Account.acme"].(*element.InstanceElement)
	if _, ok := merged.Annotations[element.AnnotationHiddenValue]; !ok {
		t.Fatal("expected the visible element to receive the hidden annotation from state")
	}
}

func TestHandleHiddenChangesDropsHiddenOnlyChanges(t *testing.T) {
	hiddenID := elemid.New("x", "Account", elemid.InstanceID, "secretOne")
	visibleID := elemid.New("x", "Account", elemid.InstanceID, "acme")
	changes := []naclsource.Change{
		{ID: hiddenID, Kind: naclsource.ChangeAdded},
		{ID: visibleID, Kind: naclsource.ChangeModified},
	}
	state := map[string]element.Element{
		hiddenID.GetFullName(): instanceAt("secretOne", hiddenAnnotation()),
	}
	out := HandleHiddenChanges(changes, state)
	if len(out) != 1 || !out[0].ID.IsEqual(visibleID) {
		t.Fatalf("expected only the visible change to survive, got %v", out)
	}
}
