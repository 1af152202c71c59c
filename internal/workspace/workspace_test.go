package workspace

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/config"
	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
)

const accountType = `type salto.Account {
  string name {}
}
`

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	cfg := config.Config{Environments: []string{"default", "prod"}, CurrentEnv: "default"}
	w, err := New("/ws", cfg, 4, WithFS(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return w
}

func TestElementsReflectsSetNaclFiles(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	els, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := els["salto.Account"]; !ok {
		t.Fatalf("expected salto.Account in merged elements, got %v", els)
	}
}

func TestRemoveNaclFilesDropsElement(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Elements(ctx, ElementsOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.RemoveNaclFiles(ctx, "account.nacl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	els, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := els["salto.Account"]; ok {
		t.Fatal("expected salto.Account to be gone after removing its only file")
	}
}

func TestIncrementalInvalidationLeavesUnrelatedElementsInPlace(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{
		"account.nacl": []byte(accountType),
		"contact.nacl": []byte(`type salto.Contact { string email {} }` + "\n"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contactBefore := before["salto.Contact"].(*element.ObjectType)

	if _, err := w.SetNaclFiles(ctx, map[string][]byte{
		"account.nacl": []byte(`type salto.Account { string name {} string region {} }` + "\n"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contactAfter := after["salto.Contact"].(*element.ObjectType)
	if contactAfter != contactBefore {
		t.Error("expected salto.Contact's merged element to be untouched by an unrelated file edit")
	}
}

func TestUpdateNaclFilesRouteDefaultWritesCommonFileToCommon(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.sources.Common().SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed := `type salto.Account { string name {} string region {} }` + "\n"
	if _, err := w.UpdateNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(changed)}, RouteDefault); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := w.sources.Common().GetParsedNaclFile("account.nacl"); !ok {
		t.Fatal("expected RouteDefault to keep writing to common when the file already lived there")
	}
}

func TestUpdateNaclFilesRouteOverrideDropsCommonCopy(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.sources.Common().SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed := `type salto.Account { string name {} string region {} }` + "\n"
	if _, err := w.UpdateNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(changed)}, RouteOverride); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := w.sources.Common().GetParsedNaclFile("account.nacl"); ok {
		t.Fatal("expected RouteOverride to drop the conflicting common copy")
	}
	if _, ok := w.sources.Env("default").GetParsedNaclFile("account.nacl"); !ok {
		t.Fatal("expected RouteOverride to write to the current environment")
	}
}

func TestPromoteMovesFileFromEnvToCommon(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Promote(ctx, "account.nacl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := w.sources.Env("default").GetParsedNaclFile("account.nacl"); ok {
		t.Error("expected account.nacl to be removed from the env source after promote")
	}
	if _, ok := w.sources.Common().GetParsedNaclFile("account.nacl"); !ok {
		t.Error("expected account.nacl to land in common after promote")
	}
}

func TestDemoteAllMovesEveryCommonFileToCurrentEnv(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.sources.Common().SetNaclFiles(ctx, map[string][]byte{
		"a.nacl": []byte(accountType),
		"b.nacl": []byte(`type salto.Contact { string email {} }` + "\n"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.DemoteAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.sources.Common().IsEmpty() {
		t.Error("expected common to be empty after demoteAll")
	}
	files, err := w.sources.Env("default").ListNaclFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected both files demoted into default, got %v", files)
	}
}

func TestCopyToDoesNotRemoveFromSource(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.CopyTo(ctx, "account.nacl", "prod"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := w.sources.Env("default").GetParsedNaclFile("account.nacl"); !ok {
		t.Error("expected copyTo to leave the source file intact")
	}
	if _, ok := w.sources.Env("prod").GetParsedNaclFile("account.nacl"); !ok {
		t.Error("expected copyTo to write the file into the target environment")
	}
}

func TestDeleteCurrentEnvironmentIsRejected(t *testing.T) {
	w := newTestWorkspace(t)
	err := w.DeleteEnvironment("default")
	if err == nil {
		t.Fatal("expected an error deleting the current environment")
	}
	we, ok := err.(*werrors.WorkspaceError)
	if !ok || we.Kind != werrors.WorkspaceDeleteCurrentEnv {
		t.Fatalf("expected WorkspaceDeleteCurrentEnv, got %v", err)
	}
}

func TestSetCurrentEnvRejectsUnknownEnv(t *testing.T) {
	w := newTestWorkspace(t)
	err := w.SetCurrentEnv("nonexistent")
	if err == nil {
		t.Fatal("expected an error switching to an unknown environment")
	}
	we, ok := err.(*werrors.WorkspaceError)
	if !ok || we.Kind != werrors.WorkspaceUnknownEnv {
		t.Fatalf("expected WorkspaceUnknownEnv, got %v", err)
	}
}

func TestAddAndDeleteEnvironmentLifecycle(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.AddEnvironment("staging"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.SetCurrentEnv("staging"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.SetCurrentEnv("default"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.DeleteEnvironment("staging"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.SetCurrentEnv("staging"); err == nil {
		t.Fatal("expected staging to be gone after deletion")
	}
}

func TestGetElementAndGetValue(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	instance := `salto.Account acme {
  name = "Acme Corp"
}
`
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{
		"account.nacl":  []byte(accountType),
		"instance.nacl": []byte(instance),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := elemid.New("salto", "Account", elemid.InstanceID, "acme")
	el, ok, err := w.GetElement(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || el == nil {
		t.Fatal("expected to find the acme instance")
	}
	val, ok, err := w.GetValue(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a value for the acme instance")
	}
	m, ok := val.AsMap()
	if !ok {
		t.Fatal("expected the instance value to be a map")
	}
	name, _ := m["name"].AsPrimitive()
	if name != "Acme Corp" {
		t.Errorf("expected name Acme Corp, got %v", name)
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone := w.Clone()
	if _, err := clone.RemoveNaclFiles(ctx, "account.nacl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	origEls, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := origEls["salto.Account"]; !ok {
		t.Fatal("expected the original workspace to be unaffected by the clone's mutation")
	}
}

func TestCloneSharesStateStoreWithOriginal(t *testing.T) {
	w := newTestWorkspace(t)
	clone := w.Clone()

	w.State().SetElements("default", map[string]element.Element{"salto.Account": nil})

	if _, ok := clone.State().GetRecord("default"); !ok {
		t.Fatal("expected the clone to observe a state record set through the original")
	}
	if clone.State() != w.State() {
		t.Fatal("expected Clone to share the original's state store by reference")
	}
}

func TestClearEmptiesEveryEnvironment(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := w.SetNaclFiles(ctx, map[string][]byte{"account.nacl": []byte(accountType)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Clear()
	els, err := w.Elements(ctx, ElementsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(els) != 0 {
		t.Fatalf("expected no elements after Clear, got %v", els)
	}
}

func TestGetStateRecencyNonexistentByDefault(t *testing.T) {
	w := newTestWorkspace(t)
	if r := w.GetStateRecency(""); r.String() != "nonexistent" {
		t.Errorf("expected nonexistent recency with no loaded state, got %s", r)
	}
}
