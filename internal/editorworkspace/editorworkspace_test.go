package editorworkspace

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/config"
	"github.com/salto-io/workspace-core/internal/workspace"
)

const accountType = `type salto.Account {
  string name {}
}
`

const requiredAccountType = `type salto.Account {
  string name {
    required = true
  }
}
`

func newTestEditor(t *testing.T) *EditorWorkspace {
	t.Helper()
	cfg := config.Config{Environments: []string{"default"}, CurrentEnv: "default"}
	w, err := workspace.New("/ws", cfg, 4, workspace.WithFS(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(w, "/ws/default", nil)
}

func TestSetNaclFilesPathTranslationAndAggregation(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{"/ws/default/account.nacl": []byte(accountType)})
	ew.Flush(ctx)

	els, err := ew.Elements(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := els["salto.Account"]; !ok {
		t.Fatalf("expected salto.Account in merged elements, got %v", els)
	}

	files, err := ew.ListNaclFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range files {
		if f == "/ws/default/account.nacl" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an absolutized file path, got %v", files)
	}
}

func TestRemoveNaclFilesDropsElement(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{"account.nacl": []byte(accountType)})
	ew.Flush(ctx)

	ew.RemoveNaclFiles("account.nacl")
	ew.Flush(ctx)

	els, err := ew.Elements(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := els["salto.Account"]; ok {
		t.Fatal("expected salto.Account to be gone after removal")
	}
}

func TestLastWriteWinsWithinOneBatch(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{
		"account.nacl": []byte(requiredAccountType),
		"acme.nacl":    []byte("salto.Account acme {\n  region = \"eu\"\n}\n"),
	})
	ew.SetNaclFiles(map[string][]byte{"account.nacl": []byte(accountType)})
	ew.Flush(ctx)

	errs, err := ew.Errors(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected the later account.nacl write (name not required) to win, got %v", errs)
	}
}

func TestErrorsValidateSurfacesMissingRequiredField(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{
		"account.nacl": []byte(requiredAccountType),
		"acme.nacl": []byte(`salto.Account acme {
}
`),
	})
	ew.Flush(ctx)

	errs, err := ew.Errors(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected a missing-required validation error")
	}
}

func TestErrorsValidateClearsResolvedErrorOnFollowupEdit(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{
		"account.nacl": []byte(requiredAccountType),
		"acme.nacl": []byte(`salto.Account acme {
}
`),
	})
	ew.Flush(ctx)
	if errs, err := ew.Errors(ctx, true); err != nil || len(errs) == 0 {
		t.Fatalf("expected a missing-required error first, got errs=%v err=%v", errs, err)
	}

	ew.SetNaclFiles(map[string][]byte{
		"acme.nacl": []byte(`salto.Account acme {
  name = "Acme"
}
`),
	})
	ew.Flush(ctx)

	errs, err := ew.Errors(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected the missing-required error to clear once the field is set, got %v", errs)
	}
}

func TestErrorsValidateFlagsReferenceToRemovedElement(t *testing.T) {
	ew := newTestEditor(t)
	ctx := context.Background()

	ew.SetNaclFiles(map[string][]byte{
		"account.nacl": []byte(accountType),
		"owner.nacl": []byte(`type salto.Owner {
  salto.Account account {}
}
`),
		"acme.nacl": []byte(`salto.Account acme {
  name = "Acme"
}
`),
		"jane.nacl": []byte(`salto.Owner jane {
  account = salto.Account.acme
}
`),
	})
	ew.Flush(ctx)
	if errs, err := ew.Errors(ctx, true); err != nil || len(errs) != 0 {
		t.Fatalf("expected no errors before the removal, got errs=%v err=%v", errs, err)
	}

	ew.RemoveNaclFiles("acme.nacl")
	ew.Flush(ctx)

	errs, err := ew.Errors(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected an unresolved-reference error once the referenced instance is removed")
	}
}
