// Package workspaceutil collapses a one-shot "load every NaCl file under
// a directory, merge them, and return the combined element map" helper
// for callers that don't need a full multi-environment workspace.Workspace
// (a one-off CLI invocation, a script, a test fixture). The teacher
// carries three near-identical copies of this shape — util/build_yang.go,
// pkg/util/build_yang.go and pkg/yangentry/build_yang.go, all of them
// "read every file, run the parser, process, return entries by name" —
// collapsed here into the one helper this project needs, generalized
// from YANG's module/path resolution to NaCl's parse-then-merge
// pipeline.
package workspaceutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/element"
	"github.com/salto-io/workspace-core/internal/merger"
	"github.com/salto-io/workspace-core/internal/naclsource"
)

// Result is LoadWorkspace's return value: the merged element map plus
// every parse and merge error encountered along the way.
type Result struct {
	Elements map[string]element.Element
	Errors   []error
}

// LoadWorkspace reads every "*.nacl" file under dir (via fs, or the OS
// filesystem if fs is nil), parses and merges them, and returns the
// combined element map plus any parse/merge errors. defaultAdapter names
// the adapter bare (unqualified) type/instance names resolve against.
func LoadWorkspace(ctx context.Context, fs afero.Fs, dir, defaultAdapter string) (*Result, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	names, err := findNaclFiles(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("workspaceutil: scanning %s: %w", dir, err)
	}

	files := make(map[string][]byte, len(names))
	for _, name := range names {
		content, err := afero.ReadFile(fs, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("workspaceutil: reading %s: %w", name, err)
		}
		files[name] = content
	}

	src := naclsource.New(dir, defaultAdapter, naclsource.WithFS(fs))
	if _, err := src.SetNaclFiles(ctx, files); err != nil {
		return nil, err
	}

	var fragments []merger.Fragment
	var errs []error
	for _, name := range names {
		ff, ok := src.GetParsedNaclFile(name)
		if !ok {
			continue
		}
		for _, e := range ff.Errors {
			errs = append(errs, e)
		}
		for _, el := range ff.Elements {
			fragments = append(fragments, merger.Fragment{Element: el, Filename: name})
		}
	}

	res, err := merger.Merge(ctx, fragments)
	if err != nil {
		return nil, err
	}
	for _, e := range res.Errors {
		errs = append(errs, e)
	}
	return &Result{Elements: res.Merged, Errors: errs}, nil
}

// findNaclFiles walks dir for "*.nacl" files, returning paths relative to
// dir in a stable order.
func findNaclFiles(fs afero.Fs, dir string) ([]string, error) {
	var names []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".nacl") {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
