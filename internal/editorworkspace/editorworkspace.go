// Package editorworkspace implements C9: a thin layer over a workspace
// that batches an editor's rapid-fire file edits into single aggregated
// operations, serializes every workspace access behind one lock, and
// publishes debounced diagnostics once the edit storm settles down
// (spec.md §4.7). The teacher has no editor-facing layer of its own; the
// single-writer discipline here is grounded on pkg/yang/file.go's
// single-writer file-cache pattern, generalized from "one file at a
// time" to "one aggregated batch, and one workspace operation, at a
// time."
package editorworkspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	debounce "github.com/romdo/go-debounce"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
	"github.com/salto-io/workspace-core/internal/naclsource"
	"github.com/salto-io/workspace-core/internal/validator"
	"github.com/salto-io/workspace-core/internal/workspace"
)

// DiagnosticsListener is invoked once a debounced batch of edits settles,
// with a run ID tagging the batch (spec.md §4.7 "createReportErrorsEventListener")
// and the combined parse/merge/validation diagnostics for the current
// environment.
type DiagnosticsListener func(runID string, diagnostics []error)

// EditorWorkspace wraps a *workspace.Workspace with the batching and
// serialization behavior an interactive editor session needs (spec.md
// §4.7).
type EditorWorkspace struct {
	baseDir string
	ws      *workspace.Workspace

	// opMu serializes every operation against the wrapped workspace —
	// aggregated flushes and direct reads/writes alike — so
	// operation[n+1] always observes operation[n]'s effects (spec.md §5
	// "Ordering guarantees").
	opMu sync.Mutex

	pendingMu      sync.Mutex
	pendingSets    map[string][]byte
	pendingDeletes map[string]bool
	dirty          bool

	runMu   sync.Mutex
	running bool

	validMu        sync.Mutex
	validationErrs map[string][]*werrors.ValidationError
	pendingRemoved []map[string]bool

	onDiagnostics DiagnosticsListener
	scheduleFlush func(func())
}

// New builds an EditorWorkspace over ws, translating editor paths
// relative to baseDir. onDiagnostics, if non-nil, is called after each
// debounced idle period with that batch's run ID and diagnostics.
func New(ws *workspace.Workspace, baseDir string, onDiagnostics DiagnosticsListener) *EditorWorkspace {
	ew := &EditorWorkspace{
		baseDir:        baseDir,
		ws:             ws,
		pendingSets:    map[string][]byte{},
		pendingDeletes: map[string]bool{},
		validationErrs: map[string][]*werrors.ValidationError{},
		onDiagnostics:  onDiagnostics,
	}
	debounced, _ := debounce.New(500 * time.Millisecond)
	ew.scheduleFlush = debounced
	return ew
}

// toRelative path-translates an inbound editor path to the name the
// wrapped sources key files by (spec.md §4.7 "path translation").
func (ew *EditorWorkspace) toRelative(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(ew.baseDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// toAbsolute path-translates an outbound file name back to an editor
// path rooted at baseDir.
func (ew *EditorWorkspace) toAbsolute(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(ew.baseDir, filepath.FromSlash(name))
}

// SetNaclFiles enqueues path→content writes (last write per path wins)
// and schedules an aggregated flush plus a debounced diagnostics report.
func (ew *EditorWorkspace) SetNaclFiles(paths map[string][]byte) {
	ew.pendingMu.Lock()
	for path, content := range paths {
		name := ew.toRelative(path)
		delete(ew.pendingDeletes, name)
		ew.pendingSets[name] = content
	}
	ew.dirty = true
	ew.pendingMu.Unlock()
	ew.kick()
}

// RemoveNaclFiles enqueues path deletions and schedules an aggregated
// flush plus a debounced diagnostics report.
func (ew *EditorWorkspace) RemoveNaclFiles(paths ...string) {
	ew.pendingMu.Lock()
	for _, path := range paths {
		name := ew.toRelative(path)
		delete(ew.pendingSets, name)
		ew.pendingDeletes[name] = true
	}
	ew.dirty = true
	ew.pendingMu.Unlock()
	ew.kick()
}

// kick triggers both the immediate aggregated-set drain and the debounced
// diagnostics publish.
func (ew *EditorWorkspace) kick() {
	go ew.runAggregatedSetOperation(context.Background())
	ew.scheduleFlush(func() {
		runID := uuid.NewString()
		diagnostics, err := ew.Errors(context.Background(), true)
		if err != nil {
			diagnostics = append(diagnostics, err)
		}
		if ew.onDiagnostics != nil {
			ew.onDiagnostics(runID, diagnostics)
		}
	})
}

// runAggregatedSetOperation drains pendingSets/pendingDeletes into a
// single underlying workspace update — deletes first, then sets — and
// re-enters itself if new edits queued up while it was running (spec.md
// §4.7). At most one instance of this loop runs at a time; a second
// concurrent call is a no-op, trusting the running loop to notice the
// new edits via the dirty flag.
func (ew *EditorWorkspace) runAggregatedSetOperation(ctx context.Context) {
	ew.runMu.Lock()
	if ew.running {
		ew.runMu.Unlock()
		return
	}
	ew.running = true
	ew.runMu.Unlock()
	defer func() {
		ew.runMu.Lock()
		ew.running = false
		ew.runMu.Unlock()
	}()

	for {
		ew.pendingMu.Lock()
		var deletes []string
		for name := range ew.pendingDeletes {
			deletes = append(deletes, name)
		}
		sets := ew.pendingSets
		ew.pendingSets = map[string][]byte{}
		ew.pendingDeletes = map[string]bool{}
		ew.dirty = false
		ew.pendingMu.Unlock()

		if len(deletes) == 0 && len(sets) == 0 {
			return
		}

		ew.opMu.Lock()
		var batch []naclsource.Change
		removedNames := map[string]bool{}
		if len(deletes) > 0 {
			changes, err := ew.ws.RemoveNaclFiles(ctx, deletes...)
			if err == nil {
				batch = append(batch, changes...)
				for _, c := range changes {
					if c.Kind == naclsource.ChangeRemoved {
						removedNames[c.ID.GetFullName()] = true
					}
				}
			}
		}
		if len(sets) > 0 {
			changes, err := ew.ws.SetNaclFiles(ctx, sets)
			if err == nil {
				batch = append(batch, changes...)
			}
		}
		ew.opMu.Unlock()

		ew.recordScope(batch, removedNames)

		ew.pendingMu.Lock()
		again := ew.dirty
		ew.pendingMu.Unlock()
		if !again {
			return
		}
	}
}

// recordScope widens the set of elements due for revalidation by the
// next Errors(validate=true) call (spec.md §4.7 "incremental validation",
// cases (i) and (iii)); case (ii) — elements whose prior errors might now
// be resolved — is implicit, since those elements already have entries
// in validationErrs that get recomputed on the next pass regardless.
func (ew *EditorWorkspace) recordScope(batch []naclsource.Change, removedNames map[string]bool) {
	ew.validMu.Lock()
	defer ew.validMu.Unlock()
	for _, c := range batch {
		name := c.ID.GetFullName()
		if _, ok := ew.validationErrs[name]; !ok {
			ew.validationErrs[name] = nil
		}
	}
	for name := range removedNames {
		if _, ok := ew.validationErrs[name]; !ok {
			ew.validationErrs[name] = nil
		}
	}
	if len(removedNames) > 0 {
		ew.pendingRemoved = append(ew.pendingRemoved, removedNames)
	}
}

// Flush blocks until any in-flight or queued aggregated set operation has
// drained, matching spec.md §4.7's "awaits all queued updates" step of
// the debounced diagnostics listener.
func (ew *EditorWorkspace) Flush(ctx context.Context) {
	for {
		ew.runAggregatedSetOperation(ctx)
		ew.runMu.Lock()
		running := ew.running
		ew.runMu.Unlock()
		ew.pendingMu.Lock()
		dirty := ew.dirty
		ew.pendingMu.Unlock()
		if !running && !dirty {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Errors returns the current environment's parse/merge errors, plus
// validation diagnostics recomputed incrementally over the scope spec.md
// §4.7 describes, if validate is true.
func (ew *EditorWorkspace) Errors(ctx context.Context, validate bool) ([]error, error) {
	ew.opMu.Lock()
	defer ew.opMu.Unlock()

	base, err := ew.ws.Errors(ctx, "", false)
	if err != nil {
		return nil, err
	}
	if !validate {
		return base, nil
	}

	validationErrs, err := ew.revalidate(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]error, 0, len(base)+len(validationErrs))
	out = append(out, base...)
	for _, e := range validationErrs {
		out = append(out, e)
	}
	return out, nil
}

// revalidate recomputes validation errors for the scope accumulated since
// the last call — elements inside changed files, elements with
// previously recorded errors, and elements referencing anything removed —
// and returns the full, merged validation error set.
func (ew *EditorWorkspace) revalidate(ctx context.Context) ([]*werrors.ValidationError, error) {
	elements, err := ew.ws.Elements(ctx, workspace.ElementsOptions{IncludeHidden: true})
	if err != nil {
		return nil, err
	}
	universe := validator.Universe(elements)

	ew.validMu.Lock()
	scope := make(map[string]bool, len(ew.validationErrs))
	for name := range ew.validationErrs {
		scope[name] = true
	}
	removedBatches := ew.pendingRemoved
	ew.pendingRemoved = nil
	ew.validMu.Unlock()

	for _, removedNames := range removedBatches {
		for name, el := range elements {
			inst, ok := el.(*element.InstanceElement)
			if !ok {
				continue
			}
			refs := map[string]bool{}
			collectReferenceRoots(inst.Value, refs)
			for root := range refs {
				if removedNames[root] {
					scope[name] = true
					break
				}
			}
		}
	}

	var subset []element.Element
	for name := range scope {
		if el, ok := elements[name]; ok {
			subset = append(subset, el)
		}
	}
	fresh := validator.Validate(subset, universe)

	ew.validMu.Lock()
	for name := range scope {
		delete(ew.validationErrs, name)
	}
	for _, e := range fresh {
		id, _ := e.ElemID()
		key := validator.ReferenceRoot(id)
		ew.validationErrs[key] = append(ew.validationErrs[key], e)
	}
	var all []*werrors.ValidationError
	for _, errs := range ew.validationErrs {
		all = append(all, errs...)
	}
	ew.validMu.Unlock()
	return all, nil
}

func collectReferenceRoots(v element.Value, out map[string]bool) {
	switch v.Kind() {
	case element.KindReference:
		if ref, ok := v.AsReference(); ok {
			out[validator.ReferenceRoot(ref.ElemID)] = true
		}
	case element.KindList:
		if items, ok := v.AsList(); ok {
			for _, it := range items {
				collectReferenceRoots(it, out)
			}
		}
	case element.KindMap:
		if m, ok := v.AsMap(); ok {
			for _, it := range m {
				collectReferenceRoots(it, out)
			}
		}
	}
}

// Elements returns the current environment's merged element view.
func (ew *EditorWorkspace) Elements(ctx context.Context, includeHidden bool) (map[string]element.Element, error) {
	ew.opMu.Lock()
	defer ew.opMu.Unlock()
	return ew.ws.Elements(ctx, workspace.ElementsOptions{IncludeHidden: includeHidden})
}

// GetElement returns id's merged element.
func (ew *EditorWorkspace) GetElement(ctx context.Context, id elemid.ID) (element.Element, bool, error) {
	ew.opMu.Lock()
	defer ew.opMu.Unlock()
	return ew.ws.GetElement(ctx, id)
}

// GetSourceRanges returns the editor-facing (absolutized) source ranges
// recorded for id.
func (ew *EditorWorkspace) GetSourceRanges(id elemid.ID) []element.SourceRange {
	ew.opMu.Lock()
	defer ew.opMu.Unlock()
	return ew.ws.GetSourceRanges(id)
}

// ListNaclFiles returns the current environment's effective file set, as
// absolutized editor paths.
func (ew *EditorWorkspace) ListNaclFiles() ([]string, error) {
	ew.opMu.Lock()
	defer ew.opMu.Unlock()
	names, err := ew.ws.ListNaclFiles()
	if err != nil {
		return nil, fmt.Errorf("editorworkspace: listing files: %w", err)
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = ew.toAbsolute(name)
	}
	return out, nil
}
