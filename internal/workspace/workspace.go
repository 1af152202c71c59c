// Package workspace implements C8: the top-level state machine over a
// multi-environment NaCl source, keeping a merged element view
// incrementally consistent under file edits (spec.md §4.6). Grounded on
// the teacher's module-processing pipeline (pkg/yang/modules.go's
// Process: parse everything once, resolve cross-references lazily,
// cache the result, invalidate piecemeal on reprocessing) generalized
// from "one pass over a fixed module set" to "re-merge only the
// top-level elements a file edit actually touched."
package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/config"
	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
	"github.com/salto-io/workspace-core/internal/merger"
	"github.com/salto-io/workspace-core/internal/multienv"
	"github.com/salto-io/workspace-core/internal/naclsource"
	"github.com/salto-io/workspace-core/internal/stateio"
	"github.com/salto-io/workspace-core/internal/validator"
)

// RoutingMode selects which source file receives an edit in
// UpdateNaclFiles (spec.md §4.6).
type RoutingMode int

const (
	// RouteDefault writes to common when the file already lives there,
	// to the current environment otherwise.
	RouteDefault RoutingMode = iota
	// RouteIsolated always writes to the current environment.
	RouteIsolated
	// RouteAlign writes wherever the current environment's effective
	// view already has the file (env override first, then common),
	// falling back to the environment for a brand-new file.
	RouteAlign
	// RouteOverride always writes to the current environment and drops
	// any conflicting common copy of the same file.
	RouteOverride
)

type mergedEntry struct {
	Elements map[string]element.Element
	Errors   []*werrors.MergeError
}

// Workspace is the C8 state machine: {config, envSources, currentEnv,
// mergedCache} from spec.md §4.6.
type Workspace struct {
	mu sync.RWMutex

	dir     string
	fs      afero.Fs
	cfg     config.Config
	env     string
	sources *multienv.MultiSource
	state   *stateio.Store
	cache   *lru.Cache[string, *mergedEntry]
}

// Option configures a Workspace at construction.
type Option func(*Workspace)

// WithFS overrides the default OS filesystem backing every source.
func WithFS(fs afero.Fs) Option {
	return func(w *Workspace) { w.fs = fs }
}

// New opens a workspace rooted at dir using cfg (typically loaded via
// internal/config). cacheSize bounds how many environments' merged views
// stay resident at once (spec.md §8 "bounded" caching; the teacher's own
// module cache is unbounded because its module set is fixed at load
// time, but a long-lived editor session cycles through many
// environments, so this one is capped).
func New(dir string, cfg config.Config, cacheSize int, opts ...Option) (*Workspace, error) {
	w := &Workspace{dir: dir, fs: afero.NewOsFs(), cfg: cfg, env: cfg.CurrentEnv, state: stateio.New()}
	for _, opt := range opts {
		opt(w)
	}
	cache, err := lru.New[string, *mergedEntry](maxInt(cacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("workspace: building merge cache: %w", err)
	}
	w.cache = cache

	common := naclsource.New(filepath.Join(dir, "common"), "salto", naclsource.WithFS(w.fs))
	w.sources = multienv.New(common, func(env string) *naclsource.Source {
		return naclsource.New(filepath.Join(dir, env), "salto", naclsource.WithFS(w.fs))
	})
	for _, env := range cfg.Environments {
		w.sources.Env(env)
	}
	return w, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CurrentEnv returns the workspace's current environment name.
func (w *Workspace) CurrentEnv() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.env
}

// ElementsOptions parameterizes Elements (spec.md §4.6
// "elements({includeHidden, env})").
type ElementsOptions struct {
	IncludeHidden bool
	Env           string // defaults to the current environment when empty
}

func (w *Workspace) resolveEnv(env string) string {
	if env == "" {
		return w.env
	}
	return env
}

// Elements returns the merged, hidden-overlaid element view for an
// environment, merging lazily (and caching the result) on first access.
func (w *Workspace) Elements(ctx context.Context, opts ElementsOptions) (map[string]element.Element, error) {
	env := w.resolveEnv(opts.Env)
	entry, err := w.mergedEntry(ctx, env)
	if err != nil {
		return nil, err
	}
	var state map[string]element.Element
	if rec, ok := w.state.GetRecord(env); ok {
		state = rec.Elements
	}
	return multienv.HiddenOverlay(entry.Elements, state, opts.IncludeHidden), nil
}

// mergedEntry returns env's cached merge result, computing it from
// scratch if the cache doesn't hold one yet.
func (w *Workspace) mergedEntry(ctx context.Context, env string) (*mergedEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if entry, ok := w.cache.Get(env); ok {
		return entry, nil
	}
	entry, err := w.remergeAll(ctx, env)
	if err != nil {
		return nil, err
	}
	w.cache.Add(env, entry)
	return entry, nil
}

func (w *Workspace) remergeAll(ctx context.Context, env string) (*mergedEntry, error) {
	sources, err := w.sources.Fragments(env)
	if err != nil {
		return nil, err
	}
	fragments := multienv.ToMergeFragments(sources)
	res, err := merger.Merge(ctx, fragments)
	if err != nil {
		return nil, err
	}
	return &mergedEntry{Elements: res.Merged, Errors: res.Errors}, nil
}

// Errors returns env's merge errors, plus validation errors if validate
// is true (spec.md §4.6 "errors(validate?)"; validation is left lazy
// since it walks the whole universe, not just what changed).
func (w *Workspace) Errors(ctx context.Context, env string, validate bool) ([]error, error) {
	env = w.resolveEnv(env)
	entry, err := w.mergedEntry(ctx, env)
	if err != nil {
		return nil, err
	}
	var out []error
	for _, e := range entry.Errors {
		out = append(out, e)
	}
	if !validate {
		return out, nil
	}
	universe := validator.Universe(entry.Elements)
	subset := make([]element.Element, 0, len(entry.Elements))
	for _, el := range entry.Elements {
		subset = append(subset, el)
	}
	for _, e := range validator.Validate(subset, universe) {
		out = append(out, e)
	}
	return out, nil
}

// invalidate applies the five-step incremental re-merge algorithm from
// spec.md §4.6 to env's cache entry for the top-level IDs named by
// changes, re-merging only those IDs' fragments instead of the whole
// environment.
func (w *Workspace) invalidate(ctx context.Context, env string, changes []naclsource.Change) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.cache.Get(env)
	if !ok {
		// Nothing cached yet for this environment; the next Elements
		// call will merge from scratch and see the new content anyway.
		return nil
	}

	changedNames := map[string]bool{}
	for _, c := range changes {
		changedNames[c.ID.GetFullName()] = true
	}
	if len(changedNames) == 0 {
		return nil
	}

	// Step 2: drop the stale entries.
	next := &mergedEntry{
		Elements: make(map[string]element.Element, len(entry.Elements)),
	}
	for name, el := range entry.Elements {
		if !changedNames[name] {
			next.Elements[name] = el
		}
	}
	for _, e := range entry.Errors {
		if id, ok := e.ElemID(); ok && changedNames[id.GetFullName()] {
			continue
		}
		next.Errors = append(next.Errors, e)
	}

	// Step 3: re-merge only the changed top-level IDs' fragments.
	sources, err := w.sources.Fragments(env)
	if err != nil {
		return err
	}
	var changedFragments []merger.Fragment
	for _, src := range sources {
		for _, el := range src.Fragments.Elements {
			if changedNames[el.ID().GetFullName()] {
				changedFragments = append(changedFragments, merger.Fragment{Element: el, Filename: src.Filename})
			}
		}
	}
	if len(changedFragments) > 0 {
		res, err := merger.Merge(ctx, changedFragments)
		if err != nil {
			return err
		}
		for name, el := range res.Merged {
			next.Elements[name] = el
		}
		// Step 4: append the freshly computed errors.
		next.Errors = append(next.Errors, res.Errors...)
	}

	w.cache.Add(env, next)
	return nil
}

// SetNaclFiles writes files directly to the current environment's
// source (no routing decision) and incrementally updates the merge
// cache.
func (w *Workspace) SetNaclFiles(ctx context.Context, files map[string][]byte) ([]naclsource.Change, error) {
	env := w.CurrentEnv()
	changes, err := w.sources.Env(env).SetNaclFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	if err := w.invalidate(ctx, env, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// RemoveNaclFiles deletes files from the current environment's source
// and incrementally updates the merge cache.
func (w *Workspace) RemoveNaclFiles(ctx context.Context, names ...string) ([]naclsource.Change, error) {
	env := w.CurrentEnv()
	changes, err := w.sources.Env(env).RemoveNaclFiles(names...)
	if err != nil {
		return nil, err
	}
	if err := w.invalidate(ctx, env, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (w *Workspace) destinationSource(env, name string, mode RoutingMode) *naclsource.Source {
	common := w.sources.Common()
	envSrc := w.sources.Env(env)
	_, inCommon := common.GetParsedNaclFile(name)
	_, inEnv := envSrc.GetParsedNaclFile(name)

	switch mode {
	case RouteIsolated, RouteOverride:
		return envSrc
	case RouteAlign:
		if inEnv {
			return envSrc
		}
		if inCommon {
			return common
		}
		return envSrc
	default: // RouteDefault
		if inCommon && !inEnv {
			return common
		}
		return envSrc
	}
}

// UpdateNaclFiles writes each named buffer to whichever source mode
// selects (spec.md §4.6 "routing modes"), then incrementally updates the
// merge cache for the current environment.
func (w *Workspace) UpdateNaclFiles(ctx context.Context, files map[string][]byte, mode RoutingMode) ([]naclsource.Change, error) {
	env := w.CurrentEnv()
	common := w.sources.Common()
	var all []naclsource.Change
	for name, content := range files {
		dest := w.destinationSource(env, name, mode)
		if mode == RouteOverride {
			if _, inCommon := common.GetParsedNaclFile(name); inCommon {
				if _, err := common.RemoveNaclFiles(name); err != nil {
					return nil, err
				}
			}
		}
		changes, err := dest.SetNaclFiles(ctx, map[string][]byte{name: content})
		if err != nil {
			return nil, err
		}
		all = append(all, changes...)
	}
	if err := w.invalidate(ctx, env, all); err != nil {
		return nil, err
	}
	return all, nil
}

// GetSourceMap returns name's source map from the current environment's
// effective view (env override if present, otherwise common).
func (w *Workspace) GetSourceMap(name string) (*element.SourceMap, bool) {
	env := w.CurrentEnv()
	if sm, ok := w.sources.Env(env).GetSourceMap(name); ok {
		return sm, true
	}
	return w.sources.Common().GetSourceMap(name)
}

// GetSourceRanges returns every source range recorded for id across the
// current environment's common and env sources.
func (w *Workspace) GetSourceRanges(id elemid.ID) []element.SourceRange {
	env := w.CurrentEnv()
	ranges := w.sources.Common().GetSourceRanges(id)
	ranges = append(ranges, w.sources.Env(env).GetSourceRanges(id)...)
	return ranges
}

// ListNaclFiles lists the current environment's effective file set.
func (w *Workspace) ListNaclFiles() ([]string, error) {
	return w.sources.EffectiveFiles(w.CurrentEnv())
}

// GetElement returns id's merged element from the current environment.
func (w *Workspace) GetElement(ctx context.Context, id elemid.ID) (element.Element, bool, error) {
	els, err := w.Elements(ctx, ElementsOptions{IncludeHidden: true})
	if err != nil {
		return nil, false, err
	}
	el, ok := els[id.GetFullName()]
	return el, ok, nil
}

// GetValue returns the value of an InstanceElement named by id.
func (w *Workspace) GetValue(ctx context.Context, id elemid.ID) (element.Value, bool, error) {
	el, ok, err := w.GetElement(ctx, id)
	if err != nil || !ok {
		return element.Value{}, false, err
	}
	inst, ok := el.(*element.InstanceElement)
	if !ok {
		return element.Value{}, false, nil
	}
	return inst.Value, true, nil
}

func readFile(fs afero.Fs, root, name string) ([]byte, error) {
	b, err := afero.ReadFile(fs, filepath.Join(root, name))
	if err != nil {
		return nil, fmt.Errorf("workspace: reading %s: %w", name, err)
	}
	return b, nil
}

// Promote moves name from the current environment's source into common
// (spec.md §4.6 "promote/demote/... routing between common and env").
func (w *Workspace) Promote(ctx context.Context, name string) error {
	env := w.CurrentEnv()
	content, err := readFile(w.fs, filepath.Join(w.dir, env), name)
	if err != nil {
		return err
	}
	if _, err := w.sources.Common().SetNaclFiles(ctx, map[string][]byte{name: content}); err != nil {
		return err
	}
	changes, err := w.sources.Env(env).RemoveNaclFiles(name)
	if err != nil {
		return err
	}
	return w.invalidate(ctx, env, changes)
}

// Demote moves name from common into the current environment's source.
func (w *Workspace) Demote(ctx context.Context, name string) error {
	content, err := readFile(w.fs, filepath.Join(w.dir, "common"), name)
	if err != nil {
		return err
	}
	env := w.CurrentEnv()
	if _, err := w.sources.Env(env).SetNaclFiles(ctx, map[string][]byte{name: content}); err != nil {
		return err
	}
	changes, err := w.sources.Common().RemoveNaclFiles(name)
	if err != nil {
		return err
	}
	return w.invalidate(ctx, env, changes)
}

// DemoteAll demotes every file currently in common into the current
// environment, leaving common empty.
func (w *Workspace) DemoteAll(ctx context.Context) error {
	names, err := w.sources.Common().ListNaclFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := w.Demote(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// CopyTo copies name's current-environment content into targetEnv's
// source without removing it from the current environment.
func (w *Workspace) CopyTo(ctx context.Context, name, targetEnv string) error {
	env := w.CurrentEnv()
	content, err := readFile(w.fs, filepath.Join(w.dir, env), name)
	if err != nil {
		return err
	}
	changes, err := w.sources.Env(targetEnv).SetNaclFiles(ctx, map[string][]byte{name: content})
	if err != nil {
		return err
	}
	return w.invalidate(ctx, targetEnv, changes)
}

// AddEnvironment registers a new, empty environment.
func (w *Workspace) AddEnvironment(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cfg.HasEnv(name) {
		return werrors.NewWorkspaceError(werrors.WorkspaceEnvDuplication, fmt.Sprintf("environment %q already exists", name))
	}
	w.cfg = w.cfg.WithEnv(name)
	w.sources.Env(name)
	return nil
}

// DeleteEnvironment removes env entirely; deleting the current
// environment is rejected (spec.md §7 WorkspaceDeleteCurrentEnv).
func (w *Workspace) DeleteEnvironment(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if name == w.env {
		return werrors.NewWorkspaceError(werrors.WorkspaceDeleteCurrentEnv, fmt.Sprintf("cannot delete the current environment %q", name))
	}
	if !w.cfg.HasEnv(name) {
		return werrors.NewWorkspaceError(werrors.WorkspaceUnknownEnv, fmt.Sprintf("unknown environment %q", name))
	}
	w.cfg = w.cfg.WithoutEnv(name)
	w.sources.RemoveEnv(name)
	w.state.RemoveEnv(name)
	w.cache.Remove(name)
	return nil
}

// RenameEnvironment renames oldEnv to newEnv.
func (w *Workspace) RenameEnvironment(oldEnv, newEnv string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.cfg.HasEnv(oldEnv) {
		return werrors.NewWorkspaceError(werrors.WorkspaceUnknownEnv, fmt.Sprintf("unknown environment %q", oldEnv))
	}
	if err := w.sources.RenameEnv(oldEnv, newEnv); err != nil {
		return err
	}
	w.cfg = w.cfg.WithRenamedEnv(oldEnv, newEnv)
	if w.env == oldEnv {
		w.env = newEnv
	}
	w.cache.Remove(oldEnv)
	return nil
}

// SetCurrentEnv switches the workspace's current environment.
func (w *Workspace) SetCurrentEnv(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.cfg.HasEnv(name) {
		return werrors.NewWorkspaceError(werrors.WorkspaceUnknownEnv, fmt.Sprintf("unknown environment %q", name))
	}
	w.env = name
	w.cfg.CurrentEnv = name
	return nil
}

// Flush durably writes every managed source's pending parses to its
// on-disk cache, if configured.
func (w *Workspace) Flush() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.sources.Common().Flush(); err != nil {
		return err
	}
	for _, env := range w.cfg.Environments {
		if err := w.sources.Env(env).Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every managed file across common and every environment,
// and empties the merge cache.
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sources.Common().Clear()
	for _, env := range w.cfg.Environments {
		w.sources.Env(env).Clear()
	}
	w.cache.Purge()
}

// GetStateRecency reports env's state freshness (the current
// environment's when env is empty) against the workspace's configured
// staleness threshold.
func (w *Workspace) GetStateRecency(env string) stateio.Recency {
	threshold := time.Duration(w.cfg.StaleAfterDays) * 24 * time.Hour
	if threshold <= 0 {
		threshold = stateio.DefaultStaleThreshold
	}
	return w.state.GetStateRecency(w.resolveEnv(env), threshold)
}

// State exposes the workspace's state store, for callers (the editor
// layer, adapters) that need to load fetched elements or credentials.
func (w *Workspace) State() *stateio.Store { return w.state }

// Clone returns a copy of w with its own, initially empty, merge cache
// and cloned sources. The state store and the filesystem are shared with
// the original.
func (w *Workspace) Clone() *Workspace {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cache, _ := lru.New[string, *mergedEntry](maxInt(w.cache.Len(), 1))
	cp := &Workspace{
		dir: w.dir, fs: w.fs, cfg: w.cfg, env: w.env,
		state: w.state, cache: cache,
	}
	clonedEnvs := make(map[string]*naclsource.Source, len(w.cfg.Environments))
	for _, env := range w.cfg.Environments {
		clonedEnvs[env] = w.sources.Env(env).Clone()
	}
	common := w.sources.Common().Clone()
	cp.sources = multienv.New(common, func(env string) *naclsource.Source {
		if src, ok := clonedEnvs[env]; ok {
			return src
		}
		return naclsource.New(filepath.Join(cp.dir, env), "salto", naclsource.WithFS(cp.fs))
	})
	for _, env := range w.cfg.Environments {
		cp.sources.Env(env)
	}
	return cp
}
