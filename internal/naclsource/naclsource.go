// Package naclsource implements C6: one directory of NaCl files as the
// source of element fragments for one environment (spec.md §4.4). The
// shape — an afero.Fs root, a mutex-guarded cache of parsed state, a
// functional-options constructor — follows the crossplane xpkg/v2
// workspace package retrieved into this project's reference pack.
package naclsource

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	"github.com/salto-io/workspace-core/internal/parser"
)

// ChangeKind classifies one top-level element's change between an old and
// new parse of a file.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeModified
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	default:
		return "modified"
	}
}

// Change is one top-level element's add/remove/modify resulting from a
// setNaclFiles/removeNaclFiles call.
type Change struct {
	ID   elemid.ID
	Kind ChangeKind
}

type fileState struct {
	content   []byte
	fragments *parser.FileFragments
}

// Source owns one directory of NaCl files, the parsed fragments they
// contribute, and the two reverse indices spec.md §4.4 calls for.
type Source struct {
	fs             afero.Fs
	root           string
	defaultAdapter string

	mu    sync.RWMutex
	files map[string]*fileState

	// byElement maps an element's full name to the set of filenames
	// that contribute a fragment of it.
	byElement map[string]map[string]bool
	// byReference maps an element's full name to the set of filenames
	// whose parse referenced it.
	byReference map[string]map[string]bool

	cache *cache
}

// Option configures a Source at construction time.
type Option func(*Source)

// WithFS overrides the default OS filesystem, e.g. with afero.NewMemMapFs
// in tests.
func WithFS(fs afero.Fs) Option {
	return func(s *Source) { s.fs = fs }
}

// WithCache attaches an on-disk parse cache at dbPath (spec.md §4.4
// "flush durably writes pending parses to an on-disk cache").
func WithCache(dbPath string) Option {
	return func(s *Source) {
		c, err := openCache(dbPath)
		if err == nil {
			s.cache = c
		}
	}
}

// New returns a Source rooted at root, empty until the first
// SetNaclFiles call.
func New(root, defaultAdapter string, opts ...Option) *Source {
	s := &Source{
		fs:             afero.NewOsFs(),
		root:           root,
		defaultAdapter: defaultAdapter,
		files:          map[string]*fileState{},
		byElement:      map[string]map[string]bool{},
		byReference:    map[string]map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNaclFiles writes (or overwrites) each named buffer, reparses it, and
// returns the added/removed/modified top-level elements computed by
// diffing the old and new per-file parse (spec.md §4.4). Per spec.md §9
// ("Async fan-out... use independent tasks + a join rather than nested
// callbacks"), the write+parse work for each file runs as an independent
// task; only applying the results to the shared index is serialized, so
// one file's parse failure does not block or corrupt another's.
func (s *Source) SetNaclFiles(ctx context.Context, files map[string][]byte) ([]Change, error) {
	type parsedFile struct {
		name      string
		content   []byte
		fragments *parser.FileFragments
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	results := make([]parsedFile, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name, content := i, name, files[name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := afero.WriteFile(s.fs, path.Join(s.root, name), content, 0o644); err != nil {
				return fmt.Errorf("naclsource: writing %s: %w", name, err)
			}

			var fragments *parser.FileFragments
			if s.cache != nil {
				if cached, ok := s.cache.lookup(name, content); ok {
					fragments = cached
				}
			}
			if fragments == nil {
				fragments = parser.ParseAndLower(string(content), name, s.defaultAdapter, false)
			}
			results[i] = parsedFile{name: name, content: content, fragments: fragments}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for _, r := range results {
		if s.cache != nil {
			s.cache.store(r.name, r.content, r.fragments)
		}
		old := s.files[r.name]
		s.files[r.name] = &fileState{content: r.content, fragments: r.fragments}
		changes = append(changes, s.reindex(r.name, old, r.fragments)...)
	}
	return changes, nil
}

// RemoveNaclFiles deletes the named files, dropping their index entries
// and reporting every element that loses its last fragment as removed.
func (s *Source) RemoveNaclFiles(names ...string) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for _, name := range names {
		old, ok := s.files[name]
		if !ok {
			continue
		}
		_ = s.fs.Remove(path.Join(s.root, name))
		delete(s.files, name)
		changes = append(changes, s.reindex(name, old, nil)...)
	}
	return changes, nil
}

// reindex removes name's stale index entries (from old, if any) then adds
// fresh ones (from next, if any), returning the top-level Changes implied
// by the delta. Both indices are rebuilt this way on every parse so they
// never carry a stale filename forward (spec.md §4.4).
func (s *Source) reindex(name string, old *fileState, next *parser.FileFragments) []Change {
	oldIDs := map[string]bool{}
	if old != nil && old.fragments != nil {
		for _, el := range old.fragments.Elements {
			id := el.ID().GetFullName()
			oldIDs[id] = true
			removeFromIndex(s.byElement, id, name)
		}
		for ref := range old.fragments.Referenced {
			removeFromIndex(s.byReference, ref, name)
		}
	}

	newIDs := map[string]bool{}
	if next != nil {
		for _, el := range next.Elements {
			id := el.ID().GetFullName()
			newIDs[id] = true
			addToIndex(s.byElement, id, name)
		}
		for ref := range next.Referenced {
			addToIndex(s.byReference, ref, name)
		}
	}

	var changes []Change
	for id := range oldIDs {
		if !newIDs[id] {
			parsed, _ := elemid.FromFullName(id)
			changes = append(changes, Change{ID: parsed, Kind: ChangeRemoved})
		}
	}
	for id := range newIDs {
		kind := ChangeAdded
		if oldIDs[id] {
			kind = ChangeModified
		}
		parsed, _ := elemid.FromFullName(id)
		changes = append(changes, Change{ID: parsed, Kind: kind})
	}
	return changes
}

func addToIndex(idx map[string]map[string]bool, key, name string) {
	set, ok := idx[key]
	if !ok {
		set = map[string]bool{}
		idx[key] = set
	}
	set[name] = true
}

func removeFromIndex(idx map[string]map[string]bool, key, name string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// GetParsedNaclFile returns the parsed fragments for name, if present.
func (s *Source) GetParsedNaclFile(name string) (*parser.FileFragments, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.files[name]
	if !ok {
		return nil, false
	}
	return fs.fragments, true
}

// GetSourceMap returns name's source map, if present.
func (s *Source) GetSourceMap(name string) (*element.SourceMap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.files[name]
	if !ok {
		return nil, false
	}
	return fs.fragments.SourceMap, true
}

// GetSourceRanges returns every source range recorded for id across all
// managed files.
func (s *Source) GetSourceRanges(id elemid.ID) []element.SourceRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ranges []element.SourceRange
	for name := range s.byElement[id.GetFullName()] {
		if fs, ok := s.files[name]; ok {
			ranges = append(ranges, fs.fragments.SourceMap.Get(id.GetFullName())...)
		}
	}
	return ranges
}

// GetElementNaclFiles returns the files contributing at least one
// fragment of id.
func (s *Source) GetElementNaclFiles(id elemid.ID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byElement[id.GetFullName()])
}

// GetElementReferencesToFiles returns the files whose parse referenced
// id — the incoming-reference direction of the second reverse index.
func (s *Source) GetElementReferencesToFiles(id elemid.ID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byReference[id.GetFullName()])
}

// GetElementReferencedFiles returns the files that contribute a fragment
// of something referenced from a file holding one of id's fragments — the
// outgoing direction, mapped back through byElement. References are
// recorded per file, not per element, so targets referenced only by other
// elements in those files are included too.
func (s *Source) GetElementReferencedFiles(id elemid.ID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for name := range s.byElement[id.GetFullName()] {
		fs := s.files[name]
		for _, el := range fs.fragments.Elements {
			if el.ID().GetFullName() != id.GetFullName() {
				continue
			}
			for ref := range fs.fragments.Referenced {
				for f := range s.byElement[ref] {
					seen[f] = true
				}
			}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ListNaclFiles lists every managed file, optionally restricted to those
// matching a doublestar glob pattern (e.g. "services/**/*.nacl").
func (s *Source) ListNaclFiles(globs ...string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(globs) == 0 {
		names := make([]string, 0, len(s.files))
		for name := range s.files {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	var matched []string
	for name := range s.files {
		for _, g := range globs {
			ok, err := doublestar.Match(g, name)
			if err != nil {
				return nil, fmt.Errorf("naclsource: bad glob %q: %w", g, err)
			}
			if ok {
				matched = append(matched, name)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// GetTotalSize returns the combined byte size of every managed file.
func (s *Source) GetTotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, fs := range s.files {
		total += int64(len(fs.content))
	}
	return total
}

// IsEmpty reports whether the source manages zero files.
func (s *Source) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files) == 0
}

// Clear drops every managed file and index entry, leaving an empty
// Source over the same root.
func (s *Source) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = map[string]*fileState{}
	s.byElement = map[string]map[string]bool{}
	s.byReference = map[string]map[string]bool{}
}

// Rename moves oldName to newName on disk and in every index entry.
func (s *Source) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.files[oldName]
	if !ok {
		return fmt.Errorf("naclsource: %s is not managed", oldName)
	}
	if err := s.fs.Rename(path.Join(s.root, oldName), path.Join(s.root, newName)); err != nil {
		return fmt.Errorf("naclsource: renaming %s to %s: %w", oldName, newName, err)
	}
	delete(s.files, oldName)
	s.files[newName] = fs
	for _, idx := range []map[string]map[string]bool{s.byElement, s.byReference} {
		for key, set := range idx {
			if set[oldName] {
				delete(set, oldName)
				set[newName] = true
				idx[key] = set
			}
		}
	}
	return nil
}

// Flush durably writes every managed file's parse to the on-disk cache,
// if one is configured.
func (s *Source) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return nil
	}
	for name, fs := range s.files {
		if err := s.cache.store(name, fs.content, fs.fragments); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy of s with the same root and defaultAdapter and its
// own file map, file contents and indices. The copy shares s's filesystem
// (a write or removal through either reaches the same files) and the
// parsed fragment values, and it has no on-disk cache.
func (s *Source) Clone() *Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := New(s.root, s.defaultAdapter, WithFS(s.fs))
	for name, fs := range s.files {
		content := make([]byte, len(fs.content))
		copy(content, fs.content)
		cp.files[name] = &fileState{content: content, fragments: fs.fragments}
	}
	for k, set := range s.byElement {
		cp.byElement[k] = cloneSet(set)
	}
	for k, set := range s.byReference {
		cp.byReference[k] = cloneSet(set)
	}
	return cp
}

func cloneSet(s map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}
