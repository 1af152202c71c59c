// Package multienv implements C7: a common source plus one source per
// environment, combined into an effective per-environment fragment
// stream, and the hidden-value overlay that blends previously fetched
// state into the NaCl-visible element set (spec.md §4.5). Shape grounded
// on the teacher's module-set combination (pkg/yang/modules.go's
// Modules.Read/Process folding many module sources into one namespace
// with override-by-name semantics), generalized from "many YANG modules"
// to "one common source plus one override source per environment."
package multienv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/salto-io/workspace-core/internal/element"
	"github.com/salto-io/workspace-core/internal/merger"
	"github.com/salto-io/workspace-core/internal/naclsource"
	"github.com/salto-io/workspace-core/internal/parser"
)

// MultiSource owns one common naclsource.Source plus one per environment.
// The effective file set for an environment is common's files unioned
// with the environment's, the environment's winning on a name collision
// (spec.md §4.5).
type MultiSource struct {
	mu     sync.RWMutex
	common *naclsource.Source
	envs   map[string]*naclsource.Source
	newEnv func(env string) *naclsource.Source
}

// New returns a MultiSource with an empty common source. newEnv
// constructs a fresh per-environment naclsource.Source, typically one
// rooted at a workspace's "<env>/" subdirectory (spec.md §6 "Workspace
// layout").
func New(common *naclsource.Source, newEnv func(env string) *naclsource.Source) *MultiSource {
	return &MultiSource{common: common, envs: map[string]*naclsource.Source{}, newEnv: newEnv}
}

// Common returns the shared source.
func (m *MultiSource) Common() *naclsource.Source { return m.common }

// Env returns env's source, creating it via newEnv on first use.
func (m *MultiSource) Env(env string) *naclsource.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.envs[env]
	if !ok {
		src = m.newEnv(env)
		m.envs[env] = src
	}
	return src
}

// RemoveEnv drops env's source entirely (e.g. deleteEnvironment).
func (m *MultiSource) RemoveEnv(env string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.envs, env)
}

// RenameEnv moves env's source under a new name.
func (m *MultiSource) RenameEnv(oldEnv, newEnv string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.envs[oldEnv]
	if !ok {
		return fmt.Errorf("multienv: unknown environment %q", oldEnv)
	}
	delete(m.envs, oldEnv)
	m.envs[newEnv] = src
	return nil
}

// EffectiveFiles lists the effective file set for env: common's file
// names plus env's, with env's name winning on collision (its content is
// the one actually in effect, so it is the one returned).
func (m *MultiSource) EffectiveFiles(env string) ([]string, error) {
	m.mu.RLock()
	src, ok := m.envs[env]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("multienv: unknown environment %q", env)
	}
	commonFiles, err := m.common.ListNaclFiles()
	if err != nil {
		return nil, err
	}
	envFiles, err := src.ListNaclFiles()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, f := range envFiles {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range commonFiles {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Fragments gathers the fragments common and env currently hold,
// env's file overriding common's on name collision, as input to C4's
// Merge (spec.md §4.5 "Element fragments from common and E are merged by
// C4 as if they came from a single stream").
func (m *MultiSource) Fragments(env string) ([]FragmentSource, error) {
	m.mu.RLock()
	src, ok := m.envs[env]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("multienv: unknown environment %q", env)
	}

	envFiles, err := src.ListNaclFiles()
	if err != nil {
		return nil, err
	}
	overridden := map[string]bool{}
	for _, f := range envFiles {
		overridden[f] = true
	}

	var out []FragmentSource
	commonFiles, err := m.common.ListNaclFiles()
	if err != nil {
		return nil, err
	}
	for _, f := range commonFiles {
		if overridden[f] {
			continue
		}
		if ff, ok := m.common.GetParsedNaclFile(f); ok {
			out = append(out, FragmentSource{Filename: f, Fragments: ff})
		}
	}
	for _, f := range envFiles {
		if ff, ok := src.GetParsedNaclFile(f); ok {
			out = append(out, FragmentSource{Filename: f, Fragments: ff})
		}
	}
	return out, nil
}

// FragmentSource pairs one file's fragments with the filename they came
// from, the shape merger.Fragment is built from.
type FragmentSource struct {
	Filename  string
	Fragments *parser.FileFragments
}

// ToMergeFragments flattens a FragmentSource list into the per-element
// Fragment list C4's Merge expects.
func ToMergeFragments(sources []FragmentSource) []merger.Fragment {
	var out []merger.Fragment
	for _, src := range sources {
		for _, el := range src.Fragments.Elements {
			out = append(out, merger.Fragment{Element: el, Filename: src.Filename})
		}
	}
	return out
}

// HiddenOverlay applies spec.md §4.5's overlay rule: elements present
// only in state and marked hidden contribute their value into the
// merged set; elements present in both copy hidden annotations from
// state onto the NaCl-visible element. visible and state are both keyed
// by full element name; the returned map never mutates either input.
func HiddenOverlay(visible map[string]element.Element, state map[string]element.Element, includeHidden bool) map[string]element.Element {
	out := make(map[string]element.Element, len(visible))
	for k, v := range visible {
		out[k] = v
	}
	if !includeHidden {
		return out
	}
	for name, stateEl := range state {
		stateInst, ok := stateEl.(*element.InstanceElement)
		if !ok {
			continue
		}
		visEl, present := out[name]
		if !present {
			if isHidden(stateInst) {
				out[name] = stateInst
			}
			continue
		}
		visInst, ok := visEl.(*element.InstanceElement)
		if !ok {
			continue
		}
		out[name] = copyHiddenAnnotations(visInst, stateInst)
	}
	return out
}

func isHidden(inst *element.InstanceElement) bool {
	v, ok := inst.Annotations[element.AnnotationHiddenValue]
	if !ok {
		return false
	}
	b, ok := v.AsPrimitive()
	if !ok {
		return false
	}
	hidden, _ := b.(bool)
	return hidden
}

func copyHiddenAnnotations(visible, state *element.InstanceElement) *element.InstanceElement {
	merged := *visible
	merged.Annotations = visible.Annotations.Clone()
	for k, v := range state.Annotations {
		if element.IsInstanceAnnotation(k) {
			merged.Annotations[k] = v
		}
	}
	return &merged
}

// HandleHiddenChanges filters changes, dropping any whose element exists
// only as a hidden state entry (spec.md §4.5 "removes hidden-only
// changes from an incoming change stream before it is routed back to
// files: hidden values never surface in NaCl").
func HandleHiddenChanges(changes []naclsource.Change, state map[string]element.Element) []naclsource.Change {
	var out []naclsource.Change
	for _, c := range changes {
		if stateEl, ok := state[c.ID.GetFullName()]; ok {
			if inst, ok := stateEl.(*element.InstanceElement); ok && isHidden(inst) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
