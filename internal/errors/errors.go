// Package errors defines the collected, typed error values shared across
// the pipeline (spec.md §7): ParseError, MergeError, ValidationError, and
// WorkspaceError, plus the related-error grouping used when errors are
// surfaced to a human.
package errors

import (
	"fmt"
	"sort"

	"github.com/kylelemons/godebug/pretty"
	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
)

// Severity classifies how serious an error is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return "Error"
	}
}

// Diagnostic is the common surface every error kind below implements.
type Diagnostic interface {
	error
	Severity() Severity
	// ElemID returns the element the diagnostic is about, if any.
	ElemID() (elemid.ID, bool)
	// SourceRange returns the offending range, if any.
	SourceRange() (element.SourceRange, bool)
}

// ParseErrorKind enumerates parse-time failure categories.
type ParseErrorKind int

const (
	ParseSyntaxError ParseErrorKind = iota
	ParseAttributeRedefined
	ParseUnexpectedWildcard
	ParseUnterminatedString
)

// ParseError is a malformed-syntax diagnostic (spec.md §4.1, §7).
type ParseError struct {
	Kind     ParseErrorKind
	Message  string
	Context  element.SourceRange // the offending range
	Subject  element.SourceRange // a sub-range, e.g. an identifier
	severity Severity
}

func NewParseError(kind ParseErrorKind, msg string, context, subject element.SourceRange) *ParseError {
	return &ParseError{Kind: kind, Message: msg, Context: context, Subject: subject, severity: SeverityError}
}

func (e *ParseError) Error() string                            { return fmt.Sprintf("%s: %s", e.Context, e.Message) }
func (e *ParseError) Severity() Severity                        { return e.severity }
func (e *ParseError) ElemID() (elemid.ID, bool)                 { return elemid.ID{}, false }
func (e *ParseError) SourceRange() (element.SourceRange, bool)  { return e.Context, true }

// MergeErrorKind enumerates merge-time conflict categories (spec.md §4.2, §7).
type MergeErrorKind int

const (
	MergeDuplicateAnnotation MergeErrorKind = iota
	MergeDuplicateInstanceKey
	MergeConflictingFieldType
	MergeConflictingSetting
	MergeKindMismatch
)

func (k MergeErrorKind) String() string {
	switch k {
	case MergeDuplicateAnnotation:
		return "DuplicateAnnotation"
	case MergeDuplicateInstanceKey:
		return "DuplicateInstanceKey"
	case MergeConflictingFieldType:
		return "ConflictingFieldType"
	case MergeConflictingSetting:
		return "ConflictingSetting"
	default:
		return "DuplicationError"
	}
}

// MergeError reports a conflict discovered while folding fragments into a
// canonical element.
type MergeError struct {
	Kind    MergeErrorKind
	ID      elemid.ID
	Message string
	Ranges  []element.SourceRange
}

func NewMergeError(kind MergeErrorKind, id elemid.ID, msg string, ranges ...element.SourceRange) *MergeError {
	return &MergeError{Kind: kind, ID: id, Message: msg, Ranges: ranges}
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("%s on %s: %s", e.Kind, e.ID, e.Message)
}
func (e *MergeError) Severity() Severity { return SeverityError }
func (e *MergeError) ElemID() (elemid.ID, bool) { return e.ID, true }
func (e *MergeError) SourceRange() (element.SourceRange, bool) {
	if len(e.Ranges) == 0 {
		return element.SourceRange{}, false
	}
	return e.Ranges[0], true
}

// ValidationErrorKind enumerates validation-rule categories (spec.md §4.3, §7).
type ValidationErrorKind int

const (
	ValidationUnresolvedReference ValidationErrorKind = iota
	ValidationCircularReference
	ValidationIllegalValue
	ValidationMissingRequired
	ValidationInvalidStaticFile
	ValidationTypeMismatch
)

func (k ValidationErrorKind) String() string {
	switch k {
	case ValidationUnresolvedReference:
		return "Unresolved"
	case ValidationCircularReference:
		return "Circular"
	case ValidationIllegalValue:
		return "IllegalValue"
	case ValidationMissingRequired:
		return "MissingRequired"
	case ValidationInvalidStaticFile:
		return "InvalidStaticFile"
	default:
		return "TypeMismatch"
	}
}

// ValidationError reports a broken type/reference/value constraint.
type ValidationError struct {
	Kind    ValidationErrorKind
	ID      elemid.ID
	Message string
}

func NewValidationError(kind ValidationErrorKind, id elemid.ID, msg string) *ValidationError {
	return &ValidationError{Kind: kind, ID: id, Message: msg}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%sValidationError on %s: %s", e.Kind, e.ID, e.Message)
}
func (e *ValidationError) Severity() Severity { return SeverityError }
func (e *ValidationError) ElemID() (elemid.ID, bool) { return e.ID, true }
func (e *ValidationError) SourceRange() (element.SourceRange, bool) {
	return element.SourceRange{}, false
}

// WorkspaceErrorKind enumerates workspace-lifecycle violations (spec.md §4.6, §7).
type WorkspaceErrorKind int

const (
	WorkspaceServiceDuplication WorkspaceErrorKind = iota
	WorkspaceEnvDuplication
	WorkspaceUnknownEnv
	WorkspaceDeleteCurrentEnv
	WorkspaceStaleState
)

func (k WorkspaceErrorKind) String() string {
	switch k {
	case WorkspaceServiceDuplication:
		return "ServiceDuplication"
	case WorkspaceEnvDuplication:
		return "EnvDuplication"
	case WorkspaceUnknownEnv:
		return "UnknownEnv"
	case WorkspaceDeleteCurrentEnv:
		return "DeleteCurrentEnv"
	default:
		return "StaleState"
	}
}

// WorkspaceError reports a structural workspace-lifecycle violation; per
// spec.md §7 these fail the triggering operation immediately rather than
// being collected.
type WorkspaceError struct {
	Kind     WorkspaceErrorKind
	Message  string
	severity Severity
}

func NewWorkspaceError(kind WorkspaceErrorKind, msg string) *WorkspaceError {
	sev := SeverityError
	if kind == WorkspaceStaleState {
		sev = SeverityWarning
	}
	return &WorkspaceError{Kind: kind, Message: msg, severity: sev}
}

func (e *WorkspaceError) Error() string                           { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }
func (e *WorkspaceError) Severity() Severity                       { return e.severity }
func (e *WorkspaceError) ElemID() (elemid.ID, bool)                { return elemid.ID{}, false }
func (e *WorkspaceError) SourceRange() (element.SourceRange, bool) { return element.SourceRange{}, false }

// SourceFragment is a rendered fragment of source text attached to a
// grouped error for display (spec.md §7 "transformToWorkspaceError
// enriches an error with the relevant SourceFragment[]").
type SourceFragment struct {
	Range   element.SourceRange
	Content string
}

// Group is a set of diagnostics that share a root ElemID, rendered once
// together (spec.md §7 "Related-error grouping").
type Group struct {
	RootID    elemid.ID
	Errors    []Diagnostic
	Fragments []SourceFragment
}

// GroupByRootID groups diags by the top-level ID their ElemID (if any)
// resolves to; diagnostics without an ElemID are grouped by their message
// text, so only those with identical messages share a group.
func GroupByRootID(diags []Diagnostic, topLevel func(elemid.ID) elemid.ID) []Group {
	index := map[string]*Group{}
	var order []string
	for _, d := range diags {
		key := fmt.Sprintf("msg:%s", d.Error())
		if id, ok := d.ElemID(); ok {
			root := topLevel(id)
			key = "id:" + root.GetFullName()
		}
		g, ok := index[key]
		if !ok {
			g = &Group{}
			if id, ok := d.ElemID(); ok {
				g.RootID = topLevel(id)
			}
			index[key] = g
			order = append(order, key)
		}
		g.Errors = append(g.Errors, d)
	}
	sort.Strings(order)
	groups := make([]Group, 0, len(order))
	for _, k := range order {
		groups = append(groups, *index[k])
	}
	return groups
}

// TransformToWorkspaceError enriches d with the source fragments drawn
// from the ranges the caller already has on hand (e.g. a SourceMap
// lookup), per spec.md §7.
func TransformToWorkspaceError(d Diagnostic, fragments []SourceFragment) Group {
	g := Group{Errors: []Diagnostic{d}, Fragments: fragments}
	if id, ok := d.ElemID(); ok {
		g.RootID = id
	}
	return g
}

// RenderConflict pretty-prints two conflicting values for a merge/validation
// error message, using the teacher's own test-diff library at runtime
// (kylelemons/godebug/pretty) rather than a hand-rolled formatter.
func RenderConflict(a, b any) string {
	return pretty.Compare(a, b)
}
