package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // reading the input into memory
	PhaseImage     Phase = "image"     // PE headers, sections, CLI header
	PhaseTables    Phase = "tables"    // table heap header and rows
	PhaseHeap      Phase = "heap"      // string/blob/guid/user-string heaps
	PhaseSignature Phase = "signature" // blob signatures
	PhaseResolve   Phase = "resolve"   // cross-module resolution
	PhaseWrite     Phase = "write"     // image serialization
)

// Kind categorizes the error
type Kind string

const (
	KindMalformed    Kind = "malformed"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindTruncated    Kind = "truncated"
	KindUnsupported  Kind = "unsupported"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindOverflow     Kind = "overflow"
)

// Error is the structured error type used throughout the codec
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Table  string
	Detail string
	Path   []string
	Token  uint32
	Offset int64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Table != "" || e.Token != 0 {
		b.WriteString(": ")
		if e.Table != "" {
			b.WriteString("table ")
			b.WriteString(e.Table)
		}
		if e.Token != 0 {
			if e.Table != "" {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "token 0x%08x", e.Token)
		}
	}

	if e.Detail != "" {
		if e.Table != "" || e.Token != 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Offset > 0 {
		fmt.Fprintf(&b, " (offset 0x%x)", e.Offset)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the node path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Table sets the metadata table name
func (b *Builder) Table(name string) *Builder {
	b.err.Table = name
	return b
}

// Token sets the metadata token
func (b *Builder) Token(tok uint32) *Builder {
	b.err.Token = tok
	return b
}

// Offset sets the byte offset in the image or stream
func (b *Builder) Offset(off int64) *Builder {
	b.err.Offset = off
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrMalformed    = &Error{Kind: KindMalformed}
	ErrTruncated    = &Error{Kind: KindTruncated}
	ErrUnsupported  = &Error{Kind: KindUnsupported}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrOutOfBounds  = &Error{Kind: KindOutOfBounds}
	ErrOverflow     = &Error{Kind: KindOverflow}
)

// Convenience constructors for common error patterns

// Malformed creates a structural corruption error
func Malformed(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindMalformed,
		Detail: detail,
	}
}

// Truncated creates an error for data ending before a read completed
func Truncated(phase Phase, offset int64, want, have int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTruncated,
		Offset: offset,
		Detail: fmt.Sprintf("need %d bytes, %d available", want, have),
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// RowOutOfRange creates an error for a row id past the end of its table
func RowOutOfRange(table string, rid, rows uint32) *Error {
	return &Error{
		Phase:  PhaseTables,
		Kind:   KindOutOfBounds,
		Table:  table,
		Detail: fmt.Sprintf("row %d out of range (rows %d)", rid, rows),
		Value:  rid,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, what),
		Value:  value,
	}
}

// InvalidElementType creates an error for a signature tag that does not fit its context
func InvalidElementType(context string, tag byte) *Error {
	return &Error{
		Phase:  PhaseSignature,
		Kind:   KindMalformed,
		Detail: fmt.Sprintf("unexpected element type 0x%02x in %s", tag, context),
		Value:  tag,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Unresolved represents a reference the resolver could not bind.
type Unresolved struct {
	Scope string // assembly or module name
	Name  string // full type or member name
}

// UnresolvedError is returned when an operation needs definitions that no
// resolver could supply.
type UnresolvedError struct {
	Refs []Unresolved
}

// NewUnresolvedError creates an error from "scope#name" keys
func NewUnresolvedError(keys []string) *UnresolvedError {
	result := &UnresolvedError{
		Refs: make([]Unresolved, 0, len(keys)),
	}
	for _, k := range keys {
		scope, name := parseRefKey(k)
		result.Refs = append(result.Refs, Unresolved{Scope: scope, Name: name})
	}
	return result
}

func parseRefKey(key string) (scope, name string) {
	s, n, found := strings.Cut(key, "#")
	if found {
		return s, n
	}
	return key, ""
}

func (e *UnresolvedError) Error() string {
	if len(e.Refs) == 0 {
		return "[resolve] not_found: no references specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "unresolved %d reference(s):\n", len(e.Refs))

	byScope := make(map[string][]string)
	var order []string
	for _, r := range e.Refs {
		if _, exists := byScope[r.Scope]; !exists {
			order = append(order, r.Scope)
		}
		byScope[r.Scope] = append(byScope[r.Scope], r.Name)
	}

	for _, scope := range order {
		b.WriteString("\n  ")
		b.WriteString(scope)
		b.WriteString(":\n")
		for _, n := range byScope[scope] {
			b.WriteString("    - ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnresolvedError) Is(target error) bool {
	_, ok := target.(*UnresolvedError)
	return ok
}
