package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseTables,
				Kind:   KindOutOfBounds,
				Path:   []string{"Foo", "Methods"},
				Table:  "MethodDef",
				Token:  0x06000003,
				Detail: "row past end",
				Offset: 0x40,
			},
			contains: []string{"[tables]", "out_of_bounds", "Foo.Methods", "MethodDef", "0x06000003", "row past end", "0x40"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseImage,
				Kind:  KindMalformed,
			},
			contains: []string{"[image]", "malformed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseWrite,
				Kind:   KindUnsupported,
				Detail: "machine 0x200",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[write]", "unsupported", "machine 0x200", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseHeap,
		Kind:  KindTruncated,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseSignature,
		Kind:  KindMalformed,
		Path:  []string{"foo"},
	}

	if !errors.Is(err, &Error{Phase: PhaseSignature, Kind: KindMalformed}) {
		t.Error("expected match on same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseImage, Kind: KindMalformed}) {
		t.Error("unexpected match on different phase")
	}
	if !errors.Is(err, ErrMalformed) {
		t.Error("expected kind-only sentinel to match")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Error("unexpected match on different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("eof")
	err := New(PhaseTables, KindOutOfBounds).
		Path("TypeDef", "Fields").
		Table("Field").
		Token(0x04000009).
		Offset(12).
		Value(9).
		Cause(cause).
		Detail("row %d of %d", 9, 8).
		Build()

	if err.Table != "Field" || err.Token != 0x04000009 || err.Offset != 12 {
		t.Errorf("unexpected fields: %+v", err)
	}
	if err.Detail != "row 9 of 8" {
		t.Errorf("detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		kind Kind
	}{
		{Malformed(PhaseImage, "bad signature 0x%08x", 1), KindMalformed},
		{Truncated(PhaseHeap, 4, 8, 2), KindTruncated},
		{Unsupported(PhaseSignature, "calling convention 0x09"), KindUnsupported},
		{OutOfBounds(PhaseTables, nil, 3, 2), KindOutOfBounds},
		{RowOutOfRange("TypeDef", 5, 4), KindOutOfBounds},
		{Overflow(PhaseWrite, uint32(0x20000000), "compressed integer"), KindOverflow},
		{InvalidElementType("field signature", 0x99), KindMalformed},
		{NotFound(PhaseResolve, "assembly", "mscorlib"), KindNotFound},
		{InvalidInput(PhaseWrite, "nil module"), KindInvalidInput},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("%v: kind = %s, want %s", tt.err, tt.err.Kind, tt.kind)
		}
		if tt.err.Error() == "" {
			t.Error("empty message")
		}
	}
}

func TestUnresolvedError(t *testing.T) {
	err := NewUnresolvedError([]string{
		"System.Runtime#System.Object",
		"System.Runtime#System.String",
		"Other#Foo.Bar",
	})
	msg := err.Error()
	for _, s := range []string{"unresolved 3 reference(s)", "System.Runtime:", "- System.Object", "Other:", "- Foo.Bar"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q does not contain %q", msg, s)
		}
	}
	if !errors.Is(err, &UnresolvedError{}) {
		t.Error("expected errors.Is to match type")
	}

	empty := &UnresolvedError{}
	if !strings.Contains(empty.Error(), "no references") {
		t.Errorf("empty message = %q", empty.Error())
	}
}
