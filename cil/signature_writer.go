package cil

import (
	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

// tokenizer hands out TypeDefOrRef tokens for types referenced from
// signatures.
type tokenizer interface {
	typeToken(t Type) (metadata.Token, error)
}

// sigWriter encodes signatures, the inverse of sigReader.
type sigWriter struct {
	tk  tokenizer
	b   *buffer.Buffer
	err error
}

func newSigWriter(tk tokenizer) *sigWriter {
	return &sigWriter{tk: tk, b: buffer.NewWriter(16)}
}

func (w *sigWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.b.Bytes(), nil
}

func (w *sigWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *sigWriter) u8(v byte) { w.b.WriteUint8(v) }

func (w *sigWriter) compressed(v uint32) {
	if err := w.b.WriteCompressedUint32(v); err != nil {
		w.fail(errors.Wrap(errors.PhaseWrite, errors.KindOverflow, err, "signature"))
	}
}

func (w *sigWriter) typeDefOrRef(t Type) {
	tok, err := w.tk.typeToken(t)
	if err != nil {
		w.fail(err)
		return
	}
	v, err := metadata.TypeDefOrRef.Encode(tok)
	if err != nil {
		w.fail(err)
		return
	}
	w.compressed(v)
}

// writeType encodes one type signature.
func (w *sigWriter) writeType(t Type) {
	if w.err != nil {
		return
	}
	switch x := t.(type) {
	case nil:
		w.fail(errors.InvalidInput(errors.PhaseWrite, "nil type in signature"))
	case *TypeReference:
		w.named(x, x.etype)
	case *TypeDefinition:
		w.named(x, x.etype)
	case *GenericParameter:
		w.u8(byte(x.ElementType()))
		w.compressed(uint32(x.Position))
	case *ArrayType:
		if x.IsVector() {
			w.u8(byte(ElementSzArray))
			w.writeType(x.Element)
			return
		}
		w.u8(byte(ElementArray))
		w.writeType(x.Element)
		w.arrayShape(x.Dimensions)
	case *PointerType:
		w.u8(byte(ElementPtr))
		w.writeType(x.Element)
	case *ByReferenceType:
		w.u8(byte(ElementByRef))
		w.writeType(x.Element)
	case *PinnedType:
		w.u8(byte(ElementPinned))
		w.writeType(x.Element)
	case *SentinelType:
		w.u8(byte(ElementSentinel))
		w.writeType(x.Element)
	case *RequiredModifierType:
		w.u8(byte(ElementCModReqd))
		w.typeDefOrRef(x.Modifier)
		w.writeType(x.Element)
	case *OptionalModifierType:
		w.u8(byte(ElementCModOpt))
		w.typeDefOrRef(x.Modifier)
		w.writeType(x.Element)
	case *GenericInstanceType:
		w.u8(byte(ElementGenericInst))
		if x.Element.IsValueType() {
			w.u8(byte(ElementValueType))
		} else {
			w.u8(byte(ElementClass))
		}
		w.typeDefOrRef(x.Element)
		w.compressed(uint32(len(x.Arguments)))
		for _, a := range x.Arguments {
			w.writeType(a)
		}
	case *FunctionPointerType:
		w.u8(byte(ElementFnPtr))
		w.methodSig(x.Signature)
	default:
		w.fail(errors.Unsupported(errors.PhaseWrite, "signature type "+t.FullName()))
	}
}

// named writes a built-in type by its tag and any other type by token.
func (w *sigWriter) named(t Type, etype ElementType) {
	if etype != ElementNone {
		w.u8(byte(etype))
		return
	}
	if t.IsValueType() {
		w.u8(byte(ElementValueType))
	} else {
		w.u8(byte(ElementClass))
	}
	w.typeDefOrRef(t)
}

func (w *sigWriter) arrayShape(dims []ArrayDimension) {
	var sized, bounded int
	for _, d := range dims {
		switch {
		case d.UpperBound != nil:
			sized++
			bounded++
		case d.LowerBound != nil:
			bounded++
		}
	}
	w.compressed(uint32(len(dims)))
	w.compressed(uint32(sized))
	for _, d := range dims[:sized] {
		var lower int32
		if d.LowerBound != nil {
			lower = *d.LowerBound
		}
		upper := lower - 1
		if d.UpperBound != nil {
			upper = *d.UpperBound
		}
		w.compressed(uint32(upper - lower + 1))
	}
	w.compressed(uint32(bounded))
	for _, d := range dims[:bounded] {
		var lower int32
		if d.LowerBound != nil {
			lower = *d.LowerBound
		}
		if err := w.b.WriteCompressedInt32(lower); err != nil {
			w.fail(errors.Wrap(errors.PhaseWrite, errors.KindOverflow, err, "array lower bound"))
		}
	}
}

func (w *sigWriter) methodSig(sig *MethodSignature) {
	cc := sig.CallingConvention & 0x0F
	if sig.HasThis {
		cc |= callHasThis
	}
	if sig.ExplicitThis {
		cc |= callExplicitThis
	}
	if sig.GenericArity > 0 {
		cc |= callGeneric
	}
	w.u8(cc)
	if sig.GenericArity > 0 {
		w.compressed(uint32(sig.GenericArity))
	}
	w.compressed(uint32(len(sig.Parameters)))
	w.writeType(sig.ReturnType)
	for i, p := range sig.Parameters {
		if i == sig.SentinelIndex {
			w.u8(byte(ElementSentinel))
		}
		w.writeType(p)
	}
}

func encodeMethodSig(tk tokenizer, sig *MethodSignature) ([]byte, error) {
	w := newSigWriter(tk)
	w.methodSig(sig)
	return w.bytes()
}

func encodeFieldSig(tk tokenizer, t Type) ([]byte, error) {
	w := newSigWriter(tk)
	w.u8(sigField)
	w.writeType(t)
	return w.bytes()
}

func encodePropertySig(tk tokenizer, sig *MethodSignature) ([]byte, error) {
	w := newSigWriter(tk)
	lead := sigProperty
	if sig.HasThis {
		lead |= callHasThis
	}
	w.u8(lead)
	w.compressed(uint32(len(sig.Parameters)))
	w.writeType(sig.ReturnType)
	for _, p := range sig.Parameters {
		w.writeType(p)
	}
	return w.bytes()
}

func encodeLocalsSig(tk tokenizer, locals []Type) ([]byte, error) {
	w := newSigWriter(tk)
	w.u8(sigLocalVar)
	w.compressed(uint32(len(locals)))
	for _, t := range locals {
		w.writeType(t)
	}
	return w.bytes()
}

func encodeInstantiation(tk tokenizer, args []Type) ([]byte, error) {
	w := newSigWriter(tk)
	w.u8(sigGenericInst)
	w.compressed(uint32(len(args)))
	for _, t := range args {
		w.writeType(t)
	}
	return w.bytes()
}

func encodeTypeSpec(tk tokenizer, t Type) ([]byte, error) {
	w := newSigWriter(tk)
	w.writeType(t)
	return w.bytes()
}
