package cil

import (
	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

const maxArrayRank = 32

// genericContext supplies the owners that VAR and MVAR positions refer to.
// Either may be nil.
type genericContext struct {
	typ    genericOwner
	method genericOwner
}

// typeContext builds a context for members of t, which may be nil.
func typeContext(t *TypeDefinition) genericContext {
	if t == nil {
		return genericContext{}
	}
	return genericContext{typ: t}
}

// methodContext builds a context for the body or signature of md.
func methodContext(md *MethodDefinition) genericContext {
	ctx := typeContext(md.declaringTypeLocked())
	ctx.method = md
	return ctx
}

// sigReader decodes one signature blob. Each decode gets its own reader, so
// nested decodes never share a cursor.
type sigReader struct {
	m   *Module
	b   *buffer.Buffer
	ctx genericContext
}

func (m *Module) sigReaderAt(idx metadata.BlobIndex, ctx genericContext) (*sigReader, error) {
	blob, err := m.heaps.blobs.Get(idx)
	if err != nil {
		return nil, err
	}
	return &sigReader{m: m, b: buffer.New(blob), ctx: ctx}, nil
}

func (r *sigReader) truncated(err error) error {
	return errors.New(errors.PhaseSignature, errors.KindTruncated).
		Offset(int64(r.b.Position())).
		Cause(err).
		Build()
}

func (r *sigReader) u8() (byte, error) {
	v, err := r.b.ReadByte()
	if err != nil {
		return 0, r.truncated(err)
	}
	return v, nil
}

func (r *sigReader) compressed() (uint32, error) {
	v, err := r.b.ReadCompressedUint32()
	if err != nil {
		return 0, r.truncated(err)
	}
	return v, nil
}

func (r *sigReader) expect(lead byte, what string) error {
	got, err := r.u8()
	if err != nil {
		return err
	}
	if got&0x0F != lead&0x0F {
		return errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(got).
			Detail("%s signature starts with 0x%02x", what, got).
			Build()
	}
	return nil
}

func (r *sigReader) typeDefOrRef() (Type, error) {
	v, err := r.compressed()
	if err != nil {
		return nil, err
	}
	tok, err := metadata.TypeDefOrRef.Decode(v)
	if err != nil {
		return nil, err
	}
	return r.m.resolveTypeToken(tok, r.ctx)
}

// readType decodes one type signature (ECMA-335 II.23.2.12).
func (r *sigReader) readType() (Type, error) {
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch et := ElementType(tag); et {
	case ElementVoid, ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8, ElementString,
		ElementTypedByRef, ElementI, ElementU, ElementObject:
		return r.m.corlibType(et), nil

	case ElementPtr:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		return &PointerType{Element: elem}, nil
	case ElementByRef:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		return &ByReferenceType{Element: elem}, nil
	case ElementPinned:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		return &PinnedType{Element: elem}, nil
	case ElementSentinel:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		return &SentinelType{Element: elem}, nil
	case ElementSzArray:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		return NewVector(elem), nil

	case ElementValueType, ElementClass:
		t, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		if ref, ok := t.(*TypeReference); ok && et == ElementValueType {
			ref.valueType = true
		}
		return t, nil

	case ElementCModReqd, ElementCModOpt:
		mod, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		if et == ElementCModReqd {
			return &RequiredModifierType{Modifier: mod, Element: elem}, nil
		}
		return &OptionalModifierType{Modifier: mod, Element: elem}, nil

	case ElementArray:
		return r.readArray()

	case ElementGenericInst:
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		elem, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		arity, err := r.compressed()
		if err != nil {
			return nil, err
		}
		if int(arity) > r.b.Remaining() {
			return nil, errors.Truncated(errors.PhaseSignature, int64(r.b.Position()), int(arity), r.b.Remaining())
		}
		gi := &GenericInstanceType{Element: elem, Arguments: make([]Type, 0, arity)}
		for range arity {
			arg, err := r.readType()
			if err != nil {
				return nil, err
			}
			gi.Arguments = append(gi.Arguments, arg)
		}
		if ref, ok := elem.(*TypeReference); ok {
			ref.ensureArity(int(arity))
			if ElementType(kind) == ElementValueType {
				ref.valueType = true
			}
		}
		return gi, nil

	case ElementVar, ElementMVar:
		pos, err := r.compressed()
		if err != nil {
			return nil, err
		}
		owner := r.ctx.typ
		if et == ElementMVar {
			owner = r.ctx.method
		}
		return genericParameterAt(owner, int(pos), et == ElementMVar)

	case ElementFnPtr:
		sig, err := r.methodSig(nil)
		if err != nil {
			return nil, err
		}
		return &FunctionPointerType{Signature: sig}, nil

	case ElementInternal:
		return nil, errors.Unsupported(errors.PhaseSignature, "ELEMENT_TYPE_INTERNAL")
	}
	return nil, errors.InvalidElementType("type signature", tag)
}

// genericParameterAt resolves a VAR/MVAR position, synthesizing a
// placeholder when the owner declares too few parameters.
func genericParameterAt(owner genericOwner, pos int, method bool) (Type, error) {
	if owner == nil {
		return placeholderParameter(nil, pos, method), nil
	}
	ps, err := owner.genericParametersLocked()
	if err != nil {
		return nil, err
	}
	if pos < len(ps) {
		return ps[pos], nil
	}
	return placeholderParameter(owner, pos, method), nil
}

func (r *sigReader) readArray() (Type, error) {
	elem, err := r.readType()
	if err != nil {
		return nil, err
	}
	rank, err := r.compressed()
	if err != nil {
		return nil, err
	}
	if rank > maxArrayRank {
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(rank).
			Detail("array rank %d", rank).
			Build()
	}
	numSizes, err := r.compressed()
	if err != nil {
		return nil, err
	}
	sizes := make([]uint32, 0, min(numSizes, rank))
	for range numSizes {
		s, err := r.compressed()
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, s)
	}
	numLo, err := r.compressed()
	if err != nil {
		return nil, err
	}
	lows := make([]int32, 0, min(numLo, rank))
	for range numLo {
		lo, err := r.b.ReadCompressedInt32()
		if err != nil {
			return nil, r.truncated(err)
		}
		lows = append(lows, lo)
	}

	dims := make([]ArrayDimension, rank)
	for i := range dims {
		var lower int32
		if i < len(lows) {
			lower = lows[i]
			dims[i].LowerBound = &lower
		}
		if i < len(sizes) {
			upper := lower + int32(sizes[i]) - 1
			dims[i].UpperBound = &upper
		}
	}
	if rank == 0 {
		dims = []ArrayDimension{{}}
	}
	return &ArrayType{Element: elem, Dimensions: dims}, nil
}

// methodSig decodes a method, call-site or function pointer signature. arity,
// if set, is told the generic arity before any parameter is decoded so MVAR
// positions can be resolved.
func (r *sigReader) methodSig(arity func(int)) (*MethodSignature, error) {
	cc, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch cc & 0x0F {
	case sigField, sigLocalVar, sigProperty, sigGenericInst:
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(cc).
			Detail("method signature starts with 0x%02x", cc).
			Build()
	}
	sig := &MethodSignature{
		HasThis:           cc&callHasThis != 0,
		ExplicitThis:      cc&callExplicitThis != 0,
		CallingConvention: cc & 0x0F,
		SentinelIndex:     -1,
	}
	if cc&callGeneric != 0 {
		n, err := r.compressed()
		if err != nil {
			return nil, err
		}
		sig.GenericArity = int(n)
		if arity != nil {
			arity(int(n))
		}
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	if int(count) > r.b.Remaining() {
		return nil, errors.Truncated(errors.PhaseSignature, int64(r.b.Position()), int(count), r.b.Remaining())
	}
	if sig.ReturnType, err = r.readType(); err != nil {
		return nil, err
	}
	sig.Parameters = make([]Type, 0, count)
	for i := range int(count) {
		if c, err := r.b.Peek(); err == nil && ElementType(c) == ElementSentinel {
			_ = r.b.Advance(1)
			sig.SentinelIndex = i
		}
		p, err := r.readType()
		if err != nil {
			return nil, err
		}
		sig.Parameters = append(sig.Parameters, p)
	}
	return sig, nil
}

func (m *Module) readFieldSignature(idx metadata.BlobIndex, ctx genericContext) (Type, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	if err := r.expect(sigField, "field"); err != nil {
		return nil, err
	}
	return r.readType()
}

func (m *Module) readMethodSignature(idx metadata.BlobIndex, ctx genericContext, arity func(int)) (*MethodSignature, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	return r.methodSig(arity)
}

func (m *Module) readPropertySignature(idx metadata.BlobIndex, ctx genericContext) (*MethodSignature, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	lead, err := r.u8()
	if err != nil {
		return nil, err
	}
	if lead&0x0F != sigProperty {
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(lead).
			Detail("property signature starts with 0x%02x", lead).
			Build()
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	sig := &MethodSignature{HasThis: lead&callHasThis != 0, SentinelIndex: -1}
	if sig.ReturnType, err = r.readType(); err != nil {
		return nil, err
	}
	for range count {
		p, err := r.readType()
		if err != nil {
			return nil, err
		}
		sig.Parameters = append(sig.Parameters, p)
	}
	return sig, nil
}

// readLocalsSignature decodes a LOCAL_SIG StandAloneSig blob.
func (m *Module) readLocalsSignature(idx metadata.BlobIndex, ctx genericContext) ([]Type, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	if err := r.expect(sigLocalVar, "local variable"); err != nil {
		return nil, err
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	if int(count) > r.b.Remaining() {
		return nil, errors.Truncated(errors.PhaseSignature, int64(r.b.Position()), int(count), r.b.Remaining())
	}
	locals := make([]Type, 0, count)
	for range count {
		t, err := r.readType()
		if err != nil {
			return nil, err
		}
		locals = append(locals, t)
	}
	return locals, nil
}

// readInstantiation decodes a MethodSpec instantiation blob.
func (m *Module) readInstantiation(idx metadata.BlobIndex, ctx genericContext) ([]Type, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	if err := r.expect(sigGenericInst, "method instantiation"); err != nil {
		return nil, err
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	args := make([]Type, 0, count)
	for range count {
		t, err := r.readType()
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return args, nil
}

// readTypeSpecBlob decodes a TypeSpec row's type signature.
func (m *Module) readTypeSpecBlob(idx metadata.BlobIndex, ctx genericContext) (Type, error) {
	r, err := m.sigReaderAt(idx, ctx)
	if err != nil {
		return nil, err
	}
	return r.readType()
}
