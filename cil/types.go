package cil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/cli-metadata/metadata"
)

// Type is a node that can appear in a signature or be the target of a
// TypeDefOrRef token: *TypeDefinition, *TypeReference, *GenericParameter and
// the type specification shapes.
type Type interface {
	Name() string
	Namespace() string
	FullName() string
	ElementType() ElementType
	IsValueType() bool
	typeNode()
}

// ResolutionScope is the scope of a type reference: *AssemblyNameReference,
// *ModuleReference, *Module (the current module) or an enclosing
// *TypeReference.
type ResolutionScope interface {
	ScopeName() string
	resolutionScope()
}

// TypeReference names a type defined in another module or assembly.
type TypeReference struct {
	node
	name      string
	namespace string
	scope     ResolutionScope
	valueType bool
	etype     ElementType

	// genericParams holds placeholders for generic arity seen in signatures.
	genericParams []*GenericParameter

	// serName is the spelling used in a custom attribute blob, if any.
	serName string
}

// NewTypeReference creates a reference to namespace.name in scope.
func NewTypeReference(namespace, name string, scope ResolutionScope, valueType bool) *TypeReference {
	return &TypeReference{node: newNode(), namespace: namespace, name: name, scope: scope, valueType: valueType}
}

func (*TypeReference) typeNode()        {}
func (*TypeReference) resolutionScope() {}

func (t *TypeReference) Name() string      { return t.name }
func (t *TypeReference) Namespace() string { return t.namespace }

// Scope returns the resolution scope.
func (t *TypeReference) Scope() ResolutionScope { return t.scope }

// DeclaringType returns the enclosing type of a nested reference.
func (t *TypeReference) DeclaringType() *TypeReference {
	if outer, ok := t.scope.(*TypeReference); ok {
		return outer
	}
	return nil
}

func (t *TypeReference) FullName() string {
	if outer := t.DeclaringType(); outer != nil {
		return outer.FullName() + "/" + t.name
	}
	return joinName(t.namespace, t.name)
}

// ScopeName returns the reference's full name, for references used as the
// scope of nested references.
func (t *TypeReference) ScopeName() string { return t.FullName() }

func (t *TypeReference) ElementType() ElementType {
	switch {
	case t.etype != ElementNone:
		return t.etype
	case t.valueType:
		return ElementValueType
	}
	return ElementClass
}

func (t *TypeReference) IsValueType() bool {
	if t.etype != ElementNone {
		return t.etype.isPrimitiveValueType()
	}
	return t.valueType
}

// SetValueType marks the reference as a value type.
func (t *TypeReference) SetValueType(v bool) { t.valueType = v }

// GenericParameters returns the placeholder parameters recorded for the
// reference by generic instantiations.
func (t *TypeReference) GenericParameters() []*GenericParameter {
	return t.genericParams
}

func (t *TypeReference) String() string { return t.FullName() }

func joinName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// GenericParameter is a type or method generic parameter.
type GenericParameter struct {
	node
	owner      genericOwner
	method     bool
	name       string
	Position   int
	Attributes uint16

	constraints lazy[[]*GenericParameterConstraint]
}

// Generic parameter attributes.
const (
	GenericCovariant                  uint16 = 0x0001
	GenericContravariant              uint16 = 0x0002
	GenericReferenceTypeConstraint    uint16 = 0x0004
	GenericNotNullableValueConstraint uint16 = 0x0008
	GenericDefaultConstructor         uint16 = 0x0010
)

// NewGenericParameter creates a parameter; it becomes positioned when added
// to a type or method.
func NewGenericParameter(name string) *GenericParameter {
	return &GenericParameter{
		node:        newNode(),
		name:        name,
		constraints: resolvedLazy[[]*GenericParameterConstraint](nil),
	}
}

func placeholderParameter(owner genericOwner, position int, method bool) *GenericParameter {
	prefix := "!"
	if method {
		prefix = "!!"
	}
	p := NewGenericParameter(prefix + strconv.Itoa(position))
	p.owner, p.Position, p.method = owner, position, method
	return p
}

func (*GenericParameter) typeNode() {}

func (p *GenericParameter) Name() string      { return p.name }
func (p *GenericParameter) Namespace() string { return "" }
func (p *GenericParameter) FullName() string  { return p.name }

// SetName renames the parameter.
func (p *GenericParameter) SetName(name string) { p.name = name }

func (p *GenericParameter) ElementType() ElementType {
	if p.method {
		return ElementMVar
	}
	return ElementVar
}

func (p *GenericParameter) IsValueType() bool { return false }

// IsMethodParameter reports whether the parameter belongs to a method.
func (p *GenericParameter) IsMethodParameter() bool { return p.method }

// Owner returns the declaring type or method.
func (p *GenericParameter) Owner() any { return p.owner }

// Constraints returns the parameter's constraints.
func (p *GenericParameter) Constraints() ([]*GenericParameterConstraint, error) {
	defer p.module.lock()()
	return p.constraintsLocked()
}

func (p *GenericParameter) constraintsLocked() ([]*GenericParameterConstraint, error) {
	return p.constraints.force(func() ([]*GenericParameterConstraint, error) {
		return p.module.readGenericConstraints(p)
	})
}

// AddConstraint appends a constraint.
func (p *GenericParameter) AddConstraint(t Type) (*GenericParameterConstraint, error) {
	defer p.module.lock()()
	cs, err := p.constraintsLocked()
	if err != nil {
		return nil, err
	}
	c := &GenericParameterConstraint{node: newNode(), ConstraintType: t}
	p.constraints.set(append(cs, c))
	return c, nil
}

// GenericParameterConstraint is one GenericParamConstraint row.
type GenericParameterConstraint struct {
	node
	ConstraintType Type
}

// genericOwner is a type or method that declares generic parameters.
type genericOwner interface {
	genericParametersLocked() ([]*GenericParameter, error)
}

func (t *TypeReference) genericParametersLocked() ([]*GenericParameter, error) {
	return t.genericParams, nil
}

// ensureArity adds placeholder parameters up to n.
func (t *TypeReference) ensureArity(n int) {
	for i := len(t.genericParams); i < n; i++ {
		t.genericParams = append(t.genericParams, placeholderParameter(t, i, false))
	}
}

// typeSpec carries the TypeSpec token of a specification read from a table.
type typeSpec struct {
	token metadata.Token
}

// Token returns the TypeSpec token, or the null token when the shape was not
// read from a TypeSpec row.
func (s *typeSpec) Token() metadata.Token { return s.token }

func (s *typeSpec) setSpecToken(tok metadata.Token) { s.token = tok }

// specToken is implemented by the type specification shapes.
type specToken interface {
	setSpecToken(tok metadata.Token)
}

// ArrayDimension is one dimension of a general array. Nil bounds are
// unspecified.
type ArrayDimension struct {
	LowerBound *int32
	UpperBound *int32
}

func (d ArrayDimension) String() string {
	switch {
	case d.LowerBound == nil && d.UpperBound == nil:
		return ""
	case d.UpperBound == nil:
		return fmt.Sprintf("%d...", *d.LowerBound)
	}
	lo := int32(0)
	if d.LowerBound != nil {
		lo = *d.LowerBound
	}
	return fmt.Sprintf("%d...%d", lo, *d.UpperBound)
}

// ArrayType is a single-dimension zero-based vector (no dimensions) or a
// general array with explicit dimensions.
type ArrayType struct {
	typeSpec
	Element    Type
	Dimensions []ArrayDimension
}

// NewVector creates an SZARRAY of element.
func NewVector(element Type) *ArrayType { return &ArrayType{Element: element} }

func (*ArrayType) typeNode() {}

// IsVector reports whether the array is an SZARRAY.
func (a *ArrayType) IsVector() bool { return len(a.Dimensions) == 0 }

// Rank returns the number of dimensions.
func (a *ArrayType) Rank() int { return max(len(a.Dimensions), 1) }

func (a *ArrayType) suffix() string {
	if a.IsVector() {
		return "[]"
	}
	parts := make([]string, len(a.Dimensions))
	for i, d := range a.Dimensions {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (a *ArrayType) Name() string      { return a.Element.Name() + a.suffix() }
func (a *ArrayType) Namespace() string { return a.Element.Namespace() }
func (a *ArrayType) FullName() string  { return a.Element.FullName() + a.suffix() }
func (a *ArrayType) IsValueType() bool { return false }

func (a *ArrayType) ElementType() ElementType {
	if a.IsVector() {
		return ElementSzArray
	}
	return ElementArray
}

// PointerType is an unmanaged pointer.
type PointerType struct {
	typeSpec
	Element Type
}

func (*PointerType) typeNode()                  {}
func (p *PointerType) Name() string             { return p.Element.Name() + "*" }
func (p *PointerType) Namespace() string        { return p.Element.Namespace() }
func (p *PointerType) FullName() string         { return p.Element.FullName() + "*" }
func (p *PointerType) ElementType() ElementType { return ElementPtr }
func (p *PointerType) IsValueType() bool        { return false }

// ByReferenceType is a managed pointer.
type ByReferenceType struct {
	typeSpec
	Element Type
}

func (*ByReferenceType) typeNode()                  {}
func (b *ByReferenceType) Name() string             { return b.Element.Name() + "&" }
func (b *ByReferenceType) Namespace() string        { return b.Element.Namespace() }
func (b *ByReferenceType) FullName() string         { return b.Element.FullName() + "&" }
func (b *ByReferenceType) ElementType() ElementType { return ElementByRef }
func (b *ByReferenceType) IsValueType() bool        { return false }

// PinnedType marks a pinned local.
type PinnedType struct {
	typeSpec
	Element Type
}

func (*PinnedType) typeNode()                  {}
func (p *PinnedType) Name() string             { return p.Element.Name() + " pinned" }
func (p *PinnedType) Namespace() string        { return p.Element.Namespace() }
func (p *PinnedType) FullName() string         { return p.Element.FullName() + " pinned" }
func (p *PinnedType) ElementType() ElementType { return ElementPinned }
func (p *PinnedType) IsValueType() bool        { return p.Element.IsValueType() }

// SentinelType marks the first vararg parameter of a call site.
type SentinelType struct {
	typeSpec
	Element Type
}

func (*SentinelType) typeNode()                  {}
func (s *SentinelType) Name() string             { return s.Element.Name() }
func (s *SentinelType) Namespace() string        { return s.Element.Namespace() }
func (s *SentinelType) FullName() string         { return s.Element.FullName() }
func (s *SentinelType) ElementType() ElementType { return ElementSentinel }
func (s *SentinelType) IsValueType() bool        { return s.Element.IsValueType() }

// RequiredModifierType is a modreq-annotated type.
type RequiredModifierType struct {
	typeSpec
	Modifier Type
	Element  Type
}

func (*RequiredModifierType) typeNode()           {}
func (r *RequiredModifierType) Name() string      { return r.Element.Name() + r.suffix() }
func (r *RequiredModifierType) Namespace() string { return r.Element.Namespace() }
func (r *RequiredModifierType) FullName() string  { return r.Element.FullName() + r.suffix() }
func (r *RequiredModifierType) suffix() string    { return " modreq(" + r.Modifier.FullName() + ")" }
func (r *RequiredModifierType) IsValueType() bool { return r.Element.IsValueType() }

func (r *RequiredModifierType) ElementType() ElementType { return ElementCModReqd }

// OptionalModifierType is a modopt-annotated type.
type OptionalModifierType struct {
	typeSpec
	Modifier Type
	Element  Type
}

func (*OptionalModifierType) typeNode()           {}
func (o *OptionalModifierType) Name() string      { return o.Element.Name() + o.suffix() }
func (o *OptionalModifierType) Namespace() string { return o.Element.Namespace() }
func (o *OptionalModifierType) FullName() string  { return o.Element.FullName() + o.suffix() }
func (o *OptionalModifierType) suffix() string    { return " modopt(" + o.Modifier.FullName() + ")" }
func (o *OptionalModifierType) IsValueType() bool { return o.Element.IsValueType() }

func (o *OptionalModifierType) ElementType() ElementType { return ElementCModOpt }

// GenericInstanceType is a generic type applied to arguments.
type GenericInstanceType struct {
	typeSpec
	Element   Type
	Arguments []Type
}

func (*GenericInstanceType) typeNode()                  {}
func (g *GenericInstanceType) Name() string             { return g.Element.Name() }
func (g *GenericInstanceType) Namespace() string        { return g.Element.Namespace() }
func (g *GenericInstanceType) ElementType() ElementType { return ElementGenericInst }
func (g *GenericInstanceType) IsValueType() bool        { return g.Element.IsValueType() }

func (g *GenericInstanceType) FullName() string {
	args := make([]string, len(g.Arguments))
	for i, a := range g.Arguments {
		args[i] = a.FullName()
	}
	return g.Element.FullName() + "<" + strings.Join(args, ",") + ">"
}

// FunctionPointerType is a method pointer type.
type FunctionPointerType struct {
	typeSpec
	Signature *MethodSignature
}

func (*FunctionPointerType) typeNode()                  {}
func (f *FunctionPointerType) Name() string             { return "method " + f.Signature.String() }
func (f *FunctionPointerType) Namespace() string        { return "" }
func (f *FunctionPointerType) FullName() string         { return f.Name() }
func (f *FunctionPointerType) ElementType() ElementType { return ElementFnPtr }
func (f *FunctionPointerType) IsValueType() bool        { return false }

// MethodSignature is a decoded method, property or call-site signature.
type MethodSignature struct {
	HasThis           bool
	ExplicitThis      bool
	CallingConvention uint8
	GenericArity      int
	ReturnType        Type
	Parameters        []Type

	// SentinelIndex is the index of the first vararg parameter, or -1.
	SentinelIndex int
}

// IsGeneric reports whether the signature declares generic parameters.
func (s *MethodSignature) IsGeneric() bool { return s.GenericArity > 0 }

func (s *MethodSignature) String() string {
	var sb strings.Builder
	if s.ReturnType != nil {
		sb.WriteString(s.ReturnType.FullName())
	}
	sb.WriteString(" *(")
	for i, p := range s.Parameters {
		if i > 0 {
			sb.WriteByte(',')
		}
		if i == s.SentinelIndex {
			sb.WriteString("...,")
		}
		sb.WriteString(p.FullName())
	}
	sb.WriteByte(')')
	return sb.String()
}

// elementOf unwraps a generic instance to the generic type it applies.
func elementOf(t Type) Type {
	if g, ok := t.(*GenericInstanceType); ok {
		return g.Element
	}
	return t
}
