package cil

import (
	"github.com/wippyai/cli-metadata/metadata"
)

// Field attributes (ECMA-335 II.23.1.5).
const (
	FieldAccessMask      uint16 = 0x0007
	FieldPrivate         uint16 = 0x0001
	FieldAssembly        uint16 = 0x0003
	FieldFamily          uint16 = 0x0004
	FieldPublic          uint16 = 0x0006
	FieldStatic          uint16 = 0x0010
	FieldInitOnly        uint16 = 0x0020
	FieldLiteral         uint16 = 0x0040
	FieldNotSerialized   uint16 = 0x0080
	FieldHasFieldRVA     uint16 = 0x0100
	FieldSpecialName     uint16 = 0x0200
	FieldRTSpecialName   uint16 = 0x0400
	FieldHasFieldMarshal uint16 = 0x1000
	FieldPInvokeImpl     uint16 = 0x2000
	FieldHasDefault      uint16 = 0x8000
)

// Method attributes (ECMA-335 II.23.1.10).
const (
	MethodAccessMask    uint16 = 0x0007
	MethodPrivate       uint16 = 0x0001
	MethodAssembly      uint16 = 0x0003
	MethodFamily        uint16 = 0x0004
	MethodPublic        uint16 = 0x0006
	MethodStatic        uint16 = 0x0010
	MethodFinal         uint16 = 0x0020
	MethodVirtual       uint16 = 0x0040
	MethodHideBySig     uint16 = 0x0080
	MethodNewSlot       uint16 = 0x0100
	MethodAbstract      uint16 = 0x0400
	MethodSpecialName   uint16 = 0x0800
	MethodRTSpecialName uint16 = 0x1000
	MethodPInvokeImpl   uint16 = 0x2000
	MethodHasSecurity   uint16 = 0x4000
)

// Method implementation attributes.
const (
	MethodImplIL             uint16 = 0x0000
	MethodImplNative         uint16 = 0x0001
	MethodImplRuntime        uint16 = 0x0003
	MethodImplCodeTypeMask   uint16 = 0x0003
	MethodImplUnmanaged      uint16 = 0x0004
	MethodImplNoInlining     uint16 = 0x0008
	MethodImplSynchronized   uint16 = 0x0020
	MethodImplInternalCall   uint16 = 0x1000
	MethodImplPreserveSig    uint16 = 0x0080
	MethodImplAggressiveOpts uint16 = 0x0200
)

// Parameter attributes.
const (
	ParamIn              uint16 = 0x0001
	ParamOut             uint16 = 0x0002
	ParamOptional        uint16 = 0x0010
	ParamHasDefault      uint16 = 0x1000
	ParamHasFieldMarshal uint16 = 0x2000
)

// Property and event attributes.
const (
	PropertySpecialName   uint16 = 0x0200
	PropertyRTSpecialName uint16 = 0x0400
	PropertyHasDefault    uint16 = 0x1000
	EventSpecialName      uint16 = 0x0200
	EventRTSpecialName    uint16 = 0x0400
)

// Method semantics (ECMA-335 II.23.1.12).
const (
	SemanticsSetter   uint16 = 0x0001
	SemanticsGetter   uint16 = 0x0002
	SemanticsOther    uint16 = 0x0004
	SemanticsAddOn    uint16 = 0x0008
	SemanticsRemoveOn uint16 = 0x0010
	SemanticsFire     uint16 = 0x0020
)

// MethodRef is a method usable as a call target: *MethodDefinition,
// *MethodReference or *GenericInstanceMethod.
type MethodRef interface {
	Token() metadata.Token
	MethodName() string
	methodRef()
}

// FieldRef is *FieldDefinition or *FieldReference.
type FieldRef interface {
	Token() metadata.Token
	FieldName() string
	fieldRef()
}

// FieldDefinition is a field declared by a type in the module.
type FieldDefinition struct {
	node
	declaringRID uint32

	Name       string
	Attributes uint16
	sig        metadata.BlobIndex
	rva        uint32

	fieldType    lazy[Type]
	constant     lazy[*Constant]
	marshal      lazy[MarshalInfo]
	offset       lazy[*uint32]
	initialValue lazy[[]byte]
}

// NewFieldDefinition creates a field of type fieldType.
func NewFieldDefinition(name string, attributes uint16, fieldType Type) *FieldDefinition {
	return &FieldDefinition{
		node:         newNode(),
		Name:         name,
		Attributes:   attributes,
		fieldType:    resolvedLazy(fieldType),
		constant:     resolvedLazy[*Constant](nil),
		marshal:      resolvedLazy[MarshalInfo](nil),
		offset:       resolvedLazy[*uint32](nil),
		initialValue: resolvedLazy[[]byte](nil),
	}
}

func (*FieldDefinition) fieldRef()            {}
func (f *FieldDefinition) FieldName() string { return f.Name }
func (f *FieldDefinition) String() string    { return f.Name }

func (f *FieldDefinition) attach(m *Module) {
	if m != nil {
		f.module = m
	}
}

// DeclaringType returns the type that declares the field.
func (f *FieldDefinition) DeclaringType() *TypeDefinition {
	defer f.module.lock()()
	return f.declaringTypeLocked()
}

func (f *FieldDefinition) declaringTypeLocked() *TypeDefinition {
	if f.declaringRID == 0 || f.module == nil {
		return nil
	}
	return f.module.ms.types.get(f.declaringRID)
}

// IsStatic reports whether the field is static.
func (f *FieldDefinition) IsStatic() bool { return f.Attributes&FieldStatic != 0 }

// IsLiteral reports whether the field is a compile-time constant.
func (f *FieldDefinition) IsLiteral() bool { return f.Attributes&FieldLiteral != 0 }

// IsPublic reports whether the field is public.
func (f *FieldDefinition) IsPublic() bool { return f.Attributes&FieldAccessMask == FieldPublic }

func (f *FieldDefinition) isDeleted() bool {
	return isDeletedName(f.Name, uint32(f.Attributes), uint32(FieldSpecialName), uint32(FieldRTSpecialName))
}

// RVA returns the field's original data RVA, or 0.
func (f *FieldDefinition) RVA() uint32 { return f.rva }

// FieldType returns the field's type.
func (f *FieldDefinition) FieldType() (Type, error) {
	defer f.module.lock()()
	return f.fieldTypeLocked()
}

func (f *FieldDefinition) fieldTypeLocked() (Type, error) {
	return f.fieldType.force(func() (Type, error) {
		return f.module.readFieldSignature(f.sig, typeContext(f.declaringTypeLocked()))
	})
}

// SetFieldType replaces the field's type.
func (f *FieldDefinition) SetFieldType(t Type) {
	defer f.module.lock()()
	f.fieldType.set(t)
}

// Constant returns the field's default value, or nil.
func (f *FieldDefinition) Constant() (*Constant, error) {
	defer f.module.lock()()
	return f.constantLocked()
}

func (f *FieldDefinition) constantLocked() (*Constant, error) {
	return f.constant.force(func() (*Constant, error) {
		return f.module.readConstant(f.token)
	})
}

// HasConstant reports whether the field has a default value.
func (f *FieldDefinition) HasConstant() (bool, error) {
	c, err := f.Constant()
	return c != nil, err
}

// SetConstant replaces the default value; nil removes it.
func (f *FieldDefinition) SetConstant(c *Constant) {
	defer f.module.lock()()
	f.constant.set(c)
	f.Attributes = setFlag(f.Attributes, FieldHasDefault, c != nil)
}

// MarshalInfo returns the field's marshaling descriptor, or nil.
func (f *FieldDefinition) MarshalInfo() (MarshalInfo, error) {
	defer f.module.lock()()
	return f.marshalLocked()
}

func (f *FieldDefinition) marshalLocked() (MarshalInfo, error) {
	return f.marshal.force(func() (MarshalInfo, error) {
		return f.module.readMarshalInfo(f.token)
	})
}

// HasMarshalInfo reports whether the field has a marshaling descriptor.
func (f *FieldDefinition) HasMarshalInfo() (bool, error) {
	mi, err := f.MarshalInfo()
	return mi != nil, err
}

// SetMarshalInfo replaces the marshaling descriptor; nil removes it.
func (f *FieldDefinition) SetMarshalInfo(mi MarshalInfo) {
	defer f.module.lock()()
	f.marshal.set(mi)
	f.Attributes = setFlag(f.Attributes, FieldHasFieldMarshal, mi != nil)
}

// Offset returns the explicit layout offset, or nil.
func (f *FieldDefinition) Offset() (*uint32, error) {
	defer f.module.lock()()
	return f.offsetLocked()
}

func (f *FieldDefinition) offsetLocked() (*uint32, error) {
	return f.offset.force(func() (*uint32, error) {
		return f.module.readFieldLayout(f.token)
	})
}

// SetOffset sets the explicit layout offset; nil removes it.
func (f *FieldDefinition) SetOffset(off *uint32) {
	defer f.module.lock()()
	f.offset.set(off)
}

// InitialValue returns the field's mapped data, or nil.
func (f *FieldDefinition) InitialValue() ([]byte, error) {
	defer f.module.lock()()
	return f.initialValueLocked()
}

func (f *FieldDefinition) initialValueLocked() ([]byte, error) {
	return f.initialValue.force(func() ([]byte, error) {
		return f.module.readInitialValue(f)
	})
}

// SetInitialValue replaces the field's mapped data; nil removes it.
func (f *FieldDefinition) SetInitialValue(data []byte) {
	defer f.module.lock()()
	f.initialValue.set(data)
	f.Attributes = setFlag(f.Attributes, FieldHasFieldRVA, data != nil)
}

func setFlag(v, flag uint16, on bool) uint16 {
	if on {
		return v | flag
	}
	return v &^ flag
}

// ParameterDefinition is a method parameter. The return value is modelled
// as the parameter at sequence 0.
type ParameterDefinition struct {
	node
	Name          string
	Attributes    uint16
	ParameterType Type
	sequence      uint16

	constant lazy[*Constant]
	marshal  lazy[MarshalInfo]
}

// NewParameterDefinition creates a parameter of type t.
func NewParameterDefinition(name string, attributes uint16, t Type) *ParameterDefinition {
	return &ParameterDefinition{
		node:          newNode(),
		Name:          name,
		Attributes:    attributes,
		ParameterType: t,
		constant:      resolvedLazy[*Constant](nil),
		marshal:       resolvedLazy[MarshalInfo](nil),
	}
}

// Sequence returns the 1-based parameter position, or 0 for the return value.
func (p *ParameterDefinition) Sequence() uint16 { return p.sequence }

// Constant returns the parameter's default value, or nil.
func (p *ParameterDefinition) Constant() (*Constant, error) {
	defer p.module.lock()()
	return p.constantLocked()
}

func (p *ParameterDefinition) constantLocked() (*Constant, error) {
	return p.constant.force(func() (*Constant, error) {
		return p.module.readConstant(p.token)
	})
}

// HasConstant reports whether the parameter has a default value.
func (p *ParameterDefinition) HasConstant() (bool, error) {
	c, err := p.Constant()
	return c != nil, err
}

// SetConstant replaces the default value; nil removes it.
func (p *ParameterDefinition) SetConstant(c *Constant) {
	defer p.module.lock()()
	p.constant.set(c)
	p.Attributes = setFlag(p.Attributes, ParamHasDefault, c != nil)
}

// MarshalInfo returns the parameter's marshaling descriptor, or nil.
func (p *ParameterDefinition) MarshalInfo() (MarshalInfo, error) {
	defer p.module.lock()()
	return p.marshalLocked()
}

func (p *ParameterDefinition) marshalLocked() (MarshalInfo, error) {
	return p.marshal.force(func() (MarshalInfo, error) {
		return p.module.readMarshalInfo(p.token)
	})
}

// HasMarshalInfo reports whether the parameter has a marshaling descriptor.
func (p *ParameterDefinition) HasMarshalInfo() (bool, error) {
	mi, err := p.MarshalInfo()
	return mi != nil, err
}

// SetMarshalInfo replaces the marshaling descriptor; nil removes it.
func (p *ParameterDefinition) SetMarshalInfo(mi MarshalInfo) {
	defer p.module.lock()()
	p.marshal.set(mi)
	p.Attributes = setFlag(p.Attributes, ParamHasFieldMarshal, mi != nil)
}

// needsRow reports whether the parameter must be written as a Param row.
func (p *ParameterDefinition) needsRow() bool {
	if p.Name != "" || p.Attributes != 0 {
		return true
	}
	cas, _ := p.attributesLocked()
	c, _ := p.constantLocked()
	mi, _ := p.marshalLocked()
	return len(cas) > 0 || c != nil || mi != nil
}

// PInvokeInfo describes a platform-invoke target.
type PInvokeInfo struct {
	Attributes uint16
	EntryPoint string
	Module     *ModuleReference
}

type methodParams struct {
	ret  *ParameterDefinition
	list []*ParameterDefinition
}

// MethodDefinition is a method declared by a type in the module.
type MethodDefinition struct {
	node
	securable
	declaringRID uint32

	Name              string
	Attributes        uint16
	ImplAttributes    uint16
	HasThis           bool
	ExplicitThis      bool
	CallingConvention uint8

	rva uint32
	sig metadata.BlobIndex

	// paramRange is the method's slice of the Param table.
	paramRange metadata.Range

	params        lazy[methodParams]
	sentinel      int
	genericParams lazy[[]*GenericParameter]
	overrides     lazy[[]MethodRef]
	pinvoke       lazy[*PInvokeInfo]
	body          lazy[*MethodBody]
}

// NewMethodDefinition creates a method returning returnType. Instance
// methods (no MethodStatic flag) get HasThis.
func NewMethodDefinition(name string, attributes, implAttributes uint16, returnType Type) *MethodDefinition {
	ret := NewParameterDefinition("", 0, returnType)
	return &MethodDefinition{
		node:           newNode(),
		securable:      securable{security: resolvedLazy[[]*SecurityDeclaration](nil)},
		Name:           name,
		Attributes:     attributes,
		ImplAttributes: implAttributes,
		HasThis:        attributes&MethodStatic == 0,
		params:         resolvedLazy(methodParams{ret: ret}),
		sentinel:       -1,
		genericParams:  resolvedLazy[[]*GenericParameter](nil),
		overrides:      resolvedLazy[[]MethodRef](nil),
		pinvoke:        resolvedLazy[*PInvokeInfo](nil),
		body:           resolvedLazy[*MethodBody](nil),
	}
}

func (*MethodDefinition) methodRef()            {}
func (md *MethodDefinition) MethodName() string { return md.Name }
func (md *MethodDefinition) String() string     { return md.Name }

func (md *MethodDefinition) attach(m *Module) {
	if m == nil {
		return
	}
	md.module = m
	if md.params.resolved() {
		ps := md.params.value
		ps.ret.module = m
		for _, p := range ps.list {
			p.module = m
		}
	}
	if md.genericParams.resolved() {
		for _, p := range md.genericParams.value {
			p.attach(m)
		}
	}
}

// DeclaringType returns the type that declares the method.
func (md *MethodDefinition) DeclaringType() *TypeDefinition {
	defer md.module.lock()()
	return md.declaringTypeLocked()
}

func (md *MethodDefinition) declaringTypeLocked() *TypeDefinition {
	if md.declaringRID == 0 || md.module == nil {
		return nil
	}
	return md.module.ms.types.get(md.declaringRID)
}

// IsStatic reports whether the method is static.
func (md *MethodDefinition) IsStatic() bool { return md.Attributes&MethodStatic != 0 }

// IsVirtual reports whether the method is virtual.
func (md *MethodDefinition) IsVirtual() bool { return md.Attributes&MethodVirtual != 0 }

// IsPublic reports whether the method is public.
func (md *MethodDefinition) IsPublic() bool { return md.Attributes&MethodAccessMask == MethodPublic }

// IsConstructor reports whether the method is .ctor or .cctor.
func (md *MethodDefinition) IsConstructor() bool {
	return md.Attributes&MethodRTSpecialName != 0 && (md.Name == ".ctor" || md.Name == ".cctor")
}

// HasBody reports whether the method carries IL.
func (md *MethodDefinition) HasBody() bool {
	return md.Attributes&(MethodAbstract|MethodPInvokeImpl) == 0 &&
		md.ImplAttributes&MethodImplCodeTypeMask == MethodImplIL &&
		md.ImplAttributes&MethodImplInternalCall == 0
}

// RVA returns the original body RVA, or 0.
func (md *MethodDefinition) RVA() uint32 { return md.rva }

func (md *MethodDefinition) isDeleted() bool {
	return isDeletedName(md.Name, uint32(md.Attributes), uint32(MethodSpecialName), uint32(MethodRTSpecialName))
}

func (md *MethodDefinition) paramsLocked() (methodParams, error) {
	return md.params.force(func() (methodParams, error) {
		return md.module.readParameters(md)
	})
}

// Parameters returns the method's parameters, excluding the return value.
func (md *MethodDefinition) Parameters() ([]*ParameterDefinition, error) {
	defer md.module.lock()()
	ps, err := md.paramsLocked()
	return ps.list, err
}

// ReturnParameter returns the return value pseudo-parameter.
func (md *MethodDefinition) ReturnParameter() (*ParameterDefinition, error) {
	defer md.module.lock()()
	ps, err := md.paramsLocked()
	return ps.ret, err
}

// ReturnType returns the method's return type.
func (md *MethodDefinition) ReturnType() (Type, error) {
	ret, err := md.ReturnParameter()
	if err != nil {
		return nil, err
	}
	return ret.ParameterType, nil
}

// AddParameter appends a parameter.
func (md *MethodDefinition) AddParameter(p *ParameterDefinition) error {
	defer md.module.lock()()
	ps, err := md.paramsLocked()
	if err != nil {
		return err
	}
	p.sequence = uint16(len(ps.list) + 1)
	if md.module != nil {
		p.module = md.module
	}
	ps.list = append(ps.list, p)
	md.params.set(ps)
	return nil
}

// Signature assembles the method's current signature.
func (md *MethodDefinition) Signature() (*MethodSignature, error) {
	defer md.module.lock()()
	return md.signatureLocked()
}

func (md *MethodDefinition) signatureLocked() (*MethodSignature, error) {
	ps, err := md.paramsLocked()
	if err != nil {
		return nil, err
	}
	gps, err := md.genericParametersLocked()
	if err != nil {
		return nil, err
	}
	sig := &MethodSignature{
		HasThis:           md.HasThis,
		ExplicitThis:      md.ExplicitThis,
		CallingConvention: md.CallingConvention,
		GenericArity:      len(gps),
		ReturnType:        ps.ret.ParameterType,
		SentinelIndex:     md.sentinel,
	}
	for _, p := range ps.list {
		sig.Parameters = append(sig.Parameters, p.ParameterType)
	}
	return sig, nil
}

// GenericParameters returns the method's generic parameters by position.
func (md *MethodDefinition) GenericParameters() ([]*GenericParameter, error) {
	defer md.module.lock()()
	return md.genericParametersLocked()
}

func (md *MethodDefinition) genericParametersLocked() ([]*GenericParameter, error) {
	return md.genericParams.force(func() ([]*GenericParameter, error) {
		return md.module.readGenericParameters(md, md.token, true)
	})
}

// AddGenericParameter appends a generic parameter at the next position.
func (md *MethodDefinition) AddGenericParameter(p *GenericParameter) error {
	defer md.module.lock()()
	ps, err := md.genericParametersLocked()
	if err != nil {
		return err
	}
	p.owner, p.method, p.Position = md, true, len(ps)
	p.attach(md.module)
	md.genericParams.set(append(ps, p))
	return nil
}

// Overrides returns the interface or base methods md explicitly implements.
func (md *MethodDefinition) Overrides() ([]MethodRef, error) {
	defer md.module.lock()()
	return md.overridesLocked()
}

func (md *MethodDefinition) overridesLocked() ([]MethodRef, error) {
	return md.overrides.force(func() ([]MethodRef, error) {
		return md.module.readOverrides(md)
	})
}

// AddOverride records that md implements decl.
func (md *MethodDefinition) AddOverride(decl MethodRef) error {
	defer md.module.lock()()
	os, err := md.overridesLocked()
	if err != nil {
		return err
	}
	md.overrides.set(append(os, decl))
	return nil
}

// PInvokeInfo returns the platform-invoke mapping, or nil.
func (md *MethodDefinition) PInvokeInfo() (*PInvokeInfo, error) {
	defer md.module.lock()()
	return md.pinvokeLocked()
}

func (md *MethodDefinition) pinvokeLocked() (*PInvokeInfo, error) {
	return md.pinvoke.force(func() (*PInvokeInfo, error) {
		return md.module.readPInvoke(md.token)
	})
}

// SetPInvokeInfo replaces the platform-invoke mapping.
func (md *MethodDefinition) SetPInvokeInfo(info *PInvokeInfo) {
	defer md.module.lock()()
	md.pinvoke.set(info)
	md.Attributes = setFlag(md.Attributes, MethodPInvokeImpl, info != nil)
}

// Body returns the method body, or nil for methods without IL.
func (md *MethodDefinition) Body() (*MethodBody, error) {
	defer md.module.lock()()
	return md.bodyLocked()
}

func (md *MethodDefinition) bodyLocked() (*MethodBody, error) {
	return md.body.force(func() (*MethodBody, error) {
		return md.module.readMethodBody(md)
	})
}

// SetBody replaces the method body.
func (md *MethodDefinition) SetBody(b *MethodBody) {
	defer md.module.lock()()
	md.body.set(b)
}

// SecurityDeclarations returns the declarative security of md.
func (md *MethodDefinition) SecurityDeclarations() ([]*SecurityDeclaration, error) {
	defer md.module.lock()()
	return md.securityLocked(md.module, md.token)
}

// AddSecurityDeclaration appends a declarative security set.
func (md *MethodDefinition) AddSecurityDeclaration(sd *SecurityDeclaration) error {
	defer md.module.lock()()
	md.Attributes |= MethodHasSecurity
	return md.addSecurityLocked(md.module, md.token, sd)
}

func (p *GenericParameter) attach(m *Module) {
	if m != nil {
		p.module = m
	}
}

// semanticMethods are the accessors of a property or event.
type semanticMethods struct {
	getter, setter *MethodDefinition
	adder, remover *MethodDefinition
	invoker        *MethodDefinition
	other          []*MethodDefinition
}

// PropertyDefinition is a property declared by a type in the module.
type PropertyDefinition struct {
	node
	declaringRID uint32

	Name       string
	Attributes uint16
	sig        metadata.BlobIndex

	signature lazy[*MethodSignature]
	constant  lazy[*Constant]
	semantics lazy[*semanticMethods]
}

// NewPropertyDefinition creates a property of type t.
func NewPropertyDefinition(name string, attributes uint16, t Type) *PropertyDefinition {
	return &PropertyDefinition{
		node:       newNode(),
		Name:       name,
		Attributes: attributes,
		signature:  resolvedLazy(&MethodSignature{ReturnType: t, SentinelIndex: -1}),
		constant:   resolvedLazy[*Constant](nil),
		semantics:  resolvedLazy(&semanticMethods{}),
	}
}

func (p *PropertyDefinition) attach(m *Module) {
	if m != nil {
		p.module = m
	}
}

// DeclaringType returns the type that declares the property.
func (p *PropertyDefinition) DeclaringType() *TypeDefinition {
	defer p.module.lock()()
	return p.declaringTypeLocked()
}

func (p *PropertyDefinition) declaringTypeLocked() *TypeDefinition {
	if p.declaringRID == 0 || p.module == nil {
		return nil
	}
	return p.module.ms.types.get(p.declaringRID)
}

func (p *PropertyDefinition) isDeleted() bool {
	return isDeletedName(p.Name, uint32(p.Attributes), uint32(PropertySpecialName), uint32(PropertyRTSpecialName))
}

func (p *PropertyDefinition) signatureLocked() (*MethodSignature, error) {
	return p.signature.force(func() (*MethodSignature, error) {
		return p.module.readPropertySignature(p.sig, typeContext(p.declaringTypeLocked()))
	})
}

// PropertyType returns the property's type.
func (p *PropertyDefinition) PropertyType() (Type, error) {
	defer p.module.lock()()
	sig, err := p.signatureLocked()
	if err != nil {
		return nil, err
	}
	return sig.ReturnType, nil
}

// IndexParameters returns the parameter types of an indexed property.
func (p *PropertyDefinition) IndexParameters() ([]Type, error) {
	defer p.module.lock()()
	sig, err := p.signatureLocked()
	if err != nil {
		return nil, err
	}
	return sig.Parameters, nil
}

// HasThis reports whether the property is an instance property.
func (p *PropertyDefinition) HasThis() (bool, error) {
	defer p.module.lock()()
	sig, err := p.signatureLocked()
	if err != nil {
		return false, err
	}
	return sig.HasThis, nil
}

// SetSignature replaces the property signature.
func (p *PropertyDefinition) SetSignature(sig *MethodSignature) {
	defer p.module.lock()()
	p.signature.set(sig)
}

// Constant returns the property's default value, or nil.
func (p *PropertyDefinition) Constant() (*Constant, error) {
	defer p.module.lock()()
	return p.constantLocked()
}

func (p *PropertyDefinition) constantLocked() (*Constant, error) {
	return p.constant.force(func() (*Constant, error) {
		return p.module.readConstant(p.token)
	})
}

// SetConstant replaces the default value; nil removes it.
func (p *PropertyDefinition) SetConstant(c *Constant) {
	defer p.module.lock()()
	p.constant.set(c)
	p.Attributes = setFlag(p.Attributes, PropertyHasDefault, c != nil)
}

func (p *PropertyDefinition) semanticsLocked() (*semanticMethods, error) {
	return p.semantics.force(func() (*semanticMethods, error) {
		return p.module.readSemantics(p.token)
	})
}

// GetMethod returns the getter, or nil.
func (p *PropertyDefinition) GetMethod() (*MethodDefinition, error) {
	defer p.module.lock()()
	s, err := p.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.getter, nil
}

// SetMethod returns the setter, or nil.
func (p *PropertyDefinition) SetMethod() (*MethodDefinition, error) {
	defer p.module.lock()()
	s, err := p.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.setter, nil
}

// OtherMethods returns the property's other accessors.
func (p *PropertyDefinition) OtherMethods() ([]*MethodDefinition, error) {
	defer p.module.lock()()
	s, err := p.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.other, nil
}

// SetAccessors replaces the getter and setter.
func (p *PropertyDefinition) SetAccessors(getter, setter *MethodDefinition) error {
	defer p.module.lock()()
	s, err := p.semanticsLocked()
	if err != nil {
		return err
	}
	s.getter, s.setter = getter, setter
	return nil
}

// EventDefinition is an event declared by a type in the module.
type EventDefinition struct {
	node
	declaringRID uint32

	Name       string
	Attributes uint16
	typeToken  metadata.Token

	eventType lazy[Type]
	semantics lazy[*semanticMethods]
}

// NewEventDefinition creates an event whose handler type is t.
func NewEventDefinition(name string, attributes uint16, t Type) *EventDefinition {
	return &EventDefinition{
		node:       newNode(),
		Name:       name,
		Attributes: attributes,
		eventType:  resolvedLazy(t),
		semantics:  resolvedLazy(&semanticMethods{}),
	}
}

func (e *EventDefinition) attach(m *Module) {
	if m != nil {
		e.module = m
	}
}

// DeclaringType returns the type that declares the event.
func (e *EventDefinition) DeclaringType() *TypeDefinition {
	defer e.module.lock()()
	return e.declaringTypeLocked()
}

func (e *EventDefinition) declaringTypeLocked() *TypeDefinition {
	if e.declaringRID == 0 || e.module == nil {
		return nil
	}
	return e.module.ms.types.get(e.declaringRID)
}

func (e *EventDefinition) isDeleted() bool {
	return isDeletedName(e.Name, uint32(e.Attributes), uint32(EventSpecialName), uint32(EventRTSpecialName))
}

// EventType returns the event's delegate type.
func (e *EventDefinition) EventType() (Type, error) {
	defer e.module.lock()()
	return e.eventTypeLocked()
}

func (e *EventDefinition) eventTypeLocked() (Type, error) {
	return e.eventType.force(func() (Type, error) {
		if e.typeToken.IsNull() {
			return nil, nil
		}
		return e.module.resolveTypeToken(e.typeToken, typeContext(e.declaringTypeLocked()))
	})
}

func (e *EventDefinition) semanticsLocked() (*semanticMethods, error) {
	return e.semantics.force(func() (*semanticMethods, error) {
		return e.module.readSemantics(e.token)
	})
}

// AddMethod returns the add accessor, or nil.
func (e *EventDefinition) AddMethod() (*MethodDefinition, error) {
	defer e.module.lock()()
	s, err := e.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.adder, nil
}

// RemoveMethod returns the remove accessor, or nil.
func (e *EventDefinition) RemoveMethod() (*MethodDefinition, error) {
	defer e.module.lock()()
	s, err := e.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.remover, nil
}

// InvokeMethod returns the raise accessor, or nil.
func (e *EventDefinition) InvokeMethod() (*MethodDefinition, error) {
	defer e.module.lock()()
	s, err := e.semanticsLocked()
	if err != nil {
		return nil, err
	}
	return s.invoker, nil
}

// SetAccessors replaces the add and remove accessors.
func (e *EventDefinition) SetAccessors(add, remove *MethodDefinition) error {
	defer e.module.lock()()
	s, err := e.semanticsLocked()
	if err != nil {
		return err
	}
	s.adder, s.remover = add, remove
	return nil
}

// MethodReference is a MemberRef row naming a method.
type MethodReference struct {
	node
	Name string

	// Parent is the declaring Type, a *ModuleReference for global methods or
	// the *MethodDefinition of a vararg call site.
	Parent any

	sig           metadata.BlobIndex
	signature     lazy[*MethodSignature]
	genericParams []*GenericParameter
}

// NewMethodReference creates a reference to a method of declaringType.
func NewMethodReference(name string, declaringType Type, sig *MethodSignature) *MethodReference {
	return &MethodReference{
		node:      newNode(),
		Name:      name,
		Parent:    declaringType,
		signature: resolvedLazy(sig),
	}
}

func (*MethodReference) methodRef()            {}
func (r *MethodReference) MethodName() string { return r.Name }

func (r *MethodReference) String() string {
	if t := r.DeclaringType(); t != nil {
		return t.FullName() + "::" + r.Name
	}
	return r.Name
}

// DeclaringType returns the parent when it is a type.
func (r *MethodReference) DeclaringType() Type {
	t, _ := r.Parent.(Type)
	return t
}

func (r *MethodReference) genericParametersLocked() ([]*GenericParameter, error) {
	return r.genericParams, nil
}

func (r *MethodReference) ensureArity(n int) {
	for i := len(r.genericParams); i < n; i++ {
		r.genericParams = append(r.genericParams, placeholderParameter(r, i, true))
	}
}

// Signature returns the referenced method's signature.
func (r *MethodReference) Signature() (*MethodSignature, error) {
	defer r.module.lock()()
	return r.signatureLocked()
}

func (r *MethodReference) signatureLocked() (*MethodSignature, error) {
	return r.signature.force(func() (*MethodSignature, error) {
		var typ genericOwner
		if t := r.DeclaringType(); t != nil {
			typ = genericOwnerOf(t)
		}
		return r.module.readMethodSignature(r.sig, genericContext{typ: typ, method: r}, r.ensureArity)
	})
}

// FieldReference is a MemberRef row naming a field.
type FieldReference struct {
	node
	Name   string
	Parent any

	sig       metadata.BlobIndex
	fieldType lazy[Type]
}

// NewFieldReference creates a reference to a field of declaringType.
func NewFieldReference(name string, declaringType Type, fieldType Type) *FieldReference {
	return &FieldReference{node: newNode(), Name: name, Parent: declaringType, fieldType: resolvedLazy(fieldType)}
}

func (*FieldReference) fieldRef()            {}
func (r *FieldReference) FieldName() string { return r.Name }

// DeclaringType returns the parent when it is a type.
func (r *FieldReference) DeclaringType() Type {
	t, _ := r.Parent.(Type)
	return t
}

// FieldType returns the referenced field's type.
func (r *FieldReference) FieldType() (Type, error) {
	defer r.module.lock()()
	return r.fieldTypeLocked()
}

func (r *FieldReference) fieldTypeLocked() (Type, error) {
	return r.fieldType.force(func() (Type, error) {
		var typ genericOwner
		if t := r.DeclaringType(); t != nil {
			typ = genericOwnerOf(t)
		}
		return r.module.readFieldSignature(r.sig, genericContext{typ: typ})
	})
}

// GenericInstanceMethod is a MethodSpec: a generic method applied to
// arguments.
type GenericInstanceMethod struct {
	node
	Method    MethodRef
	Arguments []Type
}

func (*GenericInstanceMethod) methodRef() {}

func (g *GenericInstanceMethod) MethodName() string {
	if g.Method == nil {
		return ""
	}
	return g.Method.MethodName()
}

// genericOwnerOf returns the generic context a declaring type provides.
func genericOwnerOf(t Type) genericOwner {
	switch x := elementOf(t).(type) {
	case *TypeDefinition:
		return x
	case *TypeReference:
		return x
	}
	return nil
}
