package cil

import (
	"github.com/wippyai/cli-metadata/metadata"
)

// Type attributes (ECMA-335 II.23.1.15).
const (
	TypeVisibilityMask    uint32 = 0x00000007
	TypeNotPublic         uint32 = 0x00000000
	TypePublic            uint32 = 0x00000001
	TypeNestedPublic      uint32 = 0x00000002
	TypeNestedPrivate     uint32 = 0x00000003
	TypeNestedFamily      uint32 = 0x00000004
	TypeNestedAssembly    uint32 = 0x00000005
	TypeNestedFamANDAssem uint32 = 0x00000006
	TypeNestedFamORAssem  uint32 = 0x00000007
	TypeSequentialLayout  uint32 = 0x00000008
	TypeExplicitLayout    uint32 = 0x00000010
	TypeInterface         uint32 = 0x00000020
	TypeAbstract          uint32 = 0x00000080
	TypeSealed            uint32 = 0x00000100
	TypeSpecialName       uint32 = 0x00000400
	TypeImport            uint32 = 0x00001000
	TypeSerializable      uint32 = 0x00002000
	TypeBeforeFieldInit   uint32 = 0x00100000
	TypeRTSpecialName     uint32 = 0x00000800
	TypeHasSecurity       uint32 = 0x00040000
)

// ClassLayout is the explicit packing and size of a type.
type ClassLayout struct {
	PackingSize uint16
	ClassSize   uint32
}

// TypeDefinition is a type defined in the module.
type TypeDefinition struct {
	node
	securable

	// rid is the type's slot in the module arena; it equals the TypeDef row
	// id for types that were read.
	rid          uint32
	declaringRID uint32

	Attributes uint32
	name       string
	namespace  string
	valueType  bool
	enum       bool
	etype      ElementType
	extends    metadata.Token

	baseType      lazy[Type]
	fields        lazy[[]*FieldDefinition]
	methods       lazy[[]*MethodDefinition]
	nested        lazy[[]*TypeDefinition]
	interfaces    lazy[[]*InterfaceImplementation]
	genericParams lazy[[]*GenericParameter]
	properties    lazy[[]*PropertyDefinition]
	events        lazy[[]*EventDefinition]
	layout        lazy[*ClassLayout]
}

// NewTypeDefinition creates an empty type. Add it to a module with
// Module.AddType or to an enclosing type with AddNestedType.
func NewTypeDefinition(namespace, name string, attributes uint32, baseType Type) *TypeDefinition {
	t := &TypeDefinition{
		node:          newNode(),
		securable:     securable{security: resolvedLazy[[]*SecurityDeclaration](nil)},
		Attributes:    attributes,
		name:          name,
		namespace:     namespace,
		fields:        resolvedLazy[[]*FieldDefinition](nil),
		methods:       resolvedLazy[[]*MethodDefinition](nil),
		nested:        resolvedLazy[[]*TypeDefinition](nil),
		interfaces:    resolvedLazy[[]*InterfaceImplementation](nil),
		genericParams: resolvedLazy[[]*GenericParameter](nil),
		properties:    resolvedLazy[[]*PropertyDefinition](nil),
		events:        resolvedLazy[[]*EventDefinition](nil),
		layout:        resolvedLazy[*ClassLayout](nil),
	}
	t.setBaseType(baseType)
	return t
}

func (*TypeDefinition) typeNode()        {}
func (*TypeDefinition) resolutionScope() {}

func (t *TypeDefinition) Name() string      { return t.name }
func (t *TypeDefinition) Namespace() string { return t.namespace }

// SetName renames the type.
func (t *TypeDefinition) SetName(name string) { t.name = name }

// SetNamespace moves the type to another namespace.
func (t *TypeDefinition) SetNamespace(ns string) { t.namespace = ns }

// ScopeName returns the type's full name.
func (t *TypeDefinition) ScopeName() string { return t.FullName() }

func (t *TypeDefinition) FullName() string {
	if outer := t.DeclaringType(); outer != nil {
		return outer.FullName() + "/" + t.name
	}
	return joinName(t.namespace, t.name)
}

func (t *TypeDefinition) String() string { return t.FullName() }

func (t *TypeDefinition) ElementType() ElementType {
	switch {
	case t.etype != ElementNone:
		return t.etype
	case t.valueType:
		return ElementValueType
	}
	return ElementClass
}

func (t *TypeDefinition) IsValueType() bool {
	if t.etype != ElementNone {
		return t.etype.isPrimitiveValueType()
	}
	return t.valueType
}

// IsEnum reports whether the type derives from System.Enum.
func (t *TypeDefinition) IsEnum() bool { return t.enum }

// IsInterface reports whether the type is an interface.
func (t *TypeDefinition) IsInterface() bool { return t.Attributes&TypeInterface != 0 }

// IsNested reports whether the type has an enclosing type.
func (t *TypeDefinition) IsNested() bool { return t.declaringRID != 0 }

// IsPublic reports whether the type is visible outside its assembly.
func (t *TypeDefinition) IsPublic() bool {
	switch t.Attributes & TypeVisibilityMask {
	case TypePublic, TypeNestedPublic:
		return true
	}
	return false
}

// DeclaringType returns the enclosing type of a nested type.
func (t *TypeDefinition) DeclaringType() *TypeDefinition {
	if t.declaringRID == 0 || t.module == nil {
		return nil
	}
	return t.module.ms.types.get(t.declaringRID)
}

func isDeletedName(name string, flags, specialName, rtSpecialName uint32) bool {
	return name == "_Deleted" && flags&specialName != 0 && flags&rtSpecialName != 0
}

func (t *TypeDefinition) isDeleted() bool {
	return isDeletedName(t.name, t.Attributes, TypeSpecialName, TypeRTSpecialName)
}

// BaseType returns the type the definition extends, or nil.
func (t *TypeDefinition) BaseType() (Type, error) {
	defer t.module.lock()()
	return t.baseTypeLocked()
}

func (t *TypeDefinition) baseTypeLocked() (Type, error) {
	return t.baseType.force(func() (Type, error) {
		if t.extends.IsNull() {
			return nil, nil
		}
		return t.module.resolveTypeToken(t.extends, genericContext{typ: t})
	})
}

// SetBaseType replaces the base type.
func (t *TypeDefinition) SetBaseType(base Type) {
	defer t.module.lock()()
	t.setBaseType(base)
}

func (t *TypeDefinition) setBaseType(base Type) {
	t.baseType.set(base)
	t.valueType, t.enum = false, false
	if base == nil {
		return
	}
	switch base.FullName() {
	case "System.Enum":
		t.valueType, t.enum = true, true
	case "System.ValueType":
		t.valueType = t.FullName() != "System.Enum"
	}
}

// Fields returns the fields in declaration order.
func (t *TypeDefinition) Fields() ([]*FieldDefinition, error) {
	defer t.module.lock()()
	return t.fieldsLocked()
}

func (t *TypeDefinition) fieldsLocked() ([]*FieldDefinition, error) {
	return t.fields.force(func() ([]*FieldDefinition, error) {
		return t.module.readFields(t)
	})
}

// AddField appends a field.
func (t *TypeDefinition) AddField(f *FieldDefinition) error {
	defer t.module.lock()()
	fs, err := t.fieldsLocked()
	if err != nil {
		return err
	}
	f.declaringRID = t.rid
	f.attach(t.module)
	t.fields.set(append(fs, f))
	return nil
}

// Methods returns the methods in declaration order.
func (t *TypeDefinition) Methods() ([]*MethodDefinition, error) {
	defer t.module.lock()()
	return t.methodsLocked()
}

func (t *TypeDefinition) methodsLocked() ([]*MethodDefinition, error) {
	return t.methods.force(func() ([]*MethodDefinition, error) {
		return t.module.readMethods(t)
	})
}

// AddMethod appends a method.
func (t *TypeDefinition) AddMethod(md *MethodDefinition) error {
	defer t.module.lock()()
	ms, err := t.methodsLocked()
	if err != nil {
		return err
	}
	md.declaringRID = t.rid
	md.attach(t.module)
	t.methods.set(append(ms, md))
	return nil
}

// FindMethod returns the first method named name, or nil.
func (t *TypeDefinition) FindMethod(name string) (*MethodDefinition, error) {
	ms, err := t.Methods()
	if err != nil {
		return nil, err
	}
	for _, md := range ms {
		if md.Name == name {
			return md, nil
		}
	}
	return nil, nil
}

// FindField returns the field named name, or nil.
func (t *TypeDefinition) FindField(name string) (*FieldDefinition, error) {
	fs, err := t.Fields()
	if err != nil {
		return nil, err
	}
	for _, f := range fs {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, nil
}

// NestedTypes returns the types nested in t.
func (t *TypeDefinition) NestedTypes() ([]*TypeDefinition, error) {
	defer t.module.lock()()
	return t.nestedLocked()
}

func (t *TypeDefinition) nestedLocked() ([]*TypeDefinition, error) {
	return t.nested.force(func() ([]*TypeDefinition, error) {
		return t.module.readNestedTypes(t)
	})
}

// AddNestedType nests n inside t.
func (t *TypeDefinition) AddNestedType(n *TypeDefinition) error {
	defer t.module.lock()()
	ns, err := t.nestedLocked()
	if err != nil {
		return err
	}
	if t.module != nil {
		t.module.adoptType(n)
		n.declaringRID = t.rid
	}
	t.nested.set(append(ns, n))
	return nil
}

// Interfaces returns the interfaces t implements.
func (t *TypeDefinition) Interfaces() ([]*InterfaceImplementation, error) {
	defer t.module.lock()()
	return t.interfacesLocked()
}

func (t *TypeDefinition) interfacesLocked() ([]*InterfaceImplementation, error) {
	return t.interfaces.force(func() ([]*InterfaceImplementation, error) {
		return t.module.readInterfaces(t)
	})
}

// AddInterface records that t implements iface.
func (t *TypeDefinition) AddInterface(iface Type) (*InterfaceImplementation, error) {
	defer t.module.lock()()
	is, err := t.interfacesLocked()
	if err != nil {
		return nil, err
	}
	impl := &InterfaceImplementation{node: newNode(), InterfaceType: iface}
	impl.module = t.module
	t.interfaces.set(append(is, impl))
	return impl, nil
}

// GenericParameters returns the type's generic parameters by position.
func (t *TypeDefinition) GenericParameters() ([]*GenericParameter, error) {
	defer t.module.lock()()
	return t.genericParametersLocked()
}

func (t *TypeDefinition) genericParametersLocked() ([]*GenericParameter, error) {
	return t.genericParams.force(func() ([]*GenericParameter, error) {
		return t.module.readGenericParameters(t, t.token, false)
	})
}

// AddGenericParameter appends a generic parameter at the next position.
func (t *TypeDefinition) AddGenericParameter(p *GenericParameter) error {
	defer t.module.lock()()
	ps, err := t.genericParametersLocked()
	if err != nil {
		return err
	}
	p.owner, p.method, p.Position = t, false, len(ps)
	p.attach(t.module)
	t.genericParams.set(append(ps, p))
	return nil
}

// HasGenericParameters reports whether t is a generic type definition.
func (t *TypeDefinition) HasGenericParameters() (bool, error) {
	ps, err := t.GenericParameters()
	return len(ps) > 0, err
}

// Properties returns the properties of t.
func (t *TypeDefinition) Properties() ([]*PropertyDefinition, error) {
	defer t.module.lock()()
	return t.propertiesLocked()
}

func (t *TypeDefinition) propertiesLocked() ([]*PropertyDefinition, error) {
	return t.properties.force(func() ([]*PropertyDefinition, error) {
		return t.module.readProperties(t)
	})
}

// AddProperty appends a property.
func (t *TypeDefinition) AddProperty(p *PropertyDefinition) error {
	defer t.module.lock()()
	ps, err := t.propertiesLocked()
	if err != nil {
		return err
	}
	p.declaringRID = t.rid
	p.attach(t.module)
	t.properties.set(append(ps, p))
	return nil
}

// Events returns the events of t.
func (t *TypeDefinition) Events() ([]*EventDefinition, error) {
	defer t.module.lock()()
	return t.eventsLocked()
}

func (t *TypeDefinition) eventsLocked() ([]*EventDefinition, error) {
	return t.events.force(func() ([]*EventDefinition, error) {
		return t.module.readEvents(t)
	})
}

// AddEvent appends an event.
func (t *TypeDefinition) AddEvent(e *EventDefinition) error {
	defer t.module.lock()()
	es, err := t.eventsLocked()
	if err != nil {
		return err
	}
	e.declaringRID = t.rid
	e.attach(t.module)
	t.events.set(append(es, e))
	return nil
}

// SecurityDeclarations returns the declarative security of t.
func (t *TypeDefinition) SecurityDeclarations() ([]*SecurityDeclaration, error) {
	defer t.module.lock()()
	return t.securityLocked(t.module, t.token)
}

// AddSecurityDeclaration appends a declarative security set.
func (t *TypeDefinition) AddSecurityDeclaration(sd *SecurityDeclaration) error {
	defer t.module.lock()()
	t.Attributes |= TypeHasSecurity
	return t.addSecurityLocked(t.module, t.token, sd)
}

// Layout returns the explicit class layout, or nil.
func (t *TypeDefinition) Layout() (*ClassLayout, error) {
	defer t.module.lock()()
	return t.layoutLocked()
}

func (t *TypeDefinition) layoutLocked() (*ClassLayout, error) {
	return t.layout.force(func() (*ClassLayout, error) {
		return t.module.readClassLayout(t)
	})
}

// HasLayoutInfo reports whether t has a ClassLayout row.
func (t *TypeDefinition) HasLayoutInfo() (bool, error) {
	l, err := t.Layout()
	return l != nil, err
}

// SetLayout replaces the class layout; nil removes it.
func (t *TypeDefinition) SetLayout(l *ClassLayout) {
	defer t.module.lock()()
	t.layout.set(l)
}

// InterfaceImplementation is one InterfaceImpl row.
type InterfaceImplementation struct {
	node
	InterfaceType Type
}
