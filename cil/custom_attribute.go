package cil

// CustomAttributeArgument is a typed attribute value.
//
// Value holds a Go value matching Type: bool, rune for char, the sized
// integers, float32, float64, string (nil for a null string), a Type for
// System.Type arguments, []CustomAttributeArgument for arrays (nil for a null
// array) and a CustomAttributeArgument for boxed System.Object arguments.
type CustomAttributeArgument struct {
	Type  Type
	Value any
}

// CustomAttributeNamedArgument is a field or property assignment.
type CustomAttributeNamedArgument struct {
	Name     string
	Argument CustomAttributeArgument
}

type attributeArgs struct {
	ctor       []CustomAttributeArgument
	fields     []CustomAttributeNamedArgument
	properties []CustomAttributeNamedArgument
}

// CustomAttribute is a CustomAttribute row. Its blob is decoded on first
// access to the arguments; an attribute whose arguments were never read is
// written back with its original blob.
type CustomAttribute struct {
	module      *Module
	Constructor MethodRef

	blob []byte
	args lazy[*attributeArgs]
}

// NewCustomAttribute creates an attribute with no arguments.
func NewCustomAttribute(ctor MethodRef) *CustomAttribute {
	return &CustomAttribute{Constructor: ctor, args: resolvedLazy(&attributeArgs{})}
}

// NewCustomAttributeFromBlob creates an attribute whose arguments are the
// encoded blob.
func NewCustomAttributeFromBlob(ctor MethodRef, blob []byte) *CustomAttribute {
	return &CustomAttribute{Constructor: ctor, blob: blob}
}

// AttributeType returns the type that declares the constructor.
func (ca *CustomAttribute) AttributeType() Type {
	switch c := ca.Constructor.(type) {
	case *MethodDefinition:
		if t := c.DeclaringType(); t != nil {
			return t
		}
	case *MethodReference:
		return c.DeclaringType()
	}
	return nil
}

// IsDecoded reports whether the blob has been decoded.
func (ca *CustomAttribute) IsDecoded() bool {
	defer ca.module.lock()()
	return ca.args.resolved()
}

func (ca *CustomAttribute) argsLocked() (*attributeArgs, error) {
	return ca.args.force(func() (*attributeArgs, error) {
		return ca.module.decodeAttribute(ca.Constructor, ca.blob)
	})
}

// ConstructorArguments returns the positional arguments.
func (ca *CustomAttribute) ConstructorArguments() ([]CustomAttributeArgument, error) {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return nil, err
	}
	return a.ctor, nil
}

// Fields returns the named field assignments.
func (ca *CustomAttribute) Fields() ([]CustomAttributeNamedArgument, error) {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return nil, err
	}
	return a.fields, nil
}

// Properties returns the named property assignments.
func (ca *CustomAttribute) Properties() ([]CustomAttributeNamedArgument, error) {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return nil, err
	}
	return a.properties, nil
}

// AddConstructorArgument appends a positional argument.
func (ca *CustomAttribute) AddConstructorArgument(arg CustomAttributeArgument) error {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return err
	}
	a.ctor = append(a.ctor, arg)
	return nil
}

// SetField adds or replaces a named field argument.
func (ca *CustomAttribute) SetField(name string, arg CustomAttributeArgument) error {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return err
	}
	a.fields = setNamed(a.fields, name, arg)
	return nil
}

// SetProperty adds or replaces a named property argument.
func (ca *CustomAttribute) SetProperty(name string, arg CustomAttributeArgument) error {
	defer ca.module.lock()()
	a, err := ca.argsLocked()
	if err != nil {
		return err
	}
	a.properties = setNamed(a.properties, name, arg)
	return nil
}

func setNamed(list []CustomAttributeNamedArgument, name string, arg CustomAttributeArgument) []CustomAttributeNamedArgument {
	for i := range list {
		if list[i].Name == name {
			list[i].Argument = arg
			return list
		}
	}
	return append(list, CustomAttributeNamedArgument{Name: name, Argument: arg})
}

// Blob returns the encoded attribute value.
func (ca *CustomAttribute) Blob() ([]byte, error) {
	defer ca.module.lock()()
	return ca.blobLocked()
}

func (ca *CustomAttribute) blobLocked() ([]byte, error) {
	if !ca.args.resolved() {
		return ca.blob, nil
	}
	return encodeAttribute(ca.module, ca.args.value)
}

// SecurityAction is the action of a declarative security set.
type SecurityAction uint16

const (
	SecurityRequest           SecurityAction = 1
	SecurityDemand            SecurityAction = 2
	SecurityAssert            SecurityAction = 3
	SecurityDeny              SecurityAction = 4
	SecurityPermitOnly        SecurityAction = 5
	SecurityLinkDemand        SecurityAction = 6
	SecurityInheritDemand     SecurityAction = 7
	SecurityRequestMinimum    SecurityAction = 8
	SecurityRequestOptional   SecurityAction = 9
	SecurityRequestRefuse     SecurityAction = 10
	SecurityPreJitGrant       SecurityAction = 11
	SecurityPreJitDeny        SecurityAction = 12
	SecurityNonCasDemand      SecurityAction = 13
	SecurityNonCasLinkDemand  SecurityAction = 14
	SecurityNonCasInheritance SecurityAction = 15
)

// SecurityAttribute is one permission of a security declaration.
type SecurityAttribute struct {
	AttributeType Type
	Fields        []CustomAttributeNamedArgument
	Properties    []CustomAttributeNamedArgument
}

// SecurityDeclaration is a DeclSecurity row. Like custom attributes, it is
// decoded on demand and written back verbatim when never decoded.
type SecurityDeclaration struct {
	module *Module
	Action SecurityAction

	blob       []byte
	attributes lazy[[]*SecurityAttribute]
}

// NewSecurityDeclaration creates an empty declaration.
func NewSecurityDeclaration(action SecurityAction) *SecurityDeclaration {
	return &SecurityDeclaration{Action: action, attributes: resolvedLazy[[]*SecurityAttribute](nil)}
}

// SecurityAttributes returns the permissions of the declaration.
func (sd *SecurityDeclaration) SecurityAttributes() ([]*SecurityAttribute, error) {
	defer sd.module.lock()()
	return sd.attributesLocked()
}

func (sd *SecurityDeclaration) attributesLocked() ([]*SecurityAttribute, error) {
	return sd.attributes.force(func() ([]*SecurityAttribute, error) {
		return sd.module.decodeSecurity(sd.blob)
	})
}

// AddSecurityAttribute appends a permission.
func (sd *SecurityDeclaration) AddSecurityAttribute(a *SecurityAttribute) error {
	defer sd.module.lock()()
	as, err := sd.attributesLocked()
	if err != nil {
		return err
	}
	sd.attributes.set(append(as, a))
	return nil
}

func (sd *SecurityDeclaration) blobLocked() ([]byte, error) {
	if !sd.attributes.resolved() {
		return sd.blob, nil
	}
	return encodeSecurity(sd.module, sd.attributes.value)
}
