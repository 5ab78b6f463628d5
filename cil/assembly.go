package cil

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/wippyai/cli-metadata/metadata"
)

// Assembly flags.
const (
	AssemblyPublicKey                  uint32 = 0x0001
	AssemblyRetargetable               uint32 = 0x0100
	AssemblyDisableJITcompileOptimizer uint32 = 0x4000
	AssemblyEnableJITcompileTracking   uint32 = 0x8000
)

// Version is a four-part assembly version.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// AssemblyDefinition is the Assembly row of a manifest module.
type AssemblyDefinition struct {
	node
	securable

	Name          string
	Culture       string
	Version       Version
	Attributes    uint32
	HashAlgorithm uint32
	PublicKey     []byte
}

// NewAssemblyDefinition creates an assembly manifest.
func NewAssemblyDefinition(name string, version Version) *AssemblyDefinition {
	return &AssemblyDefinition{
		node:          newNode(),
		securable:     securable{security: resolvedLazy[[]*SecurityDeclaration](nil)},
		Name:          name,
		Version:       version,
		HashAlgorithm: 0x8004,
	}
}

// FullName returns the display name, e.g. "mscorlib, Version=4.0.0.0,
// Culture=neutral, PublicKeyToken=null".
func (a *AssemblyDefinition) FullName() string {
	return displayName(a.Name, a.Version, a.Culture, nil)
}

// SecurityDeclarations returns the assembly-level declarative security.
func (a *AssemblyDefinition) SecurityDeclarations() ([]*SecurityDeclaration, error) {
	defer a.module.lock()()
	return a.securityLocked(a.module, a.token)
}

// AddSecurityDeclaration appends an assembly-level declarative security set.
func (a *AssemblyDefinition) AddSecurityDeclaration(sd *SecurityDeclaration) error {
	defer a.module.lock()()
	return a.addSecurityLocked(a.module, a.token, sd)
}

// AssemblyNameReference is an AssemblyRef row.
type AssemblyNameReference struct {
	node

	Name             string
	Culture          string
	Version          Version
	Attributes       uint32
	PublicKeyOrToken []byte
	HashValue        []byte
}

// NewAssemblyNameReference creates a reference to another assembly.
func NewAssemblyNameReference(name string, version Version, publicKeyToken []byte) *AssemblyNameReference {
	return &AssemblyNameReference{
		node:             newNode(),
		Name:             name,
		Version:          version,
		PublicKeyOrToken: publicKeyToken,
	}
}

func (*AssemblyNameReference) resolutionScope() {}

// ScopeName returns the referenced assembly's simple name.
func (r *AssemblyNameReference) ScopeName() string { return r.Name }

// FullName returns the display name of the referenced assembly.
func (r *AssemblyNameReference) FullName() string {
	return displayName(r.Name, r.Version, r.Culture, r.PublicKeyOrToken)
}

func (r *AssemblyNameReference) String() string { return r.FullName() }

func (r *AssemblyNameReference) key() string {
	return strings.ToLower(r.Name) + "|" + r.Version.String() + "|" + r.Culture
}

func displayName(name string, v Version, culture string, token []byte) string {
	if culture == "" {
		culture = "neutral"
	}
	tok := "null"
	if len(token) > 0 {
		tok = hex.EncodeToString(token)
	}
	return fmt.Sprintf("%s, Version=%s, Culture=%s, PublicKeyToken=%s", name, v, culture, tok)
}

// ModuleReference is a ModuleRef row, the target of P/Invoke imports and
// module-scoped type references.
type ModuleReference struct {
	node
	Name string
}

// NewModuleReference creates a module reference.
func NewModuleReference(name string) *ModuleReference {
	return &ModuleReference{node: newNode(), Name: name}
}

func (*ModuleReference) resolutionScope()    {}
func (r *ModuleReference) ScopeName() string { return r.Name }
func (r *ModuleReference) String() string    { return r.Name }

// File flags.
const (
	FileContainsMetadata   uint32 = 0x0000
	FileContainsNoMetadata uint32 = 0x0001
)

// FileReference is a File row of a multi-file assembly.
type FileReference struct {
	node
	Name      string
	Flags     uint32
	HashValue []byte
}

// NewFileReference creates a File row.
func NewFileReference(name string, flags uint32, hash []byte) *FileReference {
	return &FileReference{node: newNode(), Name: name, Flags: flags, HashValue: hash}
}

// ExportedType is a type forwarded to or defined in another module of the
// assembly.
type ExportedType struct {
	node
	Attributes uint32
	TypeDefID  uint32
	Name       string
	Namespace  string

	// Implementation is a *FileReference, *AssemblyNameReference or the
	// enclosing *ExportedType.
	Implementation any
}

// TypeForwarder marks an exported type that moved to another assembly.
const TypeForwarder uint32 = 0x00200000

// NewExportedType creates an ExportedType row. impl is a *FileReference, an
// *AssemblyNameReference or the enclosing *ExportedType.
func NewExportedType(namespace, name string, attributes uint32, impl any) *ExportedType {
	return &ExportedType{node: newNode(), Attributes: attributes, Name: name, Namespace: namespace, Implementation: impl}
}

// FullName returns the exported type's full name.
func (e *ExportedType) FullName() string {
	if outer, ok := e.Implementation.(*ExportedType); ok {
		return outer.FullName() + "/" + e.Name
	}
	return joinName(e.Namespace, e.Name)
}

// IsForwarder reports whether the type is forwarded to another assembly.
func (e *ExportedType) IsForwarder() bool {
	_, ok := e.Implementation.(*AssemblyNameReference)
	return ok && e.Attributes&TypeForwarder != 0
}

// Manifest resource visibility.
const (
	ResourcePublic  uint32 = 0x0001
	ResourcePrivate uint32 = 0x0002
)

// Resource is a manifest resource: *EmbeddedResource, *LinkedResource or
// *AssemblyLinkedResource.
type Resource interface {
	ResourceName() string
	ResourceAttributes() uint32
	Token() metadata.Token
	resource()
}

type resourceBase struct {
	node
	Name       string
	Attributes uint32
}

func (*resourceBase) resource()                    {}
func (r *resourceBase) ResourceName() string       { return r.Name }
func (r *resourceBase) ResourceAttributes() uint32 { return r.Attributes }

// EmbeddedResource is stored in the image's resources segment.
type EmbeddedResource struct {
	resourceBase
	offset uint32
	data   lazy[[]byte]
}

// NewEmbeddedResource creates an embedded resource holding data.
func NewEmbeddedResource(name string, attributes uint32, data []byte) *EmbeddedResource {
	return &EmbeddedResource{
		resourceBase: resourceBase{node: newNode(), Name: name, Attributes: attributes},
		data:         resolvedLazy(data),
	}
}

// Data returns the resource bytes.
func (r *EmbeddedResource) Data() ([]byte, error) {
	defer r.module.lock()()
	return r.dataLocked()
}

func (r *EmbeddedResource) dataLocked() ([]byte, error) {
	return r.data.force(func() ([]byte, error) {
		return r.module.readEmbeddedResource(r.offset)
	})
}

// SetData replaces the resource bytes.
func (r *EmbeddedResource) SetData(data []byte) {
	defer r.module.lock()()
	r.data.set(data)
}

// LinkedResource lives in a separate file of the assembly.
type LinkedResource struct {
	resourceBase
	File *FileReference
}

// NewLinkedResource creates a resource stored in file.
func NewLinkedResource(name string, attributes uint32, file *FileReference) *LinkedResource {
	return &LinkedResource{
		resourceBase: resourceBase{node: newNode(), Name: name, Attributes: attributes},
		File:         file,
	}
}

// AssemblyLinkedResource lives in another assembly.
type AssemblyLinkedResource struct {
	resourceBase
	Assembly *AssemblyNameReference
}

// NewAssemblyLinkedResource creates a resource stored in assembly.
func NewAssemblyLinkedResource(name string, attributes uint32, assembly *AssemblyNameReference) *AssemblyLinkedResource {
	return &AssemblyLinkedResource{
		resourceBase: resourceBase{node: newNode(), Name: name, Attributes: attributes},
		Assembly:     assembly,
	}
}
