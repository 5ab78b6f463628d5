package cil

import (
	"slices"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

// eachOwned calls fn for every row of tbl owned by owner. The owner's entry
// is consumed only when every call succeeds.
func (m *Module) eachOwned(tbl metadata.Table, owner metadata.Token, fn func(rid uint32) error) error {
	if m.tables == nil || owner.IsNull() || m.tables.RowCount(tbl) == 0 {
		return nil
	}
	idx, err := m.ms.owned(tbl)
	if err != nil {
		return err
	}
	for _, rid := range idx.peek(owner) {
		if err := fn(rid); err != nil {
			return err
		}
	}
	idx.take(owner)
	return nil
}

func (m *Module) readAssembly() (*AssemblyDefinition, error) {
	if m.tables.RowCount(metadata.TableAssembly) == 0 {
		return nil, nil
	}
	row, err := m.tables.Assembly(1)
	if err != nil {
		return nil, err
	}
	a := &AssemblyDefinition{
		node: readNode(m, metadata.NewToken(metadata.TableAssembly, 1)),
		Version: Version{
			Major:    row.MajorVersion,
			Minor:    row.MinorVersion,
			Build:    row.BuildNumber,
			Revision: row.RevisionNumber,
		},
		Attributes:    row.Flags,
		HashAlgorithm: row.HashAlgID,
	}
	if a.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if a.Culture, err = m.str(row.Culture); err != nil {
		return nil, err
	}
	if a.PublicKey, err = m.blobCopy(row.PublicKey); err != nil {
		return nil, err
	}
	m.decoded()
	return a, nil
}

func (m *Module) readTypes() ([]*TypeDefinition, error) {
	n := m.tables.RowCount(metadata.TableTypeDef)
	out := make([]*TypeDefinition, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		enclosing, err := m.ms.enclosingOf(rid)
		if err != nil {
			return nil, err
		}
		if enclosing != 0 {
			continue
		}
		t, err := m.typeDefLocked(rid)
		if err != nil {
			return nil, err
		}
		if !t.isDeleted() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Module) typeDefLocked(rid uint32) (*TypeDefinition, error) {
	if t := m.ms.types.get(rid); t != nil {
		return t, nil
	}
	tok := metadata.NewToken(metadata.TableTypeDef, rid)
	row, err := m.tables.TypeDef(rid)
	if err != nil {
		return nil, err
	}
	enclosing, err := m.ms.enclosingOf(rid)
	if err != nil {
		return nil, err
	}
	t := &TypeDefinition{
		node:         readNode(m, tok),
		rid:          rid,
		declaringRID: enclosing,
		Attributes:   row.Flags,
		extends:      row.Extends,
	}
	if t.name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if t.namespace, err = m.str(row.Namespace); err != nil {
		return nil, err
	}
	if row.Flags&TypeHasSecurity == 0 {
		t.security = resolvedLazy[[]*SecurityDeclaration](nil)
	}

	base, err := m.typeTokenName(row.Extends)
	if err != nil {
		return nil, err
	}
	switch base {
	case "System.Enum":
		t.valueType, t.enum = true, true
	case "System.ValueType":
		t.valueType = joinName(t.namespace, t.name) != "System.Enum"
	}
	if t.namespace == "System" && enclosing == 0 && m.isCorlibLocked() {
		if et, ok := primitiveByName[t.name]; ok {
			t.etype = et
		}
	}

	m.ms.types.set(rid, t)
	m.decoded()
	return t, nil
}

// typeTokenName returns the full name of a TypeDef or TypeRef row without
// materializing it. Other tokens yield "".
func (m *Module) typeTokenName(tok metadata.Token) (string, error) {
	if tok.IsNull() {
		return "", nil
	}
	switch tok.Table() {
	case metadata.TableTypeDef:
		row, err := m.tables.TypeDef(tok.RID())
		if err != nil {
			return "", err
		}
		return m.joinedName(row.Namespace, row.Name)
	case metadata.TableTypeRef:
		row, err := m.tables.TypeRef(tok.RID())
		if err != nil {
			return "", err
		}
		return m.joinedName(row.Namespace, row.Name)
	}
	return "", nil
}

func (m *Module) joinedName(ns, name metadata.StringIndex) (string, error) {
	n, err := m.str(name)
	if err != nil {
		return "", err
	}
	s, err := m.str(ns)
	if err != nil {
		return "", err
	}
	return joinName(s, n), nil
}

// resolveTypeToken turns a TypeDefOrRef token into a Type. TypeSpecs are
// decoded in ctx on every call.
func (m *Module) resolveTypeToken(tok metadata.Token, ctx genericContext) (Type, error) {
	if tok.IsNull() {
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Token(uint32(tok)).
			Detail("null type token").
			Build()
	}
	switch tok.Table() {
	case metadata.TableTypeDef:
		t, err := m.typeDefLocked(tok.RID())
		if err != nil {
			return nil, err
		}
		return t, nil
	case metadata.TableTypeRef:
		t, err := m.typeRefLocked(tok.RID())
		if err != nil {
			return nil, err
		}
		return t, nil
	case metadata.TableTypeSpec:
		return m.typeSpecLocked(tok.RID(), ctx)
	}
	return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
		Token(uint32(tok)).
		Detail("%s token where a type was expected", tok.Table()).
		Build()
}

func (m *Module) typeSpecLocked(rid uint32, ctx genericContext) (Type, error) {
	row, err := m.tables.TypeSpec(rid)
	if err != nil {
		return nil, err
	}
	tok := metadata.NewToken(metadata.TableTypeSpec, rid)
	if m.ms.specsDecoding[rid] {
		return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Table(metadata.TableTypeSpec.String()).
			Token(uint32(tok)).
			Detail("type specification refers to itself").
			Build()
	}
	m.ms.specsDecoding[rid] = true
	t, err := m.readTypeSpecBlob(row.Signature, ctx)
	delete(m.ms.specsDecoding, rid)
	if err != nil {
		return nil, withToken(err, tok)
	}
	if s, ok := t.(specToken); ok {
		s.setSpecToken(tok)
	}
	m.decoded()
	return t, nil
}

func (m *Module) typeRefLocked(rid uint32) (*TypeReference, error) {
	if r := m.ms.typeRefs.get(rid); r != nil {
		return r, nil
	}
	tok := metadata.NewToken(metadata.TableTypeRef, rid)
	row, err := m.tables.TypeRef(rid)
	if err != nil {
		return nil, err
	}
	ref := &TypeReference{node: readNode(m, tok)}
	if ref.name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if ref.namespace, err = m.str(row.Namespace); err != nil {
		return nil, err
	}

	// Cached before the scope is resolved so a malformed self-nesting chain
	// terminates.
	m.ms.typeRefs.set(rid, ref)
	scope, err := m.scopeLocked(row.ResolutionScope)
	if err != nil {
		m.ms.typeRefs.set(rid, nil)
		return nil, err
	}
	ref.scope = scope
	if ref.namespace == "System" && m.isCorlibScope(scope) {
		if et, ok := primitiveByName[ref.name]; ok {
			ref.etype = et
		}
	}
	m.decoded()
	return ref, nil
}

func (m *Module) scopeLocked(tok metadata.Token) (ResolutionScope, error) {
	if tok.IsNull() {
		return nil, nil
	}
	switch tok.Table() {
	case metadata.TableModule:
		return m, nil
	case metadata.TableModuleRef:
		return m.moduleRefLocked(tok.RID())
	case metadata.TableAssemblyRef:
		return m.assemblyRefLocked(tok.RID())
	case metadata.TableTypeRef:
		return m.typeRefLocked(tok.RID())
	}
	return nil, errors.New(errors.PhaseTables, errors.KindMalformed).
		Token(uint32(tok)).
		Detail("resolution scope %s", tok.Table()).
		Build()
}

func (m *Module) assemblyRefLocked(rid uint32) (*AssemblyNameReference, error) {
	if r := m.ms.assemblyRefs.get(rid); r != nil {
		return r, nil
	}
	row, err := m.tables.AssemblyRef(rid)
	if err != nil {
		return nil, err
	}
	ref := &AssemblyNameReference{
		node: readNode(m, metadata.NewToken(metadata.TableAssemblyRef, rid)),
		Version: Version{
			Major:    row.MajorVersion,
			Minor:    row.MinorVersion,
			Build:    row.BuildNumber,
			Revision: row.RevisionNumber,
		},
		Attributes: row.Flags,
	}
	if ref.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if ref.Culture, err = m.str(row.Culture); err != nil {
		return nil, err
	}
	if ref.PublicKeyOrToken, err = m.blobCopy(row.PublicKeyOrToken); err != nil {
		return nil, err
	}
	if ref.HashValue, err = m.blobCopy(row.HashValue); err != nil {
		return nil, err
	}
	m.ms.assemblyRefs.set(rid, ref)
	m.decoded()
	return ref, nil
}

func (m *Module) moduleRefLocked(rid uint32) (*ModuleReference, error) {
	if r := m.ms.moduleRefs.get(rid); r != nil {
		return r, nil
	}
	row, err := m.tables.ModuleRef(rid)
	if err != nil {
		return nil, err
	}
	ref := &ModuleReference{node: readNode(m, metadata.NewToken(metadata.TableModuleRef, rid))}
	if ref.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	m.ms.moduleRefs.set(rid, ref)
	m.decoded()
	return ref, nil
}

func (m *Module) fileLocked(rid uint32) (*FileReference, error) {
	fs, err := m.filesLocked()
	if err != nil {
		return nil, err
	}
	if rid == 0 || int(rid) > len(fs) {
		return nil, errors.RowOutOfRange(metadata.TableFile.String(), rid, uint32(len(fs)))
	}
	return fs[rid-1], nil
}

func (m *Module) readFiles() ([]*FileReference, error) {
	n := m.tables.RowCount(metadata.TableFile)
	out := make([]*FileReference, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		row, err := m.tables.File(rid)
		if err != nil {
			return nil, err
		}
		f := &FileReference{node: readNode(m, metadata.NewToken(metadata.TableFile, rid)), Flags: row.Flags}
		if f.Name, err = m.str(row.Name); err != nil {
			return nil, err
		}
		if f.HashValue, err = m.blobCopy(row.HashValue); err != nil {
			return nil, err
		}
		out = append(out, f)
		m.decoded()
	}
	return out, nil
}

func (m *Module) readExportedTypes() ([]*ExportedType, error) {
	n := m.tables.RowCount(metadata.TableExportedType)
	out := make([]*ExportedType, n)
	impls := make([]metadata.Token, n)
	for rid := uint32(1); rid <= n; rid++ {
		row, err := m.tables.ExportedType(rid)
		if err != nil {
			return nil, err
		}
		e := &ExportedType{
			node:       readNode(m, metadata.NewToken(metadata.TableExportedType, rid)),
			Attributes: row.Flags,
			TypeDefID:  row.TypeDefID,
		}
		if e.Name, err = m.str(row.Name); err != nil {
			return nil, err
		}
		if e.Namespace, err = m.str(row.Namespace); err != nil {
			return nil, err
		}
		out[rid-1], impls[rid-1] = e, row.Implementation
		m.decoded()
	}
	for i, impl := range impls {
		if impl.IsNull() {
			continue
		}
		var err error
		switch impl.Table() {
		case metadata.TableFile:
			out[i].Implementation, err = m.fileLocked(impl.RID())
		case metadata.TableAssemblyRef:
			out[i].Implementation, err = m.assemblyRefLocked(impl.RID())
		case metadata.TableExportedType:
			if impl.RID() > n {
				err = errors.RowOutOfRange(metadata.TableExportedType.String(), impl.RID(), n)
				break
			}
			out[i].Implementation = out[impl.RID()-1]
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Module) readResources() ([]Resource, error) {
	n := m.tables.RowCount(metadata.TableManifestResource)
	out := make([]Resource, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		row, err := m.tables.ManifestResource(rid)
		if err != nil {
			return nil, err
		}
		base := resourceBase{
			node:       readNode(m, metadata.NewToken(metadata.TableManifestResource, rid)),
			Attributes: row.Flags,
		}
		if base.Name, err = m.str(row.Name); err != nil {
			return nil, err
		}
		impl := row.Implementation
		switch {
		case impl.IsNull():
			out = append(out, &EmbeddedResource{resourceBase: base, offset: row.Offset})
		case impl.Table() == metadata.TableFile:
			f, err := m.fileLocked(impl.RID())
			if err != nil {
				return nil, err
			}
			out = append(out, &LinkedResource{resourceBase: base, File: f})
		case impl.Table() == metadata.TableAssemblyRef:
			a, err := m.assemblyRefLocked(impl.RID())
			if err != nil {
				return nil, err
			}
			out = append(out, &AssemblyLinkedResource{resourceBase: base, Assembly: a})
		default:
			return nil, errors.New(errors.PhaseTables, errors.KindMalformed).
				Token(uint32(base.token)).
				Detail("resource implementation %s", impl.Table()).
				Build()
		}
		m.decoded()
	}
	return out, nil
}

// readEmbeddedResource reads a length-prefixed entry of the resources
// segment.
func (m *Module) readEmbeddedResource(offset uint32) ([]byte, error) {
	if m.image == nil {
		return nil, nil
	}
	b := buffer.New(m.image.Resources)
	if err := b.SetPosition(int(offset)); err != nil {
		return nil, errors.OutOfBounds(errors.PhaseImage, []string{"resources"}, int(offset), len(m.image.Resources))
	}
	n, err := b.ReadUint32()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseImage, int64(offset), 4, b.Remaining())
	}
	data, err := b.ReadBytes(int(n))
	if err != nil {
		return nil, errors.Truncated(errors.PhaseImage, int64(offset)+4, int(n), b.Remaining())
	}
	m.decoded()
	return append([]byte(nil), data...), nil
}

func (m *Module) readFields(t *TypeDefinition) ([]*FieldDefinition, error) {
	if t.token.IsNull() {
		return nil, nil
	}
	x, err := m.ms.list(metadata.TableField)
	if err != nil {
		return nil, err
	}
	rids, err := x.rids(m.tables, x.rangeOf(t.rid))
	if err != nil {
		return nil, err
	}
	out := make([]*FieldDefinition, 0, len(rids))
	for _, rid := range rids {
		f, err := m.fieldLocked(rid)
		if err != nil {
			return nil, err
		}
		if !f.isDeleted() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Module) fieldLocked(rid uint32) (*FieldDefinition, error) {
	if f := m.ms.fields.get(rid); f != nil {
		return f, nil
	}
	row, err := m.tables.Field(rid)
	if err != nil {
		return nil, err
	}
	owner, err := m.ms.declaringTypeOfField(rid)
	if err != nil {
		return nil, err
	}
	if owner != 0 {
		if _, err := m.typeDefLocked(owner); err != nil {
			return nil, err
		}
	}
	f := &FieldDefinition{
		node:         readNode(m, metadata.NewToken(metadata.TableField, rid)),
		declaringRID: owner,
		Attributes:   row.Flags,
		sig:          row.Signature,
	}
	if f.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if row.Flags&FieldHasDefault == 0 {
		f.constant = resolvedLazy[*Constant](nil)
	}
	if row.Flags&FieldHasFieldMarshal == 0 {
		f.marshal = resolvedLazy[MarshalInfo](nil)
	}
	if row.Flags&FieldHasFieldRVA == 0 {
		f.initialValue = resolvedLazy[[]byte](nil)
	} else if f.rva, err = m.readFieldRVA(f.token); err != nil {
		return nil, err
	}
	m.ms.fields.set(rid, f)
	m.decoded()
	return f, nil
}

func (m *Module) readFieldRVA(field metadata.Token) (uint32, error) {
	var rva uint32
	err := m.eachOwned(metadata.TableFieldRVA, field, func(rid uint32) error {
		row, err := m.tables.FieldRVA(rid)
		rva = row.RVA
		return err
	})
	return rva, err
}

func (m *Module) readFieldLayout(field metadata.Token) (*uint32, error) {
	var off *uint32
	err := m.eachOwned(metadata.TableFieldLayout, field, func(rid uint32) error {
		row, err := m.tables.FieldLayout(rid)
		if err != nil {
			return err
		}
		v := row.Offset
		off = &v
		return nil
	})
	return off, err
}

// readInitialValue reads a field's mapped data. The size comes from the
// field type, then the class layout of a value type, then the distance to
// the next mapped field.
func (m *Module) readInitialValue(f *FieldDefinition) ([]byte, error) {
	if f.rva == 0 || m.image == nil {
		return nil, nil
	}
	ft, err := f.fieldTypeLocked()
	if err != nil {
		return nil, err
	}
	size := uint32(ft.ElementType().size())
	if def, ok := ft.(*TypeDefinition); ok && size == 0 && def.module == m {
		l, err := def.layoutLocked()
		if err != nil {
			return nil, err
		}
		if l != nil {
			size = l.ClassSize
		}
	}
	if size == 0 {
		next, err := m.ms.nextFieldRVA(f.rva)
		if err != nil {
			return nil, err
		}
		if next != 0 {
			size = next - f.rva
		}
	}

	var data []byte
	if size > 0 {
		data, err = m.image.ReadAt(f.rva, size)
	} else {
		data, err = m.image.ReadFrom(f.rva)
	}
	if err != nil {
		return nil, errors.New(errors.PhaseImage, errors.KindOutOfBounds).
			Token(uint32(f.token)).
			Detail("field data at RVA 0x%x", f.rva).
			Cause(err).
			Build()
	}
	m.decoded()
	return append([]byte(nil), data...), nil
}

func (m *Module) readConstant(owner metadata.Token) (*Constant, error) {
	var c *Constant
	err := m.eachOwned(metadata.TableConstant, owner, func(rid uint32) error {
		if c != nil {
			return nil
		}
		row, err := m.tables.Constant(rid)
		if err != nil {
			return err
		}
		blob, err := m.heaps.blobs.Get(row.Value)
		if err != nil {
			return err
		}
		v, err := decodeConstant(ElementType(row.Type), blob)
		if err != nil {
			return withToken(err, owner)
		}
		c = &Constant{Type: ElementType(row.Type), Value: v}
		m.decoded()
		return nil
	})
	return c, err
}

func (m *Module) readMarshalInfo(owner metadata.Token) (MarshalInfo, error) {
	var mi MarshalInfo
	err := m.eachOwned(metadata.TableFieldMarshal, owner, func(rid uint32) error {
		row, err := m.tables.FieldMarshal(rid)
		if err != nil {
			return err
		}
		blob, err := m.heaps.blobs.Get(row.NativeType)
		if err != nil {
			return err
		}
		if mi, err = m.decodeMarshal(blob); err != nil {
			return withToken(err, owner)
		}
		m.decoded()
		return nil
	})
	return mi, err
}

func (m *Module) readCustomAttributes(owner metadata.Token) ([]*CustomAttribute, error) {
	var out []*CustomAttribute
	err := m.eachOwned(metadata.TableCustomAttribute, owner, func(rid uint32) error {
		row, err := m.tables.CustomAttribute(rid)
		if err != nil {
			return err
		}
		ctor, err := m.resolveMethodToken(row.Type)
		if err != nil {
			return err
		}
		blob, err := m.heaps.blobs.Get(row.Value)
		if err != nil {
			return err
		}
		out = append(out, &CustomAttribute{module: m, Constructor: ctor, blob: blob})
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) readSecurityDeclarations(owner metadata.Token) ([]*SecurityDeclaration, error) {
	var out []*SecurityDeclaration
	err := m.eachOwned(metadata.TableDeclSecurity, owner, func(rid uint32) error {
		row, err := m.tables.DeclSecurity(rid)
		if err != nil {
			return err
		}
		blob, err := m.heaps.blobs.Get(row.PermissionSet)
		if err != nil {
			return err
		}
		out = append(out, &SecurityDeclaration{module: m, Action: SecurityAction(row.Action), blob: blob})
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) readNestedTypes(t *TypeDefinition) ([]*TypeDefinition, error) {
	var out []*TypeDefinition
	err := m.eachOwned(metadata.TableNestedClass, t.token, func(rid uint32) error {
		row, err := m.tables.NestedClass(rid)
		if err != nil {
			return err
		}
		n, err := m.typeDefLocked(row.NestedClass)
		if err != nil {
			return err
		}
		if !n.isDeleted() {
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) readInterfaces(t *TypeDefinition) ([]*InterfaceImplementation, error) {
	var out []*InterfaceImplementation
	err := m.eachOwned(metadata.TableInterfaceImpl, t.token, func(rid uint32) error {
		row, err := m.tables.InterfaceImpl(rid)
		if err != nil {
			return err
		}
		iface, err := m.resolveTypeToken(row.Interface, typeContext(t))
		if err != nil {
			return err
		}
		out = append(out, &InterfaceImplementation{
			node:          readNode(m, metadata.NewToken(metadata.TableInterfaceImpl, rid)),
			InterfaceType: iface,
		})
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) interfaceImplLocked(rid uint32) (*InterfaceImplementation, error) {
	row, err := m.tables.InterfaceImpl(rid)
	if err != nil {
		return nil, err
	}
	t, err := m.typeDefLocked(row.Class)
	if err != nil {
		return nil, err
	}
	is, err := t.interfacesLocked()
	if err != nil {
		return nil, err
	}
	tok := metadata.NewToken(metadata.TableInterfaceImpl, rid)
	for _, i := range is {
		if i.token == tok {
			return i, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseTables, "interface implementation", tok.String())
}

func (m *Module) readClassLayout(t *TypeDefinition) (*ClassLayout, error) {
	var l *ClassLayout
	err := m.eachOwned(metadata.TableClassLayout, t.token, func(rid uint32) error {
		row, err := m.tables.ClassLayout(rid)
		if err != nil {
			return err
		}
		l = &ClassLayout{PackingSize: row.PackingSize, ClassSize: row.ClassSize}
		return nil
	})
	return l, err
}

func (m *Module) readGenericParameters(owner genericOwner, tok metadata.Token, method bool) ([]*GenericParameter, error) {
	var out []*GenericParameter
	err := m.eachOwned(metadata.TableGenericParam, tok, func(rid uint32) error {
		row, err := m.tables.GenericParam(rid)
		if err != nil {
			return err
		}
		p := &GenericParameter{
			node:       readNode(m, metadata.NewToken(metadata.TableGenericParam, rid)),
			owner:      owner,
			method:     method,
			Position:   int(row.Number),
			Attributes: row.Flags,
		}
		if p.name, err = m.str(row.Name); err != nil {
			return err
		}
		out = append(out, p)
		m.ms.genericParams.set(rid, p)
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *GenericParameter) int { return a.Position - b.Position })
	return out, nil
}

func (m *Module) genericParamLocked(rid uint32) (*GenericParameter, error) {
	if p := m.ms.genericParams.get(rid); p != nil {
		return p, nil
	}
	row, err := m.tables.GenericParam(rid)
	if err != nil {
		return nil, err
	}
	var owner genericOwner
	switch row.Owner.Table() {
	case metadata.TableTypeDef:
		owner, err = m.typeDefLocked(row.Owner.RID())
	case metadata.TableMethod:
		owner, err = m.methodLocked(row.Owner.RID())
	default:
		err = errors.Malformed(errors.PhaseTables, "generic parameter owner %s", row.Owner)
	}
	if err != nil {
		return nil, err
	}
	if _, err := owner.genericParametersLocked(); err != nil {
		return nil, err
	}
	if p := m.ms.genericParams.get(rid); p != nil {
		return p, nil
	}
	return nil, errors.NotFound(errors.PhaseTables, "generic parameter", metadata.NewToken(metadata.TableGenericParam, rid).String())
}

func (m *Module) readGenericConstraints(p *GenericParameter) ([]*GenericParameterConstraint, error) {
	var ctx genericContext
	switch o := p.owner.(type) {
	case *TypeDefinition:
		ctx = typeContext(o)
	case *MethodDefinition:
		ctx = methodContext(o)
	}
	var out []*GenericParameterConstraint
	err := m.eachOwned(metadata.TableGenericParamConstraint, p.token, func(rid uint32) error {
		row, err := m.tables.GenericParamConstraint(rid)
		if err != nil {
			return err
		}
		t, err := m.resolveTypeToken(row.Constraint, ctx)
		if err != nil {
			return err
		}
		out = append(out, &GenericParameterConstraint{
			node:           readNode(m, metadata.NewToken(metadata.TableGenericParamConstraint, rid)),
			ConstraintType: t,
		})
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) readMethods(t *TypeDefinition) ([]*MethodDefinition, error) {
	if t.token.IsNull() {
		return nil, nil
	}
	x, err := m.ms.list(metadata.TableMethod)
	if err != nil {
		return nil, err
	}
	rids, err := x.rids(m.tables, x.rangeOf(t.rid))
	if err != nil {
		return nil, err
	}
	out := make([]*MethodDefinition, 0, len(rids))
	for _, rid := range rids {
		md, err := m.methodLocked(rid)
		if err != nil {
			return nil, err
		}
		if !md.isDeleted() {
			out = append(out, md)
		}
	}
	return out, nil
}

func (m *Module) methodLocked(rid uint32) (*MethodDefinition, error) {
	if md := m.ms.methods.get(rid); md != nil {
		return md, nil
	}
	row, err := m.tables.Method(rid)
	if err != nil {
		return nil, err
	}
	owner, err := m.ms.declaringTypeOfMethod(rid)
	if err != nil {
		return nil, err
	}
	if owner != 0 {
		if _, err := m.typeDefLocked(owner); err != nil {
			return nil, err
		}
	}
	params, err := m.ms.list(metadata.TableParam)
	if err != nil {
		return nil, err
	}
	md := &MethodDefinition{
		node:           readNode(m, metadata.NewToken(metadata.TableMethod, rid)),
		declaringRID:   owner,
		Attributes:     row.Flags,
		ImplAttributes: row.ImplFlags,
		rva:            row.RVA,
		sig:            row.Signature,
		paramRange:     params.rangeOf(rid),
		sentinel:       -1,
	}
	if md.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if row.Flags&MethodPInvokeImpl == 0 {
		md.pinvoke = resolvedLazy[*PInvokeInfo](nil)
	}
	if row.Flags&MethodHasSecurity == 0 {
		md.security = resolvedLazy[[]*SecurityDeclaration](nil)
	}
	sig, err := m.heaps.blobs.Get(row.Signature)
	if err != nil {
		return nil, err
	}
	if len(sig) > 0 {
		md.HasThis = sig[0]&callHasThis != 0
		md.ExplicitThis = sig[0]&callExplicitThis != 0
		md.CallingConvention = sig[0] & 0x0F
	}
	m.ms.methods.set(rid, md)
	m.decoded()
	return md, nil
}

// readParameters builds the parameter list from the signature and attaches
// the Param rows by sequence number.
func (m *Module) readParameters(md *MethodDefinition) (methodParams, error) {
	sig, err := m.readMethodSignature(md.sig, methodContext(md), nil)
	if err != nil {
		return methodParams{}, withToken(err, md.token)
	}
	md.sentinel = sig.SentinelIndex

	ps := methodParams{ret: NewParameterDefinition("", 0, sig.ReturnType)}
	ps.ret.module = m
	for i, t := range sig.Parameters {
		p := NewParameterDefinition("", 0, t)
		p.module, p.sequence = m, uint16(i+1)
		ps.list = append(ps.list, p)
	}

	if md.token.IsNull() || md.paramRange.Length == 0 {
		m.decoded()
		return ps, nil
	}
	x, err := m.ms.list(metadata.TableParam)
	if err != nil {
		return methodParams{}, err
	}
	rids, err := x.rids(m.tables, md.paramRange)
	if err != nil {
		return methodParams{}, err
	}
	for _, rid := range rids {
		row, err := m.tables.Param(rid)
		if err != nil {
			return methodParams{}, err
		}
		var p *ParameterDefinition
		switch {
		case row.Sequence == 0:
			p = ps.ret
		case int(row.Sequence) <= len(ps.list):
			p = ps.list[row.Sequence-1]
		default:
			m.log.Debug("param row past signature arity")
			continue
		}
		p.token = metadata.NewToken(metadata.TableParam, rid)
		p.customAttributes = lazy[[]*CustomAttribute]{}
		p.Attributes = row.Flags
		if p.Name, err = m.str(row.Name); err != nil {
			return methodParams{}, err
		}
		if row.Flags&ParamHasDefault != 0 {
			p.constant = lazy[*Constant]{}
		}
		if row.Flags&ParamHasFieldMarshal != 0 {
			p.marshal = lazy[MarshalInfo]{}
		}
	}
	m.decoded()
	return ps, nil
}

func (m *Module) paramLocked(rid uint32) (*ParameterDefinition, error) {
	x, err := m.ms.list(metadata.TableParam)
	if err != nil {
		return nil, err
	}
	tok := metadata.NewToken(metadata.TableParam, rid)
	owner := x.ownerOf(rid)
	if owner == 0 {
		return nil, errors.NotFound(errors.PhaseTables, "parameter owner", tok.String())
	}
	md, err := m.methodLocked(owner)
	if err != nil {
		return nil, err
	}
	ps, err := md.paramsLocked()
	if err != nil {
		return nil, err
	}
	for _, p := range append([]*ParameterDefinition{ps.ret}, ps.list...) {
		if p.token == tok {
			return p, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseTables, "parameter", tok.String())
}

func (m *Module) readOverrides(md *MethodDefinition) ([]MethodRef, error) {
	var out []MethodRef
	err := m.eachOwned(metadata.TableMethodImpl, md.token, func(rid uint32) error {
		row, err := m.tables.MethodImpl(rid)
		if err != nil {
			return err
		}
		decl, err := m.resolveMethodToken(row.Declaration)
		if err != nil {
			return err
		}
		out = append(out, decl)
		m.decoded()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) readPInvoke(owner metadata.Token) (*PInvokeInfo, error) {
	var info *PInvokeInfo
	err := m.eachOwned(metadata.TableImplMap, owner, func(rid uint32) error {
		row, err := m.tables.ImplMap(rid)
		if err != nil {
			return err
		}
		name, err := m.str(row.ImportName)
		if err != nil {
			return err
		}
		mod, err := m.moduleRefLocked(row.ImportScope)
		if err != nil {
			return err
		}
		info = &PInvokeInfo{Attributes: row.MappingFlags, EntryPoint: name, Module: mod}
		m.decoded()
		return nil
	})
	return info, err
}

func (m *Module) readSemantics(owner metadata.Token) (*semanticMethods, error) {
	s := &semanticMethods{}
	err := m.eachOwned(metadata.TableMethodSemantics, owner, func(rid uint32) error {
		row, err := m.tables.MethodSemantics(rid)
		if err != nil {
			return err
		}
		md, err := m.methodLocked(row.Method)
		if err != nil {
			return err
		}
		switch {
		case row.Semantics&SemanticsGetter != 0:
			s.getter = md
		case row.Semantics&SemanticsSetter != 0:
			s.setter = md
		case row.Semantics&SemanticsAddOn != 0:
			s.adder = md
		case row.Semantics&SemanticsRemoveOn != 0:
			s.remover = md
		case row.Semantics&SemanticsFire != 0:
			s.invoker = md
		default:
			s.other = append(s.other, md)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Module) readProperties(t *TypeDefinition) ([]*PropertyDefinition, error) {
	if t.token.IsNull() {
		return nil, nil
	}
	x, err := m.ms.list(metadata.TableProperty)
	if err != nil {
		return nil, err
	}
	rids, err := x.rids(m.tables, x.rangeOf(t.rid))
	if err != nil {
		return nil, err
	}
	out := make([]*PropertyDefinition, 0, len(rids))
	for _, rid := range rids {
		p, err := m.propertyLocked(rid)
		if err != nil {
			return nil, err
		}
		if !p.isDeleted() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Module) propertyLocked(rid uint32) (*PropertyDefinition, error) {
	if p := m.ms.properties.get(rid); p != nil {
		return p, nil
	}
	x, err := m.ms.list(metadata.TableProperty)
	if err != nil {
		return nil, err
	}
	owner := x.ownerOf(rid)
	if owner != 0 {
		if _, err := m.typeDefLocked(owner); err != nil {
			return nil, err
		}
	}
	row, err := m.tables.Property(rid)
	if err != nil {
		return nil, err
	}
	p := &PropertyDefinition{
		node:         readNode(m, metadata.NewToken(metadata.TableProperty, rid)),
		declaringRID: owner,
		Attributes:   row.Flags,
		sig:          row.Type,
	}
	if p.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if row.Flags&PropertyHasDefault == 0 {
		p.constant = resolvedLazy[*Constant](nil)
	}
	m.ms.properties.set(rid, p)
	m.decoded()
	return p, nil
}

func (m *Module) readEvents(t *TypeDefinition) ([]*EventDefinition, error) {
	if t.token.IsNull() {
		return nil, nil
	}
	x, err := m.ms.list(metadata.TableEvent)
	if err != nil {
		return nil, err
	}
	rids, err := x.rids(m.tables, x.rangeOf(t.rid))
	if err != nil {
		return nil, err
	}
	out := make([]*EventDefinition, 0, len(rids))
	for _, rid := range rids {
		e, err := m.eventLocked(rid)
		if err != nil {
			return nil, err
		}
		if !e.isDeleted() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Module) eventLocked(rid uint32) (*EventDefinition, error) {
	if e := m.ms.events.get(rid); e != nil {
		return e, nil
	}
	x, err := m.ms.list(metadata.TableEvent)
	if err != nil {
		return nil, err
	}
	owner := x.ownerOf(rid)
	if owner != 0 {
		if _, err := m.typeDefLocked(owner); err != nil {
			return nil, err
		}
	}
	row, err := m.tables.Event(rid)
	if err != nil {
		return nil, err
	}
	e := &EventDefinition{
		node:         readNode(m, metadata.NewToken(metadata.TableEvent, rid)),
		declaringRID: owner,
		Attributes:   row.Flags,
		typeToken:    row.EventType,
	}
	if e.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	m.ms.events.set(rid, e)
	m.decoded()
	return e, nil
}

// memberRefLocked returns a *MethodReference or *FieldReference. A field
// signature is recognized by its leading byte.
func (m *Module) memberRefLocked(rid uint32) (any, error) {
	if r := m.ms.memberRefs.get(rid); r != nil {
		return r, nil
	}
	row, err := m.tables.MemberRef(rid)
	if err != nil {
		return nil, err
	}
	tok := metadata.NewToken(metadata.TableMemberRef, rid)
	name, err := m.str(row.Name)
	if err != nil {
		return nil, err
	}
	sig, err := m.heaps.blobs.Get(row.Signature)
	if err != nil {
		return nil, err
	}
	parent, err := m.memberParentLocked(row.Class)
	if err != nil {
		return nil, withToken(err, tok)
	}

	var ref any
	if len(sig) > 0 && sig[0]&0x0F == sigField {
		ref = &FieldReference{node: readNode(m, tok), Name: name, Parent: parent, sig: row.Signature}
	} else {
		ref = &MethodReference{node: readNode(m, tok), Name: name, Parent: parent, sig: row.Signature}
	}
	m.ms.memberRefs.set(rid, ref)
	m.decoded()
	return ref, nil
}

func (m *Module) memberParentLocked(tok metadata.Token) (any, error) {
	if tok.IsNull() {
		return nil, nil
	}
	switch tok.Table() {
	case metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableTypeSpec:
		return m.resolveTypeToken(tok, genericContext{})
	case metadata.TableModuleRef:
		return m.moduleRefLocked(tok.RID())
	case metadata.TableMethod:
		return m.methodLocked(tok.RID())
	}
	return nil, errors.Malformed(errors.PhaseTables, "member reference parent %s", tok.Table())
}

// resolveMethodToken turns a MethodDef, MemberRef or MethodSpec token into
// a method.
func (m *Module) resolveMethodToken(tok metadata.Token) (MethodRef, error) {
	switch tok.Table() {
	case metadata.TableMethod:
		md, err := m.methodLocked(tok.RID())
		if err != nil {
			return nil, err
		}
		return md, nil
	case metadata.TableMemberRef:
		ref, err := m.memberRefLocked(tok.RID())
		if err != nil {
			return nil, err
		}
		if mr, ok := ref.(*MethodReference); ok {
			return mr, nil
		}
	case metadata.TableMethodSpec:
		g, err := m.methodSpecLocked(tok.RID())
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, errors.New(errors.PhaseTables, errors.KindMalformed).
		Token(uint32(tok)).
		Detail("%s token where a method was expected", tok.Table()).
		Build()
}

// methodSpecLocked decodes a MethodSpec. Its instantiation is read without
// a generic context: VAR and MVAR arguments become positional placeholders.
func (m *Module) methodSpecLocked(rid uint32) (*GenericInstanceMethod, error) {
	if g := m.ms.methodSpecs.get(rid); g != nil {
		return g, nil
	}
	row, err := m.tables.MethodSpec(rid)
	if err != nil {
		return nil, err
	}
	tok := metadata.NewToken(metadata.TableMethodSpec, rid)
	method, err := m.resolveMethodToken(row.Method)
	if err != nil {
		return nil, err
	}
	args, err := m.readInstantiation(row.Instantiation, genericContext{})
	if err != nil {
		return nil, withToken(err, tok)
	}
	g := &GenericInstanceMethod{node: readNode(m, tok), Method: method, Arguments: args}
	m.ms.methodSpecs.set(rid, g)
	m.decoded()
	return g, nil
}

// standAloneSigLocked returns the locals ([]Type) or call-site signature
// (*MethodSignature) of a StandAloneSig row.
func (m *Module) standAloneSigLocked(rid uint32) (any, error) {
	row, err := m.tables.StandAloneSig(rid)
	if err != nil {
		return nil, err
	}
	blob, err := m.heaps.blobs.Get(row.Signature)
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 && blob[0] == sigLocalVar {
		return m.readLocalsSignature(row.Signature, genericContext{})
	}
	return m.readMethodSignature(row.Signature, genericContext{}, nil)
}

// loadAllLocked forces every lazy part of the graph except custom attribute
// and security blob arguments.
func (m *Module) loadAllLocked() error {
	a, err := m.assemblyLocked()
	if err != nil {
		return err
	}
	if a != nil {
		if _, err := a.securityLocked(m, a.token); err != nil {
			return err
		}
		if _, err := a.attributesLocked(); err != nil {
			return err
		}
	}
	if _, err := m.attributesLocked(); err != nil {
		return err
	}
	if _, err := m.typeRefsLocked(); err != nil {
		return err
	}
	if _, err := m.assemblyRefsLocked(); err != nil {
		return err
	}
	if _, err := m.moduleRefsLocked(); err != nil {
		return err
	}
	if _, err := m.filesLocked(); err != nil {
		return err
	}
	if _, err := m.exportedTypesLocked(); err != nil {
		return err
	}
	rs, err := m.resourcesLocked()
	if err != nil {
		return err
	}
	for _, r := range rs {
		if e, ok := r.(*EmbeddedResource); ok {
			if _, err := e.dataLocked(); err != nil {
				return err
			}
		}
	}
	if _, err := m.entryPointLocked(); err != nil {
		return err
	}

	types, err := m.allTypesLocked()
	if err != nil {
		return err
	}
	for _, t := range types {
		if err := m.loadTypeLocked(t); err != nil {
			return err
		}
	}

	for rid := uint32(1); rid <= m.tables.RowCount(metadata.TableMemberRef); rid++ {
		ref, err := m.memberRefLocked(rid)
		if err != nil {
			return err
		}
		switch r := ref.(type) {
		case *MethodReference:
			_, err = r.signatureLocked()
		case *FieldReference:
			_, err = r.fieldTypeLocked()
		}
		if err != nil {
			return err
		}
	}
	for rid := uint32(1); rid <= m.tables.RowCount(metadata.TableMethodSpec); rid++ {
		if _, err := m.methodSpecLocked(rid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) loadTypeLocked(t *TypeDefinition) error {
	steps := []func() error{
		func() error { _, err := t.baseTypeLocked(); return err },
		func() error { _, err := t.attributesLocked(); return err },
		func() error { _, err := t.securityLocked(m, t.token); return err },
		func() error { _, err := t.layoutLocked(); return err },
		func() error {
			ps, err := t.genericParametersLocked()
			if err != nil {
				return err
			}
			return loadGenericParams(ps)
		},
		func() error {
			is, err := t.interfacesLocked()
			if err != nil {
				return err
			}
			for _, i := range is {
				if _, err := i.attributesLocked(); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			fs, err := t.fieldsLocked()
			if err != nil {
				return err
			}
			for _, f := range fs {
				if err := loadField(f); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			ms, err := t.methodsLocked()
			if err != nil {
				return err
			}
			for _, md := range ms {
				if err := loadMethod(md); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			ps, err := t.propertiesLocked()
			if err != nil {
				return err
			}
			for _, p := range ps {
				if _, err := p.signatureLocked(); err != nil {
					return err
				}
				if _, err := p.constantLocked(); err != nil {
					return err
				}
				if _, err := p.semanticsLocked(); err != nil {
					return err
				}
				if _, err := p.attributesLocked(); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			es, err := t.eventsLocked()
			if err != nil {
				return err
			}
			for _, e := range es {
				if _, err := e.eventTypeLocked(); err != nil {
					return err
				}
				if _, err := e.semanticsLocked(); err != nil {
					return err
				}
				if _, err := e.attributesLocked(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func loadGenericParams(ps []*GenericParameter) error {
	for _, p := range ps {
		cs, err := p.constraintsLocked()
		if err != nil {
			return err
		}
		if _, err := p.attributesLocked(); err != nil {
			return err
		}
		for _, c := range cs {
			if _, err := c.attributesLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadField(f *FieldDefinition) error {
	if _, err := f.fieldTypeLocked(); err != nil {
		return err
	}
	if _, err := f.constantLocked(); err != nil {
		return err
	}
	if _, err := f.marshalLocked(); err != nil {
		return err
	}
	if _, err := f.offsetLocked(); err != nil {
		return err
	}
	if _, err := f.initialValueLocked(); err != nil {
		return err
	}
	_, err := f.attributesLocked()
	return err
}

func loadMethod(md *MethodDefinition) error {
	gps, err := md.genericParametersLocked()
	if err != nil {
		return err
	}
	if err := loadGenericParams(gps); err != nil {
		return err
	}
	ps, err := md.paramsLocked()
	if err != nil {
		return err
	}
	for _, p := range append([]*ParameterDefinition{ps.ret}, ps.list...) {
		if _, err := p.constantLocked(); err != nil {
			return err
		}
		if _, err := p.marshalLocked(); err != nil {
			return err
		}
		if _, err := p.attributesLocked(); err != nil {
			return err
		}
	}
	if _, err := md.overridesLocked(); err != nil {
		return err
	}
	if _, err := md.pinvokeLocked(); err != nil {
		return err
	}
	if _, err := md.securityLocked(md.module, md.token); err != nil {
		return err
	}
	if _, err := md.bodyLocked(); err != nil {
		return err
	}
	_, err = md.attributesLocked()
	return err
}
