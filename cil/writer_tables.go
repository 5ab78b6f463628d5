package cil

import (
	"strconv"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/metadata"
)

// refTable collects the rows of a reference table. Rows are reserved in the
// order nodes are first met and added to the table buffer only at the end, so
// a reference created while building another row never shifts a row id that
// was already handed out.
type refTable struct {
	table metadata.Table
	nodes []any
	rows  []metadata.RowEncoder
	keys  map[any]metadata.Token
}

func newRefTable(t metadata.Table) *refTable {
	return &refTable{table: t, keys: make(map[any]metadata.Token)}
}

func (r *refTable) lookup(key any) (metadata.Token, bool) {
	tok, ok := r.keys[key]
	return tok, ok
}

// reserve takes the next row for node. Keys already bound keep their first
// row.
func (r *refTable) reserve(node any, keys ...any) (metadata.Token, int) {
	r.nodes = append(r.nodes, node)
	r.rows = append(r.rows, nil)
	tok := metadata.NewToken(r.table, uint32(len(r.rows)))
	for _, k := range keys {
		if _, ok := r.keys[k]; !ok {
			r.keys[k] = tok
		}
	}
	return tok, len(r.rows) - 1
}

func (r *refTable) bind(key any, tok metadata.Token) {
	if _, ok := r.keys[key]; !ok {
		r.keys[key] = tok
	}
}

func (r *refTable) flush(tb *metadata.TableBuffer) error {
	for i, row := range r.rows {
		if row == nil {
			return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
				Table(r.table.String()).
				Token(uint32(metadata.NewToken(r.table, uint32(i+1)))).
				Detail("reference row was never built").
				Build()
		}
		if _, err := tb.Add(row); err != nil {
			return err
		}
	}
	return nil
}

// blobKey keys interned blobs of one kind.
type blobKey struct {
	kind string
	blob string
}

// seedReferences reserves the reference rows of the read image in their
// original order so tokens in verbatim IL keep designating the same rows.
func (w *writer) seedReferences() error {
	m := w.m
	asms, err := m.assemblyRefsLocked()
	if err != nil {
		return err
	}
	for _, a := range asms {
		if _, err := w.assemblyRefToken(a); err != nil {
			return err
		}
	}
	mods, err := m.moduleRefsLocked()
	if err != nil {
		return err
	}
	for _, r := range mods {
		w.moduleRefToken(r)
	}
	if m.tables == nil {
		return nil
	}

	refs, err := m.typeRefsLocked()
	if err != nil {
		return err
	}
	for _, r := range refs {
		w.typeRefs.reserve(r, r)
	}
	for i, r := range refs {
		if w.typeRefs.rows[i], err = w.typeRefRow(r); err != nil {
			return err
		}
		scope, _ := w.scopeToken(r.scope)
		w.typeRefs.bind(typeRefKey(scope, r), metadata.NewToken(metadata.TableTypeRef, uint32(i+1)))
	}

	for rid := uint32(1); rid <= m.tables.RowCount(metadata.TableTypeSpec); rid++ {
		t, err := m.typeSpecLocked(rid, genericContext{})
		if err != nil {
			return err
		}
		blob, err := encodeTypeSpec(w, t)
		if err != nil {
			return err
		}
		idx, err := w.blobs.Add(blob)
		if err != nil {
			return err
		}
		_, slot := w.typeSpecs.reserve(t, blobKey{"spec", string(blob)})
		w.typeSpecs.rows[slot] = metadata.TypeSpecRow{Signature: idx}
	}

	n := m.tables.RowCount(metadata.TableMemberRef)
	members := make([]any, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		r, err := m.memberRefLocked(rid)
		if err != nil {
			return err
		}
		w.memberRefs.reserve(r, r)
		members = append(members, r)
	}
	for i, r := range members {
		row, key, err := w.memberRefRow(r)
		if err != nil {
			return err
		}
		w.memberRefs.rows[i] = row
		w.memberRefs.bind(key, metadata.NewToken(metadata.TableMemberRef, uint32(i+1)))
	}

	n = m.tables.RowCount(metadata.TableMethodSpec)
	specs := make([]*GenericInstanceMethod, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		g, err := m.methodSpecLocked(rid)
		if err != nil {
			return err
		}
		w.methodSpecs.reserve(g, g)
		specs = append(specs, g)
	}
	for i, g := range specs {
		row, key, err := w.methodSpecRow(g)
		if err != nil {
			return err
		}
		w.methodSpecs.rows[i] = row
		w.methodSpecs.bind(key, metadata.NewToken(metadata.TableMethodSpec, uint32(i+1)))
	}

	for rid := uint32(1); rid <= m.tables.RowCount(metadata.TableStandAloneSig); rid++ {
		sig, err := m.standAloneSigLocked(rid)
		if err != nil {
			return err
		}
		blob, err := w.standAloneBlob(sig)
		if err != nil {
			return err
		}
		idx, err := w.blobs.Add(blob)
		if err != nil {
			return err
		}
		_, slot := w.sigs.reserve(sig, blobKey{"sig", string(blob)})
		w.sigs.rows[slot] = metadata.StandAloneSigRow{Signature: idx}
	}
	return nil
}

// typeToken implements tokenizer: it returns the TypeDef, TypeRef or
// TypeSpec token of t, adding rows as needed.
func (w *writer) typeToken(t Type) (metadata.Token, error) {
	switch x := t.(type) {
	case nil:
		return 0, errors.InvalidInput(errors.PhaseWrite, "nil type")
	case *TypeDefinition:
		if x.module == w.m {
			if tok, ok := w.defs[x]; ok {
				return tok, nil
			}
			return 0, errors.NotFound(errors.PhaseWrite, "type", x.FullName())
		}
		ref, err := w.importType(x)
		if err != nil {
			return 0, err
		}
		return w.typeRefToken(ref)
	case *TypeReference:
		return w.typeRefToken(x)
	}
	blob, err := encodeTypeSpec(w, t)
	if err != nil {
		return 0, err
	}
	key := blobKey{"spec", string(blob)}
	if tok, ok := w.typeSpecs.lookup(key); ok {
		return tok, nil
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return 0, err
	}
	tok, slot := w.typeSpecs.reserve(t, key)
	w.typeSpecs.rows[slot] = metadata.TypeSpecRow{Signature: idx}
	return tok, nil
}

func typeRefKey(scope metadata.Token, r *TypeReference) string {
	return strconv.FormatUint(uint64(scope), 16) + "|" + r.namespace + "|" + r.name
}

func (w *writer) typeRefToken(r *TypeReference) (metadata.Token, error) {
	if tok, ok := w.typeRefs.lookup(r); ok {
		return tok, nil
	}
	scope, err := w.scopeToken(r.scope)
	if err != nil {
		return 0, err
	}
	key := typeRefKey(scope, r)
	if tok, ok := w.typeRefs.lookup(key); ok {
		w.typeRefs.bind(r, tok)
		return tok, nil
	}
	tok, slot := w.typeRefs.reserve(r, r, key)
	w.typeRefs.rows[slot] = metadata.TypeRefRow{
		ResolutionScope: scope,
		Name:            w.strs.Add(r.name),
		Namespace:       w.strs.Add(r.namespace),
	}
	return tok, nil
}

func (w *writer) typeRefRow(r *TypeReference) (metadata.RowEncoder, error) {
	scope, err := w.scopeToken(r.scope)
	if err != nil {
		return nil, err
	}
	return metadata.TypeRefRow{
		ResolutionScope: scope,
		Name:            w.strs.Add(r.name),
		Namespace:       w.strs.Add(r.namespace),
	}, nil
}

func (w *writer) scopeToken(scope ResolutionScope) (metadata.Token, error) {
	switch s := scope.(type) {
	case nil:
		return 0, nil
	case *Module:
		if s == w.m {
			return metadata.NewToken(metadata.TableModule, 1), nil
		}
		var ref *AssemblyNameReference
		err := w.held.do(s, func() error {
			a, err := s.assemblyLocked()
			if err != nil {
				return err
			}
			if a == nil {
				return errors.NotFound(errors.PhaseWrite, "assembly of module", s.Name)
			}
			ref = w.m.assemblyRefNamed(a.FullName())
			return nil
		})
		if err != nil {
			return 0, err
		}
		return w.assemblyRefToken(ref)
	case *AssemblyNameReference:
		return w.assemblyRefToken(s)
	case *ModuleReference:
		return w.moduleRefToken(s), nil
	case *TypeReference:
		return w.typeRefToken(s)
	case *TypeDefinition:
		return w.typeToken(s)
	}
	return 0, errors.Unsupported(errors.PhaseWrite, "resolution scope "+scope.ScopeName())
}

func (w *writer) assemblyRefToken(r *AssemblyNameReference) (metadata.Token, error) {
	if tok, ok := w.asmRefs.lookup(r); ok {
		return tok, nil
	}
	key := "asm:" + r.key()
	if tok, ok := w.asmRefs.lookup(key); ok {
		w.asmRefs.bind(r, tok)
		return tok, nil
	}
	key2, err := w.blobs.Add(r.PublicKeyOrToken)
	if err != nil {
		return 0, err
	}
	hash, err := w.blobs.Add(r.HashValue)
	if err != nil {
		return 0, err
	}
	tok, slot := w.asmRefs.reserve(r, r, key)
	w.asmRefs.rows[slot] = metadata.AssemblyRefRow{
		MajorVersion:     r.Version.Major,
		MinorVersion:     r.Version.Minor,
		BuildNumber:      r.Version.Build,
		RevisionNumber:   r.Version.Revision,
		Flags:            r.Attributes,
		PublicKeyOrToken: key2,
		Name:             w.strs.Add(r.Name),
		Culture:          w.strs.Add(r.Culture),
		HashValue:        hash,
	}
	return tok, nil
}

func (w *writer) moduleRefToken(r *ModuleReference) metadata.Token {
	if tok, ok := w.modRefs.lookup(r); ok {
		return tok
	}
	key := "mod:" + r.Name
	if tok, ok := w.modRefs.lookup(key); ok {
		w.modRefs.bind(r, tok)
		return tok
	}
	tok, slot := w.modRefs.reserve(r, r, key)
	w.modRefs.rows[slot] = metadata.ModuleRefRow{Name: w.strs.Add(r.Name)}
	return tok
}

// methodToken returns the MethodDef, MemberRef or MethodSpec token of a call
// target.
func (w *writer) methodToken(mr MethodRef) (metadata.Token, error) {
	switch x := mr.(type) {
	case nil:
		return 0, errors.InvalidInput(errors.PhaseWrite, "nil method")
	case *MethodDefinition:
		if x.module == w.m {
			if tok, ok := w.defs[x]; ok {
				return tok, nil
			}
			return 0, errors.NotFound(errors.PhaseWrite, "method", x.Name)
		}
		ref, err := w.importMethod(x)
		if err != nil {
			return 0, err
		}
		return w.memberRefToken(ref)
	case *MethodReference:
		return w.memberRefToken(x)
	case *GenericInstanceMethod:
		return w.methodSpecToken(x)
	}
	return 0, errors.Unsupported(errors.PhaseWrite, "method "+mr.MethodName())
}

func (w *writer) fieldToken(fr FieldRef) (metadata.Token, error) {
	switch x := fr.(type) {
	case *FieldDefinition:
		if x.module == w.m {
			if tok, ok := w.defs[x]; ok {
				return tok, nil
			}
			return 0, errors.NotFound(errors.PhaseWrite, "field", x.Name)
		}
		ref, err := w.importField(x)
		if err != nil {
			return 0, err
		}
		return w.memberRefToken(ref)
	case *FieldReference:
		return w.memberRefToken(x)
	}
	return 0, errors.Unsupported(errors.PhaseWrite, "field "+fr.FieldName())
}

func (w *writer) memberRefToken(r any) (metadata.Token, error) {
	if tok, ok := w.memberRefs.lookup(r); ok {
		return tok, nil
	}
	row, key, err := w.memberRefRow(r)
	if err != nil {
		return 0, err
	}
	if tok, ok := w.memberRefs.lookup(key); ok {
		w.memberRefs.bind(r, tok)
		return tok, nil
	}
	tok, slot := w.memberRefs.reserve(r, r, key)
	w.memberRefs.rows[slot] = row
	return tok, nil
}

// memberRefRow builds the row of a *MethodReference or *FieldReference and
// the key identical references share.
func (w *writer) memberRefRow(r any) (metadata.RowEncoder, string, error) {
	var (
		name   string
		parent any
		blob   []byte
	)
	switch x := r.(type) {
	case *MethodReference:
		name, parent = x.Name, x.Parent
		err := w.held.do(x.module, func() error {
			sig, err := x.signatureLocked()
			if err != nil {
				return err
			}
			blob, err = encodeMethodSig(w, sig)
			return err
		})
		if err != nil {
			return nil, "", err
		}
	case *FieldReference:
		name, parent = x.Name, x.Parent
		err := w.held.do(x.module, func() error {
			ft, err := x.fieldTypeLocked()
			if err != nil {
				return err
			}
			blob, err = encodeFieldSig(w, ft)
			return err
		})
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", errors.Unsupported(errors.PhaseWrite, "member reference")
	}

	class, err := w.memberParentToken(parent)
	if err != nil {
		return nil, "", err
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return nil, "", err
	}
	key := "mref:" + strconv.FormatUint(uint64(class), 16) + "|" + name + "|" + string(blob)
	return metadata.MemberRefRow{Class: class, Name: w.strs.Add(name), Signature: idx}, key, nil
}

func (w *writer) memberParentToken(parent any) (metadata.Token, error) {
	switch p := parent.(type) {
	case Type:
		return w.typeToken(p)
	case *ModuleReference:
		return w.moduleRefToken(p), nil
	case *MethodDefinition:
		return w.methodToken(p)
	case nil:
		return 0, errors.InvalidInput(errors.PhaseWrite, "member reference without parent")
	}
	return 0, errors.Unsupported(errors.PhaseWrite, "member reference parent")
}

func (w *writer) methodSpecToken(g *GenericInstanceMethod) (metadata.Token, error) {
	if tok, ok := w.methodSpecs.lookup(g); ok {
		return tok, nil
	}
	row, key, err := w.methodSpecRow(g)
	if err != nil {
		return 0, err
	}
	if tok, ok := w.methodSpecs.lookup(key); ok {
		w.methodSpecs.bind(g, tok)
		return tok, nil
	}
	tok, slot := w.methodSpecs.reserve(g, g, key)
	w.methodSpecs.rows[slot] = row
	return tok, nil
}

func (w *writer) methodSpecRow(g *GenericInstanceMethod) (metadata.RowEncoder, string, error) {
	if _, nested := g.Method.(*GenericInstanceMethod); nested {
		return nil, "", errors.InvalidInput(errors.PhaseWrite, "generic instance of a generic instance")
	}
	method, err := w.methodToken(g.Method)
	if err != nil {
		return nil, "", err
	}
	blob, err := encodeInstantiation(w, g.Arguments)
	if err != nil {
		return nil, "", err
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return nil, "", err
	}
	key := "mspec:" + strconv.FormatUint(uint64(method), 16) + "|" + string(blob)
	return metadata.MethodSpecRow{Method: method, Instantiation: idx}, key, nil
}

// standAloneBlob encodes a locals list or a call-site signature.
func (w *writer) standAloneBlob(sig any) ([]byte, error) {
	switch s := sig.(type) {
	case []Type:
		return encodeLocalsSig(w, s)
	case *MethodSignature:
		return encodeMethodSig(w, s)
	}
	return nil, errors.Unsupported(errors.PhaseWrite, "standalone signature")
}

func (w *writer) standAloneToken(sig any) (metadata.Token, error) {
	blob, err := w.standAloneBlob(sig)
	if err != nil {
		return 0, err
	}
	key := blobKey{"sig", string(blob)}
	if tok, ok := w.sigs.lookup(key); ok {
		return tok, nil
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return 0, err
	}
	tok, slot := w.sigs.reserve(sig, key)
	w.sigs.rows[slot] = metadata.StandAloneSigRow{Signature: idx}
	return tok, nil
}

// importType returns a reference through which this module can name a type
// defined in another module.
func (w *writer) importType(t *TypeDefinition) (*TypeReference, error) {
	if r, ok := w.imported[t]; ok {
		return r.(*TypeReference), nil
	}
	if t.module == nil {
		return nil, errors.InvalidInput(errors.PhaseWrite, "type "+t.FullName()+" does not belong to a module")
	}
	var ref *TypeReference
	err := w.held.do(t.module, func() error {
		var scope ResolutionScope
		if outer := t.DeclaringType(); outer != nil {
			r, err := w.importType(outer)
			if err != nil {
				return err
			}
			scope = r
		} else {
			scope = t.module
		}
		ref = NewTypeReference(t.namespace, t.name, scope, t.IsValueType())
		ref.module = w.m
		ref.etype = t.etype
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.imported[t] = ref
	return ref, nil
}

func (w *writer) importMethod(md *MethodDefinition) (*MethodReference, error) {
	if r, ok := w.imported[md]; ok {
		return r.(*MethodReference), nil
	}
	if md.module == nil {
		return nil, errors.InvalidInput(errors.PhaseWrite, "method "+md.Name+" does not belong to a module")
	}
	var ref *MethodReference
	err := w.held.do(md.module, func() error {
		sig, err := md.signatureLocked()
		if err != nil {
			return err
		}
		ref = NewMethodReference(md.Name, md.declaringTypeLocked(), sig)
		ref.module = w.m
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.imported[md] = ref
	return ref, nil
}

func (w *writer) importField(f *FieldDefinition) (*FieldReference, error) {
	if r, ok := w.imported[f]; ok {
		return r.(*FieldReference), nil
	}
	if f.module == nil {
		return nil, errors.InvalidInput(errors.PhaseWrite, "field "+f.Name+" does not belong to a module")
	}
	var ref *FieldReference
	err := w.held.do(f.module, func() error {
		ft, err := f.fieldTypeLocked()
		if err != nil {
			return err
		}
		ref = NewFieldReference(f.Name, f.declaringTypeLocked(), ft)
		ref.module = w.m
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.imported[f] = ref
	return ref, nil
}

// tokenOf returns the output token of any node Lookup can return.
func (w *writer) tokenOf(n any) (metadata.Token, error) {
	switch x := n.(type) {
	case *Module:
		if x == w.m {
			return metadata.NewToken(metadata.TableModule, 1), nil
		}
	case *AssemblyDefinition:
		return metadata.NewToken(metadata.TableAssembly, 1), nil
	case *FieldDefinition:
		return w.fieldToken(x)
	case *FieldReference:
		return w.memberRefToken(x)
	case MethodRef:
		return w.methodToken(x)
	case *AssemblyNameReference:
		return w.assemblyRefToken(x)
	case *ModuleReference:
		return w.moduleRefToken(x), nil
	case Type:
		return w.typeToken(x)
	case []Type, *MethodSignature:
		return w.standAloneToken(x)
	}
	if tok, ok := w.defs[n]; ok {
		return tok, nil
	}
	return 0, errors.Unsupported(errors.PhaseWrite, "token operand")
}

// remapToken translates a token of the read image to the output image.
func (w *writer) remapToken(tok metadata.Token) (metadata.Token, error) {
	if w.m.tables == nil {
		return 0, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Token(uint32(tok)).
			Detail("IL token in a module that was not read from an image").
			Build()
	}
	n, err := w.m.lookupLocked(tok)
	if err != nil {
		return 0, err
	}
	return w.tokenOf(n)
}
