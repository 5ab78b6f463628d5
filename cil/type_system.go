package cil

import (
	"strings"

	"github.com/wippyai/cli-metadata/errors"
)

// mscorlibToken is the public key token of the .NET Framework core library.
var mscorlibToken = []byte{0xb7, 0x7a, 0x5c, 0x56, 0x19, 0x34, 0xe0, 0x89}

// CorlibType returns the module's node for a built-in element type such as
// ElementVoid or ElementString, creating the core library reference on
// first use.
func (m *Module) CorlibType(et ElementType) Type {
	defer m.lock()()
	return m.corlibType(et)
}

// CorlibNamed returns a core library type other than a primitive, for
// example System.Object or System.ValueType.
func (m *Module) CorlibNamed(ns, name string, valueType bool) Type {
	defer m.lock()()
	return m.corlibNamed(ns, name, valueType)
}

// corlibType returns the canonical type of a built-in element type. Every
// occurrence of a primitive in this module yields the same node.
func (m *Module) corlibType(et ElementType) Type {
	if t, ok := m.ms.primitives[et]; ok {
		return t
	}
	name := primitiveNames[et]
	var t Type
	if m.isCorlibLocked() {
		if def := m.findTypeLocked("System." + name); def != nil {
			def.etype = et
			t = def
		}
	}
	if t == nil {
		ref := m.internTypeRef(m.corlibScope(), "System", name)
		ref.etype = et
		t = ref
	}
	if m.ms.primitives == nil {
		m.ms.primitives = make(map[ElementType]Type)
	}
	m.ms.primitives[et] = t
	return t
}

// corlibNamed returns a non-primitive core library type such as
// System.Type.
func (m *Module) corlibNamed(ns, name string, valueType bool) Type {
	if m.isCorlibLocked() {
		if def := m.findTypeLocked(joinName(ns, name)); def != nil {
			return def
		}
	}
	ref := m.internTypeRef(m.corlibScope(), ns, name)
	if valueType {
		ref.valueType = true
	}
	return ref
}

// corlibScope returns the scope core library types are referenced through.
// A module without a core library reference gets one to mscorlib.
func (m *Module) corlibScope() ResolutionScope {
	if m.corlib != nil {
		return m.corlib
	}
	if m.isCorlibLocked() {
		m.corlib = m
		return m
	}
	refs, _ := m.assemblyRefsLocked()
	for _, r := range refs {
		if corlibNames[r.Name] {
			m.corlib = r
			return r
		}
	}
	ref := NewAssemblyNameReference("mscorlib", Version{Major: 4}, mscorlibToken)
	if err := m.addAssemblyRefLocked(ref); err != nil {
		m.log.Warn("add core library reference")
		ref.module = m
	}
	m.corlib = ref
	return ref
}

func (m *Module) isCorlibScope(scope ResolutionScope) bool {
	switch s := scope.(type) {
	case *AssemblyNameReference:
		return corlibNames[s.Name]
	case *Module:
		return s.isCorlibLocked()
	}
	return false
}

// isOwnAssembly reports whether an assembly display name names the module's
// own assembly.
func (m *Module) isOwnAssembly(full string) bool {
	a, err := m.assemblyLocked()
	if err != nil || a == nil {
		return false
	}
	return strings.EqualFold(a.Name, parseAssemblyName(full).Name)
}

// assemblyRefNamed returns the reference matching a display name, adding
// one when the module has none.
func (m *Module) assemblyRefNamed(full string) *AssemblyNameReference {
	want := parseAssemblyName(full)
	refs, err := m.assemblyRefsLocked()
	if err == nil {
		for _, r := range refs {
			if strings.EqualFold(r.Name, want.Name) {
				return r
			}
		}
	}
	if err := m.addAssemblyRefLocked(want); err != nil {
		want.module = m
	}
	return want
}

// internTypeRef returns the one reference to ns.name in scope, creating it
// on first use. References read from the TypeRef table take precedence.
func (m *Module) internTypeRef(scope ResolutionScope, ns, name string) *TypeReference {
	if m.ms.refIndex == nil {
		m.ms.refIndex = make(map[string]*TypeReference)
		refs, err := m.typeRefsLocked()
		if err != nil {
			m.log.Debug("seed type reference index")
		}
		for _, r := range refs {
			key := refKey(r.scope, r.namespace, r.name)
			if _, ok := m.ms.refIndex[key]; !ok {
				m.ms.refIndex[key] = r
			}
		}
	}
	key := refKey(scope, ns, name)
	if r, ok := m.ms.refIndex[key]; ok {
		return r
	}
	r := NewTypeReference(ns, name, scope, false)
	r.module = m
	if ns == "System" && m.isCorlibScope(scope) {
		if et, ok := primitiveByName[name]; ok {
			r.etype = et
		}
	}
	m.ms.refIndex[key] = r
	return r
}

func refKey(scope ResolutionScope, ns, name string) string {
	return scopeKey(scope) + "|" + ns + "|" + name
}

func scopeKey(scope ResolutionScope) string {
	switch s := scope.(type) {
	case nil:
		return ""
	case *AssemblyNameReference:
		return "asm:" + strings.ToLower(s.Name)
	case *ModuleReference:
		return "mod:" + s.Name
	case *Module:
		return "self"
	case *TypeReference:
		return "type:" + scopeKey(s.scope) + "/" + s.FullName()
	}
	return scope.ScopeName()
}

// methodSignatureLocked returns the signature of a call target, which may
// belong to another module.
func (m *Module) methodSignatureLocked(ctor MethodRef) (*MethodSignature, error) {
	var (
		sig *MethodSignature
		err error
	)
	h := lockSet{m: true}
	switch c := ctor.(type) {
	case *MethodDefinition:
		err = h.do(c.module, func() error {
			sig, err = c.signatureLocked()
			return err
		})
	case *MethodReference:
		err = h.do(c.module, func() error {
			sig, err = c.signatureLocked()
			return err
		})
	case *GenericInstanceMethod:
		return m.methodSignatureLocked(c.Method)
	default:
		return nil, errors.InvalidInput(errors.PhaseSignature, "custom attribute constructor is not a method")
	}
	return sig, err
}

// enumUnderlying returns the element type of an enum's value field. The
// enum may live in another assembly, in which case a resolver is needed.
func (m *Module) enumUnderlying(t Type) (ElementType, error) {
	h := lockSet{m: true}
	def, err := resolveDef(h, t)
	if err != nil {
		return ElementNone, errors.Wrap(errors.PhaseResolve, errors.KindNotFound, err, "enum type "+t.FullName())
	}
	var under ElementType
	err = h.do(def.module, func() error {
		fs, err := def.fieldsLocked()
		if err != nil {
			return err
		}
		for _, f := range fs {
			if f.IsStatic() {
				continue
			}
			ft, err := f.fieldTypeLocked()
			if err != nil {
				return err
			}
			if et := ft.ElementType(); et.IsPrimitive() {
				under = et
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return ElementNone, err
	}
	if under == ElementNone {
		return ElementNone, errors.NotFound(errors.PhaseResolve, "enum value field", def.FullName())
	}
	return under, nil
}
