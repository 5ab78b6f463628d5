package cil

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/errors"
)

// AssemblyResolver maps an assembly reference to a loaded module. A nil
// module with a nil error leaves the reference unresolved.
type AssemblyResolver interface {
	Resolve(name *AssemblyNameReference) (*Module, error)
}

const (
	maxForwardDepth   = 8
	maxHierarchyDepth = 64
)

// ModuleCache resolves assemblies by searching a list of directories for
// <name>.dll and <name>.exe. Opened modules are remembered, as are misses.
type ModuleCache struct {
	mu      sync.Mutex
	dirs    []string
	opts    []Option
	modules map[string]*Module
	missing map[string]bool
	log     *zap.Logger
}

// NewModuleCache creates a cache searching dirs. Modules it opens are read
// with opts and resolve their own references through the cache.
func NewModuleCache(dirs []string, opts ...Option) *ModuleCache {
	return &ModuleCache{
		dirs:    dirs,
		opts:    opts,
		modules: make(map[string]*Module),
		missing: make(map[string]bool),
		log:     Logger().With(zap.String("component", "resolver")),
	}
}

// Register makes m resolvable under its assembly name.
func (c *ModuleCache) Register(m *Module) error {
	a, err := m.Assembly()
	if err != nil {
		return err
	}
	name := m.Name
	if a != nil {
		name = a.Name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[strings.ToLower(name)] = m
	delete(c.missing, strings.ToLower(name))
	return nil
}

// Resolve implements AssemblyResolver.
func (c *ModuleCache) Resolve(name *AssemblyNameReference) (*Module, error) {
	key := strings.ToLower(name.Name)
	c.mu.Lock()
	if m, ok := c.modules[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	if c.missing[key] {
		c.mu.Unlock()
		return nil, nil
	}
	dirs := c.dirs
	c.mu.Unlock()

	for _, dir := range dirs {
		for _, ext := range []string{".dll", ".exe"} {
			path := filepath.Join(dir, name.Name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			opts := append(append([]Option(nil), c.opts...), WithResolver(c))
			m, err := Open(context.Background(), path, opts...)
			if err != nil {
				return nil, err
			}
			c.log.Debug("resolved assembly", zap.String("name", name.Name), zap.String("path", path))

			c.mu.Lock()
			if prev, ok := c.modules[key]; ok {
				m = prev
			} else {
				c.modules[key] = m
			}
			c.mu.Unlock()
			return m, nil
		}
	}

	c.log.Debug("assembly not found", zap.String("name", name.Name))
	c.mu.Lock()
	c.missing[key] = true
	c.mu.Unlock()
	return nil, nil
}

// lockSet tracks the module locks held by one resolution so that following
// references across modules never takes the same lock twice.
type lockSet map[*Module]bool

// do runs fn holding x's lock.
func (h lockSet) do(x *Module, fn func() error) error {
	if x == nil || h[x] {
		return fn()
	}
	x.mu.Lock()
	h[x] = true
	defer func() {
		delete(h, x)
		x.mu.Unlock()
	}()
	return fn()
}

// Resolve returns the definition the reference designates. References into
// other assemblies need a resolver; without one they fail with an
// unresolved-reference error.
func (t *TypeReference) Resolve() (*TypeDefinition, error) {
	h := lockSet{}
	var def *TypeDefinition
	err := h.do(t.module, func() error {
		var err error
		def, err = resolveTypeRef(h, t)
		return err
	})
	return def, err
}

// Resolve returns the method definition the reference designates, searching
// the declaring type and then its base types.
func (r *MethodReference) Resolve() (*MethodDefinition, error) {
	h := lockSet{}
	var (
		sig  *MethodSignature
		decl Type
	)
	err := h.do(r.module, func() error {
		var err error
		sig, err = r.signatureLocked()
		decl = r.DeclaringType()
		return err
	})
	if err != nil {
		return nil, err
	}
	if decl == nil {
		return nil, unresolved(r.module, r.Name)
	}
	def, err := resolveDef(h, decl)
	if err != nil {
		return nil, err
	}

	want := sigKey(sig)
	var found *MethodDefinition
	err = walkHierarchy(h, def, func(t *TypeDefinition) (bool, error) {
		ms, err := t.methodsLocked()
		if err != nil {
			return false, err
		}
		for _, md := range ms {
			if md.Name != r.Name {
				continue
			}
			s, err := md.signatureLocked()
			if err != nil {
				return false, err
			}
			if sigKey(s) == want {
				found = md
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, unresolved(def.module, decl.FullName()+"::"+r.Name)
	}
	return found, nil
}

// Resolve returns the field definition the reference designates.
func (r *FieldReference) Resolve() (*FieldDefinition, error) {
	h := lockSet{}
	var decl Type
	var want string
	err := h.do(r.module, func() error {
		ft, err := r.fieldTypeLocked()
		if err != nil {
			return err
		}
		decl, want = r.DeclaringType(), typeKey(ft)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if decl == nil {
		return nil, unresolved(r.module, r.Name)
	}
	def, err := resolveDef(h, decl)
	if err != nil {
		return nil, err
	}

	var found *FieldDefinition
	err = walkHierarchy(h, def, func(t *TypeDefinition) (bool, error) {
		fs, err := t.fieldsLocked()
		if err != nil {
			return false, err
		}
		for _, f := range fs {
			if f.Name != r.Name {
				continue
			}
			ft, err := f.fieldTypeLocked()
			if err != nil {
				return false, err
			}
			if typeKey(ft) == want {
				found = f
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, unresolved(def.module, decl.FullName()+"::"+r.Name)
	}
	return found, nil
}

// walkHierarchy calls visit on t and its base types until visit reports
// done. Each type is visited holding its module's lock.
func walkHierarchy(h lockSet, t *TypeDefinition, visit func(t *TypeDefinition) (bool, error)) error {
	for range maxHierarchyDepth {
		var (
			base Type
			done bool
		)
		err := h.do(t.module, func() error {
			var err error
			if done, err = visit(t); err != nil || done {
				return err
			}
			base, err = t.baseTypeLocked()
			return err
		})
		if err != nil || done || base == nil {
			return err
		}
		if t, err = resolveDef(h, base); err != nil {
			return err
		}
	}
	return nil
}

// resolveDef returns the definition behind a type, following references and
// generic instances.
func resolveDef(h lockSet, t Type) (*TypeDefinition, error) {
	switch x := t.(type) {
	case *TypeDefinition:
		return x, nil
	case *TypeReference:
		var def *TypeDefinition
		err := h.do(x.module, func() error {
			var err error
			def, err = resolveTypeRef(h, x)
			return err
		})
		return def, err
	case *GenericInstanceType:
		return resolveDef(h, x.Element)
	}
	return nil, errors.NotFound(errors.PhaseResolve, "type definition", t.FullName())
}

// resolveTypeRef resolves ref. The caller holds ref's module lock.
func resolveTypeRef(h lockSet, ref *TypeReference) (*TypeDefinition, error) {
	switch s := ref.scope.(type) {
	case *TypeReference:
		outer, err := resolveTypeRef(h, s)
		if err != nil {
			return nil, err
		}
		var found *TypeDefinition
		err = h.do(outer.module, func() error {
			nested, err := outer.nestedLocked()
			if err != nil {
				return err
			}
			for _, n := range nested {
				if n.name == ref.name {
					found = n
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, unresolved(ref.module, ref.FullName())
		}
		return found, nil

	case *Module:
		var found *TypeDefinition
		_ = h.do(s, func() error {
			found = s.findTypeLocked(ref.FullName())
			return nil
		})
		if found == nil {
			return nil, unresolved(s, ref.FullName())
		}
		return found, nil

	case *AssemblyNameReference:
		target, err := resolveAssembly(ref.module, s)
		if err != nil {
			return nil, err
		}
		if target == nil {
			ref.module.logger().Debug("unresolved type reference",
				zap.String("type", ref.FullName()),
				zap.String("assembly", s.Name))
			return nil, errors.NewUnresolvedError([]string{s.Name + "#" + ref.FullName()})
		}
		return findExported(h, target, ref.FullName(), s.Name, 0)

	case nil:
		if ref.module != nil {
			if found := ref.module.findTypeLocked(ref.FullName()); found != nil {
				return found, nil
			}
		}
	}
	return nil, unresolved(ref.module, ref.FullName())
}

// resolveAssembly returns the module for name as seen from m, which is m
// itself when the name is its own assembly. The caller holds m's lock.
func resolveAssembly(m *Module, name *AssemblyNameReference) (*Module, error) {
	if m == nil {
		return nil, nil
	}
	if a, err := m.assemblyLocked(); err == nil && a != nil && strings.EqualFold(a.Name, name.Name) {
		return m, nil
	}
	if m.opts.resolver == nil {
		return nil, nil
	}
	return m.opts.resolver.Resolve(name)
}

// findExported looks full up in target, following type forwarders.
func findExported(h lockSet, target *Module, full, scope string, depth int) (*TypeDefinition, error) {
	var (
		def  *TypeDefinition
		next *Module
	)
	err := h.do(target, func() error {
		if def = target.findTypeLocked(full); def != nil {
			return nil
		}
		es, err := target.exportedTypesLocked()
		if err != nil {
			return err
		}
		for _, e := range es {
			if e.FullName() != full {
				continue
			}
			if fwd, ok := e.Implementation.(*AssemblyNameReference); ok {
				next, err = resolveAssembly(target, fwd)
				return err
			}
		}
		return nil
	})
	if err != nil || def != nil {
		return def, err
	}
	if next == nil || next == target || depth >= maxForwardDepth {
		return nil, errors.NewUnresolvedError([]string{scope + "#" + full})
	}
	return findExported(h, next, full, scope, depth+1)
}

func unresolved(m *Module, name string) error {
	scope := ""
	if m != nil {
		scope = m.Name
	}
	return errors.NewUnresolvedError([]string{scope + "#" + name})
}

func (m *Module) logger() *zap.Logger {
	if m == nil || m.log == nil {
		return Logger()
	}
	return m.log
}

// sigKey is a structural key for matching method signatures across modules.
func sigKey(sig *MethodSignature) string {
	if sig == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(typeKey(sig.ReturnType))
	sb.WriteByte('(')
	for i, p := range sig.Parameters {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(typeKey(p))
	}
	sb.WriteByte(')')
	if sig.GenericArity > 0 {
		sb.WriteString("``")
		sb.WriteString(strconv.Itoa(sig.GenericArity))
	}
	return sb.String()
}

// typeKey names a type structurally, with generic parameters by position.
func typeKey(t Type) string {
	switch x := t.(type) {
	case nil:
		return "void"
	case *GenericParameter:
		if x.method {
			return "!!" + strconv.Itoa(x.Position)
		}
		return "!" + strconv.Itoa(x.Position)
	case *GenericInstanceType:
		args := make([]string, len(x.Arguments))
		for i, a := range x.Arguments {
			args[i] = typeKey(a)
		}
		return typeKey(x.Element) + "<" + strings.Join(args, ",") + ">"
	case *ArrayType:
		return typeKey(x.Element) + x.suffix()
	case *PointerType:
		return typeKey(x.Element) + "*"
	case *ByReferenceType:
		return typeKey(x.Element) + "&"
	case *PinnedType:
		return typeKey(x.Element)
	case *SentinelType:
		return typeKey(x.Element)
	case *RequiredModifierType:
		return typeKey(x.Element) + " modreq(" + typeKey(x.Modifier) + ")"
	case *OptionalModifierType:
		return typeKey(x.Element) + " modopt(" + typeKey(x.Modifier) + ")"
	case *FunctionPointerType:
		return "method " + sigKey(x.Signature)
	}
	return t.FullName()
}
