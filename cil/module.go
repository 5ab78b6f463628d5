package cil

import (
	"context"
	"crypto/rand"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/metadata"
	"github.com/wippyai/cli-metadata/pe"
)

// ModuleKind is the kind of image a module is written as.
type ModuleKind uint8

const (
	ModuleDLL ModuleKind = iota
	ModuleConsole
	ModuleWindows
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleDLL:
		return "dll"
	case ModuleConsole:
		return "console"
	case ModuleWindows:
		return "windows"
	}
	return "unknown"
}

// CLI header flags.
const (
	CLIILOnly           uint32 = 0x00000001
	CLI32BitRequired    uint32 = 0x00000002
	CLIStrongNameSigned uint32 = 0x00000008
	CLINativeEntryPoint uint32 = 0x00000010
	CLI32BitPreferred   uint32 = 0x00020000
)

type heaps struct {
	strings *metadata.StringHeap
	blobs   *metadata.BlobHeap
	guids   *metadata.GUIDHeap
	us      *metadata.UserStringHeap
}

// Module is one CLI module: a metadata graph decoded on demand from an
// image, or built in memory.
//
// All nodes of a module share its mutex. Exported methods take the lock;
// the graph is safe for concurrent readers and writers of distinct or the
// same nodes.
type Module struct {
	node
	mu sync.Mutex

	Name               string
	Mvid               [16]byte
	Kind               ModuleKind
	Architecture       pe.Machine
	Attributes         uint32
	RuntimeVersion     string
	Characteristics    uint16
	DLLCharacteristics uint16

	image  *pe.Image
	tables *metadata.Tables
	heaps  heaps
	ms     *MetadataSystem
	opts   readOptions
	log    *zap.Logger

	assembly      lazy[*AssemblyDefinition]
	types         lazy[[]*TypeDefinition]
	typeRefs      lazy[[]*TypeReference]
	assemblyRefs  lazy[[]*AssemblyNameReference]
	moduleRefs    lazy[[]*ModuleReference]
	resources     lazy[[]Resource]
	exportedTypes lazy[[]*ExportedType]
	files         lazy[[]*FileReference]
	entryPoint    lazy[*MethodDefinition]

	corlib ResolutionScope

	// decodes counts rows and blobs materialized into nodes.
	decodes int
}

// Read decodes the module held in data. The slice must not be modified
// while the module is in use.
func Read(data []byte, opts ...Option) (*Module, error) {
	o := defaultReadOptions()
	for _, opt := range opts {
		opt(&o)
	}

	img, err := pe.Read(data)
	if err != nil {
		return nil, err
	}
	tables, err := metadata.ReadTables(img.TableStream, img.TableStreamName == "#-")
	if err != nil {
		return nil, err
	}

	m := &Module{
		image:              img,
		tables:             tables,
		opts:               o,
		log:                o.logger,
		RuntimeVersion:     img.RuntimeVersion,
		Architecture:       img.Machine,
		Attributes:         img.CLI.Flags,
		Characteristics:    img.Characteristics,
		DLLCharacteristics: img.DLLCharacteristics,
		Kind:               kindOf(img),
	}
	if m.log == nil {
		m.log = Logger()
	}
	m.node = readNode(m, metadata.NewToken(metadata.TableModule, 1))
	m.heaps = heaps{
		strings: metadata.NewStringHeap(img.Strings),
		blobs:   metadata.NewBlobHeap(img.Blobs),
		guids:   metadata.NewGUIDHeap(img.GUIDs),
		us:      metadata.NewUserStringHeap(img.UserStrings),
	}
	m.ms = newMetadataSystem(tables)

	row, err := tables.Module(1)
	if err != nil {
		return nil, err
	}
	if m.Name, err = m.str(row.Name); err != nil {
		return nil, err
	}
	if m.Mvid, err = m.heaps.guids.Get(row.Mvid); err != nil {
		return nil, err
	}

	if !o.deferred {
		if err := m.loadAllLocked(); err != nil {
			return nil, err
		}
	}
	m.log.Debug("read module",
		zap.String("name", m.Name),
		zap.String("runtime", m.RuntimeVersion),
		zap.Stringer("machine", m.Architecture),
		zap.Uint32("types", tables.RowCount(metadata.TableTypeDef)),
		zap.Bool("deferred", o.deferred),
	)
	return m, nil
}

// Open reads the module stored at path.
func Open(ctx context.Context, path string, opts ...Option) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Path(path).
			Detail("read module file").
			Cause(err).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Read(data, opts...)
}

func kindOf(img *pe.Image) ModuleKind {
	switch {
	case img.Characteristics&pe.CharDLL != 0:
		return ModuleDLL
	case img.Subsystem == pe.SubsystemWindowsGUI:
		return ModuleWindows
	}
	return ModuleConsole
}

// NewModule creates an empty module holding only the <Module> type.
func NewModule(name string, kind ModuleKind, opts ...Option) *Module {
	o := defaultReadOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &Module{
		node:           newNode(),
		Name:           name,
		Kind:           kind,
		Architecture:   pe.MachineI386,
		Attributes:     CLIILOnly,
		RuntimeVersion: "v4.0.30319",
		opts:           o,
		log:            o.logger,
		ms:             newMetadataSystem(nil),

		assembly:      resolvedLazy[*AssemblyDefinition](nil),
		types:         resolvedLazy[[]*TypeDefinition](nil),
		typeRefs:      resolvedLazy[[]*TypeReference](nil),
		assemblyRefs:  resolvedLazy[[]*AssemblyNameReference](nil),
		moduleRefs:    resolvedLazy[[]*ModuleReference](nil),
		resources:     resolvedLazy[[]Resource](nil),
		exportedTypes: resolvedLazy[[]*ExportedType](nil),
		files:         resolvedLazy[[]*FileReference](nil),
		entryPoint:    resolvedLazy[*MethodDefinition](nil),
	}
	if m.log == nil {
		m.log = Logger()
	}
	m.module = m
	if kind == ModuleDLL {
		m.Characteristics = pe.CharDLL
	}
	_, _ = rand.Read(m.Mvid[:])

	global := NewTypeDefinition("", "<Module>", 0, nil)
	m.adoptType(global)
	m.types.set([]*TypeDefinition{global})
	return m
}

// lock acquires the module mutex and returns its release. It is a no-op on
// a nil module so detached nodes can be used before they are added.
func (m *Module) lock() func() {
	if m == nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Module) decoded() { m.decodes++ }

func (*Module) resolutionScope() {}

// ScopeName returns the module name.
func (m *Module) ScopeName() string { return m.Name }

func (m *Module) String() string { return m.Name }

// Image returns the image the module was read from, or nil.
func (m *Module) Image() *pe.Image { return m.image }

// Tables returns the decoded table stream the module was read from, or nil.
func (m *Module) Tables() *metadata.Tables { return m.tables }

func (m *Module) str(idx metadata.StringIndex) (string, error) {
	return m.heaps.strings.Get(idx)
}

// blobCopy returns a copy of a blob that outlives the input image.
func (m *Module) blobCopy(idx metadata.BlobIndex) ([]byte, error) {
	b, err := m.heaps.blobs.Get(idx)
	if err != nil || len(b) == 0 {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// IsCorlib reports whether the module defines the core library.
func (m *Module) IsCorlib() bool {
	defer m.lock()()
	return m.isCorlibLocked()
}

func (m *Module) isCorlibLocked() bool {
	a, err := m.assemblyLocked()
	if err != nil || a == nil {
		return false
	}
	return a.Name == "mscorlib" || a.Name == "System.Private.CoreLib"
}

// Assembly returns the assembly manifest, or nil for a netmodule.
func (m *Module) Assembly() (*AssemblyDefinition, error) {
	defer m.lock()()
	return m.assemblyLocked()
}

func (m *Module) assemblyLocked() (*AssemblyDefinition, error) {
	return m.assembly.force(m.readAssembly)
}

// SetAssembly replaces the assembly manifest.
func (m *Module) SetAssembly(a *AssemblyDefinition) {
	defer m.lock()()
	if a != nil {
		a.module = m
	}
	m.assembly.set(a)
}

// Types returns the top-level types in declaration order.
func (m *Module) Types() ([]*TypeDefinition, error) {
	defer m.lock()()
	return m.typesLocked()
}

func (m *Module) typesLocked() ([]*TypeDefinition, error) {
	return m.types.force(m.readTypes)
}

// AllTypes returns every type, nested types following their enclosing
// type.
func (m *Module) AllTypes() ([]*TypeDefinition, error) {
	defer m.lock()()
	return m.allTypesLocked()
}

func (m *Module) allTypesLocked() ([]*TypeDefinition, error) {
	top, err := m.typesLocked()
	if err != nil {
		return nil, err
	}
	var out []*TypeDefinition
	var walk func(ts []*TypeDefinition) error
	walk = func(ts []*TypeDefinition) error {
		for _, t := range ts {
			out = append(out, t)
			nested, err := t.nestedLocked()
			if err != nil {
				return err
			}
			if err := walk(nested); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(top); err != nil {
		return nil, err
	}
	return out, nil
}

// AddType adds a top-level type.
func (m *Module) AddType(t *TypeDefinition) error {
	defer m.lock()()
	ts, err := m.typesLocked()
	if err != nil {
		return err
	}
	m.adoptType(t)
	t.declaringRID = 0
	m.types.set(append(ts, t))
	return nil
}

// RemoveType detaches a top-level type. Its arena slot is kept so tokens of
// other types are stable, but it is no longer written.
func (m *Module) RemoveType(t *TypeDefinition) (bool, error) {
	defer m.lock()()
	ts, err := m.typesLocked()
	if err != nil {
		return false, err
	}
	for i, c := range ts {
		if c == t {
			m.types.set(append(ts[:i:i], ts[i+1:]...))
			return true, nil
		}
	}
	return false, nil
}

// adoptType gives t and its materialized members a slot in the arena.
func (m *Module) adoptType(t *TypeDefinition) {
	if t.module != m || t.rid == 0 {
		t.module = m
		t.rid = m.ms.types.add(t)
	}
	if t.fields.resolved() {
		for _, f := range t.fields.value {
			f.declaringRID = t.rid
			f.attach(m)
		}
	}
	if t.methods.resolved() {
		for _, md := range t.methods.value {
			md.declaringRID = t.rid
			md.attach(m)
		}
	}
	if t.properties.resolved() {
		for _, p := range t.properties.value {
			p.declaringRID = t.rid
			p.attach(m)
		}
	}
	if t.events.resolved() {
		for _, e := range t.events.value {
			e.declaringRID = t.rid
			e.attach(m)
		}
	}
	if t.genericParams.resolved() {
		for _, p := range t.genericParams.value {
			p.attach(m)
		}
	}
	if t.interfaces.resolved() {
		for _, i := range t.interfaces.value {
			i.module = m
		}
	}
	if t.nested.resolved() {
		for _, n := range t.nested.value {
			m.adoptType(n)
			n.declaringRID = t.rid
		}
	}
}

// FindType returns the type named fullName, using '/' between nested
// names, or nil.
func (m *Module) FindType(fullName string) (*TypeDefinition, error) {
	defer m.lock()()
	return m.findTypeLocked(fullName), nil
}

// findTypeLocked looks a type up by full name. Read errors are treated as
// absence.
func (m *Module) findTypeLocked(fullName string) *TypeDefinition {
	names := strings.Split(fullName, "/")
	top, err := m.typesLocked()
	if err != nil {
		return nil
	}
	var t *TypeDefinition
	for _, c := range top {
		if joinName(c.namespace, c.name) == names[0] {
			t = c
			break
		}
	}
	for _, name := range names[1:] {
		if t == nil {
			return nil
		}
		nested, err := t.nestedLocked()
		if err != nil {
			return nil
		}
		t = nil
		for _, c := range nested {
			if c.name == name {
				t = c
				break
			}
		}
	}
	return t
}

// TypeReferences returns the references read from the TypeRef table.
func (m *Module) TypeReferences() ([]*TypeReference, error) {
	defer m.lock()()
	return m.typeRefsLocked()
}

func (m *Module) typeRefsLocked() ([]*TypeReference, error) {
	return m.typeRefs.force(func() ([]*TypeReference, error) {
		n := m.tables.RowCount(metadata.TableTypeRef)
		out := make([]*TypeReference, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			ref, err := m.typeRefLocked(rid)
			if err != nil {
				return nil, err
			}
			out = append(out, ref)
		}
		return out, nil
	})
}

// AssemblyReferences returns the referenced assemblies.
func (m *Module) AssemblyReferences() ([]*AssemblyNameReference, error) {
	defer m.lock()()
	return m.assemblyRefsLocked()
}

func (m *Module) assemblyRefsLocked() ([]*AssemblyNameReference, error) {
	return m.assemblyRefs.force(func() ([]*AssemblyNameReference, error) {
		n := m.tables.RowCount(metadata.TableAssemblyRef)
		out := make([]*AssemblyNameReference, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			ref, err := m.assemblyRefLocked(rid)
			if err != nil {
				return nil, err
			}
			out = append(out, ref)
		}
		return out, nil
	})
}

// AddAssemblyReference appends an assembly reference.
func (m *Module) AddAssemblyReference(ref *AssemblyNameReference) error {
	defer m.lock()()
	return m.addAssemblyRefLocked(ref)
}

func (m *Module) addAssemblyRefLocked(ref *AssemblyNameReference) error {
	refs, err := m.assemblyRefsLocked()
	if err != nil {
		return err
	}
	ref.module = m
	m.assemblyRefs.set(append(refs, ref))
	return nil
}

// ModuleReferences returns the referenced modules.
func (m *Module) ModuleReferences() ([]*ModuleReference, error) {
	defer m.lock()()
	return m.moduleRefsLocked()
}

func (m *Module) moduleRefsLocked() ([]*ModuleReference, error) {
	return m.moduleRefs.force(func() ([]*ModuleReference, error) {
		n := m.tables.RowCount(metadata.TableModuleRef)
		out := make([]*ModuleReference, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			ref, err := m.moduleRefLocked(rid)
			if err != nil {
				return nil, err
			}
			out = append(out, ref)
		}
		return out, nil
	})
}

// AddModuleReference appends a module reference.
func (m *Module) AddModuleReference(ref *ModuleReference) error {
	defer m.lock()()
	refs, err := m.moduleRefsLocked()
	if err != nil {
		return err
	}
	ref.module = m
	m.moduleRefs.set(append(refs, ref))
	return nil
}

// Resources returns the manifest resources.
func (m *Module) Resources() ([]Resource, error) {
	defer m.lock()()
	return m.resourcesLocked()
}

func (m *Module) resourcesLocked() ([]Resource, error) {
	return m.resources.force(m.readResources)
}

// AddResource appends a manifest resource.
func (m *Module) AddResource(r Resource) error {
	defer m.lock()()
	rs, err := m.resourcesLocked()
	if err != nil {
		return err
	}
	switch x := r.(type) {
	case *EmbeddedResource:
		x.module = m
	case *LinkedResource:
		x.module = m
	case *AssemblyLinkedResource:
		x.module = m
	}
	m.resources.set(append(rs, r))
	return nil
}

// ExportedTypes returns the exported and forwarded types.
func (m *Module) ExportedTypes() ([]*ExportedType, error) {
	defer m.lock()()
	return m.exportedTypesLocked()
}

func (m *Module) exportedTypesLocked() ([]*ExportedType, error) {
	return m.exportedTypes.force(m.readExportedTypes)
}

// AddExportedType appends an exported type.
func (m *Module) AddExportedType(e *ExportedType) error {
	defer m.lock()()
	es, err := m.exportedTypesLocked()
	if err != nil {
		return err
	}
	e.module = m
	m.exportedTypes.set(append(es, e))
	return nil
}

// Files returns the File rows of a multi-file assembly.
func (m *Module) Files() ([]*FileReference, error) {
	defer m.lock()()
	return m.filesLocked()
}

func (m *Module) filesLocked() ([]*FileReference, error) {
	return m.files.force(m.readFiles)
}

// AddFile appends a File row.
func (m *Module) AddFile(f *FileReference) error {
	defer m.lock()()
	fs, err := m.filesLocked()
	if err != nil {
		return err
	}
	f.module = m
	m.files.set(append(fs, f))
	return nil
}

// EntryPoint returns the managed entry point, or nil.
func (m *Module) EntryPoint() (*MethodDefinition, error) {
	defer m.lock()()
	return m.entryPointLocked()
}

func (m *Module) entryPointLocked() (*MethodDefinition, error) {
	return m.entryPoint.force(func() (*MethodDefinition, error) {
		tok := metadata.Token(m.image.CLI.EntryPointToken)
		if tok.Table() != metadata.TableMethod || tok.IsNull() {
			return nil, nil
		}
		return m.methodLocked(tok.RID())
	})
}

// SetEntryPoint replaces the managed entry point.
func (m *Module) SetEntryPoint(md *MethodDefinition) {
	defer m.lock()()
	m.entryPoint.set(md)
}

// Lookup returns the node a token designates. User-string tokens yield the
// string.
func (m *Module) Lookup(tok metadata.Token) (any, error) {
	defer m.lock()()
	return m.lookupLocked(tok)
}

func (m *Module) lookupLocked(tok metadata.Token) (any, error) {
	rid := tok.RID()
	if tok.Table() == metadata.TableUserString {
		if m.heaps.us == nil {
			return nil, errors.NotFound(errors.PhaseHeap, "user string", tok.String())
		}
		return m.heaps.us.Get(rid)
	}
	if m.tables == nil {
		return nil, errors.NotFound(errors.PhaseTables, "token", tok.String())
	}
	if rows := m.tables.RowCount(tok.Table()); rid == 0 || rid > rows {
		return nil, errors.RowOutOfRange(tok.Table().String(), rid, rows)
	}

	switch tok.Table() {
	case metadata.TableModule:
		return m, nil
	case metadata.TableTypeRef:
		return m.typeRefLocked(rid)
	case metadata.TableTypeDef:
		return m.typeDefLocked(rid)
	case metadata.TableField:
		return m.fieldLocked(rid)
	case metadata.TableMethod:
		return m.methodLocked(rid)
	case metadata.TableParam:
		return m.paramLocked(rid)
	case metadata.TableInterfaceImpl:
		return m.interfaceImplLocked(rid)
	case metadata.TableMemberRef:
		return m.memberRefLocked(rid)
	case metadata.TableStandAloneSig:
		return m.standAloneSigLocked(rid)
	case metadata.TableEvent:
		return m.eventLocked(rid)
	case metadata.TableProperty:
		return m.propertyLocked(rid)
	case metadata.TableModuleRef:
		return m.moduleRefLocked(rid)
	case metadata.TableTypeSpec:
		return m.typeSpecLocked(rid, genericContext{})
	case metadata.TableAssembly:
		return m.assemblyLocked()
	case metadata.TableAssemblyRef:
		return m.assemblyRefLocked(rid)
	case metadata.TableFile:
		return m.fileLocked(rid)
	case metadata.TableExportedType:
		es, err := m.exportedTypesLocked()
		if err != nil {
			return nil, err
		}
		return es[rid-1], nil
	case metadata.TableManifestResource:
		rs, err := m.resourcesLocked()
		if err != nil {
			return nil, err
		}
		return rs[rid-1], nil
	case metadata.TableGenericParam:
		return m.genericParamLocked(rid)
	case metadata.TableMethodSpec:
		return m.methodSpecLocked(rid)
	}
	return nil, errors.Unsupported(errors.PhaseTables, "lookup of "+tok.Table().String()+" tokens")
}
