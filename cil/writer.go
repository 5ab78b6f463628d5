package cil

import (
	"cmp"
	"io"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
	"github.com/wippyai/cli-metadata/pe"
)

// Write serializes the module as a PE/CLI image. The image is assembled in
// memory and out receives nothing when any part of it fails.
//
// Definitions and references read from an image keep their row order; nodes
// added since are appended. Token operands of IL bodies are translated
// through the nodes they designate.
func (m *Module) Write(out io.Writer, opts ...WriteOption) error {
	data, err := m.Bytes(opts...)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "write image")
	}
	return nil
}

// WriteFile writes the module image to path.
func (m *Module) WriteFile(path string, opts ...WriteOption) error {
	data, err := m.Bytes(opts...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Path(path).
			Detail("write module file").
			Cause(err).
			Build()
	}
	return nil
}

// Bytes returns the serialized image.
func (m *Module) Bytes(opts ...WriteOption) ([]byte, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	defer m.lock()()
	return newWriter(m, o).run()
}

type paramSlot struct {
	p   *ParameterDefinition
	seq uint16
}

type genericSlot struct {
	owner metadata.Token
	p     *GenericParameter
}

type attributed struct {
	tok   metadata.Token
	owner CustomAttributeProvider
}

type fieldData struct {
	field  uint32
	offset uint32
}

// writer owns every buffer of one Write call.
type writer struct {
	m    *Module
	opts writeOptions
	held lockSet
	img  *pe.ImageWriter

	tables *metadata.TableBuffer
	strs   *metadata.StringHeapBuffer
	blobs  *metadata.BlobHeapBuffer
	guids  *metadata.GUIDHeapBuffer
	us     *metadata.UserStringHeapBuffer

	code      *buffer.Buffer
	resources *buffer.Buffer
	data      *buffer.Buffer

	defs     map[any]metadata.Token
	imported map[any]any

	typeRefs    *refTable
	typeSpecs   *refTable
	memberRefs  *refTable
	methodSpecs *refTable
	sigs        *refTable
	asmRefs     *refTable
	modRefs     *refTable

	types      []*TypeDefinition
	params     map[*MethodDefinition][]paramSlot
	generic    []genericSlot
	rvas       map[*MethodDefinition]uint32
	fieldData  []fieldData
	attributed []attributed
}

func newWriter(m *Module, o writeOptions) *writer {
	var seed []byte
	if m.image != nil {
		seed = m.image.UserStrings
	}
	return &writer{
		m:           m,
		opts:        o,
		held:        lockSet{m: true},
		tables:      metadata.NewTableBuffer(),
		strs:        metadata.NewStringHeapBuffer(),
		blobs:       metadata.NewBlobHeapBuffer(),
		guids:       metadata.NewGUIDHeapBuffer(),
		us:          metadata.NewUserStringHeapBuffer(seed),
		code:        buffer.NewWriter(4096),
		resources:   buffer.NewWriter(0),
		data:        buffer.NewWriter(0),
		defs:        make(map[any]metadata.Token),
		imported:    make(map[any]any),
		typeRefs:    newRefTable(metadata.TableTypeRef),
		typeSpecs:   newRefTable(metadata.TableTypeSpec),
		memberRefs:  newRefTable(metadata.TableMemberRef),
		methodSpecs: newRefTable(metadata.TableMethodSpec),
		sigs:        newRefTable(metadata.TableStandAloneSig),
		asmRefs:     newRefTable(metadata.TableAssemblyRef),
		modRefs:     newRefTable(metadata.TableModuleRef),
		params:      make(map[*MethodDefinition][]paramSlot),
		rvas:        make(map[*MethodDefinition]uint32),
	}
}

func (w *writer) run() ([]byte, error) {
	if err := w.assignDefs(); err != nil {
		return nil, err
	}
	opts, err := w.imageOptions()
	if err != nil {
		return nil, err
	}
	if w.img, err = pe.NewImageWriter(opts); err != nil {
		return nil, err
	}
	if err := w.seedReferences(); err != nil {
		return nil, err
	}
	if err := w.writeModule(); err != nil {
		return nil, err
	}
	if err := w.writeBodies(); err != nil {
		return nil, err
	}
	if err := w.writeTypes(); err != nil {
		return nil, err
	}
	if err := w.writeGenericParameters(); err != nil {
		return nil, err
	}
	if err := w.writeManifest(); err != nil {
		return nil, err
	}

	w.img.SetCode(w.code.Bytes())
	w.img.SetResources(w.resources.Bytes())
	w.img.SetData(w.data.Bytes())
	dataRVA := w.img.DataRVA()
	for _, fd := range w.fieldData {
		if _, err := w.tables.Add(metadata.FieldRVARow{RVA: dataRVA + fd.offset, Field: fd.field}); err != nil {
			return nil, err
		}
	}

	if err := w.writeAttributes(); err != nil {
		return nil, err
	}
	for _, r := range []*refTable{w.typeRefs, w.typeSpecs, w.memberRefs, w.methodSpecs, w.sigs, w.asmRefs, w.modRefs} {
		if err := r.flush(w.tables); err != nil {
			return nil, err
		}
	}
	w.tables.SortAll()

	stream, err := w.tables.Bytes(metadata.HeapSizesFor(w.strs.Len(), w.guids.Len(), w.blobs.Len()))
	if err != nil {
		return nil, err
	}
	w.img.SetMetadata(pe.MetadataStreams{
		TableName:   "#~",
		Tables:      stream,
		Strings:     w.strs.Bytes(),
		UserStrings: w.us.Bytes(),
		GUIDs:       w.guids.Bytes(),
		Blobs:       w.blobs.Bytes(),
	})
	if img := w.m.image; img != nil {
		w.img.SetStrongNameSize(uint32(len(img.StrongName)))
		w.img.SetDebug(img.Debug)
	}

	out, err := w.img.Bytes()
	if err != nil {
		return nil, err
	}
	w.m.log.Debug("write module",
		zap.String("name", w.m.Name),
		zap.Stringer("machine", opts.Machine),
		zap.Int("types", len(w.types)),
		zap.Uint32("type_refs", w.tables.RowCount(metadata.TableTypeRef)),
		zap.Uint32("member_refs", w.tables.RowCount(metadata.TableMemberRef)),
		zap.Int("code", w.code.Len()),
		zap.Int("size", len(out)),
	)
	return out, nil
}

func (w *writer) imageOptions() (pe.ImageOptions, error) {
	m := w.m
	machine := m.Architecture
	if w.opts.architecture != 0 {
		machine = w.opts.architecture
	}
	o := pe.ImageOptions{
		Machine:            machine,
		DLL:                m.Kind == ModuleDLL,
		LargeAddressAware:  m.Characteristics&pe.CharLargeAddressAware != 0,
		Subsystem:          pe.SubsystemWindowsCUI,
		DLLCharacteristics: m.DLLCharacteristics,
		CLIFlags:           m.Attributes,
		MetadataVersion:    m.RuntimeVersion,
	}
	if m.Kind == ModuleWindows {
		o.Subsystem = pe.SubsystemWindowsGUI
	}
	if o.DLLCharacteristics == 0 {
		o.DLLCharacteristics = pe.DefaultDLLCharacteristics
	}
	if machine.PE64() {
		o.CLIFlags &^= CLI32BitRequired | CLI32BitPreferred
	}

	switch {
	case w.opts.timestamp != nil:
		o.Timestamp = *w.opts.timestamp
	case m.image != nil:
		o.Timestamp = m.image.Timestamp
	default:
		o.Timestamp = uint32(time.Now().Unix())
	}

	if img := m.image; img != nil {
		if img.Machine == machine {
			o.ImageBase = img.ImageBase
		}
		o.LinkerMajor, o.LinkerMinor = img.LinkerMajor, img.LinkerMinor
		o.SubsystemMajor, o.SubsystemMinor = img.SubsystemMajor, img.SubsystemMinor
		o.RuntimeMajor, o.RuntimeMinor = img.CLI.MajorRuntimeVersion, img.CLI.MinorRuntimeVersion
		o.Win32Resources, o.Win32ResourcesRVA = img.Win32Resources, img.Win32ResourcesRVA
	}

	if m.Attributes&CLINativeEntryPoint != 0 && m.image != nil {
		o.EntryPointToken = m.image.CLI.EntryPointToken
		return o, nil
	}
	ep, err := m.entryPointLocked()
	if err != nil {
		return o, err
	}
	if ep != nil {
		tok, ok := w.defs[ep]
		if !ok {
			return o, errors.NotFound(errors.PhaseWrite, "entry point", ep.Name)
		}
		o.EntryPointToken = uint32(tok)
	}
	return o, nil
}

// assignDefs numbers every definition before any row is built, so rows may
// refer to definitions that come later in their table.
func (w *writer) assignDefs() error {
	all, err := w.m.allTypesLocked()
	if err != nil {
		return err
	}
	w.types = slices.SortedStableFunc(slices.Values(all), func(a, b *TypeDefinition) int {
		return cmp.Compare(a.rid, b.rid)
	})

	var field, method, param, prop, event uint32
	var owners []genericSlot
	addOwner := func(tok metadata.Token, o genericOwner) error {
		gps, err := o.genericParametersLocked()
		if err != nil {
			return err
		}
		for _, p := range gps {
			owners = append(owners, genericSlot{owner: tok, p: p})
		}
		return nil
	}

	for i, t := range w.types {
		tok := metadata.NewToken(metadata.TableTypeDef, uint32(i+1))
		w.defs[t] = tok
		if err := addOwner(tok, t); err != nil {
			return err
		}
		fs, err := t.fieldsLocked()
		if err != nil {
			return err
		}
		for _, f := range fs {
			field++
			w.defs[f] = metadata.NewToken(metadata.TableField, field)
		}
		ms, err := t.methodsLocked()
		if err != nil {
			return err
		}
		for _, md := range ms {
			method++
			mtok := metadata.NewToken(metadata.TableMethod, method)
			w.defs[md] = mtok
			slots, err := paramSlots(md)
			if err != nil {
				return err
			}
			for _, s := range slots {
				param++
				w.defs[s.p] = metadata.NewToken(metadata.TableParam, param)
			}
			w.params[md] = slots
			if err := addOwner(mtok, md); err != nil {
				return err
			}
		}
		ps, err := t.propertiesLocked()
		if err != nil {
			return err
		}
		for _, p := range ps {
			prop++
			w.defs[p] = metadata.NewToken(metadata.TableProperty, prop)
		}
		es, err := t.eventsLocked()
		if err != nil {
			return err
		}
		for _, e := range es {
			event++
			w.defs[e] = metadata.NewToken(metadata.TableEvent, event)
		}
	}

	// GenericParam rows are referenced by row id, so they are numbered in
	// their sorted order.
	slices.SortStableFunc(owners, func(a, b genericSlot) int {
		ka, _ := metadata.TypeOrMethodDef.Encode(a.owner)
		kb, _ := metadata.TypeOrMethodDef.Encode(b.owner)
		if c := cmp.Compare(ka, kb); c != 0 {
			return c
		}
		return cmp.Compare(a.p.Position, b.p.Position)
	})
	for i, g := range owners {
		w.defs[g.p] = metadata.NewToken(metadata.TableGenericParam, uint32(i+1))
	}
	w.generic = owners
	return nil
}

// paramSlots lists the parameters of md that need a Param row, return value
// first.
func paramSlots(md *MethodDefinition) ([]paramSlot, error) {
	ps, err := md.paramsLocked()
	if err != nil {
		return nil, err
	}
	var out []paramSlot
	if ps.ret != nil && ps.ret.needsRow() {
		out = append(out, paramSlot{p: ps.ret})
	}
	for i, p := range ps.list {
		if p.needsRow() {
			out = append(out, paramSlot{p: p, seq: uint16(i + 1)})
		}
	}
	return out, nil
}

func (w *writer) attribute(tok metadata.Token, owner CustomAttributeProvider) {
	w.attributed = append(w.attributed, attributed{tok: tok, owner: owner})
}

func (w *writer) writeModule() error {
	m := w.m
	row := metadata.ModuleRow{Name: w.strs.Add(m.Name), Mvid: w.guids.Add(m.Mvid)}
	if _, err := w.tables.Add(row); err != nil {
		return err
	}
	w.attribute(metadata.NewToken(metadata.TableModule, 1), m)

	a, err := m.assemblyLocked()
	if err != nil || a == nil {
		return err
	}
	pk, err := w.blobs.Add(a.PublicKey)
	if err != nil {
		return err
	}
	_, err = w.tables.Add(metadata.AssemblyRow{
		HashAlgID:      a.HashAlgorithm,
		MajorVersion:   a.Version.Major,
		MinorVersion:   a.Version.Minor,
		BuildNumber:    a.Version.Build,
		RevisionNumber: a.Version.Revision,
		Flags:          a.Attributes,
		PublicKey:      pk,
		Name:           w.strs.Add(a.Name),
		Culture:        w.strs.Add(a.Culture),
	})
	if err != nil {
		return err
	}
	tok := metadata.NewToken(metadata.TableAssembly, 1)
	w.attribute(tok, a)
	return w.security(tok, &a.securable, a.token)
}

func (w *writer) writeBodies() error {
	base := w.img.CodeRVA()
	for _, t := range w.types {
		ms, err := t.methodsLocked()
		if err != nil {
			return err
		}
		for _, md := range ms {
			body, err := md.bodyLocked()
			if err != nil {
				return err
			}
			if body == nil {
				continue
			}
			off, err := w.writeBody(body)
			if err != nil {
				return withToken(err, md.token)
			}
			w.rvas[md] = base + off
		}
	}
	return nil
}

func (w *writer) writeBody(body *MethodBody) (uint32, error) {
	il, err := remapTokens(body.Code, w.remapToken)
	if err != nil {
		return 0, err
	}
	var locals metadata.Token
	if len(body.Variables) > 0 {
		if locals, err = w.standAloneToken(body.Variables); err != nil {
			return 0, err
		}
	}
	clauses := make([]rawClause, 0, len(body.ExceptionHandlers))
	for _, h := range body.ExceptionHandlers {
		c := rawClause{handler: h}
		if h.Type == ExceptionCatch && h.CatchType != nil {
			if c.token, err = w.typeToken(h.CatchType); err != nil {
				return 0, err
			}
		}
		clauses = append(clauses, c)
	}
	return encodeMethodBody(w.code, body, il, locals, clauses), nil
}

type interfaceSlot struct {
	class uint32
	coded uint32
	iface metadata.Token
	impl  *InterfaceImplementation
}

func (w *writer) writeTypes() error {
	field, method, param, prop, event := uint32(1), uint32(1), uint32(1), uint32(1), uint32(1)
	var ifaces []interfaceSlot

	for _, t := range w.types {
		tok := w.defs[t]
		base, err := t.baseTypeLocked()
		if err != nil {
			return err
		}
		var extends metadata.Token
		if base != nil {
			if extends, err = w.typeToken(base); err != nil {
				return err
			}
		}
		fs, err := t.fieldsLocked()
		if err != nil {
			return err
		}
		ms, err := t.methodsLocked()
		if err != nil {
			return err
		}
		_, err = w.tables.Add(metadata.TypeDefRow{
			Flags:      t.Attributes,
			Name:       w.strs.Add(t.name),
			Namespace:  w.strs.Add(t.namespace),
			Extends:    extends,
			FieldList:  field,
			MethodList: method,
		})
		if err != nil {
			return err
		}
		field += uint32(len(fs))
		method += uint32(len(ms))
		w.attribute(tok, t)
		if err := w.security(tok, &t.securable, t.token); err != nil {
			return err
		}

		if outer := t.DeclaringType(); outer != nil {
			if otok, ok := w.defs[outer]; ok {
				if _, err := w.tables.Add(metadata.NestedClassRow{NestedClass: tok.RID(), EnclosingClass: otok.RID()}); err != nil {
					return err
				}
			}
		}
		layout, err := t.layoutLocked()
		if err != nil {
			return err
		}
		if layout != nil {
			row := metadata.ClassLayoutRow{PackingSize: layout.PackingSize, ClassSize: layout.ClassSize, Parent: tok.RID()}
			if _, err := w.tables.Add(row); err != nil {
				return err
			}
		}
		impls, err := t.interfacesLocked()
		if err != nil {
			return err
		}
		for _, impl := range impls {
			itok, err := w.typeToken(impl.InterfaceType)
			if err != nil {
				return err
			}
			coded, err := metadata.TypeDefOrRef.Encode(itok)
			if err != nil {
				return err
			}
			ifaces = append(ifaces, interfaceSlot{class: tok.RID(), coded: coded, iface: itok, impl: impl})
		}

		for _, f := range fs {
			if err := w.writeField(f); err != nil {
				return err
			}
		}
		for _, md := range ms {
			if err := w.writeMethod(tok, md, &param); err != nil {
				return err
			}
		}

		ps, err := t.propertiesLocked()
		if err != nil {
			return err
		}
		if len(ps) > 0 {
			if _, err := w.tables.Add(metadata.NewPropertyMapRow(tok.RID(), prop)); err != nil {
				return err
			}
			prop += uint32(len(ps))
		}
		for _, p := range ps {
			if err := w.writeProperty(p); err != nil {
				return err
			}
		}
		es, err := t.eventsLocked()
		if err != nil {
			return err
		}
		if len(es) > 0 {
			if _, err := w.tables.Add(metadata.NewEventMapRow(tok.RID(), event)); err != nil {
				return err
			}
			event += uint32(len(es))
		}
		for _, e := range es {
			if err := w.writeEvent(e); err != nil {
				return err
			}
		}
	}

	// Custom attributes can name InterfaceImpl rows, so they are numbered
	// in sorted order.
	slices.SortStableFunc(ifaces, func(a, b interfaceSlot) int {
		if c := cmp.Compare(a.class, b.class); c != 0 {
			return c
		}
		return cmp.Compare(a.coded, b.coded)
	})
	for _, s := range ifaces {
		rid, err := w.tables.Add(metadata.InterfaceImplRow{Class: s.class, Interface: s.iface})
		if err != nil {
			return err
		}
		w.attribute(metadata.NewToken(metadata.TableInterfaceImpl, rid), s.impl)
	}
	return nil
}

func (w *writer) writeField(f *FieldDefinition) error {
	tok := w.defs[f]
	ft, err := f.fieldTypeLocked()
	if err != nil {
		return err
	}
	blob, err := encodeFieldSig(w, ft)
	if err != nil {
		return withToken(err, f.token)
	}
	sig, err := w.blobs.Add(blob)
	if err != nil {
		return err
	}
	if _, err := w.tables.Add(metadata.FieldRow{Flags: f.Attributes, Name: w.strs.Add(f.Name), Signature: sig}); err != nil {
		return err
	}
	w.attribute(tok, f)

	c, err := f.constantLocked()
	if err != nil {
		return err
	}
	if err := w.constant(tok, c); err != nil {
		return err
	}
	mi, err := f.marshalLocked()
	if err != nil {
		return err
	}
	if err := w.marshal(tok, mi); err != nil {
		return err
	}
	off, err := f.offsetLocked()
	if err != nil {
		return err
	}
	if off != nil {
		if _, err := w.tables.Add(metadata.FieldLayoutRow{Offset: *off, Field: tok.RID()}); err != nil {
			return err
		}
	}
	if f.Attributes&FieldHasFieldRVA != 0 {
		data, err := f.initialValueLocked()
		if err != nil {
			return err
		}
		if data != nil {
			w.data.Align(4)
			w.fieldData = append(w.fieldData, fieldData{field: tok.RID(), offset: uint32(w.data.Len())})
			w.data.WriteBytes(data)
		}
	}
	return nil
}

func (w *writer) writeMethod(owner metadata.Token, md *MethodDefinition, param *uint32) error {
	tok := w.defs[md]
	sig, err := md.signatureLocked()
	if err != nil {
		return err
	}
	blob, err := encodeMethodSig(w, sig)
	if err != nil {
		return withToken(err, md.token)
	}
	sigIdx, err := w.blobs.Add(blob)
	if err != nil {
		return err
	}
	slots := w.params[md]
	_, err = w.tables.Add(metadata.MethodRow{
		RVA:       w.rvas[md],
		ImplFlags: md.ImplAttributes,
		Flags:     md.Attributes,
		Name:      w.strs.Add(md.Name),
		Signature: sigIdx,
		ParamList: *param,
	})
	if err != nil {
		return err
	}
	*param += uint32(len(slots))
	w.attribute(tok, md)
	if err := w.security(tok, &md.securable, md.token); err != nil {
		return err
	}

	for _, s := range slots {
		ptok := w.defs[s.p]
		if _, err := w.tables.Add(metadata.ParamRow{Flags: s.p.Attributes, Sequence: s.seq, Name: w.strs.Add(s.p.Name)}); err != nil {
			return err
		}
		w.attribute(ptok, s.p)
		c, err := s.p.constantLocked()
		if err != nil {
			return err
		}
		if err := w.constant(ptok, c); err != nil {
			return err
		}
		mi, err := s.p.marshalLocked()
		if err != nil {
			return err
		}
		if err := w.marshal(ptok, mi); err != nil {
			return err
		}
	}

	info, err := md.pinvokeLocked()
	if err != nil {
		return err
	}
	if info != nil {
		var scope metadata.Token
		if info.Module != nil {
			scope = w.moduleRefToken(info.Module)
		}
		_, err := w.tables.Add(metadata.ImplMapRow{
			MappingFlags:    info.Attributes,
			MemberForwarded: tok,
			ImportName:      w.strs.Add(info.EntryPoint),
			ImportScope:     scope.RID(),
		})
		if err != nil {
			return err
		}
	}

	decls, err := md.overridesLocked()
	if err != nil {
		return err
	}
	for _, decl := range decls {
		dtok, err := w.methodToken(decl)
		if err != nil {
			return err
		}
		if _, err := w.tables.Add(metadata.MethodImplRow{Class: owner.RID(), Body: tok, Declaration: dtok}); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeProperty(p *PropertyDefinition) error {
	tok := w.defs[p]
	sig, err := p.signatureLocked()
	if err != nil {
		return err
	}
	blob, err := encodePropertySig(w, sig)
	if err != nil {
		return withToken(err, p.token)
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return err
	}
	if _, err := w.tables.Add(metadata.PropertyRow{Flags: p.Attributes, Name: w.strs.Add(p.Name), Type: idx}); err != nil {
		return err
	}
	w.attribute(tok, p)
	c, err := p.constantLocked()
	if err != nil {
		return err
	}
	if err := w.constant(tok, c); err != nil {
		return err
	}
	s, err := p.semanticsLocked()
	if err != nil {
		return err
	}
	return w.semantics(tok, s)
}

func (w *writer) writeEvent(e *EventDefinition) error {
	tok := w.defs[e]
	et, err := e.eventTypeLocked()
	if err != nil {
		return err
	}
	var etok metadata.Token
	if et != nil {
		if etok, err = w.typeToken(et); err != nil {
			return err
		}
	}
	if _, err := w.tables.Add(metadata.EventRow{Flags: e.Attributes, Name: w.strs.Add(e.Name), EventType: etok}); err != nil {
		return err
	}
	w.attribute(tok, e)
	s, err := e.semanticsLocked()
	if err != nil {
		return err
	}
	return w.semantics(tok, s)
}

func (w *writer) semantics(assoc metadata.Token, s *semanticMethods) error {
	if s == nil {
		return nil
	}
	type entry struct {
		md   *MethodDefinition
		kind uint16
	}
	list := []entry{
		{s.setter, SemanticsSetter},
		{s.getter, SemanticsGetter},
		{s.adder, SemanticsAddOn},
		{s.remover, SemanticsRemoveOn},
		{s.invoker, SemanticsFire},
	}
	for _, o := range s.other {
		list = append(list, entry{o, SemanticsOther})
	}
	for _, e := range list {
		if e.md == nil {
			continue
		}
		mtok, ok := w.defs[e.md]
		if !ok {
			return errors.NotFound(errors.PhaseWrite, "accessor", e.md.Name)
		}
		row := metadata.MethodSemanticsRow{Semantics: e.kind, Method: mtok.RID(), Association: assoc}
		if _, err := w.tables.Add(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) constant(parent metadata.Token, c *Constant) error {
	if c == nil {
		return nil
	}
	blob, err := encodeConstant(c)
	if err != nil {
		return withToken(err, parent)
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return err
	}
	_, err = w.tables.Add(metadata.ConstantRow{Type: uint8(c.Type), Parent: parent, Value: idx})
	return err
}

func (w *writer) marshal(parent metadata.Token, mi MarshalInfo) error {
	if mi == nil {
		return nil
	}
	blob, err := w.m.encodeMarshal(mi)
	if err != nil {
		return withToken(err, parent)
	}
	idx, err := w.blobs.Add(blob)
	if err != nil {
		return err
	}
	_, err = w.tables.Add(metadata.FieldMarshalRow{Parent: parent, NativeType: idx})
	return err
}

func (w *writer) security(parent metadata.Token, s *securable, read metadata.Token) error {
	sds, err := s.securityLocked(w.m, read)
	if err != nil {
		return err
	}
	for _, sd := range sds {
		blob, err := sd.blobLocked()
		if err != nil {
			return withToken(err, parent)
		}
		idx, err := w.blobs.Add(blob)
		if err != nil {
			return err
		}
		row := metadata.DeclSecurityRow{Action: uint16(sd.Action), Parent: parent, PermissionSet: idx}
		if _, err := w.tables.Add(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeGenericParameters() error {
	for _, g := range w.generic {
		row := metadata.GenericParamRow{
			Number: uint16(g.p.Position),
			Flags:  g.p.Attributes,
			Owner:  g.owner,
			Name:   w.strs.Add(g.p.name),
		}
		if _, err := w.tables.Add(row); err != nil {
			return err
		}
		w.attribute(w.defs[g.p], g.p)
	}
	for _, g := range w.generic {
		cs, err := g.p.constraintsLocked()
		if err != nil {
			return err
		}
		for _, c := range cs {
			ctok, err := w.typeToken(c.ConstraintType)
			if err != nil {
				return err
			}
			rid, err := w.tables.Add(metadata.GenericParamConstraintRow{Owner: w.defs[g.p].RID(), Constraint: ctok})
			if err != nil {
				return err
			}
			w.attribute(metadata.NewToken(metadata.TableGenericParamConstraint, rid), c)
		}
	}
	return nil
}

func (w *writer) writeManifest() error {
	m := w.m
	files, err := m.filesLocked()
	if err != nil {
		return err
	}
	fileToks := make(map[*FileReference]metadata.Token, len(files))
	for _, f := range files {
		hash, err := w.blobs.Add(f.HashValue)
		if err != nil {
			return err
		}
		rid, err := w.tables.Add(metadata.FileRow{Flags: f.Flags, Name: w.strs.Add(f.Name), HashValue: hash})
		if err != nil {
			return err
		}
		tok := metadata.NewToken(metadata.TableFile, rid)
		fileToks[f] = tok
		w.attribute(tok, f)
	}
	fileToken := func(f *FileReference) (metadata.Token, error) {
		if tok, ok := fileToks[f]; ok {
			return tok, nil
		}
		name := "<nil>"
		if f != nil {
			name = f.Name
		}
		return 0, errors.NotFound(errors.PhaseWrite, "file", name)
	}

	exported, err := m.exportedTypesLocked()
	if err != nil {
		return err
	}
	exportToks := make(map[*ExportedType]metadata.Token, len(exported))
	for i, e := range exported {
		exportToks[e] = metadata.NewToken(metadata.TableExportedType, uint32(i+1))
	}
	for _, e := range exported {
		var impl metadata.Token
		switch x := e.Implementation.(type) {
		case *FileReference:
			impl, err = fileToken(x)
		case *AssemblyNameReference:
			impl, err = w.assemblyRefToken(x)
		case *ExportedType:
			var ok bool
			if impl, ok = exportToks[x]; !ok {
				err = errors.NotFound(errors.PhaseWrite, "exported type", x.FullName())
			}
		}
		if err != nil {
			return err
		}
		_, err = w.tables.Add(metadata.ExportedTypeRow{
			Flags:          e.Attributes,
			TypeDefID:      e.TypeDefID,
			Name:           w.strs.Add(e.Name),
			Namespace:      w.strs.Add(e.Namespace),
			Implementation: impl,
		})
		if err != nil {
			return err
		}
		w.attribute(exportToks[e], e)
	}

	resources, err := m.resourcesLocked()
	if err != nil {
		return err
	}
	for _, r := range resources {
		row := metadata.ManifestResourceRow{Flags: r.ResourceAttributes(), Name: w.strs.Add(r.ResourceName())}
		switch x := r.(type) {
		case *EmbeddedResource:
			data, err := x.dataLocked()
			if err != nil {
				return err
			}
			row.Offset = uint32(w.resources.Len())
			w.resources.WriteUint32(uint32(len(data)))
			w.resources.WriteBytes(data)
			w.resources.Align(8)
		case *LinkedResource:
			if row.Implementation, err = fileToken(x.File); err != nil {
				return err
			}
		case *AssemblyLinkedResource:
			if row.Implementation, err = w.assemblyRefToken(x.Assembly); err != nil {
				return err
			}
		}
		rid, err := w.tables.Add(row)
		if err != nil {
			return err
		}
		if p, ok := r.(CustomAttributeProvider); ok {
			w.attribute(metadata.NewToken(metadata.TableManifestResource, rid), p)
		}
	}
	return nil
}

// writeAttributes emits the CustomAttribute rows of every definition and of
// the references owned by the module. It runs after all other rows so that
// constructor references are the last ones interned.
func (w *writer) writeAttributes() error {
	for _, a := range w.attributed {
		if err := w.customAttributes(a.tok, a.owner); err != nil {
			return err
		}
	}
	for _, r := range []*refTable{w.typeRefs, w.memberRefs, w.modRefs, w.asmRefs, w.methodSpecs} {
		for i := 0; i < len(r.nodes); i++ {
			p, ok := r.nodes[i].(CustomAttributeProvider)
			if !ok {
				continue
			}
			if o, ok := p.(interface{ Module() *Module }); !ok || o.Module() != w.m {
				continue
			}
			if err := w.customAttributes(metadata.NewToken(r.table, uint32(i+1)), p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) customAttributes(parent metadata.Token, owner CustomAttributeProvider) error {
	cas, err := owner.attributesLocked()
	if err != nil {
		return err
	}
	for _, ca := range cas {
		ctor, err := w.methodToken(ca.Constructor)
		if err != nil {
			return err
		}
		blob, err := ca.blobLocked()
		if err != nil {
			return withToken(err, parent)
		}
		idx, err := w.blobs.Add(blob)
		if err != nil {
			return err
		}
		if _, err := w.tables.Add(metadata.CustomAttributeRow{Parent: parent, Type: ctor, Value: idx}); err != nil {
			return err
		}
	}
	return nil
}
