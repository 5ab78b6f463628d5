package cil

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/metadata"
	"github.com/wippyai/cli-metadata/pe"
)

var fixedTime = time.Unix(1700000000, 0)

// buildSample assembles a small library exercising most member kinds.
func buildSample(t *testing.T) *Module {
	t.Helper()
	m := NewModule("Sample.dll", ModuleDLL)
	m.SetAssembly(NewAssemblyDefinition("Sample", Version{Major: 1, Minor: 2, Build: 3, Revision: 4}))

	object := m.CorlibNamed("System", "Object", false)
	void := m.CorlibType(ElementVoid)
	i4 := m.CorlibType(ElementI4)
	str := m.CorlibType(ElementString)

	greeter := NewTypeDefinition("Acme", "Greeter", TypePublic|TypeBeforeFieldInit, object)
	require.NoError(t, m.AddType(greeter))

	require.NoError(t, greeter.AddField(NewFieldDefinition("Count", FieldPublic|FieldStatic, i4)))
	prefix := NewFieldDefinition("Prefix", FieldPublic|FieldStatic|FieldLiteral, str)
	c, err := NewConstant("Hello, ")
	require.NoError(t, err)
	prefix.SetConstant(c)
	require.NoError(t, greeter.AddField(prefix))
	table := NewFieldDefinition("Table", FieldAssembly|FieldStatic|FieldInitOnly, i4)
	table.SetInitialValue([]byte{1, 2, 3, 4})
	require.NoError(t, greeter.AddField(table))

	// ldc.i4.s 42; ret
	answer := NewMethodDefinition("Answer", MethodPublic|MethodStatic|MethodHideBySig, 0, i4)
	answer.SetBody(NewMethodBody([]byte{0x1F, 0x2A, 0x2A}))
	require.NoError(t, greeter.AddMethod(answer))

	// try { nop; leave.s END } catch (Exception) { pop; leave.s END } END: ret
	guarded := NewMethodDefinition("Guarded", MethodPublic|MethodHideBySig, 0, void)
	require.NoError(t, guarded.AddParameter(NewParameterDefinition("value", 0, i4)))
	body := NewMethodBody([]byte{0x00, 0xDE, 0x03, 0x26, 0xDE, 0x00, 0x2A})
	body.InitLocals = true
	body.Variables = []Type{i4}
	body.ExceptionHandlers = []ExceptionHandler{{
		Type:          ExceptionCatch,
		TryLength:     3,
		HandlerOffset: 3,
		HandlerLength: 3,
		CatchType:     m.CorlibNamed("System", "Exception", false),
	}}
	guarded.SetBody(body)
	require.NoError(t, greeter.AddMethod(guarded))

	getter := NewMethodDefinition("get_Name", MethodPublic|MethodHideBySig|MethodSpecialName, 0, str)
	getter.SetBody(NewMethodBody([]byte{0x14, 0x2A}))
	require.NoError(t, greeter.AddMethod(getter))
	name := NewPropertyDefinition("Name", 0, str)
	require.NoError(t, greeter.AddProperty(name))
	require.NoError(t, name.SetAccessors(getter, nil))

	inner := NewTypeDefinition("", "Inner", TypeNestedPrivate|TypeSequentialLayout|TypeSealed, m.CorlibNamed("System", "ValueType", true))
	inner.SetLayout(&ClassLayout{PackingSize: 4, ClassSize: 8})
	require.NoError(t, greeter.AddNestedType(inner))

	box := NewTypeDefinition("Acme", "Box`1", TypePublic, object)
	require.NoError(t, m.AddType(box))
	tp := NewGenericParameter("T")
	require.NoError(t, box.AddGenericParameter(tp))
	require.NoError(t, box.AddField(NewFieldDefinition("Value", FieldPublic, tp)))

	obsolete := m.CorlibNamed("System", "ObsoleteAttribute", false)
	ctor := NewMethodReference(".ctor", obsolete, &MethodSignature{
		HasThis:       true,
		ReturnType:    void,
		Parameters:    []Type{str},
		SentinelIndex: -1,
	})
	ca := NewCustomAttribute(ctor)
	require.NoError(t, greeter.AddCustomAttribute(ca))
	require.NoError(t, ca.AddConstructorArgument(CustomAttributeArgument{Type: str, Value: "use Box"}))

	require.NoError(t, m.AddResource(NewEmbeddedResource("greeting.txt", ResourcePublic, []byte("hi"))))
	return m
}

func writeRead(t *testing.T, m *Module, opts ...Option) (*Module, []byte) {
	t.Helper()
	data, err := m.Bytes(WithTimestamp(fixedTime))
	require.NoError(t, err)
	r, err := Read(data, opts...)
	require.NoError(t, err)
	return r, data
}

func methodNamed(t *testing.T, td *TypeDefinition, name string) *MethodDefinition {
	t.Helper()
	md, err := td.FindMethod(name)
	require.NoError(t, err)
	require.NotNil(t, md, name)
	return md
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := buildSample(t)
	r, _ := writeRead(t, m)

	require.Equal(t, "Sample.dll", r.Name)
	require.Equal(t, m.Mvid, r.Mvid)
	require.Equal(t, ModuleDLL, r.Kind)

	a, err := r.Assembly()
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, "Sample", a.Name)
	require.Equal(t, Version{Major: 1, Minor: 2, Build: 3, Revision: 4}, a.Version)

	greeter, err := r.FindType("Acme.Greeter")
	require.NoError(t, err)
	require.NotNil(t, greeter)
	base, err := greeter.BaseType()
	require.NoError(t, err)
	require.Equal(t, "System.Object", base.FullName())

	fields, err := greeter.Fields()
	require.NoError(t, err)
	require.Len(t, fields, 3)
	require.Equal(t, "Count", fields[0].Name)

	c, err := fields[1].Constant()
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, ElementString, c.Type)
	require.Equal(t, "Hello, ", c.Value)

	data, err := fields[2].InitialValue()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)

	answer := methodNamed(t, greeter, "Answer")
	ret, err := answer.ReturnType()
	require.NoError(t, err)
	require.Equal(t, ElementI4, ret.ElementType())
	body, err := answer.Body()
	require.NoError(t, err)
	require.Equal(t, []byte{0x1F, 0x2A, 0x2A}, body.Code)

	guarded := methodNamed(t, greeter, "Guarded")
	params, err := guarded.Parameters()
	require.NoError(t, err)
	require.Len(t, params, 1)
	require.Equal(t, "value", params[0].Name)
	body, err = guarded.Body()
	require.NoError(t, err)
	require.True(t, body.InitLocals)
	require.Len(t, body.Variables, 1)
	require.Equal(t, ElementI4, body.Variables[0].ElementType())
	require.Len(t, body.ExceptionHandlers, 1)
	h := body.ExceptionHandlers[0]
	require.Equal(t, ExceptionCatch, h.Type)
	require.Equal(t, uint32(3), h.HandlerOffset)
	require.Equal(t, "System.Exception", h.CatchType.FullName())

	props, err := greeter.Properties()
	require.NoError(t, err)
	require.Len(t, props, 1)
	get, err := props[0].GetMethod()
	require.NoError(t, err)
	require.Same(t, methodNamed(t, greeter, "get_Name"), get)

	nested, err := greeter.NestedTypes()
	require.NoError(t, err)
	require.Len(t, nested, 1)
	require.Equal(t, "Acme.Greeter/Inner", nested[0].FullName())
	require.Same(t, greeter, nested[0].DeclaringType())
	layout, err := nested[0].Layout()
	require.NoError(t, err)
	require.Equal(t, &ClassLayout{PackingSize: 4, ClassSize: 8}, layout)

	box, err := r.FindType("Acme.Box`1")
	require.NoError(t, err)
	gps, err := box.GenericParameters()
	require.NoError(t, err)
	require.Len(t, gps, 1)
	require.Equal(t, "T", gps[0].Name())
	boxFields, err := box.Fields()
	require.NoError(t, err)
	ft, err := boxFields[0].FieldType()
	require.NoError(t, err)
	require.Same(t, gps[0], ft)

	cas, err := greeter.CustomAttributes()
	require.NoError(t, err)
	require.Len(t, cas, 1)
	require.Equal(t, "System.ObsoleteAttribute", cas[0].AttributeType().FullName())
	require.False(t, cas[0].IsDecoded())
	args, err := cas[0].ConstructorArguments()
	require.NoError(t, err)
	require.Len(t, args, 1)
	require.Equal(t, "use Box", args[0].Value)

	res, err := r.Resources()
	require.NoError(t, err)
	require.Len(t, res, 1)
	emb, ok := res[0].(*EmbeddedResource)
	require.True(t, ok)
	payload, err := emb.Data()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), payload)
}

// TestWriteFixedPoint rewrites a read module twice; once references are
// seeded from an image the output no longer changes.
func TestWriteFixedPoint(t *testing.T) {
	r1, _ := writeRead(t, buildSample(t))
	r2, second := writeRead(t, r1)
	third, err := r2.Bytes(WithTimestamp(fixedTime))
	require.NoError(t, err)
	require.Equal(t, second, third)
}

func TestTokensStableAcrossRewrite(t *testing.T) {
	r1, _ := writeRead(t, buildSample(t))
	r2, _ := writeRead(t, r1)

	refs1, err := r1.TypeReferences()
	require.NoError(t, err)
	refs2, err := r2.TypeReferences()
	require.NoError(t, err)
	require.Equal(t, len(refs1), len(refs2))
	for i := range refs1 {
		require.Equal(t, refs1[i].Token(), refs2[i].Token())
		require.Equal(t, refs1[i].FullName(), refs2[i].FullName())
	}

	g1, err := r1.FindType("Acme.Greeter")
	require.NoError(t, err)
	g2, err := r2.FindType("Acme.Greeter")
	require.NoError(t, err)
	require.Equal(t, g1.Token(), g2.Token())
	require.Equal(t, methodNamed(t, g1, "Guarded").Token(), methodNamed(t, g2, "Guarded").Token())
}

func TestLazyResolutionIdempotent(t *testing.T) {
	r, _ := writeRead(t, buildSample(t))

	first, err := r.AllTypes()
	require.NoError(t, err)
	n := r.decodes
	second, err := r.AllTypes()
	require.NoError(t, err)
	require.Equal(t, n, r.decodes)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Same(t, first[i], second[i])
	}

	greeter, err := r.FindType("Acme.Greeter")
	require.NoError(t, err)
	ms1, err := greeter.Methods()
	require.NoError(t, err)
	n = r.decodes
	ms2, err := greeter.Methods()
	require.NoError(t, err)
	require.Equal(t, n, r.decodes)
	for i := range ms1 {
		require.Same(t, ms1[i], ms2[i])
	}
}

func TestEagerLoadDecodesUpFront(t *testing.T) {
	m := buildSample(t)
	data, err := m.Bytes(WithTimestamp(fixedTime))
	require.NoError(t, err)

	r, err := Read(data, WithDeferredLoading(false))
	require.NoError(t, err)
	n := r.decodes
	require.Positive(t, n)

	types, err := r.AllTypes()
	require.NoError(t, err)
	for _, td := range types {
		_, err := td.Methods()
		require.NoError(t, err)
		_, err = td.Fields()
		require.NoError(t, err)
	}
	require.Equal(t, n, r.decodes)
}

func TestLookup(t *testing.T) {
	r, _ := writeRead(t, buildSample(t))

	greeter, err := r.FindType("Acme.Greeter")
	require.NoError(t, err)
	got, err := r.Lookup(greeter.Token())
	require.NoError(t, err)
	require.Same(t, greeter, got)

	answer := methodNamed(t, greeter, "Answer")
	got, err = r.Lookup(answer.Token())
	require.NoError(t, err)
	require.Same(t, answer, got)

	refs, err := r.TypeReferences()
	require.NoError(t, err)
	require.NotEmpty(t, refs)
	got, err = r.Lookup(refs[0].Token())
	require.NoError(t, err)
	require.Same(t, refs[0], got)

	_, err = r.Lookup(metadata.NewToken(metadata.TableTypeDef, 0xFFFF))
	require.Error(t, err)
}

func TestWriteArchitecture(t *testing.T) {
	m := buildSample(t)
	m.Attributes |= CLI32BitRequired

	data, err := m.Bytes(WithArchitecture(pe.MachineAMD64), WithTimestamp(fixedTime))
	require.NoError(t, err)
	r, err := Read(data)
	require.NoError(t, err)
	require.Equal(t, pe.MachineAMD64, r.Architecture)
	require.Zero(t, r.Attributes&CLI32BitRequired)

	_, err = m.Bytes(WithArchitecture(pe.MachineIA64))
	require.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestWriteEntryPoint(t *testing.T) {
	m := NewModule("App.exe", ModuleConsole)
	program := NewTypeDefinition("", "Program", 0, m.CorlibNamed("System", "Object", false))
	require.NoError(t, m.AddType(program))
	main := NewMethodDefinition("Main", MethodStatic|MethodPrivate, 0, m.CorlibType(ElementVoid))
	main.SetBody(NewMethodBody([]byte{0x2A}))
	require.NoError(t, program.AddMethod(main))
	m.SetEntryPoint(main)

	r, _ := writeRead(t, m)
	require.Equal(t, ModuleConsole, r.Kind)
	ep, err := r.EntryPoint()
	require.NoError(t, err)
	require.NotNil(t, ep)
	require.Equal(t, "Main", ep.Name)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFailures(t *testing.T) {
	m := buildSample(t)
	err := m.Write(failingWriter{})
	require.Error(t, err)

	// An entry point outside the module fails before any byte is written.
	other := NewModule("Other.dll", ModuleDLL)
	stray := NewMethodDefinition("Main", MethodStatic, 0, other.CorlibType(ElementVoid))
	holder := NewTypeDefinition("", "Holder", 0, nil)
	require.NoError(t, other.AddType(holder))
	require.NoError(t, holder.AddMethod(stray))
	m.SetEntryPoint(stray)

	var out bytes.Buffer
	err = m.Write(&out)
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.Zero(t, out.Len())
}

func TestReadMalformed(t *testing.T) {
	_, data := writeRead(t, buildSample(t))
	bsjb := bytes.Index(data, []byte("BSJB"))
	require.Positive(t, bsjb)

	for _, n := range []int{0, 2, 0x40, 0x100, bsjb + 16} {
		_, err := Read(data[:n])
		require.Error(t, err, "truncated at 0x%x", n)
	}

	img, err := pe.Read(data)
	require.NoError(t, err)
	require.NotEmpty(t, img.Streams)
	for _, st := range img.Streams {
		if st.Size == 0 {
			continue
		}
		start := bsjb + int(st.Offset)
		for _, n := range []int{start, start + int(st.Size) - 1} {
			_, err := Read(data[:n])
			require.ErrorIs(t, err, errors.ErrMalformed, "%s truncated at 0x%x", st.Name, n)
		}
	}

	bad := bytes.Clone(data)
	bad[bsjb] = 'X'
	_, err = Read(bad)
	require.ErrorIs(t, err, errors.ErrMalformed)
}

func TestReadSelfReferentialTypeSpec(t *testing.T) {
	m := NewModule("Cycle.dll", ModuleDLL)
	object := m.CorlibNamed("System", "Object", false)
	box := NewTypeDefinition("Acme", "Box`1", TypePublic, object)
	require.NoError(t, m.AddType(box))
	require.NoError(t, box.AddGenericParameter(NewGenericParameter("T")))
	base := &GenericInstanceType{Element: box, Arguments: []Type{m.CorlibType(ElementI4)}}
	require.NoError(t, m.AddType(NewTypeDefinition("Acme", "Derived", TypePublic, base)))

	r, data := writeRead(t, m)
	rbox, err := r.FindType("Acme.Box`1")
	require.NoError(t, err)
	boxIdx, err := metadata.TypeDefOrRef.Encode(rbox.Token())
	require.NoError(t, err)
	selfIdx, err := metadata.TypeDefOrRef.Encode(metadata.NewToken(metadata.TableTypeSpec, 1))
	require.NoError(t, err)

	// GENERICINST CLASS Box`1 <I4>, with the element redirected to TypeSpec 1.
	sig := []byte{0x15, 0x12, byte(boxIdx), 0x01, 0x08}
	require.Equal(t, 1, bytes.Count(data, sig))
	bad := bytes.Clone(data)
	bad[bytes.Index(bad, sig)+2] = byte(selfIdx)

	cyc, err := Read(bad)
	require.NoError(t, err)
	derived, err := cyc.FindType("Acme.Derived")
	require.NoError(t, err)
	_, err = derived.BaseType()
	require.ErrorIs(t, err, errors.ErrMalformed)

	_, err = cyc.Lookup(metadata.NewToken(metadata.TableTypeSpec, 1))
	require.ErrorIs(t, err, errors.ErrMalformed)

	_, err = Read(bad, WithDeferredLoading(false))
	require.ErrorIs(t, err, errors.ErrMalformed)
}

func TestNewNodesAppendAfterReadRows(t *testing.T) {
	r, _ := writeRead(t, buildSample(t))
	greeter, err := r.FindType("Acme.Greeter")
	require.NoError(t, err)
	before := greeter.Token()

	added := NewTypeDefinition("Acme", "Added", TypePublic, r.CorlibNamed("System", "Object", false))
	require.NoError(t, r.AddType(added))
	require.NoError(t, added.AddField(NewFieldDefinition("Flag", FieldPublic, r.CorlibType(ElementBoolean))))

	r2, _ := writeRead(t, r)
	g2, err := r2.FindType("Acme.Greeter")
	require.NoError(t, err)
	require.Equal(t, before, g2.Token())

	a2, err := r2.FindType("Acme.Added")
	require.NoError(t, err)
	require.NotNil(t, a2)
	all, err := r2.AllTypes()
	require.NoError(t, err)
	require.Equal(t, uint32(len(all)), a2.Token().RID())
}

func TestDeclaringTypeConcurrentWithAddType(t *testing.T) {
	r, _ := writeRead(t, buildSample(t))
	greeter, err := r.FindType("Acme.Greeter")
	require.NoError(t, err)
	answer := methodNamed(t, greeter, "Answer")
	fields, err := greeter.Fields()
	require.NoError(t, err)
	require.NotEmpty(t, fields)
	object := r.CorlibNamed("System", "Object", false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 64 {
			_ = r.AddType(NewTypeDefinition("Acme", fmt.Sprintf("Extra%d", i), TypePublic, object))
		}
	}()
	got := make([]*TypeDefinition, 0, 128)
	go func() {
		defer wg.Done()
		for range 64 {
			got = append(got, answer.DeclaringType(), fields[0].DeclaringType())
		}
	}()
	wg.Wait()

	for _, d := range got {
		require.Same(t, greeter, d)
	}
}
