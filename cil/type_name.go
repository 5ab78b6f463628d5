package cil

import (
	"strconv"
	"strings"

	"github.com/wippyai/cli-metadata/errors"
)

// parsedTypeName is a reflection-format type name such as
// "Ns.Outer+Inner`1[[System.Int32, mscorlib]][], Asm, Version=1.0.0.0".
type parsedTypeName struct {
	namespace string
	names     []string // outermost first
	args      []*parsedTypeName
	suffixes  []string // "*", "&", "[]", "[,]"
	assembly  string
}

type typeNameParser struct {
	s   string
	pos int
}

func (p *typeNameParser) eof() bool { return p.pos >= len(p.s) }

func (p *typeNameParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *typeNameParser) fail(detail string) error {
	return errors.New(errors.PhaseSignature, errors.KindMalformed).
		Value(p.s).
		Offset(int64(p.pos)).
		Detail("type name: %s", detail).
		Build()
}

func (p *typeNameParser) skipSpace() {
	for !p.eof() && p.s[p.pos] == ' ' {
		p.pos++
	}
}

// identifier reads up to one of stop, honouring backslash escapes.
func (p *typeNameParser) identifier(stop string) string {
	var sb strings.Builder
	for !p.eof() {
		c := p.s[p.pos]
		if c == '\\' && p.pos+1 < len(p.s) {
			sb.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if strings.IndexByte(stop, c) >= 0 {
			break
		}
		sb.WriteByte(c)
		p.pos++
	}
	return strings.TrimSpace(sb.String())
}

func (p *typeNameParser) parse(qualified bool) (*parsedTypeName, error) {
	p.skipSpace()
	full := p.identifier("+,[]*&")
	if full == "" {
		return nil, p.fail("empty name")
	}
	n := &parsedTypeName{}
	if dot := strings.LastIndexByte(full, '.'); dot >= 0 {
		n.namespace, full = full[:dot], full[dot+1:]
	}
	n.names = append(n.names, full)
	for p.peek() == '+' {
		p.pos++
		nested := p.identifier("+,[]*&")
		if nested == "" {
			return nil, p.fail("empty nested name")
		}
		n.names = append(n.names, nested)
	}

	if p.peek() == '[' && p.pos+1 < len(p.s) && p.s[p.pos+1] != ']' && p.s[p.pos+1] != ',' && p.s[p.pos+1] != '*' {
		p.pos++
		for {
			p.skipSpace()
			var (
				arg *parsedTypeName
				err error
			)
			if p.peek() == '[' {
				p.pos++
				if arg, err = p.parse(true); err != nil {
					return nil, err
				}
				if p.peek() != ']' {
					return nil, p.fail("unterminated generic argument")
				}
				p.pos++
			} else if arg, err = p.parse(false); err != nil {
				return nil, err
			}
			n.args = append(n.args, arg)
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				continue
			}
			if p.peek() != ']' {
				return nil, p.fail("unterminated generic argument list")
			}
			p.pos++
			break
		}
	}

	for !p.eof() {
		switch p.peek() {
		case '*', '&':
			n.suffixes = append(n.suffixes, string(p.peek()))
			p.pos++
			continue
		case '[':
			end := strings.IndexByte(p.s[p.pos:], ']')
			if end < 0 {
				return nil, p.fail("unterminated array suffix")
			}
			n.suffixes = append(n.suffixes, p.s[p.pos:p.pos+end+1])
			p.pos += end + 1
			continue
		}
		break
	}

	p.skipSpace()
	if qualified && p.peek() == ',' {
		p.pos++
		n.assembly = strings.TrimSpace(p.identifier("]"))
	}
	return n, nil
}

func parseTypeNameString(s string) (*parsedTypeName, error) {
	p := &typeNameParser{s: s}
	n, err := p.parse(true)
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.fail("trailing characters")
	}
	return n, nil
}

// parseAssemblyName parses "Name, Version=a.b.c.d, Culture=x, PublicKeyToken=hex".
func parseAssemblyName(s string) *AssemblyNameReference {
	parts := strings.Split(s, ",")
	ref := NewAssemblyNameReference(strings.TrimSpace(parts[0]), Version{}, nil)
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "version":
			nums := strings.Split(value, ".")
			dst := []*uint16{&ref.Version.Major, &ref.Version.Minor, &ref.Version.Build, &ref.Version.Revision}
			for i := 0; i < len(nums) && i < 4; i++ {
				v, _ := strconv.ParseUint(nums[i], 10, 16)
				*dst[i] = uint16(v)
			}
		case "culture":
			if !strings.EqualFold(value, "neutral") {
				ref.Culture = value
			}
		case "publickeytoken":
			if !strings.EqualFold(value, "null") {
				ref.PublicKeyOrToken = decodeHex(value)
			}
		}
	}
	return ref
}

func decodeHex(s string) []byte {
	out := make([]byte, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		v, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return nil
		}
		out = append(out, byte(v))
	}
	return out
}

// parseTypeName turns a reflection type name into a Type of this module. The
// caller holds the module lock.
func (m *Module) parseTypeName(s string) (Type, error) {
	n, err := parseTypeNameString(s)
	if err != nil {
		return nil, err
	}
	t, err := m.typeFromParsed(n)
	if err != nil {
		return nil, err
	}
	if ref, ok := t.(*TypeReference); ok && n.assembly != "" {
		ref.serName = s
	}
	return t, nil
}

func (m *Module) typeFromParsed(n *parsedTypeName) (Type, error) {
	var t Type
	if n.assembly == "" || m.isOwnAssembly(n.assembly) {
		if def := m.findTypeLocked(joinName(n.namespace, n.names[0])); def != nil {
			t = def
			for _, name := range n.names[1:] {
				nested, err := def.nestedLocked()
				if err != nil {
					return nil, err
				}
				def = nil
				for _, c := range nested {
					if c.name == name {
						def = c
						break
					}
				}
				if def == nil {
					return nil, errors.NotFound(errors.PhaseResolve, "nested type", name)
				}
				t = def
			}
		}
	}
	if t == nil {
		var scope ResolutionScope
		if n.assembly != "" {
			scope = m.assemblyRefNamed(n.assembly)
		} else {
			scope = m.corlibScope()
		}
		ref := m.internTypeRef(scope, n.namespace, n.names[0])
		for _, name := range n.names[1:] {
			ref = m.internTypeRef(ref, "", name)
		}
		t = ref
	}

	if len(n.args) > 0 {
		gi := &GenericInstanceType{Element: t}
		for _, a := range n.args {
			at, err := m.typeFromParsed(a)
			if err != nil {
				return nil, err
			}
			gi.Arguments = append(gi.Arguments, at)
		}
		if ref, ok := t.(*TypeReference); ok {
			ref.ensureArity(len(gi.Arguments))
		}
		t = gi
	}
	for _, s := range n.suffixes {
		switch s {
		case "*":
			t = &PointerType{Element: t}
		case "&":
			t = &ByReferenceType{Element: t}
		case "[]":
			t = NewVector(t)
		default:
			rank := strings.Count(s, ",") + 1
			t = &ArrayType{Element: t, Dimensions: make([]ArrayDimension, rank)}
		}
	}
	return t, nil
}

var corlibNames = map[string]bool{
	"mscorlib":               true,
	"System.Private.CoreLib": true,
	"netstandard":            true,
	"System.Runtime":         true,
}

// typeNameOf formats t as a reflection type name, qualifying types from
// other assemblies.
func (m *Module) typeNameOf(t Type) string {
	return m.formatTypeName(t, true)
}

func (m *Module) formatTypeName(t Type, top bool) string {
	if ref, ok := t.(*TypeReference); ok && ref.serName != "" {
		return ref.serName
	}
	var sb strings.Builder
	base := t
	var suffix []string
	for {
		switch x := base.(type) {
		case *ArrayType:
			suffix = append([]string{x.suffix()}, suffix...)
			base = x.Element
			continue
		case *PointerType:
			suffix = append([]string{"*"}, suffix...)
			base = x.Element
			continue
		case *ByReferenceType:
			suffix = append([]string{"&"}, suffix...)
			base = x.Element
			continue
		}
		break
	}

	var args []Type
	if gi, ok := base.(*GenericInstanceType); ok {
		args, base = gi.Arguments, gi.Element
	}
	sb.WriteString(reflectionName(base))
	if len(args) > 0 {
		sb.WriteByte('[')
		for i, a := range args {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('[')
			sb.WriteString(m.formatTypeName(a, true))
			sb.WriteByte(']')
		}
		sb.WriteByte(']')
	}
	for _, s := range suffix {
		sb.WriteString(s)
	}
	if top {
		if asm := assemblyScopeOf(base); asm != nil && !corlibNames[asm.Name] && !m.isOwnAssembly(asm.Name) {
			sb.WriteString(", ")
			sb.WriteString(asm.FullName())
		}
	}
	return sb.String()
}

// reflectionName is the full name with '+' separating nested types.
func reflectionName(t Type) string {
	switch x := t.(type) {
	case *TypeReference:
		if outer := x.DeclaringType(); outer != nil {
			return reflectionName(outer) + "+" + x.name
		}
	case *TypeDefinition:
		if outer := x.DeclaringType(); outer != nil {
			return reflectionName(outer) + "+" + x.name
		}
	}
	return joinName(t.Namespace(), t.Name())
}

func assemblyScopeOf(t Type) *AssemblyNameReference {
	ref, ok := t.(*TypeReference)
	for ok {
		switch s := ref.scope.(type) {
		case *AssemblyNameReference:
			return s
		case *TypeReference:
			ref = s
		default:
			return nil
		}
	}
	return nil
}
