package cil

import (
	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

// ExceptionHandlerType is the kind of an exception handling clause.
type ExceptionHandlerType uint32

const (
	ExceptionCatch   ExceptionHandlerType = 0
	ExceptionFilter  ExceptionHandlerType = 1
	ExceptionFinally ExceptionHandlerType = 2
	ExceptionFault   ExceptionHandlerType = 4
)

func (t ExceptionHandlerType) String() string {
	switch t {
	case ExceptionCatch:
		return "catch"
	case ExceptionFilter:
		return "filter"
	case ExceptionFinally:
		return "finally"
	case ExceptionFault:
		return "fault"
	}
	return "unknown"
}

// ExceptionHandler is one exception handling clause. Offsets are IL byte
// offsets into the body's code.
type ExceptionHandler struct {
	Type          ExceptionHandlerType
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32

	// CatchType is set for catch clauses, FilterOffset for filter clauses.
	CatchType    Type
	FilterOffset uint32
}

// MethodBody is a method's IL with its header data. Code holds raw IL; token
// operands refer to the module the body was read from and are renumbered when
// the module is written.
type MethodBody struct {
	MaxStackSize      uint16
	InitLocals        bool
	Code              []byte
	Variables         []Type
	ExceptionHandlers []ExceptionHandler

	// LocalVarToken is the StandAloneSig token of the locals as read.
	LocalVarToken metadata.Token

	fat bool
}

// NewMethodBody creates a body for code with the default stack size.
func NewMethodBody(code []byte) *MethodBody {
	return &MethodBody{MaxStackSize: 8, Code: code}
}

// Method header and section flags (ECMA-335 II.25.4).
const (
	bodyTinyFormat   = 0x02
	bodyFatFormat    = 0x03
	bodyFormatMask   = 0x03
	bodyMoreSects    = 0x08
	bodyInitLocals   = 0x10
	bodyFatHeaderLen = 3

	sectEHTable    = 0x01
	sectFatFormat  = 0x40
	sectMoreSects  = 0x80
	smallClauseLen = 12
	fatClauseLen   = 24
)

// rawClause is an exception clause with its class token still encoded.
type rawClause struct {
	handler ExceptionHandler
	token   metadata.Token
}

func bodyTruncated(offset int, err error) error {
	return errors.New(errors.PhaseSignature, errors.KindTruncated).
		Offset(int64(offset)).
		Detail("method body").
		Cause(err).
		Build()
}

// parseMethodBody decodes a method header, its IL and exception sections.
func parseMethodBody(raw []byte) (*MethodBody, []rawClause, error) {
	b := buffer.New(raw)
	first, err := b.ReadByte()
	if err != nil {
		return nil, nil, bodyTruncated(0, err)
	}

	body := &MethodBody{}
	switch first & bodyFormatMask {
	case bodyTinyFormat:
		body.MaxStackSize = 8
		if body.Code, err = b.ReadBytes(int(first >> 2)); err != nil {
			return nil, nil, bodyTruncated(1, err)
		}
		body.Code = append([]byte(nil), body.Code...)
		return body, nil, nil
	case bodyFatFormat:
	default:
		return nil, nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
			Value(first).
			Detail("method header format 0x%02x", first&bodyFormatMask).
			Build()
	}

	_ = b.SetPosition(0)
	flags, err := b.ReadUint16()
	if err != nil {
		return nil, nil, bodyTruncated(0, err)
	}
	if size := int(flags>>12) * 4; size < 12 {
		return nil, nil, errors.Malformed(errors.PhaseSignature, "fat method header size %d", size)
	}
	body.fat = true
	body.InitLocals = flags&bodyInitLocals != 0
	if body.MaxStackSize, err = b.ReadUint16(); err != nil {
		return nil, nil, bodyTruncated(b.Position(), err)
	}
	codeSize, err := b.ReadUint32()
	if err != nil {
		return nil, nil, bodyTruncated(b.Position(), err)
	}
	localTok, err := b.ReadUint32()
	if err != nil {
		return nil, nil, bodyTruncated(b.Position(), err)
	}
	body.LocalVarToken = metadata.Token(localTok)
	if err := b.SetPosition(int(flags>>12) * 4); err != nil {
		return nil, nil, bodyTruncated(b.Position(), err)
	}
	if int64(codeSize) > int64(b.Remaining()) {
		return nil, nil, errors.Truncated(errors.PhaseSignature, int64(b.Position()), int(codeSize), b.Remaining())
	}
	code, _ := b.ReadBytes(int(codeSize))
	body.Code = append([]byte(nil), code...)

	if flags&bodyMoreSects == 0 {
		return body, nil, nil
	}
	clauses, err := parseSections(b)
	if err != nil {
		return nil, nil, err
	}
	return body, clauses, nil
}

func parseSections(b *buffer.Buffer) ([]rawClause, error) {
	var clauses []rawClause
	for {
		_ = b.SetPosition((b.Position() + 3) &^ 3)
		start := b.Position()
		kind, err := b.ReadByte()
		if err != nil {
			return nil, bodyTruncated(start, err)
		}
		var size, count int
		if kind&sectFatFormat != 0 {
			lo, err := b.ReadUint16()
			if err != nil {
				return nil, bodyTruncated(start, err)
			}
			hi, err := b.ReadByte()
			if err != nil {
				return nil, bodyTruncated(start, err)
			}
			size = int(lo) | int(hi)<<16
			count = (size - 4) / fatClauseLen
		} else {
			n, err := b.ReadByte()
			if err != nil {
				return nil, bodyTruncated(start, err)
			}
			size = int(n)
			count = (size - 4) / smallClauseLen
			if err := b.Advance(2); err != nil {
				return nil, bodyTruncated(start, err)
			}
		}
		if size < 4 {
			return nil, errors.Malformed(errors.PhaseSignature, "method data section size %d", size)
		}

		if kind&sectEHTable == 0 {
			if err := b.SetPosition(start + size); err != nil {
				return nil, bodyTruncated(start, err)
			}
		} else {
			for range count {
				c, err := readClause(b, kind&sectFatFormat != 0)
				if err != nil {
					return nil, bodyTruncated(b.Position(), err)
				}
				clauses = append(clauses, c)
			}
		}
		if kind&sectMoreSects == 0 {
			return clauses, nil
		}
	}
}

func readClause(b *buffer.Buffer, fat bool) (rawClause, error) {
	var (
		c   rawClause
		h   = &c.handler
		err error
	)
	if fat {
		var flags uint32
		vals := []*uint32{&flags, &h.TryOffset, &h.TryLength, &h.HandlerOffset, &h.HandlerLength}
		for _, v := range vals {
			if *v, err = b.ReadUint32(); err != nil {
				return c, err
			}
		}
		h.Type = ExceptionHandlerType(flags)
	} else {
		flags, err := b.ReadUint16()
		if err != nil {
			return c, err
		}
		h.Type = ExceptionHandlerType(flags)
		tryOff, err := b.ReadUint16()
		if err != nil {
			return c, err
		}
		tryLen, err := b.ReadByte()
		if err != nil {
			return c, err
		}
		hOff, err := b.ReadUint16()
		if err != nil {
			return c, err
		}
		hLen, err := b.ReadByte()
		if err != nil {
			return c, err
		}
		h.TryOffset, h.TryLength = uint32(tryOff), uint32(tryLen)
		h.HandlerOffset, h.HandlerLength = uint32(hOff), uint32(hLen)
	}
	last, err := b.ReadUint32()
	if err != nil {
		return c, err
	}
	switch h.Type {
	case ExceptionCatch:
		c.token = metadata.Token(last)
	case ExceptionFilter:
		h.FilterOffset = last
	}
	return c, nil
}

// readMethodBody decodes the body of md from the image.
func (m *Module) readMethodBody(md *MethodDefinition) (*MethodBody, error) {
	if md.rva == 0 || !md.HasBody() || m.image == nil {
		return nil, nil
	}
	raw, err := m.image.ReadFrom(md.rva)
	if err != nil {
		return nil, errors.New(errors.PhaseImage, errors.KindOutOfBounds).
			Token(uint32(md.token)).
			Detail("method body at RVA 0x%x", md.rva).
			Cause(err).
			Build()
	}
	body, clauses, err := parseMethodBody(raw)
	if err != nil {
		return nil, withToken(err, md.token)
	}

	ctx := methodContext(md)
	if !body.LocalVarToken.IsNull() {
		if body.LocalVarToken.Table() != metadata.TableStandAloneSig {
			return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
				Token(uint32(md.token)).
				Detail("local variable token %s", body.LocalVarToken).
				Build()
		}
		row, err := m.tables.StandAloneSig(body.LocalVarToken.RID())
		if err != nil {
			return nil, err
		}
		if body.Variables, err = m.readLocalsSignature(row.Signature, ctx); err != nil {
			return nil, withToken(err, md.token)
		}
	}
	for _, c := range clauses {
		h := c.handler
		if h.Type == ExceptionCatch && !c.token.IsNull() {
			if h.CatchType, err = m.resolveTypeToken(c.token, ctx); err != nil {
				return nil, err
			}
		}
		body.ExceptionHandlers = append(body.ExceptionHandlers, h)
	}
	m.decoded()
	return body, nil
}

// encodeMethodBody appends body to code and returns its offset. The IL must
// already carry the output tokens.
func encodeMethodBody(code *buffer.Buffer, body *MethodBody, il []byte, locals metadata.Token, clauses []rawClause) uint32 {
	tiny := !body.fat && len(il) < 64 && body.MaxStackSize <= 8 &&
		locals.IsNull() && len(clauses) == 0 && !body.InitLocals
	if tiny {
		off := uint32(code.Len())
		code.WriteUint8(byte(len(il))<<2 | bodyTinyFormat)
		code.WriteBytes(il)
		return off
	}

	code.Align(4)
	off := uint32(code.Len())
	flags := uint16(bodyFatFormat) | bodyFatHeaderLen<<12
	if body.InitLocals {
		flags |= bodyInitLocals
	}
	if len(clauses) > 0 {
		flags |= bodyMoreSects
	}
	code.WriteUint16(flags)
	code.WriteUint16(body.MaxStackSize)
	code.WriteUint32(uint32(len(il)))
	code.WriteUint32(uint32(locals))
	code.WriteBytes(il)
	if len(clauses) > 0 {
		code.Align(4)
		writeClauses(code, clauses)
	}
	return off
}

func smallClausesFit(clauses []rawClause) bool {
	if len(clauses)*smallClauseLen+4 > 0xFF {
		return false
	}
	for _, c := range clauses {
		h := c.handler
		if h.TryOffset > 0xFFFF || h.HandlerOffset > 0xFFFF || h.TryLength > 0xFF || h.HandlerLength > 0xFF {
			return false
		}
	}
	return true
}

func writeClauses(b *buffer.Buffer, clauses []rawClause) {
	small := smallClausesFit(clauses)
	if small {
		b.WriteUint8(sectEHTable)
		b.WriteUint8(byte(len(clauses)*smallClauseLen + 4))
		b.WriteUint16(0)
	} else {
		size := len(clauses)*fatClauseLen + 4
		b.WriteUint8(sectEHTable | sectFatFormat)
		b.WriteUint16(uint16(size))
		b.WriteUint8(byte(size >> 16))
	}
	for _, c := range clauses {
		h := c.handler
		last := h.FilterOffset
		if h.Type == ExceptionCatch {
			last = uint32(c.token)
		}
		if small {
			b.WriteUint16(uint16(h.Type))
			b.WriteUint16(uint16(h.TryOffset))
			b.WriteUint8(byte(h.TryLength))
			b.WriteUint16(uint16(h.HandlerOffset))
			b.WriteUint8(byte(h.HandlerLength))
		} else {
			b.WriteUint32(uint32(h.Type))
			b.WriteUint32(h.TryOffset)
			b.WriteUint32(h.TryLength)
			b.WriteUint32(h.HandlerOffset)
			b.WriteUint32(h.HandlerLength)
		}
		b.WriteUint32(last)
	}
}

// withToken attaches tok to a structured error that has none.
func withToken(err error, tok metadata.Token) error {
	if e, ok := err.(*errors.Error); ok && e.Token == 0 {
		e.Token = uint32(tok)
	}
	return err
}
