package cil

import (
	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

type operandKind uint8

const (
	operandNone operandKind = iota
	operandInt8
	operandInt16
	operandInt32
	operandInt64
	operandToken
	operandSwitch
	operandInvalid
)

func (k operandKind) size() int {
	switch k {
	case operandInt8:
		return 1
	case operandInt16:
		return 2
	case operandInt32, operandToken:
		return 4
	case operandInt64:
		return 8
	}
	return 0
}

var (
	oneByteOperands [0x100]operandKind
	twoByteOperands [0x100]operandKind
)

func init() {
	set := func(tbl *[0x100]operandKind, k operandKind, ops ...int) {
		for _, op := range ops {
			tbl[op] = k
		}
	}
	span := func(lo, hi int) []int {
		out := make([]int, 0, hi-lo+1)
		for op := lo; op <= hi; op++ {
			out = append(out, op)
		}
		return out
	}

	for i := range oneByteOperands {
		oneByteOperands[i] = operandInvalid
		twoByteOperands[i] = operandInvalid
	}
	set(&oneByteOperands, operandNone, span(0x00, 0x0D)...)
	set(&oneByteOperands, operandInt8, span(0x0E, 0x13)...)
	set(&oneByteOperands, operandNone, span(0x14, 0x1E)...)
	set(&oneByteOperands, operandInt8, 0x1F)
	set(&oneByteOperands, operandInt32, 0x20, 0x22)
	set(&oneByteOperands, operandInt64, 0x21, 0x23)
	set(&oneByteOperands, operandNone, 0x25, 0x26, 0x2A)
	set(&oneByteOperands, operandToken, 0x27, 0x28, 0x29)
	set(&oneByteOperands, operandInt8, span(0x2B, 0x37)...)
	set(&oneByteOperands, operandInt32, span(0x38, 0x44)...)
	set(&oneByteOperands, operandSwitch, 0x45)
	set(&oneByteOperands, operandNone, span(0x46, 0x6E)...)
	set(&oneByteOperands, operandToken, span(0x6F, 0x75)...)
	set(&oneByteOperands, operandNone, 0x76, 0x7A)
	set(&oneByteOperands, operandToken, 0x79)
	set(&oneByteOperands, operandToken, span(0x7B, 0x81)...)
	set(&oneByteOperands, operandNone, span(0x82, 0x8B)...)
	set(&oneByteOperands, operandToken, 0x8C, 0x8D)
	set(&oneByteOperands, operandNone, 0x8E)
	set(&oneByteOperands, operandToken, 0x8F)
	set(&oneByteOperands, operandNone, span(0x90, 0xA2)...)
	set(&oneByteOperands, operandToken, 0xA3, 0xA4, 0xA5)
	set(&oneByteOperands, operandNone, span(0xB3, 0xBA)...)
	set(&oneByteOperands, operandToken, 0xC2, 0xC6, 0xD0)
	set(&oneByteOperands, operandNone, 0xC3)
	set(&oneByteOperands, operandNone, span(0xD1, 0xDC)...)
	set(&oneByteOperands, operandInt32, 0xDD)
	set(&oneByteOperands, operandInt8, 0xDE)
	set(&oneByteOperands, operandNone, 0xDF, 0xE0)

	set(&twoByteOperands, operandNone, span(0x00, 0x05)...)
	set(&twoByteOperands, operandToken, 0x06, 0x07)
	set(&twoByteOperands, operandInt16, span(0x09, 0x0E)...)
	set(&twoByteOperands, operandNone, 0x0F, 0x11)
	set(&twoByteOperands, operandInt8, 0x12, 0x19)
	set(&twoByteOperands, operandNone, 0x13, 0x14, 0x17, 0x18, 0x1A, 0x1D, 0x1E)
	set(&twoByteOperands, operandToken, 0x15, 0x16, 0x1C)
}

// ilToken is a token operand found in an IL stream.
type ilToken struct {
	offset int
	token  metadata.Token
}

// scanTokens walks an IL stream and returns every token operand.
func scanTokens(code []byte) ([]ilToken, error) {
	var out []ilToken
	b := buffer.New(code)
	for b.Remaining() > 0 {
		start := b.Position()
		op, _ := b.ReadByte()
		kind := oneByteOperands[op]
		if op == 0xFE {
			op2, err := b.ReadByte()
			if err != nil {
				return nil, ilTruncated(start, err)
			}
			kind = twoByteOperands[op2]
		}
		switch kind {
		case operandInvalid:
			return nil, errors.New(errors.PhaseSignature, errors.KindMalformed).
				Offset(int64(start)).
				Detail("unknown IL opcode 0x%02x", code[start:b.Position()]).
				Build()
		case operandToken:
			off := b.Position()
			v, err := b.ReadUint32()
			if err != nil {
				return nil, ilTruncated(start, err)
			}
			out = append(out, ilToken{offset: off, token: metadata.Token(v)})
		case operandSwitch:
			n, err := b.ReadUint32()
			if err != nil {
				return nil, ilTruncated(start, err)
			}
			if uint64(n)*4 > uint64(b.Remaining()) {
				return nil, errors.Truncated(errors.PhaseSignature, int64(start), int(n)*4, b.Remaining())
			}
			_ = b.Advance(int(n) * 4)
		default:
			if err := b.Advance(kind.size()); err != nil {
				return nil, ilTruncated(start, err)
			}
		}
	}
	return out, nil
}

func ilTruncated(offset int, err error) error {
	return errors.New(errors.PhaseSignature, errors.KindTruncated).
		Offset(int64(offset)).
		Detail("IL instruction").
		Cause(err).
		Build()
}

// remapTokens returns a copy of code with every token operand passed through
// remap. User-string tokens are left alone.
func remapTokens(code []byte, remap func(metadata.Token) (metadata.Token, error)) ([]byte, error) {
	toks, err := scanTokens(code)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), code...)
	for _, t := range toks {
		if t.token.Table() == metadata.TableUserString {
			continue
		}
		nt, err := remap(t.token)
		if err != nil {
			return nil, err
		}
		out[t.offset] = byte(nt)
		out[t.offset+1] = byte(nt >> 8)
		out[t.offset+2] = byte(nt >> 16)
		out[t.offset+3] = byte(nt >> 24)
	}
	return out, nil
}
