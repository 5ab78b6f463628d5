package cil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
	"github.com/wippyai/cli-metadata/metadata"
)

func TestScanTokens(t *testing.T) {
	code := []byte{
		0x72, 0x01, 0x00, 0x00, 0x70, // ldstr 0x70000001
		0x45, 0x02, 0x00, 0x00, 0x00, // switch (2 targets)
		0x00, 0x00, 0x00, 0x00,
		0x04, 0x00, 0x00, 0x00,
		0x28, 0x02, 0x00, 0x00, 0x0A, // call 0x0A000002
		0xFE, 0x15, 0x03, 0x00, 0x00, 0x02, // initobj 0x02000003
		0x2A, // ret
	}

	toks, err := scanTokens(code)
	require.NoError(t, err)
	require.Equal(t, []ilToken{
		{offset: 1, token: 0x70000001},
		{offset: 19, token: 0x0A000002},
		{offset: 25, token: 0x02000003},
	}, toks)
}

func TestScanTokensErrors(t *testing.T) {
	_, err := scanTokens([]byte{0xA6})
	require.ErrorIs(t, err, errors.ErrMalformed)

	_, err = scanTokens([]byte{0x28, 0x01})
	require.ErrorIs(t, err, errors.ErrTruncated)

	_, err = scanTokens([]byte{0x45, 0xFF, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, errors.ErrTruncated)
}

func TestRemapTokensSkipsUserStrings(t *testing.T) {
	code := []byte{
		0x72, 0x01, 0x00, 0x00, 0x70,
		0x28, 0x02, 0x00, 0x00, 0x0A,
		0x2A,
	}
	var seen []metadata.Token
	out, err := remapTokens(code, func(tok metadata.Token) (metadata.Token, error) {
		seen = append(seen, tok)
		return metadata.NewToken(tok.Table(), tok.RID()+1), nil
	})
	require.NoError(t, err)
	require.Equal(t, []metadata.Token{0x0A000002}, seen)
	require.Equal(t, []byte{
		0x72, 0x01, 0x00, 0x00, 0x70,
		0x28, 0x03, 0x00, 0x00, 0x0A,
		0x2A,
	}, out)
	require.Equal(t, byte(0x02), code[6], "input is not modified")
}

func TestMethodBodyTiny(t *testing.T) {
	code := buffer.NewWriter(0)
	body := NewMethodBody([]byte{0x1F, 0x2A, 0x2A})
	off := encodeMethodBody(code, body, body.Code, 0, nil)
	require.Zero(t, off)
	require.Equal(t, []byte{3<<2 | 0x02, 0x1F, 0x2A, 0x2A}, code.Bytes())

	got, clauses, err := parseMethodBody(code.Bytes())
	require.NoError(t, err)
	require.Empty(t, clauses)
	require.Equal(t, body.Code, got.Code)
	require.Equal(t, uint16(8), got.MaxStackSize)
}

func TestMethodBodyFatWithClauses(t *testing.T) {
	code := buffer.NewWriter(0)
	code.WriteUint8(0) // force alignment padding
	body := &MethodBody{
		MaxStackSize: 2,
		InitLocals:   true,
		Code:         []byte{0x00, 0xDE, 0x03, 0x26, 0xDE, 0x00, 0x2A},
	}
	clauses := []rawClause{
		{
			handler: ExceptionHandler{Type: ExceptionCatch, TryLength: 3, HandlerOffset: 3, HandlerLength: 3},
			token:   metadata.NewToken(metadata.TableTypeRef, 4),
		},
		{
			handler: ExceptionHandler{Type: ExceptionFilter, TryLength: 3, HandlerOffset: 3, HandlerLength: 3, FilterOffset: 1},
		},
	}
	locals := metadata.NewToken(metadata.TableStandAloneSig, 1)

	off := encodeMethodBody(code, body, body.Code, locals, clauses)
	require.Equal(t, uint32(4), off)

	got, gotClauses, err := parseMethodBody(code.Bytes()[off:])
	require.NoError(t, err)
	require.True(t, got.InitLocals)
	require.Equal(t, uint16(2), got.MaxStackSize)
	require.Equal(t, locals, got.LocalVarToken)
	require.Equal(t, body.Code, got.Code)
	require.Equal(t, clauses, gotClauses)
}

func TestMethodBodyMalformed(t *testing.T) {
	_, _, err := parseMethodBody([]byte{0x01})
	require.ErrorIs(t, err, errors.ErrMalformed)

	// tiny header announcing 4 bytes of code with only 1 present
	_, _, err = parseMethodBody([]byte{4<<2 | 0x02, 0x2A})
	require.ErrorIs(t, err, errors.ErrTruncated)

	_, _, err = parseMethodBody(nil)
	require.ErrorIs(t, err, errors.ErrTruncated)
}
