/*
Package wire implements the HTSP binary wire format: a length-prefixed
frame containing a tagged, self-describing field list.

Frame:

	length: u32 BE
	body:   length bytes, a sequence of fields until exhausted

Field:

	type:    u8      1=Map 2=S64 3=Str 4=Bin 5=List
	namelen: u8
	datalen: u32 BE
	name:    namelen bytes (UTF-8, may be empty)
	data:    datalen bytes

S64 uses the minimum-byte big-endian signed representation; datalen=0
means the value 0. Map/List fields are themselves field lists whose
total byte length equals datalen; in a List, every field's name is
empty. A root Message is encoded directly as a field list with no
enclosing Map field — the frame body *is* the top-level field list.

This is modeled on the same big-endian length-prefixed framing approach
the retrieved tunnel-protocol frame codec uses (u32 BE length header,
io.ReadFull for the body), generalized from that single fixed-header
frame into HTSP's self-describing, recursively-typed field list.
*/
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/message"
)

type fieldType uint8

const (
	typeMap  fieldType = 1
	typeS64  fieldType = 2
	typeStr  fieldType = 3
	typeBin  fieldType = 4
	typeList fieldType = 5
)

const (
	fieldHeaderSize = 1 + 1 + 4 // type + namelen + datalen
	lengthSize      = 4
	// maxFrameLength bounds the body size Encode will produce; TVHeadend
	// frames are small control messages or muxpkt payloads, never
	// anywhere near this. The declared length of incoming frames is not
	// checked against it.
	maxFrameLength = 32 * 1024 * 1024
)

// Encode serializes msg as a complete frame: length prefix followed by
// the field list body.
func Encode(msg message.Message) ([]byte, error) {
	body, err := encodeFieldList(msg.Keys(), msg)
	if err != nil {
		return nil, err
	}
	if len(body) > maxFrameLength {
		return nil, herrors.WrapFatal(herrors.ErrMalformed, "wire", "Encode", fmt.Sprintf("body too large (%d bytes)", len(body)))
	}

	out := make([]byte, lengthSize+len(body))
	binary.BigEndian.PutUint32(out[:lengthSize], uint32(len(body)))
	copy(out[lengthSize:], body)
	return out, nil
}

func encodeFieldList(keys []string, msg message.Message) ([]byte, error) {
	var out []byte
	for _, name := range keys {
		v, _ := msg.Get(name)
		encoded, err := encodeField(name, v)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

func encodeField(name string, v message.Value) ([]byte, error) {
	if len(name) > 0xFF {
		return nil, herrors.WrapInvalid(herrors.ErrMalformed, "wire", "encodeField", "field name too long")
	}

	var typ fieldType
	var data []byte
	var err error

	switch v.Kind {
	case message.KindS64:
		typ = typeS64
		data = encodeS64(v.S64)
	case message.KindStr:
		typ = typeStr
		data = v.Bin
	case message.KindBin:
		typ = typeBin
		data = v.Bin
	case message.KindList:
		typ = typeList
		data, err = encodeValueList(v.List)
	case message.KindMap:
		typ = typeMap
		data, err = encodeFieldList(v.Map.Keys(), v.Map)
	default:
		return nil, herrors.WrapInvalid(herrors.ErrMalformed, "wire", "encodeField", "unknown value kind")
	}
	if err != nil {
		return nil, err
	}

	header := make([]byte, fieldHeaderSize+len(name))
	header[0] = byte(typ)
	header[1] = byte(len(name))
	binary.BigEndian.PutUint32(header[2:6], uint32(len(data)))
	copy(header[6:], name)

	return append(header, data...), nil
}

func encodeValueList(vals []message.Value) ([]byte, error) {
	var out []byte
	for _, v := range vals {
		encoded, err := encodeField("", v)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// encodeS64 returns the minimum-byte big-endian two's-complement
// representation of v, per spec.md §4.B (datalen=0 means the value 0).
func encodeS64(v int64) []byte {
	if v == 0 {
		return nil
	}

	// Determine how many bytes are needed to represent v such that
	// sign-extending the top bit of the first byte reproduces v.
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))

	n := 8
	for n > 1 {
		b := buf[8-n]
		next := buf[8-n+1]
		// Can we drop the leading byte without changing the value?
		// That's true iff b is all sign-extension bits of next's top bit.
		if b == 0x00 && next&0x80 == 0 {
			n--
			continue
		}
		if b == 0xFF && next&0x80 != 0 {
			n--
			continue
		}
		break
	}
	return buf[8-n:]
}

// decodeS64 parses a minimum-byte big-endian two's-complement integer
// of up to 8 bytes.
func decodeS64(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) > 8 {
		return 0, herrors.WrapFatal(herrors.ErrMalformed, "wire", "decodeS64", "integer wider than 8 bytes")
	}

	v := int64(int8(data[0]))
	for _, b := range data[1:] {
		v = (v << 8) | int64(b)
	}
	return v, nil
}
