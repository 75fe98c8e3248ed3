package wire

import (
	"encoding/binary"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/message"
)

// Decode parses a single complete frame body (the bytes following the
// u32 length prefix) into a Message. It is the inverse of the body
// portion of Encode.
func Decode(body []byte) (message.Message, error) {
	msg := message.New()
	if err := decodeFieldList(body, &msg); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

func decodeFieldList(data []byte, out *message.Message) error {
	for len(data) > 0 {
		name, v, rest, err := decodeField(data)
		if err != nil {
			return err
		}
		out.SetValue(name, v)
		data = rest
	}
	return nil
}

func decodeValueList(data []byte) ([]message.Value, error) {
	var out []message.Value
	for len(data) > 0 {
		_, v, rest, err := decodeField(data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		data = rest
	}
	return out, nil
}

// decodeField parses one field from the front of data, returning its
// name, value, and the remaining unparsed bytes.
func decodeField(data []byte) (name string, v message.Value, rest []byte, err error) {
	if len(data) < fieldHeaderSize {
		return "", message.Value{}, nil, herrors.WrapFatal(herrors.ErrMalformed, "wire", "decodeField", "truncated field header")
	}

	typ := fieldType(data[0])
	namelen := int(data[1])
	datalen := int(binary.BigEndian.Uint32(data[2:6]))

	data = data[fieldHeaderSize:]
	if len(data) < namelen {
		return "", message.Value{}, nil, herrors.WrapFatal(herrors.ErrMalformed, "wire", "decodeField", "truncated field name")
	}
	name = string(data[:namelen])
	data = data[namelen:]

	if datalen < 0 || len(data) < datalen {
		return "", message.Value{}, nil, herrors.WrapFatal(herrors.ErrMalformed, "wire", "decodeField", "declared sub-length exceeds container")
	}
	fieldData := data[:datalen]
	rest = data[datalen:]

	switch typ {
	case typeS64:
		n, err := decodeS64(fieldData)
		if err != nil {
			return "", message.Value{}, nil, err
		}
		v = message.Value{Kind: message.KindS64, S64: n}
	case typeStr, typeBin:
		// The wire format distinguishes Str/Bin only as an encoding
		// hint (spec.md §4.B); both are opaque bytes until a getter
		// asks for a string, so both decode to KindBin.
		b := make([]byte, len(fieldData))
		copy(b, fieldData)
		v = message.Value{Kind: message.KindBin, Bin: b}
	case typeList:
		list, err := decodeValueList(fieldData)
		if err != nil {
			return "", message.Value{}, nil, err
		}
		v = message.Value{Kind: message.KindList, List: list}
	case typeMap:
		nested := message.New()
		if err := decodeFieldList(fieldData, &nested); err != nil {
			return "", message.Value{}, nil, err
		}
		v = message.Value{Kind: message.KindMap, Map: nested}
	default:
		return "", message.Value{}, nil, herrors.WrapFatal(herrors.ErrMalformed, "wire", "decodeField", "type byte out of range")
	}

	return name, v, rest, nil
}
