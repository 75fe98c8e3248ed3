package message

import (
	"encoding/json"
	"log/slog"
)

// toJSONValue builds the tree json.Marshal walks to produce a
// human-readable rendering of a Message for log lines. It is never
// used on the wire — spec.md §4.B's binary framing is bit-exact and
// has nothing to do with JSON; this exists purely so slog call sites
// can pass a Message and get something legible out rather than a Go
// struct dump.
func (m Message) toJSONValue() any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = valueToJSON(m.values[k])
	}
	return out
}

func valueToJSON(v Value) any {
	switch v.Kind {
	case KindS64:
		return v.S64
	case KindStr, KindBin:
		return string(v.Bin)
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = valueToJSON(e)
		}
		return out
	case KindMap:
		return v.Map.toJSONValue()
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler for debug logging (e.g. via
// slog.Any("message", msg)). Binary fields are rendered as strings,
// lossily for non-UTF-8 payloads such as muxpkt data; this is a
// diagnostic aid, not a wire or persistence format.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toJSONValue())
}

// LogValue implements slog.LogValuer so that slog.Any("msg", m) prints
// a compact method/seq summary instead of the whole field tree, which
// tends to be the only part worth grepping for at Info level; full
// detail remains available by marshaling to JSON directly.
func (m Message) LogValue() slog.Value {
	method := m.String("method", "")
	seq, hasSeq := m.Seq()
	switch {
	case method == "" && !hasSeq:
		b, _ := json.Marshal(m.toJSONValue())
		return slog.StringValue(string(b))
	case hasSeq:
		return slog.StringValue(method + " seq=" + itoa(seq))
	default:
		return slog.StringValue(method)
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
