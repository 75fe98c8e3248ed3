/*
Package message implements the HTSP Message value: an ordered,
string-keyed map whose values may be signed integers, byte strings,
lists, or nested messages.

A Message is mutable until it is hadned off to a dispatcher for sending;
see Dispatcher.SendFireAndForget / SendAwaitReply in the dispatcher
package. Nothing in this package enforces that freeze, by design: the
wire codec and dispatcher are the only things that need to agree on it.
*/
package message

import "fmt"

// Kind identifies which alternative of Value is populated.
type Kind uint8

const (
	KindS64 Kind = iota + 1
	KindStr
	KindBin
	KindList
	KindMap
)

// Value is a single HTSP field value. Only one of the fields matching
// Kind is meaningful. KindStr and KindBin both hold their payload in
// Bin; the distinction exists only to pick the wire's Str (3) vs Bin
// (4) type tag on encode — spec.md §4.B has the parser treat both as
// opaque bytes on decode and defer UTF-8 interpretation to getters, so
// a decoded field is always KindBin regardless of which tag it arrived
// with.
type Value struct {
	Kind Kind
	S64  int64
	Bin  []byte
	List []Value
	Map  Message
}

// Message is an ordered mapping from field name to Value. Order is
// preserved so the wire encoder can round-trip byte-for-byte, but
// lookups are by key like a normal map.
type Message struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Message ready for Set calls.
func New() Message {
	return Message{values: make(map[string]Value)}
}

func (m *Message) ensure() {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
}

// Keys returns the field names in insertion order.
func (m Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len reports the number of top-level fields.
func (m Message) Len() int {
	return len(m.keys)
}

func (m *Message) set(key string, v Value) {
	m.ensure()
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// SetS64 stores a signed 64-bit integer field.
func (m *Message) SetS64(key string, v int64) {
	m.set(key, Value{Kind: KindS64, S64: v})
}

// SetString stores a UTF-8 string field, encoded on the wire with the
// Str (3) type tag.
func (m *Message) SetString(key string, v string) {
	m.set(key, Value{Kind: KindStr, Bin: []byte(v)})
}

// SetBytes stores a raw byte-string field.
func (m *Message) SetBytes(key string, v []byte) {
	m.set(key, Value{Kind: KindBin, Bin: v})
}

// SetList stores an ordered list field.
func (m *Message) SetList(key string, v []Value) {
	m.set(key, Value{Kind: KindList, List: v})
}

// SetMessage stores a nested message field.
func (m *Message) SetMessage(key string, v Message) {
	m.set(key, Value{Kind: KindMap, Map: v})
}

// SetValue stores a pre-built Value directly, as used by the wire
// decoder to reconstruct a Message field-by-field without knowing in
// advance which Kind each field will turn out to be.
func (m *Message) SetValue(key string, v Value) {
	m.set(key, v)
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Get returns the raw Value for key.
func (m Message) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes a field, if present.
func (m *Message) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Integer coerces key to an int, returning def if absent or not an S64.
func (m Message) Integer(key string, def int) int {
	v, ok := m.values[key]
	if !ok || v.Kind != KindS64 {
		return def
	}
	return int(v.S64)
}

// Long coerces key to an int64, returning def if absent or not an S64.
func (m Message) Long(key string, def int64) int64 {
	v, ok := m.values[key]
	if !ok || v.Kind != KindS64 {
		return def
	}
	return v.S64
}

// String coerces key to a UTF-8 string, returning def if absent or not
// a byte string. Invalid UTF-8 is passed through verbatim — spec.md
// §4.B defers UTF-8 validation to getters, not the parser, and Go
// strings tolerate invalid UTF-8 without panicking.
func (m Message) String(key string, def string) string {
	v, ok := m.values[key]
	if !ok || (v.Kind != KindBin && v.Kind != KindStr) {
		return def
	}
	return string(v.Bin)
}

// Bytes coerces key to a raw byte slice, returning def if absent or not
// a byte string.
func (m Message) Bytes(key string, def []byte) []byte {
	v, ok := m.values[key]
	if !ok || (v.Kind != KindBin && v.Kind != KindStr) {
		return def
	}
	return v.Bin
}

// List coerces key to a list of Values, returning nil if absent or not
// a list.
func (m Message) List(key string) []Value {
	v, ok := m.values[key]
	if !ok || v.Kind != KindList {
		return nil
	}
	return v.List
}

// Message coerces key to a nested Message, returning the zero value and
// false if absent or not a map.
func (m Message) Message(key string) (Message, bool) {
	v, ok := m.values[key]
	if !ok || v.Kind != KindMap {
		return Message{}, false
	}
	return v.Map, true
}

// Method is shorthand for String("method", "").
func (m Message) Method() string {
	return m.String("method", "")
}

// Seq returns the seq field and whether it was present.
func (m Message) Seq() (int64, bool) {
	v, ok := m.values["seq"]
	if !ok || v.Kind != KindS64 {
		return 0, false
	}
	return v.S64, true
}

// Clone produces an independent copy of m. Lists and nested messages
// are deep-copied; a cloned Message is safe to mutate without affecting
// the original.
func (m Message) Clone() Message {
	out := New()
	for _, k := range m.keys {
		out.set(k, cloneValue(m.values[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Kind {
	case KindStr, KindBin:
		b := make([]byte, len(v.Bin))
		copy(b, v.Bin)
		return Value{Kind: v.Kind, Bin: b}
	case KindList:
		l := make([]Value, len(v.List))
		for i, e := range v.List {
			l[i] = cloneValue(e)
		}
		return Value{Kind: KindList, List: l}
	case KindMap:
		return Value{Kind: KindMap, Map: v.Map.Clone()}
	default:
		return v
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindS64:
		return fmt.Sprintf("%d", v.S64)
	case KindStr, KindBin:
		return fmt.Sprintf("%q", v.Bin)
	case KindList:
		return fmt.Sprintf("list[%d]", len(v.List))
	case KindMap:
		return fmt.Sprintf("map[%d]", v.Map.Len())
	default:
		return "<invalid>"
	}
}
