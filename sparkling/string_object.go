package sparkling

import "bytes"

// String is the immutable byte-sequence built-in, with a cached length
// and cached hash per spec.md §3's "immutable objects should cache hash"
// guidance and the class descriptor's Hash contract.
type String struct {
	ObjectHeader
	bytes  []byte
	hash   uint64
	cached bool
}

var stringClass = &Class{
	Name: "string",
	UID:  ClassUIDString,
	Equal: func(a, b HeapObject) bool {
		return bytes.Equal(a.(*String).bytes, b.(*String).bytes)
	},
	Compare: func(a, b HeapObject) int {
		return bytes.Compare(a.(*String).bytes, b.(*String).bytes)
	},
	Hash: func(o HeapObject) uint64 {
		return o.(*String).Hash()
	},
	Destroy: func(HeapObject) {},
}

// NewString makes a new String object wrapping a copy of b; the object
// owns its own backing array so the caller's slice can be reused.
func NewString(b []byte) *String {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &String{
		ObjectHeader: ObjectHeader{Class: stringClass},
		bytes:        cp,
	}
}

// NewStringValue is a convenience that also wraps the result as a Value.
func NewStringValue(b []byte) Value {
	return objValue(TagString, NewString(b))
}

func StringOf(s string) Value {
	return NewStringValue([]byte(s))
}

func (s *String) Bytes() []byte { return s.bytes }
func (s *String) Len() int      { return len(s.bytes) }

// Hash caches its SipHash result the first time it's asked for, exactly
// as the class descriptor's documentation for immutable objects asks.
func (s *String) Hash() uint64 {
	if !s.cached {
		s.hash = hashBytes(s.bytes)
		s.cached = true
	}
	return s.hash
}

func (s *String) String() string {
	return string(s.bytes)
}

// Concat implements the CONCAT opcode's semantics: both operands must be
// strings (spec.md §4.4).
func Concat(a, b Value) (Value, error) {
	if !a.IsString() || !b.IsString() {
		return Nil, newRuntimeError("CONCAT requires both operands to be strings, got %s and %s", a.TypeName(), b.TypeName())
	}
	as, bs := a.AsString(), b.AsString()
	out := make([]byte, 0, as.Len()+bs.Len())
	out = append(out, as.bytes...)
	out = append(out, bs.bytes...)
	return NewStringValue(out), nil
}
