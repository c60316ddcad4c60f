package sparkling

import "fmt"

// Tag identifies the basic shape of a Value, independent of the OBJECT
// and FLOAT flags layered on top of it. Mirrors SPN_TTAG_* from the
// reference implementation's api.h.
type Tag byte

const (
	TagNil Tag = iota
	TagBool
	TagNumber
	TagString
	TagArray
	TagHashmap
	TagFunction
	TagUserInfo
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagBool:
		return "bool"
	case TagNumber:
		return "number"
	case TagString:
		return "string"
	case TagArray:
		return "array"
	case TagHashmap:
		return "hashmap"
	case TagFunction:
		return "function"
	case TagUserInfo:
		return "userinfo"
	default:
		return "?unknown-tag?"
	}
}

// Type packs a Tag (low byte) with flags (high byte), matching the
// SPN_MASK_TTAG / SPN_MASK_FLAG split in api.h.
type Type uint16

const (
	maskTag  Type = 0x00ff
	maskFlag Type = 0xff00

	// FlagObject marks a payload that is a heap pointer carrying a
	// strong reference that must be released when the cell is discarded.
	FlagObject Type = 1 << 8
	// FlagFloat marks a TagNumber payload as an IEEE-754 double rather
	// than a signed integer.
	FlagFloat Type = 1 << 9
)

func (t Type) Tag() Tag   { return Tag(t & maskTag) }
func (t Type) IsObject() bool { return t&FlagObject != 0 }
func (t Type) IsFloat() bool  { return t&FlagFloat != 0 }

func makeType(tag Tag, flags Type) Type {
	return Type(tag) | flags
}

// Value is the tagged cell the VM manipulates: nil, bool, number (int or
// float), or a strong/weak reference to a heap Object. Exactly one of i,
// f, or obj is meaningful at a time, selected by typ.
type Value struct {
	typ Type
	i   int64
	f   float64
	obj HeapObject
}

// Nil is the value carried by every uninitialized register and scratch
// slot (spec.md §4.4: "remaining registers are scratch, initialized to
// nil").
var Nil = Value{typ: makeType(TagNil, 0)}

func Bool(b bool) Value {
	v := Value{typ: makeType(TagBool, 0)}
	if b {
		v.i = 1
	}
	return v
}

func Int(i int64) Value {
	return Value{typ: makeType(TagNumber, 0), i: i}
}

func Float(f float64) Value {
	return Value{typ: makeType(TagNumber, FlagFloat), f: f}
}

// WeakUserInfo wraps an arbitrary host pointer without taking ownership;
// no retain/release is performed on it (spec.md §3 invariant i).
func WeakUserInfo(p any) Value {
	return Value{typ: makeType(TagUserInfo, 0), obj: weakPtr{p}}
}

// StrongUserInfo wraps a HeapObject the VM will retain/release like any
// other object (spec.md §3 invariant ii).
func StrongUserInfo(o HeapObject) Value {
	return Value{typ: makeType(TagUserInfo, FlagObject), obj: o}
}

func objValue(tag Tag, o HeapObject) Value {
	return Value{typ: makeType(tag, FlagObject), obj: o}
}

func (v Value) IsNil() bool      { return v.typ.Tag() == TagNil }
func (v Value) IsBool() bool     { return v.typ.Tag() == TagBool }
func (v Value) IsNumber() bool   { return v.typ.Tag() == TagNumber }
func (v Value) IsInt() bool      { return v.IsNumber() && !v.typ.IsFloat() }
func (v Value) IsFloat() bool    { return v.IsNumber() && v.typ.IsFloat() }
func (v Value) IsString() bool   { return v.typ.Tag() == TagString }
func (v Value) IsArray() bool    { return v.typ.Tag() == TagArray }
func (v Value) IsHashmap() bool  { return v.typ.Tag() == TagHashmap }
func (v Value) IsFunction() bool { return v.typ.Tag() == TagFunction }
func (v Value) IsObject() bool   { return v.typ.IsObject() }

func (v Value) Type() Type { return v.typ }

func (v Value) Bool() bool { return v.i != 0 }

// Truthy implements the condition test JZE/JNZ use: nil, false, and
// numeric zero are falsy; every other value (including empty strings,
// arrays, and hashmaps) is truthy, matching the C-family semantics
// spec.md §1 describes Sparkling as belonging to.
func (v Value) Truthy() bool {
	switch v.typ.Tag() {
	case TagNil:
		return false
	case TagBool:
		return v.Bool()
	case TagNumber:
		return v.AsFloat() != 0
	default:
		return true
	}
}

// AsInt truncates a float payload the same way spn_intvalue_f does;
// valid only when IsNumber() is true.
func (v Value) AsInt() int64 {
	if v.typ.IsFloat() {
		return int64(v.f)
	}
	return v.i
}

// AsFloat promotes an int payload the same way spn_floatvalue_f does;
// valid only when IsNumber() is true.
func (v Value) AsFloat() float64 {
	if v.typ.IsFloat() {
		return v.f
	}
	return float64(v.i)
}

func (v Value) Object() HeapObject { return v.obj }

func (v Value) AsString() *String {
	if s, ok := v.obj.(*String); ok {
		return s
	}
	return nil
}

func (v Value) AsArray() *Array {
	if a, ok := v.obj.(*Array); ok {
		return a
	}
	return nil
}

func (v Value) AsHashmap() *Hashmap {
	if h, ok := v.obj.(*Hashmap); ok {
		return h
	}
	return nil
}

func (v Value) AsFunction() *Function {
	if f, ok := v.obj.(*Function); ok {
		return f
	}
	return nil
}

// IsInstanceOf supplements api.h's spn_object_member_of_class: true if v
// is an object whose class carries the given UID.
func (v Value) IsInstanceOf(uid uint64) bool {
	if !v.typ.IsObject() || v.obj == nil {
		return false
	}
	return v.obj.Header().Class.UID == uid
}

// Retain adds a strong reference, following spn_value_retain. Safe to
// call on any Value, including non-object ones (a no-op there).
func (v Value) Retain() {
	if v.typ.IsObject() && v.obj != nil {
		Retain(v.obj)
	}
}

// Release drops a strong reference, following spn_value_release.
func (v Value) Release() {
	if v.typ.IsObject() && v.obj != nil {
		Release(v.obj)
	}
}

// Equal mirrors spn_value_equal: same tag family required, then a
// type-specific comparison.
func Equal(a, b Value) bool {
	if a.typ.Tag() != b.typ.Tag() {
		// int/float of the same TagNumber family still compare by value
		if a.IsNumber() && b.IsNumber() {
			return numericEqual(a, b)
		}
		return false
	}

	switch a.typ.Tag() {
	case TagNil:
		return true
	case TagBool:
		return a.i == b.i
	case TagNumber:
		return numericEqual(a, b)
	case TagUserInfo:
		if a.typ.IsObject() != b.typ.IsObject() {
			return false
		}
		if !a.typ.IsObject() {
			return a.obj == b.obj
		}
		fallthrough
	default:
		return ObjectEqual(a.obj, b.obj)
	}
}

func numericEqual(a, b Value) bool {
	if a.typ.IsFloat() || b.typ.IsFloat() {
		return a.AsFloat() == b.AsFloat()
	}
	return a.i == b.i
}

// Comparable mirrors spn_values_comparable.
func Comparable(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return true
	}
	if a.typ.Tag() != b.typ.Tag() {
		return false
	}
	if !a.typ.IsObject() {
		return false
	}
	return a.obj.Header().Class.Compare != nil
}

// Compare mirrors spn_value_compare: -1, 0, +1. Caller must check
// Comparable first; this panics on incomparable pairs the same way a
// misuse of the C API would trip an assertion.
func Compare(a, b Value) int {
	if a.IsNumber() && b.IsNumber() {
		if a.typ.IsFloat() || b.typ.IsFloat() {
			af, bf := a.AsFloat(), b.AsFloat()
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	}
	return ObjectCompare(a.obj, b.obj)
}

// HashValue mirrors spn_hash_value: used as Hashmap key hashing.
func HashValue(v Value) uint64 {
	switch v.typ.Tag() {
	case TagNil:
		return 0
	case TagBool:
		return uint64(v.i)
	case TagNumber:
		if v.typ.IsFloat() {
			return hashBytes(float64Bytes(v.f))
		}
		return uint64(v.i)
	case TagUserInfo:
		if !v.typ.IsObject() {
			return hashPointer(v.obj)
		}
		fallthrough
	default:
		return ObjectHash(v.obj)
	}
}

func (v Value) String() string {
	switch v.typ.Tag() {
	case TagNil:
		return "nil"
	case TagBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case TagNumber:
		if v.typ.IsFloat() {
			return fmt.Sprintf("%g", v.f)
		}
		return fmt.Sprintf("%d", v.i)
	case TagString:
		return string(v.AsString().Bytes())
	case TagArray:
		return v.AsArray().String()
	case TagHashmap:
		return v.AsHashmap().String()
	case TagFunction:
		return v.AsFunction().String()
	default:
		return "<userinfo>"
	}
}

// DebugString supplements spn_debug_print: a representation that quotes
// strings and is unambiguous about type, unlike String().
func (v Value) DebugString() string {
	if v.IsString() {
		return fmt.Sprintf("%q", string(v.AsString().Bytes()))
	}
	return v.String()
}

// TypeName mirrors spn_type_name, used by the TYPEOF opcode.
func (v Value) TypeName() string {
	return v.typ.Tag().String()
}

type weakPtr struct{ p any }

func (weakPtr) Header() *ObjectHeader { return nil }
