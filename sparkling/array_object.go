package sparkling

import (
	"strings"
)

// Array is the dense, 0-indexed, size-tracked sequence built-in
// (spec.md §3). Growth and in-place Set are supported; every slot holds
// a strong reference that must be released on overwrite or destruction.
type Array struct {
	ObjectHeader
	values []Value
}

var arrayClass = &Class{
	Name: "array",
	UID:  ClassUIDArray,
	Equal: func(a, b HeapObject) bool {
		aa, ba := a.(*Array), b.(*Array)
		if len(aa.values) != len(ba.values) {
			return false
		}
		for i := range aa.values {
			if !Equal(aa.values[i], ba.values[i]) {
				return false
			}
		}
		return true
	},
	Destroy: func(o HeapObject) {
		a := o.(*Array)
		for _, v := range a.values {
			v.Release()
		}
		a.values = nil
	},
}

// NewArray makes an empty Array with room for at least capacityHint
// elements.
func NewArray(capacityHint int) *Array {
	return &Array{
		ObjectHeader: ObjectHeader{Class: arrayClass},
		values:       make([]Value, 0, capacityHint),
	}
}

func NewArrayValue(capacityHint int) Value {
	return objValue(TagArray, NewArray(capacityHint))
}

func (a *Array) Len() int { return len(a.values) }

// Get implements ARRGET's bounds-checked read.
func (a *Array) Get(index int64) (Value, error) {
	if index < 0 || index >= int64(len(a.values)) {
		return Nil, newRuntimeError("array index %d out of bounds (length %d)", index, len(a.values))
	}
	return a.values[index], nil
}

// Set implements ARRSET's bounds-checked in-place write; growing the
// array one slot past its current end is allowed, matching common
// "push via assignment" usage in C-family array languages.
func (a *Array) Set(index int64, v Value) error {
	switch {
	case index < 0:
		return newRuntimeError("array index %d out of bounds", index)
	case index < int64(len(a.values)):
		a.values[index].Release()
		v.Retain()
		a.values[index] = v
		return nil
	case index == int64(len(a.values)):
		v.Retain()
		a.values = append(a.values, v)
		return nil
	default:
		return newRuntimeError("array index %d out of bounds (length %d)", index, len(a.values))
	}
}

// Push appends unconditionally, growing the backing slice as needed.
func (a *Array) Push(v Value) {
	v.Retain()
	a.values = append(a.values, v)
}

func (a *Array) String() string {
	parts := make([]string, len(a.values))
	for i, v := range a.values {
		parts[i] = v.DebugString()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
