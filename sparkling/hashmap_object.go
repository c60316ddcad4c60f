package sparkling

import (
	"fmt"
	"strings"
)

type hashEntry struct {
	used  bool
	key   Value
	value Value
}

// Hashmap is the open-addressed hash table built-in keyed by any
// hashable non-nil value (spec.md §3). Linear probing keeps the
// implementation small; load factor is kept under hashmapLoadFactorPc by
// doubling the table, the same "grow when crowded" idea
// KTStephano-GVM's Array/stack growth uses for its own storage.
type Hashmap struct {
	ObjectHeader
	entries []hashEntry
	count   int
}

const (
	hashmapInitialSize  = 8
	hashmapLoadFactorPc = 70 // percent
)

var hashmapClass = &Class{
	Name: "hashmap",
	UID:  ClassUIDHashmap,
	Equal: func(a, b HeapObject) bool {
		ha, hb := a.(*Hashmap), b.(*Hashmap)
		if ha.count != hb.count {
			return false
		}
		for _, e := range ha.entries {
			if !e.used {
				continue
			}
			v, ok := hb.get(e.key)
			if !ok || !Equal(v, e.value) {
				return false
			}
		}
		return true
	},
	Destroy: func(o HeapObject) {
		h := o.(*Hashmap)
		for _, e := range h.entries {
			if e.used {
				e.key.Release()
				e.value.Release()
			}
		}
		h.entries = nil
	},
}

func NewHashmap() *Hashmap {
	return &Hashmap{
		ObjectHeader: ObjectHeader{Class: hashmapClass},
		entries:      make([]hashEntry, hashmapInitialSize),
	}
}

func NewHashmapValue() Value {
	return objValue(TagHashmap, NewHashmap())
}

func (h *Hashmap) Len() int { return h.count }

func (h *Hashmap) slot(key Value, entries []hashEntry) int {
	idx := int(HashValue(key) % uint64(len(entries)))
	for {
		e := &entries[idx]
		if !e.used || Equal(e.key, key) {
			return idx
		}
		idx = (idx + 1) % len(entries)
	}
}

func (h *Hashmap) get(key Value) (Value, bool) {
	if len(h.entries) == 0 {
		return Nil, false
	}
	idx := h.slot(key, h.entries)
	e := &h.entries[idx]
	if !e.used {
		return Nil, false
	}
	return e.value, true
}

// Get returns the value for key, or Nil if absent - a missing key is not
// a runtime error in Sparkling's hashmap semantics (mirrors array/map
// member access in C-family scripting languages the reference
// implementation targets).
func (h *Hashmap) Get(key Value) (Value, error) {
	if key.IsNil() {
		return Nil, newRuntimeError("hashmap key must not be nil")
	}
	v, _ := h.get(key)
	return v, nil
}

// Set inserts or overwrites key -> value.
func (h *Hashmap) Set(key, value Value) error {
	if key.IsNil() {
		return newRuntimeError("hashmap key must not be nil")
	}
	h.maybeGrow()
	idx := h.slot(key, h.entries)
	e := &h.entries[idx]
	if e.used {
		e.value.Release()
		value.Retain()
		e.value = value
		return nil
	}
	key.Retain()
	value.Retain()
	e.used = true
	e.key = key
	e.value = value
	h.count++
	return nil
}

func (h *Hashmap) maybeGrow() {
	if len(h.entries) == 0 {
		h.entries = make([]hashEntry, hashmapInitialSize)
		return
	}
	if (h.count+1)*100 <= len(h.entries)*hashmapLoadFactorPc {
		return
	}
	old := h.entries
	h.entries = make([]hashEntry, len(old)*2)
	for _, e := range old {
		if !e.used {
			continue
		}
		idx := h.slot(e.key, h.entries)
		h.entries[idx] = e
	}
}

func (h *Hashmap) String() string {
	parts := make([]string, 0, h.count)
	for _, e := range h.entries {
		if e.used {
			parts = append(parts, fmt.Sprintf("%s: %s", e.key.DebugString(), e.value.DebugString()))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
