package sparkling

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/dchest/siphash"
)

// Process-lifetime SipHash key. Randomized at startup so Hashmap bucket
// placement of byte-hashed keys (strings, floats, identity-hashed
// pointers) can't be predicted from the outside; integer and boolean
// keys hash to their own value and are not affected. This is the same
// property SnellerInc-sneller relies on siphash for in its own row-hash
// lookups.
var hashKey0, hashKey1 uint64

func init() {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Extremely unlikely; fall back to fixed keys rather than fail
		// startup over an unseeded hash.
		hashKey0, hashKey1 = 0x9ae16a3b2f90404f, 0xc949d7c7509e6557
		return
	}
	hashKey0 = binary.LittleEndian.Uint64(buf[0:8])
	hashKey1 = binary.LittleEndian.Uint64(buf[8:16])
}

// hashBytes is the stable byte-hashing primitive every built-in class's
// Hash function is built on (spn_hash_bytes).
func hashBytes(b []byte) uint64 {
	return siphash.Hash(hashKey0, hashKey1, b)
}

func float64Bytes(f float64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	return buf[:]
}

// hashPointer hashes a weak reference (userinfo not carrying an OBJECT
// flag, or any object whose class declines to provide a Hash function)
// by identity where possible.
func hashPointer(o any) uint64 {
	if o == nil {
		return 0
	}
	if wp, ok := o.(weakPtr); ok {
		o = wp.p
	}
	if o == nil {
		return 0
	}

	rv := reflect.ValueOf(o)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.Func, reflect.Map, reflect.Slice, reflect.UnsafePointer:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(rv.Pointer()))
		return hashBytes(buf[:])
	default:
		// Not pointer-shaped (e.g. a plain int or struct handed in as
		// userinfo) - hash its formatted value instead of its identity.
		return hashBytes([]byte(fmt.Sprintf("%v", o)))
	}
}
