package sparkling

import "encoding/binary"

// Object files are host-endian (spec.md §6: "not portable across
// architectures with differing ... endianness"), unlike
// KTStephano-GVM's own bytecode which hard-codes little endian for
// portability between its own assembler and VM. binary.NativeEndian
// gives us exactly "whatever this process's architecture is" without
// hand-rolling a byte-order switch.
func nativeEndianUint32(b []byte) uint32 {
	return binary.NativeEndian.Uint32(b)
}

func putNativeEndianUint32(b []byte, v uint32) {
	binary.NativeEndian.PutUint32(b, v)
}
