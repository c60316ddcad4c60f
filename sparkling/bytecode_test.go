package sparkling

import "testing"

// Opcode index stability (spec.md §8): the arithmetic, bitwise, and
// unary ranges must be dense and contiguous so a disassembler's
// mnemonic table can be indexed directly by (opcode - rangeStart).
func TestOpcodeRangesAreDenseAndContiguous(t *testing.T) {
	check := func(label string, lo, hi Opcode) {
		for op := lo; op <= hi; op++ {
			if op.String() == "" || op.String()[0] == '?' {
				t.Errorf("%s range has a gap at opcode %d", label, op)
			}
		}
	}
	check("arithmetic (ADD..MOD)", OpAdd, OpMod)
	check("comparison (EQ..GE)", OpEq, OpGe)
	check("bitwise (AND..SHR)", OpAnd, OpShr)
	check("unary (BITNOT..NEG)", OpBitNot, OpNeg)
}

func TestEncodeDecodeABCRoundTrip(t *testing.T) {
	w := EncodeABC(OpAdd, 3, 200, 17)
	if DecodeOp(w) != OpAdd || DecodeA(w) != 3 || DecodeB(w) != 200 || DecodeC(w) != 17 {
		t.Fatalf("round trip mismatch: op=%s a=%d b=%d c=%d", DecodeOp(w), DecodeA(w), DecodeB(w), DecodeC(w))
	}
}

func TestEncodeABC16RoundTrip(t *testing.T) {
	w := EncodeABC16(OpLdSym, 9, 0xBEEF)
	if DecodeA(w) != 9 {
		t.Fatalf("A = %d, want 9", DecodeA(w))
	}
	if DecodeBC16(w) != 0xBEEF {
		t.Fatalf("BC16 = %#x, want 0xBEEF", DecodeBC16(w))
	}
}

// Header round-trip (spec.md §8): encoding and immediately decoding a
// FunctionHeader must yield the same fields back.
func TestFunctionHeaderRoundTrip(t *testing.T) {
	h := FunctionHeader{SymCount: 7, BodyLen: 123, Argc: 2, Nregs: 9}
	words := EncodeFunctionHeader(h)

	image := make([]Word, 0, FuncHeaderWords+h.BodyLen)
	image = append(image, words[:]...)
	for i := uint32(0); i < h.BodyLen; i++ {
		image = append(image, Word(i))
	}

	got, err := DecodeFunctionHeader(image, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("decoded header = %+v, want %+v", got, h)
	}
}

func TestDecodeFunctionHeaderRejectsArgcExceedingNregs(t *testing.T) {
	h := FunctionHeader{SymCount: 0, BodyLen: 0, Argc: 5, Nregs: 2}
	words := EncodeFunctionHeader(h)
	if _, err := DecodeFunctionHeader(words[:], 0); err == nil {
		t.Fatal("expected an error when ARGC exceeds NREGS")
	}
}

// Int constants must survive outside the int32 range: the wire format
// gives SPN_CONST_INT a full two-word (int64) payload, the same width
// as SPN_CONST_FLOAT, not a single truncating word.
func TestIntConstRoundTripsBeyondInt32Range(t *testing.T) {
	want := int64(5_000_000_000)
	image := EncodeIntConst(want)
	if len(image) != 2 {
		t.Fatalf("EncodeIntConst produced %d words, want 2", len(image))
	}
	got, err := DecodeIntConst(image, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("decoded %d, want %d", got, want)
	}
}

func TestNulStringEncodeDecodeRoundTrip(t *testing.T) {
	words := encodeNulString("hello")
	s, n, err := decodeNulString(words, 0, uint32(len("hello")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "hello" {
		t.Fatalf("decoded %q, want %q", s, "hello")
	}
	if int(n) != len(words) {
		t.Fatalf("consumed %d words, want %d", n, len(words))
	}
}
