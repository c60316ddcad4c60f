package sparkling

import "fmt"

// Load reads a word image and materializes its top-level Function plus
// its local symbol table (spec.md §4.3). The walk starts at
// SYMTAB_OFF = BODYLEN + HDR_LEN and must consume exactly SYMCNT
// entries ending at the image's end - any other outcome is a format
// error, matching "the loader fails if the walk does not end exactly at
// the file's end."
func Load(image []Word, name string) (*Function, error) {
	header, err := DecodeFunctionHeader(image, 0)
	if err != nil {
		return nil, newGenericError("sparkling: %s", err)
	}

	symtabOff := SymtabOffset(0, header)
	symtab, consumed, err := loadSymbolTable(image, symtabOff, header.SymCount)
	if err != nil {
		return nil, newGenericError("sparkling: %s", err)
	}
	if symtabOff+consumed != uint32(len(image)) {
		return nil, newGenericError(
			"sparkling: malformed object file: symbol table walk ended at word %d, image has %d words",
			symtabOff+consumed, len(image),
		)
	}

	// FUNCDEF entries become Function objects sharing this same image.
	for i := range symtab.Entries {
		e := &symtab.Entries[i]
		if e.Kind != SymFuncDef {
			continue
		}
		offset := uint32(e.Value.AsInt())
		fh, err := DecodeFunctionHeader(image, offset)
		if err != nil {
			return nil, newGenericError("sparkling: FUNCDEF %q: %s", e.Name, err)
		}
		fn := NewScriptFunction(e.Name, image, BodyOffset(offset), fh.Argc, fh.Nregs)
		fn.SymbolTable = symtab
		e.Value = NewFunctionValue(fn)
	}

	top := NewProgramFunction(name, image, header.Argc, header.Nregs, symtab)
	return top, nil
}

func loadSymbolTable(image []Word, offset uint32, count uint32) (*SymbolTable, uint32, error) {
	st := &SymbolTable{Entries: make([]SymEntry, 0, count)}
	cursor := offset
	for i := uint32(0); i < count; i++ {
		entry, n, err := decodeSymEntry(image, cursor)
		if err != nil {
			return nil, 0, err
		}
		st.Entries = append(st.Entries, entry)
		cursor += n
	}
	return st, cursor - offset, nil
}

// ReadObjectImage turns a raw byte slice into a Word slice, validating
// that its length is a multiple of the word size (spec.md §6).
func ReadObjectImage(data []byte) ([]Word, error) {
	const wordSize = 4
	if len(data)%wordSize != 0 {
		return nil, fmt.Errorf("sparkling: object file length %d is not a multiple of the word size (%d)", len(data), wordSize)
	}
	words := make([]Word, len(data)/wordSize)
	for i := range words {
		b := data[i*wordSize : i*wordSize+wordSize]
		// Host endianness, as spec.md §6 specifies ("not portable across
		// architectures with differing ... endianness").
		words[i] = Word(nativeEndianUint32(b))
	}
	return words, nil
}

// WriteObjectImage is the inverse of ReadObjectImage, used both by the
// compiler's object-file output path and by the header round-trip test
// property in spec.md §8.
func WriteObjectImage(words []Word) []byte {
	const wordSize = 4
	out := make([]byte, len(words)*wordSize)
	for i, w := range words {
		putNativeEndianUint32(out[i*wordSize:], uint32(w))
	}
	return out
}
