package sparkling

import (
	"fmt"
	"strings"
)

// Disassemble walks image the same way the loader does and renders a
// human-readable listing: one FUNCTION header line per function found,
// followed by one mnemonic line per instruction word. It is a read-only
// diagnostic, not part of the runtime dispatch path, grounded on
// KTStephano-GVM's own `instrToStrMap`-driven disassembly (vm/bytecode.go,
// main.go) used by its debug REPL.
func Disassemble(image []Word, name string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; object file %q (%d words)\n", name, len(image))
	if err := disasmFunction(&sb, image, 0); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

func disasmFunction(sb *strings.Builder, image []Word, offset uint32) error {
	h, err := DecodeFunctionHeader(image, offset)
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "\nFUNCTION @%d: argc=%d nregs=%d bodylen=%d symcnt=%d\n",
		offset, h.Argc, h.Nregs, h.BodyLen, h.SymCount)

	body := BodyOffset(offset)
	pc := body
	end := body + h.BodyLen
	for pc < end {
		if DecodeOp(image[pc]) == OpFunction {
			nh, err := DecodeFunctionHeader(image, pc)
			if err != nil {
				return err
			}
			if err := disasmFunction(sb, image, pc); err != nil {
				return err
			}
			pc += FuncHeaderWords + nh.BodyLen
			continue
		}
		n, err := disasmInstr(sb, image, pc)
		if err != nil {
			return err
		}
		pc += n
	}

	symOff := SymtabOffset(offset, h)
	for i := uint32(0); i < h.SymCount; i++ {
		e, n, err := decodeSymEntry(image, symOff)
		if err != nil {
			return err
		}
		fmt.Fprintf(sb, "; sym[%d]: %s\n", i, disasmSymEntry(e))
		symOff += n
	}
	return nil
}

func disasmSymEntry(e SymEntry) string {
	switch e.Kind {
	case SymStrConst:
		return fmt.Sprintf("STRCONST %q", e.Value.String())
	case SymSymStub:
		return fmt.Sprintf("SYMSTUB %q", e.Name)
	case SymFuncDef:
		return fmt.Sprintf("FUNCDEF %q @%d", e.Name, e.Value.AsInt())
	default:
		return "?"
	}
}

// disasmInstr renders one instruction at pc and returns how many words
// it (including any inline payload) occupied.
func disasmInstr(sb *strings.Builder, image []Word, pc uint32) (uint32, error) {
	w := image[pc]
	op := DecodeOp(w)
	a, b, c := DecodeA(w), DecodeB(w), DecodeC(w)

	switch op {
	case OpLdConst:
		ct := ConstType(b)
		switch ct {
		case ConstInt:
			iv, err := DecodeIntConst(image, pc+1)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(sb, "%6d  LDCONST R%d, %d\n", pc, a, iv)
			return 3, nil
		case ConstFloat:
			fv, err := DecodeFloatConst(image, pc+1)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(sb, "%6d  LDCONST R%d, %g\n", pc, a, fv)
			return 3, nil
		default:
			fmt.Fprintf(sb, "%6d  LDCONST R%d, %s\n", pc, a, constTypeName(ct))
			return 1, nil
		}

	case OpLdSym:
		fmt.Fprintf(sb, "%6d  LDSYM R%d, sym[%d]\n", pc, a, DecodeBC16(w))
		return 1, nil

	case OpGlbVal:
		length := DecodeBC16(w)
		nm, n, err := decodeNulString(image, pc+1, uint32(length))
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(sb, "%6d  GLBVAL R%d, %q\n", pc, a, nm)
		return 1 + n, nil

	case OpNewArr:
		fmt.Fprintf(sb, "%6d  NEWARR R%d, hint=%d\n", pc, a, DecodeBC16(w))
		return 1, nil

	case OpJmp, OpJze, OpJnz:
		off := int32(image[pc+1])
		fmt.Fprintf(sb, "%6d  %s R%d, %+d -> %d\n", pc, op, a, off, int64(pc+2)+int64(off))
		return 2, nil

	case OpCall:
		argWords := (int(c) + 3) / 4
		fmt.Fprintf(sb, "%6d  CALL R%d, R%d, argc=%d\n", pc, a, b, c)
		return uint32(1 + argWords), nil

	case OpClosure:
		n := uint32(c)
		fmt.Fprintf(sb, "%6d  CLOSURE R%d, sym[%d], upvals=%d\n", pc, a, b, c)
		return 1 + n, nil

	case OpFunction:
		h, err := DecodeFunctionHeader(image, pc)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(sb, "%6d  FUNCTION (nested, bodylen=%d)\n", pc, h.BodyLen)
		return FuncHeaderWords + h.BodyLen, nil

	default:
		fmt.Fprintf(sb, "%6d  %s R%d, R%d, R%d\n", pc, op, a, b, c)
		return 1, nil
	}
}

func constTypeName(ct ConstType) string {
	switch ct {
	case ConstNil:
		return "nil"
	case ConstTrue:
		return "true"
	case ConstFalse:
		return "false"
	default:
		return "?"
	}
}
