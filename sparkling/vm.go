package sparkling

const maxCallDepth = 4096

// VM is a single fetch-decode-dispatch engine bound to a Context. Each
// Context.CallFunc/ExecString spins one VM value up; calls into script
// functions recurse through vm.invoke via Go's own call stack rather
// than an explicit frame array, so a runtime error unwinds exactly the
// way spec.md §4.4 describes - "releasing all registers in each
// unwound frame" falls out of each invoke's deferred frame.release().
type VM struct {
	ctx *Context
}

func newVM(ctx *Context) *VM { return &VM{ctx: ctx} }

// invoke calls fn with args, dispatching native functions directly and
// running script/program functions through runFrame.
//
// The returned Value carries one reference owned by the caller, so a
// returned object survives the release of the callee's registers.
func (vm *VM) invoke(fn *Function, args []Value) (result Value, err error) {
	if fn.Kind == FuncNative {
		result, err = fn.Native(vm.ctx, args)
		result.Retain()
		return result, err
	}
	if len(vm.ctx.frames) >= maxCallDepth {
		return Nil, newRuntimeError("call stack overflow calling %q", fn.Name)
	}

	frame := newFrame(fn, args, vm.ctx.topFrame(), 0)
	vm.ctx.pushFrame(frame)
	defer func() {
		result.Retain()
		frame.release()
		vm.ctx.popFrame()
		if se, ok := err.(*ScriptError); ok && se.Kind == ErrRuntime {
			se.Trace = append(se.Trace, fn.Name)
		}
	}()

	return vm.runFrame(frame)
}

// runFrame is the fetch-decode-dispatch loop for one call frame. On RET
// it returns the value in the register named by RET's A operand (or an
// error).
func (vm *VM) runFrame(f *Frame) (Value, error) {
	image := f.fn.Image

	for {
		if int(f.pc) >= len(image) {
			return Nil, newRuntimeError("%q: program counter ran past end of image", f.fn.Name)
		}
		w := image[f.pc]
		op := DecodeOp(w)
		a := DecodeA(w)
		b := DecodeB(w)
		c := DecodeC(w)
		f.pc++

		switch op {
		case OpNop:
			// no-op

		case OpCall:
			argRegs, err := vm.readPackedRegs(image, f, c)
			if err != nil {
				return Nil, err
			}
			callee := f.reg(b)
			if !callee.IsFunction() {
				return Nil, newRuntimeError("attempt to call a %s value", callee.TypeName())
			}
			args := make([]Value, len(argRegs))
			for i, r := range argRegs {
				args[i] = f.reg(r)
			}
			result, err := vm.invoke(callee.AsFunction(), args)
			if err != nil {
				return Nil, err
			}
			f.setReg(a, result)
			result.Release()

		case OpRet:
			return f.reg(a), nil

		case OpJmp:
			off, err := vm.readJumpOffset(image, f)
			if err != nil {
				return Nil, err
			}
			f.pc = uint32(int64(f.pc) + int64(off))

		case OpJze:
			off, err := vm.readJumpOffset(image, f)
			if err != nil {
				return Nil, err
			}
			if !f.reg(a).Truthy() {
				f.pc = uint32(int64(f.pc) + int64(off))
			}

		case OpJnz:
			off, err := vm.readJumpOffset(image, f)
			if err != nil {
				return Nil, err
			}
			if f.reg(a).Truthy() {
				f.pc = uint32(int64(f.pc) + int64(off))
			}

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			v, err := arithBinary(op, f.reg(b), f.reg(c), vm.ctx.ForceFloatDiv)
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			v, err := compareBinary(op, f.reg(b), f.reg(c))
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpAnd, OpOr, OpXor, OpShl, OpShr:
			v, err := bitwiseBinary(op, f.reg(b), f.reg(c))
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpBitNot:
			v := f.reg(b)
			if !v.IsInt() {
				return Nil, newRuntimeError("BITNOT requires an integer operand, got %s", v.TypeName())
			}
			f.setReg(a, Int(^v.AsInt()))

		case OpLogNot:
			f.setReg(a, Bool(!f.reg(b).Truthy()))

		case OpSizeof:
			v, err := sizeofValue(f.reg(b))
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpTypeof:
			f.setReg(a, StringOf(f.reg(b).TypeName()))

		case OpNeg:
			v := f.reg(b)
			switch {
			case v.IsInt():
				f.setReg(a, Int(-v.AsInt()))
			case v.IsFloat():
				f.setReg(a, Float(-v.AsFloat()))
			default:
				return Nil, newRuntimeError("NEG requires a numeric operand, got %s", v.TypeName())
			}

		case OpInc:
			v := f.reg(a)
			switch {
			case v.IsInt():
				f.setReg(a, Int(v.AsInt()+1))
			case v.IsFloat():
				f.setReg(a, Float(v.AsFloat()+1))
			default:
				return Nil, newRuntimeError("INC requires a numeric operand, got %s", v.TypeName())
			}

		case OpDec:
			v := f.reg(a)
			switch {
			case v.IsInt():
				f.setReg(a, Int(v.AsInt()-1))
			case v.IsFloat():
				f.setReg(a, Float(v.AsFloat()-1))
			default:
				return Nil, newRuntimeError("DEC requires a numeric operand, got %s", v.TypeName())
			}

		case OpConcat:
			v, err := Concat(f.reg(b), f.reg(c))
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpMov:
			f.setReg(a, f.reg(b))

		case OpLdConst:
			v, n, err := vm.decodeConst(image, f.pc, ConstType(b))
			if err != nil {
				return Nil, err
			}
			f.pc += n
			f.setReg(a, v)

		case OpLdSym:
			symidx := DecodeBC16(w)
			v, err := vm.resolveSymbol(f.fn, symidx)
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpGlbVal:
			length := DecodeBC16(w)
			name, n, err := decodeNulString(image, f.pc, uint32(length))
			if err != nil {
				return Nil, err
			}
			f.pc += n
			vm.ctx.setGlobal(name, f.reg(a))

		case OpNewArr:
			hint := DecodeBC16(w)
			f.setReg(a, NewArrayValue(int(hint)))

		case OpArrGet:
			arrv, idxv := f.reg(b), f.reg(c)
			if !arrv.IsArray() {
				return Nil, newRuntimeError("ARRGET requires an array, got %s", arrv.TypeName())
			}
			v, err := arrv.AsArray().Get(idxv.AsInt())
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpArrSet:
			arrv, idxv, val := f.reg(a), f.reg(b), f.reg(c)
			if !arrv.IsArray() {
				return Nil, newRuntimeError("ARRSET requires an array, got %s", arrv.TypeName())
			}
			if err := arrv.AsArray().Set(idxv.AsInt(), val); err != nil {
				return Nil, err
			}

		case OpLdArgc:
			f.setReg(a, Int(int64(len(f.args))))

		case OpNthArg:
			idxv := f.reg(b)
			idx := idxv.AsInt()
			if idx < 0 {
				return Nil, newRuntimeError("NTHARG index %d is negative", idx)
			}
			if idx >= int64(len(f.args)) {
				f.setReg(a, Nil)
			} else {
				f.setReg(a, f.args[idx])
			}

		case OpFunction:
			// Encountered only when linear control flow runs into a nested
			// FUNCTION body instead of jumping over it (CALL/invoke always
			// enters at fn.Entry, past the header, so this is the "skip
			// over a nested definition" fallback, not the normal entry
			// path).
			offset := f.pc - 1
			h, err := DecodeFunctionHeader(image, offset)
			if err != nil {
				return Nil, newGenericError("sparkling: %s", err)
			}
			f.pc = BodyOffset(offset) + h.BodyLen

		case OpClosure:
			v, err := vm.buildClosure(f, image, a, b, c)
			if err != nil {
				return Nil, err
			}
			f.setReg(a, v)

		case OpLdUpval:
			idx := int(b)
			if idx < 0 || idx >= len(f.fn.Upvalues) {
				return Nil, newRuntimeError("upvalue index %d out of range (function has %d)", idx, len(f.fn.Upvalues))
			}
			f.setReg(a, f.fn.Upvalues[idx])

		default:
			return Nil, newRuntimeError("illegal instruction %d at word %d", byte(op), f.pc-1)
		}
	}
}

// readPackedRegs reads CALL's inline register-index words: count
// indices packed four per word, one byte each.
func (vm *VM) readPackedRegs(image []Word, f *Frame, count byte) ([]byte, error) {
	argWords := (int(count) + 3) / 4
	if int(f.pc)+argWords > len(image) {
		return nil, newRuntimeError("truncated CALL argument list")
	}
	regs := make([]byte, count)
	for i := 0; i < int(count); i++ {
		word := image[int(f.pc)+i/4]
		shift := uint(i%4) * 8
		regs[i] = byte(word >> shift)
	}
	f.pc += uint32(argWords)
	return regs, nil
}

// readJumpOffset reads the signed inline offset word JMP/JZE/JNZ carry,
// relative to the address immediately following that word.
func (vm *VM) readJumpOffset(image []Word, f *Frame) (int32, error) {
	if int(f.pc) >= len(image) {
		return 0, newRuntimeError("truncated jump offset")
	}
	off := int32(image[f.pc])
	f.pc++
	return off, nil
}

func (vm *VM) decodeConst(image []Word, offset uint32, ct ConstType) (Value, uint32, error) {
	switch ct {
	case ConstNil:
		return Nil, 0, nil
	case ConstTrue:
		return Bool(true), 0, nil
	case ConstFalse:
		return Bool(false), 0, nil
	case ConstInt:
		iv, err := DecodeIntConst(image, offset)
		if err != nil {
			return Nil, 0, newGenericError("sparkling: %s", err)
		}
		return Int(iv), 2, nil
	case ConstFloat:
		fv, err := DecodeFloatConst(image, offset)
		if err != nil {
			return Nil, 0, newGenericError("sparkling: %s", err)
		}
		return Float(fv), 2, nil
	default:
		return Nil, 0, newRuntimeError("unknown LDCONST type %d", byte(ct))
	}
}

// resolveSymbol looks up symidx in fn's symbol table, lazily resolving
// SymSymStub entries against globals on first use (spec.md §4.4, the
// idempotent lazy-resolve property in §8).
func (vm *VM) resolveSymbol(fn *Function, symidx uint16) (Value, error) {
	st := fn.SymbolTable
	if st == nil || int(symidx) >= len(st.Entries) {
		return Nil, newRuntimeError("symbol index %d out of range", symidx)
	}
	e := &st.Entries[symidx]
	switch e.Kind {
	case SymStrConst, SymFuncDef:
		return e.Value, nil
	case SymSymStub:
		if e.Resolved {
			return e.Value, nil
		}
		v, ok := vm.ctx.getGlobal(e.Name)
		if !ok {
			return Nil, newRuntimeError("undefined global %q", e.Name)
		}
		e.Value = v
		e.Resolved = true
		return v, nil
	default:
		return Nil, newRuntimeError("unknown symbol table entry kind %d", e.Kind)
	}
}

// buildClosure implements CLOSURE A B C: A is both the destination
// register and, after construction, holds the closure; B is the symbol
// table index of the FUNCDEF prototype; C is the number of upvalue
// descriptor words following inline.
func (vm *VM) buildClosure(f *Frame, image []Word, a, b, c byte) (Value, error) {
	proto, err := vm.resolveSymbol(f.fn, uint16(b))
	if err != nil {
		return Nil, err
	}
	if !proto.IsFunction() {
		return Nil, newRuntimeError("CLOSURE symbol %d is not a function", b)
	}
	protoFn := proto.AsFunction()

	n := int(c)
	if int(f.pc)+n > len(image) {
		return Nil, newRuntimeError("truncated CLOSURE upvalue descriptor list")
	}
	descriptors := image[f.pc : f.pc+uint32(n)]
	f.pc += uint32(n)

	upvals := make([]Value, n)
	for i, d := range descriptors {
		kind := UpvalKind(DecodeOp(d))
		idx := DecodeA(d)
		switch kind {
		case UpvalLocal:
			upvals[i] = f.reg(idx)
		case UpvalOuter:
			if int(idx) >= len(f.fn.Upvalues) {
				return Nil, newRuntimeError("outer upvalue index %d out of range", idx)
			}
			upvals[i] = f.fn.Upvalues[idx]
		default:
			return Nil, newRuntimeError("unknown upvalue descriptor kind %d", kind)
		}
		upvals[i].Retain()
	}

	closureFn := NewScriptFunction(protoFn.Name, protoFn.Image, protoFn.Entry, protoFn.Argc, protoFn.Nregs)
	closureFn.SymbolTable = protoFn.SymbolTable
	closureFn.Upvalues = upvals
	return NewFunctionValue(closureFn), nil
}

// arithBinary implements ADD/SUB/MUL/DIV/MOD per spec.md §4.4:
// int-op-int stays int unless DIV/MOD would produce a non-integer, in
// which case DIV promotes to float and MOD is a runtime error; any
// float operand promotes the whole operation to float.
func arithBinary(op Opcode, x, y Value, forceFloatDiv bool) (Value, error) {
	if !x.IsNumber() || !y.IsNumber() {
		return Nil, newRuntimeError("%s requires numeric operands, got %s and %s", op, x.TypeName(), y.TypeName())
	}

	bothInt := x.IsInt() && y.IsInt()

	switch op {
	case OpAdd:
		if bothInt {
			return Int(x.AsInt() + y.AsInt()), nil
		}
		return Float(x.AsFloat() + y.AsFloat()), nil

	case OpSub:
		if bothInt {
			return Int(x.AsInt() - y.AsInt()), nil
		}
		return Float(x.AsFloat() - y.AsFloat()), nil

	case OpMul:
		if bothInt {
			return Int(x.AsInt() * y.AsInt()), nil
		}
		return Float(x.AsFloat() * y.AsFloat()), nil

	case OpDiv:
		return arithDiv(x, y, bothInt && !forceFloatDiv)

	case OpMod:
		if !bothInt {
			return Nil, newRuntimeError("MOD is only defined on integer operands, got %s and %s", x.TypeName(), y.TypeName())
		}
		yi := y.AsInt()
		if yi == 0 {
			return Nil, newRuntimeError("integer division by zero in MOD")
		}
		return Int(x.AsInt() % yi), nil

	default:
		return Nil, newRuntimeError("not an arithmetic opcode: %s", op)
	}
}

// arithDiv resolves the spec.md §9 open question per §4.4's own text:
// int/int division stays int when it divides evenly, and only promotes
// to float when there is a remainder. A Context can force float-always
// via ForceFloatDiv if conformance testing says otherwise.
func arithDiv(x, y Value, bothInt bool) (Value, error) {
	if bothInt {
		yi := y.AsInt()
		if yi == 0 {
			return Nil, newRuntimeError("integer division by zero")
		}
		xi := x.AsInt()
		if xi%yi == 0 {
			return Int(xi / yi), nil
		}
		return Float(float64(xi) / float64(yi)), nil
	}
	return Float(x.AsFloat() / y.AsFloat()), nil
}

func compareBinary(op Opcode, x, y Value) (Value, error) {
	if op == OpEq {
		return Bool(Equal(x, y)), nil
	}
	if op == OpNe {
		return Bool(!Equal(x, y)), nil
	}
	if !Comparable(x, y) {
		return Nil, newRuntimeError("%s and %s are not comparable", x.TypeName(), y.TypeName())
	}
	cmp := Compare(x, y)
	switch op {
	case OpLt:
		return Bool(cmp < 0), nil
	case OpLe:
		return Bool(cmp <= 0), nil
	case OpGt:
		return Bool(cmp > 0), nil
	case OpGe:
		return Bool(cmp >= 0), nil
	default:
		return Nil, newRuntimeError("not a comparison opcode: %s", op)
	}
}

func bitwiseBinary(op Opcode, x, y Value) (Value, error) {
	if !x.IsInt() || !y.IsInt() {
		return Nil, newRuntimeError("%s requires integer operands, got %s and %s", op, x.TypeName(), y.TypeName())
	}
	xi, yi := x.AsInt(), y.AsInt()
	switch op {
	case OpAnd:
		return Int(xi & yi), nil
	case OpOr:
		return Int(xi | yi), nil
	case OpXor:
		return Int(xi ^ yi), nil
	case OpShl:
		return Int(xi << uint(yi&63)), nil
	case OpShr:
		return Int(xi >> uint(yi&63)), nil
	default:
		return Nil, newRuntimeError("not a bitwise opcode: %s", op)
	}
}

// sizeofValue implements SIZEOF: length for string/array, entry count
// for hashmap, declared argument count for function.
func sizeofValue(v Value) (Value, error) {
	switch {
	case v.IsString():
		return Int(int64(v.AsString().Len())), nil
	case v.IsArray():
		return Int(int64(v.AsArray().Len())), nil
	case v.IsHashmap():
		return Int(int64(v.AsHashmap().Len())), nil
	case v.IsFunction():
		return Int(v.AsFunction().Sizeof()), nil
	default:
		return Nil, newRuntimeError("SIZEOF is not defined for %s", v.TypeName())
	}
}
