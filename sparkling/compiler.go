package sparkling

// This file implements the minimal source-to-bytecode compiler spec.md
// §1 treats as an out-of-scope collaborator ("the parser and
// source-to-bytecode compiler are acknowledged as collaborators: they
// must emit the exact binary format specified in §6, but their
// internal algorithms are out of scope"). It exists only so
// Context.LoadString/CompileExpr have a real front end to call, and is
// deliberately a small single-pass recursive-descent/register-bumping
// codegen rather than a register-allocating optimizer.

// Compile turns Sparkling source text into a top-level object-file
// image (spec.md §6).
func Compile(src, name string) ([]Word, error) {
	stmts, err := parseProgram(src)
	if err != nil {
		return nil, err
	}
	return compileProgram(stmts)
}

// CompileExpression compiles a single bare expression as a
// zero-argument program whose body evaluates and returns it - the
// REPL's second parse attempt after a bare statement parse fails
// (spec.md §7).
func CompileExpression(src, name string) ([]Word, error) {
	e, err := parseSingleExpr(src)
	if err != nil {
		return nil, err
	}
	return compileProgram([]Stmt{&ReturnStmt{X: e}})
}

// pendingSym is one as-yet-unlocated local symbol table entry;
// SymFuncDef entries carry a *compiledFunc whose offset is only known
// after layoutImage places every function in the final word array.
type pendingSym struct {
	kind  SymKind
	name  string
	bytes []byte
	fn    *compiledFunc
}

// compiledFunc is one function's code, before it has been given a
// final position in the image.
type compiledFunc struct {
	argc, nregs byte
	code        []Word
	offset      uint32
}

// progCompiler is state shared by every function in one compilation
// unit: the single flat local symbol table every FuncScript in the
// resulting image shares (spec.md §4.3), and the list of nested
// functions awaiting layout.
type progCompiler struct {
	symtab        []pendingSym
	strConstIdx   map[string]uint16
	globalStubIdx map[string]uint16
	nested        []*compiledFunc
}

func (pc *progCompiler) strConst(s string) uint16 {
	if idx, ok := pc.strConstIdx[s]; ok {
		return idx
	}
	idx := uint16(len(pc.symtab))
	pc.symtab = append(pc.symtab, pendingSym{kind: SymStrConst, bytes: []byte(s)})
	pc.strConstIdx[s] = idx
	return idx
}

func (pc *progCompiler) globalStub(name string) uint16 {
	if idx, ok := pc.globalStubIdx[name]; ok {
		return idx
	}
	idx := uint16(len(pc.symtab))
	pc.symtab = append(pc.symtab, pendingSym{kind: SymSymStub, name: name})
	pc.globalStubIdx[name] = idx
	return idx
}

func (pc *progCompiler) funcDef(name string, cf *compiledFunc) uint16 {
	idx := uint16(len(pc.symtab))
	pc.symtab = append(pc.symtab, pendingSym{kind: SymFuncDef, name: name, fn: cf})
	pc.nested = append(pc.nested, cf)
	return idx
}

// funcCompiler holds the codegen state for one function (top-level or
// nested): its register file bump-allocator, its local variable
// bindings, and (if nested) the upvalue descriptors it has accumulated
// by capturing free variables from its lexical parent chain.
type funcCompiler struct {
	parent *funcCompiler
	prog   *progCompiler

	locals  map[string]byte
	nextReg byte
	maxReg  byte

	code []Word

	upvalNames       []string
	upvalDescriptors []Word
}

func (fc *funcCompiler) emit(w Word) { fc.code = append(fc.code, w) }

func (fc *funcCompiler) emitLdConst(dst byte, ct ConstType, payload []Word) {
	fc.emit(EncodeABC(OpLdConst, dst, byte(ct), 0))
	fc.code = append(fc.code, payload...)
}

func (fc *funcCompiler) allocTemp() byte {
	r := fc.nextReg
	fc.nextReg++
	if fc.nextReg > fc.maxReg {
		fc.maxReg = fc.nextReg
	}
	return r
}

// emitJump appends a jump opcode (optionally with a test register)
// followed by a placeholder offset word, returning the offset word's
// index for patchJumpHere to fill in once the target is known.
func (fc *funcCompiler) emitJump(op Opcode, testReg byte) int {
	if op == OpJmp {
		fc.emit(EncodeOp(op))
	} else {
		fc.emit(EncodeABC(op, testReg, 0, 0))
	}
	idx := len(fc.code)
	fc.emit(0)
	return idx
}

// patchJumpHere fills in idx's offset word so the jump lands on the
// next instruction to be emitted, relative to the word after the
// offset (spec.md §4.1's inline signed jump offsets).
func (fc *funcCompiler) patchJumpHere(idx int) {
	target := len(fc.code)
	fc.code[idx] = Word(uint32(int32(target - (idx + 1))))
}

// resolveUpvalue threads a free variable reference up the lexical
// parent chain, capturing it as a LOCAL upvalue where it is first
// found as a parent's local, or as an OUTER upvalue re-exported through
// each intermediate function, the same way Lua's parser resolves
// upvalues across nested closures.
func (fc *funcCompiler) resolveUpvalue(name string) (int, bool) {
	for i, n := range fc.upvalNames {
		if n == name {
			return i, true
		}
	}
	if fc.parent == nil {
		return 0, false
	}
	if reg, ok := fc.parent.locals[name]; ok {
		fc.upvalNames = append(fc.upvalNames, name)
		fc.upvalDescriptors = append(fc.upvalDescriptors, encodeUpvalDesc(UpvalLocal, reg))
		return len(fc.upvalNames) - 1, true
	}
	if idx, ok := fc.parent.resolveUpvalue(name); ok {
		fc.upvalNames = append(fc.upvalNames, name)
		fc.upvalDescriptors = append(fc.upvalDescriptors, encodeUpvalDesc(UpvalOuter, byte(idx)))
		return len(fc.upvalNames) - 1, true
	}
	return 0, false
}

func (fc *funcCompiler) loadIdent(name string) (byte, error) {
	if reg, ok := fc.locals[name]; ok {
		return reg, nil
	}
	if idx, ok := fc.resolveUpvalue(name); ok {
		dst := fc.allocTemp()
		fc.emit(EncodeABC(OpLdUpval, dst, byte(idx), 0))
		return dst, nil
	}
	dst := fc.allocTemp()
	symidx := fc.prog.globalStub(name)
	fc.emit(EncodeABC16(OpLdSym, dst, symidx))
	return dst, nil
}

func binOpcode(op string) (Opcode, error) {
	switch op {
	case "+":
		return OpAdd, nil
	case "-":
		return OpSub, nil
	case "*":
		return OpMul, nil
	case "/":
		return OpDiv, nil
	case "%":
		return OpMod, nil
	case "==":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "&":
		return OpAnd, nil
	case "|":
		return OpOr, nil
	case "^":
		return OpXor, nil
	case "<<":
		return OpShl, nil
	case ">>":
		return OpShr, nil
	default:
		return 0, newSemanticError("unknown binary operator %q", op)
	}
}

func (fc *funcCompiler) compileExpr(e Expr) (byte, error) {
	switch n := e.(type) {
	case IntLit:
		dst := fc.allocTemp()
		fc.emitLdConst(dst, ConstInt, EncodeIntConst(n.Value))
		return dst, nil

	case FloatLit:
		dst := fc.allocTemp()
		fc.emitLdConst(dst, ConstFloat, EncodeFloatConst(n.Value))
		return dst, nil

	case BoolLit:
		dst := fc.allocTemp()
		ct := ConstFalse
		if n.Value {
			ct = ConstTrue
		}
		fc.emitLdConst(dst, ct, nil)
		return dst, nil

	case NilLit:
		dst := fc.allocTemp()
		fc.emitLdConst(dst, ConstNil, nil)
		return dst, nil

	case StringLit:
		dst := fc.allocTemp()
		idx := fc.prog.strConst(n.Value)
		fc.emit(EncodeABC16(OpLdSym, dst, idx))
		return dst, nil

	case Ident:
		return fc.loadIdent(n.Name)

	case *ArrayLit:
		dst := fc.allocTemp()
		fc.emit(EncodeABC16(OpNewArr, dst, uint16(len(n.Elems))))
		for i, el := range n.Elems {
			base := fc.nextReg
			vr, err := fc.compileExpr(el)
			if err != nil {
				return 0, err
			}
			idxReg := fc.allocTemp()
			fc.emitLdConst(idxReg, ConstInt, EncodeIntConst(int64(i)))
			fc.emit(EncodeABC(OpArrSet, dst, idxReg, vr))
			fc.nextReg = base
		}
		return dst, nil

	case *UnaryExpr:
		xr, err := fc.compileExpr(n.X)
		if err != nil {
			return 0, err
		}
		var op Opcode
		switch n.Op {
		case "-":
			op = OpNeg
		case "!":
			op = OpLogNot
		case "~":
			op = OpBitNot
		default:
			return 0, newSemanticError("unknown unary operator %q", n.Op)
		}
		dst := fc.allocTemp()
		fc.emit(EncodeABC(op, dst, xr, 0))
		return dst, nil

	case *SizeofExpr:
		xr, err := fc.compileExpr(n.X)
		if err != nil {
			return 0, err
		}
		dst := fc.allocTemp()
		fc.emit(EncodeABC(OpSizeof, dst, xr, 0))
		return dst, nil

	case *TypeofExpr:
		xr, err := fc.compileExpr(n.X)
		if err != nil {
			return 0, err
		}
		dst := fc.allocTemp()
		fc.emit(EncodeABC(OpTypeof, dst, xr, 0))
		return dst, nil

	case *BinaryExpr:
		lr, err := fc.compileExpr(n.L)
		if err != nil {
			return 0, err
		}
		rr, err := fc.compileExpr(n.R)
		if err != nil {
			return 0, err
		}
		op, err := binOpcode(n.Op)
		if err != nil {
			return 0, err
		}
		dst := fc.allocTemp()
		fc.emit(EncodeABC(op, dst, lr, rr))
		return dst, nil

	case *IndexExpr:
		xr, err := fc.compileExpr(n.X)
		if err != nil {
			return 0, err
		}
		idxr, err := fc.compileExpr(n.Index)
		if err != nil {
			return 0, err
		}
		dst := fc.allocTemp()
		fc.emit(EncodeABC(OpArrGet, dst, xr, idxr))
		return dst, nil

	case *CallExpr:
		return fc.compileCall(n)

	case *FuncLit:
		return fc.compileFuncLit(n)

	default:
		return 0, newSemanticError("unsupported expression node %T", e)
	}
}

func (fc *funcCompiler) compileCall(n *CallExpr) (byte, error) {
	calleeReg, err := fc.compileExpr(n.Callee)
	if err != nil {
		return 0, err
	}
	argRegs := make([]byte, len(n.Args))
	for i, a := range n.Args {
		r, err := fc.compileExpr(a)
		if err != nil {
			return 0, err
		}
		argRegs[i] = r
	}
	dst := fc.allocTemp()
	fc.emit(EncodeABC(OpCall, dst, calleeReg, byte(len(argRegs))))
	for i := 0; i < len(argRegs); i += 4 {
		var w Word
		for j := 0; j < 4 && i+j < len(argRegs); j++ {
			w |= Word(argRegs[i+j]) << uint(j*8)
		}
		fc.emit(w)
	}
	return dst, nil
}

// compileFuncLit compiles a function literal as a nested function,
// registers it as a FUNCDEF symbol table entry, and emits the CLOSURE
// instruction that instantiates it in a fresh register, capturing
// whatever free variables its body resolved as upvalues.
func (fc *funcCompiler) compileFuncLit(n *FuncLit) (byte, error) {
	child := &funcCompiler{parent: fc, prog: fc.prog, locals: map[string]byte{}}
	child.nextReg = byte(len(n.Params)) + 1
	child.maxReg = child.nextReg
	for i, pname := range n.Params {
		child.locals[pname] = byte(i + 1)
	}
	if err := child.compileStmts(n.Body); err != nil {
		return 0, err
	}
	nilReg := child.allocTemp()
	child.emitLdConst(nilReg, ConstNil, nil)
	child.emit(EncodeABC(OpRet, nilReg, 0, 0))

	cf := &compiledFunc{argc: byte(len(n.Params)), nregs: child.maxReg, code: child.code}
	symidx := fc.prog.funcDef(n.Name, cf)
	if symidx > 255 {
		return 0, newSemanticError("too many symbol table entries for this compiler (max 256)")
	}

	dst := fc.allocTemp()
	fc.emit(EncodeABC(OpClosure, dst, byte(symidx), byte(len(child.upvalDescriptors))))
	fc.code = append(fc.code, child.upvalDescriptors...)
	return dst, nil
}

func (fc *funcCompiler) compileStmts(stmts []Stmt) error {
	for _, s := range stmts {
		if err := fc.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) compileStmt(s Stmt) error {
	switch n := s.(type) {
	case *VarDecl:
		return fc.compileVarDecl(n)
	case *FuncDeclStmt:
		return fc.compileFuncDeclStmt(n)
	case *ExprStmt:
		base := fc.nextReg
		if _, err := fc.compileExpr(n.X); err != nil {
			return err
		}
		fc.nextReg = base
		return nil
	case *ReturnStmt:
		return fc.compileReturn(n)
	case *AssignStmt:
		return fc.compileAssign(n)
	case *IncDecStmt:
		reg, ok := fc.locals[n.Name]
		if !ok {
			return newSemanticError("%s requires %q to be a local variable", n.Op, n.Name)
		}
		if n.Op == "++" {
			fc.emit(EncodeABC(OpInc, reg, 0, 0))
		} else {
			fc.emit(EncodeABC(OpDec, reg, 0, 0))
		}
		return nil
	case *IfStmt:
		return fc.compileIf(n)
	case *WhileStmt:
		return fc.compileWhile(n)
	default:
		return newSemanticError("unsupported statement node %T", s)
	}
}

func (fc *funcCompiler) compileVarDecl(v *VarDecl) error {
	base := fc.nextReg
	var r byte
	if v.Init != nil {
		rr, err := fc.compileExpr(v.Init)
		if err != nil {
			return err
		}
		r = rr
	} else {
		r = fc.allocTemp()
		fc.emitLdConst(r, ConstNil, nil)
	}
	local := base
	if r != local {
		fc.emit(EncodeABC(OpMov, local, r, 0))
	}
	fc.nextReg = local + 1
	if fc.nextReg > fc.maxReg {
		fc.maxReg = fc.nextReg
	}
	fc.locals[v.Name] = local
	return nil
}

func (fc *funcCompiler) compileFuncDeclStmt(n *FuncDeclStmt) error {
	base := fc.nextReg
	r, err := fc.compileFuncLit(n.Fn)
	if err != nil {
		return err
	}
	local := base
	if r != local {
		fc.emit(EncodeABC(OpMov, local, r, 0))
	}
	fc.nextReg = local + 1
	if fc.nextReg > fc.maxReg {
		fc.maxReg = fc.nextReg
	}
	fc.locals[n.Name] = local
	return nil
}

func (fc *funcCompiler) compileReturn(n *ReturnStmt) error {
	base := fc.nextReg
	var reg byte
	if n.X != nil {
		r, err := fc.compileExpr(n.X)
		if err != nil {
			return err
		}
		reg = r
	} else {
		reg = fc.allocTemp()
		fc.emitLdConst(reg, ConstNil, nil)
	}
	fc.emit(EncodeABC(OpRet, reg, 0, 0))
	fc.nextReg = base
	return nil
}

func (fc *funcCompiler) compileAssign(n *AssignStmt) error {
	base := fc.nextReg
	switch t := n.Target.(type) {
	case Ident:
		vr, err := fc.compileExpr(n.Value)
		if err != nil {
			return err
		}
		if local, ok := fc.locals[t.Name]; ok {
			fc.emit(EncodeABC(OpMov, local, vr, 0))
		} else if _, ok := fc.resolveUpvalue(t.Name); ok {
			return newSemanticError("cannot assign to captured variable %q", t.Name)
		} else {
			fc.emit(EncodeABC16(OpGlbVal, vr, uint16(len(t.Name))))
			fc.code = append(fc.code, encodeNulString(t.Name)...)
		}
	case *IndexExpr:
		xr, err := fc.compileExpr(t.X)
		if err != nil {
			return err
		}
		idxr, err := fc.compileExpr(t.Index)
		if err != nil {
			return err
		}
		vr, err := fc.compileExpr(n.Value)
		if err != nil {
			return err
		}
		fc.emit(EncodeABC(OpArrSet, xr, idxr, vr))
	default:
		return newSemanticError("invalid assignment target %T", n.Target)
	}
	fc.nextReg = base
	return nil
}

func (fc *funcCompiler) compileIf(s *IfStmt) error {
	base := fc.nextReg
	condReg, err := fc.compileExpr(s.Cond)
	if err != nil {
		return err
	}
	jzeIdx := fc.emitJump(OpJze, condReg)
	fc.nextReg = base

	if err := fc.compileStmts(s.Then); err != nil {
		return err
	}
	if len(s.Else) > 0 {
		jmpIdx := fc.emitJump(OpJmp, 0)
		fc.patchJumpHere(jzeIdx)
		if err := fc.compileStmts(s.Else); err != nil {
			return err
		}
		fc.patchJumpHere(jmpIdx)
	} else {
		fc.patchJumpHere(jzeIdx)
	}
	return nil
}

func (fc *funcCompiler) compileWhile(s *WhileStmt) error {
	loopStart := len(fc.code)
	base := fc.nextReg
	condReg, err := fc.compileExpr(s.Cond)
	if err != nil {
		return err
	}
	jzeIdx := fc.emitJump(OpJze, condReg)
	fc.nextReg = base

	if err := fc.compileStmts(s.Body); err != nil {
		return err
	}
	backIdx := fc.emitJump(OpJmp, 0)
	fc.code[backIdx] = Word(uint32(int32(loopStart - (backIdx + 1))))
	fc.patchJumpHere(jzeIdx)
	return nil
}

func compileProgram(stmts []Stmt) ([]Word, error) {
	prog := &progCompiler{
		strConstIdx:   map[string]uint16{},
		globalStubIdx: map[string]uint16{},
	}
	top := &funcCompiler{prog: prog, locals: map[string]byte{}}
	top.nextReg = 1
	top.maxReg = 1

	if err := top.compileStmts(stmts); err != nil {
		return nil, err
	}
	nilReg := top.allocTemp()
	top.emitLdConst(nilReg, ConstNil, nil)
	top.emit(EncodeABC(OpRet, nilReg, 0, 0))

	topCF := &compiledFunc{argc: 0, nregs: top.maxReg, code: top.code}
	return layoutImage(prog, topCF), nil
}

// layoutImage places the top-level function's own code first, then
// every nested function's FUNCTION header + body back to back
// (spec.md §4.2's "top-level function header, top-level body,
// symbol-table entries" - nested function bodies live inside that
// "top-level body" span, which is why the top header's BODYLEN must
// cover all of them), then the shared local symbol table.
func layoutImage(prog *progCompiler, top *compiledFunc) []Word {
	cursor := uint32(FuncHeaderWords) + uint32(len(top.code))
	for _, fn := range prog.nested {
		fn.offset = cursor
		cursor += uint32(FuncHeaderWords) + uint32(len(fn.code))
	}
	bodyLen := cursor - FuncHeaderWords

	image := make([]Word, 0, cursor)
	topHdr := EncodeFunctionHeader(FunctionHeader{
		SymCount: uint32(len(prog.symtab)),
		BodyLen:  bodyLen,
		Argc:     top.argc,
		Nregs:    top.nregs,
	})
	image = append(image, topHdr[:]...)
	image = append(image, top.code...)

	for _, fn := range prog.nested {
		h := EncodeFunctionHeader(FunctionHeader{
			SymCount: 0,
			BodyLen:  uint32(len(fn.code)),
			Argc:     fn.argc,
			Nregs:    fn.nregs,
		})
		image = append(image, h[:]...)
		image = append(image, fn.code...)
	}

	for _, e := range prog.symtab {
		switch e.kind {
		case SymStrConst:
			image = append(image, encodeSymEntry(SymStrConst, 0, "", e.bytes)...)
		case SymSymStub:
			image = append(image, encodeSymEntry(SymSymStub, 0, e.name, nil)...)
		case SymFuncDef:
			image = append(image, encodeSymEntry(SymFuncDef, e.fn.offset, e.name, nil)...)
		}
	}
	return image
}
