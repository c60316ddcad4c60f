package sparkling

// Frame is one call frame: a register window, the saved return address,
// the called Function, a copy of the caller's argument vector (for
// NTHARG/LDARGC), and a link to the calling frame (spec.md §4.4).
type Frame struct {
	fn   *Function
	regs []Value

	// pc indexes fn.Image; for a FuncScript it starts at fn.Entry.
	pc uint32

	// args is the retained argument vector this frame's function was
	// called with, consulted by NTHARG/LDARGC. It is independent of the
	// register window: R1..RA are filled from args (truncated or
	// nil-padded to fn.Argc), but args itself is kept around in full so
	// NTHARG can see past ARGC for variadic-style native bridges.
	args []Value

	// caller is the calling frame, nil for the outermost frame. destReg
	// is always 0 and is not read: the CALL that created this frame
	// stores the returned value into its own A register.
	caller  *Frame
	destReg byte
}

func newFrame(fn *Function, args []Value, caller *Frame, destReg byte) *Frame {
	f := &Frame{
		fn:      fn,
		regs:    make([]Value, fn.Nregs),
		pc:      fn.Entry,
		caller:  caller,
		destReg: destReg,
	}
	f.args = make([]Value, len(args))
	copy(f.args, args)
	for i := range f.args {
		f.args[i].Retain()
	}

	// R0 is reserved and stays nil (RET returns whichever register its A
	// operand names); R1..RA are parameters, truncated or nil-padded to
	// ARGC; the rest are scratch, already nil from make().
	for i := 0; i < int(fn.Argc); i++ {
		if i < len(args) {
			f.regs[1+i] = args[i]
			f.regs[1+i].Retain()
		}
	}
	return f
}

// release drops this frame's register references, matching spec.md
// §4.4's "on RET... the frame's registers are all released."
func (f *Frame) release() {
	for i := range f.regs {
		f.regs[i].Release()
	}
	for i := range f.args {
		f.args[i].Release()
	}
}

func (f *Frame) reg(idx byte) Value {
	return f.regs[idx]
}

func (f *Frame) setReg(idx byte, v Value) {
	old := f.regs[idx]
	v.Retain()
	f.regs[idx] = v
	old.Release()
}
