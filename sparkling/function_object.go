package sparkling

import "fmt"

// FunctionKind selects which of the three Function variants spec.md §3
// describes an instance is.
type FunctionKind byte

const (
	// FuncProgram is a top-level program: owns the word array holding
	// the whole object-file image.
	FuncProgram FunctionKind = iota
	// FuncScript borrows a slice of a top-level program's word array,
	// with a fixed entry address, argument count, register count, and
	// captured upvalues.
	FuncScript
	// FuncNative is a callback pointer plus a name.
	FuncNative
)

// NativeFunc is the callback signature for FuncNative Functions. It
// receives the already-retained argument vector and must return exactly
// one Value (Nil if the native function has no meaningful result).
type NativeFunc func(ctx *Context, args []Value) (Value, error)

// Function is the callable built-in. All three variants share one Go
// type and the same value-level API (spec.md §3), distinguished by
// Kind. A FuncScript's Image slice shares the same backing array as its
// owning FuncProgram's Image - spec.md §9's design note ("implement as
// an index range plus a shared handle to the whole image") falls out of
// Go slice semantics for free, so no separate "owning image" pointer is
// needed beyond what Go's slice header already carries.
type Function struct {
	ObjectHeader

	Kind FunctionKind
	Name string

	// Image is the word array this function's body lives in. For
	// FuncProgram it is the entire object-file image; for FuncScript it
	// is the same backing array (possibly re-sliced), addressed via
	// Entry.
	Image []Word
	Entry uint32

	Argc  byte
	Nregs byte

	// Upvalues holds the snapshot values captured at CLOSURE
	// construction time (spec.md §4.4: "Upvalues are by value").
	Upvalues []Value

	// SymbolTable points at the owning object file's local symbol table
	// (spec.md §4.3). The loader sets this to the same *SymbolTable on
	// every FuncScript it materializes from a given image, so LDSYM and
	// CLOSURE can resolve symbol indices no matter which function in the
	// file is currently executing.
	SymbolTable *SymbolTable

	Native NativeFunc
}

var functionClass = &Class{
	Name: "function",
	UID:  ClassUIDFunction,
	Equal: func(a, b HeapObject) bool {
		return a == b
	},
	Destroy: func(o HeapObject) {
		f := o.(*Function)
		for _, v := range f.Upvalues {
			v.Release()
		}
		f.Upvalues = nil
	},
}

func newFunction() *Function {
	return &Function{ObjectHeader: ObjectHeader{Class: functionClass}}
}

// NewProgramFunction wraps a fully loaded top-level image.
func NewProgramFunction(name string, image []Word, argc, nregs byte, symtab *SymbolTable) *Function {
	f := newFunction()
	f.Kind = FuncProgram
	f.Name = name
	f.Image = image
	f.Entry = BodyOffset(0)
	f.Argc = argc
	f.Nregs = nregs
	f.SymbolTable = symtab
	return f
}

// NewScriptFunction wraps a FUNCDEF entry: a function sharing its
// top-level program's image.
func NewScriptFunction(name string, image []Word, entry uint32, argc, nregs byte) *Function {
	f := newFunction()
	f.Kind = FuncScript
	f.Name = name
	f.Image = image
	f.Entry = entry
	f.Argc = argc
	f.Nregs = nregs
	return f
}

// NewNativeFunction wraps a host callback.
func NewNativeFunction(name string, fn NativeFunc) *Function {
	f := newFunction()
	f.Kind = FuncNative
	f.Name = name
	f.Native = fn
	return f
}

func NewFunctionValue(f *Function) Value {
	return objValue(TagFunction, f)
}

// Sizeof implements SIZEOF for functions: the declared argument count
// (spec.md §4.4).
func (f *Function) Sizeof() int64 { return int64(f.Argc) }

func (f *Function) String() string {
	name := f.Name
	if name == "" {
		name = "<anonymous>"
	}
	switch f.Kind {
	case FuncNative:
		return fmt.Sprintf("<native function %s>", name)
	default:
		return fmt.Sprintf("<function %s>", name)
	}
}
