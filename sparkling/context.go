package sparkling

import (
	"bytes"
	"io"
	"os"
)

// Context is the top-level execution environment: a global namespace,
// a call stack, and the last-error slot spec.md §4.5 describes. One
// Context must never be shared across goroutines (spec.md §5); nothing
// here is synchronized.
type Context struct {
	globals map[string]Value
	frames  []*Frame

	lastErr *ScriptError

	// ForceFloatDiv makes DIV always promote to float, even when an
	// int/int division is exact. Default false follows spec.md §4.4's
	// literal text; see DESIGN.md's Open Question decision for why.
	ForceFloatDiv bool

	// Stdout is where the `print` builtin writes; nil means os.Stdout.
	Stdout io.Writer
}

// NewContext creates a Context with the builtin globals bound (spec.md
// §4.5's runtime API, plus `print` from the AMBIENT STACK).
func NewContext() *Context {
	c := &Context{globals: make(map[string]Value)}
	installBuiltins(c)
	return c
}

// Close releases every retained global. Provided for symmetry with the
// reference implementation's spn_ctx_new/spn_ctx_free pairing; the Go
// GC reclaims everything else once the Context itself is unreachable.
func (c *Context) Close() {
	for name, v := range c.globals {
		v.Release()
		delete(c.globals, name)
	}
}

func (c *Context) pushFrame(f *Frame) { c.frames = append(c.frames, f) }

func (c *Context) popFrame() {
	c.frames = c.frames[:len(c.frames)-1]
}

func (c *Context) topFrame() *Frame {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *Context) getGlobal(name string) (Value, bool) {
	v, ok := c.globals[name]
	return v, ok
}

func (c *Context) setGlobal(name string, v Value) {
	v.Retain()
	if old, ok := c.globals[name]; ok {
		old.Release()
	}
	c.globals[name] = v
}

// RegisterNative binds a host function under name in the global
// namespace, the same way the reference implementation's
// spn_ctx_addnativefunc wires up a standard library.
func (c *Context) RegisterNative(name string, fn NativeFunc) {
	c.setGlobal(name, NewFunctionValue(NewNativeFunction(name, fn)))
}

// LoadString compiles src to a top-level program Function without
// running it.
func (c *Context) LoadString(src string) (*Function, error) {
	image, err := Compile(src, "<string>")
	if err != nil {
		c.lastErr = asScriptError(err, ErrSyntax)
		return nil, c.lastErr
	}
	fn, err := Load(image, "<string>")
	if err != nil {
		c.lastErr = asScriptError(err, ErrGeneric)
		return nil, c.lastErr
	}
	return fn, nil
}

// CompileExpr compiles a single expression (no trailing semicolon
// required), used by a REPL's second parse attempt after a bare
// statement parse fails (spec.md §7).
func (c *Context) CompileExpr(src string) (*Function, error) {
	image, err := CompileExpression(src, "<repl>")
	if err != nil {
		c.lastErr = asScriptError(err, ErrSyntax)
		return nil, c.lastErr
	}
	fn, err := Load(image, "<repl>")
	if err != nil {
		c.lastErr = asScriptError(err, ErrGeneric)
		return nil, c.lastErr
	}
	return fn, nil
}

// LoadSourceFile reads path, strips a leading shebang line if present
// (spec.md §6), and compiles it.
func (c *Context) LoadSourceFile(path string) (*Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.lastErr = newGenericError("sparkling: %s", err)
		return nil, c.lastErr
	}
	return c.LoadString(string(StripShebang(data)))
}

// LoadObjectFile reads path as a pre-compiled object file (spec.md §6,
// extension `.spo`) and loads it without compiling anything.
func (c *Context) LoadObjectFile(path string) (*Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.lastErr = newGenericError("sparkling: %s", err)
		return nil, c.lastErr
	}
	words, err := ReadObjectImage(data)
	if err != nil {
		c.lastErr = asScriptError(err, ErrGeneric)
		return nil, c.lastErr
	}
	fn, err := Load(words, path)
	if err != nil {
		c.lastErr = asScriptError(err, ErrGeneric)
		return nil, c.lastErr
	}
	return fn, nil
}

// CallFunc invokes fn with args, recording any error (with a captured
// stack trace for runtime errors) in the Context's last-error slot.
func (c *Context) CallFunc(fn *Function, args ...Value) (Value, error) {
	vm := newVM(c)
	for _, a := range args {
		a.Retain()
	}
	result, err := vm.invoke(fn, args)
	for _, a := range args {
		a.Release()
	}
	if err != nil {
		c.lastErr = asScriptError(err, ErrRuntime)
		return Nil, c.lastErr
	}
	c.lastErr = nil
	return result, nil
}

// ExecString compiles and runs src in one step.
func (c *Context) ExecString(src string, args ...Value) (Value, error) {
	fn, err := c.LoadString(src)
	if err != nil {
		return Nil, err
	}
	return c.CallFunc(fn, args...)
}

// ExecObjFile loads and runs a pre-compiled object file in one step.
func (c *Context) ExecObjFile(path string, args ...Value) (Value, error) {
	fn, err := c.LoadObjectFile(path)
	if err != nil {
		return Nil, err
	}
	return c.CallFunc(fn, args...)
}

// GetErrMsg returns the message of the most recently recorded failure,
// or "" if none is recorded. A successful CallFunc clears the record; a
// successful load or compile leaves it as it was.
func (c *Context) GetErrMsg() string {
	if c.lastErr == nil {
		return ""
	}
	return c.lastErr.Message
}

// GetErrType returns the kind of the most recent failure.
func (c *Context) GetErrType() ErrorKind {
	if c.lastErr == nil {
		return ErrNone
	}
	return c.lastErr.Kind
}

// StackTrace returns the most recent runtime error's call stack,
// innermost frame first, or nil if the last error was not a runtime
// error (spec.md §7: "stack traces are captured for runtime errors
// only").
func (c *Context) StackTrace() []string {
	if c.lastErr == nil {
		return nil
	}
	return c.lastErr.Trace
}

// StripShebang implements spec.md §6's source-file rule: if the first
// two bytes are "#!", skip to the first line terminator (accepting
// either \n or \r; when the first \n and first \r are adjacent, as in
// "\r\n", the later one ends the line) before presenting the rest to the
// compiler.
func StripShebang(src []byte) []byte {
	if len(src) < 2 || src[0] != '#' || src[1] != '!' {
		return src
	}
	nl := bytes.IndexByte(src, '\n')
	cr := bytes.IndexByte(src, '\r')
	cut := -1
	switch {
	case nl < 0:
		cut = cr
	case cr < 0:
		cut = nl
	default:
		lo, hi := nl, cr
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi == lo+1 {
			cut = hi
		} else {
			cut = lo
		}
	}
	if cut < 0 {
		return nil
	}
	return src[cut+1:]
}
