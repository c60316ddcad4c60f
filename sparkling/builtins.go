package sparkling

import (
	"bufio"
	"fmt"
	"os"
)

// installBuiltins binds the small set of globals every Context starts
// with. The reference implementation ships a much larger standard
// library (string/array/math helpers); only `print` is wired here
// since it is the one builtin the end-to-end scenarios in spec.md §8
// actually exercise, grounded on KTStephano-GVM/main.go's own
// `fmt.Fprintf`-to-a-buffered-writer style for its CLI output.
func installBuiltins(c *Context) {
	c.RegisterNative("print", builtinPrint)
}

// builtinPrint writes every argument's display form, space-separated,
// followed by a newline, to c.Stdout - the same shape as the reference
// implementation's spn_stdlib print().
func builtinPrint(c *Context, args []Value) (Value, error) {
	w := c.Stdout
	if w == nil {
		w = os.Stdout
	}
	bw := bufio.NewWriter(w)
	for i, a := range args {
		if i > 0 {
			bw.WriteByte(' ')
		}
		fmt.Fprint(bw, a.String())
	}
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return Nil, newGenericError("sparkling: print: %s", err)
	}
	return Nil, nil
}
