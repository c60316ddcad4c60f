package sparkling

import (
	"bytes"
	"strings"
	"testing"
)

// runProgram compiles and executes src against a fresh Context with
// Stdout captured, returning the captured output.
func runProgram(t *testing.T, src string) (string, error) {
	t.Helper()
	ctx := NewContext()
	defer ctx.Close()
	var buf bytes.Buffer
	ctx.Stdout = &buf
	_, err := ctx.ExecString(src)
	return buf.String(), err
}

// The six end-to-end scenarios from spec.md §8, literally.

func TestEndToEndArithmeticPrint(t *testing.T) {
	out, err := runProgram(t, "print(2 + 3);")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "5\n" {
		t.Fatalf("output = %q, want %q", out, "5\n")
	}
}

func TestEndToEndArraySizeof(t *testing.T) {
	out, err := runProgram(t, "var a = [1, 2, 3]; print(sizeof(a));")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "3\n" {
		t.Fatalf("output = %q, want %q", out, "3\n")
	}
}

func TestEndToEndFunctionCall(t *testing.T) {
	out, err := runProgram(t, "var f = fn (x) { return x * x; }; print(f(7));")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "49\n" {
		t.Fatalf("output = %q, want %q", out, "49\n")
	}
}

func TestEndToEndUpvalueCapture(t *testing.T) {
	out, err := runProgram(t, "var c = fn(x) { return fn() { return x; }; }; print(c(42)());")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42\n" {
		t.Fatalf("output = %q, want %q", out, "42\n")
	}
}

func TestEndToEndUndefinedGlobalRuntimeError(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	var buf bytes.Buffer
	ctx.Stdout = &buf

	_, err := ctx.ExecString("nonexistent_global();")
	if err == nil {
		t.Fatal("expected a runtime error, got nil")
	}
	if ctx.GetErrType() != ErrRuntime {
		t.Fatalf("error kind = %s, want runtime", ctx.GetErrType())
	}
	trace := ctx.StackTrace()
	if len(trace) != 1 {
		t.Fatalf("stack trace = %v, want exactly one frame", trace)
	}
}

func TestEndToEndShebangStripped(t *testing.T) {
	src := "#!/usr/bin/env spn\nprint(1);"
	out, err := runProgram(t, string(StripShebang([]byte(src))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1\n" {
		t.Fatalf("output = %q, want %q", out, "1\n")
	}
}

func TestStripShebangNoShebangIsNoop(t *testing.T) {
	src := []byte("print(1);")
	if got := StripShebang(src); string(got) != string(src) {
		t.Fatalf("StripShebang altered a shebang-less source: %q", got)
	}
}

func TestStripShebangAcceptsBareCR(t *testing.T) {
	src := []byte("#!/usr/bin/env spn\rprint(1);")
	got := StripShebang(src)
	if string(got) != "print(1);" {
		t.Fatalf("got %q", got)
	}
}

func TestUndefinedGlobalErrorMessageSurvives(t *testing.T) {
	_, err := runProgram(t, "nonexistent_global();")
	if err == nil || !strings.Contains(err.Error(), "nonexistent_global") {
		t.Fatalf("error %v does not name the missing global", err)
	}
}

func TestWhileLoopAndIncDec(t *testing.T) {
	src := `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i++;
		}
		print(sum);
	`
	out, err := runProgram(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "10\n" {
		t.Fatalf("output = %q, want %q", out, "10\n")
	}
}

func TestIfElseBranches(t *testing.T) {
	out, err := runProgram(t, `
		var x = 4;
		if (x > 10) {
			print("big");
		} else if (x > 2) {
			print("medium");
		} else {
			print("small");
		}
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "medium\n" {
		t.Fatalf("output = %q, want %q", out, "medium\n")
	}
}

func TestIntDivStaysIntOnExactDivision(t *testing.T) {
	out, err := runProgram(t, "print(10 / 2);")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "5\n" {
		t.Fatalf("output = %q, want %q (int DIV should stay int on exact division)", out, "5\n")
	}
}

func TestIntDivPromotesToFloatOnRemainder(t *testing.T) {
	out, err := runProgram(t, "print(7 / 2);")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "3.5\n" {
		t.Fatalf("output = %q, want %q (int DIV should promote on remainder)", out, "3.5\n")
	}
}

func TestForceFloatDivOverridesExactDivision(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	var buf bytes.Buffer
	ctx.Stdout = &buf
	ctx.ForceFloatDiv = true

	if _, err := ctx.ExecString("print(10 / 2);"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10/2 is exact, so ForceFloatDiv's only observable effect here is
	// that the result is a float; Value.String formats 5.0 the same as
	// the int 5, so the printed output is unchanged from the default.
	if buf.String() != "5\n" {
		t.Fatalf("output = %q, want %q", buf.String(), "5\n")
	}
}

func TestIntLiteralBeyondInt32RangeSurvives(t *testing.T) {
	out, err := runProgram(t, "print(5000000000);")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "5000000000\n" {
		t.Fatalf("output = %q, want %q", out, "5000000000\n")
	}
}

func TestModOnFloatIsRuntimeError(t *testing.T) {
	_, err := runProgram(t, "print(5.0 % 2);")
	if err == nil {
		t.Fatal("expected a runtime error for MOD on a float operand")
	}
}

func TestConcatRequiresStrings(t *testing.T) {
	_, err := runProgram(t, `print("a" + 1);`)
	if err == nil {
		t.Fatal("expected a runtime error: + is not string concatenation")
	}
}

func TestArrayIndexAssignment(t *testing.T) {
	out, err := runProgram(t, `
		var a = [1, 2, 3];
		a[1] = 99;
		print(a[1]);
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "99\n" {
		t.Fatalf("output = %q, want %q", out, "99\n")
	}
}

func TestNestedClosuresCaptureOuterUpvalue(t *testing.T) {
	// mid captures make's parameter y as a LOCAL upvalue; inner (nested
	// inside mid) must re-capture it from mid as an OUTER upvalue.
	src := `
		var make = fn(y) {
			var mid = fn() {
				var inner = fn() { return y; };
				return inner;
			};
			return mid();
		};
		print(make(17)());
	`
	out, err := runProgram(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "17\n" {
		t.Fatalf("output = %q, want %q", out, "17\n")
	}
}
