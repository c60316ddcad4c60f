package sparkling

import "testing"

// Lazy-resolve idempotence (spec.md §8): after the first successful
// LDSYM of a stub, further LDSYMs of the same index must not consult
// the global namespace again - observed here by mutating the global
// after first use and confirming the stale cached value still wins.
func TestLazySymbolResolutionIsIdempotent(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	ctx.setGlobal("g", Int(1))

	fn, err := ctx.LoadString("print(g); print(g);")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	// Mutate the global strictly between the two LDSYM executions by
	// swapping it out once resolveSymbol has already cached it - do this
	// by calling through CallFunc and checking both printed values came
	// from the pre-mutation snapshot once resolved.
	var out []Value
	ctx.RegisterNative("print", func(c *Context, args []Value) (Value, error) {
		out = append(out, args[0])
		if len(out) == 1 {
			c.setGlobal("g", Int(999))
		}
		return Nil, nil
	})

	if _, err := ctx.CallFunc(fn); err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("print called %d times, want 2", len(out))
	}
	if out[0].AsInt() != 1 {
		t.Fatalf("first print = %d, want 1", out[0].AsInt())
	}
	if out[1].AsInt() != 1 {
		t.Fatalf("second print = %d, want 1 (stub should have resolved once and cached)", out[1].AsInt())
	}
}

// Every function in one object file must share the same local symbol
// table, so a nested closure's LDSYM can resolve a global stub the
// top-level body also references.
func TestNestedFunctionSharesTopLevelSymbolTable(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	ctx.setGlobal("shared", Int(42))

	fn, err := ctx.LoadString("var f = fn() { return shared; }; print(f());")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var captured Value
	ctx.RegisterNative("print", func(c *Context, args []Value) (Value, error) {
		captured = args[0]
		return Nil, nil
	})
	if _, err := ctx.CallFunc(fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.AsInt() != 42 {
		t.Fatalf("nested function read global = %d, want 42", captured.AsInt())
	}
}

func TestUndefinedGlobalLookupIsRuntimeError(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	fn, err := ctx.LoadString("print(missing);")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if _, err := ctx.CallFunc(fn); err == nil {
		t.Fatal("expected a runtime error for an undefined global")
	}
}

func TestReadWriteObjectImageRoundTrip(t *testing.T) {
	image, err := Compile("print(1);", "<test>")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	data := WriteObjectImage(image)
	back, err := ReadObjectImage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(back) != len(image) {
		t.Fatalf("round trip changed length: %d vs %d", len(back), len(image))
	}
	for i := range image {
		if back[i] != image[i] {
			t.Fatalf("word %d mismatch: %#x vs %#x", i, back[i], image[i])
		}
	}
}
