// Command spn is the thin driver around the sparkling core: a REPL,
// file runner, source-to-object compiler, disassembler, and AST dumper.
// Its own argument parsing and line editing are out of scope for
// conformance (spec.md §1/§6) - this only exists so the Context API has
// a real caller, in the shape of KTStephano-GVM's own single-file
// `main.go` driver.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aneeshusa/sparkling/sparkling"
)

var (
	flagHelp    = flag.Bool("h", false, "print usage and exit")
	flagExecute = flag.Bool("e", false, "treat remaining arguments as source strings to execute")
	flagCompile = flag.Bool("c", false, "compile source file(s) to object file(s)")
	flagDisasm  = flag.Bool("d", false, "disassemble object file(s)")
	flagDumpAST = flag.Bool("a", false, "dump the parsed AST of source file(s)")

	flagPrintNil = flag.Bool("n", false, "REPL: print nil results")
	flagPrintRet = flag.Bool("t", false, "-e: print each result")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *flagHelp {
		printUsage()
		return 0
	}

	nCommands := 0
	for _, b := range []bool{*flagExecute, *flagCompile, *flagDisasm, *flagDumpAST} {
		if b {
			nCommands++
		}
	}
	if nCommands > 1 {
		fmt.Fprintln(os.Stderr, "spn: -e, -c, -d, and -a are mutually exclusive")
		return 1
	}

	args := flag.Args()

	switch {
	case *flagExecute:
		return runExecute(args)
	case *flagCompile:
		return runCompile(args)
	case *flagDisasm:
		return runDisasm(args)
	case *flagDumpAST:
		return runDumpAST(args)
	case len(args) == 0:
		return runREPL()
	default:
		return runFiles(args)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: spn [-h] [-e|-c|-d|-a] [-n] [-t] [file ...]")
	flag.PrintDefaults()
}

// runExecute treats every remaining argument as a literal source string
// (spec.md §7's `-e/--execute`).
func runExecute(sources []string) int {
	ctx := sparkling.NewContext()
	defer ctx.Close()

	status := 0
	for _, src := range sources {
		result, err := ctx.ExecString(src)
		if err != nil {
			printError(ctx, err)
			status = 1
			continue
		}
		if *flagPrintRet {
			fmt.Println(result.String())
		}
	}
	return status
}

// runFiles runs each argument per its extension: `.spn` source, `.spo`
// pre-compiled object (spec.md §6).
func runFiles(paths []string) int {
	ctx := sparkling.NewContext()
	defer ctx.Close()

	status := 0
	for _, path := range paths {
		var (
			fn  *sparkling.Function
			err error
		)
		if strings.EqualFold(filepath.Ext(path), ".spo") {
			fn, err = ctx.LoadObjectFile(path)
		} else {
			fn, err = ctx.LoadSourceFile(path)
		}
		if err != nil {
			printError(ctx, err)
			status = 1
			continue
		}
		if _, err := ctx.CallFunc(fn); err != nil {
			printError(ctx, err)
			status = 1
		}
	}
	return status
}

// runCompile writes a `.spo` object file for each `.spn` source given.
func runCompile(paths []string) int {
	status := 0
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		image, err := sparkling.Compile(string(sparkling.StripShebang(src)), path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".spo"
		if err := os.WriteFile(out, sparkling.WriteObjectImage(image), 0644); err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
		}
	}
	return status
}

// runDisasm prints a disassembly listing for each object file given.
func runDisasm(paths []string) int {
	status := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		image, err := sparkling.ReadObjectImage(data)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		text, err := sparkling.Disassemble(image, path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
		}
		fmt.Print(text)
	}
	return status
}

// runDumpAST prints each source file's parsed top-level statement count
// and a one-line-per-statement summary; a full pretty-printer is beyond
// what this core's conformance burden requires.
func runDumpAST(paths []string) int {
	status := 0
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		stmts, err := sparkling.DumpAST(string(sparkling.StripShebang(src)))
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", err)
			status = 1
			continue
		}
		fmt.Printf("; %s: %d top-level statement(s)\n", path, len(stmts))
		for i, s := range stmts {
			fmt.Printf("%4d: %s\n", i, stmtKind(s))
		}
	}
	return status
}

// runREPL implements spec.md §7's two-attempt parse: first try the
// input as a statement; on failure, retain that message but try again
// as a bare expression, since runtime errors from a successful parse
// always supersede the stored one.
func runREPL() int {
	ctx := sparkling.NewContext()
	defer ctx.Close()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			fmt.Print("> ")
			continue
		}

		fn, err := ctx.LoadString(line)
		firstErr := err
		if err != nil {
			fn, err = ctx.CompileExpr(line)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "spn:", firstErr)
			fmt.Print("> ")
			continue
		}

		result, err := ctx.CallFunc(fn)
		if err != nil {
			printError(ctx, err)
		} else if *flagPrintNil || !result.IsNil() {
			fmt.Println(result.String())
		}
		fmt.Print("> ")
	}
	fmt.Println()
	return 0
}

// stmtKind gives a short, human-readable label for one top-level AST
// node; a full pretty-printer is beyond what -a needs to demonstrate.
func stmtKind(s any) string {
	full := fmt.Sprintf("%T", s)
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[i+1:]
	}
	return full
}

func printError(ctx *sparkling.Context, err error) {
	fmt.Fprintln(os.Stderr, "spn:", err)
	if ctx.GetErrType() == sparkling.ErrRuntime {
		for _, frame := range ctx.StackTrace() {
			fmt.Fprintln(os.Stderr, "\tat", frame)
		}
	}
}
