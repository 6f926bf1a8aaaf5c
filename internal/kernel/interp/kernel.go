// Package interp provides a stateful Go kernel backed by the yaegi
// interpreter, and a kernel.Runtime that hosts such kernels in-process.
package interp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"reflect"
	"strings"
	"sync"
	"unicode"

	yaegi "github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/seantiz/kernelgate/internal/model"
)

// DisplayImportPath is the import path interpreted code uses to emit rich
// output, e.g. `import "display"; display.HTML("<b>hi</b>")`.
const DisplayImportPath = "display"

// Kernel is a stateful Go session whose declarations persist across
// executions. Executions are serialized.
//
// The interpreter cannot confirm that a cancelled evaluation has stopped:
// code blocked in a native call keeps running after EvalWithContext
// returns. A cancelled execution therefore retires its interpreter and the
// kernel continues on a fresh one, so abandoned code can neither write
// into later executions nor run alongside them.
type Kernel struct {
	mu     sync.Mutex
	inst   *instance
	closed bool
}

// instance is one interpreter together with the output path of the
// execution currently using it.
type instance struct {
	interp *yaegi.Interpreter

	emitMu sync.Mutex
	emit   func(model.Event)
}

// NewKernel creates a kernel with the full standard library and the display
// package available for import.
func NewKernel() (*Kernel, error) {
	inst, err := newInstance()
	if err != nil {
		return nil, err
	}
	return &Kernel{inst: inst}, nil
}

func newInstance() (*instance, error) {
	inst := &instance{}
	i := yaegi.New(yaegi.Options{
		Stdout: &streamWriter{inst: inst, channel: model.Stdout},
		Stderr: &streamWriter{inst: inst, channel: model.Stderr},
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(inst.displaySymbols()); err != nil {
		return nil, fmt.Errorf("load display symbols: %w", err)
	}
	inst.interp = i
	return inst, nil
}

// Execute evaluates code and reports what happened through emit, ending
// with exactly one model.ReplyEvent. Cancelling ctx aborts the evaluation
// and resets the kernel's state.
func (k *Kernel) Execute(ctx context.Context, code string, emit func(model.Event)) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		emit(model.ErrorEvent{Name: "KernelClosed", Message: "kernel has been shut down"})
		emit(model.ReplyEvent{Status: model.StatusError})
		return
	}
	if err := ctx.Err(); err != nil {
		emit(model.ErrorEvent{Name: "Interrupted", Message: err.Error()})
		emit(model.ReplyEvent{Status: model.StatusAborted})
		return
	}

	inst := k.inst
	inst.setEmitter(emit)

	// The interpreter cannot parse imports followed by statements in one
	// source, so a leading import block is evaluated on its own.
	imports, body := splitImports(code)
	var (
		v   reflect.Value
		err error
	)
	if imports != "" {
		_, err = inst.interp.EvalWithContext(ctx, imports)
	}
	if err == nil && strings.TrimSpace(body) != "" {
		v, err = inst.interp.EvalWithContext(ctx, body)
	}

	if err != nil && ctx.Err() != nil {
		inst.setEmitter(nil)
		msg := ctx.Err().Error() + "; kernel state was reset"
		if rerr := k.replaceInstance(); rerr != nil {
			msg += ", reset failed: " + rerr.Error()
		}
		emit(model.ErrorEvent{Name: "Interrupted", Message: msg})
		emit(model.ReplyEvent{Status: model.StatusAborted})
		return
	}
	defer inst.setEmitter(nil)

	switch {
	case err == nil:
		if echoes(code) && v.IsValid() && v.CanInterface() {
			inst.publish(model.ResultEvent{Value: v.Interface()})
		}
		inst.publish(model.ReplyEvent{Status: model.StatusOK})
	default:
		inst.publish(model.ErrorEvent{Name: errorName(err), Message: err.Error()})
		inst.publish(model.ReplyEvent{Status: model.StatusError})
	}
}

// replaceInstance retires the current interpreter. Callers hold k.mu. If a
// fresh interpreter cannot be built the kernel is closed.
func (k *Kernel) replaceInstance() error {
	inst, err := newInstance()
	if err != nil {
		k.closed = true
		return err
	}
	k.inst = inst
	return nil
}

// Close marks the kernel as shut down. Later executions fail.
func (k *Kernel) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
}

func (inst *instance) setEmitter(emit func(model.Event)) {
	inst.emitMu.Lock()
	defer inst.emitMu.Unlock()
	inst.emit = emit
}

// publish forwards ev to the current execution. Output produced by
// goroutines that outlive their execution is discarded.
func (inst *instance) publish(ev model.Event) {
	inst.emitMu.Lock()
	defer inst.emitMu.Unlock()
	if inst.emit != nil {
		inst.emit(ev)
	}
}

func (inst *instance) displaySymbols() yaegi.Exports {
	show := func(data map[string]any) {
		inst.publish(model.DisplayEvent{Bundle: model.NewDisplayBundle(data, nil)})
	}
	return yaegi.Exports{
		DisplayImportPath + "/display": {
			"PNG": reflect.ValueOf(func(b []byte) {
				show(map[string]any{
					model.MIMEPNG:       base64.StdEncoding.EncodeToString(b),
					model.MIMETextPlain: "<image/png>",
				})
			}),
			"HTML": reflect.ValueOf(func(s string) {
				show(map[string]any{model.MIMETextHTML: s, model.MIMETextPlain: s})
			}),
			"Markdown": reflect.ValueOf(func(s string) {
				show(map[string]any{model.MIMEMarkdown: s, model.MIMETextPlain: s})
			}),
			"Text": reflect.ValueOf(func(s string) {
				show(map[string]any{model.MIMETextPlain: s})
			}),
			"Bundle": reflect.ValueOf(func(data map[string]any) {
				show(data)
			}),
		},
	}
}

// streamWriter turns interpreter output into stream events.
type streamWriter struct {
	inst    *instance
	channel model.Channel
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.inst.publish(model.StreamEvent{Channel: w.channel, Text: string(p)})
	return len(p), nil
}

// splitImports separates the leading import declarations of a cell from the
// rest of its source. Blank lines and line comments before or between the
// imports stay with the import block.
func splitImports(code string) (imports, body string) {
	lines := strings.Split(code, "\n")
	end, inBlock, sawImport := 0, false, false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
			}
		case trimmed == "" || strings.HasPrefix(trimmed, "//"):
		case isImportLine(trimmed):
			sawImport = true
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "import"))
			if strings.HasPrefix(rest, "(") && !strings.Contains(rest, ")") {
				inBlock = true
			}
		default:
			if !sawImport {
				return "", code
			}
			return strings.Join(lines[:end], "\n"), strings.Join(lines[end:], "\n")
		}
		end = i + 1
	}
	if !sawImport {
		return "", code
	}
	return code, ""
}

func isImportLine(line string) bool {
	rest, ok := strings.CutPrefix(line, "import")
	return ok && rest != "" && strings.ContainsRune(" \t(\"", rune(rest[0]))
}

// echoes reports whether the value of the cell's last line should be shown
// as the execution result: the line must be an expression, and not a call
// to one of the print functions, whose output already went to a stream.
func echoes(code string) bool {
	lines := strings.Split(strings.TrimRightFunc(code, unicode.IsSpace), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return false
	}
	expr, err := parser.ParseExpr(last)
	if err != nil {
		return false
	}
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return true
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return true
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok {
		return true
	}
	switch pkg.Name {
	case "fmt", "log":
		return !strings.HasPrefix(sel.Sel.Name, "Print") && !strings.HasPrefix(sel.Sel.Name, "Fprint")
	case DisplayImportPath:
		return false
	}
	return true
}

// errorName derives a short exception-style name from the error's type.
func errorName(err error) string {
	var target interface{ Unwrap() error }
	for errors.As(err, &target) {
		inner := target.Unwrap()
		if inner == nil {
			break
		}
		err = inner
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return "Error"
	}
	return name
}
