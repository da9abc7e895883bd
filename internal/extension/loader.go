// Package extension loads drop-in capability files with the yaegi
// interpreter. A file declares plain top-level functions; the loader
// asserts their signatures and wraps them in adapters satisfying the
// capability interfaces. Interpreted code sees only stdlib symbols and
// has no access to the filesystem, network, or process table beyond what
// the import whitelist admits.
package extension

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"piebrain/internal/capability"
)

// LoadLocal evaluates src as a local capability. Required declarations:
//
//	func Name() string
//	func Run(params map[string]string) (string, error)
//	func Command(params map[string]string) (string, error)
//
// Run returns the Markdown body of the artifact; the adapter persists it.
func LoadLocal(src []byte) (capability.Local, error) {
	i, pkg, err := evalSource(src)
	if err != nil {
		return nil, err
	}

	nameFn, err := symbolFunc(i, pkg, "Name")
	if err != nil {
		return nil, err
	}
	run, err := symbolParamsFunc(i, pkg, "Run")
	if err != nil {
		return nil, err
	}
	command, err := symbolParamsFunc(i, pkg, "Command")
	if err != nil {
		return nil, err
	}

	name := nameFn()
	if name == "" {
		return nil, errors.New("Name() returned an empty string")
	}
	return &localExt{name: name, run: run, command: command}, nil
}

// LoadAgent evaluates src as an external agent. Required declarations:
//
//	func Name() string
//	func Command(capability string, params map[string]string) (string, error)
func LoadAgent(src []byte) (capability.ExternalAgent, error) {
	i, pkg, err := evalSource(src)
	if err != nil {
		return nil, err
	}

	nameFn, err := symbolFunc(i, pkg, "Name")
	if err != nil {
		return nil, err
	}
	v, err := i.Eval(pkg + ".Command")
	if err != nil {
		return nil, fmt.Errorf("Command not declared: %w", err)
	}
	command, ok := v.Interface().(func(string, map[string]string) (string, error))
	if !ok {
		return nil, errors.New("Command has the wrong signature, want func(string, map[string]string) (string, error)")
	}

	name := nameFn()
	if name == "" {
		return nil, errors.New("Name() returned an empty string")
	}
	return &agentExt{name: name, command: command}, nil
}

// evalSource parses src for its package name and evaluates it in a fresh
// interpreter loaded with stdlib symbols.
func evalSource(src []byte) (*interp.Interpreter, string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "extension.go", src, 0)
	if err != nil {
		return nil, "", fmt.Errorf("parse: %w", err)
	}
	pkg := file.Name.Name

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, "", fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, "", fmt.Errorf("evaluate: %w", err)
	}
	return i, pkg, nil
}

func symbolFunc(i *interp.Interpreter, pkg, name string) (func() string, error) {
	v, err := i.Eval(pkg + "." + name)
	if err != nil {
		return nil, fmt.Errorf("%s not declared: %w", name, err)
	}
	fn, ok := v.Interface().(func() string)
	if !ok {
		return nil, fmt.Errorf("%s has the wrong signature, want func() string", name)
	}
	return fn, nil
}

func symbolParamsFunc(i *interp.Interpreter, pkg, name string) (func(map[string]string) (string, error), error) {
	v, err := i.Eval(pkg + "." + name)
	if err != nil {
		return nil, fmt.Errorf("%s not declared: %w", name, err)
	}
	fn, ok := v.Interface().(func(map[string]string) (string, error))
	if !ok {
		return nil, fmt.Errorf("%s has the wrong signature, want func(map[string]string) (string, error)", name)
	}
	return fn, nil
}

// localExt adapts interpreted functions to the local capability contract.
type localExt struct {
	name    string
	run     func(map[string]string) (string, error)
	command func(map[string]string) (string, error)
}

func (e *localExt) Name() string { return e.name }

// Run executes the interpreted function on its own goroutine so a stuck
// extension honors ctx instead of wedging a worker, then persists the
// returned Markdown through the artifact writer.
func (e *localExt) Run(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("extension panicked: %v", r)}
			}
		}()
		out, err := e.run(params)
		ch <- result{out: out, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", &capability.ToolExecutionError{Tool: e.name, Err: res.err}
		}
		path, err := artifacts.Write(e.name, res.out)
		if err != nil {
			return "", &capability.ToolExecutionError{Tool: e.name, Err: err}
		}
		return path, nil
	case <-ctx.Done():
		return "", &capability.ToolExecutionError{Tool: e.name, Err: ctx.Err()}
	}
}

func (e *localExt) Command(params map[string]string) (cmd string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extension panicked: %v", r)
		}
	}()
	return e.command(params)
}

// agentExt adapts interpreted functions to the external-agent contract.
type agentExt struct {
	name    string
	command func(string, map[string]string) (string, error)
}

func (e *agentExt) Name() string { return e.name }

func (e *agentExt) Command(capabilityName string, params map[string]string) (cmd string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extension panicked: %v", r)
		}
	}()
	return e.command(capabilityName, params)
}
