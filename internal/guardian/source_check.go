package guardian

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// allowedImports is the stdlib surface a drop-in extension may use.
// Filesystem, network, and process access stay with the engine.
var allowedImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// CheckName validates a module name before registration.
func (g *Guardian) CheckName(name string) error {
	if name == "" {
		return errors.New("module name is empty")
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return fmt.Errorf("module name %q contains whitespace or path separators", name)
	}
	return nil
}

// CheckSource vets extension source before it reaches the interpreter.
// It must parse, import only whitelisted stdlib packages, reference no
// filesystem locations outside the allowed roots, and never mention the
// engine binary.
func (g *Guardian) CheckSource(src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "candidate.go", src, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !allowedImports[path] {
			return fmt.Errorf("forbidden import %q", path)
		}
	}

	var pathErr error
	ast.Inspect(file, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		v, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		if len(v) > 1 && strings.HasPrefix(v, "/") && !g.underAllowedRoot(v) {
			pathErr = fmt.Errorf("references %q outside allowed roots", v)
			return false
		}
		return true
	})
	if pathErr != nil {
		return pathErr
	}

	for i, line := range strings.Split(string(src), "\n") {
		if containsEngineRef(line) {
			return fmt.Errorf("line %d references the engine binary", i+1)
		}
	}
	return nil
}
