package core

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"golang.org/x/tools/go/packages"
)

const corePath = "cicdcopilot/internal/core"

var (
	corePkgOnce sync.Once
	corePkg     *packages.Package
	corePkgErr  error
)

func loadCorePackage(t *testing.T) *packages.Package {
	t.Helper()
	corePkgOnce.Do(func() {
		cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes | packages.NeedSyntax | packages.NeedFiles}
		pkgs, err := packages.Load(cfg, corePath)
		switch {
		case err != nil:
			corePkgErr = err
		case len(pkgs) != 1:
			corePkgErr = fmt.Errorf("expected one package, got %d", len(pkgs))
		case len(pkgs[0].Errors) > 0:
			corePkgErr = fmt.Errorf("package errors: %v", pkgs[0].Errors)
		default:
			corePkg = pkgs[0]
		}
	})
	if corePkgErr != nil {
		t.Fatalf("load %s: %v", corePath, corePkgErr)
	}
	return corePkg
}

func serviceType(t *testing.T, pkg *packages.Package) *types.Named {
	t.Helper()
	obj := pkg.Types.Scope().Lookup("Service")
	if obj == nil {
		t.Fatal("Service type not found")
	}
	named, ok := obj.Type().(*types.Named)
	if !ok {
		t.Fatalf("Service is %T, want a named type", obj.Type())
	}
	return named
}

// funcDecls indexes every function declaration by its name position.
func funcDecls(pkg *packages.Package) map[token.Pos]*ast.FuncDecl {
	out := make(map[token.Pos]*ast.FuncDecl)
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			if fn, ok := decl.(*ast.FuncDecl); ok && fn.Body != nil {
				out[fn.Name.Pos()] = fn
			}
		}
	}
	return out
}

func TestServiceStructContract(t *testing.T) {
	pkg := loadCorePackage(t)
	st, ok := serviceType(t, pkg).Underlying().(*types.Struct)
	if !ok {
		t.Fatal("Service is not a struct")
	}
	qualifier := func(p *types.Package) string { return p.Path() }
	fields := make(map[string]string, st.NumFields())
	for i := range st.NumFields() {
		f := st.Field(i)
		fields[f.Name()] = types.TypeString(f.Type(), qualifier)
	}

	required := map[string]string{
		"store":     "cicdcopilot/pkg/domain.PersistentStore",
		"engine":    "*cicdcopilot/pkg/domain.RulesEngine",
		"blobs":     "cicdcopilot/internal/blob.Store",
		"converter": "*cicdcopilot/internal/converter.Converter",
		"clock":     corePath + ".Clock",
		"logger":    "*go.uber.org/zap.Logger",
		"metrics":   corePath + ".MetricsRecorder",
		"tracer":    corePath + ".Tracer",
		"simulator": "*" + corePath + ".ExecutionSimulator",
	}
	var problems []string
	for name, want := range required {
		switch got, ok := fields[name]; {
		case !ok:
			problems = append(problems, "missing "+name)
		case got != want:
			problems = append(problems, fmt.Sprintf("%s is %s, want %s", name, got, want))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		t.Fatalf("Service fields drifted:\n%s", strings.Join(problems, "\n"))
	}
}

// Every exported method that reports a rules Result must open its
// transaction through s.run so tracing, metrics and rule logging apply.
func TestServiceTransactionalMethodsUseRun(t *testing.T) {
	pkg := loadCorePackage(t)
	named := serviceType(t, pkg)
	decls := funcDecls(pkg)
	var domainResult types.Type
	for _, imp := range pkg.Types.Imports() {
		if imp.Path() == "cicdcopilot/pkg/domain" {
			domainResult = imp.Scope().Lookup("Result").Type()
		}
	}
	if domainResult == nil {
		t.Fatal("core no longer imports domain.Result")
	}

	checked := 0
	var violations []string
	for i := range named.NumMethods() {
		m := named.Method(i)
		if !m.Exported() || !returns(m, domainResult) {
			continue
		}
		fn, ok := decls[m.Pos()]
		if !ok {
			t.Fatalf("no declaration for %s", m.Name())
		}
		checked++
		if !containsCall(fn.Body, receiverName(fn), "run") {
			pos := pkg.Fset.Position(fn.Pos())
			violations = append(violations, fmt.Sprintf("%s:%d %s", filepath.Base(pos.Filename), pos.Line, m.Name()))
		}
	}
	if checked == 0 {
		t.Fatal("found no transactional methods; the contract check is broken")
	}
	if len(violations) > 0 {
		t.Fatalf("methods returning Result must delegate to run:\n%s", strings.Join(violations, "\n"))
	}
}

func TestServiceWiringCalls(t *testing.T) {
	pkg := loadCorePackage(t)
	decls := funcDecls(pkg)
	byName := make(map[string]*ast.FuncDecl)
	for _, fn := range decls {
		key := fn.Name.Name
		if recv := receiverType(fn); recv != "" {
			key = recv + "." + key
		}
		byName[key] = fn
	}

	cases := []struct {
		fn, recv, call, why string
	}{
		{"NewService", "converter", "WithObserver", "conversion outcomes reach metrics"},
		{"NewService", "", "NewExecutionSimulator", "the execution simulator is constructed"},
		{"Service.StartExecution", "simulator", "Enqueue", "executions are handed to the simulator"},
		{"Service.GeneratedScript", "converter", "Convert", "scripts come from the observed converter"},
		{"Service.UpdateGeneratedScript", "converter", "SetOverride", "edits are stored as overrides"},
		{"Service.ResetGeneratedScript", "converter", "ClearOverride", "resets drop the override"},
	}
	for _, c := range cases {
		fn, ok := byName[c.fn]
		if !ok {
			t.Errorf("%s not found", c.fn)
			continue
		}
		if !containsCall(fn.Body, c.recv, c.call) {
			t.Errorf("%s must call %s.%s so %s", c.fn, c.recv, c.call, c.why)
		}
	}
}

func returns(m *types.Func, want types.Type) bool {
	sig, ok := m.Type().(*types.Signature)
	if !ok {
		return false
	}
	for i := range sig.Results().Len() {
		if types.Identical(sig.Results().At(i).Type(), want) {
			return true
		}
	}
	return false
}

func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 || len(fn.Recv.List[0].Names) == 0 {
		return ""
	}
	return fn.Recv.List[0].Names[0].Name
}

func receiverType(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if ident, ok := expr.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

// containsCall reports whether body calls recv.name, or a plain name when
// recv is empty. recv matches either a package identifier or a field selector.
func containsCall(body *ast.BlockStmt, recv, name string) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return !found
		}
		switch fun := call.Fun.(type) {
		case *ast.Ident:
			found = found || (recv == "" && fun.Name == name)
		case *ast.SelectorExpr:
			if recv == "" || fun.Sel.Name != name {
				break
			}
			switch x := fun.X.(type) {
			case *ast.Ident:
				found = found || x.Name == recv
			case *ast.SelectorExpr:
				found = found || x.Sel.Name == recv
			}
		}
		return !found
	})
	return found
}

// Core types are defined here, not re-exported from the infra packages.
func TestCoreDeclaresNoTypeAliases(t *testing.T) {
	pkg := loadCorePackage(t)
	scope := pkg.Types.Scope()
	var aliases []string
	for _, name := range scope.Names() {
		if tn, ok := scope.Lookup(name).(*types.TypeName); ok && tn.IsAlias() {
			aliases = append(aliases, pkg.Fset.Position(tn.Pos()).String()+" "+name)
		}
	}
	if len(aliases) > 0 {
		t.Fatalf("type aliases are not allowed in core:\n%s", strings.Join(aliases, "\n"))
	}
}
