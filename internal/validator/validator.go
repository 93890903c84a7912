// Package validator runs the static checks that gate candidate changes
// before deployment.
package validator

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/ast/inspector"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// Check names as they appear in validation results and feedback prompts.
const (
	CheckSyntax            = "syntax"
	CheckImports           = "imports"
	CheckTypeConsistency   = "type_consistency"
	CheckDangerousPatterns = "dangerous_patterns"
	CheckComplexity        = "complexity"
	CheckTestCoverage      = "test_coverage"
)

// Patterns a candidate must never introduce.
var dangerousPatterns = []*regexp.Regexp{
	// String-built SQL.
	regexp.MustCompile(`(?i)(query|exec)\w*\(\s*["` + "`" + `][^"` + "`" + `]*(select|insert|update|delete)[^"` + "`" + `]*["` + "`" + `]\s*\+`),
	regexp.MustCompile(`(?i)fmt\.sprintf\(\s*["` + "`" + `][^"` + "`" + `]*(select|insert|update|delete)[^"` + "`" + `]*%[sv]`),
	// Shelling out with interpolated input.
	regexp.MustCompile(`exec\.Command\([^)]*\+`),
	// Unsafe deserialization targets.
	regexp.MustCompile(`(?i)unsafe\.Pointer`),
	// Hard-coded credentials.
	regexp.MustCompile(`(?i)(password|passwd|api_?key|secret|token)\s*[:=]+\s*"[^"]{8,}"`),
}

// Validator runs all six checks over a candidate change. Stateless and
// deterministic: the same change always yields the same verdict.
type Validator struct {
	cfg    config.ValidatorConfig
	logger *zap.Logger
}

// NewValidator builds a validator.
func NewValidator(cfg config.ValidatorConfig, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger.Named("validator")}
}

// Validate returns nil when every check passes, otherwise a
// *schemas.ValidationError naming each failing check exactly once.
func (v *Validator) Validate(change schemas.CandidateChange) error {
	parsed, syntaxOK := parseAll(change.Files)

	failed := make(map[string]bool)
	if !syntaxOK {
		failed[CheckSyntax] = true
	}
	if !v.checkImports(parsed) {
		failed[CheckImports] = true
	}
	if !checkTypeConsistency(parsed) {
		failed[CheckTypeConsistency] = true
	}
	if !checkDangerousPatterns(change.Files) {
		failed[CheckDangerousPatterns] = true
	}
	if !v.checkComplexity(parsed) {
		failed[CheckComplexity] = true
	}
	if !v.checkTestCoverage(parsed) {
		failed[CheckTestCoverage] = true
	}

	if len(failed) == 0 {
		v.logger.Debug("Candidate passed validation", zap.String("opportunity_id", change.OpportunityID))
		return nil
	}

	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	v.logger.Info("Candidate failed validation",
		zap.String("opportunity_id", change.OpportunityID),
		zap.Strings("failed_checks", names))
	return &schemas.ValidationError{FailedChecks: names}
}

type parsedFile struct {
	path string
	file *ast.File
}

// parseAll parses every .go file. Returns the successfully parsed files and
// whether all of them parsed.
func parseAll(files map[string]string) ([]parsedFile, bool) {
	ok := true
	var parsed []parsedFile
	for path, content := range files {
		if !strings.HasSuffix(path, ".go") {
			continue
		}
		fset := token.NewFileSet()
		f, err := parser.ParseFile(fset, path, content, parser.ParseComments)
		if err != nil {
			ok = false
			continue
		}
		parsed = append(parsed, parsedFile{path: path, file: f})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].path < parsed[j].path })
	return parsed, ok
}

// checkImports verifies each import is either standard library or under one
// of the configured project import prefixes. With no configured prefixes
// only the stdlib check applies to dotted paths.
func (v *Validator) checkImports(parsed []parsedFile) bool {
	for _, pf := range parsed {
		for _, imp := range pf.file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return false
			}
			if isStdlibPath(path) {
				continue
			}
			if len(v.cfg.ProjectImports) == 0 {
				continue
			}
			allowed := false
			for _, prefix := range v.cfg.ProjectImports {
				if path == prefix || strings.HasPrefix(path, prefix+"/") {
					allowed = true
					break
				}
			}
			if !allowed {
				return false
			}
		}
	}
	return true
}

// isStdlibPath treats any dotless first segment as standard library.
func isStdlibPath(path string) bool {
	first := path
	if i := strings.Index(path, "/"); i >= 0 {
		first = path[:i]
	}
	return !strings.Contains(first, ".")
}

// checkTypeConsistency is a structural heuristic: every function declaring
// results must actually return on some path, and named results must not
// shadow the function's own name.
func checkTypeConsistency(parsed []parsedFile) bool {
	files := make([]*ast.File, len(parsed))
	for i, pf := range parsed {
		files[i] = pf.file
	}

	ok := true
	inspector.New(files).Preorder([]ast.Node{(*ast.FuncDecl)(nil)}, func(n ast.Node) {
		fn := n.(*ast.FuncDecl)
		if fn.Body == nil || fn.Type.Results == nil || len(fn.Type.Results.List) == 0 {
			return
		}
		if !terminates(fn.Body) {
			ok = false
		}
	})
	return ok
}

// terminates reports whether a block ends in a return or panic, directly or
// through an exhaustive if/else or switch.
func terminates(block *ast.BlockStmt) bool {
	if len(block.List) == 0 {
		return false
	}
	switch last := block.List[len(block.List)-1].(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.ExprStmt:
		if call, ok := last.X.(*ast.CallExpr); ok {
			if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				return true
			}
		}
		return false
	case *ast.IfStmt:
		if last.Else == nil {
			return false
		}
		elseBlock, ok := last.Else.(*ast.BlockStmt)
		if !ok {
			if elseIf, isIf := last.Else.(*ast.IfStmt); isIf {
				return terminates(last.Body) && terminates(&ast.BlockStmt{List: []ast.Stmt{elseIf}})
			}
			return false
		}
		return terminates(last.Body) && terminates(elseBlock)
	case *ast.SwitchStmt:
		return switchTerminates(last.Body)
	case *ast.TypeSwitchStmt:
		return switchTerminates(last.Body)
	case *ast.ForStmt:
		// An unconditional for loop never falls through.
		return last.Cond == nil
	default:
		return false
	}
}

func switchTerminates(body *ast.BlockStmt) bool {
	hasDefault := false
	for _, stmt := range body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			return false
		}
		if clause.List == nil {
			hasDefault = true
		}
		if !terminates(&ast.BlockStmt{List: clause.Body}) {
			return false
		}
	}
	return hasDefault
}

func checkDangerousPatterns(files map[string]string) bool {
	for _, content := range files {
		for _, re := range dangerousPatterns {
			if re.MatchString(content) {
				return false
			}
		}
	}
	return true
}

// checkComplexity enforces the per-function cyclomatic ceiling.
func (v *Validator) checkComplexity(parsed []parsedFile) bool {
	limit := v.cfg.MaxComplexity
	if limit <= 0 {
		limit = 10
	}
	for _, pf := range parsed {
		for _, decl := range pf.file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Body == nil {
				continue
			}
			if cyclomatic(fn) > limit {
				return false
			}
		}
	}
	return true
}

// cyclomatic counts decision points plus one.
func cyclomatic(fn *ast.FuncDecl) int {
	complexity := 1
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt, *ast.CaseClause, *ast.CommClause:
			complexity++
		case *ast.BinaryExpr:
			if node.Op == token.LAND || node.Op == token.LOR {
				complexity++
			}
		}
		return true
	})
	return complexity
}

// checkTestCoverage estimates coverage as the share of functions in non-test
// files that are referenced from a test file. A change with no functions
// passes; a change with functions and no tests fails.
func (v *Validator) checkTestCoverage(parsed []parsedFile) bool {
	minCoverage := v.cfg.MinCoverage
	if minCoverage <= 0 {
		minCoverage = 0.8
	}

	var subjectFuncs []string
	var testFiles []*ast.File

	for _, pf := range parsed {
		if strings.HasSuffix(pf.path, "_test.go") {
			testFiles = append(testFiles, pf.file)
			continue
		}
		for _, decl := range pf.file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			if fn.Name.Name == "init" || fn.Name.Name == "main" {
				continue
			}
			subjectFuncs = append(subjectFuncs, fn.Name.Name)
		}
	}

	testRefs := make(map[string]bool)
	inspector.New(testFiles).Preorder([]ast.Node{(*ast.Ident)(nil)}, func(n ast.Node) {
		testRefs[n.(*ast.Ident).Name] = true
	})

	if len(subjectFuncs) == 0 {
		return true
	}

	covered := 0
	for _, name := range subjectFuncs {
		if testRefs[name] {
			covered++
		}
	}
	return float64(covered)/float64(len(subjectFuncs)) >= minCoverage
}
