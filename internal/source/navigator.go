// Package source maps compiled methods and instructions back to the Java
// source they were compiled from, using a tree-sitter Java grammar. It backs
// "jump to" navigation; results are best effort and a missing source file
// yields no element rather than an error.
package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Element is a navigable source location. Lines and columns are 1-based.
type Element struct {
	File    string `json:"file" yaml:"file"`
	Kind    string `json:"kind" yaml:"kind"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Line    int    `json:"line" yaml:"line"`
	Column  int    `json:"column" yaml:"column"`
	EndLine int    `json:"end_line" yaml:"end_line"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Element kinds.
const (
	KindClass       = "class"
	KindMethod      = "method"
	KindConstructor = "constructor"
	KindCall        = "call"
	KindField       = "field"
	KindNew         = "new"
	KindStatement   = "statement"
	KindLine        = "line"
	KindInsn        = "insn"
)

const methodQuery = `
(method_declaration name: (identifier) @name parameters: (formal_parameters) @params) @decl
(constructor_declaration name: (identifier) @name parameters: (formal_parameters) @params) @decl
`

// Navigator resolves elements from a Provider, caching parsed trees by file
// until the file's content changes. Safe for concurrent use.
type Navigator struct {
	provider Provider
	logger   *zap.Logger

	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error

	mu    sync.Mutex
	files map[string]*parsedFile
}

type parsedFile struct {
	// Guards tree access; go-tree-sitter node wrappers are not goroutine safe.
	mu   sync.Mutex
	hash [sha256.Size]byte
	src  []byte
	tree *sitter.Tree
}

// NewNavigator creates a Navigator over provider.
func NewNavigator(provider Provider, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{provider: provider, logger: logger, files: make(map[string]*parsedFile)}
}

// MethodElement returns the declaration of m in cls's source, or nil when
// the source or declaration cannot be found.
func (n *Navigator) MethodElement(ctx context.Context, cls *bytecode.ClassNode, m *bytecode.MethodNode) (*Element, error) {
	pf, file, err := n.load(ctx, cls)
	if err != nil || pf == nil {
		return nil, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()

	decl, err := n.findMethod(pf, cls, m)
	if err != nil || decl == nil {
		return nil, err
	}
	kind := KindMethod
	switch {
	case decl.Type() == "constructor_declaration":
		kind = KindConstructor
	case typeDecls[decl.Type()]:
		kind = KindClass
	}
	el := elementFor(file, kind, decl, pf.src)
	if name := decl.ChildByFieldName("name"); name != nil {
		el.Name = name.Content(pf.src)
	}
	return el, nil
}

// InstructionElement returns the source construct insn was compiled from:
// the call, field access or allocation on insn's line when one matches its
// operands, otherwise the first statement on that line. It falls back to the
// method declaration when the method has no line information.
func (n *Navigator) InstructionElement(ctx context.Context, cls *bytecode.ClassNode, m *bytecode.MethodNode, insn *bytecode.Insn) (*Element, error) {
	if !m.Contains(insn) {
		return nil, fmt.Errorf("source: instruction %s does not belong to %s%s", insn, m.Name, m.Desc)
	}
	line := m.LineFor(insn)
	if line == 0 {
		return n.MethodElement(ctx, cls, m)
	}

	pf, file, err := n.load(ctx, cls)
	if err != nil || pf == nil {
		return nil, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()

	scope := pf.tree.RootNode()
	if decl, err := n.findMethod(pf, cls, m); err != nil {
		return nil, err
	} else if decl != nil {
		scope = decl
	}

	var best, stmt *sitter.Node
	walk(scope, func(node *sitter.Node) bool {
		if int(node.StartPoint().Row)+1 != line {
			return true
		}
		if best == nil && operandMatch(node, insn, pf.src) {
			best = node
		}
		if stmt == nil && isStatement(node.Type()) {
			stmt = node
		}
		return best == nil
	})

	switch {
	case best != nil:
		el := elementFor(file, kindForInsn(insn), best, pf.src)
		el.Name = insn.Name
		if insn.Op == bytecode.NEW {
			el.Name = insn.Type
		}
		return el, nil
	case stmt != nil:
		return elementFor(file, KindStatement, stmt, pf.src), nil
	}
	return &Element{File: file, Kind: KindLine, Line: line, Column: 1, EndLine: line}, nil
}

// Fallback describes insn without source: the class source path, the
// instruction's line when known, and its textual form.
func Fallback(cls *bytecode.ClassNode, m *bytecode.MethodNode, insn *bytecode.Insn) Element {
	line := m.LineFor(insn)
	return Element{
		File:    SourcePath(cls),
		Kind:    KindInsn,
		Name:    m.Name + m.Desc + "#" + strconv.Itoa(insn.Index()),
		Line:    line,
		EndLine: line,
		Text:    insn.String(),
	}
}

// load returns the parsed tree for cls's source, reparsing only when the
// content hash differs from the cached copy.
func (n *Navigator) load(ctx context.Context, cls *bytecode.ClassNode) (*parsedFile, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	file, src, ok, err := n.provider.SourceFor(cls)
	if err != nil {
		return nil, file, err
	}
	if !ok {
		n.logger.Debug("no source for class", zap.String("class", cls.Name), zap.String("file", file))
		return nil, file, nil
	}

	hash := sha256.Sum256(src)
	n.mu.Lock()
	pf, cached := n.files[file]
	n.mu.Unlock()
	if cached && pf.hash == hash {
		return pf, file, nil
	}

	langName, ok := LanguageForFile(file)
	if !ok {
		return nil, file, fmt.Errorf("source: unsupported file %s", file)
	}
	lang, _ := ParserForLanguage(langName)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, file, fmt.Errorf("source: parse %s: %w", file, err)
	}

	pf = &parsedFile{hash: hash, src: src, tree: tree}
	n.mu.Lock()
	n.files[file] = pf
	n.mu.Unlock()
	return pf, file, nil
}

func (n *Navigator) methodQuery() (*sitter.Query, error) {
	n.queryOnce.Do(func() {
		lang, _ := ParserForLanguage("java")
		n.query, n.queryErr = sitter.NewQuery([]byte(methodQuery), lang)
	})
	return n.query, n.queryErr
}

// findMethod picks the declaration of m inside cls. Candidates must carry
// the method's name (the simple class name for constructors) and sit in the
// class's nesting chain. Among those, a matching parameter count and a body
// spanning the method's first line rank higher; ties keep source order.
func (n *Navigator) findMethod(pf *parsedFile, cls *bytecode.ClassNode, m *bytecode.MethodNode) (*sitter.Node, error) {
	q, err := n.methodQuery()
	if err != nil {
		return nil, fmt.Errorf("source: method query: %w", err)
	}

	chain := classChain(cls.Name)
	if m.Name == "<clinit>" {
		return findClass(pf.tree.RootNode(), chain, pf.src), nil
	}
	want := m.Name
	if want == "<init>" && len(chain) > 0 {
		want = chain[len(chain)-1]
	}
	params := -1
	if ps, _, err := bytecode.ParseMethodDesc(m.Desc); err == nil {
		params = len(ps)
	}
	first := m.FirstLine()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, pf.tree.RootNode())

	var best *sitter.Node
	bestScore := -1
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		var decl, name, formals *sitter.Node
		for _, c := range match.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "decl":
				decl = c.Node
			case "name":
				name = c.Node
			case "params":
				formals = c.Node
			}
		}
		if decl == nil || name == nil || name.Content(pf.src) != want {
			continue
		}
		if !chainMatches(enclosingClasses(decl, pf.src), chain) {
			continue
		}
		score := 0
		if params >= 0 && countParams(formals) == params {
			score += 2
		}
		if first > 0 && int(decl.StartPoint().Row)+1 <= first && first <= int(decl.EndPoint().Row)+1 {
			score++
		}
		if score > bestScore {
			best, bestScore = decl, score
		}
	}
	return best, nil
}

// classChain splits an internal name into its nesting chain:
// com/example/Outer$Inner → [Outer Inner].
func classChain(internal string) []string {
	simple := internal[strings.LastIndexByte(internal, '/')+1:]
	return strings.Split(simple, "$")
}

// chainMatches compares declared nesting against the binary name chain.
// Anonymous and local classes (numeric segments) stop the comparison.
func chainMatches(declared, chain []string) bool {
	for i, seg := range chain {
		if seg == "" || startsWithDigit(seg) {
			return len(declared) >= i
		}
		if i >= len(declared) || declared[i] != seg {
			return false
		}
	}
	return len(declared) == len(chain)
}

func startsWithDigit(s string) bool { return s != "" && s[0] >= '0' && s[0] <= '9' }

var typeDecls = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

// enclosingClasses returns the names of type declarations around node,
// outermost first.
func enclosingClasses(node *sitter.Node, src []byte) []string {
	var names []string
	for p := node.Parent(); p != nil; p = p.Parent() {
		if !typeDecls[p.Type()] {
			continue
		}
		if name := p.ChildByFieldName("name"); name != nil {
			names = append(names, name.Content(src))
		}
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

func findClass(root *sitter.Node, chain []string, src []byte) *sitter.Node {
	var found *sitter.Node
	walk(root, func(node *sitter.Node) bool {
		if found != nil {
			return false
		}
		if name := node.ChildByFieldName("name"); name != nil && typeDecls[node.Type()] {
			names := append(enclosingClasses(node, src), name.Content(src))
			if chainMatches(names, chain) {
				found = node
				return false
			}
		}
		return true
	})
	return found
}

func countParams(formals *sitter.Node) int {
	if formals == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(formals.NamedChildCount()); i++ {
		switch formals.NamedChild(i).Type() {
		case "formal_parameter", "spread_parameter":
			n++
		}
	}
	return n
}

// operandMatch reports whether node is the source construct for insn.
func operandMatch(node *sitter.Node, insn *bytecode.Insn, src []byte) bool {
	switch {
	case insn.Op.IsInvoke() && insn.Name == "<init>":
		return node.Type() == "object_creation_expression" || node.Type() == "explicit_constructor_invocation"
	case insn.Op.IsInvoke():
		return node.Type() == "method_invocation" && fieldText(node, "name", src) == insn.Name
	case insn.Op.IsFieldAccess():
		switch node.Type() {
		case "field_access":
			return fieldText(node, "field", src) == insn.Name
		case "identifier":
			return node.Content(src) == insn.Name
		}
	case insn.Op == bytecode.NEW:
		return node.Type() == "object_creation_expression"
	case insn.Op == bytecode.ANEWARRAY || insn.Op == bytecode.NEWARRAY:
		return node.Type() == "array_creation_expression"
	}
	return false
}

func kindForInsn(insn *bytecode.Insn) string {
	switch {
	case insn.Op.IsInvoke() && insn.Name == "<init>", insn.Op == bytecode.NEW,
		insn.Op == bytecode.ANEWARRAY, insn.Op == bytecode.NEWARRAY:
		return KindNew
	case insn.Op.IsInvoke():
		return KindCall
	case insn.Op.IsFieldAccess():
		return KindField
	}
	return KindStatement
}

func isStatement(typ string) bool {
	return strings.HasSuffix(typ, "_statement") || typ == "local_variable_declaration"
}

func fieldText(node *sitter.Node, field string, src []byte) string {
	if c := node.ChildByFieldName(field); c != nil {
		return c.Content(src)
	}
	return ""
}

// walk visits node and its named descendants depth first, in source order.
// The walk stops as soon as visit returns false.
func walk(node *sitter.Node, visit func(*sitter.Node) bool) bool {
	if !visit(node) {
		return false
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if !walk(node.NamedChild(i), visit) {
			return false
		}
	}
	return true
}

func elementFor(file, kind string, node *sitter.Node, src []byte) *Element {
	text, _, _ := strings.Cut(node.Content(src), "\n")
	return &Element{
		File:    file,
		Kind:    kind,
		Line:    int(node.StartPoint().Row) + 1,
		Column:  int(node.StartPoint().Column) + 1,
		EndLine: int(node.EndPoint().Row) + 1,
		Text:    strings.TrimSpace(text),
	}
}
