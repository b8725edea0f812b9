package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// pythonBuiltins covers the call targets that belong to the language
// rather than to any module. Calls resolving here become edges to
// BuiltinFunction nodes instead of ExternalFunction nodes.
var pythonBuiltins = map[string]bool{
	"abs": true, "all": true, "any": true, "bool": true, "bytes": true,
	"callable": true, "dict": true, "dir": true, "enumerate": true,
	"filter": true, "float": true, "format": true, "frozenset": true,
	"getattr": true, "hasattr": true, "hash": true, "id": true,
	"input": true, "int": true, "isinstance": true, "issubclass": true,
	"iter": true, "len": true, "list": true, "map": true, "max": true,
	"min": true, "next": true, "object": true, "open": true, "ord": true,
	"print": true, "range": true, "repr": true, "reversed": true,
	"round": true, "set": true, "setattr": true, "sorted": true,
	"str": true, "sum": true, "super": true, "tuple": true, "type": true,
	"vars": true, "zip": true,
}

// pyExtractor walks a Python syntax tree and accumulates entities plus
// a file-local symbol table used afterwards to resolve calls and
// inheritance local-first.
type pyExtractor struct {
	src      []byte
	filePath string
	result   *Result

	// simple name -> qualified name, for definitions in this file
	localFuncs   map[string]string
	localClasses map[string]string

	// pending call and inheritance references, resolved after the
	// whole file has been walked
	calls    []pendingRef
	inherits []pendingRef
}

type pendingRef struct {
	fromKind Kind
	fromQN   string
	name     string
}

func extractPython(root *sitter.Node, src []byte, filePath string, result *Result) {
	ex := &pyExtractor{
		src:          src,
		filePath:     filePath,
		result:       result,
		localFuncs:   make(map[string]string),
		localClasses: make(map[string]string),
	}
	ex.walkModule(root)
	ex.resolveRefs()
}

func (ex *pyExtractor) walkModule(root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "import_statement", "import_from_statement":
			ex.processImport(child)
		case "class_definition":
			ex.processClass(child, nil, 0)
		case "function_definition":
			ex.processFunction(child, "", nil)
		case "decorated_definition":
			ex.processDecorated(child, "", 0)
		}
	}
}

// processDecorated unwraps @decorator definitions at module or class
// level and forwards to the class or function handler.
func (ex *pyExtractor) processDecorated(node *sitter.Node, className string, nesting int) {
	decorators := ex.decoratorNames(node)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "class_definition":
			ex.processClass(child, decorators, nesting)
		case "function_definition":
			ex.processFunction(child, className, decorators)
		}
	}
}

func (ex *pyExtractor) decoratorNames(node *sitter.Node) []string {
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			gc := child.Child(j)
			switch gc.Type() {
			case "identifier", "attribute":
				names = append(names, nodeText(gc, ex.src))
			case "call":
				if fn := gc.ChildByFieldName("function"); fn != nil {
					names = append(names, nodeText(fn, ex.src))
				}
			}
		}
	}
	return names
}

// processImport records one Module entity plus an IMPORTS edge from
// the file per imported module path.
func (ex *pyExtractor) processImport(node *sitter.Node) {
	add := func(modulePath string) {
		if modulePath == "" {
			return
		}
		ex.result.Entities = append(ex.result.Entities, Entity{
			Kind:          KindModule,
			QualifiedName: modulePath,
			SimpleName:    lastSegment(modulePath),
			FilePath:      ex.filePath,
			LineStart:     lineOf(node),
			LineEnd:       endLineOf(node),
		})
		ex.result.Relations = append(ex.result.Relations, Relation{
			Type:     "IMPORTS",
			FromKind: "File",
			FromQN:   ex.filePath,
			ToKind:   KindModule,
			ToQN:     modulePath,
		})
	}

	if node.Type() == "import_from_statement" {
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			add(nodeText(mod, ex.src))
		}
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			add(nodeText(child, ex.src))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				add(nodeText(name, ex.src))
			}
		}
	}
}

func (ex *pyExtractor) processClass(node *sitter.Node, decorators []string, nesting int) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, ex.src)
	qn := qualify(ex.filePath, name)

	var bases []string
	if args := node.ChildByFieldName("superclasses"); args != nil {
		for i := 0; i < int(args.ChildCount()); i++ {
			arg := args.Child(i)
			if arg.Type() == "identifier" || arg.Type() == "attribute" {
				bases = append(bases, nodeText(arg, ex.src))
			}
		}
	}

	entity := Entity{
		Kind:          KindClass,
		QualifiedName: qn,
		SimpleName:    name,
		FilePath:      ex.filePath,
		LineStart:     lineOf(node),
		LineEnd:       endLineOf(node),
		Decorators:    decorators,
		IsAbstract:    classIsAbstract(bases, decorators),
		IsException:   classIsException(name, bases),
		IsDataclass:   hasDecorator(decorators, "dataclass"),
		NestingLevel:  nesting,
	}
	ex.result.Entities = append(ex.result.Entities, entity)
	ex.localClasses[name] = qn
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "CONTAINS",
		FromKind: "File",
		FromQN:   ex.filePath,
		ToKind:   KindClass,
		ToQN:     qn,
	})

	for _, base := range bases {
		ex.inherits = append(ex.inherits, pendingRef{KindClass, qn, base})
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		switch child.Type() {
		case "function_definition":
			ex.processMethod(child, name, nil)
		case "decorated_definition":
			decs := ex.decoratorNames(child)
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "function_definition":
					ex.processMethod(gc, name, decs)
				case "class_definition":
					ex.processClass(gc, decs, nesting+1)
				}
			}
		case "class_definition":
			ex.processClass(child, nil, nesting+1)
		}
	}
}

func classIsAbstract(bases, decorators []string) bool {
	for _, b := range bases {
		if b == "ABC" || b == "ABCMeta" || strings.HasSuffix(b, ".ABC") || strings.HasSuffix(b, ".ABCMeta") {
			return true
		}
	}
	return hasDecorator(decorators, "abstractmethod")
}

func classIsException(name string, bases []string) bool {
	if strings.HasSuffix(name, "Error") || strings.HasSuffix(name, "Exception") {
		return true
	}
	for _, b := range bases {
		tail := lastSegment(b)
		if tail == "Exception" || tail == "BaseException" ||
			strings.HasSuffix(tail, "Error") || strings.HasSuffix(tail, "Exception") {
			return true
		}
	}
	return false
}

func hasDecorator(decorators []string, name string) bool {
	for _, d := range decorators {
		if d == name || strings.HasSuffix(d, "."+name) {
			return true
		}
	}
	return false
}

func (ex *pyExtractor) processMethod(node *sitter.Node, className string, decorators []string) {
	fn := ex.buildFunction(node, className, decorators)
	if fn == nil {
		return
	}
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "CONTAINS",
		FromKind: KindClass,
		FromQN:   qualify(ex.filePath, className),
		ToKind:   KindFunction,
		ToQN:     fn.QualifiedName,
	})
}

func (ex *pyExtractor) processFunction(node *sitter.Node, className string, decorators []string) {
	fn := ex.buildFunction(node, className, decorators)
	if fn == nil {
		return
	}
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "CONTAINS",
		FromKind: "File",
		FromQN:   ex.filePath,
		ToKind:   KindFunction,
		ToQN:     fn.QualifiedName,
	})
}

// buildFunction extracts one function or method, registers it in the
// local symbol table and queues its outgoing calls.
func (ex *pyExtractor) buildFunction(node *sitter.Node, className string, decorators []string) *Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nodeText(nameNode, ex.src)

	symbol := name
	if className != "" {
		symbol = className + "." + name
	}
	qn := qualify(ex.filePath, symbol)

	entity := Entity{
		Kind:          KindFunction,
		QualifiedName: qn,
		SimpleName:    name,
		FilePath:      ex.filePath,
		LineStart:     lineOf(node),
		LineEnd:       endLineOf(node),
		Parameters:    ex.parameterNames(node),
		IsMethod:      className != "",
		IsStatic:      hasDecorator(decorators, "staticmethod") || hasDecorator(decorators, "classmethod"),
		IsAsync:       firstChildIsAsync(node),
		Decorators:    decorators,
		Complexity:    1,
	}
	if rt := node.ChildByFieldName("return_type"); rt != nil {
		entity.ReturnType = nodeText(rt, ex.src)
	}

	if body := node.ChildByFieldName("body"); body != nil {
		entity.Complexity += countBranches(body)
		entity.HasYield = containsYield(body)
		ex.collectCalls(body, qn)
	}

	ex.result.Entities = append(ex.result.Entities, entity)
	ex.localFuncs[name] = qn
	return &ex.result.Entities[len(ex.result.Entities)-1]
}

func firstChildIsAsync(node *sitter.Node) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "async" {
			return true
		}
	}
	return false
}

func (ex *pyExtractor) parameterNames(node *sitter.Node) []string {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.ChildCount()); i++ {
		p := params.Child(i)
		switch p.Type() {
		case "identifier":
			names = append(names, nodeText(p, ex.src))
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			for j := 0; j < int(p.ChildCount()); j++ {
				if c := p.Child(j); c.Type() == "identifier" {
					names = append(names, nodeText(c, ex.src))
					break
				}
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			names = append(names, nodeText(p, ex.src))
		}
	}
	return names
}

// branchTypes are the decision points counted for cyclomatic
// complexity. A straight-line function scores 1.
var branchTypes = map[string]bool{
	"if_statement":           true,
	"elif_clause":            true,
	"for_statement":          true,
	"while_statement":        true,
	"except_clause":          true,
	"boolean_operator":       true,
	"conditional_expression": true,
	"case_clause":            true,
	"assert_statement":       true,
}

func countBranches(node *sitter.Node) int {
	n := 0
	if branchTypes[node.Type()] {
		n++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		// Nested defs score their own complexity.
		child := node.Child(i)
		if child.Type() == "function_definition" || child.Type() == "class_definition" {
			continue
		}
		n += countBranches(child)
	}
	return n
}

func containsYield(node *sitter.Node) bool {
	if node.Type() == "yield" {
		return true
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "function_definition" || child.Type() == "class_definition" {
			continue
		}
		if containsYield(child) {
			return true
		}
	}
	return false
}

// collectCalls queues every call expression inside a body. Nested
// definitions are skipped; they queue their own calls.
func (ex *pyExtractor) collectCalls(node *sitter.Node, fromQN string) {
	if node.Type() == "call" {
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				ex.calls = append(ex.calls, pendingRef{KindFunction, fromQN, nodeText(fn, ex.src)})
			case "attribute":
				if attr := fn.ChildByFieldName("attribute"); attr != nil {
					ex.calls = append(ex.calls, pendingRef{KindFunction, fromQN, nodeText(attr, ex.src)})
				}
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "function_definition" || child.Type() == "class_definition" {
			continue
		}
		ex.collectCalls(child, fromQN)
	}
}

// resolveRefs turns queued references into relations, local-first:
// a name defined in this file links to its node, a builtin links to a
// BuiltinFunction, anything else to an ExternalFunction or
// ExternalClass placeholder.
func (ex *pyExtractor) resolveRefs() {
	seen := make(map[string]bool)
	addOnce := func(r Relation) {
		key := r.Type + "|" + r.FromQN + "|" + r.ToQN
		if seen[key] {
			return
		}
		seen[key] = true
		ex.result.Relations = append(ex.result.Relations, r)
	}

	for _, c := range ex.calls {
		if qn, ok := ex.localFuncs[c.name]; ok {
			if qn == c.fromQN {
				continue // plain recursion adds no edge information
			}
			addOnce(Relation{Type: "CALLS", FromKind: KindFunction, FromQN: c.fromQN, ToKind: KindFunction, ToQN: qn})
			continue
		}
		if qn, ok := ex.localClasses[c.name]; ok {
			// Constructor call.
			addOnce(Relation{Type: "USES", FromKind: KindFunction, FromQN: c.fromQN, ToKind: KindClass, ToQN: qn})
			continue
		}
		kind := "ExternalFunction"
		if pythonBuiltins[c.name] {
			kind = "BuiltinFunction"
		}
		addOnce(Relation{
			Type: "CALLS", FromKind: KindFunction, FromQN: c.fromQN,
			ToKind: KindFunction, ToQN: c.name,
			External: true, ExternalKind: kind,
		})
	}

	for _, h := range ex.inherits {
		if qn, ok := ex.localClasses[h.name]; ok {
			addOnce(Relation{Type: "INHERITS", FromKind: KindClass, FromQN: h.fromQN, ToKind: KindClass, ToQN: qn})
			continue
		}
		addOnce(Relation{
			Type: "INHERITS", FromKind: KindClass, FromQN: h.fromQN,
			ToKind: KindClass, ToQN: h.name,
			External: true, ExternalKind: "ExternalClass",
		})
	}
}

func lastSegment(dotted string) string {
	if i := strings.LastIndex(dotted, "."); i >= 0 {
		return dotted[i+1:]
	}
	return dotted
}
