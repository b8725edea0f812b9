package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// scriptExtractor covers JavaScript and TypeScript with a lighter
// grammar surface than the Python one: classes, functions, methods,
// imports and call edges.
type scriptExtractor struct {
	src      []byte
	filePath string
	result   *Result

	localFuncs   map[string]string
	localClasses map[string]string
	calls        []pendingRef
	inherits     []pendingRef
}

func extractScript(root *sitter.Node, src []byte, filePath string, result *Result) {
	ex := &scriptExtractor{
		src:          src,
		filePath:     filePath,
		result:       result,
		localFuncs:   make(map[string]string),
		localClasses: make(map[string]string),
	}
	ex.walk(root)
	ex.resolveRefs()
}

func (ex *scriptExtractor) walk(root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "import_statement":
			ex.processImport(child)
		case "class_declaration":
			ex.processClass(child)
		case "function_declaration", "generator_function_declaration":
			ex.processFunction(child, "")
		case "lexical_declaration", "variable_declaration":
			ex.processDeclaration(child)
		case "export_statement":
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "class_declaration":
					ex.processClass(gc)
				case "function_declaration", "generator_function_declaration":
					ex.processFunction(gc, "")
				case "lexical_declaration", "variable_declaration":
					ex.processDeclaration(gc)
				}
			}
		}
	}
}

// processImport records the module specifier of an import statement.
func (ex *scriptExtractor) processImport(node *sitter.Node) {
	source := node.ChildByFieldName("source")
	if source == nil {
		return
	}
	spec := strings.Trim(nodeText(source, ex.src), `"'`)
	if spec == "" {
		return
	}
	ex.result.Entities = append(ex.result.Entities, Entity{
		Kind:          KindModule,
		QualifiedName: spec,
		SimpleName:    lastPathSegment(spec),
		FilePath:      ex.filePath,
		LineStart:     lineOf(node),
		LineEnd:       endLineOf(node),
	})
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "IMPORTS",
		FromKind: "File",
		FromQN:   ex.filePath,
		ToKind:   KindModule,
		ToQN:     spec,
	})
}

func (ex *scriptExtractor) processClass(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, ex.src)
	qn := qualify(ex.filePath, name)

	ex.result.Entities = append(ex.result.Entities, Entity{
		Kind:          KindClass,
		QualifiedName: qn,
		SimpleName:    name,
		FilePath:      ex.filePath,
		LineStart:     lineOf(node),
		LineEnd:       endLineOf(node),
		IsException:   strings.HasSuffix(name, "Error") || strings.HasSuffix(name, "Exception"),
	})
	ex.localClasses[name] = qn
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "CONTAINS",
		FromKind: "File",
		FromQN:   ex.filePath,
		ToKind:   KindClass,
		ToQN:     qn,
	})

	for i := 0; i < int(node.ChildCount()); i++ {
		if h := node.Child(i); h.Type() == "class_heritage" {
			for j := 0; j < int(h.ChildCount()); j++ {
				b := h.Child(j)
				if b.Type() == "identifier" || b.Type() == "member_expression" {
					ex.inherits = append(ex.inherits, pendingRef{KindClass, qn, nodeText(b, ex.src)})
				}
			}
		}
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		if m := body.Child(i); m.Type() == "method_definition" {
			ex.processFunction(m, name)
		}
	}
}

// processDeclaration picks up const f = () => {} and const f = function.
func (ex *scriptExtractor) processDeclaration(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		decl := node.Child(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		value := decl.ChildByFieldName("value")
		nameNode := decl.ChildByFieldName("name")
		if value == nil || nameNode == nil {
			continue
		}
		switch value.Type() {
		case "arrow_function", "function_expression", "function", "generator_function":
			ex.addFunction(value, nodeText(nameNode, ex.src), "")
		}
	}
}

func (ex *scriptExtractor) processFunction(node *sitter.Node, className string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	ex.addFunction(node, nodeText(nameNode, ex.src), className)
}

func (ex *scriptExtractor) addFunction(node *sitter.Node, name, className string) {
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
		IsStatic:      firstChildType(node, "static"),
		IsAsync:       firstChildType(node, "async"),
		Complexity:    1,
	}
	if body := node.ChildByFieldName("body"); body != nil {
		entity.Complexity += countScriptBranches(body)
		ex.collectCalls(body, qn)
	}

	ex.result.Entities = append(ex.result.Entities, entity)
	ex.localFuncs[name] = qn

	fromKind := Kind("File")
	fromQN := ex.filePath
	if className != "" {
		fromKind = KindClass
		fromQN = qualify(ex.filePath, className)
	}
	ex.result.Relations = append(ex.result.Relations, Relation{
		Type:     "CONTAINS",
		FromKind: fromKind,
		FromQN:   fromQN,
		ToKind:   KindFunction,
		ToQN:     qn,
	})
}

func firstChildType(node *sitter.Node, typ string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func (ex *scriptExtractor) parameterNames(node *sitter.Node) []string {
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
		case "required_parameter", "optional_parameter", "assignment_pattern":
			for j := 0; j < int(p.ChildCount()); j++ {
				if c := p.Child(j); c.Type() == "identifier" {
					names = append(names, nodeText(c, ex.src))
					break
				}
			}
		case "rest_pattern":
			names = append(names, nodeText(p, ex.src))
		}
	}
	return names
}

var scriptBranchTypes = map[string]bool{
	"if_statement":       true,
	"for_statement":      true,
	"for_in_statement":   true,
	"while_statement":    true,
	"do_statement":       true,
	"catch_clause":       true,
	"switch_case":        true,
	"ternary_expression": true,
	"binary_expression":  false, // handled below for && and ||
}

func countScriptBranches(node *sitter.Node) int {
	n := 0
	switch {
	case scriptBranchTypes[node.Type()]:
		n++
	case node.Type() == "binary_expression":
		if op := node.ChildByFieldName("operator"); op != nil {
			// only short-circuit operators branch
			if t := op.Type(); t == "&&" || t == "||" || t == "??" {
				n++
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_declaration", "class_declaration", "arrow_function", "function_expression", "method_definition":
			continue
		}
		n += countScriptBranches(child)
	}
	return n
}

func (ex *scriptExtractor) collectCalls(node *sitter.Node, fromQN string) {
	if node.Type() == "call_expression" {
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				ex.calls = append(ex.calls, pendingRef{KindFunction, fromQN, nodeText(fn, ex.src)})
			case "member_expression":
				if prop := fn.ChildByFieldName("property"); prop != nil {
					ex.calls = append(ex.calls, pendingRef{KindFunction, fromQN, nodeText(prop, ex.src)})
				}
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_declaration", "class_declaration":
			continue
		}
		ex.collectCalls(child, fromQN)
	}
}

func (ex *scriptExtractor) resolveRefs() {
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
				continue
			}
			addOnce(Relation{Type: "CALLS", FromKind: KindFunction, FromQN: c.fromQN, ToKind: KindFunction, ToQN: qn})
			continue
		}
		if qn, ok := ex.localClasses[c.name]; ok {
			addOnce(Relation{Type: "USES", FromKind: KindFunction, FromQN: c.fromQN, ToKind: KindClass, ToQN: qn})
			continue
		}
		addOnce(Relation{
			Type: "CALLS", FromKind: KindFunction, FromQN: c.fromQN,
			ToKind: KindFunction, ToQN: c.name,
			External: true, ExternalKind: "ExternalFunction",
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

func lastPathSegment(spec string) string {
	if i := strings.LastIndexAny(spec, "/."); i >= 0 && i+1 < len(spec) {
		return spec[i+1:]
	}
	return spec
}
