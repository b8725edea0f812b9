package ingest

import (
	"strings"
	"time"

	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/parser"
	"github.com/reposage/reposage/internal/scanner"
)

// converter turns neutral parse results into tenant-tagged graph
// records. Every node gets the repoId tag (and repoSlug when set) so
// in-tenant isolation holds even inside a shared database.
type converter struct {
	repoID   string
	repoSlug string

	// repo-relative paths of every file accepted by the scan, used to
	// decide whether an imported module resolves inside the repo
	localPaths map[string]bool
}

func (cv *converter) baseProps(qn, name, filePath string) map[string]any {
	props := map[string]any{
		"repoId":        cv.repoID,
		"qualifiedName": qn,
		"name":          name,
		"filePath":      filePath,
	}
	if cv.repoSlug != "" {
		props["repoSlug"] = cv.repoSlug
	}
	return props
}

// fileNode builds the File node for one scanned file.
func (cv *converter) fileNode(f scanner.ScannedFile) graph.Entity {
	props := map[string]any{
		"repoId":       cv.repoID,
		"filePath":     f.Path,
		"name":         f.Path,
		"contentHash":  f.ContentHash,
		"lastModified": f.ModTime.UTC().Format(time.RFC3339),
		"language":     f.Language,
		"lineCount":    f.LineCount,
		"sizeBytes":    f.SizeBytes,
		"isTest":       f.IsTest,
	}
	if cv.repoSlug != "" {
		props["repoSlug"] = cv.repoSlug
	}
	return graph.Entity{Label: graph.LabelFile, Properties: props}
}

func labelForKind(kind parser.Kind) string {
	switch kind {
	case parser.KindModule:
		return graph.LabelModule
	case parser.KindClass:
		return graph.LabelClass
	case parser.KindFunction:
		return graph.LabelFunction
	default:
		return graph.LabelFile
	}
}

// entityNode converts one parsed entity.
func (cv *converter) entityNode(e parser.Entity) graph.Entity {
	props := cv.baseProps(e.QualifiedName, e.SimpleName, e.FilePath)
	props["lineStart"] = e.LineStart
	props["lineEnd"] = e.LineEnd

	switch e.Kind {
	case parser.KindFunction:
		props["complexity"] = e.Complexity
		props["paramCount"] = len(e.Parameters)
		props["parameters"] = append([]string{}, e.Parameters...)
		props["returnType"] = e.ReturnType
		props["isMethod"] = e.IsMethod
		props["isStatic"] = e.IsStatic
		props["isAsync"] = e.IsAsync
		props["hasYield"] = e.HasYield
		props["decorators"] = append([]string{}, e.Decorators...)
	case parser.KindClass:
		props["isAbstract"] = e.IsAbstract
		props["isException"] = e.IsException
		props["isDataclass"] = e.IsDataclass
		props["nestingLevel"] = e.NestingLevel
		props["decorators"] = append([]string{}, e.Decorators...)
	case parser.KindModule:
		props["isExternal"] = cv.resolveModule(e.QualifiedName) == ""
	}
	return graph.Entity{Label: labelForKind(e.Kind), Properties: props}
}

// relationship converts one parsed relation.
func (cv *converter) relationship(r parser.Relation) graph.Relationship {
	rel := graph.Relationship{
		Type:      r.Type,
		FromLabel: labelForKind(r.FromKind),
		FromQN:    r.FromQN,
		ToLabel:   labelForKind(r.ToKind),
		ToQN:      r.ToQN,
		External:  r.External,
	}
	if r.FromKind == "File" {
		rel.FromLabel = graph.LabelFile
	}
	if r.External {
		rel.ExternalLabel = r.ExternalKind
	}
	return rel
}

// convert produces the node and edge records for one parsed file,
// including IMPORTED_BY edges for imports that resolve to files inside
// the repo. Those inverse edges drive dependency-aware re-ingestion.
func (cv *converter) convert(f scanner.ScannedFile, res *parser.Result) ([]graph.Entity, []graph.Relationship) {
	nodes := []graph.Entity{cv.fileNode(f)}
	var edges []graph.Relationship

	for _, e := range res.Entities {
		nodes = append(nodes, cv.entityNode(e))
	}
	for _, r := range res.Relations {
		edges = append(edges, cv.relationship(r))

		if r.Type == graph.RelImports && !r.External {
			if target := cv.resolveModule(r.ToQN); target != "" && target != f.Path {
				edges = append(edges, graph.Relationship{
					Type:      graph.RelImportedBy,
					FromLabel: graph.LabelFile,
					FromQN:    target,
					ToLabel:   graph.LabelFile,
					ToQN:      f.Path,
				})
			}
		}
	}
	return nodes, edges
}

// resolveModule maps a module specifier to a repo-relative file path,
// or "" when the module lives outside the repo. Python dotted paths
// try pkg/mod.py then pkg/mod/__init__.py; script specifiers are
// relative paths already.
func (cv *converter) resolveModule(spec string) string {
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		trimmed := strings.TrimPrefix(spec, "./")
		for _, cand := range []string{trimmed, trimmed + ".js", trimmed + ".ts"} {
			if cv.localPaths[cand] {
				return cand
			}
		}
		return ""
	}

	base := strings.ReplaceAll(strings.TrimLeft(spec, "."), ".", "/")
	if base == "" {
		return ""
	}
	for _, cand := range []string{base + ".py", base + "/__init__.py"} {
		if cv.localPaths[cand] {
			return cand
		}
	}
	return ""
}
