// Package querycache loads a repository's graph into indexed in-memory
// maps with a fixed set of aggregation queries, so detectors do O(1)
// lookups instead of issuing per-entity round trips.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
)

// Querier is the read surface the cache builds from.
type Querier interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// FunctionInfo mirrors one Function node. Parameters preserves the
// declaration order from the source.
type FunctionInfo struct {
	QualifiedName string
	Name          string
	FilePath      string
	LineStart     int
	LineEnd       int
	Complexity    int
	Parameters    []string
	IsMethod      bool
	IsStatic      bool
	IsAsync       bool
	HasYield      bool
}

// ClassInfo mirrors one Class node plus its method count.
type ClassInfo struct {
	QualifiedName string
	Name          string
	FilePath      string
	LineStart     int
	LineEnd       int
	MethodCount   int
	IsAbstract    bool
	IsException   bool
	IsDataclass   bool
}

// FileInfo mirrors one File node.
type FileInfo struct {
	Path      string
	Language  string
	LineCount int
	IsTest    bool
}

// CallEdge is one resolved CALLS edge. External targets carry the
// label they were materialized under.
type CallEdge struct {
	To       string
	External bool
}

// Cache is an immutable snapshot of one repository's graph. Built once
// per analysis run and shared read-only across detector goroutines.
type Cache struct {
	RepoID string

	Functions map[string]*FunctionInfo
	Classes   map[string]*ClassInfo
	Files     map[string]*FileInfo

	Calls    map[string][]CallEdge // function qn -> outgoing calls
	CalledBy map[string][]string   // function qn -> callers

	Inherits    map[string][]string // class qn -> base qns
	InheritedBy map[string][]string // class qn -> subclass qns

	Imports    map[string][]string // file path -> module qns
	ImportedBy map[string][]string // file path -> importing file paths

	MethodsByClass map[string][]string // class qn -> method qns
	ParentClass    map[string]string   // method qn -> class qn
}

// Build loads the snapshot for one repository. Every query filters on
// repoId so a shared database never leaks neighbouring repos into the
// cache.
func Build(ctx context.Context, q Querier, repoID string) (*Cache, error) {
	c := &Cache{
		RepoID:         repoID,
		Functions:      make(map[string]*FunctionInfo),
		Classes:        make(map[string]*ClassInfo),
		Files:          make(map[string]*FileInfo),
		Calls:          make(map[string][]CallEdge),
		CalledBy:       make(map[string][]string),
		Inherits:       make(map[string][]string),
		InheritedBy:    make(map[string][]string),
		Imports:        make(map[string][]string),
		ImportedBy:     make(map[string][]string),
		MethodsByClass: make(map[string][]string),
		ParentClass:    make(map[string]string),
	}
	params := map[string]any{"repoId": repoID}

	for _, step := range []struct {
		name string
		load func(context.Context, Querier, map[string]any) error
	}{
		{"functions", c.loadFunctions},
		{"classes", c.loadClasses},
		{"files", c.loadFiles},
		{"calls", c.loadCalls},
		{"inheritance", c.loadInheritance},
		{"imports", c.loadImports},
		{"methods", c.loadMethods},
	} {
		if err := step.load(ctx, q, params); err != nil {
			return nil, fmt.Errorf("query cache load of %s failed: %w", step.name, err)
		}
	}

	slog.Default().With("component", "querycache").Debug("cache built",
		"repo_id", repoID,
		"functions", len(c.Functions),
		"classes", len(c.Classes),
		"files", len(c.Files))
	return c, nil
}

func (c *Cache) loadFunctions(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (fn:Function {repoId: $repoId})
		RETURN fn.qualifiedName as qn, fn.name as name, fn.filePath as path,
		       fn.lineStart as lineStart, fn.lineEnd as lineEnd,
		       fn.complexity as complexity, fn.parameters as parameters,
		       fn.isMethod as isMethod, fn.isStatic as isStatic,
		       fn.isAsync as isAsync, fn.hasYield as hasYield
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		qn := str(row["qn"])
		if qn == "" {
			continue
		}
		c.Functions[qn] = &FunctionInfo{
			QualifiedName: qn,
			Name:          str(row["name"]),
			FilePath:      str(row["path"]),
			LineStart:     num(row["lineStart"]),
			LineEnd:       num(row["lineEnd"]),
			Complexity:    num(row["complexity"]),
			Parameters:    strList(row["parameters"]),
			IsMethod:      boolean(row["isMethod"]),
			IsStatic:      boolean(row["isStatic"]),
			IsAsync:       boolean(row["isAsync"]),
			HasYield:      boolean(row["hasYield"]),
		}
	}
	return nil
}

func (c *Cache) loadClasses(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (cl:Class {repoId: $repoId})
		OPTIONAL MATCH (cl)-[:CONTAINS]->(m:Function {repoId: $repoId})
		RETURN cl.qualifiedName as qn, cl.name as name, cl.filePath as path,
		       cl.lineStart as lineStart, cl.lineEnd as lineEnd,
		       cl.isAbstract as isAbstract, cl.isException as isException,
		       cl.isDataclass as isDataclass, count(m) as methodCount
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		qn := str(row["qn"])
		if qn == "" {
			continue
		}
		c.Classes[qn] = &ClassInfo{
			QualifiedName: qn,
			Name:          str(row["name"]),
			FilePath:      str(row["path"]),
			LineStart:     num(row["lineStart"]),
			LineEnd:       num(row["lineEnd"]),
			MethodCount:   num(row["methodCount"]),
			IsAbstract:    boolean(row["isAbstract"]),
			IsException:   boolean(row["isException"]),
			IsDataclass:   boolean(row["isDataclass"]),
		}
	}
	return nil
}

func (c *Cache) loadFiles(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId})
		RETURN f.filePath as path, f.language as language,
		       f.lineCount as lineCount, f.isTest as isTest
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		path := str(row["path"])
		if path == "" {
			continue
		}
		c.Files[path] = &FileInfo{
			Path:      path,
			Language:  str(row["language"]),
			LineCount: num(row["lineCount"]),
			IsTest:    boolean(row["isTest"]),
		}
	}
	return nil
}

func (c *Cache) loadCalls(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (a:Function {repoId: $repoId})-[:CALLS]->(b {repoId: $repoId})
		RETURN a.qualifiedName as from, b.qualifiedName as to,
		       coalesce(b.external, false) as external
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		from, to := str(row["from"]), str(row["to"])
		if from == "" || to == "" {
			continue
		}
		external := boolean(row["external"])
		c.Calls[from] = append(c.Calls[from], CallEdge{To: to, External: external})
		if !external {
			c.CalledBy[to] = append(c.CalledBy[to], from)
		}
	}
	return nil
}

func (c *Cache) loadInheritance(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (sub:Class {repoId: $repoId})-[:INHERITS]->(base {repoId: $repoId})
		RETURN sub.qualifiedName as sub, base.qualifiedName as base,
		       coalesce(base.external, false) as external
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		sub, base := str(row["sub"]), str(row["base"])
		if sub == "" || base == "" {
			continue
		}
		c.Inherits[sub] = append(c.Inherits[sub], base)
		if !boolean(row["external"]) {
			c.InheritedBy[base] = append(c.InheritedBy[base], sub)
		}
	}
	return nil
}

func (c *Cache) loadImports(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId})-[:IMPORTS]->(m:Module {repoId: $repoId})
		RETURN f.filePath as path, m.qualifiedName as module
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		path, module := str(row["path"]), str(row["module"])
		if path == "" || module == "" {
			continue
		}
		c.Imports[path] = append(c.Imports[path], module)
	}

	rows, err = q.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId})-[:IMPORTED_BY]->(importer:File {repoId: $repoId})
		RETURN f.filePath as path, importer.filePath as importer
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		path, importer := str(row["path"]), str(row["importer"])
		if path == "" || importer == "" {
			continue
		}
		c.ImportedBy[path] = append(c.ImportedBy[path], importer)
	}
	return nil
}

func (c *Cache) loadMethods(ctx context.Context, q Querier, params map[string]any) error {
	rows, err := q.ExecuteQuery(ctx, `
		MATCH (cl:Class {repoId: $repoId})-[:CONTAINS]->(m:Function {repoId: $repoId})
		RETURN cl.qualifiedName as class, m.qualifiedName as method
	`, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		class, method := str(row["class"]), str(row["method"])
		if class == "" || method == "" {
			continue
		}
		c.MethodsByClass[class] = append(c.MethodsByClass[class], method)
		c.ParentClass[method] = class
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// strList coerces the driver's list representations into []string.
func strList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func num(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
