package parser

// Kind identifies the entity kinds the bridge can emit.
type Kind string

const (
	KindModule   Kind = "Module"
	KindClass    Kind = "Class"
	KindFunction Kind = "Function"
)

// Entity is a language-neutral code entity. Qualified names follow
// path::symbol, with methods as path::Class.method, so identity is
// unique within a (repo, label) pair.
type Entity struct {
	Kind          Kind
	QualifiedName string
	SimpleName    string
	FilePath      string
	LineStart     int
	LineEnd       int

	// Function attributes.
	Complexity int
	Parameters []string
	ReturnType string
	IsMethod   bool
	IsStatic   bool
	IsAsync    bool
	HasYield   bool
	Decorators []string

	// Class attributes.
	IsAbstract   bool
	IsException  bool
	IsDataclass  bool
	NestingLevel int

	// Module attributes.
	IsExternalModule bool
}

// Relation is a language-neutral edge whose endpoints are named by
// qualified name. External relations target builtin or third-party
// symbols that never appear in the scanned tree.
type Relation struct {
	Type     string // CALLS, CONTAINS, IMPORTS, INHERITS
	FromKind Kind
	FromQN   string
	ToKind   Kind
	ToQN     string

	External     bool
	ExternalKind string // BuiltinFunction, ExternalFunction, ExternalClass
}

// Result is everything extracted from one file.
type Result struct {
	FilePath  string
	Language  string
	Entities  []Entity
	Relations []Relation
}

// Bridge turns file bytes into neutral entities and relations. The
// bridge may fail per file; the pipeline records the failure and moves
// on without aborting the analysis.
type Bridge interface {
	Supports(language string) bool
	Parse(filePath, language string, src []byte) (*Result, error)
}
