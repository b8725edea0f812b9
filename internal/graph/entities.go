package graph

// Node labels for code entities. Every persisted node additionally
// carries repoId (and optional repoSlug) tags for in-tenant isolation.
const (
	LabelFile     = "File"
	LabelModule   = "Module"
	LabelClass    = "Class"
	LabelFunction = "Function"

	// Metadata nodes written by the enricher, scoped to a single run.
	LabelDetectorMetadata = "DetectorMetadata"

	// External targets materialized during edge load so relationship
	// integrity holds even for standard-library and third-party symbols.
	LabelBuiltinFunction  = "BuiltinFunction"
	LabelExternalFunction = "ExternalFunction"
	LabelExternalClass    = "ExternalClass"
)

// Relationship types.
const (
	RelContains   = "CONTAINS"
	RelCalls      = "CALLS"
	RelImports    = "IMPORTS"
	RelInherits   = "INHERITS"
	RelUses       = "USES"
	RelFlaggedBy  = "FLAGGED_BY"
	RelImportedBy = "IMPORTED_BY"
)

// Entity is a language-neutral node record produced by the parser
// bridge and consumed by batch upserts.
type Entity struct {
	Label      string
	Properties map[string]any
}

// UniqueKey returns the property the entity's label MERGEs on.
func (e Entity) UniqueKey() string {
	return UniqueKeyForLabel(e.Label)
}

// UniqueKeyForLabel maps a label to its unique property within a repo.
// File nodes key on their repo-relative path; everything else keys on
// qualifiedName.
func UniqueKeyForLabel(label string) string {
	switch label {
	case LabelFile:
		return "filePath"
	case LabelDetectorMetadata:
		return "id"
	default:
		return "qualifiedName"
	}
}

// Relationship is a language-neutral edge record. Endpoints are named
// by qualified name (File endpoints use the repo-relative path).
type Relationship struct {
	Type      string
	FromLabel string
	FromQN    string
	ToLabel   string
	ToQN      string

	// External marks edges whose target is a builtin or library symbol
	// that never appears in the scanned tree. The target is materialized
	// under ExternalLabel with external = true instead of strict-matched.
	External      bool
	ExternalLabel string

	Properties map[string]any
}

// FileMetadata is the per-file state consulted by incremental diffing.
type FileMetadata struct {
	ContentHash  string
	LastModified string
}
