package graph

import (
	"fmt"
	"regexp"
)

// Labels and relationship types are interpolated into Cypher text
// (parameters cannot stand in for them), so they must be validated.
// All values still travel as parameters.

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a Cypher
// label, relationship type or property key.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// requireIdentifier returns an error naming the offending identifier.
func requireIdentifier(kind, s string) error {
	if !ValidIdentifier(s) {
		return fmt.Errorf("invalid %s %q (must be alphanumeric + underscore)", kind, s)
	}
	return nil
}
