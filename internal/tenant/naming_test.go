package tenant

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "acme", "acme"},
		{"uppercase folded", "AcmeCorp", "acmecorp"},
		{"dash becomes underscore", "acme-corp", "acme_corp"},
		{"underscore preserved", "acme_corp", "acme_corp"},
		{"non-alnum run collapses", "acme -- corp!!", "acme_corp"},
		{"leading and trailing stripped", "--acme--", "acme"},
		{"digits kept", "team42", "team42"},
		{"empty", "", ""},
		{"only symbols", "!!!", ""},
		{"unicode dropped", "café", "caf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSlug(tt.in))
		})
	}
}

func TestGenerateGraphNameDeterministic(t *testing.T) {
	// Same input, same name, every time.
	a := GenerateGraphName("org-123", "acme")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, GenerateGraphName("org-123", "acme"))
	}
}

func TestGenerateGraphNameShape(t *testing.T) {
	withSlug := GenerateGraphName("org-123", "acme")
	assert.Regexp(t, `^org_acme_[0-9a-f]{8}$`, withSlug)

	noSlug := GenerateGraphName("org-123", "")
	assert.Regexp(t, `^org_[0-9a-f]{16}$`, noSlug)

	// A slug that sanitizes to nothing falls back to the no-slug form.
	assert.Equal(t, noSlug, GenerateGraphName("org-123", "!!!"))
}

func TestGenerateGraphNameSlugCollisionSafety(t *testing.T) {
	// "acme-corp" and "acme_corp" sanitize identically; the org
	// fingerprint must still keep the two tenants apart.
	a := GenerateGraphName("user-1", "acme-corp")
	b := GenerateGraphName("user-2", "acme_corp")
	assert.NotEqual(t, a, b)
}

func TestGenerateGraphNameInjectivityAcrossOrgs(t *testing.T) {
	// Identical names imply identical orgs: sample a bunch of org ids
	// sharing a slug and require pairwise-distinct names.
	seen := make(map[string]string)
	for i := 0; i < 500; i++ {
		orgID := fmt.Sprintf("org-%d", i)
		name := GenerateGraphName(orgID, "shared")
		if prev, ok := seen[name]; ok {
			t.Fatalf("name %s generated for both %s and %s", name, prev, orgID)
		}
		seen[name] = orgID
	}
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 32)
}
