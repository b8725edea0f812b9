package tenant

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
)

// Graph names must be deterministic, unique per organization, and
// stable across processes. The fingerprint keeps two orgs with
// colliding sanitized slugs ("acme-corp" vs "acme_corp") apart, and
// the longer no-slug form shrinks birthday-collision risk.

// SanitizeSlug lowercases the slug, collapses every non-alphanumeric
// run into a single underscore and strips leading/trailing underscores.
func SanitizeSlug(slug string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(slug) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// Fingerprint returns the full 32-hex-character fingerprint of an
// organization id. MD5 here is a fast well-distributed 128-bit hash,
// not a security primitive.
func Fingerprint(orgID string) string {
	sum := md5.Sum([]byte(orgID))
	return hex.EncodeToString(sum[:])
}

// GenerateGraphName derives the tenant graph name for an organization.
// With a usable slug: org_<sanitized>_<8 hex>. Without one: org_<16 hex>.
func GenerateGraphName(orgID, slug string) string {
	fp := Fingerprint(orgID)
	sanitized := SanitizeSlug(slug)
	if sanitized == "" {
		return "org_" + fp[:16]
	}
	return "org_" + sanitized + "_" + fp[:8]
}
