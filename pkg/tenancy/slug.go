package tenancy

import (
	"fmt"
	"strings"
)

// DefaultSlug is used when a tenant name has no URL-safe characters
const DefaultSlug = "tenant"

// MaxSlugLength bounds generated slugs, including any counter suffix
const MaxSlugLength = 63

// Slugify derives a URL-safe slug from a tenant name. The result only contains
// lowercase ASCII letters, digits and single dashes, and never starts or ends
// with a dash.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		return DefaultSlug
	}
	return slug
}

// SlugCandidate returns the n-th de-duplication candidate for base.
// Candidate 1 is base itself, later candidates are suffixed with "-n".
func SlugCandidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	suffix := fmt.Sprintf("-%d", n)
	if len(base)+len(suffix) > MaxSlugLength {
		base = strings.TrimRight(base[:MaxSlugLength-len(suffix)], "-")
	}
	return base + suffix
}
