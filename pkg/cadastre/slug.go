package cadastre

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RegionSlug turns a region name into the lower-case identifier used in
// per-region store file names. Accents are folded (VALLE D'AOSTA/VALLÉE
// D'AOSTE stays stable across encodings), and runs of spaces, apostrophes,
// hyphens and slashes collapse to a single underscore.
func RegionSlug(name string) string {
	folded, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
