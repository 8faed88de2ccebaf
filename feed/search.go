package feed

import (
	"strings"
	"unicode"

	"battletrails/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lower-cases s and strips diacritics so "Ávila" matches "avila".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Search keeps the posts whose title, description or location contains query.
// An empty query returns posts unchanged.
func Search(posts []models.Post, query string) []models.Post {
	q := fold(strings.TrimSpace(query))
	if q == "" {
		return posts
	}

	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if strings.Contains(fold(p.Title), q) ||
			strings.Contains(fold(p.Description), q) ||
			strings.Contains(fold(p.Location), q) {
			out = append(out, p)
		}
	}
	return out
}
