// SPDX-License-Identifier: MIT

package jobs

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// accentFold maps the accented letters that survive NFC composition onto
// plain ASCII so slugs stay portable in URLs and filenames.
var accentFold = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
	"à", "a",
	"á", "a",
	"â", "a",
	"è", "e",
	"é", "e",
	"ê", "e",
	"ì", "i",
	"í", "i",
	"î", "i",
	"ò", "o",
	"ó", "o",
	"ô", "o",
	"ù", "u",
	"ú", "u",
	"û", "u",
	"ç", "c",
	"ñ", "n",
)

// slugify converts a recipe title into a URL-safe slug.
// Example: "Crème Brûlée" → "creme-brulee".
func slugify(title string) string {
	if title == "" {
		return "recipe"
	}

	// NFC first so decomposed input ("e" + combining accent) hits the
	// fold table the same way composed input does.
	s := norm.NFC.String(title)
	s = strings.ToLower(s)
	s = accentFold.Replace(s)

	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		return "recipe"
	}
	return slug
}

// shortHash derives a six-character suffix from s, keeping ids readable
// while distinguishing identical titles from different sources.
func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:6]
}
