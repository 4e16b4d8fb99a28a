// Package keys derives the stable string keys that roles and permissions
// are joined on.
//
// A key is built from the row id and a slug of the name:
//
//	Derive(1, "Admin")            // "01_admin"
//	Derive(12, "Manage Rooms")    // "012_manage_rooms"
//
// The id is not zero padded, so keys do not sort in id order, and the format
// alone is not a uniqueness guarantee once names or ids are edited by hand.
// Callers rely on the unique index on the key column.
package keys

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator joins words inside a slug and the id to the slug.
const Separator = '_'

// letters that do not decompose into a base letter plus marks
var foldLetters = strings.NewReplacer(
	"đ", "d", "Đ", "D",
	"ß", "ss", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O", "ł", "l", "Ł", "L", "þ", "th", "Þ", "TH",
)

// ASCII folds name to ASCII: accents are stripped ("Quản lý" becomes
// "Quan ly") and letters with no ASCII form are dropped.
func ASCII(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, foldLetters.Replace(name))
	if err != nil {
		folded = name
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII && unicode.IsLetter(r) {
			return -1
		}
		return r
	}, folded)
}

// Slugify folds name to ASCII, lower-cases it, collapses every run of
// characters that are not letters or digits into a single separator and trims
// separators from both ends.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pending := false
	for _, r := range strings.ToLower(ASCII(name)) {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pending && b.Len() > 0 {
				b.WriteRune(Separator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}

	return b.String()
}

// Derive returns "0" + id + "_" + Slugify(name).
func Derive(id int64, name string) string {
	return "0" + strconv.FormatInt(id, 10) + string(Separator) + Slugify(name)
}

// Valid reports whether name produces a non-empty slug.
func Valid(name string) bool {
	return Slugify(name) != ""
}
