// Package taxonomy resolves heterogeneous rubro identifiers against the
// canonical cost-category catalog.
//
// A Catalog is built once at process start and never mutated afterwards, so
// lookups are safe under unbounded concurrent callers without locks.
package taxonomy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Entry is one canonical rubro in the reference catalog.
type Entry struct {
	ID              string `json:"id"`
	LineaGasto      string `json:"linea_gasto"`
	Categoria       string `json:"categoria"`
	CategoriaCodigo string `json:"categoria_codigo"`
	Labor           bool   `json:"labor,omitempty"`
}

// Catalog is the immutable resolution table: canonical entries, the legacy
// alias map and the labor canonical key set, all indexed by normalized key.
type Catalog struct {
	entries map[string]Entry // canonical id -> entry
	byKey   map[string]string // normalized id or description -> canonical id
	aliases map[string]string // normalized legacy alias -> canonical id
	labor   map[string]string // normalized labor key -> canonical id
}

var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeKey case-folds, strips diacritics and punctuation and collapses
// whitespace. It is idempotent: NormalizeKey(NormalizeKey(x)) == NormalizeKey(x).
func NormalizeKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// punctuation and whitespace both collapse into one separator
			space = true
		}
	}
	return b.String()
}

// NewCatalog builds a catalog from canonical entries and a legacy alias map.
// Alias keys are normalized; aliases pointing at unknown canonical IDs are
// dropped rather than resolving to nowhere.
func NewCatalog(entries []Entry, legacyAliases map[string]string) *Catalog {
	c := &Catalog{
		entries: make(map[string]Entry, len(entries)),
		byKey:   make(map[string]string, len(entries)*2),
		aliases: make(map[string]string, len(legacyAliases)),
		labor:   make(map[string]string),
	}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		c.entries[e.ID] = e
		c.byKey[NormalizeKey(e.ID)] = e.ID
		if e.LineaGasto != "" {
			c.byKey[NormalizeKey(e.LineaGasto)] = e.ID
		}
		if e.Labor {
			c.labor[NormalizeKey(e.ID)] = e.ID
			if e.LineaGasto != "" {
				c.labor[NormalizeKey(e.LineaGasto)] = e.ID
			}
		}
	}
	for alias, id := range legacyAliases {
		if _, ok := c.entries[id]; !ok {
			continue
		}
		c.aliases[NormalizeKey(alias)] = id
	}
	return c
}

// CanonicalRubroID resolves an arbitrary identifier or description to a
// canonical rubro ID. Resolution is exact-normalized-match only, checked in
// order: canonical set, legacy alias map, labor canonical keys. Unresolved
// input returns ("", false); it never fails hard, callers flag unknowns for
// manual review instead of aborting.
func (c *Catalog) CanonicalRubroID(candidate string) (string, bool) {
	key := NormalizeKey(candidate)
	if key == "" {
		return "", false
	}
	if id, ok := c.byKey[key]; ok {
		return id, true
	}
	if id, ok := c.aliases[key]; ok {
		return id, true
	}
	if id, ok := c.labor[key]; ok {
		return id, true
	}
	return "", false
}

// IsValidRubroID reports whether candidate resolves to a canonical rubro.
func (c *Catalog) IsValidRubroID(candidate string) bool {
	_, ok := c.CanonicalRubroID(candidate)
	return ok
}

// Entry returns the catalog entry for a canonical ID.
func (c *Catalog) Entry(id string) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of canonical entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// IDs returns all canonical rubro IDs. Order is unspecified.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// Aliases returns a copy of the normalized legacy alias map.
func (c *Catalog) Aliases() map[string]string {
	out := make(map[string]string, len(c.aliases))
	for k, v := range c.aliases {
		out[k] = v
	}
	return out
}
