// Package keysmap implements the trust-map (keys-map) engine of spec.md
// §4.5-§4.7: parsing artifact patterns and key-item verdicts from a
// line-oriented text file, aggregating them across files with
// include/exclude filtering, and answering the queries the verify
// orchestrator needs.
package keysmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/s4u/pgpverify-go/artifact"
	"github.com/s4u/pgpverify-go/pgpkey"
)

// ErrMalformedLine is returned for a trust-map line that does not conform
// to "<pattern>=<keyitems>", per spec.md §4.7.
type ErrMalformedLine string

func (e ErrMalformedLine) Error() string { return string(e) }

// entry is one (ArtifactPattern, KeyItems) pair, in load order.
type entry struct {
	pattern ArtifactPattern
	items   KeyItems
}

// KeysMap is the aggregated, ordered set of trust-map entries accreted by
// one or more Load calls, per spec.md §3.
type KeysMap struct {
	entries []entry
	sealed  atomic.Bool // set on first query; Load after sealing panics (spec.md §5)
	warned  atomic.Bool // "trust fully relaxed" is logged once per run
}

// New returns an empty KeysMap.
func New() *KeysMap { return &KeysMap{} }

// Load parses r as a trust-map file (spec.md §6) and merges its entries
// into m, applying includes/excludes afterwards (spec.md §4.6). file is
// used only for diagnostics.
func (m *KeysMap) Load(r io.Reader, file string, includes, excludes []Filter) error {
	if m.sealed.Load() {
		panic("keysmap: Load called after queries have started; trust-map loading must complete before use")
	}

	raw, err := readLogicalLines(r)
	if err != nil {
		return err
	}

	var parsed []entry
	for _, ll := range raw {
		content := stripComment(ll.text)
		if strings.TrimSpace(content) == "" {
			continue
		}
		eq := strings.Index(content, "=")
		if eq < 0 {
			return ErrMalformedLine(fmt.Sprintf("%s:%d: malformed trust-map line (expected \"pattern=keyitems\"): %q", file, ll.line, ll.text))
		}
		patternStr := strings.TrimSpace(content[:eq])
		itemsStr := content[eq+1:]
		if patternStr == "" {
			return ErrMalformedLine(fmt.Sprintf("%s:%d: malformed trust-map line (empty pattern): %q", file, ll.line, ll.text))
		}
		pattern, err := ParseArtifactPattern(patternStr)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", file, ll.line, err)
		}
		items, err := ParseKeyItems(itemsStr, file, ll.line)
		if err != nil {
			return err
		}
		parsed = append(parsed, entry{pattern: pattern, items: items})
	}

	parsed = applyFilters(parsed, includes, excludes)

	for _, e := range parsed {
		m.mergeEntry(e, file)
	}
	return nil
}

// LoadFile opens path and Loads it.
func (m *KeysMap) LoadFile(path string, includes, excludes []Filter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Load(f, path, includes, excludes)
}

// mergeEntry implements spec.md §3: two entries with the same
// ArtifactPattern are merged (their KeyItems unioned) rather than
// duplicated, with a debug event emitted.
func (m *KeysMap) mergeEntry(e entry, file string) {
	for i := range m.entries {
		if m.entries[i].pattern.Equal(e.pattern) {
			logrus.Debugf("%s: merging entry for pattern %q", file, e.pattern.Source())
			m.entries[i].items = m.entries[i].items.Merge(e.items, fmt.Sprintf("%s (pattern %s)", file, e.pattern.Source()))
			return
		}
	}
	m.entries = append(m.entries, e)
}

// matchingKeyItems unions the KeyItems of every entry whose pattern
// matches c. Ordering of matching entries is insertion order but is not
// significant to the result (spec.md §4.7, §9 Open Question: permissive
// merge preserved, not "most specific wins").
func (m *KeysMap) matchingKeyItems(c artifact.Coordinate) KeyItems {
	m.sealed.Store(true)
	var union KeyItems
	any := false
	for _, e := range m.entries {
		if e.pattern.Matches(c) {
			any = true
			union = union.Merge(e.items, fmt.Sprintf("query for %s", c))
		}
	}
	_ = any
	return union
}

// IsValidKey implements spec.md §4.7 is_valid_key: the union of all
// matching entries' KeyItems is non-empty and accepts key. An empty map
// (no entries loaded at all) trusts everything, with a once-per-run
// warning.
func (m *KeysMap) IsValidKey(c artifact.Coordinate, key pgpkey.KeyInfo) bool {
	if len(m.entries) == 0 {
		m.sealed.Store(true)
		if !m.warned.Swap(true) {
			logrus.Warn("keys-map has no entries; trust is fully relaxed, every key is accepted")
		}
		return true
	}
	items := m.matchingKeyItems(c)
	if items.IsEmpty() {
		return false
	}
	return items.IsKeyMatch(key)
}

// IsNoSignature implements spec.md §4.7 is_no_signature.
func (m *KeysMap) IsNoSignature(c artifact.Coordinate) bool {
	return m.matchingKeyItems(c).IsNoSignature()
}

// IsBrokenSignature implements spec.md §4.7 is_broken_signature.
func (m *KeysMap) IsBrokenSignature(c artifact.Coordinate) bool {
	return m.matchingKeyItems(c).IsBrokenSignature()
}

// IsKeyMissing implements spec.md §4.7 is_key_missing.
func (m *KeysMap) IsKeyMissing(c artifact.Coordinate) bool {
	return m.matchingKeyItems(c).IsKeyMissing()
}

// IsWithKey implements spec.md §4.7 is_with_key: some matching entry names
// a concrete fingerprint.
func (m *KeysMap) IsWithKey(c artifact.Coordinate) bool {
	return m.matchingKeyItems(c).HasConcreteFingerprint()
}

// Len returns the number of distinct (post-merge) entries currently
// loaded, for diagnostics and tests.
func (m *KeysMap) Len() int { return len(m.entries) }

type logicalLine struct {
	text string
	line int // 1-based line number of the first physical line
}

// readLogicalLines implements spec.md §4.7's backslash-continuation: a
// trailing "\" appends the next physical line after stripping its leading
// whitespace.
func readLogicalLines(r io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var out []logicalLine
	var cur strings.Builder
	curLine := 0
	physical := 0
	for scanner.Scan() {
		physical++
		text := scanner.Text()
		if cur.Len() == 0 {
			curLine = physical
		}
		trimmed := strings.TrimRight(text, "\r")
		if cur.Len() > 0 {
			trimmed = strings.TrimLeft(trimmed, " \t")
		}
		if strings.HasSuffix(trimmed, "\\") {
			cur.WriteString(strings.TrimSuffix(trimmed, "\\"))
			continue
		}
		cur.WriteString(trimmed)
		out = append(out, logicalLine{text: cur.String(), line: curLine})
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, logicalLine{text: cur.String(), line: curLine})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// stripComment removes a "#"-to-end-of-line comment. It does not attempt
// to honor quoting; trust-map values never contain "#".
func stripComment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}
