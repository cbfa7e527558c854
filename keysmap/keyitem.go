package keysmap

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/s4u/pgpverify-go/internal/keyid"
	"github.com/s4u/pgpverify-go/pgpkey"
)

// ErrInvalidKeyItem is returned when a trust-map key-item token cannot be
// parsed, per spec.md §4.6.
type ErrInvalidKeyItem string

func (e ErrInvalidKeyItem) Error() string { return string(e) }

// ErrNullKeyItem is returned for the literal token "null", which spec.md
// §4.6 rejects explicitly rather than treating as empty.
type ErrNullKeyItem string

func (e ErrNullKeyItem) Error() string { return string(e) }

type keyItemKind int

const (
	kindAnyKey keyItemKind = iota
	kindNoSig
	kindNoKey
	kindBadSig
	kindFingerprint
)

func (k keyItemKind) String() string {
	switch k {
	case kindAnyKey:
		return "any"
	case kindNoSig:
		return "noSig"
	case kindNoKey:
		return "noKey"
	case kindBadSig:
		return "badSig"
	case kindFingerprint:
		return "fingerprint"
	default:
		return "unknown"
	}
}

// KeyItem is a single trust-map value token: one of the special verdicts
// (any/noSig/noKey/badSig), a concrete fingerprint, or a negation of any of
// those, per spec.md §3/§4.6.
type KeyItem struct {
	kind        keyItemKind
	fingerprint keyid.Fingerprint // only set when kind == kindFingerprint
	negated     bool
}

// AnyKeyItem returns the "*"/"any" verdict.
func AnyKeyItem() KeyItem { return KeyItem{kind: kindAnyKey} }

// NoSigItem returns the "noSig" verdict.
func NoSigItem() KeyItem { return KeyItem{kind: kindNoSig} }

// NoKeyItem returns the "noKey" verdict.
func NoKeyItem() KeyItem { return KeyItem{kind: kindNoKey} }

// BadSigItem returns the "badSig" verdict.
func BadSigItem() KeyItem { return KeyItem{kind: kindBadSig} }

// FingerprintItem returns a concrete-fingerprint key item.
func FingerprintItem(fp keyid.Fingerprint) KeyItem {
	return KeyItem{kind: kindFingerprint, fingerprint: fp}
}

// Negate returns the negated form of k.
func (k KeyItem) Negate() KeyItem {
	k.negated = !k.negated
	return k
}

// Negated reports whether this item is a negated form.
func (k KeyItem) Negated() bool { return k.negated }

// serialize renders the item back to trust-map syntax, used both for
// logging and for Filter matching against a "value" pattern (spec.md
// §3 KeysMapLocationConfig).
func (k KeyItem) serialize() string {
	var s string
	switch k.kind {
	case kindAnyKey:
		s = "any"
	case kindNoSig:
		s = "noSig"
	case kindNoKey:
		s = "noKey"
	case kindBadSig:
		s = "badSig"
	case kindFingerprint:
		s = k.fingerprint.String()
	}
	if k.negated {
		return "!" + s
	}
	return s
}

func (k KeyItem) equal(other KeyItem) bool {
	if k.kind != other.kind || k.negated != other.negated {
		return false
	}
	if k.kind == kindFingerprint {
		return k.fingerprint.Equal(other.fingerprint)
	}
	return true
}

// parseContext carries the trust-map location for diagnostics, per
// spec.md §4.7's "(file, lineNumber, content)" error context.
type parseContext struct {
	file string
	line int
}

func (c parseContext) String() string {
	if c.file == "" {
		return fmt.Sprintf("line %d", c.line)
	}
	return fmt.Sprintf("%s:%d", c.file, c.line)
}

// parseKeyItemToken classifies a single trimmed token per spec.md §4.6.
func parseKeyItemToken(token string, ctx parseContext) (KeyItem, error) {
	negated := false
	t := token
	if strings.HasPrefix(t, "!") {
		negated = true
		t = t[1:]
	}

	var item KeyItem
	switch {
	case t == "":
		logrus.Warnf("%s: empty key item is deprecated, treating as noSig", ctx)
		item = NoSigItem()
	case t == "*" || strings.EqualFold(t, "any"):
		item = AnyKeyItem()
	case strings.EqualFold(t, "noSig"):
		item = NoSigItem()
	case strings.EqualFold(t, "noKey"):
		item = NoKeyItem()
	case strings.EqualFold(t, "badSig"):
		item = BadSigItem()
	case strings.EqualFold(t, "null"):
		return KeyItem{}, ErrNullKeyItem(fmt.Sprintf("%s: key item must not be the literal \"null\"", ctx))
	case len(t) > 1 && (t[0] == '0') && (t[1] == 'x' || t[1] == 'X'):
		fp, err := keyid.ParseFingerprint(t)
		if err != nil {
			return KeyItem{}, fmt.Errorf("%s: %w", ctx, err)
		}
		item = FingerprintItem(fp)
	default:
		return KeyItem{}, ErrInvalidKeyItem(fmt.Sprintf(
			"%s: invalid key item %q, expected one of 0x<hex>, !0x<hex>, *, any, noSig, noKey, badSig or their negated (!) forms", ctx, token))
	}
	if negated {
		item = item.Negate()
	}
	return item, nil
}

// KeyItems is an ordered, de-duplicated set of KeyItem, per spec.md §4.6.
type KeyItems struct {
	items []KeyItem
}

// ParseKeyItems splits s on "," and classifies each trimmed token, per
// spec.md §4.6.
func ParseKeyItems(s string, file string, line int) (KeyItems, error) {
	ctx := parseContext{file: file, line: line}
	var out KeyItems
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		item, err := parseKeyItemToken(tok, ctx)
		if err != nil {
			return KeyItems{}, err
		}
		out.add(item)
	}
	return out, nil
}

func (ki *KeyItems) add(item KeyItem) {
	for _, existing := range ki.items {
		if existing.equal(item) {
			return
		}
	}
	ki.items = append(ki.items, item)
}

// IsEmpty reports whether the set has no items, per spec.md §4.6 (an
// empty set, e.g. after exclude filtering, accepts nothing).
func (ki KeyItems) IsEmpty() bool { return len(ki.items) == 0 }

// Merge returns the union of ki and other, logging a warning for each
// duplicate item dropped, per spec.md §3 KeysMap merge semantics.
func (ki KeyItems) Merge(other KeyItems, ctx string) KeyItems {
	out := KeyItems{items: append([]KeyItem{}, ki.items...)}
	for _, item := range other.items {
		before := len(out.items)
		out.add(item)
		if len(out.items) == before {
			logrus.Warnf("%s: duplicate key item %s dropped on merge", ctx, item.serialize())
		}
	}
	return out
}

// IsKeyMatch implements spec.md §4.6 is_key_match: negated fingerprints
// short-circuit to false; then AnyKey; then a matching concrete
// fingerprint against the key's own fingerprint or its master's.
func (ki KeyItems) IsKeyMatch(info pgpkey.KeyInfo) bool {
	for _, item := range ki.items {
		if item.negated && item.kind == kindFingerprint && keyMatchesFingerprint(info, item.fingerprint) {
			return false
		}
	}
	for _, item := range ki.items {
		if !item.negated && item.kind == kindAnyKey {
			return true
		}
	}
	for _, item := range ki.items {
		if !item.negated && item.kind == kindFingerprint && keyMatchesFingerprint(info, item.fingerprint) {
			return true
		}
	}
	return false
}

func keyMatchesFingerprint(info pgpkey.KeyInfo, fp keyid.Fingerprint) bool {
	if info.Fingerprint.Equal(fp) {
		return true
	}
	if info.Master != nil && info.Master.Equal(fp) {
		return true
	}
	return false
}

// hasVerdict reports whether kind is present among ki's items and is not
// negated, per spec.md §4.6 is_no_signature/is_broken_signature/
// is_key_missing.
func (ki KeyItems) hasVerdict(kind keyItemKind) bool {
	negatedPresent := false
	positivePresent := false
	for _, item := range ki.items {
		if item.kind != kind {
			continue
		}
		if item.negated {
			negatedPresent = true
		} else {
			positivePresent = true
		}
	}
	return positivePresent && !negatedPresent
}

// IsNoSignature reports whether an unsigned artifact matching this entry
// is acceptable.
func (ki KeyItems) IsNoSignature() bool { return ki.hasVerdict(kindNoSig) }

// IsBrokenSignature reports whether a cryptographically invalid signature
// is acceptable for this entry.
func (ki KeyItems) IsBrokenSignature() bool { return ki.hasVerdict(kindBadSig) }

// IsKeyMissing reports whether a key absent from every key server is
// acceptable for this entry.
func (ki KeyItems) IsKeyMissing() bool { return ki.hasVerdict(kindNoKey) }

// HasConcreteFingerprint reports whether any non-negated item names a
// concrete fingerprint, used by KeysMap.IsWithKey (spec.md §4.7).
func (ki KeyItems) HasConcreteFingerprint() bool {
	for _, item := range ki.items {
		if !item.negated && item.kind == kindFingerprint {
			return true
		}
	}
	return false
}
