// Package pgpkey implements the PublicKeyUtils component of spec.md §4.1:
// loading a public key ring, locating keys within it, deriving the
// flattened KeyInfo the trust map evaluates against, and verifying a
// sub-key's binding signature to its primary key.
package pgpkey

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

// ErrKeyNotInRing is returned by Ring.Find when no key in the ring matches
// the requested KeyID.
type ErrKeyNotInRing string

func (e ErrKeyNotInRing) Error() string { return string(e) }

// ErrInvalidRing is returned when a ring fails to parse, or when a
// sub-key's binding signature does not verify against its claimed
// primary, per spec.md §3 "if any binding signature fails to verify, the
// ring is rejected at parse time".
type ErrInvalidRing string

func (e ErrInvalidRing) Error() string { return string(e) }

// Ring is a parsed public key ring: an ordered list of OpenPGP entities,
// each a primary key plus its sub-keys and binding signatures.
type Ring struct {
	entities openpgp.EntityList
}

// Load parses a key ring from data, which may be ASCII-armored or binary,
// and verifies every sub-key binding signature (spec.md §4.1
// verify_sub_key_binding). A ring with any unverifiable binding is
// rejected outright.
func Load(data []byte) (*Ring, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, ErrInvalidRing(fmt.Sprintf("cannot parse key ring: %v", err))
		}
	}
	r := &Ring{entities: entities}
	if err := r.verifyAllSubkeyBindings(); err != nil {
		return nil, err
	}
	return r, nil
}

// verifyAllSubkeyBindings implements spec.md §4.1 verify_sub_key_binding
// for every sub-key of every entity in the ring.
func (r *Ring) verifyAllSubkeyBindings() error {
	for _, e := range r.entities {
		if e.PrimaryKey == nil {
			return ErrInvalidRing("key ring entry has no primary key")
		}
		for _, sub := range e.Subkeys {
			if sub.PublicKey == nil {
				continue
			}
			if sub.Sig == nil {
				return ErrInvalidRing(fmt.Sprintf("sub-key %s has no binding signature", longID(sub.PublicKey.KeyId)))
			}
			if err := e.PrimaryKey.VerifyKeySignature(sub.PublicKey, sub.Sig); err != nil {
				return ErrInvalidRing(fmt.Sprintf("sub-key %s binding signature does not verify: %v", longID(sub.PublicKey.KeyId), err))
			}
		}
	}
	return nil
}

func longID(id uint64) string {
	return fmt.Sprintf("0x%016X", id)
}

// Find implements KeyId.get_key_from_ring (spec.md §4.1): for a long-id,
// scan packets and match by low-64 bits; for a fingerprint, require exact
// byte equality.
func (r *Ring) Find(id keyid.KeyID) (*packet.PublicKey, error) {
	for _, e := range r.entities {
		if pk := matchEntityKey(e.PrimaryKey, id); pk != nil {
			return pk, nil
		}
		for _, sub := range e.Subkeys {
			if pk := matchEntityKey(sub.PublicKey, id); pk != nil {
				return pk, nil
			}
		}
	}
	return nil, ErrKeyNotInRing(fmt.Sprintf("key %s not found in ring", id))
}

func matchEntityKey(pk *packet.PublicKey, id keyid.KeyID) *packet.PublicKey {
	if pk == nil {
		return nil
	}
	if id.IsFingerprint() {
		if bytesEqual(pk.Fingerprint[:], id.Fingerprint()) {
			return pk
		}
		return nil
	}
	if pk.KeyId == id.Long() {
		return pk
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Master implements get_master_key (spec.md §4.1): returns the primary key
// of key when key is a sub-key, namely the primary key of the ring entity
// whose sub-keys include key. It does not inspect the binding signature's
// issuer; Load has already verified each binding against that primary.
func (r *Ring) Master(key *packet.PublicKey) (*packet.PublicKey, bool) {
	for _, e := range r.entities {
		for _, sub := range e.Subkeys {
			if sub.PublicKey != nil && sub.PublicKey.KeyId == key.KeyId && e.PrimaryKey != nil {
				return e.PrimaryKey, true
			}
		}
	}
	return nil, false
}

// UserIDs implements get_user_ids (spec.md §4.1): the union of raw UID
// strings of key and, if it is a sub-key, its primary. Malformed UTF-8 is
// replaced rather than rejected, since UID robustness is not
// trust-critical; binding-signature failures are still fatal at Load
// time.
func (r *Ring) UserIDs(key *packet.PublicKey) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(e *openpgp.Entity) {
		for name := range e.Identities {
			clean := toValidUTF8(name)
			if _, ok := seen[clean]; ok {
				continue
			}
			seen[clean] = struct{}{}
			out = append(out, clean)
		}
	}
	for _, e := range r.entities {
		if e.PrimaryKey != nil && e.PrimaryKey.KeyId == key.KeyId {
			add(e)
		}
		for _, sub := range e.Subkeys {
			if sub.PublicKey != nil && sub.PublicKey.KeyId == key.KeyId {
				add(e)
			}
		}
	}
	return out
}

func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// Info builds the flattened KeyInfo the trust map matches against, for the
// key identified by id within the ring.
func (r *Ring) Info(id keyid.KeyID) (KeyInfo, error) {
	pk, err := r.Find(id)
	if err != nil {
		return KeyInfo{}, err
	}
	fp, err := keyid.ParseFingerprint(fmt.Sprintf("%x", pk.Fingerprint[:]))
	if err != nil {
		return KeyInfo{}, err
	}
	info := KeyInfo{
		Fingerprint: fp,
		UIDs:        r.UserIDs(pk),
		Version:     uint8(pk.Version),
		Algorithm:   int32(pk.PubKeyAlgo),
		Date:        pk.CreationTime,
	}
	if bits, err := pk.BitLength(); err == nil {
		info.Bits = uint32(bits)
	}
	if master, ok := r.Master(pk); ok {
		mfp, err := keyid.ParseFingerprint(fmt.Sprintf("%x", master.Fingerprint[:]))
		if err != nil {
			return KeyInfo{}, err
		}
		if mfp.Equal(fp) {
			return KeyInfo{}, ErrInvalidRing("sub-key fingerprint equals its own master fingerprint")
		}
		info.Master = &mfp
	}
	info.Revoked = r.isRevoked(pk)
	return info, nil
}

func (r *Ring) isRevoked(pk *packet.PublicKey) bool {
	for _, e := range r.entities {
		if e.PrimaryKey != nil && e.PrimaryKey.KeyId == pk.KeyId {
			if len(e.Revocations) > 0 {
				return true
			}
		}
	}
	return false
}

// KeyInfo is the flattened, trust-map-relevant view of a single key
// (primary or sub-key) within a ring, per spec.md §3.
type KeyInfo struct {
	Fingerprint keyid.Fingerprint
	Master      *keyid.Fingerprint // set iff this is a sub-key
	UIDs        []string
	Version     uint8
	Algorithm   int32
	Bits        uint32
	Date        time.Time
	Revoked     bool
}

// IsSubKey reports whether this KeyInfo describes a sub-key.
func (k KeyInfo) IsSubKey() bool { return k.Master != nil }

// Describe formats the key for diagnostics, per spec.md §8 scenario 1:
// "SubKeyId: 0x... of 0x..." for sub-keys, or just the fingerprint for
// primary keys.
func (k KeyInfo) Describe() string {
	if k.Master != nil {
		return fmt.Sprintf("SubKeyId: %s of %s", k.Fingerprint, *k.Master)
	}
	return k.Fingerprint.String()
}
