package verify

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

// ErrSignatureNotFound is returned by LoadSignature when no signature
// packet is reachable within the stream, per spec.md §4.2.
type ErrSignatureNotFound string

func (e ErrSignatureNotFound) Error() string { return string(e) }

// ErrKeyIDMismatch describes a signature whose issuer key id subpacket
// disagrees with the key id intrinsic to the signature itself.
// RetrieveKeyID does not return it: it compares the issuer key id only
// against the issuer fingerprint.
type ErrKeyIDMismatch string

func (e ErrKeyIDMismatch) Error() string { return string(e) }

// ErrFingerprintKeyIDMismatch is returned when a v4 issuer fingerprint's
// low 64 bits disagree with the issuer key id subpacket, per spec.md
// §4.2's substitution-attack check.
type ErrFingerprintKeyIDMismatch string

func (e ErrFingerprintKeyIDMismatch) Error() string { return string(e) }

// ErrIssuerMissing is returned when a signature names neither an issuer
// key id nor an issuer fingerprint.
type ErrIssuerMissing string

func (e ErrIssuerMissing) Error() string { return string(e) }

// LoadSignature implements spec.md §4.2 load_signature: tolerant of
// ASCII armor, it walks packets in order, descending one level into a
// CompressedData packet and draining LiteralData to advance the stream,
// returning the first Signature packet found.
func LoadSignature(data []byte) (*packet.Signature, error) {
	if block, err := armor.Decode(bytes.NewReader(data)); err == nil {
		sig, walkErr := walkForSignature(packet.NewReader(block.Body), 0)
		if walkErr == nil {
			return sig, nil
		}
		if _, notFound := walkErr.(ErrSignatureNotFound); !notFound {
			return nil, walkErr
		}
	}
	return walkForSignature(packet.NewReader(bytes.NewReader(data)), 0)
}

func walkForSignature(pr *packet.Reader, depth int) (*packet.Signature, error) {
	for {
		p, err := pr.Next()
		if err == io.EOF {
			return nil, ErrSignatureNotFound("no signature packet found in stream")
		}
		if err != nil {
			return nil, fmt.Errorf("reading signature packet: %w", err)
		}
		switch pkt := p.(type) {
		case *packet.Signature:
			return pkt, nil
		case *packet.CompressedData:
			if depth >= 1 {
				continue
			}
			sig, err := walkForSignature(packet.NewReader(pkt.Body), depth+1)
			if err == nil {
				return sig, nil
			}
			if _, notFound := err.(ErrSignatureNotFound); !notFound {
				return nil, err
			}
		case *packet.LiteralData:
			if _, err := io.Copy(io.Discard, pkt.Body); err != nil {
				return nil, fmt.Errorf("draining literal data packet: %w", err)
			}
		default:
			// OnePassSignature, Marker, etc. carry no signature material.
		}
	}
}

// weakHashNames are the hash algorithms spec.md §4.2's check_weak_hash_
// algorithm flags. The OpenPGP-reserved digests it also names
// (DOUBLE_SHA, MD2, TIGER_192, HAVAL_5_160) can never reach this
// function: golang.org/x/crypto/openpgp/packet fails to parse a
// signature naming one of those hash algorithm ids in the first place,
// which is exactly spec.md's "unknown IDs are a fatal unsupported-
// algorithm error" for those four.
var weakHashNames = map[crypto.Hash]string{
	crypto.MD5:    "MD5",
	crypto.SHA224: "SHA224",
}

// CheckWeakHashAlgorithm implements spec.md §4.2 check_weak_hash_algorithm.
func CheckWeakHashAlgorithm(sig *packet.Signature) (string, bool) {
	name, weak := weakHashNames[sig.Hash]
	return name, weak
}

// RetrieveKeyID implements spec.md §4.2 retrieve_key_id: reconciles the
// issuer key id and issuer fingerprint subpackets and returns the
// strongest identifier available, preferring the fingerprint.
func RetrieveKeyID(sig *packet.Signature) (keyid.KeyID, error) {
	var hasID bool
	var id uint64
	if sig.IssuerKeyId != nil && *sig.IssuerKeyId != 0 {
		hasID = true
		id = *sig.IssuerKeyId
	}
	fp := sig.IssuerFingerprint

	// v4 fingerprints encode the long id in their low 8 bytes; cross-check
	// when both are present. v5 (32-byte) fingerprints do not, so per
	// spec.md §9 Open Question this check is skipped for them and the
	// fingerprint is preferred outright.
	if len(fp) == 20 && hasID {
		low := binary.BigEndian.Uint64(fp[len(fp)-8:])
		if low != id {
			return keyid.KeyID{}, ErrFingerprintKeyIDMismatch(fmt.Sprintf(
				"issuer fingerprint %X and issuer key id %016X disagree", fp, id))
		}
	}

	if len(fp) > 0 {
		return keyid.FromFingerprint(fp)
	}
	if hasID {
		return keyid.FromLongID(id), nil
	}
	return keyid.KeyID{}, ErrIssuerMissing("signature names neither an issuer key id nor an issuer fingerprint")
}

// verifyContent streams r into the signature's hash function in ≥8 KiB
// chunks, per spec.md §4.2 read_file_content_into, then verifies sig
// against pk.
func verifyContent(pk *packet.PublicKey, sig *packet.Signature, r io.Reader) error {
	h := sig.Hash.New()
	buf := make([]byte, 8*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return fmt.Errorf("reading artifact content: %w", err)
	}
	return pk.VerifySignature(h, sig)
}
