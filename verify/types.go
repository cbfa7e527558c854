// Package verify implements the signature-verification pipeline of
// spec.md §4.2 and the verify orchestrator of §4.8: loading a detached
// OpenPGP signature, resolving its issuer, fetching the signing key ring
// through a cache, checking the cryptographic signature, and reconciling
// the result against a trust map.
package verify

import (
	"context"
	"io"
	"time"

	"github.com/s4u/pgpverify-go/internal/keyid"
	"github.com/s4u/pgpverify-go/pgpkey"
)

// SignatureStatus is the outcome of CheckSignature, per spec.md §4.2 step 6
// and §7's "check_signature never throws" contract.
type SignatureStatus int

const (
	// StatusArtifactNotResolved means the artifact content could not be
	// located at all.
	StatusArtifactNotResolved SignatureStatus = iota
	// StatusSignatureNotResolved means no detached signature was found for
	// the artifact.
	StatusSignatureNotResolved
	// StatusSignatureError means the signature packet could not be parsed
	// or its issuer identity could not be resolved.
	StatusSignatureError
	// StatusKeyNotFound means the signing key is absent from every
	// configured key server.
	StatusKeyNotFound
	// StatusKeyRevocation means the primary key carries a self-revocation
	// and the underlying key material needed to verify is unavailable.
	StatusKeyRevocation
	// StatusSignatureValid means the cryptographic signature verified.
	StatusSignatureValid
	// StatusSignatureInvalid means the cryptographic signature did not
	// verify against the resolved key.
	StatusSignatureInvalid
	// StatusError is a catch-all for cache or I/O failures unrelated to the
	// signature or key-not-found cases above.
	StatusError
)

func (s SignatureStatus) String() string {
	switch s {
	case StatusArtifactNotResolved:
		return "ARTIFACT_NOT_RESOLVED"
	case StatusSignatureNotResolved:
		return "SIGNATURE_NOT_RESOLVED"
	case StatusSignatureError:
		return "SIGNATURE_ERROR"
	case StatusKeyNotFound:
		return "KEY_NOT_FOUND"
	case StatusKeyRevocation:
		return "KEY_REVOCATION"
	case StatusSignatureValid:
		return "SIGNATURE_VALID"
	case StatusSignatureInvalid:
		return "SIGNATURE_INVALID"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SignatureInfo is the parsed header of a detached signature, recorded
// before the key is even fetched (spec.md §4.2 step 3).
type SignatureInfo struct {
	Version      int
	KeyAlgo      int32
	HashAlgo     int32
	CreationTime time.Time
	KeyID        keyid.KeyID
}

// SignatureCheckResult is the fully populated, never-nil outcome of
// CheckSignature.
type SignatureCheckResult struct {
	Status    SignatureStatus
	ErrorCause error

	Signature *SignatureInfo
	Key       *pgpkey.KeyInfo

	// WeakHashAlgorithm is set when check_weak_hash_algorithm (spec.md
	// §4.2) identified a deprecated hash, regardless of the final status.
	WeakHashAlgorithm string

	// RevocationSignature is set only on StatusKeyRevocation.
	RevocationSignature []byte
}

// Source lazily opens the bytes of an artifact or its detached signature.
// A nil Source represents "not resolved", per spec.md §4.2 steps 1-2.
type Source func() (io.ReadCloser, error)

// KeyRingCache is the subset of keyscache.Cache that the verification
// pipeline depends on, kept as an interface so CheckSignature can be
// tested against a fake cache without a disk or network (spec.md §4.4 is
// consumed here only as "fetch the ring for a KeyId").
type KeyRingCache interface {
	GetKeyRing(ctx context.Context, id keyid.KeyID) (*pgpkey.Ring, error)
}

// ErrKeyNotFound is the sentinel a KeyRingCache implementation returns
// (wrapped or bare) when a key is absent from every server, per spec.md
// §4.4 PGPKeyNotFound. verify package code tests for it with errors.As.
type ErrKeyNotFound string

func (e ErrKeyNotFound) Error() string { return string(e) }
