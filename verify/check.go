package verify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/s4u/pgpverify-go/pgpkey"
)

// CheckSignature implements spec.md §4.2 check_signature: it never
// returns an error directly, instead encoding every outcome into the
// returned SignatureCheckResult's Status and ErrorCause.
func CheckSignature(ctx context.Context, content, signature Source, cache KeyRingCache) SignatureCheckResult {
	if content == nil {
		return SignatureCheckResult{Status: StatusArtifactNotResolved}
	}
	if signature == nil {
		return SignatureCheckResult{Status: StatusSignatureNotResolved}
	}

	sigData, err := readAll(signature)
	if err != nil {
		return SignatureCheckResult{Status: StatusSignatureError, ErrorCause: err}
	}
	sig, err := LoadSignature(sigData)
	if err != nil {
		return SignatureCheckResult{Status: StatusSignatureError, ErrorCause: err}
	}

	id, err := RetrieveKeyID(sig)
	if err != nil {
		return SignatureCheckResult{Status: StatusSignatureError, ErrorCause: err}
	}

	// Only version-4 signature packets reach this point: LoadSignature's
	// packet walk never surfaces a *packet.SignatureV3, so a v3 signature
	// falls through as ErrSignatureNotFound rather than being
	// misrepresented here.
	info := &SignatureInfo{
		Version:      4,
		KeyAlgo:      int32(sig.PubKeyAlgo),
		HashAlgo:     int32(sig.Hash),
		CreationTime: sig.CreationTime,
		KeyID:        id,
	}
	weakName, weak := CheckWeakHashAlgorithm(sig)

	ring, err := cache.GetKeyRing(ctx, id)
	if err != nil {
		result := SignatureCheckResult{Signature: info, ErrorCause: err, WeakHashAlgorithm: pickWeak(weak, weakName)}
		var notFound ErrKeyNotFound
		if errors.As(err, &notFound) {
			result.Status = StatusKeyNotFound
		} else {
			result.Status = StatusError
		}
		return result
	}

	keyInfo, err := ring.Info(id)
	if err != nil {
		return SignatureCheckResult{Status: StatusError, ErrorCause: err, Signature: info, WeakHashAlgorithm: pickWeak(weak, weakName)}
	}

	// A primary-key self-revocation with the underlying key material
	// retained is downgraded to Revoked=true and verification proceeds;
	// golang.org/x/crypto/openpgp always retains key material for a
	// parsed entity, so the "material absent" branch of spec.md §4.2 step
	// 5 (StatusKeyRevocation) cannot occur through this OpenPGP library
	// and is kept here only so the status exists for a future key source
	// that can surface a revocation-only record.
	if keyInfo.Revoked && !hasKeyMaterial(keyInfo) {
		return SignatureCheckResult{Status: StatusKeyRevocation, Signature: info, Key: &keyInfo, WeakHashAlgorithm: pickWeak(weak, weakName)}
	}

	pk, err := ring.Find(id)
	if err != nil {
		return SignatureCheckResult{Status: StatusError, ErrorCause: err, Signature: info, Key: &keyInfo, WeakHashAlgorithm: pickWeak(weak, weakName)}
	}

	result := SignatureCheckResult{Signature: info, Key: &keyInfo, WeakHashAlgorithm: pickWeak(weak, weakName)}

	contentReader, err := content()
	if err != nil {
		result.Status = StatusError
		result.ErrorCause = err
		return result
	}
	defer contentReader.Close()

	if err := verifyContent(pk, sig, contentReader); err != nil {
		logrus.Debugf("signature verification failed for key %s: %v", id, err)
		result.Status = StatusSignatureInvalid
		result.ErrorCause = err
		return result
	}
	result.Status = StatusSignatureValid
	return result
}

func pickWeak(weak bool, name string) string {
	if weak {
		return name
	}
	return ""
}

// hasKeyMaterial always reports true for keys sourced from pgpkey.Ring;
// see the comment above its call site in CheckSignature.
func hasKeyMaterial(_ pgpkey.KeyInfo) bool { return true }

func readAll(s Source) ([]byte, error) {
	rc, err := s()
	if err != nil {
		return nil, fmt.Errorf("opening signature: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
