package verify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/s4u/pgpverify-go/artifact"
	"github.com/s4u/pgpverify-go/keysmap"
)

// Pair is one artifact and its (possibly absent) detached signature, the
// unit of work for the verify orchestrator (spec.md §4.8).
type Pair struct {
	Coordinate artifact.Coordinate
	Content    Source
	Signature  Source
}

// EntryResult is the orchestrator's per-artifact verdict.
type EntryResult struct {
	Coordinate artifact.Coordinate
	Accepted   bool
	Reason     string
	Check      SignatureCheckResult
}

// Orchestrator implements spec.md §4.8: it reconciles a CheckSignature
// outcome against a trust map, one artifact at a time or fanned out with
// a worker pool.
type Orchestrator struct {
	Cache             KeyRingCache
	KeysMap           *keysmap.KeysMap
	FailWeakSignature bool
}

// NewOrchestrator builds an Orchestrator over cache and trustMap.
func NewOrchestrator(cache KeyRingCache, trustMap *keysmap.KeysMap, failWeakSignature bool) *Orchestrator {
	return &Orchestrator{Cache: cache, KeysMap: trustMap, FailWeakSignature: failWeakSignature}
}

// VerifyOne implements spec.md §4.8 steps 1-6 for a single pair.
func (o *Orchestrator) VerifyOne(ctx context.Context, p Pair) EntryResult {
	if p.Signature == nil {
		if o.KeysMap.IsNoSignature(p.Coordinate) {
			return EntryResult{Coordinate: p.Coordinate, Accepted: true}
		}
		return EntryResult{Coordinate: p.Coordinate, Accepted: false, Reason: "unsigned artifact not listed in trust map"}
	}

	check := CheckSignature(ctx, p.Content, p.Signature, o.Cache)

	switch check.Status {
	case StatusSignatureValid:
		return o.evaluateValidSignature(p, check)
	case StatusSignatureInvalid, StatusSignatureError:
		// spec.md §8 scenario 4: a syntactically invalid signature
		// (SIGNATURE_ERROR) is accepted under the same badSig verdict as
		// a cryptographically invalid one (SIGNATURE_INVALID).
		if o.KeysMap.IsBrokenSignature(p.Coordinate) {
			return EntryResult{Coordinate: p.Coordinate, Accepted: true, Check: check}
		}
		return EntryResult{Coordinate: p.Coordinate, Accepted: false, Reason: "broken signature not allowed by trust map", Check: check}
	case StatusKeyNotFound:
		if o.KeysMap.IsKeyMissing(p.Coordinate) {
			return EntryResult{Coordinate: p.Coordinate, Accepted: true, Check: check}
		}
		return EntryResult{Coordinate: p.Coordinate, Accepted: false, Reason: "signing key missing from all key servers and not allowed by trust map", Check: check}
	default:
		reason := fmt.Sprintf("signature check failed: %s", check.Status)
		if check.ErrorCause != nil {
			reason = fmt.Sprintf("%s: %v", reason, check.ErrorCause)
		}
		return EntryResult{Coordinate: p.Coordinate, Accepted: false, Reason: reason, Check: check}
	}
}

func (o *Orchestrator) evaluateValidSignature(p Pair, check SignatureCheckResult) EntryResult {
	if check.Key == nil || !o.KeysMap.IsValidKey(p.Coordinate, *check.Key) {
		reason := "not allowed artifact and keyID"
		if check.Key != nil {
			reason = fmt.Sprintf("%s: %s (%s)", reason, check.Key.Describe(), keyShowURL(check.Key.Fingerprint.String()))
		}
		return EntryResult{Coordinate: p.Coordinate, Accepted: false, Reason: reason, Check: check}
	}
	if check.WeakHashAlgorithm != "" {
		if o.FailWeakSignature {
			return EntryResult{
				Coordinate: p.Coordinate,
				Accepted:   false,
				Reason:     fmt.Sprintf("signed with weak hash algorithm %s", check.WeakHashAlgorithm),
				Check:      check,
			}
		}
		logrus.Warnf("%s: signed with weak hash algorithm %s", p.Coordinate, check.WeakHashAlgorithm)
	}
	return EntryResult{Coordinate: p.Coordinate, Accepted: true, Check: check}
}

func keyShowURL(fingerprint string) string {
	return fmt.Sprintf("https://pgp.mit.edu/pks/lookup?op=vindex&search=%s", fingerprint)
}

// VerifyAll fans VerifyOne out over a worker pool, per spec.md §5's "may
// parallelize artifact verification with a worker pool without further
// synchronization". concurrency <= 0 means unbounded.
func (o *Orchestrator) VerifyAll(ctx context.Context, pairs []Pair, concurrency int) []EntryResult {
	results := make([]EntryResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			results[i] = o.VerifyOne(gctx, p)
			return nil
		})
	}
	_ = g.Wait() // VerifyOne never returns an error; every slot is always filled.
	return results
}

// AllAccepted implements spec.md §4.8 step 7: the run fails iff any entry
// failed.
func AllAccepted(results []EntryResult) bool {
	for _, r := range results {
		if !r.Accepted {
			return false
		}
	}
	return true
}
