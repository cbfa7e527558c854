package keyscache

import (
	"fmt"

	"github.com/s4u/pgpverify-go/internal/keyid"
	"github.com/s4u/pgpverify-go/verify"
)

// keyNotFound builds the verify.ErrKeyNotFound sentinel directly rather
// than a package-local type: verify.KeyRingCache implementations are
// expected to signal this specific condition, and there is no import
// cycle (verify never imports keyscache), so returning its own type is
// simpler than inventing an equivalent and asking every caller to know
// about both.
func keyNotFound(id keyid.KeyID) error {
	return verify.ErrKeyNotFound(fmt.Sprintf("key %s not found on any key server", id))
}
