package engine

import (
	"sync"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/eax"
)

// credentials implements spec.md §4.F's password-list and security-key-list
// fallback: each entry is tried in order on first use; a successful index
// is cached so subsequent requests in the same session go straight to it.
type credentials struct {
	mu sync.Mutex

	passwords       []*c12.PasswordEntry
	passwordIdx     int
	passwordResolved bool

	keys         []*eax.Key
	keyIdx       int
	keyResolved  bool
}

func (c *credentials) init(passwordList []string, keyList [][]byte) {
	if len(passwordList) == 0 {
		passwordList = []string{""}
	}
	for _, p := range passwordList {
		c.passwords = append(c.passwords, c12.NewPasswordEntry(p))
	}
	for _, k := range keyList {
		if key, err := eax.NewKey(k); err == nil {
			c.keys = append(c.keys, key)
		}
	}
}

func (c *credentials) currentPassword() *c12.PasswordEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.passwords) == 0 {
		return c12.NewPasswordEntry("")
	}
	return c.passwords[c.passwordIdx]
}

// currentKeyID returns the index of the currently-selected security-key
// list entry, used as the wire key-id when a key list is configured.
func (c *credentials) currentKeyID() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return byte(c.keyIdx)
}

// currentKey returns the currently-selected security-key list entry, or
// fallback when no list is configured.
func (c *credentials) currentKey(fallback *eax.Key) *eax.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) == 0 {
		return fallback
	}
	return c.keys[c.keyIdx]
}

// rotateKeyOnFailure advances to the next untried security-key list entry
// when err looks like an authentication failure (tamper/verify mismatch)
// and the successful entry hasn't been pinned yet. Returns true if it
// advanced (the caller should retry).
func (c *credentials) rotateKeyOnFailure(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keyResolved || len(c.keys) <= 1 {
		return false
	}
	if !isAuthFailure(err) {
		return false
	}
	if c.keyIdx+1 >= len(c.keys) {
		return false
	}
	c.keyIdx++
	return true
}

// rotatePasswordOnFailure advances to the next untried password-list entry
// on an ERR/SME-shaped NOK response, per spec.md §4.F.
func (c *credentials) rotatePasswordOnFailure(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.passwordResolved || len(c.passwords) <= 1 {
		return false
	}
	var nok *c12.NokResponse
	if !asNok(err, &nok) {
		return false
	}
	if nok.Code != c12.ERR && nok.Code != c12.SME {
		return false
	}
	if c.passwordIdx+1 >= len(c.passwords) {
		return false
	}
	c.passwordIdx++
	return true
}

func (c *credentials) markSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) > 0 {
		c.keyResolved = true
	}
	if len(c.passwords) > 0 {
		c.passwordResolved = true
	}
}

// SecurityKeySuccessfulEntry reports the security-key list index that
// authenticated successfully (0-based), or -1 if none has been resolved
// yet. Spec.md §8 scenario 2 names this security_key_list_successful_entry.
func (c *credentials) SecurityKeySuccessfulEntry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.keyResolved {
		return -1
	}
	return c.keyIdx
}

// PasswordSuccessfulEntry is the password-list analog of
// SecurityKeySuccessfulEntry.
func (c *credentials) PasswordSuccessfulEntry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.passwordResolved {
		return -1
	}
	return c.passwordIdx
}

func isAuthFailure(err error) bool {
	ce, ok := cerrors.AsError(err)
	return ok && (ce.Code == "PossibleTamperingDetected" || ce.Kind == cerrors.Security)
}

func asNok(err error, target **c12.NokResponse) bool {
	for err != nil {
		if nok, ok := err.(*c12.NokResponse); ok {
			*target = nok
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// withCredentialRotation runs fn, rotating the security-key and/or
// password-list entry and retrying when fn's error looks like an
// authentication failure on the currently-selected entry, per spec.md
// §4.F. On success the currently-selected entries are pinned so later
// calls in the same session go straight to them.
func (e *Engine) withCredentialRotation(fn func() error) error {
	for {
		err := fn()
		if err == nil {
			e.cred.markSuccess()
			return nil
		}
		if e.cred.rotateKeyOnFailure(err) {
			continue
		}
		if e.cred.rotatePasswordOnFailure(err) {
			continue
		}
		return err
	}
}

// SecurityKeySuccessfulEntry exposes credentials.SecurityKeySuccessfulEntry
// on Engine, for diagnostics and tests.
func (e *Engine) SecurityKeySuccessfulEntry() int { return e.cred.SecurityKeySuccessfulEntry() }

// PasswordSuccessfulEntry exposes credentials.PasswordSuccessfulEntry on
// Engine, for diagnostics and tests.
func (e *Engine) PasswordSuccessfulEntry() int { return e.cred.PasswordSuccessfulEntry() }
