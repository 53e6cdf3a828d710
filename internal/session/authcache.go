package session

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// authKey identifies a catalogue identity for the purposes of handshake
// reuse; it is not the pooled session's own identity check (that's Identity
// on Session), just the cache's lookup key.
type authKey struct {
	mechanism string
	username  string
}

// authenticatorCache records the most recently issued session ID for a given
// (mechanism, username), with bounded LRU eviction. The pool writes to it on
// every login and removes the entry on invalidate; nothing reads it back (get
// has no caller), so it does not spare any login a handshake.
type authenticatorCache struct {
	cache *lru.Cache[authKey, string]
}

func newAuthenticatorCache(size int) *authenticatorCache {
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[authKey, string](size)
	return &authenticatorCache{cache: c}
}

func (a *authenticatorCache) get(creds Credentials) (string, bool) {
	return a.cache.Get(authKey{mechanism: creds.Mechanism, username: creds.Username})
}

func (a *authenticatorCache) put(creds Credentials, sessionID string) {
	a.cache.Add(authKey{mechanism: creds.Mechanism, username: creds.Username}, sessionID)
}

func (a *authenticatorCache) remove(creds Credentials) {
	a.cache.Remove(authKey{mechanism: creds.Mechanism, username: creds.Username})
}
