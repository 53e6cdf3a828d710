package session

import (
	"crypto/tls"
	"encoding/json"
	"time"
)

// RawRow is one undecoded catalogue result row, left as raw JSON until the
// orchestrator (and, for the Search API, the projection engine) decides how
// to shape it.
type RawRow = json.RawMessage

// Session is a pooled, authenticated catalogue handle.
type Session struct {
	ID       string
	Identity Credentials

	issuedAt  time.Time
	expiresAt time.Time
	seq       uint64
}

// ExpiresAt returns the wall-clock time the catalogue reported this session
// valid until.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Seq returns the pool-assigned monotonic issue sequence number. It is never
// serialised, and no caller or test in the gateway reads it.
func (s *Session) Seq() uint64 { return s.seq }

func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
