// Package slothash produces tamper-evidence tokens for slot references.
//
// A slot reference handed to a client (doctor, date, start, end) comes back in
// booking calls; the token lets the server detect that the identity fields were
// not altered in transit. The token is a keyed MAC, not a signature: the key
// never leaves the server and the token is always recomputed for verification,
// never stored and trusted.
package slothash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Hasher computes keyed integrity hashes over slot identity fields.
type Hasher struct {
	secret []byte
}

// New creates a Hasher keyed with the given secret. The secret must not be
// empty; configuration enforces an explicit value outside development.
func New(secret []byte) (*Hasher, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("slot hash secret must not be empty")
	}
	return &Hasher{secret: secret}, nil
}

// Hash returns the integrity token for a slot identity. The canonical input is
// "doctorId|YYYY-MM-DD|start|end"; any single-byte change to any field yields a
// different token.
func (h *Hasher) Hash(doctorID string, date time.Time, start, end string) string {
	mac := hmac.New(sha256.New, h.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%s", doctorID, date.Format("2006-01-02"), start, end)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the token for the given identity and compares it against
// the presented token in constant time.
func (h *Hasher) Verify(token, doctorID string, date time.Time, start, end string) bool {
	expected := h.Hash(doctorID, date, start, end)
	return hmac.Equal([]byte(token), []byte(expected))
}
