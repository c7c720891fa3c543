// Package tracescrub redacts the adapter's optional trace=HEX debug
// field before a violation record reaches the violation log, so raw
// fuzzed payload bytes never sit in a long-lived file. Grounded on
// streamscrub's keyed-BLAKE2b placeholder generator: same key + same
// bytes always redacts to the same digest, so repeated packets are
// still recognizable as repeats in the log without exposing content.
package tracescrub

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Scrubber redacts trace hex strings to a short per-run digest.
type Scrubber struct {
	mu  sync.Mutex
	key []byte
}

// New creates a Scrubber keyed with fresh random bytes, so digests from
// one monitor run cannot be correlated with digests from another.
func New() (*Scrubber, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("tracescrub: generating key: %w", err)
	}
	return &Scrubber{key: key}, nil
}

// NewWithKey builds a Scrubber with a caller-supplied 32-byte key, for
// deterministic output in tests.
func NewWithKey(key []byte) (*Scrubber, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("tracescrub: key must be 32 bytes, got %d", len(key))
	}
	k := make([]byte, 32)
	copy(k, key)
	return &Scrubber{key: k}, nil
}

// RedactHex takes the hex text of an adapter's trace field and returns
// a short, stable placeholder of the form "blake2b:<24 hex chars>".
// Invalid hex is redacted as-is (treated as opaque bytes), since a
// garbled trace field is exactly the kind of input this exists to
// protect against leaking verbatim.
func (s *Scrubber) RedactHex(traceHex string) string {
	raw, err := hex.DecodeString(traceHex)
	if err != nil {
		raw = []byte(traceHex)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := blake2b.New256(s.key)
	if err != nil {
		panic(fmt.Sprintf("tracescrub: blake2b.New256 failed: %v", err))
	}
	h.Write(raw)
	digest := h.Sum(nil)
	return "blake2b:" + hex.EncodeToString(digest[:12])
}
