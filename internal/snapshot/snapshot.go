// Package snapshot CBOR-encodes an evaluator snapshot bundle for
// durable export/import across monitor process restarts, supplementing
// the in-memory save/restore keyed map spec.md §4.4 requires with a
// form that survives past the process's lifetime. Grounded on
// planfmt.CanonicalPlan's MarshalBinary/CBOR-canonical-encoding
// pattern.
package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FormulaBits is one formula's exported bitvector pair, as raw words.
type FormulaBits struct {
	Size    int
	OldBits []uint64
	NewBits []uint64
}

// Bundle is everything needed to reconstruct an evaluator's live state.
type Bundle struct {
	Version        uint8
	Index          int
	SessionCounter int
	EventCounter   int
	Formulas       []FormulaBits
}

type bundleAlias Bundle

// MarshalBinary produces deterministic CBOR encoding of the bundle.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("snapshot: building CBOR encoder: %w", err)
	}
	alias := (*bundleAlias)(b)
	data, err := encMode.Marshal(alias)
	if err != nil {
		return nil, fmt.Errorf("snapshot: CBOR encoding failed: %w", err)
	}
	return data, nil
}

// UnmarshalBinary decodes a bundle previously produced by MarshalBinary.
func (b *Bundle) UnmarshalBinary(data []byte) error {
	alias := (*bundleAlias)(b)
	if err := cbor.Unmarshal(data, alias); err != nil {
		return fmt.Errorf("snapshot: CBOR decoding failed: %w", err)
	}
	return nil
}

const currentVersion = 1

// New builds a Bundle at the current format version.
func New(index, sessionCounter, eventCounter int, formulas []FormulaBits) *Bundle {
	return &Bundle{
		Version:        currentVersion,
		Index:          index,
		SessionCounter: sessionCounter,
		EventCounter:   eventCounter,
		Formulas:       formulas,
	}
}
