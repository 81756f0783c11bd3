package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// GenesisHash is the previous_hash of the first entry in a fresh log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry wraps an Event with the hash-chain linkage and sequencing
// that make the log tamper-evident (spec §3, AuditEntry).
type AuditEntry struct {
	Sequence     uint64 `json:"sequence"`
	Event        Event  `json:"event"`
	PreviousHash string `json:"previous_hash"`
	SelfHash     string `json:"self_hash"`
	Signature    string `json:"signature,omitempty"`
}

// canonicalBytes produces the stable, canonical serialization of an event
// used as hash input. encoding/json already sorts map keys and emits
// struct fields in declaration order, which is sufficient for a stable
// byte representation as long as numeric fields use fixed Go types (they
// do: int64/time.Time here, never float maps with ambiguous precision).
func canonicalBytes(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// computeSelfHash returns H(previous_hash || canonical(event)) as a hex
// string. crypto/sha256 is used directly: hashing a byte string is exactly
// what the standard library is for, and no example in the retrieval pack
// wires a third-party hashing library for this narrow a need.
func computeSelfHash(previousHash string, e Event) (string, error) {
	body, err := canonicalBytes(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes self_hash from previous_hash and the wrapped event and
// reports whether it matches the stored value.
func (a AuditEntry) Verify() (bool, error) {
	want, err := computeSelfHash(a.PreviousHash, a.Event)
	if err != nil {
		return false, err
	}
	return want == a.SelfHash, nil
}
