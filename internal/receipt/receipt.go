// Package receipt issues and verifies the proof-of-cast a voter takes away.
// The receipt binds voteId, pollId, leaf hash and merkle root under a
// detached Ed25519 signature. Nothing here is persisted server-side beyond
// the one-way commitment the submission protocol stores.
package receipt

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"
)

// Algorithm tags the signature scheme on every receipt so verifiers never
// have to guess.
const Algorithm = "Ed25519"

// Payload is the signed portion of a receipt.
type Payload struct {
	VoteID     string    `json:"voteId"`
	PollID     string    `json:"pollId"`
	LeafHash   string    `json:"leafHash"`
	MerkleRoot string    `json:"merkleRoot"`
	Timestamp  time.Time `json:"timestamp"`
}

// canonical is the byte string that gets signed. Pipe-delimited fixed field
// order; RFC3339 UTC timestamp. Any field change invalidates the signature.
func (p Payload) canonical() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s",
		p.VoteID, p.PollID, p.LeafHash, p.MerkleRoot, p.Timestamp.UTC().Format(time.RFC3339)))
}

// Receipt is a signed payload plus the detached signature.
type Receipt struct {
	Payload   Payload `json:"payload"`
	Algorithm string  `json:"algorithm"`
	Signature string  `json:"signature"`
}

// Result is the outcome of best-effort signing. An unsigned result is
// explicitly tagged with the reason so downstream tooling can never mistake
// it for a valid proof.
type Result struct {
	Signed  bool     `json:"signed"`
	Receipt *Receipt `json:"receipt,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// SignedResult wraps a receipt in a signed Result.
func SignedResult(r Receipt) Result {
	return Result{Signed: true, Receipt: &r}
}

// UnsignedResult tags a degraded, signature-less outcome.
func UnsignedResult(reason string) Result {
	return Result{Signed: false, Reason: reason}
}

// Signer issues detached Ed25519 signatures over receipt payloads. It is
// stateless; the public key is published for third-party verification.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a signer from a base64-encoded 32-byte Ed25519 seed.
// Missing or malformed key material is a hard startup error; the service
// must never silently degrade to issuing unverifiable receipts.
func NewSigner(seedBase64 string) (*Signer, error) {
	if seedBase64 == "" {
		return nil, fmt.Errorf("receipt: signing seed is required")
	}
	seed, err := base64.StdEncoding.DecodeString(seedBase64)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("receipt: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign produces a receipt over the payload.
func (s *Signer) Sign(p Payload) (Receipt, error) {
	if p.VoteID == "" || p.PollID == "" || p.LeafHash == "" || p.MerkleRoot == "" {
		return Receipt{}, fmt.Errorf("receipt: payload is incomplete")
	}
	sig := ed25519.Sign(s.priv, p.canonical())
	return Receipt{
		Payload:   p,
		Algorithm: Algorithm,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks a receipt against this signer's public key.
func (s *Signer) Verify(r Receipt) bool {
	return Verify(s.pub, r)
}

// PublicKey returns the base64-encoded verification key.
func (s *Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.pub)
}

// Verify checks a receipt against an arbitrary public key, for third-party
// verification tooling.
func Verify(pub ed25519.PublicKey, r Receipt) bool {
	if r.Algorithm != Algorithm {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, r.Payload.canonical(), sig)
}

// ParsePublicKey decodes a base64 verification key.
func ParsePublicKey(keyBase64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("receipt: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
