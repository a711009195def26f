package nullifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// poseidonScheme is the ZK-circuit-friendly alternate. Inputs are first
// keyed with the server secret (HMAC, so the secret still gates forgery),
// then reduced into field elements and hashed with Poseidon so the same
// token can later be opened inside a SNARK circuit.
type poseidonScheme struct {
	secret []byte
}

func init() {
	Register("poseidon", func(secret []byte) (Hasher, error) {
		return &poseidonScheme{secret: secret}, nil
	})
}

func (p *poseidonScheme) Name() string { return "poseidon" }

func (p *poseidonScheme) Derive(voterSub, pollID string) (string, error) {
	if voterSub == "" || pollID == "" {
		return "", fmt.Errorf("nullifier: voterSub and pollID are required")
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(voterSub + "|" + pollID))
	keyed := mac.Sum(nil)

	// Split the 32-byte digest into two 16-byte limbs so each fits the
	// BN254 scalar field without reduction bias.
	lo := new(big.Int).SetBytes(keyed[:16])
	hi := new(big.Int).SetBytes(keyed[16:])
	digest, err := poseidon.Hash([]*big.Int{lo, hi})
	if err != nil {
		return "", fmt.Errorf("nullifier: poseidon hash: %w", err)
	}
	return fmt.Sprintf("%064x", digest), nil
}
