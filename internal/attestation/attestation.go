// Package attestation evaluates hardware device-integrity proofs. The
// actual verification is an external concern; this package defines the
// verdict tiers the submission protocol compares against poll policy, and a
// provider registry so verifiers are selected at startup by name.
package attestation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tier orders attestation strength. Higher is stronger.
type Tier int

const (
	TierNone Tier = iota
	TierBasic
	TierDevice
	TierHardware
)

var tierNames = map[Tier]string{
	TierNone:     "none",
	TierBasic:    "basic",
	TierDevice:   "device",
	TierHardware: "hardware",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier maps a config string to a Tier.
func ParseTier(s string) (Tier, error) {
	for tier, name := range tierNames {
		if name == s {
			return tier, nil
		}
	}
	return TierNone, fmt.Errorf("attestation: unknown tier %q", s)
}

// Verdict is the outcome of verifying one attestation token.
type Verdict struct {
	Passed bool
	Tier   Tier
	Reason string
}

// Verifier validates an attestation token for a device. Implementations may
// call out over the network; the submission protocol always runs them before
// opening its transaction.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, token, deviceHash string) (Verdict, error)
}

// Factory builds a Verifier from provider-specific options.
type Factory func(opts map[string]string) (Verifier, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named verifier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New constructs the named provider.
func New(name string, opts map[string]string) (Verifier, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("attestation: unknown provider %q (registered: %v)", name, Providers())
	}
	return factory(opts)
}

// Providers lists registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
