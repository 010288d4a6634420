package marketplace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeriveAddress builds a deterministic custody address from a parent address
// and a label, e.g. the escrow of order 7 under the engine.
func DeriveAddress(parent Address, label string) Address {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s", parent, label)))
	return Address("0x" + hex.EncodeToString(sum[:20]))
}

// Arbiter is the dispute-resolution collaborator created with the engine.
// Only its address takes part in the marketplace; disputes are external.
type Arbiter struct {
	address Address
	owner   Address
}

// NewArbiter creates the arbiter owned by the engine at owner.
func NewArbiter(owner Address) *Arbiter {
	return &Arbiter{address: DeriveAddress(owner, "arbiter"), owner: owner}
}

func (a *Arbiter) Address() Address { return a.address }

// Owner is the engine that instantiated the arbiter.
func (a *Arbiter) Owner() Address { return a.owner }
