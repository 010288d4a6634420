package marketplace

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Token is the fungible-token collaborator used for collateral and task
// cost custody. Amounts are minor units scaled by Decimals.
type Token interface {
	Address() Address
	Symbol() string
	Decimals() uint8
	BalanceOf(owner Address) uint64
	Allowance(owner, spender Address) uint64
	Approve(ctx context.Context, owner, spender Address, amount uint64) error
	Transfer(ctx context.Context, from, to Address, amount uint64) error
	TransferFrom(ctx context.Context, spender, from, to Address, amount uint64) error
}

// TokenState is the serializable ledger of a MemoryToken.
type TokenState struct {
	Balances   map[Address]uint64            `json:"balances"`
	Allowances map[Address]map[Address]uint64 `json:"allowances"`
	Supply     uint64                        `json:"supply"`
}

// MemoryToken is an in-process account ledger (USDC-like).
type MemoryToken struct {
	mu         sync.Mutex
	address    Address
	symbol     string
	decimals   uint8
	balances   map[Address]uint64
	allowances map[Address]map[Address]uint64
	supply     uint64
}

// NewMemoryToken returns an empty ledger.
func NewMemoryToken(address Address, symbol string, decimals uint8) *MemoryToken {
	return &MemoryToken{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[Address]uint64),
		allowances: make(map[Address]map[Address]uint64),
	}
}

func (t *MemoryToken) Address() Address { return t.address }
func (t *MemoryToken) Symbol() string   { return t.symbol }
func (t *MemoryToken) Decimals() uint8  { return t.decimals }

func (t *MemoryToken) BalanceOf(owner Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[owner]
}

func (t *MemoryToken) Allowance(owner, spender Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

// TotalSupply returns the amount minted so far.
func (t *MemoryToken) TotalSupply() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Mint credits amount to an account.
func (t *MemoryToken) Mint(ctx context.Context, to Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
	t.supply += amount
	return nil
}

// Approve sets (not adds to) the allowance of spender over owner's funds.
func (t *MemoryToken) Approve(ctx context.Context, owner, spender Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owner == "" || spender == "" {
		return fmt.Errorf("%w: empty owner or spender", ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[Address]uint64)
	}
	t.allowances[owner][spender] = amount
	return nil
}

func (t *MemoryToken) Transfer(ctx context.Context, from, to Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemoryToken) TransferFrom(ctx context.Context, spender, from, to Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowances[from][spender]
	if allowed < amount {
		return fmt.Errorf("%w: %s allowed %d of %s, need %d", ErrInsufficientAllowance, spender, allowed, from, amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed - amount
	return nil
}

// move must be called with t.mu held.
func (t *MemoryToken) move(from, to Address, amount uint64) error {
	if to == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidInput)
	}
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// Holders lists accounts with a non-zero balance, sorted.
func (t *MemoryToken) Holders() []Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Address, 0, len(t.balances))
	for a, b := range t.balances {
		if b > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// State copies the ledger for snapshotting.
func (t *MemoryToken) State() TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TokenState{
		Balances:   make(map[Address]uint64, len(t.balances)),
		Allowances: make(map[Address]map[Address]uint64, len(t.allowances)),
		Supply:     t.supply,
	}
	for a, b := range t.balances {
		st.Balances[a] = b
	}
	for owner, m := range t.allowances {
		cp := make(map[Address]uint64, len(m))
		for s, v := range m {
			cp[s] = v
		}
		st.Allowances[owner] = cp
	}
	return st
}

// Restore replaces the ledger with st.
func (t *MemoryToken) Restore(st TokenState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[Address]uint64, len(st.Balances))
	for a, b := range st.Balances {
		t.balances[a] = b
	}
	t.allowances = make(map[Address]map[Address]uint64, len(st.Allowances))
	for owner, m := range st.Allowances {
		cp := make(map[Address]uint64, len(m))
		for s, v := range m {
			cp[s] = v
		}
		t.allowances[owner] = cp
	}
	t.supply = st.Supply
}
