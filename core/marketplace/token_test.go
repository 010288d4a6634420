package marketplace

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryTokenTransfers(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryToken("0xusdc", "USDC", 6)
	if err := tok.Mint(ctx, alice, 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	t.Run("transfer", func(t *testing.T) {
		if err := tok.Transfer(ctx, alice, bob, 30); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		if tok.BalanceOf(alice) != 70 || tok.BalanceOf(bob) != 30 {
			t.Errorf("unexpected balances %d/%d", tok.BalanceOf(alice), tok.BalanceOf(bob))
		}
	})

	t.Run("insufficient balance leaves state", func(t *testing.T) {
		err := tok.Transfer(ctx, bob, alice, 31)
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("Expected ErrInsufficientBalance but got %v", err)
		}
		if tok.BalanceOf(bob) != 30 {
			t.Errorf("Expected bob to keep 30 but got %d", tok.BalanceOf(bob))
		}
	})

	t.Run("transferFrom needs allowance", func(t *testing.T) {
		err := tok.TransferFrom(ctx, carol, alice, carol, 10)
		if !errors.Is(err, ErrInsufficientAllowance) {
			t.Fatalf("Expected ErrInsufficientAllowance but got %v", err)
		}
		if err := tok.Approve(ctx, alice, carol, 15); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		if err := tok.TransferFrom(ctx, carol, alice, carol, 10); err != nil {
			t.Fatalf("TransferFrom: %v", err)
		}
		if got := tok.Allowance(alice, carol); got != 5 {
			t.Errorf("Expected allowance 5 but got %d", got)
		}
	})

	t.Run("state round trip", func(t *testing.T) {
		st := tok.State()
		other := NewMemoryToken("0xusdc", "USDC", 6)
		other.Restore(st)
		if other.BalanceOf(alice) != tok.BalanceOf(alice) || other.TotalSupply() != 100 {
			t.Errorf("restored ledger differs: %+v", other.State())
		}
		if got := other.Allowance(alice, carol); got != 5 {
			t.Errorf("Expected restored allowance 5 but got %d", got)
		}
	})
}
