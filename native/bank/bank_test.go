package bank

import (
	"errors"
	"math/big"
	"testing"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
)

type mockState struct {
	accounts map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{accounts: make(map[string]*types.Account)}
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return (&types.Account{}).EnsureDefaults(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func newTestBank(t *testing.T) (*Bank, *events.Recorder) {
	t.Helper()
	b := New()
	b.SetState(newMockState())
	rec := &events.Recorder{}
	b.SetEmitter(rec)
	return b, rec
}

func mustBalance(t *testing.T, b *Bank, token string, addr [20]byte) int64 {
	t.Helper()
	bal, err := b.Balance(token, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestPayMovesNHB(t *testing.T) {
	b, rec := newTestBank(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := b.Credit(TokenNHB, alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := b.Pay(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := mustBalance(t, b, TokenNHB, alice); got != 60 {
		t.Fatalf("alice balance: %d", got)
	}
	if got := mustBalance(t, b, TokenNHB, bob); got != 40 {
		t.Fatalf("bob balance: %d", got)
	}
	if len(rec.Payloads(events.TypeTransfer)) != 1 {
		t.Fatalf("expected one transfer event")
	}
}

func TestPayRejectsInsufficientBalance(t *testing.T) {
	b, rec := newTestBank(t)
	err := b.Pay([20]byte{1}, [20]byte{2}, big.NewInt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(rec.Events) != 0 {
		t.Fatalf("no event expected on failure")
	}
	if err := b.Pay([20]byte{1}, [20]byte{2}, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransferZNHBAndUnsupportedToken(t *testing.T) {
	b, _ := newTestBank(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := b.Credit("znhb", alice, big.NewInt(9)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := b.Transfer(TokenZNHB, alice, bob, big.NewInt(9)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, b, TokenZNHB, bob); got != 9 {
		t.Fatalf("bob znhb: %d", got)
	}
	if got := mustBalance(t, b, TokenNHB, bob); got != 0 {
		t.Fatalf("bob nhb: %d", got)
	}
	if err := b.Transfer("DOGE", alice, bob, big.NewInt(1)); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
}

func TestReceiverHookRunsAfterCredit(t *testing.T) {
	b, _ := newTestBank(t)
	alice, contract := [20]byte{1}, [20]byte{9}
	if err := b.Credit(TokenNHB, alice, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var seen int64
	b.RegisterReceiver(contract, ReceiverFunc(func(token string, from [20]byte, amount *big.Int) error {
		bal, err := b.Balance(TokenNHB, contract)
		if err != nil {
			return err
		}
		seen = bal.Int64()
		return nil
	}))
	if err := b.Pay(alice, contract, big.NewInt(3)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if seen != 3 {
		t.Fatalf("hook observed balance %d, want 3", seen)
	}

	rejected := errors.New("rejected")
	b.RegisterReceiver(contract, ReceiverFunc(func(string, [20]byte, *big.Int) error { return rejected }))
	if err := b.Pay(alice, contract, big.NewInt(1)); !errors.Is(err, rejected) {
		t.Fatalf("expected hook error, got %v", err)
	}
}
