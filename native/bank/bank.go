package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	TokenNHB  = "NHB"
	TokenZNHB = "ZNHB"
)

var (
	ErrNilState            = errors.New("bank: state not configured")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must not be negative")
	ErrUnsupportedToken    = errors.New("bank: unsupported token")
)

type bankState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Receiver is implemented by contract accounts that run code when they are
// paid. Returning an error aborts the payment.
type Receiver interface {
	OnPayment(token string, from [20]byte, amount *big.Int) error
}

// ReceiverFunc adapts a plain function to the Receiver interface.
type ReceiverFunc func(token string, from [20]byte, amount *big.Int) error

func (f ReceiverFunc) OnPayment(token string, from [20]byte, amount *big.Int) error {
	return f(token, from, amount)
}

// Bank moves NHB and ZNHB balances between accounts.
type Bank struct {
	state     bankState
	emitter   events.Emitter
	receivers map[[20]byte]Receiver
}

func New() *Bank {
	return &Bank{emitter: events.NoopEmitter{}, receivers: make(map[[20]byte]Receiver)}
}

func (b *Bank) SetState(state bankState) { b.state = state }

// SetEmitter configures the event emitter used by the bank. Passing nil resets
// the emitter to a no-op implementation.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// RegisterReceiver installs a payment hook for addr. Passing nil removes it.
func (b *Bank) RegisterReceiver(addr [20]byte, r Receiver) {
	if r == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = r
}

func NormalizeToken(token string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	switch normalized {
	case TokenNHB, TokenZNHB:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedToken, token)
	}
}

// Pay transfers amount NHB from one account to another. The payment either
// fully applies or returns an error; the enclosing ledger transaction discards
// partial writes.
func (b *Bank) Pay(from, to [20]byte, amount *big.Int) error {
	return b.Transfer(TokenNHB, from, to, amount)
}

// Transfer moves amount of token between two accounts and notifies the
// recipient's receiver hook, if any, once balances are updated.
func (b *Bank) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if b == nil || b.state == nil {
		return ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	amt := new(big.Int).Set(amount)
	if from != to {
		fromAcc, err := b.state.GetAccount(from[:])
		if err != nil {
			return err
		}
		fromAcc = fromAcc.EnsureDefaults()
		balance := balanceRef(fromAcc, normalized)
		if balance.Cmp(amt) < 0 {
			return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, crypto.FormatAccount(from), balance, normalized, amt)
		}
		balance.Sub(balance, amt)
		if err := b.state.PutAccount(from[:], fromAcc); err != nil {
			return err
		}
		toAcc, err := b.state.GetAccount(to[:])
		if err != nil {
			return err
		}
		toAcc = toAcc.EnsureDefaults()
		credit := balanceRef(toAcc, normalized)
		credit.Add(credit, amt)
		if err := b.state.PutAccount(to[:], toAcc); err != nil {
			return err
		}
	}
	b.emitter.Emit(events.Transfer{Asset: normalized, From: from, To: to, Amount: amt})
	if hook, ok := b.receivers[to]; ok {
		if err := hook.OnPayment(normalized, from, new(big.Int).Set(amt)); err != nil {
			return fmt.Errorf("bank: receiver rejected payment: %w", err)
		}
	}
	return nil
}

// Credit mints amount of token to addr. Used when loading genesis balances.
func (b *Bank) Credit(token string, addr [20]byte, amount *big.Int) error {
	if b == nil || b.state == nil {
		return ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	acc, err := b.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureDefaults()
	balance := balanceRef(acc, normalized)
	balance.Add(balance, amount)
	return b.state.PutAccount(addr[:], acc)
}

// Balance returns the token balance held by addr.
func (b *Bank) Balance(token string, addr [20]byte) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	acc, err := b.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	acc = acc.EnsureDefaults()
	return new(big.Int).Set(balanceRef(acc, normalized)), nil
}

func balanceRef(acc *types.Account, token string) *big.Int {
	if token == TokenZNHB {
		return acc.BalanceZNHB
	}
	return acc.BalanceNHB
}
